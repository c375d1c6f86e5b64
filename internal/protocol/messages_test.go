package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestParse_RegisterHost(t *testing.T) {
	raw := []byte(`{"type":"REGISTER_HOST","deviceId":"h1","deviceName":"Office-PC","platform":"macos","timestamp":1000}`)

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeRegisterHost || got.DeviceID != "h1" || got.DeviceName != "Office-PC" || got.Platform != "macos" {
		t.Fatalf("unexpected decoded register_host: %#v", got)
	}
}

func TestParse_RegisterHostMissingDeviceID(t *testing.T) {
	raw := []byte(`{"type":"REGISTER_HOST","deviceName":"Office-PC"}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_RegisterClientWithoutID(t *testing.T) {
	got, err := Parse([]byte(`{"type":"REGISTER_CLIENT"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeRegisterClient || got.ClientID != "" {
		t.Fatalf("unexpected decoded register_client: %#v", got)
	}
}

func TestParse_OfferRoundTrip(t *testing.T) {
	msg := Message{
		Type: TypeOffer,
		From: "h1",
		To:   "c1",
		SDP:  "v=0",
	}

	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeOffer || got.From != "h1" || got.To != "c1" || got.SDP != "v=0" {
		t.Fatalf("unexpected decoded offer: %#v", got)
	}
}

func TestParse_OfferMissingSDP(t *testing.T) {
	raw := []byte(`{"type":"OFFER","from":"h1","to":"c1"}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_ICECandidateOpaquePayload(t *testing.T) {
	raw := []byte(`{
		"type":"ICE_CANDIDATE",
		"from":"h1",
		"to":"c1",
		"candidate":{
			"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0,
			"someVendorField":true
		}
	}`)

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeICECandidate || len(got.Candidate) == 0 {
		t.Fatalf("unexpected decoded candidate: %#v", got)
	}
}

func TestParse_DisallowUnknownEnvelopeFields(t *testing.T) {
	raw := []byte(`{"type":"DISCONNECT","unexpected":true}`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_UnknownTypeIsDistinctFromMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"type":"PING","whatever":1}`))
	var unknown *ErrUnknownType
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if unknown.Type != "PING" {
		t.Fatalf("type=%q, want %q", unknown.Type, "PING")
	}

	_, err = Parse([]byte(`{"type":`))
	if errors.As(err, &unknown) {
		t.Fatalf("bad JSON must not classify as unknown type: %v", err)
	}
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_MissingType(t *testing.T) {
	if _, err := Parse([]byte(`{"timestamp":1}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_ConnectRequest(t *testing.T) {
	got, err := Parse([]byte(`{"type":"CONNECT_REQUEST","targetDeviceId":"h1","clientId":"c1"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.TargetDeviceID != "h1" || got.ClientID != "c1" {
		t.Fatalf("unexpected decoded connect_request: %#v", got)
	}

	if _, err := Parse([]byte(`{"type":"CONNECT_REQUEST","clientId":"c1"}`)); err == nil {
		t.Fatalf("expected error for missing targetDeviceId")
	}
}

func TestEncodeDeviceList_EmptyKeepsDevicesKey(t *testing.T) {
	data, err := EncodeDeviceList(1000, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"devices":[]`) {
		t.Fatalf("empty list must encode an explicit array, got %s", data)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypeDeviceList || len(got.Devices) != 0 {
		t.Fatalf("unexpected decoded device_list: %#v", got)
	}
}

func TestEncodeDeviceList_Populated(t *testing.T) {
	data, err := EncodeDeviceList(1000, []Device{{
		DeviceID:   "h1",
		DeviceName: "Office-PC",
		Platform:   "macos",
		Online:     true,
		LastSeen:   1000,
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got.Devices) != 1 || got.Devices[0].DeviceID != "h1" || !got.Devices[0].Online {
		t.Fatalf("unexpected decoded device_list: %#v", got)
	}
}

func TestCandidate_PionRoundTrip(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	init := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 1 127.0.0.1 9 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}

	raw, err := CandidateFromPion(init)
	if err != nil {
		t.Fatalf("CandidateFromPion: %v", err)
	}

	got, err := CandidateToPion(raw)
	if err != nil {
		t.Fatalf("CandidateToPion: %v", err)
	}
	if got.Candidate != init.Candidate || got.SDPMid == nil || *got.SDPMid != mid {
		t.Fatalf("unexpected round-tripped candidate: %#v", got)
	}
}
