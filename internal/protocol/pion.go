package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Conversion helpers between the opaque relay payloads and pion's types.
//
// The coordinator itself never calls these on the hot path; they exist for Go
// peers (the e2e demo, integration tests) that terminate the handshake with
// pion.

func CandidateFromPion(init webrtc.ICECandidateInit) (json.RawMessage, error) {
	return json.Marshal(init)
}

func CandidateToPion(raw json.RawMessage) (webrtc.ICECandidateInit, error) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return webrtc.ICECandidateInit{}, err
	}
	return init, nil
}

func OfferToPion(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func AnswerToPion(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}
