package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MessageType is the self-describing tag carried by every wire frame.
type MessageType string

const (
	// Peer → coordinator.
	TypeRegisterHost   MessageType = "REGISTER_HOST"
	TypeRegisterClient MessageType = "REGISTER_CLIENT"
	TypeGetDevices     MessageType = "GET_DEVICES"
	TypeConnectRequest MessageType = "CONNECT_REQUEST"
	TypeOffer          MessageType = "OFFER"
	TypeAnswer         MessageType = "ANSWER"
	TypeICECandidate   MessageType = "ICE_CANDIDATE"
	TypeDisconnect     MessageType = "DISCONNECT"

	// Coordinator → peer.
	TypeAuthSuccess        MessageType = "AUTH_SUCCESS"
	TypeDeviceList         MessageType = "DEVICE_LIST"
	TypeDeviceOnline       MessageType = "DEVICE_ONLINE"
	TypeDeviceOffline      MessageType = "DEVICE_OFFLINE"
	TypeConnectionAccepted MessageType = "CONNECTION_ACCEPTED"
	TypeError              MessageType = "ERROR"
)

// Device is the externally-visible advertisement of an online host.
type Device struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
	Online     bool   `json:"online"`
	LastSeen   int64  `json:"lastSeen"` // ms since epoch
}

// Message is the single wire envelope. Which fields are populated depends on
// Type; Validate enforces the per-type schema.
//
// The sdp and candidate payloads are opaque to the coordinator: sdp is relayed
// as-is and candidate is raw JSON that is never inspected beyond presence.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp,omitempty"`

	// REGISTER_HOST.
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	Platform   string `json:"platform,omitempty"`

	// REGISTER_CLIENT / CONNECT_REQUEST.
	ClientID       string `json:"clientId,omitempty"`
	TargetDeviceID string `json:"targetDeviceId,omitempty"`

	// AUTH_SUCCESS / CONNECTION_ACCEPTED.
	ID     string `json:"id,omitempty"`
	HostID string `json:"hostId,omitempty"`

	// OFFER / ANSWER / ICE_CANDIDATE relay addressing and payloads.
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// DEVICE_LIST / DEVICE_ONLINE / DEVICE_OFFLINE.
	Devices []Device `json:"devices,omitempty"`
	Device  *Device  `json:"device,omitempty"`

	// ERROR.
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// EncodeDeviceList encodes a DEVICE_LIST frame. The devices key is always
// present, as an empty array when no hosts are online; Message's omitempty
// encoding would drop the key entirely.
func EncodeDeviceList(timestamp int64, devices []Device) ([]byte, error) {
	if devices == nil {
		devices = []Device{}
	}
	return json.Marshal(struct {
		Type      MessageType `json:"type"`
		Timestamp int64       `json:"timestamp"`
		Devices   []Device    `json:"devices"`
	}{
		Type:      TypeDeviceList,
		Timestamp: timestamp,
		Devices:   devices,
	})
}

// ErrUnknownType reports a frame that parsed as JSON with a type tag the
// coordinator does not recognize. Unknown types are ignored by the router,
// unlike unparsable frames which are answered with an ERROR reply.
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// Parse decodes and validates one inbound frame.
//
// Frames with a recognized type are decoded strictly: unknown envelope fields
// and trailing data are rejected so schema drift is caught at the boundary.
// Frames with an unrecognized type return *ErrUnknownType without strict field
// checks, since foreign messages may carry arbitrary fields.
func Parse(data []byte) (Message, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Message{}, err
	}
	if envelope.Type == "" {
		return Message{}, fmt.Errorf("missing message type")
	}
	if !knownType(envelope.Type) {
		return Message{}, &ErrUnknownType{Type: string(envelope.Type)}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func knownType(t MessageType) bool {
	switch t {
	case TypeRegisterHost, TypeRegisterClient, TypeGetDevices, TypeConnectRequest,
		TypeOffer, TypeAnswer, TypeICECandidate, TypeDisconnect,
		TypeAuthSuccess, TypeDeviceList, TypeDeviceOnline, TypeDeviceOffline,
		TypeConnectionAccepted, TypeError:
		return true
	default:
		return false
	}
}

// Validate enforces the required fields for the message's type. It does not
// look inside the sdp or candidate payloads.
func (m Message) Validate() error {
	switch m.Type {
	case TypeRegisterHost:
		if m.DeviceID == "" {
			return fmt.Errorf("register_host message missing deviceId")
		}
		if m.DeviceName == "" {
			return fmt.Errorf("register_host message missing deviceName")
		}
	case TypeRegisterClient:
		// clientId is optional; the coordinator generates one when absent.
	case TypeGetDevices, TypeDisconnect:
	case TypeConnectRequest:
		if m.TargetDeviceID == "" {
			return fmt.Errorf("connect_request message missing targetDeviceId")
		}
		if m.ClientID == "" {
			return fmt.Errorf("connect_request message missing clientId")
		}
	case TypeOffer, TypeAnswer:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("%s message missing from/to", m.Type)
		}
		if m.SDP == "" {
			return fmt.Errorf("%s message missing sdp", m.Type)
		}
	case TypeICECandidate:
		if m.From == "" || m.To == "" {
			return fmt.Errorf("ice_candidate message missing from/to")
		}
		if len(m.Candidate) == 0 {
			return fmt.Errorf("ice_candidate message missing candidate")
		}
	case TypeAuthSuccess:
		if m.ID == "" {
			return fmt.Errorf("auth_success message missing id")
		}
	case TypeConnectionAccepted:
		if m.HostID == "" {
			return fmt.Errorf("connection_accepted message missing hostId")
		}
	case TypeDeviceOnline, TypeDeviceOffline:
		if m.Device == nil {
			return fmt.Errorf("%s message missing device", m.Type)
		}
	case TypeDeviceList:
	case TypeError:
		if m.Error == "" {
			return fmt.Errorf("error message missing error")
		}
	default:
		return &ErrUnknownType{Type: string(m.Type)}
	}
	return nil
}
