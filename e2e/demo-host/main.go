// Demo host: registers with the coordinator as a connectable device and
// answers incoming WebRTC offers with an echo DataChannel. Pair it with
// e2e/demo-client to exercise a full handshake through the coordinator.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/beamdesk/signaling/internal/protocol"
)

func main() {
	signalingURL := envOrDefault("SIGNALING_URL", "ws://127.0.0.1:8080/ws")
	deviceID := envOrDefault("DEVICE_ID", "demo-host")
	deviceName := envOrDefault("DEVICE_NAME", "Demo Host")

	conn, _, err := websocket.DefaultDialer.Dial(signalingURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", signalingURL, err)
		os.Exit(1)
	}
	defer conn.Close()

	h := &host{
		conn:     conn,
		deviceID: deviceID,
		api:      newWebRTCAPI(),
		peers:    map[string]*webrtc.PeerConnection{},
	}
	defer h.closePeers()

	if err := h.send(protocol.Message{
		Type:       protocol.TypeRegisterHost,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Platform:   runtime.GOOS,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		_ = h.send(protocol.Message{Type: protocol.TypeDisconnect})
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			fmt.Fprintf(os.Stderr, "bad frame: %v\n", err)
			continue
		}
		if err := h.handle(msg); err != nil {
			fmt.Fprintf(os.Stderr, "handle %s: %v\n", msg.Type, err)
		}
	}
}

type host struct {
	conn     *websocket.Conn
	deviceID string
	api      *webrtc.API

	sendMu sync.Mutex

	mu    sync.Mutex
	peers map[string]*webrtc.PeerConnection // keyed by client id
}

func (h *host) handle(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeAuthSuccess:
		fmt.Printf("READY %s\n", msg.ID)
		return nil
	case protocol.TypeConnectRequest:
		fmt.Printf("connect request from %s\n", msg.ClientID)
		return nil
	case protocol.TypeOffer:
		return h.answerOffer(msg)
	case protocol.TypeICECandidate:
		return h.addCandidate(msg)
	case protocol.TypeError:
		return fmt.Errorf("coordinator error: %s", msg.Error)
	default:
		return nil
	}
}

func (h *host) answerOffer(msg protocol.Message) error {
	pc, err := h.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	clientID := msg.From
	h.mu.Lock()
	if prev, ok := h.peers[clientID]; ok {
		_ = prev.Close()
	}
	h.peers[clientID] = pc
	h.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(m webrtc.DataChannelMessage) {
			// Echo everything back to the client.
			if m.IsString {
				_ = dc.SendText(string(m.Data))
				return
			}
			_ = dc.Send(m.Data)
		})
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand, err := protocol.CandidateFromPion(c.ToJSON())
		if err != nil {
			return
		}
		_ = h.send(protocol.Message{
			Type:      protocol.TypeICECandidate,
			From:      h.deviceID,
			To:        clientID,
			Candidate: cand,
		})
	})

	if err := pc.SetRemoteDescription(protocol.OfferToPion(msg.SDP)); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}

	return h.send(protocol.Message{
		Type: protocol.TypeAnswer,
		From: h.deviceID,
		To:   clientID,
		SDP:  pc.LocalDescription().SDP,
	})
}

func (h *host) addCandidate(msg protocol.Message) error {
	h.mu.Lock()
	pc, ok := h.peers[msg.From]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("candidate from unknown client %s", msg.From)
	}
	cand, err := protocol.CandidateToPion(msg.Candidate)
	if err != nil {
		return err
	}
	return pc.AddICECandidate(cand)
}

func (h *host) send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *host) closePeers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, pc := range h.peers {
		_ = pc.Close()
	}
}

// newWebRTCAPI builds a pion API whose internal logging follows the
// PION_LOG_LEVEL convention.
func newWebRTCAPI() *webrtc.API {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelWarn
	if lvl := os.Getenv("PION_LOG_LEVEL"); lvl != "" {
		for l := logging.LogLevelDisabled; l <= logging.LogLevelTrace; l++ {
			if strings.EqualFold(l.String(), lvl) {
				lf.DefaultLogLevel = l
			}
		}
	}

	se := webrtc.SettingEngine{LoggerFactory: lf}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
