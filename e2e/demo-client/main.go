// Demo client: discovers a host through the coordinator, completes the WebRTC
// handshake, and round-trips one message over a DataChannel. Exits 0 on a
// successful echo.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/beamdesk/signaling/internal/protocol"
)

func main() {
	signalingURL := envOrDefault("SIGNALING_URL", "ws://127.0.0.1:8080/ws")
	targetID := os.Getenv("TARGET_DEVICE_ID")
	timeout := 30 * time.Second

	conn, _, err := websocket.DefaultDialer.Dial(signalingURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", signalingURL, err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &client{
		conn:     conn,
		targetID: targetID,
		done:     make(chan error, 1),
	}

	if err := c.send(protocol.Message{Type: protocol.TypeRegisterClient}); err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}

	go c.readLoop()

	select {
	case err := <-c.done:
		_ = c.send(protocol.Message{Type: protocol.TypeDisconnect})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Println("OK")
	case <-time.After(timeout):
		fmt.Fprintln(os.Stderr, "timed out waiting for echo")
		os.Exit(1)
	}
}

type client struct {
	conn     *websocket.Conn
	targetID string

	sendMu sync.Mutex

	mu        sync.Mutex
	clientID  string
	hostID    string
	requested bool
	pc        *webrtc.PeerConnection

	done chan error
}

func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(fmt.Errorf("signaling connection lost: %w", err))
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if err := c.handle(msg); err != nil {
			c.finish(err)
			return
		}
	}
}

func (c *client) handle(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeAuthSuccess:
		c.mu.Lock()
		c.clientID = msg.ID
		c.mu.Unlock()
		fmt.Printf("registered as %s\n", msg.ID)
		return c.send(protocol.Message{Type: protocol.TypeGetDevices})
	case protocol.TypeDeviceList:
		return c.pickDevice(msg.Devices)
	case protocol.TypeConnectionAccepted:
		c.mu.Lock()
		c.hostID = msg.HostID
		c.mu.Unlock()
		return c.startHandshake()
	case protocol.TypeAnswer:
		c.mu.Lock()
		pc := c.pc
		c.mu.Unlock()
		if pc == nil {
			return fmt.Errorf("answer before offer")
		}
		return pc.SetRemoteDescription(protocol.AnswerToPion(msg.SDP))
	case protocol.TypeICECandidate:
		c.mu.Lock()
		pc := c.pc
		c.mu.Unlock()
		if pc == nil {
			return fmt.Errorf("candidate before offer")
		}
		cand, err := protocol.CandidateToPion(msg.Candidate)
		if err != nil {
			return err
		}
		return pc.AddICECandidate(cand)
	case protocol.TypeDeviceOnline:
		if c.targetID == "" || (msg.Device != nil && msg.Device.DeviceID == c.targetID) {
			// The host may come up after us; retry discovery.
			return c.send(protocol.Message{Type: protocol.TypeGetDevices})
		}
		return nil
	case protocol.TypeError:
		return fmt.Errorf("coordinator error: %s", msg.Error)
	default:
		return nil
	}
}

func (c *client) pickDevice(devices []protocol.Device) error {
	c.mu.Lock()
	requested := c.requested
	clientID := c.clientID
	c.mu.Unlock()
	if requested {
		return nil
	}

	for _, d := range devices {
		if c.targetID != "" && d.DeviceID != c.targetID {
			continue
		}
		c.mu.Lock()
		c.requested = true
		c.mu.Unlock()
		fmt.Printf("connecting to %s (%s)\n", d.DeviceID, d.DeviceName)
		return c.send(protocol.Message{
			Type:           protocol.TypeConnectRequest,
			TargetDeviceID: d.DeviceID,
			ClientID:       clientID,
		})
	}

	// Nothing suitable yet; a DEVICE_ONLINE notice will retrigger discovery.
	return nil
}

func (c *client) startHandshake() error {
	pc, err := newWebRTCAPI().NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pc = pc
	clientID, hostID := c.clientID, c.hostID
	c.mu.Unlock()

	dc, err := pc.CreateDataChannel("echo", nil)
	if err != nil {
		return err
	}
	dc.OnOpen(func() {
		_ = dc.SendText("ping")
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		if string(m.Data) == "ping" {
			c.finish(nil)
			return
		}
		c.finish(fmt.Errorf("unexpected echo payload %q", m.Data))
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		raw, err := protocol.CandidateFromPion(cand.ToJSON())
		if err != nil {
			return
		}
		_ = c.send(protocol.Message{
			Type:      protocol.TypeICECandidate,
			From:      clientID,
			To:        hostID,
			Candidate: raw,
		})
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}

	return c.send(protocol.Message{
		Type: protocol.TypeOffer,
		From: clientID,
		To:   hostID,
		SDP:  offer.SDP,
	})
}

func (c *client) finish(err error) {
	select {
	case c.done <- err:
	default:
	}
}

func (c *client) send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

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
