package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamdesk/signaling/internal/metrics"
	"github.com/beamdesk/signaling/internal/protocol"
	"github.com/beamdesk/signaling/internal/ratelimit"
	"github.com/beamdesk/signaling/internal/registry"
)

const wsWriteWait = 1 * time.Second

// peerConn is one upgraded WebSocket connection. It owns the connection's
// read loop, a single writer goroutine fed by a bounded queue, and the
// registry entry created when the peer registers.
//
// peerConn implements registry.Transport, so the router and broadcasts reach
// this connection without knowing about WebSockets.
type peerConn struct {
	srv  *Server
	conn *websocket.Conn
	log  *slog.Logger

	limiter *ratelimit.TokenBucket

	// sendCh feeds the writer goroutine. Send never blocks: frames that would
	// overflow the queue are dropped and counted.
	sendCh chan []byte
	done   chan struct{}

	mu          sync.Mutex
	closed      bool
	participant *registry.Participant

	closeOnce sync.Once
}

// Send enqueues one already-encoded frame for delivery. It reports false when
// the frame was dropped because the connection is closed or its queue is full.
func (p *peerConn) Send(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.sendCh <- data:
		return true
	default:
		p.srv.incMetric(metrics.SendDropped)
		p.log.Warn("send queue full, dropping frame", slog.Int("bytes", len(data)))
		return false
	}
}

// Close tears the connection down. Safe to call from any goroutine and more
// than once.
func (p *peerConn) Close() error {
	p.teardown()
	return nil
}

// teardown is the single exit path for a connection: it stops the writer,
// closes the socket, unregisters the participant, and emits at most one
// offline notice for a host. Every trigger (read error, write error, explicit
// disconnect, server shutdown) funnels through here exactly once.
func (p *peerConn) teardown() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
		p.srv.untrackPeer(p)
		p.srv.connLimiter().Release()
		p.srv.incMetric(metrics.ConnectionClosed)

		// The closed flag and the participant slot share a mutex so a
		// registration racing this teardown resolves exactly one way: either
		// it installed the entry first and it is retired here, or it observes
		// closed and retires the entry itself.
		p.mu.Lock()
		p.closed = true
		part := p.participant
		p.participant = nil
		p.mu.Unlock()

		if part == nil {
			return
		}
		// Remove is identity-guarded: if this entry was already evicted by a
		// takeover, nothing is removed and no offline notice goes out.
		if dev, removed := p.srv.Registry.Remove(part); removed && dev != nil {
			p.log.Info("host offline",
				slog.String("deviceId", dev.DeviceID),
				slog.String("deviceName", dev.DeviceName))
			p.srv.broadcastDeviceEvent(protocol.TypeDeviceOffline, *dev, metrics.BroadcastOffline)
		}
	})
}

// writePump is the connection's only writer. It serializes queued frames and
// keepalive pings onto the socket; any write failure tears the connection
// down.
func (p *peerConn) writePump() {
	ticker := time.NewTicker(p.srv.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case data := <-p.sendCh:
			_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.teardown()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				p.teardown()
				return
			}
		case <-p.done:
			return
		}
	}
}

// run drives the read loop until the peer disconnects or a hardening limit
// trips. It blocks the upgrade handler's goroutine.
func (p *peerConn) run() {
	defer p.teardown()

	idle := p.srv.idleTimeout()
	p.conn.SetReadLimit(p.srv.maxMessageBytes())
	_ = p.conn.SetReadDeadline(time.Now().Add(idle))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(idle))

		// Apply the rate limit *after* reading so bytes already in the TCP
		// receive buffer are consumed. Closing with unread data can turn into
		// an abortive close (RST), hiding the close code from the peer.
		if p.limiter != nil && !p.limiter.Allow(1) {
			p.srv.incMetric(metrics.RateLimited)
			p.log.Warn("message rate limit exceeded, closing connection")
			p.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			p.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			var unknown *protocol.ErrUnknownType
			if errors.As(err, &unknown) {
				// Forward-compatibility: ignore types we do not understand.
				p.srv.incMetric(metrics.UnknownMessageType)
				p.log.Debug("ignoring unknown message type", slog.String("type", unknown.Type))
				continue
			}
			// Malformed frames get an ERROR reply; the connection stays open.
			p.srv.incMetric(metrics.MalformedMessage)
			p.log.Warn("malformed signaling message", slog.String("error", err.Error()))
			p.sendMessage(protocol.Message{
				Type:    protocol.TypeError,
				Error:   "Invalid message format",
				Details: err.Error(),
			})
			continue
		}

		if done := p.dispatch(msg, data); done {
			return
		}
	}
}

// dispatch routes one parsed message. The raw frame rides along so relayed
// messages are forwarded byte-identical to what the sender produced. The
// return value reports whether the connection should close.
func (p *peerConn) dispatch(msg protocol.Message, raw []byte) (done bool) {
	switch msg.Type {
	case protocol.TypeRegisterHost:
		p.registerHost(msg)
	case protocol.TypeRegisterClient:
		p.registerClient(msg)
	case protocol.TypeGetDevices:
		p.sendDeviceList()
	case protocol.TypeConnectRequest:
		p.connectRequest(msg, raw)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		p.forward(msg, raw)
	case protocol.TypeDisconnect:
		p.closeWith(websocket.CloseNormalClosure, "disconnect")
		return true
	default:
		// A peer echoing coordinator-originated types (AUTH_SUCCESS etc.) is
		// out of contract; drop the frame.
		p.srv.incMetric(metrics.UnknownMessageType)
		p.log.Debug("ignoring unexpected message type", slog.String("type", string(msg.Type)))
	}
	return false
}

func (p *peerConn) registerHost(msg protocol.Message) {
	part, evicted := p.srv.Registry.Register(msg.DeviceID, registry.RoleHost, registry.DeviceMeta{
		DeviceName: msg.DeviceName,
		Platform:   msg.Platform,
	}, p)
	adopted := p.adoptParticipant(part)
	p.evictPrior(evicted)
	if !adopted {
		return
	}

	p.srv.incMetric(metrics.RegisterHost)
	p.log.Info("host registered",
		slog.String("deviceId", part.ID),
		slog.String("deviceName", msg.DeviceName),
		slog.String("platform", msg.Platform))

	p.sendMessage(protocol.Message{Type: protocol.TypeAuthSuccess, ID: part.ID})
	p.srv.broadcastDeviceEvent(protocol.TypeDeviceOnline, *part.Device, metrics.BroadcastOnline)
}

func (p *peerConn) registerClient(msg protocol.Message) {
	id := msg.ClientID
	if id == "" {
		id = p.srv.newClientID()
	}
	part, evicted := p.srv.Registry.Register(id, registry.RoleClient, registry.DeviceMeta{}, p)
	adopted := p.adoptParticipant(part)
	p.evictPrior(evicted)
	if !adopted {
		return
	}

	p.srv.incMetric(metrics.RegisterClient)
	p.log.Info("client registered", slog.String("clientId", part.ID))

	p.sendMessage(protocol.Message{Type: protocol.TypeAuthSuccess, ID: part.ID})
}

func (p *peerConn) sendDeviceList() {
	p.srv.incMetric(metrics.DeviceListServed)
	data, err := protocol.EncodeDeviceList(p.srv.clock().Now().UnixMilli(), p.srv.Registry.Devices())
	if err != nil {
		p.log.Error("encode device list", slog.String("error", err.Error()))
		return
	}
	p.Send(data)
}

func (p *peerConn) connectRequest(msg protocol.Message, raw []byte) {
	target, ok := p.srv.Registry.Lookup(msg.TargetDeviceID)
	if !ok || target.Role != registry.RoleHost {
		p.srv.incMetric(metrics.ConnectRequestMiss)
		p.log.Info("connect request for unavailable device",
			slog.String("targetDeviceId", msg.TargetDeviceID))
		p.sendMessage(protocol.Message{
			Type:  protocol.TypeError,
			Error: "Target device not found or offline",
		})
		return
	}

	p.srv.incMetric(metrics.ConnectRequestOK)
	p.log.Info("connect request",
		slog.String("clientId", msg.ClientID),
		slog.String("targetDeviceId", msg.TargetDeviceID))

	// Acceptance reaches the requester before any host-originated handshake
	// traffic can: the host has not seen the request yet.
	p.sendMessage(protocol.Message{Type: protocol.TypeConnectionAccepted, HostID: target.ID})
	target.Transport.Send(raw)
}

// forward relays a handshake frame to its addressee verbatim. An unroutable
// frame is dropped without notifying the sender: transient misses are normal
// while both sides tear down a session.
func (p *peerConn) forward(msg protocol.Message, raw []byte) {
	target, ok := p.srv.Registry.Lookup(msg.To)
	if !ok {
		p.srv.incMetric(metrics.SignalRoutingMiss)
		p.log.Warn("dropping signal for unknown participant",
			slog.String("type", string(msg.Type)),
			slog.String("to", msg.To))
		return
	}
	if target.Transport.Send(raw) {
		p.srv.incMetric(metrics.SignalForwarded)
	}
}

// adoptParticipant records the registry entry owned by this connection and
// reports whether the connection is still live. Registration runs on the
// reader goroutine but teardown can fire from anywhere (write failure, server
// shutdown); a teardown that already ran cannot have seen this entry, so the
// late registration retires it here instead of leaving a ghost in the
// registry. A connection that re-registers under a new id gives up its old
// entry, with the usual offline notice if the old entry advertised a device.
func (p *peerConn) adoptParticipant(part *registry.Participant) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.retireParticipant(part)
		return false
	}
	prev := p.participant
	p.participant = part
	p.mu.Unlock()

	if prev != nil && prev.ID != part.ID {
		p.retireParticipant(prev)
	}
	return true
}

func (p *peerConn) retireParticipant(part *registry.Participant) {
	if dev, removed := p.srv.Registry.Remove(part); removed && dev != nil {
		p.srv.broadcastDeviceEvent(protocol.TypeDeviceOffline, *dev, metrics.BroadcastOffline)
	}
}

// evictPrior closes the connection displaced by an id takeover. The evicted
// entry is already out of the registry, so its teardown cannot remove or
// announce anything.
func (p *peerConn) evictPrior(evicted *registry.Participant) {
	if evicted == nil || evicted.Transport == nil || evicted.Transport == registry.Transport(p) {
		return
	}
	p.srv.incMetric(metrics.HostTakeover)
	p.log.Warn("participant id takeover, closing prior connection", slog.String("id", evicted.ID))
	_ = evicted.Transport.Close()
}

// sendMessage stamps and encodes a coordinator-originated message for this
// connection. Relayed traffic never passes through here.
func (p *peerConn) sendMessage(msg protocol.Message) {
	msg.Timestamp = p.srv.clock().Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("encode outbound message", slog.String("error", err.Error()))
		return
	}
	p.Send(data)
}

func (p *peerConn) closeWith(code int, reason string) {
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// broadcastDeviceEvent fans a presence notice out to every client. Hosts do
// not receive presence traffic.
func (s *Server) broadcastDeviceEvent(t protocol.MessageType, dev protocol.Device, metricName string) {
	data, err := json.Marshal(protocol.Message{
		Type:      t,
		Timestamp: s.clock().Now().UnixMilli(),
		Device:    &dev,
	})
	if err != nil {
		return
	}
	s.incMetric(metricName)
	for _, c := range s.Registry.Clients() {
		c.Transport.Send(data)
	}
}
