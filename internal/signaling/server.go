package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/beamdesk/signaling/internal/metrics"
	"github.com/beamdesk/signaling/internal/ratelimit"
	"github.com/beamdesk/signaling/internal/registry"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	// Registry is the shared participant registry. Required.
	Registry *registry.Registry

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// NewClientID generates ids for clients that register without one.
	// Defaults to uuid.NewString.
	NewClientID func() string

	// Clock is used for outbound message timestamps and rate limiting.
	// Defaults to ratelimit.RealClock.
	Clock ratelimit.Clock

	// WebSocket inbound hardening.
	MaxMessageBytes   int64
	MessagesPerSecond int

	// MaxConnections caps concurrently open signaling connections. Zero means
	// unlimited.
	MaxConnections int

	// Keepalive and liveness tuning.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	// SendQueueMessages is the per-connection outbound queue depth. Frames
	// that would overflow the queue are dropped rather than stalling the
	// router.
	SendQueueMessages int
}

// Server implements the coordinator's WebSocket signaling surface.
//
// Endpoints:
//   - GET /ws : per-participant signaling channel (register, discovery,
//     handshake relay)
type Server struct {
	// Registry is the shared participant registry.
	//
	// This field is intentionally exported so tests and callers can use a
	// simple struct literal (e.g. &Server{Registry: reg}).
	Registry *registry.Registry

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	NewClientID func() string
	Clock       ratelimit.Clock

	MaxMessageBytes   int64
	MessagesPerSecond int
	MaxConnections    int

	IdleTimeout  time.Duration
	PingInterval time.Duration

	SendQueueMessages int

	mu        sync.Mutex
	peers     map[*peerConn]struct{}
	connSlots *ratelimit.ConnectionLimiter
	closed    bool
}

func NewServer(cfg Config) *Server {
	return &Server{
		Registry: cfg.Registry,
		Metrics:  cfg.Metrics,
		Logger:   cfg.Logger,

		NewClientID: cfg.NewClientID,
		Clock:       cfg.Clock,

		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MaxConnections:    cfg.MaxConnections,

		IdleTimeout:  cfg.IdleTimeout,
		PingInterval: cfg.PingInterval,

		SendQueueMessages: cfg.SendQueueMessages,

		peers: make(map[*peerConn]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWS)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Close tears down every live connection. New upgrades are rejected after
// Close returns.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	peers := make([]*peerConn, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = nil
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
}

func (s *Server) trackPeer(p *peerConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.peers == nil {
		s.peers = make(map[*peerConn]struct{})
	}
	s.peers[p] = struct{}{}
	return true
}

// connLimiter lazily builds the connection cap so struct-literal construction
// keeps working alongside NewServer.
func (s *Server) connLimiter() *ratelimit.ConnectionLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connSlots == nil {
		s.connSlots = ratelimit.NewConnectionLimiter(s.MaxConnections)
	}
	return s.connSlots
}

func (s *Server) untrackPeer(p *peerConn) {
	s.mu.Lock()
	if s.peers != nil {
		delete(s.peers, p)
	}
	s.mu.Unlock()
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) clock() ratelimit.Clock {
	if s.Clock == nil {
		return ratelimit.RealClock{}
	}
	return s.Clock
}

func (s *Server) newClientID() string {
	if s.NewClientID == nil {
		return uuid.NewString()
	}
	return s.NewClientID()
}

func (s *Server) maxMessageBytes() int64 {
	if s.MaxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.MaxMessageBytes
}

func (s *Server) messagesPerSecond() int {
	// Zero means unlimited; the caller decides whether that is acceptable.
	if s.MessagesPerSecond < 0 {
		return 0
	}
	return s.MessagesPerSecond
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return 60 * time.Second
	}
	return s.IdleTimeout
}

func (s *Server) pingInterval() time.Duration {
	if s.PingInterval <= 0 {
		return 20 * time.Second
	}
	return s.PingInterval
}

func (s *Server) sendQueueMessages() int {
	if s.SendQueueMessages <= 0 {
		return 32
	}
	return s.SendQueueMessages
}

func (s *Server) incMetric(name string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Inc(name)
}

// HandleWS upgrades the request and runs the connection's read loop until the
// peer disconnects. It blocks for the lifetime of the connection.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	// Reject before the upgrade: a plain 503 is cheaper for both sides than a
	// WebSocket handshake followed by an immediate close.
	if !s.connLimiter().Acquire() {
		s.incMetric(metrics.ConnectionLimited)
		s.logger().Warn("connection limit reached, rejecting upgrade",
			slog.String("remote", r.RemoteAddr))
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		// Origin checks are left to the outer HTTP layer; coordinator
		// deployments typically sit behind a TLS terminator that handles it.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.connLimiter().Release()
		return
	}

	var limiter *ratelimit.TokenBucket
	if rate := s.messagesPerSecond(); rate > 0 {
		limiter = ratelimit.NewTokenBucket(s.clock(), int64(rate), int64(rate))
	}

	p := &peerConn{
		srv:  s,
		conn: conn,
		log:  s.logger().With(slog.String("remote", conn.RemoteAddr().String())),

		limiter: limiter,

		sendCh: make(chan []byte, s.sendQueueMessages()),
		done:   make(chan struct{}),
	}

	// teardown releases the connection slot, so a peer refused by a closing
	// server funnels through the same path as a live one.
	if !s.trackPeer(p) {
		p.teardown()
		return
	}

	go p.writePump()
	p.run()
}
