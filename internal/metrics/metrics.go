package metrics

import "sync"

// Event counter names used by the signaling coordinator.
const (
	RegisterHost   = "register_host"
	RegisterClient = "register_client"
	HostTakeover   = "host_takeover"

	DeviceListServed   = "device_list_served"
	ConnectRequestOK   = "connect_request_ok"
	ConnectRequestMiss = "connect_request_miss"
	SignalForwarded    = "signal_forwarded"
	SignalRoutingMiss  = "signal_routing_miss"
	BroadcastOnline    = "broadcast_device_online"
	BroadcastOffline   = "broadcast_device_offline"

	MalformedMessage   = "malformed_message"
	UnknownMessageType = "unknown_message_type"
	SendDropped        = "send_dropped"
	RateLimited        = "rate_limited"
	ConnectionLimited  = "connection_limited"
	ConnectionClosed   = "connection_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production coordinator is expected to plug into a real metrics backend;
// this type exists to keep routing logic testable and to provide drop/forward
// counters that the Prometheus handler can scrape.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
