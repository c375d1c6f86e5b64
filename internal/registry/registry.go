// Package registry tracks the set of currently-connected participants and the
// subset advertised as reachable devices.
//
// All state is in-memory and process-local; nothing survives a restart.
package registry

import (
	"sync"

	"github.com/beamdesk/signaling/internal/protocol"
	"github.com/beamdesk/signaling/internal/ratelimit"
)

// Role classifies a participant for routing and broadcast fan-out.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Transport is the per-connection duplex channel a participant owns.
//
// Send is fire-and-forget: it must never block the caller and reports whether
// the frame was accepted for delivery.
type Transport interface {
	Send(data []byte) bool
	Close() error
}

// DeviceMeta is the host-supplied advertisement metadata.
type DeviceMeta struct {
	DeviceName string
	Platform   string
}

// Participant is one active connection. The Device field is populated for
// hosts only and is owned by the registry while the participant is registered.
type Participant struct {
	ID        string
	Role      Role
	Transport Transport
	Device    *protocol.Device
}

// Registry is the single piece of shared mutable state in the coordinator.
// Every method is a short critical section under one mutex; participant counts
// are small and all operations are O(1) map work plus bounded slice upkeep.
type Registry struct {
	clock ratelimit.Clock

	mu           sync.Mutex
	participants map[string]*Participant
	hostOrder    []string // device listing order: insertion order of host registration
}

func New(clock ratelimit.Clock) *Registry {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Registry{
		clock:        clock,
		participants: make(map[string]*Participant),
	}
}

// Register creates or replaces the entry for id. Ids are self-asserted, so a
// collision is treated as a takeover: the prior entry is evicted and returned
// (its transport is left to the caller). For hosts, a Device is upserted with
// online=true and lastSeen=now.
func (r *Registry) Register(id string, role Role, meta DeviceMeta, t Transport) (p, evicted *Participant) {
	p = &Participant{ID: id, Role: role, Transport: t}
	if role == RoleHost {
		p.Device = &protocol.Device{
			DeviceID:   id,
			DeviceName: meta.DeviceName,
			Platform:   meta.Platform,
			Online:     true,
			LastSeen:   r.clock.Now().UnixMilli(),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.participants[id]; ok {
		evicted = prior
		if prior.Device != nil {
			r.removeHostOrderLocked(id)
		}
	}
	r.participants[id] = p
	if p.Device != nil {
		r.hostOrder = append(r.hostOrder, id)
	}
	return p, evicted
}

// Lookup returns the participant registered under id.
func (r *Registry) Lookup(id string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	return p, ok
}

// Devices returns a snapshot of all online devices in registration order.
func (r *Registry) Devices() []protocol.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.Device, 0, len(r.hostOrder))
	for _, id := range r.hostOrder {
		if p, ok := r.participants[id]; ok && p.Device != nil {
			out = append(out, *p.Device)
		}
	}
	return out
}

// Clients returns a snapshot of all client-role participants, for role-based
// broadcast fan-out.
func (r *Registry) Clients() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.Role == RoleClient {
			out = append(out, p)
		}
	}
	return out
}

// Remove deletes p from the registry. The removal is guarded by participant
// identity, not id, so a connection evicted by a takeover cannot remove its
// replacement when it eventually closes.
//
// For hosts, the final device record is returned with online=false and
// lastSeen updated to removal time so the caller can broadcast one offline
// notice. Removing an already-removed participant is a no-op.
func (r *Registry) Remove(p *Participant) (device *protocol.Device, removed bool) {
	if p == nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.participants[p.ID]
	if !ok || current != p {
		return nil, false
	}

	delete(r.participants, p.ID)
	if p.Device != nil {
		r.removeHostOrderLocked(p.ID)
		final := *p.Device
		final.Online = false
		final.LastSeen = r.clock.Now().UnixMilli()
		return &final, true
	}
	return nil, true
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Registry) removeHostOrderLocked(id string) {
	for i, v := range r.hostOrder {
		if v == id {
			r.hostOrder = append(r.hostOrder[:i], r.hostOrder[i+1:]...)
			return
		}
	}
}
