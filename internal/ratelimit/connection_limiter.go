package ratelimit

import "sync"

// ConnectionLimiter caps the number of concurrently open connections.
//
// A capacity <= 0 means unlimited: Acquire always succeeds.
type ConnectionLimiter struct {
	mu       sync.Mutex
	capacity int
	open     int
}

func NewConnectionLimiter(capacity int) *ConnectionLimiter {
	return &ConnectionLimiter{capacity: capacity}
}

// Acquire reserves one slot. It reports false when the cap is reached; the
// caller must not call Release for a failed Acquire.
func (l *ConnectionLimiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.capacity > 0 && l.open >= l.capacity {
		return false
	}
	l.open++
	return true
}

// Release returns a slot reserved by a successful Acquire.
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	if l.open > 0 {
		l.open--
	}
	l.mu.Unlock()
}

// Open reports the number of currently reserved slots.
func (l *ConnectionLimiter) Open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}
