// Package signaling implements the coordinator's WebSocket surface: the
// per-connection session transport, the message router, and the lifecycle
// supervision that keeps the registry consistent with connection state.
package signaling
