// Package orchestrator owns the registry of active provider
// connections and each session's lifecycle state machine.
//
// Every session is driven by a single actor goroutine: commands
// (start/stop) and provider callbacks flow through one mailbox, so
// state transitions for a session are serialized without per-field
// locking. Sessions run fully in parallel with respect to each other.
//
// Domain events are emitted on a buffered channel consumed by the
// real-time fan-out service; the orchestrator never calls into the
// fan-out layer directly.
package orchestrator
