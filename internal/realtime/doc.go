// Package realtime pushes orchestrator and presence events to
// websocket subscribers.
//
// Subscribers authenticate with a bearer token before the upgrade
// completes, land in their tenant room automatically, and opt into
// session and analytics rooms with explicit commands. Delivery is
// at-most-once: events emitted while a subscriber is not joined to the
// room are never replayed, and a slow consumer is dropped rather than
// allowed to stall the fan-out.
package realtime
