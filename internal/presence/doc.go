// Package presence tracks which authenticated users are currently
// present, per tenant. Records are ephemeral: one per (user,
// connection) pair, evicted on explicit disconnect or by a periodic
// staleness sweep. Changes are published as presence events for
// re-broadcast to tenant rooms.
package presence
