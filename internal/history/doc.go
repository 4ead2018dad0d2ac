// Package history persists incoming messages and delivery ack updates.
//
// The Writer batches rows in memory and flushes on size or interval
// using pgx batch inserts. Recording is fire-and-forget: callers never
// block on the database, and write failures are logged and counted but
// not surfaced.
package history
