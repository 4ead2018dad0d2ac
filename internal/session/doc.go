// Package session defines the durable session model and its store.
//
// A session is one named provider account connection. The orchestrator
// is the single writer of session state; the REST layer reads it.
package session
