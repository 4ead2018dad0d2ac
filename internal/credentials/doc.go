// Package credentials stores opaque per-session credential blobs.
//
// Blobs are whatever the provider hands back after pairing; this layer
// never inspects them. A failed or missing read is treated upstream as
// "no credential", which forces a fresh pairing flow.
package credentials
