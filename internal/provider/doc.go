// Package provider defines the narrow contract to the external
// messaging-automation provider and a websocket client for its gateway.
//
// The orchestrator is the only consumer: it owns each session's Client
// exclusively, drives Connect/Close/Send, and receives provider
// callbacks through the Handlers struct. Protocol internals beyond the
// gateway envelope (QR rendering, media codecs) stay on the provider
// side.
package provider
