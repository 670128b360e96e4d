// Package gateway runs the WebSocket side of the chat service: it
// accepts upgrades, resolves identity, attaches connections to
// sessions, and routes protocol frames to their handlers.
//
// Connections are ephemeral and sessions are not. A connection moves
// through Connecting, Active, Closing, and Closed; losing it (heartbeat
// miss, socket failure) flushes the session to the store and leaves it
// resumable under the same conversation id. Frames on one connection
// are processed strictly in arrival order, with progress for an
// in-flight turn streamed out through the progress reporter.
package gateway
