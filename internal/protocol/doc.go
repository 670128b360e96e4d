// Package protocol defines the WebSocket wire format: a closed,
// tagged set of inbound and outbound JSON frames discriminated by a
// "type" field.
//
// Decode enforces payload constraints (non-empty text, length ceiling,
// non-negative indices) before any domain logic runs. Malformed or
// unrecognized frames yield typed errors that the router converts into
// client-visible error frames; they never crash the connection or
// mutate session state.
//
// Agent responses are a tagged variant rather than a duck-typed shape:
// PlainText for text-only, WithUIElements when interactive elements
// accompany the text.
package protocol
