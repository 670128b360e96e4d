// Package session holds the in-memory conversational state for the
// gateway: the Session type and the Manager registry that owns it.
//
// # Ownership
//
// The Manager exclusively owns Session instances. Handlers and
// background jobs obtain references but must not retain them past the
// task's completion boundary; all mutation goes through Session
// accessor methods, which serialize writes so that a background job
// and the active connection can update the same session safely.
//
// # Lifecycle
//
// A session is created on the first start_conversation for a
// conversation id, or resumed if one already exists — in memory first,
// then hydrated from the store. At most one session exists per
// conversation id at a time. Sessions are persisted and removed on
// explicit logout, explicit end-of-conversation, or idle timeout.
// Disconnects never delete a session: the live-connection index is
// separate from session lifetime, so a reconnect with the same
// conversation id resumes exactly where it left off.
package session
