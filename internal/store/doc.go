// Package store provides persistence for conversations, fact-check
// results, and extracted facts.
//
// # Overview
//
// The durable unit is one Conversation record per conversation id:
// its messages (append-only, ordered by seq), the active workflow,
// and the owning user identity. Fact-check results are keyed by
// (conversation id, message index). Facts are append-only and keyed
// by stable user identity so they outlive any single conversation.
//
// # Implementations
//
//   - SQLiteStore: production implementation on modernc.org/sqlite
//     with WAL mode and automatic schema creation.
//   - MockStore: in-memory implementation for tests with error
//     injection hooks.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/chat-gateway/conversations.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
package store
