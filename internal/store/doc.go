// Package store provides persistent storage for the inbox gateway using SQLite.
//
// # Architecture
//
// The store package splits persistence into small interfaces:
//
//   - ConversationStore: conversations, membership sets, messages, unread counters
//   - DirectoryStore: privacy preferences and display profiles
//   - DeviceStore: push notification tokens
//
// Store combines them. SQLiteStore implements Store in a single struct and
// MockStore mirrors it in memory for unit tests.
//
// # Data Models
//
//   - Conversation: exactly two participants, unique per pair regardless of
//     order, with per-user ArchivedBy/DeletedBy/BlockedBy sets and UnreadCount
//   - Message: append-only, ordered by a per-conversation Seq assigned at commit
//   - Attachment: reference to an uploaded object (url, name, type, size)
//   - Preferences, Profile, Device
//
// # Atomicity
//
// AppendMessage writes the message, the conversation summary (last message
// preview, timestamp, count) and the receiver's unread increment in one
// transaction. MarkRead flips is_read and zeroes the counter in one
// transaction.
//
// Membership changes are compare-and-set on state_version: SetMemberFlags
// fails with ErrStateConflict if another writer got there first, and
// AppendMessage fails the same way if a block landed after the caller
// checked. Callers reload and re-evaluate.
//
// # SQLite Configuration
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, pure Go, default)
// and "sqlite3" (mattn/go-sqlite3, cgo). Connections use:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	busy_timeout=5000, BEGIN IMMEDIATE for transactions
//
// Timestamps are stored as fixed-width UTC strings so they sort lexically.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: the participant pair already has a conversation
//   - ErrStateConflict: state_version moved; reload and retry
//   - ErrNotParticipant: user is not in the conversation
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
// for integration tests with real SQLite.
package store
