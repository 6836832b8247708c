// Package session persists per-conversation chat history. The core only
// guarantees ordered append and retrieval; summarization or compression of
// old messages belongs to whatever plugin owns memory behavior.
//
// Two implementations are provided: an in-memory store for tests and
// ephemeral use, and a SQLite backed store that survives restarts.
package session
