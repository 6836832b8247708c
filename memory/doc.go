// Package memory keeps long-term facts the companion has learned about the
// user, separate from the turn-by-turn conversation log in the session
// package. Facts are scoped to a session and found again by substring
// search.
//
// The in-memory store is a linear scan; swap in a semantic index when the
// fact count or recall quality demands it.
package memory
