// Package artifact stores files exchanged during a conversation, uploads
// from the user as well as images produced by tools. Artifacts are scoped
// to a session and addressed by id.
//
// Two backends ship with the package: an in-process map for tests and
// single-process setups, and a SQLite store that shares its durability
// story with the session package.
package artifact
