// Package core defines the shared data model of the soulmesh orchestration
// runtime: inbound events, outbound messages, chat history entries, tool
// call/result pairs and the per-run pipeline context. Higher layers
// (pipeline, plugin, provider, loop) all communicate through these types so
// that no package needs to know another's internals.
package core
