// Package logging provides a minimal logging interface and adapters for soulmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the pipeline, plugin manager and tool loop use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - SoulmeshLogger with contextual helpers (session, component) and
//     domain specific helpers for tools, providers and pipeline runs
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
