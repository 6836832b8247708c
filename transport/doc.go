// Package transport defines the boundary between the orchestration core and
// whatever carries messages to and from the presentation layer. The core
// only needs fire-and-forget sending of OutgoingMessage values; inbound
// Events are fed to the pipeline by the embedding application.
//
// The Channel implementation is an in-process transport suitable for tests
// and embedded use. A websocket implementation lives in transport/ws.
package transport
