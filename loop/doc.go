// Package loop drives the iterative inference / tool-execution cycle that
// lets a model take actions: send a request, execute any tool calls the
// response carries, feed the results back, and repeat until the model stops
// asking for tools or the iteration limit is reached.
//
// Calls to externally sourced tools are gated by a confirmation round-trip:
// a confirmation request is emitted over the transport boundary and the call
// suspends on a pending-request map until a reply arrives or its timeout
// expires. A timeout counts as rejection, not as an error.
package loop
