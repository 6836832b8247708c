// Package plugin hosts the extension runtime. Plugins declare dependencies
// on each other, are initialized in dependency order and torn down in
// reverse, and receive a capability-scoped context through which every
// tool, command and provider interaction is attributed to them. Optional
// hook interfaces let a plugin claim incoming events before the default
// handling runs; only plugins whose descriptor carries the Handler flag
// take part in that dispatch, and only they may reach the session store
// and the tool-calling loop through their context.
package plugin
