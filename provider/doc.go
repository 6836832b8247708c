// Package provider abstracts inference backends behind a uniform interface
// and manages configured backend instances in a registry. Exactly one
// instance may hold the primary flag at a time; the alias "primary" always
// resolves to it. Adapters for concrete backends live in subpackages
// (provider/openai, provider/anthropic).
package provider
