// Package remember is a built-in plugin that gives the model a long-term
// memory. It registers two tools: remember_fact stores a statement about
// the user, recall_facts searches the stored facts.
package remember

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/soulmesh/memory"
	"github.com/hupe1980/soulmesh/plugin"
	"github.com/hupe1980/soulmesh/session"
	"github.com/hupe1980/soulmesh/tool"
)

// Options configure the plugin.
type Options struct {
	// Store holds the facts. Defaults to an in-memory store.
	Store memory.Store
	// SessionID scopes the facts. Defaults to the default session.
	SessionID string
}

// Plugin implements plugin.Plugin.
type Plugin struct {
	store     memory.Store
	sessionID string
}

var _ plugin.Plugin = (*Plugin)(nil)

// New creates the memory plugin.
func New(optFns ...func(o *Options)) *Plugin {
	opts := Options{
		Store:     memory.NewInMemoryStore(),
		SessionID: session.DefaultSessionID,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Plugin{store: opts.Store, sessionID: opts.SessionID}
}

// Descriptor reports the plugin's metadata.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Name:         "remember",
		Description:  "Long-term memory of facts about the user.",
		AutoActivate: true,
	}
}

// Initialize registers the memory tools through the plugin context.
func (p *Plugin) Initialize(ctx *plugin.Context) error {
	rememberTool, err := tool.NewFunctionTool(
		"remember_fact",
		"Store a lasting fact about the user, e.g. a preference or habit.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fact": map[string]any{
					"type":        "string",
					"description": "The fact to remember, phrased as a short statement.",
				},
			},
			"required": []any{"fact"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			fact, _ := args["fact"].(string)
			if strings.TrimSpace(fact) == "" {
				return nil, fmt.Errorf("fact must not be empty")
			}
			if _, err := p.store.Remember(p.sessionID, fact, nil); err != nil {
				return nil, err
			}
			return "Remembered.", nil
		},
	)
	if err != nil {
		return err
	}
	if err := ctx.RegisterTool(rememberTool); err != nil {
		return err
	}

	recallTool, err := tool.NewFunctionTool(
		"recall_facts",
		"Search previously remembered facts about the user.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Substring to search for. Empty returns the most recent facts.",
				},
			},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			facts, err := p.store.Recall(p.sessionID, query, 10)
			if err != nil {
				return nil, err
			}
			if len(facts) == 0 {
				return "No matching facts.", nil
			}
			lines := make([]string, len(facts))
			for i, f := range facts {
				lines[i] = "- " + f.Content
			}
			return strings.Join(lines, "\n"), nil
		},
	)
	if err != nil {
		return err
	}
	return ctx.RegisterTool(recallTool)
}

// Terminate has nothing to clean up; tool registrations are reclaimed by
// the manager.
func (p *Plugin) Terminate() error { return nil }
