package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
logging:
  level: debug
  format: json
session:
  path: soulmesh.db
pipeline:
  system_prompt: "You are a cheerful companion."
  history_limit: 20
  streaming: true
providers:
  - id: claude
    type: anthropic
    primary: true
    settings:
      model: claude-sonnet-4-20250514
  - id: gpt
    type: openai
    settings:
      model: gpt-4o-mini
plugins:
  - name: weather
    settings:
      unit: celsius
  - name: reminder
    disabled: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "soulmesh.db", cfg.Session.Path)
	assert.Equal(t, 20, cfg.Pipeline.HistoryLimit)
	assert.True(t, cfg.Pipeline.Streaming)

	require.Len(t, cfg.Providers, 2)
	id, ok := cfg.PrimaryID()
	require.True(t, ok)
	assert.Equal(t, "claude", id)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Providers[0].Settings["model"])

	weather, ok := cfg.Plugin("weather")
	require.True(t, ok)
	assert.Equal(t, "celsius", weather.Settings["unit"])

	reminder, ok := cfg.Plugin("reminder")
	require.True(t, ok)
	assert.True(t, reminder.Disabled)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, ok := cfg.PrimaryID()
	assert.False(t, ok)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Providers, 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "duplicate provider id",
			yaml: "providers:\n  - {id: a, type: openai}\n  - {id: a, type: anthropic}\n",
			want: "duplicate id",
		},
		{
			name: "reserved provider id",
			yaml: "providers:\n  - {id: primary, type: openai}\n",
			want: "reserved",
		},
		{
			name: "missing provider type",
			yaml: "providers:\n  - {id: a}\n",
			want: "type is required",
		},
		{
			name: "two primaries",
			yaml: "providers:\n  - {id: a, type: openai, primary: true}\n  - {id: b, type: openai, primary: true}\n",
			want: "at most one provider",
		},
		{
			name: "duplicate plugin name",
			yaml: "plugins:\n  - {name: p}\n  - {name: p}\n",
			want: "duplicate name",
		},
		{
			name: "negative history limit",
			yaml: "pipeline:\n  history_limit: -1\n",
			want: "history_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
