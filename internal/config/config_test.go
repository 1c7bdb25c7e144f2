package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
session:
  prefix: C
  agents: [Kai, Aria]
  first_agent: Aria
  interval: 500ms
  max_turns: 12
playback:
  base_interval: 1s
  speed: 2
storage:
  messages_dir: /tmp/msgs
  history_db: /tmp/h.db
llm:
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
midi:
  port: "IAC Driver"
  channel: 3
`

func writeConfig(t *testing.T, body string) {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = tmp.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	t.Setenv("CONFIG_PATH", tmp.Name())
}

func TestLoad_File(t *testing.T) {
	writeConfig(t, sampleConfig)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, byte('C'), cfg.Session.PrefixByte())
	require.Equal(t, [2]string{"Aria", "Kai"}, cfg.Session.Order())
	require.Equal(t, 500*time.Millisecond, cfg.Session.Interval)
	require.Equal(t, 12, cfg.Session.MaxTurns)
	require.Equal(t, time.Second, cfg.Playback.BaseInterval)
	require.Equal(t, 2.0, cfg.Playback.Speed)
	require.Equal(t, "/tmp/h.db", cfg.Storage.HistoryDB)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.Equal(t, "IAC Driver", cfg.MIDI.Port)
	require.Equal(t, uint8(3), cfg.MIDI.Channel)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "A", cfg.Session.Prefix)
	require.Equal(t, [2]string{"Kai", "Claude"}, cfg.Session.Order())
	require.Equal(t, 2*time.Second, cfg.Playback.BaseInterval)
	require.Equal(t, 1.0, cfg.Playback.Speed)
	require.Empty(t, cfg.LLM.Model)
}

func TestLoad_EnvOverride(t *testing.T) {
	writeConfig(t, sampleConfig)
	t.Setenv("MIDI64_SESSION_PREFIX", "Z")
	t.Setenv("MIDI64_LLM_MODEL", "local-model")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, byte('Z'), cfg.Session.PrefixByte())
	require.Equal(t, "local-model", cfg.LLM.Model)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"lowercase prefix": "session:\n  prefix: a\n",
		"one agent":        "session:\n  agents: [Kai]\n",
		"same agents":      "session:\n  agents: [Kai, KAI]\n",
		"unknown first":    "session:\n  first_agent: Bob\n",
		"zero speed":       "playback:\n  speed: 0\n",
		"bad channel":      "midi:\n  channel: 16\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			writeConfig(t, body)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
