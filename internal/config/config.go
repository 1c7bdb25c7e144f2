package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/comigor/midi64-go/internal/protocol"
)

// Config holds the application configuration
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Session  SessionConfig  `mapstructure:"session"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Storage  StorageConfig  `mapstructure:"storage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	MIDI     MIDIConfig     `mapstructure:"midi"`
}

// SessionConfig describes a live exchange.
type SessionConfig struct {
	Prefix     string        `mapstructure:"prefix"`
	Agents     []string      `mapstructure:"agents"`
	FirstAgent string        `mapstructure:"first_agent"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxTurns   int           `mapstructure:"max_turns"`
}

// PlaybackConfig holds replay timing.
type PlaybackConfig struct {
	BaseInterval time.Duration `mapstructure:"base_interval"`
	Speed        float64       `mapstructure:"speed"`
}

// StorageConfig says where messages and history live.
type StorageConfig struct {
	MessagesDir string `mapstructure:"messages_dir"`
	HistoryDB   string `mapstructure:"history_db"`
}

// LLMConfig holds the LLM configuration. An empty model disables the LLM
// source and the exchange uses the pattern bank.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// MIDIConfig selects an output port. An empty port means no MIDI output.
type MIDIConfig struct {
	Port    string `mapstructure:"port"`
	Channel uint8  `mapstructure:"channel"`
}

// PrefixByte returns the session prefix letter.
func (s SessionConfig) PrefixByte() byte {
	if len(s.Prefix) == 0 {
		return 0
	}
	return s.Prefix[0]
}

// Order returns the two agents with FirstAgent in front.
func (s SessionConfig) Order() [2]string {
	var out [2]string
	copy(out[:], s.Agents)
	if protocol.AgentKey(out[1]) == protocol.AgentKey(s.FirstAgent) {
		out[0], out[1] = out[1], out[0]
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("session.prefix", "A")
	v.SetDefault("session.agents", []string{"Kai", "Claude"})
	v.SetDefault("session.first_agent", "Kai")
	v.SetDefault("session.interval", "3s")
	v.SetDefault("session.max_turns", 0)
	v.SetDefault("playback.base_interval", "2s")
	v.SetDefault("playback.speed", 1.0)
	v.SetDefault("storage.messages_dir", "midi64_messages")
	v.SetDefault("storage.history_db", "midi64.db")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("midi.port", "")
	v.SetDefault("midi.channel", 0)
}

// Load reads config.yaml from the working directory, or the file named by
// CONFIG_PATH, then applies MIDI64_* environment overrides. A missing
// file is fine; every key has a default.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MIDI64")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	s := c.Session
	if len(s.Prefix) != 1 || !protocol.IsPrefix(s.Prefix[0]) {
		return fmt.Errorf("session.prefix must be one uppercase letter, got %q", s.Prefix)
	}
	if len(s.Agents) != 2 {
		return fmt.Errorf("session.agents must name exactly two agents, got %d", len(s.Agents))
	}
	for _, a := range s.Agents {
		if !protocol.ValidAgent(a) {
			return fmt.Errorf("session.agents: %q is not a valid agent name", a)
		}
	}
	if protocol.AgentKey(s.Agents[0]) == protocol.AgentKey(s.Agents[1]) {
		return fmt.Errorf("session.agents must differ")
	}
	if s.FirstAgent != "" {
		key := protocol.AgentKey(s.FirstAgent)
		if key != protocol.AgentKey(s.Agents[0]) && key != protocol.AgentKey(s.Agents[1]) {
			return fmt.Errorf("session.first_agent %q is not one of %v", s.FirstAgent, s.Agents)
		}
	}
	if s.Interval <= 0 {
		return fmt.Errorf("session.interval must be positive")
	}
	if s.MaxTurns < 0 {
		return fmt.Errorf("session.max_turns must not be negative")
	}
	sp := c.Playback.Speed
	if sp <= 0 || math.IsInf(sp, 0) || math.IsNaN(sp) {
		return fmt.Errorf("playback.speed must be a positive number, got %v", sp)
	}
	if c.Playback.BaseInterval <= 0 {
		return fmt.Errorf("playback.base_interval must be positive")
	}
	if c.MIDI.Channel > 15 {
		return fmt.Errorf("midi.channel must be 0-15, got %d", c.MIDI.Channel)
	}
	return nil
}
