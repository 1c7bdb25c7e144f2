package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver

	"github.com/comigor/midi64-go/internal/config"
	"github.com/comigor/midi64-go/internal/history"
	"github.com/comigor/midi64-go/internal/llm"
	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/schedule"
	"github.com/comigor/midi64-go/internal/source"
	"github.com/comigor/midi64-go/internal/tone"
)

const usage = `usage: midi64 <command> [flags]

commands:
  exchange   run a live two-agent exchange
  replay     replay recorded session files
  stats      print a session summary
  mcp        serve the engine as MCP tools on stdio
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[2:]
	switch os.Args[1] {
	case "exchange":
		err = runExchange(ctx, cfg, args)
	case "replay":
		err = runReplay(ctx, cfg, args)
	case "stats":
		err = runStats(cfg, args)
	case "mcp":
		err = runMCP(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logger.L.Error("command failed", "command", os.Args[1], "error", err)
		stop()
		os.Exit(1)
	}
}

// payloadSource returns the LLM source when a model is configured, else
// the pattern bank alone.
func payloadSource(cfg *config.Config, offline bool) source.Fallback {
	bank := source.NewPatternBank()
	if offline || cfg.LLM.Model == "" {
		logger.L.Info("using pattern bank payloads")
		return bank
	}
	logger.L.Info("using llm payloads", "model", cfg.LLM.Model, "base_url", cfg.LLM.BaseURL)
	return source.NewLLM(llm.NewClient(cfg.LLM), cfg.LLM.Model, cfg.Session.PrefixByte(), bank)
}

// renderer logs every tone and, when a port is configured, plays it.
func renderer(cfg *config.Config) tone.Renderer {
	out := tone.Multi{tone.LogRenderer{}}
	if cfg.MIDI.Port == "" {
		return out
	}
	send, err := tone.OpenMIDIPort(cfg.MIDI.Port)
	if err != nil {
		logger.L.Warn("midi output disabled", "port", cfg.MIDI.Port, "error", err)
		return out
	}
	logger.L.Info("midi output enabled", "port", cfg.MIDI.Port, "channel", cfg.MIDI.Channel)
	return append(out, tone.NewMIDIRenderer(send, cfg.MIDI.Channel, schedule.Real{}))
}

func openHistory(cfg *config.Config) *history.Store {
	return history.Open(cfg.Storage.HistoryDB)
}

// logToFile moves log output off the terminal while a TUI owns it.
func logToFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(f)
	return func() {
		logger.SetOutput(os.Stdout)
		_ = f.Close()
	}, nil
}
