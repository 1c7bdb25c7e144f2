package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/comigor/midi64-go/internal/config"
	"github.com/comigor/midi64-go/internal/exchange"
	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/mcpserver"
	"github.com/comigor/midi64-go/internal/playback"
	"github.com/comigor/midi64-go/internal/protocol"
	"github.com/comigor/midi64-go/internal/sessionfile"
	"github.com/comigor/midi64-go/internal/timeline"
	"github.com/comigor/midi64-go/internal/ui"
)

func runExchange(ctx context.Context, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("exchange", pflag.ContinueOnError)
	useTUI := fs.Bool("tui", true, "show the terminal UI")
	offline := fs.Bool("offline", false, "use the pattern bank even when an llm model is configured")
	reset := fs.Bool("reset", false, "zero the session counters before starting")
	turns := fs.Int("turns", cfg.Session.MaxTurns, "stop after this many turns (0 = until interrupted)")
	interval := fs.Duration("interval", cfg.Session.Interval, "time between turns")
	logFile := fs.String("log-file", "midi64.log", "log destination while the TUI runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store := openHistory(cfg)
	defer store.Close()
	writer, err := sessionfile.NewWriter(cfg.Storage.MessagesDir)
	if err != nil {
		return err
	}

	xcfg := exchange.Config{Prefix: cfg.Session.PrefixByte(), Agents: cfg.Session.Order(), MaxTurns: *turns}
	opts := []exchange.Option{
		exchange.WithRenderer(renderer(cfg)),
		exchange.WithCounterStore(store),
		exchange.WithRecorder(store),
		exchange.WithRecorder(writer),
	}

	if !*useTUI {
		seq, err := exchange.New(xcfg, payloadSource(cfg, *offline), append(opts, exchange.WithSurface(ui.LogSurface{}))...)
		if err != nil {
			return err
		}
		if *reset {
			if err := seq.Reset(ctx); err != nil {
				return err
			}
		}
		if err := seq.AutoRun(ctx, *interval); err != nil {
			return err
		}
		<-seq.Done()
		return seq.Err()
	}

	restore, err := logToFile(*logFile)
	if err != nil {
		return err
	}
	defer restore()

	var seq *exchange.Sequencer
	controls := ui.Controls{
		Toggle: func() {
			select {
			case <-seq.Done():
				// The opening turn may wait on the model; keep Update responsive.
				go func() {
					if err := seq.AutoRun(ctx, *interval); err != nil {
						logger.L.Warn("auto-run not started", "error", err)
					}
				}()
			default:
				seq.Stop()
			}
		},
		Reset: func() {
			if err := seq.Reset(ctx); err != nil {
				logger.L.Error("exchange reset failed", "error", err)
			}
		},
		Status: func() ui.Status {
			return ui.Status{Phase: string(seq.State()), Position: seq.Turns(), Count: *turns, Speed: 1, Detail: "run " + seq.RunID()}
		},
	}
	title := fmt.Sprintf("MIDI64 exchange • %s ↔ %s • session %c", xcfg.Agents[0], xcfg.Agents[1], xcfg.Prefix)
	p := tea.NewProgram(ui.NewModel(title, controls), tea.WithAltScreen(), tea.WithContext(ctx))
	surface := ui.ProgramSurface{P: p}

	seq, err = exchange.New(xcfg, payloadSource(cfg, *offline), append(opts, exchange.WithSurface(surface))...)
	if err != nil {
		return err
	}
	if *reset {
		if err := seq.Reset(ctx); err != nil {
			return err
		}
	}
	go func() {
		if err := seq.AutoRun(ctx, *interval); err != nil {
			surface.ReportError(err)
		}
	}()

	_, err = p.Run()
	seq.Stop()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func loadTimeline(ctx context.Context, cfg *config.Config, dir string, fromHistory bool) (*timeline.Timeline, error) {
	if !fromHistory {
		return timeline.LoadDir(dir, protocol.NewParser())
	}
	store := openHistory(cfg)
	defer store.Close()
	entries, err := store.List(ctx, cfg.Session.PrefixByte())
	if err != nil {
		return nil, err
	}
	msgs := make([]protocol.Message, 0, len(entries))
	for _, e := range entries {
		msg, err := e.Message()
		if err != nil {
			logger.L.Warn("skipping history entry", "id", e.ID, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return timeline.Load(msgs), nil
}

func runReplay(ctx context.Context, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("replay", pflag.ContinueOnError)
	dir := fs.String("dir", cfg.Storage.MessagesDir, "directory of session files")
	fromHistory := fs.Bool("history", false, "replay the history database instead of files")
	speed := fs.Float64("speed", cfg.Playback.Speed, "playback speed multiplier")
	useTUI := fs.Bool("tui", true, "show the terminal UI")
	logFile := fs.String("log-file", "midi64.log", "log destination while the TUI runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tl, err := loadTimeline(ctx, cfg, *dir, *fromHistory)
	if err != nil {
		return err
	}
	if tl.Len() == 0 {
		fmt.Println(tl.Stats())
		return nil
	}

	opts := playback.Options{BaseInterval: cfg.Playback.BaseInterval, Speed: *speed, Renderer: renderer(cfg)}

	if !*useTUI {
		finished := make(chan struct{})
		opts.Surface = ui.SurfaceFunc(func(t ui.Turn) {
			ui.LogSurface{}.Show(t)
			if t.Position+1 == t.Count {
				close(finished)
			}
		})
		c := playback.New(opts)
		c.Load(tl)
		c.Play()
		select {
		case <-finished:
		case <-ctx.Done():
			c.Pause()
		}
		return nil
	}

	restore, err := logToFile(*logFile)
	if err != nil {
		return err
	}
	defer restore()

	var c *playback.Controller
	controls := ui.Controls{
		Toggle: func() {
			if c.Phase() == playback.Playing {
				c.Pause()
			} else {
				c.Play()
			}
		},
		SetSpeed: func(m float64) error { return c.SetSpeed(m) },
		Seek:     func(delta float64) { c.Seek(seekTarget(c.Snapshot(), delta)) },
		Reset:    func() { c.Reset() },
		Status: func() ui.Status {
			s := c.Snapshot()
			return ui.Status{Phase: string(s.Phase), Position: s.Position, Count: s.Count, Speed: s.Speed, Detail: tl.Stats()}
		},
	}
	p := tea.NewProgram(ui.NewModel("MIDI64 replay • "+tl.Stats(), controls), tea.WithAltScreen(), tea.WithContext(ctx))
	opts.Surface = ui.ProgramSurface{P: p}
	c = playback.New(opts)
	c.Load(tl)

	_, err = p.Run()
	c.Pause()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// seekTarget moves at least one message in the direction of delta. The
// fraction points at the middle of the target slot so flooring it in
// SeekFraction lands on that index.
func seekTarget(s playback.Snapshot, delta float64) float64 {
	if s.Count == 0 {
		return 0
	}
	step := int(math.Round(delta * float64(s.Count)))
	if step == 0 {
		step = 1
		if delta < 0 {
			step = -1
		}
	}
	return (float64(s.Position+step) + 0.5) / float64(s.Count)
}

func runStats(cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	dir := fs.String("dir", cfg.Storage.MessagesDir, "directory of session files")
	fromHistory := fs.Bool("history", false, "read the history database instead of files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tl, err := loadTimeline(context.Background(), cfg, *dir, *fromHistory)
	if err != nil {
		return err
	}
	fmt.Println(tl.Stats())
	for _, m := range tl.Markers() {
		msg, _ := tl.At(m.Index)
		fmt.Printf("  %3d  %s  %s\n", m.Index, m.Label, msg.Timestamp.Format(time.DateTime))
	}
	return nil
}

func runMCP(_ context.Context, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("mcp", pflag.ContinueOnError)
	offline := fs.Bool("offline", false, "use the pattern bank even when an llm model is configured")
	if err := fs.Parse(args); err != nil {
		return err
	}
	// stdout carries the protocol.
	logger.SetOutput(os.Stderr)

	store := openHistory(cfg)
	defer store.Close()
	writer, err := sessionfile.NewWriter(cfg.Storage.MessagesDir)
	if err != nil {
		return err
	}
	seq, err := exchange.New(
		exchange.Config{Prefix: cfg.Session.PrefixByte(), Agents: cfg.Session.Order()},
		payloadSource(cfg, *offline),
		exchange.WithCounterStore(store),
		exchange.WithRecorder(store),
		exchange.WithRecorder(writer),
	)
	if err != nil {
		return err
	}
	return mcpserver.Serve(&mcpserver.Handlers{Sequencer: seq})
}
