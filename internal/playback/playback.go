// Package playback replays a loaded timeline one message per tick.
//
// The controller is a small state machine:
//
//	Idle -> Loaded -> Playing <-> Paused -> Complete
//
// Load and Reset return to Loaded from any loaded phase. Ticks are
// scheduled one at a time; every pause, speed change, reset or reload
// cancels the pending tick and bumps a generation counter so a callback
// that already left the timer queue cannot act on the new state.
package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/midi64-go/internal/interpret"
	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/schedule"
	"github.com/comigor/midi64-go/internal/timeline"
	"github.com/comigor/midi64-go/internal/tone"
	"github.com/comigor/midi64-go/internal/ui"
)

// Phase is the controller state.
type Phase string

const (
	Idle     Phase = "Idle"
	Loaded   Phase = "Loaded"
	Playing  Phase = "Playing"
	Paused   Phase = "Paused"
	Complete Phase = "Complete"
)

type trigger string

const (
	triggerLoad   trigger = "Load"
	triggerPlay   trigger = "Play"
	triggerPause  trigger = "Pause"
	triggerFinish trigger = "Finish"
	triggerReset  trigger = "Reset"
	triggerSeek   trigger = "Seek"
)

// DefaultBaseInterval is the time per message at speed 1.
const DefaultBaseInterval = 2 * time.Second

const minInterval = time.Millisecond

var ErrInvalidSpeed = errors.New("speed multiplier must be a positive finite number")

// Options wires the controller's collaborators. Zero values get defaults.
type Options struct {
	BaseInterval time.Duration
	Speed        float64
	Scheduler    schedule.Scheduler
	Renderer     tone.Renderer
	Surface      ui.Surface
	Selector     *interpret.Selector
}

// Snapshot is a consistent read of the controller state.
type Snapshot struct {
	Phase    Phase
	Position int
	Count    int
	Speed    float64
	Interval time.Duration
}

// Progress is the fraction of the timeline already shown.
func (s Snapshot) Progress() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Position) / float64(s.Count)
}

type Controller struct {
	mu sync.Mutex
	sm *stateless.StateMachine

	tl       *timeline.Timeline
	position int
	speed    float64
	base     time.Duration

	sched schedule.Scheduler
	timer schedule.Timer
	gen   uint64

	renderer tone.Renderer
	surface  ui.Surface
	selector *interpret.Selector

	outbox []func()
}

// New builds an Idle controller.
func New(opts Options) *Controller {
	c := &Controller{
		speed:    opts.Speed,
		base:     opts.BaseInterval,
		sched:    opts.Scheduler,
		renderer: opts.Renderer,
		surface:  opts.Surface,
		selector: opts.Selector,
	}
	if c.base <= 0 {
		c.base = DefaultBaseInterval
	}
	if !validSpeed(c.speed) {
		c.speed = 1
	}
	if c.sched == nil {
		c.sched = schedule.Real{}
	}
	if c.selector == nil {
		c.selector = interpret.New()
	}
	c.sm = c.newStateMachine()
	return c
}

func (c *Controller) newStateMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(Idle)
	hasMessages := func(_ context.Context, _ ...any) bool {
		return c.tl != nil && c.position < c.tl.Len()
	}

	sm.Configure(Idle).
		Permit(triggerLoad, Loaded)

	sm.Configure(Loaded).
		OnEntry(func(_ context.Context, _ ...any) error {
			c.position = 0
			return nil
		}).
		PermitReentry(triggerLoad).
		PermitReentry(triggerReset).
		Permit(triggerPlay, Playing, hasMessages).
		Permit(triggerFinish, Complete)

	sm.Configure(Playing).
		OnEntry(func(_ context.Context, _ ...any) error {
			c.scheduleTick()
			return nil
		}).
		OnExit(func(_ context.Context, _ ...any) error {
			c.cancelTick()
			return nil
		}).
		Permit(triggerPause, Paused).
		Permit(triggerFinish, Complete).
		Permit(triggerLoad, Loaded).
		Permit(triggerReset, Loaded)

	sm.Configure(Paused).
		Permit(triggerPlay, Playing, hasMessages).
		Permit(triggerFinish, Complete).
		Permit(triggerLoad, Loaded).
		Permit(triggerReset, Loaded)

	sm.Configure(Complete).
		Permit(triggerSeek, Paused).
		Permit(triggerLoad, Loaded).
		Permit(triggerReset, Loaded)

	return sm
}

// Load replaces the timeline and rewinds. A nil timeline loads as empty.
func (c *Controller) Load(tl *timeline.Timeline) {
	if tl == nil {
		tl = timeline.Load(nil)
	}
	c.mu.Lock()
	c.cancelTick()
	c.tl = tl
	c.fire(triggerLoad)
	c.mu.Unlock()
	logger.L.Info("playback loaded", "messages", tl.Len(), "stats", tl.Stats())
}

// Play starts or resumes ticking. It is a no-op without a loaded,
// unfinished timeline.
func (c *Controller) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fire(triggerPlay)
}

// Pause stops ticking, keeping the position.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fire(triggerPause)
}

// Reset rewinds to Loaded. It is a no-op while Idle.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTick()
	c.fire(triggerReset)
}

// Seek moves to the message at fraction f of the timeline. Playing and
// Paused keep their phase; a finished replay becomes Paused at the new
// position so it can be resumed.
func (c *Controller) Seek(f float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase() == Idle || c.tl == nil {
		return
	}
	c.position = c.tl.SeekFraction(f)
	if c.phase() == Complete && c.position < c.tl.Len() {
		c.fire(triggerSeek)
	}
}

// SetSpeed changes the multiplier. While playing, the pending tick is
// dropped and a full interval at the new speed starts.
func (c *Controller) SetSpeed(multiplier float64) error {
	if !validSpeed(multiplier) {
		return ErrInvalidSpeed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = multiplier
	if c.phase() == Playing {
		c.cancelTick()
		c.scheduleTick()
	}
	return nil
}

// AdvanceOneTick shows the message at the current position and moves on.
// Reaching the end completes the replay; further calls do nothing.
func (c *Controller) AdvanceOneTick() {
	c.mu.Lock()
	c.advance()
	pending := c.drain()
	c.mu.Unlock()
	run(pending)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Phase: c.phase(), Position: c.position, Speed: c.speed, Interval: c.interval()}
	if c.tl != nil {
		s.Count = c.tl.Len()
	}
	return s
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase()
}

func (c *Controller) advance() {
	if c.tl == nil {
		return
	}
	switch c.phase() {
	case Idle, Complete:
		return
	}
	if c.position < c.tl.Len() {
		msg, err := c.tl.At(c.position)
		if err != nil {
			logger.L.Error("playback position invalid", "position", c.position, "error", err)
			return
		}
		turn := ui.Turn{
			Agent:          msg.Agent(),
			ID:             msg.ID,
			Payload:        msg.Encoded,
			Interpretation: c.selector.Select(msg.Agent(), msg.Encoded),
			Active:         true,
			Position:       c.position,
			Count:          c.tl.Len(),
		}
		surface, renderer := c.surface, c.renderer
		c.outbox = append(c.outbox, func() {
			if surface != nil {
				surface.Show(turn)
			}
			tone.Play(renderer, msg)
		})
		c.position++
	}
	if c.position >= c.tl.Len() {
		c.fire(triggerFinish)
		logger.L.Info("playback complete", "messages", c.tl.Len())
	}
}

func (c *Controller) onTick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.phase() != Playing {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.advance()
	pending := c.drain()
	c.mu.Unlock()

	run(pending)

	// The next tick is armed only after this one's notifications went out.
	c.mu.Lock()
	if gen == c.gen && c.phase() == Playing && c.timer == nil {
		c.scheduleTick()
	}
	c.mu.Unlock()
}

func (c *Controller) scheduleTick() {
	c.gen++
	gen := c.gen
	c.timer = c.sched.AfterFunc(c.interval(), func() { c.onTick(gen) })
}

func (c *Controller) cancelTick() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) interval() time.Duration {
	d := time.Duration(float64(c.base) / c.speed)
	if d < minInterval {
		return minInterval
	}
	return d
}

func (c *Controller) phase() Phase {
	return c.sm.MustState().(Phase)
}

func (c *Controller) fire(t trigger) {
	ok, err := c.sm.CanFire(t)
	if err != nil || !ok {
		logger.L.Debug("playback trigger ignored", "trigger", t, "phase", c.phase())
		return
	}
	if err := c.sm.Fire(t); err != nil {
		logger.L.Warn("playback transition failed", "trigger", t, "error", err)
	}
}

func (c *Controller) drain() []func() {
	out := c.outbox
	c.outbox = nil
	return out
}

func run(fns []func()) {
	for _, f := range fns {
		f()
	}
}

func validSpeed(m float64) bool {
	return m > 0 && !math.IsInf(m, 0) && !math.IsNaN(m)
}
