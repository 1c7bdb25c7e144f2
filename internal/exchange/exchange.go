// Package exchange runs a live two-agent session: agents take strictly
// alternating turns, each turn gets the next hex sequence for its agent,
// a payload from the configured source and a caption.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/midi64-go/internal/interpret"
	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/protocol"
	"github.com/comigor/midi64-go/internal/schedule"
	"github.com/comigor/midi64-go/internal/tone"
	"github.com/comigor/midi64-go/internal/ui"
)

// State of the sequencer.
type State string

const (
	Idle   State = "Idle"
	Active State = "Active"
	Halted State = "Halted" // counter overflow; only Reset leaves it
)

type trigger string

const (
	triggerStart trigger = "Start"
	triggerHalt  trigger = "Halt"
	triggerReset trigger = "Reset"
)

var (
	ErrNotActive     = errors.New("exchange is not active")
	ErrAlreadyActive = errors.New("exchange already started")
	ErrHalted        = errors.New("exchange halted")
	ErrBadConfig     = errors.New("invalid exchange configuration")
	// ErrStopped reports a turn dropped because Stop or Reset arrived while
	// its payload was being fetched.
	ErrStopped = errors.New("turn discarded: exchange stopped or reset")
)

// PayloadSource supplies the base64 payload for an agent's turn.
type PayloadSource interface {
	Payload(ctx context.Context, agent string) (string, error)
}

// Recorder persists generated messages.
type Recorder interface {
	Record(ctx context.Context, run string, msg protocol.Message) error
}

// CounterStore keeps per-agent sequence counters across processes.
type CounterStore interface {
	LoadCounters(ctx context.Context, prefix byte) (map[string]uint32, error)
	SaveCounter(ctx context.Context, prefix byte, agent string, value uint32) error
	ResetCounters(ctx context.Context, prefix byte) error
}

// Config names the participants. Agents[0] opens the exchange.
type Config struct {
	Prefix   byte
	Agents   [2]string
	MaxTurns int // auto-run stops after this many turns; 0 means no limit
}

func (c Config) validate() error {
	if !protocol.IsPrefix(c.Prefix) {
		return fmt.Errorf("%w: session prefix %q", ErrBadConfig, c.Prefix)
	}
	for _, a := range c.Agents {
		if !protocol.ValidAgent(a) {
			return fmt.Errorf("%w: agent %q", ErrBadConfig, a)
		}
	}
	if protocol.AgentKey(c.Agents[0]) == protocol.AgentKey(c.Agents[1]) {
		return fmt.Errorf("%w: agents must differ", ErrBadConfig)
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("%w: max turns %d", ErrBadConfig, c.MaxTurns)
	}
	return nil
}

// Option customises a Sequencer.
type Option func(*Sequencer)

func WithSurface(s ui.Surface) Option { return func(q *Sequencer) { q.surface = s } }

func WithRenderer(r tone.Renderer) Option { return func(q *Sequencer) { q.renderer = r } }

func WithScheduler(s schedule.Scheduler) Option { return func(q *Sequencer) { q.sched = s } }

// WithClock sets the source of message timestamps.
func WithClock(now func() time.Time) Option { return func(q *Sequencer) { q.now = now } }

func WithCounterStore(s CounterStore) Option { return func(q *Sequencer) { q.store = s } }

// WithRecorder adds a recorder; every recorder sees every turn.
func WithRecorder(r Recorder) Option {
	return func(q *Sequencer) { q.recorders = append(q.recorders, r) }
}

// Sequencer owns the per-agent counters and the turn pointer.
//
// mu guards state and is never held across a payload call, so Stop and
// Reset return promptly. turnMu serialises turn generation.
type Sequencer struct {
	mu     sync.Mutex
	turnMu sync.Mutex
	sm     *stateless.StateMachine
	cfg    Config

	source    PayloadSource
	selector  *interpret.Selector
	surface   ui.Surface
	renderer  tone.Renderer
	recorders []Recorder
	store     CounterStore
	sched     schedule.Scheduler
	now       func() time.Time

	runID    string
	counters map[string]uint32
	next     int // index into cfg.Agents of the next speaker
	turns    int
	fatal    error
	epoch    uint64 // bumped by Reset; a turn from an older epoch is dropped

	timer     schedule.Timer
	gen       uint64
	running   bool
	runCtx    context.Context
	cancelRun context.CancelFunc
	interval  time.Duration
	done      chan struct{}
}

// New builds an Idle sequencer. Persisted counters for the prefix are
// loaded so numbering continues where a previous run stopped.
func New(cfg Config, source PayloadSource, opts ...Option) (*Sequencer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: payload source is required", ErrBadConfig)
	}
	q := &Sequencer{
		cfg:      cfg,
		source:   source,
		selector: interpret.New(),
		sched:    schedule.Real{},
		now:      time.Now,
		runID:    uuid.NewString(),
		counters: make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.store != nil {
		loaded, err := q.store.LoadCounters(context.Background(), cfg.Prefix)
		if err != nil {
			logger.L.Warn("could not load persisted counters; starting from zero", "prefix", string(cfg.Prefix), "error", err)
		}
		for agent, v := range loaded {
			q.counters[protocol.AgentKey(agent)] = v
		}
	}
	q.sm = q.newStateMachine()
	return q, nil
}

func (q *Sequencer) newStateMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(Idle)

	sm.Configure(Idle).
		Permit(triggerStart, Active)

	sm.Configure(Active).
		Permit(triggerHalt, Halted).
		Permit(triggerReset, Idle)

	sm.Configure(Halted).
		OnEntry(func(_ context.Context, _ ...any) error {
			q.stopRun()
			return nil
		}).
		Permit(triggerReset, Idle)

	return sm
}

// RunID identifies this sequencer's run in logs and archives.
func (q *Sequencer) RunID() string { return q.runID }

// Start opens the exchange with the first agent's turn.
func (q *Sequencer) Start(ctx context.Context) (protocol.Message, error) {
	return q.turn(ctx, true, nil)
}

// Step generates one turn for the agent that did not speak last.
func (q *Sequencer) Step(ctx context.Context) (protocol.Message, error) {
	return q.turn(ctx, false, nil)
}

// turn runs one turn in three steps: reserve the identifier under mu,
// fetch the payload unlocked, then commit under mu if neither Reset nor,
// for auto-run turns (gen != nil), Stop happened in between.
func (q *Sequencer) turn(ctx context.Context, start bool, gen *uint64) (protocol.Message, error) {
	q.turnMu.Lock()
	defer q.turnMu.Unlock()

	q.mu.Lock()
	if gen != nil && !q.runValid(*gen) {
		q.mu.Unlock()
		return protocol.Message{}, ErrStopped
	}
	if err := q.admit(start); err != nil {
		q.mu.Unlock()
		return protocol.Message{}, err
	}
	agent := q.cfg.Agents[q.next]
	key := protocol.AgentKey(agent)
	seq := q.counters[key] + 1
	id, err := protocol.NewID(agent, q.cfg.Prefix, seq)
	if err != nil {
		if errors.Is(err, protocol.ErrSequenceOverflow) {
			q.fatal = err
			if ferr := q.sm.Fire(triggerHalt); ferr != nil {
				logger.L.Error("exchange halt transition failed", "error", ferr)
			}
			logger.L.Error("exchange halted: start a new session prefix", "run", q.runID, "agent", agent, "error", err)
		}
		q.mu.Unlock()
		return protocol.Message{}, err
	}
	epoch := q.epoch
	q.mu.Unlock()

	encoded, perr := q.source.Payload(ctx, agent)

	q.mu.Lock()
	if epoch != q.epoch || (gen != nil && !q.runValid(*gen)) || q.state() != Active {
		q.mu.Unlock()
		logger.L.Info("turn discarded", "run", q.runID, "id", id.String())
		return protocol.Message{}, ErrStopped
	}
	if perr != nil {
		q.mu.Unlock()
		return protocol.Message{}, fmt.Errorf("payload for %s: %w", id, perr)
	}
	msg, err := protocol.NewMessage(id, encoded, q.now())
	if err != nil {
		q.mu.Unlock()
		logger.L.Warn("payload source returned a malformed payload", "id", id.String(), "error", err)
		return protocol.Message{}, err
	}

	q.counters[key] = seq
	q.turns++
	q.next = 1 - q.next
	// Saved under mu so a concurrent Reset cannot be overtaken by a stale counter.
	if q.store != nil {
		if err := q.store.SaveCounter(ctx, q.cfg.Prefix, key, seq); err != nil {
			logger.L.Warn("could not persist counter", "id", id.String(), "error", err)
		}
	}
	turn := ui.Turn{
		Agent:          agent,
		ID:             id,
		Payload:        msg.Encoded,
		Interpretation: q.selector.Select(agent, msg.Encoded),
		Active:         true,
		Position:       q.turns - 1,
		Count:          q.cfg.MaxTurns,
	}
	recorders, surface, renderer := q.recorders, q.surface, q.renderer
	q.mu.Unlock()

	logger.L.Info("turn generated", "run", q.runID, "id", id.String(), "interpretation", turn.Interpretation, "payload_bytes", len(msg.Payload))
	for _, r := range recorders {
		if err := r.Record(ctx, q.runID, msg); err != nil {
			logger.L.Error("could not record message", "id", id.String(), "error", err)
		}
	}
	if surface != nil {
		surface.Show(turn)
	}
	tone.Play(renderer, msg)
	return msg, nil
}

// admit checks the state for a new turn, opening the exchange when start is set.
func (q *Sequencer) admit(start bool) error {
	switch q.state() {
	case Halted:
		return q.haltedErr()
	case Active:
		if start {
			return ErrAlreadyActive
		}
		return nil
	}
	if !start {
		return ErrNotActive
	}
	if err := q.sm.Fire(triggerStart); err != nil {
		return err
	}
	logger.L.Info("exchange started", "run", q.runID, "prefix", string(q.cfg.Prefix), "first", q.cfg.Agents[0], "second", q.cfg.Agents[1])
	return nil
}

// AutoRun steps every interval until Stop, Reset, ctx cancellation,
// MaxTurns or a fatal error. An Idle sequencer is started first, on the
// caller's goroutine.
func (q *Sequencer) AutoRun(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval %s", ErrBadConfig, interval)
	}
	q.mu.Lock()
	if q.state() == Halted {
		err := q.haltedErr()
		q.mu.Unlock()
		return err
	}
	q.stopRun()
	runCtx, cancel := context.WithCancel(ctx)
	q.runCtx, q.cancelRun = runCtx, cancel
	q.interval = interval
	q.done = make(chan struct{})
	q.running = true
	done, gen := q.done, q.gen
	idle := q.state() == Idle
	q.mu.Unlock()

	go func() {
		<-runCtx.Done()
		q.mu.Lock()
		if q.done == done {
			q.stopRun()
		}
		q.mu.Unlock()
	}()

	var err error
	if idle {
		_, err = q.turn(runCtx, true, &gen)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.runValid(gen) {
		return err
	}
	if err == nil && q.state() == Active && !q.reachedLimit() {
		q.arm()
	} else {
		q.stopRun()
	}
	return err
}

// Stop ends an auto-run, leaving the exchange Active. A turn still
// waiting for its payload is dropped.
func (q *Sequencer) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopRun()
}

// Reset cancels any auto-run, returns to Idle and zeroes every counter,
// including the persisted ones for this prefix. A turn still waiting for
// its payload is dropped.
func (q *Sequencer) Reset(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopRun()
	if ok, _ := q.sm.CanFire(triggerReset); ok {
		if err := q.sm.Fire(triggerReset); err != nil {
			return err
		}
	}
	issued := false
	for _, v := range q.counters {
		issued = issued || v > 0
	}
	q.counters = make(map[string]uint32)
	q.next = 0
	q.turns = 0
	q.fatal = nil
	q.epoch++
	logger.L.Info("exchange reset", "run", q.runID, "prefix", string(q.cfg.Prefix))
	if issued {
		logger.L.Warn("counters reset on a used session prefix; new turns will reuse archived identifiers, consider a new prefix",
			"prefix", string(q.cfg.Prefix))
	}
	if q.store != nil {
		if err := q.store.ResetCounters(ctx, q.cfg.Prefix); err != nil {
			return fmt.Errorf("reset persisted counters: %w", err)
		}
	}
	return nil
}

// Done is closed when the current auto-run ends. Without a run it is already closed.
func (q *Sequencer) Done() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return q.done
}

// State returns the current state.
func (q *Sequencer) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state()
}

// Err returns the error that halted the exchange, if any.
func (q *Sequencer) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fatal
}

// Turns is the number of turns generated since the last reset.
func (q *Sequencer) Turns() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.turns
}

// Counter returns the last sequence issued to agent.
func (q *Sequencer) Counter(agent string) uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counters[protocol.AgentKey(agent)]
}

func (q *Sequencer) onTick(gen uint64) {
	q.mu.Lock()
	if !q.runValid(gen) {
		q.mu.Unlock()
		return
	}
	q.timer = nil
	ctx := q.runCtx
	q.mu.Unlock()

	_, err := q.turn(ctx, false, &gen)

	// The next tick is armed only after this turn was dispatched.
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.runValid(gen) {
		return
	}
	if err != nil {
		logger.L.Error("auto-run step failed", "run", q.runID, "error", err)
		if q.state() != Active {
			q.stopRun()
			return
		}
	}
	if q.reachedLimit() {
		logger.L.Info("auto-run reached max turns", "run", q.runID, "turns", q.turns)
		q.stopRun()
		return
	}
	if q.timer == nil {
		q.arm()
	}
}

func (q *Sequencer) runValid(gen uint64) bool {
	return q.running && gen == q.gen
}

func (q *Sequencer) arm() {
	q.gen++
	gen := q.gen
	q.timer = q.sched.AfterFunc(q.interval, func() { q.onTick(gen) })
}

// stopRun cancels the pending tick and the run context, and closes the
// current run.
func (q *Sequencer) stopRun() {
	q.gen++
	q.running = false
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.cancelRun != nil {
		q.cancelRun()
		q.cancelRun = nil
	}
	if q.done != nil {
		select {
		case <-q.done:
		default:
			close(q.done)
		}
	}
}

func (q *Sequencer) reachedLimit() bool {
	return q.cfg.MaxTurns > 0 && q.turns >= q.cfg.MaxTurns
}

func (q *Sequencer) haltedErr() error {
	if q.fatal != nil {
		return fmt.Errorf("%w: %w", ErrHalted, q.fatal)
	}
	return ErrHalted
}

func (q *Sequencer) state() State {
	return q.sm.MustState().(State)
}
