package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/midi64-go/internal/protocol"
	"github.com/comigor/midi64-go/internal/schedule"
	"github.com/comigor/midi64-go/internal/timeline"
	"github.com/comigor/midi64-go/internal/tone"
	"github.com/comigor/midi64-go/internal/ui"
)

const triad = "TVRoZAAAAAYAAQABAeBNVHJrAAAAGwCQPGSBcIA8AAD/LwA="

type recorder struct {
	turns []ui.Turn
	tones int
}

func (r *recorder) Show(t ui.Turn)   { r.turns = append(r.turns, t) }
func (r *recorder) Render(tone.Tone) { r.tones++ }
func (r *recorder) shown() []string {
	var out []string
	for _, t := range r.turns {
		out = append(out, t.ID.String())
	}
	return out
}

func buildTimeline(t *testing.T, n int) *timeline.Timeline {
	t.Helper()
	base := time.Date(2025, 7, 25, 21, 0, 0, 0, time.UTC)
	agents := []string{"Kai", "Claude"}
	var msgs []protocol.Message
	for i := 0; i < n; i++ {
		id, err := protocol.NewID(agents[i%2], 'A', uint32(i/2+1))
		require.NoError(t, err)
		m, err := protocol.NewMessage(id, triad, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	return timeline.Load(msgs)
}

func newController(rec *recorder, clock *schedule.Manual) *Controller {
	return New(Options{
		BaseInterval: time.Second,
		Scheduler:    clock,
		Surface:      rec,
		Renderer:     rec,
	})
}

func TestAdvanceOneTick_CompletesAfterCount(t *testing.T) {
	rec := &recorder{}
	c := newController(rec, schedule.NewManual())
	c.Load(buildTimeline(t, 3))
	require.Equal(t, Loaded, c.Phase())

	for i := 0; i < 3; i++ {
		c.AdvanceOneTick()
	}
	require.Equal(t, Complete, c.Phase())
	require.Equal(t, []string{"Kai_A00001", "Claude_A00001", "Kai_A00002"}, rec.shown())
	require.Positive(t, rec.tones)

	c.AdvanceOneTick()
	require.Len(t, rec.turns, 3)
	require.Equal(t, 3, c.Snapshot().Position)

	last := rec.turns[2]
	require.True(t, last.Active)
	require.Equal(t, 2, last.Position)
	require.Equal(t, 3, last.Count)
	require.NotEmpty(t, last.Interpretation)
}

func TestPlay_TicksAtBaseInterval(t *testing.T) {
	rec := &recorder{}
	clock := schedule.NewManual()
	c := newController(rec, clock)
	c.Load(buildTimeline(t, 3))

	c.Play()
	require.Equal(t, Playing, c.Phase())
	require.Empty(t, rec.turns)

	clock.Advance(999 * time.Millisecond)
	require.Empty(t, rec.turns)
	clock.Advance(time.Millisecond)
	require.Len(t, rec.turns, 1)

	clock.Advance(2 * time.Second)
	require.Len(t, rec.turns, 3)
	require.Equal(t, Complete, c.Phase())
	require.Zero(t, clock.Pending(), "no tick is armed after completion")
}

func TestPauseCancelsAndResumeRestartsInterval(t *testing.T) {
	rec := &recorder{}
	clock := schedule.NewManual()
	c := newController(rec, clock)
	c.Load(buildTimeline(t, 4))

	c.Play()
	clock.Advance(time.Second)
	c.Pause()
	require.Equal(t, Paused, c.Phase())
	require.Zero(t, clock.Pending())

	clock.Advance(10 * time.Second)
	require.Len(t, rec.turns, 1)

	c.Play()
	clock.Advance(time.Second)
	require.Len(t, rec.turns, 2)
	require.Equal(t, "Claude_A00001", rec.turns[1].ID.String())
}

func TestSetSpeed_ReschedulesWithoutDoubleAdvance(t *testing.T) {
	rec := &recorder{}
	clock := schedule.NewManual()
	c := newController(rec, clock)
	c.Load(buildTimeline(t, 10))

	c.Play()
	clock.Advance(900 * time.Millisecond)
	require.NoError(t, c.SetSpeed(4))
	require.Equal(t, 1, clock.Pending())
	require.Equal(t, 250*time.Millisecond, c.Snapshot().Interval)

	// The old-speed tick would have fired at 1s; only the new schedule runs.
	clock.Advance(200 * time.Millisecond)
	require.Empty(t, rec.turns)
	clock.Advance(50 * time.Millisecond)
	require.Len(t, rec.turns, 1)
	clock.Advance(250 * time.Millisecond)
	require.Len(t, rec.turns, 2)

	require.ErrorIs(t, c.SetSpeed(0), ErrInvalidSpeed)
	require.ErrorIs(t, c.SetSpeed(-1), ErrInvalidSpeed)
	require.Equal(t, 4.0, c.Snapshot().Speed)
}

func TestSeek_ClampsAndKeepsPhase(t *testing.T) {
	rec := &recorder{}
	clock := schedule.NewManual()
	c := newController(rec, clock)
	c.Load(buildTimeline(t, 5))

	c.Seek(1.5)
	require.Equal(t, 4, c.Snapshot().Position)
	require.Equal(t, Loaded, c.Phase())
	c.Seek(-0.2)
	require.Equal(t, 0, c.Snapshot().Position)

	c.Play()
	c.Seek(0.5)
	require.Equal(t, Playing, c.Phase())
	clock.Advance(time.Second)
	require.Equal(t, "Kai_A00002", rec.turns[0].ID.String())
}

func TestSeekAfterCompleteAllowsResume(t *testing.T) {
	rec := &recorder{}
	c := newController(rec, schedule.NewManual())
	c.Load(buildTimeline(t, 2))
	c.AdvanceOneTick()
	c.AdvanceOneTick()
	require.Equal(t, Complete, c.Phase())

	c.Seek(0)
	require.Equal(t, Paused, c.Phase())
	require.Equal(t, 0, c.Snapshot().Position)
}

func TestResetAndReloadCancelPendingTick(t *testing.T) {
	rec := &recorder{}
	clock := schedule.NewManual()
	c := newController(rec, clock)
	c.Load(buildTimeline(t, 3))
	c.Play()
	clock.Advance(time.Second)

	c.Reset()
	require.Equal(t, Loaded, c.Phase())
	require.Equal(t, 0, c.Snapshot().Position)
	require.Zero(t, clock.Pending())

	c.Play()
	c.Load(buildTimeline(t, 2))
	require.Equal(t, Loaded, c.Phase())
	require.Zero(t, clock.Pending())
	clock.Advance(5 * time.Second)
	require.Len(t, rec.turns, 1)
}

func TestIdleMisuseIsNoOp(t *testing.T) {
	rec := &recorder{}
	clock := schedule.NewManual()
	c := newController(rec, clock)

	c.Play()
	c.Pause()
	c.Seek(0.5)
	c.Reset()
	c.AdvanceOneTick()
	require.Equal(t, Idle, c.Phase())
	require.Zero(t, clock.Pending())
	require.Empty(t, rec.turns)
}

func TestPlayEmptyTimelineNeverSchedules(t *testing.T) {
	clock := schedule.NewManual()
	c := newController(&recorder{}, clock)
	c.Load(nil)

	c.Play()
	require.Equal(t, Loaded, c.Phase())
	require.Zero(t, clock.Pending())
	require.Zero(t, c.Snapshot().Progress())
}

func TestSnapshotProgress(t *testing.T) {
	c := newController(&recorder{}, schedule.NewManual())
	c.Load(buildTimeline(t, 4))
	c.AdvanceOneTick()
	require.InDelta(t, 0.25, c.Snapshot().Progress(), 1e-9)
}
