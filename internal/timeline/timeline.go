// Package timeline orders parsed messages into a replayable session.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/comigor/midi64-go/internal/protocol"
)

// MarkerCount caps the number of labels shown along a timeline.
const MarkerCount = 10

var (
	ErrIndexOutOfRange = errors.New("timeline index out of range")
	ErrEmptyTimeline   = errors.New("timeline is empty")
)

// Timeline is read-only after Load.
type Timeline struct {
	messages []protocol.Message
	duration time.Duration
	markers  []Marker
}

// Marker labels a position on the timeline.
type Marker struct {
	Index int
	Label string
}

// Load copies messages and sorts them by timestamp, keeping arrival order for ties.
func Load(messages []protocol.Message) *Timeline {
	sorted := make([]protocol.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	t := &Timeline{messages: sorted}
	if n := len(sorted); n > 0 {
		t.duration = sorted[n-1].Timestamp.Sub(sorted[0].Timestamp)
		step := int(math.Ceil(float64(n) / MarkerCount))
		for i := 0; i < n && len(t.markers) < MarkerCount; i += step {
			t.markers = append(t.markers, Marker{Index: i, Label: sorted[i].Label()})
		}
	}
	return t
}

func (t *Timeline) Len() int { return len(t.messages) }

func (t *Timeline) Duration() time.Duration { return t.duration }

func (t *Timeline) Markers() []Marker { return t.markers }

// Messages returns a copy of the ordered messages.
func (t *Timeline) Messages() []protocol.Message {
	out := make([]protocol.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// At returns the message at index.
func (t *Timeline) At(index int) (protocol.Message, error) {
	if len(t.messages) == 0 {
		return protocol.Message{}, ErrEmptyTimeline
	}
	if index < 0 || index >= len(t.messages) {
		return protocol.Message{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(t.messages))
	}
	return t.messages[index], nil
}

// SeekFraction maps f in 0..1 to an index, clamped to [0, Len()-1].
func (t *Timeline) SeekFraction(f float64) int {
	n := len(t.messages)
	if n == 0 || math.IsNaN(f) {
		return 0
	}
	idx := int(math.Floor(f * float64(n)))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// Stats renders a summary such as "2 messages • 0:22 duration".
func (t *Timeline) Stats() string {
	noun := "messages"
	if len(t.messages) == 1 {
		noun = "message"
	}
	return fmt.Sprintf("%d %s • %s duration", len(t.messages), noun, FormatDuration(t.duration))
}

// FormatDuration renders m:ss, or h:mm:ss from one hour on.
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
