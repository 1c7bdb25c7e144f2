package tone

import (
	"fmt"
	"math"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/schedule"
)

// MIDIRenderer turns tones into note on/off pairs on one channel.
// Waveform has no MIDI equivalent and is dropped.
type MIDIRenderer struct {
	send    func(gomidi.Message) error
	channel uint8
	sched   schedule.Scheduler
}

// NewMIDIRenderer sends through send, releasing each note after its duration.
func NewMIDIRenderer(send func(gomidi.Message) error, channel uint8, sched schedule.Scheduler) *MIDIRenderer {
	if sched == nil {
		sched = schedule.Real{}
	}
	return &MIDIRenderer{send: send, channel: channel & 0x0F, sched: sched}
}

// OpenMIDIPort finds an output port by name and returns a sender for it.
func OpenMIDIPort(name string) (func(gomidi.Message) error, error) {
	for _, port := range gomidi.GetOutPorts() {
		if port.String() == name {
			sender, err := gomidi.SendTo(port)
			if err != nil {
				return nil, fmt.Errorf("open midi port %q: %w", name, err)
			}
			return sender, nil
		}
	}
	return nil, fmt.Errorf("midi output port %q not found", name)
}

func (r *MIDIRenderer) Render(t Tone) {
	note := Note(t.Frequency)
	vel := uint8(math.Max(1, math.Min(127, math.Round(t.Velocity*127))))
	if err := r.send(gomidi.NoteOn(r.channel, note, vel)); err != nil {
		logger.L.Warn("midi note on failed", "note", note, "error", err)
		return
	}
	r.sched.AfterFunc(t.Duration, func() {
		if err := r.send(gomidi.NoteOff(r.channel, note)); err != nil {
			logger.L.Warn("midi note off failed", "note", note, "error", err)
		}
	})
}
