package tone

import (
	"time"

	"github.com/comigor/midi64-go/internal/protocol"
)

// Voice shapes how an agent's payload sounds. The phrase is derived from
// payload bytes by position only; the bytes are never read as MIDI events.
type Voice struct {
	Name        string
	LowNote     uint8
	HighNote    uint8
	MinVelocity float64
	MaxVelocity float64
	Waveform    Waveform
	NoteLength  time.Duration
	Notes       int
}

var voices = map[string]Voice{
	"kai": {
		Name: "warm clarinet", LowNote: 48, HighNote: 72,
		MinVelocity: 0.59, MaxVelocity: 0.83,
		Waveform: Triangle, NoteLength: 420 * time.Millisecond, Notes: 3,
	},
	"claude": {
		Name: "marimba", LowNote: 60, HighNote: 84,
		MinVelocity: 0.47, MaxVelocity: 0.79,
		Waveform: Sine, NoteLength: 240 * time.Millisecond, Notes: 4,
	},
	"aria": {
		Name: "flute", LowNote: 72, HighNote: 96,
		MinVelocity: 0.63, MaxVelocity: 1,
		Waveform: Sine, NoteLength: 300 * time.Millisecond, Notes: 4,
	},
}

var defaultVoice = Voice{
	Name: "square lead", LowNote: 55, HighNote: 79,
	MinVelocity: 0.5, MaxVelocity: 0.8,
	Waveform: Square, NoteLength: 300 * time.Millisecond, Notes: 3,
}

// VoiceFor returns the profile for agent, case-insensitively.
func VoiceFor(agent string) Voice {
	if v, ok := voices[protocol.AgentKey(agent)]; ok {
		return v
	}
	return defaultVoice
}

// Phrase picks Notes tones from evenly spaced payload bytes.
func (v Voice) Phrase(payload []byte) []Tone {
	if len(payload) == 0 || v.Notes <= 0 {
		return nil
	}
	span := int(v.HighNote) - int(v.LowNote) + 1
	stride := len(payload) / v.Notes
	if stride == 0 {
		stride = 1
	}
	var out []Tone
	for i := 0; i < v.Notes && i*stride < len(payload); i++ {
		b := payload[len(payload)-1-i*stride]
		note := v.LowNote + uint8(int(b)%span)
		vel := v.MinVelocity + (v.MaxVelocity-v.MinVelocity)*float64(b)/255
		out = append(out, Tone{
			Frequency: Frequency(note),
			Duration:  v.NoteLength,
			Velocity:  vel,
			Waveform:  v.Waveform,
		})
	}
	return out
}

// Play renders msg's phrase through r.
func Play(r Renderer, msg protocol.Message) {
	if r == nil {
		return
	}
	for _, t := range VoiceFor(msg.Agent()).Phrase(msg.Payload) {
		r.Render(t)
	}
}
