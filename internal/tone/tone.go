// Package tone describes the notes handed to an audio back end. Renderers
// are fire-and-forget: nothing they do feeds back into session state.
package tone

import (
	"math"
	"time"

	"github.com/comigor/midi64-go/internal/logger"
)

type Waveform string

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Sawtooth Waveform = "sawtooth"
	Triangle Waveform = "triangle"
)

// Tone is one note request.
type Tone struct {
	Frequency float64 // Hz
	Duration  time.Duration
	Velocity  float64 // 0..1
	Waveform  Waveform
}

// Renderer plays tones.
type Renderer interface {
	Render(Tone)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Tone)

func (f RendererFunc) Render(t Tone) { f(t) }

// Multi fans a tone out to several renderers.
type Multi []Renderer

func (m Multi) Render(t Tone) {
	for _, r := range m {
		if r != nil {
			r.Render(t)
		}
	}
}

// LogRenderer writes each tone to the debug log.
type LogRenderer struct{}

func (LogRenderer) Render(t Tone) {
	logger.L.Debug("tone", "hz", math.Round(t.Frequency*100)/100, "duration", t.Duration, "velocity", t.Velocity, "waveform", t.Waveform)
}

// Frequency converts a MIDI note number to Hz (A4 = 69 = 440 Hz).
func Frequency(note uint8) float64 {
	return 440 * math.Pow(2, (float64(note)-69)/12)
}

// Note converts Hz to the nearest MIDI note number.
func Note(freq float64) uint8 {
	if freq <= 0 {
		return 0
	}
	n := math.Round(69 + 12*math.Log2(freq/440))
	return uint8(math.Max(0, math.Min(127, n)))
}
