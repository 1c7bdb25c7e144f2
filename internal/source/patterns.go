// Package source provides payloads for live turns: a rotating bank of
// canned MIDI-styled blobs, and a chat-completion backed source that
// falls back to the bank.
package source

import (
	"context"
	"encoding/base64"
	"sync"
)

var (
	smfHeader = []byte("MThd\x00\x00\x00\x06\x00\x01\x00\x01\x01\xe0")

	triadEvents  = []byte("\x00\x90\x3c\x64\x81\x70\x80\x3c\x00\x00\x90\x40\x64\x81\x70\x80\x40\x00\x00\x90\x43\x64\x81\x70\x80\x43\x00\x00\xff\x2f\x00")
	scaleEvents  = []byte("\x00\x90\x3c\x50\x30\x80\x3c\x00\x00\x90\x3e\x50\x30\x80\x3e\x00\x00\x90\x40\x50\x30\x80\x40\x00\x00\x90\x41\x50\x30\x80\x41\x00\x00\xff\x2f\x00")
	droneEvents  = []byte("\x00\x90\x30\x40\x83\x60\x80\x30\x00\x00\xff\x2f\x00")
	rhythmEvents = []byte("\x00\x90\x38\x60\x20\x80\x38\x00\x10\x90\x38\x60\x20\x80\x38\x00\x20\x90\x38\x60\x20\x80\x38\x00\x00\xff\x2f\x00")
)

// Pattern is a named canned payload.
type Pattern struct {
	Name    string
	Payload string // base64
}

// DefaultPatterns returns triad, scale, drone and rhythm, in that order.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "triad", Payload: encodeTrack(triadEvents)},
		{Name: "scale", Payload: encodeTrack(scaleEvents)},
		{Name: "drone", Payload: encodeTrack(droneEvents)},
		{Name: "rhythm", Payload: encodeTrack(rhythmEvents)},
	}
}

func encodeTrack(events []byte) string {
	n := len(events)
	blob := make([]byte, 0, len(smfHeader)+8+n)
	blob = append(blob, smfHeader...)
	blob = append(blob, 'M', 'T', 'r', 'k', byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	blob = append(blob, events...)
	return base64.StdEncoding.EncodeToString(blob)
}

// PatternBank hands out its patterns in rotation, regardless of agent.
type PatternBank struct {
	mu       sync.Mutex
	patterns []Pattern
	next     int
}

// NewPatternBank uses DefaultPatterns when none are given.
func NewPatternBank(patterns ...Pattern) *PatternBank {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &PatternBank{patterns: patterns}
}

func (b *PatternBank) Payload(_ context.Context, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.patterns[b.next%len(b.patterns)]
	b.next++
	return p.Payload, nil
}
