// Package interpret picks a canned caption for a payload. The choice is a
// checksum over the payload text, not an analysis of its content.
package interpret

import (
	"fmt"

	"github.com/comigor/midi64-go/internal/protocol"
)

var captions = map[string][]string{
	"kai": {
		"Sustained question - a low tone left open for an answer",
		"Warm legato phrase reaching toward resolution",
		"Breath between notes - silence treated as part of the line",
		"Rising motif, tentative and curious",
		"Clarinet-like murmur circling the tonic",
		"A held drone that invites harmony",
	},
	"claude": {
		"Measured reply - the triad restated and clarified",
		"Analytical counterpoint stepping through the scale",
		"Bright marimba answer echoing the last interval",
		"Rhythmic pulse marking agreement",
		"Gentle inversion of the previous phrase",
		"Resolution offered, cadence left unfinished",
	},
	"aria": {
		"Lyrical flute line floating above the conversation",
		"Rubato flourish bridging both voices",
		"High ornament answering from a distance",
	},
}

var defaultCaptions = []string{
	"Musical expression beyond standard notation",
	"Brief gesture - a single idea offered to the dialogue",
	"Extended passage weaving several ideas together",
	"Foundational harmony expressing stability and openness",
}

// Selector maps (agent, payload) to a caption deterministically.
type Selector struct {
	byAgent  map[string][]string
	fallback []string
}

// New returns a selector with the built-in caption sets.
func New() *Selector {
	return &Selector{byAgent: captions, fallback: defaultCaptions}
}

// Select returns the caption for payload, the base64 text of a message.
// Unknown agents use the default list.
func (s *Selector) Select(agent, payload string) string {
	list := s.Captions(agent)
	return list[Checksum(payload)%uint32(len(list))]
}

// Describe is Select plus the decoded payload size, for logs and surfaces.
func (s *Selector) Describe(msg protocol.Message) string {
	return fmt.Sprintf("%s (%d bytes)", s.Select(msg.Agent(), msg.Encoded), len(msg.Payload))
}

// Captions returns the candidate list used for agent.
func (s *Selector) Captions(agent string) []string {
	if list, ok := s.byAgent[protocol.AgentKey(agent)]; ok && len(list) > 0 {
		return list
	}
	return s.fallback
}

// Checksum sums the bytes of payload.
func Checksum(payload string) uint32 {
	var sum uint32
	for i := 0; i < len(payload); i++ {
		sum += uint32(payload[i])
	}
	return sum
}
