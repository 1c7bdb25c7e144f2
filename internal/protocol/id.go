// Package protocol implements the MIDI64 wire format: the
// Agent_PrefixHHHHH message identifier and the two-line message block.
package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxSequence is the largest ordinal that fits in five hex digits.
const MaxSequence uint32 = 0xFFFFF

var idPattern = regexp.MustCompile(`^([A-Za-z]+)_([A-Z])([0-9A-F]{5})$`)

// ID is a parsed message identifier such as Kai_A00001.
type ID struct {
	Agent    string // display case as written on the wire
	Prefix   byte   // session prefix, 'A'..'Z'
	Sequence uint32 // 1..MaxSequence
}

// NewID validates the parts and builds an identifier.
func NewID(agent string, prefix byte, sequence uint32) (ID, error) {
	if !isAgentName(agent) {
		return ID{}, formatErr(agent, "agent name must be letters only")
	}
	if !IsPrefix(prefix) {
		return ID{}, formatErr(string(prefix), "session prefix must be one uppercase letter")
	}
	if sequence == 0 {
		return ID{}, formatErr(agent, "sequence starts at 1")
	}
	if sequence > MaxSequence {
		return ID{}, fmt.Errorf("%s_%c: %w", agent, prefix, ErrSequenceOverflow)
	}
	return ID{Agent: agent, Prefix: prefix, Sequence: sequence}, nil
}

// ParseID decodes text against the identifier grammar.
func ParseID(text string) (ID, error) {
	m := idPattern.FindStringSubmatch(text)
	if m == nil {
		return ID{}, formatErr(text, "identifier does not match Agent_PrefixHHHHH")
	}
	seq, err := strconv.ParseUint(m[3], 16, 32)
	if err != nil {
		return ID{}, formatErr(text, "bad hex sequence")
	}
	if seq == 0 {
		return ID{}, formatErr(text, "sequence starts at 1")
	}
	return ID{Agent: m[1], Prefix: m[2][0], Sequence: uint32(seq)}, nil
}

// String is the exact inverse of ParseID.
func (id ID) String() string {
	return fmt.Sprintf("%s_%c%05X", id.Agent, id.Prefix, id.Sequence)
}

// Key is the canonical lowercase agent used for routing and counters.
func (id ID) Key() string {
	return AgentKey(id.Agent)
}

// AgentKey canonicalises an agent name.
func AgentKey(agent string) string {
	return strings.ToLower(agent)
}

// IsPrefix reports whether b is a valid session prefix.
func IsPrefix(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// ValidAgent reports whether name can appear in an identifier.
func ValidAgent(name string) bool {
	return isAgentName(name)
}

func isAgentName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
