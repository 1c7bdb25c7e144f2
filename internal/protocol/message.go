package protocol

import (
	"encoding/base64"
	"strings"
	"time"
)

// Message is one exchanged unit: an identifier plus an opaque payload.
type Message struct {
	ID        ID
	Payload   []byte // decoded bytes, never interpreted as MIDI events
	Encoded   string // base64 text as carried on the wire
	Timestamp time.Time
	Source    string // file name, "history", or empty for live turns
}

// NewMessage validates encoded and wraps it with id.
func NewMessage(id ID, encoded string, ts time.Time) (Message, error) {
	encoded = strings.Join(strings.Fields(encoded), "")
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Message{}, formatErr(id.String(), "payload is not valid base64")
	}
	if len(payload) == 0 {
		return Message{}, formatErr(id.String(), "payload is empty")
	}
	return Message{ID: id, Payload: payload, Encoded: encoded, Timestamp: ts}, nil
}

// Agent returns the display name of the sender.
func (m Message) Agent() string { return m.ID.Agent }

// Label is the short form used for timeline markers.
func (m Message) Label() string { return m.ID.String() }

// Block renders the two-line wire form.
func (m Message) Block() string {
	return m.ID.String() + "\n" + m.Encoded
}
