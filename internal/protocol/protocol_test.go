package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const triad = "TVRoZAAAAAYAAQABAeBNVHJrAAAAGwCQPGSBcIA8AAD/LwA="

func TestParseID_RoundTrip(t *testing.T) {
	cases := []struct {
		agent  string
		prefix byte
		seq    uint32
	}{
		{"Kai", 'A', 1},
		{"Claude", 'B', 0x2A},
		{"aria", 'Z', MaxSequence},
		{"X", 'M', 0x10000},
	}
	for _, c := range cases {
		id, err := NewID(c.agent, c.prefix, c.seq)
		require.NoError(t, err)

		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}
}

func TestParseID_Format(t *testing.T) {
	id, err := ParseID("Claude_A0002F")
	require.NoError(t, err)
	require.Equal(t, "Claude", id.Agent)
	require.Equal(t, byte('A'), id.Prefix)
	require.Equal(t, uint32(0x2F), id.Sequence)
	require.Equal(t, "claude", id.Key())
	require.Equal(t, "Claude_A0002F", id.String())
}

func TestParseID_Rejects(t *testing.T) {
	for _, in := range []string{
		"KaiA00001",    // missing underscore
		"Kai_A0001",    // four hex digits
		"Kai_A000001",  // six hex digits
		"Kai_A0000f",   // lowercase hex
		"Ka1_A00001",   // digit in agent
		"Kai_a00001",   // lowercase prefix
		"Kai_A00001 x", // trailing characters
		" Kai_A00001",  // leading space
		"Kai_A00000",   // zero sequence
		"",
	} {
		_, err := ParseID(in)
		require.Error(t, err, in)
		require.True(t, errors.Is(err, ErrFormat), in)

		var fe *FormatError
		require.True(t, errors.As(err, &fe), in)
	}
}

func TestNewID_Overflow(t *testing.T) {
	_, err := NewID("Kai", 'A', MaxSequence+1)
	require.ErrorIs(t, err, ErrSequenceOverflow)

	_, err = NewID("Kai9", 'A', 1)
	require.ErrorIs(t, err, ErrFormat)

	_, err = NewID("Kai", 'a', 1)
	require.ErrorIs(t, err, ErrFormat)
}

func TestParser_DecodeWithFilenameTimestamp(t *testing.T) {
	p := NewParser()
	msg, err := p.Decode("kai_20250725_212756.txt", "\n  Kai_A00001  \n\n"+triad+"\n")
	require.NoError(t, err)
	require.Equal(t, "Kai", msg.Agent())
	require.Equal(t, triad, msg.Encoded)
	require.Len(t, msg.Payload, 35)
	require.Equal(t, "kai_20250725_212756.txt", msg.Source)

	want := time.Date(2025, 7, 25, 21, 27, 56, 0, time.Local)
	require.True(t, want.Equal(msg.Timestamp))
}

func TestParser_ReadsMillisecondSuffix(t *testing.T) {
	p := NewParser()
	base := time.Date(2025, 7, 25, 21, 27, 56, 0, time.Local)
	cases := map[string]time.Time{
		"kai_20250725_212756_250_A00001.txt": base.Add(250 * time.Millisecond),
		"kai_20250725_212756_007.txt":        base.Add(7 * time.Millisecond),
		"kai_20250725_212756_A00001.txt":     base,
		"kai_20250725_212756_1234.txt":       base,
	}
	for name, want := range cases {
		msg, err := p.Decode(name, "Kai_A00001\n"+triad)
		require.NoError(t, err, name)
		require.True(t, want.Equal(msg.Timestamp), "%s: got %s", name, msg.Timestamp)
	}
}

func TestParser_FallsBackToClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &Parser{Now: func() time.Time { return fixed }}

	msg, ok := p.Parse("reply.txt", "Claude_B00003\n"+triad)
	require.True(t, ok)
	require.Equal(t, fixed, msg.Timestamp)
}

func TestParser_RejectsMalformedRecords(t *testing.T) {
	p := NewParser()
	for name, content := range map[string]string{
		"one-line":   "Kai_A00001",
		"bad-id":     "Kai_A1\n" + triad,
		"bad-base64": "Kai_A00001\nnot*base64!",
		"no-padding": "Kai_A00001\nTVRoZA",
		"empty":      "\n\n",
	} {
		_, err := p.Decode(name, content)
		require.ErrorIs(t, err, ErrFormat, name)

		_, ok := p.Parse(name, content)
		require.False(t, ok, name)
	}
}

func TestFindBlock_InLongerText(t *testing.T) {
	reply := "Here is my answer to your phrase:\n\nClaude_A00007\n" + triad + "\n\nHope it resonates."
	msg, err := FindBlock(reply)
	require.NoError(t, err)
	require.Equal(t, "Claude_A00007", msg.ID.String())
	require.Equal(t, "Claude_A00007\n"+triad, msg.Block())

	_, err = FindBlock("nothing musical here")
	require.ErrorIs(t, err, ErrFormat)
}
