package tone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/comigor/midi64-go/internal/protocol"
	"github.com/comigor/midi64-go/internal/schedule"
)

func TestFrequencyNoteRoundTrip(t *testing.T) {
	require.InDelta(t, 440.0, Frequency(69), 1e-9)
	require.InDelta(t, 261.63, Frequency(60), 0.01)
	for n := uint8(21); n <= 108; n++ {
		require.Equal(t, n, Note(Frequency(n)))
	}
	require.Equal(t, uint8(0), Note(0))
}

func TestVoicePhrase_StaysInProfile(t *testing.T) {
	payload := []byte("MThd\x00\x00\x00\x06\x00\x01\x00\x01\x01\xe0MTrk")
	for _, agent := range []string{"Kai", "CLAUDE", "aria", "Nova"} {
		v := VoiceFor(agent)
		phrase := v.Phrase(payload)
		require.Len(t, phrase, v.Notes, agent)
		for _, tn := range phrase {
			n := Note(tn.Frequency)
			require.GreaterOrEqual(t, n, v.LowNote, agent)
			require.LessOrEqual(t, n, v.HighNote, agent)
			require.GreaterOrEqual(t, tn.Velocity, v.MinVelocity)
			require.LessOrEqual(t, tn.Velocity, v.MaxVelocity)
			require.Equal(t, v.Waveform, tn.Waveform)
		}
		require.Equal(t, phrase, v.Phrase(payload), "phrase is deterministic")
	}
	require.Nil(t, VoiceFor("Kai").Phrase(nil))
	require.Len(t, VoiceFor("Claude").Phrase([]byte{1, 2}), 2)
}

func TestPlay_RendersEveryTone(t *testing.T) {
	id, err := protocol.NewID("Claude", 'A', 1)
	require.NoError(t, err)
	msg, err := protocol.NewMessage(id, "TVRoZAAAAAYAAQABAeBNVHJrAAAAGwCQPGSBcIA8AAD/LwA=", time.Now())
	require.NoError(t, err)

	var got []Tone
	Play(RendererFunc(func(t Tone) { got = append(got, t) }), msg)
	require.Len(t, got, VoiceFor("Claude").Notes)

	Play(nil, msg)
}

func TestMulti_FansOut(t *testing.T) {
	a, b := 0, 0
	m := Multi{RendererFunc(func(Tone) { a++ }), nil, RendererFunc(func(Tone) { b++ })}
	m.Render(Tone{Frequency: 440})
	require.Equal(t, 1, a)
	require.Equal(t, 1, b)
}

func TestMIDIRenderer_NoteOnThenOff(t *testing.T) {
	clock := schedule.NewManual()
	var sent []gomidi.Message
	r := NewMIDIRenderer(func(m gomidi.Message) error {
		sent = append(sent, m)
		return nil
	}, 2, clock)

	r.Render(Tone{Frequency: 440, Duration: 300 * time.Millisecond, Velocity: 1, Waveform: Sine})
	require.Equal(t, []gomidi.Message{gomidi.NoteOn(2, 69, 127)}, sent)

	clock.Advance(299 * time.Millisecond)
	require.Len(t, sent, 1)
	clock.Advance(time.Millisecond)
	require.Equal(t, gomidi.NoteOff(2, 69), sent[1])
}

func TestMIDIRenderer_SilentVelocityStillSounds(t *testing.T) {
	var sent []gomidi.Message
	r := NewMIDIRenderer(func(m gomidi.Message) error {
		sent = append(sent, m)
		return nil
	}, 0, schedule.NewManual())

	r.Render(Tone{Frequency: 261.63, Velocity: 0})
	require.Equal(t, gomidi.NoteOn(0, 60, 1), sent[0])
}
