package source

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

const triad = "TVRoZAAAAAYAAQABAeBNVHJrAAAAGwCQPGSBcIA8AAD/LwA="

type mockLLM struct {
	reply string
	err   error
	reqs  []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(_ context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.reqs = append(m.reqs, r)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.reply}}},
	}, nil
}

func TestPatternBank_Rotates(t *testing.T) {
	bank := NewPatternBank()
	patterns := DefaultPatterns()
	require.Len(t, patterns, 4)

	for round := 0; round < 2; round++ {
		for i, want := range patterns {
			got, err := bank.Payload(context.Background(), []string{"Kai", "Claude"}[i%2])
			require.NoError(t, err)
			require.Equal(t, want.Payload, got, "pattern %s", want.Name)
		}
	}
}

func TestDefaultPatterns_AreMIDIFiles(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range DefaultPatterns() {
		raw, err := base64.StdEncoding.DecodeString(p.Payload)
		require.NoError(t, err, p.Name)
		require.Equal(t, "MThd", string(raw[:4]), p.Name)
		require.Equal(t, "MTrk", string(raw[14:18]), p.Name)
		n := int(raw[18])<<24 | int(raw[19])<<16 | int(raw[20])<<8 | int(raw[21])
		require.Equal(t, len(raw)-22, n, p.Name)
		require.False(t, seen[p.Payload], "patterns must differ")
		seen[p.Payload] = true
	}
}

func TestLLM_ExtractsBlockFromProse(t *testing.T) {
	m := &mockLLM{reply: "Here is my answer:\n\nKai_A00007\n" + triad + "\n\nEnjoy!"}
	src := NewLLM(m, "gpt-4o", 'A', nil)

	got, err := src.Payload(context.Background(), "Kai")
	require.NoError(t, err)
	require.Equal(t, triad, got)
	require.Len(t, m.reqs, 1)
	require.Equal(t, "gpt-4o", m.reqs[0].Model)
	require.Contains(t, m.reqs[0].Messages[0].Content, "Kai_A00001")
}

func TestLLM_FallsBack(t *testing.T) {
	bank := NewPatternBank()
	first := DefaultPatterns()[0].Payload

	t.Run("no block", func(t *testing.T) {
		src := NewLLM(&mockLLM{reply: "I would rather talk about jazz."}, "m", 'A', NewPatternBank())
		got, err := src.Payload(context.Background(), "Claude")
		require.NoError(t, err)
		require.Equal(t, first, got)
	})

	t.Run("call error", func(t *testing.T) {
		src := NewLLM(&mockLLM{err: errors.New("rate limited")}, "m", 'A', bank)
		got, err := src.Payload(context.Background(), "Claude")
		require.NoError(t, err)
		require.Equal(t, first, got)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := NewLLM(&mockLLM{err: context.Canceled}, "m", 'A', bank)
		_, err := src.Payload(ctx, "Claude")
		require.ErrorIs(t, err, context.Canceled)
	})
}
