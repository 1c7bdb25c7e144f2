package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/midi64-go/internal/llm"
	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/protocol"
)

const systemPrompt = `You are %s, one voice in a musical conversation held in MIDI64 blocks.
Reply with exactly one block and nothing else:
line 1: an identifier such as %s_%c00001
line 2: a short Standard MIDI File, base64 encoded on a single line.
Keep the file under 200 bytes.`

// Fallback supplies a payload when the model does not.
type Fallback interface {
	Payload(ctx context.Context, agent string) (string, error)
}

// LLM asks a chat model for each turn's payload. The reply may wrap the
// block in prose; the first valid block wins. Replies without one, and
// failed calls, fall back.
type LLM struct {
	client   llm.Client
	model    string
	prefix   byte
	fallback Fallback
}

// NewLLM uses a fresh PatternBank when fallback is nil.
func NewLLM(client llm.Client, model string, prefix byte, fallback Fallback) *LLM {
	if fallback == nil {
		fallback = NewPatternBank()
	}
	return &LLM{client: client, model: model, prefix: prefix, fallback: fallback}
}

func (s *LLM) Payload(ctx context.Context, agent string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, agent, agent, s.prefix)},
			{Role: openai.ChatMessageRoleUser, Content: "Your turn."},
		},
	}
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.L.Warn("llm call failed; using fallback payload", "agent", agent, "error", err)
		return s.fallback.Payload(ctx, agent)
	}
	if len(resp.Choices) == 0 {
		logger.L.Warn("llm returned no choices; using fallback payload", "agent", agent)
		return s.fallback.Payload(ctx, agent)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	msg, err := protocol.FindBlock(content)
	if err != nil {
		logger.L.Warn("llm reply has no MIDI64 block; using fallback payload", "agent", agent, "error", err)
		return s.fallback.Payload(ctx, agent)
	}
	if protocol.AgentKey(msg.Agent()) != protocol.AgentKey(agent) {
		// The identifier is issued by the sequencer; only the payload is used.
		logger.L.Debug("llm block names another agent", "agent", agent, "block_agent", msg.Agent())
	}
	return msg.Encoded, nil
}
