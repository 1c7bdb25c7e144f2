package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Client is the part of openai.Client the payload source calls, kept small so tests can stub it.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}
