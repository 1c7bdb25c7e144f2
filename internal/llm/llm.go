package llm

import (
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/midi64-go/internal/config"
)

// NewClient creates a new OpenAI-compatible client. An empty base URL
// keeps the library default.
func NewClient(cfg config.LLMConfig) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}
