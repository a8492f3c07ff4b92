package adapters

import (
	"context"

	"github.com/xeylabs/xbot/internal/adapters/llm"
)

// LLM is the language-model boundary used for the first-message spam check.
type LLM interface {
	ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error)
	// Detect classifies a message; nil means the model gave no usable answer.
	Detect(ctx context.Context, message string) (*bool, error)
}
