package openai

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/xeylabs/xbot/internal/adapters"
	"github.com/xeylabs/xbot/internal/adapters/llm"
)

const DefaultModel = openai.GPT4oMini

const detectPrompt = `You are a spam filter for group chats. Judge the FIRST message a member ever sent to the group. Advertising, crypto or investment offers, job-bait, adult content and scam links are spam. Reply with exactly one word: SPAM or OK.`

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, model, baseURL string) adapters.LLM {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *Client) ChatCompletion(ctx context.Context, messages []llm.ChatCompletionMessage) (llm.ChatCompletionResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
	}
	for _, msg := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.ChatCompletionResponse{}, errors.WithMessage(err, "chat completion")
	}

	out := llm.ChatCompletionResponse{}
	for _, choice := range resp.Choices {
		out.Replies = append(out.Replies, choice.Message.Content)
	}
	return out, nil
}

func (c *Client) Detect(ctx context.Context, message string) (*bool, error) {
	resp, err := c.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: detectPrompt},
		{Role: llm.RoleUser, Content: message},
	})
	if err != nil {
		return nil, err
	}
	return parseVerdict(resp), nil
}

// parseVerdict maps the model's one-word reply to a classification; nil means
// the reply was unusable.
func parseVerdict(resp llm.ChatCompletionResponse) *bool {
	if len(resp.Replies) == 0 {
		return nil
	}
	result := strings.ToUpper(strings.TrimSpace(resp.Replies[0])) == "SPAM"
	return &result
}
