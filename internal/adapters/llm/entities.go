package llm

// Roles used when composing completion requests.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatCompletionMessage is one turn of a completion exchange.
type ChatCompletionMessage struct {
	Role    string
	Content string
}

// ChatCompletionResponse carries the model's reply texts in rank order.
// Backend-specific envelopes stay inside the adapters.
type ChatCompletionResponse struct {
	Replies []string
}
