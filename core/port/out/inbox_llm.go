package out

import (
	"context"
)

// LLMClient is an OpenAI-compatible chat completion endpoint.
type LLMClient interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

type ChatMessage struct {
	Role    string // system, user, assistant
	Content string
}

type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
	JSONMode    bool
	Stop        []string
}
