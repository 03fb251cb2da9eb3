package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"inbox_server/core/port/out"
	"inbox_server/pkg/httputil"
)

const DefaultBaseURL = "https://api.groq.com/openai/v1"

// Client talks to Groq's OpenAI-compatible chat endpoint.
type Client struct {
	client *openai.Client
}

type ClientConfig struct {
	APIKey  string
	BaseURL string
}

var _ out.LLMClient = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	conf := openai.DefaultConfig(cfg.APIKey)
	conf.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	conf.HTTPClient = httputil.NewClient(httputil.LLMClientConfig())
	return &Client{client: openai.NewClientWithConfig(conf)}
}

func (c *Client) Complete(ctx context.Context, req *out.CompletionRequest) (string, error) {
	if req == nil || len(req.Messages) == 0 {
		return "", errors.New("completion request has no messages")
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("groq completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
