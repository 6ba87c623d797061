package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultDeepSeekBaseURL = "https://api.deepseek.com"
)

// ChatCompleter is the part of the go-openai client the gateway uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient builds an OpenAI-compatible client bound to apiKey and baseURL.
func NewOpenAIClient(apiKey, baseURL string) ChatCompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = newHTTPClient()
	return openai.NewClientWithConfig(cfg)
}

func newHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		// judge and reason stages can take minutes before the first byte
		ResponseHeaderTimeout: 10 * time.Minute,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}
	// Timeout=0: the per-call deadline comes from the request context.
	return &http.Client{Timeout: 0, Transport: tr}
}

// chatEngine sends the prompt as a single system message.
type chatEngine struct {
	client ChatCompleter
	model  string
}

func (e *chatEngine) Generate(ctx context.Context, prompt string, _ int) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", e.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model %s returned no choices", ErrEmptyCompletion, e.model)
	}
	return resp.Choices[0].Message.Content, nil
}

// serverGenerator drives a local OpenAI-compatible inference server such as
// vLLM, Ollama or llama.cpp. Unlike the hosted backends it honours the
// generation budget.
type serverGenerator struct {
	client ChatCompleter
	model  string
}

// NewServerGenerator serves the "local" tag from an OpenAI-compatible server.
func NewServerGenerator(client ChatCompleter, model string) Generator {
	return &serverGenerator{client: client, model: model}
}

func (g *serverGenerator) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.model,
		MaxTokens: maxNewTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("local completion (%s): %w", g.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: local model %s returned no choices", ErrEmptyCompletion, g.model)
	}
	return resp.Choices[0].Message.Content, nil
}
