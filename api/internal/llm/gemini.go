package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type geminiEngine struct {
	apiKey string
	model  string
}

func (e *geminiEngine) Generate(ctx context.Context, prompt string, _ int) (string, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(strings.TrimSpace(e.model))
	if m == nil {
		return "", fmt.Errorf("gemini: model is nil")
	}
	// Gemini rejects a request made of a system instruction only, so the
	// prompt goes out as the single user turn.
	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate (%s): %w", e.model, err)
	}
	txt, ok := firstText(resp)
	if !ok {
		return "", fmt.Errorf("%w: gemini model %s returned no text", ErrEmptyCompletion, e.model)
	}
	return txt, nil
}

func firstText(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil {
		return "", false
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t), true
			}
		}
	}
	return "", false
}
