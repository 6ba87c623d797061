package llm

import (
	"context"
	"fmt"
)

// Generator produces text for a fully rendered prompt. Hosted backends and
// caller-supplied local models both satisfy it.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, maxNewTokens int) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	return f(ctx, prompt, maxNewTokens)
}

// Pipeline is a local text-generation pipeline whose raw output still has to be
// unpacked, e.g. a transformers-style sidecar answering with
// [{"generated_text": "..."}].
type Pipeline interface {
	Run(ctx context.Context, prompt string, maxNewTokens int) (any, error)
}

// PipelineFunc adapts a plain function to Pipeline.
type PipelineFunc func(ctx context.Context, prompt string, maxNewTokens int) (any, error)

func (f PipelineFunc) Run(ctx context.Context, prompt string, maxNewTokens int) (any, error) {
	return f(ctx, prompt, maxNewTokens)
}

// FromPipeline wraps p so that its output is reduced to text with ExtractText.
func FromPipeline(p Pipeline) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
		out, err := p.Run(ctx, prompt, maxNewTokens)
		if err != nil {
			return "", err
		}
		return ExtractText(out)
	})
}

// textKeys are checked in this order on the first output record.
var textKeys = []string{"generated_text", "summary_text", "text"}

// ExtractText reads the generated text out of a local pipeline result. The
// result must be a non-empty sequence whose first element is either a record
// carrying one of textKeys or a string.
func ExtractText(out any) (string, error) {
	first, ok := firstElement(out)
	if !ok {
		return "", fmt.Errorf("%w: expected a non-empty list, got %T", ErrUnrecognizedOutput, out)
	}
	switch v := first.(type) {
	case string:
		return v, nil
	case map[string]string:
		for _, k := range textKeys {
			if s, ok := v[k]; ok {
				return s, nil
			}
		}
	case map[string]any:
		for _, k := range textKeys {
			if raw, ok := v[k]; ok {
				if s, ok := raw.(string); ok {
					return s, nil
				}
				return "", fmt.Errorf("%w: %q is %T, not a string", ErrUnrecognizedOutput, k, raw)
			}
		}
	}
	return "", fmt.Errorf("%w: first element %T has no generated_text, summary_text or text", ErrUnrecognizedOutput, first)
}

func firstElement(out any) (any, bool) {
	switch v := out.(type) {
	case []any:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			return v[0], true
		}
	case []map[string]any:
		if len(v) > 0 {
			return v[0], true
		}
	case []map[string]string:
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}
