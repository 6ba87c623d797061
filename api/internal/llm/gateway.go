package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"halluclean/api/internal/metrics"
)

// DefaultTimeout bounds a single model call when neither the request nor the
// settings carry one.
const DefaultTimeout = 1000 * time.Second

// DefaultMaxNewTokens is the generation budget handed to local generators.
const DefaultMaxNewTokens = 512

// Settings carries credentials and model ids. It is resolved once from
// configuration and never mutated afterwards.
type Settings struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	GeminiAPIKey    string

	// Models overrides Backend.DefaultModel per backend.
	Models map[Backend]string

	Timeout time.Duration
}

// ModelID returns the model id the backend is bound to.
func (s Settings) ModelID(b Backend) string {
	if id := strings.TrimSpace(s.Models[b]); id != "" {
		return id
	}
	return b.DefaultModel()
}

// Request is one model invocation.
type Request struct {
	// Model is the backend tag, e.g. "chatgpt" or "local".
	Model  string
	Prompt string
	// Local serves the "local" and "hf" tags.
	Local        Generator
	MaxNewTokens int
	// Timeout overrides Settings.Timeout for this call.
	Timeout time.Duration
}

// Invoker is what the task pipeline needs from the gateway.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Gateway dispatches rendered prompts to the backend selected by the model tag.
type Gateway struct {
	settings Settings
	log      *slog.Logger

	newChat func(apiKey, baseURL string) ChatCompleter
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger used for call tracing.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithChatClientFactory overrides how OpenAI-compatible clients are built.
func WithChatClientFactory(f func(apiKey, baseURL string) ChatCompleter) Option {
	return func(g *Gateway) {
		if f != nil {
			g.newChat = f
		}
	}
}

func NewGateway(s Settings, opts ...Option) *Gateway {
	if s.OpenAIBaseURL == "" {
		s.OpenAIBaseURL = DefaultOpenAIBaseURL
	}
	if s.DeepSeekBaseURL == "" {
		s.DeepSeekBaseURL = DefaultDeepSeekBaseURL
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	g := &Gateway{
		settings: s,
		log:      slog.Default(),
		newChat:  NewOpenAIClient,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Invoke sends req.Prompt to the backend named by req.Model and returns the
// completion text. Failures are returned as is; nothing is retried.
func (g *Gateway) Invoke(ctx context.Context, req Request) (string, error) {
	backend, err := ParseBackend(req.Model)
	if err != nil {
		return "", err
	}
	gen, modelID, err := g.engine(backend, req.Local)
	if err != nil {
		return "", err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.settings.Timeout
	}
	maxNew := req.MaxNewTokens
	if maxNew <= 0 {
		maxNew = DefaultMaxNewTokens
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := gen.Generate(ctx, req.Prompt, maxNew)
	elapsed := time.Since(start)
	metrics.ObserveModelCall(backend.String(), elapsed, err)
	if err != nil {
		g.log.Debug("model call failed", "backend", backend.String(), "model", modelID, "duration", elapsed, "error", err)
		return "", err
	}
	g.log.Debug("model call", "backend", backend.String(), "model", modelID, "duration", elapsed,
		"prompt_chars", len(req.Prompt), "output_chars", len(out))
	return out, nil
}

func (g *Gateway) engine(b Backend, local Generator) (Generator, string, error) {
	s := g.settings
	switch b {
	case BackendChatGPT, BackendGPT4o, BackendGPT4oMini:
		if s.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("%w: OPENAI_API_KEY is not set; export OPENAI_API_KEY=sk-...", ErrConfiguration)
		}
		id := s.ModelID(b)
		return &chatEngine{client: g.newChat(s.OpenAIAPIKey, s.OpenAIBaseURL), model: id}, id, nil
	case BackendDeepSeek:
		if s.DeepSeekAPIKey == "" {
			return nil, "", fmt.Errorf("%w: DEEPSEEK_API_KEY is not set; required for model deepseek", ErrConfiguration)
		}
		id := s.ModelID(b)
		return &chatEngine{client: g.newChat(s.DeepSeekAPIKey, s.DeepSeekBaseURL), model: id}, id, nil
	case BackendGemini:
		if s.GeminiAPIKey == "" {
			return nil, "", fmt.Errorf("%w: GEMINI_API_KEY is not set; required for model gemini", ErrConfiguration)
		}
		id := s.ModelID(b)
		return &geminiEngine{apiKey: s.GeminiAPIKey, model: id}, id, nil
	case BackendLocal:
		if local == nil {
			return nil, "", fmt.Errorf("%w: model local/hf needs a local generator", ErrInvalidArgument)
		}
		return local, "local", nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownModel, b)
	}
}
