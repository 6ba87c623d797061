package llm

import (
	"fmt"
	"strings"
)

// Backend is the closed set of model backends a tag can select.
type Backend int

const (
	BackendChatGPT Backend = iota + 1
	BackendGPT4o
	BackendGPT4oMini
	BackendDeepSeek
	BackendGemini
	BackendLocal
)

// Backends lists every backend in declaration order.
var Backends = []Backend{
	BackendChatGPT,
	BackendGPT4o,
	BackendGPT4oMini,
	BackendDeepSeek,
	BackendGemini,
	BackendLocal,
}

var backendTags = map[string]Backend{
	"chatgpt":    BackendChatGPT,
	"gpt4o":      BackendGPT4o,
	"gpt4o-mini": BackendGPT4oMini,
	"deepseek":   BackendDeepSeek,
	"gemini":     BackendGemini,
	"local":      BackendLocal,
	"hf":         BackendLocal,
}

// ParseBackend resolves a model tag. Tags are case-insensitive and trimmed.
func ParseBackend(tag string) (Backend, error) {
	name := strings.ToLower(strings.TrimSpace(tag))
	if b, ok := backendTags[name]; ok {
		return b, nil
	}
	return 0, fmt.Errorf("%w: %q (use chatgpt | gpt4o | gpt4o-mini | deepseek | gemini | local | hf)", ErrUnknownModel, tag)
}

func (b Backend) String() string {
	switch b {
	case BackendChatGPT:
		return "chatgpt"
	case BackendGPT4o:
		return "gpt4o"
	case BackendGPT4oMini:
		return "gpt4o-mini"
	case BackendDeepSeek:
		return "deepseek"
	case BackendGemini:
		return "gemini"
	case BackendLocal:
		return "local"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// Hosted reports whether the backend is reached over the network.
func (b Backend) Hosted() bool {
	return b != BackendLocal
}

// DefaultModel is the model id used when no override is configured.
func (b Backend) DefaultModel() string {
	switch b {
	case BackendChatGPT:
		return "gpt-3.5-turbo-0125"
	case BackendGPT4o:
		return "gpt-4o"
	case BackendGPT4oMini:
		return "gpt-4o-mini"
	case BackendDeepSeek:
		return "deepseek-chat"
	case BackendGemini:
		return "gemini-2.5-flash"
	default:
		return ""
	}
}
