package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	cases := map[string]Backend{
		"chatgpt":    BackendChatGPT,
		"ChatGPT":    BackendChatGPT,
		"  gpt4o ":   BackendGPT4o,
		"GPT4O-MINI": BackendGPT4oMini,
		"deepseek":   BackendDeepSeek,
		"gemini":     BackendGemini,
		"local":      BackendLocal,
		"HF":         BackendLocal,
	}
	for tag, want := range cases {
		got, err := ParseBackend(tag)
		require.NoError(t, err, tag)
		assert.Equal(t, want, got, tag)
	}
}

func TestParseBackendUnknown(t *testing.T) {
	_, err := ParseBackend("llama")
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestSettingsModelID(t *testing.T) {
	s := Settings{Models: map[Backend]string{BackendGPT4o: "gpt-4o-2024-08-06"}}
	assert.Equal(t, "gpt-4o-2024-08-06", s.ModelID(BackendGPT4o))
	assert.Equal(t, "gpt-3.5-turbo-0125", s.ModelID(BackendChatGPT))
	assert.Equal(t, "deepseek-chat", s.ModelID(BackendDeepSeek))
}

func TestBackendStringRoundTrip(t *testing.T) {
	for _, b := range Backends {
		got, err := ParseBackend(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}
