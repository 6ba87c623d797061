package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		out  any
		want string
	}{
		{"generated_text", []map[string]any{{"generated_text": "gen"}}, "gen"},
		{"summary_text", []any{map[string]any{"summary_text": "sum"}}, "sum"},
		{"text", []map[string]string{{"text": "plain"}}, "plain"},
		{"key order", []any{map[string]any{"text": "t", "generated_text": "g"}}, "g"},
		{"string list", []string{"first", "second"}, "first"},
		{"any string list", []any{"first"}, "first"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractText(tc.out)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractTextUnrecognized(t *testing.T) {
	for _, out := range []any{
		nil,
		"bare string",
		[]any{},
		[]any{42},
		[]any{map[string]any{"label": "x"}},
		[]any{map[string]any{"generated_text": 7}},
	} {
		_, err := ExtractText(out)
		assert.ErrorIs(t, err, ErrUnrecognizedOutput, "%#v", out)
	}
}

func TestFromPipeline(t *testing.T) {
	var gotPrompt string
	var gotBudget int
	gen := FromPipeline(PipelineFunc(func(_ context.Context, prompt string, maxNewTokens int) (any, error) {
		gotPrompt, gotBudget = prompt, maxNewTokens
		return []any{map[string]any{"generated_text": "No."}}, nil
	}))

	out, err := gen.Generate(context.Background(), "judge this", 64)
	require.NoError(t, err)
	assert.Equal(t, "No.", out)
	assert.Equal(t, "judge this", gotPrompt)
	assert.Equal(t, 64, gotBudget)
}
