package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChat answers every chat completion with "No." so detection finds
// nothing and the pipeline stops after the judge stage.
func fakeChat(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"No."},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCommandPipeline(t *testing.T) {
	var calls atomic.Int32
	srv := fakeChat(t, &calls)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", srv.URL+"/v1")

	dir := t.TempDir()
	in := filepath.Join(dir, "qa.jsonl")
	out := filepath.Join(dir, "out.jsonl")
	require.NoError(t, os.WriteFile(in, []byte(`{"id":1,"question":"What is 2+2?","answer":"4"}`+"\n"), 0o644))

	rootCmd.SetArgs([]string{"run", "--task", "qa", "--input", in, "--output", out, "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, int32(3), calls.Load(), "plan, reason, judge; no revise")

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	var rec map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &rec))
	assert.JSONEq(t, `1`, string(rec["id"]))

	var res struct {
		Original  string `json:"original_answer"`
		Revised   string `json:"revised_answer"`
		Detection struct {
			IsHallucinated bool `json:"is_hallucinated"`
		} `json:"detection"`
	}
	require.NoError(t, json.Unmarshal(rec["hallu_result"], &res))
	assert.Equal(t, "4", res.Original)
	assert.Equal(t, "4", res.Revised)
	assert.False(t, res.Detection.IsHallucinated)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	log := newLogger("loud", "json")
	assert.True(t, log.Enabled(t.Context(), 0))
	assert.False(t, log.Enabled(t.Context(), -4))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, 512, orDefault(0, 512))
	assert.Equal(t, 64, orDefault(64, 512))
}
