package handle

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"halluclean/api/internal/batch"
	"halluclean/api/internal/llm"
	"halluclean/api/internal/prompt"
)

//go:embed request.schema.json
var requestSchema []byte

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Defaults fill request fields the caller left out.
type Defaults struct {
	DetectModel  string
	ReviseModel  string
	MaxNewTokens int
	// Local serves the "local"/"hf" tags; nil leaves them unavailable.
	Local llm.Generator
}

type Handle struct {
	proc     batch.Processor
	prompts  *prompt.Set
	runs     batch.RunRecorder
	runLog   RunLog
	db       Pinger
	defaults Defaults
	schema   *jsonschema.Schema
	log      *slog.Logger
}

type Option func(*Handle)

func WithPrompts(s *prompt.Set) Option { return func(h *Handle) { h.prompts = s } }

// WithRecorder stores every request outcome.
func WithRecorder(r batch.RunRecorder) Option { return func(h *Handle) { h.runs = r } }

// WithRunLog enables GET /v1/runs and GET /v1/runs/{id}.
func WithRunLog(l RunLog) Option { return func(h *Handle) { h.runLog = l } }

// WithDB makes /healthz ping the database.
func WithDB(db Pinger) Option { return func(h *Handle) { h.db = db } }

func WithDefaults(d Defaults) Option { return func(h *Handle) { h.defaults = d } }

func WithLogger(l *slog.Logger) Option {
	return func(h *Handle) {
		if l != nil {
			h.log = l
		}
	}
}

func New(p batch.Processor, opts ...Option) *Handle {
	h := &Handle{
		proc:   p,
		log:    slog.Default(),
		schema: mustCompileSchema(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.prompts == nil {
		h.prompts = prompt.Default()
	}
	return h
}

// Routes wires every endpoint onto a fresh mux.
func (h *Handle) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/prompts/{task}/{stage}", h.Prompt)
	mux.HandleFunc("GET /v1/runs", h.Runs)
	mux.HandleFunc("GET /v1/runs/{id}", h.Run)
	mux.HandleFunc("POST /v1/{task}/{mode}", h.Task)
	return withRunID(mux)
}

type runIDKey struct{}

// withRunID tags every request with a run id, echoed in X-Run-Id.
func withRunID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New()
		w.Header().Set("X-Run-Id", id.String())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), runIDKey{}, id)))
	})
}

func runID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(runIDKey{}).(uuid.UUID)
	return id
}

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("request.schema.json", bytes.NewReader(requestSchema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("request.schema.json")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
