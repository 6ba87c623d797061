package handle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"halluclean/api/internal/pipeline"
	"halluclean/api/internal/store"
)

const maxRunsLimit = 500

// RunLog reads back stored runs. *store.RunRepo implements it.
type RunLog interface {
	Get(ctx context.Context, id uuid.UUID) (*store.Run, error)
	ListRecent(ctx context.Context, task string, limit int) ([]store.Run, error)
}

type runView struct {
	ID             uuid.UUID       `json:"id"`
	Task           string          `json:"task"`
	Mode           string          `json:"mode"`
	DetectModel    string          `json:"detect_model,omitempty"`
	ReviseModel    string          `json:"revise_model,omitempty"`
	Input          json.RawMessage `json:"input"`
	Result         json.RawMessage `json:"result"`
	IsHallucinated *bool           `json:"is_hallucinated"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func viewOf(r store.Run) runView {
	v := runView{
		ID: r.ID, Task: r.Task, Mode: r.Mode,
		DetectModel: r.DetectModel, ReviseModel: r.ReviseModel,
		Input: r.Input, Result: r.Result,
		IsHallucinated: r.IsHallucinated, Error: r.Error, CreatedAt: r.CreatedAt,
	}
	if len(v.Input) == 0 {
		v.Input = json.RawMessage("null")
	}
	if len(v.Result) == 0 {
		v.Result = json.RawMessage("null")
	}
	return v
}

// Run serves GET /v1/runs/{id}.
func (h *Handle) Run(w http.ResponseWriter, r *http.Request) {
	if h.runLog == nil {
		writeError(w, http.StatusNotFound, "runs are not stored")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad run id")
		return
	}
	run, err := h.runLog.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case err != nil:
		h.log.Error("get run", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*run))
}

// Runs serves GET /v1/runs?task=&limit=, newest first.
func (h *Handle) Runs(w http.ResponseWriter, r *http.Request) {
	if h.runLog == nil {
		writeError(w, http.StatusNotFound, "runs are not stored")
		return
	}
	q := r.URL.Query()
	task := q.Get("task")
	if task != "" {
		t, err := pipeline.ParseTask(task)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		task = string(t)
	}
	limit := 50
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxRunsLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.runLog.ListRecent(r.Context(), task, limit)
	if err != nil {
		h.log.Error("list runs", "task", task, "err", err)
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, viewOf(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}
