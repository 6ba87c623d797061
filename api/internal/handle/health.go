package handle

import (
	"context"
	"net/http"
	"time"

	"halluclean/api/internal/prompt"
)

func (h *Handle) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Prompt serves the raw template of a task stage, as loaded at startup.
func (h *Handle) Prompt(w http.ResponseWriter, r *http.Request) {
	src, ok := h.prompts.Source(r.PathValue("task"), prompt.Stage(r.PathValue("stage")))
	if !ok {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(src))
}
