package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"halluclean/api/internal/batch"
	"halluclean/api/internal/llm"
	"halluclean/api/internal/pipeline"
	"halluclean/api/internal/store"
)

const (
	defaultDeadline = 180 * time.Second
	maxBodyBytes    = 4 << 20
)

// TaskRequest holds the control fields of a task request. The task's text
// fields travel in the same JSON object and are resolved through the batch
// aliases.
type TaskRequest struct {
	DetectModel        string  `json:"detect_model"`
	LLMName            string  `json:"llm_name"`
	ReviseModel        string  `json:"revise_model"`
	Analysis           *string `json:"analysis"`
	MaxNewTokensDetect int     `json:"max_new_tokens_detect"`
	MaxNewTokensRevise int     `json:"max_new_tokens_revise"`
}

var errBadRequest = errors.New("bad request")

// Task serves POST /v1/{task}/{mode} with mode detect | revise | clean.
func (h *Handle) Task(w http.ResponseWriter, r *http.Request) {
	task, err := pipeline.ParseTask(r.PathValue("task"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	mode := strings.ToLower(r.PathValue("mode"))
	if mode != "detect" && mode != "revise" && mode != "clean" {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown mode %q (use detect | revise | clean)", mode))
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooBig.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	req, fields, err := h.decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := batch.ResolveInput(task, fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestDeadline(r))
	defer cancel()

	detect, revise := h.callOptions(req)
	run := &store.Run{ID: runID(r.Context()), Task: string(task), Mode: mode, Input: body}
	start := time.Now()

	var (
		out   any
		hallu *bool
	)
	switch mode {
	case "detect":
		run.DetectModel = detect.Model
		var det pipeline.DetectionResult
		det, err = h.proc.Detect(ctx, in, detect)
		out, hallu = det, &det.IsHallucinated
	case "revise":
		run.ReviseModel = revise.Model
		out, err = h.proc.Revise(ctx, in, req.Analysis, revise)
	case "clean":
		run.DetectModel, run.ReviseModel = detect.Model, revise.Model
		var res pipeline.PipelineResult
		res, err = h.proc.Clean(ctx, in, pipeline.CleanOptions{Detect: detect, Revise: revise})
		out, hallu = res, &res.Detection.IsHallucinated
	}

	if err != nil {
		run.Error = err.Error()
		h.record(r.Context(), run)
		h.log.Warn("task failed", "run_id", run.ID, "task", task, "mode", mode, "err", err)
		writeError(w, statusFor(err), mode+" error: "+err.Error())
		return
	}
	b, err := json.Marshal(out)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	run.Result, run.IsHallucinated = b, hallu
	h.record(r.Context(), run)
	h.log.Info("task done", "run_id", run.ID, "task", task, "mode", mode, "took", time.Since(start).String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(b, '\n'))
}

// decode validates body against the request schema and splits it into the
// control fields and the raw record.
func (h *Handle) decode(body []byte) (TaskRequest, map[string]json.RawMessage, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return TaskRequest{}, nil, fmt.Errorf("%w: bad json: %v", errBadRequest, err)
	}
	if err := h.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return TaskRequest{}, nil, fmt.Errorf("%w: %s", errBadRequest, verr.Error())
		}
		return TaskRequest{}, nil, err
	}
	var req TaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return TaskRequest{}, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return TaskRequest{}, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return req, fields, nil
}

func (h *Handle) callOptions(req TaskRequest) (detect, revise pipeline.CallOptions) {
	detect.Model = firstNonEmpty(req.DetectModel, req.LLMName, h.defaults.DetectModel, pipeline.DefaultModel)
	revise.Model = firstNonEmpty(req.ReviseModel, h.defaults.ReviseModel, detect.Model)
	detect.MaxNewTokens = firstPositive(req.MaxNewTokensDetect, h.defaults.MaxNewTokens)
	revise.MaxNewTokens = firstPositive(req.MaxNewTokensRevise, h.defaults.MaxNewTokens)
	detect.Local, revise.Local = h.defaults.Local, h.defaults.Local
	return detect, revise
}

func (h *Handle) record(ctx context.Context, run *store.Run) {
	if h.runs == nil {
		return
	}
	if _, err := h.runs.Insert(context.WithoutCancel(ctx), run); err != nil {
		h.log.Error("store run", "run_id", run.ID, "err", err)
	}
}

// requestDeadline reads X-Request-Timeout or ?timeoutSec= (seconds).
func requestDeadline(r *http.Request) time.Duration {
	if ts := r.Header.Get("X-Request-Timeout"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			return time.Duration(v) * time.Second
		}
	} else if ts := r.URL.Query().Get("timeoutSec"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return defaultDeadline
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, llm.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, llm.ErrInvalidArgument),
		errors.Is(err, llm.ErrUnknownModel),
		errors.Is(err, pipeline.ErrFieldNotFound),
		errors.Is(err, pipeline.ErrUnknownTask),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
