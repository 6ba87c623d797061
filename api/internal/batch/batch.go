// Package batch drives the pipeline over JSONL records.
//
// Every input line yields exactly one output line, in input order. A record
// that fails keeps its original fields and gains "hallu_error"; the batch
// itself only stops on I/O failures.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"halluclean/api/internal/metrics"
	"halluclean/api/internal/pipeline"
	"halluclean/api/internal/store"
)

type Mode string

const (
	ModeDetect   Mode = "detect"
	ModeRevise   Mode = "revise"
	ModePipeline Mode = "pipeline"
)

var ErrUnknownMode = errors.New("unknown mode")

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDetect, ModeRevise, ModePipeline:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (use detect | revise | pipeline)", ErrUnknownMode, s)
}

// Output keys added to each record.
const (
	KeyDetection = "hallu_detection"
	KeyRevision  = "hallu_revision"
	KeyResult    = "hallu_result"
	KeyError     = "hallu_error"
	KeyRaw       = "raw"
)

// Processor is the part of *pipeline.Pipeline the driver uses.
type Processor interface {
	Detect(ctx context.Context, in pipeline.Input, opts pipeline.CallOptions) (pipeline.DetectionResult, error)
	Revise(ctx context.Context, in pipeline.Input, analysis *string, opts pipeline.CallOptions) (pipeline.RevisionResult, error)
	Clean(ctx context.Context, in pipeline.Input, opts pipeline.CleanOptions) (pipeline.PipelineResult, error)
}

// RunRecorder persists processed records. *store.RunRepo implements it.
type RunRecorder interface {
	Insert(ctx context.Context, run *store.Run) (uuid.UUID, error)
}

type Options struct {
	Task   pipeline.Task
	Mode   Mode
	Detect pipeline.CallOptions
	// Revise with an empty Model inherits Detect.
	Revise pipeline.CallOptions
	// Limit caps the number of records read; 0 means no limit.
	Limit int
	// Concurrency is the number of records in flight; below 1 means 1.
	Concurrency int
}

func (o Options) cleanOptions() pipeline.CleanOptions {
	return pipeline.CleanOptions{Detect: o.Detect, Revise: o.reviseOptions()}
}

func (o Options) reviseOptions() pipeline.CallOptions {
	r := o.Revise
	if r.Model == "" {
		r.Model = o.Detect.Model
		if r.Local == nil {
			r.Local = o.Detect.Local
		}
	}
	return r
}

// Stats summarises a run.
type Stats struct {
	Records int
	Failed  int
}

type Runner struct {
	proc Processor
	log  *slog.Logger
	rec  RunRecorder
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRecorder stores every processed record.
func WithRecorder(rec RunRecorder) Option {
	return func(r *Runner) { r.rec = rec }
}

func NewRunner(p Processor, opts ...Option) *Runner {
	r := &Runner{proc: p, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads JSONL from in and writes one processed line per record to out.
// Run returns the parent context's error when the run was interrupted; the
// records written so far, and those never started, are still emitted.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer, opts Options) (Stats, error) {
	if _, err := pipeline.Describe(opts.Task); err != nil {
		return Stats{}, err
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return Stats{}, err
	}
	lines, err := readLines(in, opts.Limit)
	if err != nil {
		return Stats{}, err
	}
	conc := opts.Concurrency
	if conc < 1 {
		conc = 1
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type slot struct {
		line []byte
		err  bool
		done chan struct{}
	}
	slots := make([]*slot, len(lines))
	for i := range slots {
		slots[i] = &slot{done: make(chan struct{})}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, line := range lines {
			if gctx.Err() != nil {
				// unblock the writer for records never started
				for j := i; j < len(slots); j++ {
					slots[j].line, slots[j].err = annotate(lines[j], gctx.Err()), true
					close(slots[j].done)
				}
				return
			}
			s := slots[i]
			g.Go(func() error {
				defer close(s.done)
				s.line, s.err = r.processLine(gctx, line, opts)
				return nil
			})
		}
	}()

	stats := Stats{}
	w := bufio.NewWriter(out)
	var werr error
	for _, s := range slots {
		<-s.done
		if werr != nil {
			continue
		}
		stats.Records++
		if s.err {
			stats.Failed++
		}
		if _, err := w.Write(append(s.line, '\n')); err != nil {
			werr = err
			cancel()
			continue
		}
		if conc == 1 {
			werr = w.Flush()
		}
	}
	<-launched
	_ = g.Wait()
	if werr == nil {
		werr = w.Flush()
	}
	if werr != nil {
		return stats, fmt.Errorf("write output: %w", werr)
	}
	if err := parent.Err(); err != nil {
		r.log.Warn("batch interrupted", "task", opts.Task, "mode", opts.Mode, "records", stats.Records, "failed", stats.Failed)
		return stats, err
	}
	r.log.Info("batch done", "task", opts.Task, "mode", opts.Mode, "records", stats.Records, "failed", stats.Failed)
	return stats, nil
}

// processLine turns one input line into one output line. The bool reports
// whether the record failed.
func (r *Runner) processLine(ctx context.Context, line []byte, opts Options) ([]byte, bool) {
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(line, &rec); err != nil || rec == nil {
		if err == nil {
			err = errors.New("record is not a JSON object")
		}
		metrics.BatchRecords.WithLabelValues(string(opts.Task), string(opts.Mode), "invalid").Inc()
		return annotateRaw(line, err), true
	}

	run := &store.Run{Task: string(opts.Task), Mode: string(opts.Mode), DetectModel: opts.Detect.Model, Input: line}
	if opts.Mode != ModeDetect {
		run.ReviseModel = opts.reviseOptions().Model
	}
	err := r.process(ctx, rec, opts, run)
	if err != nil {
		rec[KeyError] = mustJSON(err.Error())
		run.Error = err.Error()
		r.log.Warn("record failed", "task", opts.Task, "mode", opts.Mode, "err", err)
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BatchRecords.WithLabelValues(string(opts.Task), string(opts.Mode), result).Inc()
	r.record(ctx, run)

	b, merr := json.Marshal(rec)
	if merr != nil {
		return annotateRaw(line, merr), true
	}
	return b, err != nil
}

func (r *Runner) process(ctx context.Context, rec map[string]json.RawMessage, opts Options, run *store.Run) error {
	in, err := ResolveInput(opts.Task, rec)
	if err != nil {
		return err
	}
	d, _ := pipeline.Describe(opts.Task)

	switch opts.Mode {
	case ModeDetect:
		det, err := r.proc.Detect(ctx, in, opts.Detect)
		if err != nil {
			return err
		}
		b, err := json.Marshal(det)
		if err != nil {
			return err
		}
		rec[KeyDetection] = b
		run.Result = b
		run.IsHallucinated = &det.IsHallucinated
	case ModeRevise:
		var analysis *string
		if raw, ok := rec["analysis"]; ok {
			a := fieldText(raw)
			analysis = &a
		}
		rev, err := r.proc.Revise(ctx, in, analysis, opts.reviseOptions())
		if err != nil {
			return err
		}
		b, err := json.Marshal(rev)
		if err != nil {
			return err
		}
		rec[KeyRevision] = b
		rec[d.RevisedKey()] = mustJSON(rev.Revised)
		run.Result = b
	case ModePipeline:
		res, err := r.proc.Clean(ctx, in, opts.cleanOptions())
		if err != nil {
			return err
		}
		b, err := json.Marshal(res)
		if err != nil {
			return err
		}
		rec[KeyResult] = b
		rec[d.RevisedKey()] = mustJSON(res.Revised)
		run.Result = b
		run.IsHallucinated = &res.Detection.IsHallucinated
	}
	return nil
}

func (r *Runner) record(ctx context.Context, run *store.Run) {
	if r.rec == nil {
		return
	}
	if _, err := r.rec.Insert(context.WithoutCancel(ctx), run); err != nil {
		r.log.Error("store run", "task", run.Task, "err", err)
	}
}

// readLines returns the non-blank lines of in, at most limit when limit > 0.
func readLines(in io.Reader, limit int) ([][]byte, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)
	var lines [][]byte
	for sc.Scan() {
		if limit > 0 && len(lines) >= limit {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, []byte(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}

// annotate adds KeyError to the record in line, keeping its fields. A line
// that is not a JSON object goes through annotateRaw.
func annotate(line []byte, err error) []byte {
	var rec map[string]json.RawMessage
	if json.Unmarshal(line, &rec) != nil || rec == nil {
		return annotateRaw(line, err)
	}
	rec[KeyError] = mustJSON(err.Error())
	b, merr := json.Marshal(rec)
	if merr != nil {
		return annotateRaw(line, err)
	}
	return b
}

// annotateRaw wraps a line that could not be processed as a record.
func annotateRaw(line []byte, err error) []byte {
	b, _ := json.Marshal(map[string]string{KeyError: err.Error(), KeyRaw: string(line)})
	return b
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
