// Package pipeline runs the detect → revise sequence over the model gateway.
//
// Detection is three model calls in strict order: Plan sees the inputs,
// Reason sees the inputs and the plan, Judge sees the inputs and the
// analysis. Revision is one call that rewrites the task's target field,
// optionally conditioned on the analysis. Clean chains the two and only
// revises when the judge says the content is hallucinated.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"halluclean/api/internal/llm"
	"halluclean/api/internal/metrics"
	"halluclean/api/internal/prompt"
	"halluclean/api/internal/verdict"
)

// DefaultModel is the backend tag used when a call names none.
const DefaultModel = "chatgpt"

// CallOptions selects the backend of one stage.
type CallOptions struct {
	// Model is a gateway tag. Empty means DefaultModel.
	Model string
	// Local serves the "local"/"hf" tags.
	Local        llm.Generator
	MaxNewTokens int
	// Timeout overrides the gateway timeout for every call of the stage.
	Timeout time.Duration
}

func (o CallOptions) withDefaults() CallOptions {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.MaxNewTokens <= 0 {
		o.MaxNewTokens = llm.DefaultMaxNewTokens
	}
	return o
}

// CleanOptions configures Clean. A Revise with no Model inherits the detect
// backend, local generator included.
type CleanOptions struct {
	Detect CallOptions
	Revise CallOptions
}

func (o CleanOptions) reviseOptions() CallOptions {
	r := o.Revise
	if r.Model == "" {
		r.Model = o.Detect.Model
		if r.Local == nil {
			r.Local = o.Detect.Local
		}
	}
	return r
}

// Pipeline is stateless apart from its collaborators and is safe for
// concurrent use.
type Pipeline struct {
	gw      llm.Invoker
	prompts *prompt.Set
	log     *slog.Logger
}

type Option func(*Pipeline)

// WithPrompts replaces the embedded template set.
func WithPrompts(s *prompt.Set) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.prompts = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func New(gw llm.Invoker, opts ...Option) *Pipeline {
	p := &Pipeline{gw: gw, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.prompts == nil {
		p.prompts = prompt.Default()
	}
	return p
}

// Detect runs Plan, Reason and Judge. Any failing call aborts the sequence
// and no later stage is attempted.
func (p *Pipeline) Detect(ctx context.Context, in Input, opts CallOptions) (DetectionResult, error) {
	d, err := in.descriptor()
	if err != nil {
		return DetectionResult{}, err
	}
	opts = opts.withDefaults()
	start := time.Now()
	vars := in.vars(d)

	plan, err := p.call(ctx, d, prompt.Plan, vars, opts)
	if err != nil {
		return DetectionResult{}, err
	}
	vars["plan"] = plan
	analysis, err := p.call(ctx, d, prompt.Reason, vars, opts)
	if err != nil {
		return DetectionResult{}, err
	}
	delete(vars, "plan")
	vars["analysis"] = analysis
	raw, err := p.call(ctx, d, prompt.Judge, vars, opts)
	if err != nil {
		return DetectionResult{}, err
	}

	res := DetectionResult{
		Task:           d.Task,
		Input:          in.vars(d),
		Plan:           plan,
		Analysis:       analysis,
		RawJudgement:   raw,
		IsHallucinated: verdict.Parse(raw),
	}
	metrics.ObserveVerdict(string(d.Task), res.IsHallucinated)
	p.log.Info("detect done",
		"task", d.Task,
		"model", opts.Model,
		d.VerdictKey, res.IsHallucinated,
		"took", time.Since(start).String(),
	)
	return res, nil
}

// Revise rewrites the task's target field. A nil analysis renders as an
// empty string.
func (p *Pipeline) Revise(ctx context.Context, in Input, analysis *string, opts CallOptions) (RevisionResult, error) {
	d, err := in.descriptor()
	if err != nil {
		return RevisionResult{}, err
	}
	opts = opts.withDefaults()
	vars := in.vars(d)
	vars["analysis"] = ""
	if analysis != nil {
		vars["analysis"] = *analysis
	}
	revised, err := p.call(ctx, d, prompt.Revise, vars, opts)
	if err != nil {
		return RevisionResult{}, err
	}
	metrics.Revisions.WithLabelValues(string(d.Task)).Inc()
	p.log.Debug("revise done", "task", d.Task, "model", opts.Model, "with_analysis", analysis != nil)
	return RevisionResult{
		Task:     d.Task,
		Input:    in.vars(d),
		Analysis: analysis,
		Revised:  revised,
	}, nil
}

// Clean detects and, only when the verdict is positive, revises with the
// detection analysis. Otherwise the original content is returned unchanged.
func (p *Pipeline) Clean(ctx context.Context, in Input, opts CleanOptions) (PipelineResult, error) {
	det, err := p.Detect(ctx, in, opts.Detect)
	if err != nil {
		return PipelineResult{}, err
	}
	d, _ := Describe(det.Task)
	res := PipelineResult{
		Task:      det.Task,
		Input:     det.Input,
		Revised:   det.Input[d.Target],
		Detection: det,
	}
	if !det.IsHallucinated {
		return res, nil
	}
	analysis := det.Analysis
	rev, err := p.Revise(ctx, in, &analysis, opts.reviseOptions())
	if err != nil {
		return PipelineResult{}, err
	}
	res.Revised = rev.Revised
	return res, nil
}

func (p *Pipeline) call(ctx context.Context, d Descriptor, stage prompt.Stage, vars map[string]string, opts CallOptions) (string, error) {
	text, err := p.prompts.Render(string(d.Task), stage, vars)
	if err != nil {
		return "", err
	}
	out, err := p.gw.Invoke(ctx, llm.Request{
		Model:        opts.Model,
		Prompt:       text,
		Local:        opts.Local,
		MaxNewTokens: opts.MaxNewTokens,
		Timeout:      opts.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", d.Task, stage, err)
	}
	return out, nil
}
