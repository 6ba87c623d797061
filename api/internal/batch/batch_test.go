package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halluclean/api/internal/llm"
	"halluclean/api/internal/pipeline"
	"halluclean/api/internal/store"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stubProc answers from the input alone: a target containing "wrong" is hallucinated.
type stubProc struct {
	mu       sync.Mutex
	inputs   []pipeline.Input
	analyses []*string
	delay    func(pipeline.Input) time.Duration
	fail     error
}

func (s *stubProc) seen(in pipeline.Input, analysis *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	s.analyses = append(s.analyses, analysis)
}

func (s *stubProc) Detect(_ context.Context, in pipeline.Input, _ pipeline.CallOptions) (pipeline.DetectionResult, error) {
	s.seen(in, nil)
	if s.delay != nil {
		time.Sleep(s.delay(in))
	}
	if s.fail != nil {
		return pipeline.DetectionResult{}, s.fail
	}
	d, _ := pipeline.Describe(in.Task)
	return pipeline.DetectionResult{
		Task:           in.Task,
		Input:          in.Fields,
		Analysis:       "analysis",
		RawJudgement:   "Yes",
		IsHallucinated: strings.Contains(in.Fields[d.Target], "wrong"),
	}, nil
}

func (s *stubProc) Revise(_ context.Context, in pipeline.Input, analysis *string, _ pipeline.CallOptions) (pipeline.RevisionResult, error) {
	s.seen(in, analysis)
	return pipeline.RevisionResult{Task: in.Task, Input: in.Fields, Analysis: analysis, Revised: "fixed"}, nil
}

func (s *stubProc) Clean(ctx context.Context, in pipeline.Input, opts pipeline.CleanOptions) (pipeline.PipelineResult, error) {
	det, err := s.Detect(ctx, in, opts.Detect)
	if err != nil {
		return pipeline.PipelineResult{}, err
	}
	d, _ := pipeline.Describe(in.Task)
	revised := in.Fields[d.Target]
	if det.IsHallucinated {
		revised = "fixed"
	}
	return pipeline.PipelineResult{Task: in.Task, Input: in.Fields, Revised: revised, Detection: det}, nil
}

func runBatch(t *testing.T, r *Runner, input string, opts Options) ([]map[string]any, Stats) {
	t.Helper()
	var out bytes.Buffer
	stats, err := r.Run(context.Background(), strings.NewReader(input), &out, opts)
	require.NoError(t, err)

	var recs []map[string]any
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		recs = append(recs, m)
	}
	return recs, stats
}

func TestAliasResolution(t *testing.T) {
	decode := func(s string) map[string]json.RawMessage {
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(s), &m))
		return m
	}
	a, err := ResolveInput(pipeline.QA, decode(`{"q":"What is 2+2?","a":"5"}`))
	require.NoError(t, err)
	b, err := ResolveInput(pipeline.QA, decode(`{"question":"What is 2+2?","answer":"5"}`))
	require.NoError(t, err)
	assert.Equal(t, b, a)

	// the first alias wins
	c, err := ResolveInput(pipeline.QA, decode(`{"question":"x","q":"y","response":"r","a":"z"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", c.Fields["question"])
	assert.Equal(t, "z", c.Fields["answer"])

	tsc, err := ResolveInput(pipeline.SelfContradiction, decode(`{"premise":"p","hypothesis":"h"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"text1": "p", "text2": "h"}, tsc.Fields)

	_, err = ResolveInput(pipeline.Summarization, decode(`{"document":"d"}`))
	require.ErrorIs(t, err, pipeline.ErrFieldNotFound)
}

func TestFieldText(t *testing.T) {
	cases := map[string]string{
		`"plain"`:    "plain",
		`"a\nb"`:     "a\nb",
		`42`:         "42",
		`3.50`:       "3.50",
		`true`:       "true",
		`null`:       "",
		`[1, 2]`:     "[1,2]",
		`{"k": "v"}`: `{"k":"v"}`,
		`"été"`:      "été",
	}
	for raw, want := range cases {
		assert.Equal(t, want, fieldText(json.RawMessage(raw)), raw)
	}
}

func TestRunDetectMode(t *testing.T) {
	p := &stubProc{}
	r := NewRunner(p, WithLogger(quiet()))
	recs, stats := runBatch(t, r, `{"id":1,"question":"q","answer":"wrong"}`+"\n", Options{Task: pipeline.QA, Mode: ModeDetect})

	require.Len(t, recs, 1)
	assert.Equal(t, Stats{Records: 1}, stats)
	assert.Equal(t, float64(1), recs[0]["id"])
	det := recs[0][KeyDetection].(map[string]any)
	assert.Equal(t, true, det["is_hallucinated"])
	assert.NotContains(t, recs[0], "revised_answer")
}

func TestRunReviseModeUsesRecordAnalysis(t *testing.T) {
	p := &stubProc{}
	r := NewRunner(p, WithLogger(quiet()))
	input := `{"context":"c","response":"r","analysis":"because"}` + "\n" + `{"context":"c","response":"r"}` + "\n"
	recs, _ := runBatch(t, r, input, Options{Task: pipeline.Dialogue, Mode: ModeRevise})

	require.Len(t, recs, 2)
	assert.Equal(t, "fixed", recs[0]["revised_response"])
	assert.Contains(t, recs[0], KeyRevision)
	require.NotNil(t, p.analyses[0])
	assert.Equal(t, "because", *p.analyses[0])
	assert.Nil(t, p.analyses[1])
}

func TestRunPipelineMode(t *testing.T) {
	p := &stubProc{}
	r := NewRunner(p, WithLogger(quiet()))
	input := `{"problem":"2*3","solution":"wrong 5"}` + "\n" + `{"question":"2*3","answer":"6"}` + "\n"
	recs, stats := runBatch(t, r, input, Options{Task: pipeline.MathWordProblem, Mode: ModePipeline})

	require.Len(t, recs, 2)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, "fixed", recs[0]["revised_solution"])
	assert.Equal(t, "6", recs[1]["revised_solution"])
	assert.Contains(t, recs[1], KeyResult)
	assert.Equal(t, "6", recs[1]["answer"], "original fields are kept")
}

func TestRunAnnotatesFailuresAndContinues(t *testing.T) {
	p := &stubProc{}
	r := NewRunner(p, WithLogger(quiet()))
	input := strings.Join([]string{
		`{"question":"q1","answer":"a1"}`,
		`{"question":"q2"}`,
		`not json`,
		`[1,2,3]`,
		`{"q":"q3","a":"a3"}`,
	}, "\n")
	recs, stats := runBatch(t, r, input, Options{Task: pipeline.QA, Mode: ModePipeline})

	require.Len(t, recs, 5)
	assert.Equal(t, Stats{Records: 5, Failed: 3}, stats)
	assert.NotContains(t, recs[0], KeyError)

	assert.Contains(t, recs[1][KeyError], "field not found")
	assert.Equal(t, "q2", recs[1]["question"])

	assert.Equal(t, "not json", recs[2][KeyRaw])
	assert.NotEmpty(t, recs[2][KeyError])
	assert.Equal(t, "[1,2,3]", recs[3][KeyRaw])

	assert.Equal(t, "a3", recs[4]["revised_answer"])
	assert.Len(t, p.inputs, 2)
}

func TestRunAnnotatesBackendErrors(t *testing.T) {
	p := &stubProc{fail: llm.ErrConfiguration}
	r := NewRunner(p, WithLogger(quiet()))
	recs, stats := runBatch(t, r, `{"text":"a","content":"b"}`, Options{Task: pipeline.SelfContradiction, Mode: ModeDetect})
	require.Len(t, recs, 1)
	assert.Equal(t, 1, stats.Failed)
	assert.Contains(t, recs[0][KeyError], llm.ErrConfiguration.Error())
}

func TestRunSkipsBlankLinesAndHonoursLimit(t *testing.T) {
	p := &stubProc{}
	r := NewRunner(p, WithLogger(quiet()))
	input := "\n" + `{"summary":"s1","source":"d"}` + "\n\n   \n" + `{"summary":"s2","source":"d"}` + "\n" + `{"summary":"s3","source":"d"}` + "\n"
	recs, _ := runBatch(t, r, input, Options{Task: pipeline.Summarization, Mode: ModeDetect, Limit: 2})
	require.Len(t, recs, 2)
	assert.Equal(t, "s2", recs[1]["summary"])
}

func TestRunKeepsInputOrderUnderConcurrency(t *testing.T) {
	p := &stubProc{delay: func(in pipeline.Input) time.Duration {
		// earlier records finish later
		switch in.Fields["question"] {
		case "0":
			return 40 * time.Millisecond
		case "1":
			return 20 * time.Millisecond
		}
		return 0
	}}
	r := NewRunner(p, WithLogger(quiet()))
	var lines []string
	for i := 0; i < 8; i++ {
		lines = append(lines, `{"question":"`+string(rune('0'+i))+`","answer":"a"}`)
	}
	recs, stats := runBatch(t, r, strings.Join(lines, "\n"), Options{Task: pipeline.QA, Mode: ModeDetect, Concurrency: 4})
	require.Len(t, recs, 8)
	assert.Equal(t, 8, stats.Records)
	for i, rec := range recs {
		assert.Equal(t, string(rune('0'+i)), rec["question"])
	}
}

// cancellingProc cancels the run on its first call and then waits for the
// cancellation like a real backend would.
type cancellingProc struct {
	stubProc
	cancel context.CancelFunc
}

func (c *cancellingProc) Detect(ctx context.Context, in pipeline.Input, _ pipeline.CallOptions) (pipeline.DetectionResult, error) {
	c.cancel()
	<-ctx.Done()
	return pipeline.DetectionResult{}, ctx.Err()
}

func TestRunInterruptedKeepsRecordsAndReportsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewRunner(&cancellingProc{cancel: cancel}, WithLogger(quiet()))
	input := strings.Join([]string{
		`{"id":1,"question":"q","answer":"a"}`,
		`{"id":2,"question":"q","answer":"a"}`,
		`{"id":3,"question":"q","answer":"a"}`,
	}, "\n")

	var out bytes.Buffer
	stats, err := r.Run(ctx, strings.NewReader(input), &out, Options{Task: pipeline.QA, Mode: ModeDetect})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Stats{Records: 3, Failed: 3}, stats)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.EqualValues(t, i+1, rec["id"], line)
		assert.Equal(t, "a", rec["answer"], line)
		assert.Contains(t, rec[KeyError], "context canceled")
		assert.NotContains(t, rec, KeyRaw)
	}
}

func TestAnnotateKeepsFields(t *testing.T) {
	var rec map[string]any
	require.NoError(t, json.Unmarshal(annotate([]byte(`{"id":7,"q":"x"}`), errors.New("boom")), &rec))
	assert.Equal(t, map[string]any{"id": float64(7), "q": "x", KeyError: "boom"}, rec)

	rec = nil
	require.NoError(t, json.Unmarshal(annotate([]byte(`[1,2]`), errors.New("boom")), &rec))
	assert.Equal(t, "[1,2]", rec[KeyRaw])
}

func TestRunRejectsBadOptions(t *testing.T) {
	r := NewRunner(&stubProc{}, WithLogger(quiet()))
	_, err := r.Run(context.Background(), strings.NewReader(""), io.Discard, Options{Task: "nli", Mode: ModeDetect})
	require.ErrorIs(t, err, pipeline.ErrUnknownTask)
	_, err = r.Run(context.Background(), strings.NewReader(""), io.Discard, Options{Task: pipeline.QA, Mode: "fix"})
	require.ErrorIs(t, err, ErrUnknownMode)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRunStopsOnWriteError(t *testing.T) {
	r := NewRunner(&stubProc{}, WithLogger(quiet()))
	_, err := r.Run(context.Background(), strings.NewReader(`{"q":"a","a":"b"}`), failingWriter{}, Options{Task: pipeline.QA, Mode: ModeDetect})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type memRecorder struct {
	mu   sync.Mutex
	runs []store.Run
}

func (m *memRecorder) Insert(_ context.Context, run *store.Run) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = uuid.New()
	m.runs = append(m.runs, *run)
	return run.ID, nil
}

func TestRunRecordsRuns(t *testing.T) {
	rec := &memRecorder{}
	r := NewRunner(&stubProc{}, WithLogger(quiet()), WithRecorder(rec))
	input := `{"question":"q","answer":"wrong"}` + "\n" + `{"question":"q"}`
	_, err := r.Run(context.Background(), strings.NewReader(input), io.Discard, Options{
		Task:   pipeline.QA,
		Mode:   ModePipeline,
		Detect: pipeline.CallOptions{Model: "gpt4o-mini"},
	})
	require.NoError(t, err)

	require.Len(t, rec.runs, 2)
	ok, failed := rec.runs[0], rec.runs[1]
	assert.Equal(t, "gpt4o-mini", ok.DetectModel)
	assert.Equal(t, "gpt4o-mini", ok.ReviseModel)
	require.NotNil(t, ok.IsHallucinated)
	assert.True(t, *ok.IsHallucinated)
	assert.NotEmpty(t, ok.Result)
	assert.Empty(t, ok.Error)

	assert.Nil(t, failed.Result)
	assert.Contains(t, failed.Error, "field not found")
}

// scriptedInvoker replays replies in call order.
type scriptedInvoker struct {
	replies []string
	prompts []string
}

func (s *scriptedInvoker) Invoke(_ context.Context, req llm.Request) (string, error) {
	s.prompts = append(s.prompts, req.Prompt)
	if len(s.prompts) > len(s.replies) {
		return "", errors.New("script exhausted")
	}
	return s.replies[len(s.prompts)-1], nil
}

func TestEndToEndNotHallucinated(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{"plan", "analysis", "No."}}
	r := NewRunner(pipeline.New(inv, pipeline.WithLogger(quiet())), WithLogger(quiet()))
	recs, _ := runBatch(t, r, `{"question":"What is 2+2?","answer":"5, because math is subjective."}`, Options{Task: pipeline.QA, Mode: ModePipeline})

	require.Len(t, recs, 1)
	assert.Equal(t, "5, because math is subjective.", recs[0]["revised_answer"])
	res := recs[0][KeyResult].(map[string]any)
	assert.Equal(t, false, res["detection"].(map[string]any)["is_hallucinated"])
	assert.Len(t, inv.prompts, 3)
}

func TestEndToEndRevised(t *testing.T) {
	inv := &scriptedInvoker{replies: []string{"plan", "5 is not 2+2; the sum is 4.", "Yes, 5 is incorrect.", "4"}}
	r := NewRunner(pipeline.New(inv, pipeline.WithLogger(quiet())), WithLogger(quiet()))
	recs, _ := runBatch(t, r, `{"question":"What is 2+2?","answer":"5, because math is subjective."}`, Options{Task: pipeline.QA, Mode: ModePipeline})

	require.Len(t, recs, 1)
	assert.Equal(t, "4", recs[0]["revised_answer"])
	require.Len(t, inv.prompts, 4)
	assert.Contains(t, inv.prompts[3], "5 is not 2+2; the sum is 4.")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Pipeline ")
	require.NoError(t, err)
	assert.Equal(t, ModePipeline, m)
	_, err = ParseMode("clean")
	require.ErrorIs(t, err, ErrUnknownMode)
}
