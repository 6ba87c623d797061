package pipeline

import "encoding/json"

// DetectionResult is the outcome of the Plan → Reason → Judge sequence.
type DetectionResult struct {
	Task         Task
	Input        map[string]string
	Plan         string
	Analysis     string
	RawJudgement string
	// IsHallucinated is the parsed judge verdict. For self-contradiction it
	// means "the two texts contradict each other".
	IsHallucinated bool
}

// IsSelfContradictory is the self-contradiction name of the verdict.
func (r DetectionResult) IsSelfContradictory() bool { return r.IsHallucinated }

func (r DetectionResult) MarshalJSON() ([]byte, error) {
	d, err := Describe(r.Task)
	if err != nil {
		return nil, err
	}
	m := map[string]any{"task": r.Task}
	for _, f := range d.Fields {
		m[f] = r.Input[f]
	}
	m["plan"] = r.Plan
	m["analysis"] = r.Analysis
	m["raw_judgement"] = r.RawJudgement
	m[hallucinatedKey] = r.IsHallucinated
	m[d.VerdictKey] = r.IsHallucinated
	return json.Marshal(m)
}

// RevisionResult is the outcome of a single revise call.
type RevisionResult struct {
	Task  Task
	Input map[string]string
	// Analysis is the detection analysis the revision was conditioned on, if any.
	Analysis *string
	Revised  string
}

// Original is the content the revision replaces.
func (r RevisionResult) Original() string {
	d, _ := Describe(r.Task)
	return r.Input[d.Target]
}

func (r RevisionResult) MarshalJSON() ([]byte, error) {
	d, err := Describe(r.Task)
	if err != nil {
		return nil, err
	}
	m := echo(r.Task, d, r.Input)
	m["analysis"] = r.Analysis
	m[d.RevisedKey()] = r.Revised
	return json.Marshal(m)
}

// PipelineResult is what Clean returns: the final content plus the detection
// that decided whether a revision was needed.
type PipelineResult struct {
	Task  Task
	Input map[string]string
	// Revised equals the original content when nothing was detected.
	Revised   string
	Detection DetectionResult
}

// Original is the content before cleaning.
func (r PipelineResult) Original() string {
	d, _ := Describe(r.Task)
	return r.Input[d.Target]
}

func (r PipelineResult) MarshalJSON() ([]byte, error) {
	d, err := Describe(r.Task)
	if err != nil {
		return nil, err
	}
	m := echo(r.Task, d, r.Input)
	m[d.RevisedKey()] = r.Revised
	m["detection"] = r.Detection
	return json.Marshal(m)
}

// echo copies the non-target fields and the original target under original_<target>.
func echo(t Task, d Descriptor, in map[string]string) map[string]any {
	m := map[string]any{"task": t}
	for _, f := range d.Fields {
		if f == d.Target {
			continue
		}
		m[f] = in[f]
	}
	m[d.OriginalKey()] = in[d.Target]
	return m
}
