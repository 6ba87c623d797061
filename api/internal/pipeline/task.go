package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Task names one of the supported hallucination tasks.
type Task string

const (
	QA                Task = "qa"
	Summarization     Task = "sum"
	Dialogue          Task = "da"
	SelfContradiction Task = "tsc"
	MathWordProblem   Task = "mwp"
)

// Tasks lists every task in a stable order.
var Tasks = []Task{QA, Summarization, Dialogue, SelfContradiction, MathWordProblem}

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrFieldNotFound = errors.New("field not found")
)

// Descriptor is everything that differs between tasks: the input field names,
// the field the revise stage rewrites and the name the verdict is exposed under.
type Descriptor struct {
	Task Task
	// Fields are the input field names in prompt order.
	Fields []string
	// Target is the field the revise stage rewrites.
	Target string
	// VerdictKey is the task-specific verdict name. It equals "is_hallucinated"
	// for every task except self-contradiction.
	VerdictKey string
}

const hallucinatedKey = "is_hallucinated"

var descriptors = map[Task]Descriptor{
	QA: {
		Task:       QA,
		Fields:     []string{"question", "answer"},
		Target:     "answer",
		VerdictKey: hallucinatedKey,
	},
	Summarization: {
		Task:       Summarization,
		Fields:     []string{"source_text", "summary"},
		Target:     "summary",
		VerdictKey: hallucinatedKey,
	},
	Dialogue: {
		Task:       Dialogue,
		Fields:     []string{"context", "response"},
		Target:     "response",
		VerdictKey: hallucinatedKey,
	},
	SelfContradiction: {
		Task:       SelfContradiction,
		Fields:     []string{"text1", "text2"},
		Target:     "text2",
		VerdictKey: "is_self_contradictory",
	},
	MathWordProblem: {
		Task:       MathWordProblem,
		Fields:     []string{"problem", "solution"},
		Target:     "solution",
		VerdictKey: hallucinatedKey,
	},
}

// ParseTask resolves a task name, case-insensitively.
func ParseTask(name string) (Task, error) {
	t := Task(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := descriptors[t]; !ok {
		return "", fmt.Errorf("%w: %q (use qa | sum | da | tsc | mwp)", ErrUnknownTask, name)
	}
	return t, nil
}

// Describe returns the descriptor of t.
func Describe(t Task) (Descriptor, error) {
	d, ok := descriptors[t]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownTask, string(t))
	}
	return d, nil
}

// RevisedKey is the flattened output key of the revised content, e.g. "revised_answer".
func (d Descriptor) RevisedKey() string { return "revised_" + d.Target }

// OriginalKey is the output key of the content before revision.
func (d Descriptor) OriginalKey() string { return "original_" + d.Target }
