package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"halluclean/api/internal/pipeline"
)

// aliases lists, per task and canonical field, the record keys accepted for
// it in priority order.
var aliases = map[pipeline.Task]map[string][]string{
	pipeline.QA: {
		"question": {"question", "q"},
		"answer":   {"answer", "a", "response"},
	},
	pipeline.Summarization: {
		"source_text": {"source_text", "source", "document"},
		"summary":     {"summary"},
	},
	pipeline.Dialogue: {
		"context":  {"context", "history"},
		"response": {"response", "answer"},
	},
	pipeline.SelfContradiction: {
		"text1": {"text1", "text", "premise"},
		"text2": {"text2", "content", "hypothesis"},
	},
	pipeline.MathWordProblem: {
		"problem":  {"problem", "question"},
		"solution": {"solution", "answer"},
	},
}

// Aliases returns the accepted keys of a canonical field.
func Aliases(task pipeline.Task, field string) []string {
	return aliases[task][field]
}

// ResolveInput maps a decoded record onto the task's canonical fields.
func ResolveInput(task pipeline.Task, rec map[string]json.RawMessage) (pipeline.Input, error) {
	d, err := pipeline.Describe(task)
	if err != nil {
		return pipeline.Input{}, err
	}
	fields := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		v, err := lookup(rec, Aliases(task, f)...)
		if err != nil {
			return pipeline.Input{}, err
		}
		fields[f] = v
	}
	return pipeline.Input{Task: task, Fields: fields}, nil
}

func lookup(rec map[string]json.RawMessage, candidates ...string) (string, error) {
	for _, name := range candidates {
		if raw, ok := rec[name]; ok {
			return fieldText(raw), nil
		}
	}
	return "", fmt.Errorf("%w: none of fields %s found in record", pipeline.ErrFieldNotFound, strings.Join(candidates, ", "))
}

// fieldText renders a JSON value as prompt text: strings verbatim, null as
// empty, anything else as its compact JSON text.
func fieldText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
