// Package prompt holds the Plan/Reason/Judge/Revise templates of every task.
//
// Templates are plain text files named <task>.<stage>.txt. The defaults are
// embedded; a directory passed to Load may override any of them file by file.
// Placeholders use text/template syntax ({{.question}}) and are filled by
// literal substitution: no escaping, no truncation.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed templates/*.txt
var embedded embed.FS

// Stage is one step of the detection/revision sequence.
type Stage string

const (
	Plan   Stage = "plan"
	Reason Stage = "reason"
	Judge  Stage = "judge"
	Revise Stage = "revise"
)

// Stages lists the stages in execution order.
var Stages = []Stage{Plan, Reason, Judge, Revise}

// Tasks lists the task names with a bundled template set.
var Tasks = []string{"qa", "sum", "da", "tsc", "mwp"}

// ErrTemplateNotFound is returned when no template exists for a task/stage pair.
var ErrTemplateNotFound = errors.New("prompt: template not found")

type key struct {
	task  string
	stage Stage
}

// Set is a parsed, read-only collection of templates. It is safe for
// concurrent use.
type Set struct {
	tmpl map[key]*template.Template
	src  map[key]string
}

// Default returns the embedded template set.
func Default() *Set {
	s, err := Load("")
	if err != nil {
		// embedded templates are part of the build
		panic(err)
	}
	return s
}

// Load parses the embedded templates, preferring files from dir when present.
func Load(dir string) (*Set, error) {
	s := &Set{tmpl: map[key]*template.Template{}, src: map[key]string{}}
	for _, task := range Tasks {
		for _, stage := range Stages {
			name := fileName(task, stage)
			text, origin, err := readTemplate(dir, name)
			if err != nil {
				return nil, err
			}
			if err := s.add(task, stage, text); err != nil {
				return nil, fmt.Errorf("prompt %s (%s): %w", name, origin, err)
			}
		}
	}
	return s, nil
}

// Parse builds a Set from in-memory template text keyed by task and stage.
func Parse(texts map[string]map[Stage]string) (*Set, error) {
	s := &Set{tmpl: map[key]*template.Template{}, src: map[key]string{}}
	for task, stages := range texts {
		for stage, text := range stages {
			if err := s.add(task, stage, text); err != nil {
				return nil, fmt.Errorf("prompt %s: %w", fileName(task, stage), err)
			}
		}
	}
	return s, nil
}

func (s *Set) add(task string, stage Stage, text string) error {
	t, err := template.New(fileName(task, stage)).Option("missingkey=error").Parse(text)
	if err != nil {
		return err
	}
	k := key{task, stage}
	s.tmpl[k] = t
	s.src[k] = text
	return nil
}

// Render fills the task/stage template with vars.
func (s *Set) Render(task string, stage Stage, vars map[string]string) (string, error) {
	t, ok := s.tmpl[key{task, stage}]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, fileName(task, stage))
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", fileName(task, stage), err)
	}
	return buf.String(), nil
}

// Source returns the raw template text.
func (s *Set) Source(task string, stage Stage) (string, bool) {
	text, ok := s.src[key{task, stage}]
	return text, ok
}

func fileName(task string, stage Stage) string {
	return fmt.Sprintf("%s.%s.txt", task, stage)
}

func readTemplate(dir, name string) (text, origin string, err error) {
	if dir != "" {
		p := filepath.Join(dir, name)
		b, err := os.ReadFile(p)
		switch {
		case err == nil && len(b) > 0:
			return string(b), p, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", "", fmt.Errorf("read prompt %s: %w", p, err)
		}
	}
	b, err := embedded.ReadFile("templates/" + name)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return string(b), "embedded", nil
}
