package pipeline

import "fmt"

// Input is the task-specific text fields of one item. Empty strings are legal.
type Input struct {
	Task   Task
	Fields map[string]string
}

func QAInput(question, answer string) Input {
	return Input{Task: QA, Fields: map[string]string{"question": question, "answer": answer}}
}

func SummaryInput(sourceText, summary string) Input {
	return Input{Task: Summarization, Fields: map[string]string{"source_text": sourceText, "summary": summary}}
}

func DialogueInput(context, response string) Input {
	return Input{Task: Dialogue, Fields: map[string]string{"context": context, "response": response}}
}

func ContradictionInput(text1, text2 string) Input {
	return Input{Task: SelfContradiction, Fields: map[string]string{"text1": text1, "text2": text2}}
}

func MathInput(problem, solution string) Input {
	return Input{Task: MathWordProblem, Fields: map[string]string{"problem": problem, "solution": solution}}
}

// descriptor validates in against its task and returns the descriptor.
func (in Input) descriptor() (Descriptor, error) {
	d, err := Describe(in.Task)
	if err != nil {
		return Descriptor{}, err
	}
	for _, f := range d.Fields {
		if _, ok := in.Fields[f]; !ok {
			return Descriptor{}, fmt.Errorf("%w: %s input needs %q", ErrFieldNotFound, in.Task, f)
		}
	}
	return d, nil
}

// vars copies the task fields into a template variable map.
func (in Input) vars(d Descriptor) map[string]string {
	v := make(map[string]string, len(d.Fields)+2)
	for _, f := range d.Fields {
		v[f] = in.Fields[f]
	}
	return v
}
