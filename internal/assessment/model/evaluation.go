package model

import (
	"fmt"
	"strings"
)

// TestCase is one input/output pair of a challenge.
type TestCase struct {
	Input  []string `json:"input"`
	Output string   `json:"output"`
	Sample bool     `json:"sample"`
}

// Challenge carries what the controller needs from the exam content.
type Challenge struct {
	ID         string     `json:"id"`
	InputTypes []string   `json:"input_types"`
	OutputType string     `json:"output_type"`
	Cases      []TestCase `json:"cases"`
}

// SampleCases returns the visible cases, or every case when none is marked sample.
func (c Challenge) SampleCases() []TestCase {
	var samples []TestCase
	for _, tc := range c.Cases {
		if tc.Sample {
			samples = append(samples, tc)
		}
	}
	if len(samples) == 0 {
		return append([]TestCase(nil), c.Cases...)
	}
	return samples
}

// RunStatus mirrors the execution service status block.
type RunStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

const statusAccepted = "Accepted"

// RunResult is the observational output of a sample run.
type RunResult struct {
	Stdout        *string   `json:"stdout"`
	Stderr        string    `json:"stderr"`
	CompileOutput *string   `json:"compile_output"`
	Status        RunStatus `json:"status"`
}

// Display renders the result the way the output pane shows it.
func (r RunResult) Display() string {
	if r.Stdout != nil {
		if r.Stderr != "" {
			return r.Stderr
		}
		return *r.Stdout
	}
	var b strings.Builder
	if r.Status.Description != statusAccepted {
		b.WriteString(r.Status.Description)
	}
	b.WriteString("\n")
	b.WriteString(r.Stderr)
	b.WriteString("\n")
	if r.CompileOutput != nil {
		b.WriteString(*r.CompileOutput)
	}
	return b.String()
}

// EvaluationResult is produced by running the full hidden suite.
type EvaluationResult struct {
	Results    []bool  `json:"result"`
	Output     string  `json:"output"`
	MemoryUsed int64   `json:"memory"`
	TimeUsed   float64 `json:"time"`
}

// Summary formats a pass count like "2/3 Passed". Empty vectors yield "".
func Summary(results []bool) string {
	if len(results) == 0 {
		return ""
	}
	passed := 0
	for _, ok := range results {
		if ok {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d Passed", passed, len(results))
}
