package judge0

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Judge0 status identifiers that still await a verdict.
const (
	StatusInQueue    = 1
	StatusProcessing = 2
)

// InternalErrorDescription is the judge's own label for a sandbox malfunction.
const InternalErrorDescription = "Internal Error"

const statusInternalError = 13

// Labels for test cases that never reached a judge verdict.
const (
	SubmissionFailedDescription = "Submission Failed"
	UnresolvedDescription       = "Unresolved"
)

// TestCase is one stdin/expected output pair submitted as its own judge job.
type TestCase struct {
	Stdin          string
	ExpectedOutput string
}

// RunRequest describes a fan-out of one program over several test cases.
type RunRequest struct {
	SubmissionID string
	Source       string
	LanguageID   int
	Tests        []TestCase
}

// Status mirrors the judge status object.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Pending reports whether the job is still queued or processing.
func (s Status) Pending() bool {
	return s.ID == StatusInQueue || s.ID == StatusProcessing
}

// Outcome is the terminal verdict of one test case.
type Outcome struct {
	Token         string
	Status        Status
	Stdout        string
	Stderr        string
	CompileOutput string
	Message       string
	TimeMs        float64
	MemoryKB      int64
	Output        string
	Passed        bool
	Raw           map[string]interface{}
}

// InternalError reports whether the judge classified the run as its own failure.
func (o Outcome) InternalError() bool {
	return o.Status.Description == InternalErrorDescription || o.Status.ID == statusInternalError
}

// RunResult aligns outcomes with the submitted test cases by index.
type RunResult struct {
	Tokens     []string
	Outcomes   []*Outcome
	Created    int
	Unresolved int
	PollTime   float64
}

// Resolved counts test cases that reached a terminal verdict.
func (r RunResult) Resolved() int {
	count := 0
	for _, outcome := range r.Outcomes {
		if outcome != nil {
			count++
		}
	}
	return count
}

// Failed counts test cases the judge never issued a token for.
func (r RunResult) Failed() int {
	count := 0
	for _, token := range r.Tokens {
		if token == "" {
			count++
		}
	}
	return count
}

// Complete reports whether every test case reached a terminal verdict.
func (r RunResult) Complete() bool {
	return len(r.Outcomes) > 0 && r.Resolved() == len(r.Outcomes)
}

// Systemic reports whether every resolved verdict is a judge internal error.
func (r RunResult) Systemic() bool {
	resolved := 0
	for _, outcome := range r.Outcomes {
		if outcome == nil {
			continue
		}
		resolved++
		if !outcome.InternalError() {
			return false
		}
	}
	return resolved > 0
}

// ActualOutput picks stdout, falling back to stderr, trimmed of surrounding whitespace.
func ActualOutput(stdout, stderr string) string {
	if stdout != "" {
		return strings.TrimSpace(stdout)
	}
	return strings.TrimSpace(stderr)
}

// OutputMatches compares an actual output with the expected one after trimming both.
func OutputMatches(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

type createRequest struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

type createResponse struct {
	Token string `json:"token"`
}

type batchItem struct {
	Token         string   `json:"token"`
	Status        *Status  `json:"status"`
	Stdout        *string  `json:"stdout"`
	Stderr        *string  `json:"stderr"`
	CompileOutput *string  `json:"compile_output"`
	Message       *string  `json:"message"`
	Time          flexible `json:"time"`
	Memory        flexible `json:"memory"`
}

type batchEnvelope struct {
	Submissions []json.RawMessage `json:"submissions"`
}

// flexible accepts a JSON number, a numeric string or null.
type flexible struct {
	value float64
	set   bool
}

func (f *flexible) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
	}

	parsed, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	f.value = parsed
	f.set = true
	return nil
}

func decodeBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var envelope batchEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	return envelope.Submissions, nil
}

func toOutcome(raw json.RawMessage, expected string) (*Outcome, bool, error) {
	var item batchItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false, err
	}

	status := Status{}
	if item.Status != nil {
		status = *item.Status
	}
	if status.Pending() {
		return nil, false, nil
	}

	var payload map[string]interface{}
	_ = json.Unmarshal(raw, &payload)

	outcome := &Outcome{
		Token:         item.Token,
		Status:        status,
		Stdout:        deref(item.Stdout),
		Stderr:        deref(item.Stderr),
		CompileOutput: deref(item.CompileOutput),
		Message:       deref(item.Message),
		MemoryKB:      int64(item.Memory.value),
		Raw:           payload,
	}
	if outcome.Status.Description == "" {
		outcome.Status.Description = "Unknown"
	}
	if item.Time.set {
		outcome.TimeMs = item.Time.value * 1000
	}
	outcome.Output = ActualOutput(outcome.Stdout, outcome.Stderr)
	outcome.Passed = OutputMatches(outcome.Output, expected)

	return outcome, true, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
