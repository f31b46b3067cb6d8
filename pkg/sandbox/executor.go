package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var caseRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gema",
	Subsystem: "sandbox",
	Name:      "case_runs_total",
	Help:      "Local sandbox test case runs grouped by verdict",
}, []string{"status"})

// ErrUnsupportedLanguage indicates the local sandbox cannot run the language.
var ErrUnsupportedLanguage = errors.New("sandbox: unsupported language")

// Verdict labels produced by the local sandbox.
const (
	StatusAccepted          = "Accepted"
	StatusWrongAnswer       = "Wrong Answer"
	StatusTimeLimitExceeded = "Time Limit Exceeded"
	StatusRuntimeError      = "Runtime Error"
	StatusInternalError     = "Internal Error"
)

const (
	defaultTimeout      = 5 * time.Second
	placeholderTimeMs   = 100
	placeholderMemoryKB = 1024
	timeoutStderr       = "Time limit exceeded"
)

// Case is one stdin/expected output pair.
type Case struct {
	Stdin          string
	ExpectedOutput string
}

// ExecuteRequest asks the sandbox to run a program against every case.
type ExecuteRequest struct {
	SubmissionID string
	Language     string
	Source       string
	Cases        []Case
}

// CaseResult is the verdict for one case. Timings are placeholders and LowFidelity is always set.
type CaseResult struct {
	Index          int
	Status         string
	Passed         bool
	TimeMs         float64
	MemoryKB       int64
	Output         string
	ExpectedOutput string
	Stderr         string
	ExitCode       int
	LowFidelity    bool
}

// Config groups local sandbox settings.
type Config struct {
	Timeout       time.Duration
	PythonCommand string
	WorkspaceRoot string
	Runner        Runner
	Logger        zerolog.Logger
}

type language struct {
	FileName string
	Command  []string
}

// Executor runs submissions as local subprocesses, one per case.
type Executor struct {
	cfg       Config
	runner    Runner
	languages map[string]language
	logger    zerolog.Logger
}

// NewExecutor constructs a local sandbox executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if strings.TrimSpace(cfg.PythonCommand) == "" {
		cfg.PythonCommand = "python3"
	}

	pythonArgs, err := shlex.Split(cfg.PythonCommand)
	if err != nil {
		return nil, fmt.Errorf("parse python command: %w", err)
	}
	if len(pythonArgs) == 0 {
		return nil, fmt.Errorf("python command is empty")
	}

	runner := cfg.Runner
	if runner == nil {
		runner = NewProcessRunner()
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Executor{
		cfg:    cfg,
		runner: runner,
		languages: map[string]language{
			"python": {FileName: "main.py", Command: pythonArgs},
		},
		logger: logger.With().Str("component", "local_sandbox").Logger(),
	}, nil
}

// Supports reports whether the language can run locally.
func (e *Executor) Supports(lang string) bool {
	_, ok := e.languages[strings.ToLower(strings.TrimSpace(lang))]
	return ok
}

// Timeout returns the wall-clock limit applied to each case.
func (e *Executor) Timeout() time.Duration {
	return e.cfg.Timeout
}

// Execute runs the source against each case sequentially.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) ([]CaseResult, error) {
	lang, ok := e.languages[strings.ToLower(strings.TrimSpace(req.Language))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	results := make([]CaseResult, 0, len(req.Cases))
	for i, c := range req.Cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := e.runCase(ctx, lang, req.Source, i, c)
		caseRuns.WithLabelValues(result.Status).Inc()
		results = append(results, result)
	}

	e.logger.Debug().
		Str("submission_id", req.SubmissionID).
		Int("cases", len(results)).
		Msg("local sandbox run finished")

	return results, nil
}

func (e *Executor) runCase(ctx context.Context, lang language, source string, index int, c Case) CaseResult {
	result := CaseResult{
		Index:          index,
		ExpectedOutput: c.ExpectedOutput,
		ExitCode:       -1,
		LowFidelity:    true,
	}

	dir, err := os.MkdirTemp(e.cfg.WorkspaceRoot, "judge-case-")
	if err != nil {
		return internalError(result, fmt.Errorf("create workspace: %w", err))
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, lang.FileName), []byte(source), 0o644); err != nil {
		return internalError(result, fmt.Errorf("write source: %w", err))
	}

	output, err := e.runner.Run(ctx, RunSpec{
		Dir:      dir,
		FileName: lang.FileName,
		Command:  lang.Command,
		Stdin:    c.Stdin,
		Timeout:  e.cfg.Timeout,
	})
	if err != nil {
		return internalError(result, err)
	}

	if output.TimedOut {
		result.Status = StatusTimeLimitExceeded
		result.TimeMs = float64(e.cfg.Timeout.Milliseconds())
		result.Stderr = timeoutStderr
		return result
	}

	result.Output = strings.TrimSpace(output.Stdout)
	result.Stderr = output.Stderr
	result.ExitCode = output.ExitCode
	result.TimeMs = placeholderTimeMs
	result.MemoryKB = placeholderMemoryKB

	result.Passed = result.Output == strings.TrimSpace(c.ExpectedOutput)
	if result.Passed {
		result.Status = StatusAccepted
	} else {
		result.Status = StatusWrongAnswer
	}

	if output.ExitCode != 0 {
		result.Status = StatusRuntimeError
		result.Passed = false
	}

	return result
}

func internalError(result CaseResult, err error) CaseResult {
	result.Status = StatusInternalError
	result.Passed = false
	result.Stderr = err.Error()
	return result
}
