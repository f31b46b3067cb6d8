package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxCapturedOutput = 1 << 20
	processWaitDelay  = 500 * time.Millisecond
)

// RunSpec describes a single program invocation inside a prepared workspace.
type RunSpec struct {
	Dir      string
	FileName string
	Command  []string
	Stdin    string
	Timeout  time.Duration
}

// RunOutput captures what the program produced.
type RunOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Runner executes a prepared program. An error means the runner itself failed.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (RunOutput, error)
}

// ProcessRunner runs programs as plain host subprocesses.
type ProcessRunner struct{}

// NewProcessRunner constructs the default subprocess runner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run starts the interpreter on the workspace file and waits for it within the timeout.
func (r *ProcessRunner) Run(parent context.Context, spec RunSpec) (RunOutput, error) {
	if len(spec.Command) == 0 {
		return RunOutput{}, errors.New("command is required")
	}

	ctx, cancel := context.WithTimeout(parent, spec.Timeout)
	defer cancel()

	args := append(append([]string{}, spec.Command[1:]...), filepath.Join(spec.Dir, spec.FileName))
	cmd := exec.CommandContext(ctx, spec.Command[0], args...)
	cmd.Dir = spec.Dir
	cmd.Stdin = strings.NewReader(spec.Stdin)
	cmd.WaitDelay = processWaitDelay

	stdout := &cappedBuffer{limit: maxCapturedOutput}
	stderr := &cappedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	output := RunOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		output.TimedOut = true
		output.ExitCode = -1
		return output, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			output.ExitCode = exitErr.ExitCode()
			return output, nil
		}
		return output, fmt.Errorf("run %s: %w", spec.Command[0], err)
	}

	return output, nil
}

type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
