// Package validate runs the external validators that decide whether a
// stage's gate passes: test suites, linters, security audits, whatever the
// configuration wires to each stage.
package validate

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result holds the structured output of one validator run.
type Result struct {
	Validator  string   `json:"validator"`
	Passed     bool     `json:"passed"`
	TimedOut   bool     `json:"timed_out"`
	ExitCode   int      `json:"exit_code"`
	DurationMs int      `json:"duration_ms"`
	Summary    string   `json:"summary"`
	Errors     []string `json:"errors,omitempty"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
}

// Validator checks one aspect of a stage's work. Implementations must be
// safe to call repeatedly; a cancelled run commits nothing.
type Validator interface {
	Name() string
	Validate(ctx context.Context, workdir string) (*Result, error)
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// CommandValidator runs a shell command and passes when it exits zero.
type CommandValidator struct {
	name    string
	command string
	timeout time.Duration
	cmd     CommandRunner
}

// NewCommandValidator builds a validator around a shell command. A zero
// timeout defaults to two minutes.
func NewCommandValidator(name, command string, timeout time.Duration, cmd CommandRunner) *CommandValidator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	return &CommandValidator{name: name, command: command, timeout: timeout, cmd: cmd}
}

func (v *CommandValidator) Name() string { return v.name }

func (v *CommandValidator) Validate(ctx context.Context, workdir string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := v.cmd.Run(ctx, workdir, v.command)
	durationMs := int(time.Since(start).Milliseconds())

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &Result{
				Validator:  v.name,
				Passed:     false,
				TimedOut:   true,
				ExitCode:   -1,
				DurationMs: durationMs,
				Summary:    fmt.Sprintf("timeout after %s", v.timeout),
				Errors:     []string{fmt.Sprintf("%s timed out after %s", v.name, v.timeout)},
				Stdout:     stdout,
				Stderr:     stderr,
			}, nil
		}
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run validator %q: %w", v.name, err)
	}

	res := &Result{
		Validator:  v.name,
		Passed:     exitCode == 0,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Stdout:     stdout,
		Stderr:     stderr,
	}
	if res.Passed {
		res.Summary = "passed"
	} else {
		res.Summary = fmt.Sprintf("exit code %d", exitCode)
		res.Errors = []string{firstLine(stderr, stdout, res.Summary)}
	}
	return res, nil
}

// RunAll executes validators in order, stopping early if the context dies.
// Every validator runs even after a failure so the gate sees the full
// picture, not just the first problem.
func RunAll(ctx context.Context, workdir string, validators []Validator) ([]*Result, error) {
	var results []*Result
	for _, v := range validators {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := v.Validate(ctx, workdir)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Merge collapses validator results into pass/fail plus the error list the
// decision engine consumes.
func Merge(results []*Result) (passed bool, errs []string) {
	passed = true
	for _, r := range results {
		if !r.Passed {
			passed = false
			errs = append(errs, r.Errors...)
		}
	}
	return passed, errs
}

func firstLine(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if i := strings.IndexByte(c, '\n'); i >= 0 {
			c = c[:i]
		}
		return c
	}
	return ""
}
