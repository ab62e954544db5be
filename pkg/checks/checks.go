// Package checks runs the repository health checks (lint, test, build)
// reported by the health command.
package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/config"
)

type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Check is one named shell command.
type Check struct {
	Name    string
	Command string
}

type Result struct {
	Name     string        `json:"name"`
	Command  string        `json:"command,omitempty"`
	Status   Status        `json:"status"`
	ExitCode int           `json:"exitCode"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	Mocked   bool          `json:"mocked,omitempty"`
}

// Executor runs a shell command line and returns its combined output.
type Executor interface {
	Run(ctx context.Context, command string) (output []byte, exitCode int, err error)
}

// ShellExecutor runs commands through sh -c.
type ShellExecutor struct {
	Dir string
}

func (e ShellExecutor) Run(ctx context.Context, command string) ([]byte, int, error) {
	//nolint:gosec // G204: commands come from operator configuration
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.Dir
	// Children of sh may keep the output pipe open after sh is killed.
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return out, exitErr.ExitCode(), nil
		}
		return out, -1, err
	}
	return out, 0, nil
}

type Runner struct {
	mode    string
	checks  []Check
	timeout time.Duration
	exec    Executor
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Runner)

func WithExecutor(e Executor) Option {
	return func(r *Runner) { r.exec = e }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner builds a runner for the lint, test and build commands in cfg.
func NewRunner(cfg config.ChecksConfig, opts ...Option) *Runner {
	mode := cfg.Mode
	if mode == "" {
		mode = config.CheckModeAuto
	}
	r := &Runner{
		mode: mode,
		checks: []Check{
			{Name: "lint", Command: cfg.LintCmd},
			{Name: "test", Command: cfg.TestCmd},
			{Name: "build", Command: cfg.BuildCmd},
		},
		timeout: cfg.Timeout,
		exec:    ShellExecutor{},
		now:     time.Now,
		logger:  slog.Default().With("component", "checks"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Mode() string { return r.mode }

// Run executes every check in order. It only returns an error when ctx is
// cancelled; individual failures are reported in the results.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(r.checks))
	for _, c := range r.checks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, r.runOne(ctx, c))
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, c Check) Result {
	command := strings.TrimSpace(c.Command)
	switch {
	case r.mode == config.CheckModeMock, r.mode == config.CheckModeAuto && command == "":
		return Result{Name: c.Name, Status: StatusPass, Output: fmt.Sprintf("mock: %s passed", c.Name), Mocked: true}
	case command == "":
		return Result{Name: c.Name, Status: StatusSkipped, Output: "no command configured"}
	}

	cctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := r.now()
	out, code, err := r.exec.Run(cctx, command)
	res := Result{
		Name:     c.Name,
		Command:  command,
		ExitCode: code,
		Output:   string(out),
		Duration: r.now().Sub(start),
	}
	switch {
	case err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded):
		res.Status = StatusError
		res.Output = strings.TrimSpace(res.Output + fmt.Sprintf("\ntimed out after %s", r.timeout))
	case err != nil:
		res.Status = StatusError
		res.Output = strings.TrimSpace(res.Output + "\n" + err.Error())
	case code != 0:
		res.Status = StatusFail
	default:
		res.Status = StatusPass
	}
	r.logger.InfoContext(ctx, "check finished", "check", c.Name, "status", string(res.Status), "exit_code", code, "duration", res.Duration)
	return res
}

// Overall folds results into one status: error beats fail beats pass.
// Skipped checks do not affect the outcome unless every check was skipped.
func Overall(results []Result) Status {
	status, ran := StatusPass, false
	for _, r := range results {
		switch r.Status {
		case StatusError:
			return StatusError
		case StatusFail:
			status = StatusFail
			ran = true
		case StatusPass:
			ran = true
		}
	}
	if !ran {
		return StatusSkipped
	}
	return status
}

// Tail returns at most the last n bytes of s, on a line boundary when possible.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return s
}
