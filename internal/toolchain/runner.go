// Package toolchain invokes the external SDK executables.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Invocation describes one external process.
type Invocation struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string // KEY=value pairs added to the inherited environment
	Stdin string

	// ExpectedExit lists the exit codes counted as success. Empty means {0}.
	ExpectedExit []int
	// IgnoreFailure logs and swallows any failure. Used for cleanup steps
	// that legitimately fail when there is nothing to clean.
	IgnoreFailure bool
	// Timeout kills the process when it expires. Zero waits forever.
	Timeout time.Duration
	// ScanLog feeds the output through the SDK scanlog analyser and fails the
	// invocation when it reports errors.
	ScanLog bool
}

// String renders the invocation as a command line for logs and errors.
func (inv Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, inv.Name)
	for _, a := range inv.Args {
		if a == "" || strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func (inv Invocation) expects(code int) bool {
	if len(inv.ExpectedExit) == 0 {
		return code == 0
	}
	for _, c := range inv.ExpectedExit {
		if c == code {
			return true
		}
	}
	return false
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool

	// Set when the invocation asked for scanlog analysis.
	Errors   int
	Warnings int
}

// Runner starts processes. The returned error is reserved for processes that
// could not be run at all; a non-zero exit is reported in Result.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	// Output, when set, receives a copy of the combined output of every
	// process. The release command points it at the build log.
	Output io.Writer
}

func (e *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}

	var buf bytes.Buffer
	var w io.Writer = &buf
	if e.Output != nil {
		w = io.MultiWriter(&buf, e.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	start := time.Now()
	err := cmd.Run()
	res := &Result{Output: buf.String(), Duration: time.Since(start)}
	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		res.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("exec %s: %w", inv.Name, err)
}
