// Package toolchaintest provides a recording toolchain.Runner for tests.
package toolchaintest

import (
	"context"
	"strings"
	"sync"

	"github.com/pys60/pysbuild/internal/toolchain"
)

// CleanScan is the scanlog summary of a build without errors.
const CleanScan = "Total 00:00:01 0 0\n"

// Response is what the Recorder answers for a matching invocation.
type Response struct {
	ExitCode int
	Output   string
	TimedOut bool
	Err      error
	// Do runs before the response is returned, e.g. to create the files a
	// real tool would have produced.
	Do func(inv toolchain.Invocation)
}

// Recorder records invocations and answers them from a rule table.
// Unmatched invocations succeed; scanlog runs report a clean build.
// It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	calls []toolchain.Invocation
	rules []rule
}

type rule struct {
	prefix string
	resp   Response
}

// On registers a response for invocations whose command line starts with
// prefix. Later rules take precedence.
func (r *Recorder) On(prefix string, resp Response) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{prefix: prefix, resp: resp})
	return r
}

func (r *Recorder) Run(ctx context.Context, inv toolchain.Invocation) (*toolchain.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, inv)
	var resp *Response
	line := inv.String()
	for i := len(r.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, r.rules[i].prefix) {
			resp = &r.rules[i].resp
			break
		}
	}
	r.mu.Unlock()

	if resp == nil {
		out := ""
		if isScan(inv) {
			out = CleanScan
		}
		return &toolchain.Result{Output: out}, nil
	}
	if resp.Do != nil {
		resp.Do(inv)
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &toolchain.Result{ExitCode: resp.ExitCode, Output: resp.Output, TimedOut: resp.TimedOut}, nil
}

// Calls returns the recorded invocations, scanlog runs excluded.
func (r *Recorder) Calls() []toolchain.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []toolchain.Invocation
	for _, c := range r.calls {
		if !isScan(c) {
			out = append(out, c)
		}
	}
	return out
}

// Lines returns the recorded command lines, scanlog runs excluded.
func (r *Recorder) Lines() []string {
	var out []string
	for _, c := range r.Calls() {
		out = append(out, c.String())
	}
	return out
}

// Count returns how many recorded command lines start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func isScan(inv toolchain.Invocation) bool {
	return len(inv.Args) == 1 && strings.HasSuffix(inv.Args[0], "scanlog.pl")
}
