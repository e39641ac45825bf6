package toolchain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pys60/pysbuild/internal/logging"
)

// ToolError reports a failed external invocation.
type ToolError struct {
	Command  string
	Dir      string
	ExitCode int
	TimedOut bool
	Errors   int // scanlog error count
	Output   string
	Err      error
}

func (e *ToolError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	case e.TimedOut:
		return fmt.Sprintf("command %q timed out", e.Command)
	case e.Errors > 0:
		return fmt.Sprintf("command %q failed: scanlog reported %d errors", e.Command, e.Errors)
	default:
		return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// ErrScanLog is returned when the scanlog output carries no Total line.
var ErrScanLog = errors.New("scanlog produced no summary")

var scanlogTotalRe = regexp.MustCompile(`(?m)^Total\s+[0-9:]+\s+([0-9]+)\s+([0-9]+)`)

// ParseScanLog extracts the error and warning counts from scanlog output.
func ParseScanLog(out string) (errs, warnings int, err error) {
	m := scanlogTotalRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, ErrScanLog
	}
	errs, _ = strconv.Atoi(m[1])
	warnings, _ = strconv.Atoi(m[2])
	return errs, warnings, nil
}

// Observation describes one finished invocation.
type Observation struct {
	Tool     string
	Duration time.Duration
	ExitCode int
	Failed   bool
	Ignored  bool
}

// Observer is told about every finished invocation.
type Observer func(Observation)

// ToolName reduces an executable path to the label used in metrics and the
// ledger: base name, lower case, without .exe.
func ToolName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}

// Config locates the helper executables.
type Config struct {
	Python            string
	Perl              string
	ScanLogScript     string
	SVNVersion        string
	InstallerCompiler string
}

// Toolchain applies the failure policy of an Invocation on top of a Runner
// and knows the argument conventions of the SDK tools.
type Toolchain struct {
	runner   Runner
	cfg      Config
	observer Observer
}

// New creates a Toolchain. Empty Config fields get the conventional names.
func New(r Runner, cfg Config) *Toolchain {
	if cfg.Python == "" {
		cfg.Python = "python"
	}
	if cfg.Perl == "" {
		cfg.Perl = "perl"
	}
	if cfg.ScanLogScript == "" {
		cfg.ScanLogScript = "/epoc32/tools/scanlog.pl"
	}
	if cfg.SVNVersion == "" {
		cfg.SVNVersion = "svnversion"
	}
	return &Toolchain{runner: r, cfg: cfg}
}

// SetObserver installs an observer for invocation metrics.
func (t *Toolchain) SetObserver(o Observer) {
	t.observer = o
}

// Invoke runs inv and applies its policy: expected exit codes, scanlog
// analysis, timeout and ignore-failure.
func (t *Toolchain) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	log := logging.FromContext(ctx)
	log.Info("running", "cmd", inv.String(), "dir", inv.Dir)

	res, err := t.run(ctx, inv)
	if t.observer != nil {
		o := Observation{Tool: ToolName(inv.Name), ExitCode: -1, Failed: err != nil}
		if res != nil {
			o.Duration = res.Duration
			o.ExitCode = res.ExitCode
		}
		o.Ignored = o.Failed && inv.IgnoreFailure
		t.observer(o)
	}
	if err == nil {
		return res, nil
	}
	if inv.IgnoreFailure {
		log.Warn("ignoring failure", "cmd", inv.String(), "err", err)
		if res == nil {
			res = &Result{ExitCode: -1}
		}
		return res, nil
	}
	return res, err
}

func (t *Toolchain) run(ctx context.Context, inv Invocation) (*Result, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	res, err := t.runner.Run(ctx, inv)
	if err != nil {
		return res, &ToolError{Command: inv.String(), Dir: inv.Dir, ExitCode: -1, Err: err}
	}
	if res.TimedOut {
		return res, &ToolError{Command: inv.String(), Dir: inv.Dir, ExitCode: res.ExitCode, TimedOut: true, Output: res.Output}
	}
	if !inv.expects(res.ExitCode) {
		return res, &ToolError{Command: inv.String(), Dir: inv.Dir, ExitCode: res.ExitCode, Output: res.Output}
	}
	if !inv.ScanLog {
		return res, nil
	}

	scan, err := t.runner.Run(ctx, Invocation{
		Name:  t.cfg.Perl,
		Args:  []string{t.cfg.ScanLogScript},
		Dir:   inv.Dir,
		Stdin: res.Output,
	})
	if err != nil {
		return res, &ToolError{Command: inv.String(), Dir: inv.Dir, Err: fmt.Errorf("scanlog: %w", err)}
	}
	res.Errors, res.Warnings, err = ParseScanLog(scan.Output)
	if err != nil {
		return res, &ToolError{Command: inv.String(), Dir: inv.Dir, Output: res.Output, Err: err}
	}
	if res.Errors > 0 {
		return res, &ToolError{Command: inv.String(), Dir: inv.Dir, Errors: res.Errors, Output: res.Output}
	}
	return res, nil
}

// Revision returns the working copy revision of dir as reported by svnversion.
func (t *Toolchain) Revision(ctx context.Context, dir string) (string, error) {
	res, err := t.Invoke(ctx, Invocation{Name: t.cfg.SVNVersion, Args: []string{dir}})
	if err != nil {
		return "", err
	}
	rev := strings.TrimSpace(res.Output)
	if rev == "" || strings.HasPrefix(rev, "exported") || strings.HasPrefix(rev, "Unversioned") {
		return "", fmt.Errorf("no revision for %s: %q", dir, rev)
	}
	return rev, nil
}
