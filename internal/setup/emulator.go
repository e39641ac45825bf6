package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/logging"
)

const regrtestLog = "regrtest_emu.log"

// TestOptions configure an emulator regression run.
type TestOptions struct {
	// Args are written to options.txt, one per line, for the harness.
	Args []string
	// SDKVersion suffixes the collected log name. Defaults to "_x86".
	SDKVersion string
	// UseTestsetsCfg runs the sets listed in testsets.cfg instead of Args.
	UseTestsetsCfg bool
}

// TestReport tells where the regression log went.
type TestReport struct {
	Log      string
	ExitCode int
	TimedOut bool
}

// Test runs the regression harness on the emulator and collects its log into
// build/test. A crashed or hung harness is not an error; a missing log is
// reported with an empty TestReport.Log.
func (e *Env) Test(ctx context.Context, opts TestOptions) (*TestReport, error) {
	log := logging.FromContext(ctx)
	if _, err := e.Snapshot(); err != nil {
		return nil, err
	}
	if opts.SDKVersion == "" {
		opts.SDKVersion = "_x86"
	}

	testDir := e.EmulatorTestDir()
	if !opts.UseTestsetsCfg {
		if err := os.MkdirAll(testDir, 0o755); err != nil {
			return nil, err
		}
		content := strings.Join(opts.Args, "\n")
		if err := os.WriteFile(filepath.Join(testDir, "options.txt"), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write test options: %w", err)
		}
	}

	report := &TestReport{}
	err := e.withTextShell(func() {
		res := e.Tools.RunTestApp(ctx, e.epoc("release", "winscw", "udeb", "testapp.exe"))
		report.ExitCode, report.TimedOut = res.ExitCode, res.TimedOut
	})
	if err != nil {
		return nil, err
	}
	if report.ExitCode != 0 {
		log.Warn("testapp crashed", "code", report.ExitCode, "timed_out", report.TimedOut)
	}

	if err := os.MkdirAll(e.TestDataDir(), 0o755); err != nil {
		return nil, err
	}
	src := filepath.Join(testDir, regrtestLog)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		log.Warn("regrtest log was not created by testapp")
		return report, nil
	}
	name := "regrtest_emulator" + opts.SDKVersion + ".log"
	report.Log = filepath.Join(e.TestDataDir(), name)
	if err := artifact.MoveFile(src, report.Log); err != nil {
		return nil, fmt.Errorf("collect regrtest log: %w", err)
	}
	if opts.SDKVersion == "_3_2" || opts.SDKVersion == "_x86" {
		if err := e.Tools.Python(ctx, e.TestDataDir(), e.path("tools/regrtest_log_to_cruisecontrol.py"), name); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// withTextShell runs fn with the emulator switched to text shell mode. The
// original epoc.ini is restored afterwards.
func (e *Env) withTextShell(fn func()) (err error) {
	ini := e.epoc("data", "epoc.ini")
	bak := ini + ".bak"
	if _, statErr := os.Stat(bak); errors.Is(statErr, os.ErrNotExist) {
		if err := os.Rename(ini, bak); err != nil {
			return fmt.Errorf("back up epoc.ini: %w", err)
		}
	}
	orig, err := os.ReadFile(bak)
	if err != nil {
		return fmt.Errorf("read epoc.ini: %w", err)
	}
	defer func() {
		os.Remove(ini)
		if rerr := os.Rename(bak, ini); rerr != nil && err == nil {
			err = fmt.Errorf("restore epoc.ini: %w", rerr)
		}
	}()
	if err := os.WriteFile(ini, append([]byte("textshell\n"), orig...), 0o644); err != nil {
		return fmt.Errorf("write epoc.ini: %w", err)
	}
	fn()
	return nil
}
