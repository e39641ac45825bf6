package setup

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/logging"
)

// CoverageConfig is tools/ctc.cfg: the SDK to measure on and the group
// directories to instrument.
type CoverageConfig struct {
	SDK  string
	Dirs []string
}

// LoadCoverageConfig parses KEY=VALUE lines; '#' starts a comment line and
// COVERAGE_DIRS is '|' separated.
func LoadCoverageConfig(path string) (*CoverageConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read coverage config: %w", err)
	}
	defer f.Close()

	cfg := &CoverageConfig{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		switch strings.TrimSpace(key) {
		case "SDK":
			cfg.SDK = strings.TrimSpace(value)
		case "COVERAGE_DIRS":
			for _, d := range strings.Split(value, "|") {
				if d = strings.TrimSpace(d); d != "" {
					cfg.Dirs = append(cfg.Dirs, d)
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cfg.SDK == "" || len(cfg.Dirs) == 0 {
		return nil, fmt.Errorf("%s: SDK and COVERAGE_DIRS are required", path)
	}
	return cfg, nil
}

// Coverage builds an instrumented emulator build, runs the regression suite
// on it and converts the collected data to HTML under
// <workArea>/test/code_coverage. Coverage tool failures are logged only.
func (e *Env) Coverage(ctx context.Context, workArea string) error {
	log := logging.FromContext(ctx)
	snap, err := e.Snapshot()
	if err != nil {
		return err
	}
	snap.Coverage = true
	if err := config.SaveSnapshot(e.SourceRoot, snap); err != nil {
		return err
	}

	cc, err := LoadCoverageConfig(e.path("tools/ctc.cfg"))
	if err != nil {
		return err
	}
	opts := config.DefaultConfigureOptions()
	opts.SDK = cc.SDK
	opts.SkipPyCompile = true
	if _, err := e.Configure(ctx, opts); err != nil {
		return err
	}
	if err := e.Build(ctx, BuildOptions{Emu: true}); err != nil {
		return err
	}

	for _, d := range cc.Dirs {
		dir := e.path(d)
		if err := e.Tools.Abld(ctx, dir, "reallyclean"); err != nil {
			return err
		}
		if err := e.Tools.Bldmake(ctx, dir, "clean"); err != nil {
			return err
		}
		if err := e.Tools.Bldmake(ctx, dir, "bldfiles"); err != nil {
			return err
		}
		e.Tools.Coverage(ctx, dir, "ctcwrap", "-i", "m", "-v", "abld", "build", "winscw", "udeb")
	}

	resultDir := filepath.Join(e.path(workArea), "test")
	failed, err := instrumentationFailed(resultDir)
	if err != nil {
		return err
	}
	if failed {
		log.Warn("instrumentation failed, skipping coverage run")
		return nil
	}

	if err := e.withTextShell(func() {
		e.Tools.RunTestApp(ctx, e.epoc("release", "winscw", "udeb", "testapp.exe"))
	}); err != nil {
		return err
	}
	group := e.path("newcore/Symbian/group")
	e.Tools.Coverage(ctx, group, "ctcpost", "MON.sym", "MON.dat", "-p", "profile.txt")
	e.Tools.Coverage(ctx, group, "ctc2html", "-i", "profile.txt")
	if html := filepath.Join(group, "CTCHTML"); isDir(html) {
		if err := artifact.CopyTree(html, filepath.Join(resultDir, "code_coverage")); err != nil {
			return fmt.Errorf("collect coverage report: %w", err)
		}
	}
	return nil
}

// instrumentationFailed looks for ctcwrap errors in the build logs of dir.
func instrumentationFailed(dir string) (bool, error) {
	logs, err := filepath.Glob(filepath.Join(dir, "pys60_build_log*.log"))
	if err != nil {
		return false, err
	}
	for _, l := range logs {
		data, err := os.ReadFile(l)
		if err != nil {
			return false, err
		}
		if strings.Contains(string(data), "CTC++ Error") {
			return true, nil
		}
	}
	return false, nil
}
