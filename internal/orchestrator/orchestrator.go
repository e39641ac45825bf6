// Package orchestrator sequences the release pipeline: emulator and device
// builds over the selected platforms and flavors, packaging, the late
// parallel tasks and the installer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/db"
	"github.com/pys60/pysbuild/internal/installer"
	"github.com/pys60/pysbuild/internal/logging"
	"github.com/pys60/pysbuild/internal/metrics"
	"github.com/pys60/pysbuild/internal/runner"
	"github.com/pys60/pysbuild/internal/setup"
	"github.com/pys60/pysbuild/internal/toolchain"
)

// now is replaced in tests.
var now = time.Now

// Steps are the setup commands the pipeline drives. *setup.Env implements it.
type Steps interface {
	Clean(ctx context.Context) error
	Configure(ctx context.Context, opts config.ConfigureOptions) (*config.Snapshot, error)
	Build(ctx context.Context, opts setup.BuildOptions) error
	Test(ctx context.Context, opts setup.TestOptions) (*setup.TestReport, error)
	SetCaps(ctx context.Context, dll, exe string) error
	BdistSIS(ctx context.Context, keyDir, key string) error
	BdistSDK(ctx context.Context, createTemp bool) (string, error)
	GenerateEnsymble(ctx context.Context) error
	GenerateDocs(ctx context.Context, workArea string) error
	Coverage(ctx context.Context, workArea string) error
	TestDeviceRemote(ctx context.Context) error
}

// Tools are the SDK tools called directly by the pipeline.
// *toolchain.Toolchain implements it.
type Tools interface {
	Makesis(ctx context.Context, dir, pkg string) error
	Signsis(ctx context.Context, dir, in, out, cert, key, pass string) error
	Dumpsis(ctx context.Context, dir, sis string) error
	Python(ctx context.Context, dir, script string, args ...string) error
	InstallerCompiler(ctx context.Context, project, release, configuration string) error
}

// Ledger records the run. *db.DB implements it.
type Ledger interface {
	StartRun(r db.Run) error
	FinishRun(id string, runErr error) error
	LogPhaseEvent(e db.PhaseEvent) error
	RecordArtifact(a db.Artifact) error
	LogToolInvocation(t db.ToolInvocation) error
}

// Mirror receives a copy of the run and its phase events. *db.Mirror
// implements it.
type Mirror interface {
	PutRun(ctx context.Context, host string, r db.Run) error
	PutPhaseEvent(ctx context.Context, e db.PhaseEvent) error
}

// Installer assembles the installer packages. *installer.Assembler
// implements it.
type Installer interface {
	Assemble(ctx context.Context) (*installer.Result, error)
}

// Names of the run level steps logged next to the phases.
const (
	StepSDKZip      = "sdk_zip"
	StepEnsymble    = "generate_ensymble"
	StepEnsymbleZip = "ensymble_zip"
	StepScriptShell = "scriptshell_sis"
	StepDocs        = "generate_docs"
	StepCoverage    = "coverage"
	StepDeviceTest  = "test_device_remote"
	StepInstaller   = "installer"
	StepEnvSwap     = "env_swap"
	StepSubsystems  = "build_subsystems"
	StepSDKTest     = "sdk_test"
	StepSourceZip   = "src_zip"
)

// Orchestrator runs one build. Ledger, Mirror, Env and Installer are
// optional; Env and Installer default to the host epoc tree and the
// installer assembler.
type Orchestrator struct {
	Steps      Steps
	Tools      Tools
	Config     *config.BuildConfiguration
	Settings   *config.Settings
	SourceRoot string

	Env       Environment
	Installer Installer
	Ledger    Ledger
	Mirror    Mirror
	// Host names the build machine in the mirror.
	Host string

	run      *Run
	log      *slog.Logger
	workArea string
	keyDir   string
	mover    *artifact.Mover
}

// Run executes the pipeline selected by the configuration mode. The outcome
// is recorded in the ledger and the metrics registry.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	if err := o.init(); err != nil {
		return err
	}
	cfg := o.Config
	o.run = NewRun(uuid.NewString(), cfg.Mode)
	log := logging.FromContext(ctx).With("run", shortID(o.run.ID))
	ctx = logging.WithLogger(ctx, log)
	o.log = log

	log.Info("build started", "config", cfg)
	o.startRun(ctx)
	defer func() {
		o.finishRun(ctx, err)
		metrics.ObserveRun(string(cfg.Mode), err)
		if err != nil {
			log.Error("build failed", "err", err)
			return
		}
		log.Info("build finished", "work_area", o.workArea, "duration", now().Sub(o.run.Started).Round(time.Second))
	}()

	switch cfg.Mode {
	case config.ModeRelease:
		return o.release(ctx)
	case config.ModeIntegration:
		return o.integration(ctx)
	default:
		return o.defaultBuild(ctx)
	}
}

// State returns the run in progress or the last finished one.
func (o *Orchestrator) State() *Run {
	return o.run
}

// WorkArea is the resolved work area directory.
func (o *Orchestrator) WorkArea() string {
	return o.workArea
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.log == nil {
		return logging.Discard()
	}
	return o.log
}

// ObserveTool records a tool invocation against the current run. It has the
// signature of a toolchain observer.
func (o *Orchestrator) ObserveTool(obs toolchain.Observation) {
	metrics.ObserveTool(obs)
	if o.Ledger == nil || o.run == nil {
		return
	}
	err := o.Ledger.LogToolInvocation(db.ToolInvocation{
		RunID:      o.run.ID,
		Tool:       obs.Tool,
		ExitCode:   obs.ExitCode,
		Failed:     obs.Failed,
		Ignored:    obs.Ignored,
		DurationMs: obs.Duration.Milliseconds(),
	})
	if err != nil {
		o.logger().Warn("ledger: tool invocation not recorded", "tool", obs.Tool, "err", err)
	}
}

func (o *Orchestrator) init() error {
	switch {
	case o.Steps == nil:
		return errors.New("orchestrator: no setup steps")
	case o.Tools == nil:
		return errors.New("orchestrator: no tools")
	case o.Config == nil || o.Config.Catalog == nil:
		return errors.New("orchestrator: no build configuration")
	case o.Settings == nil:
		return errors.New("orchestrator: no host settings")
	case len(o.Config.Platforms) == 0 || len(o.Config.Flavors) == 0:
		return errors.New("orchestrator: no platforms or flavors selected")
	}
	if o.SourceRoot == "" {
		o.SourceRoot = "."
	}
	// Tools run in project directories, so every path handed to them must
	// not depend on the working directory.
	root, err := filepath.Abs(o.SourceRoot)
	if err != nil {
		return fmt.Errorf("resolve source root: %w", err)
	}
	o.SourceRoot = root
	o.workArea = o.path(o.Config.WorkArea)
	o.keyDir = o.path(o.Config.KeyDir)
	o.mover = &artifact.Mover{SourceRoot: o.SourceRoot, WorkArea: o.workArea}
	if o.Env == nil {
		o.Env = &EpocTree{Dir: o.Settings.Paths.EpocRoot, Zips: o.Settings.Paths.EpocZips}
	}
	if err := os.MkdirAll(filepath.Join(o.workArea, artifact.TestDir), 0o755); err != nil {
		return fmt.Errorf("create work area: %w", err)
	}
	return nil
}

// path resolves a source root relative path.
func (o *Orchestrator) path(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(o.SourceRoot, filepath.FromSlash(rel))
}

func (o *Orchestrator) catalog() *catalog.Catalog {
	return o.Config.Catalog
}

func (o *Orchestrator) flavor(name string) (catalog.Flavor, error) {
	f, ok := o.catalog().Flavor(name)
	if !ok {
		return f, fmt.Errorf("unknown flavor %q", name)
	}
	return f, nil
}

func (o *Orchestrator) platform(name string) (catalog.Platform, error) {
	p, ok := o.catalog().Platform(name)
	if !ok {
		return p, fmt.Errorf("unknown platform %q", name)
	}
	return p, nil
}

// configureOptions builds the configure call for a platform and flavor. A
// signed flavor is configured with its key, any other with its capabilities.
func (o *Orchestrator) configureOptions(platform string, f catalog.Flavor, internalProjects bool) config.ConfigureOptions {
	cfg := o.Config
	opts := config.ConfigureOptions{
		SDK:                platform,
		Version:            cfg.Version,
		VersionTag:         cfg.VersionTag,
		BuildProfile:       cfg.BuildProfile,
		CompilerFlags:      cfg.CompilerFlags,
		CompressionType:    cfg.CompressionType,
		IncludeInternalSrc: cfg.IncludeInternalSrc,
		InternalProjects:   internalProjects,
		ProfileLog:         cfg.ProfileLog,
	}
	if f.Signed() {
		opts.KeyDir = o.keyDir
		opts.Key = f.Key
	} else {
		opts.Caps = f.Caps
		opts.ExeCaps = f.ExeCaps
	}
	return opts
}

// advance runs fn as the given phase of k and moves k forward when it
// succeeds.
func (o *Orchestrator) advance(ctx context.Context, k Key, to Phase, fn func(context.Context) error) error {
	if err := o.run.Check(k, to); err != nil {
		return err
	}
	if err := o.track(ctx, k.Platform, k.Flavor, to.String(), fn); err != nil {
		return err
	}
	return o.run.Advance(k, to)
}

// track runs fn and records it as a phase in the ledger and the metrics.
func (o *Orchestrator) track(ctx context.Context, platform, flavor, phase string, fn func(context.Context) error) error {
	log := logging.FromContext(ctx).With("phase", phase)
	if platform != "" {
		log = log.With("platform", platform)
	}
	if flavor != "" {
		log = log.With("flavor", flavor)
	}
	ctx = logging.WithLogger(ctx, log)

	log.Info("phase started")
	o.event(ctx, platform, flavor, phase, db.EventStarted, "")
	start := now()
	err := fn(ctx)
	elapsed := now().Sub(start)
	metrics.ObservePhase(phase, elapsed, err)
	if err != nil {
		o.event(ctx, platform, flavor, phase, db.EventFailed, err.Error())
		return fmt.Errorf("%s: %w", label(phase, platform, flavor), err)
	}
	o.event(ctx, platform, flavor, phase, db.EventCompleted, "")
	log.Info("phase completed", "duration", elapsed.Round(time.Millisecond))
	return nil
}

func label(phase, platform, flavor string) string {
	parts := []string{phase}
	for _, p := range []string{platform, flavor} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// barrier runs the tasks concurrently and returns after all of them
// returned.
func (o *Orchestrator) barrier(ctx context.Context, tasks []runner.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	reports, err := runner.RunAll(ctx, tasks)
	log := logging.FromContext(ctx)
	for _, r := range reports {
		log.Info("task finished", "task", r.Name, "ok", r.Err == nil, "duration", r.Duration().Round(time.Millisecond))
	}
	return err
}

// task wraps a run level step for the barrier.
func (o *Orchestrator) task(name string, fn func(context.Context) error) runner.Task {
	return runner.Task{Name: name, Run: func(ctx context.Context) error {
		return o.track(ctx, "", "", name, fn)
	}}
}

func (o *Orchestrator) startRun(ctx context.Context) {
	r := o.ledgerRun()
	if o.Ledger != nil {
		if err := o.Ledger.StartRun(r); err != nil {
			logging.FromContext(ctx).Warn("ledger: start run", "err", err)
		}
	}
	if o.Mirror != nil {
		r.Status = db.StatusRunning
		r.StartedAt = o.run.Started.UTC().Format(db.TimeFormat)
		if err := o.Mirror.PutRun(ctx, o.Host, r); err != nil {
			logging.FromContext(ctx).Warn("mirror: start run", "err", err)
		}
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, runErr error) {
	if o.Ledger != nil {
		if err := o.Ledger.FinishRun(o.run.ID, runErr); err != nil {
			logging.FromContext(ctx).Warn("ledger: finish run", "err", err)
		}
	}
	if o.Mirror != nil {
		r := o.ledgerRun()
		r.Status = db.StatusSucceeded
		if runErr != nil {
			r.Status = db.StatusFailed
			r.Error = runErr.Error()
		}
		r.StartedAt = o.run.Started.UTC().Format(db.TimeFormat)
		r.FinishedAt = now().UTC().Format(db.TimeFormat)
		if err := o.Mirror.PutRun(ctx, o.Host, r); err != nil {
			logging.FromContext(ctx).Warn("mirror: finish run", "err", err)
		}
	}
}

func (o *Orchestrator) ledgerRun() db.Run {
	cfg := o.Config
	return db.Run{
		ID:         o.run.ID,
		Mode:       string(cfg.Mode),
		Target:     string(cfg.Target),
		Platforms:  strings.Join(cfg.Platforms, ","),
		Flavors:    strings.Join(cfg.Flavors, ","),
		Version:    cfg.Version,
		VersionTag: cfg.VersionTag,
		WorkArea:   o.workArea,
	}
}

func (o *Orchestrator) event(ctx context.Context, platform, flavor, phase, kind, detail string) {
	e := db.PhaseEvent{
		RunID:    o.run.ID,
		Platform: platform,
		Flavor:   flavor,
		Phase:    phase,
		Event:    kind,
		Detail:   detail,
	}
	if o.Ledger != nil {
		if err := o.Ledger.LogPhaseEvent(e); err != nil {
			logging.FromContext(ctx).Warn("ledger: phase event", "err", err)
		}
	}
	if o.Mirror != nil {
		e.Timestamp = now().UTC().Format(db.TimeFormat)
		if err := o.Mirror.PutPhaseEvent(ctx, e); err != nil {
			logging.FromContext(ctx).Warn("mirror: phase event", "err", err)
		}
	}
}

// record books a finalized artifact.
func (o *Orchestrator) record(ctx context.Context, kind, platform, flavor string, m artifact.Moved) {
	metrics.ObserveArtifact(kind, m.Size)
	if o.Ledger == nil {
		return
	}
	err := o.Ledger.RecordArtifact(db.Artifact{
		RunID:     o.run.ID,
		Kind:      kind,
		Platform:  platform,
		Flavor:    flavor,
		Path:      m.Path,
		SizeBytes: m.Size,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("ledger: artifact", "err", err)
	}
}

// recordFile books a file that was written in place.
func (o *Orchestrator) recordFile(ctx context.Context, kind, platform, path string) {
	info, err := os.Stat(path)
	if err != nil {
		logging.FromContext(ctx).Warn("artifact missing", "file", path, "err", err)
		return
	}
	o.record(ctx, kind, platform, "", artifact.Moved{Path: path, Size: info.Size()})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
