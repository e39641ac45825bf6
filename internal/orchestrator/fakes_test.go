package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pys60/pysbuild/internal/archive"
	"github.com/pys60/pysbuild/internal/catalog"
	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/db"
	"github.com/pys60/pysbuild/internal/installer"
	"github.com/pys60/pysbuild/internal/setup"
)

// fakeSteps records setup commands. Calls whose name starts with a key of
// fail return that error.
type fakeSteps struct {
	root    string
	scratch string

	mu         sync.Mutex
	calls      []string
	configured []config.ConfigureOptions
	fail       map[string]error
	onBdistSIS func(key string)
}

func (f *fakeSteps) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	for prefix, err := range f.fail {
		if strings.HasPrefix(call, prefix) {
			return err
		}
	}
	return nil
}

func (f *fakeSteps) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSteps) Clean(ctx context.Context) error { return f.record("clean") }

func (f *fakeSteps) Configure(ctx context.Context, opts config.ConfigureOptions) (*config.Snapshot, error) {
	f.mu.Lock()
	f.configured = append(f.configured, opts)
	f.mu.Unlock()
	if err := f.record("configure " + opts.SDK); err != nil {
		return nil, err
	}
	return &config.Snapshot{SDK: opts.SDK}, nil
}

func (f *fakeSteps) Build(ctx context.Context, opts setup.BuildOptions) error {
	switch {
	case opts.Subsystem != "":
		return f.record("build " + opts.Subsystem)
	case opts.Emu:
		return f.record("build emu")
	default:
		return f.record("build device")
	}
}

func (f *fakeSteps) Test(ctx context.Context, opts setup.TestOptions) (*setup.TestReport, error) {
	call := "test"
	if opts.SDKVersion != "" {
		call += " " + opts.SDKVersion
	}
	if err := f.record(call); err != nil {
		return nil, err
	}
	return &setup.TestReport{}, nil
}

func (f *fakeSteps) SetCaps(ctx context.Context, dll, exe string) error {
	return f.record("setcaps " + dll)
}

func (f *fakeSteps) BdistSIS(ctx context.Context, keyDir, key string) error {
	if err := f.record(strings.TrimSpace("bdist_sis " + key)); err != nil {
		return err
	}
	if f.onBdistSIS != nil {
		f.onBdistSIS(key)
	}
	return nil
}

// BdistSDK writes a real zip holding one header file, the way bdist_sdk
// leaves Python_SDK_3rdEd.zip at the top of the tree.
func (f *fakeSteps) BdistSDK(ctx context.Context, createTemp bool) (string, error) {
	call := "bdist_sdk"
	if createTemp {
		call += " temp"
	}
	if err := f.record(call); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content := filepath.Join(f.scratch, "sdk", "epoc32", "include", "python", "Python.h")
	if err := os.MkdirAll(filepath.Dir(content), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(content, []byte(call), 0o644); err != nil {
		return "", err
	}
	zip := filepath.Join(f.root, "Python_SDK_3rdEd.zip")
	if err := archive.ZipDir(zip, filepath.Join(f.scratch, "sdk"), "", nil); err != nil {
		return "", err
	}
	return zip, nil
}

// GenerateEnsymble recreates the module repository like genensymble.py.
func (f *fakeSteps) GenerateEnsymble(ctx context.Context) error {
	if err := f.record("generate_ensymble"); err != nil {
		return err
	}
	repo := filepath.Join(f.root, "tools", "py2sis", "ensymble", "module-repo")
	if err := os.MkdirAll(repo, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(repo, "module_dependency.cfg"), []byte("{}"), 0o644)
}

func (f *fakeSteps) GenerateDocs(ctx context.Context, workArea string) error {
	return f.record("generate_docs")
}

func (f *fakeSteps) Coverage(ctx context.Context, workArea string) error {
	return f.record("coverage")
}

func (f *fakeSteps) TestDeviceRemote(ctx context.Context) error {
	return f.record("test_device_remote")
}

// fakeTools records SDK tool calls and leaves the files the real tools
// would write.
type fakeTools struct {
	mu    sync.Mutex
	calls []string
	pkgs  map[string]string
	fail  map[string]error
	signs []signCall
}

// signCall is one signsis invocation with its arguments as passed.
type signCall struct {
	dir, cert, key string
}

// resolveFrom returns path as a process started in dir would open it.
func resolveFrom(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (f *fakeTools) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	for prefix, err := range f.fail {
		if strings.HasPrefix(call, prefix) {
			return err
		}
	}
	return nil
}

func (f *fakeTools) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func touch(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func (f *fakeTools) Makesis(ctx context.Context, dir, pkg string) error {
	if err := f.record("makesis " + pkg); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(dir, pkg))
	if err == nil {
		f.mu.Lock()
		if f.pkgs == nil {
			f.pkgs = make(map[string]string)
		}
		f.pkgs[pkg] = string(data)
		f.mu.Unlock()
	}
	return touch(filepath.Join(dir, strings.TrimSuffix(pkg, ".pkg")+".sis"), "sis")
}

func (f *fakeTools) Signsis(ctx context.Context, dir, in, out, cert, key, pass string) error {
	if err := f.record("signsis " + in + " " + out + " " + filepath.Base(cert)); err != nil {
		return err
	}
	f.mu.Lock()
	f.signs = append(f.signs, signCall{dir: dir, cert: cert, key: key})
	f.mu.Unlock()
	for _, p := range []string{cert, key} {
		if _, err := os.Stat(resolveFrom(dir, p)); err != nil {
			return fmt.Errorf("signsis in %s: %w", dir, err)
		}
	}
	return touch(filepath.Join(dir, out), "signed "+in)
}

// Dumpsis extracts a pkg written as UTF-16 with a byte order mark.
func (f *fakeTools) Dumpsis(ctx context.Context, dir, sis string) error {
	if err := f.record("dumpsis " + sis); err != nil {
		return err
	}
	base := strings.TrimSuffix(sis, ".sis")
	pkg := []byte{0xFF, 0xFE}
	for _, r := range "#{\"PythonScriptShell\"},(0x20022EE9)é" {
		pkg = append(pkg, byte(r), byte(r>>8))
	}
	return touch(filepath.Join(dir, base, base+".pkg"), string(pkg))
}

// Python answers ensymble py2sis by writing the package.
func (f *fakeTools) Python(ctx context.Context, dir, script string, args ...string) error {
	if err := f.record(strings.TrimSpace("python " + script + " " + strings.Join(args, " "))); err != nil {
		return err
	}
	if script == "ensymble.py" && len(args) > 2 && args[0] == "py2sis" {
		return touch(filepath.Join(dir, args[2]), "ensymble")
	}
	return nil
}

func (f *fakeTools) InstallerCompiler(ctx context.Context, project, release, configuration string) error {
	return f.record("installer " + filepath.Base(project))
}

type fakeEnv struct {
	dir string

	mu    sync.Mutex
	calls []string
}

func (e *fakeEnv) Root() string { return e.dir }

func (e *fakeEnv) add(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *fakeEnv) Reset(ctx context.Context, edition string) error {
	e.add("reset " + edition)
	return nil
}

func (e *fakeEnv) Install(ctx context.Context, zip string) error {
	e.add("install " + filepath.Base(zip))
	if _, err := os.Stat(zip); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	return nil
}

func (e *fakeEnv) Remove(ctx context.Context) error {
	e.add("remove")
	return nil
}

func (e *fakeEnv) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type fakeInstaller struct {
	workArea string
	calls    int
	err      error
}

func (f *fakeInstaller) Assemble(ctx context.Context) (*installer.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	res := &installer.Result{
		Setup:   filepath.Join(f.workArea, installer.SetupName("2.0.0", "svn1234")),
		Archive: filepath.Join(f.workArea, installer.ArchiveName("2.0.0", "svn1234")),
	}
	for _, p := range []string{res.Setup, res.Archive} {
		if err := touch(p, "x"); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	runs      map[string]db.Run
	finished  map[string]error
	events    []db.PhaseEvent
	artifacts []db.Artifact
	tools     []db.ToolInvocation
	// toolErr is returned by LogToolInvocation.
	toolErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{runs: map[string]db.Run{}, finished: map[string]error{}}
}

func (l *fakeLedger) StartRun(r db.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[r.ID] = r
	return nil
}

func (l *fakeLedger) FinishRun(id string, runErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.runs[id]; !ok {
		return fmt.Errorf("run %s not found", id)
	}
	l.finished[id] = runErr
	return nil
}

func (l *fakeLedger) LogPhaseEvent(e db.PhaseEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *fakeLedger) RecordArtifact(a db.Artifact) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.artifacts = append(l.artifacts, a)
	return nil
}

func (l *fakeLedger) LogToolInvocation(t db.ToolInvocation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.toolErr != nil {
		return l.toolErr
	}
	l.tools = append(l.tools, t)
	return nil
}

// fixture is a source tree with the files the pipeline copies itself.
type fixture struct {
	root   string
	steps  *fakeSteps
	tools  *fakeTools
	env    *fakeEnv
	inst   *fakeInstaller
	ledger *fakeLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	top := t.TempDir()
	root := filepath.Join(top, "src")
	for _, name := range []string{teamKey + ".crt", teamKey + ".key"} {
		if err := touch(filepath.Join(top, "keys", name), name); err != nil {
			t.Fatal(err)
		}
	}
	for rel, content := range map[string]string{
		"setup.py":                                         "setup",
		"tools/py2sis/ensymble/ensymble.py":                "ensymble",
		"tools/py2sis/ensymble/README":                     "readme",
		"tools/py2sis/ensymble/templates/app.tpl":          "tpl",
		"tools/py2sis/ensymble/module-repo/m.cfg":          "repo",
		"ext/amaretto/scriptshell/default.py":              "default",
		"ext/amaretto/scriptshell/consolidated_imports.py": "imports",
		"extras/dir_iter.py":                               "dir_iter",
	} {
		if err := touch(filepath.Join(root, filepath.FromSlash(rel)), content); err != nil {
			t.Fatal(err)
		}
	}
	epoc := filepath.Join(t.TempDir(), "epoc32")
	if err := touch(filepath.Join(epoc, filepath.FromSlash(scriptextPyd)), "pyd"); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		root:   root,
		steps:  &fakeSteps{root: root, scratch: t.TempDir()},
		tools:  &fakeTools{},
		env:    &fakeEnv{dir: epoc},
		inst:   &fakeInstaller{workArea: filepath.Join(root, "build")},
		ledger: newFakeLedger(),
	}
}

func (f *fixture) resolve(t *testing.T, opts config.Options) *config.BuildConfiguration {
	t.Helper()
	opts.WorkArea = "build"
	opts.KeyDir = "../keys"
	opts.Revision = "1234"
	cfg, err := config.Resolve(catalog.Builtin(), opts)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return cfg
}

func (f *fixture) orchestrator(cfg *config.BuildConfiguration) *Orchestrator {
	return &Orchestrator{
		Steps:      f.steps,
		Tools:      f.tools,
		Config:     cfg,
		Settings:   &config.Settings{},
		SourceRoot: f.root,
		Env:        f.env,
		Installer:  f.inst,
		Ledger:     f.ledger,
	}
}

func (f *fixture) workFile(t *testing.T, rel string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(f.root, "build", filepath.FromSlash(rel))); err != nil {
		t.Errorf("work area file %s: %v", rel, err)
	}
}
