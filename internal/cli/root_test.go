package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pys60/pysbuild/internal/config"
	"github.com/pys60/pysbuild/internal/db"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// writeSettings writes a settings file keeping the ledger inside the test
// directory.
func writeSettings(t *testing.T) (cfgPath, ledgerPath string) {
	t.Helper()
	dir := t.TempDir()
	ledgerPath = filepath.Join(dir, "ledger.db")
	cfgPath = filepath.Join(dir, "pysbuild.yaml")
	data := "paths:\n  epoc_root: " + filepath.ToSlash(filepath.Join(dir, "epoc32")) +
		"\nledger:\n  path: " + filepath.ToSlash(ledgerPath) + "\nlog:\n  level: error\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return cfgPath, ledgerPath
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"release", "catalog", "history", "publish", "db", "version",
		"configure", "build", "test", "bdist_sdk", "bdist_sis", "setcaps",
		"generate_docs", "generate_ensymble", "coverage", "clean", "obb",
		"test_device_local", "test_device_remote",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestReleaseHelpListsFlags(t *testing.T) {
	out, err := executeCommand("release", "--help")
	if err != nil {
		t.Fatalf("release --help: %v", err)
	}
	for _, flag := range []string{
		"--sdk", "--flavors", "--version-tag", "--targets", "--release-build",
		"--integration-build", "--without-src-zip", "--create-temp-sdk-zip", "--profile_log",
	} {
		if !strings.Contains(out, flag) {
			t.Errorf("release --help does not mention %s", flag)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	for _, args := range [][]string{
		{"catalog", "list"}, {"catalog", "validate"}, {"catalog", "show"},
		{"history", "list"}, {"history", "show"}, {"history", "stats"},
		{"db", "migrate"}, {"db", "reset"},
	} {
		out, err := executeCommand(append(args, "--help")...)
		if err != nil {
			t.Errorf("%v --help failed: %v", args, err)
		}
		if out == "" {
			t.Errorf("%v --help produced no output", args)
		}
	}
}

func TestReleaseOptions(t *testing.T) {
	f := pflag.NewFlagSet("release", pflag.ContinueOnError)
	addReleaseFlags(f)
	if err := f.Parse([]string{"-s", "30armv5,32", "-f", "unsigned_alabs", "-r", "final", "--release-build", "-d", "-p"}); err != nil {
		t.Fatal(err)
	}
	got := releaseOptions(f)
	want := config.DefaultOptions()
	want.SDK = "30armv5,32"
	want.Flavors = "unsigned_alabs"
	want.VersionTag = "final"
	want.ReleaseBuild = true
	want.Docs = true
	want.ProfileLog = true
	if got != want {
		t.Errorf("releaseOptions =\n%+v\nwant\n%+v", got, want)
	}
}

func TestConfigureOptionsDefaults(t *testing.T) {
	f := pflag.NewFlagSet("configure", pflag.ContinueOnError)
	addConfigureFlags(f)
	if err := f.Parse([]string{"--sdk", "30gcce", "--key", "pythonteam"}); err != nil {
		t.Fatal(err)
	}
	got := configureOptions(f)
	want := config.DefaultConfigureOptions()
	want.SDK = "30gcce"
	want.Key = "pythonteam"
	if got != want {
		t.Errorf("configureOptions =\n%+v\nwant\n%+v", got, want)
	}
}

func TestSourceRootIsAbsolute(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cmd := &cobra.Command{}
	cmd.Flags().String("source-root", ".", "")
	if err := cmd.Flags().Set("source-root", "src"); err != nil {
		t.Fatal(err)
	}
	got := sourceRoot(cmd)
	if !filepath.IsAbs(got) || filepath.Base(got) != "src" {
		t.Errorf("sourceRoot() = %q, want an absolute path ending in src", got)
	}
}

func TestReleaseFailurePrintsBanner(t *testing.T) {
	cfg, _ := writeSettings(t)
	root := t.TempDir()
	out, err := executeCommand("release", "--config", cfg, "-C", root, "-r", "final", "-s", "no_such_sdk")
	if err == nil {
		t.Fatal("expected error for unknown platform")
	}
	var ve *config.ValidationError
	if !errors.As(err, &ve) || ve.Field != "sdk" {
		t.Errorf("err = %v, want sdk validation error", err)
	}
	if !strings.Contains(out, buildFailed) {
		t.Errorf("output lacks %q:\n%s", buildFailed, out)
	}
	if _, statErr := os.Stat(filepath.Join(root, "build")); !os.IsNotExist(statErr) {
		t.Error("work area created for an invalid configuration")
	}
}

func TestCatalogListBuiltin(t *testing.T) {
	cfg, _ := writeSettings(t)
	out, err := executeCommand("catalog", "list", "--config", cfg)
	if err != nil {
		t.Fatalf("catalog list: %v", err)
	}
	for _, want := range []string{"unsigned_high_capas", "0x20022EE9", "alabs_pythonteam", "30armv5", "S60 3rd Ed. w/ GCCE compiler"} {
		if !strings.Contains(out, want) {
			t.Errorf("catalog list output missing %q", want)
		}
	}
}

func TestCatalogShow(t *testing.T) {
	cfg, _ := writeSettings(t)
	out, err := executeCommand("catalog", "show", "flavor", "alabs_pythonteam", "--config", cfg)
	if err != nil {
		t.Fatalf("catalog show: %v", err)
	}
	if !strings.Contains(out, "key: pythonteam") {
		t.Errorf("catalog show output = %q", out)
	}

	if _, err := executeCommand("catalog", "show", "flavor", "no_such_flavor", "--config", cfg); err == nil {
		t.Error("expected error for unknown flavor")
	}
	if _, err := executeCommand("catalog", "show", "widget", "x", "--config", cfg); err == nil {
		t.Error("expected error for unknown entry kind")
	}
}

func TestCatalogValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(good, []byte("flavors:\n  - name: lab\n    caps: LocalServices\n"), 0o644)
	os.WriteFile(bad, []byte("flavors:\n  - name: broken\n"), 0o644)

	out, err := executeCommand("catalog", "validate", good)
	if err != nil {
		t.Fatalf("validate good catalog: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("output = %q", out)
	}

	out, err = executeCommand("catalog", "validate", bad)
	if err == nil {
		t.Fatal("expected error for a flavor without key or capabilities")
	}
	if !strings.Contains(out, "broken") {
		t.Errorf("output does not name the broken flavor: %q", out)
	}
}

func TestHistory(t *testing.T) {
	cfg, ledgerPath := writeSettings(t)

	out, err := executeCommand("history", "list", "--config", cfg, "--ledger", ledgerPath)
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "No runs recorded.") {
		t.Errorf("empty ledger output = %q", out)
	}

	d, err := db.Open(ledgerPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatal(err)
	}
	id := "3f2a9c1e-0000-4000-8000-000000000001"
	d.StartRun(db.Run{ID: id, Mode: "release", Version: "2.0.0", VersionTag: "svn1234", Platforms: "30armv5"})
	d.LogPhaseEvent(db.PhaseEvent{RunID: id, Platform: "30armv5", Flavor: "unsigned_high_capas", Phase: "DeviceBuilt", Event: db.EventStarted})
	d.LogPhaseEvent(db.PhaseEvent{RunID: id, Platform: "30armv5", Flavor: "unsigned_high_capas", Phase: "DeviceBuilt", Event: db.EventFailed, Detail: "abld failed"})
	d.FinishRun(id, errors.New("DeviceBuilt 30armv5 unsigned_high_capas: abld failed"))
	d.Close()

	out, err = executeCommand("history", "list", "--config", cfg, "--ledger", ledgerPath)
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "3f2a9c1e") || !strings.Contains(out, "failed") {
		t.Errorf("history list output = %q", out)
	}

	out, err = executeCommand("history", "show", "3f2a", "--config", cfg, "--ledger", ledgerPath)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	for _, want := range []string{"FAILED", "DeviceBuilt", "abld failed", "2.0.0svn1234"} {
		if !strings.Contains(out, want) {
			t.Errorf("history show output missing %q:\n%s", want, out)
		}
	}

	if _, err := executeCommand("history", "show", "ffff", "--config", cfg, "--ledger", ledgerPath); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestDBResetRequiresConfirmation(t *testing.T) {
	cfg, ledgerPath := writeSettings(t)
	if _, err := executeCommand("db", "reset", "--config", cfg, "--ledger", ledgerPath); err == nil {
		t.Fatal("db reset without --yes succeeded")
	}
	out, err := executeCommand("db", "reset", "--yes", "--config", cfg, "--ledger", ledgerPath)
	if err != nil {
		t.Fatalf("db reset --yes: %v", err)
	}
	if !strings.Contains(out, "reset") {
		t.Errorf("output = %q", out)
	}
	// flags persist on the package level commands
	dbResetCmd.Flags().Set("yes", "false")
}
