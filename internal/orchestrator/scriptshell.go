package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"github.com/pys60/pysbuild/internal/artifact"
)

const (
	scriptShellApp     = "PythonScriptShell"
	scriptShellDir     = "scriptshell_dir"
	scriptShellHeap    = "100K,16M"
	scriptShellVendor  = "Nokia"
	signedShellFlavor  = "high_capas_pythonteam"
	exampleScriptsLine = `@"..\..\..\..\..\internal-src\dependency_sis_files\PyS60ExampleScripts.sis", (0x20022EEA)`
)

// Scriptshell flavors built by integration and release runs.
var (
	integrationShells = []string{"high_capas_pythonteam"}
	releaseShells     = []string{"unsigned_3_0", "unsigned_3_2", "unsigned_devcert", "high_capas_pythonteam", "unsigned_high_capas"}
)

// scriptShellSources are packaged into the scriptshell private directory.
// filebrowser.py imports dir_iter.py.
var scriptShellSources = []string{
	"ext/amaretto/scriptshell/default.py",
	"ext/amaretto/scriptshell/consolidated_imports.py",
	"extras/dir_iter.py",
}

// ScriptShellName is the release name of a scriptshell package. Integration
// names carry the version tag.
func ScriptShellName(version, tag, flavor string, integration bool) string {
	if integration {
		return fmt.Sprintf("%s_%s%s_%s.sis", scriptShellApp, version, tag, flavor)
	}
	return fmt.Sprintf("%s_%s_%s.sis", scriptShellApp, version, flavor)
}

// scriptShells builds one PythonScriptShell package per flavor with
// ensymble, merges the example scripts into it and moves it to the work
// area.
func (o *Orchestrator) scriptShells(ctx context.Context, flavors []string, integration bool) error {
	return o.track(ctx, "", "", StepScriptShell, func(ctx context.Context) error {
		dir := o.path(ensymbleDir)
		tmp := filepath.Join(dir, scriptShellDir)
		if err := o.populateScriptShell(tmp); err != nil {
			return err
		}
		defer os.RemoveAll(tmp)

		for _, name := range flavors {
			if err := o.scriptShell(ctx, dir, name, integration); err != nil {
				return fmt.Errorf("%s %s: %w", scriptShellApp, name, err)
			}
		}
		return nil
	})
}

func (o *Orchestrator) scriptShell(ctx context.Context, dir, flavor string, integration bool) error {
	f, err := o.flavor(flavor)
	if err != nil {
		return err
	}
	cfg := o.Config
	sis := ScriptShellName(cfg.Version, cfg.VersionTag, f.Name, integration)
	args := []string{
		"py2sis", scriptShellDir, sis,
		"--caps=" + strings.ReplaceAll(strings.TrimSpace(f.Caps), " ", "+"),
		"-v",
		"--appname=" + scriptShellApp,
		"--version=" + cfg.Version,
		"--heapsize=" + scriptShellHeap,
		"--vendor=" + scriptShellVendor,
		"--shortcaption=Python" + cfg.Version,
		"--caption=" + scriptShellApp,
	}
	if f.UID != "" {
		args = append(args, "--uid="+f.UID)
	}
	if integration {
		args = append(args, "--ignore-missing-deps")
	}
	if err := o.Tools.Python(ctx, dir, "ensymble.py", args...); err != nil {
		return err
	}
	if err := o.mergeExampleScripts(ctx, dir, sis); err != nil {
		return err
	}
	if f.Name == signedShellFlavor {
		cert, key := o.pythonteamKey()
		if err := o.Tools.Signsis(ctx, dir, sis, sis, cert, key, ""); err != nil {
			return err
		}
	}
	mv, err := o.mover.MoveFile(ctx, filepath.Join(dir, sis), sis, false)
	if err != nil {
		return err
	}
	o.record(ctx, "scriptshell_sis", "", f.Name, mv)
	return nil
}

func (o *Orchestrator) populateScriptShell(tmp string) error {
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return err
	}
	for _, src := range scriptShellSources {
		if err := artifact.CopyPath(o.path(src), tmp); err != nil {
			return fmt.Errorf("populate scriptshell: %w", err)
		}
	}
	return nil
}

// mergeExampleScripts unpacks sis, adds the example scripts package as an
// embedded dependency and rebuilds it in place.
func (o *Orchestrator) mergeExampleScripts(ctx context.Context, dir, sis string) error {
	if err := o.Tools.Dumpsis(ctx, dir, sis); err != nil {
		return err
	}
	base := strings.TrimSuffix(sis, filepath.Ext(sis))
	extracted := filepath.Join(dir, base)
	defer os.RemoveAll(extracted)

	pkg := filepath.Join(extracted, base+".pkg")
	data, err := os.ReadFile(pkg)
	if err != nil {
		return fmt.Errorf("read extracted pkg: %w", err)
	}
	merged := asciiText(data) + "\n\n" + exampleScriptsLine
	if err := os.WriteFile(pkg, []byte(merged), 0o644); err != nil {
		return fmt.Errorf("write merged pkg: %w", err)
	}
	if err := o.Tools.Makesis(ctx, extracted, base+".pkg"); err != nil {
		return err
	}
	return artifact.MoveFile(filepath.Join(extracted, sis), filepath.Join(dir, sis))
}

// asciiText decodes a pkg file written by dumpsis, UTF-16 with a byte order
// mark or plain bytes, and drops everything makesis cannot read.
func asciiText(data []byte) string {
	var runes []rune
	if len(data) >= 2 && data[0] == 0xFF && data[1] == 0xFE {
		units := make([]uint16, 0, len(data)/2)
		for i := 2; i+1 < len(data); i += 2 {
			units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
		}
		runes = utf16.Decode(units)
	} else {
		runes = []rune(string(data))
	}
	var b strings.Builder
	for _, r := range runes {
		if r > 0 && r < 0x80 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
