package toolchain

import (
	"context"
	"time"
)

// TestAppTimeout bounds the emulator test harness. Nothing else has a timeout.
const TestAppTimeout = 40 * time.Minute

// Bldmake runs bldmake in a project group directory.
func (t *Toolchain) Bldmake(ctx context.Context, dir string, args ...string) error {
	_, err := t.Invoke(ctx, Invocation{Name: "bldmake", Args: args, Dir: dir, ScanLog: true})
	return err
}

// Abld runs abld in a project group directory.
func (t *Toolchain) Abld(ctx context.Context, dir string, args ...string) error {
	_, err := t.Invoke(ctx, Invocation{Name: "abld", Args: args, Dir: dir, ScanLog: true})
	return err
}

// ReallyClean removes the outputs of a project for one platform. Failures are
// ignored: there may be nothing to clean.
func (t *Toolchain) ReallyClean(ctx context.Context, dir, platform string) {
	args := []string{"-keepgoing", "reallyclean"}
	if platform != "" {
		args = append(args, platform)
	}
	t.Invoke(ctx, Invocation{Name: "abld", Args: args, Dir: dir, ScanLog: true, IgnoreFailure: true})
}

// Elftran rewrites the capabilities of a linked binary in place.
func (t *Toolchain) Elftran(ctx context.Context, file, caps, compression string) error {
	args := []string{"-capability", caps}
	if compression != "" {
		args = append(args, "-compressionmethod", compression)
	}
	args = append(args, file)
	_, err := t.Invoke(ctx, Invocation{Name: "elftran", Args: args})
	return err
}

// Makesis builds a SIS package from a pkg file.
func (t *Toolchain) Makesis(ctx context.Context, dir, pkg string) error {
	_, err := t.Invoke(ctx, Invocation{Name: "makesis", Args: []string{pkg}, Dir: dir, ScanLog: true})
	return err
}

// Signsis signs in into out with the given certificate and key.
func (t *Toolchain) Signsis(ctx context.Context, dir, in, out, cert, key, pass string) error {
	args := []string{in, out, cert, key}
	if pass != "" {
		args = append(args, pass)
	}
	_, err := t.Invoke(ctx, Invocation{Name: "signsis", Args: args, Dir: dir, ScanLog: true})
	return err
}

// Dumpsis extracts a SIS package into a directory named after it.
func (t *Toolchain) Dumpsis(ctx context.Context, dir, sis string) error {
	_, err := t.Invoke(ctx, Invocation{Name: "dumpsis", Args: []string{"-x", sis}, Dir: dir})
	return err
}

// Python runs a python script.
func (t *Toolchain) Python(ctx context.Context, dir, script string, args ...string) error {
	_, err := t.Invoke(ctx, Invocation{Name: t.cfg.Python, Args: append([]string{script}, args...), Dir: dir})
	return err
}

// InstallerCompiler builds the installer project into a setup executable.
func (t *Toolchain) InstallerCompiler(ctx context.Context, project, release, configuration string) error {
	_, err := t.Invoke(ctx, Invocation{
		Name: t.cfg.InstallerCompiler,
		Args: []string{"-p", project, "-r", release, "-c", "COMP", "-a", configuration},
	})
	return err
}

// Coverage runs one of the coverage tools. Coverage failures never fail the
// build.
func (t *Toolchain) Coverage(ctx context.Context, dir, tool string, args ...string) {
	t.Invoke(ctx, Invocation{Name: tool, Args: args, Dir: dir, IgnoreFailure: true})
}

// RunTestApp runs the emulator test harness under the watchdog. A crash or a
// hang is logged but does not fail the build; the regression log decides.
func (t *Toolchain) RunTestApp(ctx context.Context, exe string) *Result {
	res, _ := t.Invoke(ctx, Invocation{Name: exe, Timeout: TestAppTimeout, IgnoreFailure: true})
	return res
}

// Exec runs an arbitrary command under the default policy.
func (t *Toolchain) Exec(ctx context.Context, dir, name string, args ...string) error {
	_, err := t.Invoke(ctx, Invocation{Name: name, Args: args, Dir: dir})
	return err
}
