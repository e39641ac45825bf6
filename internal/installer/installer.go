// Package installer assembles the Windows installer and the trimmed tar.gz
// package for hosts without the installer.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pys60/pysbuild/internal/archive"
	"github.com/pys60/pysbuild/internal/artifact"
	"github.com/pys60/pysbuild/internal/logging"
)

const (
	releaseName          = "Beta"
	projectConfiguration = "PythonForS60"
	packageName          = "PythonForS60"
)

// Compiler builds an installer project. *toolchain.Toolchain implements it.
type Compiler interface {
	InstallerCompiler(ctx context.Context, project, release, configuration string) error
}

// Assembler produces PythonForS60_<V>_<T>_Setup.exe and
// PythonForS60_<V>_<T>.tar.gz in the work area.
type Assembler struct {
	Compiler Compiler

	SourceRoot string
	WorkArea   string
	// DependencyDir is the shared directory the installer project picks the
	// dependency packages from.
	DependencyDir string
	// Project is the installer project file.
	Project string

	Version string
	Tag     string
}

// Result lists the produced files.
type Result struct {
	Setup   string
	Archive string
}

// packageFiles are copied into the PythonForS60 folder, keyed by the
// directory relative to the source root.
var packageFiles = []struct {
	dir     string
	entries []string
}{
	{"tools/py2sis/ensymble", []string{"ensymble.py", "templates", "README", "module-repo"}},
	{"tools/py2sis/ensymble_ui/images", []string{"python_logo.gif"}},
	{"tools/py2sis/ensymble_ui", []string{"ensymble_gui.pyw", "ensymble_ui_help.html"}},
	{"tools/installer/doc", []string{"Quickguide.html", "python_logo.PNG"}},
}

// installerOnly files belong to the install wizard and stay out of the tar.gz.
var installerOnly = []string{"Quickguide.html", "ensymble_gui.pyw", "ensymble_ui_help.html", "python_logo.PNG"}

// DependencyNames lists the work area packages the installer bundles.
func DependencyNames(version, tag string) []string {
	return []string{
		fmt.Sprintf("Python_%s%s_3rdEd_alabs_pythonteam.sis", version, tag),
		fmt.Sprintf("Python_%s%s_3rdEd_unsigned_alabs.sis", version, tag),
		fmt.Sprintf("PythonScriptShell_%s_unsigned_3_0.sis", version),
		fmt.Sprintf("PythonScriptShell_%s_unsigned_3_2.sis", version),
		fmt.Sprintf("PythonScriptShell_%s_unsigned_high_capas.sis", version),
		fmt.Sprintf("PythonScriptShell_%s_high_capas_pythonteam.sis", version),
		fmt.Sprintf("PythonScriptShell_%s_unsigned_devcert.sis", version),
	}
}

// SetupName is the release name of the installer executable.
func SetupName(version, tag string) string {
	return fmt.Sprintf("PythonForS60_%s_%s_Setup.exe", version, tag)
}

// ArchiveName is the release name of the tar.gz package.
func ArchiveName(version, tag string) string {
	return fmt.Sprintf("PythonForS60_%s_%s.tar.gz", version, tag)
}

// Assemble builds both packages. Whatever happens, the dependency packages
// copied into DependencyDir and the temporary package folders are removed
// before it returns; a cleanup failure is reported alongside the original
// error.
func (a *Assembler) Assemble(ctx context.Context) (res *Result, err error) {
	log := logging.FromContext(ctx)
	packageDir := filepath.Join(a.WorkArea, packageName)
	stager := artifact.NewStager(a.DependencyDir)
	defer func() {
		log.Info("cleaning installer staging", "dir", a.DependencyDir)
		cerr := stager.Cleanup()
		if rerr := os.RemoveAll(packageDir); rerr != nil {
			cerr = errors.Join(cerr, rerr)
		}
		if cerr != nil {
			err = errors.Join(err, fmt.Errorf("installer cleanup: %w", cerr))
		}
	}()

	if err := a.collect(packageDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.DependencyDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dependency dir: %w", err)
	}
	for _, name := range DependencyNames(a.Version, a.Tag) {
		if _, err := stager.Copy(filepath.Join(a.WorkArea, name)); err != nil {
			return nil, err
		}
	}

	setup, err := a.generateSetup(ctx)
	if err != nil {
		return nil, err
	}
	tarball, err := a.buildArchive(packageDir)
	if err != nil {
		return nil, err
	}
	log.Info("installer built", "setup", setup, "archive", tarball)
	return &Result{Setup: setup, Archive: tarball}, nil
}

func (a *Assembler) collect(packageDir string) error {
	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return fmt.Errorf("create package dir: %w", err)
	}
	for _, group := range packageFiles {
		for _, entry := range group.entries {
			src := filepath.Join(a.SourceRoot, filepath.FromSlash(group.dir), entry)
			if err := artifact.CopyPath(src, packageDir); err != nil {
				return fmt.Errorf("collect %s: %w", entry, err)
			}
		}
	}
	return nil
}

func (a *Assembler) generateSetup(ctx context.Context) (string, error) {
	if err := a.Compiler.InstallerCompiler(ctx, a.Project, releaseName, projectConfiguration); err != nil {
		return "", fmt.Errorf("installer compiler: %w", err)
	}
	diskDir := DiskImageDir(a.Project)
	name := SetupName(a.Version, a.Tag)
	renamed := filepath.Join(diskDir, name)
	if err := os.Rename(filepath.Join(diskDir, "setup.exe"), renamed); err != nil {
		return "", fmt.Errorf("rename setup: %w", err)
	}
	dst := filepath.Join(a.WorkArea, name)
	if err := artifact.CopyFile(renamed, dst); err != nil {
		return "", fmt.Errorf("copy setup: %w", err)
	}
	return dst, nil
}

// DiskImageDir is where the installer compiler leaves setup.exe for project.
func DiskImageDir(project string) string {
	return filepath.Join(filepath.Dir(project), packageName, projectConfiguration, releaseName, "DiskImages", "DISK1")
}

func (a *Assembler) buildArchive(packageDir string) (string, error) {
	archiveRoot := filepath.Join(a.WorkArea, packageName+"_package")
	defer os.RemoveAll(archiveRoot)

	inner := filepath.Join(archiveRoot, packageName)
	if err := artifact.CopyTree(packageDir, inner); err != nil {
		return "", fmt.Errorf("copy package: %w", err)
	}
	if err := artifact.CopyTree(a.DependencyDir, filepath.Join(inner, filepath.Base(a.DependencyDir))); err != nil {
		return "", fmt.Errorf("copy dependencies: %w", err)
	}
	dst := filepath.Join(a.WorkArea, ArchiveName(a.Version, a.Tag))
	if err := archive.TarGz(dst, archiveRoot, "", archive.ExcludeBase(installerOnly...)); err != nil {
		return "", err
	}
	return dst, nil
}
