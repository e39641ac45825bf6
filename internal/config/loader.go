package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads and parses host settings from the given YAML file path.
// Defaults are applied first, then environment overrides.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}

	applyDefaults(&s)
	applyEnv(&s)
	applyDerived(&s)
	return &s, nil
}

// LoadDefault searches for settings in standard locations and loads the first
// one found. Search order: ./pysbuild.yaml, ~/.pysbuild/config.yaml.
// When no file exists the defaults are returned.
func LoadDefault() (*Settings, error) {
	candidates := []string{"pysbuild.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".pysbuild", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	s := &Settings{}
	applyDefaults(s)
	applyEnv(s)
	applyDerived(s)
	return s, nil
}

// DefaultLedgerPath returns ~/.pysbuild/ledger.db, creating the directory if needed.
func DefaultLedgerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".pysbuild")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "ledger.db"), nil
}

func applyDefaults(s *Settings) {
	t := &s.Tools
	if t.Python == "" {
		t.Python = "python"
	}
	if t.Perl == "" {
		t.Perl = "perl"
	}
	if t.SVNVersion == "" {
		t.SVNVersion = "svnversion"
	}
	if t.InstallerCompiler == "" {
		t.InstallerCompiler = `C:\Program Files\InstallShield\2009\System\IsCmdBld.exe`
	}
	if t.InstallerProject == "" {
		t.InstallerProject = "tools/installer/PythonForS60.ism"
	}
	if t.DocsCommand == "" {
		t.DocsCommand = `C:\Ubuntu-8.10\Ubuntu.vmx`
	}

	p := &s.Paths
	if p.EpocRoot == "" {
		p.EpocRoot = "/epoc32"
	}
	if p.DependencyDir == "" {
		p.DependencyDir = `C:\Installer_Dependency\PyS60Dependencies`
	}
	if p.DocsShareDir == "" {
		p.DocsShareDir = `C:\python_share`
	}
	if p.RevisionDir == "" {
		p.RevisionDir = "../build_dep"
	}
	if p.EpocZips == nil {
		p.EpocZips = map[string]string{}
	}

	if s.Publish.Region == "" {
		s.Publish.Region = "us-east-1"
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "text"
	}
}

// applyDerived fills the paths derived from the epoc root that the settings
// left empty. It runs after applyEnv so PYSBUILD_EPOC_ROOT is honoured.
func applyDerived(s *Settings) {
	p := &s.Paths
	parent := filepath.Dir(p.EpocRoot)
	for _, edition := range []string{"3.0", "3.1", "3.2"} {
		if p.EpocZips[edition] == "" {
			p.EpocZips[edition] = filepath.Join(parent, "Epoc32_"+edition+".zip")
		}
	}
}

// applyEnv overlays PYSBUILD_* environment variables, including those from a
// .env file in the working directory.
func applyEnv(s *Settings) {
	_ = godotenv.Load()

	for name, dst := range map[string]*string{
		"PYSBUILD_CATALOG":            &s.Catalog,
		"PYSBUILD_EPOC_ROOT":          &s.Paths.EpocRoot,
		"PYSBUILD_DEPENDENCY_DIR":     &s.Paths.DependencyDir,
		"PYSBUILD_DOCS_SHARE_DIR":     &s.Paths.DocsShareDir,
		"PYSBUILD_INSTALLER":          &s.Tools.InstallerCompiler,
		"PYSBUILD_PYTHON":             &s.Tools.Python,
		"PYSBUILD_LEDGER_PATH":        &s.Ledger.Path,
		"PYSBUILD_EVENTS_DSN":         &s.Ledger.EventsDSN,
		"PYSBUILD_PUBLISH_ENDPOINT":   &s.Publish.Endpoint,
		"PYSBUILD_PUBLISH_REGION":     &s.Publish.Region,
		"PYSBUILD_PUBLISH_BUCKET":     &s.Publish.Bucket,
		"PYSBUILD_PUBLISH_PREFIX":     &s.Publish.Prefix,
		"PYSBUILD_PUBLISH_ACCESS_KEY": &s.Publish.AccessKey,
		"PYSBUILD_PUBLISH_SECRET_KEY": &s.Publish.SecretKey,
		"PYSBUILD_LOG_LEVEL":          &s.Log.Level,
		"PYSBUILD_LOG_FORMAT":         &s.Log.Format,
	} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PYSBUILD_PUBLISH_USE_SSL")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			s.Publish.UseSSL = v
		}
	}
}
