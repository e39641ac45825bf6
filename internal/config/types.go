package config

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pys60/pysbuild/internal/catalog"
)

// Settings is the per-host configuration parsed from pysbuild.yaml.
// It holds the environment dependent paths and service endpoints; nothing in
// here changes what gets built.
type Settings struct {
	Catalog string          `yaml:"catalog"`
	Tools   ToolSettings    `yaml:"tools"`
	Paths   PathSettings    `yaml:"paths"`
	Ledger  LedgerSettings  `yaml:"ledger"`
	Publish PublishSettings `yaml:"publish"`
	Log     LogSettings     `yaml:"log"`
}

// ScanLogPath returns the scanlog script, defaulting to the copy shipped in
// the epoc tree.
func (s *Settings) ScanLogPath() string {
	if s.Tools.ScanLog != "" {
		return s.Tools.ScanLog
	}
	return filepath.Join(s.Paths.EpocRoot, "tools", "scanlog.pl")
}

// ToolSettings locates the external executables.
type ToolSettings struct {
	Python            string `yaml:"python"`
	Perl              string `yaml:"perl"`
	ScanLog           string `yaml:"scanlog"`
	InstallerCompiler string `yaml:"installer_compiler"`
	InstallerProject  string `yaml:"installer_project"`
	SVNVersion        string `yaml:"svnversion"`
	DocsCommand       string `yaml:"docs_command"`
}

// PathSettings holds host paths the pipeline reads from or writes to.
type PathSettings struct {
	EpocRoot      string            `yaml:"epoc_root"`
	DependencyDir string            `yaml:"dependency_dir"`
	DocsShareDir  string            `yaml:"docs_share_dir"`
	RevisionDir   string            `yaml:"revision_dir"`
	CodeSizeLog   string            `yaml:"code_size_log"`
	EpocZips      map[string]string `yaml:"epoc_zips"`
}

// LedgerSettings configures the run ledger.
type LedgerSettings struct {
	Path      string `yaml:"path"`
	EventsDSN string `yaml:"events_dsn"`
}

// PublishSettings configures artifact upload to an S3 compatible store.
type PublishSettings struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LogSettings selects the log handler.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Mode selects which pipeline the release command runs.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeIntegration Mode = "integration"
	ModeRelease     Mode = "release"
)

// Target selects the emulator pipeline, the device pipeline or both.
type Target string

const (
	TargetEmu    Target = "emu"
	TargetDevice Target = "device"
	TargetAll    Target = "all"
)

const (
	ProfileIntegration = "integration"
	ProfileRelease     = "release"
)

// BuildConfiguration is the resolved configuration of one release run.
// It is created once by Resolve and only read afterwards.
type BuildConfiguration struct {
	Mode            Mode     `json:"mode"`
	Target          Target   `json:"target"`
	Platforms       []string `json:"platforms"`
	Flavors         []string `json:"flavors"`
	Version         string   `json:"version"`
	VersionTag      string   `json:"version_tag"`
	BuildProfile    string   `json:"build_profile"`
	WorkArea        string   `json:"work_area"`
	KeyDir          string   `json:"key_dir"`
	CompressionType string   `json:"compression_type"`
	CompilerFlags   string   `json:"compiler_flags"`

	IncludeInternalSrc bool `json:"include_internal_src"`
	InternalProjects   bool `json:"internal_projects"`
	GenerateDocs       bool `json:"generate_docs"`
	WithoutSrcZip      bool `json:"without_src_zip"`
	WithoutEnsymble    bool `json:"without_ensymble"`
	BuildInstaller     bool `json:"build_installer"`
	CreateTempSDKZip   bool `json:"create_temp_sdk_zip"`
	ProfileLog         bool `json:"profile_log"`

	// Catalog is the catalog this run builds from. Integration runs get a
	// private copy with adjusted capabilities.
	Catalog *catalog.Catalog `json:"-"`
}

// LogValue renders the configuration as a single structured log group.
func (c *BuildConfiguration) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", string(c.Mode)),
		slog.String("target", string(c.Target)),
		slog.String("version", c.Version),
		slog.String("version_tag", c.VersionTag),
		slog.String("build_profile", c.BuildProfile),
		slog.String("sdk", strings.Join(c.Platforms, ",")),
		slog.String("flavors", strings.Join(c.Flavors, ",")),
		slog.String("work_area", c.WorkArea),
		slog.String("key_dir", c.KeyDir),
		slog.Bool("docs", c.GenerateDocs),
		slog.String("compression_type", c.CompressionType),
		slog.Bool("profile_log", c.ProfileLog),
		slog.Bool("include_internal_src", c.IncludeInternalSrc),
		slog.Bool("without_src_zip", c.WithoutSrcZip),
		slog.Bool("internal_projects", c.InternalProjects),
		slog.Bool("without_ensymble", c.WithoutEnsymble),
		slog.Bool("installer", c.BuildInstaller),
	)
}

// HasPlatform reports whether the platform is selected.
func (c *BuildConfiguration) HasPlatform(name string) bool {
	for _, p := range c.Platforms {
		if p == name {
			return true
		}
	}
	return false
}
