package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pys60/pysbuild/internal/catalog"
)

// SnapshotFile is the name of the configure record at the top of the source tree.
const SnapshotFile = "build.cfg"

// ErrNotConfigured is returned when a command needs build.cfg and configure
// has not been run.
var ErrNotConfigured = errors.New("source not configured")

// Build types passed to abld.
const (
	BuildUDEB = "udeb"
	BuildUREL = "urel"
)

// Snapshot is the record written by configure and reloaded by every later
// setup command. Its fields are also the variables available to *.in templates.
type Snapshot struct {
	SDK                 string `json:"sdk"`
	SDKName             string `json:"sdk_name"`
	S60Version          int    `json:"s60_version"`
	DevicePlatform      string `json:"device_platform"`
	DeviceBuild         string `json:"device_build"`
	EmuPlatform         string `json:"emu_platform"`
	EmuBuild            string `json:"emu_build"`
	MarketingShort      string `json:"sdk_marketing_version_short"`
	ScriptShellUID      string `json:"pys60_uid_scriptshell"`
	RequiredPlatformUID string `json:"s60_required_platform_uid"`

	VersionNum   string `json:"pys60_version_num"`
	VersionMajor string `json:"pys60_version_major"`
	VersionMinor string `json:"pys60_version_minor"`
	VersionMicro string `json:"pys60_version_micro"`
	VersionTag   string `json:"pys60_version_tag"`
	ReleaseDate  string `json:"pys60_release_date"`
	BuildProfile string `json:"build_profile"`

	DLLCaps         string `json:"dll_capabilities"`
	EXECaps         string `json:"exe_capabilities"`
	SignKey         string `json:"sign_key,omitempty"`
	SignCert        string `json:"sign_cert,omitempty"`
	SignPass        string `json:"sign_pass,omitempty"`
	CompressionType string `json:"compression_type"`
	CompilerFlags   string `json:"compiler_flags"`

	InternalProjects   bool `json:"internal_proj"`
	IncludeInternalSrc bool `json:"include_internal_src"`
	IncludeARMV5Pyds   bool `json:"include_armv5_pyds"`
	Coverage           bool `json:"ctc_coverage"`
	ProfileLog         bool `json:"profile_log"`
	ModuleRepo         bool `json:"mod_repo"`
}

// ConfigureOptions are the options of the configure command.
type ConfigureOptions struct {
	SDK                string
	Version            string
	VersionTag         string
	Caps               string
	ExeCaps            string
	KeyDir             string
	Key                string
	CompilerFlags      string
	CompressionType    string
	BuildProfile       string
	IncludeInternalSrc bool
	InternalProjects   bool
	ProfileLog         bool
	DebugDevice        bool
	// SkipPyCompile leaves the library .py files uncompiled, for hosts whose
	// Python is not bytecode compatible with the port.
	SkipPyCompile bool
}

// DefaultCaps are the DLL capabilities used when configure is not given any.
const DefaultCaps = "LocalServices NetworkServices ReadUserData WriteUserData UserEnvironment Location"

// DefaultConfigureOptions returns the defaults of the configure command.
func DefaultConfigureOptions() ConfigureOptions {
	return ConfigureOptions{
		SDK:          "50armv5",
		Version:      "2.0.0",
		VersionTag:   "final",
		Caps:         DefaultCaps,
		KeyDir:       "../keys",
		BuildProfile: ProfileIntegration,
	}
}

// NewSnapshot builds the configure record for opts. prev is the snapshot of a
// previous configure, if any; a coverage build stays a coverage build.
func NewSnapshot(cat *catalog.Catalog, opts ConfigureOptions, prev *Snapshot) (*Snapshot, error) {
	profile, ok := cat.SDK(opts.SDK)
	if !ok {
		return nil, &ValidationError{
			Field:   "sdk",
			Message: fmt.Sprintf("unsupported SDK configuration %q (known: %s)", opts.SDK, strings.Join(cat.SDKNames(), ", ")),
		}
	}
	if !versionRe.MatchString(opts.Version) {
		return nil, &ValidationError{Field: "version", Message: fmt.Sprintf("%q is not of the form major.minor.micro", opts.Version)}
	}
	parts := strings.Split(opts.Version, ".")

	s := &Snapshot{
		SDK:                 profile.Name,
		SDKName:             profile.SDKName,
		S60Version:          profile.S60Version,
		DevicePlatform:      profile.DevicePlatform,
		DeviceBuild:         BuildUREL,
		EmuPlatform:         profile.EmuPlatform,
		EmuBuild:            BuildUDEB,
		MarketingShort:      profile.MarketingShort,
		ScriptShellUID:      profile.ScriptShellUID,
		RequiredPlatformUID: profile.RequiredPlatformUID,
		VersionNum:          opts.Version,
		VersionMajor:        parts[0],
		VersionMinor:        parts[1],
		VersionMicro:        parts[2],
		VersionTag:          opts.VersionTag,
		ReleaseDate:         now().Format("02 Jan 2006"),
		BuildProfile:        opts.BuildProfile,
		DLLCaps:             opts.Caps,
		EXECaps:             opts.ExeCaps,
		CompressionType:     opts.CompressionType,
		InternalProjects:    opts.InternalProjects,
		IncludeInternalSrc:  opts.IncludeInternalSrc,
		ProfileLog:          opts.ProfileLog,
	}
	if s.VersionTag == "" {
		s.VersionTag = now().Format("development_build_20060102_1504")
	}
	if s.BuildProfile == "" {
		s.BuildProfile = ProfileIntegration
	}
	if s.EXECaps == "" {
		s.EXECaps = s.DLLCaps
	}
	if opts.CompilerFlags != "" {
		s.CompilerFlags = "OPTION " + opts.CompilerFlags
	}
	if opts.DebugDevice {
		s.DeviceBuild = BuildUDEB
	}
	if opts.Key != "" {
		s.SetKey(opts.KeyDir, opts.Key)
	}
	if prev != nil && prev.Coverage {
		s.Coverage = true
	}
	if strings.TrimSpace(s.DLLCaps) == "" && s.SignKey == "" {
		return nil, &ValidationError{Field: "caps", Message: "either capabilities or a signing key is required"}
	}
	return s, nil
}

// SetKey derives the signing key and certificate paths from a key name.
func (s *Snapshot) SetKey(keyDir, key string) {
	s.SignKey = filepath.Join(keyDir, key+".key")
	s.SignCert = filepath.Join(keyDir, key+".crt")
	s.SignPass = ""
}

// Signed reports whether packages will be signed.
func (s *Snapshot) Signed() bool {
	return s.SignKey != "" && s.SignCert != ""
}

// SetCaps replaces the capabilities; empty exe caps follow the DLL caps.
func (s *Snapshot) SetCaps(dll, exe string) {
	s.DLLCaps = dll
	if exe == "" {
		exe = dll
	}
	s.EXECaps = exe
}

// SDKFullName is the base name of the SDK zip bdist_sdk produces.
func (s *Snapshot) SDKFullName() string {
	return "Python_SDK_" + s.MarketingShort
}

// Vars flattens the snapshot into template variables.
func (s *Snapshot) Vars() map[string]string {
	b := func(v bool) string {
		if v {
			return "1"
		}
		return ""
	}
	return map[string]string{
		"SDK":                         s.SDK,
		"SDK_NAME":                    s.SDKName,
		"S60_VERSION":                 fmt.Sprint(s.S60Version),
		"DEVICE_PLATFORM":             s.DevicePlatform,
		"DEVICE_BUILD":                s.DeviceBuild,
		"EMU_PLATFORM":                s.EmuPlatform,
		"EMU_BUILD":                   s.EmuBuild,
		"SDK_MARKETING_VERSION_SHORT": s.MarketingShort,
		"PYS60_UID_SCRIPTSHELL":       s.ScriptShellUID,
		"S60_REQUIRED_PLATFORM_UID":   s.RequiredPlatformUID,
		"PYS60_VERSION_NUM":           s.VersionNum,
		"PYS60_VERSION":               s.VersionNum + " " + s.VersionTag,
		"PYS60_VERSION_MAJOR":         s.VersionMajor,
		"PYS60_VERSION_MINOR":         s.VersionMinor,
		"PYS60_VERSION_MICRO":         s.VersionMicro,
		"PYS60_VERSION_TAG":           s.VersionTag,
		"PYS60_RELEASE_DATE":          s.ReleaseDate,
		"BUILD_PROFILE":               s.BuildProfile,
		"DLL_CAPABILITIES":            s.DLLCaps,
		"EXE_CAPABILITIES":            s.EXECaps,
		"COMPRESSION_TYPE":            s.CompressionType,
		"COMPILER_FLAGS":              s.CompilerFlags,
		"INTERNAL_PROJ":               b(s.InternalProjects),
		"INCLUDE_INTERNAL_SRC":        b(s.IncludeInternalSrc),
		"INCLUDE_ARMV5_PYDS":          b(s.IncludeARMV5Pyds),
		"CTC_COVERAGE":                b(s.Coverage),
		"PROFILE_LOG":                 b(s.ProfileLog),
		"MOD_REPO":                    b(s.ModuleRepo),
	}
}

// SaveSnapshot writes s to build.cfg under srcDir.
func SaveSnapshot(srcDir string, s *Snapshot) error {
	if err := WriteJSON(filepath.Join(srcDir, SnapshotFile), s); err != nil {
		return fmt.Errorf("save build configuration: %w", err)
	}
	return nil
}

// LoadSnapshot reads build.cfg under srcDir. It returns ErrNotConfigured when
// the file does not exist.
func LoadSnapshot(srcDir string) (*Snapshot, error) {
	var s Snapshot
	err := ReadJSON(filepath.Join(srcDir, SnapshotFile), &s)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("load build configuration: %w", err)
	}
	return &s, nil
}

// RemoveSnapshot deletes build.cfg under srcDir if it exists.
func RemoveSnapshot(srcDir string) error {
	err := os.Remove(filepath.Join(srcDir, SnapshotFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove build configuration: %w", err)
	}
	return nil
}
