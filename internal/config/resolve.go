package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pys60/pysbuild/internal/catalog"
)

// Options are the raw release command options.
type Options struct {
	SDK                string
	Flavors            string
	Version            string
	VersionTag         string
	Targets            string
	WorkArea           string
	KeyDir             string
	CompressionType    string
	CompilerFlags      string
	Docs               bool
	ReleaseBuild       bool
	IntegrationBuild   bool
	InternalProjects   bool
	IncludeInternalSrc bool
	Installer          bool
	WithoutEnsymble    bool
	WithoutSrcZip      bool
	CreateTempSDKZip   bool
	ProfileLog         bool

	// Revision is the working copy revision used for default tags. Empty when
	// the lookup failed.
	Revision string
}

// NeedsRevision reports whether the version tag is derived from the source
// revision: when no tag is given, and always for integration runs.
func (o Options) NeedsRevision() bool {
	if o.IntegrationBuild && !o.ReleaseBuild {
		return true
	}
	return strings.TrimSpace(o.VersionTag) == ""
}

// DefaultOptions returns the option defaults of the release command.
func DefaultOptions() Options {
	return Options{
		SDK:      "50armv5",
		Version:  "2.0.0",
		Targets:  string(TargetAll),
		WorkArea: "build",
		KeyDir:   "../keys",
	}
}

var (
	versionRe = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)

	// now is replaced in tests.
	now = time.Now
)

// Release and integration runs build a fixed matrix.
var (
	releaseFlavors     = []string{"unsigned_alabs", "alabs_pythonteam"}
	releasePlatforms   = []string{"30armv5"}
	integrationFlavors = []string{"alabs_pythonteam", "unsigned_alabs"}
)

// EmulatorFlavor is configured for emulator builds in integration and
// release runs.
const EmulatorFlavor = "white_choco"

// Resolve turns raw options into a BuildConfiguration. Every problem found is
// reported; the returned error joins one *ValidationError per problem.
// base is never modified.
func Resolve(base *catalog.Catalog, opts Options) (*BuildConfiguration, error) {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	cfg := &BuildConfiguration{
		Mode:               ModeDefault,
		Target:             Target(strings.TrimSpace(opts.Targets)),
		Platforms:          splitList(opts.SDK),
		Flavors:            splitList(opts.Flavors),
		Version:            strings.TrimSpace(opts.Version),
		VersionTag:         strings.TrimSpace(opts.VersionTag),
		BuildProfile:       ProfileIntegration,
		WorkArea:           opts.WorkArea,
		KeyDir:             opts.KeyDir,
		CompressionType:    opts.CompressionType,
		CompilerFlags:      opts.CompilerFlags,
		IncludeInternalSrc: opts.IncludeInternalSrc,
		InternalProjects:   opts.InternalProjects,
		GenerateDocs:       opts.Docs,
		WithoutSrcZip:      opts.WithoutSrcZip,
		WithoutEnsymble:    opts.WithoutEnsymble,
		BuildInstaller:     opts.Installer,
		CreateTempSDKZip:   opts.CreateTempSDKZip,
		ProfileLog:         opts.ProfileLog,
		Catalog:            base,
	}

	// A release build supersedes an integration build.
	switch {
	case opts.ReleaseBuild:
		cfg.Mode = ModeRelease
	case opts.IntegrationBuild:
		cfg.Mode = ModeIntegration
	}

	if cfg.Target == "" {
		cfg.Target = TargetAll
	}
	switch cfg.Target {
	case TargetEmu, TargetDevice, TargetAll:
	default:
		fail("targets", "unknown target %q (want emu, device or all)", cfg.Target)
	}

	if cfg.WorkArea == "" {
		cfg.WorkArea = "build"
	}
	if !versionRe.MatchString(cfg.Version) {
		fail("version", "%q is not of the form major.minor.micro", opts.Version)
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = []string{"50armv5"}
	}
	if len(cfg.Flavors) == 0 {
		cfg.Flavors = base.FlavorNames()
	}

	if cfg.VersionTag == "" {
		cfg.VersionTag = defaultTag(opts.Revision)
	}

	switch cfg.Mode {
	case ModeRelease:
		cfg.BuildProfile = ProfileRelease
		cfg.Flavors = append([]string(nil), releaseFlavors...)
		cfg.Platforms = append([]string(nil), releasePlatforms...)
		cfg.IncludeInternalSrc = true
		// The 3.2 environment is seeded from the 3.0 SDK zip.
		cfg.CreateTempSDKZip = true
	case ModeIntegration:
		cfg.Flavors = append([]string(nil), integrationFlavors...)
		cfg.IncludeInternalSrc = true
		cfg.VersionTag = defaultTag(opts.Revision) + "-integration"
		// Location is user grantable with a self signed certificate on 3.2
		// devices.
		if !cfg.HasPlatform("30armv5") {
			cfg.Catalog = base.WithExtraCaps("selfsigned", "Location")
		}
	}

	// Release and integration runs replace the selection, so only what the
	// run builds is validated.
	for _, p := range cfg.Platforms {
		if _, ok := base.Platform(p); !ok {
			fail("sdk", "unknown platform %q (known: %s)", p, strings.Join(base.PlatformNames(), ", "))
			continue
		}
		if _, ok := base.SDK(p); !ok {
			fail("sdk", "platform %q has no SDK profile to configure with", p)
		}
	}
	for _, f := range cfg.Flavors {
		if _, ok := base.Flavor(f); !ok {
			fail("flavors", "unknown flavor %q (known: %s)", f, strings.Join(base.FlavorNames(), ", "))
		}
	}

	needKeys := append([]string(nil), cfg.Flavors...)
	if cfg.Mode != ModeDefault {
		needKeys = append(needKeys, EmulatorFlavor)
	}
	if strings.TrimSpace(cfg.KeyDir) == "" {
		for _, name := range needKeys {
			if f, ok := base.Flavor(name); ok && f.Signed() {
				fail("keydir", "flavor %q is signed with key %q but no key directory is set", f.Name, f.Key)
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func defaultTag(revision string) string {
	revision = strings.TrimSpace(revision)
	if revision == "" {
		return now().Format("development_build_20060102_1504")
	}
	return "svn" + revision
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
