package catalog

import "strings"

// Kind names one artifact produced for a platform.
type Kind string

const (
	KindPythonSIS           Kind = "python_dll_sis"
	KindTestappSIS          Kind = "testapp_sis"
	KindRunTestappSIS       Kind = "run_testapp_sis"
	KindInterpreterTimerSIS Kind = "run_interpretertimer_sis"
	KindInterpreterStartSIS Kind = "interpreter_startup_sis"
	KindSDKZip              Kind = "sdk_zip"
)

var knownKinds = map[Kind]bool{
	KindPythonSIS:           true,
	KindTestappSIS:          true,
	KindRunTestappSIS:       true,
	KindInterpreterTimerSIS: true,
	KindInterpreterStartSIS: true,
	KindSDKZip:              true,
}

// Catalog is the static description of everything the pipeline can build.
// It is loaded once per process and never mutated afterwards; variants are
// derived with Clone.
type Catalog struct {
	Flavors   []Flavor     `yaml:"flavors"`
	Platforms []Platform   `yaml:"platforms"`
	SDKs      []SDKProfile `yaml:"sdks"`
	Projects  []Project    `yaml:"projects"`
}

// Flavor is a signing/capability variant of the same compiled binaries.
type Flavor struct {
	Name    string `yaml:"name"`
	Caps    string `yaml:"caps"`
	ExeCaps string `yaml:"exe_caps,omitempty"`
	Key     string `yaml:"key,omitempty"`
	UID     string `yaml:"uid,omitempty"`
}

// Signed reports whether packages for this flavor are signed with a key.
func (f Flavor) Signed() bool {
	return strings.TrimSpace(f.Key) != ""
}

// Platform is an SDK edition and the deliverables it produces.
type Platform struct {
	Name         string        `yaml:"name"`
	Deliverables []Deliverable `yaml:"deliverables"`
}

// Deliverable maps a toolchain-produced file to its release name.
type Deliverable struct {
	Kind      Kind   `yaml:"kind"`
	Built     string `yaml:"built"`
	Template  string `yaml:"template"`
	SourceDir string `yaml:"source_dir,omitempty"` // slash separated, relative to the source root
	Test      bool   `yaml:"test,omitempty"`
}

// Deliverable returns the deliverable of the given kind.
func (p Platform) Deliverable(k Kind) (Deliverable, bool) {
	for _, d := range p.Deliverables {
		if d.Kind == k {
			return d, true
		}
	}
	return Deliverable{}, false
}

// SDKProfile holds the configure-time values of one SDK toolchain setup.
type SDKProfile struct {
	Name                string `yaml:"name"`
	S60Version          int    `yaml:"s60_version"`
	DevicePlatform      string `yaml:"device_platform"`
	EmuPlatform         string `yaml:"emu_platform"`
	SDKName             string `yaml:"sdk_name"`
	MarketingShort      string `yaml:"marketing_short"`
	ScriptShellUID      string `yaml:"scriptshell_uid"`
	RequiredPlatformUID string `yaml:"required_platform_uid"`
}

// Project is a native project directory containing a bld.inf.
type Project struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Internal bool   `yaml:"internal,omitempty"`
}

// Flavor looks a flavor up by name.
func (c *Catalog) Flavor(name string) (Flavor, bool) {
	for _, f := range c.Flavors {
		if f.Name == name {
			return f, true
		}
	}
	return Flavor{}, false
}

// Platform looks a platform up by name.
func (c *Catalog) Platform(name string) (Platform, bool) {
	for _, p := range c.Platforms {
		if p.Name == name {
			return p, true
		}
	}
	return Platform{}, false
}

// SDK looks an SDK profile up by name.
func (c *Catalog) SDK(name string) (SDKProfile, bool) {
	for _, s := range c.SDKs {
		if s.Name == name {
			return s, true
		}
	}
	return SDKProfile{}, false
}

// FlavorNames returns flavor names in catalog order.
func (c *Catalog) FlavorNames() []string {
	names := make([]string, 0, len(c.Flavors))
	for _, f := range c.Flavors {
		names = append(names, f.Name)
	}
	return names
}

// PlatformNames returns platform names in catalog order.
func (c *Catalog) PlatformNames() []string {
	names := make([]string, 0, len(c.Platforms))
	for _, p := range c.Platforms {
		names = append(names, p.Name)
	}
	return names
}

// SDKNames returns SDK profile names in catalog order.
func (c *Catalog) SDKNames() []string {
	names := make([]string, 0, len(c.SDKs))
	for _, s := range c.SDKs {
		names = append(names, s.Name)
	}
	return names
}

// EnabledProjects returns the projects that are built. Internal projects are
// included only when internal is true.
func (c *Catalog) EnabledProjects(internal bool) []Project {
	var out []Project
	for _, p := range c.Projects {
		if !p.Internal || internal {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy.
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{
		Flavors:  append([]Flavor(nil), c.Flavors...),
		SDKs:     append([]SDKProfile(nil), c.SDKs...),
		Projects: append([]Project(nil), c.Projects...),
	}
	for _, p := range c.Platforms {
		out.Platforms = append(out.Platforms, Platform{
			Name:         p.Name,
			Deliverables: append([]Deliverable(nil), p.Deliverables...),
		})
	}
	return out
}

// WithExtraCaps returns a copy of the catalog where the named flavor has the
// given capability appended. The receiver is left untouched.
func (c *Catalog) WithExtraCaps(flavor, capability string) *Catalog {
	out := c.Clone()
	for i := range out.Flavors {
		if out.Flavors[i].Name != flavor {
			continue
		}
		if strings.TrimSpace(out.Flavors[i].Caps) == "" {
			out.Flavors[i].Caps = capability
		} else {
			out.Flavors[i].Caps += " " + capability
		}
	}
	return out
}
