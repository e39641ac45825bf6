package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a catalog override file and merges it over the built-in tables.
// Entries with the same name replace built-in entries; new names are appended.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing catalog YAML: %w", err)
	}

	cat := Merge(Builtin(), &override)
	normalize(cat)
	return cat, nil
}

// LoadOrBuiltin loads path when it is set, otherwise returns the built-in
// catalog. The result is validated either way.
func LoadOrBuiltin(path string) (*Catalog, error) {
	var cat *Catalog
	if path == "" {
		cat = Builtin()
	} else {
		var err error
		if cat, err = Load(path); err != nil {
			return nil, err
		}
	}
	if errs := Validate(cat); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return nil, fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
	}
	return cat, nil
}

// Merge overlays override onto base and returns a new catalog.
func Merge(base, override *Catalog) *Catalog {
	out := base.Clone()

	for _, f := range override.Flavors {
		replaced := false
		for i := range out.Flavors {
			if out.Flavors[i].Name == f.Name {
				out.Flavors[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out.Flavors = append(out.Flavors, f)
		}
	}

	for _, p := range override.Platforms {
		replaced := false
		for i := range out.Platforms {
			if out.Platforms[i].Name == p.Name {
				out.Platforms[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			out.Platforms = append(out.Platforms, p)
		}
	}

	for _, s := range override.SDKs {
		replaced := false
		for i := range out.SDKs {
			if out.SDKs[i].Name == s.Name {
				out.SDKs[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			out.SDKs = append(out.SDKs, s)
		}
	}

	// Projects are replaced wholesale: their order is the build order.
	if len(override.Projects) > 0 {
		out.Projects = append([]Project(nil), override.Projects...)
	}
	return out
}

// normalize rewrites Windows separators in relative paths so that the rest of
// the pipeline only deals with slash separated paths.
func normalize(c *Catalog) {
	for i := range c.Platforms {
		for j := range c.Platforms[i].Deliverables {
			d := &c.Platforms[i].Deliverables[j]
			d.SourceDir = strings.Trim(strings.ReplaceAll(d.SourceDir, `\`, "/"), "/")
		}
	}
	for i := range c.Projects {
		c.Projects[i].Path = strings.Trim(strings.ReplaceAll(c.Projects[i].Path, `\`, "/"), "/")
	}
}
