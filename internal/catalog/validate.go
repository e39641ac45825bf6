package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError represents a single validation issue with a catalog.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var uidRe = regexp.MustCompile(`^0x[0-9A-Fa-f]{8}$`)

// Validate checks a catalog for structural errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(c *Catalog) []ValidationError {
	var errs []ValidationError

	if len(c.Flavors) == 0 {
		errs = append(errs, ValidationError{Field: "flavors", Message: "at least one flavor is required"})
	}

	seen := make(map[string]bool)
	for i, f := range c.Flavors {
		prefix := fmt.Sprintf("flavors[%d]", i)
		if f.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
			continue
		}
		if seen[f.Name] {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate flavor %q", f.Name)})
		}
		seen[f.Name] = true

		// configure needs either a key to sign with or explicit capabilities
		if !f.Signed() && strings.TrimSpace(f.Caps) == "" {
			errs = append(errs, ValidationError{Field: prefix, Message: fmt.Sprintf("flavor %q has neither a key nor capabilities", f.Name)})
		}
		if f.UID != "" && !uidRe.MatchString(f.UID) {
			errs = append(errs, ValidationError{Field: prefix + ".uid", Message: fmt.Sprintf("malformed UID %q", f.UID)})
		}
	}

	seen = make(map[string]bool)
	for i, p := range c.Platforms {
		prefix := fmt.Sprintf("platforms[%d]", i)
		if p.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
			continue
		}
		if seen[p.Name] {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate platform %q", p.Name)})
		}
		seen[p.Name] = true

		kinds := make(map[Kind]bool)
		for j, d := range p.Deliverables {
			dp := fmt.Sprintf("%s.deliverables[%d]", prefix, j)
			if !knownKinds[d.Kind] {
				errs = append(errs, ValidationError{Field: dp + ".kind", Message: fmt.Sprintf("unknown artifact kind %q", d.Kind)})
			}
			if kinds[d.Kind] {
				errs = append(errs, ValidationError{Field: dp + ".kind", Message: fmt.Sprintf("duplicate artifact kind %q", d.Kind)})
			}
			kinds[d.Kind] = true

			// A missing template is allowed: the mover skips that kind.
			if d.Template == "" {
				continue
			}
			if d.Built == "" {
				errs = append(errs, ValidationError{Field: dp + ".built", Message: "is required when a template is set"})
			}
			max := 3
			if d.Kind == KindSDKZip {
				max = 2
			}
			if n := strings.Count(d.Template, "%s"); n > max {
				errs = append(errs, ValidationError{Field: dp + ".template", Message: fmt.Sprintf("has %d placeholders, at most %d allowed", n, max)})
			}
			if d.Kind != KindSDKZip && d.SourceDir == "" {
				errs = append(errs, ValidationError{Field: dp + ".source_dir", Message: "is required"})
			}
		}
	}

	seen = make(map[string]bool)
	for i, s := range c.SDKs {
		prefix := fmt.Sprintf("sdks[%d]", i)
		if s.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
			continue
		}
		if seen[s.Name] {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate sdk %q", s.Name)})
		}
		seen[s.Name] = true
		if s.DevicePlatform == "" {
			errs = append(errs, ValidationError{Field: prefix + ".device_platform", Message: "is required"})
		}
		if s.EmuPlatform == "" {
			errs = append(errs, ValidationError{Field: prefix + ".emu_platform", Message: "is required"})
		}
		if s.MarketingShort == "" {
			errs = append(errs, ValidationError{Field: prefix + ".marketing_short", Message: "is required"})
		}
	}

	for i, p := range c.Projects {
		prefix := fmt.Sprintf("projects[%d]", i)
		if p.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
		}
		if p.Path == "" {
			errs = append(errs, ValidationError{Field: prefix + ".path", Message: "is required"})
		}
	}

	return errs
}
