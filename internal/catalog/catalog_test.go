package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestCatalog(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuiltinIsValid(t *testing.T) {
	if errs := Validate(Builtin()); len(errs) != 0 {
		t.Fatalf("builtin catalog has validation errors: %v", errs)
	}
}

func TestEveryFlavorHasKeyOrCaps(t *testing.T) {
	for _, f := range Builtin().Flavors {
		hasCaps := strings.TrimSpace(f.Caps) != ""
		if !hasCaps && !f.Signed() {
			t.Errorf("flavor %q resolves to no configure argument", f.Name)
		}
	}
}

func TestValidate_FlavorWithoutKeyOrCaps(t *testing.T) {
	c := Builtin()
	c.Flavors = append(c.Flavors, Flavor{Name: "empty"})

	errs := Validate(c)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
	}
	if !strings.Contains(errs[0].Message, "neither a key nor capabilities") {
		t.Errorf("unexpected message %q", errs[0].Message)
	}
}

func TestValidate_Duplicates(t *testing.T) {
	c := Builtin()
	c.Flavors = append(c.Flavors, c.Flavors[0])
	c.Platforms = append(c.Platforms, c.Platforms[0])

	errs := Validate(c)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidate_TemplateWithTooManyPlaceholders(t *testing.T) {
	c := Builtin()
	c.Platforms = append(c.Platforms, Platform{
		Name: "bad",
		Deliverables: []Deliverable{
			{Kind: KindSDKZip, Built: "x.zip", Template: "x_%s%s_%s.zip"},
		},
	})

	errs := Validate(c)
	if len(errs) != 1 || errs[0].Field != "platforms[4].deliverables[0].template" {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestValidate_MissingTemplateIsAllowed(t *testing.T) {
	c := Builtin()
	c.Platforms = append(c.Platforms, Platform{
		Name: "partial",
		Deliverables: []Deliverable{
			{Kind: KindTestappSIS, Built: "testapp.SIS"},
		},
	})
	if errs := Validate(c); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidate_UnknownKindAndBadUID(t *testing.T) {
	c := Builtin()
	c.Flavors[0].UID = "20022EED"
	c.Platforms[0].Deliverables = append(c.Platforms[0].Deliverables, Deliverable{Kind: "manual"})

	errs := Validate(c)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
	}
}

func TestWithExtraCapsLeavesReceiverUntouched(t *testing.T) {
	base := Builtin()
	derived := base.WithExtraCaps("selfsigned", "Location")

	orig, _ := base.Flavor("selfsigned")
	got, _ := derived.Flavor("selfsigned")
	if strings.HasSuffix(orig.Caps, "Location") {
		t.Errorf("base catalog was mutated: %q", orig.Caps)
	}
	if !strings.HasSuffix(got.Caps, " Location") {
		t.Errorf("derived caps = %q, want Location appended", got.Caps)
	}
}

func TestEnabledProjects(t *testing.T) {
	c := Builtin()
	if n := len(c.EnabledProjects(false)); n != 2 {
		t.Errorf("public projects = %d, want 2", n)
	}
	if n := len(c.EnabledProjects(true)); n != 5 {
		t.Errorf("all projects = %d, want 5", n)
	}
}

func TestPlatformDeliverableLookup(t *testing.T) {
	c := Builtin()
	p, ok := c.Platform("31")
	if !ok {
		t.Fatal("platform 31 missing")
	}
	if _, ok := p.Deliverable(KindPythonSIS); ok {
		t.Error("platform 31 should not produce a python SIS")
	}
	d, ok := p.Deliverable(KindSDKZip)
	if !ok || d.Template != "Python_%s%s_SDK_3rdEdFP1.zip" {
		t.Errorf("sdk zip deliverable = %+v", d)
	}
}

const overrideCatalog = `
flavors:
  - name: selfsigned
    caps: "LocalServices"
    key: other
  - name: nightly
    caps: "LocalServices NetworkServices"
platforms:
  - name: "32"
    deliverables:
      - kind: python_dll_sis
        built: Python25_3rdEdFP2.SIS
        template: "Py_%s%s_%s.sis"
        source_dir: 'newcore\symbian\group\'
`

func TestLoadMergesOverBuiltin(t *testing.T) {
	path := writeTestCatalog(t, overrideCatalog)
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	self, _ := cat.Flavor("selfsigned")
	if self.Key != "other" || self.Caps != "LocalServices" {
		t.Errorf("selfsigned not replaced: %+v", self)
	}
	if _, ok := cat.Flavor("nightly"); !ok {
		t.Error("nightly flavor not appended")
	}
	if len(cat.Flavors) != len(Builtin().Flavors)+1 {
		t.Errorf("len(Flavors) = %d", len(cat.Flavors))
	}

	p, _ := cat.Platform("32")
	if len(p.Deliverables) != 1 {
		t.Fatalf("platform 32 deliverables = %d, want 1", len(p.Deliverables))
	}
	if p.Deliverables[0].SourceDir != "newcore/symbian/group" {
		t.Errorf("SourceDir = %q, want normalized path", p.Deliverables[0].SourceDir)
	}
}

func TestLoadOrBuiltin_RejectsInvalid(t *testing.T) {
	path := writeTestCatalog(t, "flavors:\n  - name: broken\n")
	_, err := LoadOrBuiltin(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not mention the flavor", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
