package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pys60/pysbuild/internal/catalog"
)

func TestExpandName_Golden(t *testing.T) {
	tests := []struct {
		template string
		args     []string
		want     string
	}{
		{"Python_%s%s_3rdEd_%s.sis", []string{"2.0.0", "svn1234", "unsigned_alabs"}, "Python_2.0.0svn1234_3rdEd_unsigned_alabs.sis"},
		{"testapp_%s%s_3rdEd_%s.sis", []string{"1.9.7", "final", "selfsigned"}, "testapp_1.9.7final_3rdEd_selfsigned.sis"},
		{"Python_%s%s_SDK_3rdEdFP1.zip", []string{"2.0.0", "svn1234", "ignored"}, "Python_2.0.0svn1234_SDK_3rdEdFP1.zip"},
		{"fixed.sis", []string{"2.0.0"}, "fixed.sis"},
	}
	for _, tt := range tests {
		got, err := ExpandName(tt.template, tt.args...)
		if err != nil {
			t.Fatalf("ExpandName(%q) error: %v", tt.template, err)
		}
		if got != tt.want {
			t.Errorf("ExpandName(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestExpandName_TooFewValues(t *testing.T) {
	if _, err := ExpandName("Python_%s%s_%s.sis", "2.0.0"); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuiltinTemplatesExpand(t *testing.T) {
	for _, p := range catalog.Builtin().Platforms {
		for _, d := range p.Deliverables {
			name, err := ExpandName(d.Template, "2.0.0", "svn1", "f")
			if err != nil {
				t.Errorf("%s/%s: %v", p.Name, d.Kind, err)
			}
			if name == d.Template && d.Template != "" {
				t.Errorf("%s/%s: template %q has no placeholders", p.Name, d.Kind, d.Template)
			}
		}
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("sis"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newMover(t *testing.T) *Mover {
	t.Helper()
	m := &Mover{SourceRoot: t.TempDir(), WorkArea: filepath.Join(t.TempDir(), "build")}
	if err := PrepareWorkArea(m.WorkArea); err != nil {
		t.Fatal(err)
	}
	return m
}

func testPlatform() catalog.Platform {
	return catalog.Platform{Name: "30armv5", Deliverables: []catalog.Deliverable{
		{Kind: catalog.KindPythonSIS, Built: "Python25_3rdEd.SIS", Template: "Python_%s%s_3rdEd_%s.sis", SourceDir: "newcore/symbian/group"},
		{Kind: catalog.KindTestappSIS, Built: "testapp_3rdEd.SIS", Template: "testapp_%s%s_3rdEd_%s.sis", SourceDir: "ext/test/testapp/group", Test: true},
		{Kind: catalog.KindSDKZip, Built: "Python_SDK_3rdEd.zip", Template: "Python_%s%s_SDK_3rdEd.zip"},
	}}
}

func TestMove_ReleaseAndTestDirs(t *testing.T) {
	m := newMover(t)
	touch(t, filepath.Join(m.SourceRoot, "newcore/symbian/group/Python25_3rdEd.SIS"))
	touch(t, filepath.Join(m.SourceRoot, "ext/test/testapp/group/testapp_3rdEd.SIS"))
	touch(t, filepath.Join(m.SourceRoot, "Python_SDK_3rdEd.zip"))

	moved, err := m.Move(context.Background(), testPlatform(), "2.0.0", "svn1234", "unsigned_alabs")
	if err != nil {
		t.Fatalf("Move() error: %v", err)
	}
	if len(moved) != 2 {
		t.Fatalf("moved %d files, want 2", len(moved))
	}
	for _, want := range []string{
		filepath.Join(m.WorkArea, "Python_2.0.0svn1234_3rdEd_unsigned_alabs.sis"),
		filepath.Join(m.WorkArea, TestDir, "testapp_2.0.0svn1234_3rdEd_unsigned_alabs.sis"),
	} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("missing %s", want)
		}
	}
	if _, err := os.Stat(filepath.Join(m.SourceRoot, "Python_SDK_3rdEd.zip")); err != nil {
		t.Error("SDK zip was moved per flavor")
	}
}

func TestMove_SecondCallIsNoop(t *testing.T) {
	m := newMover(t)
	touch(t, filepath.Join(m.SourceRoot, "newcore/symbian/group/Python25_3rdEd.SIS"))
	ctx := context.Background()
	if _, err := m.Move(ctx, testPlatform(), "2.0.0", "t", "f"); err != nil {
		t.Fatal(err)
	}
	before := listTree(t, m.WorkArea)

	moved, err := m.Move(ctx, testPlatform(), "2.0.0", "t", "f")
	if err != nil {
		t.Fatalf("second Move() error: %v", err)
	}
	if len(moved) != 0 {
		t.Errorf("second Move() moved %v", moved)
	}
	if after := listTree(t, m.WorkArea); len(after) != len(before) {
		t.Errorf("work area changed: %v -> %v", before, after)
	}
}

func TestMove_MissingTemplateIsNoop(t *testing.T) {
	m := newMover(t)
	touch(t, filepath.Join(m.SourceRoot, "ext/test/testapp/group/testapp_3rdEd.SIS"))
	p := catalog.Platform{Name: "31", Deliverables: []catalog.Deliverable{
		{Kind: catalog.KindTestappSIS, Built: "testapp_3rdEd.SIS", SourceDir: "ext/test/testapp/group", Test: true},
	}}
	moved, err := m.Move(context.Background(), p, "2.0.0", "t", "f")
	if err != nil {
		t.Fatalf("Move() error: %v", err)
	}
	if len(moved) != 0 {
		t.Errorf("moved %v", moved)
	}
	if files := listTree(t, m.WorkArea); len(files) != 0 {
		t.Errorf("work area has %v", files)
	}
	if _, err := os.Stat(filepath.Join(m.SourceRoot, "ext/test/testapp/group/testapp_3rdEd.SIS")); err != nil {
		t.Error("built file was touched")
	}
}

func TestMove_IOErrorIsFatal(t *testing.T) {
	m := newMover(t)
	touch(t, filepath.Join(m.SourceRoot, "newcore/symbian/group/Python25_3rdEd.SIS"))
	// A directory where the release file should go makes the move fail.
	blocker := filepath.Join(m.WorkArea, "Python_2.0.0t_3rdEd_f.sis", "x")
	touch(t, blocker)

	if _, err := m.Move(context.Background(), testPlatform(), "2.0.0", "t", "f"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPrepareWorkArea(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "build")
	touch(t, filepath.Join(dir, "stale.sis"))
	if err := PrepareWorkArea(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale.sis")); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale file survived")
	}
	if info, err := os.Stat(filepath.Join(dir, TestDir)); err != nil || !info.IsDir() {
		t.Error("test directory not created")
	}
}

func TestStager_CleanupOnEveryPath(t *testing.T) {
	staging := t.TempDir()
	src := t.TempDir()
	touch(t, filepath.Join(src, "a.sis"))
	touch(t, filepath.Join(src, "b.sis"))
	touch(t, filepath.Join(staging, "unrelated.txt"))

	failing := func() (err error) {
		st := NewStager(staging)
		defer func() {
			if cerr := st.Cleanup(); err == nil {
				err = cerr
			}
		}()
		for _, f := range []string{"a.sis", "b.sis"} {
			if _, err := st.Copy(filepath.Join(src, f)); err != nil {
				return err
			}
		}
		return errors.New("signing failed")
	}
	if err := failing(); err == nil || err.Error() != "signing failed" {
		t.Fatalf("err = %v, want the original failure", err)
	}

	files := listTree(t, staging)
	if len(files) != 1 || files[0] != "unrelated.txt" {
		t.Errorf("staging dir = %v, want only unrelated.txt", files)
	}
}

func TestStager_CopyMissingSourceStillCleans(t *testing.T) {
	st := NewStager(t.TempDir())
	if _, err := st.Copy(filepath.Join(t.TempDir(), "missing.sis")); err == nil {
		t.Fatal("expected error")
	}
	if err := st.Cleanup(); err != nil {
		t.Errorf("Cleanup() error: %v", err)
	}
	if err := st.Cleanup(); err != nil {
		t.Errorf("second Cleanup() error: %v", err)
	}
}

func listTree(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(root, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestLocate_CaseInsensitiveFallback(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "python25_3rdEd.sis"))

	path, ok, err := Locate(dir, "Python25_3rdEd.SIS")
	if err != nil || !ok {
		t.Fatalf("Locate() = %q, %v, %v", path, ok, err)
	}
	if filepath.Base(path) != "python25_3rdEd.sis" {
		t.Errorf("path = %s", path)
	}
	if _, ok, _ := Locate(dir, "testapp_3rdEd.SIS"); ok {
		t.Error("found a file that does not exist")
	}
	if _, ok, err := Locate(filepath.Join(dir, "missing"), "x"); ok || err != nil {
		t.Errorf("missing dir: ok=%v err=%v", ok, err)
	}
}
