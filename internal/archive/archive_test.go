package archive

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestZipDirAndUnzip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"epoc32/release/armv5/urel/python25.dll": "dll",
		"epoc32/include/python25/Python.h":       "header",
	})
	dest := filepath.Join(t.TempDir(), "Python_SDK_3rdEd.zip")
	if err := ZipDir(dest, src, "", nil); err != nil {
		t.Fatalf("ZipDir() error: %v", err)
	}

	out := t.TempDir()
	if err := Unzip(dest, out); err != nil {
		t.Fatalf("Unzip() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(out, "epoc32/include/python25/Python.h"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "header" {
		t.Errorf("content = %q", data)
	}
}

func TestZipDirPrefix(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"ensymble.py": "x", "templates/a.tpl": "y"})
	dest := filepath.Join(t.TempDir(), "e.zip")
	if err := ZipDir(dest, src, "ensymble", nil); err != nil {
		t.Fatal(err)
	}
	names, err := Names(dest)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(names)
	want := []string{"ensymble/ensymble.py", "ensymble/templates/a.tpl"}
	if !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestAppendToZip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	dest := filepath.Join(t.TempDir(), "sdk.zip")
	if err := ZipDir(dest, src, "", nil); err != nil {
		t.Fatal(err)
	}

	extra := filepath.Join(t.TempDir(), "kf_scriptext.pyd")
	if err := os.WriteFile(extra, []byte("pyd"), 0o644); err != nil {
		t.Fatal(err)
	}
	name := "epoc32/release/armv5/urel/kf_scriptext.pyd"
	if err := AppendToZip(dest, extra, name); err != nil {
		t.Fatalf("AppendToZip() error: %v", err)
	}
	names, err := Names(dest)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{"a.txt", name}) {
		t.Errorf("names = %v", names)
	}

	// Appending the same name again replaces the entry.
	if err := AppendToZip(dest, extra, name); err != nil {
		t.Fatal(err)
	}
	if names, _ := Names(dest); len(names) != 2 {
		t.Errorf("names after second append = %v", names)
	}
}

func TestTarGzExcludes(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"PythonForS60/Quickguide.html":         "q",
		"PythonForS60/ensymble_gui.pyw":        "g",
		"PythonForS60/module-repo/dev.py":      "m",
		"PythonForS60/PyS60Dependencies/a.sis": "s",
	})
	dest := filepath.Join(t.TempDir(), "out.tar.gz")
	keep := ExcludeBase("Quickguide.html", "ensymble_gui.pyw")
	if err := TarGz(dest, src, "", keep); err != nil {
		t.Fatalf("TarGz() error: %v", err)
	}
	names, err := TarGzNames(dest)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(names)
	want := []string{"PythonForS60/PyS60Dependencies/a.sis", "PythonForS60/module-repo/dev.py"}
	if !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestWithin(t *testing.T) {
	dir := filepath.FromSlash("/tmp/out")
	if !within(dir, filepath.Join(dir, "a/b")) {
		t.Error("nested path rejected")
	}
	if within(dir, filepath.Join(dir, "../evil")) {
		t.Error("escaping path accepted")
	}
}

func TestZipDirExcludePrefix(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"setup.py":                "x",
		"build/Python_2.0.0.sis":  "sis",
		"builder.py":              "y",
		"newcore/build/readme.in": "z",
	})
	dest := filepath.Join(t.TempDir(), "pys60-2.0.0_src.zip")
	if err := ZipDir(dest, src, "src", ExcludePrefix("src/build", "")); err != nil {
		t.Fatalf("ZipDir() error: %v", err)
	}
	names, err := Names(dest)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(names)
	want := []string{"src/builder.py", "src/newcore/build/readme.in", "src/setup.py"}
	if !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}
