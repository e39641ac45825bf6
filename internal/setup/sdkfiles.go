package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pys60/pysbuild/internal/template"
)

// SDKFilesList is the file list of the SDK zip, relative to the source root.
const SDKFilesList = "tools/sdk_files.yaml"

// SDKFile maps a file of the build to its place in the SDK. Both paths may
// use template variables. When If names a variable, the entry is only part
// of the SDK when that variable is set.
type SDKFile struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	If   string `yaml:"if,omitempty"`
}

// LoadSDKFiles reads the SDK file list and expands it against vars.
func LoadSDKFiles(path string, vars template.Vars) ([]SDKFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SDK file list: %w", err)
	}
	var raw struct {
		Files []SDKFile `yaml:"files"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var out []SDKFile
	for i, f := range raw.Files {
		if f.If != "" && vars[f.If] == "" {
			continue
		}
		from, err := template.Render(f.From, vars)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", path, i, err)
		}
		to, err := template.Render(f.To, vars)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", path, i, err)
		}
		if from == "" || to == "" {
			return nil, fmt.Errorf("%s entry %d: from and to are required", path, i)
		}
		out = append(out, SDKFile{From: from, To: to})
	}
	return out, nil
}

// uninstallScript removes every installed SDK file.
func uninstallScript(name string, files []SDKFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@echo Uninstalling %s\r\n", name)
	for _, f := range files {
		fmt.Fprintf(&b, "del %s\r\n", strings.ReplaceAll(filepath.ToSlash(filepath.Clean(f.To)), "/", `\`))
	}
	return b.String()
}
