// Package template expands the *.in files of the source tree against the
// configure snapshot.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	varRe     = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe  = regexp.MustCompile(`\{\{#(if|unless)\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseRe = regexp.MustCompile(`\{\{/(if|unless)\}\}`)
)

// Vars maps variable names to values.
type Vars map[string]string

// Render expands a template.
// {{NAME}} is replaced with its value; unknown names are an error.
// {{#if NAME}}...{{/if}} keeps its body only when NAME is non-empty and
// {{#unless NAME}}...{{/unless}} only when it is empty.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// processConditionals resolves blocks innermost first: for the first closing
// tag, the last opening tag before it is its partner.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeLoc := ifCloseRe.FindStringSubmatchIndex(result)
		if closeLoc == nil {
			break
		}
		closeKind := result[closeLoc[2]:closeLoc[3]]

		prefix := result[:closeLoc[0]]
		opens := ifOpenRe.FindAllStringSubmatchIndex(prefix, -1)
		if opens == nil {
			return "", fmt.Errorf("dangling {{/%s}} without matching opening tag", closeKind)
		}
		open := opens[len(opens)-1]
		kind := prefix[open[2]:open[3]]
		name := prefix[open[4]:open[5]]
		if kind != closeKind {
			return "", fmt.Errorf("{{#%s %s}} closed by {{/%s}}", kind, name, closeKind)
		}

		set := vars[name] != ""
		keep := set
		if kind == "unless" {
			keep = !set
		}
		var body string
		if keep {
			body = result[open[1]:closeLoc[0]]
		}
		result = result[:open[0]] + body + result[closeLoc[1]:]
	}

	if loc := ifOpenRe.FindString(result); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return result, nil
}
