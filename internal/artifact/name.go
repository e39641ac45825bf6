// Package artifact renames toolchain outputs to their release names and
// moves them into the work area.
package artifact

import (
	"fmt"
	"strings"
)

const placeholder = "%s"

// ExpandName substitutes successive %s placeholders in template with args.
// Release names take version, tag and flavor in that order; SDK zip names
// take only version and tag. Surplus args are ignored.
func ExpandName(template string, args ...string) (string, error) {
	if n := strings.Count(template, placeholder); n > len(args) {
		return "", fmt.Errorf("name template %q has %d placeholders, got %d values", template, n, len(args))
	}
	var b strings.Builder
	rest := template
	for _, arg := range args {
		i := strings.Index(rest, placeholder)
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		b.WriteString(arg)
		rest = rest[i+len(placeholder):]
	}
	b.WriteString(rest)
	return b.String(), nil
}
