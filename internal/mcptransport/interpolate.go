package mcptransport

import (
	"os"
	"regexp"
)

var varPatterns = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$env:([A-Za-z_][A-Za-z0-9_]*)`)

// Interpolate substitutes `${VAR}` and `$env:VAR` occurrences in s from
// the parent process environment (spec.md §6.3); an unresolved variable
// becomes an empty string rather than being left literal.
func Interpolate(s string) string {
	return varPatterns.ReplaceAllStringFunc(s, func(match string) string {
		sub := varPatterns.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		v, _ := os.LookupEnv(name)
		return v
	})
}

// InterpolateMap applies Interpolate to every value of m, returning a
// new map; keys are left unchanged.
func InterpolateMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Interpolate(v)
	}
	return out
}
