// Package schema folds per-slice headers into the output schema of a run
// and maps remote field types onto a small set of canonical column types.
package schema

import "regexp"

var forbidden = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Normalize replaces every character outside [A-Za-z0-9_] with '_'
func Normalize(name string) string {
	return forbidden.ReplaceAllString(name, "_")
}

// NormalizeAll normalizes names, keeping their order
func NormalizeAll(names []string) []string {
	if names == nil {
		return nil
	}

	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Normalize(n)
	}

	return out
}
