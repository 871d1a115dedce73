// Package token validates the structure of inventory token strings.
package token

import (
	"regexp"
	"strings"
)

// MinLength is the shortest accepted token after trimming.
const MinLength = 50

// u + 32 lowercase hex, ":", then a base64 or base64url payload with a literal "..".
var pattern = regexp.MustCompile(`^u[a-f0-9]{32}:[A-Za-z0-9+/_-]+={0,2}\.\.[A-Za-z0-9+/_-]+=*$`)

// IsValid reports whether s is a structurally valid token. It never modifies s;
// surrounding whitespace is ignored for the checks only.
func IsValid(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || len(trimmed) < MinLength {
		return false
	}
	if !pattern.MatchString(trimmed) {
		return false
	}
	parts := strings.Split(trimmed, ":")
	if len(parts) != 2 || len(parts[0]) != 33 {
		return false
	}
	return strings.Contains(parts[1], "..")
}

// Lines splits multi-line input into trimmed, non-blank entries in input order.
func Lines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
