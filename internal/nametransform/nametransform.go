// Package nametransform implements the pure name-mangling rules shared
// by the Metadata Cache's reconstruction path and the Adapter Façade's
// live tool-registration path, so both produce byte-identical names for
// the same (server, tool, prefix) input (spec.md §4.8.1, §8 "round-trip"
// laws).
package nametransform

import (
	"regexp"
	"strings"
)

var trailingMcpSuffix = regexp.MustCompile(`(?i)-?mcp$`)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// FormatToolName implements spec.md §4.8.1's formatToolName. prefix is
// the string form of mcptypes.ToolPrefixMode; callers pass
// string(mode) since that type's underlying representation is string.
func FormatToolName(tool, server, prefix string) string {
	switch prefix {
	case "none":
		return tool
	case "short":
		short := trailingMcpSuffix.ReplaceAllString(server, "")
		short = strings.ReplaceAll(short, "-", "_")
		if short == "" {
			short = "mcp"
		}
		return short + "_" + tool
	default: // "server" and unset both default to server-prefixed naming.
		p := strings.ReplaceAll(server, "-", "_")
		return p + "_" + tool
	}
}

// Sanitize lowercases s and replaces runs of non-alphanumeric characters
// with a single underscore, per spec.md §4.8.1's resource tool-name
// transform.
func Sanitize(s string) string {
	lower := strings.ToLower(s)
	return strings.Trim(nonAlnum.ReplaceAllString(lower, "_"), "_")
}

// ResourceNameToToolName implements spec.md §4.8.1:
// toolName = "get_" + sanitize(resourceName); if the first character of
// the sanitized name is a digit, prefix "resource_" as well.
func ResourceNameToToolName(resourceName string) string {
	s := Sanitize(resourceName)
	if s == "" {
		s = "resource"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "resource_" + s
	}
	return "get_" + s
}
