// Package mcp exposes run history and wallet pool inspection tools
// over MCP stdio transport.
package mcp

import (
	"fmt"
	"strings"
)

// kv formats a key-value pair with aligned values (20 char key width).
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

// formatMs formats milliseconds with a "ms" suffix.
func formatMs(v float64) string {
	return fmt.Sprintf("%.1fms", v)
}

// formatPct formats a ratio as a percentage string.
func formatPct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
