package common

import (
	"fmt"
	"strings"
)

// Normalize lower-cases s and trims surrounding whitespace, for matching
// config values such as log levels and component names.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HumanBytes renders a byte count with a binary unit, e.g. "1.5 MiB".
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
