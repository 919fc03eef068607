// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
)

// FormatPrice formats a price with thousands separators, matching the way
// the upstream feed renders large quotes.
func FormatPrice(value float64) string {
	negative := value < 0
	if negative {
		value = -value
	}

	str := fmt.Sprintf("%.2f", value)
	parts := strings.Split(str, ".")
	intPart := groupThousands(parts[0])
	result := intPart + "." + parts[1]

	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]
	for len(s) > 3 {
		result = s[len(s)-3:] + "," + result
		s = s[:len(s)-3]
	}
	return s + "," + result
}

// FormatPercent formats a percentage change with an explicit sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatChange formats an absolute price change with an explicit sign.
func FormatChange(value float64) string {
	formatted := FormatPrice(value)
	if value > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatCompact renders large numbers with K/M suffixes for tight columns.
func FormatCompact(value float64) string {
	abs := value
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", value/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.2fK", value/1e3)
	}
	return fmt.Sprintf("%.2f", value)
}
