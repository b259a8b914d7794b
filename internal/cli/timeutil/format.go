// Package timeutil formats timestamps for CLI output.
package timeutil

import (
	"fmt"
	"time"
)

// LocalTimeFormat is used for absolute times in CLI output.
const LocalTimeFormat = "Mon Jan 2 15:04:05 2006"

// FormatTime renders t in local time, or "never" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(LocalTimeFormat)
}

// FormatAge renders how long before now t was, e.g. "3d 4h" or "12s".
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
