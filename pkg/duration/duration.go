// Package duration formats durations for humans. Go's time.Duration.String
// is exact but noisy ("1h0m0s", "4.000000001s"); Format trims zero units and
// rounds to a readable precision for logs and reports.
package duration

import (
	"fmt"
	"time"
)

// Format renders d compactly: "90ms", "45s", "1m30s", "2h", "26h30m".
// Durations under a second keep millisecond precision; everything else is
// rounded to whole seconds. Days are not used since encoder uptimes and
// break lengths are the common case.
func Format(d time.Duration) string {
	if d < 0 {
		return "-" + Format(-d)
	}
	if d == 0 {
		return "0s"
	}
	if d < time.Second {
		if d < time.Millisecond {
			return d.String()
		}
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second

	switch {
	case h > 0 && m == 0 && s == 0:
		return fmt.Sprintf("%dh", h)
	case h > 0 && s == 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0 && s == 0:
		return fmt.Sprintf("%dm", m)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
