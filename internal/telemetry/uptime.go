package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatUptime renders d the way the dashboard labels uptimes:
// "12d 15h 42m", "5h 3m" or "0m".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int64(d / time.Minute)
	days, mins := mins/(24*60), mins%(24*60)
	hours, mins := mins/60, mins%60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// ParseUptime is the inverse of FormatUptime. It accepts any subset of the
// d/h/m fields in any order ("2d 5h", "42m").
func ParseUptime(s string) (time.Duration, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, f := range fields {
		if len(f) < 2 {
			return 0, false
		}
		n, err := strconv.Atoi(f[:len(f)-1])
		if err != nil || n < 0 {
			return 0, false
		}
		switch f[len(f)-1] {
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		default:
			return 0, false
		}
	}
	return total, true
}
