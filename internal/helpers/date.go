package helpers

import (
	"fmt"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
)

// FormatStamp returns a sortable timestamp (YYYYMMDDHHMMSS plus centiseconds) used in backup names.
func FormatStamp(t time.Time) string {
	return fmt.Sprintf("%s%02d", t.Format(constants.StampTimeSpec), t.Nanosecond()/int(10*time.Millisecond))
}

// ParseStamp is the inverse of FormatStamp, accurate to the centisecond.
func ParseStamp(stamp string, loc *time.Location) (time.Time, error) {
	if len(stamp) != 14 && len(stamp) != 16 {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", stamp)
	}
	t, err := time.ParseInLocation(constants.StampTimeSpec, stamp[:14], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", stamp, err)
	}
	if len(stamp) == 16 {
		var cs int
		if _, err := fmt.Sscanf(stamp[14:], "%02d", &cs); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", stamp, err)
		}
		t = t.Add(time.Duration(cs) * 10 * time.Millisecond)
	}
	return t, nil
}

// FormatAge formats t relative to now in a CLI-friendly way,
// similar to Docker and Kubernetes tools (e.g. "2 minutes ago", "3 hours ago").
func FormatAge(t, now time.Time) string {
	elapsed := now.Sub(t)
	if elapsed < 0 {
		return formatDuration(-elapsed) + " from now"
	}
	return formatDuration(elapsed) + " ago"
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		seconds := int(d.Seconds())
		if seconds <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", seconds)
	}

	if d < time.Hour {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}

	if d < 24*time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}

	if d < 30*24*time.Hour {
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}

	if d < 365*24*time.Hour {
		months := int(d.Hours() / (24 * 30)) // Rough approximation
		if months == 1 {
			return "1 month"
		}
		return fmt.Sprintf("%d months", months)
	}

	years := int(d.Hours() / (24 * 365))
	if years == 1 {
		return "1 year"
	}
	return fmt.Sprintf("%d years", years)
}
