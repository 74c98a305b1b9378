package progress

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024
	TiB = GiB * 1024
)

// FormatBytes formats b with binary units, e.g. "1.5 KiB" or "256 MiB".
func FormatBytes(b int64) string {
	units := []struct {
		size int64
		name string
	}{
		{TiB, "TiB"},
		{GiB, "GiB"},
		{MiB, "MiB"},
		{KiB, "KiB"},
	}

	for _, u := range units {
		if b >= u.size {
			v := float64(b) / float64(u.size)
			if v >= 100 {
				return fmt.Sprintf("%.0f %s", v, u.name)
			}
			return fmt.Sprintf("%.1f %s", v, u.name)
		}
	}
	return fmt.Sprintf("%d B", b)
}

// suffixes are matched in order, so longer suffixes come first.
var suffixes = []struct {
	suffix     string
	multiplier int64
}{
	{"TiB", TiB},
	{"GiB", GiB},
	{"MiB", MiB},
	{"KiB", KiB},
	{"TB", 1000 * 1000 * 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"MB", 1000 * 1000},
	{"KB", 1000},
	{"B", 1},
}

// ParseBytes parses a byte string. Binary units (KiB, MiB, GiB, TiB) are
// powers of 1024, SI units (KB, MB, GB, TB) powers of 1000. A bare number is
// a byte count; underscores are ignored ("1_900_000_000").
func ParseBytes(s string) (int64, error) {
	raw := s
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")

	var multiplier int64 = 1
	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			multiplier = sfx.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, sfx.suffix))
			break
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid byte string: %s", raw)
		}
		if n > math.MaxInt64/multiplier {
			return 0, fmt.Errorf("byte string out of range: %s", raw)
		}
		return n * multiplier, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid byte string: %s", raw)
	}
	v = math.Round(v * float64(multiplier))
	// float64(math.MaxInt64) rounds up to 2^63.
	if v >= math.MaxInt64 {
		return 0, fmt.Errorf("byte string out of range: %s", raw)
	}
	return int64(v), nil
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
