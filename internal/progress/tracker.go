package progress

import (
	"log/slog"
	"time"
)

// DefaultInterval is how many bytes pass between progress log lines.
const DefaultInterval = 10 * 1024 * 1024

// Tracker logs transfer progress. It is not safe for concurrent use; every
// transfer owns its own Tracker.
type Tracker struct {
	log      *slog.Logger
	name     string
	total    int64
	interval int64

	written   int64
	next      int64
	startedAt time.Time
	base      int64
}

// NewTracker returns a Tracker for a transfer of total bytes (negative when
// unknown) that resumes at offset.
func NewTracker(log *slog.Logger, name string, total, offset int64) *Tracker {
	return NewTrackerInterval(log, name, total, offset, DefaultInterval)
}

// NewTrackerInterval is NewTracker with a custom logging interval.
func NewTrackerInterval(log *slog.Logger, name string, total, offset, interval int64) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		log:       log,
		name:      name,
		total:     total,
		interval:  interval,
		written:   offset,
		next:      (offset/interval + 1) * interval,
		startedAt: time.Now(),
		base:      offset,
	}
}

// Write records len(p) transferred bytes. It never fails.
func (t *Tracker) Write(p []byte) (int, error) {
	t.written += int64(len(p))
	if t.written >= t.next {
		t.report("Download progress")
		t.next = (t.written/t.interval + 1) * t.interval
	}
	return len(p), nil
}

// Written returns the bytes counted so far, including the resume offset.
func (t *Tracker) Written() int64 {
	return t.written
}

// Done logs a final summary with the average speed of this session.
func (t *Tracker) Done() {
	elapsed := time.Since(t.startedAt)
	speed := float64(t.written-t.base) / max(elapsed.Seconds(), 0.001)
	t.log.Info("Download completed",
		slog.String("name", t.name),
		slog.String("size", FormatBytes(t.written)),
		slog.String("elapsed", formatDuration(elapsed)),
		slog.String("speed", FormatBytes(int64(speed))+"/s"),
	)
}

func (t *Tracker) report(msg string) {
	attrs := []any{
		slog.String("name", t.name),
		slog.String("written", FormatBytes(t.written)),
	}
	if t.total > 0 {
		percent := float64(t.written) / float64(t.total) * 100
		attrs = append(attrs,
			slog.String("total", FormatBytes(t.total)),
			slog.Float64("percent", float64(int(percent*10))/10),
		)
	}
	t.log.Info(msg, attrs...)
}
