package downloader

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkfsm/mioski/internal/failure"
	mhttp "github.com/pkfsm/mioski/internal/http"
)

// DefaultProbeTimeout bounds a single size probe.
const DefaultProbeTimeout = 30 * time.Second

// Prober determines the size of a remote resource without downloading it.
type Prober struct {
	client  *mhttp.Client
	log     *slog.Logger
	timeout time.Duration
}

// NewProber returns a Prober. A non-positive timeout uses DefaultProbeTimeout.
func NewProber(client *mhttp.Client, log *slog.Logger, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{client: client, log: log, timeout: timeout}
}

// Probe returns the declared length of url and true, or -1 and false when the
// size cannot be determined. It never fails; problems are logged at warn
// level and the size is reported as unknown.
func (p *Prober) Probe(ctx context.Context, url string) (int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	info, err := p.client.Head(ctx, url)
	if err != nil {
		p.warn(url, failure.New(failure.ProbeFailure, "probe", url, err))
		return -1, false
	}
	if info.StatusCode != http.StatusOK {
		p.warn(url, failure.Newf(failure.ProbeFailure, "probe", url, "status %d", info.StatusCode))
		return -1, false
	}
	if info.Size < 0 {
		p.warn(url, failure.Newf(failure.ProbeFailure, "probe", url, "no content length"))
		return -1, false
	}

	p.log.Debug("Probed size", slog.String("url", url), slog.Int64("size", info.Size))
	return info.Size, true
}

func (p *Prober) warn(url string, err error) {
	p.log.Warn("Could not determine file size", slog.String("url", url), slog.Any("error", err))
}
