package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// ThumbnailTimeout bounds a thumbnail download.
const ThumbnailTimeout = 30 * time.Second

// fetchThumbnail downloads an image into a temp file and returns its path.
// The bytes are stored as served; anything that does not sniff as an image
// is rejected.
func (p *Pipeline) fetchThumbnail(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ThumbnailTimeout)
	defer cancel()

	resp, err := p.client.Get(ctx, url, 0, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	limit := p.opts.ThumbnailMaxSize
	if limit <= 0 {
		limit = 10 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("thumbnail larger than %d bytes", limit)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("not an image: %s", mt.String())
	}

	f, err := afero.TempFile(p.fs, p.opts.TempDir, "mioski-thumb-*"+mt.Extension())
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		p.fs.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		p.fs.Remove(name)
		return "", err
	}
	return name, nil
}
