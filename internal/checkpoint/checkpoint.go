// Package checkpoint remembers the last manifest entry a run processed so a
// later run can pick up after it.
//
// Stores are opened from a URL:
//
//	redis://localhost:6379/0?key=mioski:checkpoint
//	file:///var/lib/mioski?key=checkpoint.json
//	s3://bucket?region=us-east-1&key=mioski/checkpoint.json
//
// The key parameter is optional; DefaultKey is used when it is absent.
package checkpoint

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultKey names the checkpoint object or Redis key.
const DefaultKey = "mioski.checkpoint"

// Store persists the ID of the last processed entry.
type Store interface {
	// Load returns the last saved ID. ok is false when nothing was saved yet.
	Load(ctx context.Context) (id int64, ok bool, err error)
	// Save records id as the last processed entry.
	Save(ctx context.Context, id int64) error
	Close() error
}

// record is the stored document.
type record struct {
	LastID    int64     `json:"last_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open returns the Store for rawURL. redis:// and rediss:// URLs use Redis;
// anything else is treated as a gocloud bucket URL.
func Open(ctx context.Context, rawURL string) (Store, error) {
	base, key, err := splitKey(rawURL)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(base, "redis://"), strings.HasPrefix(base, "rediss://"):
		return OpenRedis(ctx, base, key)
	default:
		return OpenBucket(ctx, base, key+".json")
	}
}

// splitKey removes the key query parameter from rawURL.
func splitKey(rawURL string) (base, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("checkpoint: parse url: %w", err)
	}
	if u.Scheme == "" {
		return "", "", fmt.Errorf("checkpoint: url %q has no scheme", rawURL)
	}

	q := u.Query()
	key = strings.TrimSuffix(q.Get("key"), ".json")
	if key == "" {
		key = DefaultKey
	}
	q.Del("key")
	u.RawQuery = q.Encode()
	return u.String(), key, nil
}
