package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/pkfsm/mioski/internal/failure"
)

// DefaultExtension is used when a link has no file extension.
const DefaultExtension = ".mp4"

// Entry is one media item.
type Entry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Link string `json:"link"`
	Logo string `json:"tvg-logo,omitempty"`
}

// Validate reports whether e has the fields needed for delivery.
func (e Entry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, errors.New("missing name"))
	}
	if strings.TrimSpace(e.Link) == "" {
		errs = append(errs, errors.New("missing link"))
	}
	return errors.Join(errs...)
}

// Decode parses a manifest document.
func Decode(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, failure.New(failure.ManifestFailure, "decode", "", err)
	}
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, failure.New(failure.ManifestFailure, "decode", "", fmt.Errorf("entry %d (id %d): %w", i, e.ID, err))
		}
	}
	return entries, nil
}

// Filter returns the entries whose ID is at least startID, in order.
func Filter(entries []Entry, startID int64) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.ID >= startID {
			out = append(out, e)
		}
	}
	return out
}

// CleanFilename builds a file name from an entry name and its link. Only
// letters, digits, spaces, '-' and '_' are kept, spaces become underscores
// and the extension is taken from the link path.
func CleanFilename(name, link string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	clean := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
	if clean == "" {
		clean = "media"
	}
	return clean + linkExtension(link)
}

func linkExtension(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return DefaultExtension
	}
	if ext := path.Ext(path.Base(u.Path)); ext != "" && ext != "." {
		return ext
	}
	return DefaultExtension
}

var (
	driveFilePattern = regexp.MustCompile(`drive\.google\.com/file/d/([a-zA-Z0-9_-]+)`)
	driveOpenPattern = regexp.MustCompile(`drive\.google\.com/open\?id=([a-zA-Z0-9_-]+)`)
)

// DirectURL rewrites Google Drive sharing links to direct download links.
// Any other link is returned unchanged.
func DirectURL(link string) string {
	for _, re := range []*regexp.Regexp{driveFilePattern, driveOpenPattern} {
		if m := re.FindStringSubmatch(link); m != nil {
			return "https://drive.google.com/uc?export=download&id=" + m[1]
		}
	}
	return link
}
