package failure

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	// Unknown is reported for errors that did not originate here.
	Unknown Kind = "unknown"
	// ProbeFailure means the size probe failed; the size is treated as unknown.
	ProbeFailure Kind = "probe_failure"
	// TooLarge means the resource exceeds the hard download ceiling.
	TooLarge Kind = "too_large"
	// TransferFailure covers timeouts, resets and unexpected HTTP statuses.
	TransferFailure Kind = "transfer_failure"
	// SizeMismatch means the transferred size differs from the declared length.
	SizeMismatch Kind = "size_mismatch"
	// ExhaustedRetries means every download attempt failed.
	ExhaustedRetries Kind = "exhausted_retries"
	// SplitFailure means partitioning a downloaded file failed.
	SplitFailure Kind = "split_failure"
	// ManifestFailure means the manifest could not be loaded or decoded.
	ManifestFailure Kind = "manifest_failure"
	// UploadFailure means the uploader rejected an artifact.
	UploadFailure Kind = "upload_failure"
)

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	return k == TransferFailure || k == SizeMismatch
}

func (k Kind) String() string {
	return string(k)
}

// Sentinels for use with errors.Is.
var (
	ErrProbeFailure     = &Error{Kind: ProbeFailure}
	ErrTooLarge         = &Error{Kind: TooLarge}
	ErrTransferFailure  = &Error{Kind: TransferFailure}
	ErrSizeMismatch     = &Error{Kind: SizeMismatch}
	ErrExhaustedRetries = &Error{Kind: ExhaustedRetries}
	ErrSplitFailure     = &Error{Kind: SplitFailure}
	ErrManifestFailure  = &Error{Kind: ManifestFailure}
	ErrUploadFailure    = &Error{Kind: UploadFailure}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "download"
	URL  string // remote resource, if any
	Err  error  // underlying cause
}

// New returns an Error of the given kind.
func New(kind Kind, op, url string, err error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

// Newf returns an Error whose cause is built from a format string.
func Newf(kind Kind, op, url, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is regardless of Op, URL or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Retryable reports whether err is classified as retryable.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
