// Package failure classifies the ways acquiring a manifest entry can fail.
//
// Every error that crosses a component boundary in mioski is a [*Error]
// carrying a [Kind]. Callers branch on the kind rather than on error strings:
//
//	art, err := p.Acquire(ctx, entry)
//	switch failure.KindOf(err) {
//	case failure.TooLarge:
//	    // skip, never retried
//	case failure.ExhaustedRetries:
//	    // count as failed, move on
//	}
//
// errors.Is also works against the per-kind sentinels:
//
//	if errors.Is(err, failure.ErrTooLarge) { ... }
package failure
