// Package detect defines the Provider interface for scripture-detection
// backends.
//
// A detection provider receives one raw audio segment together with the
// scripture version the caller is listening for and reports whether any verse
// was quoted in it. How the provider gets there (speech recognition, text
// normalisation, verse lookup) is entirely its own business; callers only rely
// on the contract below.
//
// Providers may be slow. Callers are expected to bound every call with a
// context deadline and treat [ErrTimeout] as a non-fatal, per-segment failure.
package detect

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned (wrapped) when a detection call did not finish before
// its deadline.
var ErrTimeout = errors.New("detect: detection timed out")

// Provider is the abstraction over any scripture-detection backend.
//
// Implementations must be safe for concurrent use; a single provider is shared
// by every connection's worker.
type Provider interface {
	// Detect scans segment for scripture quotations in the given version.
	// A nil error with Result.Matched == false means the segment was
	// processed and contained no quotation.
	Detect(ctx context.Context, segment []byte, version string) (Result, error)
}

// Detect calls p.Detect with a deadline of timeout (when positive) and maps a
// deadline overrun to [ErrTimeout]. Cancellation of the parent ctx is returned
// unchanged.
func Detect(ctx context.Context, p Provider, segment []byte, version string, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := p.Detect(ctx, segment, version)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Result{}, err
	}
	return res.normalise(), nil
}
