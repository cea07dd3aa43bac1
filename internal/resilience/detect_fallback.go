package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/versecatch/pkg/provider/detect"
)

// Compile-time interface assertion.
var _ detect.Provider = (*DetectFallback)(nil)

// DetectFallback implements [detect.Provider] by failing over across
// detection engines, each behind its own circuit breaker.
type DetectFallback struct {
	group *FallbackGroup[detect.Provider]
}

// NewDetectFallback creates a DetectFallback with primary as the preferred
// engine.
func NewDetectFallback(primary detect.Provider, primaryName string, cfg FallbackConfig) *DetectFallback {
	return &DetectFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another engine, tried after all earlier ones.
func (f *DetectFallback) AddFallback(name string, p detect.Provider) {
	f.group.AddFallback(name, p)
}

// Detect runs the segment against the first engine that answers.
func (f *DetectFallback) Detect(ctx context.Context, segment []byte, version string) (detect.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p detect.Provider) (detect.Result, error) {
		return p.Detect(ctx, segment, version)
	})
}

// Available reports whether any engine's breaker currently admits calls.
func (f *DetectFallback) Available() bool { return f.group.Available() }

// BreakerStates returns the breaker state per engine name.
func (f *DetectFallback) BreakerStates() map[string]State { return f.group.BreakerStates() }

// IsUnavailable reports whether err means no engine could be reached: every
// engine was skipped or failed and at least the last one was rejected by an
// open breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrAllFailed) && errors.Is(err, ErrCircuitOpen)
}
