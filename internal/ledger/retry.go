package ledger

import (
	"context"

	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/resilience"
)

// Compile-time assertion that the retrying decorator satisfies Store.
var _ Store = (*retryStore)(nil)

// RetryPolicy bounds the retries of [WithRetry].
type RetryPolicy = resilience.RetryConfig

// retryStore retries transient failures of the wrapped store. Backends mark
// an error transient only when the failed statement did not commit, so a
// retried write is applied at most once.
type retryStore struct {
	next   Store
	policy RetryPolicy
}

// WithRetry decorates s so that errors marked with [MarkTransient] are
// retried with exponential backoff up to policy.MaxAttempts times. Any other
// error is returned immediately.
func WithRetry(s Store, policy RetryPolicy) Store {
	if policy.Name == "" {
		policy.Name = "ledger"
	}
	return &retryStore{next: s, policy: policy}
}

func (r *retryStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p := r.policy
	p.Name = r.policy.Name + "." + op
	return resilience.Retry(ctx, p, IsTransient, fn)
}

func (r *retryStore) RecordCapture(ctx context.Context, id identity.Identity) (int64, error) {
	var n int64
	err := r.do(ctx, "record_capture", func(ctx context.Context) error {
		var err error
		n, err = r.next.RecordCapture(ctx, id)
		return err
	})
	return n, err
}

func (r *retryStore) AppendActivity(ctx context.Context, userID string, typ ActivityType, data string) error {
	return r.do(ctx, "append_activity", func(ctx context.Context) error {
		return r.next.AppendActivity(ctx, userID, typ, data)
	})
}

func (r *retryStore) CountByType(ctx context.Context, userID string, typ ActivityType) (int64, error) {
	var n int64
	err := r.do(ctx, "count_by_type", func(ctx context.Context) error {
		var err error
		n, err = r.next.CountByType(ctx, userID, typ)
		return err
	})
	return n, err
}

func (r *retryStore) CountDistinct(ctx context.Context, userID string, typ ActivityType, field Field) (int64, error) {
	var n int64
	err := r.do(ctx, "count_distinct", func(ctx context.Context) error {
		var err error
		n, err = r.next.CountDistinct(ctx, userID, typ, field)
		return err
	})
	return n, err
}

func (r *retryStore) Counter(ctx context.Context, id identity.Identity) (CaptureCounter, bool, error) {
	var (
		c     CaptureCounter
		found bool
	)
	err := r.do(ctx, "counter", func(ctx context.Context) error {
		var err error
		c, found, err = r.next.Counter(ctx, id)
		return err
	})
	return c, found, err
}
