// Package ledger defines the Usage Ledger: durable per-identity capture
// counters plus an append-only activity log.
//
// Counters exist for registered and anonymous identities alike and are only
// ever created or incremented, never deleted. The activity log exists only for
// registered users and is the source of truth for the aggregates consumed by
// the achievement engine (total catches, distinct books, shares).
//
// Storage backends live in internal/storage; [MemStore] is an in-process
// implementation for tests and single-node demos. [WithRetry] decorates any
// [Store] with bounded retries for transient storage faults.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/versecatch/internal/identity"
)

// ActivityType enumerates the kinds of activity appended to the log.
type ActivityType string

const (
	ActivityVerseCaught   ActivityType = "verse_caught"
	ActivityVerseShared   ActivityType = "verse_shared"
	ActivityDailyLogin    ActivityType = "daily_login"
	ActivityThemeUnlocked ActivityType = "theme_unlocked"
	ActivityPayment       ActivityType = "payment"
)

// IsValid reports whether t is a recognised activity type.
func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityVerseCaught, ActivityVerseShared, ActivityDailyLogin,
		ActivityThemeUnlocked, ActivityPayment:
		return true
	}
	return false
}

// Field names an activity column that supports distinct counting.
type Field string

// FieldActivityData is the free-form payload column (for verse_caught it holds
// the book name).
const FieldActivityData Field = "activity_data"

var (
	// ErrInvalidIdentity is returned for a zero or malformed identity, and for
	// activity appends against an anonymous identity.
	ErrInvalidIdentity = errors.New("ledger: invalid identity")

	// ErrUnsupportedField is returned by CountDistinct for any field other
	// than [FieldActivityData].
	ErrUnsupportedField = errors.New("ledger: unsupported distinct field")

	// ErrInvalidActivityType is returned for an unknown activity type.
	ErrInvalidActivityType = errors.New("ledger: invalid activity type")
)

// CaptureCounter is the per-identity match counter.
type CaptureCounter struct {
	Identity       identity.Identity
	Count          int64
	LastCapturedAt time.Time
}

// ActivityRecord is one immutable activity-log row.
type ActivityRecord struct {
	ID     int64
	UserID string
	Type   ActivityType
	Data   string
	Date   time.Time
}

// Store is the Usage Ledger. Implementations must be safe for concurrent use
// and must make RecordCapture atomic per identity: C concurrent calls for the
// same identity must leave the counter at exactly C higher than before.
type Store interface {
	// RecordCapture creates the identity's counter with count 1 or
	// increments it and refreshes its timestamp, returning the new count.
	RecordCapture(ctx context.Context, id identity.Identity) (int64, error)

	// AppendActivity appends one record for a registered user.
	AppendActivity(ctx context.Context, userID string, typ ActivityType, data string) error

	// CountByType counts the user's records of the given type.
	CountByType(ctx context.Context, userID string, typ ActivityType) (int64, error)

	// CountDistinct counts distinct non-empty values of field among the
	// user's records of the given type.
	CountDistinct(ctx context.Context, userID string, typ ActivityType, field Field) (int64, error)

	// Counter returns the identity's counter. found is false when the
	// identity has never been credited.
	Counter(ctx context.Context, id identity.Identity) (c CaptureCounter, found bool, err error)
}

// ValidateCapture checks the arguments of [Store.RecordCapture]. Backends call
// it before touching storage.
func ValidateCapture(id identity.Identity) error {
	if err := id.Validate(); err != nil {
		return errors.Join(ErrInvalidIdentity, err)
	}
	return nil
}

// ValidateActivity checks the arguments of [Store.AppendActivity] and the
// count queries.
func ValidateActivity(userID string, typ ActivityType) error {
	if userID == "" {
		return ErrInvalidIdentity
	}
	if !typ.IsValid() {
		return ErrInvalidActivityType
	}
	return nil
}

// ValidateField checks the field argument of [Store.CountDistinct].
func ValidateField(f Field) error {
	if f != FieldActivityData {
		return ErrUnsupportedField
	}
	return nil
}

// transientError marks a storage error as safe to retry.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so that [IsTransient] reports true. A nil err stays
// nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked with
// [MarkTransient].
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
