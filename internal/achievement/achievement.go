// Package achievement awards one-time badges when a registered user's
// aggregate activity crosses a threshold.
//
// Every award runs the same three steps: a cheap "already unlocked?" check,
// a threshold comparison against the caller-supplied aggregate, and an insert
// guarded by the store's unique (user, tag) constraint. The constraint is the
// authority: two racing evaluations may both pass the first two steps, but
// only one insert succeeds.
//
// The stream worker calls [Engine.OnVerseCaught]. The share, login and
// payment entry points are called by the services that own those events.
package achievement

import (
	"context"
	"errors"
	"time"
)

// Tag is the stable identifier of an achievement.
type Tag string

const (
	TagVerseCatcher  Tag = "verse_catcher"
	TagBibleExplorer Tag = "bible_explorer"
	TagSharingSaint  Tag = "sharing_saint"
	TagDailyDevotee  Tag = "daily_devotee"
	TagSupporter     Tag = "supporter"
)

// ErrInvalidUser is returned when an achievement operation is attempted
// without a registered user id.
var ErrInvalidUser = errors.New("achievement: user id is required")

// Achievement is one unlocked badge.
type Achievement struct {
	UserID      string
	Tag         Tag
	Name        string
	Requirement string
	AchievedAt  time.Time
}

// Store persists unlocked achievements. Implementations must enforce
// uniqueness of (UserID, Tag).
type Store interface {
	// Has reports whether the user already holds the achievement.
	Has(ctx context.Context, userID string, tag Tag) (bool, error)

	// Insert stores a. inserted is false when the uniqueness constraint
	// rejected a duplicate; that case is not an error.
	Insert(ctx context.Context, a Achievement) (inserted bool, err error)

	// List returns the user's achievements ordered by unlock time.
	List(ctx context.Context, userID string) ([]Achievement, error)
}
