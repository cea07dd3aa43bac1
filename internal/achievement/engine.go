package achievement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/versecatch/internal/ledger"
)

// Engine evaluates achievement rules against ledger aggregates.
// It is safe for concurrent use.
type Engine struct {
	store    Store
	activity ledger.Store
	rules    Rules
	onUnlock func(ctx context.Context, a Achievement)
	now      func() time.Time
}

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithRules replaces [DefaultRules].
func WithRules(rs Rules) EngineOption {
	return func(e *Engine) { e.rules = rs }
}

// WithUnlockHook registers fn to be called once for every achievement that
// this engine inserts.
func WithUnlockHook(fn func(ctx context.Context, a Achievement)) EngineOption {
	return func(e *Engine) { e.onUnlock = fn }
}

// withClock overrides the unlock timestamp source in tests.
func withClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine returns an engine that stores unlocks in store and reads
// aggregates from activity.
func NewEngine(store Store, activity ledger.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		activity: activity,
		rules:    DefaultRules(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Rule returns the rule registered for tag.
func (e *Engine) Rule(tag Tag) (Rule, bool) {
	r, ok := e.rules[tag]
	return r, ok
}

// AwardIfQualified unlocks rule for userID when currentValue meets the
// threshold and the user does not hold it yet. It reports whether this call
// inserted the achievement; losing an insert race reports false without
// error.
func (e *Engine) AwardIfQualified(ctx context.Context, userID string, rule Rule, currentValue int64) (bool, error) {
	_, ok, err := e.awardIfQualified(ctx, userID, rule, currentValue)
	return ok, err
}

func (e *Engine) awardIfQualified(ctx context.Context, userID string, rule Rule, currentValue int64) (Achievement, bool, error) {
	if userID == "" {
		return Achievement{}, false, ErrInvalidUser
	}

	has, err := e.store.Has(ctx, userID, rule.Tag)
	if err != nil {
		return Achievement{}, false, fmt.Errorf("achievement: check %s: %w", rule.Tag, err)
	}
	if has || !rule.Qualifies(currentValue) {
		return Achievement{}, false, nil
	}

	a := Achievement{
		UserID:      userID,
		Tag:         rule.Tag,
		Name:        rule.Name,
		Requirement: rule.Requirement,
		AchievedAt:  e.now().UTC(),
	}
	inserted, err := e.store.Insert(ctx, a)
	if err != nil {
		return Achievement{}, false, fmt.Errorf("achievement: insert %s: %w", rule.Tag, err)
	}
	if !inserted {
		slog.Debug("achievement already unlocked concurrently", "user_id", userID, "tag", rule.Tag)
		return Achievement{}, false, nil
	}
	if e.onUnlock != nil {
		e.onUnlock(ctx, a)
	}
	return a, true, nil
}

// OnVerseCaught evaluates the catch-count and distinct-book rules after a
// verse_caught activity was appended for userID.
func (e *Engine) OnVerseCaught(ctx context.Context, userID string) ([]Achievement, error) {
	var unlocked []Achievement

	if r, ok := e.rules[TagVerseCatcher]; ok {
		n, err := e.activity.CountByType(ctx, userID, ledger.ActivityVerseCaught)
		if err != nil {
			return unlocked, fmt.Errorf("achievement: count catches: %w", err)
		}
		if err := e.award(ctx, userID, r, n, &unlocked); err != nil {
			return unlocked, err
		}
	}

	if r, ok := e.rules[TagBibleExplorer]; ok {
		n, err := e.activity.CountDistinct(ctx, userID, ledger.ActivityVerseCaught, ledger.FieldActivityData)
		if err != nil {
			return unlocked, fmt.Errorf("achievement: count books: %w", err)
		}
		if err := e.award(ctx, userID, r, n, &unlocked); err != nil {
			return unlocked, err
		}
	}
	return unlocked, nil
}

// OnVerseShared evaluates the share-count rule.
func (e *Engine) OnVerseShared(ctx context.Context, userID string) ([]Achievement, error) {
	var unlocked []Achievement
	r, ok := e.rules[TagSharingSaint]
	if !ok {
		return nil, nil
	}
	n, err := e.activity.CountByType(ctx, userID, ledger.ActivityVerseShared)
	if err != nil {
		return nil, fmt.Errorf("achievement: count shares: %w", err)
	}
	err = e.award(ctx, userID, r, n, &unlocked)
	return unlocked, err
}

// OnDailyLogin evaluates the login-streak rule. The streak is maintained by
// the account service and passed in as-is.
func (e *Engine) OnDailyLogin(ctx context.Context, userID string, streak int64) ([]Achievement, error) {
	var unlocked []Achievement
	r, ok := e.rules[TagDailyDevotee]
	if !ok {
		return nil, nil
	}
	err := e.award(ctx, userID, r, streak, &unlocked)
	return unlocked, err
}

// OnPayment evaluates the supporter rule. qualifies is decided by the
// payment collaborator.
func (e *Engine) OnPayment(ctx context.Context, userID string, qualifies bool) ([]Achievement, error) {
	var unlocked []Achievement
	r, ok := e.rules[TagSupporter]
	if !ok {
		return nil, nil
	}
	var v int64
	if qualifies {
		v = 1
	}
	err := e.award(ctx, userID, r, v, &unlocked)
	return unlocked, err
}

// List returns the user's unlocked achievements.
func (e *Engine) List(ctx context.Context, userID string) ([]Achievement, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return e.store.List(ctx, userID)
}

func (e *Engine) award(ctx context.Context, userID string, r Rule, value int64, unlocked *[]Achievement) error {
	a, ok, err := e.awardIfQualified(ctx, userID, r, value)
	if err != nil {
		return err
	}
	if ok {
		*unlocked = append(*unlocked, a)
	}
	return nil
}
