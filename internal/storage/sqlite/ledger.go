package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/ledger"
)

const (
	upsertRegisteredCounter = `
		INSERT INTO capture_counters (user_id, count, last_captured_at)
		VALUES (?, 1, ?)
		ON CONFLICT (user_id) WHERE user_id IS NOT NULL
		DO UPDATE SET count = count + 1,
		              last_captured_at = excluded.last_captured_at
		RETURNING count`

	upsertAnonymousCounter = `
		INSERT INTO capture_counters (anonymous_id, count, last_captured_at)
		VALUES (?, 1, ?)
		ON CONFLICT (anonymous_id) WHERE anonymous_id IS NOT NULL
		DO UPDATE SET count = count + 1,
		              last_captured_at = excluded.last_captured_at
		RETURNING count`
)

// RecordCapture implements [ledger.Store.RecordCapture].
func (s *Store) RecordCapture(ctx context.Context, id identity.Identity) (int64, error) {
	if err := ledger.ValidateCapture(id); err != nil {
		return 0, err
	}

	query := upsertAnonymousCounter
	if id.IsRegistered() {
		query = upsertRegisteredCounter
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, id.ID, time.Now().UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: record capture: %w", classify(err))
	}
	return n, nil
}

// Counter implements [ledger.Store.Counter].
func (s *Store) Counter(ctx context.Context, id identity.Identity) (ledger.CaptureCounter, bool, error) {
	if err := ledger.ValidateCapture(id); err != nil {
		return ledger.CaptureCounter{}, false, err
	}

	query := `SELECT count, last_captured_at FROM capture_counters WHERE anonymous_id = ?`
	if id.IsRegistered() {
		query = `SELECT count, last_captured_at FROM capture_counters WHERE user_id = ?`
	}

	c := ledger.CaptureCounter{Identity: id}
	err := s.db.QueryRowContext(ctx, query, id.ID).Scan(&c.Count, &c.LastCapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.CaptureCounter{}, false, nil
	}
	if err != nil {
		return ledger.CaptureCounter{}, false, fmt.Errorf("sqlite: counter: %w", classify(err))
	}
	return c, true, nil
}

// AppendActivity implements [ledger.Store.AppendActivity].
func (s *Store) AppendActivity(ctx context.Context, userID string, typ ledger.ActivityType, data string) error {
	if err := ledger.ValidateActivity(userID, typ); err != nil {
		return err
	}

	const query = `
		INSERT INTO user_activities (user_id, activity_type, activity_data, activity_date)
		VALUES (?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, query, userID, string(typ), data, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: append activity: %w", classify(err))
	}
	return nil
}

// CountByType implements [ledger.Store.CountByType].
func (s *Store) CountByType(ctx context.Context, userID string, typ ledger.ActivityType) (int64, error) {
	if err := ledger.ValidateActivity(userID, typ); err != nil {
		return 0, err
	}

	const query = `SELECT count(*) FROM user_activities WHERE user_id = ? AND activity_type = ?`

	var n int64
	if err := s.db.QueryRowContext(ctx, query, userID, string(typ)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count by type: %w", classify(err))
	}
	return n, nil
}

// CountDistinct implements [ledger.Store.CountDistinct].
func (s *Store) CountDistinct(ctx context.Context, userID string, typ ledger.ActivityType, field ledger.Field) (int64, error) {
	if err := ledger.ValidateActivity(userID, typ); err != nil {
		return 0, err
	}
	if err := ledger.ValidateField(field); err != nil {
		return 0, err
	}

	const query = `
		SELECT count(DISTINCT activity_data) FROM user_activities
		WHERE user_id = ? AND activity_type = ? AND activity_data <> ''`

	var n int64
	if err := s.db.QueryRowContext(ctx, query, userID, string(typ)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count distinct: %w", classify(err))
	}
	return n, nil
}
