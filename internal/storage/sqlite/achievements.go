package sqlite

import (
	"context"
	"fmt"

	"github.com/MrWong99/versecatch/internal/achievement"
)

// Has implements [achievement.Store.Has].
func (s *Store) Has(ctx context.Context, userID string, tag achievement.Tag) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM achievements WHERE user_id = ? AND tag = ?)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, userID, string(tag)).Scan(&ok); err != nil {
		return false, fmt.Errorf("sqlite: has achievement: %w", classify(err))
	}
	return ok, nil
}

// Insert implements [achievement.Store.Insert]. A duplicate (user_id, tag)
// is reported as inserted == false.
func (s *Store) Insert(ctx context.Context, a achievement.Achievement) (bool, error) {
	if a.UserID == "" {
		return false, achievement.ErrInvalidUser
	}

	const query = `
		INSERT INTO achievements (user_id, tag, name, requirement, achieved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, tag) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, a.UserID, string(a.Tag), a.Name, a.Requirement, a.AchievedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("sqlite: insert achievement: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: insert achievement: %w", err)
	}
	return n == 1, nil
}

// List implements [achievement.Store.List].
func (s *Store) List(ctx context.Context, userID string) ([]achievement.Achievement, error) {
	const query = `
		SELECT tag, name, requirement, achieved_at
		FROM achievements
		WHERE user_id = ?
		ORDER BY achieved_at, tag`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list achievements: %w", classify(err))
	}
	defer rows.Close()

	var out []achievement.Achievement
	for rows.Next() {
		a := achievement.Achievement{UserID: userID}
		var tag string
		if err := rows.Scan(&tag, &a.Name, &a.Requirement, &a.AchievedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan achievement: %w", err)
		}
		a.Tag = achievement.Tag(tag)
		out = append(out, a)
	}
	return out, rows.Err()
}
