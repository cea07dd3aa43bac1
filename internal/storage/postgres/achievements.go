package postgres

import (
	"context"
	"fmt"

	"github.com/MrWong99/versecatch/internal/achievement"
)

// Has implements [achievement.Store.Has].
func (s *Store) Has(ctx context.Context, userID string, tag achievement.Tag) (bool, error) {
	const query = `
		SELECT EXISTS (SELECT 1 FROM achievements WHERE user_id = $1 AND tag = $2)`

	var ok bool
	if err := s.db.QueryRow(ctx, query, userID, string(tag)).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: has achievement: %w", classify(err))
	}
	return ok, nil
}

// Insert implements [achievement.Store.Insert]. A unique violation on
// (user_id, tag) means another evaluation won the race and is reported as
// inserted == false.
func (s *Store) Insert(ctx context.Context, a achievement.Achievement) (bool, error) {
	if a.UserID == "" {
		return false, achievement.ErrInvalidUser
	}

	const query = `
		INSERT INTO achievements (user_id, tag, name, requirement, achieved_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.Exec(ctx, query, a.UserID, string(a.Tag), a.Name, a.Requirement, a.AchievedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("postgres: insert achievement: %w", classify(err))
	}
	return true, nil
}

// List implements [achievement.Store.List].
func (s *Store) List(ctx context.Context, userID string) ([]achievement.Achievement, error) {
	const query = `
		SELECT tag, name, requirement, achieved_at
		FROM achievements
		WHERE user_id = $1
		ORDER BY achieved_at, tag`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list achievements: %w", classify(err))
	}
	defer rows.Close()

	var out []achievement.Achievement
	for rows.Next() {
		a := achievement.Achievement{UserID: userID}
		var tag string
		if err := rows.Scan(&tag, &a.Name, &a.Requirement, &a.AchievedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan achievement: %w", err)
		}
		a.Tag = achievement.Tag(tag)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list achievements: %w", classify(err))
	}
	return out, nil
}
