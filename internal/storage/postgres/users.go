package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/versecatch/internal/identity"
)

// LookupUserByEmail implements [identity.Directory]. Matching is
// case-insensitive.
func (s *Store) LookupUserByEmail(ctx context.Context, email string) (string, error) {
	const query = `SELECT id FROM users WHERE lower(email) = $1 LIMIT 1`

	var id string
	err := s.db.QueryRow(ctx, query, identity.NormalizeEmail(email)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", identity.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: lookup user: %w", classify(err))
	}
	return id, nil
}
