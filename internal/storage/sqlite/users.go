package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrWong99/versecatch/internal/identity"
)

// LookupUserByEmail implements [identity.Directory].
func (s *Store) LookupUserByEmail(ctx context.Context, email string) (string, error) {
	const query = `SELECT id FROM users WHERE lower(email) = ? LIMIT 1`

	var id string
	err := s.db.QueryRowContext(ctx, query, identity.NormalizeEmail(email)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", identity.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: lookup user: %w", classify(err))
	}
	return id, nil
}
