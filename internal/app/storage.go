package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/versecatch/internal/achievement"
	"github.com/MrWong99/versecatch/internal/config"
	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/ledger"
	"github.com/MrWong99/versecatch/internal/storage/postgres"
	"github.com/MrWong99/versecatch/internal/storage/sqlite"
)

// Storage is everything the server needs from a backend: the usage ledger,
// achievement rows, the read-only user directory, and a liveness probe.
type Storage interface {
	ledger.Store
	achievement.Store
	identity.Directory
	Ping(ctx context.Context) error
}

var (
	_ Storage = (*postgres.Store)(nil)
	_ Storage = (*sqlite.Store)(nil)
	_ Storage = (*MemStorage)(nil)
)

// MemStorage is the in-memory backend. Its user directory is empty unless
// users are added with [MemStorage.AddUser].
type MemStorage struct {
	*ledger.MemStore
	Achievements *achievement.MemStore

	users map[string]string
}

// NewMemStorage returns an empty in-memory backend.
func NewMemStorage() *MemStorage {
	return &MemStorage{
		MemStore:     ledger.NewMemStore(),
		Achievements: achievement.NewMemStore(),
		users:        make(map[string]string),
	}
}

// AddUser registers email as belonging to userID. Not safe for use after
// the server started.
func (s *MemStorage) AddUser(email, userID string) {
	s.users[identity.NormalizeEmail(email)] = userID
}

// LookupUserByEmail implements [identity.Directory].
func (s *MemStorage) LookupUserByEmail(_ context.Context, email string) (string, error) {
	id, ok := s.users[identity.NormalizeEmail(email)]
	if !ok {
		return "", identity.ErrUserNotFound
	}
	return id, nil
}

func (s *MemStorage) Has(ctx context.Context, userID string, tag achievement.Tag) (bool, error) {
	return s.Achievements.Has(ctx, userID, tag)
}

func (s *MemStorage) Insert(ctx context.Context, a achievement.Achievement) (bool, error) {
	return s.Achievements.Insert(ctx, a)
}

func (s *MemStorage) List(ctx context.Context, userID string) ([]achievement.Achievement, error) {
	return s.Achievements.List(ctx, userID)
}

// Ping always succeeds.
func (s *MemStorage) Ping(context.Context) error { return nil }

// OpenStorage connects to the backend selected by cfg.Driver and applies the
// schema. The returned close function releases the backend.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (Storage, func() error, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		var opts []postgres.Option
		if cfg.MaxConns > 0 {
			opts = append(opts, postgres.WithMaxConns(cfg.MaxConns))
		}
		s, err := postgres.NewStore(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open postgres: %w", err)
		}
		slog.Info("storage ready", "driver", cfg.Driver)
		return s, func() error { s.Close(); return nil }, nil

	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open sqlite: %w", err)
		}
		slog.Info("storage ready", "driver", cfg.Driver, "path", cfg.Path)
		return s, s.Close, nil

	case config.DriverMemory:
		slog.Info("storage ready", "driver", cfg.Driver)
		return NewMemStorage(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("app: unknown storage driver %q", cfg.Driver)
	}
}
