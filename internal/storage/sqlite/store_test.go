package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/MrWong99/versecatch/internal/achievement"
	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "versecatch.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addUser(t *testing.T, s *Store, id, email string) {
	t.Helper()
	if _, err := s.db.Exec(`INSERT INTO users (id, email) VALUES (?, ?)`, id, email); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "versecatch.db")
	for i := range 2 {
		s, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
		s.Close()
	}
}

func TestRecordCapture_CreateThenIncrement(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	addUser(t, s, "u-1", "ann@example.com")
	ctx := context.Background()

	for _, id := range []identity.Identity{identity.Registered("u-1"), identity.Anonymous("a-1")} {
		for want := int64(1); want <= 3; want++ {
			got, err := s.RecordCapture(ctx, id)
			if err != nil {
				t.Fatalf("RecordCapture(%s): %v", id, err)
			}
			if got != want {
				t.Errorf("RecordCapture(%s) = %d, want %d", id, got, want)
			}
		}
		c, found, err := s.Counter(ctx, id)
		if err != nil || !found || c.Count != 3 {
			t.Errorf("Counter(%s) = %+v found=%v err=%v", id, c, found, err)
		}
		if time.Since(c.LastCapturedAt) > time.Minute {
			t.Errorf("LastCapturedAt = %v, want recent", c.LastCapturedAt)
		}
	}

	var rows int
	if err := s.db.QueryRow(`SELECT count(*) FROM capture_counters`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("capture_counters rows = %d, want 2", rows)
	}
}

func TestRecordCapture_Concurrent(t *testing.T) {
	t.Parallel()

	const c = 50
	s := openTestStore(t)
	id := identity.Anonymous("b1f5d1d2-2c1e-4f0e-9f35-7f0a7d1a9c11")

	var wg sync.WaitGroup
	for range c {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RecordCapture(context.Background(), id); err != nil {
				t.Errorf("RecordCapture: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _, err := s.Counter(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Count != c {
		t.Errorf("count = %d, want %d", got.Count, c)
	}
}

func TestCounter_Missing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_, found, err := s.Counter(context.Background(), identity.Anonymous("nope"))
	if err != nil || found {
		t.Errorf("found=%v err=%v", found, err)
	}
}

func TestActivities(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	addUser(t, s, "u-1", "ann@example.com")
	ctx := context.Background()

	for _, book := range []string{"John", "John", "Mark", ""} {
		if err := s.AppendActivity(ctx, "u-1", ledger.ActivityVerseCaught, book); err != nil {
			t.Fatalf("AppendActivity: %v", err)
		}
	}
	if err := s.AppendActivity(ctx, "u-1", ledger.ActivityVerseShared, "John 3:16"); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountByType(ctx, "u-1", ledger.ActivityVerseCaught)
	if err != nil || n != 4 {
		t.Errorf("CountByType = %d, %v; want 4", n, err)
	}
	n, err = s.CountDistinct(ctx, "u-1", ledger.ActivityVerseCaught, ledger.FieldActivityData)
	if err != nil || n != 2 {
		t.Errorf("CountDistinct = %d, %v; want 2", n, err)
	}
	if _, err := s.CountDistinct(ctx, "u-1", ledger.ActivityVerseCaught, "activity_type"); !errors.Is(err, ledger.ErrUnsupportedField) {
		t.Errorf("err = %v, want ErrUnsupportedField", err)
	}
}

func TestAppendActivity_UnknownUserRejectedByForeignKey(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	err := s.AppendActivity(context.Background(), "ghost", ledger.ActivityVerseCaught, "John")
	if err == nil {
		t.Fatal("expected foreign key error")
	}
	if ledger.IsTransient(err) {
		t.Error("constraint error classified as transient")
	}
}

func TestAchievements(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	addUser(t, s, "u-1", "ann@example.com")
	ctx := context.Background()
	a := achievement.Achievement{
		UserID:      "u-1",
		Tag:         achievement.TagVerseCatcher,
		Name:        "Verse Catcher",
		Requirement: "Catch 100 verses",
		AchievedAt:  time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	has, err := s.Has(ctx, "u-1", a.Tag)
	if err != nil || has {
		t.Fatalf("Has before insert = %v, %v", has, err)
	}

	inserted, err := s.Insert(ctx, a)
	if err != nil || !inserted {
		t.Fatalf("first Insert = %v, %v", inserted, err)
	}
	inserted, err = s.Insert(ctx, a)
	if err != nil || inserted {
		t.Fatalf("duplicate Insert = %v, %v; want false, nil", inserted, err)
	}

	has, err = s.Has(ctx, "u-1", a.Tag)
	if err != nil || !has {
		t.Errorf("Has after insert = %v, %v", has, err)
	}

	list, err := s.List(ctx, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Tag != a.Tag || !list[0].AchievedAt.Equal(a.AchievedAt) {
		t.Errorf("List = %+v", list)
	}
}

func TestEngineAgainstSQLite(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	addUser(t, s, "u-1", "ann@example.com")
	ctx := context.Background()

	rules, err := achievement.DefaultRules().WithThresholds(map[string]int64{"verse_catcher": 2})
	if err != nil {
		t.Fatal(err)
	}
	e := achievement.NewEngine(s, s, achievement.WithRules(rules))

	for i, want := range []int{0, 1, 0} {
		if err := s.AppendActivity(ctx, "u-1", ledger.ActivityVerseCaught, "Psalms"); err != nil {
			t.Fatal(err)
		}
		got, err := e.OnVerseCaught(ctx, "u-1")
		if err != nil {
			t.Fatalf("OnVerseCaught #%d: %v", i, err)
		}
		if len(got) != want {
			t.Errorf("catch #%d unlocked %d, want %d", i+1, len(got), want)
		}
	}
}

func TestLookupUserByEmail(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	addUser(t, s, "u-1", "Ann@Example.com")

	id, err := s.LookupUserByEmail(context.Background(), "ann@example.COM")
	if err != nil || id != "u-1" {
		t.Errorf("LookupUserByEmail = %q, %v", id, err)
	}
	if _, err := s.LookupUserByEmail(context.Background(), "bob@example.com"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, want: true},
		{name: "locked", err: sqlite3.Error{Code: sqlite3.ErrLocked}, want: true},
		{name: "constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint}, want: false},
		{name: "other", err: errors.New("boom"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ledger.IsTransient(classify(tc.err)); got != tc.want {
				t.Errorf("IsTransient(classify(%v)) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
