package retention_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/ndemidova/mira-bot/internal/database"
	"github.com/ndemidova/mira-bot/internal/retention"
)

type fakeStore struct {
	users    []*database.User
	failFor  map[int64]bool
	listErr  error
	deleted  []int64
	listHits int
}

func (f *fakeStore) ListUsers(_ context.Context) ([]*database.User, error) {
	f.listHits++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.users, nil
}

func (f *fakeStore) DeleteUserData(_ context.Context, userID int64) error {
	if f.failFor[userID] {
		return errors.New("delete failed")
	}
	f.deleted = append(f.deleted, userID)
	remaining := make([]*database.User, 0, len(f.users))
	for _, u := range f.users {
		if u.UserID != userID {
			remaining = append(remaining, u)
		}
	}
	f.users = remaining
	return nil
}

func lapsedSubscriber(id int64, end time.Time) *database.User {
	return &database.User{
		UserID:          id,
		SubscriptionEnd: sql.NullTime{Time: end, Valid: true},
	}
}

func idleUser(id int64, lastSeen time.Time) *database.User {
	return &database.User{UserID: id, LastSeen: lastSeen}
}

func TestSweep_Deadlines(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		user        *database.User
		wantDeleted bool
	}{
		{
			name:        "active subscriber kept",
			user:        lapsedSubscriber(1, now.Add(24*time.Hour)),
			wantDeleted: false,
		},
		{
			name:        "subscriber 13 days past end kept",
			user:        lapsedSubscriber(1, now.Add(-13*24*time.Hour)),
			wantDeleted: false,
		},
		{
			name:        "subscriber exactly at grace boundary kept",
			user:        lapsedSubscriber(1, now.Add(-14*24*time.Hour)),
			wantDeleted: false,
		},
		{
			name:        "subscriber 15 days past end purged",
			user:        lapsedSubscriber(1, now.Add(-15*24*time.Hour)),
			wantDeleted: true,
		},
		{
			name:        "never subscribed, seen 29 days ago kept",
			user:        idleUser(1, now.Add(-29*24*time.Hour)),
			wantDeleted: false,
		},
		{
			name:        "never subscribed, seen 31 days ago purged",
			user:        idleUser(1, now.Add(-31*24*time.Hour)),
			wantDeleted: true,
		},
		{
			name: "lapsed subscriber judged by subscription rule, not idle rule",
			user: func() *database.User {
				u := lapsedSubscriber(1, now.Add(-10*24*time.Hour))
				u.LastSeen = now.Add(-60 * 24 * time.Hour)
				return u
			}(),
			wantDeleted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := &fakeStore{users: []*database.User{tt.user}}
			s := retention.NewSweeper(store, nil)

			if err := s.Sweep(context.Background(), now); err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			deleted := len(store.deleted) > 0
			if deleted != tt.wantDeleted {
				t.Errorf("deleted = %v, want %v", deleted, tt.wantDeleted)
			}
		})
	}
}

func TestSweep_Idempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{users: []*database.User{
		lapsedSubscriber(1, now.Add(-20*24*time.Hour)),
		lapsedSubscriber(2, now.Add(24*time.Hour)),
	}}
	s := retention.NewSweeper(store, nil)

	if err := s.Sweep(context.Background(), now); err != nil {
		t.Fatalf("first Sweep() error = %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != 1 {
		t.Fatalf("deleted = %v, want [1]", store.deleted)
	}

	if err := s.Sweep(context.Background(), now); err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if len(store.deleted) != 1 {
		t.Errorf("deleted after second sweep = %v, want no new deletions", store.deleted)
	}
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		users: []*database.User{
			lapsedSubscriber(1, now.Add(-20*24*time.Hour)),
			lapsedSubscriber(2, now.Add(-20*24*time.Hour)),
			lapsedSubscriber(3, now.Add(-20*24*time.Hour)),
		},
		failFor: map[int64]bool{2: true},
	}
	s := retention.NewSweeper(store, nil)

	if err := s.Sweep(context.Background(), now); err != nil {
		t.Fatalf("Sweep() error = %v, want nil despite per-user failure", err)
	}
	if len(store.deleted) != 2 {
		t.Errorf("deleted = %v, want users 1 and 3 purged", store.deleted)
	}
}

func TestSweep_ListErrorPropagates(t *testing.T) {
	t.Parallel()

	store := &fakeStore{listErr: errors.New("db down")}
	s := retention.NewSweeper(store, nil)

	if err := s.Sweep(context.Background(), time.Now().UTC()); err == nil {
		t.Fatal("Sweep() error = nil, want list error propagated")
	}
}
