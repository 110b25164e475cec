// Package retention purges users and their messages once their retention
// deadline has passed. The sweep is idempotent and cheap enough to run both
// on a schedule and opportunistically on the message path.
package retention

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ndemidova/mira-bot/internal/database"
)

// Retention deadlines. SubscriberGrace matches the conversation memory
// window so history can never outlive the data behind it.
const (
	SubscriberGrace = database.MemoryGracePeriod
	IdleRetention   = 30 * 24 * time.Hour
)

// Store is the subset of the database layer the sweeper needs.
type Store interface {
	ListUsers(ctx context.Context) ([]*database.User, error)
	DeleteUserData(ctx context.Context, userID int64) error
}

// Sweeper scans all users and deletes those past their retention deadline.
type Sweeper struct {
	store  Store
	logger *slog.Logger
}

// NewSweeper creates a Sweeper over the given store.
func NewSweeper(store Store, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sweeper{
		store:  store,
		logger: logger.With("component", "retention_sweeper"),
	}
}

// Sweep deletes every user past their retention deadline, messages before
// user record. Users that ever subscribed are purged once the grace period
// after subscription end has passed; users that never subscribed are purged
// after a longer idle window since last contact. A failure for one user is
// logged and skipped, never aborting the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("retention sweep failed to list users: %w", err)
	}

	swept := 0
	for _, u := range users {
		if u == nil || !s.expired(u, now) {
			continue
		}

		if err := s.store.DeleteUserData(ctx, u.UserID); err != nil {
			s.logger.ErrorContext(ctx, "Failed to purge expired user, continuing sweep",
				"user_id", u.UserID, "error", err)
			continue
		}

		s.logger.InfoContext(ctx, "Purged expired user data",
			"user_id", u.UserID, "ever_subscribed", u.SubscriptionEnd.Valid)
		swept++
	}

	if swept > 0 {
		s.logger.InfoContext(ctx, "Retention sweep complete", "users_purged", swept, "users_scanned", len(users))
	}
	return nil
}

// expired applies exactly one retention rule per user, chosen by whether the
// user ever subscribed.
func (s *Sweeper) expired(u *database.User, now time.Time) bool {
	if u.SubscriptionEnd.Valid {
		return now.After(u.SubscriptionEnd.Time.Add(SubscriberGrace))
	}
	return now.After(u.LastSeen.Add(IdleRetention))
}
