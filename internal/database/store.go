package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// --- User ledger ---

	// GetUser retrieves a user by ID. Returns nil, nil if not found.
	GetUser(ctx context.Context, userID int64) (*User, error)

	// GetOrCreateUser returns the existing user, updating last_seen, or
	// creates a new one with default entitlements.
	GetOrCreateUser(ctx context.Context, userID int64, now time.Time) (*User, error)

	// TouchLastSeen updates the user's last_seen timestamp.
	TouchLastSeen(ctx context.Context, userID int64, now time.Time) error

	// DecrementFreeMessages subtracts one trial message, clamped at zero.
	DecrementFreeMessages(ctx context.Context, userID int64) error

	// ResetDailyIfStale zeroes daily_messages when the last reset is at
	// least a day old. Returns whether a reset occurred.
	ResetDailyIfStale(ctx context.Context, userID int64, now time.Time) (bool, error)

	// IncrementDailyMessages adds one to daily_messages and returns the
	// new count.
	IncrementDailyMessages(ctx context.Context, userID int64) (int, error)

	// ResetVoiceIfStale zeroes voice_minutes_today when the last voice
	// reset is at least a day old. Returns whether a reset occurred.
	ResetVoiceIfStale(ctx context.Context, userID int64, now time.Time) (bool, error)

	// AddVoiceMinutes adds the given duration to the user's running total.
	AddVoiceMinutes(ctx context.Context, userID int64, minutes float64) error

	// GrantUnlimitedAccess sets subscription_end to now+days and tops up
	// the free-message counter with a large sentinel.
	GrantUnlimitedAccess(ctx context.Context, userID int64, now time.Time, days int) error

	// --- Conversation store ---

	// AppendMessage inserts one immutable message record.
	AppendMessage(ctx context.Context, message *Message) error

	// History returns the user's conversation in insertion order, or an
	// empty slice when the user is absent or the memory window is closed.
	History(ctx context.Context, userID int64, now time.Time) ([]HistoryEntry, error)

	// CountMessages returns the number of stored messages for a user.
	CountMessages(ctx context.Context, userID int64) (int, error)

	// --- Retention ---

	// ListUsers returns every user record, for the retention sweep.
	ListUsers(ctx context.Context) ([]*User, error)

	// DeleteUserData removes a user's messages and then the user record
	// in a single transaction.
	DeleteUserData(ctx context.Context, userID int64) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by ID. Returns nil, nil if not found.
func (s *sqlxStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var user User
	query := `SELECT user_id, created_at, updated_at, first_seen, last_seen,
	                 free_messages_remaining, subscription_end, voice_minutes_today,
	                 last_voice_reset, daily_messages, last_daily_reset
	          FROM users WHERE user_id = ?`

	err := s.db.GetContext(ctx, &user, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user record found", "user_id", userID)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}

	return &user, nil
}

// GetOrCreateUser returns the existing user (updating last_seen) or creates
// a new one with default entitlements and all timers set to now.
func (s *sqlxStore) GetOrCreateUser(ctx context.Context, userID int64, now time.Time) (*User, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user != nil {
		if err := s.TouchLastSeen(ctx, userID, now); err != nil {
			return nil, err
		}
		user.LastSeen = now
		return user, nil
	}

	user = &User{
		UserID:                userID,
		CreatedAt:             now,
		UpdatedAt:             now,
		FirstSeen:             now,
		LastSeen:              now,
		FreeMessagesRemaining: DefaultFreeMessages,
		LastVoiceReset:        now,
		LastDailyReset:        now,
	}

	query := `
        INSERT INTO users (user_id, created_at, updated_at, first_seen, last_seen,
                           free_messages_remaining, subscription_end, voice_minutes_today,
                           last_voice_reset, daily_messages, last_daily_reset)
        VALUES (:user_id, :created_at, :updated_at, :first_seen, :last_seen,
                :free_messages_remaining, :subscription_end, :voice_minutes_today,
                :last_voice_reset, :daily_messages, :last_daily_reset);
    `
	if _, err := s.db.NamedExecContext(ctx, query, user); err != nil {
		s.logger.ErrorContext(ctx, "Error creating user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to create user %d: %w", userID, err)
	}

	s.logger.InfoContext(ctx, "Created user record", "user_id", userID)
	return user, nil
}

// TouchLastSeen updates the user's last_seen timestamp.
func (s *sqlxStore) TouchLastSeen(ctx context.Context, userID int64, now time.Time) error {
	query := `UPDATE users SET last_seen = ?, updated_at = ? WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, now, now, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error touching last_seen", "user_id", userID, "error", err)
		return fmt.Errorf("failed to update last_seen for user %d: %w", userID, err)
	}
	return nil
}

// DecrementFreeMessages subtracts one trial message. The counter is clamped
// at zero so concurrent decrements can never drive it negative.
func (s *sqlxStore) DecrementFreeMessages(ctx context.Context, userID int64) error {
	query := `UPDATE users
	          SET free_messages_remaining = MAX(free_messages_remaining - 1, 0),
	              updated_at = ?
	          WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), userID); err != nil {
		s.logger.ErrorContext(ctx, "Error decrementing free messages", "user_id", userID, "error", err)
		return fmt.Errorf("failed to decrement free messages for user %d: %w", userID, err)
	}
	return nil
}

// ResetDailyIfStale zeroes daily_messages when last_daily_reset is a day or
// more in the past. The filter lives in the statement so two racing requests
// reset at most once.
func (s *sqlxStore) ResetDailyIfStale(ctx context.Context, userID int64, now time.Time) (bool, error) {
	cutoff := now.Add(-24 * time.Hour)
	query := `UPDATE users
	          SET daily_messages = 0, last_daily_reset = ?, updated_at = ?
	          WHERE user_id = ? AND last_daily_reset <= ?`
	result, err := s.db.ExecContext(ctx, query, now, now, userID, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error resetting daily counter", "user_id", userID, "error", err)
		return false, fmt.Errorf("failed to reset daily counter for user %d: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count for daily reset", "user_id", userID, "error", err)
		return false, nil
	}
	if affected > 0 {
		s.logger.DebugContext(ctx, "Daily message counter reset", "user_id", userID)
	}
	return affected > 0, nil
}

// IncrementDailyMessages adds one to daily_messages and returns the new
// count. Runs in a transaction so the returned value reflects this
// increment and not a concurrent one.
func (s *sqlxStore) IncrementDailyMessages(ctx context.Context, userID int64) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for daily increment", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	query := `UPDATE users SET daily_messages = daily_messages + 1, updated_at = ? WHERE user_id = ?`
	if _, err := tx.ExecContext(ctx, query, time.Now().UTC(), userID); err != nil {
		s.logger.ErrorContext(ctx, "Error incrementing daily messages", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to increment daily messages for user %d: %w", userID, err)
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT daily_messages FROM users WHERE user_id = ?`, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error reading daily message count", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to read daily message count for user %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit daily increment", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	return count, nil
}

// ResetVoiceIfStale zeroes voice_minutes_today when last_voice_reset is a
// day or more in the past. Returns whether a reset occurred.
func (s *sqlxStore) ResetVoiceIfStale(ctx context.Context, userID int64, now time.Time) (bool, error) {
	cutoff := now.Add(-24 * time.Hour)
	query := `UPDATE users
	          SET voice_minutes_today = 0, last_voice_reset = ?, updated_at = ?
	          WHERE user_id = ? AND last_voice_reset <= ?`
	result, err := s.db.ExecContext(ctx, query, now, now, userID, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error resetting voice counter", "user_id", userID, "error", err)
		return false, fmt.Errorf("failed to reset voice counter for user %d: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count for voice reset", "user_id", userID, "error", err)
		return false, nil
	}
	if affected > 0 {
		s.logger.DebugContext(ctx, "Voice minute counter reset", "user_id", userID)
	}
	return affected > 0, nil
}

// AddVoiceMinutes adds the given duration to the user's running total.
func (s *sqlxStore) AddVoiceMinutes(ctx context.Context, userID int64, minutes float64) error {
	if minutes < 0 {
		return fmt.Errorf("voice minutes cannot be negative")
	}
	query := `UPDATE users
	          SET voice_minutes_today = voice_minutes_today + ?, updated_at = ?
	          WHERE user_id = ?`
	if _, err := s.db.ExecContext(ctx, query, minutes, time.Now().UTC(), userID); err != nil {
		s.logger.ErrorContext(ctx, "Error adding voice minutes", "user_id", userID, "minutes", minutes, "error", err)
		return fmt.Errorf("failed to add voice minutes for user %d: %w", userID, err)
	}
	return nil
}

// GrantUnlimitedAccess sets subscription_end to now+days and tops up the
// free-message counter with a large sentinel. Administrative override.
func (s *sqlxStore) GrantUnlimitedAccess(ctx context.Context, userID int64, now time.Time, days int) error {
	if days <= 0 {
		return fmt.Errorf("grant duration must be positive, got %d days", days)
	}

	end := now.Add(time.Duration(days) * 24 * time.Hour)
	query := `UPDATE users
	          SET subscription_end = ?, free_messages_remaining = ?, updated_at = ?
	          WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, end, UnlimitedFreeMessages, now, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error granting unlimited access", "user_id", userID, "error", err)
		return fmt.Errorf("failed to grant unlimited access to user %d: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected by grant",
			"user_id", userID, "affected", affected)
	}

	s.logger.InfoContext(ctx, "Granted unlimited access", "user_id", userID, "days", days, "subscription_end", end)
	return nil
}

// AppendMessage inserts one immutable message record.
func (s *sqlxStore) AppendMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.UserID == 0 {
		return fmt.Errorf("message must have a non-zero user_id")
	}
	if message.Role != RoleUser && message.Role != RoleAssistant && message.Role != RoleSystem {
		return fmt.Errorf("message has invalid role %q", message.Role)
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}

	message.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO messages (user_id, role, content, timestamp, created_at)
        VALUES (:user_id, :role, :content, :timestamp, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "user_id", message.UserID, "role", message.Role, "error", err)
		return fmt.Errorf("failed to save message (user %d): %w", message.UserID, err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"user_id", message.UserID, "error", err)
	}

	s.logger.DebugContext(ctx, "Message saved", "user_id", message.UserID, "role", message.Role, "message_id", message.ID)
	return nil
}

// History returns the user's conversation in insertion order. It returns an
// empty slice when the user has no record or the memory window is closed,
// mirroring the retention sweeper's boundary.
func (s *sqlxStore) History(ctx context.Context, userID int64, now time.Time) ([]HistoryEntry, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MemoryWindowOpen(now) {
		s.logger.DebugContext(ctx, "Memory window closed, returning empty history", "user_id", userID)
		return []HistoryEntry{}, nil
	}

	var entries []HistoryEntry
	query := `SELECT role, content FROM messages WHERE user_id = ? ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &entries, query, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error getting conversation history", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get history for user %d: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "Fetched conversation history", "user_id", userID, "count", len(entries))
	return entries, nil
}

// CountMessages returns the number of stored messages for a user.
func (s *sqlxStore) CountMessages(ctx context.Context, userID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE user_id = ?`
	if err := s.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count messages for user %d: %w", userID, err)
	}
	return count, nil
}

// ListUsers returns every user record, for the retention sweep.
func (s *sqlxStore) ListUsers(ctx context.Context) ([]*User, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var users []*User
	query := `SELECT user_id, created_at, updated_at, first_seen, last_seen,
	                 free_messages_remaining, subscription_end, voice_minutes_today,
	                 last_voice_reset, daily_messages, last_daily_reset
	          FROM users`
	if err := s.db.SelectContext(ctx, &users, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing users", "error", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// DeleteUserData removes a user's messages and then the user record in a
// single transaction. Messages go first so a failure can never leave an
// orphaned message behind a deleted user.
func (s *sqlxStore) DeleteUserData(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for user deletion", "user_id", userID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	messagesResult, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting user messages", "user_id", userID, "error", err)
		return fmt.Errorf("failed to delete messages for user %d: %w", userID, err)
	}
	messagesCount, _ := messagesResult.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error deleting user record", "user_id", userID, "error", err)
		return fmt.Errorf("failed to delete user %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit user deletion", "user_id", userID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Deleted user data", "user_id", userID, "messages_deleted", messagesCount)
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
