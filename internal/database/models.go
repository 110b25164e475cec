package database

import (
	"database/sql"
	"time"
)

// Message roles as stored in the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Default entitlements for a user on first contact.
const (
	DefaultFreeMessages = 10
	// UnlimitedFreeMessages is the sentinel written by GrantUnlimitedAccess.
	UnlimitedFreeMessages = 1_000_000
)

// MemoryGracePeriod is how long conversation memory stays readable after a
// subscription lapses. The retention sweeper uses the same window, so history
// is never visible past the point the sweeper would delete it.
const MemoryGracePeriod = 14 * 24 * time.Hour

// User holds the per-user counters and timestamps that drive quota decisions
// and data retention.
type User struct {
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	FirstSeen             time.Time    `db:"first_seen"`
	LastSeen              time.Time    `db:"last_seen"`
	FreeMessagesRemaining int          `db:"free_messages_remaining"`
	SubscriptionEnd       sql.NullTime `db:"subscription_end"`
	VoiceMinutesToday     float64      `db:"voice_minutes_today"`
	LastVoiceReset        time.Time    `db:"last_voice_reset"`
	DailyMessages         int          `db:"daily_messages"`
	LastDailyReset        time.Time    `db:"last_daily_reset"`
}

// HasActiveSubscription reports whether the user is currently subscribed.
// The boundary is strict: the memory grace period extends history visibility
// and retention, not subscription status.
func (u *User) HasActiveSubscription(now time.Time) bool {
	if u == nil || !u.SubscriptionEnd.Valid {
		return false
	}
	return !now.After(u.SubscriptionEnd.Time)
}

// CanSendFree reports whether the user still has trial messages left.
// A nil user (first contact, not yet persisted) is always allowed.
func (u *User) CanSendFree() bool {
	return u == nil || u.FreeMessagesRemaining > 0
}

// MemoryWindowOpen reports whether conversation history may be read for this
// user: subscribed, or within the grace period after the subscription lapsed.
func (u *User) MemoryWindowOpen(now time.Time) bool {
	if u == nil || !u.SubscriptionEnd.Valid {
		return false
	}
	return !now.After(u.SubscriptionEnd.Time.Add(MemoryGracePeriod))
}

// Message represents one immutable turn in a user's conversation.
// Ordering by ID reconstructs the conversation exactly.
type Message struct {
	ID        uint      `db:"id"`
	UserID    int64     `db:"user_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`
	CreatedAt time.Time `db:"created_at"`
}

// HistoryEntry is a role/content pair handed to the prompt composer.
type HistoryEntry struct {
	Role    string `db:"role"`
	Content string `db:"content"`
}
