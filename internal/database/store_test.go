package database_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ndemidova/mira-bot/internal/database"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil)
}

func TestGetUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("missing user returns nil without error", func(t *testing.T) {
		user, err := store.GetUser(ctx, 42)
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if user != nil {
			t.Errorf("GetUser() = %+v, want nil", user)
		}
	})

	t.Run("zero user id rejected", func(t *testing.T) {
		if _, err := store.GetUser(ctx, 0); err == nil {
			t.Error("GetUser(0) error = nil, want validation error")
		}
	})

	t.Run("roundtrip after create", func(t *testing.T) {
		if _, err := store.GetOrCreateUser(ctx, 42, now); err != nil {
			t.Fatalf("GetOrCreateUser() error = %v", err)
		}
		user, err := store.GetUser(ctx, 42)
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if user == nil {
			t.Fatal("GetUser() = nil after create")
		}
		if user.FreeMessagesRemaining != database.DefaultFreeMessages {
			t.Errorf("FreeMessagesRemaining = %d, want %d", user.FreeMessagesRemaining, database.DefaultFreeMessages)
		}
		if user.SubscriptionEnd.Valid {
			t.Error("SubscriptionEnd.Valid = true for a fresh user")
		}
	})
}

func TestGetOrCreateUser_ExistingUserKeepsCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetOrCreateUser(ctx, 7, now); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	if err := store.DecrementFreeMessages(ctx, 7); err != nil {
		t.Fatalf("DecrementFreeMessages() error = %v", err)
	}

	later := now.Add(time.Hour)
	user, err := store.GetOrCreateUser(ctx, 7, later)
	if err != nil {
		t.Fatalf("GetOrCreateUser() second call error = %v", err)
	}
	if user.FreeMessagesRemaining != database.DefaultFreeMessages-1 {
		t.Errorf("FreeMessagesRemaining = %d, want %d", user.FreeMessagesRemaining, database.DefaultFreeMessages-1)
	}
	if !user.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", user.LastSeen, later)
	}
}

func TestDecrementFreeMessages_ClampsAtZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetOrCreateUser(ctx, 1, now); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	for i := 0; i < database.DefaultFreeMessages+3; i++ {
		if err := store.DecrementFreeMessages(ctx, 1); err != nil {
			t.Fatalf("DecrementFreeMessages() #%d error = %v", i+1, err)
		}
	}

	user, err := store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.FreeMessagesRemaining != 0 {
		t.Errorf("FreeMessagesRemaining = %d, want 0", user.FreeMessagesRemaining)
	}
}

func TestDailyCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetOrCreateUser(ctx, 1, base.Add(-48*time.Hour)); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementDailyMessages(ctx, 1)
		if err != nil {
			t.Fatalf("IncrementDailyMessages() error = %v", err)
		}
		if got != want {
			t.Errorf("IncrementDailyMessages() = %d, want %d", got, want)
		}
	}

	t.Run("stale counter resets", func(t *testing.T) {
		reset, err := store.ResetDailyIfStale(ctx, 1, base)
		if err != nil {
			t.Fatalf("ResetDailyIfStale() error = %v", err)
		}
		if !reset {
			t.Error("ResetDailyIfStale() = false, want true for a 48h old reset mark")
		}
		user, err := store.GetUser(ctx, 1)
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if user.DailyMessages != 0 {
			t.Errorf("DailyMessages = %d, want 0 after reset", user.DailyMessages)
		}
	})

	t.Run("fresh counter untouched", func(t *testing.T) {
		if _, err := store.IncrementDailyMessages(ctx, 1); err != nil {
			t.Fatalf("IncrementDailyMessages() error = %v", err)
		}
		reset, err := store.ResetDailyIfStale(ctx, 1, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("ResetDailyIfStale() error = %v", err)
		}
		if reset {
			t.Error("ResetDailyIfStale() = true, want false within the same day")
		}
		user, err := store.GetUser(ctx, 1)
		if err != nil {
			t.Fatalf("GetUser() error = %v", err)
		}
		if user.DailyMessages != 1 {
			t.Errorf("DailyMessages = %d, want 1", user.DailyMessages)
		}
	})
}

func TestVoiceCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetOrCreateUser(ctx, 1, base.Add(-48*time.Hour)); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	if err := store.AddVoiceMinutes(ctx, 1, 4.5); err != nil {
		t.Fatalf("AddVoiceMinutes() error = %v", err)
	}
	if err := store.AddVoiceMinutes(ctx, 1, 2.5); err != nil {
		t.Fatalf("AddVoiceMinutes() error = %v", err)
	}

	user, err := store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.VoiceMinutesToday != 7 {
		t.Errorf("VoiceMinutesToday = %v, want 7", user.VoiceMinutesToday)
	}

	if err := store.AddVoiceMinutes(ctx, 1, -1); err == nil {
		t.Error("AddVoiceMinutes(-1) error = nil, want validation error")
	}

	reset, err := store.ResetVoiceIfStale(ctx, 1, base)
	if err != nil {
		t.Fatalf("ResetVoiceIfStale() error = %v", err)
	}
	if !reset {
		t.Error("ResetVoiceIfStale() = false, want true for a 48h old reset mark")
	}
	user, err = store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.VoiceMinutesToday != 0 {
		t.Errorf("VoiceMinutesToday = %v, want 0 after reset", user.VoiceMinutesToday)
	}
}

func TestGrantUnlimitedAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetOrCreateUser(ctx, 9, now); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	if err := store.GrantUnlimitedAccess(ctx, 9, now, 0); err == nil {
		t.Error("GrantUnlimitedAccess(days=0) error = nil, want validation error")
	}

	if err := store.GrantUnlimitedAccess(ctx, 9, now, 30); err != nil {
		t.Fatalf("GrantUnlimitedAccess() error = %v", err)
	}

	user, err := store.GetUser(ctx, 9)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !user.HasActiveSubscription(now) {
		t.Error("HasActiveSubscription() = false after grant")
	}
	if !user.HasActiveSubscription(now.Add(29 * 24 * time.Hour)) {
		t.Error("HasActiveSubscription() = false one day before expiry")
	}
	if user.HasActiveSubscription(now.Add(31 * 24 * time.Hour)) {
		t.Error("HasActiveSubscription() = true after expiry")
	}
	if user.FreeMessagesRemaining != database.UnlimitedFreeMessages {
		t.Errorf("FreeMessagesRemaining = %d, want sentinel %d", user.FreeMessagesRemaining, database.UnlimitedFreeMessages)
	}
}

func TestAppendMessage_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  *database.Message
	}{
		{name: "nil message", msg: nil},
		{name: "zero user id", msg: &database.Message{Role: database.RoleUser, Content: "hi", Timestamp: now}},
		{name: "invalid role", msg: &database.Message{UserID: 1, Role: "moderator", Content: "hi", Timestamp: now}},
		{name: "empty content", msg: &database.Message{UserID: 1, Role: database.RoleUser, Timestamp: now}},
		{name: "zero timestamp", msg: &database.Message{UserID: 1, Role: database.RoleUser, Content: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.AppendMessage(ctx, tt.msg); err == nil {
				t.Error("AppendMessage() error = nil, want validation error")
			}
		})
	}
}

func TestHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := store.GetOrCreateUser(ctx, 5, now); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	turns := []struct {
		role    string
		content string
	}{
		{database.RoleUser, "привет"},
		{database.RoleAssistant, "здравствуйте"},
		{database.RoleUser, "мне грустно"},
		{database.RoleAssistant, "расскажите, что случилось"},
	}
	for _, turn := range turns {
		err := store.AppendMessage(ctx, &database.Message{
			UserID:    5,
			Role:      turn.role,
			Content:   turn.content,
			Timestamp: now,
		})
		if err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	t.Run("closed without subscription", func(t *testing.T) {
		history, err := store.History(ctx, 5, now)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 0 {
			t.Errorf("len(history) = %d, want 0 without subscription", len(history))
		}
	})

	if err := store.GrantUnlimitedAccess(ctx, 5, now, 30); err != nil {
		t.Fatalf("GrantUnlimitedAccess() error = %v", err)
	}

	t.Run("open while subscribed, insertion order preserved", func(t *testing.T) {
		history, err := store.History(ctx, 5, now)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != len(turns) {
			t.Fatalf("len(history) = %d, want %d", len(history), len(turns))
		}
		for i, turn := range turns {
			if history[i].Role != turn.role || history[i].Content != turn.content {
				t.Errorf("history[%d] = %+v, want {%s %s}", i, history[i], turn.role, turn.content)
			}
		}
	})

	t.Run("open within grace after expiry", func(t *testing.T) {
		afterExpiry := now.Add(30*24*time.Hour + 13*24*time.Hour)
		history, err := store.History(ctx, 5, afterExpiry)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != len(turns) {
			t.Errorf("len(history) = %d, want %d within grace period", len(history), len(turns))
		}
	})

	t.Run("closed past grace", func(t *testing.T) {
		pastGrace := now.Add(30*24*time.Hour + 15*24*time.Hour)
		history, err := store.History(ctx, 5, pastGrace)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 0 {
			t.Errorf("len(history) = %d, want 0 past grace period", len(history))
		}
	})

	t.Run("unknown user yields empty history", func(t *testing.T) {
		history, err := store.History(ctx, 404, now)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 0 {
			t.Errorf("len(history) = %d, want 0 for unknown user", len(history))
		}
	})
}

func TestDeleteUserData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, id := range []int64{1, 2} {
		if _, err := store.GetOrCreateUser(ctx, id, now); err != nil {
			t.Fatalf("GetOrCreateUser(%d) error = %v", id, err)
		}
		for i := 0; i < 3; i++ {
			err := store.AppendMessage(ctx, &database.Message{
				UserID:    id,
				Role:      database.RoleUser,
				Content:   "сообщение",
				Timestamp: now,
			})
			if err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}
		}
	}

	if err := store.DeleteUserData(ctx, 1); err != nil {
		t.Fatalf("DeleteUserData() error = %v", err)
	}

	user, err := store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user != nil {
		t.Error("GetUser() != nil after deletion")
	}
	count, err := store.CountMessages(ctx, 1)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 0 {
		t.Errorf("CountMessages() = %d, want 0 after deletion", count)
	}

	count, err = store.CountMessages(ctx, 2)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 3 {
		t.Errorf("CountMessages() = %d for untouched user, want 3", count)
	}
}

func TestRunSQLMaintenance(t *testing.T) {
	store := newTestStore(t)

	if err := store.RunSQLMaintenance(context.Background()); err != nil {
		t.Fatalf("RunSQLMaintenance() error = %v", err)
	}
}
