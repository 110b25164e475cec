// Package quota implements the per-message admission state machine: lifetime
// free-trial gating, the daily message cap with model-tier degradation, and
// the daily voice-minute limit.
package quota

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ndemidova/mira-bot/internal/database"
)

// Tier identifies which completion model tier to use for a message.
type Tier string

const (
	// TierPremium is the higher-quality model tier.
	TierPremium Tier = "premium"
	// TierStandard is the cheaper, faster tier used under heavy daily usage.
	TierStandard Tier = "standard"
)

// Outcome is the terminal result of admission for one incoming message.
type Outcome int

const (
	// OutcomeAllow lets the message proceed to the model call.
	OutcomeAllow Outcome = iota
	// OutcomeUpgradeRequired rejects the message: trial exhausted, no subscription.
	OutcomeUpgradeRequired
	// OutcomeDailyLimit rejects the message: daily hard cap reached.
	OutcomeDailyLimit
	// OutcomeVoiceLimit rejects a voice message: daily voice minutes exhausted.
	OutcomeVoiceLimit
)

// Decision carries the admission outcome, the selected model tier, and the
// artificial delay the caller should apply before replying.
type Decision struct {
	Outcome Outcome
	Tier    Tier
	Delay   time.Duration
}

// Ledger is the subset of the store the policy mutates. Defined here so
// tests can supply a fake.
type Ledger interface {
	DecrementFreeMessages(ctx context.Context, userID int64) error
	ResetDailyIfStale(ctx context.Context, userID int64, now time.Time) (bool, error)
	IncrementDailyMessages(ctx context.Context, userID int64) (int, error)
	ResetVoiceIfStale(ctx context.Context, userID int64, now time.Time) (bool, error)
	AddVoiceMinutes(ctx context.Context, userID int64, minutes float64) error
}

// Config holds the tunable thresholds of the admission state machine.
type Config struct {
	// DailyCap is the rolling 24h hard ceiling on messages.
	DailyCap int
	// TierThreshold is the daily count at which the cheaper tier kicks in.
	TierThreshold int
	// VoiceLimitMinutes is the rolling 24h ceiling on voice minutes.
	VoiceLimitMinutes float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		DailyCap:          100,
		TierThreshold:     50,
		VoiceLimitMinutes: 20,
	}
}

// Delay bounds in seconds for throttled outcomes.
const (
	dailyLimitDelayMin = 5
	dailyLimitDelayMax = 10
	tierDelayMin       = 3
	tierDelayMax       = 5
)

// Policy evaluates admission for incoming messages, mutating counters through
// the ledger as it goes.
type Policy struct {
	ledger Ledger
	logger *slog.Logger
	cfg    Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Policy over the given ledger.
func New(ledger Ledger, logger *slog.Logger, cfg Config) *Policy {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.DailyCap <= 0 {
		cfg = DefaultConfig()
	}
	return &Policy{
		ledger: ledger,
		logger: logger.With("component", "quota_policy"),
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Admit runs the admission sequence for one incoming message. Evaluation
// order matters and the first terminal outcome wins:
//
//  1. no subscription and no trial messages left: reject, nothing mutated;
//  2. trial messages remain and no subscription: consume one;
//  3. increment the daily counter; at the cap, reject with a 5-10s delay;
//  4. select the tier: standard with a 3-5s delay past the threshold,
//     premium with no delay otherwise.
func (p *Policy) Admit(ctx context.Context, user *database.User, now time.Time) (Decision, error) {
	if _, err := p.ledger.ResetDailyIfStale(ctx, user.UserID, now); err != nil {
		return Decision{}, err
	}

	subscribed := user.HasActiveSubscription(now)

	if !subscribed && !user.CanSendFree() {
		p.logger.InfoContext(ctx, "Rejecting message, free trial exhausted", "user_id", user.UserID)
		return Decision{Outcome: OutcomeUpgradeRequired}, nil
	}

	if !subscribed && user.FreeMessagesRemaining > 0 {
		if err := p.ledger.DecrementFreeMessages(ctx, user.UserID); err != nil {
			return Decision{}, err
		}
		p.logger.DebugContext(ctx, "Consumed trial message",
			"user_id", user.UserID, "remaining", user.FreeMessagesRemaining-1)
	}

	daily, err := p.ledger.IncrementDailyMessages(ctx, user.UserID)
	if err != nil {
		return Decision{}, err
	}

	if daily >= p.cfg.DailyCap {
		delay := p.randomDelay(dailyLimitDelayMin, dailyLimitDelayMax)
		p.logger.InfoContext(ctx, "Rejecting message, daily cap reached",
			"user_id", user.UserID, "daily_messages", daily, "delay", delay)
		return Decision{Outcome: OutcomeDailyLimit, Delay: delay}, nil
	}

	if daily >= p.cfg.TierThreshold {
		delay := p.randomDelay(tierDelayMin, tierDelayMax)
		p.logger.DebugContext(ctx, "Degrading to standard tier",
			"user_id", user.UserID, "daily_messages", daily, "delay", delay)
		return Decision{Outcome: OutcomeAllow, Tier: TierStandard, Delay: delay}, nil
	}

	return Decision{Outcome: OutcomeAllow, Tier: TierPremium}, nil
}

// CheckVoice resets the voice counter if stale and reports whether another
// voice message is allowed. The limit is evaluated before the current
// message's duration is added; counters already consumed by Admit stay
// consumed when this rejects.
func (p *Policy) CheckVoice(ctx context.Context, user *database.User, now time.Time) (bool, error) {
	reset, err := p.ledger.ResetVoiceIfStale(ctx, user.UserID, now)
	if err != nil {
		return false, err
	}

	minutes := user.VoiceMinutesToday
	if reset {
		minutes = 0
	}

	if minutes >= p.cfg.VoiceLimitMinutes {
		p.logger.InfoContext(ctx, "Rejecting voice message, daily voice limit reached",
			"user_id", user.UserID, "voice_minutes", minutes)
		return false, nil
	}
	return true, nil
}

// RecordVoiceUsage adds the accepted message's duration to the running total.
func (p *Policy) RecordVoiceUsage(ctx context.Context, userID int64, duration time.Duration) error {
	return p.ledger.AddVoiceMinutes(ctx, userID, duration.Minutes())
}

func (p *Policy) randomDelay(minSec, maxSec int) time.Duration {
	p.mu.Lock()
	n := minSec + p.rng.Intn(maxSec-minSec+1)
	p.mu.Unlock()
	return time.Duration(n) * time.Second
}
