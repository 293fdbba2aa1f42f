// Package ledger implements per-account, per-action, time-windowed usage
// accounting backed by a shared cache with expiring keys. Counters carry a
// TTL equal to their window, so stale windows self-expire without a cron
// sweep; the housekeeping operations only reclaim memory early.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sendpool/account-manager-go/internal/config"
	"github.com/sendpool/account-manager-go/internal/model"
)

type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityHourly  Granularity = "hourly"
	GranularityChannel Granularity = "channel"
)

type PenaltyKind string

const (
	PenaltyFloodWait PenaltyKind = "flood_wait"
	PenaltyPeerFlood PenaltyKind = "peer_flood"
)

// Limits holds the configured budget for every tracked counter.
type Limits struct {
	Daily      map[model.ActionType]int
	Hourly     map[model.ActionType]int
	PerChannel int
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		Daily: map[model.ActionType]int{
			model.ActionInvite:  cfg.DailyInviteLimit,
			model.ActionMessage: cfg.DailyMessageLimit,
			model.ActionContact: cfg.DailyContactLimit,
		},
		Hourly: map[model.ActionType]int{
			model.ActionInvite:  cfg.HourlyInviteLimit,
			model.ActionMessage: cfg.HourlyMessageLimit,
			model.ActionContact: cfg.HourlyContactLimit,
		},
		PerChannel: cfg.ChannelInviteLimit,
	}
}

type CounterUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

func usage(used, limit int) CounterUsage {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return CounterUsage{Used: used, Limit: limit, Remaining: remaining}
}

// Decision is the answer to a single check or record call.
type Decision struct {
	Allowed bool          `json:"allowed"`
	Reason  string        `json:"reason,omitempty"`
	Daily   CounterUsage  `json:"daily"`
	Hourly  CounterUsage  `json:"hourly"`
	Channel *CounterUsage `json:"channel,omitempty"`
}

const (
	ReasonDailyLimit   = "daily_limit_reached"
	ReasonHourlyLimit  = "hourly_limit_reached"
	ReasonChannelLimit = "channel_limit_reached"
	ReasonFloodWait    = "flood_wait_active"
	ReasonPeerFlood    = "peer_flood_active"
)

type PenaltyInfo struct {
	Kind  PenaltyKind `json:"kind"`
	Until time.Time   `json:"until"`
}

// Snapshot is the full usage picture for one account, for diagnostics.
type Snapshot struct {
	AccountID string                  `json:"accountId"`
	Counters  map[string]CounterUsage `json:"counters"`
	Penalties []PenaltyInfo           `json:"penalties"`
}

// Ledger is the windowed usage-counting subsystem. Implementations must make
// Record an atomic check-then-increment per counter set: two concurrent
// records must never both pass a check only one should pass.
type Ledger interface {
	// CanPerform reports whether the account may perform the action now,
	// considering every tracked window and any unexpired penalty.
	CanPerform(ctx context.Context, accountID string, action model.ActionType, channel string) (*Decision, error)

	// Record atomically checks every relevant counter and increments all of
	// them, or none. A Decision with Allowed=false means nothing was
	// recorded.
	Record(ctx context.Context, accountID string, action model.ActionType, channel string) (*Decision, error)

	// Usage returns current used/limit/remaining for every tracked counter
	// plus any active penalty.
	Usage(ctx context.Context, accountID string) (*Snapshot, error)

	SetPenalty(ctx context.Context, accountID string, kind PenaltyKind, d time.Duration) error
	PenaltyUntil(ctx context.Context, accountID string, kind PenaltyKind) (time.Time, bool, error)
	ClearPenalties(ctx context.Context, accountID string) error

	// IncrInProgress bumps the bounded retry counter for a target stuck in
	// an "operation in progress" state and returns the new attempt count.
	IncrInProgress(ctx context.Context, accountID, target string) (int64, error)
	ClearInProgress(ctx context.Context, accountID, target string) error

	// Housekeeping. Idempotent; TTL-based expiry remains authoritative, so
	// skipping these only costs memory, never correctness.
	ResetHourly(ctx context.Context) error
	CleanupExpired(ctx context.Context) error
}

// Key layout: {platform}:{action}:{granularity}:{account_id}:{window}

func dayStamp(t time.Time) string {
	return t.UTC().Format("20060102")
}

func hourStamp(t time.Time) string {
	return t.UTC().Format("2006010215")
}

func dailyKey(platform string, action model.ActionType, accountID string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", platform, action, GranularityDaily, accountID, dayStamp(t))
}

func hourlyKey(platform string, action model.ActionType, accountID string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", platform, action, GranularityHourly, accountID, hourStamp(t))
}

func channelKey(platform string, action model.ActionType, accountID string, t time.Time, channel string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s", platform, action, GranularityChannel, accountID, dayStamp(t), channel)
}

func penaltyKey(platform string, kind PenaltyKind, accountID string) string {
	return fmt.Sprintf("%s:penalty:%s:%s", platform, kind, accountID)
}

func inProgressKey(platform, accountID, target string) string {
	return fmt.Sprintf("%s:inprogress:%s:%s", platform, accountID, target)
}
