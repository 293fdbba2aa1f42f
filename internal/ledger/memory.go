package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sendpool/account-manager-go/internal/config"
	"github.com/sendpool/account-manager-go/internal/model"
)

var (
	_ Ledger = (*RedisLedger)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)

type memEntry struct {
	count   int64
	expires time.Time
}

// MemoryLedger implements Ledger with process-local state. It backs tests
// and single-process deployments; multi-process deployments need the Redis
// implementation so every worker sees the same counters.
type MemoryLedger struct {
	mu       sync.Mutex
	platform string
	limits   Limits
	entries  map[string]memEntry
	now      func() time.Time
}

func NewMemoryLedger(platform string, limits Limits) *MemoryLedger {
	return &MemoryLedger{
		platform: platform,
		limits:   limits,
		entries:  make(map[string]memEntry),
		now:      time.Now,
	}
}

// get returns the live count for a key, treating expired entries as absent.
func (l *MemoryLedger) get(key string, now time.Time) int64 {
	e, ok := l.entries[key]
	if !ok || !e.expires.After(now) {
		return 0
	}
	return e.count
}

func (l *MemoryLedger) incr(key string, ttl time.Duration, now time.Time) int64 {
	e, ok := l.entries[key]
	if !ok || !e.expires.After(now) {
		l.entries[key] = memEntry{count: 1, expires: now.Add(ttl)}
		return 1
	}
	e.count++
	l.entries[key] = e
	return e.count
}

func (l *MemoryLedger) keysAndLimits(accountID string, action model.ActionType, channel string, now time.Time) (keys []string, limits []int, ttls []time.Duration) {
	keys = []string{
		dailyKey(l.platform, action, accountID, now),
		hourlyKey(l.platform, action, accountID, now),
	}
	limits = []int{l.limits.Daily[action], l.limits.Hourly[action]}
	ttls = []time.Duration{config.DailyWindow, config.HourlyWindow}

	if channel != "" && action == model.ActionInvite {
		keys = append(keys, channelKey(l.platform, action, accountID, now, channel))
		limits = append(limits, l.limits.PerChannel)
		ttls = append(ttls, config.DailyWindow)
	}
	return keys, limits, ttls
}

func (l *MemoryLedger) penaltyReasonLocked(accountID string, now time.Time) string {
	if l.get(penaltyKey(l.platform, PenaltyFloodWait, accountID), now) > 0 {
		return ReasonFloodWait
	}
	if l.get(penaltyKey(l.platform, PenaltyPeerFlood, accountID), now) > 0 {
		return ReasonPeerFlood
	}
	return ""
}

func (l *MemoryLedger) decide(accountID string, action model.ActionType, channel string, record bool) *Decision {
	now := l.now()
	keys, limits, ttls := l.keysAndLimits(accountID, action, channel, now)

	reason := l.penaltyReasonLocked(accountID, now)
	counts := make([]int, len(keys))
	for i, key := range keys {
		counts[i] = int(l.get(key, now))
	}

	if reason == "" {
		for i, c := range counts {
			if c >= limits[i] {
				reason = limitReason(i)
				break
			}
		}
	}

	if record && reason == "" {
		for i, key := range keys {
			counts[i] = int(l.incr(key, ttls[i], now))
		}
	}

	d := &Decision{
		Allowed: reason == "",
		Reason:  reason,
		Daily:   usage(counts[0], limits[0]),
		Hourly:  usage(counts[1], limits[1]),
	}
	if len(keys) == 3 {
		ch := usage(counts[2], limits[2])
		d.Channel = &ch
	}
	return d
}

func (l *MemoryLedger) CanPerform(_ context.Context, accountID string, action model.ActionType, channel string) (*Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decide(accountID, action, channel, false), nil
}

func (l *MemoryLedger) Record(_ context.Context, accountID string, action model.ActionType, channel string) (*Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decide(accountID, action, channel, true), nil
}

func (l *MemoryLedger) Usage(_ context.Context, accountID string) (*Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	snap := &Snapshot{
		AccountID: accountID,
		Counters:  make(map[string]CounterUsage),
		Penalties: []PenaltyInfo{},
	}

	for _, action := range []model.ActionType{model.ActionInvite, model.ActionMessage, model.ActionContact} {
		daily := int(l.get(dailyKey(l.platform, action, accountID, now), now))
		hourly := int(l.get(hourlyKey(l.platform, action, accountID, now), now))
		snap.Counters[string(action)+":"+string(GranularityDaily)] = usage(daily, l.limits.Daily[action])
		snap.Counters[string(action)+":"+string(GranularityHourly)] = usage(hourly, l.limits.Hourly[action])
	}

	for _, kind := range []PenaltyKind{PenaltyFloodWait, PenaltyPeerFlood} {
		key := penaltyKey(l.platform, kind, accountID)
		if e, ok := l.entries[key]; ok && e.expires.After(now) {
			snap.Penalties = append(snap.Penalties, PenaltyInfo{Kind: kind, Until: e.expires})
		}
	}

	return snap, nil
}

func (l *MemoryLedger) SetPenalty(_ context.Context, accountID string, kind PenaltyKind, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[penaltyKey(l.platform, kind, accountID)] = memEntry{count: 1, expires: l.now().Add(d)}
	return nil
}

func (l *MemoryLedger) PenaltyUntil(_ context.Context, accountID string, kind PenaltyKind) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[penaltyKey(l.platform, kind, accountID)]
	if !ok || !e.expires.After(l.now()) {
		return time.Time{}, false, nil
	}
	return e.expires, true, nil
}

func (l *MemoryLedger) ClearPenalties(_ context.Context, accountID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, penaltyKey(l.platform, PenaltyFloodWait, accountID))
	delete(l.entries, penaltyKey(l.platform, PenaltyPeerFlood, accountID))
	return nil
}

func (l *MemoryLedger) IncrInProgress(_ context.Context, accountID, target string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.incr(inProgressKey(l.platform, accountID, target), config.InProgressTTL, l.now()), nil
}

func (l *MemoryLedger) ClearInProgress(_ context.Context, accountID, target string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, inProgressKey(l.platform, accountID, target))
	return nil
}

func (l *MemoryLedger) ResetHourly(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	marker := ":" + string(GranularityHourly) + ":"
	current := hourStamp(l.now())
	for key := range l.entries {
		if strings.Contains(key, marker) && !strings.HasSuffix(key, ":"+current) {
			delete(l.entries, key)
		}
	}
	return nil
}

func (l *MemoryLedger) CleanupExpired(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, e := range l.entries {
		if !e.expires.After(now) {
			delete(l.entries, key)
		}
	}
	return nil
}
