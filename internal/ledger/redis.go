package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sendpool/account-manager-go/internal/config"
	apperrors "github.com/sendpool/account-manager-go/internal/errors"
	"github.com/sendpool/account-manager-go/internal/model"
)

// recordScript checks every counter against its limit and increments all of
// them only if every check passes. ARGV carries the limits for KEYS[1..n]
// followed by the TTL in seconds for KEYS[1..n]. Returns
// {1, 0, counts...} on success or {0, failedIndex, count} on refusal.
var recordScript = redis.NewScript(`
local n = #KEYS
for i = 1, n do
    local c = tonumber(redis.call('GET', KEYS[i]) or '0')
    if c >= tonumber(ARGV[i]) then
        return {0, i, c}
    end
end
local counts = {1, 0}
for i = 1, n do
    local c = redis.call('INCR', KEYS[i])
    if c == 1 then
        redis.call('EXPIRE', KEYS[i], tonumber(ARGV[n + i]))
    end
    counts[i + 2] = c
end
return counts
`)

// RedisLedger is the shared-cache implementation used in production. All
// worker processes see the same counters; atomicity comes from the Lua
// script executing as a single step.
type RedisLedger struct {
	client   *redis.Client
	platform string
	limits   Limits
	now      func() time.Time
}

func NewRedisLedger(client *redis.Client, platform string, limits Limits) *RedisLedger {
	return &RedisLedger{
		client:   client,
		platform: platform,
		limits:   limits,
		now:      time.Now,
	}
}

func (l *RedisLedger) penaltyReason(ctx context.Context, accountID string) (string, error) {
	for kind, reason := range map[PenaltyKind]string{
		PenaltyFloodWait: ReasonFloodWait,
		PenaltyPeerFlood: ReasonPeerFlood,
	} {
		ttl, err := l.client.PTTL(ctx, penaltyKey(l.platform, kind, accountID)).Result()
		if err != nil {
			return "", apperrors.Cache(err)
		}
		if ttl > 0 {
			return reason, nil
		}
	}
	return "", nil
}

func (l *RedisLedger) keysAndLimits(accountID string, action model.ActionType, channel string, now time.Time) (keys []string, limits []int, ttls []int) {
	keys = []string{
		dailyKey(l.platform, action, accountID, now),
		hourlyKey(l.platform, action, accountID, now),
	}
	limits = []int{l.limits.Daily[action], l.limits.Hourly[action]}
	ttls = []int{int(config.DailyWindow.Seconds()), int(config.HourlyWindow.Seconds())}

	if channel != "" && action == model.ActionInvite {
		keys = append(keys, channelKey(l.platform, action, accountID, now, channel))
		limits = append(limits, l.limits.PerChannel)
		ttls = append(ttls, int(config.DailyWindow.Seconds()))
	}
	return keys, limits, ttls
}

func (l *RedisLedger) decision(counts []int, limits []int, hasChannel bool, reason string) *Decision {
	d := &Decision{
		Allowed: reason == "",
		Reason:  reason,
		Daily:   usage(counts[0], limits[0]),
		Hourly:  usage(counts[1], limits[1]),
	}
	if hasChannel {
		ch := usage(counts[2], limits[2])
		d.Channel = &ch
	}
	return d
}

func (l *RedisLedger) CanPerform(ctx context.Context, accountID string, action model.ActionType, channel string) (*Decision, error) {
	now := l.now()
	keys, limits, _ := l.keysAndLimits(accountID, action, channel, now)

	reason, err := l.penaltyReason(ctx, accountID)
	if err != nil {
		return nil, err
	}

	vals, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.Cache(err)
	}

	counts := make([]int, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			fmt.Sscanf(s, "%d", &counts[i])
		}
	}

	if reason == "" {
		for i, c := range counts {
			if c >= limits[i] {
				reason = limitReason(i)
				break
			}
		}
	}

	return l.decision(counts, limits, len(keys) == 3, reason), nil
}

func (l *RedisLedger) Record(ctx context.Context, accountID string, action model.ActionType, channel string) (*Decision, error) {
	now := l.now()
	keys, limits, ttls := l.keysAndLimits(accountID, action, channel, now)

	reason, err := l.penaltyReason(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		d, err := l.CanPerform(ctx, accountID, action, channel)
		if err != nil {
			return nil, err
		}
		d.Allowed = false
		d.Reason = reason
		return d, nil
	}

	args := make([]interface{}, 0, len(limits)+len(ttls))
	for _, lim := range limits {
		args = append(args, lim)
	}
	for _, ttl := range ttls {
		args = append(args, ttl)
	}

	result, err := recordScript.Run(ctx, l.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, apperrors.Cache(err)
	}
	if len(result) < 2 {
		return nil, apperrors.Cache(fmt.Errorf("unexpected record script result"))
	}

	if result[0] == 0 {
		failed := int(result[1]) - 1
		log.Debug().
			Str("accountId", accountID).
			Str("action", string(action)).
			Str("reason", limitReason(failed)).
			Msg("record refused by ledger")
		d, err := l.CanPerform(ctx, accountID, action, channel)
		if err != nil {
			return nil, err
		}
		d.Allowed = false
		d.Reason = limitReason(failed)
		return d, nil
	}

	counts := make([]int, len(keys))
	for i := range keys {
		if len(result) > i+2 {
			counts[i] = int(result[i+2])
		}
	}
	return l.decision(counts, limits, len(keys) == 3, ""), nil
}

func limitReason(index int) string {
	switch index {
	case 0:
		return ReasonDailyLimit
	case 1:
		return ReasonHourlyLimit
	default:
		return ReasonChannelLimit
	}
}

func (l *RedisLedger) Usage(ctx context.Context, accountID string) (*Snapshot, error) {
	now := l.now()
	snap := &Snapshot{
		AccountID: accountID,
		Counters:  make(map[string]CounterUsage),
		Penalties: []PenaltyInfo{},
	}

	for _, action := range []model.ActionType{model.ActionInvite, model.ActionMessage, model.ActionContact} {
		daily, err := l.client.Get(ctx, dailyKey(l.platform, action, accountID, now)).Int()
		if err != nil && err != redis.Nil {
			return nil, apperrors.Cache(err)
		}
		hourly, err := l.client.Get(ctx, hourlyKey(l.platform, action, accountID, now)).Int()
		if err != nil && err != redis.Nil {
			return nil, apperrors.Cache(err)
		}
		snap.Counters[fmt.Sprintf("%s:%s", action, GranularityDaily)] = usage(daily, l.limits.Daily[action])
		snap.Counters[fmt.Sprintf("%s:%s", action, GranularityHourly)] = usage(hourly, l.limits.Hourly[action])
	}

	for _, kind := range []PenaltyKind{PenaltyFloodWait, PenaltyPeerFlood} {
		until, active, err := l.PenaltyUntil(ctx, accountID, kind)
		if err != nil {
			return nil, err
		}
		if active {
			snap.Penalties = append(snap.Penalties, PenaltyInfo{Kind: kind, Until: until})
		}
	}

	return snap, nil
}

func (l *RedisLedger) SetPenalty(ctx context.Context, accountID string, kind PenaltyKind, d time.Duration) error {
	err := l.client.Set(ctx, penaltyKey(l.platform, kind, accountID), l.now().Add(d).Unix(), d).Err()
	if err != nil {
		return apperrors.Cache(err)
	}
	return nil
}

func (l *RedisLedger) PenaltyUntil(ctx context.Context, accountID string, kind PenaltyKind) (time.Time, bool, error) {
	ttl, err := l.client.PTTL(ctx, penaltyKey(l.platform, kind, accountID)).Result()
	if err != nil {
		return time.Time{}, false, apperrors.Cache(err)
	}
	if ttl <= 0 {
		return time.Time{}, false, nil
	}
	return l.now().Add(ttl), true, nil
}

func (l *RedisLedger) ClearPenalties(ctx context.Context, accountID string) error {
	keys := []string{
		penaltyKey(l.platform, PenaltyFloodWait, accountID),
		penaltyKey(l.platform, PenaltyPeerFlood, accountID),
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.Cache(err)
	}
	return nil
}

func (l *RedisLedger) IncrInProgress(ctx context.Context, accountID, target string) (int64, error) {
	key := inProgressKey(l.platform, accountID, target)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperrors.Cache(err)
	}
	if count == 1 {
		l.client.Expire(ctx, key, config.InProgressTTL)
	}
	return count, nil
}

func (l *RedisLedger) ClearInProgress(ctx context.Context, accountID, target string) error {
	if err := l.client.Del(ctx, inProgressKey(l.platform, accountID, target)).Err(); err != nil {
		return apperrors.Cache(err)
	}
	return nil
}

// ResetHourly deletes hourly counters left over from past hour slots. Redis
// TTLs already expire them; this only reclaims memory earlier.
func (l *RedisLedger) ResetHourly(ctx context.Context) error {
	current := hourStamp(l.now())
	return l.sweep(ctx, fmt.Sprintf("%s:*:%s:*", l.platform, GranularityHourly), func(key string) bool {
		parts := strings.Split(key, ":")
		return parts[len(parts)-1] != current
	})
}

// CleanupExpired deletes daily and per-channel counters from past days.
func (l *RedisLedger) CleanupExpired(ctx context.Context) error {
	today := dayStamp(l.now())
	staleDaily := func(key string) bool {
		parts := strings.Split(key, ":")
		return parts[len(parts)-1] != today
	}
	if err := l.sweep(ctx, fmt.Sprintf("%s:*:%s:*", l.platform, GranularityDaily), staleDaily); err != nil {
		return err
	}
	return l.sweep(ctx, fmt.Sprintf("%s:*:%s:*", l.platform, GranularityChannel), func(key string) bool {
		parts := strings.Split(key, ":")
		// channel keys end with {window}:{channel}
		return len(parts) >= 2 && parts[len(parts)-2] != today
	})
}

func (l *RedisLedger) sweep(ctx context.Context, pattern string, stale func(string) bool) error {
	iter := l.client.Scan(ctx, 0, pattern, 100).Iterator()
	var deleted int
	for iter.Next(ctx) {
		key := iter.Val()
		if stale(key) {
			if err := l.client.Del(ctx, key).Err(); err != nil {
				return apperrors.Cache(err)
			}
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return apperrors.Cache(err)
	}
	if deleted > 0 {
		log.Info().Int("count", deleted).Str("pattern", pattern).Msg("swept stale ledger keys")
	}
	return nil
}
