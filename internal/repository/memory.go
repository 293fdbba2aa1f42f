package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sendpool/account-manager-go/internal/model"
)

// MemoryAccountRepository is a mutex-guarded in-memory implementation with
// the same conditional-update semantics as the Postgres one. It backs tests
// and single-process development runs.
type MemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	now      func() time.Time
}

var _ AccountRepository = (*MemoryAccountRepository)(nil)

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		accounts: make(map[string]*model.Account),
		now:      time.Now,
	}
}

func (r *MemoryAccountRepository) WithTx(_ *sqlx.Tx) AccountRepository {
	return r
}

func clone(a *model.Account) *model.Account {
	cp := *a
	cp.PerChannelInvites = model.ChannelCounts{}
	for ch, n := range a.PerChannelInvites {
		cp.PerChannelInvites[ch] = n
	}
	return &cp
}

func (r *MemoryAccountRepository) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	return clone(a), nil
}

func (r *MemoryAccountRepository) eligible(a *model.Account, action model.ActionType, dailyLimit int, now time.Time) bool {
	if a.Status != model.StatusActive || a.DisabledAt != nil {
		return false
	}
	if a.Locked && a.LockedUntil != nil && a.LockedUntil.After(now) {
		return false
	}
	if a.Locked && a.LockedUntil == nil {
		return false
	}
	if a.PenaltyActive(now) {
		return false
	}
	return a.UsedFor(action) < dailyLimit
}

func (r *MemoryAccountRepository) FindEligible(_ context.Context, action model.ActionType, dailyLimit, limit int) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var out []model.Account
	for _, a := range r.accounts {
		if r.eligible(a, action, dailyLimit, now) {
			out = append(out, *clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].LastUsedAt, out[j].LastUsedAt
		switch {
		case ti == nil:
			return true
		case tj == nil:
			return false
		default:
			return ti.Before(*tj)
		}
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryAccountRepository) TryLease(_ context.Context, id, holder string, purpose model.ActionType, until time.Time) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	now := r.now()
	if a.Status != model.StatusActive || a.DisabledAt != nil {
		return nil, nil
	}
	if a.Locked && a.LockedUntil != nil && a.LockedUntil.After(now) {
		return nil, nil
	}
	if a.Locked && a.LockedUntil == nil {
		return nil, nil
	}

	a.Locked = true
	a.LockedBy = &holder
	a.LockedFor = &purpose
	a.LockedUntil = &until
	a.UpdatedAt = now
	return clone(a), nil
}

func (r *MemoryAccountRepository) ReleaseLease(_ context.Context, id, holder string, stats model.UsageStats) (*model.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, false, nil
	}
	if !a.Locked || a.LockedBy == nil || *a.LockedBy != holder {
		return clone(a), false, nil
	}

	a.Locked = false
	a.LockedBy = nil
	a.LockedFor = nil
	a.LockedUntil = nil
	a.UsedInvitesToday += stats.Invites
	a.UsedMessagesToday += stats.Messages
	a.ContactsToday += stats.Contacts
	if a.PerChannelInvites == nil {
		a.PerChannelInvites = model.ChannelCounts{}
	}
	for ch, n := range stats.ChannelCounts {
		a.PerChannelInvites[ch] += n
	}
	if stats.Success {
		a.ErrorCount = 0
	} else {
		a.ErrorCount++
	}
	now := r.now()
	a.LastUsedAt = &now
	a.UpdatedAt = now
	return clone(a), true, nil
}

func (r *MemoryAccountRepository) SetStatus(_ context.Context, id string, status model.AccountStatus, penaltyKind string, floodWaitUntil, blockedUntil *time.Time) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	a.Status = status
	if penaltyKind != "" {
		a.LastPenalty = &penaltyKind
	}
	if floodWaitUntil != nil {
		a.FloodWaitUntil = floodWaitUntil
	}
	if blockedUntil != nil {
		a.BlockedUntil = blockedUntil
	}
	if status == model.StatusDisabled && a.DisabledAt == nil {
		now := r.now()
		a.DisabledAt = &now
	}
	a.UpdatedAt = r.now()
	return clone(a), nil
}

func (r *MemoryAccountRepository) TouchUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[id]; ok {
		now := r.now()
		a.LastUsedAt = &now
		a.UpdatedAt = now
	}
	return nil
}

func (r *MemoryAccountRepository) Create(_ context.Context, params model.CreateAccountParams) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	resetAt := now.Add(24 * time.Hour)
	a := &model.Account{
		ID:                uuid.NewString(),
		UserID:            params.UserID,
		Platform:          params.Platform,
		Handle:            params.Handle,
		CredentialRef:     params.CredentialRef,
		Status:            model.StatusActive,
		PerChannelInvites: model.ChannelCounts{},
		ResetAt:           &resetAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.accounts[a.ID] = a
	return clone(a), nil
}

func (r *MemoryAccountRepository) List(_ context.Context, limit, offset int) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]model.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		all = append(all, *clone(a))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []model.Account{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryAccountRepository) Disable(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	now := r.now()
	a.Status = model.StatusDisabled
	a.DisabledAt = &now
	a.Locked = false
	a.LockedBy = nil
	a.LockedUntil = nil
	a.UpdatedAt = now
	return clone(a), nil
}

func (r *MemoryAccountRepository) CountByStatus(_ context.Context) (map[model.AccountStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[model.AccountStatus]int)
	for _, a := range r.accounts {
		counts[a.Status]++
	}
	return counts, nil
}

func (r *MemoryAccountRepository) ReclaimExpiredLeases(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var count int64
	for _, a := range r.accounts {
		if a.Locked && a.LockedUntil != nil && !a.LockedUntil.After(now) {
			a.Locked = false
			a.LockedBy = nil
			a.LockedFor = nil
			a.LockedUntil = nil
			a.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (r *MemoryAccountRepository) RecoverExpiredPenalties(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var count int64
	for _, a := range r.accounts {
		if a.Status != model.StatusFloodWait || a.DisabledAt != nil {
			continue
		}
		if a.PenaltyActive(now) {
			continue
		}
		a.Status = model.StatusActive
		a.FloodWaitUntil = nil
		a.UpdatedAt = now
		count++
	}
	return count, nil
}

func (r *MemoryAccountRepository) ResetDailyCounters(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var count int64
	for _, a := range r.accounts {
		if a.ResetAt == nil || a.ResetAt.After(now) {
			continue
		}
		a.UsedInvitesToday = 0
		a.UsedMessagesToday = 0
		a.ContactsToday = 0
		a.PerChannelInvites = model.ChannelCounts{}
		resetAt := now.Add(24 * time.Hour)
		a.ResetAt = &resetAt
		a.UpdatedAt = now
		count++
	}
	return count, nil
}

// MemoryExecutionLogRepository pairs with MemoryAccountRepository.
type MemoryExecutionLogRepository struct {
	mu      sync.Mutex
	entries []model.ExecutionLog
}

var _ ExecutionLogRepository = (*MemoryExecutionLogRepository)(nil)

func NewMemoryExecutionLogRepository() *MemoryExecutionLogRepository {
	return &MemoryExecutionLogRepository{}
}

func (r *MemoryExecutionLogRepository) Insert(_ context.Context, params model.CreateExecutionLogParams) (*model.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := model.ExecutionLog{
		ID:             uuid.NewString(),
		AccountID:      params.AccountID,
		TaskID:         params.TaskID,
		ActionType:     params.ActionType,
		Target:         params.Target,
		Outcome:        params.Outcome,
		PenaltySeconds: params.PenaltySeconds,
		Detail:         params.Detail,
		DurationMs:     params.Duration.Milliseconds(),
		CreatedAt:      time.Now(),
	}
	r.entries = append(r.entries, entry)
	return &entry, nil
}

func (r *MemoryExecutionLogRepository) HasSucceeded(_ context.Context, taskID, target string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.TaskID == taskID && e.Target == target && e.Outcome == model.OutcomeSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryExecutionLogRepository) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]model.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.ExecutionLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].AccountID == accountID {
			out = append(out, r.entries[i])
		}
	}
	if offset >= len(out) {
		return []model.ExecutionLog{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryExecutionLogRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	var removed int64
	for _, e := range r.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed, nil
}
