package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sendpool/account-manager-go/internal/model"
)

// AccountRepository is the only writer of account rows. Allocation races are
// settled here: TryLease is a conditional UPDATE, so two concurrent calls for
// the same account can never both succeed.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindEligible(ctx context.Context, action model.ActionType, dailyLimit, limit int) ([]model.Account, error)

	// TryLease atomically marks the account leased. Returns nil (no error)
	// when the account was already leased, ineligible, or gone.
	TryLease(ctx context.Context, id, holder string, purpose model.ActionType, until time.Time) (*model.Account, error)

	// ReleaseLease clears the lock held by holder and merges the reported
	// usage into the daily counters. The bool reports whether a live lease
	// was actually cleared; a second release, or a stale release from a
	// previous holder after the account was re-leased, finds no matching
	// lease and merges nothing.
	ReleaseLease(ctx context.Context, id, holder string, stats model.UsageStats) (*model.Account, bool, error)

	// SetStatus records an administrative status change. penaltyKind names
	// the signal that caused it ("" keeps the previous value) so overlapping
	// penalty tracks stay distinguishable in the store.
	SetStatus(ctx context.Context, id string, status model.AccountStatus, penaltyKind string, floodWaitUntil, blockedUntil *time.Time) (*model.Account, error)
	TouchUsed(ctx context.Context, id string) error

	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	List(ctx context.Context, limit, offset int) ([]model.Account, error)
	Disable(ctx context.Context, id string) (*model.Account, error)

	CountByStatus(ctx context.Context) (map[model.AccountStatus]int, error)

	// Maintenance.
	ReclaimExpiredLeases(ctx context.Context) (int64, error)
	RecoverExpiredPenalties(ctx context.Context) (int64, error)
	ResetDailyCounters(ctx context.Context) (int64, error)

	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AccountRepository
}

type accountRepo struct {
	db sqlxDB
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) WithTx(tx *sqlx.Tx) AccountRepository {
	return &accountRepo{db: tx}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

// FindEligible returns active accounts with no live lock, no unexpired
// penalty, and remaining daily budget for the action, least-recently-used
// first so load spreads evenly across the pool.
func (r *accountRepo) FindEligible(ctx context.Context, action model.ActionType, dailyLimit, limit int) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE status = 'active'
		  AND disabled_at IS NULL
		  AND (locked = FALSE OR locked_until < NOW())
		  AND (flood_wait_until IS NULL OR flood_wait_until < NOW())
		  AND (blocked_until IS NULL OR blocked_until < NOW())
		  AND (CASE $1
		         WHEN 'invite' THEN used_invites_today
		         WHEN 'message' THEN used_messages_today
		         ELSE contacts_today
		       END) < $2
		ORDER BY last_used_at ASC NULLS FIRST
		LIMIT $3
	`, action, dailyLimit, limit)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepo) TryLease(ctx context.Context, id, holder string, purpose model.ActionType, until time.Time) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			locked = TRUE,
			locked_by = $2,
			locked_for = $3,
			locked_until = $4,
			updated_at = NOW()
		WHERE id = $1
		  AND status = 'active'
		  AND disabled_at IS NULL
		  AND (locked = FALSE OR locked_until < NOW())
		RETURNING *
	`, id, holder, purpose, until)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) ReleaseLease(ctx context.Context, id, holder string, stats model.UsageStats) (*model.Account, bool, error) {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, nil
	}
	if !current.Locked || current.LockedBy == nil || *current.LockedBy != holder {
		return current, false, nil
	}

	// The lease holder is exclusive, so merging the per-channel map in Go
	// before the conditional UPDATE cannot race another releaser.
	merged := model.ChannelCounts{}
	for ch, n := range current.PerChannelInvites {
		merged[ch] = n
	}
	for ch, n := range stats.ChannelCounts {
		merged[ch] += n
	}

	var account model.Account
	err = r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			locked = FALSE,
			locked_by = NULL,
			locked_for = NULL,
			locked_until = NULL,
			used_invites_today = used_invites_today + $2,
			used_messages_today = used_messages_today + $3,
			contacts_today = contacts_today + $4,
			per_channel_invites = $5,
			error_count = CASE WHEN $6 THEN 0 ELSE error_count + 1 END,
			last_used_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND locked = TRUE AND locked_by = $7
		RETURNING *
	`, id, stats.Invites, stats.Messages, stats.Contacts, merged, stats.Success, holder)
	released, err := HandleNotFound(&account, err)
	if err != nil {
		return nil, false, err
	}
	if released == nil {
		// Lost a race with the lease reclaimer or a takeover by another
		// holder; nothing was merged.
		return current, false, nil
	}
	return released, true, nil
}

func (r *accountRepo) SetStatus(ctx context.Context, id string, status model.AccountStatus, penaltyKind string, floodWaitUntil, blockedUntil *time.Time) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			status = $2,
			last_penalty = COALESCE(NULLIF($3, ''), last_penalty),
			flood_wait_until = COALESCE($4, flood_wait_until),
			blocked_until = COALESCE($5, blocked_until),
			disabled_at = CASE WHEN $2 = 'disabled' THEN NOW() ELSE disabled_at END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, status, penaltyKind, floodWaitUntil, blockedUntil)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) TouchUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (user_id, platform, handle, credential_ref, status, reset_at)
		VALUES ($1, $2, $3, $4, 'active', NOW() + INTERVAL '24 hours')
		RETURNING *
	`, params.UserID, params.Platform, params.Handle, params.CredentialRef)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) List(ctx context.Context, limit, offset int) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// Disable soft-disables an account. Rows are never hard-deleted while
// referenced by execution logs.
func (r *accountRepo) Disable(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			status = 'disabled',
			disabled_at = NOW(),
			locked = FALSE,
			locked_by = NULL,
			locked_until = NULL,
			updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) CountByStatus(ctx context.Context) (map[model.AccountStatus]int, error) {
	var rows []struct {
		Status model.AccountStatus `db:"status"`
		Count  int                 `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM accounts GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	counts := make(map[model.AccountStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// ReclaimExpiredLeases frees accounts whose holder never released them.
// Lease expiry is a safety net, not the primary release path.
func (r *accountRepo) ReclaimExpiredLeases(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			locked = FALSE,
			locked_by = NULL,
			locked_for = NULL,
			locked_until = NULL,
			updated_at = NOW()
		WHERE locked = TRUE AND locked_until < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RecoverExpiredPenalties returns flood-waited accounts to active once their
// penalty timestamp passes. Administrative blocked/disabled rows are left
// alone: status recovery never overrides an operator decision.
func (r *accountRepo) RecoverExpiredPenalties(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			status = 'active',
			flood_wait_until = NULL,
			updated_at = NOW()
		WHERE status = 'flood_wait'
		  AND disabled_at IS NULL
		  AND (flood_wait_until IS NULL OR flood_wait_until < NOW())
		  AND (blocked_until IS NULL OR blocked_until < NOW())
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *accountRepo) ResetDailyCounters(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			used_invites_today = 0,
			used_messages_today = 0,
			contacts_today = 0,
			per_channel_invites = '{}',
			reset_at = NOW() + INTERVAL '24 hours',
			updated_at = NOW()
		WHERE reset_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
