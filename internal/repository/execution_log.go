package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sendpool/account-manager-go/internal/model"
)

type ExecutionLogRepository interface {
	Insert(ctx context.Context, params model.CreateExecutionLogParams) (*model.ExecutionLog, error)

	// HasSucceeded reports whether the logical (task, target) pair already
	// completed successfully with any account. Used for idempotent retries.
	HasSucceeded(ctx context.Context, taskID, target string) (bool, error)

	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.ExecutionLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type executionLogRepo struct {
	db sqlxDB
}

func NewExecutionLogRepository(db *sqlx.DB) ExecutionLogRepository {
	return &executionLogRepo{db: db}
}

func (r *executionLogRepo) Insert(ctx context.Context, params model.CreateExecutionLogParams) (*model.ExecutionLog, error) {
	var entry model.ExecutionLog
	err := r.db.GetContext(ctx, &entry, `
		INSERT INTO execution_logs
			(id, account_id, task_id, action_type, target, outcome, penalty_seconds, detail, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, uuid.NewString(), params.AccountID, params.TaskID, params.ActionType, params.Target,
		params.Outcome, params.PenaltySeconds, params.Detail, params.Duration.Milliseconds())
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *executionLogRepo) HasSucceeded(ctx context.Context, taskID, target string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM execution_logs
		WHERE task_id = $1 AND target = $2 AND outcome = 'success'
	`, taskID, target)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *executionLogRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.ExecutionLog, error) {
	var entries []model.ExecutionLog
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM execution_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *executionLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM execution_logs WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
