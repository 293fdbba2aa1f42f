// Package executor wraps a single outbound action with pre-flight rate-limit
// checks, adapter invocation, outcome classification, and post-action
// accounting. A lease grants the opportunity to act, not an unconditional
// right: limits may have been consumed since allocation, so every execution
// re-checks the ledger.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sendpool/account-manager-go/internal/audit"
	"github.com/sendpool/account-manager-go/internal/config"
	apperrors "github.com/sendpool/account-manager-go/internal/errors"
	"github.com/sendpool/account-manager-go/internal/ledger"
	"github.com/sendpool/account-manager-go/internal/model"
	"github.com/sendpool/account-manager-go/internal/penalty"
	"github.com/sendpool/account-manager-go/internal/platform"
	"github.com/sendpool/account-manager-go/internal/repository"
)

type Executor struct {
	ledger        ledger.Ledger
	accounts      repository.AccountRepository
	logs          repository.ExecutionLogRepository
	penalties     *penalty.Machine
	adapter       platform.Adapter
	pacer         *rate.Limiter
	maxInProgress int
	callTimeout   time.Duration
}

func New(
	led ledger.Ledger,
	accounts repository.AccountRepository,
	logs repository.ExecutionLogRepository,
	penalties *penalty.Machine,
	adapter platform.Adapter,
	sendRatePerMinute int,
	maxInProgress int,
) *Executor {
	return &Executor{
		ledger:        led,
		accounts:      accounts,
		logs:          logs,
		penalties:     penalties,
		adapter:       adapter,
		pacer:         rate.NewLimiter(rate.Limit(float64(sendRatePerMinute)/60.0), 1),
		maxInProgress: maxInProgress,
		callTimeout:   config.AdapterCallTimeout,
	}
}

// Execute performs one action with the leased account and returns its
// classified result. The error return is reserved for infrastructure
// failure; every adapter outcome maps to exactly one ActionResult.
func (e *Executor) Execute(ctx context.Context, lease *model.Lease, req model.ActionRequest) (*model.ActionResult, error) {
	if req.Target == "" {
		return nil, apperrors.MissingRequired("target")
	}
	if req.TaskID == "" {
		return nil, apperrors.MissingRequired("taskId")
	}

	// Idempotence: a retried request whose action already succeeded once
	// must not double-count in the ledger.
	done, err := e.logs.HasSucceeded(ctx, req.TaskID, req.Target)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if done {
		return &model.ActionResult{
			Outcome:          model.OutcomeSuccess,
			AlreadyCompleted: true,
			Message:          "action already completed for this task and target",
		}, nil
	}

	decision, err := e.ledger.CanPerform(ctx, lease.AccountID, req.Action, req.Channel)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return &model.ActionResult{
			Outcome:  model.OutcomeRateLimited,
			CanRetry: true,
			Message:  decision.Reason,
		}, nil
	}

	if err := e.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	raw, sendErr := e.adapter.Send(callCtx, platform.SendRequest{
		CredentialRef: lease.CredentialRef,
		Action:        req.Action,
		Target:        req.Target,
		Payload:       req.Payload,
		Channel:       req.Channel,
	})
	cancel()
	elapsed := time.Since(started)

	result, errorType := classify(raw, sendErr)

	if result.Outcome == model.OutcomeInProgress {
		result = e.boundInProgress(ctx, lease.AccountID, req.Target, result)
	}

	if result.Outcome == model.OutcomeSuccess {
		e.settleSuccess(ctx, lease, req)
	} else if errorType != "" {
		if err := e.penalties.HandleError(ctx, lease.AccountID, errorType, result.Message, result.PenaltySeconds); err != nil {
			log.Error().Err(err).Str("accountId", lease.AccountID).Msg("failed to apply penalty")
		}
	}

	e.writeLog(ctx, lease, req, result, elapsed)
	return result, nil
}

// classify maps the raw adapter outcome onto the closed result taxonomy.
// Classification is total: unknown codes land in the failed bucket and are
// never force-mapped to a penalty category.
func classify(raw *platform.RawOutcome, sendErr error) (*model.ActionResult, string) {
	if sendErr != nil {
		return &model.ActionResult{
			Outcome:  model.OutcomeFailed,
			CanRetry: true,
			Message:  sendErr.Error(),
		}, ""
	}

	switch raw.Code {
	case platform.CodeOK:
		return &model.ActionResult{Outcome: model.OutcomeSuccess}, ""
	case platform.CodeFloodWait:
		return &model.ActionResult{
			Outcome:        model.OutcomeFloodWait,
			CanRetry:       true,
			PenaltySeconds: raw.PenaltySeconds,
			Message:        raw.Message,
		}, penalty.ErrorFloodWait
	case platform.CodePeerFlood:
		return &model.ActionResult{
			Outcome:  model.OutcomePeerFlood,
			CanRetry: true,
			Message:  raw.Message,
		}, penalty.ErrorPeerFlood
	case platform.CodeRateLimited:
		return &model.ActionResult{
			Outcome:  model.OutcomeRateLimited,
			CanRetry: true,
			Message:  raw.Message,
		}, ""
	case platform.CodeInProgress:
		return &model.ActionResult{
			Outcome:  model.OutcomeInProgress,
			CanRetry: true,
			Message:  raw.Message,
		}, ""
	case platform.CodeBanned:
		return &model.ActionResult{
			Outcome: model.OutcomeAccountBanned,
			Message: raw.Message,
		}, penalty.ErrorAccountBanned
	case platform.CodeDeactivated:
		return &model.ActionResult{
			Outcome: model.OutcomeFailed,
			Message: raw.Message,
		}, penalty.ErrorUserDeactivated
	case platform.CodeAuthKeyInvalid:
		return &model.ActionResult{
			Outcome: model.OutcomeFailed,
			Message: raw.Message,
		}, penalty.ErrorAuthKeyInvalid
	case platform.CodeTargetNotFound:
		return &model.ActionResult{Outcome: model.OutcomeTargetNotFound, Message: raw.Message}, ""
	case platform.CodePrivacyRestricted:
		return &model.ActionResult{Outcome: model.OutcomePrivacyRestricted, Message: raw.Message}, ""
	case platform.CodeNotMutualContact:
		return &model.ActionResult{Outcome: model.OutcomeNotMutualContact, Message: raw.Message}, ""
	}

	log.Warn().Str("code", raw.Code).Str("message", raw.Message).Msg("unclassified adapter outcome")
	return &model.ActionResult{
		Outcome: model.OutcomeFailed,
		Message: raw.Message,
	}, ""
}

// boundInProgress caps how many times a target may cycle through the
// "operation in progress" pseudo-state before it is treated as a true
// failure.
func (e *Executor) boundInProgress(ctx context.Context, accountID, target string, result *model.ActionResult) *model.ActionResult {
	attempts, err := e.ledger.IncrInProgress(ctx, accountID, target)
	if err != nil {
		log.Error().Err(err).Str("target", target).Msg("failed to count in-progress attempt")
		return result
	}
	if attempts > int64(e.maxInProgress) {
		e.ledger.ClearInProgress(ctx, accountID, target)
		return &model.ActionResult{
			Outcome: model.OutcomeFailed,
			Message: "target stuck in progress, retry budget exhausted",
		}
	}
	return result
}

func (e *Executor) settleSuccess(ctx context.Context, lease *model.Lease, req model.ActionRequest) {
	recorded, err := e.ledger.Record(ctx, lease.AccountID, req.Action, req.Channel)
	if err != nil {
		log.Error().Err(err).Str("accountId", lease.AccountID).Msg("failed to record usage after success")
	} else if !recorded.Allowed {
		// The action happened; the budget was consumed by a concurrent
		// action between check and act. Worth knowing about.
		log.Warn().
			Str("accountId", lease.AccountID).
			Str("reason", recorded.Reason).
			Msg("ledger refused record after successful action")
	}
	if err := e.accounts.TouchUsed(ctx, lease.AccountID); err != nil {
		log.Error().Err(err).Str("accountId", lease.AccountID).Msg("failed to update last_used_at")
	}
	e.ledger.ClearInProgress(ctx, lease.AccountID, req.Target)
}

// writeLog persists the execution-log entry. A log-write failure never rolls
// back the business-state update.
func (e *Executor) writeLog(ctx context.Context, lease *model.Lease, req model.ActionRequest, result *model.ActionResult, elapsed time.Duration) {
	_, err := e.logs.Insert(ctx, model.CreateExecutionLogParams{
		AccountID:      lease.AccountID,
		TaskID:         req.TaskID,
		ActionType:     req.Action,
		Target:         req.Target,
		Outcome:        result.Outcome,
		PenaltySeconds: result.PenaltySeconds,
		Detail:         result.Message,
		Duration:       elapsed,
	})
	if err != nil {
		log.Error().Err(err).Str("taskId", req.TaskID).Msg("failed to write execution log")
	}

	audit.Log(audit.Event{
		Type:      audit.EventActionExecuted,
		AccountID: lease.AccountID,
		Service:   lease.HolderService,
		Details: map[string]interface{}{
			"action":      string(req.Action),
			"outcome":     string(result.Outcome),
			"duration_ms": elapsed.Milliseconds(),
		},
	})
}
