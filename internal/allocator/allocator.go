// Package allocator implements the leasing protocol for the account pool:
// callers request an account for a purpose, the allocator picks an eligible
// one, marks it busy, and guarantees release either explicitly or by lease
// expiry.
package allocator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sendpool/account-manager-go/internal/audit"
	apperrors "github.com/sendpool/account-manager-go/internal/errors"
	"github.com/sendpool/account-manager-go/internal/ledger"
	"github.com/sendpool/account-manager-go/internal/model"
	"github.com/sendpool/account-manager-go/internal/penalty"
	"github.com/sendpool/account-manager-go/internal/repository"
)

// How many eligible candidates one allocation attempt inspects before giving
// up. Each candidate can be lost to a concurrent allocator, so scanning a few
// keeps contention from looking like pool exhaustion.
const candidateScanSize = 5

type Service struct {
	accounts       repository.AccountRepository
	ledger         ledger.Ledger
	penalties      *penalty.Machine
	dailyLimits    map[model.ActionType]int
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	now            func() time.Time
}

func NewService(
	accounts repository.AccountRepository,
	led ledger.Ledger,
	penalties *penalty.Machine,
	limits ledger.Limits,
	defaultTimeout, maxTimeout time.Duration,
) *Service {
	return &Service{
		accounts:       accounts,
		ledger:         led,
		penalties:      penalties,
		dailyLimits:    limits.Daily,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		now:            time.Now,
	}
}

// Allocate picks an eligible, free account and atomically marks it leased.
// Returns a NO_ACCOUNT_AVAILABLE error when the pool is exhausted; callers
// treat that as a retryable backoff condition, not a hard failure.
//
// Selection and leasing are atomic with respect to concurrent calls: the
// lease is taken with a conditional update on the account row, so two
// allocations can never both win the same account.
func (s *Service) Allocate(ctx context.Context, params model.AllocateParams) (*model.Lease, error) {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if timeout > s.maxTimeout {
		timeout = s.maxTimeout
	}

	candidates, err := s.accounts.FindEligible(ctx, params.Purpose, s.dailyLimits[params.Purpose], candidateScanSize)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	for _, candidate := range candidates {
		decision, err := s.ledger.CanPerform(ctx, candidate.ID, params.Purpose, "")
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			continue
		}

		until := s.now().Add(timeout)
		leased, err := s.accounts.TryLease(ctx, candidate.ID, params.ServiceName, params.Purpose, until)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if leased == nil {
			// Lost the race to a concurrent allocator; try the next one.
			continue
		}

		lease := &model.Lease{
			LeaseID:       uuid.NewString(),
			AccountID:     leased.ID,
			Handle:        leased.Handle,
			CredentialRef: leased.CredentialRef,
			Purpose:       params.Purpose,
			HolderService: params.ServiceName,
			GrantedAt:     s.now(),
			ExpiresAt:     until,
		}

		audit.Log(audit.Event{
			Type:      audit.EventLeaseGranted,
			AccountID: leased.ID,
			Service:   params.ServiceName,
			Details: map[string]interface{}{
				"lease_id": lease.LeaseID,
				"purpose":  string(params.Purpose),
				"expires":  until.Format(time.RFC3339),
			},
		})
		return lease, nil
	}

	audit.Log(audit.Event{
		Type:    audit.EventAllocationDenied,
		Service: params.ServiceName,
		Details: map[string]interface{}{"purpose": string(params.Purpose)},
	})
	return nil, apperrors.NoAccountAvailable(string(params.Purpose))
}

// ReleaseResult reports what the release actually did; a repeated release,
// or one from a service that no longer holds the lease, is a safe no-op that
// credits nothing.
type ReleaseResult struct {
	Account  *model.Account
	Released bool
}

func (s *Service) Release(ctx context.Context, accountID, serviceName string, stats model.UsageStats) (*ReleaseResult, error) {
	account, released, err := s.accounts.ReleaseLease(ctx, accountID, serviceName, stats)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("account")
	}

	if released && stats.ErrorType != "" {
		if err := s.penalties.HandleError(ctx, accountID, stats.ErrorType, stats.ErrorMessage, stats.PenaltySecs); err != nil {
			log.Error().Err(err).Str("accountId", accountID).Msg("failed to apply penalty on release")
		}
	}

	audit.Log(audit.Event{
		Type:      audit.EventLeaseReleased,
		AccountID: accountID,
		Service:   serviceName,
		Details: map[string]interface{}{
			"released": released,
			"success":  stats.Success,
		},
	})
	return &ReleaseResult{Account: account, Released: released}, nil
}

// Health is a read-only diagnostic combining administrative status, penalty
// state, and remaining daily budget.
func (s *Service) Health(ctx context.Context, accountID string) (*model.AccountHealth, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("account")
	}

	health := &model.AccountHealth{
		AccountID: accountID,
		Status:    account.Status,
		Issues:    []string{},
	}

	if account.Status != model.StatusActive {
		health.Issues = append(health.Issues, fmt.Sprintf("status is %s", account.Status))
	}
	if account.PenaltyActive(s.now()) {
		health.Issues = append(health.Issues, "penalty timestamp active")
	}

	snap, err := s.ledger.Usage(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for _, p := range snap.Penalties {
		health.Issues = append(health.Issues, fmt.Sprintf("%s until %s", p.Kind, p.Until.Format(time.RFC3339)))
	}
	for name, counter := range snap.Counters {
		if counter.Remaining == 0 {
			health.Issues = append(health.Issues, fmt.Sprintf("%s budget exhausted", name))
		}
	}

	health.IsHealthy = len(health.Issues) == 0
	return health, nil
}

// PoolStats is the pool-wide health summary.
type PoolStats struct {
	Total    int                         `json:"total"`
	ByStatus map[model.AccountStatus]int `json:"byStatus"`
}

func (s *Service) RecoveryStats(ctx context.Context) (*PoolStats, error) {
	counts, err := s.accounts.CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	stats := &PoolStats{ByStatus: counts}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}
