package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendpool/account-manager-go/internal/audit"
	"github.com/sendpool/account-manager-go/internal/config"
	"github.com/sendpool/account-manager-go/internal/ledger"
	"github.com/sendpool/account-manager-go/internal/repository"
)

// MaintenanceJob is the periodic housekeeping sweep: it reclaims leases
// whose holder never released them, recovers accounts whose penalties have
// expired, and prunes stale ledger state. Every operation is idempotent and
// none are load-bearing for correctness; TTLs and timestamp checks at the
// read path are authoritative.
type MaintenanceJob struct {
	accounts repository.AccountRepository
	logs     repository.ExecutionLogRepository
	ledger   ledger.Ledger
	interval time.Duration
	done     chan struct{}
}

func NewMaintenanceJob(
	accounts repository.AccountRepository,
	logs repository.ExecutionLogRepository,
	led ledger.Ledger,
	interval time.Duration,
) *MaintenanceJob {
	return &MaintenanceJob{
		accounts: accounts,
		logs:     logs,
		ledger:   led,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *MaintenanceJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("maintenance job started")
}

func (j *MaintenanceJob) Stop() {
	close(j.done)
	log.Info().Msg("maintenance job stopped")
}

func (j *MaintenanceJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *MaintenanceJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCount(ctx, "expired leases", j.reclaimLeases)
	j.runCount(ctx, "expired penalties", j.accounts.RecoverExpiredPenalties)
	j.runCount(ctx, "daily counters", j.accounts.ResetDailyCounters)
	j.runCount(ctx, "old execution logs", func(ctx context.Context) (int64, error) {
		return j.logs.DeleteOlderThan(ctx, time.Now().Add(-config.ExecutionLogRetention))
	})

	if err := j.ledger.ResetHourly(ctx); err != nil {
		log.Error().Err(err).Msg("failed to reset hourly limits")
	}
	if err := j.ledger.CleanupExpired(ctx); err != nil {
		log.Error().Err(err).Msg("failed to cleanup expired restrictions")
	}
}

func (j *MaintenanceJob) reclaimLeases(ctx context.Context) (int64, error) {
	count, err := j.accounts.ReclaimExpiredLeases(ctx)
	if err == nil && count > 0 {
		audit.Log(audit.Event{
			Type:    audit.EventLeaseReclaimed,
			Details: map[string]interface{}{"count": count},
		})
	}
	return count, err
}

func (j *MaintenanceJob) runCount(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("swept %s", name)
	}
}
