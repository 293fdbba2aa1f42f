package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendpool/account-manager-go/internal/ledger"
	"github.com/sendpool/account-manager-go/internal/model"
	"github.com/sendpool/account-manager-go/internal/repository"
)

func TestMaintenanceJob_Sweep(t *testing.T) {
	accounts := repository.NewMemoryAccountRepository()
	logs := repository.NewMemoryExecutionLogRepository()
	led := ledger.NewMemoryLedger("tg", ledger.Limits{
		Daily:      map[model.ActionType]int{model.ActionInvite: 10},
		Hourly:     map[model.ActionType]int{model.ActionInvite: 10},
		PerChannel: 10,
	})
	ctx := context.Background()

	crashed, err := accounts.Create(ctx, model.CreateAccountParams{
		UserID: "user-1", Platform: "tg", Handle: "+15550001", CredentialRef: "secret/tg/a",
	})
	require.NoError(t, err)
	penalized, err := accounts.Create(ctx, model.CreateAccountParams{
		UserID: "user-1", Platform: "tg", Handle: "+15550002", CredentialRef: "secret/tg/b",
	})
	require.NoError(t, err)

	// A lease whose holder never came back.
	_, err = accounts.TryLease(ctx, crashed.ID, "crashed-service", model.ActionInvite, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	// A flood-wait penalty that has already lapsed.
	lapsed := time.Now().Add(-time.Minute)
	_, err = accounts.SetStatus(ctx, penalized.ID, model.StatusFloodWait, "flood_wait", &lapsed, nil)
	require.NoError(t, err)

	job := NewMaintenanceJob(accounts, logs, led, time.Minute)
	job.sweep()

	reclaimed, err := accounts.FindByID(ctx, crashed.ID)
	require.NoError(t, err)
	assert.False(t, reclaimed.Locked)

	recovered, err := accounts.FindByID(ctx, penalized.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, recovered.Status)
	assert.Nil(t, recovered.FloodWaitUntil)
}

func TestMaintenanceJob_StartStop(t *testing.T) {
	accounts := repository.NewMemoryAccountRepository()
	logs := repository.NewMemoryExecutionLogRepository()
	led := ledger.NewMemoryLedger("tg", ledger.Limits{})

	job := NewMaintenanceJob(accounts, logs, led, 10*time.Millisecond)
	job.Start()
	time.Sleep(30 * time.Millisecond)
	job.Stop()
}
