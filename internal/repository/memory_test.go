package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendpool/account-manager-go/internal/model"
)

func createTestAccount(t *testing.T, r *MemoryAccountRepository, handle string) *model.Account {
	t.Helper()
	a, err := r.Create(context.Background(), model.CreateAccountParams{
		UserID:        "user-1",
		Platform:      "tg",
		Handle:        handle,
		CredentialRef: "secret/tg/" + handle,
	})
	require.NoError(t, err)
	return a
}

func TestMemoryAccountRepository_FindEligible(t *testing.T) {
	r := NewMemoryAccountRepository()
	ctx := context.Background()

	ok := createTestAccount(t, r, "+15550001")
	leased := createTestAccount(t, r, "+15550002")
	penalized := createTestAccount(t, r, "+15550003")
	drained := createTestAccount(t, r, "+15550004")

	_, err := r.TryLease(ctx, leased.ID, "other", model.ActionInvite, time.Now().Add(time.Hour))
	require.NoError(t, err)

	until := time.Now().Add(time.Hour)
	_, err = r.SetStatus(ctx, penalized.ID, model.StatusFloodWait, "flood_wait", &until, nil)
	require.NoError(t, err)

	_, released, err := r.ReleaseLease(ctx, drained.ID, "x", model.UsageStats{})
	require.NoError(t, err)
	assert.False(t, released)
	_, err = r.TryLease(ctx, drained.ID, "x", model.ActionInvite, time.Now().Add(time.Minute))
	require.NoError(t, err)
	_, _, err = r.ReleaseLease(ctx, drained.ID, "x", model.UsageStats{Invites: 5, Success: true})
	require.NoError(t, err)

	got, err := r.FindEligible(ctx, model.ActionInvite, 5, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ok.ID, got[0].ID)
}

func TestMemoryAccountRepository_ReclaimExpiredLeases(t *testing.T) {
	r := NewMemoryAccountRepository()
	ctx := context.Background()

	expired := createTestAccount(t, r, "+15550001")
	live := createTestAccount(t, r, "+15550002")

	_, err := r.TryLease(ctx, expired.ID, "crashed", model.ActionInvite, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = r.TryLease(ctx, live.ID, "working", model.ActionInvite, time.Now().Add(time.Hour))
	require.NoError(t, err)

	n, err := r.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	a, err := r.FindByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, a.Locked)

	b, err := r.FindByID(ctx, live.ID)
	require.NoError(t, err)
	assert.True(t, b.Locked)
}

func TestMemoryAccountRepository_RecoverExpiredPenalties(t *testing.T) {
	r := NewMemoryAccountRepository()
	ctx := context.Background()

	recovered := createTestAccount(t, r, "+15550001")
	serving := createTestAccount(t, r, "+15550002")
	disabled := createTestAccount(t, r, "+15550003")

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	_, err := r.SetStatus(ctx, recovered.ID, model.StatusFloodWait, "flood_wait", &past, nil)
	require.NoError(t, err)
	_, err = r.SetStatus(ctx, serving.ID, model.StatusFloodWait, "flood_wait", &future, nil)
	require.NoError(t, err)

	// Disabled while flood-waited: recovery must not resurrect it.
	_, err = r.SetStatus(ctx, disabled.ID, model.StatusFloodWait, "flood_wait", &past, nil)
	require.NoError(t, err)
	_, err = r.Disable(ctx, disabled.ID)
	require.NoError(t, err)

	n, err := r.RecoverExpiredPenalties(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	a, err := r.FindByID(ctx, recovered.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, a.Status)
	assert.Nil(t, a.FloodWaitUntil)

	b, err := r.FindByID(ctx, serving.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFloodWait, b.Status)

	c, err := r.FindByID(ctx, disabled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDisabled, c.Status)
}

func TestMemoryAccountRepository_ResetDailyCounters(t *testing.T) {
	r := NewMemoryAccountRepository()
	ctx := context.Background()

	a := createTestAccount(t, r, "+15550001")
	_, err := r.TryLease(ctx, a.ID, "x", model.ActionInvite, time.Now().Add(time.Minute))
	require.NoError(t, err)
	_, _, err = r.ReleaseLease(ctx, a.ID, "x", model.UsageStats{
		Invites:       3,
		ChannelCounts: model.ChannelCounts{"chan-1": 3},
		Success:       true,
	})
	require.NoError(t, err)

	// Not due yet.
	n, err := r.ResetDailyCounters(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Shift the clock a day forward so the reset becomes due.
	r.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	n, err = r.ResetDailyCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsedInvitesToday)
	assert.Empty(t, got.PerChannelInvites)
	assert.True(t, got.ResetAt.After(time.Now().Add(24*time.Hour)))
}

func TestMemoryExecutionLogRepository(t *testing.T) {
	r := NewMemoryExecutionLogRepository()
	ctx := context.Background()

	_, err := r.Insert(ctx, model.CreateExecutionLogParams{
		AccountID:  "acct-1",
		TaskID:     "task-1",
		ActionType: model.ActionInvite,
		Target:     "@alice",
		Outcome:    model.OutcomeSuccess,
		Duration:   120 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = r.Insert(ctx, model.CreateExecutionLogParams{
		AccountID:  "acct-1",
		TaskID:     "task-1",
		ActionType: model.ActionInvite,
		Target:     "@bob",
		Outcome:    model.OutcomeTargetNotFound,
	})
	require.NoError(t, err)

	done, err := r.HasSucceeded(ctx, "task-1", "@alice")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = r.HasSucceeded(ctx, "task-1", "@bob")
	require.NoError(t, err)
	assert.False(t, done, "only a success outcome counts")

	entries, err := r.ListByAccount(ctx, "acct-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "@bob", entries[0].Target, "newest first")

	removed, err := r.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}
