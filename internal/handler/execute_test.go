package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendpool/account-manager-go/internal/model"
	"github.com/sendpool/account-manager-go/internal/repository"
)

type fakeExecutor struct {
	result   *model.ActionResult
	err      error
	gotLease *model.Lease
	gotReq   model.ActionRequest
}

func (f *fakeExecutor) Execute(_ context.Context, lease *model.Lease, req model.ActionRequest) (*model.ActionResult, error) {
	f.gotLease = lease
	f.gotReq = req
	return f.result, f.err
}

func newExecuteHandler(t *testing.T, exec *fakeExecutor) (http.Handler, *repository.MemoryAccountRepository, *model.Account) {
	t.Helper()

	accounts := repository.NewMemoryAccountRepository()
	account, err := accounts.Create(context.Background(), model.CreateAccountParams{
		UserID:        "user-1",
		Platform:      "tg",
		Handle:        "+15550001",
		CredentialRef: "secret/tg/acct-1",
	})
	require.NoError(t, err)
	return NewExecuteHandler(exec, accounts).Routes(), accounts, account
}

func TestExecuteHandler(t *testing.T) {
	validBody := func() map[string]any {
		return map[string]any{
			"task_id":      "task-1",
			"action_type":  "invite",
			"target":       "@alice",
			"service_name": "inviter",
		}
	}

	t.Run("executes for the lease holder", func(t *testing.T) {
		exec := &fakeExecutor{result: &model.ActionResult{Outcome: model.OutcomeSuccess}}
		h, accounts, account := newExecuteHandler(t, exec)

		_, err := accounts.TryLease(context.Background(), account.ID, "inviter", model.ActionInvite, time.Now().Add(time.Hour))
		require.NoError(t, err)

		rec := postJSON(t, h, "/"+account.ID, validBody())

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "success", decodeBody(t, rec)["outcome"])

		require.NotNil(t, exec.gotLease)
		assert.Equal(t, account.ID, exec.gotLease.AccountID)
		assert.Equal(t, "secret/tg/acct-1", exec.gotLease.CredentialRef)
		assert.Equal(t, "task-1", exec.gotReq.TaskID)
		assert.Equal(t, model.ActionInvite, exec.gotReq.Action)
	})

	t.Run("rejects a caller without a lease", func(t *testing.T) {
		exec := &fakeExecutor{}
		h, _, account := newExecuteHandler(t, exec)

		rec := postJSON(t, h, "/"+account.ID, validBody())

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Nil(t, exec.gotLease)
	})

	t.Run("rejects a caller holding someone else's lease", func(t *testing.T) {
		exec := &fakeExecutor{}
		h, accounts, account := newExecuteHandler(t, exec)

		_, err := accounts.TryLease(context.Background(), account.ID, "other-service", model.ActionInvite, time.Now().Add(time.Hour))
		require.NoError(t, err)

		rec := postJSON(t, h, "/"+account.ID, validBody())
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rejects an action the lease was not allocated for", func(t *testing.T) {
		exec := &fakeExecutor{}
		h, accounts, account := newExecuteHandler(t, exec)

		_, err := accounts.TryLease(context.Background(), account.ID, "inviter", model.ActionMessage, time.Now().Add(time.Hour))
		require.NoError(t, err)

		rec := postJSON(t, h, "/"+account.ID, validBody())
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Nil(t, exec.gotLease)
	})

	t.Run("rejects an expired lease", func(t *testing.T) {
		exec := &fakeExecutor{}
		h, accounts, account := newExecuteHandler(t, exec)

		_, err := accounts.TryLease(context.Background(), account.ID, "inviter", model.ActionInvite, time.Now().Add(-time.Minute))
		require.NoError(t, err)

		rec := postJSON(t, h, "/"+account.ID, validBody())
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown account is 404", func(t *testing.T) {
		h, _, _ := newExecuteHandler(t, &fakeExecutor{})

		rec := postJSON(t, h, "/nope", validBody())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown action type is 400", func(t *testing.T) {
		h, _, _ := newExecuteHandler(t, &fakeExecutor{})

		body := validBody()
		body["action_type"] = "spam"
		rec := postJSON(t, h, "/acct-x", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
