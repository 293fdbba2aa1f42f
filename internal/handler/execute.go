package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/sendpool/account-manager-go/internal/errors"
	"github.com/sendpool/account-manager-go/internal/middleware"
	"github.com/sendpool/account-manager-go/internal/model"
)

// ActionExecutor is the slice of the executor the handler needs.
type ActionExecutor interface {
	Execute(ctx context.Context, lease *model.Lease, req model.ActionRequest) (*model.ActionResult, error)
}

// ExecuteHandler performs actions server-side on behalf of lease holders, so
// credential material never leaves this process. The caller must hold a live
// lease on the account; a request without one is rejected, not queued.
type ExecuteHandler struct {
	executor ActionExecutor
	accounts AccountFinder
}

func NewExecuteHandler(exec ActionExecutor, accounts AccountFinder) *ExecuteHandler {
	return &ExecuteHandler{executor: exec, accounts: accounts}
}

func (h *ExecuteHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{accountID}", h.Execute)
	return r
}

// POST /execute/{accountID}
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req struct {
		TaskID      string `json:"task_id"`
		ActionType  string `json:"action_type"`
		Target      string `json:"target"`
		Payload     string `json:"payload"`
		Channel     string `json:"channel"`
		ServiceName string `json:"service_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	action, err := model.ParseActionType(req.ActionType)
	if err != nil {
		writeError(w, apperrors.InvalidInput("action_type", err.Error()))
		return
	}

	serviceName := req.ServiceName
	if serviceName == "" {
		serviceName = middleware.GetService(r.Context())
	}

	account, err := h.accounts.FindByID(r.Context(), accountID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if account == nil {
		writeError(w, apperrors.NotFound("account"))
		return
	}
	if !holdsLease(account, serviceName, action) {
		writeError(w, apperrors.LeaseNotHeld(accountID))
		return
	}

	lease := &model.Lease{
		AccountID:     account.ID,
		Handle:        account.Handle,
		CredentialRef: account.CredentialRef,
		Purpose:       action,
		HolderService: serviceName,
		ExpiresAt:     *account.LockedUntil,
	}

	result, err := h.executor.Execute(r.Context(), lease, model.ActionRequest{
		TaskID:  req.TaskID,
		Action:  action,
		Target:  req.Target,
		Payload: req.Payload,
		Channel: req.Channel,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// holdsLease reports whether the caller currently holds a live lease on the
// account for the requested action. A lease allocated for one action type
// does not authorize another.
func holdsLease(account *model.Account, serviceName string, action model.ActionType) bool {
	if !account.Locked || account.LockedBy == nil || account.LockedUntil == nil {
		return false
	}
	if *account.LockedBy != serviceName {
		return false
	}
	if account.LockedFor == nil || *account.LockedFor != action {
		return false
	}
	return account.LockedUntil.After(time.Now())
}
