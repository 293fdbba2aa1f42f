package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/sendpool/account-manager-go/internal/errors"
	"github.com/sendpool/account-manager-go/internal/model"
	"github.com/sendpool/account-manager-go/internal/repository"
)

const defaultPageSize = 50

// AccountsHandler covers pool operations: onboarding credentials, listing
// accounts with their counters, soft-disabling, and the execution audit trail.
type AccountsHandler struct {
	accounts repository.AccountRepository
	logs     repository.ExecutionLogRepository
}

func NewAccountsHandler(accounts repository.AccountRepository, logs repository.ExecutionLogRepository) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, logs: logs}
}

func (h *AccountsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/accounts", h.Create)
	r.Get("/accounts", h.List)
	r.Delete("/accounts/{accountID}", h.Disable)
	r.Get("/executions/{accountID}", h.Executions)

	return r
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID        string `json:"user_id"`
		Platform      string `json:"platform"`
		Handle        string `json:"handle"`
		CredentialRef string `json:"credential_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.Handle == "" {
		writeError(w, apperrors.MissingRequired("handle"))
		return
	}
	if req.CredentialRef == "" {
		writeError(w, apperrors.MissingRequired("credential_ref"))
		return
	}

	account, err := h.accounts.Create(r.Context(), model.CreateAccountParams{
		UserID:        req.UserID,
		Platform:      req.Platform,
		Handle:        req.Handle,
		CredentialRef: req.CredentialRef,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	accounts, err := h.accounts.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// Disable soft-disables; account rows are never hard-deleted while the
// execution log references them.
func (h *AccountsHandler) Disable(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.Disable(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if account == nil {
		writeError(w, apperrors.NotFound("account"))
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AccountsHandler) Executions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := h.logs.ListByAccount(r.Context(), chi.URLParam(r, "accountID"), limit, offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": entries})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
