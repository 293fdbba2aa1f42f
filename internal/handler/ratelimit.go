package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/sendpool/account-manager-go/internal/errors"
	"github.com/sendpool/account-manager-go/internal/ledger"
	"github.com/sendpool/account-manager-go/internal/model"
)

// AccountFinder is the read-only account lookup the rate-limit handler needs
// to distinguish "unknown account" (caller error) from an empty ledger.
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

type RateLimitHandler struct {
	ledger   ledger.Ledger
	accounts AccountFinder
}

func NewRateLimitHandler(led ledger.Ledger, accounts AccountFinder) *RateLimitHandler {
	return &RateLimitHandler{ledger: led, accounts: accounts}
}

func (h *RateLimitHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/check/{accountID}", h.Check)
	r.Post("/record/{accountID}", h.Record)
	r.Get("/status/{accountID}", h.Status)

	return r
}

func (h *RateLimitHandler) resolveAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID := chi.URLParam(r, "accountID")
	account, err := h.accounts.FindByID(r.Context(), accountID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return "", false
	}
	if account == nil {
		writeError(w, apperrors.NotFound("account"))
		return "", false
	}
	return accountID, true
}

func checksPayload(d *ledger.Decision) map[string]any {
	checks := map[string]any{
		"daily":  d.Daily,
		"hourly": d.Hourly,
	}
	if d.Channel != nil {
		checks["channel"] = d.Channel
	}
	return checks
}

// POST /rate-limit/check/{accountID}
func (h *RateLimitHandler) Check(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		ActionType string `json:"action_type"`
		Target     string `json:"target"`
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

	decision, err := h.ledger.CanPerform(r.Context(), accountID, action, req.Target)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"allowed": decision.Allowed,
		"reason":  decision.Reason,
		"checks":  checksPayload(decision),
	})
}

// POST /rate-limit/record/{accountID}
// Counters only move for successful actions; an unknown action type is a
// caller-input error and is never silently recorded.
func (h *RateLimitHandler) Record(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		ActionType string `json:"action_type"`
		Target     string `json:"target"`
		Success    bool   `json:"success"`
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

	if !req.Success {
		decision, err := h.ledger.CanPerform(r.Context(), accountID, action, req.Target)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"recorded":         false,
			"updated_counters": checksPayload(decision),
		})
		return
	}

	decision, err := h.ledger.Record(r.Context(), accountID, action, req.Target)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recorded":         decision.Allowed,
		"reason":           decision.Reason,
		"updated_counters": checksPayload(decision),
	})
}

// GET /rate-limit/status/{accountID}
func (h *RateLimitHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.resolveAccount(w, r)
	if !ok {
		return
	}

	snap, err := h.ledger.Usage(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
