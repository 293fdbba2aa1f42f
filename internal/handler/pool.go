package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/sendpool/account-manager-go/internal/allocator"
	apperrors "github.com/sendpool/account-manager-go/internal/errors"
	"github.com/sendpool/account-manager-go/internal/middleware"
	"github.com/sendpool/account-manager-go/internal/model"
)

// AllocatorService is the slice of the allocator the pool handler needs.
type AllocatorService interface {
	Allocate(ctx context.Context, params model.AllocateParams) (*model.Lease, error)
	Release(ctx context.Context, accountID, serviceName string, stats model.UsageStats) (*allocator.ReleaseResult, error)
	Health(ctx context.Context, accountID string) (*model.AccountHealth, error)
	RecoveryStats(ctx context.Context) (*allocator.PoolStats, error)
}

type PoolHandler struct {
	allocator AllocatorService
}

func NewPoolHandler(alloc AllocatorService) *PoolHandler {
	return &PoolHandler{allocator: alloc}
}

func (h *PoolHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/allocate", h.Allocate)
	r.Post("/release/{accountID}", h.Release)
	r.Get("/health/{accountID}", h.Health)
	r.Get("/stats/recovery", h.RecoveryStats)

	return r
}

// POST /allocate
// Grants an exclusive lease on an eligible account, or reports pool
// exhaustion as a classified outcome.
func (h *PoolHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id"`
		Purpose        string `json:"purpose"`
		ServiceName    string `json:"service_name"`
		TimeoutMinutes int    `json:"timeout_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	purpose, err := model.ParseActionType(req.Purpose)
	if err != nil {
		writeError(w, apperrors.InvalidInput("purpose", err.Error()))
		return
	}

	serviceName := req.ServiceName
	if serviceName == "" {
		serviceName = middleware.GetService(r.Context())
	}
	if serviceName == "" {
		writeError(w, apperrors.MissingRequired("service_name"))
		return
	}

	lease, err := h.allocator.Allocate(r.Context(), model.AllocateParams{
		UserID:      req.UserID,
		Purpose:     purpose,
		ServiceName: serviceName,
		Timeout:     time.Duration(req.TimeoutMinutes) * time.Minute,
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNoAccountAvailable) {
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "no_account_available",
			})
			return
		}
		log.Error().Err(err).Msg("allocation failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "allocated",
		"lease_id":       lease.LeaseID,
		"account_id":     lease.AccountID,
		"handle":         lease.Handle,
		"credential_ref": lease.CredentialRef,
		"expires_at":     lease.ExpiresAt.Format(time.RFC3339),
	})
}

// POST /release/{accountID}
func (h *PoolHandler) Release(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req struct {
		ServiceName string           `json:"service_name"`
		UsageStats  model.UsageStats `json:"usage_stats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	serviceName := req.ServiceName
	if serviceName == "" {
		serviceName = middleware.GetService(r.Context())
	}

	result, err := h.allocator.Release(r.Context(), accountID, serviceName, req.UsageStats)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"released": result.Released,
		"updated_usage": map[string]any{
			"used_invites_today":  result.Account.UsedInvitesToday,
			"used_messages_today": result.Account.UsedMessagesToday,
			"contacts_today":      result.Account.ContactsToday,
		},
	})
}

// GET /health/{accountID}
func (h *PoolHandler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.allocator.Health(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"is_healthy": health.IsHealthy,
		"status":     health.Status,
		"issues":     health.Issues,
	})
}

// GET /stats/recovery
func (h *PoolHandler) RecoveryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.allocator.RecoveryStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
