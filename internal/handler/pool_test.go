package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendpool/account-manager-go/internal/allocator"
	apperrors "github.com/sendpool/account-manager-go/internal/errors"
	"github.com/sendpool/account-manager-go/internal/model"
)

// fakeAllocator scripts allocator responses for handler tests.
type fakeAllocator struct {
	lease      *model.Lease
	allocErr   error
	releaseRes *allocator.ReleaseResult
	releaseErr error
	health     *model.AccountHealth
	healthErr  error

	gotParams  model.AllocateParams
	gotService string
	gotStats   model.UsageStats
}

func (f *fakeAllocator) Allocate(_ context.Context, params model.AllocateParams) (*model.Lease, error) {
	f.gotParams = params
	return f.lease, f.allocErr
}

func (f *fakeAllocator) Release(_ context.Context, _, serviceName string, stats model.UsageStats) (*allocator.ReleaseResult, error) {
	f.gotService = serviceName
	f.gotStats = stats
	return f.releaseRes, f.releaseErr
}

func (f *fakeAllocator) Health(_ context.Context, _ string) (*model.AccountHealth, error) {
	return f.health, f.healthErr
}

func (f *fakeAllocator) RecoveryStats(_ context.Context) (*allocator.PoolStats, error) {
	return &allocator.PoolStats{Total: 2, ByStatus: map[model.AccountStatus]int{model.StatusActive: 2}}, nil
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPoolHandler_Allocate(t *testing.T) {
	t.Run("grants a lease", func(t *testing.T) {
		fake := &fakeAllocator{lease: &model.Lease{
			LeaseID:       "lease-1",
			AccountID:     "acct-1",
			Handle:        "+15550001",
			CredentialRef: "secret/tg/acct-1",
			ExpiresAt:     time.Now().Add(30 * time.Minute),
		}}
		h := NewPoolHandler(fake).Routes()

		rec := postJSON(t, h, "/allocate", map[string]any{
			"user_id":         "user-1",
			"purpose":         "invite",
			"service_name":    "inviter",
			"timeout_minutes": 45,
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "allocated", body["status"])
		assert.Equal(t, "lease-1", body["lease_id"])
		assert.Equal(t, "acct-1", body["account_id"])
		assert.Equal(t, "secret/tg/acct-1", body["credential_ref"])

		assert.Equal(t, model.ActionInvite, fake.gotParams.Purpose)
		assert.Equal(t, 45*time.Minute, fake.gotParams.Timeout)
	})

	t.Run("pool exhaustion is a 200 with a status, not an error", func(t *testing.T) {
		fake := &fakeAllocator{allocErr: apperrors.NoAccountAvailable("invite")}
		h := NewPoolHandler(fake).Routes()

		rec := postJSON(t, h, "/allocate", map[string]any{
			"purpose":      "invite",
			"service_name": "inviter",
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no_account_available", decodeBody(t, rec)["status"])
	})

	t.Run("rejects unknown purpose", func(t *testing.T) {
		h := NewPoolHandler(&fakeAllocator{}).Routes()

		rec := postJSON(t, h, "/allocate", map[string]any{
			"purpose":      "spam",
			"service_name": "inviter",
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("requires a service name", func(t *testing.T) {
		h := NewPoolHandler(&fakeAllocator{}).Routes()

		rec := postJSON(t, h, "/allocate", map[string]any{"purpose": "invite"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPoolHandler_Release(t *testing.T) {
	t.Run("reports merged usage", func(t *testing.T) {
		fake := &fakeAllocator{releaseRes: &allocator.ReleaseResult{
			Account:  &model.Account{ID: "acct-1", UsedInvitesToday: 7},
			Released: true,
		}}
		h := NewPoolHandler(fake).Routes()

		rec := postJSON(t, h, "/release/acct-1", map[string]any{
			"service_name": "inviter",
			"usage_stats":  map[string]any{"invites": 3, "success": true},
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["released"])
		usage := body["updated_usage"].(map[string]any)
		assert.EqualValues(t, 7, usage["used_invites_today"])

		assert.Equal(t, "inviter", fake.gotService)
		assert.Equal(t, 3, fake.gotStats.Invites)
		assert.True(t, fake.gotStats.Success)
	})

	t.Run("unknown account is 404", func(t *testing.T) {
		fake := &fakeAllocator{releaseErr: apperrors.NotFound("account")}
		h := NewPoolHandler(fake).Routes()

		rec := postJSON(t, h, "/release/nope", map[string]any{"service_name": "inviter"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPoolHandler_Health(t *testing.T) {
	fake := &fakeAllocator{health: &model.AccountHealth{
		AccountID: "acct-1",
		IsHealthy: false,
		Status:    model.StatusFloodWait,
		Issues:    []string{"status is flood_wait"},
	}}
	h := NewPoolHandler(fake).Routes()

	req := httptest.NewRequest(http.MethodGet, "/health/acct-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["is_healthy"])
	assert.Equal(t, "flood_wait", body["status"])
}

func TestPoolHandler_RecoveryStats(t *testing.T) {
	h := NewPoolHandler(&fakeAllocator{}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/stats/recovery", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["total"])
}
