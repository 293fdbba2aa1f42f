package rpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sendpool/account-manager-go/internal/config"
)

// TokenSource maintains a short-lived HS256 bearer token for one service,
// refreshed proactively a fixed margin before expiry rather than reactively
// on every call. There is a single signing authority: the shared service
// token secret.
type TokenSource struct {
	mu          sync.Mutex
	serviceName string
	secret      []byte
	ttl         time.Duration
	margin      time.Duration

	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewTokenSource(serviceName, secret string, ttl time.Duration) *TokenSource {
	return &TokenSource{
		serviceName: serviceName,
		secret:      []byte(secret),
		ttl:         ttl,
		margin:      config.TokenRefreshMargin,
		now:         time.Now,
	}
}

func (ts *TokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.token != "" && now.Before(ts.expiresAt.Add(-ts.margin)) {
		return ts.token, nil
	}

	expiresAt := now.Add(ts.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   ts.serviceName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}

	ts.token = signed
	ts.expiresAt = expiresAt
	return signed, nil
}

// Invalidate drops the cached token so the next call mints a fresh one.
// Called after a 401/403 from a peer.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = ""
	ts.expiresAt = time.Time{}
}
