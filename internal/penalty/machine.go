// Package penalty translates platform-reported abuse signals into account
// eligibility restrictions. Flood-wait and peer-flood are independent
// overlapping penalty tracks, not a single exclusive state: an account can
// serve a flood-wait cooldown while also being administratively blocked.
package penalty

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sendpool/account-manager-go/internal/audit"
	"github.com/sendpool/account-manager-go/internal/ledger"
	"github.com/sendpool/account-manager-go/internal/model"
	"github.com/sendpool/account-manager-go/internal/repository"
)

// The closed set of error categories the machine knows how to map. Anything
// else is logged and leaves account state untouched: an unclassifiable error
// must never cause a false suspension.
const (
	ErrorFloodWait       = "flood_wait"
	ErrorPeerFlood       = "peer_flood"
	ErrorUserDeactivated = "user_deactivated"
	ErrorAuthKeyInvalid  = "auth_key_invalid"
	ErrorAccountBanned   = "account_banned"
)

type Machine struct {
	accounts  repository.AccountRepository
	ledger    ledger.Ledger
	buffer    time.Duration
	suspendBy time.Duration
	now       func() time.Time
}

func NewMachine(accounts repository.AccountRepository, led ledger.Ledger, floodWaitBuffer, peerFloodSuspension time.Duration) *Machine {
	return &Machine{
		accounts:  accounts,
		ledger:    led,
		buffer:    floodWaitBuffer,
		suspendBy: peerFloodSuspension,
		now:       time.Now,
	}
}

// HandleFloodWait applies a flood-wait penalty for the platform-reported
// duration plus a fixed buffer that absorbs clock skew and platform
// imprecision.
func (m *Machine) HandleFloodWait(ctx context.Context, accountID string, seconds int) error {
	d := time.Duration(seconds)*time.Second + m.buffer
	if err := m.ledger.SetPenalty(ctx, accountID, ledger.PenaltyFloodWait, d); err != nil {
		return err
	}

	until := m.now().Add(d)
	if _, err := m.accounts.SetStatus(ctx, accountID, model.StatusFloodWait, ErrorFloodWait, &until, nil); err != nil {
		return err
	}

	audit.Log(audit.Event{
		Type:      audit.EventFloodWait,
		AccountID: accountID,
		Details:   map[string]interface{}{"seconds": seconds, "until": until.Format(time.RFC3339)},
	})
	return nil
}

// HandlePeerFlood applies the long fixed suspension the platform imposes for
// excessive unsolicited contact.
func (m *Machine) HandlePeerFlood(ctx context.Context, accountID string) error {
	if err := m.ledger.SetPenalty(ctx, accountID, ledger.PenaltyPeerFlood, m.suspendBy); err != nil {
		return err
	}

	until := m.now().Add(m.suspendBy)
	if _, err := m.accounts.SetStatus(ctx, accountID, model.StatusFloodWait, ErrorPeerFlood, &until, nil); err != nil {
		return err
	}

	audit.Log(audit.Event{
		Type:      audit.EventPeerFlood,
		AccountID: accountID,
		Details:   map[string]interface{}{"until": until.Format(time.RFC3339)},
	})
	return nil
}

func (m *Machine) block(ctx context.Context, accountID string) error {
	until := m.now().Add(m.suspendBy)
	if _, err := m.accounts.SetStatus(ctx, accountID, model.StatusBlocked, ErrorAccountBanned, nil, &until); err != nil {
		return err
	}
	audit.Log(audit.Event{Type: audit.EventAccountBlocked, AccountID: accountID})
	return nil
}

func (m *Machine) disable(ctx context.Context, accountID, reason string) error {
	if _, err := m.accounts.Disable(ctx, accountID); err != nil {
		return err
	}
	audit.Log(audit.Event{
		Type:      audit.EventAccountDisabled,
		AccountID: accountID,
		Details:   map[string]interface{}{"reason": reason},
	})
	return nil
}

// HandleError is the generic hook the executor calls after classifying a
// failure. penaltySeconds is only meaningful for flood-wait.
func (m *Machine) HandleError(ctx context.Context, accountID, errorType, message string, penaltySeconds int) error {
	switch errorType {
	case ErrorFloodWait:
		return m.HandleFloodWait(ctx, accountID, penaltySeconds)
	case ErrorPeerFlood:
		return m.HandlePeerFlood(ctx, accountID)
	case ErrorAccountBanned:
		return m.block(ctx, accountID)
	case ErrorUserDeactivated, ErrorAuthKeyInvalid:
		return m.disable(ctx, accountID, errorType)
	}

	log.Warn().
		Str("accountId", accountID).
		Str("errorType", errorType).
		Str("message", message).
		Msg("unclassified account error, leaving state untouched")
	audit.Log(audit.Event{
		Type:      audit.EventUnknownError,
		AccountID: accountID,
		Details:   map[string]interface{}{"error_type": errorType, "message": message},
	})
	return nil
}
