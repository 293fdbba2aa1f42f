// Package platform defines the capability boundary to the external messaging
// platform. The adapter accepts a credential reference and a target and
// returns a raw outcome code; classification into the closed result taxonomy
// happens in the executor, not here.
package platform

import (
	"context"

	"github.com/sendpool/account-manager-go/internal/model"
)

// Raw outcome codes reported by the platform side of the adapter.
const (
	CodeOK                = "ok"
	CodeFloodWait         = "flood_wait"
	CodePeerFlood         = "peer_flood"
	CodeRateLimited       = "rate_limited"
	CodeInProgress        = "in_progress"
	CodeBanned            = "banned"
	CodeDeactivated       = "deactivated"
	CodeAuthKeyInvalid    = "auth_key_invalid"
	CodeTargetNotFound    = "target_not_found"
	CodePrivacyRestricted = "privacy_restricted"
	CodeNotMutualContact  = "not_mutual_contact"
)

type SendRequest struct {
	CredentialRef string           `json:"credentialRef"`
	Action        model.ActionType `json:"action"`
	Target        string           `json:"target"`
	Payload       string           `json:"payload"`
	Channel       string           `json:"channel,omitempty"`
}

type RawOutcome struct {
	Code           string `json:"code"`
	Message        string `json:"message,omitempty"`
	PenaltySeconds int    `json:"penaltySeconds,omitempty"`
}

// Adapter performs one outbound action. A non-nil error means transport
// failure (timeout, connection refused); platform-level refusals come back
// as a RawOutcome with the corresponding code.
type Adapter interface {
	Send(ctx context.Context, req SendRequest) (*RawOutcome, error)
}
