package model

import "fmt"

type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusFloodWait AccountStatus = "flood_wait"
	StatusBlocked   AccountStatus = "blocked"
	StatusDisabled  AccountStatus = "disabled"
)

type ActionType string

const (
	ActionInvite  ActionType = "invite"
	ActionMessage ActionType = "message"
	ActionContact ActionType = "contact"
)

// ParseActionType validates a caller-supplied action type. Unknown values
// are a caller-input error, never silently recorded.
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(s) {
	case ActionInvite, ActionMessage, ActionContact:
		return ActionType(s), nil
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeFailed            Outcome = "failed"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeInProgress        Outcome = "in_progress"
	OutcomeFloodWait         Outcome = "flood_wait"
	OutcomeAccountBanned     Outcome = "account_banned"
	OutcomeTargetNotFound    Outcome = "target_not_found"
	OutcomePrivacyRestricted Outcome = "privacy_restricted"
	OutcomePeerFlood         Outcome = "peer_flood"
	OutcomeNotMutualContact  Outcome = "not_mutual_contact"
)

// Terminal reports whether the outcome is final for the target: retrying the
// same target with the same account cannot change it.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeTargetNotFound, OutcomePrivacyRestricted,
		OutcomeNotMutualContact, OutcomeAccountBanned:
		return true
	}
	return false
}

// AccountFault reports whether the outcome is held against the account
// rather than the target.
func (o Outcome) AccountFault() bool {
	switch o {
	case OutcomeFloodWait, OutcomePeerFlood, OutcomeAccountBanned:
		return true
	}
	return false
}
