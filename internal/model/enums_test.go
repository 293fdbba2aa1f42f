package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionType(t *testing.T) {
	for _, valid := range []string{"invite", "message", "contact"} {
		action, err := ParseActionType(valid)
		require.NoError(t, err)
		assert.Equal(t, ActionType(valid), action)
	}

	for _, invalid := range []string{"", "spam", "INVITE", "invites"} {
		_, err := ParseActionType(invalid)
		assert.Error(t, err, "%q must be rejected", invalid)
	}
}

func TestOutcome_Terminal(t *testing.T) {
	terminal := []Outcome{
		OutcomeSuccess, OutcomeTargetNotFound, OutcomePrivacyRestricted,
		OutcomeNotMutualContact, OutcomeAccountBanned,
	}
	for _, o := range terminal {
		assert.True(t, o.Terminal(), "%s is final for the target", o)
	}

	retryable := []Outcome{
		OutcomeFailed, OutcomeRateLimited, OutcomeInProgress,
		OutcomeFloodWait, OutcomePeerFlood,
	}
	for _, o := range retryable {
		assert.False(t, o.Terminal(), "%s may change on retry", o)
	}
}

func TestOutcome_AccountFault(t *testing.T) {
	assert.True(t, OutcomeFloodWait.AccountFault())
	assert.True(t, OutcomePeerFlood.AccountFault())
	assert.True(t, OutcomeAccountBanned.AccountFault())

	assert.False(t, OutcomeTargetNotFound.AccountFault())
	assert.False(t, OutcomePrivacyRestricted.AccountFault())
	assert.False(t, OutcomeRateLimited.AccountFault())
	assert.False(t, OutcomeSuccess.AccountFault())
}
