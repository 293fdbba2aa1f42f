package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ChannelCounts maps a destination channel to the number of invites already
// sent into it today. Stored as JSONB.
type ChannelCounts map[string]int

func (c ChannelCounts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

func (c *ChannelCounts) Scan(src any) error {
	if src == nil {
		*c = ChannelCounts{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ChannelCounts", src)
	}
	return json.Unmarshal(data, c)
}

type Account struct {
	ID            string        `db:"id" json:"id"`
	UserID        string        `db:"user_id" json:"userId"`
	Platform      string        `db:"platform" json:"platform"`
	Handle        string        `db:"handle" json:"handle"`
	CredentialRef string        `db:"credential_ref" json:"-"`
	Status        AccountStatus `db:"status" json:"status"`

	Locked      bool        `db:"locked" json:"locked"`
	LockedBy    *string     `db:"locked_by" json:"lockedBy,omitempty"`
	LockedFor   *ActionType `db:"locked_for" json:"lockedFor,omitempty"`
	LockedUntil *time.Time  `db:"locked_until" json:"lockedUntil,omitempty"`

	UsedInvitesToday  int           `db:"used_invites_today" json:"usedInvitesToday"`
	UsedMessagesToday int           `db:"used_messages_today" json:"usedMessagesToday"`
	ContactsToday     int           `db:"contacts_today" json:"contactsToday"`
	PerChannelInvites ChannelCounts `db:"per_channel_invites" json:"perChannelInvites"`

	FloodWaitUntil *time.Time `db:"flood_wait_until" json:"floodWaitUntil,omitempty"`
	BlockedUntil   *time.Time `db:"blocked_until" json:"blockedUntil,omitempty"`
	LastPenalty    *string    `db:"last_penalty" json:"lastPenalty,omitempty"`
	ErrorCount     int        `db:"error_count" json:"errorCount"`

	LastUsedAt *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
	ResetAt    *time.Time `db:"reset_at" json:"resetAt,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
	DisabledAt *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
}

// UsedFor returns today's usage counter for the given action type.
func (a *Account) UsedFor(action ActionType) int {
	switch action {
	case ActionInvite:
		return a.UsedInvitesToday
	case ActionMessage:
		return a.UsedMessagesToday
	case ActionContact:
		return a.ContactsToday
	}
	return 0
}

// PenaltyActive reports whether any penalty timestamp on the row itself is
// still in the future at the given instant.
func (a *Account) PenaltyActive(now time.Time) bool {
	if a.FloodWaitUntil != nil && a.FloodWaitUntil.After(now) {
		return true
	}
	if a.BlockedUntil != nil && a.BlockedUntil.After(now) {
		return true
	}
	return false
}

type CreateAccountParams struct {
	UserID        string
	Platform      string
	Handle        string
	CredentialRef string
}

type AccountHealth struct {
	AccountID string        `json:"accountId"`
	IsHealthy bool          `json:"isHealthy"`
	Status    AccountStatus `json:"status"`
	Issues    []string      `json:"issues"`
}
