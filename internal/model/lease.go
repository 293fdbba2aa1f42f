package model

import "time"

// Lease is a time-bounded exclusive grant of one account to one caller.
// The account row's lock fields are the source of truth; the lease struct is
// the metadata handed back to the holder.
type Lease struct {
	LeaseID       string     `json:"leaseId"`
	AccountID     string     `json:"accountId"`
	Handle        string     `json:"handle"`
	CredentialRef string     `json:"credentialRef"`
	Purpose       ActionType `json:"purpose"`
	HolderService string     `json:"holderService"`
	GrantedAt     time.Time  `json:"grantedAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
}

type AllocateParams struct {
	UserID      string
	Purpose     ActionType
	ServiceName string
	Timeout     time.Duration
}

// UsageStats is reported by the holder at release time and merged into the
// account's cumulative daily counters.
type UsageStats struct {
	Invites       int           `json:"invites"`
	Messages      int           `json:"messages"`
	Contacts      int           `json:"contacts"`
	ChannelCounts ChannelCounts `json:"channelCounts,omitempty"`
	Success       bool          `json:"success"`
	ErrorType     string        `json:"errorType,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	PenaltySecs   int           `json:"penaltySeconds,omitempty"`
}
