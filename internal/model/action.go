package model

import "time"

// ActionRequest describes one outbound action a worker wants performed with
// a leased account. TaskID identifies the logical task so a retried request
// can be deduplicated against the execution log.
type ActionRequest struct {
	TaskID  string     `json:"taskId"`
	Action  ActionType `json:"action"`
	Target  string     `json:"target"`
	Payload string     `json:"payload"`
	Channel string     `json:"channel,omitempty"`
}

// ActionResult is the classified outcome of one action. Classification is
// total: every adapter outcome maps to exactly one Outcome value, with
// OutcomeFailed as the explicit unknown bucket.
type ActionResult struct {
	Outcome          Outcome `json:"outcome"`
	CanRetry         bool    `json:"canRetry"`
	PenaltySeconds   int     `json:"penaltySeconds,omitempty"`
	Message          string  `json:"message,omitempty"`
	AlreadyCompleted bool    `json:"alreadyCompleted,omitempty"`
}

type ExecutionLog struct {
	ID             string     `db:"id" json:"id"`
	AccountID      string     `db:"account_id" json:"accountId"`
	TaskID         string     `db:"task_id" json:"taskId"`
	ActionType     ActionType `db:"action_type" json:"actionType"`
	Target         string     `db:"target" json:"target"`
	Outcome        Outcome    `db:"outcome" json:"outcome"`
	PenaltySeconds int        `db:"penalty_seconds" json:"penaltySeconds"`
	Detail         string     `db:"detail" json:"detail,omitempty"`
	DurationMs     int64      `db:"duration_ms" json:"durationMs"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

type CreateExecutionLogParams struct {
	AccountID      string
	TaskID         string
	ActionType     ActionType
	Target         string
	Outcome        Outcome
	PenaltySeconds int
	Detail         string
	Duration       time.Duration
}
