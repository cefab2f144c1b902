package activity

import "time"

// Actions recorded against a team.
const (
	ActionCreate   = "create"
	ActionJoin     = "join"
	ActionQuit     = "quit"
	ActionTransfer = "transfer"
	ActionDisband  = "disband"
	ActionUpdate   = "update"
)

// Event is one entry in a team's activity log.
type Event struct {
	ID         int64     `json:"id"`
	TeamID     string    `json:"team_id"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Query selects a page of a team's events, newest first.
type Query struct {
	TeamID string `json:"team_id"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit"`
}
