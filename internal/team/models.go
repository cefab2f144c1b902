package team

import (
	"fmt"
	"time"

	"github.com/alecgard/huddle/internal/user"
)

// Status controls who may join a team.
type Status int

const (
	StatusPublic  Status = 0
	StatusPrivate Status = 1
	StatusSecret  Status = 2
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s >= StatusPublic && s <= StatusSecret
}

func (s Status) String() string {
	switch s {
	case StatusPublic:
		return "public"
	case StatusPrivate:
		return "private"
	case StatusSecret:
		return "secret"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Team is a bounded-capacity group owned by one user.
type Team struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	MaxNum       int        `json:"max_num"`
	OwnerID      string     `json:"owner_id"`
	Status       Status     `json:"status"`
	PasswordHash string     `json:"-"`
	ExpireAt     *time.Time `json:"expire_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Expired reports whether the team's expiry has passed at now. Teams without
// an expiry never expire.
func (t *Team) Expired(now time.Time) bool {
	return t.ExpireAt != nil && !t.ExpireAt.After(now)
}

// Membership links a user to a team. ID increases with insertion order and
// breaks ties between equal join times.
type Membership struct {
	ID       int64     `json:"id"`
	TeamID   string    `json:"team_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// CreateTeamInput is the request to create a team.
type CreateTeamInput struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	MaxNum      int        `json:"max_num"`
	Status      Status     `json:"status"`
	Password    string     `json:"password"`
	ExpireAt    *time.Time `json:"expire_at"`
}

// UpdateTeamInput holds optional fields for a partial team update.
type UpdateTeamInput struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	MaxNum      *int       `json:"max_num,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Password    *string    `json:"password,omitempty"`
	ExpireAt    *time.Time `json:"expire_at,omitempty"`
}

// NewTeam is a validated team ready to be persisted together with its
// owner's membership.
type NewTeam struct {
	Name         string
	Description  string
	MaxNum       int
	OwnerID      string
	Status       Status
	PasswordHash string
	ExpireAt     *time.Time
}

// Changes is a validated partial update. A non-nil empty PasswordHash clears
// the stored password.
type Changes struct {
	Name         *string
	Description  *string
	MaxNum       *int
	Status       *Status
	PasswordHash *string
	ExpireAt     *time.Time
}

// Filter selects teams for listing. Zero-valued fields do not constrain the
// result. Expired teams are never returned.
type Filter struct {
	ID          string   `json:"id,omitempty"`
	IDs         []string `json:"ids,omitempty"`
	OwnerID     string   `json:"owner_id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	SearchText  string   `json:"search_text,omitempty"`
	Status      *Status  `json:"status,omitempty"`
	MaxNum      int      `json:"max_num,omitempty"`

	// IncludePrivate lifts the public-listing restriction. Set only for the
	// caller's own created and joined teams.
	IncludePrivate bool `json:"-"`
}

// View is a team as shown to a caller: its members resolved to public
// profiles and whether the caller belongs to it.
type View struct {
	*Team
	Owner          *user.Public  `json:"owner,omitempty"`
	OwnerUsername  string        `json:"owner_username"`
	OwnerAvatarURL string        `json:"owner_avatar_url"`
	Members        []user.Public `json:"members"`
	MemberCount    int           `json:"member_count"`
	HasJoined      bool          `json:"has_joined"`
}
