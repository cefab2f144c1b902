package user

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account with its full private profile.
type User struct {
	ID           string    `json:"id"`
	Account      string    `json:"account"`
	Username     string    `json:"username"`
	AvatarURL    string    `json:"avatar_url"`
	Gender       int       `json:"gender"`
	Phone        string    `json:"phone"`
	Email        string    `json:"email"`
	Profile      string    `json:"profile"`
	PasswordHash string    `json:"-"`
	Tags         []string  `json:"tags"`
	Role         string    `json:"role"`
	AddCount     int64     `json:"add_count"`
	FriendIDs    []string  `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Public is the desensitized view of a user that may leave the service.
type Public struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url"`
	Gender    int       `json:"gender"`
	Email     string    `json:"email"`
	Profile   string    `json:"profile"`
	Tags      []string  `json:"tags"`
	Role      string    `json:"role"`
	AddCount  int64     `json:"add_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Public strips the password hash, phone number and friend list.
func (u *User) Public() Public {
	tags := u.Tags
	if tags == nil {
		tags = []string{}
	}
	return Public{
		ID:        u.ID,
		Account:   u.Account,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Gender:    u.Gender,
		Email:     u.Email,
		Profile:   u.Profile,
		Tags:      tags,
		Role:      u.Role,
		AddCount:  u.AddCount,
		CreatedAt: u.CreatedAt,
	}
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Candidate is the minimal projection streamed to the matcher.
type Candidate struct {
	ID   string
	Tags []string
}

// CreateUserInput holds the fields required to create a new user.
type CreateUserInput struct {
	Account  string   `json:"account"`
	Password string   `json:"password"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Tags     []string `json:"tags"`
	Role     string   `json:"role"`
}

// UpdateUserInput holds optional fields for a partial profile update.
type UpdateUserInput struct {
	Username  *string `json:"username,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Gender    *int    `json:"gender,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Email     *string `json:"email,omitempty"`
	Profile   *string `json:"profile,omitempty"`
	Password  *string `json:"password,omitempty"`
}

// RegisterInput is the self-service sign-up request.
type RegisterInput struct {
	Account       string `json:"account"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	CheckPassword string `json:"check_password"`
}

// HotTags pairs the caller's own tags with popular tags they lack.
type HotTags struct {
	Mine    []string `json:"mine"`
	Popular []string `json:"popular"`
}

// Session represents an active user session.
type Session struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
