package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"

	"github.com/alecgard/huddle/internal/apperr"
	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/tags"
	"github.com/jackc/pgx/v5"
)

// Validation errors returned by the Service layer.
var (
	ErrAccountInvalid     = apperr.New(apperr.InvalidArgument, "account must be at least 4 characters of letters, digits or underscores")
	ErrPasswordTooShort   = apperr.New(apperr.InvalidArgument, "password must be at least 8 characters")
	ErrPasswordMismatch   = apperr.New(apperr.InvalidArgument, "passwords do not match")
	ErrAccountTaken       = apperr.New(apperr.Conflict, "account already exists")
	ErrBadCredentials     = apperr.New(apperr.Unauthorized, "invalid account or password")
	ErrNotFound           = apperr.New(apperr.NotFound, "user not found")
	ErrForbidden          = apperr.New(apperr.Unauthorized, "you may only modify your own profile")
	ErrNoChanges          = apperr.New(apperr.InvalidArgument, "no fields to update")
	ErrTagsRequired       = apperr.New(apperr.InvalidArgument, "at least one tag is required")
	ErrTooManyTags        = apperr.New(apperr.InvalidArgument, "at most 20 tags are allowed")
	ErrTagTooLong         = apperr.New(apperr.InvalidArgument, "tags must be at most 32 characters")
	ErrPageInvalid        = apperr.New(apperr.InvalidArgument, "page_size must be 1..50 and page_num at least 1")
	ErrCacheInvalidation  = apperr.New(apperr.SystemError, "profile updated but cached results could not be cleared")
	ErrUsernameTooLong    = apperr.New(apperr.InvalidArgument, "username must be at most 32 characters")
	ErrProfileTooLong     = apperr.New(apperr.InvalidArgument, "profile must be at most 512 characters")
	ErrGenderInvalid      = apperr.New(apperr.InvalidArgument, "gender must be 0, 1 or 2")
	ErrNewPasswordTooWeak = apperr.New(apperr.InvalidArgument, "new password must be at least 8 characters")
)

const (
	minAccountLen  = 4
	minPasswordLen = 8
	maxTags        = 20
	maxTagLen      = 32
	maxPageSize    = 50
	hotTagLimit    = 20
	defaultTag     = "newbie"
)

var accountPattern = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)

// Repository is the persistence the Service depends on. *Store implements it.
type Repository interface {
	Create(ctx context.Context, in CreateUserInput) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByAccount(ctx context.Context, account string) (*User, error)
	Update(ctx context.Context, id string, in UpdateUserInput) (*User, error)
	UpdateTags(ctx context.Context, id string, set []string) (*User, error)
	SearchByTags(ctx context.Context, want []string, limit, offset int) ([]*User, error)
	EachTagged(ctx context.Context, excludeID string, fn func(Candidate) error) error
	CreateSession(ctx context.Context, userID string) (string, *Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Invalidator drops cached results derived from a user's profile.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Service provides validated account and profile operations.
type Service struct {
	store  Repository
	cache  Invalidator
	logger *slog.Logger
}

// NewService creates a new Service.
func NewService(store Repository, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// Register creates an account with a generated username and the default tag.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	account := strings.TrimSpace(in.Account)
	if len([]rune(account)) < minAccountLen || !accountPattern.MatchString(account) {
		return nil, ErrAccountInvalid
	}
	if len(in.Password) < minPasswordLen {
		return nil, ErrPasswordTooShort
	}
	if in.Password != in.CheckPassword {
		return nil, ErrPasswordMismatch
	}

	if _, err := s.store.GetByAccount(ctx, account); err == nil {
		return nil, ErrAccountTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.System("registration failed", err)
	}

	username, err := defaultUsername()
	if err != nil {
		return nil, apperr.System("registration failed", err)
	}

	u, err := s.store.Create(ctx, CreateUserInput{
		Account:  account,
		Password: in.Password,
		Username: username,
		Email:    strings.TrimSpace(in.Email),
		Tags:     []string{defaultTag},
	})
	if errors.Is(err, ErrDuplicateAccount) {
		return nil, ErrAccountTaken
	}
	if err != nil {
		return nil, apperr.System("registration failed", err)
	}
	return u, nil
}

// Login checks credentials and opens a session. It returns the plaintext
// session token.
func (s *Service) Login(ctx context.Context, account, password string) (string, *User, error) {
	u, err := s.store.GetByAccount(ctx, strings.TrimSpace(account))
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrBadCredentials
	}
	if err != nil {
		return "", nil, apperr.System("login failed", err)
	}
	if !CheckPassword(u, password) {
		return "", nil, ErrBadCredentials
	}

	token, _, err := s.store.CreateSession(ctx, u.ID)
	if err != nil {
		return "", nil, apperr.System("failed to create session", err)
	}
	return token, u, nil
}

// Logout ends the session for token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return apperr.System("logout failed", err)
	}
	return nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.store.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.System("failed to load user", err)
	}
	return u, nil
}

// UpdateProfile applies a partial profile update. Non-admins may only update
// themselves. Cached match and recommendation results for the user are
// dropped afterwards.
func (s *Service) UpdateProfile(ctx context.Context, caller *auth.User, id string, in UpdateUserInput) (*User, error) {
	if err := authorizeSelf(caller, id); err != nil {
		return nil, err
	}
	if err := validateUpdate(in); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	u, err := s.store.Update(ctx, id, in)
	if err != nil {
		return nil, apperr.System("failed to update user", err)
	}
	if err := s.invalidate(ctx, id); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateTags replaces the user's tag set after trimming and de-duplicating.
func (s *Service) UpdateTags(ctx context.Context, caller *auth.User, id string, set []string) (*User, error) {
	if err := authorizeSelf(caller, id); err != nil {
		return nil, err
	}
	set = tags.Normalize(set)
	if err := validateTags(set); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	u, err := s.store.UpdateTags(ctx, id, set)
	if err != nil {
		return nil, apperr.System("failed to update tags", err)
	}
	if err := s.invalidate(ctx, id); err != nil {
		return nil, err
	}
	return u, nil
}

// SearchByTags pages through users carrying every tag in want.
func (s *Service) SearchByTags(ctx context.Context, want []string, pageSize, pageNum int) ([]Public, error) {
	want = tags.Normalize(want)
	if len(want) == 0 {
		return nil, ErrTagsRequired
	}
	if pageSize < 1 || pageSize > maxPageSize || pageNum < 1 {
		return nil, ErrPageInvalid
	}

	users, err := s.store.SearchByTags(ctx, want, pageSize, (pageNum-1)*pageSize)
	if err != nil {
		return nil, apperr.System("search failed", err)
	}
	out := make([]Public, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return out, nil
}

// HotTags returns the caller's tags together with up to 20 of the most
// widely used tags the caller does not have yet.
func (s *Service) HotTags(ctx context.Context, callerID string) (*HotTags, error) {
	me, err := s.Get(ctx, callerID)
	if err != nil {
		return nil, err
	}

	counter := tags.NewCounter()
	err = s.store.EachTagged(ctx, "", func(c Candidate) error {
		counter.Add(c.Tags)
		return nil
	})
	if err != nil {
		return nil, apperr.System("failed to count tags", err)
	}

	mine := me.Tags
	if mine == nil {
		mine = []string{}
	}
	return &HotTags{
		Mine:    mine,
		Popular: counter.Top(hotTagLimit, mine),
	}, nil
}

func (s *Service) invalidate(ctx context.Context, id string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Error("cache invalidation failed", "user_id", id, "error", err)
		return apperr.Wrap(apperr.SystemError, ErrCacheInvalidation.Message, err)
	}
	return nil
}

func authorizeSelf(caller *auth.User, id string) error {
	if caller == nil {
		return ErrForbidden
	}
	if caller.ID != id && !caller.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func validateUpdate(in UpdateUserInput) error {
	if in == (UpdateUserInput{}) {
		return ErrNoChanges
	}
	if in.Username != nil && len([]rune(*in.Username)) > 32 {
		return ErrUsernameTooLong
	}
	if in.Profile != nil && len([]rune(*in.Profile)) > 512 {
		return ErrProfileTooLong
	}
	if in.Gender != nil && (*in.Gender < 0 || *in.Gender > 2) {
		return ErrGenderInvalid
	}
	if in.Password != nil && len(*in.Password) < minPasswordLen {
		return ErrNewPasswordTooWeak
	}
	return nil
}

func validateTags(set []string) error {
	if len(set) == 0 {
		return ErrTagsRequired
	}
	if len(set) > maxTags {
		return ErrTooManyTags
	}
	for _, t := range set {
		if len([]rune(t)) > maxTagLen {
			return ErrTagTooLong
		}
	}
	return nil
}

func defaultUsername() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating username: %w", err)
	}
	return fmt.Sprintf("user%06d", n.Int64()), nil
}
