// Package team implements team creation and the admission rules that govern
// joining, quitting and disbanding teams under concurrent requests.
package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alecgard/huddle/internal/activity"
	"github.com/alecgard/huddle/internal/apperr"
	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/lock"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// Limits enforced on every team and user.
const (
	MaxNameLen        = 20
	MaxDescriptionLen = 512
	MaxMembers        = 20
	MaxPasswordLen    = 32
	MaxOwnedTeams     = 5
	MaxJoinedTeams    = 5
)

// Lock scopes for admission critical sections.
const (
	ScopeTeam   = "team"
	ScopeGlobal = "global"
)

var (
	ErrNameInvalid        = apperr.New(apperr.InvalidArgument, fmt.Sprintf("team name must be 1 to %d characters", MaxNameLen))
	ErrDescriptionTooLong = apperr.New(apperr.InvalidArgument, fmt.Sprintf("description must be at most %d characters", MaxDescriptionLen))
	ErrMaxNumInvalid      = apperr.New(apperr.InvalidArgument, fmt.Sprintf("max_num must be between 1 and %d", MaxMembers))
	ErrStatusInvalid      = apperr.New(apperr.InvalidArgument, "status must be 0 (public), 1 (private) or 2 (secret)")
	ErrPasswordInvalid    = apperr.New(apperr.InvalidArgument, fmt.Sprintf("secret teams need a password of 1 to %d characters", MaxPasswordLen))
	ErrExpireInPast       = apperr.New(apperr.InvalidArgument, "expire_at must be in the future")
	ErrNoChanges          = apperr.New(apperr.InvalidArgument, "no fields to update")
	ErrMaxBelowMembers    = apperr.New(apperr.InvalidArgument, "max_num cannot be below the current member count")
	ErrTeamNotFound       = apperr.New(apperr.NotFound, "team not found")
	ErrNotMember          = apperr.New(apperr.NotFound, "you are not a member of this team")
	ErrTeamExpired        = apperr.New(apperr.Expired, "team has expired")
	ErrTeamPrivate        = apperr.New(apperr.Conflict, "private teams cannot be joined")
	ErrPasswordRequired   = apperr.New(apperr.Conflict, "a password is required to join this team")
	ErrWrongPassword      = apperr.New(apperr.Conflict, "incorrect team password")
	ErrAlreadyMember      = apperr.New(apperr.Conflict, "already a member of this team")
	ErrTeamFull           = apperr.New(apperr.Conflict, "team is full")
	ErrJoinLimit          = apperr.New(apperr.Conflict, fmt.Sprintf("a user may belong to at most %d teams", MaxJoinedTeams))
	ErrOwnLimit           = apperr.New(apperr.Conflict, fmt.Sprintf("a user may own at most %d active teams", MaxOwnedTeams))
	ErrNotOwner           = apperr.New(apperr.Unauthorized, "only the team owner or an admin may do this")
)

// Repository is the persistence the admission controller depends on.
// *Store implements it.
type Repository interface {
	Create(ctx context.Context, in NewTeam) (*Team, error)
	GetByID(ctx context.Context, id string) (*Team, error)
	CountOwnedActive(ctx context.Context, ownerID string) (int, error)
	CountMemberships(ctx context.Context, userID string) (int, error)
	CountMembers(ctx context.Context, teamID string) (int, error)
	IsMember(ctx context.Context, teamID, userID string) (bool, error)
	AddMember(ctx context.Context, teamID, userID string) (*Membership, error)
	Members(ctx context.Context, teamID string) ([]Membership, error)
	RemoveMember(ctx context.Context, teamID, userID string) error
	TransferAndRemove(ctx context.Context, teamID, newOwnerID, leavingUserID string) error
	Delete(ctx context.Context, teamID string) error
	Update(ctx context.Context, id string, c Changes) (*Team, error)
}

// Locker takes a set of leases in order. *lock.Locker implements it.
type Locker interface {
	AcquireAll(ctx context.Context, keys ...string) ([]*lock.Lease, error)
}

// ActivityRecorder receives team activity events. *activity.Collector
// implements it.
type ActivityRecorder interface {
	Record(ev activity.Event)
}

// MetricsRecorder is an optional interface for admission outcomes.
type MetricsRecorder interface {
	IncAdmission(op, outcome string)
}

// Service is the team admission controller.
type Service struct {
	store    Repository
	locker   Locker
	scope    string
	logger   *slog.Logger
	metrics  MetricsRecorder
	activity ActivityRecorder
	now      func() time.Time
}

// NewService creates a Service. scope selects per-user/per-team leases
// (ScopeTeam, the default) or one lease for every admission (ScopeGlobal).
func NewService(store Repository, locker Locker, scope string, logger *slog.Logger) *Service {
	if scope != ScopeGlobal {
		scope = ScopeTeam
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		locker: locker,
		scope:  scope,
		logger: logger,
		now:    time.Now,
	}
}

// SetMetrics sets the optional metrics recorder.
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// SetActivity sets the optional activity log.
func (s *Service) SetActivity(r ActivityRecorder) {
	s.activity = r
}

// Create validates the input and creates a team owned by the caller, who
// becomes its first member.
func (s *Service) Create(ctx context.Context, caller *auth.User, in CreateTeamInput) (t *Team, err error) {
	defer s.observe("create", &err)

	name := strings.TrimSpace(in.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLen {
		return nil, ErrDescriptionTooLong
	}
	if in.MaxNum < 1 || in.MaxNum > MaxMembers {
		return nil, ErrMaxNumInvalid
	}
	if !in.Status.Valid() {
		return nil, ErrStatusInvalid
	}
	if in.ExpireAt != nil && !in.ExpireAt.After(s.now()) {
		return nil, ErrExpireInPast
	}

	var hash string
	if in.Status == StatusSecret {
		if hash, err = hashPassword(in.Password); err != nil {
			return nil, err
		}
	}

	err = s.locked(ctx, s.keys(caller.ID, ""), func() error {
		owned, err := s.store.CountOwnedActive(ctx, caller.ID)
		if err != nil {
			return apperr.System("failed to create team", err)
		}
		if owned >= MaxOwnedTeams {
			return ErrOwnLimit
		}
		joined, err := s.store.CountMemberships(ctx, caller.ID)
		if err != nil {
			return apperr.System("failed to create team", err)
		}
		if joined >= MaxJoinedTeams {
			return ErrJoinLimit
		}

		t, err = s.store.Create(ctx, NewTeam{
			Name:         name,
			Description:  in.Description,
			MaxNum:       in.MaxNum,
			OwnerID:      caller.ID,
			Status:       in.Status,
			PasswordHash: hash,
			ExpireAt:     in.ExpireAt,
		})
		if err != nil {
			return apperr.System("failed to create team", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(t.ID, caller.ID, activity.ActionCreate, "")
	return t, nil
}

// Join admits the caller to a team. Every precondition is checked and the
// membership inserted while holding the caller's and the team's leases;
// expiry, visibility and password are also checked up front so hopeless
// requests never wait for a lease.
func (s *Service) Join(ctx context.Context, caller *auth.User, teamID, password string) (err error) {
	defer s.observe("join", &err)

	t, err := s.getTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if err := s.checkAdmittable(t, password); err != nil {
		return err
	}

	err = s.locked(ctx, s.keys(caller.ID, teamID), func() error {
		// Re-read under the lease: an update may have changed expiry,
		// status, password or max_num since the checks above.
		t, err := s.getTeam(ctx, teamID)
		if err != nil {
			return err
		}
		if err := s.checkAdmittable(t, password); err != nil {
			return err
		}

		member, err := s.store.IsMember(ctx, teamID, caller.ID)
		if err != nil {
			return apperr.System("failed to join team", err)
		}
		if member {
			return ErrAlreadyMember
		}

		joined, err := s.store.CountMemberships(ctx, caller.ID)
		if err != nil {
			return apperr.System("failed to join team", err)
		}
		if joined >= MaxJoinedTeams {
			return ErrJoinLimit
		}

		count, err := s.store.CountMembers(ctx, teamID)
		if err != nil {
			return apperr.System("failed to join team", err)
		}
		if count >= t.MaxNum {
			return ErrTeamFull
		}

		_, err = s.store.AddMember(ctx, teamID, caller.ID)
		switch {
		case errors.Is(err, ErrDuplicateMembership):
			return ErrAlreadyMember
		case errors.Is(err, pgx.ErrNoRows):
			return ErrTeamNotFound
		case err != nil:
			return apperr.System("failed to join team", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.record(teamID, caller.ID, activity.ActionJoin, "")
	return nil
}

// checkAdmittable reports why t cannot be joined with password, if at all.
func (s *Service) checkAdmittable(t *Team, password string) error {
	if t.Expired(s.now()) {
		return ErrTeamExpired
	}
	switch t.Status {
	case StatusPrivate:
		return ErrTeamPrivate
	case StatusSecret:
		if strings.TrimSpace(password) == "" {
			return ErrPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(t.PasswordHash), []byte(password)) != nil {
			return ErrWrongPassword
		}
	}
	return nil
}

// Quit removes the caller from a team. The last member leaving deletes the
// team; an owner leaving hands the team to the earliest-joined remaining
// member.
func (s *Service) Quit(ctx context.Context, caller *auth.User, teamID string) (err error) {
	defer s.observe("quit", &err)

	if _, err := s.getTeam(ctx, teamID); err != nil {
		return err
	}

	var successor string
	var deleted bool
	err = s.locked(ctx, s.keys("", teamID), func() error {
		t, err := s.getTeam(ctx, teamID)
		if err != nil {
			return err
		}
		members, err := s.store.Members(ctx, teamID)
		if err != nil {
			return apperr.System("failed to quit team", err)
		}

		remaining := make([]Membership, 0, len(members))
		found := false
		for _, m := range members {
			if m.UserID == caller.ID {
				found = true
				continue
			}
			remaining = append(remaining, m)
		}
		if !found {
			return ErrNotMember
		}

		switch {
		case len(remaining) == 0:
			deleted = true
			err = s.store.Delete(ctx, teamID)
		case t.OwnerID == caller.ID:
			// Members are in join order, ties broken by membership id.
			successor = remaining[0].UserID
			err = s.store.TransferAndRemove(ctx, teamID, successor, caller.ID)
		default:
			err = s.store.RemoveMember(ctx, teamID, caller.ID)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotMember
		}
		if err != nil {
			return apperr.System("failed to quit team", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case deleted:
		s.record(teamID, caller.ID, activity.ActionQuit, "last member left; team deleted")
	case successor != "":
		s.record(teamID, caller.ID, activity.ActionQuit, "")
		s.record(teamID, successor, activity.ActionTransfer, "ownership from "+caller.ID)
	default:
		s.record(teamID, caller.ID, activity.ActionQuit, "")
	}
	return nil
}

// Disband deletes a team and every membership. Only the owner or an admin
// may disband.
func (s *Service) Disband(ctx context.Context, caller *auth.User, teamID string) (err error) {
	defer s.observe("disband", &err)

	t, err := s.getTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if t.OwnerID != caller.ID && !caller.IsAdmin() {
		return ErrNotOwner
	}

	err = s.locked(ctx, s.keys("", teamID), func() error {
		err := s.store.Delete(ctx, teamID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTeamNotFound
		}
		if err != nil {
			return apperr.System("failed to disband team", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.record(teamID, caller.ID, activity.ActionDisband, "")
	return nil
}

// Update applies a partial update. Only the owner or an admin may update.
// Moving to secret requires a password unless the team already has one;
// moving to public clears it.
func (s *Service) Update(ctx context.Context, caller *auth.User, teamID string, in UpdateTeamInput) (updated *Team, err error) {
	defer s.observe("update", &err)

	t, err := s.getTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != caller.ID && !caller.IsAdmin() {
		return nil, ErrNotOwner
	}

	c, err := s.validateChanges(in)
	if err != nil {
		return nil, err
	}

	err = s.locked(ctx, s.keys("", teamID), func() error {
		cur, err := s.getTeam(ctx, teamID)
		if err != nil {
			return err
		}

		if c.MaxNum != nil {
			count, err := s.store.CountMembers(ctx, teamID)
			if err != nil {
				return apperr.System("failed to update team", err)
			}
			if *c.MaxNum < count {
				return ErrMaxBelowMembers
			}
		}

		status := cur.Status
		if c.Status != nil {
			status = *c.Status
		}
		switch status {
		case StatusSecret:
			if in.Password != nil {
				hash, err := hashPassword(*in.Password)
				if err != nil {
					return err
				}
				c.PasswordHash = &hash
			} else if cur.Status != StatusSecret || cur.PasswordHash == "" {
				return ErrPasswordInvalid
			}
		case StatusPublic:
			if cur.PasswordHash != "" {
				empty := ""
				c.PasswordHash = &empty
			}
		}

		updated, err = s.store.Update(ctx, teamID, c)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTeamNotFound
		}
		if err != nil {
			return apperr.System("failed to update team", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(teamID, caller.ID, activity.ActionUpdate, "")
	return updated, nil
}

func (s *Service) validateChanges(in UpdateTeamInput) (Changes, error) {
	if in.Name == nil && in.Description == nil && in.MaxNum == nil &&
		in.Status == nil && in.Password == nil && in.ExpireAt == nil {
		return Changes{}, ErrNoChanges
	}

	var c Changes
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateName(name); err != nil {
			return Changes{}, err
		}
		c.Name = &name
	}
	if in.Description != nil {
		if utf8.RuneCountInString(*in.Description) > MaxDescriptionLen {
			return Changes{}, ErrDescriptionTooLong
		}
		c.Description = in.Description
	}
	if in.MaxNum != nil {
		if *in.MaxNum < 1 || *in.MaxNum > MaxMembers {
			return Changes{}, ErrMaxNumInvalid
		}
		c.MaxNum = in.MaxNum
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return Changes{}, ErrStatusInvalid
		}
		c.Status = in.Status
	}
	if in.ExpireAt != nil {
		if !in.ExpireAt.After(s.now()) {
			return Changes{}, ErrExpireInPast
		}
		c.ExpireAt = in.ExpireAt
	}
	return c, nil
}

// keys returns the lease keys for an admission critical section, user scope
// before team scope so concurrent callers always lock in the same order.
func (s *Service) keys(userID, teamID string) []string {
	if s.scope == ScopeGlobal {
		return []string{"admission:global"}
	}
	var keys []string
	if userID != "" {
		keys = append(keys, "admission:user:"+userID)
	}
	if teamID != "" {
		keys = append(keys, "admission:team:"+teamID)
	}
	return keys
}

// locked runs fn while holding every lease in keys.
func (s *Service) locked(ctx context.Context, keys []string, fn func() error) error {
	leases, err := s.locker.AcquireAll(ctx, keys...)
	if err != nil {
		return apperr.System("operation failed", err)
	}
	defer func() {
		if err := lock.ReleaseAll(context.WithoutCancel(ctx), leases); err != nil {
			s.logger.Warn("releasing admission leases", "keys", keys, "error", err)
		}
	}()
	return fn()
}

func (s *Service) getTeam(ctx context.Context, id string) (*Team, error) {
	t, err := s.store.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, apperr.System("failed to load team", err)
	}
	return t, nil
}

func (s *Service) record(teamID, userID, action, detail string) {
	if s.activity == nil {
		return
	}
	s.activity.Record(activity.Event{
		TeamID:     teamID,
		UserID:     userID,
		Action:     action,
		Detail:     detail,
		OccurredAt: s.now().UTC(),
	})
}

func (s *Service) observe(op string, err *error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if *err != nil {
		outcome = apperr.KindOf(*err).String()
	}
	s.metrics.IncAdmission(op, outcome)
}

func validateName(name string) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > MaxNameLen {
		return ErrNameInvalid
	}
	return nil
}

func hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" || utf8.RuneCountInString(password) > MaxPasswordLen {
		return "", ErrPasswordInvalid
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.System("failed to hash team password", err)
	}
	return string(hash), nil
}
