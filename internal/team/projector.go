package team

import (
	"context"

	"github.com/alecgard/huddle/internal/apperr"
	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/user"
	"golang.org/x/sync/errgroup"
)

var ErrPrivateListing = apperr.New(apperr.Unauthorized, "only admins may list private teams")

// TeamLister is the read side of the team store. *Store implements it.
type TeamLister interface {
	List(ctx context.Context, f Filter) ([]*Team, error)
	MembersOf(ctx context.Context, teamIDs []string) (map[string][]Membership, error)
	TeamIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// UserLookup resolves user ids to profiles. *user.Store implements it.
type UserLookup interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*user.User, error)
}

// Projector builds the read-only team views returned to callers. Member
// profiles are always desensitized.
type Projector struct {
	teams TeamLister
	users UserLookup
}

// NewProjector creates a Projector.
func NewProjector(teams TeamLister, users UserLookup) *Projector {
	return &Projector{teams: teams, users: users}
}

// Query lists unexpired teams matching f. Private teams are only listed for
// admins who ask for them by status.
func (p *Projector) Query(ctx context.Context, caller *auth.User, f Filter) ([]View, error) {
	f.IncludePrivate = false
	if f.Status != nil {
		if !f.Status.Valid() {
			return nil, ErrStatusInvalid
		}
		if *f.Status == StatusPrivate && !caller.IsAdmin() {
			return nil, ErrPrivateListing
		}
	}
	return p.project(ctx, caller, f)
}

// Get returns a single unexpired team by id, whatever its status.
func (p *Projector) Get(ctx context.Context, caller *auth.User, id string) (*View, error) {
	views, err := p.project(ctx, caller, Filter{ID: id, IncludePrivate: true})
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrTeamNotFound
	}
	return &views[0], nil
}

// ListCreated lists the unexpired teams the caller owns.
func (p *Projector) ListCreated(ctx context.Context, caller *auth.User) ([]View, error) {
	return p.project(ctx, caller, Filter{OwnerID: caller.ID, IncludePrivate: true})
}

// ListJoined lists the unexpired teams the caller belongs to, owned ones
// included.
func (p *Projector) ListJoined(ctx context.Context, caller *auth.User) ([]View, error) {
	ids, err := p.teams.TeamIDsForUser(ctx, caller.ID)
	if err != nil {
		return nil, apperr.System("failed to list teams", err)
	}
	if len(ids) == 0 {
		return []View{}, nil
	}
	return p.project(ctx, caller, Filter{IDs: ids, IncludePrivate: true})
}

func (p *Projector) project(ctx context.Context, caller *auth.User, f Filter) ([]View, error) {
	teams, err := p.teams.List(ctx, f)
	if err != nil {
		return nil, apperr.System("failed to list teams", err)
	}
	if len(teams) == 0 {
		return []View{}, nil
	}

	teamIDs := make([]string, len(teams))
	ownerIDs := make([]string, 0, len(teams))
	for i, t := range teams {
		teamIDs[i] = t.ID
		ownerIDs = append(ownerIDs, t.OwnerID)
	}

	var memberships map[string][]Membership
	var owners map[string]*user.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		memberships, err = p.teams.MembersOf(gctx, teamIDs)
		return err
	})
	g.Go(func() error {
		var err error
		owners, err = p.users.GetByIDs(gctx, ownerIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperr.System("failed to load team members", err)
	}

	seen := map[string]bool{}
	var memberIDs []string
	for _, ms := range memberships {
		for _, m := range ms {
			if !seen[m.UserID] {
				seen[m.UserID] = true
				memberIDs = append(memberIDs, m.UserID)
			}
		}
	}
	members, err := p.users.GetByIDs(ctx, memberIDs)
	if err != nil {
		return nil, apperr.System("failed to load team members", err)
	}

	views := make([]View, 0, len(teams))
	for _, t := range teams {
		v := View{Team: t, Members: []user.Public{}}
		for _, m := range memberships[t.ID] {
			if caller != nil && m.UserID == caller.ID {
				v.HasJoined = true
			}
			if u, ok := members[m.UserID]; ok {
				v.Members = append(v.Members, u.Public())
			}
		}
		v.MemberCount = len(memberships[t.ID])
		if o, ok := owners[t.OwnerID]; ok {
			pub := o.Public()
			v.Owner = &pub
			v.OwnerUsername = o.Username
			v.OwnerAvatarURL = o.AvatarURL
		}
		views = append(views, v)
	}
	return views, nil
}
