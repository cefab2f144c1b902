package user

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/alecgard/huddle/internal/apperr"
	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/tags"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- fake repository ---

type fakeRepo struct {
	mu       sync.Mutex
	users    map[string]*User
	sessions map[string]string
	nextID   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: map[string]*User{}, sessions: map[string]string{}}
}

func (f *fakeRepo) add(u *User) *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return u
}

func (f *fakeRepo) Create(_ context.Context, in CreateUserInput) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Account == in.Account {
			return nil, ErrDuplicateAccount
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	f.nextID++
	u := &User{
		ID:           fmt.Sprintf("u%d", f.nextID),
		Account:      in.Account,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Tags:         in.Tags,
		Role:         RoleUser,
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("getting user by id: %w", pgx.ErrNoRows)
	}
	return u, nil
}

func (f *fakeRepo) GetByAccount(_ context.Context, account string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Account == account {
			return u, nil
		}
	}
	return nil, fmt.Errorf("getting user by account: %w", pgx.ErrNoRows)
}

func (f *fakeRepo) Update(_ context.Context, id string, in UpdateUserInput) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	if in.Username != nil {
		u.Username = *in.Username
	}
	if in.Profile != nil {
		u.Profile = *in.Profile
	}
	if in.Phone != nil {
		u.Phone = *in.Phone
	}
	return u, nil
}

func (f *fakeRepo) UpdateTags(_ context.Context, id string, set []string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[id]
	u.Tags = set
	return u, nil
}

func (f *fakeRepo) SearchByTags(_ context.Context, want []string, limit, offset int) ([]*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*User
	for _, u := range f.users {
		if tags.ContainsAll(u.Tags, want) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) EachTagged(_ context.Context, excludeID string, fn func(Candidate) error) error {
	f.mu.Lock()
	ids := make([]string, 0, len(f.users))
	for id, u := range f.users {
		if id != excludeID && len(u.Tags) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	cands := make([]Candidate, len(ids))
	for i, id := range ids {
		cands[i] = Candidate{ID: id, Tags: f.users[id].Tags}
	}
	f.mu.Unlock()

	for _, c := range cands {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRepo) CreateSession(_ context.Context, userID string) (string, *Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := "tok-" + userID
	f.sessions[token] = userID
	return token, &Session{UserID: userID}, nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

type fakeInvalidator struct {
	calls []string
	err   error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID string) error {
	f.calls = append(f.calls, userID)
	return f.err
}

// --- tests ---

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		in      RegisterInput
		wantErr error
	}{
		{"ok", RegisterInput{Account: "alice", Password: "password1", CheckPassword: "password1"}, nil},
		{"short account", RegisterInput{Account: "abc", Password: "password1", CheckPassword: "password1"}, ErrAccountInvalid},
		{"special characters", RegisterInput{Account: "al!ce", Password: "password1", CheckPassword: "password1"}, ErrAccountInvalid},
		{"short password", RegisterInput{Account: "alice", Password: "pass", CheckPassword: "pass"}, ErrPasswordTooShort},
		{"mismatch", RegisterInput{Account: "alice", Password: "password1", CheckPassword: "password2"}, ErrPasswordMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newFakeRepo(), nil, nil)
			u, err := svc.Register(context.Background(), tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"newbie"}, u.Tags)
			assert.True(t, strings.HasPrefix(u.Username, "user"))
			assert.Len(t, u.Username, len("user")+6)
			assert.Equal(t, RoleUser, u.Role)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil)
	ctx := context.Background()
	in := RegisterInput{Account: "alice", Password: "password1", CheckPassword: "password1"}

	_, err := svc.Register(ctx, in)
	require.NoError(t, err)

	_, err = svc.Register(ctx, in)
	require.ErrorIs(t, err, ErrAccountTaken)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestLoginLogout(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Account: "alice", Password: "password1", CheckPassword: "password1"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "alice", "wrong-password")
	require.ErrorIs(t, err, ErrBadCredentials)

	_, _, err = svc.Login(ctx, "nobody", "password1")
	require.ErrorIs(t, err, ErrBadCredentials)

	token, u, err := svc.Login(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Account)
	assert.Contains(t, repo.sessions, token)

	require.NoError(t, svc.Logout(ctx, token))
	assert.NotContains(t, repo.sessions, token)
}

func TestUpdateProfileAuthorization(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&User{ID: "u1", Account: "alice"})
	cache := &fakeInvalidator{}
	svc := NewService(repo, cache, nil)
	ctx := context.Background()
	name := "Alice"

	_, err := svc.UpdateProfile(ctx, &auth.User{ID: "u2", Role: RoleUser}, "u1", UpdateUserInput{Username: &name})
	require.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, cache.calls)

	u, err := svc.UpdateProfile(ctx, &auth.User{ID: "admin", Role: RoleAdmin}, "u1", UpdateUserInput{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Username)
	assert.Equal(t, []string{"u1"}, cache.calls)

	_, err = svc.UpdateProfile(ctx, &auth.User{ID: "u1"}, "u1", UpdateUserInput{})
	require.ErrorIs(t, err, ErrNoChanges)

	_, err = svc.UpdateProfile(ctx, &auth.User{ID: "u9"}, "u9", UpdateUserInput{Username: &name})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTagsInvalidatesCache(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&User{ID: "u1", Tags: []string{"java"}})
	cache := &fakeInvalidator{}
	svc := NewService(repo, cache, nil)
	caller := &auth.User{ID: "u1"}

	u, err := svc.UpdateTags(context.Background(), caller, "u1", []string{" go ", "rust", "go", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "rust"}, u.Tags)
	assert.Equal(t, []string{"u1"}, cache.calls)

	_, err = svc.UpdateTags(context.Background(), caller, "u1", []string{"  "})
	require.ErrorIs(t, err, ErrTagsRequired)
}

func TestUpdateTagsCacheFailureIsSystemError(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&User{ID: "u1"})
	cache := &fakeInvalidator{err: errors.New("redis down")}
	svc := NewService(repo, cache, nil)

	_, err := svc.UpdateTags(context.Background(), &auth.User{ID: "u1"}, "u1", []string{"go"})
	require.Error(t, err)
	assert.Equal(t, apperr.SystemError, apperr.KindOf(err))
	assert.Equal(t, []string{"go"}, repo.users["u1"].Tags, "the store update itself is kept")
}

func TestSearchByTags(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&User{ID: "u1", Tags: []string{"java", "male"}, Phone: "555"})
	repo.add(&User{ID: "u2", Tags: []string{"java"}})
	repo.add(&User{ID: "u3", Tags: []string{"male", "java", "python"}})
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	got, err := svc.SearchByTags(ctx, []string{"java", "male"}, 10, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].ID)
	assert.Equal(t, "u3", got[1].ID)

	got, err = svc.SearchByTags(ctx, []string{"java"}, 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u3", got[0].ID)

	_, err = svc.SearchByTags(ctx, nil, 10, 1)
	require.ErrorIs(t, err, ErrTagsRequired)
	_, err = svc.SearchByTags(ctx, []string{"java"}, 51, 1)
	require.ErrorIs(t, err, ErrPageInvalid)
	_, err = svc.SearchByTags(ctx, []string{"java"}, 10, 0)
	require.ErrorIs(t, err, ErrPageInvalid)
}

func TestHotTags(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&User{ID: "me", Tags: []string{"java"}})
	repo.add(&User{ID: "u1", Tags: []string{"java", "python"}})
	repo.add(&User{ID: "u2", Tags: []string{"python", "go"}})
	repo.add(&User{ID: "u3", Tags: []string{"python"}})
	repo.add(&User{ID: "u4"})
	svc := NewService(repo, nil, nil)

	got, err := svc.HotTags(context.Background(), "me")
	require.NoError(t, err)
	assert.Equal(t, []string{"java"}, got.Mine)
	require.NotEmpty(t, got.Popular)
	assert.Equal(t, "python", got.Popular[0])
	assert.NotContains(t, got.Popular, "java")
	assert.Contains(t, got.Popular, "go")
}

func TestPublicStripsPrivateFields(t *testing.T) {
	u := &User{ID: "u1", Phone: "555-0100", PasswordHash: "hash", FriendIDs: []string{"u2"}}
	p := u.Public()
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, []string{}, p.Tags)
}
