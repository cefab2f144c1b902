package user

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/huddle/internal/auth"
	"github.com/alecgard/huddle/internal/crypto"
	"github.com/alecgard/huddle/internal/tags"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const sessionDuration = 7 * 24 * time.Hour

// ErrDuplicateAccount is returned by Create when the account handle is taken.
var ErrDuplicateAccount = errors.New("account already exists")

const userColumns = `id, account, username, avatar_url, gender, phone, email, profile,
	password_hash, COALESCE(tags::text, ''), role, add_count,
	COALESCE(friend_ids::text, '[]'), created_at, updated_at`

const sessionUserColumns = `u.id, u.account, u.username, u.avatar_url, u.gender, u.phone, u.email, u.profile,
	u.password_hash, COALESCE(u.tags::text, ''), u.role, u.add_count,
	COALESCE(u.friend_ids::text, '[]'), u.created_at, u.updated_at`

// Store provides database operations for users and sessions.
type Store struct {
	pool   *pgxpool.Pool
	cipher *crypto.FieldCipher
}

// NewStore creates a new user store backed by the given connection pool.
// A nil cipher stores phone numbers in plaintext.
func NewStore(pool *pgxpool.Pool, cipher *crypto.FieldCipher) *Store {
	return &Store{pool: pool, cipher: cipher}
}

// scanUser scans a user row, decoding the JSON tag and friend columns and
// opening the sealed phone number.
func (s *Store) scanUser(scan func(dest ...any) error) (*User, error) {
	u := &User{}
	var rawTags, rawFriends string
	err := scan(&u.ID, &u.Account, &u.Username, &u.AvatarURL, &u.Gender, &u.Phone,
		&u.Email, &u.Profile, &u.PasswordHash, &rawTags, &u.Role, &u.AddCount,
		&rawFriends, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if u.Tags, err = tags.Parse(rawTags); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(rawFriends), &u.FriendIDs); err != nil {
		return nil, fmt.Errorf("user %s: decoding friend ids: %w", u.ID, err)
	}
	if u.Phone, err = s.cipher.Open("phone", u.ID, u.Phone); err != nil {
		return nil, fmt.Errorf("user %s: opening phone: %w", u.ID, err)
	}
	return u, nil
}

func (s *Store) collect(rows pgx.Rows) ([]*User, error) {
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := s.scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create inserts a new user with a bcrypt-hashed password.
func (s *Store) Create(ctx context.Context, in CreateUserInput) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}

	u, err := s.scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO users (id, account, username, email, password_hash, tags, role)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
			 RETURNING `+userColumns,
			uuid.NewString(), in.Account, in.Username, in.Email, string(hash),
			tags.Encode(in.Tags), role,
		).Scan(dest...)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by primary key. An id that is not a UUID reports
// pgx.ErrNoRows.
func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	if uuid.Validate(id) != nil {
		return nil, fmt.Errorf("getting user by id: %w", pgx.ErrNoRows)
	}
	u, err := s.scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting user by id: %w", err)
	}
	return u, nil
}

// GetByAccount retrieves a user by account handle.
func (s *Store) GetByAccount(ctx context.Context, account string) (*User, error) {
	u, err := s.scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE account = $1`, account,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting user by account: %w", err)
	}
	return u, nil
}

// GetByIDs returns the users with the given ids keyed by id. Unknown ids are
// absent from the map.
func (s *Store) GetByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	out := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("getting users by ids: %w", err)
	}
	users, err := s.collect(rows)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// ListIDs returns every user id, oldest first.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing user ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning user ids: %w", err)
	}
	return ids, nil
}

// ListByPopularity returns up to limit users ordered by add_count, most
// popular first, excluding excludeID.
func (s *Store) ListByPopularity(ctx context.Context, excludeID string, limit int) ([]*User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE id <> $1
		 ORDER BY add_count DESC, created_at ASC, id ASC
		 LIMIT $2`, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing users by popularity: %w", err)
	}
	return s.collect(rows)
}

// EachTagged calls fn for every user with a non-empty tag set except
// excludeID, in id order. Only id and tags are read, so the full profile
// table is never held in memory. Iteration stops at the first error.
func (s *Store) EachTagged(ctx context.Context, excludeID string, fn func(Candidate) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tags::text FROM users
		 WHERE id <> $1 AND tags IS NOT NULL AND jsonb_array_length(tags) > 0
		 ORDER BY id`, excludeID)
	if err != nil {
		return fmt.Errorf("streaming tagged users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Candidate
		var raw string
		if err := rows.Scan(&c.ID, &raw); err != nil {
			return fmt.Errorf("scanning tagged user: %w", err)
		}
		if c.Tags, err = tags.Parse(raw); err != nil {
			return fmt.Errorf("user %s: %w", c.ID, err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SearchByTags returns users carrying every tag in want, most popular first.
func (s *Store) SearchByTags(ctx context.Context, want []string, limit, offset int) ([]*User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE tags @> $1::jsonb
		 ORDER BY add_count DESC, created_at ASC, id ASC
		 LIMIT $2 OFFSET $3`, tags.Encode(want), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("searching users by tags: %w", err)
	}
	return s.collect(rows)
}

// Update performs a partial update on the user with the given id.
func (s *Store) Update(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	set := func(column string, v any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, v)
		argIdx++
	}

	if in.Username != nil {
		set("username", *in.Username)
	}
	if in.AvatarURL != nil {
		set("avatar_url", *in.AvatarURL)
	}
	if in.Gender != nil {
		set("gender", *in.Gender)
	}
	if in.Phone != nil {
		sealed, err := s.cipher.Seal("phone", id, *in.Phone)
		if err != nil {
			return nil, fmt.Errorf("sealing phone: %w", err)
		}
		set("phone", sealed)
	}
	if in.Email != nil {
		set("email", *in.Email)
	}
	if in.Profile != nil {
		set("profile", *in.Profile)
	}
	if in.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		set("password_hash", string(hash))
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE users SET %s WHERE id = $%d RETURNING `+userColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	u, err := s.scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	return u, nil
}

// UpdateTags replaces the user's tag set.
func (s *Store) UpdateTags(ctx context.Context, id string, set []string) (*User, error) {
	u, err := s.scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`UPDATE users SET tags = $1::jsonb, updated_at = now()
			 WHERE id = $2 RETURNING `+userColumns,
			tags.Encode(set), id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("updating user tags: %w", err)
	}
	return u, nil
}

// CheckPassword verifies a plaintext password against the user's stored hash.
func CheckPassword(u *User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// CreateSession creates a new session for the given user. It returns the
// opaque plaintext token (to be sent to the client) and the stored session.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	plaintext := hex.EncodeToString(b)
	tokenHash := auth.HashToken(plaintext)

	now := time.Now()
	expiresAt := now.Add(sessionDuration)

	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, user_id, created_at, expires_at`,
		tokenHash, userID, now, expiresAt,
	).Scan(&sess.TokenHash, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}

	return plaintext, sess, nil
}

// GetSessionUser looks up a session by its plaintext token and returns the
// associated user. Expired sessions are treated as missing.
func (s *Store) GetSessionUser(ctx context.Context, plaintext string) (*User, error) {
	tokenHash := auth.HashToken(plaintext)

	u, err := s.scanUser(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+sessionUserColumns+`
			 FROM sessions s JOIN users u ON s.user_id = u.id
			 WHERE s.token_hash = $1 AND s.expires_at > now()`,
			tokenHash,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting session user: %w", err)
	}
	return u, nil
}

// DeleteSession removes a session by its plaintext token.
func (s *Store) DeleteSession(ctx context.Context, plaintext string) error {
	tokenHash := auth.HashToken(plaintext)
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all sessions that have expired.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

