package team

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateMembership is returned by AddMember when the user already
// belongs to the team.
var ErrDuplicateMembership = errors.New("membership already exists")

// teamColumns is the full list of columns used in SELECT statements.
const teamColumns = `id, name, description, max_num, owner_id, status,
	password_hash, expire_at, created_at, updated_at`

const membershipColumns = `id, team_id, user_id, joined_at`

// activeClause excludes teams whose expiry has passed.
const activeClause = `(expire_at IS NULL OR expire_at > now())`

// Store provides database operations for teams and memberships.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanTeam(scan func(dest ...any) error) (*Team, error) {
	var t Team
	var status int
	err := scan(&t.ID, &t.Name, &t.Description, &t.MaxNum, &t.OwnerID, &status,
		&t.PasswordHash, &t.ExpireAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	return &t, nil
}

// Create inserts the team and its owner's membership in one transaction.
func (s *Store) Create(ctx context.Context, in NewTeam) (*Team, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTeam(func(dest ...any) error {
		return tx.QueryRow(ctx,
			`INSERT INTO teams (id, name, description, max_num, owner_id, status, password_hash, expire_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+teamColumns,
			uuid.NewString(), in.Name, in.Description, in.MaxNum, in.OwnerID,
			int(in.Status), in.PasswordHash, in.ExpireAt,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("inserting team: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO memberships (team_id, user_id) VALUES ($1, $2)`,
		t.ID, in.OwnerID,
	); err != nil {
		return nil, fmt.Errorf("inserting owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing team: %w", err)
	}
	return t, nil
}

// GetByID retrieves a team by primary key, expired or not. An id that is not
// a UUID reports pgx.ErrNoRows.
func (s *Store) GetByID(ctx context.Context, id string) (*Team, error) {
	if uuid.Validate(id) != nil {
		return nil, fmt.Errorf("getting team by id: %w", pgx.ErrNoRows)
	}
	t, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting team by id: %w", err)
	}
	return t, nil
}

// CountOwnedActive counts the unexpired teams owned by the user.
func (s *Store) CountOwnedActive(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM teams WHERE owner_id = $1 AND `+activeClause, ownerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting owned teams: %w", err)
	}
	return n, nil
}

// CountMemberships counts the teams the user belongs to, owned ones included.
func (s *Store) CountMemberships(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM memberships WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting memberships: %w", err)
	}
	return n, nil
}

// CountMembers counts the members of a team, owner included.
func (s *Store) CountMembers(ctx context.Context, teamID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM memberships WHERE team_id = $1`, teamID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting members: %w", err)
	}
	return n, nil
}

// IsMember reports whether the user belongs to the team.
func (s *Store) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM memberships WHERE team_id = $1 AND user_id = $2)`,
		teamID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return ok, nil
}

// AddMember inserts a membership joined now. It returns
// ErrDuplicateMembership if the pair exists and pgx.ErrNoRows if the team
// has been deleted.
func (s *Store) AddMember(ctx context.Context, teamID, userID string) (*Membership, error) {
	rows, err := s.pool.Query(ctx,
		`INSERT INTO memberships (team_id, user_id) VALUES ($1, $2)
		 RETURNING `+membershipColumns,
		teamID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("adding member: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByPos[Membership])
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return nil, ErrDuplicateMembership
			case "23503":
				return nil, fmt.Errorf("adding member: %w", pgx.ErrNoRows)
			}
		}
		return nil, fmt.Errorf("adding member: %w", err)
	}
	return m, nil
}

// Members lists a team's memberships in join order.
func (s *Store) Members(ctx context.Context, teamID string) ([]Membership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE team_id = $1 ORDER BY joined_at, id`, teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Membership])
	if err != nil {
		return nil, fmt.Errorf("scanning members: %w", err)
	}
	return members, nil
}

// MembersOf lists the memberships of several teams, each in join order.
func (s *Store) MembersOf(ctx context.Context, teamIDs []string) (map[string][]Membership, error) {
	out := make(map[string][]Membership, len(teamIDs))
	if len(teamIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE team_id = ANY($1) ORDER BY team_id, joined_at, id`, teamIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Membership])
	if err != nil {
		return nil, fmt.Errorf("scanning members: %w", err)
	}
	for _, m := range members {
		out[m.TeamID] = append(out[m.TeamID], m)
	}
	return out, nil
}

// TeamIDsForUser lists the ids of every team the user belongs to.
func (s *Store) TeamIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT team_id FROM memberships WHERE user_id = $1 ORDER BY joined_at, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing joined teams: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning joined teams: %w", err)
	}
	return ids, nil
}

// RemoveMember deletes a single membership.
func (s *Store) RemoveMember(ctx context.Context, teamID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memberships WHERE team_id = $1 AND user_id = $2`, teamID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// TransferAndRemove hands the team to newOwnerID and removes the leaving
// user's membership in one transaction.
func (s *Store) TransferAndRemove(ctx context.Context, teamID, newOwnerID, leavingUserID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE teams SET owner_id = $1, updated_at = now() WHERE id = $2`,
		newOwnerID, teamID,
	)
	if err != nil {
		return fmt.Errorf("transferring ownership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	tag, err = tx.Exec(ctx,
		`DELETE FROM memberships WHERE team_id = $1 AND user_id = $2`, teamID, leavingUserID,
	)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transfer: %w", err)
	}
	return nil
}

// Delete removes every membership of the team and then the team itself in
// one transaction.
func (s *Store) Delete(ctx context.Context, teamID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM memberships WHERE team_id = $1`, teamID); err != nil {
		return fmt.Errorf("deleting memberships: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM teams WHERE id = $1`, teamID)
	if err != nil {
		return fmt.Errorf("deleting team: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// Update applies validated changes to a team and returns the updated row.
func (s *Store) Update(ctx context.Context, id string, c Changes) (*Team, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	set := func(column string, v any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, v)
		argIdx++
	}

	if c.Name != nil {
		set("name", *c.Name)
	}
	if c.Description != nil {
		set("description", *c.Description)
	}
	if c.MaxNum != nil {
		set("max_num", *c.MaxNum)
	}
	if c.Status != nil {
		set("status", int(*c.Status))
	}
	if c.PasswordHash != nil {
		set("password_hash", *c.PasswordHash)
	}
	if c.ExpireAt != nil {
		set("expire_at", *c.ExpireAt)
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE teams SET %s WHERE id = $%d RETURNING `+teamColumns,
		strings.Join(setClauses, ", "), argIdx)

	t, err := scanTeam(func(dest ...any) error {
		return s.pool.QueryRow(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("updating team: %w", err)
	}
	return t, nil
}

// List returns the unexpired teams matching f, newest first. Id filters that
// are not UUIDs match nothing.
func (s *Store) List(ctx context.Context, f Filter) ([]*Team, error) {
	if f.ID != "" && uuid.Validate(f.ID) != nil {
		return nil, nil
	}
	if f.OwnerID != "" && uuid.Validate(f.OwnerID) != nil {
		return nil, nil
	}
	if len(f.IDs) > 0 {
		f.IDs = validIDs(f.IDs)
		if len(f.IDs) == 0 {
			return nil, nil
		}
	}

	whereClauses := []string{activeClause}
	args := []any{}
	argIdx := 1

	where := func(format string, v any) {
		whereClauses = append(whereClauses, strings.ReplaceAll(format, "?", fmt.Sprintf("$%d", argIdx)))
		args = append(args, v)
		argIdx++
	}

	if f.ID != "" {
		where("id = ?", f.ID)
	}
	if len(f.IDs) > 0 {
		where("id = ANY(?)", f.IDs)
	}
	if f.OwnerID != "" {
		where("owner_id = ?", f.OwnerID)
	}
	if f.Name != "" {
		where(`name ILIKE ? ESCAPE '\'`, containsPattern(f.Name))
	}
	if f.Description != "" {
		where(`description ILIKE ? ESCAPE '\'`, containsPattern(f.Description))
	}
	if f.SearchText != "" {
		where(`(name ILIKE ? ESCAPE '\' OR description ILIKE ? ESCAPE '\')`, containsPattern(f.SearchText))
	}
	if f.Status != nil {
		where("status = ?", int(*f.Status))
	} else if !f.IncludePrivate {
		where("status <> ?", int(StatusPrivate))
	}
	if f.MaxNum > 0 {
		where("max_num <= ?", f.MaxNum)
	}

	query := fmt.Sprintf(`SELECT %s FROM teams WHERE %s ORDER BY created_at DESC, id DESC`,
		teamColumns, strings.Join(whereClauses, " AND "))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		t, err := scanTeam(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning team: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating teams: %w", err)
	}
	return teams, nil
}

// likeEscaper escapes the LIKE metacharacters so user text matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching s anywhere in the column.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// validIDs drops the ids that are not UUIDs.
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if uuid.Validate(id) == nil {
			out = append(out, id)
		}
	}
	return out
}
