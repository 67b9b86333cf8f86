// Package pg implements the auth store interfaces on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"

	"huddle.org/internal/auth"
	"huddle.org/internal/ids"
)

var _ auth.Store = (*Store)(nil)

// Store implements auth.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New constructs a Store over the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Users(context.Context) auth.UserStore { return &userStore{db: s.db} }
func (s *Store) Roles(context.Context) auth.RoleStore { return &roleStore{db: s.db} }
func (s *Store) Permissions(context.Context) auth.PermissionStore {
	return &permissionStore{db: s.db}
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, username, password_hash, email, nickname, avatar_url, phone, is_admin, is_frozen, created_at, updated_at`

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.Nickname,
		&u.AvatarURL, &u.Phone, &u.IsAdmin, &u.IsFrozen, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, username, password_hash, email, nickname, avatar_url, phone, is_admin, is_frozen)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Username, u.PasswordHash, u.Email, u.Nickname, u.AvatarURL, u.Phone, u.IsAdmin, u.IsFrozen,
	)
	return err
}

func (s *userStore) Find(ctx context.Context, id string, isAdmin bool) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1 and is_admin=$2`, id, isAdmin))
}

func (s *userStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByUsername(ctx context.Context, username string, isAdmin bool) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1 and is_admin=$2`, username, isAdmin))
}

func (s *userStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where username=$1)`, username).Scan(&exists)
	return exists, err
}

func (s *userStore) Update(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, email=$3, nickname=$4, avatar_url=$5, phone=$6, updated_at=now()
		 where id=$1`,
		u.ID, u.PasswordHash, u.Email, u.Nickname, u.AvatarURL, u.Phone,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) SetFrozen(ctx context.Context, id string, frozen bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set is_frozen=$2, updated_at=now() where id=$1`, id, frozen)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) ForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.id, r.name from roles r
		 join user_roles ur on ur.role_id = r.id
		 where ur.user_id = $1
		 order by ur.created_at asc, r.id asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var role auth.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := s.permissionsForRole(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

func (s *roleStore) permissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.code, p.description, p.created_at from permissions p
		 join role_permissions rp on rp.permission_id = p.id
		 where rp.role_id = $1
		 order by p.id asc`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *roleStore) Assign(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_roles(user_id, role_id) values($1,$2)
		 on conflict (user_id, role_id) do nothing`, userID, roleID)
	return err
}

// Permission store ---------------------------------------------------------

type permissionStore struct{ db *sql.DB }

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, code, description) values($1,$2,$3)
			 on conflict (code) do update set description = excluded.description`,
			id, p.Code, p.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, code, description, created_at from permissions order by id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Code, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
