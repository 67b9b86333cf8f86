package auth

import "context"

// Store describes the persistence operations required by the auth subsystem.
// Implementations own the records; this package only reads and writes them
// through these repository-style calls.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
}

// UserStore manages user records. Find and FindByUsername scope every lookup
// by the admin flag; an admin and a non-admin may share a username without
// ever resolving to each other.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string, isAdmin bool) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string, isAdmin bool) (*User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Update(ctx context.Context, u *User) error
	SetFrozen(ctx context.Context, id string, frozen bool) error
}

// RoleStore resolves role membership. ForUser returns the user's roles with
// their permissions preloaded, in assignment order.
type RoleStore interface {
	ForUser(ctx context.Context, userID string) ([]Role, error)
	Assign(ctx context.Context, userID, roleID string) error
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
}
