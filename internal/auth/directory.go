package auth

import (
	"context"
	"strings"
)

// Directory is a read-only view over user, role, and permission records. It
// resolves a user id into the flattened snapshot used for token claims and
// admission decisions.
type Directory struct {
	store Store
}

// NewDirectory constructs a Directory over the given store.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// ResolvePrincipal loads the user scoped by (id, isAdmin) together with its
// roles and permissions. Role permissions are flattened into one sequence,
// deduplicated by permission code with first-seen order preserved.
func (d *Directory) ResolvePrincipal(ctx context.Context, userID string, isAdmin bool) (Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Snapshot{}, ErrInvalidInput
	}
	user, err := d.store.Users(ctx).Find(ctx, userID, isAdmin)
	if err != nil {
		return Snapshot{}, err
	}
	roles, err := d.store.Roles(ctx).ForUser(ctx, user.ID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(user, roles), nil
}

// FindByUsername returns the user scoped by (username, isAdmin).
func (d *Directory) FindByUsername(ctx context.Context, username string, isAdmin bool) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidInput
	}
	return d.store.Users(ctx).FindByUsername(ctx, username, isAdmin)
}

func snapshotOf(user *User, roles []Role) Snapshot {
	snap := Snapshot{
		ID:       user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	}
	seen := make(map[string]struct{})
	for _, role := range roles {
		snap.Roles = append(snap.Roles, role.Name)
		for _, perm := range role.Permissions {
			if _, ok := seen[perm.Code]; ok {
				continue
			}
			seen[perm.Code] = struct{}{}
			snap.Permissions = append(snap.Permissions, perm)
		}
	}
	return snap
}
