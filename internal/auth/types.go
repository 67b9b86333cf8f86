package auth

import "time"

// User represents a registered account. Admin and non-admin accounts live in
// disjoint namespaces: every lookup is scoped by (identifier, IsAdmin).
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Email        string
	Nickname     string
	AvatarURL    string
	Phone        string
	IsAdmin      bool
	IsFrozen     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role groups permissions. Roles are static reference data seeded at install
// time and never mutated by end users.
type Role struct {
	ID          string
	Name        string
	Permissions []Permission
}

// Permission is a fine-grained capability referenced by code in route rules.
type Permission struct {
	ID          string    `json:"-"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"-"`
}

// Snapshot is the flattened view of a principal attached to authenticated
// requests and embedded into access tokens. Permissions are deduplicated by
// code in first-seen order across the principal's roles.
type Snapshot struct {
	ID          string
	Username    string
	IsAdmin     bool
	Roles       []string
	Permissions []Permission
}

// HasPermission reports whether the snapshot carries the permission code.
func (s Snapshot) HasPermission(code string) bool {
	for _, p := range s.Permissions {
		if p.Code == code {
			return true
		}
	}
	return false
}

// TokenPair is an access/refresh token pair. Validity is entirely determined
// by signature and expiry; nothing is persisted server-side.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
