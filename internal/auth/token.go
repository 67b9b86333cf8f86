package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenIssuer = "huddle"
	defaultAccessTTL   = 30 * time.Minute
	defaultRefreshTTL  = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// AccessClaims is the self-contained principal snapshot carried by access
// tokens. Permission checks at admission time read these claims directly,
// without a store lookup.
type AccessClaims struct {
	Username    string       `json:"username"`
	IsAdmin     bool         `json:"is_admin"`
	Roles       []string     `json:"roles,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	TokenType   string       `json:"token_type"`
	jwt.RegisteredClaims
}

// Snapshot rebuilds the principal snapshot embedded in the claims.
func (c *AccessClaims) Snapshot() Snapshot {
	return Snapshot{
		ID:          c.Subject,
		Username:    c.Username,
		IsAdmin:     c.IsAdmin,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
}

// RefreshClaims carry only the user id and its admin scope, so that a refresh
// re-resolves the principal in the right namespace.
type RefreshClaims struct {
	IsAdmin   bool   `json:"is_admin"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256-signed access/refresh token pairs.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithIssuerName overrides the token issuer claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if strings.TrimSpace(name) != "" {
			i.issuer = strings.TrimSpace(name)
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.refreshTTL = ttl
		}
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer signing with the given secret.
func NewIssuer(secret []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	iss := &Issuer{
		secret:     secret,
		issuer:     defaultTokenIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccess signs an access token carrying the principal snapshot.
func (i *Issuer) IssueAccess(snap Snapshot) (string, time.Time, error) {
	if strings.TrimSpace(snap.ID) == "" {
		return "", time.Time{}, errors.New("auth: snapshot user id is required")
	}
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := AccessClaims{
		Username:    snap.Username,
		IsAdmin:     snap.IsAdmin,
		Roles:       snap.Roles,
		Permissions: snap.Permissions,
		TokenType:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   snap.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefresh signs a refresh token for the given user id and admin scope.
func (i *Issuer) IssueRefresh(userID string, isAdmin bool) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	now := i.now().UTC()
	exp := now.Add(i.refreshTTL)
	claims := RefreshClaims{
		IsAdmin:   isAdmin,
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess validates signature and expiry of an access token. Any
// structural, cryptographic, or expiry failure collapses to ErrInvalidToken
// so callers cannot distinguish malformed from expired.
func (i *Issuer) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh validates signature and expiry of a refresh token.
func (i *Issuer) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) parse(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	},
		jwt.WithTimeFunc(i.now),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return ErrInvalidToken
	}
	return nil
}
