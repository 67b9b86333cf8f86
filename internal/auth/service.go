package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"huddle.org/internal/challenge"
	"huddle.org/internal/ids"
	"huddle.org/internal/mail"
)

// Service orchestrates registration, login, token refresh, and credential
// updates. All operations are request-scoped: the only state beyond the
// persisted user records lives in the challenge store.
type Service struct {
	store      Store
	directory  *Directory
	challenges *challenge.Store
	tokens     *Issuer
	mailer     mail.Sender
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the credential service.
func NewService(store Store, challenges *challenge.Store, tokens *Issuer, mailer mail.Sender, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if challenges == nil {
		return nil, errors.New("auth: challenge store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	if mailer == nil {
		return nil, errors.New("auth: mail sender is required")
	}
	svc := &Service{
		store:      store,
		directory:  NewDirectory(store),
		challenges: challenges,
		tokens:     tokens,
		mailer:     mailer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Directory exposes the read-only principal directory built over the same
// store.
func (s *Service) Directory() *Directory { return s.directory }

// RequestChallenge issues a code for (purpose, address) and mails it. Called
// by public endpoints independent of the guard chain.
func (s *Service) RequestChallenge(ctx context.Context, purpose challenge.Purpose, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}
	code, err := s.challenges.Issue(ctx, purpose, address)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, mail.Message{
		To:      address,
		Subject: challengeSubject(purpose),
		Body:    fmt.Sprintf("<p>Your verification code is %s</p>", code),
	})
}

func challengeSubject(purpose challenge.Purpose) string {
	switch purpose {
	case challenge.PurposeRegister:
		return "Your registration code"
	case challenge.PurposePasswordUpdate:
		return "Your password change code"
	case challenge.PurposeProfileUpdate:
		return "Your profile change code"
	default:
		return "Your verification code"
	}
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Username string
	Password string
	Nickname string
	Email    string
	Code     string
}

// Register creates a new non-admin user. It requires a live matching
// challenge for (register, email) and a globally unique username. The caller
// is not logged in afterwards.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Username == "" || input.Password == "" || input.Email == "" {
		return nil, fmt.Errorf("%w: username, password, and email are required", ErrInvalidInput)
	}
	ok, err := s.challenges.Verify(ctx, challenge.PurposeRegister, input.Email, input.Code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChallengeInvalid
	}
	exists, err := s.store.Users(ctx).ExistsByUsername(ctx, input.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateUser
	}
	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Username:     input.Username,
		PasswordHash: hash,
		Email:        input.Email,
		Nickname:     input.Nickname,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials scoped by (username, isAdmin) and issues a fresh
// token pair. An unknown user and a wrong password produce the same error so
// the endpoint cannot be used to probe for accounts.
func (s *Service) Login(ctx context.Context, username, password string, isAdmin bool) (TokenPair, Snapshot, error) {
	user, err := s.directory.FindByUsername(ctx, username, isAdmin)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
			return TokenPair{}, Snapshot{}, ErrInvalidCredentials
		}
		return TokenPair{}, Snapshot{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, Snapshot{}, ErrInvalidCredentials
	}
	roles, err := s.store.Roles(ctx).ForUser(ctx, user.ID)
	if err != nil {
		return TokenPair{}, Snapshot{}, err
	}
	snap := snapshotOf(user, roles)
	pair, err := s.mintPair(snap)
	if err != nil {
		return TokenPair{}, Snapshot{}, err
	}
	return pair, snap, nil
}

// Refresh verifies a refresh token, re-resolves the principal so role and
// permission changes since the original login are reflected, and mints a
// fresh pair. The old refresh token stays independently valid until its own
// expiry.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	snap, err := s.directory.ResolvePrincipal(ctx, claims.Subject, claims.IsAdmin)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	return s.mintPair(snap)
}

func (s *Service) mintPair(snap Snapshot) (TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccess(snap)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(snap.ID, snap.IsAdmin)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// UpdatePasswordInput carries a password update request.
type UpdatePasswordInput struct {
	Email    string
	Password string
	Code     string
}

// UpdatePassword changes the principal's password. The supplied email must
// equal the registered address, and a live matching challenge for
// (password-update, email) is required.
func (s *Service) UpdatePassword(ctx context.Context, userID string, input UpdatePasswordInput) error {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Email == "" || input.Password == "" {
		return fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !strings.EqualFold(user.Email, input.Email) {
		return ErrEmailMismatch
	}
	ok, err := s.challenges.Verify(ctx, challenge.PurposePasswordUpdate, input.Email, input.Code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChallengeInvalid
	}
	hash, err := HashPassword(input.Password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	return s.store.Users(ctx).Update(ctx, user)
}

// UpdateProfileInput carries a profile update request. Empty fields are left
// unchanged.
type UpdateProfileInput struct {
	Email     string
	Code      string
	Nickname  string
	AvatarURL string
	Phone     string
}

// UpdateProfile mutates the principal's profile after a live matching
// challenge for (profile-update, email).
func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) error {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	ok, err := s.challenges.Verify(ctx, challenge.PurposeProfileUpdate, input.Email, input.Code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChallengeInvalid
	}
	user, err := s.store.Users(ctx).FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if input.Nickname != "" {
		user.Nickname = input.Nickname
	}
	if input.AvatarURL != "" {
		user.AvatarURL = input.AvatarURL
	}
	if input.Phone != "" {
		user.Phone = input.Phone
	}
	user.UpdatedAt = s.now().UTC()
	return s.store.Users(ctx).Update(ctx, user)
}

// Freeze marks the user as frozen. Freezing an already-frozen user is a
// no-op, not an error.
func (s *Service) Freeze(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.Users(ctx).SetFrozen(ctx, userID, true)
}

// UserDetail loads the full user record for profile display.
func (s *Service) UserDetail(ctx context.Context, userID string) (*User, error) {
	return s.store.Users(ctx).FindByID(ctx, userID)
}
