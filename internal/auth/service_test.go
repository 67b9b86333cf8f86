package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"huddle.org/internal/challenge"
	"huddle.org/internal/mail"
)

// memStore is an in-memory Store for service tests.
type memStore struct {
	users       map[string]*User
	rolesByUser map[string][]Role
	catalog     []Permission
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*User),
		rolesByUser: make(map[string][]Role),
	}
}

func (m *memStore) Users(context.Context) UserStore       { return (*memUsers)(m) }
func (m *memStore) Roles(context.Context) RoleStore       { return (*memRoles)(m) }
func (m *memStore) Permissions(context.Context) PermissionStore { return (*memPerms)(m) }

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string, isAdmin bool) (*User, error) {
	u, ok := m.users[id]
	if !ok || u.IsAdmin != isAdmin {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByID(_ context.Context, id string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByUsername(_ context.Context, username string, isAdmin bool) (*User, error) {
	for _, u := range m.users {
		if u.Username == username && u.IsAdmin == isAdmin {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) ExistsByUsername(_ context.Context, username string) (bool, error) {
	for _, u := range m.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) Update(_ context.Context, u *User) error {
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) SetFrozen(_ context.Context, id string, frozen bool) error {
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsFrozen = frozen
	return nil
}

type memRoles memStore

func (m *memRoles) ForUser(_ context.Context, userID string) ([]Role, error) {
	return m.rolesByUser[userID], nil
}

func (m *memRoles) Assign(_ context.Context, userID, roleID string) error {
	m.rolesByUser[userID] = append(m.rolesByUser[userID], Role{ID: roleID, Name: roleID})
	return nil
}

type memPerms memStore

func (m *memPerms) Ensure(_ context.Context, perms []Permission) error {
	m.catalog = perms
	return nil
}

func (m *memPerms) List(_ context.Context) ([]Permission, error) {
	return m.catalog, nil
}

// fakeSender records outbound mail.
type fakeSender struct {
	sent []mail.Message
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

type serviceFixture struct {
	svc    *Service
	store  *memStore
	redis  *miniredis.Miniredis
	sender *fakeSender
	issuer *Issuer
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	issuer, err := NewIssuer(testSecret)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	store := newMemStore()
	sender := &fakeSender{}
	svc, err := NewService(store, challenge.NewStore(rdb), issuer, sender)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{svc: svc, store: store, redis: mr, sender: sender, issuer: issuer}
}

func (f *serviceFixture) seedUser(t *testing.T, username, password, email string, isAdmin bool, roles []Role) *User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	u := &User{
		ID:           "user-" + username,
		Username:     username,
		PasswordHash: hash,
		Email:        email,
		IsAdmin:      isAdmin,
	}
	f.store.users[u.ID] = u
	f.store.rolesByUser[u.ID] = roles
	return u
}

func (f *serviceFixture) seedChallenge(t *testing.T, purpose challenge.Purpose, address, code string) {
	t.Helper()
	if err := f.redis.Set("challenge:"+string(purpose)+":"+address, code); err != nil {
		t.Fatalf("seed challenge: %v", err)
	}
}

func TestRegisterHashesPasswordAndPersists(t *testing.T) {
	f := newFixture(t)
	f.seedChallenge(t, challenge.PurposeRegister, "a@b.com", "123456")

	user, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Password: "hunter22",
		Nickname: "Alice",
		Email:    "a@b.com",
		Code:     "123456",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.PasswordHash == "hunter22" || user.PasswordHash == "" {
		t.Fatalf("password stored in cleartext or empty")
	}
	if err := VerifyPassword(user.PasswordHash, "hunter22"); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
	persisted, err := f.store.Users(context.Background()).FindByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("persisted user missing: %v", err)
	}
	if persisted.IsAdmin {
		t.Fatalf("registration must create a non-admin user")
	}
}

func TestRegisterRejectsBadChallenge(t *testing.T) {
	f := newFixture(t)

	input := RegisterInput{Username: "alice", Password: "pw", Email: "a@b.com", Code: "000000"}
	if _, err := f.svc.Register(context.Background(), input); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid with no code issued, got %v", err)
	}

	f.seedChallenge(t, challenge.PurposeRegister, "a@b.com", "123456")
	if _, err := f.svc.Register(context.Background(), input); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid on mismatched code, got %v", err)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", "pw", "old@b.com", false, nil)
	f.seedChallenge(t, challenge.PurposeRegister, "a@b.com", "123456")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice", Password: "pw2", Email: "a@b.com", Code: "123456",
	})
	if !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
}

func TestLoginIssuesVerifiableTokenPair(t *testing.T) {
	f := newFixture(t)
	roles := []Role{
		{ID: "r1", Name: "member", Permissions: []Permission{{Code: "A"}, {Code: "B"}}},
		{ID: "r2", Name: "approver", Permissions: []Permission{{Code: "B"}, {Code: "C"}}},
	}
	f.seedUser(t, "alice", "hunter22", "a@b.com", false, roles)

	pair, snap, err := f.svc.Login(context.Background(), "alice", "hunter22", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := f.issuer.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	fromToken := claims.Snapshot()

	resolved, err := f.svc.Directory().ResolvePrincipal(context.Background(), snap.ID, false)
	if err != nil {
		t.Fatalf("ResolvePrincipal: %v", err)
	}
	if len(fromToken.Permissions) != len(resolved.Permissions) {
		t.Fatalf("token permissions %v differ from directory %v", fromToken.Permissions, resolved.Permissions)
	}
	for i := range resolved.Permissions {
		if fromToken.Permissions[i].Code != resolved.Permissions[i].Code {
			t.Fatalf("permission order differs at %d: %v vs %v", i, fromToken.Permissions, resolved.Permissions)
		}
	}
}

func TestLoginMergesUnknownUserAndWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", "hunter22", "a@b.com", false, nil)

	_, _, errWrongPassword := f.svc.Login(context.Background(), "alice", "nope", false)
	_, _, errUnknownUser := f.svc.Login(context.Background(), "nobody", "nope", false)

	if !errors.Is(errWrongPassword, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", errWrongPassword)
	}
	if !errors.Is(errUnknownUser, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", errUnknownUser)
	}
}

func TestAdminNamespaceIsDisjoint(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice", "adminpw", "admin@b.com", true, nil)

	if _, _, err := f.svc.Login(context.Background(), "alice", "adminpw", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("admin account must not be reachable through the user scope, got %v", err)
	}
	if _, _, err := f.svc.Login(context.Background(), "alice", "adminpw", true); err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
}

func TestRefreshReResolvesPrincipal(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "alice", "hunter22", "a@b.com", false, []Role{
		{ID: "r1", Name: "member", Permissions: []Permission{{Code: "A"}}},
	})

	pair, _, err := f.svc.Login(context.Background(), "alice", "hunter22", false)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Grant a new role after login; the refreshed access token must carry it.
	f.store.rolesByUser[u.ID] = append(f.store.rolesByUser[u.ID],
		Role{ID: "r2", Name: "approver", Permissions: []Permission{{Code: "Z"}}})

	fresh, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := f.issuer.VerifyAccess(fresh.AccessToken)
	if err != nil {
		t.Fatalf("refreshed access token does not verify: %v", err)
	}
	if !claims.Snapshot().HasPermission("Z") {
		t.Fatalf("refreshed token is missing the newly granted permission")
	}

	if _, err := f.svc.Refresh(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage refresh token, got %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not be usable as a refresh token, got %v", err)
	}
}

func TestFreezeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "alice", "pw", "a@b.com", false, nil)

	if err := f.svc.Freeze(context.Background(), u.ID); err != nil {
		t.Fatalf("first freeze: %v", err)
	}
	if err := f.svc.Freeze(context.Background(), u.ID); err != nil {
		t.Fatalf("second freeze must not error: %v", err)
	}
	got, _ := f.store.Users(context.Background()).FindByID(context.Background(), u.ID)
	if !got.IsFrozen {
		t.Fatalf("user not frozen")
	}

	if err := f.svc.Freeze(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestUpdatePasswordChecksEmailThenChallenge(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "alice", "oldpw", "a@b.com", false, nil)

	err := f.svc.UpdatePassword(context.Background(), u.ID, UpdatePasswordInput{
		Email: "other@b.com", Password: "newpw", Code: "123456",
	})
	if !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("expected ErrEmailMismatch, got %v", err)
	}

	err = f.svc.UpdatePassword(context.Background(), u.ID, UpdatePasswordInput{
		Email: "a@b.com", Password: "newpw", Code: "123456",
	})
	if !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid without a live code, got %v", err)
	}

	f.seedChallenge(t, challenge.PurposePasswordUpdate, "a@b.com", "654321")
	err = f.svc.UpdatePassword(context.Background(), u.ID, UpdatePasswordInput{
		Email: "a@b.com", Password: "newpw", Code: "654321",
	})
	if err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	got, _ := f.store.Users(context.Background()).FindByID(context.Background(), u.ID)
	if err := VerifyPassword(got.PasswordHash, "newpw"); err != nil {
		t.Fatalf("new password does not verify: %v", err)
	}
}

func TestUpdateProfileRequiresChallenge(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "alice", "pw", "a@b.com", false, nil)

	err := f.svc.UpdateProfile(context.Background(), u.ID, UpdateProfileInput{
		Email: "a@b.com", Code: "999999", Nickname: "Allie",
	})
	if !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("expected ErrChallengeInvalid, got %v", err)
	}

	f.seedChallenge(t, challenge.PurposeProfileUpdate, "a@b.com", "999999")
	err = f.svc.UpdateProfile(context.Background(), u.ID, UpdateProfileInput{
		Email: "a@b.com", Code: "999999", Nickname: "Allie", Phone: "555-0101",
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	got, _ := f.store.Users(context.Background()).FindByID(context.Background(), u.ID)
	if got.Nickname != "Allie" || got.Phone != "555-0101" {
		t.Fatalf("profile not updated: %+v", got)
	}
}

func TestRequestChallengeMailsTheCode(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.RequestChallenge(context.Background(), challenge.PurposeRegister, "a@b.com"); err != nil {
		t.Fatalf("RequestChallenge: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(f.sender.sent))
	}
	msg := f.sender.sent[0]
	if msg.To != "a@b.com" || msg.Subject == "" || msg.Body == "" {
		t.Fatalf("unexpected mail: %+v", msg)
	}
}

func TestResolvePrincipalDeduplicatesPermissions(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "alice", "pw", "a@b.com", false, []Role{
		{ID: "r1", Name: "member", Permissions: []Permission{{Code: "A"}, {Code: "B"}}},
		{ID: "r2", Name: "approver", Permissions: []Permission{{Code: "B"}, {Code: "C"}}},
	})

	snap, err := f.svc.Directory().ResolvePrincipal(context.Background(), u.ID, false)
	if err != nil {
		t.Fatalf("ResolvePrincipal: %v", err)
	}
	want := []string{"A", "B", "C"}
	if len(snap.Permissions) != len(want) {
		t.Fatalf("expected %v, got %+v", want, snap.Permissions)
	}
	for i, code := range want {
		if snap.Permissions[i].Code != code {
			t.Fatalf("expected first-seen order %v, got %+v", want, snap.Permissions)
		}
	}
	if len(snap.Roles) != 2 || snap.Roles[0] != "member" || snap.Roles[1] != "approver" {
		t.Fatalf("unexpected roles: %v", snap.Roles)
	}

	if _, err := f.svc.Directory().ResolvePrincipal(context.Background(), u.ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("admin scope must not resolve a non-admin principal, got %v", err)
	}
}
