package service

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/aquaguardian/guardian/internal/platform/errors"
	"github.com/aquaguardian/guardian/internal/session/domain"
	"github.com/aquaguardian/guardian/internal/session/storage"
)

type fakeProvider struct {
	signInUser ProviderUser
	signInErr  error
	signUpUser ProviderUser
	signUpErr  error
	signOutErr error

	signOutCalls int
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (ProviderUser, error) {
	if f.signInErr != nil {
		return ProviderUser{}, f.signInErr
	}
	return f.signInUser, nil
}

func (f *fakeProvider) SignUp(ctx context.Context, input SignUpInput) (ProviderUser, error) {
	if f.signUpErr != nil {
		return ProviderUser{}, f.signUpErr
	}
	return f.signUpUser, nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.signOutCalls++
	return f.signOutErr
}

type fakeProfiles struct {
	err     error
	created []Profile
}

func (f *fakeProfiles) CreateProfile(ctx context.Context, profile Profile) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, profile)
	return nil
}

type memIdentityStore struct {
	identity *domain.Identity
	putErr   error
	delErr   error
}

func (m *memIdentityStore) PutIdentity(ctx context.Context, identity domain.Identity) error {
	if m.putErr != nil {
		return m.putErr
	}
	copied := identity
	m.identity = &copied
	return nil
}

func (m *memIdentityStore) GetIdentity(ctx context.Context) (domain.Identity, error) {
	if m.identity == nil {
		return domain.Identity{}, storage.ErrNotFound
	}
	return *m.identity, nil
}

func (m *memIdentityStore) DeleteIdentity(ctx context.Context) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.identity = nil
	return nil
}

func fixedClock() time.Time {
	return time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
}

func TestRestoreEmptyWithDemoMode(t *testing.T) {
	store := New(&fakeProvider{}, &fakeProfiles{}, &memIdentityStore{},
		WithDemoIdentity(true), WithClock(fixedClock))

	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	current := store.Current()
	if current == nil {
		t.Fatal("expected demo identity after restore")
	}
	if current.Role != domain.RoleCitizen {
		t.Fatalf("expected citizen role, got %v", current.Role)
	}
	if current.ReportsSubmitted != 0 || current.CleanUpsJoined != 0 || current.NFTsAdopted != 0 {
		t.Fatal("expected zero counters on demo identity")
	}
	if store.State() != StateRestoredDefault {
		t.Fatalf("expected restored-default state, got %v", store.State())
	}
}

func TestRestoreEmptyWithoutDemoMode(t *testing.T) {
	store := New(&fakeProvider{}, &fakeProfiles{}, &memIdentityStore{}, WithClock(fixedClock))

	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if store.Current() != nil {
		t.Fatal("expected no identity without demo mode")
	}
	if store.State() != StateNoSession {
		t.Fatalf("expected no-session state, got %v", store.State())
	}
}

func TestRestoreSavedIdentity(t *testing.T) {
	saved := domain.Identity{ID: "subject-1", Email: "ada@example.com", DisplayName: "Ada", Role: domain.RoleNGO}
	store := New(&fakeProvider{}, &fakeProfiles{}, &memIdentityStore{identity: &saved}, WithClock(fixedClock))

	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	current := store.Current()
	if current == nil || current.ID != "subject-1" {
		t.Fatalf("expected saved identity, got %+v", current)
	}
	if store.State() != StateAuthenticated {
		t.Fatalf("expected authenticated state, got %v", store.State())
	}
}

func TestLoginBuildsIdentityFromSubject(t *testing.T) {
	provider := &fakeProvider{signInUser: ProviderUser{SubjectID: "subject-9", Email: "Ada@Example.com"}}
	identities := &memIdentityStore{}
	store := New(provider, &fakeProfiles{}, identities, WithClock(fixedClock))

	res := store.Login(context.Background(), "Ada@Example.com", "secret", domain.RoleStudent)
	if !res.OK {
		t.Fatalf("expected login success, got %+v", res)
	}

	current := store.Current()
	if current == nil {
		t.Fatal("expected current identity")
	}
	if current.ID != "subject-9" {
		t.Fatalf("expected provider subject id, got %q", current.ID)
	}
	if current.DisplayName != "Ada" {
		t.Fatalf("expected email local-part display name, got %q", current.DisplayName)
	}
	if current.Role != domain.RoleStudent {
		t.Fatalf("expected caller-asserted role, got %v", current.Role)
	}
	if identities.identity == nil || identities.identity.ID != "subject-9" {
		t.Fatal("expected identity persisted to durable store")
	}
}

func TestLoginProviderFailure(t *testing.T) {
	provider := &fakeProvider{
		signInErr: apperrors.New(apperrors.CodeAuthInvalidCredentials, "Invalid login credentials"),
	}
	store := New(provider, &fakeProfiles{}, &memIdentityStore{}, WithClock(fixedClock))

	res := store.Login(context.Background(), "ada@example.com", "wrong", domain.RoleCitizen)
	if res.OK {
		t.Fatal("expected login failure")
	}
	if res.Code != apperrors.CodeAuthInvalidCredentials {
		t.Fatalf("expected invalid-credentials code, got %s", res.Code)
	}
	if res.Message != "Invalid login credentials" {
		t.Fatalf("expected verbatim provider message, got %q", res.Message)
	}
	if store.Current() != nil {
		t.Fatal("expected no identity after failed login")
	}
}

func TestLoginNetworkFailureDistinctCode(t *testing.T) {
	provider := &fakeProvider{
		signInErr: apperrors.Wrap(apperrors.CodeNetworkUnreachable, "cannot reach server", errors.New("dial tcp: refused")),
	}
	store := New(provider, &fakeProfiles{}, &memIdentityStore{}, WithClock(fixedClock))

	res := store.Login(context.Background(), "ada@example.com", "secret", domain.RoleCitizen)
	if res.OK || res.Code != apperrors.CodeNetworkUnreachable {
		t.Fatalf("expected network-unreachable failure, got %+v", res)
	}
}

func TestSignupProvisionsProfile(t *testing.T) {
	provider := &fakeProvider{signUpUser: ProviderUser{SubjectID: "subject-5", Email: "grace@example.com"}}
	profiles := &fakeProfiles{}
	store := New(provider, profiles, &memIdentityStore{}, WithClock(fixedClock))

	res := store.Signup(context.Background(), "grace@example.com", "secret", "Grace", domain.RoleGovernment)
	if !res.OK {
		t.Fatalf("expected signup success, got %+v", res)
	}

	if len(profiles.created) != 1 {
		t.Fatalf("expected one provisioned profile, got %d", len(profiles.created))
	}
	profile := profiles.created[0]
	if profile.ID != "subject-5" || profile.FullName != "Grace" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.Role != "government" {
		t.Fatalf("expected lowercased role in profile, got %q", profile.Role)
	}

	current := store.Current()
	if current == nil || current.DisplayName != "Grace" {
		t.Fatalf("expected current identity with display name, got %+v", current)
	}
}

func TestSignupProfileFailureLeavesStoreUnchanged(t *testing.T) {
	provider := &fakeProvider{signUpUser: ProviderUser{SubjectID: "subject-6", Email: "new@example.com"}}
	profiles := &fakeProfiles{err: errors.New("foreign key violation")}
	identities := &memIdentityStore{}
	store := New(provider, profiles, identities, WithClock(fixedClock))

	res := store.Signup(context.Background(), "new@example.com", "secret", "New User", domain.RoleCitizen)
	if res.OK {
		t.Fatal("expected signup failure when profile provisioning fails")
	}
	if res.Code != apperrors.CodeAuthProfileProvisioning {
		t.Fatalf("expected profile-provisioning code, got %s", res.Code)
	}
	if store.Current() != nil {
		t.Fatal("expected current identity unchanged after profile failure")
	}
	if identities.identity != nil {
		t.Fatal("expected nothing persisted after profile failure")
	}
}

func TestSignupProviderDuplicate(t *testing.T) {
	provider := &fakeProvider{
		signUpErr: apperrors.New(apperrors.CodeAuthDuplicateAccount, "User already registered"),
	}
	store := New(provider, &fakeProfiles{}, &memIdentityStore{}, WithClock(fixedClock))

	res := store.Signup(context.Background(), "dup@example.com", "secret", "Dup", domain.RoleCitizen)
	if res.OK || res.Code != apperrors.CodeAuthDuplicateAccount {
		t.Fatalf("expected duplicate-account failure, got %+v", res)
	}
	if res.Message != "User already registered" {
		t.Fatalf("expected verbatim provider message, got %q", res.Message)
	}
}

func TestLogoutClearsStateEvenWhenRevocationFails(t *testing.T) {
	provider := &fakeProvider{
		signInUser: ProviderUser{SubjectID: "subject-7", Email: "ada@example.com"},
		signOutErr: errors.New("provider unreachable"),
	}
	identities := &memIdentityStore{}
	store := New(provider, &fakeProfiles{}, identities, WithClock(fixedClock))

	if res := store.Login(context.Background(), "ada@example.com", "secret", domain.RoleCitizen); !res.OK {
		t.Fatalf("login: %+v", res)
	}

	if err := store.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if provider.signOutCalls != 1 {
		t.Fatalf("expected one revocation attempt, got %d", provider.signOutCalls)
	}
	if store.Current() != nil {
		t.Fatal("expected no identity after logout")
	}
	if identities.identity != nil {
		t.Fatal("expected durable record removed after logout")
	}
	if store.State() != StateNoSession {
		t.Fatalf("expected no-session state, got %v", store.State())
	}
}

func TestLogoutClearsMemoryWhenDeleteFails(t *testing.T) {
	provider := &fakeProvider{signInUser: ProviderUser{SubjectID: "subject-10", Email: "ada@example.com"}}
	identities := &memIdentityStore{delErr: errors.New("disk error")}
	store := New(provider, &fakeProfiles{}, identities, WithClock(fixedClock))

	if res := store.Login(context.Background(), "ada@example.com", "secret", domain.RoleCitizen); !res.OK {
		t.Fatalf("login: %+v", res)
	}

	if err := store.Logout(context.Background()); err == nil {
		t.Fatal("expected delete error surfaced")
	}
	if store.Current() != nil {
		t.Fatal("expected in-memory identity cleared despite delete failure")
	}
}

func TestObserversNotifiedOnLoginAndLogout(t *testing.T) {
	provider := &fakeProvider{signInUser: ProviderUser{SubjectID: "subject-8", Email: "ada@example.com"}}
	store := New(provider, &fakeProfiles{}, &memIdentityStore{}, WithClock(fixedClock))

	var seen []*domain.Identity
	store.Subscribe(func(identity *domain.Identity) {
		seen = append(seen, identity)
	})

	if res := store.Login(context.Background(), "ada@example.com", "secret", domain.RoleCitizen); !res.OK {
		t.Fatalf("login: %+v", res)
	}
	if err := store.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0] == nil || seen[0].ID != "subject-8" {
		t.Fatalf("expected login notification with identity, got %+v", seen[0])
	}
	if seen[1] != nil {
		t.Fatalf("expected nil notification on logout, got %+v", seen[1])
	}
}

func TestDemoIdentityNotPersisted(t *testing.T) {
	identities := &memIdentityStore{}
	store := New(&fakeProvider{}, &fakeProfiles{}, identities,
		WithDemoIdentity(true), WithClock(fixedClock))

	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if identities.identity != nil {
		t.Fatal("expected demo identity to stay out of durable storage")
	}
}
