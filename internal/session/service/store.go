// Package service implements the client session store.
//
// The store is the single owner of the current identity. All writers (restore,
// login, signup, logout) serialize on one mutex so reads always observe the
// last completed write, and registered observers hear about every change.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/aquaguardian/guardian/internal/platform/errors"
	"github.com/aquaguardian/guardian/internal/session/domain"
	"github.com/aquaguardian/guardian/internal/session/storage"
)

// ProviderUser is the subject record returned by the identity provider.
type ProviderUser struct {
	SubjectID   string
	Email       string
	DisplayName string
}

// SignUpInput describes the metadata sent to the provider at account creation.
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        domain.Role
}

// IdentityProvider is the external login/signup/logout capability the store
// consumes. Credential verification and token issuance live behind it.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (ProviderUser, error)
	SignUp(ctx context.Context, input SignUpInput) (ProviderUser, error)
	SignOut(ctx context.Context) error
}

// Profile is the backend profile row provisioned after signup. Report
// submission has a referential dependency on this row existing.
type Profile struct {
	ID       string
	Email    string
	FullName string
	Role     string
}

// ProfileProvisioner creates the backend profile record for a new account.
type ProfileProvisioner interface {
	CreateProfile(ctx context.Context, profile Profile) error
}

// State describes the session store lifecycle.
type State int

const (
	// StateNoSession indicates no identity is current.
	StateNoSession State = iota
	// StateRestoredDefault indicates the demo identity was synthesized on restore.
	StateRestoredDefault
	// StateAuthenticated indicates a logged-in identity is current.
	StateAuthenticated
)

// Result reports the outcome of a session operation without leaking raw faults.
type Result struct {
	OK      bool
	Code    apperrors.Code
	Message string
}

func failure(err error) Result {
	return Result{Code: apperrors.CodeOf(err), Message: err.Error()}
}

// notification carries an observer fan-out prepared under lock.
type notification struct {
	observers []func(*domain.Identity)
	identity  *domain.Identity
}

func (n notification) send() {
	for _, fn := range n.observers {
		fn(n.identity)
	}
}

// Store owns the current identity and its durable record.
type Store struct {
	provider   IdentityProvider
	profiles   ProfileProvisioner
	identities storage.IdentityStore
	demoMode   bool
	clock      func() time.Time

	mu        sync.Mutex
	current   *domain.Identity
	state     State
	observers []func(*domain.Identity)
}

// Option configures a Store.
type Option func(*Store)

// WithDemoIdentity enables the demo identity fallback on empty restore.
//
// With the fallback on, "not authenticated" is never observable after a
// restore. That is intentional demo behavior and stays off unless explicitly
// enabled.
func WithDemoIdentity(enabled bool) Option {
	return func(s *Store) { s.demoMode = enabled }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a session store with default dependencies.
func New(provider IdentityProvider, profiles ProfileProvisioner, identities storage.IdentityStore, opts ...Option) *Store {
	s := &Store{
		provider:   provider,
		profiles:   profiles,
		identities: identities,
		clock:      time.Now,
		state:      StateNoSession,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers an observer invoked after every current-identity change.
// The observer receives a copy of the new identity, or nil after logout.
func (s *Store) Subscribe(fn func(*domain.Identity)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Current returns a snapshot of the current identity, or nil when logged out.
func (s *Store) Current() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	snapshot := *s.current
	return &snapshot
}

// State returns the store lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setCurrent swaps the current identity and prepares the observer fan-out.
// Callers must hold the mutex; the returned notification is sent after the
// lock is released so observers may call back into the store.
func (s *Store) setCurrent(identity *domain.Identity, state State) notification {
	s.current = identity
	s.state = state

	observers := make([]func(*domain.Identity), len(s.observers))
	copy(observers, s.observers)

	var snapshot *domain.Identity
	if identity != nil {
		copied := *identity
		snapshot = &copied
	}
	return notification{observers: observers, identity: snapshot}
}

// Restore loads a previously saved identity from durable storage.
//
// With no saved identity and demo mode enabled, the store enters the
// restored-default state with the fixed placeholder identity; the placeholder
// is never persisted, so a later restore after logout stays empty.
func (s *Store) Restore(ctx context.Context) error {
	note, err := s.restore(ctx)
	note.send()
	return err
}

func (s *Store) restore(ctx context.Context) (notification, error) {
	if s.identities == nil {
		return notification{}, apperrors.New(apperrors.CodeUnknown, "identity store is not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.identities.GetIdentity(ctx)
	if err == nil {
		return s.setCurrent(&saved, StateAuthenticated), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return notification{}, apperrors.Wrap(apperrors.CodeUnknown, "restore identity", err)
	}

	if !s.demoMode {
		return s.setCurrent(nil, StateNoSession), nil
	}
	demo := domain.DemoIdentity(s.clock)
	return s.setCurrent(&demo, StateRestoredDefault), nil
}

// Login verifies credentials with the identity provider and makes the
// resulting identity current.
//
// The role is asserted by the caller and recorded as-is; it is not verified
// against the backend profile.
func (s *Store) Login(ctx context.Context, email, password string, role domain.Role) Result {
	res, note := s.login(ctx, email, password, role)
	note.send()
	return res
}

func (s *Store) login(ctx context.Context, email, password string, role domain.Role) (Result, notification) {
	if s.provider == nil {
		return Result{Code: apperrors.CodeUnknown, Message: "identity provider is not configured"}, notification{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subject, err := s.provider.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return failure(err), notification{}
	}

	subjectEmail := subject.Email
	if subjectEmail == "" {
		subjectEmail = strings.TrimSpace(email)
	}
	identity, err := domain.NewIdentity(domain.NewIdentityInput{
		SubjectID:   subject.SubjectID,
		Email:       subjectEmail,
		DisplayName: subject.DisplayName,
		Role:        role,
	}, s.clock)
	if err != nil {
		return failure(err), notification{}
	}

	return s.finishAuth(ctx, identity)
}

// Signup creates a provider account, provisions the backend profile, and
// makes the new identity current.
//
// If profile provisioning fails the signup is reported as failed even though
// the provider account now exists: downstream report submission depends on
// the profile row, so the caller must not proceed as if signup succeeded.
func (s *Store) Signup(ctx context.Context, email, password, displayName string, role domain.Role) Result {
	res, note := s.signup(ctx, email, password, displayName, role)
	note.send()
	return res
}

func (s *Store) signup(ctx context.Context, email, password, displayName string, role domain.Role) (Result, notification) {
	if s.provider == nil {
		return Result{Code: apperrors.CodeUnknown, Message: "identity provider is not configured"}, notification{}
	}
	if s.profiles == nil {
		return Result{Code: apperrors.CodeUnknown, Message: "profile provisioner is not configured"}, notification{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subject, err := s.provider.SignUp(ctx, SignUpInput{
		Email:       strings.TrimSpace(email),
		Password:    password,
		DisplayName: strings.TrimSpace(displayName),
		Role:        role,
	})
	if err != nil {
		return failure(err), notification{}
	}

	profileEmail := subject.Email
	if profileEmail == "" {
		profileEmail = strings.TrimSpace(email)
	}
	err = s.profiles.CreateProfile(ctx, Profile{
		ID:       subject.SubjectID,
		Email:    profileEmail,
		FullName: strings.TrimSpace(displayName),
		Role:     strings.ToLower(string(role)),
	})
	if err != nil {
		return Result{
			Code:    apperrors.CodeAuthProfileProvisioning,
			Message: "Account created but profile setup failed. " + err.Error(),
		}, notification{}
	}

	identity, err := domain.NewIdentity(domain.NewIdentityInput{
		SubjectID:   subject.SubjectID,
		Email:       profileEmail,
		DisplayName: displayName,
		Role:        role,
	}, s.clock)
	if err != nil {
		return failure(err), notification{}
	}

	return s.finishAuth(ctx, identity)
}

// finishAuth persists the identity and makes it current. Callers must hold
// the mutex.
func (s *Store) finishAuth(ctx context.Context, identity domain.Identity) (Result, notification) {
	if s.identities != nil {
		if err := s.identities.PutIdentity(ctx, identity); err != nil {
			return Result{Code: apperrors.CodeUnknown, Message: "save session: " + err.Error()}, notification{}
		}
	}
	return Result{OK: true}, s.setCurrent(&identity, StateAuthenticated)
}

// Logout revokes the provider session and clears local state.
//
// Local state is cleared unconditionally: even when remote revocation or the
// durable delete fails, the current identity is gone afterwards so local
// state never contradicts the logged-out intent.
func (s *Store) Logout(ctx context.Context) error {
	note, err := s.logout(ctx)
	note.send()
	return err
}

func (s *Store) logout(ctx context.Context) (notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.provider != nil {
		// Revocation failure must not keep the session alive locally.
		_ = s.provider.SignOut(ctx)
	}

	var deleteErr error
	if s.identities != nil {
		deleteErr = s.identities.DeleteIdentity(ctx)
	}

	note := s.setCurrent(nil, StateNoSession)
	if deleteErr != nil {
		return note, apperrors.Wrap(apperrors.CodeUnknown, "remove saved session", deleteErr)
	}
	return note, nil
}
