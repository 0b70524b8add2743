// Package provider implements the hosted identity provider client.
//
// The provider owns credential verification and token issuance. The session
// store consumes it through narrow interfaces and never sees raw tokens; the
// request gateway consumes it as a token source.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/aquaguardian/guardian/internal/platform/errors"
	"github.com/aquaguardian/guardian/internal/session/service"
)

// session is the token bundle issued by the provider.
type session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

// providerUser is the provider's subject record.
type providerUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	UserMetadata struct {
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"user_metadata"`
}

type authResponse struct {
	session
	User providerUser `json:"user"`
}

// expirySkew renews tokens slightly before their deadline so a token that is
// valid when attached is still valid when the backend checks it.
const expirySkew = 30 * time.Second

// Client talks to the hosted identity provider's REST surface.
type Client struct {
	authURL string
	anonKey string
	http    *http.Client
	clock   func() time.Time

	mu      sync.Mutex
	current *session
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates a provider client for the given auth endpoint.
//
// The anon key identifies this client application to the provider and is sent
// on every request alongside any user credential.
func New(authURL, anonKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(authURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("auth url is required")
	}

	c := &Client{
		authURL: trimmed,
		anonKey: strings.TrimSpace(anonKey),
		http:    &http.Client{Timeout: 30 * time.Second},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SignInWithPassword exchanges credentials for a token bundle and caches it.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (service.ProviderUser, error) {
	payload := map[string]string{"email": email, "password": password}

	var resp authResponse
	err := c.postJSON(ctx, "/auth/v1/token?grant_type=password", payload, "", &resp)
	if err != nil {
		return service.ProviderUser{}, classifySignInError(err)
	}

	c.setSession(resp.session)
	return subjectOf(resp.User), nil
}

// SignUp registers a new account with display metadata and caches the issued
// token bundle so the new session is immediately usable.
func (c *Client) SignUp(ctx context.Context, input service.SignUpInput) (service.ProviderUser, error) {
	payload := map[string]any{
		"email":    input.Email,
		"password": input.Password,
		"data": map[string]string{
			"name": input.DisplayName,
			"role": strings.ToLower(string(input.Role)),
		},
	}

	var resp authResponse
	err := c.postJSON(ctx, "/auth/v1/signup", payload, "", &resp)
	if err != nil {
		return service.ProviderUser{}, classifySignUpError(err)
	}

	c.setSession(resp.session)
	return subjectOf(resp.User), nil
}

// SignOut revokes the provider session and drops the cached token bundle.
//
// The cache is cleared even when revocation fails so a later AccessToken call
// never resurrects a session the user asked to end.
func (c *Client) SignOut(ctx context.Context) error {
	token := c.currentToken()

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()

	if token == "" {
		return nil
	}
	return c.postJSON(ctx, "/auth/v1/logout", nil, token, nil)
}

// AccessToken returns the current bearer token, renewing it when it is near
// expiry. With no cached session it returns the empty string and no error so
// callers issue unauthenticated requests instead of failing outright.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if current == nil {
		return "", nil
	}
	if !c.expired(current) {
		return current.AccessToken, nil
	}
	if current.RefreshToken == "" {
		return "", apperrors.New(apperrors.CodeAuthRequired, "session expired")
	}

	payload := map[string]string{"refresh_token": current.RefreshToken}
	var resp authResponse
	if err := c.postJSON(ctx, "/auth/v1/token?grant_type=refresh_token", payload, "", &resp); err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthRequired, "refresh session", err)
	}

	c.setSession(resp.session)
	return resp.AccessToken, nil
}

// CreateProfile provisions the backend profile row for a new account.
func (c *Client) CreateProfile(ctx context.Context, profile service.Profile) error {
	payload := map[string]string{
		"id":        profile.ID,
		"email":     profile.Email,
		"full_name": profile.FullName,
		"role":      profile.Role,
	}
	return c.postJSON(ctx, "/rest/v1/users", payload, c.currentToken(), nil)
}

func (c *Client) setSession(sess session) {
	if sess.ExpiresAt == 0 {
		if sess.ExpiresIn > 0 {
			sess.ExpiresAt = c.clock().Add(time.Duration(sess.ExpiresIn) * time.Second).Unix()
		} else {
			sess.ExpiresAt = tokenExpiry(sess.AccessToken)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sess.AccessToken == "" {
		c.current = nil
		return
	}
	c.current = &sess
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.AccessToken
}

func (c *Client) expired(sess *session) bool {
	if sess.ExpiresAt == 0 {
		return false
	}
	deadline := time.Unix(sess.ExpiresAt, 0)
	return !c.clock().Add(expirySkew).Before(deadline)
}

// tokenExpiry reads the exp claim without verifying the signature. The token
// is opaque credential material here; only its deadline matters locally.
func tokenExpiry(token string) int64 {
	if token == "" {
		return 0
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}

func subjectOf(user providerUser) service.ProviderUser {
	return service.ProviderUser{
		SubjectID:   user.ID,
		Email:       user.Email,
		DisplayName: user.UserMetadata.Name,
	}
}

// providerError is a structured rejection from the identity provider.
type providerError struct {
	StatusCode int
	Message    string
}

func (e *providerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("provider request failed with status %d", e.StatusCode)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, bearer string, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNetworkUnreachable, "cannot reach server", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeProviderError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeProviderError extracts the provider's message from an error body. The
// provider reports either error_description, msg, or message depending on the
// endpoint.
func decodeProviderError(resp *http.Response) *providerError {
	provErr := &providerError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return provErr
	}

	var payload struct {
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return provErr
	}
	switch {
	case payload.ErrorDescription != "":
		provErr.Message = payload.ErrorDescription
	case payload.Msg != "":
		provErr.Message = payload.Msg
	case payload.Message != "":
		provErr.Message = payload.Message
	}
	return provErr
}

// classifySignInError maps provider rejections onto the domain taxonomy while
// preserving the provider's message verbatim for display.
func classifySignInError(err error) error {
	provErr, ok := asProviderError(err)
	if !ok {
		return err
	}
	switch provErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
		return apperrors.New(apperrors.CodeAuthInvalidCredentials, provErr.Error())
	}
	return apperrors.Wrap(apperrors.CodeBackendRejected, provErr.Error(), provErr)
}

func classifySignUpError(err error) error {
	provErr, ok := asProviderError(err)
	if !ok {
		return err
	}
	if strings.Contains(strings.ToLower(provErr.Error()), "already registered") {
		return apperrors.New(apperrors.CodeAuthDuplicateAccount, provErr.Error())
	}
	return apperrors.Wrap(apperrors.CodeBackendRejected, provErr.Error(), provErr)
}

func asProviderError(err error) (*providerError, bool) {
	var provErr *providerError
	ok := errors.As(err, &provErr)
	return provErr, ok
}
