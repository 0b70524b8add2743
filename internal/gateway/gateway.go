// Package gateway is the single interception point for outbound API requests.
//
// Every call to the conservation backend passes through a Client, which
// centralizes the base endpoint, attaches the current session's bearer
// credential when one exists, and converts transport and backend failures
// into the domain error taxonomy.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/aquaguardian/guardian/internal/platform/errors"
)

const tracerName = "github.com/aquaguardian/guardian/internal/gateway"

// TokenSource supplies the current bearer credential, when one exists.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// APIError is a structured rejection from the backend.
type APIError struct {
	StatusCode int
	Detail     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// Client issues authenticated requests against one base endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	tracer  trace.Tracer
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

// WithTokenSource sets the bearer credential source.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) { c.tokens = tokens }
}

// New creates a gateway client for the given base endpoint.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	c := &Client{
		baseURL: trimmed,
		http:    &http.Client{Timeout: 30 * time.Second},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.http = &http.Client{
		Transport:     &authTransport{base: base, tokens: c.tokens},
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
		Timeout:       c.http.Timeout,
	}
	return c, nil
}

// authTransport attaches the current bearer credential to every request. It
// is the single interception point between the client and the wire.
type authTransport struct {
	base   http.RoundTripper
	tokens TokenSource
}

// RoundTrip implements http.RoundTripper.
//
// Failure to retrieve a credential is non-fatal: the request proceeds
// unauthenticated and the backend decides whether to reject it.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.tokens != nil {
		if token, err := t.tokens.AccessToken(req.Context()); err == nil && token != "" {
			clone := req.Clone(req.Context())
			clone.Header.Set("Authorization", "Bearer "+token)
			req = clone
		}
	}
	return t.base.RoundTrip(req)
}

// GetJSON issues a GET request and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, "", nil, out)
}

// PostForm issues a form-encoded POST request and decodes the JSON response
// into out.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	body := strings.NewReader(form.Encode())
	return c.do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", body, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	ctx, span := c.tracer.Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return apperrors.Wrap(apperrors.CodeNetworkUnreachable, "cannot reach server", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		apiErr := decodeAPIError(resp)
		span.SetStatus(otelcodes.Error, apiErr.Error())
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return apperrors.Wrap(apperrors.CodeBackendRejected, "decode response", err)
	}
	return nil
}

// decodeAPIError extracts the backend's detail message from an error body.
// The backend reports either a FastAPI-style detail field or a message field.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apiErr
	}
	if payload.Detail != "" {
		apiErr.Detail = payload.Detail
	} else if payload.Message != "" {
		apiErr.Detail = payload.Message
	}
	return apiErr
}
