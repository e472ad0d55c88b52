// Package api implements the authenticated HTTP client for the ticket
// backend: bearer-token injection, bounded retry for transient
// failures, and a one-shot refresh-and-retry recovery for expired
// access tokens.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/config"
	"github.com/spec-kit/ticket-console/internal/events"
	"github.com/spec-kit/ticket-console/internal/observability"
	"github.com/spec-kit/ticket-console/internal/session"
)

const refreshPath = "/auth/token/refresh/"

// Client executes requests against the ticket API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    session.Store
	log        *zap.Logger
	metrics    *observability.Metrics
	dispatcher events.Dispatcher
	maxRetries int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics attaches request counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDispatcher attaches a session event dispatcher.
func WithDispatcher(d events.Dispatcher) Option {
	return func(c *Client) { c.dispatcher = d }
}

// New builds a Client. The session store is injected by reference so
// the refresh flow can be tested against a fake.
func New(cfg config.APIConfig, store session.Store, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout()},
		session:    store,
		log:        logger,
		maxRetries: cfg.MaxRetries,
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = events.NewInMemoryDispatcher()
	}
	return c
}

// Dispatcher exposes the event dispatcher so callers can subscribe to
// session lifecycle events.
func (c *Client) Dispatcher() events.Dispatcher { return c.dispatcher }

// FormFile is one part of a multipart upload.
type FormFile struct {
	Field   string
	Name    string
	Content []byte
}

// Request describes one API call. Body is JSON-encoded unless Files is
// set, in which case the payload is sent as multipart form data and
// the transport chooses the content type (boundary included).
type Request struct {
	Method string
	Path   string
	Params url.Values
	Body   any
	Fields map[string]string
	Files  []FormFile
	Out    any
}

// Do dispatches the request: attach credentials, execute with bounded
// retry, recover once from a 401 via the refresh exchange, and decode
// the response into req.Out.
func (c *Client) Do(ctx context.Context, req *Request) error {
	status, body, err := c.send(ctx, req)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && shouldAttemptRefresh(req, 0) {
		status, body, err = c.recoverFromUnauthorized(ctx, req, body)
		if err != nil {
			return err
		}
	}

	if status >= 400 {
		apiErr := NewError(status, body)
		c.metrics.RecordError(req.Path, req.Method, fmt.Sprintf("http_%d", status))
		return apiErr
	}

	if req.Out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, req.Out); err != nil {
			return fmt.Errorf("decode response for %s %s: %w", req.Method, req.Path, err)
		}
	}
	return nil
}

// shouldAttemptRefresh decides whether a 401 response triggers the
// refresh exchange. The credential-exchange request itself is exempt
// (its 401 means bad credentials, and refreshing there would recurse),
// and only the first attempt qualifies.
func shouldAttemptRefresh(req *Request, attempt int) bool {
	return attempt == 0 && !isCredentialExchange(req.Path)
}

func isCredentialExchange(path string) bool {
	return strings.Contains(path, "/auth/token/") && !strings.Contains(path, "/refresh/")
}

// recoverFromUnauthorized runs the refresh exchange and re-dispatches
// the original request exactly once. A second 401 is terminal.
func (c *Client) recoverFromUnauthorized(ctx context.Context, req *Request, originalBody []byte) (int, []byte, error) {
	refresh := c.session.Tokens().Refresh
	if refresh == "" {
		c.expireSession(ctx, "no refresh token")
		return 0, nil, NewError(http.StatusUnauthorized, originalBody)
	}

	access, err := c.refreshAccessToken(ctx, refresh)
	if err != nil {
		c.expireSession(ctx, "refresh failed")
		return 0, nil, fmt.Errorf("refresh token exchange: %w", err)
	}

	if err := c.session.SetAccess(access); err != nil {
		return 0, nil, fmt.Errorf("persist refreshed access token: %w", err)
	}
	c.publish(ctx, events.Event{Type: events.EventSessionRefreshed, Timestamp: time.Now()})
	c.log.Debug("access token refreshed, retrying request",
		zap.String("method", req.Method), zap.String("path", req.Path))

	return c.send(ctx, req)
}

// refreshAccessToken performs the dedicated token-refresh exchange.
// It bypasses Do so its own 401 can never re-enter the refresh flow.
func (c *Client) refreshAccessToken(ctx context.Context, refresh string) (string, error) {
	c.metrics.RecordTokenRefresh()

	payload, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", NewError(resp.StatusCode, body)
	}

	var out struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Access == "" {
		return "", errors.New("refresh response missing access token")
	}
	return out.Access, nil
}

// expireSession clears credentials and flags the session as expired so
// the next sign-in surface shows a one-time notice.
func (c *Client) expireSession(ctx context.Context, reason string) {
	if err := c.session.Clear(); err != nil {
		c.log.Warn("clear session tokens", zap.Error(err))
	}
	if err := c.session.MarkExpired(); err != nil {
		c.log.Warn("mark session expired", zap.Error(err))
	}
	c.log.Info("session expired", zap.String("reason", reason))
	c.publish(ctx, events.Event{
		Type:      events.EventSessionExpired,
		Timestamp: time.Now(),
		Payload:   events.SessionExpiredPayload{Reason: reason},
	})
}

func (c *Client) publish(ctx context.Context, event events.Event) {
	if c.dispatcher == nil {
		return
	}
	_ = c.dispatcher.Publish(ctx, event)
}

// send executes the request with bounded retry, deferring to
// IsRetryable for what to retry. Each attempt rebuilds the request
// body and re-reads the session, so a token refreshed between
// attempts is picked up.
func (c *Client) send(ctx context.Context, req *Request) (int, []byte, error) {
	var (
		status  int
		body    []byte
		lastErr error
	)

	attempts := c.maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordRetry()
			if err := sleepContext(ctx, backoff(attempt)); err != nil {
				return 0, nil, &TransportError{Err: err}
			}
		}

		status, body, lastErr = c.attempt(ctx, req)
		if lastErr != nil {
			if ctx.Err() != nil || !IsRetryable(lastErr) {
				return 0, nil, lastErr
			}
			c.log.Warn("request attempt failed",
				zap.String("method", req.Method), zap.String("path", req.Path),
				zap.Int("attempt", attempt), zap.Error(lastErr))
			continue
		}
		if status >= 400 && IsRetryable(NewError(status, body)) {
			c.log.Warn("server error, may retry",
				zap.String("method", req.Method), zap.String("path", req.Path),
				zap.Int("status", status), zap.Int("attempt", attempt))
			continue
		}
		return status, body, nil
	}

	if lastErr != nil {
		c.metrics.RecordError(req.Path, req.Method, "transport")
		return 0, nil, lastErr
	}
	return status, body, nil
}

// attempt performs one HTTP round trip.
func (c *Client) attempt(ctx context.Context, req *Request) (int, []byte, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return 0, nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &TransportError{Err: err}
	}

	c.metrics.RecordRequest(req.Path, req.Method, resp.StatusCode, time.Since(start))
	return resp.StatusCode, body, nil
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	endpoint := c.baseURL + req.Path
	if len(req.Params) > 0 {
		endpoint += "?" + req.Params.Encode()
	}

	var (
		reader      io.Reader
		contentType string
	)
	switch {
	case len(req.Files) > 0 || len(req.Fields) > 0:
		buf, boundary, err := encodeMultipart(req.Fields, req.Files)
		if err != nil {
			return nil, err
		}
		reader = buf
		contentType = boundary
	case req.Body != nil:
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	if access := c.session.Tokens().Access; access != "" {
		httpReq.Header.Set("Authorization", "Bearer "+access)
	}
	return httpReq, nil
}

func encodeMultipart(fields map[string]string, files []FormFile) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for key, val := range fields {
		if err := writer.WriteField(key, val); err != nil {
			return nil, "", err
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.Field, file.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

func classifyTransport(err error) *TransportError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	return &TransportError{Err: err, Timeout: timeout}
}

func backoff(attempt int) time.Duration {
	return time.Duration(attempt) * 200 * time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
