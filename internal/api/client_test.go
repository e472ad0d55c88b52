package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-console/internal/config"
	"github.com/spec-kit/ticket-console/internal/domain"
	"github.com/spec-kit/ticket-console/internal/events"
	"github.com/spec-kit/ticket-console/internal/session"
)

func newTestClient(t *testing.T, srv *httptest.Server, store session.Store, opts ...Option) *Client {
	t.Helper()
	cfg := config.APIConfig{
		BaseURL:               srv.URL,
		RequestTimeoutSeconds: 5,
		MaxRetries:            2,
	}
	return New(cfg, store, zap.NewNop(), opts...)
}

func storeWithTokens(access, refresh string) *session.MemoryStore {
	s := session.NewMemoryStore()
	s.SetTokens(domain.TokenPair{Access: access, Refresh: refresh})
	return s
}

func TestDoAttachesBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing X-Request-Id header")
		}
		json.NewEncoder(w).Encode(map[string]string{"username": "bob"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, storeWithTokens("tok-1", "ref-1"))

	var out struct {
		Username string `json:"username"`
	}
	if err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/auth/me/", Out: &out}); err != nil {
		t.Fatal(err)
	}
	if out.Username != "bob" {
		t.Fatalf("decoded username = %q", out.Username)
	}
}

func TestDoRefreshesOnceAndRetries(t *testing.T) {
	var refreshCalls, protectedCalls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token/refresh/" {
			refreshCalls.Add(1)
			var in struct {
				Refresh string `json:"refresh"`
			}
			json.NewDecoder(r.Body).Decode(&in)
			if in.Refresh != "ref-1" {
				t.Errorf("refresh payload = %q", in.Refresh)
			}
			json.NewEncoder(w).Encode(map[string]string{"access": "tok-2"})
			return
		}
		protectedCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Given token not valid for any token type"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 1})
	}))
	defer srv.Close()

	store := storeWithTokens("tok-stale", "ref-1")
	var refreshed atomic.Int64
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventSessionRefreshed, func(context.Context, events.Event) error {
		refreshed.Add(1)
		return nil
	})
	c := newTestClient(t, srv, store, WithDispatcher(dispatcher))

	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/1/", Out: &out}); err != nil {
		t.Fatal(err)
	}

	if n := refreshCalls.Load(); n != 1 {
		t.Errorf("refresh calls = %d, want 1", n)
	}
	if n := protectedCalls.Load(); n != 2 {
		t.Errorf("protected calls = %d, want 2 (original plus one retry)", n)
	}
	if got := store.Tokens(); got.Access != "tok-2" || got.Refresh != "ref-1" {
		t.Errorf("stored tokens after refresh = %+v", got)
	}
	if refreshed.Load() != 1 {
		t.Error("session refreshed event not published")
	}
}

func TestDoRetried401IsTerminal(t *testing.T) {
	var refreshCalls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token/refresh/" {
			refreshCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"access": "tok-2"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"detail": "still not welcome"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, storeWithTokens("tok-1", "ref-1"))

	err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want terminal 401", err)
	}
	if n := refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want exactly 1", n)
	}
}

func TestCredentialExchangeNeverRefreshes(t *testing.T) {
	var refreshCalls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token/refresh/" {
			refreshCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"access": "tok-2"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"detail": "No active account found with the given credentials"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, storeWithTokens("", "ref-1"))

	_, err := c.Login(context.Background(), "bob", "wrongpass")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
	if got := UserMessage(err); got != MsgBadCredentials {
		t.Errorf("UserMessage = %q, want %q", got, MsgBadCredentials)
	}
	if n := refreshCalls.Load(); n != 0 {
		t.Fatalf("credential exchange triggered %d refresh calls", n)
	}
}

func TestMissingRefreshTokenExpiresSession(t *testing.T) {
	var refreshCalls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token/refresh/" {
			refreshCalls.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := storeWithTokens("tok-1", "")
	var expired atomic.Int64
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventSessionExpired, func(context.Context, events.Event) error {
		expired.Add(1)
		return nil
	})
	c := newTestClient(t, srv, store, WithDispatcher(dispatcher))

	err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
	if n := refreshCalls.Load(); n != 0 {
		t.Fatalf("refresh endpoint called %d times without a refresh token", n)
	}
	if got := store.Tokens(); got.Access != "" {
		t.Error("access token survived session expiry")
	}
	if was, _ := store.ConsumeExpired(); !was {
		t.Error("expired flag not set")
	}
	if expired.Load() != 1 {
		t.Error("session expired event not published")
	}
}

func TestRefreshFailureExpiresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token/refresh/" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := storeWithTokens("tok-1", "ref-dead")
	c := newTestClient(t, srv, store)

	err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/"})
	if err == nil {
		t.Fatal("expected an error after refresh failure")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want wrapped 401 from refresh", err)
	}
	if got := store.Tokens(); got.Access != "" || got.Refresh != "" {
		t.Errorf("tokens survived refresh failure: %+v", got)
	}
	if was, _ := store.ConsumeExpired(); !was {
		t.Error("expired flag not set")
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 9})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, session.NewMemoryStore())

	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/9/", Out: &out}); err != nil {
		t.Fatal(err)
	}
	if out.ID != 9 {
		t.Fatalf("decoded id = %d", out.ID)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("attempts = %d, want 3", n)
	}
}

func TestTimeoutsAreNotRetried(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, session.NewMemoryStore(),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/"})
	var transport *TransportError
	if !errors.As(err, &transport) || !transport.Timeout {
		t.Fatalf("err = %v, want a timeout transport error", err)
	}
	if got := UserMessage(err); got != MsgTimeout {
		t.Errorf("UserMessage = %q, want %q", got, MsgTimeout)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("attempts = %d, want 1 (timeouts are surfaced, not retried)", n)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Not found."})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, session.NewMemoryStore())

	err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/404/"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("attempts = %d, want 1 (4xx is not retryable)", n)
	}
}

func TestRetriesExhaustReturnLastStatus(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, session.NewMemoryStore())

	err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v, want 500 after exhausted retries", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("attempts = %d, want maxRetries+1 = 3", n)
	}
}

func TestMultipartUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/form-data; boundary=") {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("title"); got != "printer on fire" {
			t.Errorf("title field = %q", got)
		}
		file, header, err := r.FormFile("images")
		if err != nil {
			t.Fatalf("images part: %v", err)
		}
		defer file.Close()
		if header.Filename != "photo.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":1}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, storeWithTokens("tok-1", "ref-1"))

	err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/tickets/",
		Fields: map[string]string{"title": "printer on fire", "description": "smoke everywhere", "priority": "high"},
		Files:  []FormFile{{Field: "images", Name: "photo.png", Content: []byte("png-bytes")}},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLoginPersistsTokenPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/token/" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"access": "tok-1", "refresh": "ref-1"})
	}))
	defer srv.Close()

	store := session.NewMemoryStore()
	c := newTestClient(t, srv, store)

	pair, err := c.Login(context.Background(), "bob", "hunter2secret")
	if err != nil {
		t.Fatal(err)
	}
	if pair.Access != "tok-1" || pair.Refresh != "ref-1" {
		t.Fatalf("pair = %+v", pair)
	}
	if got := store.Tokens(); got != pair {
		t.Fatalf("stored pair = %+v", got)
	}
}

func TestConnectionFailureMapsToNetworkMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening anymore

	c := newTestClient(t, srv, session.NewMemoryStore())

	err := c.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/tickets/"})
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if got := UserMessage(err); got != MsgNetwork {
		t.Errorf("UserMessage = %q, want %q", got, MsgNetwork)
	}
}
