// Package session owns the persisted client state: the access/refresh
// token pair, a one-shot "session expired" notice flag, and the ticket
// list view preference. The HTTP client receives a Store by reference
// so the refresh flow can be exercised against a fake in tests.
package session

import "github.com/spec-kit/ticket-console/internal/domain"

// View preference values for the ticket list.
const (
	ViewTable = "table"
	ViewCard  = "card"
)

// Store is the session state container. Implementations must be safe
// for concurrent use.
type Store interface {
	// Tokens returns the current pair; zero values when signed out.
	Tokens() domain.TokenPair
	// SetTokens overwrites the pair wholesale (login, full refresh).
	SetTokens(pair domain.TokenPair) error
	// SetAccess replaces only the access token (refresh exchange).
	SetAccess(access string) error
	// Clear removes both tokens (logout, irrecoverable refresh failure).
	Clear() error

	// MarkExpired records that the session ended involuntarily.
	MarkExpired() error
	// ConsumeExpired reads and clears the expired flag in one step, so
	// the sign-in notice renders at most once.
	ConsumeExpired() (bool, error)

	// ViewPreference returns the stored list layout, ViewTable when unset.
	ViewPreference() string
	SetViewPreference(view string) error
}
