package session

import (
	"sync"

	"github.com/spec-kit/ticket-console/internal/domain"
)

// MemoryStore keeps session state in process memory. Used by tests and
// by one-off commands that must not touch the session file.
type MemoryStore struct {
	mu      sync.Mutex
	pair    domain.TokenPair
	expired bool
	view    string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Tokens() domain.TokenPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair
}

func (m *MemoryStore) SetTokens(pair domain.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = pair
	return nil
}

func (m *MemoryStore) SetAccess(access string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair.Access = access
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = domain.TokenPair{}
	return nil
}

func (m *MemoryStore) MarkExpired() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = true
	return nil
}

func (m *MemoryStore) ConsumeExpired() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.expired
	m.expired = false
	return was, nil
}

func (m *MemoryStore) ViewPreference() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view == "" {
		return ViewTable
	}
	return m.view
}

func (m *MemoryStore) SetViewPreference(view string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = view
	return nil
}
