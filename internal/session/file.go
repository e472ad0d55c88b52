package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spec-kit/ticket-console/internal/domain"
)

type fileState struct {
	Access         string `json:"access,omitempty"`
	Refresh        string `json:"refresh,omitempty"`
	AuthExpired    bool   `json:"auth_expired,omitempty"`
	ViewPreference string `json:"view_preference,omitempty"`
}

// FileStore persists session state as a JSON file so it survives
// process restarts, the CLI analogue of browser local storage.
type FileStore struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// NewFileStore loads (or initializes) the session file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.state); err != nil {
		// A corrupt session file is equivalent to being signed out.
		s.state = fileState{}
	}
	return s, nil
}

func (s *FileStore) Tokens() domain.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.TokenPair{Access: s.state.Access, Refresh: s.state.Refresh}
}

func (s *FileStore) SetTokens(pair domain.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Access = pair.Access
	s.state.Refresh = pair.Refresh
	return s.persist()
}

func (s *FileStore) SetAccess(access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Access = access
	return s.persist()
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Access = ""
	s.state.Refresh = ""
	return s.persist()
}

func (s *FileStore) MarkExpired() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AuthExpired = true
	return s.persist()
}

func (s *FileStore) ConsumeExpired() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.state.AuthExpired
	if !was {
		return false, nil
	}
	s.state.AuthExpired = false
	return true, s.persist()
}

func (s *FileStore) ViewPreference() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ViewPreference == "" {
		return ViewTable
	}
	return s.state.ViewPreference
}

func (s *FileStore) SetViewPreference(view string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ViewPreference = view
	return s.persist()
}

func (s *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
