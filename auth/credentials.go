package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/pqrdesk/pqrclient/common"
)

// CredentialStore holds the bearer token of the current session.
//
// Set is called on login / register success, Clear on logout or authentication
// failure. Every other component only reads the token.
type CredentialStore interface {
	// Token return the current token, or "" when there is no session
	Token() string
	// Set record a new token
	Set(token string) error
	// Clear drop the current token
	Clear() error
}

// ==============================================================================

// memoryCredentialStore implements CredentialStore in process memory
type memoryCredentialStore struct {
	lock  sync.RWMutex
	token string
}

// NewMemoryCredentialStore define a CredentialStore which is not persisted
func NewMemoryCredentialStore(initial string) CredentialStore {
	return &memoryCredentialStore{token: initial}
}

// Token return the current token
func (s *memoryCredentialStore) Token() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.token
}

// Set record a new token
func (s *memoryCredentialStore) Set(token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.token = token
	return nil
}

// Clear drop the current token
func (s *memoryCredentialStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.token = ""
	return nil
}

// ==============================================================================

// fileCredentialStore implements CredentialStore backed by a single file
type fileCredentialStore struct {
	common.Component
	path  string
	lock  sync.RWMutex
	token string
}

// NewFileCredentialStore define a CredentialStore persisted in a file. An existing
// token in the file is loaded.
func NewFileCredentialStore(path string) (CredentialStore, error) {
	logTags := log.Fields{
		"module": "auth", "component": "credential-store", "instance": path,
	}
	store := &fileCredentialStore{
		Component: common.Component{LogTags: logTags}, path: path,
	}
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithFields(logTags).Error("Unable to read token file")
		return nil, err
	}
	store.token = strings.TrimSpace(string(content))
	return store, nil
}

// Token return the current token
func (s *fileCredentialStore) Token() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.token
}

// Set record a new token
func (s *fileCredentialStore) Set(token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Unable to create token directory")
			return err
		}
	}
	if err := os.WriteFile(s.path, []byte(token), 0o600); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to write token file")
		return err
	}
	s.token = token
	log.WithFields(s.LogTags).Debug("Stored new token")
	return nil
}

// Clear drop the current token
func (s *fileCredentialStore) Clear() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.token = ""
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithFields(s.LogTags).Error("Unable to remove token file")
		return err
	}
	log.WithFields(s.LogTags).Debug("Cleared token")
	return nil
}
