package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SessionStore persists sessions as JSON files, one per session. The
// core orchestration never touches the store; the HTTP layer reads a
// session, runs a round, and writes the result back here.
type SessionStore struct {
	dataDir string
}

// NewSessionStore creates a store rooted at dataDir.
func NewSessionStore(dataDir string) *SessionStore {
	return &SessionStore{dataDir: dataDir}
}

// ensureDataDir creates the data directory if it doesn't exist.
func (s *SessionStore) ensureDataDir() error {
	return os.MkdirAll(s.dataDir, 0755)
}

// sessionPath returns the file path for a session.
func (s *SessionStore) sessionPath(sessionID string) string {
	return filepath.Join(s.dataDir, sessionID+".json")
}

// CreateSession initializes an empty session with a default title and
// writes it to disk.
func (s *SessionStore) CreateSession(sessionID string) (*Session, error) {
	if err := s.ensureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	session := &Session{
		ID:        sessionID,
		CreatedAt: time.Now().UTC(),
		Title:     "New Session",
		Rounds:    []ConversationRound{},
	}

	if err := s.SaveSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession loads a session by ID. Returns nil without error when the
// session doesn't exist.
func (s *SessionStore) GetSession(sessionID string) (*Session, error) {
	path := s.sessionPath(sessionID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil // Not found, return nil without error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session JSON: %w", err)
	}
	return &session, nil
}

// SaveSession writes the session as formatted JSON to disk.
func (s *SessionStore) SaveSession(session *Session) error {
	if err := s.ensureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.WriteFile(s.sessionPath(session.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// ListSessions returns metadata for every stored session, newest first.
// Unreadable or invalid files are silently skipped.
func (s *SessionStore) ListSessions() ([]SessionMetadata, error) {
	if err := s.ensureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	// Initialize with empty slice to avoid null in JSON
	sessions := make([]SessionMetadata, 0)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dataDir, entry.Name()))
		if err != nil {
			continue // Skip files we can't read
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue // Skip invalid JSON
		}

		sessions = append(sessions, SessionMetadata{
			ID:         session.ID,
			CreatedAt:  session.CreatedAt,
			Title:      session.Title,
			RoundCount: len(session.Rounds),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// AppendRound adds a completed round to a session's history.
func (s *SessionStore) AppendRound(sessionID string, round ConversationRound) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}

	session.Rounds = append(session.Rounds, round)
	return s.SaveSession(session)
}

// UpdateSessionTitle updates the title of a session.
func (s *SessionStore) UpdateSessionTitle(sessionID string, title string) error {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s not found", sessionID)
	}

	session.Title = title
	return s.SaveSession(session)
}
