// Package store holds the bridge's durable state: session mappings,
// permission records and downloaded media, all as plain files under the
// workspace data directory.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinyland-inc/clawbridge/pkg/bridge"
)

type sessionEntry struct {
	SessionID string    `json:"session_id"`
	Cwd       string    `json:"cwd"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore maps conversation keys to backend sessions, persisted as one
// JSON file rewritten atomically on every change.
type SessionStore struct {
	mu   sync.Mutex
	path string
	data map[string]sessionEntry
}

func NewSessionStore(dataDir string) (*SessionStore, error) {
	s := &SessionStore{
		path: filepath.Join(dataDir, "sessions.json"),
		data: make(map[string]sessionEntry),
	}
	if err := loadJSON(s.path, &s.data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SessionStore) SessionByConversation(key string) (bridge.SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return bridge.SessionInfo{}, false
	}
	return bridge.SessionInfo{SessionID: e.SessionID, Cwd: e.Cwd, UpdatedAt: e.UpdatedAt}, true
}

func (s *SessionStore) SetSessionForConversation(key, sessionID, cwd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = sessionEntry{SessionID: sessionID, Cwd: cwd, UpdatedAt: time.Now()}
	return saveJSON(s.path, s.data)
}

func (s *SessionStore) ClearSessionForConversation(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return saveJSON(s.path, s.data)
}

func (s *SessionStore) ConversationBySessionID(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.data {
		if e.SessionID == sessionID {
			return key, true
		}
	}
	return "", false
}

// loadJSON fills v from path, leaving v untouched when the file is absent.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// saveJSON writes v to path through a temp file and rename, so readers never
// observe a partial write.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
