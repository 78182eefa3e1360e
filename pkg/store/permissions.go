package store

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/tinyland-inc/clawbridge/pkg/bridge"
)

type permissionEntry struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	RequesterUserID string    `json:"requester_user_id"`
	Status          string    `json:"status"`
	Response        string    `json:"response,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// PermissionStore persists permission records so that an answer arriving
// after a restart still gets a truthful reply instead of silence.
type PermissionStore struct {
	mu   sync.Mutex
	path string
	data map[string]permissionEntry
}

func NewPermissionStore(dataDir string) (*PermissionStore, error) {
	s := &PermissionStore{
		path: filepath.Join(dataDir, "permissions.json"),
		data: make(map[string]permissionEntry),
	}
	if err := loadJSON(s.path, &s.data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PermissionStore) CreatePending(rec bridge.PermissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.ID] = permissionEntry{
		ID:              rec.ID,
		ConversationKey: rec.ConversationKey,
		RequesterUserID: rec.RequesterUserID,
		Status:          string(bridge.PermissionPending),
		ExpiresAt:       rec.ExpiresAt,
	}
	return saveJSON(s.path, s.data)
}

func (s *PermissionStore) ByID(id string) (bridge.PermissionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return bridge.PermissionRecord{}, false
	}
	return bridge.PermissionRecord{
		ID:              e.ID,
		ConversationKey: e.ConversationKey,
		RequesterUserID: e.RequesterUserID,
		Status:          bridge.PermissionStatus(e.Status),
		Response:        e.Response,
		ExpiresAt:       e.ExpiresAt,
	}, true
}

func (s *PermissionStore) MarkExpired(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return nil
	}
	if e.Status == string(bridge.PermissionPending) {
		e.Status = string(bridge.PermissionExpired)
		s.data[id] = e
		return saveJSON(s.path, s.data)
	}
	return nil
}

// ResolvePending is the single transition out of pending. It reports what
// actually happened so the caller can answer the user truthfully.
func (s *PermissionStore) ResolvePending(id, response string) (bridge.ResolveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[id]
	if !ok {
		return bridge.ResolveMissing, nil
	}
	switch e.Status {
	case string(bridge.PermissionSubmitted):
		return bridge.ResolveAlreadySubmitted, nil
	case string(bridge.PermissionExpired):
		return bridge.ResolveExpired, nil
	}
	e.Status = string(bridge.PermissionSubmitted)
	e.Response = response
	s.data[id] = e
	return bridge.ResolveResolved, saveJSON(s.path, s.data)
}

// PruneOlderThan drops terminal records whose expiry passed before cutoff.
// Returns how many were removed.
func (s *PermissionStore) PruneOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.data {
		if e.Status != string(bridge.PermissionPending) && e.ExpiresAt.Before(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, saveJSON(s.path, s.data)
}
