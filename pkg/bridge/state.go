package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
)

// runHandle tracks one in-flight run for a conversation.
type runHandle struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
}

// backlogEntry is an open batch window for stale messages.
type backlogEntry struct {
	envs  []InboundEnvelope
	timer *time.Timer
}

// pendingPermission is an in-memory permission handshake awaiting exactly one
// resolution. The resolve channel is buffered so the resolver never blocks;
// one-shot delivery is guaranteed by taking the entry out of the map under
// the state lock before pushing.
type pendingPermission struct {
	id              string
	convKey         string
	requesterUserID string
	resolve         chan backend.PermissionResponse
	timer           *time.Timer
}

// RuntimeState is the mutable heart of the orchestrator: per-conversation
// run slots, backlog batches, unresolved decision prompts, idle timers and
// pending permissions, all guarded by a single mutex. Every method is an
// atomic state transition; none of them performs I/O.
type RuntimeState struct {
	mu sync.Mutex

	activeRuns     map[string]*runHandle
	backlog        map[string]*backlogEntry
	unresolved     map[string][]InboundEnvelope
	idleTimers     map[string]*time.Timer
	conversations  map[string]ConversationRef
	pendingPerms   map[string]*pendingPermission
	lastPermission map[string]string
}

func NewRuntimeState() *RuntimeState {
	return &RuntimeState{
		activeRuns:     make(map[string]*runHandle),
		backlog:        make(map[string]*backlogEntry),
		unresolved:     make(map[string][]InboundEnvelope),
		idleTimers:     make(map[string]*time.Timer),
		conversations:  make(map[string]ConversationRef),
		pendingPerms:   make(map[string]*pendingPermission),
		lastPermission: make(map[string]string),
	}
}

// AcquireRun claims the conversation's single run slot. It fails when a run
// is already active; the caller owns the slot until ReleaseRun with the
// returned handle id.
func (s *RuntimeState) AcquireRun(key, runID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activeRuns[key]; exists {
		return false
	}
	s.activeRuns[key] = &runHandle{id: runID, cancel: cancel, startedAt: time.Now()}
	return true
}

// ActiveRunID reports the conversation's active run, if any.
func (s *RuntimeState) ActiveRunID(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.activeRuns[key]
	if !ok {
		return "", false
	}
	return h.id, true
}

// CancelRun fires the active run's cancel function. The slot stays occupied
// until the run itself unwinds and releases it.
func (s *RuntimeState) CancelRun(key string) bool {
	s.mu.Lock()
	h, ok := s.activeRuns[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// ReleaseRun frees the slot only when it is still owned by runID. A stale
// release after someone else acquired the slot is a no-op.
func (s *RuntimeState) ReleaseRun(key, runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.activeRuns[key]
	if !ok || h.id != runID {
		return false
	}
	delete(s.activeRuns, key)
	return true
}

// QueueBacklog appends env to the conversation's open batch and re-arms the
// sliding window timer. fire runs once the window elapses with no further
// arrivals. Returns the batch size after the append.
func (s *RuntimeState) QueueBacklog(key string, env InboundEnvelope, window time.Duration, fire func()) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.backlog[key]
	if !ok {
		e = &backlogEntry{}
		s.backlog[key] = e
	}
	e.envs = append(e.envs, env)
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(window, fire)
	return len(e.envs)
}

// TakeBacklog closes the batch window and returns its contents.
func (s *RuntimeState) TakeBacklog(key string) []InboundEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.backlog[key]
	if !ok {
		return nil
	}
	delete(s.backlog, key)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e.envs
}

// SetUnresolved parks a flushed batch behind a pending decision prompt.
func (s *RuntimeState) SetUnresolved(key string, envs []InboundEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unresolved[key] = envs
}

// TakeUnresolved consumes the parked batch, if any.
func (s *RuntimeState) TakeUnresolved(key string) ([]InboundEnvelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envs, ok := s.unresolved[key]
	if ok {
		delete(s.unresolved, key)
	}
	return envs, ok
}

func (s *RuntimeState) HasUnresolved(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unresolved[key]
	return ok
}

// PutPendingPermission registers a new handshake and returns any previous
// pending handshake for the same conversation, which the caller must resolve
// as superseded.
func (s *RuntimeState) PutPendingPermission(p *pendingPermission) *pendingPermission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var superseded *pendingPermission
	if oldID, ok := s.lastPermission[p.convKey]; ok {
		if old, live := s.pendingPerms[oldID]; live {
			delete(s.pendingPerms, oldID)
			superseded = old
		}
	}
	s.pendingPerms[p.id] = p
	s.lastPermission[p.convKey] = p.id
	return superseded
}

// LookupPendingPermission inspects a live handshake without consuming it.
func (s *RuntimeState) LookupPendingPermission(id string) (*pendingPermission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pendingPerms[id]
	return p, ok
}

// TakePendingPermission consumes a live handshake. Exactly one caller wins;
// everyone else sees ok=false.
func (s *RuntimeState) TakePendingPermission(id string) (*pendingPermission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pendingPerms[id]
	if !ok {
		return nil, false
	}
	delete(s.pendingPerms, id)
	return p, true
}

// LastPermissionID is the most recent permission id raised in the
// conversation, live or not.
func (s *RuntimeState) LastPermissionID(convKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lastPermission[convKey]
	return id, ok
}

// RescheduleIdle arms (or re-arms) the conversation's idle expiry timer.
// Re-arming is idempotent: only the most recent schedule can fire.
func (s *RuntimeState) RescheduleIdle(key string, d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.idleTimers[key]; ok {
		t.Stop()
	}
	s.idleTimers[key] = time.AfterFunc(d, fire)
}

func (s *RuntimeState) CancelIdle(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.idleTimers[key]; ok {
		t.Stop()
		delete(s.idleTimers, key)
	}
}

// RememberConversation records the ref behind a key so that timer callbacks
// and maintenance can address the conversation later.
func (s *RuntimeState) RememberConversation(ref ConversationRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[ref.Key()] = ref
}

func (s *RuntimeState) ConversationByKey(key string) (ConversationRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.conversations[key]
	return ref, ok
}

// Snapshot reports coarse counters for health output.
func (s *RuntimeState) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"active_runs":         len(s.activeRuns),
		"open_batches":        len(s.backlog),
		"unresolved_batches":  len(s.unresolved),
		"pending_permissions": len(s.pendingPerms),
		"conversations":       len(s.conversations),
	}
}
