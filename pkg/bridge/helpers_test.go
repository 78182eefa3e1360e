package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
)

// fakeRegistry records outbound traffic and optionally exposes capabilities.
type fakeRegistry struct {
	mu     sync.Mutex
	sent   []OutboundEnvelope
	editor *fakeEditor
}

func (f *fakeRegistry) Send(ctx context.Context, msg OutboundEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeRegistry) Typer(string) (Typer, bool) { return nil, false }

func (f *fakeRegistry) ActivityEditor(string) (ActivityEditor, bool) {
	if f.editor != nil {
		return f.editor, true
	}
	return nil, false
}

func (f *fakeRegistry) MediaDownloader(string) (MediaDownloader, bool) { return nil, false }

func (f *fakeRegistry) Health() map[string]string { return map[string]string{"fake": "running"} }

func (f *fakeRegistry) messages() []OutboundEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundEnvelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeRegistry) texts() []string {
	var out []string
	for _, m := range f.messages() {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeRegistry) containsText(substr string) bool {
	for _, t := range f.texts() {
		if strings.Contains(t, substr) {
			return true
		}
	}
	return false
}

// fakeEditor records activity edits; every upsert returns the same token.
type fakeEditor struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeEditor) UpsertActivityMessage(ctx context.Context, conv ConversationRef, text, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return "msg-1", nil
}

func (f *fakeEditor) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

// memSessions is an in-memory SessionStore.
type memSessions struct {
	mu   sync.Mutex
	data map[string]SessionInfo
}

func newMemSessions() *memSessions {
	return &memSessions{data: make(map[string]SessionInfo)}
}

func (m *memSessions) SessionByConversation(key string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.data[key]
	return info, ok
}

func (m *memSessions) SetSessionForConversation(key, sessionID, cwd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = SessionInfo{SessionID: sessionID, Cwd: cwd, UpdatedAt: time.Now()}
	return nil
}

func (m *memSessions) ClearSessionForConversation(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memSessions) ConversationBySessionID(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, info := range m.data {
		if info.SessionID == sessionID {
			return key, true
		}
	}
	return "", false
}

// memPermissions is an in-memory PermissionStore.
type memPermissions struct {
	mu   sync.Mutex
	data map[string]PermissionRecord
}

func newMemPermissions() *memPermissions {
	return &memPermissions{data: make(map[string]PermissionRecord)}
}

func (m *memPermissions) CreatePending(rec PermissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Status = PermissionPending
	m.data[rec.ID] = rec
	return nil
}

func (m *memPermissions) ByID(id string) (PermissionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[id]
	return rec, ok
}

func (m *memPermissions) MarkExpired(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[id]
	if ok && rec.Status == PermissionPending {
		rec.Status = PermissionExpired
		m.data[id] = rec
	}
	return nil
}

func (m *memPermissions) ResolvePending(id, response string) (ResolveOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[id]
	if !ok {
		return ResolveMissing, nil
	}
	switch rec.Status {
	case PermissionSubmitted:
		return ResolveAlreadySubmitted, nil
	case PermissionExpired:
		return ResolveExpired, nil
	}
	rec.Status = PermissionSubmitted
	rec.Response = response
	m.data[id] = rec
	return ResolveResolved, nil
}

// memMedia is an in-memory MediaStore.
type memMedia struct {
	mu    sync.Mutex
	saved []string
}

func (m *memMedia) SaveRemoteFile(bridgeID, conversationID, fileNameHint string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := "/tmp/media/" + bridgeID + "/" + conversationID + "/" + fileNameHint
	m.saved = append(m.saved, path)
	return path, nil
}

// fakeCapturer hands back a fixed path and counts captures.
type fakeCapturer struct {
	mu    sync.Mutex
	path  string
	calls int
}

func (f *fakeCapturer) Capture(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.path, nil
}

func (f *fakeCapturer) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// scriptedBackend runs a canned function per call and records prompts.
type scriptedBackend struct {
	mu       sync.Mutex
	prompts  []string
	commands []string
	onRun    func(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error)
}

func (s *scriptedBackend) CreateSession(ctx context.Context, opts backend.CreateSessionOptions) (string, error) {
	return "sess-1", nil
}

func (s *scriptedBackend) RunPrompt(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, opts.Prompt)
	s.mu.Unlock()
	if s.onRun != nil {
		return s.onRun(ctx, opts)
	}
	return &backend.RunResult{SessionID: opts.SessionID, Text: "done"}, nil
}

func (s *scriptedBackend) RunCommand(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
	s.mu.Lock()
	s.commands = append(s.commands, opts.Command)
	s.mu.Unlock()
	if s.onRun != nil {
		return s.onRun(ctx, opts)
	}
	return &backend.RunResult{SessionID: opts.SessionID, Text: "done"}, nil
}

func (s *scriptedBackend) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func testRef(channel string) ConversationRef {
	return ConversationRef{BridgeID: "fake", ChannelID: channel}
}

func textEnvelope(channel, text string, receivedAt int64) InboundEnvelope {
	return InboundEnvelope{
		BridgeID:     "fake",
		Conversation: testRef(channel),
		UserID:       "user-1",
		ReceivedAt:   receivedAt,
		Event:        ParseMessageText(text),
	}
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
