package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
)

func newTestProcessor(agent *scriptedBackend) (*EnvelopeProcessor, *RuntimeState, *memSessions, *fakeRegistry) {
	return newTestProcessorWithCapturer(agent, nil)
}

func newTestProcessorWithCapturer(agent *scriptedBackend, capturer Capturer) (*EnvelopeProcessor, *RuntimeState, *memSessions, *fakeRegistry) {
	state := NewRuntimeState()
	reg := &fakeRegistry{}
	sessions := newMemSessions()
	perms := NewPermissionCoordinator(state, newMemPermissions(), reg, time.Minute)
	proc := NewEnvelopeProcessor(state, reg, agent, sessions, perms, capturer, ProcessorOptions{
		Workspace:                "/tmp/ws",
		AgentName:                "test-agent",
		FlushInterval:            10 * time.Millisecond,
		MaxLinesPerFlush:         8,
		RetainLines:              24,
		MaxAttachmentBytes:       1024,
		MaxAttachmentsPerMessage: 2,
		SessionIdle:              time.Hour,
	})
	return proc, state, sessions, reg
}

func TestProcessRunsPromptAndDeliversResult(t *testing.T) {
	agent := &scriptedBackend{}
	proc, state, sessions, reg := newTestProcessor(agent)

	env := textEnvelope("c", "build the thing", time.Now().Unix())
	proc.Process(context.Background(), env)

	assert.Equal(t, 1, agent.promptCount())
	assert.True(t, reg.containsText("done"), "result text not delivered")

	info, ok := sessions.SessionByConversation(env.Conversation.Key())
	require.True(t, ok)
	assert.Equal(t, "sess-1", info.SessionID)

	_, active := state.ActiveRunID(env.Conversation.Key())
	assert.False(t, active, "run slot still held after completion")
}

func TestProcessRefusesWhileSlotHeld(t *testing.T) {
	agent := &scriptedBackend{}
	proc, state, _, reg := newTestProcessor(agent)

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	key := testRef("c").Key()
	require.True(t, state.AcquireRun(key, "other-run", cancel))

	proc.Process(context.Background(), textEnvelope("c", "hello", time.Now().Unix()))

	assert.Equal(t, 0, agent.promptCount())
	assert.True(t, reg.containsText(busyMessage))

	// The defensive refusal must not release a slot it does not own.
	_, active := state.ActiveRunID(key)
	assert.True(t, active)
}

func TestProcessReportsRunFailure(t *testing.T) {
	agent := &scriptedBackend{
		onRun: func(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
			return nil, errors.New("model overloaded")
		},
	}
	proc, _, _, reg := newTestProcessor(agent)

	proc.Process(context.Background(), textEnvelope("c", "hi", time.Now().Unix()))

	assert.True(t, reg.containsText("Run failed: model overloaded"))
}

func TestProcessCancelledRunStaysQuiet(t *testing.T) {
	started := make(chan struct{})
	agent := &scriptedBackend{
		onRun: func(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	proc, state, _, reg := newTestProcessor(agent)

	var wg sync.WaitGroup
	wg.Add(1)
	env := textEnvelope("c", "long task", time.Now().Unix())
	go func() {
		defer wg.Done()
		proc.Process(context.Background(), env)
	}()

	<-started
	require.True(t, state.CancelRun(env.Conversation.Key()))
	wg.Wait()

	assert.False(t, reg.containsText("Run failed"),
		"cancellation must not be reported as a failure")
	_, active := state.ActiveRunID(env.Conversation.Key())
	assert.False(t, active)
}

func TestDeliverFiltersAttachments(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.txt")
	big := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(small, []byte("ok"), 0o600))
	require.NoError(t, os.WriteFile(big, make([]byte, 4096), 0o600))

	agent := &scriptedBackend{
		onRun: func(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
			return &backend.RunResult{
				SessionID: opts.SessionID,
				Text:      "files ready",
				Attachments: []backend.Attachment{
					{Path: small, FileName: "small.txt"},
					{Path: big, FileName: "big.bin"},
					{Path: filepath.Join(dir, "ghost.txt"), FileName: "ghost.txt"},
				},
			}, nil
		},
	}
	proc, _, _, reg := newTestProcessor(agent)

	proc.Process(context.Background(), textEnvelope("c", "send files", time.Now().Unix()))

	var delivered []Attachment
	for _, m := range reg.messages() {
		delivered = append(delivered, m.Attachments...)
	}
	require.Len(t, delivered, 1)
	assert.Equal(t, "small.txt", delivered[0].FileName)
	assert.True(t, reg.containsText("too large"))
	assert.True(t, reg.containsText("missing"))
}

func TestNativeCommandsAnsweredWithoutBackend(t *testing.T) {
	agent := &scriptedBackend{}
	proc, _, sessions, reg := newTestProcessor(agent)
	key := testRef("c").Key()
	require.NoError(t, sessions.SetSessionForConversation(key, "sess-9", "/tmp/ws"))

	tests := []struct {
		command string
		want    string
	}{
		{"/session", "sess-9"},
		{"/cwd", "/tmp/ws"},
		{"/agent", "test-agent"},
		{"/health", "active runs"},
		{"/start", "coding agent bridge"},
	}
	for _, tt := range tests {
		proc.Process(context.Background(), textEnvelope("c", tt.command, time.Now().Unix()))
		assert.True(t, reg.containsText(tt.want), "%s reply missing %q", tt.command, tt.want)
	}
	assert.Equal(t, 0, agent.promptCount())
	assert.Empty(t, agent.commands)
}

func TestNewCommandClearsSession(t *testing.T) {
	agent := &scriptedBackend{}
	proc, _, sessions, reg := newTestProcessor(agent)
	key := testRef("c").Key()
	require.NoError(t, sessions.SetSessionForConversation(key, "sess-9", "/tmp/ws"))

	proc.Process(context.Background(), textEnvelope("c", "/new", time.Now().Unix()))

	_, ok := sessions.SessionByConversation(key)
	assert.False(t, ok, "session survived /new")
	assert.True(t, reg.containsText("fresh session"))
}

func TestUnknownCommandForwardedToBackend(t *testing.T) {
	agent := &scriptedBackend{}
	proc, _, _, _ := newTestProcessor(agent)

	proc.Process(context.Background(), textEnvelope("c", "/deploy staging", time.Now().Unix()))

	require.Len(t, agent.commands, 1)
	assert.Equal(t, "deploy", agent.commands[0])
}

func TestTextRunAnnouncesStart(t *testing.T) {
	agent := &scriptedBackend{}
	proc, _, _, reg := newTestProcessor(agent)

	proc.Process(context.Background(), textEnvelope("c", "build it", time.Now().Unix()))

	assert.True(t, reg.containsText("> run started"),
		"text run produced no opening activity line")
}

func TestScreenshotRequestedByRunResult(t *testing.T) {
	capturer := &fakeCapturer{path: "/tmp/shots/shot-1.png"}
	agent := &scriptedBackend{}
	agent.onRun = func(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
		return &backend.RunResult{
			SessionID: opts.SessionID,
			Text:      "let me look at the screen",
			Meta:      map[string]string{MetaScreenshotRequest: ""},
		}, nil
	}
	proc, _, _, reg := newTestProcessorWithCapturer(agent, capturer)

	proc.Process(context.Background(), textEnvelope("c", "what is on screen?", time.Now().Unix()))

	assert.Equal(t, 1, capturer.captureCount())
	var shots []Attachment
	for _, m := range reg.messages() {
		shots = append(shots, m.Attachments...)
	}
	require.Len(t, shots, 1)
	assert.Equal(t, "shot-1.png", shots[0].FileName)
	assert.Equal(t, 1, agent.promptCount(),
		"an empty instruction must not start a follow-up run")
}

func TestScreenshotAnalysisFollowUp(t *testing.T) {
	capturer := &fakeCapturer{path: "/tmp/shots/shot-2.png"}
	agent := &scriptedBackend{}
	agent.onRun = func(ctx context.Context, opts backend.RunOptions) (*backend.RunResult, error) {
		if agent.promptCount() == 1 {
			return &backend.RunResult{
				SessionID: opts.SessionID,
				Text:      "capturing now",
				Meta:      map[string]string{MetaScreenshotRequest: "check the error dialog"},
			}, nil
		}
		return &backend.RunResult{SessionID: opts.SessionID, Text: "analyzed"}, nil
	}
	proc, _, _, reg := newTestProcessorWithCapturer(agent, capturer)

	proc.Process(context.Background(), textEnvelope("c", "diagnose my screen", time.Now().Unix()))

	assert.Equal(t, 1, capturer.captureCount())
	require.Equal(t, 2, agent.promptCount())
	agent.mu.Lock()
	followUp := agent.prompts[1]
	agent.mu.Unlock()
	assert.Contains(t, followUp, "Analyze the screenshot at /tmp/shots/shot-2.png")
	assert.Contains(t, followUp, "check the error dialog")
	assert.True(t, reg.containsText("analyzed"))
}
