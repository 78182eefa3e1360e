package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
)

func newTestPermissions(timeout time.Duration) (*PermissionCoordinator, *RuntimeState, *memPermissions, *fakeRegistry) {
	state := NewRuntimeState()
	store := newMemPermissions()
	reg := &fakeRegistry{}
	return NewPermissionCoordinator(state, store, reg, timeout), state, store, reg
}

func permEnvelope(channel, userID string) InboundEnvelope {
	return InboundEnvelope{
		BridgeID:     "fake",
		Conversation: testRef(channel),
		UserID:       userID,
		ReceivedAt:   time.Now().Unix(),
	}
}

func TestPermissionApproveOnce(t *testing.T) {
	p, _, store, reg := newTestPermissions(time.Minute)

	done := make(chan backend.PermissionResponse, 1)
	go func() {
		done <- p.Request(context.Background(), testRef("c"), "user-1",
			backend.PermissionRequest{ID: "req-1", ToolName: "exec", Description: "ls"})
	}()

	require.True(t, waitFor(time.Second, func() bool { return len(reg.messages()) > 0 }),
		"prompt never sent")
	prompt := reg.messages()[0]
	require.Len(t, prompt.Buttons, 3)

	p.Resolve(context.Background(), permEnvelope("c", "user-1"), "req-1", backend.PermissionOnce)

	select {
	case resp := <-done:
		assert.Equal(t, backend.PermissionOnce, resp)
	case <-time.After(time.Second):
		t.Fatal("request never resolved")
	}

	rec, ok := store.ByID("req-1")
	require.True(t, ok)
	assert.Equal(t, PermissionSubmitted, rec.Status)
	assert.Equal(t, "once", rec.Response)
}

func TestPermissionTimeoutRejects(t *testing.T) {
	p, _, store, reg := newTestPermissions(40 * time.Millisecond)
	state := p.state
	state.RememberConversation(testRef("c"))

	resp := p.Request(context.Background(), testRef("c"), "user-1",
		backend.PermissionRequest{ID: "req-t", ToolName: "exec", Description: "rm -rf"})
	assert.Equal(t, backend.PermissionReject, resp)

	rec, ok := store.ByID("req-t")
	require.True(t, ok)
	assert.Equal(t, PermissionExpired, rec.Status)
	assert.True(t, waitFor(time.Second, func() bool {
		return reg.containsText("Permission request expired: req-t")
	}), "expiry notice not sent")
}

func TestPermissionSecondAnswerReportsAlreadySubmitted(t *testing.T) {
	p, _, _, reg := newTestPermissions(time.Minute)

	go p.Request(context.Background(), testRef("c"), "user-1",
		backend.PermissionRequest{ID: "req-2", ToolName: "exec", Description: "ls"})
	require.True(t, waitFor(time.Second, func() bool { return len(reg.messages()) > 0 }))

	p.Resolve(context.Background(), permEnvelope("c", "user-1"), "req-2", backend.PermissionAlways)
	p.Resolve(context.Background(), permEnvelope("c", "user-1"), "req-2", backend.PermissionReject)

	assert.True(t, reg.containsText("already answered"))
}

func TestPermissionWrongConversationFailsClosed(t *testing.T) {
	p, _, _, reg := newTestPermissions(time.Minute)

	done := make(chan backend.PermissionResponse, 1)
	go func() {
		done <- p.Request(context.Background(), testRef("c"), "user-1",
			backend.PermissionRequest{ID: "req-3", ToolName: "exec", Description: "ls"})
	}()
	require.True(t, waitFor(time.Second, func() bool { return len(reg.messages()) > 0 }))

	p.Resolve(context.Background(), permEnvelope("other", "user-1"), "req-3", backend.PermissionOnce)

	select {
	case <-done:
		t.Fatal("answer from another conversation resolved the request")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, reg.containsText("different conversation"))
}

func TestPermissionWrongRequesterFailsClosed(t *testing.T) {
	p, _, _, reg := newTestPermissions(time.Minute)

	done := make(chan backend.PermissionResponse, 1)
	go func() {
		done <- p.Request(context.Background(), testRef("c"), "user-1",
			backend.PermissionRequest{ID: "req-4", ToolName: "exec", Description: "ls"})
	}()
	require.True(t, waitFor(time.Second, func() bool { return len(reg.messages()) > 0 }))

	p.Resolve(context.Background(), permEnvelope("c", "intruder"), "req-4", backend.PermissionOnce)

	select {
	case <-done:
		t.Fatal("answer from another user resolved the request")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPermissionUnknownID(t *testing.T) {
	p, _, _, reg := newTestPermissions(time.Minute)
	p.Resolve(context.Background(), permEnvelope("c", "user-1"), "nope", backend.PermissionOnce)
	assert.True(t, reg.containsText("Unknown permission request"))
}

func TestPermissionButtonDecoding(t *testing.T) {
	p, _, _, reg := newTestPermissions(time.Minute)

	done := make(chan backend.PermissionResponse, 1)
	go func() {
		done <- p.Request(context.Background(), testRef("c"), "user-1",
			backend.PermissionRequest{ID: "req-5", ToolName: "exec", Description: "ls"})
	}()
	require.True(t, waitFor(time.Second, func() bool { return len(reg.messages()) > 0 }))

	p.ResolveButton(context.Background(), permEnvelope("c", "user-1"), "always:req-5")

	select {
	case resp := <-done:
		assert.Equal(t, backend.PermissionAlways, resp)
	case <-time.After(time.Second):
		t.Fatal("button answer never resolved the request")
	}
}

func TestPermissionTextFallsBackToLatest(t *testing.T) {
	p, _, _, reg := newTestPermissions(time.Minute)

	done := make(chan backend.PermissionResponse, 1)
	go func() {
		done <- p.Request(context.Background(), testRef("c"), "user-1",
			backend.PermissionRequest{ID: "req-6", ToolName: "exec", Description: "ls"})
	}()
	require.True(t, waitFor(time.Second, func() bool { return len(reg.messages()) > 0 }))

	p.ResolveText(context.Background(), permEnvelope("c", "user-1"), []string{"reject"})

	select {
	case resp := <-done:
		assert.Equal(t, backend.PermissionReject, resp)
	case <-time.After(time.Second):
		t.Fatal("text answer never resolved the request")
	}
}

func TestPermissionSupersededByNewerRequest(t *testing.T) {
	p, _, _, reg := newTestPermissions(time.Minute)

	first := make(chan backend.PermissionResponse, 1)
	go func() {
		first <- p.Request(context.Background(), testRef("c"), "user-1",
			backend.PermissionRequest{ID: "req-old", ToolName: "exec", Description: "ls"})
	}()
	require.True(t, waitFor(time.Second, func() bool { return len(reg.messages()) > 0 }))

	second := make(chan backend.PermissionResponse, 1)
	go func() {
		second <- p.Request(context.Background(), testRef("c"), "user-1",
			backend.PermissionRequest{ID: "req-new", ToolName: "exec", Description: "pwd"})
	}()

	select {
	case resp := <-first:
		assert.Equal(t, backend.PermissionReject, resp, "superseded request must resolve reject")
	case <-time.After(time.Second):
		t.Fatal("superseded request never resolved")
	}

	p.Resolve(context.Background(), permEnvelope("c", "user-1"), "req-new", backend.PermissionOnce)
	select {
	case resp := <-second:
		assert.Equal(t, backend.PermissionOnce, resp)
	case <-time.After(time.Second):
		t.Fatal("new request never resolved")
	}
}

func TestCancelledRunRejectsPermission(t *testing.T) {
	p, _, store, reg := newTestPermissions(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan backend.PermissionResponse, 1)
	go func() {
		done <- p.Request(ctx, testRef("c"), "user-1",
			backend.PermissionRequest{ID: "req-c", ToolName: "exec", Description: "ls"})
	}()
	require.True(t, waitFor(time.Second, func() bool { return len(reg.messages()) > 0 }))

	cancel()
	select {
	case resp := <-done:
		assert.Equal(t, backend.PermissionReject, resp)
	case <-time.After(time.Second):
		t.Fatal("cancelled request never resolved")
	}

	rec, ok := store.ByID("req-c")
	require.True(t, ok)
	assert.Equal(t, PermissionSubmitted, rec.Status)
}
