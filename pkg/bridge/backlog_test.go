package bridge

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingProcessor struct {
	mu   sync.Mutex
	envs []InboundEnvelope
}

func (r *recordingProcessor) process(ctx context.Context, env InboundEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recordingProcessor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func (r *recordingProcessor) all() []InboundEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]InboundEnvelope, len(r.envs))
	copy(out, r.envs)
	return out
}

func newTestBacklog(proc *recordingProcessor) (*BacklogCoordinator, *fakeRegistry) {
	reg := &fakeRegistry{}
	state := NewRuntimeState()
	b := NewBacklogCoordinator(state, reg, 45*time.Second, 30*time.Millisecond, proc.process)
	return b, reg
}

func TestIsStale(t *testing.T) {
	b, _ := newTestBacklog(&recordingProcessor{})
	now := time.Now()

	fresh := textEnvelope("c", "hi", now.Unix())
	if b.IsStale(fresh, now) {
		t.Error("fresh message classified stale")
	}
	old := textEnvelope("c", "hi", now.Add(-time.Minute).Unix())
	if !b.IsStale(old, now) {
		t.Error("minute-old message not classified stale")
	}
}

func TestSingleStaleMessageProcessedDirectly(t *testing.T) {
	proc := &recordingProcessor{}
	b, reg := newTestBacklog(proc)

	b.Queue(context.Background(), textEnvelope("c", "only one", time.Now().Add(-time.Minute).Unix()))

	if !waitFor(time.Second, func() bool { return proc.count() == 1 }) {
		t.Fatal("single stale message was not processed")
	}
	for _, m := range reg.messages() {
		if len(m.Buttons) > 0 {
			t.Error("decision prompt sent for a single message")
		}
	}
}

func TestBatchPromptsDecision(t *testing.T) {
	proc := &recordingProcessor{}
	b, reg := newTestBacklog(proc)
	base := time.Now().Add(-time.Minute).Unix()

	// Deliberately out of order; the flush must sort by ReceivedAt.
	b.Queue(context.Background(), textEnvelope("c", "second", base+10))
	b.Queue(context.Background(), textEnvelope("c", "first", base))

	if !waitFor(time.Second, func() bool { return len(reg.messages()) == 1 }) {
		t.Fatal("no decision prompt sent")
	}
	if proc.count() != 0 {
		t.Fatal("batch processed before decision")
	}

	prompt := reg.messages()[0]
	if len(prompt.Buttons) != 3 {
		t.Fatalf("decision prompt has %d buttons, want 3", len(prompt.Buttons))
	}
	for _, btn := range prompt.Buttons {
		if btn.ActionID != ActionBacklog {
			t.Errorf("button action = %q, want %q", btn.ActionID, ActionBacklog)
		}
	}

	// Process All replays in chronological order.
	click := textEnvelope("c", "", time.Now().Unix())
	b.ResolveDecision(context.Background(), click, BacklogAll)

	envs := proc.all()
	if len(envs) != 2 {
		t.Fatalf("processed %d envelopes, want 2", len(envs))
	}
	if envs[0].Event.Text != "first" || envs[1].Event.Text != "second" {
		t.Errorf("processed out of order: %q then %q", envs[0].Event.Text, envs[1].Event.Text)
	}
}

func TestLatestOnlyProcessesNewest(t *testing.T) {
	proc := &recordingProcessor{}
	b, reg := newTestBacklog(proc)
	base := time.Now().Add(-time.Minute).Unix()

	b.Queue(context.Background(), textEnvelope("c", "oldest", base))
	b.Queue(context.Background(), textEnvelope("c", "newest", base+5))

	if !waitFor(time.Second, func() bool { return len(reg.messages()) == 1 }) {
		t.Fatal("no decision prompt sent")
	}
	b.ResolveDecision(context.Background(), textEnvelope("c", "", time.Now().Unix()), BacklogLatest)

	envs := proc.all()
	if len(envs) != 1 || envs[0].Event.Text != "newest" {
		t.Fatalf("processed %v, want just the newest", envs)
	}
}

func TestIgnoreDropsBatch(t *testing.T) {
	proc := &recordingProcessor{}
	b, _ := newTestBacklog(proc)
	base := time.Now().Add(-time.Minute).Unix()

	b.Queue(context.Background(), textEnvelope("c", "a", base))
	b.Queue(context.Background(), textEnvelope("c", "b", base+1))

	key := testRef("c").Key()
	if !waitFor(time.Second, func() bool { return b.HasPendingDecision(key) }) {
		t.Fatal("no pending decision")
	}
	b.ResolveDecision(context.Background(), textEnvelope("c", "", time.Now().Unix()), BacklogIgnore)

	if proc.count() != 0 {
		t.Fatal("ignored batch was processed")
	}
	if b.HasPendingDecision(key) {
		t.Fatal("decision still pending after ignore")
	}
}

func TestOverrideDiscardsUnresolved(t *testing.T) {
	proc := &recordingProcessor{}
	b, _ := newTestBacklog(proc)
	base := time.Now().Add(-time.Minute).Unix()

	b.Queue(context.Background(), textEnvelope("c", "a", base))
	b.Queue(context.Background(), textEnvelope("c", "b", base+1))

	key := testRef("c").Key()
	if !waitFor(time.Second, func() bool { return b.HasPendingDecision(key) }) {
		t.Fatal("no pending decision")
	}
	if dropped := b.Override(key); dropped != 2 {
		t.Fatalf("dropped %d, want 2", dropped)
	}
	if b.HasPendingDecision(key) {
		t.Fatal("decision still pending after override")
	}
}
