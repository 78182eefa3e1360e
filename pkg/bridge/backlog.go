package bridge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// Backlog decision button values.
const (
	ActionBacklog = "backlog"

	BacklogAll    = "all"
	BacklogLatest = "latest"
	BacklogIgnore = "ignore"
)

// BacklogCoordinator batches stale messages behind a sliding window and asks
// the user how to handle them instead of replaying an old conversation
// unprompted. A single stale message is processed directly; two or more
// produce a decision prompt.
type BacklogCoordinator struct {
	state      *RuntimeState
	registry   AdapterRegistry
	staleAfter time.Duration
	window     time.Duration
	process    func(ctx context.Context, env InboundEnvelope)
}

func NewBacklogCoordinator(state *RuntimeState, registry AdapterRegistry, staleAfter, window time.Duration, process func(ctx context.Context, env InboundEnvelope)) *BacklogCoordinator {
	return &BacklogCoordinator{
		state:      state,
		registry:   registry,
		staleAfter: staleAfter,
		window:     window,
		process:    process,
	}
}

// IsStale reports whether env sat undelivered long enough to count as
// backlog rather than live conversation.
func (b *BacklogCoordinator) IsStale(env InboundEnvelope, now time.Time) bool {
	if env.ReceivedAt == 0 {
		return false
	}
	age := now.Sub(time.Unix(env.ReceivedAt, 0))
	return age >= b.staleAfter
}

// Queue adds a stale message to the conversation's batch. Each arrival
// re-arms the window, so a burst settles before anything is flushed.
func (b *BacklogCoordinator) Queue(ctx context.Context, env InboundEnvelope) {
	key := env.Conversation.Key()
	n := b.state.QueueBacklog(key, env, b.window, func() {
		b.flush(context.Background(), key)
	})
	logger.DebugCF("backlog", "queued stale message", map[string]any{
		"conversation": key,
		"batch_size":   n,
	})
}

func (b *BacklogCoordinator) flush(ctx context.Context, key string) {
	envs := b.state.TakeBacklog(key)
	if len(envs) == 0 {
		return
	}
	sort.SliceStable(envs, func(i, j int) bool { return envs[i].ReceivedAt < envs[j].ReceivedAt })

	if len(envs) == 1 {
		b.process(ctx, envs[0])
		return
	}

	b.state.SetUnresolved(key, envs)
	conv := envs[0].Conversation
	msg := OutboundEnvelope{
		BridgeID:     conv.BridgeID,
		Conversation: conv,
		Text:         fmt.Sprintf("I received %d messages while I was away. How should I handle them?", len(envs)),
		Buttons: []Button{
			{Label: "Process All", ActionID: ActionBacklog, Value: BacklogAll},
			{Label: "Latest Only", ActionID: ActionBacklog, Value: BacklogLatest},
			{Label: "Ignore", ActionID: ActionBacklog, Value: BacklogIgnore},
		},
	}
	if err := b.registry.Send(ctx, msg); err != nil {
		logger.ErrorCF("backlog", "decision prompt failed", map[string]any{
			"conversation": key,
			"error":        err.Error(),
		})
	}
}

// HasPendingDecision reports whether a decision prompt is outstanding.
func (b *BacklogCoordinator) HasPendingDecision(key string) bool {
	return b.state.HasUnresolved(key)
}

// ResolveDecision applies a backlog button click. Unknown values are treated
// as ignore.
func (b *BacklogCoordinator) ResolveDecision(ctx context.Context, env InboundEnvelope, value string) {
	key := env.Conversation.Key()
	envs, ok := b.state.TakeUnresolved(key)
	if !ok {
		b.reply(ctx, env.Conversation, "There is no pending backlog to resolve.")
		return
	}

	switch value {
	case BacklogAll:
		for _, e := range envs {
			b.process(ctx, e)
		}
	case BacklogLatest:
		b.process(ctx, envs[len(envs)-1])
	default:
		b.reply(ctx, env.Conversation, "Okay, ignoring those messages.")
	}
}

// Override discards an unresolved batch because the user moved on: a fresh
// message supersedes the stale ones without waiting for a button.
func (b *BacklogCoordinator) Override(key string) int {
	envs, ok := b.state.TakeUnresolved(key)
	if !ok {
		return 0
	}
	logger.InfoCF("backlog", "unresolved batch superseded by new message", map[string]any{
		"conversation": key,
		"dropped":      len(envs),
	})
	return len(envs)
}

func (b *BacklogCoordinator) reply(ctx context.Context, conv ConversationRef, text string) {
	if err := b.registry.Send(ctx, OutboundEnvelope{BridgeID: conv.BridgeID, Conversation: conv, Text: text}); err != nil {
		logger.WarnCF("backlog", "reply failed", map[string]any{"error": err.Error()})
	}
}
