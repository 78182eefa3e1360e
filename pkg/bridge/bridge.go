// Package bridge is the runtime orchestrator between chat adapters and one
// agent backend: it classifies inbound events, batches stale messages,
// brokers permission handshakes, streams run activity, and enforces one
// active run per conversation.
package bridge

import (
	"context"
	"time"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
	"github.com/tinyland-inc/clawbridge/pkg/config"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// Core owns the orchestrator's moving parts and hands adapters a single
// Handler entry point.
type Core struct {
	state      *RuntimeState
	dispatcher *InboundDispatcher
	perms      *PermissionCoordinator
	backlog    *BacklogCoordinator
	proc       *EnvelopeProcessor
}

// Deps are the collaborators the core does not construct itself.
type Deps struct {
	Registry     AdapterRegistry
	Agent        backend.Backend
	AgentName    string
	Sessions     SessionStore
	Permissions  PermissionStore
	Media        MediaStore
	Capturer     Capturer
	ReloadConfig func() error
}

// NewCore wires the orchestrator from config and collaborators.
func NewCore(cfg *config.Config, deps Deps) *Core {
	state := NewRuntimeState()

	perms := NewPermissionCoordinator(
		state,
		deps.Permissions,
		deps.Registry,
		time.Duration(cfg.Bridge.PermissionTimeoutMs)*time.Millisecond,
	)

	proc := NewEnvelopeProcessor(state, deps.Registry, deps.Agent, deps.Sessions, perms, deps.Capturer, ProcessorOptions{
		Workspace:                cfg.WorkspacePath(),
		AgentName:                deps.AgentName,
		FlushInterval:            time.Duration(cfg.Bridge.FlushIntervalMs) * time.Millisecond,
		MaxLinesPerFlush:         cfg.Bridge.MaxLinesPerFlush,
		RetainLines:              cfg.Bridge.RetainLines,
		MaxAttachmentBytes:       cfg.Bridge.MaxAttachmentBytes,
		MaxAttachmentsPerMessage: cfg.Bridge.MaxAttachmentsPerMessage,
		SessionIdle:              time.Duration(cfg.Bridge.SessionIdleMinutes) * time.Minute,
		ReloadConfig:             deps.ReloadConfig,
	})

	backlogC := NewBacklogCoordinator(
		state,
		deps.Registry,
		time.Duration(cfg.Bridge.StaleSeconds)*time.Second,
		time.Duration(cfg.Bridge.BatchWindowMs)*time.Millisecond,
		proc.Process,
	)

	dispatcher := NewInboundDispatcher(state, deps.Registry, backlogC, perms, proc, deps.Sessions, deps.Media)

	return &Core{
		state:      state,
		dispatcher: dispatcher,
		perms:      perms,
		backlog:    backlogC,
		proc:       proc,
	}
}

// Handler returns the entry point adapters call for every inbound event.
// Each envelope gets its own goroutine; a run blocks its conversation, not
// the adapter's receive loop.
func (c *Core) Handler() Handler {
	return func(ctx context.Context, env InboundEnvelope) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("bridge", "dispatch panicked", map[string]any{
						"conversation": env.Conversation.Key(),
						"panic":        r,
					})
				}
			}()
			c.dispatcher.Dispatch(ctx, env)
		}()
	}
}

// State exposes runtime counters for status surfaces.
func (c *Core) State() *RuntimeState {
	return c.state
}
