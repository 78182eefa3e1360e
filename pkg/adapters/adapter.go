// Package adapters holds the chat platform integrations. Each adapter
// translates its platform's events into inbound envelopes and delivers
// outbound envelopes; platform extras like typing indicators or message
// editing are opt-in capabilities discovered by type assertion.
package adapters

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
	"github.com/tinyland-inc/clawbridge/pkg/bridge"
)

// Adapter is a running chat platform connection.
type Adapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bridge.OutboundEnvelope) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// MessageLengthProvider is an opt-in interface adapters implement to
// advertise their platform's message length ceiling. The Manager splits
// outbound text accordingly.
type MessageLengthProvider interface {
	MaxMessageLength() int
}

// CommandAdvertiser is an opt-in interface for platforms with a native
// slash-command menu (Telegram's bot command list). The gateway pushes the
// merged command surface after startup.
type CommandAdvertiser interface {
	SetCommands(ctx context.Context, cmds []backend.CommandSpec) error
}

// BaseAdapterOption configures a BaseAdapter.
type BaseAdapterOption func(*BaseAdapter)

// WithMaxMessageLength sets the platform's message length limit in runes.
// Zero means no limit.
func WithMaxMessageLength(n int) BaseAdapterOption {
	return func(a *BaseAdapter) { a.maxMessageLength = n }
}

// BaseAdapter carries the shared adapter plumbing: name, allowlist, running
// flag and the handler events are delivered to.
type BaseAdapter struct {
	name             string
	allowList        []string
	handler          bridge.Handler
	running          atomic.Bool
	maxMessageLength int
}

func NewBaseAdapter(name string, allowList []string, handler bridge.Handler, opts ...BaseAdapterOption) *BaseAdapter {
	a := &BaseAdapter{
		name:      name,
		allowList: allowList,
		handler:   handler,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *BaseAdapter) Name() string { return a.name }

func (a *BaseAdapter) IsRunning() bool { return a.running.Load() }

func (a *BaseAdapter) SetRunning(running bool) { a.running.Store(running) }

// MaxMessageLength reports the platform limit in runes, zero for none.
func (a *BaseAdapter) MaxMessageLength() int { return a.maxMessageLength }

// IsAllowed checks senderID against the allowlist. An empty list allows
// everyone. Entries and sender ids may use the compound "id|username" form;
// either side of the compound matches.
func (a *BaseAdapter) IsAllowed(senderID string) bool {
	if len(a.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range a.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// Deliver runs the allowlist gate and hands the envelope to the bridge.
func (a *BaseAdapter) Deliver(ctx context.Context, env bridge.InboundEnvelope) {
	if !a.IsAllowed(env.UserID) {
		return
	}
	if a.handler != nil {
		a.handler(ctx, env)
	}
}

// encodeButtonData packs a button into a platform callback payload as
// "actionID:value". decodeButtonData splits at the first colon, so values
// may themselves contain colons.
func encodeButtonData(b bridge.Button) string {
	if b.Value == "" {
		return b.ActionID
	}
	return b.ActionID + ":" + b.Value
}

func decodeButtonData(data string) (actionID, value string) {
	actionID, value, _ = strings.Cut(data, ":")
	return actionID, value
}
