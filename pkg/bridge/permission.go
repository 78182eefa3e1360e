package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// ActionPermission is the button action id for permission prompts. The value
// carries "<response>:<request id>".
const ActionPermission = "perm"

// PermissionCoordinator runs the human-approval handshake: a backend blocks
// mid-run on Request, the user answers through a button or a text command,
// and exactly one response is delivered per request. Timeouts and unanswered
// shutdowns resolve to reject; the failure mode is always fail closed.
type PermissionCoordinator struct {
	state    *RuntimeState
	store    PermissionStore
	registry AdapterRegistry
	timeout  time.Duration
}

func NewPermissionCoordinator(state *RuntimeState, store PermissionStore, registry AdapterRegistry, timeout time.Duration) *PermissionCoordinator {
	return &PermissionCoordinator{state: state, store: store, registry: registry, timeout: timeout}
}

// Request raises a permission prompt in the conversation and blocks until it
// is answered, times out, or the run is cancelled. Only one request per
// conversation can be live; a newer one supersedes the old as reject.
func (p *PermissionCoordinator) Request(ctx context.Context, conv ConversationRef, requesterUserID string, req backend.PermissionRequest) backend.PermissionResponse {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	key := conv.Key()

	pending := &pendingPermission{
		id:              id,
		convKey:         key,
		requesterUserID: requesterUserID,
		resolve:         make(chan backend.PermissionResponse, 1),
	}

	if old := p.state.PutPendingPermission(pending); old != nil {
		if old.timer != nil {
			old.timer.Stop()
		}
		_, _ = p.store.ResolvePending(old.id, string(backend.PermissionReject))
		old.resolve <- backend.PermissionReject
		logger.WarnCF("permission", "superseded pending request", map[string]any{
			"old": old.id, "new": id,
		})
	}

	rec := PermissionRecord{
		ID:              id,
		ConversationKey: key,
		RequesterUserID: requesterUserID,
		Status:          PermissionPending,
		ExpiresAt:       time.Now().Add(p.timeout),
	}
	if err := p.store.CreatePending(rec); err != nil {
		logger.ErrorCF("permission", "persist failed, rejecting", map[string]any{
			"id": id, "error": err.Error(),
		})
		p.state.TakePendingPermission(id)
		return backend.PermissionReject
	}

	pending.timer = time.AfterFunc(p.timeout, func() { p.expire(id) })

	text := fmt.Sprintf("Permission requested: %s\n%s", req.ToolName, req.Description)
	msg := OutboundEnvelope{
		BridgeID:     conv.BridgeID,
		Conversation: conv,
		Text:         text,
		Buttons: []Button{
			{Label: "Allow Once", ActionID: ActionPermission, Value: string(backend.PermissionOnce) + ":" + id},
			{Label: "Always Allow", ActionID: ActionPermission, Value: string(backend.PermissionAlways) + ":" + id},
			{Label: "Reject", ActionID: ActionPermission, Value: string(backend.PermissionReject) + ":" + id},
		},
	}
	if err := p.registry.Send(ctx, msg); err != nil {
		logger.ErrorCF("permission", "prompt delivery failed", map[string]any{
			"id": id, "error": err.Error(),
		})
	}

	select {
	case resp := <-pending.resolve:
		return resp
	case <-ctx.Done():
		if taken, ok := p.state.TakePendingPermission(id); ok {
			if taken.timer != nil {
				taken.timer.Stop()
			}
			_, _ = p.store.ResolvePending(id, string(backend.PermissionReject))
		}
		return backend.PermissionReject
	}
}

func (p *PermissionCoordinator) expire(id string) {
	pending, ok := p.state.TakePendingPermission(id)
	if !ok {
		return
	}
	if err := p.store.MarkExpired(id); err != nil {
		logger.WarnCF("permission", "mark expired failed", map[string]any{"id": id, "error": err.Error()})
	}
	if conv, ok := p.state.ConversationByKey(pending.convKey); ok {
		p.reply(context.Background(), conv, "Permission request expired: "+id)
	}
	pending.resolve <- backend.PermissionReject
}

// Resolve applies a user's answer to request id. Every validation failure is
// reported to the conversation and leaves the handshake untouched.
func (p *PermissionCoordinator) Resolve(ctx context.Context, env InboundEnvelope, id string, resp backend.PermissionResponse) {
	conv := env.Conversation

	rec, recOK := p.store.ByID(id)
	pending, liveOK := p.state.LookupPendingPermission(id)

	if !recOK && !liveOK {
		p.reply(ctx, conv, "Unknown permission request: "+id)
		return
	}
	if recOK {
		switch rec.Status {
		case PermissionExpired:
			p.reply(ctx, conv, "Permission request expired: "+id)
			return
		case PermissionSubmitted:
			p.reply(ctx, conv, "That permission request was already answered.")
			return
		}
	}
	if liveOK {
		if pending.convKey != conv.Key() {
			p.reply(ctx, conv, "That permission request belongs to a different conversation.")
			return
		}
		if pending.requesterUserID != "" && env.UserID != "" && pending.requesterUserID != env.UserID {
			p.reply(ctx, conv, "Only the user who started the run can answer this request.")
			return
		}
	}

	taken, ok := p.state.TakePendingPermission(id)
	if !ok {
		// Restart orphan: persisted pending but no live waiter.
		_, _ = p.store.ResolvePending(id, string(backend.PermissionReject))
		p.reply(ctx, conv, "The run that requested this permission is no longer active.")
		return
	}
	if taken.timer != nil {
		taken.timer.Stop()
	}

	outcome, err := p.store.ResolvePending(id, string(resp))
	if err != nil {
		logger.ErrorCF("permission", "resolve persist failed", map[string]any{"id": id, "error": err.Error()})
	}
	switch outcome {
	case ResolveExpired:
		p.reply(ctx, conv, "Permission request expired: "+id)
		taken.resolve <- backend.PermissionReject
		return
	case ResolveAlreadySubmitted:
		p.reply(ctx, conv, "That permission request was already answered.")
		return
	}

	taken.resolve <- resp
	switch resp {
	case backend.PermissionOnce:
		p.reply(ctx, conv, "Allowed once.")
	case backend.PermissionAlways:
		p.reply(ctx, conv, "Always allowing this tool for the session.")
	default:
		p.reply(ctx, conv, "Rejected.")
	}
}

// ResolveButton decodes a permission button value ("<response>:<id>").
func (p *PermissionCoordinator) ResolveButton(ctx context.Context, env InboundEnvelope, value string) {
	respRaw, id, found := strings.Cut(value, ":")
	if !found || id == "" {
		p.reply(ctx, env.Conversation, "Malformed permission response.")
		return
	}
	p.Resolve(ctx, env, id, backend.ParsePermissionResponse(respRaw))
}

// ResolveText handles the /permit and /allow text forms:
//
//	/permit <response>
//	/permit <id> <response>
//
// With no id the most recent request in the conversation is assumed.
func (p *PermissionCoordinator) ResolveText(ctx context.Context, env InboundEnvelope, args []string) {
	var id, respRaw string
	switch len(args) {
	case 0:
		p.reply(ctx, env.Conversation, "Usage: /permit [id] once|always|reject")
		return
	case 1:
		respRaw = args[0]
	default:
		id = args[0]
		respRaw = args[1]
	}

	if id == "" {
		last, ok := p.state.LastPermissionID(env.Conversation.Key())
		if !ok {
			p.reply(ctx, env.Conversation, "There is no pending permission request here.")
			return
		}
		id = last
	}
	p.Resolve(ctx, env, id, backend.ParsePermissionResponse(strings.ToLower(respRaw)))
}

func (p *PermissionCoordinator) reply(ctx context.Context, conv ConversationRef, text string) {
	if err := p.registry.Send(ctx, OutboundEnvelope{BridgeID: conv.BridgeID, Conversation: conv, Text: text}); err != nil {
		logger.WarnCF("permission", "reply failed", map[string]any{"error": err.Error()})
	}
}
