package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// InboundDispatcher is the single decision point for every inbound envelope.
// Branches are evaluated first match wins; control commands and permission
// answers get through even while a run is active, everything else is gated
// on the conversation's run slot and staleness.
type InboundDispatcher struct {
	state    *RuntimeState
	registry AdapterRegistry
	backlog  *BacklogCoordinator
	perms    *PermissionCoordinator
	proc     *EnvelopeProcessor
	sessions SessionStore
	media    MediaStore
}

func NewInboundDispatcher(state *RuntimeState, registry AdapterRegistry, backlog *BacklogCoordinator, perms *PermissionCoordinator, proc *EnvelopeProcessor, sessions SessionStore, media MediaStore) *InboundDispatcher {
	return &InboundDispatcher{
		state:    state,
		registry: registry,
		backlog:  backlog,
		perms:    perms,
		proc:     proc,
		sessions: sessions,
		media:    media,
	}
}

// Dispatch routes one envelope. Called once per inbound event, each on its
// own goroutine; it blocks for the duration of any run it starts.
func (d *InboundDispatcher) Dispatch(ctx context.Context, env InboundEnvelope) {
	conv := env.Conversation
	key := conv.Key()
	d.state.RememberConversation(conv)
	// Every inbound event counts as activity for session expiry.
	d.proc.rescheduleIdle(key)

	ev := env.Event
	switch {
	// Interrupt cuts through everything, including the active-run gate.
	case ev.Kind == EventSlash && (ev.Command == "interrupt" || ev.Command == "interupt"):
		if d.state.CancelRun(key) {
			d.reply(ctx, conv, "Interrupt signal sent.")
		} else {
			d.reply(ctx, conv, "No active run to interrupt.")
		}

	// Runtime snapshot, answered immediately even mid-run.
	case ev.Kind == EventSlash && ev.Command == "context":
		d.reply(ctx, conv, d.contextText(key))

	// Text-form permission answers.
	case ev.Kind == EventSlash && (ev.Command == "permit" || ev.Command == "permission" || ev.Command == "allow"):
		d.perms.ResolveText(ctx, env, ev.Args)

	// Button-form permission answers.
	case ev.Kind == EventButton && ev.ActionID == ActionPermission:
		d.perms.ResolveButton(ctx, env, ev.Value)

	// New work is refused while a run is active. Buttons keep flowing so the
	// run's own prompts stay answerable.
	case (ev.Kind == EventText || ev.Kind == EventSlash || ev.Kind == EventMedia) && d.hasActiveRun(key):
		d.reply(ctx, conv, busyMessage)

	// Media: download, persist, then re-enter as a synthetic text event.
	case ev.Kind == EventMedia:
		d.handleMedia(ctx, env)

	// Backlog decision buttons.
	case ev.Kind == EventButton && ev.ActionID == ActionBacklog:
		d.backlog.ResolveDecision(ctx, env, ev.Value)

	// A plain text message supersedes an unresolved backlog decision, stale
	// or not. Slash commands leave the prompt in place.
	case ev.Kind == EventText && d.backlog.HasPendingDecision(key):
		d.backlog.Override(key)
		d.proc.Process(ctx, env)

	// Stale messages batch; live ones run.
	case d.backlog.IsStale(env, time.Now()):
		d.backlog.Queue(ctx, env)

	default:
		d.proc.Process(ctx, env)
	}
}

func (d *InboundDispatcher) hasActiveRun(key string) bool {
	_, ok := d.state.ActiveRunID(key)
	return ok
}

func (d *InboundDispatcher) handleMedia(ctx context.Context, env InboundEnvelope) {
	conv := env.Conversation
	dl, ok := d.registry.MediaDownloader(env.BridgeID)
	if !ok {
		d.reply(ctx, conv, "This platform does not support file uploads here.")
		return
	}
	payload, err := dl.DownloadMedia(ctx, env)
	if err != nil {
		d.reply(ctx, conv, "Could not download the file: "+err.Error())
		return
	}
	name := payload.FileNameHint
	if name == "" {
		name = env.Event.FileName
	}
	path, err := d.media.SaveRemoteFile(env.BridgeID, conv.ChannelID, name, payload.Bytes)
	if err != nil {
		d.reply(ctx, conv, "Could not save the file: "+err.Error())
		return
	}
	d.reply(ctx, conv, "Saved "+path)

	text := fmt.Sprintf("[file saved at %s]", path)
	if caption := strings.TrimSpace(env.Event.Caption); caption != "" {
		text = caption + "\n" + text
	}
	synthetic := env
	synthetic.Event = TextEvent(text)
	d.Dispatch(ctx, synthetic)
}

func (d *InboundDispatcher) contextText(key string) string {
	var b strings.Builder
	b.WriteString("Conversation context:\n")
	if info, ok := d.sessions.SessionByConversation(key); ok && info.SessionID != "" {
		fmt.Fprintf(&b, "  session: %s\n", info.SessionID)
		fmt.Fprintf(&b, "  cwd: %s\n", info.Cwd)
	} else {
		b.WriteString("  session: none\n")
	}
	if runID, ok := d.state.ActiveRunID(key); ok {
		fmt.Fprintf(&b, "  active run: %s\n", runID)
	} else {
		b.WriteString("  active run: none\n")
	}
	if d.backlog.HasPendingDecision(key) {
		b.WriteString("  backlog decision: pending")
	} else {
		b.WriteString("  backlog decision: none")
	}
	return b.String()
}

func (d *InboundDispatcher) reply(ctx context.Context, conv ConversationRef, text string) {
	if err := d.registry.Send(ctx, OutboundEnvelope{BridgeID: conv.BridgeID, Conversation: conv, Text: text}); err != nil {
		logger.WarnCF("dispatcher", "reply failed", map[string]any{"error": err.Error()})
	}
}
