package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

const busyMessage = "Another run is in progress. Use /interrupt to cancel it first."

// MetaScreenshotRequest marks a run result that asks the bridge to capture a
// screenshot. A non-empty value is an analysis instruction for a follow-up
// run over the captured image.
const MetaScreenshotRequest = "screenshot_request"

// ProcessorOptions carries the orchestrator tunables the processor needs.
type ProcessorOptions struct {
	Workspace                string
	AgentName                string
	FlushInterval            time.Duration
	MaxLinesPerFlush         int
	RetainLines              int
	MaxAttachmentBytes       int64
	MaxAttachmentsPerMessage int
	SessionIdle              time.Duration
	ReloadConfig             func() error
}

// EnvelopeProcessor executes one inbound envelope end to end: admission into
// the conversation's single run slot, native command handling, backend
// invocation with activity and permission callbacks, and result delivery.
type EnvelopeProcessor struct {
	state    *RuntimeState
	registry AdapterRegistry
	agent    backend.Backend
	sessions SessionStore
	perms    *PermissionCoordinator
	capturer Capturer
	opts     ProcessorOptions
}

func NewEnvelopeProcessor(state *RuntimeState, registry AdapterRegistry, agent backend.Backend, sessions SessionStore, perms *PermissionCoordinator, capturer Capturer, opts ProcessorOptions) *EnvelopeProcessor {
	return &EnvelopeProcessor{
		state:    state,
		registry: registry,
		agent:    agent,
		sessions: sessions,
		perms:    perms,
		capturer: capturer,
		opts:     opts,
	}
}

// Process runs env to completion. It acquires the conversation's run slot
// first; a conversation never has two concurrent runs, no matter how the
// envelope got here.
func (p *EnvelopeProcessor) Process(ctx context.Context, env InboundEnvelope) {
	key := env.Conversation.Key()
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)

	if !p.state.AcquireRun(key, runID, cancel) {
		cancel()
		p.reply(ctx, env.Conversation, busyMessage)
		return
	}
	defer func() {
		cancel()
		p.state.ReleaseRun(key, runID)
		p.rescheduleIdle(key)
	}()

	logger.InfoCF("processor", "run started", map[string]any{
		"run":          runID,
		"conversation": key,
		"kind":         string(env.Event.Kind),
	})

	if typer, ok := p.registry.Typer(env.BridgeID); ok {
		if stop, err := typer.BeginTyping(runCtx, env.Conversation); err == nil {
			defer stop()
		} else {
			logger.DebugCF("processor", "typing indicator unavailable", map[string]any{
				"bridge": env.BridgeID, "error": err.Error(),
			})
		}
	}

	switch env.Event.Kind {
	case EventSlash:
		if p.handleNative(runCtx, env) {
			return
		}
		p.run(runCtx, env)
	case EventText:
		p.run(runCtx, env)
	default:
		logger.WarnCF("processor", "unexpected event kind", map[string]any{
			"kind": string(env.Event.Kind),
		})
	}
}

// handleNative services the commands the bridge answers itself. It returns
// false for commands that belong to the agent backend (/init, /undo, /redo
// and anything backend-discovered).
func (p *EnvelopeProcessor) handleNative(ctx context.Context, env InboundEnvelope) bool {
	conv := env.Conversation
	key := conv.Key()
	args := env.Event.Args

	switch env.Event.Command {
	case "start":
		p.reply(ctx, conv, "Hi, I am your coding agent bridge. Send a message to start a run, or /help for commands.")
	case "new":
		if err := p.sessions.ClearSessionForConversation(key); err != nil {
			p.reply(ctx, conv, "Could not reset the session: "+err.Error())
			return true
		}
		p.reply(ctx, conv, "Started a fresh session.")
	case "cd":
		if len(args) == 0 {
			p.reply(ctx, conv, "Usage: /cd <directory>")
			return true
		}
		p.changeDir(ctx, env, args[0])
	case "cwd":
		p.reply(ctx, conv, p.cwdFor(key))
	case "session":
		if info, ok := p.sessions.SessionByConversation(key); ok && info.SessionID != "" {
			p.reply(ctx, conv, "Session: "+info.SessionID)
		} else {
			p.reply(ctx, conv, "No active session.")
		}
	case "agent":
		p.reply(ctx, conv, "Agent backend: "+p.opts.AgentName)
	case "pid":
		p.reply(ctx, conv, fmt.Sprintf("PID: %d", os.Getpid()))
	case "health":
		p.reply(ctx, conv, p.healthText())
	case "help":
		cmds := NativeCommands()
		if lister, ok := p.agent.(backend.CommandLister); ok {
			cmds = MergeCommands(cmds, lister.ListCommands())
		}
		p.reply(ctx, conv, HelpText(cmds))
	case "reload":
		if p.opts.ReloadConfig == nil {
			p.reply(ctx, conv, "Reload is not available.")
			return true
		}
		if err := p.opts.ReloadConfig(); err != nil {
			p.reply(ctx, conv, "Reload failed: "+err.Error())
			return true
		}
		p.reply(ctx, conv, "Configuration reloaded.")
	case "screenshot":
		p.screenshot(ctx, env)
	default:
		return false
	}
	return true
}

func (p *EnvelopeProcessor) changeDir(ctx context.Context, env InboundEnvelope, dir string) {
	conv := env.Conversation
	key := conv.Key()
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.cwdFor(key), dir)
	}
	dir = filepath.Clean(dir)
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		p.reply(ctx, conv, "Not a directory: "+dir)
		return
	}
	sessionID := ""
	if info, ok := p.sessions.SessionByConversation(key); ok {
		sessionID = info.SessionID
	}
	if err := p.sessions.SetSessionForConversation(key, sessionID, dir); err != nil {
		p.reply(ctx, conv, "Could not change directory: "+err.Error())
		return
	}
	p.reply(ctx, conv, "Working directory: "+dir)
}

func (p *EnvelopeProcessor) screenshot(ctx context.Context, env InboundEnvelope) {
	conv := env.Conversation
	if p.capturer == nil {
		p.reply(ctx, conv, "Screenshot capture is not configured.")
		return
	}
	path, err := p.capturer.Capture(ctx)
	if err != nil {
		p.reply(ctx, conv, "Screenshot failed: "+err.Error())
		return
	}
	if err := p.registry.Send(ctx, OutboundEnvelope{
		BridgeID:     conv.BridgeID,
		Conversation: conv,
		Attachments:  []Attachment{{Path: path, FileName: filepath.Base(path)}},
	}); err != nil {
		logger.WarnCF("processor", "screenshot delivery failed", map[string]any{"error": err.Error()})
	}
	if len(env.Event.Args) > 0 {
		prompt := fmt.Sprintf("Analyze the screenshot at %s: %s", path, strings.Join(env.Event.Args, " "))
		synthetic := env
		synthetic.Event = TextEvent(prompt)
		p.run(ctx, synthetic)
	}
}

// run invokes the agent backend for env and delivers the outcome.
func (p *EnvelopeProcessor) run(ctx context.Context, env InboundEnvelope) {
	conv := env.Conversation
	key := conv.Key()

	cwd := p.cwdFor(key)
	sessionID := ""
	if info, ok := p.sessions.SessionByConversation(key); ok {
		sessionID = info.SessionID
	}
	if sessionID == "" {
		id, err := p.agent.CreateSession(ctx, backend.CreateSessionOptions{Cwd: cwd})
		if err != nil {
			p.reply(ctx, conv, "Run failed: "+err.Error())
			return
		}
		sessionID = id
		if err := p.sessions.SetSessionForConversation(key, sessionID, cwd); err != nil {
			logger.WarnCF("processor", "session persist failed", map[string]any{"error": err.Error()})
		}
	}

	streamer := NewActivityStreamer(p.registry, conv, p.opts.FlushInterval, p.opts.MaxLinesPerFlush, p.opts.RetainLines)

	opts := backend.RunOptions{
		SessionID:  sessionID,
		Cwd:        cwd,
		OnActivity: streamer.Push,
		OnPermission: func(permCtx context.Context, req backend.PermissionRequest) backend.PermissionResponse {
			return p.perms.Request(permCtx, conv, env.UserID, req)
		},
	}

	var (
		res *backend.RunResult
		err error
	)
	if env.Event.Kind == EventSlash {
		if !IsSilentCommand(env.Event.Command) {
			streamer.Push("running /" + env.Event.Command)
		}
		opts.Command = env.Event.Command
		opts.Args = env.Event.Args
		res, err = p.agent.RunCommand(ctx, opts)
	} else {
		streamer.Push("run started")
		opts.Prompt = env.Event.Text
		res, err = p.agent.RunPrompt(ctx, opts)
	}

	switch {
	case err == nil:
		if res.SessionID != "" && res.SessionID != sessionID {
			if perr := p.sessions.SetSessionForConversation(key, res.SessionID, cwd); perr != nil {
				logger.WarnCF("processor", "session persist failed", map[string]any{"error": perr.Error()})
			}
		}
		streamer.Finish("run completed")
		p.deliver(ctx, env, res)
	case ctx.Err() == context.Canceled:
		streamer.Finish("run interrupted")
	default:
		streamer.Finish(fmt.Sprintf("run failed (%s)", err.Error()))
		p.reply(context.Background(), conv, "Run failed: "+err.Error())
	}
}

// deliver sends the run result, filtering attachments that are missing, too
// large, or beyond the per-message cap, then services any capture request
// the result's metadata carries.
func (p *EnvelopeProcessor) deliver(ctx context.Context, env InboundEnvelope, res *backend.RunResult) {
	conv := env.Conversation
	var kept []Attachment
	var skipped []string
	for _, att := range res.Attachments {
		name := att.FileName
		if name == "" {
			name = filepath.Base(att.Path)
		}
		if p.opts.MaxAttachmentsPerMessage > 0 && len(kept) >= p.opts.MaxAttachmentsPerMessage {
			skipped = append(skipped, name+" (attachment limit reached)")
			continue
		}
		fi, err := os.Stat(att.Path)
		if err != nil {
			skipped = append(skipped, name+" (missing)")
			continue
		}
		if p.opts.MaxAttachmentBytes > 0 && fi.Size() > p.opts.MaxAttachmentBytes {
			skipped = append(skipped, name+" (too large)")
			continue
		}
		kept = append(kept, Attachment{Path: att.Path, FileName: name})
	}

	if res.Text != "" || len(kept) > 0 {
		if err := p.registry.Send(ctx, OutboundEnvelope{
			BridgeID:     conv.BridgeID,
			Conversation: conv,
			Text:         res.Text,
			Attachments:  kept,
			Meta:         res.Meta,
		}); err != nil {
			logger.ErrorCF("processor", "result delivery failed", map[string]any{"error": err.Error()})
		}
	}
	if len(skipped) > 0 {
		p.reply(ctx, conv, "Skipped attachments: "+strings.Join(skipped, ", "))
	}

	if instruction, ok := res.Meta[MetaScreenshotRequest]; ok {
		capture := env
		capture.Event = Event{Kind: EventSlash, Command: "screenshot", Args: strings.Fields(instruction)}
		p.screenshot(ctx, capture)
	}
}

func (p *EnvelopeProcessor) cwdFor(key string) string {
	if info, ok := p.sessions.SessionByConversation(key); ok && info.Cwd != "" {
		return info.Cwd
	}
	return p.opts.Workspace
}

func (p *EnvelopeProcessor) healthText() string {
	var b strings.Builder
	b.WriteString("Bridge health:\n")
	for name, status := range p.registry.Health() {
		fmt.Fprintf(&b, "  %s: %s\n", name, status)
	}
	snap := p.state.Snapshot()
	fmt.Fprintf(&b, "  active runs: %d\n", snap["active_runs"])
	fmt.Fprintf(&b, "  pending permissions: %d", snap["pending_permissions"])
	return b.String()
}

// rescheduleIdle arms session expiry after the conversation goes quiet.
func (p *EnvelopeProcessor) rescheduleIdle(key string) {
	if p.opts.SessionIdle <= 0 {
		return
	}
	p.state.RescheduleIdle(key, p.opts.SessionIdle, func() {
		if err := p.sessions.ClearSessionForConversation(key); err != nil {
			logger.WarnCF("processor", "idle session cleanup failed", map[string]any{
				"conversation": key, "error": err.Error(),
			})
			return
		}
		logger.InfoCF("processor", "idle session expired", map[string]any{"conversation": key})
	})
}

func (p *EnvelopeProcessor) reply(ctx context.Context, conv ConversationRef, text string) {
	if err := p.registry.Send(ctx, OutboundEnvelope{BridgeID: conv.BridgeID, Conversation: conv, Text: text}); err != nil {
		logger.WarnCF("processor", "reply failed", map[string]any{"error": err.Error()})
	}
}
