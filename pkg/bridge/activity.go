package bridge

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// activityCharLimit is the hard ceiling for one status message across every
// supported platform.
const activityCharLimit = 3500

// ActivityStreamer relays incremental run progress to the conversation as a
// single status message that is edited in place when the adapter supports it
// and re-sent otherwise. Pushes are coalesced behind a debounce window so a
// chatty backend cannot flood the platform with edits.
type ActivityStreamer struct {
	registry AdapterRegistry
	conv     ConversationRef

	flushInterval time.Duration
	maxPerFlush   int
	retainLines   int

	mu        sync.Mutex
	pending   []string
	shown     []string
	token     string
	scheduled bool
	finished  bool
}

func NewActivityStreamer(registry AdapterRegistry, conv ConversationRef, flushInterval time.Duration, maxPerFlush, retainLines int) *ActivityStreamer {
	return &ActivityStreamer{
		registry:      registry,
		conv:          conv,
		flushInterval: flushInterval,
		maxPerFlush:   maxPerFlush,
		retainLines:   retainLines,
	}
}

// Push queues one progress line. Safe from any goroutine; after Finish it is
// a no-op.
func (a *ActivityStreamer) Push(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}
	a.pending = append(a.pending, line)
	if !a.scheduled {
		a.scheduled = true
		time.AfterFunc(a.flushInterval, a.flush)
	}
}

func (a *ActivityStreamer) flush() {
	a.mu.Lock()
	if a.finished {
		a.scheduled = false
		a.mu.Unlock()
		return
	}
	n := len(a.pending)
	if n > a.maxPerFlush {
		n = a.maxPerFlush
	}
	a.shown = append(a.shown, a.pending[:n]...)
	a.pending = a.pending[n:]
	if len(a.pending) > 0 {
		time.AfterFunc(a.flushInterval, a.flush)
	} else {
		a.scheduled = false
	}
	a.trimLocked()
	text := renderActivity(a.shown, activityCharLimit)
	a.mu.Unlock()

	a.upsert(text)
}

// Finish drains everything still pending, appends the terminal line and
// performs one final edit. Idempotent.
func (a *ActivityStreamer) Finish(terminal string) {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.finished = true
	a.shown = append(a.shown, a.pending...)
	a.pending = nil
	a.shown = append(a.shown, terminal)
	a.trimLocked()
	text := renderActivity(a.shown, activityCharLimit)
	a.mu.Unlock()

	a.upsert(text)
}

func (a *ActivityStreamer) trimLocked() {
	if a.retainLines > 0 && len(a.shown) > a.retainLines {
		a.shown = a.shown[len(a.shown)-a.retainLines:]
	}
}

func (a *ActivityStreamer) upsert(text string) {
	if text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if editor, ok := a.registry.ActivityEditor(a.conv.BridgeID); ok {
		a.mu.Lock()
		token := a.token
		a.mu.Unlock()
		newToken, err := editor.UpsertActivityMessage(ctx, a.conv, text, token)
		if err == nil {
			a.mu.Lock()
			a.token = newToken
			a.mu.Unlock()
			return
		}
		logger.WarnCF("bridge", "activity edit failed, falling back to send", map[string]any{
			"bridge": a.conv.BridgeID,
			"error":  err.Error(),
		})
	}

	if err := a.registry.Send(ctx, OutboundEnvelope{
		BridgeID:     a.conv.BridgeID,
		Conversation: a.conv,
		Text:         text,
	}); err != nil {
		logger.WarnCF("bridge", "activity send failed", map[string]any{
			"bridge": a.conv.BridgeID,
			"error":  err.Error(),
		})
	}
}

// renderActivity formats progress lines as a quoted block, dropping the
// oldest lines until the result fits within limit characters.
func renderActivity(lines []string, limit int) string {
	if len(lines) == 0 {
		return ""
	}
	for start := 0; start < len(lines); start++ {
		text := "> " + strings.Join(lines[start:], "\n> ")
		if utf8.RuneCountInString(text) <= limit {
			return text
		}
	}
	// A single oversized line still has to fit.
	last := "> " + lines[len(lines)-1]
	runes := []rune(last)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}
