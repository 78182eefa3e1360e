package adapters

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
	"github.com/tinyland-inc/clawbridge/pkg/bridge"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// Manager owns the adapter set and implements the registry the bridge routes
// outbound traffic and capability lookups through.
type Manager struct {
	adapters map[string]Adapter
}

func NewManager() *Manager {
	return &Manager{adapters: make(map[string]Adapter)}
}

func (m *Manager) Register(a Adapter) {
	m.adapters[a.Name()] = a
}

// StartAll starts every registered adapter. One adapter failing to start is
// logged and skipped; the rest keep going.
func (m *Manager) StartAll(ctx context.Context) {
	for name, a := range m.adapters {
		if err := a.Start(ctx); err != nil {
			logger.ErrorCF("adapters", "start failed", map[string]any{
				"adapter": name, "error": err.Error(),
			})
			continue
		}
		logger.InfoCF("adapters", "started", map[string]any{"adapter": name})
	}
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, a := range m.adapters {
		if err := a.Stop(ctx); err != nil {
			logger.WarnCF("adapters", "stop failed", map[string]any{
				"adapter": name, "error": err.Error(),
			})
		}
	}
}

// Send routes one outbound envelope to its adapter, splitting text that
// exceeds the platform's advertised length limit.
func (m *Manager) Send(ctx context.Context, msg bridge.OutboundEnvelope) error {
	a, ok := m.adapters[msg.BridgeID]
	if !ok {
		return fmt.Errorf("no adapter registered for %q", msg.BridgeID)
	}

	if lp, ok := a.(MessageLengthProvider); ok {
		if limit := lp.MaxMessageLength(); limit > 0 && utf8.RuneCountInString(msg.Text) > limit {
			msg.Chunks = splitMessage(msg.Text, limit)
			msg.Text = ""
		}
	}
	return a.Send(ctx, msg)
}

func (m *Manager) Typer(bridgeID string) (bridge.Typer, bool) {
	if a, ok := m.adapters[bridgeID]; ok {
		if t, ok := a.(bridge.Typer); ok {
			return t, true
		}
	}
	return nil, false
}

func (m *Manager) ActivityEditor(bridgeID string) (bridge.ActivityEditor, bool) {
	if a, ok := m.adapters[bridgeID]; ok {
		if e, ok := a.(bridge.ActivityEditor); ok {
			return e, true
		}
	}
	return nil, false
}

func (m *Manager) MediaDownloader(bridgeID string) (bridge.MediaDownloader, bool) {
	if a, ok := m.adapters[bridgeID]; ok {
		if d, ok := a.(bridge.MediaDownloader); ok {
			return d, true
		}
	}
	return nil, false
}

// SetCommands pushes the command menu to every adapter whose platform has
// one. Failures are logged, never fatal.
func (m *Manager) SetCommands(ctx context.Context, cmds []backend.CommandSpec) {
	for name, a := range m.adapters {
		ca, ok := a.(CommandAdvertiser)
		if !ok {
			continue
		}
		if err := ca.SetCommands(ctx, cmds); err != nil {
			logger.WarnCF("adapters", "set commands failed", map[string]any{
				"adapter": name, "error": err.Error(),
			})
		}
	}
}

func (m *Manager) Health() map[string]string {
	out := make(map[string]string, len(m.adapters))
	for name, a := range m.adapters {
		if a.IsRunning() {
			out[name] = "running"
		} else {
			out[name] = "stopped"
		}
	}
	return out
}

// splitMessage cuts text into rune-bounded chunks, preferring newline
// boundaries so code blocks and paragraphs stay readable.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := limit
		window := string(runes[:limit])
		if idx := strings.LastIndex(window, "\n"); idx > limit/2 {
			cut = utf8.RuneCountInString(window[:idx])
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		text = strings.TrimLeft(string(runes[cut:]), "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
