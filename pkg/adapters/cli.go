package adapters

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/clawbridge/pkg/bridge"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// CLIAdapter is the local terminal conversation, mostly for development.
// Buttons render as a numbered list answered with "!<number>".
type CLIAdapter struct {
	*BaseAdapter
	rl     *readline.Instance
	cancel context.CancelFunc

	lastButtons []bridge.Button
}

func NewCLIAdapter(handler bridge.Handler) *CLIAdapter {
	return &CLIAdapter{
		BaseAdapter: NewBaseAdapter("cli", nil, handler),
	}
}

func (c *CLIAdapter) Start(ctx context.Context) error {
	rl, err := readline.New("> ")
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	c.rl = rl

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.readLoop(loopCtx)

	c.SetRunning(true)
	return nil
}

func (c *CLIAdapter) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

func (c *CLIAdapter) readLoop(ctx context.Context) {
	ref := bridge.ConversationRef{BridgeID: c.Name(), ChannelID: "local"}
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF || ctx.Err() != nil {
				return
			}
			logger.WarnCF("cli", "read failed", map[string]any{"error": err.Error()})
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var event bridge.Event
		if btn, ok := c.buttonByInput(line); ok {
			event = bridge.ButtonEvent(btn.ActionID, btn.Value)
		} else {
			event = bridge.ParseMessageText(line)
		}
		c.Deliver(ctx, bridge.InboundEnvelope{
			BridgeID:     c.Name(),
			Conversation: ref,
			UserID:       "local",
			ReceivedAt:   time.Now().Unix(),
			Event:        event,
		})
	}
}

// buttonByInput matches "!<n>" against the most recently printed buttons.
func (c *CLIAdapter) buttonByInput(line string) (bridge.Button, bool) {
	if !strings.HasPrefix(line, "!") {
		return bridge.Button{}, false
	}
	n := 0
	if _, err := fmt.Sscanf(line, "!%d", &n); err != nil {
		return bridge.Button{}, false
	}
	if n < 1 || n > len(c.lastButtons) {
		return bridge.Button{}, false
	}
	return c.lastButtons[n-1], true
}

func (c *CLIAdapter) Send(ctx context.Context, msg bridge.OutboundEnvelope) error {
	var b strings.Builder
	if msg.Text != "" {
		b.WriteString(msg.Text)
		b.WriteString("\n")
	}
	for _, chunk := range msg.Chunks {
		b.WriteString(chunk)
		b.WriteString("\n")
	}
	for _, att := range msg.Attachments {
		fmt.Fprintf(&b, "[attachment] %s\n", att.Path)
	}
	if len(msg.Buttons) > 0 {
		c.lastButtons = msg.Buttons
		for i, btn := range msg.Buttons {
			fmt.Fprintf(&b, "  !%d %s\n", i+1, btn.Label)
		}
	}

	out := b.String()
	if c.rl != nil {
		_, err := c.rl.Stdout().Write([]byte(out))
		return err
	}
	fmt.Print(out)
	return nil
}
