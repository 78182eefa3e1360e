package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/clawbridge/pkg/bridge"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

const discordMaxMessageLength = 2000

// DiscordAdapter bridges Discord over the gateway websocket. Buttons are
// message components; media arrives as attachment URLs.
type DiscordAdapter struct {
	*BaseAdapter
	token   string
	session *discordgo.Session
}

func NewDiscordAdapter(token string, allowList []string, handler bridge.Handler) *DiscordAdapter {
	return &DiscordAdapter{
		BaseAdapter: NewBaseAdapter("discord", allowList, handler,
			WithMaxMessageLength(discordMaxMessageLength)),
		token: token,
	}
}

func (d *DiscordAdapter) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.handleMessage(ctx, s, m)
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		d.handleInteraction(ctx, s, i)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.session = session
	d.SetRunning(true)
	return nil
}

func (d *DiscordAdapter) Stop(ctx context.Context) error {
	d.SetRunning(false)
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *DiscordAdapter) handleMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	conv := bridge.ConversationRef{BridgeID: d.Name(), ChannelID: m.ChannelID}
	userID := m.Author.ID
	if m.Author.Username != "" {
		userID += "|" + m.Author.Username
	}

	var event bridge.Event
	switch {
	case len(m.Attachments) > 0:
		att := m.Attachments[0]
		event = bridge.MediaEvent("file", att.URL, att.Filename, att.ContentType, m.Content)
	case m.Content != "":
		event = bridge.ParseMessageText(m.Content)
	default:
		return
	}

	d.Deliver(ctx, bridge.InboundEnvelope{
		BridgeID:     d.Name(),
		Conversation: conv,
		UserID:       userID,
		ReceivedAt:   m.Timestamp.Unix(),
		Event:        event,
	})
}

func (d *DiscordAdapter) handleInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	// Acknowledge so Discord does not show "interaction failed".
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})

	actionID, value := decodeButtonData(i.MessageComponentData().CustomID)
	if actionID == "" {
		return
	}
	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}
	d.Deliver(ctx, bridge.InboundEnvelope{
		BridgeID:     d.Name(),
		Conversation: bridge.ConversationRef{BridgeID: d.Name(), ChannelID: i.ChannelID},
		UserID:       userID,
		ReceivedAt:   time.Now().Unix(),
		Event:        bridge.ButtonEvent(actionID, value),
	})
}

func (d *DiscordAdapter) Send(ctx context.Context, msg bridge.OutboundEnvelope) error {
	channelID := msg.Conversation.ChannelID

	texts := msg.Chunks
	if msg.Text != "" {
		texts = append([]string{msg.Text}, texts...)
	}
	for i, text := range texts {
		if i == len(texts)-1 && len(msg.Buttons) > 0 {
			if _, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
				Content:    text,
				Components: []discordgo.MessageComponent{discordButtons(msg.Buttons)},
			}); err != nil {
				return fmt.Errorf("discord send: %w", err)
			}
			continue
		}
		if _, err := d.session.ChannelMessageSend(channelID, text); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		f, err := os.Open(att.Path)
		if err != nil {
			logger.WarnCF("discord", "attachment open failed", map[string]any{
				"path": att.Path, "error": err.Error(),
			})
			continue
		}
		name := att.FileName
		if name == "" {
			name = "file"
		}
		_, err = d.session.ChannelFileSend(channelID, name, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("discord send file: %w", err)
		}
	}
	return nil
}

// BeginTyping fires the channel typing indicator and refreshes it until
// stopped; Discord drops it after roughly ten seconds.
func (d *DiscordAdapter) BeginTyping(ctx context.Context, conv bridge.ConversationRef) (func(), error) {
	typingCtx, cancel := context.WithCancel(ctx)
	if err := d.session.ChannelTyping(conv.ChannelID); err != nil {
		cancel()
		return nil, err
	}
	go func() {
		ticker := time.NewTicker(8 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				_ = d.session.ChannelTyping(conv.ChannelID)
			}
		}
	}()
	return cancel, nil
}

// UpsertActivityMessage edits the status message in place; the token is the
// Discord message id.
func (d *DiscordAdapter) UpsertActivityMessage(ctx context.Context, conv bridge.ConversationRef, text, token string) (string, error) {
	if token == "" {
		sent, err := d.session.ChannelMessageSend(conv.ChannelID, text)
		if err != nil {
			return "", err
		}
		return sent.ID, nil
	}
	if _, err := d.session.ChannelMessageEdit(conv.ChannelID, token, text); err != nil {
		return "", err
	}
	return token, nil
}

// DownloadMedia fetches an attachment by its CDN URL, which the message
// handler stored in the event's FileID.
func (d *DiscordAdapter) DownloadMedia(ctx context.Context, env bridge.InboundEnvelope) (*bridge.MediaPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.Event.FileID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	return &bridge.MediaPayload{
		Bytes:        data,
		FileNameHint: env.Event.FileName,
		MimeType:     env.Event.MimeType,
	}, nil
}

func discordButtons(buttons []bridge.Button) discordgo.ActionsRow {
	components := make([]discordgo.MessageComponent, 0, len(buttons))
	for _, b := range buttons {
		components = append(components, discordgo.Button{
			Label:    b.Label,
			Style:    discordgo.PrimaryButton,
			CustomID: encodeButtonData(b),
		})
	}
	return discordgo.ActionsRow{Components: components}
}
