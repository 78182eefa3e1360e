package adapters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tinyland-inc/clawbridge/pkg/bridge"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// SlackAdapter bridges Slack over Socket Mode. Threads map to conversation
// thread ids, buttons are Block Kit actions, and the activity message is
// edited via chat.update.
type SlackAdapter struct {
	*BaseAdapter
	botToken string
	appToken string
	api      *slack.Client
	socket   *socketmode.Client
	botID    string
	cancel   context.CancelFunc
}

func NewSlackAdapter(botToken, appToken string, allowList []string, handler bridge.Handler) *SlackAdapter {
	return &SlackAdapter{
		BaseAdapter: NewBaseAdapter("slack", allowList, handler),
		botToken:    botToken,
		appToken:    appToken,
	}
}

func (s *SlackAdapter) Start(ctx context.Context) error {
	s.api = slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))

	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botID = auth.UserID

	s.socket = socketmode.New(s.api)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		if err := s.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.ErrorCF("slack", "socket mode stopped", map[string]any{"error": err.Error()})
		}
	}()
	go s.eventLoop(runCtx)

	s.SetRunning(true)
	return nil
}

func (s *SlackAdapter) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.SetRunning(false)
	return nil
}

func (s *SlackAdapter) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				s.socket.Ack(*evt.Request)
				s.handleEventsAPI(ctx, apiEvent)
			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				s.socket.Ack(*evt.Request)
				s.handleInteraction(ctx, callback)
			}
		}
	}
}

func (s *SlackAdapter) handleEventsAPI(ctx context.Context, apiEvent slackevents.EventsAPIEvent) {
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if ev.User == "" || ev.User == s.botID || ev.BotID != "" || ev.SubType != "" {
		return
	}

	conv := bridge.ConversationRef{
		BridgeID:  s.Name(),
		ChannelID: ev.Channel,
		ThreadID:  ev.ThreadTimeStamp,
	}
	s.Deliver(ctx, bridge.InboundEnvelope{
		BridgeID:     s.Name(),
		Conversation: conv,
		UserID:       ev.User,
		ReceivedAt:   slackTimestampUnix(ev.TimeStamp),
		Event:        bridge.ParseMessageText(ev.Text),
	})
}

func (s *SlackAdapter) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		return
	}
	action := callback.ActionCallback.BlockActions[0]
	actionID, value := decodeButtonData(action.ActionID)
	if actionID == "" {
		return
	}
	conv := bridge.ConversationRef{
		BridgeID:  s.Name(),
		ChannelID: callback.Channel.ID,
	}
	s.Deliver(ctx, bridge.InboundEnvelope{
		BridgeID:     s.Name(),
		Conversation: conv,
		UserID:       callback.User.ID,
		ReceivedAt:   time.Now().Unix(),
		Event:        bridge.ButtonEvent(actionID, value),
	})
}

func (s *SlackAdapter) Send(ctx context.Context, msg bridge.OutboundEnvelope) error {
	channelID := msg.Conversation.ChannelID

	texts := msg.Chunks
	if msg.Text != "" {
		texts = append([]string{msg.Text}, texts...)
	}
	for i, text := range texts {
		opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
		if msg.Conversation.ThreadID != "" {
			opts = append(opts, slack.MsgOptionTS(msg.Conversation.ThreadID))
		}
		if i == len(texts)-1 && len(msg.Buttons) > 0 {
			opts = append(opts, slack.MsgOptionBlocks(slackBlocks(text, msg.Buttons)...))
		}
		if _, _, err := s.api.PostMessageContext(ctx, channelID, opts...); err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		name := att.FileName
		if name == "" {
			name = "file"
		}
		if _, err := s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			Channel:  channelID,
			File:     att.Path,
			Filename: name,
			Title:    name,
		}); err != nil {
			return fmt.Errorf("slack upload: %w", err)
		}
	}
	return nil
}

// UpsertActivityMessage edits the status message via chat.update; the token
// is the message timestamp.
func (s *SlackAdapter) UpsertActivityMessage(ctx context.Context, conv bridge.ConversationRef, text, token string) (string, error) {
	if token == "" {
		opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
		if conv.ThreadID != "" {
			opts = append(opts, slack.MsgOptionTS(conv.ThreadID))
		}
		_, ts, err := s.api.PostMessageContext(ctx, conv.ChannelID, opts...)
		if err != nil {
			return "", err
		}
		return ts, nil
	}
	if _, _, _, err := s.api.UpdateMessageContext(ctx, conv.ChannelID, token, slack.MsgOptionText(text, false)); err != nil {
		return "", err
	}
	return token, nil
}

func slackBlocks(text string, buttons []bridge.Button) []slack.Block {
	elements := make([]slack.BlockElement, 0, len(buttons))
	for _, b := range buttons {
		elements = append(elements, slack.NewButtonBlockElement(
			encodeButtonData(b),
			b.Value,
			slack.NewTextBlockObject(slack.PlainTextType, b.Label, false, false),
		))
	}
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		slack.NewActionBlock("bridge_actions", elements...),
	}
}

// slackTimestampUnix converts a Slack "1712345678.000200" timestamp to unix
// seconds.
func slackTimestampUnix(ts string) int64 {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now().Unix()
	}
	return int64(f)
}
