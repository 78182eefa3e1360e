package adapters

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/clawbridge/pkg/backend"
	"github.com/tinyland-inc/clawbridge/pkg/bridge"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

const telegramMaxMessageLength = 4096

// TelegramAdapter bridges Telegram via long polling. It supports typing
// indicators, in-place activity edits, inline keyboard buttons and media
// downloads.
type TelegramAdapter struct {
	*BaseAdapter
	token  string
	bot    *telego.Bot
	cancel context.CancelFunc
}

func NewTelegramAdapter(token string, allowList []string, handler bridge.Handler) *TelegramAdapter {
	return &TelegramAdapter{
		BaseAdapter: NewBaseAdapter("telegram", allowList, handler,
			WithMaxMessageLength(telegramMaxMessageLength)),
		token: token,
	}
}

func (t *TelegramAdapter) Start(ctx context.Context) error {
	bot, err := telego.NewBot(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	go func() {
		for update := range updates {
			t.handleUpdate(pollCtx, update)
		}
	}()

	t.SetRunning(true)
	return nil
}

func (t *TelegramAdapter) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	t.SetRunning(false)
	return nil
}

func (t *TelegramAdapter) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		t.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		t.handleCallback(ctx, update.CallbackQuery)
	}
}

func (t *TelegramAdapter) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	conv := bridge.ConversationRef{
		BridgeID:  t.Name(),
		ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.Username != "" {
		userID += "|" + msg.From.Username
	}

	var event bridge.Event
	switch {
	case msg.Document != nil:
		event = bridge.MediaEvent("document", msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType, msg.Caption)
	case len(msg.Photo) > 0:
		// Last photo size is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		event = bridge.MediaEvent("photo", photo.FileID, "photo.jpg", "image/jpeg", msg.Caption)
	case msg.Voice != nil:
		event = bridge.MediaEvent("voice", msg.Voice.FileID, "voice.ogg", msg.Voice.MimeType, msg.Caption)
	case msg.Text != "":
		event = bridge.ParseMessageText(msg.Text)
	default:
		return
	}

	t.Deliver(ctx, bridge.InboundEnvelope{
		BridgeID:     t.Name(),
		Conversation: conv,
		UserID:       userID,
		ReceivedAt:   msg.Date,
		Event:        event,
	})
}

func (t *TelegramAdapter) handleCallback(ctx context.Context, cq *telego.CallbackQuery) {
	_ = t.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})
	if cq.Message == nil {
		return
	}
	actionID, value := decodeButtonData(cq.Data)
	if actionID == "" {
		return
	}
	conv := bridge.ConversationRef{
		BridgeID:  t.Name(),
		ChannelID: strconv.FormatInt(cq.Message.GetChat().ID, 10),
	}
	userID := strconv.FormatInt(cq.From.ID, 10)
	if cq.From.Username != "" {
		userID += "|" + cq.From.Username
	}
	t.Deliver(ctx, bridge.InboundEnvelope{
		BridgeID:     t.Name(),
		Conversation: conv,
		UserID:       userID,
		ReceivedAt:   time.Now().Unix(),
		Event:        bridge.ButtonEvent(actionID, value),
	})
}

func (t *TelegramAdapter) Send(ctx context.Context, msg bridge.OutboundEnvelope) error {
	chatID, err := strconv.ParseInt(msg.Conversation.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.Conversation.ChannelID, err)
	}

	texts := msg.Chunks
	if msg.Text != "" {
		texts = append([]string{msg.Text}, texts...)
	}
	for i, text := range texts {
		params := tu.Message(tu.ID(chatID), text)
		// Buttons ride on the final text chunk.
		if i == len(texts)-1 && len(msg.Buttons) > 0 {
			params.ReplyMarkup = telegramKeyboard(msg.Buttons)
		}
		if _, err := t.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		f, err := os.Open(att.Path)
		if err != nil {
			logger.WarnCF("telegram", "attachment open failed", map[string]any{
				"path": att.Path, "error": err.Error(),
			})
			continue
		}
		name := att.FileName
		if name == "" {
			name = "file"
		}
		doc := tu.Document(tu.ID(chatID), tu.File(tu.NameReader(f, name)))
		_, err = t.bot.SendDocument(ctx, doc)
		f.Close()
		if err != nil {
			return fmt.Errorf("telegram send document: %w", err)
		}
	}
	return nil
}

// BeginTyping sends the typing chat action and keeps it alive until stop is
// called; Telegram expires the indicator after a few seconds.
func (t *TelegramAdapter) BeginTyping(ctx context.Context, conv bridge.ConversationRef) (func(), error) {
	chatID, err := strconv.ParseInt(conv.ChannelID, 10, 64)
	if err != nil {
		return nil, err
	}
	typingCtx, cancel := context.WithCancel(ctx)
	send := func() {
		_ = t.bot.SendChatAction(typingCtx, &telego.SendChatActionParams{
			ChatID: tu.ID(chatID),
			Action: telego.ChatActionTyping,
		})
	}
	send()
	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()
	return cancel, nil
}

// UpsertActivityMessage edits the status message in place; the token is the
// Telegram message id.
func (t *TelegramAdapter) UpsertActivityMessage(ctx context.Context, conv bridge.ConversationRef, text, token string) (string, error) {
	chatID, err := strconv.ParseInt(conv.ChannelID, 10, 64)
	if err != nil {
		return "", err
	}
	if token == "" {
		sent, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
		if err != nil {
			return "", err
		}
		return strconv.Itoa(sent.MessageID), nil
	}
	messageID, err := strconv.Atoi(token)
	if err != nil {
		return "", err
	}
	if _, err := t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Text:      text,
	}); err != nil {
		return "", err
	}
	return token, nil
}

// SetCommands publishes the slash-command menu to Telegram.
func (t *TelegramAdapter) SetCommands(ctx context.Context, cmds []backend.CommandSpec) error {
	if t.bot == nil {
		return fmt.Errorf("telegram adapter not started")
	}
	tgCmds := make([]telego.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		tgCmds = append(tgCmds, telego.BotCommand{Command: c.Name, Description: c.Description})
	}
	return t.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: tgCmds})
}

// DownloadMedia fetches the bytes behind a media event.
func (t *TelegramAdapter) DownloadMedia(ctx context.Context, env bridge.InboundEnvelope) (*bridge.MediaPayload, error) {
	file, err := t.bot.GetFile(ctx, &telego.GetFileParams{FileID: env.Event.FileID})
	if err != nil {
		return nil, fmt.Errorf("telegram get file: %w", err)
	}
	data, err := tu.DownloadFile(t.bot.FileDownloadURL(file.FilePath))
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	return &bridge.MediaPayload{
		Bytes:        data,
		FileNameHint: env.Event.FileName,
		MimeType:     env.Event.MimeType,
	}, nil
}

func telegramKeyboard(buttons []bridge.Button) *telego.InlineKeyboardMarkup {
	row := make([]telego.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tu.InlineKeyboardButton(b.Label).WithCallbackData(encodeButtonData(b)))
	}
	return tu.InlineKeyboard(tu.InlineKeyboardRow(row...))
}
