package bridge

import "strings"

// EventKind discriminates the closed inbound event variant. The variant is
// determined once at the adapter boundary; the orchestrator's decision tree
// operates only on the typed form, never on raw text prefixes.
type EventKind string

const (
	EventText   EventKind = "text"
	EventSlash  EventKind = "slash"
	EventMedia  EventKind = "media"
	EventButton EventKind = "button"
	EventSystem EventKind = "system"
)

// Event is the payload of an inbound envelope. Only the fields for the
// active Kind are meaningful.
type Event struct {
	Kind EventKind `json:"kind"`

	// text
	Text string `json:"text,omitempty"`

	// slash
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Raw     string   `json:"raw,omitempty"`

	// media
	MediaKind string `json:"media_kind,omitempty"`
	FileID    string `json:"file_id,omitempty"`
	FileName  string `json:"file_name,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Caption   string `json:"caption,omitempty"`

	// button
	ActionID string `json:"action_id,omitempty"`
	Value    string `json:"value,omitempty"`

	// system
	SystemEvent string            `json:"system_event,omitempty"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// TextEvent builds a plain text event.
func TextEvent(text string) Event {
	return Event{Kind: EventText, Text: text}
}

// SlashEvent builds a slash event from a raw "/cmd arg..." line.
func SlashEvent(raw string) Event {
	fields := strings.Fields(raw)
	cmd := ""
	var args []string
	if len(fields) > 0 {
		cmd = strings.TrimPrefix(fields[0], "/")
		// Strip a trailing "@botname" suffix (Telegram group syntax).
		if idx := strings.Index(cmd, "@"); idx > 0 {
			cmd = cmd[:idx]
		}
		args = fields[1:]
	}
	return Event{Kind: EventSlash, Command: strings.ToLower(cmd), Args: args, Raw: raw}
}

// ButtonEvent builds a button click event.
func ButtonEvent(actionID, value string) Event {
	return Event{Kind: EventButton, ActionID: actionID, Value: value}
}

// MediaEvent builds a media event.
func MediaEvent(mediaKind, fileID, fileName, mimeType, caption string) Event {
	return Event{
		Kind:      EventMedia,
		MediaKind: mediaKind,
		FileID:    fileID,
		FileName:  fileName,
		MimeType:  mimeType,
		Caption:   caption,
	}
}

// ParseMessageText classifies a raw message into a text or slash event.
// Adapters call this once when translating platform messages.
func ParseMessageText(text string) Event {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") && len(trimmed) > 1 {
		return SlashEvent(trimmed)
	}
	return TextEvent(text)
}

// InboundEnvelope is one inbound chat event. Immutable once constructed;
// owned transiently by whichever component is handling it.
type InboundEnvelope struct {
	BridgeID     string          `json:"bridge_id"`
	Conversation ConversationRef `json:"conversation"`
	UserID       string          `json:"user_id"`
	ReceivedAt   int64           `json:"received_at"` // unix seconds
	Event        Event           `json:"event"`
}

// Attachment is a local file attached to an outbound message.
type Attachment struct {
	Path     string `json:"path"`
	FileName string `json:"file_name,omitempty"`
}

// Button is a response button rendered by the adapter. Adapters encode
// ActionID and Value into their platform's callback payload and decode them
// back into a ButtonEvent.
type Button struct {
	Label    string `json:"label"`
	ActionID string `json:"action_id"`
	Value    string `json:"value,omitempty"`
}

// OutboundEnvelope is one outbound message for an adapter to deliver.
type OutboundEnvelope struct {
	BridgeID     string            `json:"bridge_id"`
	Conversation ConversationRef   `json:"conversation"`
	Text         string            `json:"text,omitempty"`
	Chunks       []string          `json:"chunks,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	Buttons      []Button          `json:"buttons,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
}
