package bridge

import (
	"context"
	"time"
)

// Handler receives every inbound envelope an adapter produces.
type Handler func(ctx context.Context, env InboundEnvelope)

// AdapterRegistry is the bridge's view of the running adapters. Send routes
// by the envelope's BridgeID. Capability lookups return false when the
// adapter does not support the operation; callers fall back gracefully.
type AdapterRegistry interface {
	Send(ctx context.Context, msg OutboundEnvelope) error
	Typer(bridgeID string) (Typer, bool)
	ActivityEditor(bridgeID string) (ActivityEditor, bool)
	MediaDownloader(bridgeID string) (MediaDownloader, bool)
	Health() map[string]string
}

// Typer is an opt-in adapter capability: a platform typing indicator.
// BeginTyping returns a stop function; both directions are best-effort.
type Typer interface {
	BeginTyping(ctx context.Context, conv ConversationRef) (func(), error)
}

// ActivityEditor is an opt-in adapter capability: in-place editing of a
// status message. The token is adapter-opaque; an empty token means "create".
type ActivityEditor interface {
	UpsertActivityMessage(ctx context.Context, conv ConversationRef, text, token string) (string, error)
}

// MediaPayload is a downloaded media file.
type MediaPayload struct {
	Bytes        []byte
	FileNameHint string
	MimeType     string
}

// MediaDownloader is an opt-in adapter capability: fetching the bytes behind
// a media event.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, env InboundEnvelope) (*MediaPayload, error)
}

// SessionInfo is a conversation's mapping to a backend session.
type SessionInfo struct {
	SessionID string
	Cwd       string
	UpdatedAt time.Time
}

// SessionStore persists conversation→session mappings. Keys are canonical
// conversation keys (ConversationRef.Key).
type SessionStore interface {
	SessionByConversation(key string) (SessionInfo, bool)
	SetSessionForConversation(key, sessionID, cwd string) error
	ClearSessionForConversation(key string) error
	ConversationBySessionID(sessionID string) (string, bool)
}

// PermissionStatus is the lifecycle state of a stored permission record.
type PermissionStatus string

const (
	PermissionPending   PermissionStatus = "pending"
	PermissionSubmitted PermissionStatus = "submitted"
	PermissionExpired   PermissionStatus = "expired"
)

// PermissionRecord is the durable view of one permission request.
type PermissionRecord struct {
	ID              string
	ConversationKey string
	RequesterUserID string
	Status          PermissionStatus
	Response        string
	ExpiresAt       time.Time
}

// ResolveOutcome is the closed result set of PermissionStore.ResolvePending.
type ResolveOutcome string

const (
	ResolveResolved         ResolveOutcome = "resolved"
	ResolveAlreadySubmitted ResolveOutcome = "already_submitted"
	ResolveExpired          ResolveOutcome = "expired"
	ResolveMissing          ResolveOutcome = "missing"
)

// PermissionStore persists permission records.
type PermissionStore interface {
	CreatePending(rec PermissionRecord) error
	ByID(id string) (PermissionRecord, bool)
	MarkExpired(id string) error
	ResolvePending(id, response string) (ResolveOutcome, error)
}

// MediaStore persists downloaded media files.
type MediaStore interface {
	SaveRemoteFile(bridgeID, conversationID, fileNameHint string, data []byte) (string, error)
}

// Capturer takes a screenshot and returns the image path.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}
