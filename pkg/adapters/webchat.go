package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/clawbridge/pkg/bridge"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
)

// webchatFrame is the wire format both directions. Inbound frames carry
// type "text" or "button"; outbound frames carry text, buttons and
// attachment paths.
type webchatFrame struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	ActionID    string          `json:"action_id,omitempty"`
	Value       string          `json:"value,omitempty"`
	Buttons     []webchatButton `json:"buttons,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
}

type webchatButton struct {
	Label    string `json:"label"`
	ActionID string `json:"action_id"`
	Value    string `json:"value,omitempty"`
}

// WebChatAdapter serves a local websocket endpoint at /ws. Each connection
// is one conversation, identified by the client-supplied "conversation"
// query parameter (or the remote address).
type WebChatAdapter struct {
	*BaseAdapter
	host   string
	port   int
	server *http.Server

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewWebChatAdapter(host string, port int, allowList []string, handler bridge.Handler) *WebChatAdapter {
	return &WebChatAdapter{
		BaseAdapter: NewBaseAdapter("webchat", allowList, handler),
		host:        host,
		port:        port,
		conns:       make(map[string]*websocket.Conn),
	}
}

func (w *WebChatAdapter) Start(ctx context.Context) error {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			logger.WarnCF("webchat", "upgrade failed", map[string]any{"error": err.Error()})
			return
		}
		conversationID := r.URL.Query().Get("conversation")
		if conversationID == "" {
			conversationID = r.RemoteAddr
		}
		w.serveConn(ctx, conversationID, conn)
	})

	addr := net.JoinHostPort(w.host, fmt.Sprintf("%d", w.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webchat listen %s: %w", addr, err)
	}
	w.server = &http.Server{Handler: mux}
	go func() {
		if err := w.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("webchat", "server stopped", map[string]any{"error": err.Error()})
		}
	}()

	w.SetRunning(true)
	logger.InfoCF("webchat", "listening", map[string]any{"addr": addr})
	return nil
}

func (w *WebChatAdapter) Stop(ctx context.Context) error {
	w.SetRunning(false)
	if w.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	}
	return nil
}

func (w *WebChatAdapter) serveConn(ctx context.Context, conversationID string, conn *websocket.Conn) {
	w.mu.Lock()
	if old, ok := w.conns[conversationID]; ok {
		old.Close()
	}
	w.conns[conversationID] = conn
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.conns[conversationID] == conn {
			delete(w.conns, conversationID)
		}
		w.mu.Unlock()
		conn.Close()
	}()

	ref := bridge.ConversationRef{BridgeID: w.Name(), ChannelID: conversationID}
	for {
		var frame webchatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		var event bridge.Event
		switch frame.Type {
		case "button":
			event = bridge.ButtonEvent(frame.ActionID, frame.Value)
		case "text":
			event = bridge.ParseMessageText(frame.Text)
		default:
			continue
		}
		w.Deliver(ctx, bridge.InboundEnvelope{
			BridgeID:     w.Name(),
			Conversation: ref,
			UserID:       conversationID,
			ReceivedAt:   time.Now().Unix(),
			Event:        event,
		})
	}
}

func (w *WebChatAdapter) Send(ctx context.Context, msg bridge.OutboundEnvelope) error {
	w.mu.Lock()
	conn, ok := w.conns[msg.Conversation.ChannelID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("webchat: no client for conversation %q", msg.Conversation.ChannelID)
	}

	frame := webchatFrame{Type: "message", Text: msg.Text}
	for _, b := range msg.Buttons {
		frame.Buttons = append(frame.Buttons, webchatButton{Label: b.Label, ActionID: b.ActionID, Value: b.Value})
	}
	for _, att := range msg.Attachments {
		frame.Attachments = append(frame.Attachments, att.Path)
	}
	for _, chunk := range msg.Chunks {
		if frame.Text != "" {
			frame.Text += "\n"
		}
		frame.Text += chunk
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
