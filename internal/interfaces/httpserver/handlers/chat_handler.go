package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ateska/markdown-notes-mcp/internal/domain/chat"
	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/metrics"
)

// ChatHandler exposes the websocket conversation channel.
type ChatHandler struct {
	service     *chat.Service
	receiveWait time.Duration
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewChatHandler constructs the handler. receiveWait bounds how long a
// connection may stay silent; pongs count as traffic.
func NewChatHandler(service *chat.Service, receiveWait time.Duration, log zerolog.Logger) *ChatHandler {
	if receiveWait <= 0 {
		receiveWait = 60 * time.Second
	}
	return &ChatHandler{
		service:     service,
		receiveWait: receiveWait,
		log:         log.With().Str("handler", "chat").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{"mdn-chat"},
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// wsSession serializes writes to one websocket connection; the event
// queue and the ping ticker write concurrently.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSession) ping(deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// Conversation handles GET /:tenant/llm/conversation. It upgrades to a
// websocket, announces the mounted conversation with the live model
// catalog, replays the current state and then relays client commands and
// broadcast events until the peer goes away.
func (h *ChatHandler) Conversation(c *gin.Context) {
	models := h.service.Models(c.Request.Context())
	if len(models) == 0 {
		c.JSON(http.StatusOK, gin.H{"result": "ERROR", "error": "No LLM models available"})
		return
	}

	var conv *conversation.Conversation
	if id := c.Query("conversation_id"); id != "" {
		conv, _ = h.service.GetConversation(id, true)
	} else {
		conv = h.service.CreateConversation()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	session := &wsSession{conn: conn}

	metrics.WebsocketConnections.Inc()
	defer metrics.WebsocketConnections.Dec()
	defer conn.Close()

	if err := session.writeJSON(chat.MountedEvent{
		Type:           chat.EventChatMounted,
		ConversationID: conv.ID,
		Models:         models,
	}); err != nil {
		h.log.Warn().Err(err).Msg("cannot send mounted event")
		return
	}

	monitor := chat.NewMonitorQueue(session.writeJSON, h.log)
	defer monitor.Close()

	// Replay goes through the queue too, so live events enqueued while
	// the snapshot is built cannot overtake it.
	h.service.SendFullSnapshot(conv, monitor)
	conv.AddMonitor(monitor)
	defer conv.RemoveMonitor(monitor)

	// Drop the connection once the monitor is gone, whether from a write
	// failure or queue overflow.
	go func() {
		<-monitor.Done()
		conn.Close()
	}()

	pingPeriod := h.receiveWait * 9 / 10
	stopPings := make(chan struct{})
	defer close(stopPings)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := session.ping(time.Now().Add(10 * time.Second)); err != nil {
					return
				}
			case <-stopPings:
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(h.receiveWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.receiveWait))
	})

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("conversation_id", conv.ID).Msg("websocket closed")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.receiveWait))

		if messageType != websocket.TextMessage {
			continue
		}
		h.onClientMessage(conv, monitor, models, payload)
	}
}

func (h *ChatHandler) onClientMessage(conv *conversation.Conversation, monitor conversation.Monitor, models []string, payload []byte) {
	var msg chat.ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.log.Warn().Err(err).Msg("invalid websocket message")
		return
	}

	switch msg.Type {

	case chat.ClientUserMessageCreated:
		model := msg.Model
		if model == "" {
			model = models[0]
		}
		h.service.CreateExchange(conv, conversation.NewUserMessage(msg.Content, model))

	case chat.ClientFullUpdateRequest:
		h.service.SendFullSnapshot(conv, monitor)

	default:
		h.log.Warn().Str("type", msg.Type).Msg("unknown message type received")
	}
}
