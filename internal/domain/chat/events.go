package chat

import (
	"time"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
)

// Subscriber-facing event envelope types. Every event carries a "type"
// discriminator; the payloads mirror the item wire shapes exactly.
const (
	EventChatMounted  = "chat.mounted"
	EventItemAppended = "item.appended"
	EventItemDelta    = "item.delta"
	EventItemUpdated  = "item.updated"
	EventTasksUpdated = "tasks.updated"
	EventUpdateFull   = "update.full"
)

// MountedEvent is sent once right after a subscriber attaches.
type MountedEvent struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	Models         []string `json:"models"`
}

// ItemAppendedEvent announces a freshly created item.
type ItemAppendedEvent struct {
	Type string            `json:"type"`
	Item conversation.Item `json:"item"`
}

// ItemDeltaEvent carries a text fragment to append to the content of the
// item identified by Key.
type ItemDeltaEvent struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Delta string `json:"delta"`
}

// ItemUpdatedEvent carries the full re-serialization of an item after a
// status or field change.
type ItemUpdatedEvent struct {
	Type string            `json:"type"`
	Item conversation.Item `json:"item"`
}

// TasksUpdatedEvent reports the number of in-flight background tasks.
type TasksUpdatedEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// FullUpdateEvent is the full-state snapshot sent when a subscriber
// attaches or explicitly requests a resync.
type FullUpdateEvent struct {
	Type           string              `json:"type"`
	ConversationID string              `json:"conversation_id"`
	CreatedAt      time.Time           `json:"created_at"`
	Items          []conversation.Item `json:"items"`
}

// Inbound client message types.
const (
	ClientUserMessageCreated = "user.message.created"
	ClientFullUpdateRequest  = "update.full.requested"
)

// ClientMessage is the envelope for inbound messages on the update channel.
// Unknown types are logged and ignored.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
}
