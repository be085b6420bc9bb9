package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ===============================================
// Item Types and Enums
// ===============================================

// ItemType discriminates the conversation item variants.
type ItemType string

const (
	ItemTypeMessage         ItemType = "message"
	ItemTypeReasoning       ItemType = "reasoning"
	ItemTypeFunctionCall    ItemType = "function_call"
	ItemTypeFunctionCallOut ItemType = "function_call_output"
)

// ItemRole identifies the author of a message item.
type ItemRole string

const (
	ItemRoleUser      ItemRole = "user"
	ItemRoleAssistant ItemRole = "assistant"
)

// ItemStatus represents the lifecycle status of an item.
type ItemStatus string

const (
	ItemStatusInProgress ItemStatus = "in_progress" // adapter still streaming into the item
	ItemStatusCompleted  ItemStatus = "completed"   // streaming finished, content stable
	ItemStatusExecuting  ItemStatus = "executing"   // function call claimed by the tool dispatcher
	ItemStatusFinished   ItemStatus = "finished"    // terminal, result or error recorded
)

// ErrInvalidTransition is returned when a status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid item status transition")

// ValidTransitions defines allowed status transitions. No transition goes
// backward; message and reasoning items stop at completed, function calls
// continue through executing to finished.
var ValidTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusInProgress: {ItemStatusCompleted},
	ItemStatusCompleted:  {ItemStatusExecuting},
	ItemStatusExecuting:  {ItemStatusFinished},
	ItemStatusFinished:   {},
}

// CanTransitionTo checks if a transition from the current status to target is valid.
func (s ItemStatus) CanTransitionTo(target ItemStatus) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true once no further transition is expected for the
// given item type.
func (s ItemStatus) IsTerminal(t ItemType) bool {
	if t == ItemTypeFunctionCall {
		return s == ItemStatusFinished
	}
	return s == ItemStatusCompleted || s == ItemStatusFinished
}

func (s ItemStatus) String() string {
	return string(s)
}

// ===============================================
// Item
// ===============================================

// Item is one discrete unit of conversation content. It is a closed tagged
// union over {user message, assistant message, reasoning, function call};
// the Type field (plus Role for messages) selects which of the optional
// fields carry meaning. The Key is generated at creation and stable for the
// item's life.
type Item struct {
	Key       string     `json:"key"`
	Type      ItemType   `json:"type"`
	Status    ItemStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`

	// Message fields. Content is shared with reasoning and function call
	// items and always serialized, even while still empty.
	Role    ItemRole `json:"role,omitempty"`
	Content string   `json:"content"`
	Model   string   `json:"model,omitempty"` // user messages only: the model selected for this turn

	// Function call fields
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
	Error     bool   `json:"error"`
}

// NewUserMessage creates a user message item carrying the model selection.
func NewUserMessage(content, model string) *Item {
	return &Item{
		Key:       fmt.Sprintf("user-message-%s", uuid.NewString()),
		Type:      ItemTypeMessage,
		Status:    ItemStatusCompleted,
		CreatedAt: time.Now().UTC(),
		Role:      ItemRoleUser,
		Content:   content,
		Model:     model,
	}
}

// NewAssistantMessage creates an assistant message item in the given status.
func NewAssistantMessage(content string, status ItemStatus) *Item {
	return &Item{
		Key:       fmt.Sprintf("message-%s", uuid.NewString()),
		Type:      ItemTypeMessage,
		Status:    status,
		CreatedAt: time.Now().UTC(),
		Role:      ItemRoleAssistant,
		Content:   content,
	}
}

// NewReasoning creates a reasoning item ("thinking" trace). Reasoning items
// are never sent back to a backend as conversation history.
func NewReasoning(content string, status ItemStatus) *Item {
	return &Item{
		Key:       fmt.Sprintf("reasoning-%s", uuid.NewString()),
		Type:      ItemTypeReasoning,
		Status:    status,
		CreatedAt: time.Now().UTC(),
		Content:   content,
	}
}

// NewFunctionCall creates a function call item. The callID is assigned by
// the vendor and correlates the eventual tool result.
func NewFunctionCall(callID, name, arguments string, status ItemStatus) *Item {
	return &Item{
		Key:       fmt.Sprintf("fc-%s", uuid.NewString()),
		Type:      ItemTypeFunctionCall,
		Status:    status,
		CreatedAt: time.Now().UTC(),
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	}
}

// Transition moves the item to the target status, enforcing the lifecycle
// state machine.
func (i *Item) Transition(target ItemStatus) error {
	if !i.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, target)
	}
	i.Status = target
	return nil
}
