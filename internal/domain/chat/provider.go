package chat

import (
	"context"
	"errors"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
)

// ErrNoProvider is returned when no registered provider advertises the
// requested model. This is a precondition failure for one chat turn, not
// for the conversation.
var ErrNoProvider = errors.New("no provider available for requested model")

// ErrNoModel is returned when a chat turn is started on a conversation
// that holds no user message yet.
var ErrNoModel = errors.New("conversation has no resolvable model")

// Provider is one vendor adapter. ChatRequest serializes the conversation
// into the vendor's history format, opens a single streaming call and
// translates the stream into item mutations, returning only after the
// vendor signals completion (or on a transport failure, which it absorbs).
type Provider interface {
	Name() string

	// CachedModels returns the last model list obtained by ListModels.
	CachedModels() []string

	// ListModels performs one non-streaming catalog call and refreshes the
	// cache. An unauthorized backend yields an empty list, not an error.
	ListModels(ctx context.Context) ([]string, error)

	// Acquire claims the provider's bounded concurrency slot. The returned
	// release function must be called once the streaming call is over.
	Acquire(ctx context.Context) (release func(), err error)

	ChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error
}
