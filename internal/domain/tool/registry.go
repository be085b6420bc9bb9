// Package tool maps function-call items to executable tools and runs them,
// streaming progress back into the item.
package tool

import (
	"context"
	"sync"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
)

// Call is the dispatcher's view of one claimed function-call item. Tools
// mutate the item exclusively through these methods; every content append
// is followed by a caller-visible progress signal.
type Call struct {
	conv     *conversation.Conversation
	item     *conversation.Item
	progress func()
}

// NewCall binds a function-call item to its conversation and progress
// callback.
func NewCall(conv *conversation.Conversation, item *conversation.Item, progress func()) *Call {
	if progress == nil {
		progress = func() {}
	}
	return &Call{conv: conv, item: item, progress: progress}
}

// Arguments returns the accumulated JSON-encoded arguments string.
func (c *Call) Arguments() string {
	return c.conv.ItemCopy(c.item).Arguments
}

// AppendOutput appends a chunk of tool output to the item's content and
// signals progress.
func (c *Call) AppendOutput(chunk string) {
	c.conv.AppendContent(c.item, chunk)
	c.progress()
}

// Fail records a terminal error outcome, replacing the item's content with
// the explanation.
func (c *Call) Fail(message string) {
	c.conv.SetItemError(c.item, message)
	c.progress()
}

// MarkError sets the error flag while keeping the accumulated output.
func (c *Call) MarkError() {
	c.conv.SetItemError(c.item, "")
	c.progress()
}

// Tool is a named asynchronous operation over a function call's parsed
// arguments. Run never propagates failures; every failure path ends with
// the call left in a terminal content/error state.
type Tool interface {
	Name() string
	Run(ctx context.Context, call *Call) error
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its name, replacing any previous registration.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}
