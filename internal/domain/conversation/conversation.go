package conversation

import (
	"sync"
	"time"
)

// Monitor is a live subscriber attached to a conversation. Send must not
// block indefinitely; delivery isolation between monitors is the broadcast
// layer's responsibility.
type Monitor interface {
	Send(event any)
}

// Conversation is the aggregate root: the full dialogue between a user and
// the model for the lifetime of the process. All mutation goes through the
// methods below; the embedded mutex covers exchanges, items, monitors and
// the task set, because adapters, the tool dispatcher and websocket
// handlers touch the aggregate from different goroutines.
type Conversation struct {
	ID           string
	Instructions string
	CreatedAt    time.Time

	mu        sync.RWMutex
	exchanges []*Exchange
	monitors  map[Monitor]struct{}
	tasks     map[string]struct{}
}

func newConversation(id, instructions string) *Conversation {
	return &Conversation{
		ID:           id,
		Instructions: instructions,
		CreatedAt:    time.Now().UTC(),
		monitors:     make(map[Monitor]struct{}),
		tasks:        make(map[string]struct{}),
	}
}

// AppendExchange appends a new empty exchange and returns it.
func (c *Conversation) AppendExchange() *Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := NewExchange()
	c.exchanges = append(c.exchanges, e)
	return e
}

// AppendItem appends an item to the given exchange.
func (c *Conversation) AppendItem(e *Exchange, item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.Items = append(e.Items, item)
}

// AppendContent appends a streamed text delta to the item's content.
func (c *Conversation) AppendContent(item *Item, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item.Content += delta
}

// AppendArguments appends a streamed fragment to a function call's
// JSON-encoded arguments string.
func (c *Conversation) AppendArguments(item *Item, fragment string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item.Arguments += fragment
}

// SetItemStatus transitions the item's lifecycle status.
func (c *Conversation) SetItemStatus(item *Item, status ItemStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return item.Transition(status)
}

// SetItemError records an error outcome on the item without touching its
// lifecycle status.
func (c *Conversation) SetItemError(item *Item, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item.Error = true
	if message != "" {
		item.Content = message
	}
}

// SetFunctionCall fills in the final name and arguments of a function call
// once the vendor delivers them whole.
func (c *Conversation) SetFunctionCall(item *Item, name, arguments string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name != "" {
		item.Name = name
	}
	item.Arguments = arguments
}

// ItemCopy returns a value copy of the item taken under the lock, safe to
// serialize while streaming continues.
func (c *Conversation) ItemCopy(item *Item) Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *item
}

// ActiveModel resolves the model for the next chat turn: the model of the
// most recent user message, scanning exchanges newest-first. Empty string
// when the conversation holds no user message yet.
func (c *Conversation) ActiveModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.exchanges) - 1; i >= 0; i-- {
		items := c.exchanges[i].Items
		for j := len(items) - 1; j >= 0; j-- {
			if items[j].Type == ItemTypeMessage && items[j].Role == ItemRoleUser {
				return items[j].Model
			}
		}
	}
	return ""
}

// Exchanges returns a snapshot of the exchange list. The exchanges
// themselves are shared; callers iterating items of a live exchange must
// use ItemsSnapshot instead.
func (c *Conversation) Exchanges() []*Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Exchange, len(c.exchanges))
	copy(out, c.exchanges)
	return out
}

// LastExchange returns the most recent exchange, or nil when the
// conversation holds none.
func (c *Conversation) LastExchange() *Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.exchanges) == 0 {
		return nil
	}
	return c.exchanges[len(c.exchanges)-1]
}

// SettleExchange sets the Completed flag once the exchange's trailing item
// reached a terminal status, reporting whether the flag was set. An
// exchange ending in a function call that still awaits its tool run stays
// open.
func (c *Conversation) SettleExchange(e *Exchange) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(e.Items) == 0 {
		return false
	}
	last := e.Items[len(e.Items)-1]
	if !last.Status.IsTerminal(last.Type) {
		return false
	}
	e.Completed = true
	return true
}

// ExchangeCompleted reports the exchange's completion under the policy,
// taken under the conversation lock.
func (c *Conversation) ExchangeCompleted(e *Exchange, policy CompletionPolicy) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return e.IsCompleted(policy)
}

// ItemsSnapshot returns value copies of every item in exchange order.
func (c *Conversation) ItemsSnapshot() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Item
	for _, e := range c.exchanges {
		for _, item := range e.Items {
			out = append(out, *item)
		}
	}
	return out
}

// LastItem returns the most recent item of the given type within the
// exchange, under the conversation lock.
func (c *Conversation) LastItem(e *Exchange, t ItemType) *Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return e.LastItem(t)
}

// AddMonitor registers a subscriber.
func (c *Conversation) AddMonitor(m Monitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitors[m] = struct{}{}
}

// RemoveMonitor detaches a subscriber. Safe to call twice.
func (c *Conversation) RemoveMonitor(m Monitor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.monitors, m)
}

// Monitors returns the current subscriber set.
func (c *Conversation) Monitors() []Monitor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Monitor, 0, len(c.monitors))
	for m := range c.monitors {
		out = append(out, m)
	}
	return out
}

// AddTask records a running background task and returns the new count.
func (c *Conversation) AddTask(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[id] = struct{}{}
	return len(c.tasks)
}

// RemoveTask drops a finished task and returns the new count.
func (c *Conversation) RemoveTask(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, id)
	return len(c.tasks)
}

// TaskCount returns the number of in-flight background tasks.
func (c *Conversation) TaskCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}
