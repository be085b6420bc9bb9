package chat

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
	"github.com/ateska/markdown-notes-mcp/internal/domain/tool"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/metrics"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/observability"
)

// Instructions is the fixed system prompt given to every conversation at
// creation.
var Instructions = strings.Join([]string{
	"You are a helpful assistant with access to tools.",
	"You must call a function 'ping' when asked to ping any host or server.",
	"You may use available tools to fulfill requests.",
	"Always use the GitHub Flavored Markdown syntax to format your responses.",
	"Always use preformatted text for reasoning.",
}, " ")

// Service orchestrates conversations: it owns the store, selects provider
// adapters per chat turn, schedules background work, dispatches tool calls
// and fans update events out to subscribers.
type Service struct {
	baseCtx      context.Context
	store        *conversation.Store
	tools        *tool.Registry
	instructions string
	policy       conversation.CompletionPolicy
	log          zerolog.Logger

	mu        sync.RWMutex
	providers []Provider

	// randIntN selects among candidate providers; swapped in tests.
	randIntN func(n int) int
}

// NewService constructs the orchestration service. Background tasks derive
// from baseCtx, so cancelling it (process shutdown) cancels in-flight chat
// turns and tool runs.
func NewService(baseCtx context.Context, store *conversation.Store, tools *tool.Registry, policy conversation.CompletionPolicy, log zerolog.Logger) *Service {
	return &Service{
		baseCtx:      baseCtx,
		store:        store,
		tools:        tools,
		instructions: Instructions,
		policy:       policy,
		log:          log.With().Str("component", "chat-service").Logger(),
		randIntN:     rand.Intn,
	}
}

// RegisterProvider adds a vendor adapter to the selection pool.
func (s *Service) RegisterProvider(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, p)
}

// Providers returns the registered adapters.
func (s *Service) Providers() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.providers)
}

// CreateConversation registers a fresh conversation.
func (s *Service) CreateConversation() *conversation.Conversation {
	conv := s.store.Create(s.instructions)
	s.log.Info().Str("conversation_id", conv.ID).Msg("new conversation created")
	return conv
}

// GetConversation looks up a conversation, optionally creating it under the
// requested id on miss.
func (s *Service) GetConversation(id string, create bool) (*conversation.Conversation, bool) {
	if conv, ok := s.store.Get(id); ok {
		return conv, true
	}
	if !create {
		return nil, false
	}
	return s.store.GetOrCreate(id, s.instructions), true
}

// Models refreshes every provider's model catalog concurrently and returns
// the merged list in provider registration order. Provider failures are
// logged and skipped; they must not take down the catalog.
func (s *Service) Models(ctx context.Context) []string {
	providers := s.Providers()
	results := make([][]string, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			models, err := p.ListModels(gctx)
			if err != nil {
				s.log.Warn().Err(err).Str("provider", p.Name()).Msg("collecting models failed")
				metrics.ModelListTotal.WithLabelValues(p.Name(), "error").Inc()
				return nil
			}
			metrics.ModelListTotal.WithLabelValues(p.Name(), "ok").Inc()
			results[i] = models
			return nil
		})
	}
	_ = g.Wait()

	var merged []string
	for _, models := range results {
		merged = append(merged, models...)
	}
	return merged
}

// CreateExchange appends a new exchange seeded with the user message,
// announces the item and schedules the chat turn that answers it.
func (s *Service) CreateExchange(conv *conversation.Conversation, userMessage *conversation.Item) {
	if prev := conv.LastExchange(); prev != nil && !conv.ExchangeCompleted(prev, s.policy) {
		s.log.Warn().Str("conversation_id", conv.ID).Msg("user message arrived while the previous exchange is still open")
	}

	exchange := conv.AppendExchange()
	conv.AppendItem(exchange, userMessage)
	s.Broadcast(conv, ItemAppendedEvent{Type: EventItemAppended, Item: conv.ItemCopy(userMessage)})

	s.ScheduleTask(conv, "chat-turn", func(ctx context.Context) error {
		return s.chatTurn(ctx, conv, exchange)
	})
}

// ScheduleTask launches fn as a tracked background task. The task set size
// is broadcast on start and again once the task finishes, success or not.
func (s *Service) ScheduleTask(conv *conversation.Conversation, name string, fn func(ctx context.Context) error) {
	id := fmt.Sprintf("%s-%s", name, uuid.NewString())

	count := conv.AddTask(id)
	metrics.TasksInFlight.Inc()
	s.sendTasksUpdate(conv, count)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Any("panic", r).Str("task", id).Str("conversation_id", conv.ID).Msg("background task panicked")
			}
			remaining := conv.RemoveTask(id)
			metrics.TasksInFlight.Dec()
			s.sendTasksUpdate(conv, remaining)
		}()

		if err := fn(s.baseCtx); err != nil {
			s.log.Warn().Err(err).Str("task", id).Str("conversation_id", conv.ID).Msg("background task failed")
		}
	}()
}

// chatTurn resolves the target model, picks a provider that serves it,
// waits for the provider's concurrency permit and runs the streaming call.
func (s *Service) chatTurn(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
	model := conv.ActiveModel()
	if model == "" {
		return ErrNoModel
	}

	provider, err := s.selectProvider(model)
	if err != nil {
		metrics.ChatTurnsTotal.WithLabelValues("none", "no_provider").Inc()
		return fmt.Errorf("%w: %q", err, model)
	}

	release, err := provider.Acquire(ctx)
	if err != nil {
		metrics.ChatTurnsTotal.WithLabelValues(provider.Name(), "permit").Inc()
		return fmt.Errorf("acquire provider permit: %w", err)
	}
	defer release()

	ctx, span := observability.StartChatTurnSpan(ctx, conv.ID, model, provider.Name())
	defer span.End()

	s.log.Info().
		Str("conversation_id", conv.ID).
		Str("model", model).
		Str("provider", provider.Name()).
		Msg("sending request to LLM")

	start := time.Now()
	err = provider.ChatRequest(ctx, conv, exchange)
	metrics.ChatTurnDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RecordError(span, err)
		metrics.ChatTurnsTotal.WithLabelValues(provider.Name(), "error").Inc()
		return fmt.Errorf("chat request: %w", err)
	}

	metrics.ChatTurnsTotal.WithLabelValues(provider.Name(), "ok").Inc()

	// A turn that ended in a pending function call keeps the exchange open;
	// the tool dispatcher settles it once the call finishes.
	conv.SettleExchange(exchange)
	return nil
}

// selectProvider picks uniformly at random among adapters whose cached
// catalog advertises the model, spreading load when several providers
// expose the same model name.
func (s *Service) selectProvider(model string) (Provider, error) {
	var candidates []Provider
	for _, p := range s.Providers() {
		if slices.Contains(p.CachedModels(), model) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoProvider
	}
	return candidates[s.randIntN(len(candidates))], nil
}

// ===============================================
// Event sink for provider adapters
// ===============================================

// ItemAppended broadcasts the creation of an item.
func (s *Service) ItemAppended(conv *conversation.Conversation, item *conversation.Item) {
	s.Broadcast(conv, ItemAppendedEvent{Type: EventItemAppended, Item: conv.ItemCopy(item)})
}

// ItemDelta broadcasts a text fragment appended to an item.
func (s *Service) ItemDelta(conv *conversation.Conversation, item *conversation.Item, delta string) {
	s.Broadcast(conv, ItemDeltaEvent{Type: EventItemDelta, Key: item.Key, Delta: delta})
}

// ItemUpdated broadcasts the full re-serialization of a changed item.
func (s *Service) ItemUpdated(conv *conversation.Conversation, item *conversation.Item) {
	s.Broadcast(conv, ItemUpdatedEvent{Type: EventItemUpdated, Item: conv.ItemCopy(item)})
}

// FunctionCallReady schedules the tool-call task for a completed function
// call handed over by an adapter.
func (s *Service) FunctionCallReady(conv *conversation.Conversation, call *conversation.Item) {
	s.ScheduleTask(conv, "tool-call", func(ctx context.Context) error {
		return s.runFunctionCall(ctx, conv, call)
	})
}

// runFunctionCall drives one tool execution end to end. Whatever the tool
// outcome, the function call ends finished and a fresh exchange with a new
// chat turn is scheduled so the model sees the result.
func (s *Service) runFunctionCall(ctx context.Context, conv *conversation.Conversation, call *conversation.Item) error {
	s.log.Info().Str("conversation_id", conv.ID).Str("name", call.Name).Msg("calling function")

	if err := conv.SetItemStatus(call, conversation.ItemStatusExecuting); err != nil {
		return fmt.Errorf("claim function call: %w", err)
	}
	s.ItemUpdated(conv, call)

	ctx, span := observability.StartToolSpan(ctx, conv.ID, call.Name, call.CallID)
	defer span.End()

	start := time.Now()
	s.executeTool(ctx, conv, call)
	metrics.ToolRunDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

	if err := conv.SetItemStatus(call, conversation.ItemStatusFinished); err != nil {
		s.log.Warn().Err(err).Str("key", call.Key).Msg("cannot finalize function call")
	}
	s.ItemUpdated(conv, call)

	if conv.ItemCopy(call).Error {
		metrics.ToolRunsTotal.WithLabelValues(call.Name, "error").Inc()
	} else {
		metrics.ToolRunsTotal.WithLabelValues(call.Name, "ok").Inc()
	}

	if e := conv.LastExchange(); e != nil {
		conv.SettleExchange(e)
	}

	// Resume the dialogue: the model reacts to the tool result (or its
	// failure) in a brand-new exchange.
	exchange := conv.AppendExchange()
	s.ScheduleTask(conv, "chat-turn", func(ctx context.Context) error {
		return s.chatTurn(ctx, conv, exchange)
	})
	return nil
}

func (s *Service) executeTool(ctx context.Context, conv *conversation.Conversation, call *conversation.Item) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Any("panic", r).Str("name", call.Name).Msg("panic in function call")
			conv.SetItemError(call, "Generic exception occurred. Try again.")
		}
	}()

	t, ok := s.tools.Get(call.Name)
	if !ok {
		s.log.Warn().Str("name", call.Name).Msg("unknown function call")
		conv.SetItemError(call, fmt.Sprintf("Called unknown function '%s', no result available.", call.Name))
		return
	}

	progress := func() {
		s.ItemUpdated(conv, call)
	}
	if err := t.Run(ctx, tool.NewCall(conv, call, progress)); err != nil {
		s.log.Error().Err(err).Str("name", call.Name).Msg("error in function call")
		conv.SetItemError(call, "Generic exception occurred. Try again.")
	}
}

// ===============================================
// Fan-out
// ===============================================

// Broadcast delivers the event to every registered monitor. Each monitor
// enqueues independently; a slow or failing subscriber never blocks or
// aborts delivery to its peers.
func (s *Service) Broadcast(conv *conversation.Conversation, event any) {
	metrics.BroadcastEventsTotal.WithLabelValues(eventType(event)).Inc()
	for _, m := range conv.Monitors() {
		m.Send(event)
	}
}

// SendFullSnapshot delivers the full conversation state to one monitor.
func (s *Service) SendFullSnapshot(conv *conversation.Conversation, monitor conversation.Monitor) {
	monitor.Send(FullUpdateEvent{
		Type:           EventUpdateFull,
		ConversationID: conv.ID,
		CreatedAt:      conv.CreatedAt,
		Items:          conv.ItemsSnapshot(),
	})
}

func (s *Service) sendTasksUpdate(conv *conversation.Conversation, count int) {
	s.Broadcast(conv, TasksUpdatedEvent{Type: EventTasksUpdated, Count: count})
}

func eventType(event any) string {
	switch e := event.(type) {
	case MountedEvent:
		return e.Type
	case ItemAppendedEvent:
		return e.Type
	case ItemDeltaEvent:
		return e.Type
	case ItemUpdatedEvent:
		return e.Type
	case TasksUpdatedEvent:
		return e.Type
	case FullUpdateEvent:
		return e.Type
	default:
		return "unknown"
	}
}
