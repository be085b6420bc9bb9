package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
	"github.com/ateska/markdown-notes-mcp/internal/domain/tool"
)

type fakeProvider struct {
	name   string
	models []string
	chatFn func(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error

	mu       sync.Mutex
	requests int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CachedModels() []string { return f.models }

func (f *fakeProvider) ListModels(context.Context) ([]string, error) { return f.models, nil }

func (f *fakeProvider) Acquire(context.Context) (func(), error) { return func() {}, nil }

func (f *fakeProvider) ChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
	if f.chatFn != nil {
		return f.chatFn(ctx, conv, exchange)
	}
	return nil
}

func (f *fakeProvider) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

type recordingMonitor struct {
	mu     sync.Mutex
	events []any
}

func (r *recordingMonitor) Send(event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingMonitor) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func (r *recordingMonitor) typeSequence() []string {
	var types []string
	for _, event := range r.snapshot() {
		types = append(types, eventType(event))
	}
	return types
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(context.Background(), conversation.NewStore(), tool.NewRegistry(), conversation.PolicyDerived, zerolog.Nop())
}

func TestService_Models_MergesInRegistrationOrder(t *testing.T) {
	s := newTestService(t)
	s.RegisterProvider(&fakeProvider{name: "a", models: []string{"m1", "m2"}})
	s.RegisterProvider(&fakeProvider{name: "b", models: []string{"m3"}})

	models := s.Models(context.Background())
	assert.Equal(t, []string{"m1", "m2", "m3"}, models)
}

func TestService_SelectProvider(t *testing.T) {
	s := newTestService(t)
	a := &fakeProvider{name: "a", models: []string{"shared", "only-a"}}
	b := &fakeProvider{name: "b", models: []string{"shared"}}
	s.RegisterProvider(a)
	s.RegisterProvider(b)
	s.randIntN = func(n int) int { return n - 1 }

	p, err := s.selectProvider("only-a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name())

	p, err = s.selectProvider("shared")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())

	_, err = s.selectProvider("unknown")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestService_ChatTurn_NoModel(t *testing.T) {
	s := newTestService(t)
	conv := s.CreateConversation()
	exchange := conv.AppendExchange()

	err := s.chatTurn(context.Background(), conv, exchange)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestService_CreateExchange_StreamsAssistantReply(t *testing.T) {
	s := newTestService(t)
	provider := &fakeProvider{name: "fake", models: []string{"test-model"}}
	provider.chatFn = func(_ context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
		item := conversation.NewAssistantMessage("", conversation.ItemStatusInProgress)
		conv.AppendItem(exchange, item)
		s.ItemAppended(conv, item)
		conv.AppendContent(item, "hello")
		s.ItemDelta(conv, item, "hello")
		require.NoError(t, conv.SetItemStatus(item, conversation.ItemStatusCompleted))
		s.ItemUpdated(conv, item)
		return nil
	}
	s.RegisterProvider(provider)

	conv := s.CreateConversation()
	monitor := &recordingMonitor{}
	conv.AddMonitor(monitor)

	s.CreateExchange(conv, conversation.NewUserMessage("hi", "test-model"))

	require.Eventually(t, func() bool {
		types := monitor.typeSequence()
		return provider.requestCount() == 1 && len(types) >= 6 && types[len(types)-1] == EventTasksUpdated && conv.TaskCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	items := conv.ItemsSnapshot()
	require.Len(t, items, 2)
	assert.Equal(t, conversation.ItemRoleUser, items[0].Role)
	assert.Equal(t, "hello", items[1].Content)
	assert.Equal(t, conversation.ItemStatusCompleted, items[1].Status)

	types := monitor.typeSequence()
	require.GreaterOrEqual(t, len(types), 6)
	assert.Equal(t, []string{
		EventItemAppended, // user message
		EventTasksUpdated, // chat turn scheduled
		EventItemAppended, // assistant message
		EventItemDelta,
		EventItemUpdated,
		EventTasksUpdated, // chat turn finished
	}, []string{types[0], types[1], types[2], types[3], types[4], types[len(types)-1]})

	// The finished turn settles its exchange under either policy.
	exchange := conv.LastExchange()
	require.NotNil(t, exchange)
	assert.True(t, conv.ExchangeCompleted(exchange, conversation.PolicyExplicit))
	assert.True(t, conv.ExchangeCompleted(exchange, conversation.PolicyDerived))
}

func TestService_ExchangeSettlement_ToolTurn(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "ping", run: func(_ context.Context, call *tool.Call) error {
		call.AppendOutput("PONG\n")
		return nil
	}})

	s := NewService(context.Background(), conversation.NewStore(), registry, conversation.PolicyExplicit, zerolog.Nop())
	provider := &fakeProvider{name: "fake", models: []string{"test-model"}}
	provider.chatFn = func(_ context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
		item := conversation.NewAssistantMessage("done", conversation.ItemStatusCompleted)
		conv.AppendItem(exchange, item)
		return nil
	}
	s.RegisterProvider(provider)

	conv := s.CreateConversation()
	exchange := conv.AppendExchange()
	conv.AppendItem(exchange, conversation.NewUserMessage("ping localhost", "test-model"))
	call := conversation.NewFunctionCall("call-1", "ping", `{"target":"localhost"}`, conversation.ItemStatusCompleted)
	conv.AppendItem(exchange, call)

	// A pending function call keeps the exchange open.
	assert.False(t, conv.ExchangeCompleted(exchange, conversation.PolicyExplicit))

	s.FunctionCallReady(conv, call)

	require.Eventually(t, func() bool {
		return conv.ItemCopy(call).Status == conversation.ItemStatusFinished && conv.TaskCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// The finished tool run settles the first exchange; the follow-up turn
	// settles the second.
	exchanges := conv.Exchanges()
	require.Len(t, exchanges, 2)
	assert.True(t, conv.ExchangeCompleted(exchanges[0], conversation.PolicyExplicit))
	assert.True(t, conv.ExchangeCompleted(exchanges[1], conversation.PolicyExplicit))
}

// fakeTool appends a fixed output to the call.
type fakeTool struct {
	name string
	run  func(ctx context.Context, call *tool.Call) error
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Run(ctx context.Context, call *tool.Call) error { return f.run(ctx, call) }

func TestService_FunctionCallDispatch(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "ping", run: func(_ context.Context, call *tool.Call) error {
		call.AppendOutput("PONG\n")
		return nil
	}})

	s := NewService(context.Background(), conversation.NewStore(), registry, conversation.PolicyDerived, zerolog.Nop())
	provider := &fakeProvider{name: "fake", models: []string{"test-model"}}
	s.RegisterProvider(provider)

	conv := s.CreateConversation()
	exchange := conv.AppendExchange()
	conv.AppendItem(exchange, conversation.NewUserMessage("ping localhost", "test-model"))
	call := conversation.NewFunctionCall("call-1", "ping", `{"target":"localhost"}`, conversation.ItemStatusCompleted)
	conv.AppendItem(exchange, call)

	s.FunctionCallReady(conv, call)

	require.Eventually(t, func() bool {
		return conv.ItemCopy(call).Status == conversation.ItemStatusFinished && conv.TaskCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	got := conv.ItemCopy(call)
	assert.Equal(t, "PONG\n", got.Content)
	assert.False(t, got.Error)

	// The follow-up chat turn ran against a fresh exchange.
	assert.Equal(t, 1, provider.requestCount())
	assert.Len(t, conv.Exchanges(), 2)
}

func TestService_FunctionCallDispatch_UnknownTool(t *testing.T) {
	s := newTestService(t)
	s.RegisterProvider(&fakeProvider{name: "fake", models: []string{"test-model"}})

	conv := s.CreateConversation()
	exchange := conv.AppendExchange()
	conv.AppendItem(exchange, conversation.NewUserMessage("hi", "test-model"))
	call := conversation.NewFunctionCall("call-2", "teleport", `{}`, conversation.ItemStatusCompleted)
	conv.AppendItem(exchange, call)

	s.FunctionCallReady(conv, call)

	require.Eventually(t, func() bool {
		return conv.ItemCopy(call).Status == conversation.ItemStatusFinished && conv.TaskCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	got := conv.ItemCopy(call)
	assert.True(t, got.Error)
	assert.Equal(t, "Called unknown function 'teleport', no result available.", got.Content)
}

func TestService_FunctionCallDispatch_PanicRecovered(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "ping", run: func(context.Context, *tool.Call) error {
		panic("boom")
	}})

	s := NewService(context.Background(), conversation.NewStore(), registry, conversation.PolicyDerived, zerolog.Nop())
	s.RegisterProvider(&fakeProvider{name: "fake", models: []string{"test-model"}})

	conv := s.CreateConversation()
	exchange := conv.AppendExchange()
	conv.AppendItem(exchange, conversation.NewUserMessage("hi", "test-model"))
	call := conversation.NewFunctionCall("call-3", "ping", `{}`, conversation.ItemStatusCompleted)
	conv.AppendItem(exchange, call)

	s.FunctionCallReady(conv, call)

	require.Eventually(t, func() bool {
		return conv.ItemCopy(call).Status == conversation.ItemStatusFinished && conv.TaskCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	got := conv.ItemCopy(call)
	assert.True(t, got.Error)
	assert.Equal(t, "Generic exception occurred. Try again.", got.Content)
}

func TestService_Broadcast_IsolatesFailingMonitor(t *testing.T) {
	s := newTestService(t)
	conv := s.CreateConversation()

	healthy := &recordingMonitor{}
	conv.AddMonitor(healthy)

	failing := NewMonitorQueue(func(any) error { return ErrMonitorClosed }, zerolog.Nop())
	conv.AddMonitor(failing)

	for i := 0; i < 10; i++ {
		s.Broadcast(conv, TasksUpdatedEvent{Type: EventTasksUpdated, Count: i})
	}

	select {
	case <-failing.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("failing monitor not closed")
	}
	assert.Len(t, healthy.snapshot(), 10)
}

func TestService_SendFullSnapshot(t *testing.T) {
	s := newTestService(t)
	conv := s.CreateConversation()
	exchange := conv.AppendExchange()
	conv.AppendItem(exchange, conversation.NewUserMessage("hi", "m"))

	monitor := &recordingMonitor{}
	s.SendFullSnapshot(conv, monitor)

	events := monitor.snapshot()
	require.Len(t, events, 1)
	full, ok := events[0].(FullUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, EventUpdateFull, full.Type)
	assert.Equal(t, conv.ID, full.ConversationID)
	require.Len(t, full.Items, 1)
	assert.Equal(t, "hi", full.Items[0].Content)
}
