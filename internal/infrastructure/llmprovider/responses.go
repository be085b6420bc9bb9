package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/metrics"
)

// ResponsesProvider speaks the OpenAI responses API
// (https://platform.openai.com/docs/api-reference/responses).
type ResponsesProvider struct {
	*baseProvider
}

func NewResponsesProvider(opts Options, sink EventSink, log zerolog.Logger) *ResponsesProvider {
	return &ResponsesProvider{baseProvider: newBaseProvider(opts, sink, log)}
}

// buildInput serializes the conversation history into the responses API
// input array. Reasoning items are never sent back upstream; a function
// call expands into the call record plus its output record.
func (p *ResponsesProvider) buildInput(items []conversation.Item) []map[string]any {
	input := make([]map[string]any, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case conversation.ItemTypeMessage:
			input = append(input, map[string]any{
				"role":    item.Role,
				"content": item.Content,
			})
		case conversation.ItemTypeReasoning:
			// not part of the input
		case conversation.ItemTypeFunctionCall:
			input = append(input, map[string]any{
				"type":      "function_call",
				"call_id":   item.CallID,
				"name":      item.Name,
				"arguments": item.Arguments,
			})
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": item.CallID,
				"output":  item.Content,
			})
		}
	}
	return input
}

func (p *ResponsesProvider) buildTools() []map[string]any {
	tools := make([]map[string]any, 0, len(p.tools))
	for _, t := range p.tools {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}
	return tools
}

// ChatRequest streams one model response into the exchange via v1/responses.
func (p *ResponsesProvider) ChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
	model, err := p.requireModel(conv)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"model":        model,
		"instructions": conv.Instructions,
		"input":        p.buildInput(conv.ItemsSnapshot()),
		"stream":       true,
		"tools":        p.buildTools(),
	}

	resp, err := p.postStream(ctx, "v1/responses", payload)
	if err != nil || resp == nil {
		return err
	}
	defer resp.Body.Close()

	decoder := newSSEDecoder(resp.Body)
	for {
		event, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			p.log.Warn().Err(err).Msg("invalid line in SSE response")
			return nil
		}
		p.onEvent(conv, exchange, event)
	}
}

type responsesEventItem struct {
	Type      string `json:"type"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type responsesEvent struct {
	Item      *responsesEventItem `json:"item"`
	ItemID    string              `json:"item_id"`
	Delta     string              `json:"delta"`
	Name      string              `json:"name"`
	Arguments string              `json:"arguments"`
}

func (p *ResponsesProvider) onEvent(conv *conversation.Conversation, exchange *conversation.Exchange, event sseEvent) {
	metrics.StreamEventsTotal.WithLabelValues(p.name, event.Type).Inc()

	var data responsesEvent
	if event.Data != "" && !event.IsDone() {
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			p.log.Warn().Err(err).Str("type", event.Type).Msg("invalid JSON in SSE response")
			return
		}
	}

	switch event.Type {

	case "response.created", "response.in_progress", "response.completed":
		// response envelope lifecycle, nothing to mirror

	case "response.output_item.added":
		p.onOutputItemAdded(conv, exchange, data)

	case "response.output_item.done":
		p.onOutputItemDone(conv, exchange, data)

	case "response.content_part.added", "response.content_part.done",
		"response.reasoning_part.added", "response.reasoning_part.done",
		"response.reasoning_text.done", "response.output_text.done",
		"response.function_call_arguments.delta":
		// item granularity is enough, parts and per-fragment argument
		// deltas are ignored

	case "response.reasoning_text.delta":
		p.onTextDelta(conv, exchange, conversation.ItemTypeReasoning, data)

	case "response.output_text.delta":
		p.onTextDelta(conv, exchange, conversation.ItemTypeMessage, data)

	case "response.function_call_arguments.done":
		item := conv.LastItem(exchange, conversation.ItemTypeFunctionCall)
		if item == nil {
			p.log.Warn().Msg("unknown item for 'response.function_call_arguments.done'")
			return
		}
		name := data.Name
		if name == "" {
			name = conv.ItemCopy(item).Name
		}
		conv.SetFunctionCall(item, name, data.Arguments)

	default:
		p.log.Warn().Str("type", event.Type).Msg("unknown/unhandled event")
	}
}

func (p *ResponsesProvider) onOutputItemAdded(conv *conversation.Conversation, exchange *conversation.Exchange, data responsesEvent) {
	if data.Item == nil {
		p.log.Warn().Msg("missing item in 'response.output_item.added'")
		return
	}

	status := itemStatus(data.Item.Status)

	var item *conversation.Item
	switch data.Item.Type {
	case "reasoning":
		item = conversation.NewReasoning("", status)
	case "message":
		item = conversation.NewAssistantMessage("", status)
	case "function_call":
		item = conversation.NewFunctionCall(data.Item.CallID, data.Item.Name, data.Item.Arguments, status)
	default:
		p.log.Warn().Str("type", data.Item.Type).Msg("unknown output item type")
		return
	}

	conv.AppendItem(exchange, item)
	p.sink.ItemAppended(conv, item)
}

func (p *ResponsesProvider) onOutputItemDone(conv *conversation.Conversation, exchange *conversation.Exchange, data responsesEvent) {
	if data.Item == nil {
		p.log.Warn().Msg("missing item in 'response.output_item.done'")
		return
	}

	item := conv.LastItem(exchange, conversation.ItemType(data.Item.Type))
	if item == nil {
		p.log.Warn().Msg("unknown item for 'response.output_item.done'")
		return
	}

	if err := conv.SetItemStatus(item, itemStatus(data.Item.Status)); err != nil {
		p.log.Warn().Err(err).Str("key", item.Key).Msg("cannot update item status")
	}
	p.sink.ItemUpdated(conv, item)

	if item.Type == conversation.ItemTypeFunctionCall {
		p.sink.FunctionCallReady(conv, item)
	}
}

func (p *ResponsesProvider) onTextDelta(conv *conversation.Conversation, exchange *conversation.Exchange, t conversation.ItemType, data responsesEvent) {
	item := conv.LastItem(exchange, t)
	if item != nil {
		conv.AppendContent(item, data.Delta)
		p.sink.ItemDelta(conv, item, data.Delta)
		return
	}
	if data.ItemID == "" && strings.TrimSpace(data.Delta) == "" {
		// Misfired empty delta before any item exists; observed on
		// TensorRT-LLM with nvidia/Qwen3-235B-A22B-FP4.
		return
	}
	p.log.Warn().Str("item_type", string(t)).Msg("text delta without a matching item")
}

// itemStatus maps an upstream lifecycle string onto the item state
// machine. Anything unrecognized is treated as still streaming.
func itemStatus(s string) conversation.ItemStatus {
	if s == string(conversation.ItemStatusCompleted) {
		return conversation.ItemStatusCompleted
	}
	return conversation.ItemStatusInProgress
}
