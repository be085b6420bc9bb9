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

// anthropicAPIVersion is pinned per the messages API versioning scheme.
const anthropicAPIVersion = "2023-06-01"

const messagesMaxTokens = 4096

// MessagesProvider speaks the Anthropic messages API
// (https://platform.claude.com/docs/en/api/messages/create).
type MessagesProvider struct {
	*baseProvider
}

func NewMessagesProvider(opts Options, sink EventSink, log zerolog.Logger) *MessagesProvider {
	p := &MessagesProvider{baseProvider: newBaseProvider(opts, sink, log)}
	p.headers = p.messagesHeaders
	return p
}

// messagesHeaders authenticates with the vendor-specific api-key header
// against the hosted endpoint, falling back to a bearer token for
// self-hosted gateways exposing the same protocol.
func (p *MessagesProvider) messagesHeaders() map[string]string {
	headers := map[string]string{}
	if p.apiKey == "" {
		return headers
	}
	if strings.HasPrefix(p.url, "https://api.anthropic.com") {
		headers["X-Api-Key"] = p.apiKey
		headers["anthropic-version"] = anthropicAPIVersion
	} else {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

// buildMessages serializes the history into the messages array. Reasoning
// items are skipped; a function call expands into the assistant tool_use
// block plus the user-role tool_result block.
func (p *MessagesProvider) buildMessages(items []conversation.Item) []map[string]any {
	messages := make([]map[string]any, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case conversation.ItemTypeMessage:
			messages = append(messages, map[string]any{
				"role":    item.Role,
				"content": item.Content,
			})
		case conversation.ItemTypeReasoning:
			// thinking blocks require signature round-tripping, skip
		case conversation.ItemTypeFunctionCall:
			messages = append(messages, map[string]any{
				"role": "assistant",
				"content": []map[string]any{{
					"type":  "tool_use",
					"id":    item.CallID,
					"name":  item.Name,
					"input": toolInput(item.Arguments),
				}},
			})
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": item.CallID,
					"content":     item.Content,
				}},
			})
		}
	}
	return messages
}

// toolInput replays streamed argument text as the structured input the
// protocol expects; malformed arguments degrade to an empty object.
func toolInput(arguments string) json.RawMessage {
	if json.Valid([]byte(arguments)) && arguments != "" {
		return json.RawMessage(arguments)
	}
	return json.RawMessage("{}")
}

func (p *MessagesProvider) buildTools() []map[string]any {
	tools := make([]map[string]any, 0, len(p.tools))
	for _, t := range p.tools {
		tools = append(tools, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": t.Parameters,
		})
	}
	return tools
}

// messagesStream tracks the content block currently being streamed.
type messagesStream struct {
	current *conversation.Item
}

// ChatRequest streams one model response via v1/messages.
func (p *MessagesProvider) ChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
	model, err := p.requireModel(conv)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"model":      model,
		"system":     conv.Instructions,
		"messages":   p.buildMessages(conv.ItemsSnapshot()),
		"max_tokens": messagesMaxTokens,
		"stream":     true,
		"tools":      p.buildTools(),
	}

	resp, err := p.postStream(ctx, "v1/messages", payload)
	if err != nil || resp == nil {
		return err
	}
	defer resp.Body.Close()

	stream := &messagesStream{}
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
		if event.Data == "" || event.IsDone() {
			if event.IsDone() {
				return nil
			}
			continue
		}

		metrics.StreamEventsTotal.WithLabelValues(p.name, event.Type).Inc()

		var data messagesEvent
		if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
			p.log.Warn().Err(err).Str("data", event.Data).Msg("invalid JSON in SSE response")
			continue
		}
		p.onEvent(conv, exchange, stream, event.Type, data)
	}
}

type messagesEvent struct {
	Index        int `json:"index"`
	ContentBlock *struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
		ID       string `json:"id"`
		Name     string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Error json.RawMessage `json:"error"`
}

func (p *MessagesProvider) onEvent(conv *conversation.Conversation, exchange *conversation.Exchange, stream *messagesStream, eventType string, data messagesEvent) {
	switch eventType {

	case "message_start", "message_delta", "message_stop", "ping":
		// envelope lifecycle and keepalives

	case "content_block_start":
		p.onBlockStart(conv, exchange, stream, data)

	case "content_block_delta":
		p.onBlockDelta(conv, stream, data)

	case "content_block_stop":
		item := stream.current
		if item != nil {
			if err := conv.SetItemStatus(item, conversation.ItemStatusCompleted); err != nil {
				p.log.Warn().Err(err).Str("key", item.Key).Msg("cannot update item status")
			}
			p.sink.ItemUpdated(conv, item)
			if item.Type == conversation.ItemTypeFunctionCall {
				p.sink.FunctionCallReady(conv, item)
			}
		}
		stream.current = nil

	case "error":
		p.log.Error().RawJSON("error", data.Error).Msg("error from LLM API")

	default:
		p.log.Warn().Str("type", eventType).Msg("unknown/unhandled event")
	}
}

func (p *MessagesProvider) onBlockStart(conv *conversation.Conversation, exchange *conversation.Exchange, stream *messagesStream, data messagesEvent) {
	if data.ContentBlock == nil {
		p.log.Warn().Msg("missing content block in 'content_block_start'")
		return
	}

	var item *conversation.Item
	switch data.ContentBlock.Type {
	case "text":
		item = conversation.NewAssistantMessage(data.ContentBlock.Text, conversation.ItemStatusInProgress)
	case "thinking":
		item = conversation.NewReasoning(data.ContentBlock.Thinking, conversation.ItemStatusInProgress)
	case "tool_use":
		item = conversation.NewFunctionCall(data.ContentBlock.ID, data.ContentBlock.Name, "", conversation.ItemStatusInProgress)
	default:
		p.log.Warn().Str("type", data.ContentBlock.Type).Msg("unknown content block type")
		return
	}

	stream.current = item
	conv.AppendItem(exchange, item)
	p.sink.ItemAppended(conv, item)
}

func (p *MessagesProvider) onBlockDelta(conv *conversation.Conversation, stream *messagesStream, data messagesEvent) {
	if data.Delta == nil {
		p.log.Warn().Msg("missing delta in 'content_block_delta'")
		return
	}
	item := stream.current
	if item == nil {
		p.log.Warn().Msg("received delta without active content block")
		return
	}

	switch data.Delta.Type {
	case "text_delta":
		if item.Type == conversation.ItemTypeMessage {
			conv.AppendContent(item, data.Delta.Text)
			p.sink.ItemDelta(conv, item, data.Delta.Text)
		}
	case "thinking_delta":
		if item.Type == conversation.ItemTypeReasoning {
			conv.AppendContent(item, data.Delta.Thinking)
			p.sink.ItemDelta(conv, item, data.Delta.Thinking)
		}
	case "input_json_delta":
		if item.Type == conversation.ItemTypeFunctionCall {
			conv.AppendArguments(item, data.Delta.PartialJSON)
		}
	default:
		p.log.Warn().Str("type", data.Delta.Type).Msg("unknown delta type")
	}
}
