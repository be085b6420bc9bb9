package llmprovider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
	"github.com/ateska/markdown-notes-mcp/internal/infrastructure/metrics"
)

// ChatCompletionsProvider speaks the OpenAI chat completions API
// (https://platform.openai.com/docs/api-reference/chat/create).
type ChatCompletionsProvider struct {
	*baseProvider
}

func NewChatCompletionsProvider(opts Options, sink EventSink, log zerolog.Logger) *ChatCompletionsProvider {
	return &ChatCompletionsProvider{baseProvider: newBaseProvider(opts, sink, log)}
}

// buildMessages serializes the history into the chat completions messages
// array. Instructions become the leading system message; reasoning items
// are skipped; a function call expands into the assistant tool_calls
// message plus the tool result message.
func (p *ChatCompletionsProvider) buildMessages(instructions string, items []conversation.Item) []map[string]any {
	messages := make([]map[string]any, 0, len(items)+1)
	if instructions != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": instructions,
		})
	}

	for _, item := range items {
		switch item.Type {
		case conversation.ItemTypeMessage:
			messages = append(messages, map[string]any{
				"role":    item.Role,
				"content": item.Content,
			})
		case conversation.ItemTypeReasoning:
			// not representable in this protocol
		case conversation.ItemTypeFunctionCall:
			messages = append(messages, map[string]any{
				"role":    "assistant",
				"content": nil,
				"tool_calls": []map[string]any{{
					"id":   item.CallID,
					"type": "function",
					"function": map[string]any{
						"name":      item.Name,
						"arguments": item.Arguments,
					},
				}},
			})
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": item.CallID,
				"content":      item.Content,
			})
		}
	}
	return messages
}

func (p *ChatCompletionsProvider) buildTools() []map[string]any {
	tools := make([]map[string]any, 0, len(p.tools))
	for _, t := range p.tools {
		tools = append(tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return tools
}

// chatCompletionsStream tracks items under construction for one upstream
// stream: at most one assistant message plus tool calls keyed by their
// chunk index.
type chatCompletionsStream struct {
	message   *conversation.Item
	toolCalls map[int]*conversation.Item
}

// ChatRequest streams one model response via v1/chat/completions.
func (p *ChatCompletionsProvider) ChatRequest(ctx context.Context, conv *conversation.Conversation, exchange *conversation.Exchange) error {
	model, err := p.requireModel(conv)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"model":    model,
		"messages": p.buildMessages(conv.Instructions, conv.ItemsSnapshot()),
		"stream":   true,
		"tools":    p.buildTools(),
	}

	resp, err := p.postStream(ctx, "v1/chat/completions", payload)
	if err != nil || resp == nil {
		return err
	}
	defer resp.Body.Close()

	stream := &chatCompletionsStream{toolCalls: map[int]*conversation.Item{}}
	decoder := newSSEDecoder(resp.Body)
	for {
		event, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			p.finalizeStream(conv, stream)
			return nil
		}
		if err != nil {
			p.log.Warn().Err(err).Msg("invalid line in SSE response")
			return nil
		}
		if event.Data == "" {
			continue
		}
		if event.IsDone() {
			p.finalizeStream(conv, stream)
			return nil
		}

		metrics.StreamEventsTotal.WithLabelValues(p.name, "chunk").Inc()

		var chunk chatChunk
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			p.log.Warn().Err(err).Str("data", event.Data).Msg("invalid JSON in SSE response")
			continue
		}
		p.onChunk(conv, exchange, stream, chunk)
	}
}

type chatChunkToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Role      string              `json:"role"`
			Content   *string             `json:"content"`
			ToolCalls []chatChunkToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *ChatCompletionsProvider) onChunk(conv *conversation.Conversation, exchange *conversation.Exchange, stream *chatCompletionsStream, chunk chatChunk) {
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != nil {
		text := *choice.Delta.Content
		if stream.message == nil {
			stream.message = conversation.NewAssistantMessage(text, conversation.ItemStatusInProgress)
			conv.AppendItem(exchange, stream.message)
			p.sink.ItemAppended(conv, stream.message)
		} else {
			conv.AppendContent(stream.message, text)
			p.sink.ItemDelta(conv, stream.message, text)
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		item, ok := stream.toolCalls[tc.Index]
		if !ok {
			item = conversation.NewFunctionCall(tc.ID, tc.Function.Name, tc.Function.Arguments, conversation.ItemStatusInProgress)
			stream.toolCalls[tc.Index] = item
			conv.AppendItem(exchange, item)
			p.sink.ItemAppended(conv, item)
			continue
		}
		conv.AppendArguments(item, tc.Function.Arguments)
	}

	if choice.FinishReason == nil {
		return
	}
	switch *choice.FinishReason {
	case "stop":
		if stream.message != nil {
			p.completeItem(conv, stream.message, false)
		}
	case "tool_calls":
		for _, index := range sortedIndexes(stream.toolCalls) {
			p.completeItem(conv, stream.toolCalls[index], true)
		}
	}
}

// finalizeStream closes out anything still in progress when the stream
// ends, including tool calls never flagged by a finish_reason.
func (p *ChatCompletionsProvider) finalizeStream(conv *conversation.Conversation, stream *chatCompletionsStream) {
	if stream.message != nil && conv.ItemCopy(stream.message).Status == conversation.ItemStatusInProgress {
		p.completeItem(conv, stream.message, false)
	}
	for _, index := range sortedIndexes(stream.toolCalls) {
		item := stream.toolCalls[index]
		if conv.ItemCopy(item).Status == conversation.ItemStatusInProgress {
			p.completeItem(conv, item, true)
		}
	}
	stream.message = nil
	stream.toolCalls = map[int]*conversation.Item{}
}

func (p *ChatCompletionsProvider) completeItem(conv *conversation.Conversation, item *conversation.Item, functionCall bool) {
	if err := conv.SetItemStatus(item, conversation.ItemStatusCompleted); err != nil {
		p.log.Warn().Err(err).Str("key", item.Key).Msg("cannot update item status")
		return
	}
	p.sink.ItemUpdated(conv, item)
	if functionCall {
		p.sink.FunctionCallReady(conv, item)
	}
}

func sortedIndexes(calls map[int]*conversation.Item) []int {
	indexes := make([]int, 0, len(calls))
	for index := range calls {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	return indexes
}
