// Package llmprovider implements the vendor adapters that stream chat
// completions from upstream LLM services into the conversation model.
// Three wire protocols are supported: the responses API, the chat
// completions API and the messages API. Each adapter owns one upstream
// base URL, caches its model catalog and bounds its concurrent streams.
package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/ateska/markdown-notes-mcp/internal/domain/conversation"
)

// EventSink receives the item lifecycle produced by an adapter while it
// parses an upstream stream. The orchestration service implements it.
type EventSink interface {
	ItemAppended(conv *conversation.Conversation, item *conversation.Item)
	ItemDelta(conv *conversation.Conversation, item *conversation.Item, delta string)
	ItemUpdated(conv *conversation.Conversation, item *conversation.Item)
	FunctionCallReady(conv *conversation.Conversation, call *conversation.Item)
}

// ToolSpec describes one callable function advertised to the upstream
// model. Parameters is a JSON schema object; each adapter serializes it in
// its vendor's manifest shape.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Options configures one provider adapter.
type Options struct {
	Name          string
	URL           string
	APIKey        string
	StreamLimit   int64
	StreamTimeout time.Duration
	Tools         []ToolSpec
}

const defaultStreamLimit = 2

// baseProvider carries the behavior shared by all three adapters: URL
// normalization, auth headers, the model catalog and the stream permit.
type baseProvider struct {
	name    string
	url     string // normalized to a single trailing slash
	apiKey  string
	sink    EventSink
	log     zerolog.Logger
	httpc   *http.Client
	rest    *resty.Client
	sem     *semaphore.Weighted
	tools   []ToolSpec
	headers func() map[string]string

	mu     sync.RWMutex
	models []string
}

func newBaseProvider(opts Options, sink EventSink, log zerolog.Logger) *baseProvider {
	limit := opts.StreamLimit
	if limit <= 0 {
		limit = defaultStreamLimit
	}
	timeout := opts.StreamTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	url := strings.TrimRight(opts.URL, "/") + "/"

	p := &baseProvider{
		name:   opts.Name,
		url:    url,
		apiKey: opts.APIKey,
		sink:   sink,
		log:    log.With().Str("provider", opts.Name).Str("url", url).Logger(),
		httpc:  &http.Client{Timeout: timeout},
		rest:   resty.New().SetBaseURL(url).SetTimeout(30 * time.Second),
		sem:    semaphore.NewWeighted(limit),
		tools:  opts.Tools,
	}
	p.headers = p.bearerHeaders
	return p
}

// Name identifies the adapter in logs, metrics and selection errors.
func (p *baseProvider) Name() string {
	return p.name
}

// bearerHeaders is the default auth scheme: Authorization with a bearer
// token when an API key is configured.
func (p *baseProvider) bearerHeaders() map[string]string {
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

// Acquire takes one of the provider's stream permits, blocking until a
// slot frees up or ctx is cancelled.
func (p *baseProvider) Acquire(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { p.sem.Release(1) }, nil
}

// CachedModels returns the catalog from the last successful refresh.
func (p *baseProvider) CachedModels() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.models...)
}

type modelEntry struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Data []modelEntry `json:"data"`
}

// ListModels refreshes the model catalog from the upstream v1/models
// endpoint, which works across vLLM, TensorRT-LLM, OpenAI and Anthropic.
// Upstream refusals are logged and leave the cache untouched; only
// transport failures surface as errors.
func (p *baseProvider) ListModels(ctx context.Context) ([]string, error) {
	var result modelList
	resp, err := p.rest.R().
		SetContext(ctx).
		SetHeaders(p.headers()).
		SetResult(&result).
		Get("v1/models")
	if err != nil {
		return nil, fmt.Errorf("get models: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		if resp.StatusCode() == http.StatusUnauthorized {
			p.log.Warn().Str("response", resp.String()).Msg("unauthorized access to LLM chat provider")
			return nil, nil
		}
		p.log.Warn().Int("status", resp.StatusCode()).Str("text", resp.String()).Msg("error getting models")
		return nil, nil
	}

	entries := result.Data
	if strings.HasPrefix(p.url, "https://api.openai.com/") {
		// The OpenAI catalog lists embeddings, TTS and more; only the
		// models owned by "openai" are directly usable for chat.
		filtered := entries[:0]
		for _, e := range entries {
			if e.OwnedBy == "openai" {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	models := make([]string, 0, len(entries))
	for _, e := range entries {
		models = append(models, e.ID)
	}

	p.mu.Lock()
	p.models = models
	p.mu.Unlock()
	return models, nil
}

// postStream opens a streaming POST against path. A non-success status or
// a non-SSE content type is an adapter-level failure: it is logged and nil
// is returned for both values, ending the chat turn without error.
func (p *baseProvider) postStream(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range p.headers() {
		req.Header.Set(k, v)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		resp.Body.Close()
		p.log.Error().Int("status", resp.StatusCode).Str("text", string(text)).Msg("error when sending request to LLM chat provider")
		return nil, nil
	}
	if !isEventStream(resp.Header.Get("Content-Type")) {
		resp.Body.Close()
		p.log.Error().Str("content_type", resp.Header.Get("Content-Type")).Msg("unexpected content type from LLM chat provider")
		return nil, nil
	}
	return resp, nil
}

// requireModel resolves the active model for an outgoing request.
func (p *baseProvider) requireModel(conv *conversation.Conversation) (string, error) {
	model := conv.ActiveModel()
	if model == "" {
		return "", fmt.Errorf("conversation %s has no active model", conv.ID)
	}
	return model, nil
}
