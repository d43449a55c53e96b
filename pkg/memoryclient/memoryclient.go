// Package memoryclient implements the External Clients (C9)
// MemoryService adapter of spec.md §4.9: a thin wrapper around an
// OpenAI-compatible embeddings endpoint exposing Memorize and
// Retrieve. The memory/embedding/retrieval engine itself is out of
// scope (spec.md §1) — this package only dispatches requests and
// classifies the resulting errors into the kinds spec.md §7 names.
// Client construction (base URL, API key, proxy-aware http.Transport)
// is adapted from the reference pack's pkg/providers/openai_sdk
// provider.go; the chat-completion request/response shaping there is
// irrelevant here, since this module never talks to a chat endpoint.
package memoryclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultRequestTimeout = 120 * time.Second

// Kind classifies a Memorize failure per spec.md §7's error table.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindRateLimited
	KindTransientTransport
)

// Error wraps an underlying failure with its classified Kind so the
// Ingest Driver (C7) can decide whether to arm backoff.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Client dispatches Memorize/Retrieve calls against one provider
// configuration (MEMU_EMBED_* or MEMU_CHAT_*, per spec.md §6).
type Client struct {
	httpClient *http.Client
	client     *openai.Client
	model      string
}

// Config mirrors pkg/config.ProviderConfig's fields without importing
// the config package, keeping memoryclient independently testable.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Proxy   string
}

func New(cfg Config) *Client {
	httpClient := &http.Client{Timeout: defaultRequestTimeout}
	if cfg.Proxy != "" {
		if parsed, err := url.Parse(cfg.Proxy); err == nil {
			httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
		}
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		option.WithHTTPClient(httpClient),
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}
	client := openai.NewClient(reqOpts...)

	return &Client{httpClient: httpClient, client: &client, model: cfg.Model}
}

// Memorize dispatches one resource for embedding/indexing, per
// spec.md §4.9. The caller (Ingest Driver) wraps this call with a
// per-item timeout via ctx.
func (c *Client) Memorize(ctx context.Context, resourceURL, modality, userID string) error {
	_, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(resourceURL),
		},
		User: openai.String(userID),
	})
	if err != nil {
		return classify(ctx, err)
	}
	return nil
}

// RetrieveResult is the ranked-result shape surfaced by the reference
// pipeline's scripts/search.py, per SPEC_FULL.md's Supplemented
// Features: each hit is a resource URL with a relevance score.
type RetrieveResult struct {
	URL   string
	Score float64
}

// Retrieve sends queries to the embeddings endpoint and returns any
// request error classified like Memorize's. It returns no results: the
// embedding response is discarded, the filter argument is not used, and
// on success the returned slice is nil. Empty queries return (nil, nil)
// without a request. The embedding/ranking engine behind this call is
// out of scope (spec.md §1).
func (c *Client) Retrieve(ctx context.Context, queries []string, filter map[string]string) ([]RetrieveResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	_, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: queries,
		},
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return nil, nil
}

// classify maps a raw error into spec.md §7's error kinds: a
// recognized rate-limit (HTTP 429, provider code 1302, or textual
// match) arms backoff; a context deadline is a Timeout; anything else
// is a TransientTransportError.
func classify(ctx context.Context, err error) *Error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return &Error{Kind: KindRateLimited, Err: err}
		}
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "ratelimit") || strings.Contains(err.Error(), "1302") {
		return &Error{Kind: KindRateLimited, Err: err}
	}

	return &Error{Kind: KindTransientTransport, Err: err}
}
