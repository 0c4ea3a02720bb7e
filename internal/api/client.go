// Package api is the typed HTTP client for the second-brain server:
// thin wrappers over its REST resources plus the chat stream opener.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	recallErrors "github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/stream"
)

const (
	defaultTimeout = 30 * time.Second
)

// Client handles HTTP communication with the server.
type Client struct {
	baseURL string
	http    *http.Client

	// Streaming responses outlive any sane request timeout, so the
	// stream opener uses a separate client with none.
	streamHTTP *http.Client
}

// NewClient creates a new API client for the given base URL.
func NewClient(baseURL string) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, recallErrors.NewConfigError("server.url", "base URL cannot be empty", nil)
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, recallErrors.NewConfigError("server.url", "base URL must start with http:// or https://", nil)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		http:       &http.Client{Timeout: defaultTimeout},
		streamHTTP: &http.Client{},
	}, nil
}

// SetTimeout overrides the request timeout for non-streaming calls.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.http.Timeout = d
	}
}

// ListConversations returns one page of conversation summaries, most
// recently active first.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) ([]Conversation, error) {
	var convs []Conversation
	err := c.get(ctx, "/api/chat/conversations", pageQuery(page, pageSize), &convs)
	return convs, err
}

// CreateConversation creates a new empty conversation.
func (c *Client) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	var conv Conversation
	if err := c.post(ctx, "/api/chat/conversations", map[string]any{"title": title}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Conversation fetches one conversation with its full message list.
func (c *Client) Conversation(ctx context.Context, id int) (*Conversation, error) {
	var conv Conversation
	if err := c.get(ctx, "/api/chat/conversations/"+strconv.Itoa(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id int) error {
	return c.delete(ctx, "/api/chat/conversations/"+strconv.Itoa(id))
}

// ListDocuments returns one page of documents. status and search are
// optional filters.
func (c *Client) ListDocuments(ctx context.Context, page, pageSize int, status, search string) (*DocumentList, error) {
	q := pageQuery(page, pageSize)
	if status != "" {
		q.Set("status", status)
	}
	if search != "" {
		q.Set("search", search)
	}

	var list DocumentList
	if err := c.get(ctx, "/api/documents", q, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Document fetches a single document's metadata.
func (c *Client) Document(ctx context.Context, id int) (*Document, error) {
	var doc Document
	if err := c.get(ctx, "/api/documents/"+strconv.Itoa(id), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document and its chunks.
func (c *Client) DeleteDocument(ctx context.Context, id int) error {
	return c.delete(ctx, "/api/documents/"+strconv.Itoa(id))
}

// ListMemories returns one page of memories. memoryType and search are
// optional; pinnedOnly narrows to pinned entries.
func (c *Client) ListMemories(ctx context.Context, page, pageSize int, memoryType string, pinnedOnly bool) (*MemoryList, error) {
	q := pageQuery(page, pageSize)
	if memoryType != "" {
		q.Set("memory_type", memoryType)
	}
	if pinnedOnly {
		q.Set("is_pinned", "true")
	}

	var list MemoryList
	if err := c.get(ctx, "/api/memory", q, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateMemory stores a new memory.
func (c *Client) CreateMemory(ctx context.Context, data MemoryCreate) (*Memory, error) {
	var mem Memory
	if err := c.post(ctx, "/api/memory", data, &mem); err != nil {
		return nil, err
	}
	return &mem, nil
}

// DeleteMemory removes a memory.
func (c *Client) DeleteMemory(ctx context.Context, id int) error {
	return c.delete(ctx, "/api/memory/"+strconv.Itoa(id))
}

// TogglePin flips the pinned flag on a memory.
func (c *Client) TogglePin(ctx context.Context, id int) error {
	return c.post(ctx, "/api/memory/"+strconv.Itoa(id)+"/pin", nil, nil)
}

// TodayDigest fetches the generated digest for today.
func (c *Client) TodayDigest(ctx context.Context) (*Digest, error) {
	var digest Digest
	if err := c.get(ctx, "/api/memory/digest/today", nil, &digest); err != nil {
		return nil, err
	}
	return &digest, nil
}

// Stats fetches the server-wide counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Health reports server and model availability.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.get(ctx, "/api/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// OpenStream starts one chat exchange and returns a decoder over the
// live event stream. conversationID zero means the server creates a
// new conversation. The caller owns the decoder and must Close it.
func (c *Client) OpenStream(ctx context.Context, content string, conversationID int) (*stream.Decoder, error) {
	body := map[string]any{"content": content}
	if conversationID > 0 {
		body["conversation_id"] = conversationID
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.baseURL + "/api/chat/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, recallErrors.NewTransportError(endpoint, "open stream", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.decodeError(resp)
	}
	if resp.Body == nil {
		return nil, recallErrors.NewTransportError(endpoint, "response has no body", nil)
	}

	return stream.NewDecoder(resp.Body), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return recallErrors.NewTransportError(endpoint, "execute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError extracts the FastAPI-style {"detail": ...} message from
// an error response body.
func (c *Client) decodeError(resp *http.Response) error {
	var apiErr struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &apiErr); err != nil {
		return recallErrors.NewAPIError(resp.StatusCode, "", nil)
	}

	var detail string
	switch d := apiErr.Detail.(type) {
	case string:
		detail = d
	case []any, map[string]any:
		// Validation errors arrive as structured detail; keep the raw
		// form, it is short and already human-readable enough.
		if encoded, err := json.Marshal(d); err == nil {
			detail = string(encoded)
		}
	}
	if detail == "" {
		detail = apiErr.Error
	}

	return recallErrors.NewAPIError(resp.StatusCode, detail, nil)
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	return q
}
