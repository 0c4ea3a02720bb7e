package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	recallErrors "github.com/recallhq/recall/internal/errors"
	"github.com/recallhq/recall/internal/stream"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		baseURL   string
		wantError bool
	}{
		{"valid url", "http://localhost:8000", false},
		{"trailing slash", "http://localhost:8000/", false},
		{"empty url", "", true},
		{"whitespace url", "   ", true},
		{"missing scheme", "localhost:8000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.baseURL)
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if client == nil {
				t.Error("expected client, got nil")
			}
		})
	}
}

func TestClient_Conversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/conversations/7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		// Timestamps as the backend actually emits them: no zone.
		io.WriteString(w, `{
			"id": 7,
			"title": "Reading notes",
			"is_archived": false,
			"created_at": "2026-08-29T10:11:12.334455",
			"updated_at": "2026-08-29T10:15:00",
			"message_count": 2,
			"messages": [
				{"id": 1, "role": "user", "content": "Hello", "created_at": "2026-08-29T10:11:12"},
				{"id": 2, "role": "assistant", "content": "Hi there", "latency_ms": 412.5,
				 "sources": [{"document_id": 3, "document_title": "Notes", "chunk_content": "alpha", "relevance_score": 0.9}],
				 "created_at": "2026-08-29T10:11:14"}
			]
		}`)
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	conv, err := client.Conversation(context.Background(), 7)
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}

	if conv.Title != "Reading notes" {
		t.Errorf("unexpected title %q", conv.Title)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[1].Role != RoleAssistant {
		t.Errorf("unexpected role %q", conv.Messages[1].Role)
	}
	if len(conv.Messages[1].Sources) != 1 || conv.Messages[1].Sources[0].DocumentTitle != "Notes" {
		t.Errorf("citation not decoded: %#v", conv.Messages[1].Sources)
	}
	if conv.CreatedAt.IsZero() {
		t.Error("zoneless timestamp did not parse")
	}
}

func TestClient_ListConversations_Pagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("page_size") != "10" {
			t.Errorf("pagination not forwarded: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	if _, err := client.ListConversations(context.Background(), 2, 10); err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail": "Conversation not found"}`)
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	_, err := client.Conversation(context.Background(), 99)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	apiErr, ok := err.(*recallErrors.APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status() != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", apiErr.Status())
	}
	if apiErr.Detail() != "Conversation not found" {
		t.Errorf("unexpected detail %q", apiErr.Detail())
	}
}

func TestClient_OpenStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Content        string `json:"content"`
			ConversationID int    `json:"conversation_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Content != "Hello" || body.ConversationID != 7 {
			t.Errorf("unexpected request body: %+v", body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\": \"token\", \"content\": \"Hi\"}\n\n")
		fmt.Fprint(w, "data: {\"type\": \"done\", \"conversation_id\": 7, \"message_id\": 3}\n\n")
	}))
	defer server.Close()

	client, _ := NewClient(server.URL)
	dec, err := client.OpenStream(context.Background(), "Hello", 7)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer dec.Close()

	ev, err := dec.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if tok, ok := ev.(stream.TokenEvent); !ok || tok.Content != "Hi" {
		t.Errorf("unexpected first event %#v", ev)
	}

	ev, err = dec.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if done, ok := ev.(stream.DoneEvent); !ok || done.ConversationID != 7 {
		t.Errorf("unexpected second event %#v", ev)
	}

	if _, err := dec.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF after terminal event, got %v", err)
	}
}

func TestClient_OpenStream_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(nil))
	server.Close() // refuse all connections

	client, _ := NewClient(server.URL)
	_, err := client.OpenStream(context.Background(), "Hello", 0)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if _, ok := err.(*recallErrors.TransportError); !ok {
		t.Errorf("expected *TransportError, got %T: %v", err, err)
	}
}
