package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/recallhq/recall/internal/stream"
)

// Message roles as stored by the server.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// SourceCitation is re-exported from the stream package: the REST
// transcript and the live stream carry the identical wire shape.
type SourceCitation = stream.SourceCitation

// Time accepts the server's timestamp encodings. The backend emits
// plain ISO 8601 without a zone designator for database rows, RFC 3339
// elsewhere.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}

// Message is one persisted chat message. Immutable once returned by
// the server.
type Message struct {
	ID         int              `json:"id"`
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Sources    []SourceCitation `json:"sources,omitempty"`
	TokensUsed int              `json:"tokens_used,omitempty"`
	LatencyMs  float64          `json:"latency_ms,omitempty"`
	CreatedAt  Time             `json:"created_at"`
}

// Conversation is a chat thread. Messages is populated only by the
// single-conversation endpoint.
type Conversation struct {
	ID           int       `json:"id"`
	Title        string    `json:"title"`
	IsArchived   bool      `json:"is_archived"`
	CreatedAt    Time      `json:"created_at"`
	UpdatedAt    Time      `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages,omitempty"`
}

// Document statuses reported by the ingestion pipeline.
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusFailed     = "failed"
)

// Document is an indexed source document.
type Document struct {
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Filename     string   `json:"filename"`
	FileSize     int64    `json:"file_size,omitempty"`
	DocType      string   `json:"doc_type"`
	Status       string   `json:"status"`
	ChunkCount   int      `json:"chunk_count"`
	Tags         []string `json:"tags,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	IsWatched    bool     `json:"is_watched"`
	CreatedAt    Time     `json:"created_at"`
	UpdatedAt    Time     `json:"updated_at"`
}

// DocumentList is one page of documents.
type DocumentList struct {
	Items    []Document `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// Memory kinds known to the server.
const (
	MemoryTypeFact       = "fact"
	MemoryTypePreference = "preference"
	MemoryTypeInsight    = "insight"
	MemoryTypeDigest     = "digest"
	MemoryTypeNote       = "note"
)

// Memory is one stored fact/preference/insight/note.
type Memory struct {
	ID                   int      `json:"id"`
	Title                string   `json:"title"`
	Content              string   `json:"content"`
	MemoryType           string   `json:"memory_type"`
	ImportanceScore      float64  `json:"importance_score"`
	Tags                 []string `json:"tags,omitempty"`
	IsPinned             bool     `json:"is_pinned"`
	SourceDocumentID     int      `json:"source_document_id,omitempty"`
	SourceConversationID int      `json:"source_conversation_id,omitempty"`
	CreatedAt            Time     `json:"created_at"`
	UpdatedAt            Time     `json:"updated_at"`
}

// MemoryList is one page of memories.
type MemoryList struct {
	Items []Memory `json:"items"`
	Total int      `json:"total"`
}

// MemoryCreate is the payload for creating a memory.
type MemoryCreate struct {
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	MemoryType      string   `json:"memory_type,omitempty"`
	ImportanceScore float64  `json:"importance_score,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	IsPinned        bool     `json:"is_pinned,omitempty"`
}

// Digest is the generated daily summary.
type Digest struct {
	Date          string `json:"date"`
	Content       string `json:"content"`
	MemoryCount   int    `json:"memory_count"`
	DocumentCount int    `json:"document_count"`
}

// Stats are the server-wide counters.
type Stats struct {
	Documents     int `json:"documents"`
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Memories      int `json:"memories"`
	Vectors       int `json:"vectors"`
}

// Health reports server and model availability.
type Health struct {
	Status  string `json:"status"`
	App     string `json:"app"`
	Version string `json:"version"`
	Ollama  struct {
		Connected       bool     `json:"connected"`
		Host            string   `json:"host"`
		LLMModel        string   `json:"llm_model"`
		EmbedModel      string   `json:"embed_model"`
		AvailableModels []string `json:"available_models"`
	} `json:"ollama"`
}
