// Package stream decodes the server-sent event stream produced by the
// chat endpoint into typed events.
package stream

import "encoding/json"

// SourceCitation is one retrieved chunk backing an assistant answer.
// Ordering is relevance rank as delivered by the server; the client
// never re-sorts.
type SourceCitation struct {
	DocumentID     int     `json:"document_id"`
	DocumentTitle  string  `json:"document_title"`
	ChunkContent   string  `json:"chunk_content"`
	RelevanceScore float64 `json:"relevance_score"`
	PageNumber     int     `json:"page_number,omitempty"`
}

// Event is one decoded unit of the chat stream. Exactly one of
// DoneEvent or ErrorEvent terminates a well-formed stream, and it is
// always the last event observed.
type Event interface {
	isEvent()
}

// TokenEvent carries an incremental text fragment to append.
type TokenEvent struct {
	Content string
}

// SourcesEvent replaces the in-flight message's citation list wholesale.
type SourcesEvent struct {
	Sources []SourceCitation
}

// DoneEvent marks successful completion. ConversationID and MessageID
// are zero when the server did not assign them (ids start at 1).
type DoneEvent struct {
	ConversationID int
	MessageID      int
}

// ErrorEvent marks abnormal termination with a human-readable cause.
type ErrorEvent struct {
	Message string
}

func (TokenEvent) isEvent()   {}
func (SourcesEvent) isEvent() {}
func (DoneEvent) isEvent()    {}
func (ErrorEvent) isEvent()   {}

// envelope matches the wire shape of every event variant.
type envelope struct {
	Type           string           `json:"type"`
	Content        string           `json:"content"`
	Sources        []SourceCitation `json:"sources"`
	ConversationID int              `json:"conversation_id"`
	MessageID      int              `json:"message_id"`
	Error          string           `json:"error"`
}

// decodeEvent turns one record payload into a typed event. Any payload
// that is not valid JSON or does not carry a known type is an error;
// callers drop such records and keep reading.
func decodeEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "token":
		return TokenEvent{Content: env.Content}, nil
	case "sources":
		return SourcesEvent{Sources: env.Sources}, nil
	case "done":
		return DoneEvent{ConversationID: env.ConversationID, MessageID: env.MessageID}, nil
	case "error":
		return ErrorEvent{Message: env.Error}, nil
	default:
		return nil, errUnknownEventType
	}
}
