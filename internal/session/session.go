// Package session holds the chat exchange state machine: it turns user
// input plus the decoded event stream into an append-only transcript
// with one mutable provisional message per in-flight exchange.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/stream"
	"github.com/recallhq/recall/internal/validation"
)

// State of the session. A new submission is accepted only in Idle.
type State int

const (
	Idle State = iota
	Streaming
)

var (
	// ErrBusy rejects a submission while a stream is in flight. The
	// attempt is a no-op: nothing is queued and the in-flight exchange
	// is untouched.
	ErrBusy = errors.New("a response is already streaming")

	// ErrEmptyInput rejects input that trims to nothing.
	ErrEmptyInput = errors.New("input is empty")
)

// transportFailureNotice is the generic cause reported when the stream
// could not be opened at all.
const transportFailureNotice = "could not reach the server"

// Message is one transcript entry as displayed. Durable entries come
// from the server; provisional ones are locally identified and owned
// by the session for the lifetime of one exchange.
type Message struct {
	api.Message

	// LocalID identifies a message that has no server identity yet.
	LocalID string

	// Provisional marks the optimistic user message and the assistant
	// placeholder of the in-flight exchange.
	Provisional bool

	// Failed marks an optimistic user message whose exchange ended in
	// an error. It stays visible; only the assistant response is
	// dropped.
	Failed bool
}

// Streamer opens the event stream for one exchange. conversationID
// zero means no conversation identity is known yet.
type Streamer interface {
	OpenStream(ctx context.Context, content string, conversationID int) (stream.EventSource, error)
}

// StreamerFunc adapts a function to the Streamer interface.
type StreamerFunc func(ctx context.Context, content string, conversationID int) (stream.EventSource, error)

func (f StreamerFunc) OpenStream(ctx context.Context, content string, conversationID int) (stream.EventSource, error) {
	return f(ctx, content, conversationID)
}

// ConversationStore is the durable conversation cache collaborator.
// The session never mutates it; it only requests a refresh after a
// successful exchange. RequestRefresh must be cheap — implementations
// invalidate and refetch on their own schedule.
type ConversationStore interface {
	RequestRefresh(conversationID int)
}

// Notifier surfaces user-facing alerts, fire and forget.
type Notifier interface {
	Error(message string)
}

// Session orchestrates one exchange at a time. It is not safe for
// concurrent use: hosts call it from a single event loop.
type Session struct {
	streamer Streamer
	store    ConversationStore
	notifier Notifier

	state          State
	conversationID int
	messages       []Message

	// placeholder is the index of the provisional assistant message
	// while Streaming, -1 otherwise.
	placeholder int
}

// New creates an idle session with no conversation identity.
func New(streamer Streamer, store ConversationStore, notifier Notifier) *Session {
	return &Session{
		streamer:    streamer,
		store:       store,
		notifier:    notifier,
		placeholder: -1,
	}
}

// State returns the current session state.
func (s *Session) State() State { return s.state }

// ConversationID returns the known conversation identity, zero when
// the next exchange will create a new conversation.
func (s *Session) ConversationID() int { return s.conversationID }

// Messages returns the transcript: the cached durable copy plus any
// provisional entries of the in-flight exchange.
func (s *Session) Messages() []Message { return s.messages }

// AdoptConversation replaces the transcript with a durable server
// copy, typically after the refresh that follows a successful
// exchange, or when loading a saved conversation.
func (s *Session) AdoptConversation(conv *api.Conversation) {
	if conv == nil || s.state == Streaming {
		return
	}
	s.conversationID = conv.ID
	s.messages = make([]Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		s.messages = append(s.messages, Message{Message: m})
	}
}

// Reset clears the session for a brand-new conversation. No-op while
// streaming.
func (s *Session) Reset() {
	if s.state == Streaming {
		return
	}
	s.conversationID = 0
	s.messages = nil
}

// Submit starts one exchange: it synthesizes the optimistic user
// message and the assistant placeholder, then opens the stream. The
// returned EventSource is owned by the caller, who pumps it and feeds
// every event to Apply (and calls Finish at end of stream).
//
// A transport failure is handled in full here — reported once through
// the notifier, placeholder dropped — before the error is returned;
// callers must not report it again.
func (s *Session) Submit(ctx context.Context, content string) (stream.EventSource, error) {
	if s.state == Streaming {
		return nil, ErrBusy
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyInput
	}
	if err := validation.ValidateMessage(content); err != nil {
		return nil, err
	}

	now := api.Time{Time: time.Now()}
	s.messages = append(s.messages,
		Message{
			Message:     api.Message{Role: api.RoleUser, Content: content, CreatedAt: now},
			LocalID:     uuid.NewString(),
			Provisional: true,
		},
		Message{
			Message:     api.Message{Role: api.RoleAssistant, CreatedAt: now},
			LocalID:     uuid.NewString(),
			Provisional: true,
		},
	)
	s.placeholder = len(s.messages) - 1

	src, err := s.streamer.OpenStream(ctx, content, s.conversationID)
	if err != nil {
		s.fail(transportFailureNotice)
		return nil, err
	}

	s.state = Streaming
	return src, nil
}

// Apply folds one decoded event into the in-flight exchange. Events
// arriving outside a stream are ignored; a terminal event transitions
// back to Idle, after which the caller's pump loop winds down.
func (s *Session) Apply(ev stream.Event) {
	if s.state != Streaming {
		return
	}

	switch ev := ev.(type) {
	case stream.TokenEvent:
		s.messages[s.placeholder].Content += ev.Content

	case stream.SourcesEvent:
		// Wholesale replacement, never merged.
		s.messages[s.placeholder].Sources = ev.Sources

	case stream.DoneEvent:
		if s.conversationID == 0 && ev.ConversationID > 0 {
			s.conversationID = ev.ConversationID
		}
		s.settle()
		s.state = Idle
		// The accumulated content stays on screen, but only persisted
		// data is authoritative: the durable copy fetched through the
		// store replaces the transcript once it arrives.
		s.store.RequestRefresh(s.conversationID)

	case stream.ErrorEvent:
		s.state = Idle
		s.fail(ev.Message)
	}
}

// Finish handles end of stream without a terminal event: connection
// drop or server truncation. The accumulated partial content is
// dropped with the rest of the placeholder and no notification fires.
// No-op when a terminal event already closed the exchange.
func (s *Session) Finish() {
	if s.state != Streaming {
		return
	}
	s.state = Idle
	s.dropPlaceholder()
}

// fail discards the placeholder, marks the optimistic user message —
// which stays visible — and emits exactly one notification.
func (s *Session) fail(message string) {
	s.dropPlaceholder()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Provisional && s.messages[i].Role == api.RoleUser {
			s.messages[i].Failed = true
			break
		}
	}
	s.notifier.Error(message)
}

// settle keeps the finished exchange visible, no longer provisional.
func (s *Session) settle() {
	for i := range s.messages {
		s.messages[i].Provisional = false
	}
	s.placeholder = -1
}

func (s *Session) dropPlaceholder() {
	if s.placeholder < 0 {
		return
	}
	s.messages = append(s.messages[:s.placeholder], s.messages[s.placeholder+1:]...)
	s.placeholder = -1
}
