package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/recallhq/recall/internal/api"
	"github.com/recallhq/recall/internal/stream"
)

// fakeSource plays back a fixed event sequence then reports io.EOF.
type fakeSource struct {
	events []stream.Event
	pos    int
	closed bool
}

func (f *fakeSource) Next(ctx context.Context) (stream.Event, error) {
	if f.pos >= len(f.events) {
		return nil, io.EOF
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeStreamer struct {
	src      *fakeSource
	err      error
	lastID   int
	lastText string
	calls    int
}

func (f *fakeStreamer) OpenStream(ctx context.Context, content string, conversationID int) (stream.EventSource, error) {
	f.calls++
	f.lastText = content
	f.lastID = conversationID
	if f.err != nil {
		return nil, f.err
	}
	return f.src, nil
}

type fakeStore struct {
	refreshed []int
}

func (f *fakeStore) RequestRefresh(conversationID int) {
	f.refreshed = append(f.refreshed, conversationID)
}

type fakeNotifier struct {
	errors []string
}

func (f *fakeNotifier) Error(message string) {
	f.errors = append(f.errors, message)
}

// pump drives a source through the session the way hosts do.
func pump(t *testing.T, s *Session, src stream.EventSource) {
	t.Helper()
	for {
		ev, err := src.Next(context.Background())
		if err != nil {
			s.Finish()
			return
		}
		s.Apply(ev)
	}
}

func newTestSession(src *fakeSource) (*Session, *fakeStreamer, *fakeStore, *fakeNotifier) {
	streamer := &fakeStreamer{src: src}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	return New(streamer, store, notifier), streamer, store, notifier
}

func TestSession_SuccessfulExchange(t *testing.T) {
	sources := []stream.SourceCitation{
		{DocumentID: 1, DocumentTitle: "notes.md", RelevanceScore: 0.91},
		{DocumentID: 2, DocumentTitle: "journal.md", RelevanceScore: 0.72},
	}
	src := &fakeSource{events: []stream.Event{
		stream.TokenEvent{Content: "He"},
		stream.TokenEvent{Content: "llo"},
		stream.SourcesEvent{Sources: sources},
		stream.DoneEvent{ConversationID: 42, MessageID: 7},
	}}
	s, streamer, store, notifier := newTestSession(src)

	got, err := s.Submit(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if s.State() != Streaming {
		t.Fatalf("state after Submit = %v, want Streaming", s.State())
	}
	if streamer.lastID != 0 {
		t.Errorf("opened stream with conversation %d, want 0 for a new conversation", streamer.lastID)
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after Submit, want optimistic pair", len(msgs))
	}
	if msgs[0].Role != api.RoleUser || msgs[0].Content != "hi there" {
		t.Errorf("optimistic user message = %q %q", msgs[0].Role, msgs[0].Content)
	}
	if !msgs[0].Provisional || msgs[0].LocalID == "" {
		t.Error("user message should be provisional with a local ID")
	}
	if msgs[1].Role != api.RoleAssistant || msgs[1].Content != "" {
		t.Errorf("placeholder = %q %q, want empty assistant message", msgs[1].Role, msgs[1].Content)
	}

	pump(t, s, got)

	if s.State() != Idle {
		t.Errorf("state after done = %v, want Idle", s.State())
	}
	if s.ConversationID() != 42 {
		t.Errorf("ConversationID = %d, want 42 adopted from done event", s.ConversationID())
	}
	msgs = s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages after done, want 2", len(msgs))
	}
	if msgs[1].Content != "Hello" {
		t.Errorf("assistant content = %q, want tokens appended in order", msgs[1].Content)
	}
	if len(msgs[1].Sources) != 2 || msgs[1].Sources[0].DocumentID != 1 || msgs[1].Sources[1].DocumentID != 2 {
		t.Errorf("sources = %+v, want both citations in arrival order", msgs[1].Sources)
	}
	if msgs[0].Provisional || msgs[1].Provisional {
		t.Error("messages should settle after a successful exchange")
	}
	if len(store.refreshed) != 1 || store.refreshed[0] != 42 {
		t.Errorf("refresh requests = %v, want exactly one for conversation 42", store.refreshed)
	}
	if len(notifier.errors) != 0 {
		t.Errorf("unexpected notifications: %v", notifier.errors)
	}
}

func TestSession_SourcesReplacedWholesale(t *testing.T) {
	src := &fakeSource{events: []stream.Event{
		stream.SourcesEvent{Sources: []stream.SourceCitation{{DocumentID: 1}}},
		stream.SourcesEvent{Sources: []stream.SourceCitation{{DocumentID: 9}}},
		stream.DoneEvent{ConversationID: 1},
	}}
	s, _, _, _ := newTestSession(src)

	got, err := s.Submit(context.Background(), "q")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	pump(t, s, got)

	msgs := s.Messages()
	last := msgs[len(msgs)-1]
	if len(last.Sources) != 1 || last.Sources[0].DocumentID != 9 {
		t.Errorf("sources = %+v, want only the later set", last.Sources)
	}
}

func TestSession_ServerError(t *testing.T) {
	src := &fakeSource{events: []stream.Event{
		stream.TokenEvent{Content: "partial"},
		stream.ErrorEvent{Message: "model unavailable"},
	}}
	s, _, store, notifier := newTestSession(src)

	got, err := s.Submit(context.Background(), "question")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	pump(t, s, got)

	if s.State() != Idle {
		t.Errorf("state = %v, want Idle after error", s.State())
	}
	if len(notifier.errors) != 1 || notifier.errors[0] != "model unavailable" {
		t.Errorf("notifications = %v, want the server cause verbatim, once", notifier.errors)
	}
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want placeholder discarded and user message kept", len(msgs))
	}
	if msgs[0].Role != api.RoleUser || !msgs[0].Failed {
		t.Errorf("user message = %+v, want kept visible and marked failed", msgs[0])
	}
	if len(store.refreshed) != 0 {
		t.Errorf("refresh requests = %v, want none on error", store.refreshed)
	}
}

func TestSession_RejectsConcurrentSubmit(t *testing.T) {
	src := &fakeSource{events: []stream.Event{
		stream.TokenEvent{Content: "first"},
		stream.DoneEvent{ConversationID: 5},
	}}
	s, streamer, _, _ := newTestSession(src)

	got, err := s.Submit(context.Background(), "one")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := s.Submit(context.Background(), "two"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Submit() error = %v, want ErrBusy", err)
	}
	if streamer.calls != 1 {
		t.Errorf("streamer opened %d times, want the rejected submit to be a no-op", streamer.calls)
	}
	if len(s.Messages()) != 2 {
		t.Errorf("got %d messages, want in-flight exchange untouched", len(s.Messages()))
	}

	pump(t, s, got)
	if s.Messages()[1].Content != "first" {
		t.Errorf("in-flight content = %q, want unaffected by the rejected submit", s.Messages()[1].Content)
	}
}

func TestSession_TransportFailure(t *testing.T) {
	streamer := &fakeStreamer{err: errors.New("connection refused")}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	s := New(streamer, store, notifier)

	if _, err := s.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("Submit() error = nil, want transport error")
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want Idle", s.State())
	}
	if len(notifier.errors) != 1 {
		t.Fatalf("notifications = %v, want exactly one generic cause", notifier.errors)
	}
	if strings.Contains(notifier.errors[0], "connection refused") {
		t.Errorf("notification %q leaks the transport detail", notifier.errors[0])
	}
	msgs := s.Messages()
	if len(msgs) != 1 || !msgs[0].Failed {
		t.Errorf("messages = %+v, want the user message kept and marked failed", msgs)
	}
	if len(store.refreshed) != 0 {
		t.Errorf("refresh requests = %v, want none", store.refreshed)
	}
}

func TestSession_SilentTruncation(t *testing.T) {
	src := &fakeSource{events: []stream.Event{
		stream.TokenEvent{Content: "partial answ"},
	}}
	s, _, store, notifier := newTestSession(src)

	got, err := s.Submit(context.Background(), "question")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	pump(t, s, got)

	if s.State() != Idle {
		t.Errorf("state = %v, want Idle after truncated stream", s.State())
	}
	if len(notifier.errors) != 0 {
		t.Errorf("notifications = %v, want none for truncation", notifier.errors)
	}
	if len(store.refreshed) != 0 {
		t.Errorf("refresh requests = %v, want none", store.refreshed)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != api.RoleUser {
		t.Errorf("messages = %+v, want partial assistant content dropped", msgs)
	}
}

func TestSession_RejectsBlankInput(t *testing.T) {
	s, streamer, _, _ := newTestSession(&fakeSource{})

	for _, input := range []string{"", "   ", "\n\t "} {
		if _, err := s.Submit(context.Background(), input); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Submit(%q) error = %v, want ErrEmptyInput", input, err)
		}
	}
	if streamer.calls != 0 {
		t.Errorf("streamer opened %d times, want 0", streamer.calls)
	}
	if len(s.Messages()) != 0 {
		t.Errorf("messages = %v, want none appended", s.Messages())
	}
}

func TestSession_RejectsOversizedInput(t *testing.T) {
	s, streamer, _, _ := newTestSession(&fakeSource{})

	if _, err := s.Submit(context.Background(), strings.Repeat("a", 8001)); err == nil {
		t.Fatal("Submit() error = nil, want length validation error")
	}
	if streamer.calls != 0 {
		t.Error("oversized input should not open a stream")
	}
}

func TestSession_EventsIgnoredWhenIdle(t *testing.T) {
	s, _, store, notifier := newTestSession(&fakeSource{})

	s.Apply(stream.TokenEvent{Content: "stray"})
	s.Apply(stream.DoneEvent{ConversationID: 3})
	s.Finish()

	if len(s.Messages()) != 0 || s.ConversationID() != 0 {
		t.Error("events outside a stream should not change the session")
	}
	if len(store.refreshed) != 0 || len(notifier.errors) != 0 {
		t.Error("events outside a stream should not reach collaborators")
	}
}

func TestSession_AdoptConversation(t *testing.T) {
	s, _, _, _ := newTestSession(&fakeSource{})

	s.AdoptConversation(&api.Conversation{
		ID: 11,
		Messages: []api.Message{
			{ID: 1, Role: api.RoleUser, Content: "saved question"},
			{ID: 2, Role: api.RoleAssistant, Content: "saved answer"},
		},
	})

	if s.ConversationID() != 11 {
		t.Errorf("ConversationID = %d, want 11", s.ConversationID())
	}
	msgs := s.Messages()
	if len(msgs) != 2 || msgs[1].Content != "saved answer" {
		t.Errorf("messages = %+v, want durable copy adopted", msgs)
	}
	if msgs[0].Provisional || msgs[0].LocalID != "" {
		t.Error("durable messages must not be provisional")
	}

	s.Reset()
	if s.ConversationID() != 0 || len(s.Messages()) != 0 {
		t.Error("Reset should clear conversation identity and transcript")
	}
}

func TestSession_ContinuesKnownConversation(t *testing.T) {
	src := &fakeSource{events: []stream.Event{
		stream.TokenEvent{Content: "more"},
		stream.DoneEvent{ConversationID: 11},
	}}
	s, streamer, _, _ := newTestSession(src)
	s.AdoptConversation(&api.Conversation{ID: 11, Messages: []api.Message{
		{ID: 1, Role: api.RoleUser, Content: "earlier"},
	}})

	got, err := s.Submit(context.Background(), "follow up")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if streamer.lastID != 11 {
		t.Errorf("opened stream with conversation %d, want 11", streamer.lastID)
	}
	pump(t, s, got)

	if s.ConversationID() != 11 {
		t.Errorf("ConversationID = %d, want unchanged", s.ConversationID())
	}
	if len(s.Messages()) != 3 {
		t.Errorf("got %d messages, want history plus the new exchange", len(s.Messages()))
	}
}
