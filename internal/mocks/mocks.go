// Package mocks provides scripted collaborators for exercising the
// session and terminal layers without a server.
package mocks

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/recallhq/recall/internal/stream"
)

// ScriptedSource plays back a fixed event sequence, then reports an
// end-of-stream error. It implements stream.EventSource.
type ScriptedSource struct {
	mu     sync.Mutex
	events []stream.Event
	pos    int
	endErr error
	delay  time.Duration
	closed bool
}

// NewScriptedSource creates a source over the given events. endErr is
// returned once they run out; io.EOF models a clean close.
func NewScriptedSource(events []stream.Event, endErr error) *ScriptedSource {
	return &ScriptedSource{events: events, endErr: endErr}
}

// SetDelay simulates network latency before each event.
func (s *ScriptedSource) SetDelay(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
}

func (s *ScriptedSource) Next(ctx context.Context) (stream.Event, error) {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.events) {
		return nil, s.endErr
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether the consumer released the source.
func (s *ScriptedSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MockStreamer hands out scripted sources in order, one per call. It
// implements session.Streamer.
type MockStreamer struct {
	mu        sync.Mutex
	sources   []*ScriptedSource
	openErr   error
	callCount int

	LastContent        string
	LastConversationID int
}

func NewMockStreamer() *MockStreamer {
	return &MockStreamer{}
}

// Script queues one exchange worth of events.
func (m *MockStreamer) Script(src *ScriptedSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, src)
}

// FailWith makes every subsequent open attempt fail.
func (m *MockStreamer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

func (m *MockStreamer) OpenStream(ctx context.Context, content string, conversationID int) (stream.EventSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.LastContent = content
	m.LastConversationID = conversationID

	if m.openErr != nil {
		return nil, m.openErr
	}
	if len(m.sources) == 0 {
		return NewScriptedSource(nil, io.EOF), nil
	}
	src := m.sources[0]
	m.sources = m.sources[1:]
	return src, nil
}

// CallCount returns the number of open attempts.
func (m *MockStreamer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// MockStore records refresh requests. It implements
// session.ConversationStore.
type MockStore struct {
	mu        sync.Mutex
	refreshed []int
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) RequestRefresh(conversationID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshed = append(m.refreshed, conversationID)
}

// Refreshed returns the conversation ids refreshed so far.
func (m *MockStore) Refreshed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.refreshed...)
}

// MockNotifier records alerts. It implements session.Notifier.
type MockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Error(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
}

// Messages returns the alerts recorded so far.
func (m *MockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// AnswerEvents builds the event sequence of a successful exchange:
// one token per word, then done.
func AnswerEvents(answer string, conversationID, messageID int) []stream.Event {
	var events []stream.Event
	words := strings.Fields(answer)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		events = append(events, stream.TokenEvent{Content: word})
	}
	events = append(events, stream.DoneEvent{ConversationID: conversationID, MessageID: messageID})
	return events
}
