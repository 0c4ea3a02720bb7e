package stream

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

const wellFormedStream = "data: {\"type\": \"sources\", \"sources\": [{\"document_id\": 3, \"document_title\": \"Notes\", \"chunk_content\": \"alpha\", \"relevance_score\": 0.91, \"page_number\": 2}]}\n\n" +
	"data: {\"type\": \"token\", \"content\": \"He\"}\n\n" +
	"data: {\"type\": \"token\", \"content\": \"llo\"}\n\n" +
	"data: {\"type\": \"done\", \"conversation_id\": 7, \"message_id\": 42}\n\n"

func drain(t *testing.T, r io.Reader) []Event {
	t.Helper()

	dec := NewDecoder(r)
	var events []Event
	for {
		ev, err := dec.Next(context.Background())
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next returned error: %v", err)
		}
		events = append(events, ev)
	}
}

func TestDecoder_EventOrder(t *testing.T) {
	events := drain(t, strings.NewReader(wellFormedStream))

	want := []Event{
		SourcesEvent{Sources: []SourceCitation{{
			DocumentID:     3,
			DocumentTitle:  "Notes",
			ChunkContent:   "alpha",
			RelevanceScore: 0.91,
			PageNumber:     2,
		}}},
		TokenEvent{Content: "He"},
		TokenEvent{Content: "llo"},
		DoneEvent{ConversationID: 7, MessageID: 42},
	}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("decoded events mismatch:\n got %#v\nwant %#v", events, want)
	}
}

// Decoding must be invariant to how many bytes arrive per chunk.
func TestDecoder_ChunkBoundaryInvariance(t *testing.T) {
	whole := drain(t, strings.NewReader(wellFormedStream))

	// One byte per read exercises every possible boundary at once.
	byByte := drain(t, iotest.OneByteReader(strings.NewReader(wellFormedStream)))
	if !reflect.DeepEqual(byByte, whole) {
		t.Fatalf("one-byte reads changed the event sequence:\n got %#v\nwant %#v", byByte, whole)
	}

	// And every two-chunk split, for good measure.
	for i := 0; i <= len(wellFormedStream); i++ {
		split := drain(t, io.MultiReader(
			strings.NewReader(wellFormedStream[:i]),
			strings.NewReader(wellFormedStream[i:]),
		))
		if !reflect.DeepEqual(split, whole) {
			t.Fatalf("split at byte %d changed the event sequence:\n got %#v\nwant %#v", i, split, whole)
		}
	}
}

func TestDecoder_MalformedRecordsDropped(t *testing.T) {
	tests := []struct {
		name  string
		noise string
	}{
		{"non JSON payload", "data: this is not json\n"},
		{"unknown event type", "data: {\"type\": \"heartbeat\"}\n"},
		{"sentinel payload", "data: [DONE]\n"},
		{"unprefixed line", ": keep-alive comment\n"},
		{"empty line", "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "data: {\"type\": \"token\", \"content\": \"a\"}\n" +
				tt.noise +
				"data: {\"type\": \"token\", \"content\": \"b\"}\n"

			events := drain(t, strings.NewReader(input))
			want := []Event{TokenEvent{Content: "a"}, TokenEvent{Content: "b"}}
			if !reflect.DeepEqual(events, want) {
				t.Errorf("got %#v, want %#v", events, want)
			}
		})
	}
}

func TestDecoder_TrailingPartialRecordDiscarded(t *testing.T) {
	input := "data: {\"type\": \"token\", \"content\": \"a\"}\n" +
		"data: {\"type\": \"token\", \"content\": \"trunca" // no newline

	events := drain(t, strings.NewReader(input))
	want := []Event{TokenEvent{Content: "a"}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("got %#v, want %#v", events, want)
	}
}

func TestDecoder_CRLFRecords(t *testing.T) {
	input := "data: {\"type\": \"token\", \"content\": \"a\"}\r\n" +
		"data: {\"type\": \"done\"}\r\n"

	events := drain(t, strings.NewReader(input))
	want := []Event{TokenEvent{Content: "a"}, DoneEvent{}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("got %#v, want %#v", events, want)
	}
}

func TestDecoder_ErrorEvent(t *testing.T) {
	input := "data: {\"type\": \"error\", \"error\": \"model unavailable\"}\n"

	events := drain(t, strings.NewReader(input))
	want := []Event{ErrorEvent{Message: "model unavailable"}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("got %#v, want %#v", events, want)
	}
}

func TestDecoder_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dec := NewDecoder(strings.NewReader(wellFormedStream))
	if _, err := dec.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDecoder_CancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dec := NewDecoder(strings.NewReader(wellFormedStream))

	ev, err := dec.Next(ctx)
	if err != nil {
		t.Fatalf("first Next returned error: %v", err)
	}
	if _, ok := ev.(SourcesEvent); !ok {
		t.Fatalf("first event = %#v, want the citation list", ev)
	}

	// Buffered records do not outlive cancellation.
	cancel()
	if _, err := dec.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDecoder_ReadErrorSurfaced(t *testing.T) {
	readErr := errors.New("connection reset")
	dec := NewDecoder(iotest.ErrReader(readErr))
	if _, err := dec.Next(context.Background()); !errors.Is(err, readErr) {
		t.Errorf("expected read error, got %v", err)
	}
}
