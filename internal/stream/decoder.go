package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

const (
	dataPrefix = "data: "

	// A single record is one retrieved chunk or one token, both well
	// under this; anything larger is a broken stream.
	maxRecordSize = 1 << 20
)

var errUnknownEventType = errors.New("stream: unknown event type")

// EventSource yields decoded stream events in arrival order.
type EventSource interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Decoder reassembles a chunked byte stream into newline-delimited
// records and decodes the `data: `-prefixed ones into events. Decoding
// is invariant to how the bytes were fragmented across reads: a
// partial trailing line is carried over until its newline arrives.
type Decoder struct {
	scanner *bufio.Scanner
	src     io.Reader
}

// NewDecoder wraps a live response body. The reader may deliver chunks
// at arbitrary, non-line-aligned boundaries.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	sc.Split(scanCompleteLines)
	return &Decoder{scanner: sc, src: r}
}

// Next returns the next decoded event. Lines without the event-data
// prefix and records that fail to decode are dropped silently; one
// malformed record never aborts the stream. Next returns io.EOF when
// the stream ends, or the context error if ctx is cancelled.
//
// Cancellation is checked between records; a Next blocked on the
// reader keeps waiting until the reader yields or fails. Callers
// wanting prompt teardown derive the HTTP request from the same
// context so cancellation closes the response body under the read.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}

		payload, ok := strings.CutPrefix(d.scanner.Text(), dataPrefix)
		if !ok {
			continue
		}

		ev, err := decodeEvent([]byte(payload))
		if err != nil {
			// Malformed record: drop it and keep reading.
			continue
		}
		return ev, nil
	}
}

// Close closes the underlying reader when it is closeable.
func (d *Decoder) Close() error {
	if c, ok := d.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// scanCompleteLines is bufio.ScanLines except that an unterminated
// trailing fragment at end of stream is discarded rather than returned:
// a record without its newline never completed and is not recoverable.
func scanCompleteLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, dropCR(data[:i]), nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}
