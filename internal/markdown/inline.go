package markdown

import "strings"

// SpanKind tags one inline fragment.
type SpanKind int

const (
	SpanPlain SpanKind = iota
	SpanBold
	SpanCode
)

// Span is an inline-formatted fragment within a block.
type Span struct {
	Kind SpanKind
	Text string
}

// Inline tokenizes a single line into plain, bold and inline-code
// spans. Exactly two emphasis forms are recognised, mutually exclusive
// and non-nesting: inline code between single backticks, and bold
// between matching ** or __ pairs. A delimiter that cannot be paired
// renders as literal text; there is no escaping syntax. Empty segments
// are omitted.
func Inline(text string) []Span {
	var spans []Span
	var plain strings.Builder

	flush := func() {
		if plain.Len() > 0 {
			spans = append(spans, Span{Kind: SpanPlain, Text: plain.String()})
			plain.Reset()
		}
	}

	i := 0
	for i < len(text) {
		switch {
		case text[i] == '`':
			if end := strings.IndexByte(text[i+1:], '`'); end > 0 {
				flush()
				spans = append(spans, Span{Kind: SpanCode, Text: text[i+1 : i+1+end]})
				i += end + 2
				continue
			}

		case hasBoldMarker(text[i:]):
			marker := text[i : i+2]
			if end := strings.Index(text[i+2:], marker); end > 0 {
				flush()
				spans = append(spans, Span{Kind: SpanBold, Text: text[i+2 : i+2+end]})
				i += end + 4
				continue
			}
		}

		plain.WriteByte(text[i])
		i++
	}
	flush()

	return spans
}

func hasBoldMarker(s string) bool {
	return strings.HasPrefix(s, "**") || strings.HasPrefix(s, "__")
}
