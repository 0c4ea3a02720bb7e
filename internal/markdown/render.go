package markdown

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	styleHeading1 = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#bd93f9")).Underline(true)
	styleHeading2 = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#bd93f9"))
	styleHeading3 = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#87afff"))
	styleBullet   = lipgloss.NewStyle().Foreground(lipgloss.Color("#87d7af"))
	styleBold     = lipgloss.NewStyle().Bold(true)
	styleCodeSpan = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb86c")).Background(lipgloss.Color("#262626"))
	styleCodeBody = lipgloss.NewStyle().Foreground(lipgloss.Color("#f8f8f2")).Background(lipgloss.Color("#1c1c1c")).Padding(0, 1)
	styleCodeLang = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676")).Italic(true)
)

// Renderer turns message text into a styled terminal string. It holds
// only a wrap width; rendering is stateless between calls.
type Renderer struct {
	width int
}

// NewRenderer creates a renderer wrapping paragraphs at width columns.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	return &Renderer{width: width}
}

// SetWidth adjusts the wrap width, e.g. after a terminal resize.
func (r *Renderer) SetWidth(width int) {
	if width > 0 {
		r.width = width
	}
}

// Render parses text and styles every block. Safe to call on every
// streamed update; the result carries no state between calls.
func (r *Renderer) Render(text string) string {
	blocks := Parse(text)
	if len(blocks) == 0 {
		return ""
	}

	var b strings.Builder
	for i, block := range blocks {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.renderBlock(block))
	}
	return b.String()
}

func (r *Renderer) renderBlock(block Block) string {
	switch block.Kind {
	case BlockHeading:
		style := styleHeading3
		switch block.Level {
		case 1:
			style = styleHeading1
		case 2:
			style = styleHeading2
		}
		return style.Render(renderSpans(block.Spans))

	case BlockListItem:
		marker := styleBullet.Render("•")
		if block.Ordered {
			marker = styleBullet.Render(strconv.Itoa(block.Number) + ".")
		}
		return "  " + marker + " " + renderSpans(block.Spans)

	case BlockCode:
		return r.renderCode(block)

	case BlockSpacer:
		return ""

	default:
		return lipgloss.NewStyle().Width(r.width).Render(renderSpans(block.Spans))
	}
}

func (r *Renderer) renderCode(block Block) string {
	var b strings.Builder
	if block.Language != "" {
		b.WriteString(styleCodeLang.Render(block.Language))
		b.WriteByte('\n')
	}
	// Raw lines verbatim: code is never inline-formatted.
	b.WriteString(styleCodeBody.Render(strings.Join(block.Lines, "\n")))
	return b.String()
}

func renderSpans(spans []Span) string {
	var b strings.Builder
	for _, span := range spans {
		switch span.Kind {
		case SpanBold:
			b.WriteString(styleBold.Render(span.Text))
		case SpanCode:
			b.WriteString(styleCodeSpan.Render(span.Text))
		default:
			b.WriteString(span.Text)
		}
	}
	return b.String()
}

// Plain renders text with all markup stripped, for contexts where
// styling is unavailable (exports, one-shot CLI piped to a file).
func Plain(text string) string {
	var b strings.Builder
	for i, block := range Parse(text) {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch block.Kind {
		case BlockCode:
			b.WriteString(strings.Join(block.Lines, "\n"))
		case BlockSpacer:
		case BlockListItem:
			marker := "-"
			if block.Ordered {
				marker = strconv.Itoa(block.Number) + "."
			}
			b.WriteString(marker + " " + plainSpans(block.Spans))
		default:
			b.WriteString(plainSpans(block.Spans))
		}
	}
	return b.String()
}

func plainSpans(spans []Span) string {
	var b strings.Builder
	for _, span := range spans {
		b.WriteString(span.Text)
	}
	return b.String()
}
