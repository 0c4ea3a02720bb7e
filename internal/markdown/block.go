// Package markdown is an incremental text renderer for streamed chat
// content: a small line classifier plus an inline span scanner. It is
// deliberately not a markdown grammar — no tables, nested lists, links
// or escapes — and it is a pure function of the full text, re-run on
// every update.
package markdown

import "strings"

// BlockKind tags one structural unit of rendered text.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockListItem
	BlockCode
	BlockSpacer
)

// Block is one rendered unit. Which fields are meaningful depends on
// Kind: Level for headings, Ordered/Number for list items,
// Language/Lines for code blocks, Spans elsewhere.
type Block struct {
	Kind     BlockKind
	Level    int
	Ordered  bool
	Number   int
	Language string
	Lines    []string
	Spans    []Span
}

const fenceMarker = "```"

// Parse classifies every line of text into blocks. Classification is
// an ordered-rule dispatch, first match wins: fence, heading (longest
// marker first), unordered item, ordered item, blank, paragraph.
// Blocks carry no identity across calls.
func Parse(text string) []Block {
	if text == "" {
		return nil
	}

	var blocks []Block
	var code *Block

	for _, line := range strings.Split(text, "\n") {
		if code != nil {
			if strings.HasPrefix(line, fenceMarker) {
				blocks = append(blocks, *code)
				code = nil
			} else {
				code.Lines = append(code.Lines, line)
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, fenceMarker):
			code = &Block{
				Kind:     BlockCode,
				Language: strings.TrimSpace(line[len(fenceMarker):]),
			}

		case strings.HasPrefix(line, "### "):
			blocks = append(blocks, Block{Kind: BlockHeading, Level: 3, Spans: Inline(line[4:])})
		case strings.HasPrefix(line, "## "):
			blocks = append(blocks, Block{Kind: BlockHeading, Level: 2, Spans: Inline(line[3:])})
		case strings.HasPrefix(line, "# "):
			blocks = append(blocks, Block{Kind: BlockHeading, Level: 1, Spans: Inline(line[2:])})

		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			blocks = append(blocks, Block{Kind: BlockListItem, Spans: Inline(line[2:])})

		default:
			if num, rest, ok := orderedMarker(line); ok {
				blocks = append(blocks, Block{Kind: BlockListItem, Ordered: true, Number: num, Spans: Inline(rest)})
				continue
			}
			if strings.TrimSpace(line) == "" {
				// Consecutive blanks each emit their own spacer.
				blocks = append(blocks, Block{Kind: BlockSpacer})
				continue
			}
			blocks = append(blocks, Block{Kind: BlockParagraph, Spans: Inline(line)})
		}
	}

	// A fence still open at end of text is emitted with whatever lines
	// it captured; mid-stream the closing fence simply has not arrived
	// yet.
	if code != nil {
		blocks = append(blocks, *code)
	}

	return blocks
}

// orderedMarker reports whether line starts with a decimal digit
// sequence followed by ". ", returning the number and the remainder.
func orderedMarker(line string) (int, string, bool) {
	i := 0
	num := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		num = num*10 + int(line[i]-'0')
		i++
	}
	if i == 0 || !strings.HasPrefix(line[i:], ". ") {
		return 0, "", false
	}
	return num, line[i+2:], true
}
