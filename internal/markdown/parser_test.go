package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findKind(elements []Element, kind Kind) []Element {
	var out []Element
	for _, el := range elements {
		if el.Kind == kind {
			out = append(out, el)
		}
	}
	return out
}

func TestParse_Heading(t *testing.T) {
	elements := Parse("## Title\nbody\n")

	headings := findKind(elements, KindHeading)
	require.Len(t, headings, 1)
	h := headings[0]
	assert.Equal(t, 2, h.Level)
	// The range covers the whole line including markers and newline.
	assert.Equal(t, Range{From: 0, To: 9}, h.Range)
	require.NotNil(t, h.Inner)
	assert.Equal(t, Range{From: 3, To: 8}, *h.Inner)
}

func TestParse_HeadingSevenHashesIsNotHeading(t *testing.T) {
	elements := Parse("####### nope\n")
	assert.Empty(t, findKind(elements, KindHeading))
}

func TestParse_CodeFenceSpansLines(t *testing.T) {
	buffer := "```go\nfmt.Println(1)\n**not bold**\n```\nafter\n"
	elements := Parse(buffer)

	blocks := findKind(elements, KindCodeBlock)
	require.Len(t, blocks, 1)
	assert.Equal(t, "go", blocks[0].Language)
	assert.Equal(t, 0, blocks[0].Range.From)
	assert.Equal(t, len("```go\nfmt.Println(1)\n**not bold**\n```\n"), blocks[0].Range.To)

	// No inline parsing inside the fence.
	assert.Empty(t, findKind(elements, KindBold))
}

func TestParse_UnclosedFenceSwallowsRest(t *testing.T) {
	buffer := "```py\nx = 1\ny = 2"
	elements := Parse(buffer)

	blocks := findKind(elements, KindCodeBlock)
	require.Len(t, blocks, 1)
	assert.Equal(t, len(buffer), blocks[0].Range.To)
}

func TestParse_InlineEmphasis(t *testing.T) {
	elements := Parse("**bold** *it* ***both*** ~~gone~~ ==mark== `code`\n")

	assert.Len(t, findKind(elements, KindBold), 1)
	assert.Len(t, findKind(elements, KindItalic), 1)
	assert.Len(t, findKind(elements, KindBoldItalic), 1)
	assert.Len(t, findKind(elements, KindStrikethrough), 1)
	assert.Len(t, findKind(elements, KindHighlight), 1)
	assert.Len(t, findKind(elements, KindInlineCode), 1)

	bold := findKind(elements, KindBold)[0]
	assert.Equal(t, Range{From: 0, To: 8}, bold.Range)
	assert.Equal(t, Range{From: 2, To: 6}, *bold.Inner)
}

func TestParse_BoldInsideHeading(t *testing.T) {
	elements := Parse("# Hello **world**\n")

	require.Len(t, findKind(elements, KindHeading), 1)
	bolds := findKind(elements, KindBold)
	require.Len(t, bolds, 1)
	assert.Equal(t, Range{From: 8, To: 17}, bolds[0].Range)
}

func TestParse_InlineMathDigitRules(t *testing.T) {
	// Plain inline math parses.
	assert.Len(t, findKind(Parse("$x^2$\n"), KindInlineMath), 1)
	// Opener preceded by a digit is currency, not math.
	assert.Empty(t, findKind(Parse("price 5$ and 3$ more\n"), KindInlineMath))
	// Whitespace after the opener disqualifies it.
	assert.Empty(t, findKind(Parse("$ x$\n"), KindInlineMath))
	// Closer followed by a digit disqualifies that closer.
	assert.Empty(t, findKind(Parse("$x$5\n"), KindInlineMath))
}

func TestParse_BlockMathSingleLine(t *testing.T) {
	// The element covers all 19 characters and carries the latex.
	buffer := "$$x^2 + y^2 = z^2$$"
	elements := Parse(buffer)

	maths := findKind(elements, KindBlockMath)
	require.Len(t, maths, 1)
	assert.Equal(t, "x^2 + y^2 = z^2", maths[0].Latex)
	assert.Equal(t, Range{From: 0, To: 19}, maths[0].Range)
}

func TestParse_BlockMathMultiLine(t *testing.T) {
	buffer := "$$\na + b\nc\n$$\n"
	elements := Parse(buffer)

	maths := findKind(elements, KindBlockMath)
	require.Len(t, maths, 1)
	assert.Equal(t, "a + b\nc", maths[0].Latex)
	assert.Equal(t, 0, maths[0].Range.From)
	assert.Equal(t, len(buffer), maths[0].Range.To)
}

func TestParse_SingleDollarBlockMath(t *testing.T) {
	buffer := "$\nE = mc^2\n$\n"
	maths := findKind(Parse(buffer), KindBlockMath)
	require.Len(t, maths, 1)
	assert.Equal(t, "E = mc^2", maths[0].Latex)
}

func TestParse_Links(t *testing.T) {
	elements := Parse("[docs](https://example.com) ![pic](img.png)\n")

	links := findKind(elements, KindLink)
	require.Len(t, links, 1)
	assert.Equal(t, "https://example.com", links[0].Href)
	assert.Equal(t, Range{From: 1, To: 5}, *links[0].Inner)

	images := findKind(elements, KindImage)
	require.Len(t, images, 1)
	assert.Equal(t, "img.png", images[0].Src)
	assert.Equal(t, "pic", images[0].Alt)
}

func TestParse_WikilinkAndAnnotationLink(t *testing.T) {
	buffer := "[[notes/other]] [[paper.pdf#ann-123e4567-e89b-12d3-a456-426614174000]]\n"
	elements := Parse(buffer)

	wikis := findKind(elements, KindWikilink)
	require.Len(t, wikis, 1)
	assert.Equal(t, "notes/other", wikis[0].Target)

	anns := findKind(elements, KindAnnotationLink)
	require.Len(t, anns, 1)
	assert.Equal(t, "paper.pdf", anns[0].FileID)
	assert.Equal(t, "ann-123e4567-e89b-12d3-a456-426614174000", anns[0].AnnotationID)
}

func TestParse_WikilinkWithoutUUIDIsNotAnnotation(t *testing.T) {
	elements := Parse("[[file#ann-short]]\n")
	assert.Empty(t, findKind(elements, KindAnnotationLink))
	assert.Len(t, findKind(elements, KindWikilink), 1)
}

func TestParse_ListItems(t *testing.T) {
	elements := Parse("- top\n  - nested\n3. third\n")

	items := findKind(elements, KindListItem)
	require.Len(t, items, 3)

	assert.False(t, items[0].Ordered)
	assert.Equal(t, 0, items[0].Level)
	assert.Equal(t, Range{From: 0, To: 2}, *items[0].Marker)

	assert.Equal(t, 1, items[1].Level)
	assert.True(t, items[2].Ordered)
	assert.Equal(t, "3. ", "- top\n  - nested\n3. third\n"[items[2].Marker.From:items[2].Marker.To])
}

func TestParse_HorizontalRuleNeedsBlankNeighbors(t *testing.T) {
	assert.Len(t, findKind(Parse("\n---\n\n"), KindHorizontalRule), 1)
	assert.Empty(t, findKind(Parse("text\n---\n\n"), KindHorizontalRule))
}

func TestParse_Blockquote(t *testing.T) {
	elements := Parse("> quoted **bold**\n> more\nplain\n")

	quotes := findKind(elements, KindBlockquote)
	require.Len(t, quotes, 1)
	assert.Equal(t, 1, quotes[0].Level)
	assert.Equal(t, 0, quotes[0].Range.From)

	// Inline markup inside the quote is still parsed.
	assert.Len(t, findKind(elements, KindBold), 1)
}

func TestParse_Table(t *testing.T) {
	elements := Parse("| a | b |\n|---|---|\n| 1 | 2 |\nafter\n")
	tables := findKind(elements, KindTable)
	require.Len(t, tables, 1)
}

func TestParse_HTMLBlock(t *testing.T) {
	elements := Parse("<div>\nhello\n</div>\n\nafter\n")
	blocks := findKind(elements, KindHTMLBlock)
	require.Len(t, blocks, 1)
}

func TestParse_Idempotent(t *testing.T) {
	buffer := "# T\n**b** $x$\n```go\ncode\n```\n- item\n"
	assert.Equal(t, Parse(buffer), Parse(buffer))
}

func TestParse_EmptyBuffer(t *testing.T) {
	assert.Empty(t, Parse(""))
}

func TestParse_RangesNested_NotPartiallyOverlapping(t *testing.T) {
	elements := Parse("# One **two** `three`\ntext **four** more\n")
	for i, a := range elements {
		for j, b := range elements {
			if i == j {
				continue
			}
			overlap := a.Range.From < b.Range.To && b.Range.From < a.Range.To
			if overlap {
				contained := (a.Range.From >= b.Range.From && a.Range.To <= b.Range.To) ||
					(b.Range.From >= a.Range.From && b.Range.To <= a.Range.To)
				assert.True(t, contained, "elements %v and %v partially overlap", a, b)
			}
		}
	}
}
