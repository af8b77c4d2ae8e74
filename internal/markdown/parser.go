package markdown

import (
	"regexp"
	"sort"
	"strings"
)

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	fenceRe     = regexp.MustCompile("^```([a-zA-Z0-9_+#.-]*)\\s*$")
	hrRe        = regexp.MustCompile(`^(---|\*\*\*)$`)
	quoteRe     = regexp.MustCompile(`^(>+)\s?`)
	unorderedRe = regexp.MustCompile(`^(\s*)([-*+]\s+)`)
	orderedRe   = regexp.MustCompile(`^(\s*)(\d+[.)]\s+)`)
	mathLineRe  = regexp.MustCompile(`^\$\$(.+)\$\$$`)
	tableRe     = regexp.MustCompile(`^\|.*\|\s*$`)
	htmlOpenRe  = regexp.MustCompile(`^<[a-zA-Z!/]`)
)

// line is a buffer slice with absolute offsets. end excludes the line
// terminator; termEnd includes it (equal to end on the final line).
type line struct {
	text    string
	start   int
	end     int
	termEnd int
}

func splitLines(buffer string) []line {
	var lines []line
	start := 0
	for start <= len(buffer) {
		rel := strings.IndexByte(buffer[start:], '\n')
		if rel < 0 {
			lines = append(lines, line{
				text:    buffer[start:],
				start:   start,
				end:     len(buffer),
				termEnd: len(buffer),
			})
			break
		}
		end := start + rel
		lines = append(lines, line{
			text:    buffer[start:end],
			start:   start,
			end:     end,
			termEnd: end + 1,
		})
		start = end + 1
	}
	return lines
}

// parser carries the block-level state of the single linear pass.
type parser struct {
	buffer string
	lines  []line
	out    []Element

	inlines    inlineScanner // delegate for per-line inline parsing
	inlineScan func(text string, index int) []Element
}

// Parse runs the linear pass over the buffer and returns elements in
// document order. Parse is pure and idempotent: the result is a function
// of the buffer alone.
func Parse(buffer string) []Element {
	return parseWith(buffer, nil)
}

// parseWith runs the pass with an optional memoized inline scanner, used
// by the engine's per-line cache.
func parseWith(buffer string, inlineScan func(text string, index int) []Element) []Element {
	p := &parser{buffer: buffer, lines: splitLines(buffer), inlineScan: inlineScan}
	if p.inlineScan == nil {
		p.inlineScan = func(text string, _ int) []Element { return p.inlines.scan(text) }
	}
	p.run()
	return p.finish()
}

func (p *parser) run() {
	i := 0
	for i < len(p.lines) {
		ln := p.lines[i]

		// Fenced code block: the opening line, content, and closing
		// line form one element. No inline parsing inside.
		if m := fenceRe.FindStringSubmatch(ln.text); m != nil {
			i = p.consumeFence(i, m[1])
			continue
		}

		// Multi-line block math: a bare "$$" or "$" opener line up to
		// the matching closer line.
		if ln.text == "$$" || ln.text == "$" {
			if next, ok := p.consumeBlockMath(i, ln.text); ok {
				i = next
				continue
			}
		}

		// HTML block: runs from an opening tag line to the next blank
		// line.
		if htmlOpenRe.MatchString(ln.text) {
			i = p.consumeHTMLBlock(i)
			continue
		}

		// Table: contiguous pipe-delimited lines.
		if tableRe.MatchString(ln.text) {
			i = p.consumeTable(i)
			continue
		}

		// Blockquote: contiguous quoted lines group into one element;
		// their content still gets inline parsing.
		if quoteRe.MatchString(ln.text) {
			i = p.consumeBlockquote(i)
			continue
		}

		p.parseLine(i)
		i++
	}
}

func (p *parser) consumeFence(start int, language string) int {
	open := p.lines[start]
	for i := start + 1; i < len(p.lines); i++ {
		if strings.TrimRight(p.lines[i].text, " \t") == "```" {
			p.out = append(p.out, Element{
				Kind:     KindCodeBlock,
				Range:    Range{From: open.start, To: p.lines[i].termEnd},
				Language: language,
			})
			return i + 1
		}
	}
	// Unclosed fence swallows the rest of the document.
	p.out = append(p.out, Element{
		Kind:     KindCodeBlock,
		Range:    Range{From: open.start, To: len(p.buffer)},
		Language: language,
	})
	return len(p.lines)
}

func (p *parser) consumeBlockMath(start int, opener string) (int, bool) {
	for i := start + 1; i < len(p.lines); i++ {
		if p.lines[i].text == opener {
			body := make([]string, 0, i-start-1)
			for j := start + 1; j < i; j++ {
				body = append(body, p.lines[j].text)
			}
			p.out = append(p.out, Element{
				Kind:  KindBlockMath,
				Range: Range{From: p.lines[start].start, To: p.lines[i].termEnd},
				Latex: strings.Join(body, "\n"),
			})
			return i + 1, true
		}
	}
	// No closer: not a math block, fall through to inline parsing.
	return start, false
}

func (p *parser) consumeHTMLBlock(start int) int {
	i := start
	for i < len(p.lines) && strings.TrimSpace(p.lines[i].text) != "" {
		i++
	}
	p.out = append(p.out, Element{
		Kind:  KindHTMLBlock,
		Range: Range{From: p.lines[start].start, To: p.lines[i-1].termEnd},
	})
	return i
}

func (p *parser) consumeTable(start int) int {
	i := start
	for i < len(p.lines) && tableRe.MatchString(p.lines[i].text) {
		i++
	}
	p.out = append(p.out, Element{
		Kind:  KindTable,
		Range: Range{From: p.lines[start].start, To: p.lines[i-1].termEnd},
	})
	return i
}

func (p *parser) consumeBlockquote(start int) int {
	first := quoteRe.FindStringSubmatch(p.lines[start].text)
	level := len(first[1])

	i := start
	for i < len(p.lines) && quoteRe.MatchString(p.lines[i].text) {
		// Quoted content still carries inline markup.
		m := quoteRe.FindStringSubmatch(p.lines[i].text)
		p.inlineInto(i, len(m[0]))
		i++
	}
	p.out = append(p.out, Element{
		Kind:  KindBlockquote,
		Range: Range{From: p.lines[start].start, To: p.lines[i-1].termEnd},
		Level: level,
	})
	return i
}

// parseLine handles the per-line constructs of a plain line: heading,
// horizontal rule, list item, single-line block math, then inline markup.
func (p *parser) parseLine(i int) {
	ln := p.lines[i]

	if m := headingRe.FindStringSubmatch(ln.text); m != nil {
		level := len(m[1])
		inner := Range{From: ln.start + len(ln.text) - len(m[2]), To: ln.end}
		p.out = append(p.out, Element{
			Kind:  KindHeading,
			Range: Range{From: ln.start, To: ln.termEnd},
			Inner: &inner,
			Level: level,
		})
		p.inlineInto(i, inner.From-ln.start)
		return
	}

	if hrRe.MatchString(ln.text) && p.blankAround(i) {
		p.out = append(p.out, Element{
			Kind:  KindHorizontalRule,
			Range: Range{From: ln.start, To: ln.termEnd},
		})
		return
	}

	if m := mathLineRe.FindStringSubmatch(ln.text); m != nil {
		p.out = append(p.out, Element{
			Kind:  KindBlockMath,
			Range: Range{From: ln.start, To: ln.end},
			Latex: m[1],
		})
		return
	}

	if m := unorderedRe.FindStringSubmatch(ln.text); m != nil {
		p.emitListItem(i, m[1], m[2], false)
		return
	}
	if m := orderedRe.FindStringSubmatch(ln.text); m != nil {
		p.emitListItem(i, m[1], m[2], true)
		return
	}

	p.inlineInto(i, 0)
}

func (p *parser) emitListItem(i int, indent, marker string, ordered bool) {
	ln := p.lines[i]
	markerRange := Range{
		From: ln.start + len(indent),
		To:   ln.start + len(indent) + len(marker),
	}
	inner := Range{From: markerRange.To, To: ln.end}
	p.out = append(p.out, Element{
		Kind:    KindListItem,
		Range:   Range{From: ln.start, To: ln.termEnd},
		Inner:   &inner,
		Level:   len(indent) / 2,
		Ordered: ordered,
		Marker:  &markerRange,
	})
	p.inlineInto(i, markerRange.To-ln.start)
}

// inlineInto scans the line's text from the given column and rebases the
// resulting elements to absolute offsets.
func (p *parser) inlineInto(i, fromCol int) {
	ln := p.lines[i]
	for _, el := range p.inlineScan(ln.text[fromCol:], i) {
		el.Range.From += ln.start + fromCol
		el.Range.To += ln.start + fromCol
		if el.Inner != nil {
			inner := *el.Inner
			inner.From += ln.start + fromCol
			inner.To += ln.start + fromCol
			el.Inner = &inner
		}
		p.out = append(p.out, el)
	}
}

func (p *parser) blankAround(i int) bool {
	if i > 0 && strings.TrimSpace(p.lines[i-1].text) != "" {
		return false
	}
	if i+1 < len(p.lines) && strings.TrimSpace(p.lines[i+1].text) != "" {
		return false
	}
	return true
}

// finish validates ranges, drops anything malformed, and returns the
// elements sorted into document order.
func (p *parser) finish() []Element {
	kept := p.out[:0]
	for _, el := range p.out {
		if el.valid(len(p.buffer)) {
			kept = append(kept, el)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Range.From != kept[j].Range.From {
			return kept[i].Range.From < kept[j].Range.From
		}
		return kept[i].Range.To > kept[j].Range.To
	})
	return kept
}
