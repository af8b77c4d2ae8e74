package markdown

import (
	"regexp"
	"strings"
)

var (
	linkRe       = regexp.MustCompile(`^\[([^\]]*)\]\(([^)]*)\)`)
	imageRe      = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)]*)\)`)
	annotationRe = regexp.MustCompile(`^\[\[([^\]#]+)#(ann-[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})\]\]`)
	wikilinkRe   = regexp.MustCompile(`^\[\[([^\]]+)\]\]`)
)

// inlineScanner walks a single line left-to-right, greedy,
// non-overlapping. Offsets in the returned elements are line-relative;
// the caller rebases them.
type inlineScanner struct{}

func (inlineScanner) scan(text string) []Element {
	var out []Element
	i := 0
	for i < len(text) {
		var el *Element
		switch text[i] {
		case '!':
			el = matchImage(text, i)
		case '[':
			el = matchBracket(text, i)
		case '*':
			el = matchEmphasis(text, i, '*')
		case '_':
			el = matchEmphasis(text, i, '_')
		case '~':
			el = matchPair(text, i, "~~", KindStrikethrough)
		case '=':
			el = matchPair(text, i, "==", KindHighlight)
		case '`':
			el = matchInlineCode(text, i)
		case '$':
			el = matchInlineMath(text, i)
		}
		if el != nil {
			out = append(out, *el)
			i = el.Range.To
			continue
		}
		i++
	}
	return out
}

func matchImage(text string, i int) *Element {
	m := imageRe.FindStringSubmatch(text[i:])
	if m == nil {
		return nil
	}
	inner := Range{From: i + 2, To: i + 2 + len(m[1])}
	return &Element{
		Kind:  KindImage,
		Range: Range{From: i, To: i + len(m[0])},
		Inner: &inner,
		Src:   m[2],
		Alt:   m[1],
	}
}

// matchBracket resolves the '[' family: annotation links, wikilinks, and
// plain links, in that order of specificity.
func matchBracket(text string, i int) *Element {
	if m := annotationRe.FindStringSubmatch(text[i:]); m != nil {
		inner := Range{From: i + 2, To: i + len(m[0]) - 2}
		return &Element{
			Kind:         KindAnnotationLink,
			Range:        Range{From: i, To: i + len(m[0])},
			Inner:        &inner,
			FileID:       m[1],
			AnnotationID: m[2],
		}
	}
	if m := wikilinkRe.FindStringSubmatch(text[i:]); m != nil {
		inner := Range{From: i + 2, To: i + len(m[0]) - 2}
		return &Element{
			Kind:   KindWikilink,
			Range:  Range{From: i, To: i + len(m[0])},
			Inner:  &inner,
			Target: m[1],
		}
	}
	if m := linkRe.FindStringSubmatch(text[i:]); m != nil {
		inner := Range{From: i + 1, To: i + 1 + len(m[1])}
		return &Element{
			Kind:  KindLink,
			Range: Range{From: i, To: i + len(m[0])},
			Inner: &inner,
			Href:  m[2],
		}
	}
	return nil
}

// matchEmphasis resolves the longest marker first: ***x*** as
// bold_italic, then **x**, then *x* (same for underscores).
func matchEmphasis(text string, i int, marker byte) *Element {
	tries := []struct {
		delim string
		kind  Kind
	}{
		{strings.Repeat(string(marker), 3), KindBoldItalic},
		{strings.Repeat(string(marker), 2), KindBold},
		{string(marker), KindItalic},
	}
	for _, try := range tries {
		if el := matchPair(text, i, try.delim, try.kind); el != nil {
			return el
		}
	}
	return nil
}

// matchPair matches delim + non-empty content + delim. The content must
// not start with the delimiter character, so "**x**" does not parse as
// italic with a stray star.
func matchPair(text string, i int, delim string, kind Kind) *Element {
	if !strings.HasPrefix(text[i:], delim) {
		return nil
	}
	contentStart := i + len(delim)
	if contentStart >= len(text) || text[contentStart] == delim[0] {
		return nil
	}
	rel := strings.Index(text[contentStart:], delim)
	if rel <= 0 {
		return nil
	}
	inner := Range{From: contentStart, To: contentStart + rel}
	return &Element{
		Kind:  kind,
		Range: Range{From: i, To: inner.To + len(delim)},
		Inner: &inner,
	}
}

func matchInlineCode(text string, i int) *Element {
	rel := strings.IndexByte(text[i+1:], '`')
	if rel <= 0 {
		return nil
	}
	inner := Range{From: i + 1, To: i + 1 + rel}
	return &Element{
		Kind:  KindInlineCode,
		Range: Range{From: i, To: inner.To + 1},
		Inner: &inner,
	}
}

// matchInlineMath applies the dollar rules: the opener must not be
// preceded by a digit and must be followed by a non-whitespace character;
// the closer must not be followed by a digit.
func matchInlineMath(text string, i int) *Element {
	if i > 0 && isDigit(text[i-1]) {
		return nil
	}
	if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\t' || text[i+1] == '$' {
		return nil
	}
	for j := i + 1; j < len(text); j++ {
		if text[j] != '$' {
			continue
		}
		if j+1 < len(text) && isDigit(text[j+1]) {
			continue
		}
		inner := Range{From: i + 1, To: j}
		return &Element{
			Kind:  KindInlineMath,
			Range: Range{From: i, To: j + 1},
			Inner: &inner,
			Latex: text[i+1 : j],
		}
	}
	return nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
