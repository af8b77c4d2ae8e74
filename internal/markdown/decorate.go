package markdown

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
)

// DecorationKind selects the decoration variant.
type DecorationKind int

const (
	// DecHide removes a syntax range from the rendered view.
	DecHide DecorationKind = iota
	// DecWidget replaces a range with a data-only widget spec.
	DecWidget
	// DecStyle applies a CSS-class-like style to a range.
	DecStyle
)

// Widget is a closed sum of data-only widget specs; the view layer
// pattern-matches on the concrete type.
type Widget interface{ widget() }

// MathWidget renders LaTeX; Display selects block layout.
type MathWidget struct {
	Latex   string
	Display bool
}

// ImageWidget renders an image reference.
type ImageWidget struct {
	Src string
	Alt string
}

// HrWidget renders a horizontal rule.
type HrWidget struct{}

// CodeBlockWidget renders a fenced code block.
type CodeBlockWidget struct {
	Language string
	Body     string
}

func (MathWidget) widget()      {}
func (ImageWidget) widget()     {}
func (HrWidget) widget()        {}
func (CodeBlockWidget) widget() {}

// Decoration is a semantic instruction over a byte range. Element names
// the owning element's full range, which drives the reveal rule.
// PreserveHeight marks multi-line decorations that must keep their layout
// space when hidden (visibility-off, not display-none), so document
// height and cursor arithmetic stay stable.
type Decoration struct {
	Kind           DecorationKind
	Range          Range
	Class          string
	Widget         Widget
	Element        Range
	Meta           map[string]string
	Suppressed     bool
	PreserveHeight bool
}

// emit produces the decoration list for parsed elements over the buffer.
// Decorations are keyed by (kind, range start) and deduplicated so
// repeated emission is idempotent.
func emit(buffer string, elements []Element) []Decoration {
	var out []Decoration
	seen := make(map[[2]int]bool)

	add := func(d Decoration) {
		key := [2]int{int(d.Kind), d.Range.From}
		if seen[key] {
			return
		}
		seen[key] = true
		d.PreserveHeight = strings.Contains(buffer[d.Range.From:d.Range.To], "\n")
		out = append(out, d)
	}

	for _, el := range elements {
		emitElement(buffer, el, add)
	}
	return out
}

func emitElement(buffer string, el Element, add func(Decoration)) {
	switch el.Kind {
	case KindHeading:
		add(Decoration{Kind: DecStyle, Range: el.Range, Class: fmt.Sprintf("heading-%d", el.Level), Element: el.Range})
		if el.Inner != nil {
			add(Decoration{Kind: DecHide, Range: Range{From: el.Range.From, To: el.Inner.From}, Element: el.Range})
		}

	case KindBold, KindItalic, KindBoldItalic, KindStrikethrough, KindHighlight:
		if el.Inner == nil {
			return
		}
		add(Decoration{Kind: DecStyle, Range: *el.Inner, Class: string(el.Kind), Element: el.Range})
		add(Decoration{Kind: DecHide, Range: Range{From: el.Range.From, To: el.Inner.From}, Element: el.Range})
		add(Decoration{Kind: DecHide, Range: Range{From: el.Inner.To, To: el.Range.To}, Element: el.Range})

	case KindInlineCode:
		if el.Inner == nil {
			return
		}
		add(Decoration{Kind: DecStyle, Range: *el.Inner, Class: "code-inline", Element: el.Range})
		add(Decoration{Kind: DecHide, Range: Range{From: el.Range.From, To: el.Inner.From}, Element: el.Range})
		add(Decoration{Kind: DecHide, Range: Range{From: el.Inner.To, To: el.Range.To}, Element: el.Range})

	case KindCodeBlock:
		add(Decoration{
			Kind:    DecWidget,
			Range:   el.Range,
			Widget:  CodeBlockWidget{Language: normalizeLanguage(el.Language), Body: fenceBody(buffer, el.Range)},
			Element: el.Range,
		})

	case KindInlineMath, KindBlockMath:
		if !validLatex(el.Latex) {
			add(Decoration{Kind: DecStyle, Range: el.Range, Class: "math-error", Element: el.Range})
			return
		}
		add(Decoration{
			Kind:    DecWidget,
			Range:   el.Range,
			Widget:  MathWidget{Latex: el.Latex, Display: el.Kind == KindBlockMath},
			Element: el.Range,
		})

	case KindLink:
		if el.Inner == nil {
			return
		}
		add(Decoration{Kind: DecStyle, Range: *el.Inner, Class: "link", Element: el.Range, Meta: map[string]string{"href": el.Href}})
		add(Decoration{Kind: DecHide, Range: Range{From: el.Range.From, To: el.Inner.From}, Element: el.Range})
		add(Decoration{Kind: DecHide, Range: Range{From: el.Inner.To, To: el.Range.To}, Element: el.Range})

	case KindImage:
		add(Decoration{Kind: DecWidget, Range: el.Range, Widget: ImageWidget{Src: el.Src, Alt: el.Alt}, Element: el.Range})

	case KindHorizontalRule:
		add(Decoration{Kind: DecWidget, Range: el.Range, Widget: HrWidget{}, Element: el.Range})

	case KindAnnotationLink:
		add(Decoration{
			Kind:    DecStyle,
			Range:   el.Range,
			Class:   "annotation-link",
			Element: el.Range,
			Meta:    map[string]string{"fileId": el.FileID, "annotationId": el.AnnotationID},
		})

	case KindWikilink:
		if el.Inner == nil {
			return
		}
		add(Decoration{Kind: DecStyle, Range: *el.Inner, Class: "wikilink", Element: el.Range, Meta: map[string]string{"target": el.Target}})
		add(Decoration{Kind: DecHide, Range: Range{From: el.Range.From, To: el.Inner.From}, Element: el.Range})
		add(Decoration{Kind: DecHide, Range: Range{From: el.Inner.To, To: el.Range.To}, Element: el.Range})

	case KindListItem:
		if el.Marker != nil {
			add(Decoration{Kind: DecHide, Range: *el.Marker, Element: el.Range})
		}
		if el.Inner != nil {
			add(Decoration{Kind: DecStyle, Range: *el.Inner, Class: "list-item", Element: el.Range})
		}

	case KindBlockquote:
		add(Decoration{Kind: DecStyle, Range: el.Range, Class: fmt.Sprintf("blockquote-%d", el.Level), Element: el.Range})

	case KindTable:
		add(Decoration{Kind: DecStyle, Range: el.Range, Class: "table", Element: el.Range})

	case KindHTMLBlock:
		add(Decoration{Kind: DecStyle, Range: el.Range, Class: "html-block", Element: el.Range})
	}
}

// validLatex rejects empty strings and unescaped null bytes; such
// elements degrade to a math-error span instead of a widget.
func validLatex(latex string) bool {
	if strings.TrimSpace(latex) == "" {
		return false
	}
	for i := 0; i < len(latex); i++ {
		if latex[i] == 0 && (i == 0 || latex[i-1] != '\\') {
			return false
		}
	}
	return true
}

// fenceBody extracts the content between the fence lines.
func fenceBody(buffer string, r Range) string {
	block := buffer[r.From:r.To]
	first := strings.IndexByte(block, '\n')
	if first < 0 {
		return ""
	}
	rest := block[first+1:]
	last := strings.LastIndex(rest, "```")
	if last < 0 {
		return rest
	}
	return rest[:last]
}

// normalizeLanguage canonicalises a fence language through the chroma
// lexer registry so the view layer sees one name per language ("golang"
// and "go" both render as go). Unknown names pass through lowercased.
func normalizeLanguage(lang string) string {
	if lang == "" {
		return ""
	}
	if lexer := lexers.Get(lang); lexer != nil {
		return strings.ToLower(lexer.Config().Name)
	}
	return strings.ToLower(lang)
}
