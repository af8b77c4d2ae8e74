package markdown

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/bnema/lattice/internal/cache"
)

// lineKey keys the per-line inline cache by content hash and line index,
// so an edit that shifts lines invalidates naturally and identical text
// on the same line is a hit.
type lineKey struct {
	hash  uint64
	index int
}

// Engine is the live-preview decoration engine attached to one markdown
// tab. It owns the per-line cache; attaching a different document resets
// it completely — stale entries from another buffer would duplicate text
// in the rendered view.
type Engine struct {
	docID  string
	buffer string

	elements    []Element
	decorations []Decoration

	// prefixMaxTo[i] is the maximum element To over elements[0..i],
	// enabling early exit in the interval stab for cursor queries.
	prefixMaxTo []int

	lineCache *cache.LRU[lineKey, []Element]
	scanner   inlineScanner
}

// NewEngine creates an engine with the given line-cache capacity.
func NewEngine(lineCacheSize int) *Engine {
	return &Engine{
		lineCache: cache.NewLRU[lineKey, []Element](lineCacheSize),
	}
}

// Attach binds the engine to a document identity. Switching documents
// clears all cached state before the next emission.
func (e *Engine) Attach(docID string) {
	if docID == e.docID {
		return
	}
	e.docID = docID
	e.buffer = ""
	e.elements = nil
	e.decorations = nil
	e.prefixMaxTo = nil
	e.lineCache.Clear()
}

// SetBuffer reparses the document. Unchanged lines hit the inline cache;
// block structure (fences, multi-line math, tables) is recomputed in the
// linear pass, which bounds invalidation by the distance to the next
// fence toggle.
func (e *Engine) SetBuffer(text string) {
	e.buffer = text
	e.elements = parseWith(text, e.cachedScan)
	e.decorations = emit(text, e.elements)

	e.prefixMaxTo = make([]int, len(e.decorations))
	maxTo := 0
	for i, d := range e.decorations {
		if d.Element.To > maxTo {
			maxTo = d.Element.To
		}
		e.prefixMaxTo[i] = maxTo
	}
}

func (e *Engine) cachedScan(text string, index int) []Element {
	key := lineKey{hash: xxhash.Sum64String(text), index: index}
	// Peek, not Get: a reparse walks every line in buffer order, and
	// promoting each hit would reduce the recency order to document
	// order. Only a fresh scan counts as use.
	if cached, ok := e.lineCache.Peek(key); ok {
		return cached
	}
	scanned := e.scanner.scan(text)
	e.lineCache.Set(key, scanned)
	return scanned
}

// Elements returns the parsed elements in document order.
func (e *Engine) Elements() []Element {
	return e.elements
}

// Decorations returns the decoration set with no cursor context: every
// suppression bit is false. The set is a pure function of the buffer.
func (e *Engine) Decorations() []Decoration {
	return e.mask(-1)
}

// RevealMask returns the decoration set with suppression bits evaluated
// for the cursor: a decoration is suppressed exactly when the cursor
// lies within its owning element's inclusive range, so the raw markdown
// shows at the cursor while siblings stay rendered. A negative cursor
// means no cursor; no re-parse happens on cursor movement.
func (e *Engine) RevealMask(cursor int) []Decoration {
	return e.mask(cursor)
}

func (e *Engine) mask(cursor int) []Decoration {
	out := make([]Decoration, len(e.decorations))
	copy(out, e.decorations)
	if cursor < 0 {
		return out
	}

	// Decorations are sorted by element start. Find the last candidate
	// whose element begins at or before the cursor, then walk backwards
	// while any element in the prefix can still cover the position.
	hi := sort.Search(len(out), func(i int) bool {
		return out[i].Element.From > cursor
	})
	for i := hi - 1; i >= 0; i-- {
		if e.prefixMaxTo[i] < cursor {
			break
		}
		if out[i].Element.Contains(cursor) {
			out[i].Suppressed = true
		}
	}
	return out
}
