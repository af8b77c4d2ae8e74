// Package workspace implements the layout tree: a recursive binary-split
// arrangement of panes with ordered tabs and an active-pane/active-tab
// cursor. The tree is the single source of truth for active-file identity.
//
// Mutation is functional: every operation returns a new Layout snapshot
// and leaves the receiver untouched, so callers re-resolve pane and tab
// references by id after each step.
package workspace

import (
	"fmt"
	"path/filepath"

	"github.com/bnema/lattice/internal/vault"
)

// Orientation of a split.
type Orientation string

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
)

// Tab binds a pane slot to a file handle and path with independent dirty
// state. Two tabs may reference the same path.
type Tab struct {
	ID     string
	Path   string
	Handle vault.Handle
	Dirty  bool
	Title  string // optional display override
}

// DisplayTitle returns the explicit title or the path basename.
func (t Tab) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return filepath.Base(t.Path)
}

// Node is either a *Pane or a *Split.
type Node interface {
	nodeID() string
}

// Pane is a leaf holding ordered tabs. ActiveTab is -1 iff Tabs is empty,
// otherwise in bounds.
type Pane struct {
	ID        string
	Tabs      []Tab
	ActiveTab int
}

func (p *Pane) nodeID() string { return p.ID }

// Split is an internal node with at least two children and per-child size
// weights summing to 100.
type Split struct {
	ID          string
	Orientation Orientation
	Children    []Node
	Sizes       []float64
}

func (s *Split) nodeID() string { return s.ID }

// Layout is an immutable snapshot of the pane tree plus the active-pane
// cursor and the id counter carried across snapshots.
type Layout struct {
	Root         Node
	ActivePaneID string
	nextID       int
}

// New creates a layout with a single empty active pane.
func New() *Layout {
	l := &Layout{nextID: 1}
	pane := &Pane{ID: l.newID("pane"), ActiveTab: -1}
	l.Root = pane
	l.ActivePaneID = pane.ID
	return l
}

func (l *Layout) newID(kind string) string {
	id := fmt.Sprintf("%s-%d", kind, l.nextID)
	l.nextID++
	return id
}

// clone deep-copies the layout so operations can mutate freely.
func (l *Layout) clone() *Layout {
	return &Layout{
		Root:         cloneNode(l.Root),
		ActivePaneID: l.ActivePaneID,
		nextID:       l.nextID,
	}
}

func cloneNode(n Node) Node {
	switch node := n.(type) {
	case *Pane:
		tabs := make([]Tab, len(node.Tabs))
		copy(tabs, node.Tabs)
		return &Pane{ID: node.ID, Tabs: tabs, ActiveTab: node.ActiveTab}
	case *Split:
		children := make([]Node, len(node.Children))
		for i, child := range node.Children {
			children[i] = cloneNode(child)
		}
		sizes := make([]float64, len(node.Sizes))
		copy(sizes, node.Sizes)
		return &Split{ID: node.ID, Orientation: node.Orientation, Children: children, Sizes: sizes}
	}
	return nil
}

// Pane resolves a pane by id.
func (l *Layout) Pane(id string) (*Pane, bool) {
	var found *Pane
	l.walkPanes(func(p *Pane) {
		if p.ID == id {
			found = p
		}
	})
	return found, found != nil
}

// Split resolves a split by id.
func (l *Layout) Split(id string) (*Split, bool) {
	var found *Split
	walkNodes(l.Root, func(n Node) {
		if s, ok := n.(*Split); ok && s.ID == id {
			found = s
		}
	})
	return found, found != nil
}

// ActivePane returns the pane named by the active cursor.
func (l *Layout) ActivePane() (*Pane, bool) {
	return l.Pane(l.ActivePaneID)
}

// ActiveFile returns the path of the active tab of the active pane, or ""
// when no tab is active.
func (l *Layout) ActiveFile() string {
	pane, ok := l.ActivePane()
	if !ok || pane.ActiveTab < 0 {
		return ""
	}
	return pane.Tabs[pane.ActiveTab].Path
}

// FirstPane returns the first pane in a deterministic pre-order
// left-to-right traversal. This is the fallback on active-pane loss.
func (l *Layout) FirstPane() *Pane {
	var first *Pane
	walkNodes(l.Root, func(n Node) {
		if p, ok := n.(*Pane); ok && first == nil {
			first = p
		}
	})
	return first
}

// Panes returns every pane in pre-order.
func (l *Layout) Panes() []*Pane {
	var panes []*Pane
	l.walkPanes(func(p *Pane) { panes = append(panes, p) })
	return panes
}

func (l *Layout) walkPanes(visit func(*Pane)) {
	walkNodes(l.Root, func(n Node) {
		if p, ok := n.(*Pane); ok {
			visit(p)
		}
	})
}

func walkNodes(n Node, visit func(Node)) {
	visit(n)
	if s, ok := n.(*Split); ok {
		for _, child := range s.Children {
			walkNodes(child, visit)
		}
	}
}

// parentOf returns the split holding the node with the given id, and the
// child index, or nil when the node is the root or absent.
func (l *Layout) parentOf(id string) (*Split, int) {
	var parent *Split
	index := -1
	walkNodes(l.Root, func(n Node) {
		s, ok := n.(*Split)
		if !ok {
			return
		}
		for i, child := range s.Children {
			if child.nodeID() == id {
				parent = s
				index = i
			}
		}
	})
	return parent, index
}

// Validate checks the structural invariants: every split has at least two
// children with sizes summing to 100, pane ids are unique, and the active
// pane id names an existing pane.
func (l *Layout) Validate() error {
	seen := make(map[string]bool)
	var err error
	walkNodes(l.Root, func(n Node) {
		if err != nil {
			return
		}
		switch node := n.(type) {
		case *Pane:
			if seen[node.ID] {
				err = fmt.Errorf("duplicate pane id %s", node.ID)
				return
			}
			seen[node.ID] = true
			if len(node.Tabs) == 0 && node.ActiveTab != -1 {
				err = fmt.Errorf("pane %s: empty pane must have active tab -1", node.ID)
			}
			if len(node.Tabs) > 0 && (node.ActiveTab < 0 || node.ActiveTab >= len(node.Tabs)) {
				err = fmt.Errorf("pane %s: active tab %d out of bounds", node.ID, node.ActiveTab)
			}
		case *Split:
			if len(node.Children) < 2 {
				err = fmt.Errorf("split %s has %d children", node.ID, len(node.Children))
				return
			}
			if len(node.Sizes) != len(node.Children) {
				err = fmt.Errorf("split %s: %d sizes for %d children", node.ID, len(node.Sizes), len(node.Children))
				return
			}
			total := 0.0
			for _, s := range node.Sizes {
				total += s
			}
			if total < 99.5 || total > 100.5 {
				err = fmt.Errorf("split %s: sizes sum to %.2f", node.ID, total)
			}
		}
	})
	if err != nil {
		return err
	}
	if !seen[l.ActivePaneID] {
		return fmt.Errorf("active pane %s does not exist", l.ActivePaneID)
	}
	return nil
}
