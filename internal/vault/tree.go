package vault

import (
	"path/filepath"
	"sort"
	"strings"
)

// Handle is an opaque reference to a file or directory provided by the
// external file-system adapter. The core never dereferences it.
type Handle any

// Node is a file-tree entry. Directories carry children; files carry an
// extension. Children are kept sorted directories-first, lexicographic.
type Node struct {
	Name     string
	Path     string
	IsDir    bool
	Ext      string // lowercased, without dot; files only
	Handle   Handle
	Expanded bool
	Children []*Node
}

// NewFile builds a file node, lowercasing the extension from the name.
func NewFile(name, path string, handle Handle) *Node {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return &Node{
		Name:   name,
		Path:   path,
		Ext:    strings.ToLower(ext),
		Handle: handle,
	}
}

// NewDir builds a directory node.
func NewDir(name, path string, handle Handle) *Node {
	return &Node{
		Name:   name,
		Path:   path,
		IsDir:  true,
		Handle: handle,
	}
}

// Add appends a child and restores the sort order.
func (n *Node) Add(child *Node) {
	n.Children = append(n.Children, child)
	n.sortChildren()
}

func (n *Node) sortChildren() {
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		return a.Name < b.Name
	})
}

// Prune removes, bottom-up, every directory that has no descendant file
// with an allowed extension, and every file whose extension is not
// allowed. The receiver itself is never removed. Returns true when the
// subtree still contains an allowed file.
func (n *Node) Prune(allowed map[string]bool) bool {
	if !n.IsDir {
		return allowed[n.Ext]
	}

	kept := n.Children[:0]
	any := false
	for _, child := range n.Children {
		if child.Prune(allowed) {
			kept = append(kept, child)
			any = true
		}
	}
	n.Children = kept
	return any
}

// Find walks the tree for the node with the given path.
func (n *Node) Find(path string) *Node {
	if n.Path == path {
		return n
	}
	for _, child := range n.Children {
		if found := child.Find(path); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits every node pre-order.
func (n *Node) Walk(visit func(*Node)) {
	visit(n)
	for _, child := range n.Children {
		child.Walk(visit)
	}
}

// AllowedSet converts an extension list to the lookup form Prune expects.
func AllowedSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = true
	}
	return set
}
