package workspace

import (
	"fmt"

	"github.com/bnema/lattice/internal/vault"
)

// withActiveChange appends an ActiveFileChange event when the active file
// identity differs between the snapshots. Every mutating operation funnels
// through this so the active-file signal has a single definition.
func withActiveChange(before, after *Layout, events []vault.Event) []vault.Event {
	if before.ActiveFile() != after.ActiveFile() {
		events = append(events, vault.Event{Type: vault.EventActiveFileChange, Path: after.ActiveFile()})
	}
	return events
}

// OpenFile appends a tab for the file to the pane and makes it the pane's
// active tab. Emits FileOpen and, when the tab becomes the active tab of
// the active pane, ActiveFileChange.
func (l *Layout) OpenFile(paneID string, handle vault.Handle, path string) (*Layout, []vault.Event, error) {
	next := l.clone()
	pane, ok := next.Pane(paneID)
	if !ok {
		return nil, nil, fmt.Errorf("open %s: %w", paneID, ErrPaneNotFound)
	}

	tab := Tab{ID: next.newID("tab"), Path: path, Handle: handle}
	pane.Tabs = append(pane.Tabs, tab)
	pane.ActiveTab = len(pane.Tabs) - 1

	events := []vault.Event{{Type: vault.EventFileOpen, Path: path}}
	return next, withActiveChange(l, next, events), nil
}

// CloseTab removes the tab at index. An emptied pane is preserved. The
// new active index is min(index, length-1), or -1 when the pane empties.
func (l *Layout) CloseTab(paneID string, index int) (*Layout, []vault.Event, error) {
	next := l.clone()
	pane, ok := next.Pane(paneID)
	if !ok {
		return nil, nil, fmt.Errorf("close tab in %s: %w", paneID, ErrPaneNotFound)
	}
	if index < 0 || index >= len(pane.Tabs) {
		return nil, nil, fmt.Errorf("close tab %d of %d: %w", index, len(pane.Tabs), ErrTabOutOfRange)
	}

	closed := removeTab(pane, index)
	events := []vault.Event{{Type: vault.EventFileClose, Path: closed.Path}}
	return next, withActiveChange(l, next, events), nil
}

func removeTab(pane *Pane, index int) Tab {
	closed := pane.Tabs[index]
	pane.Tabs = append(pane.Tabs[:index], pane.Tabs[index+1:]...)

	switch {
	case len(pane.Tabs) == 0:
		pane.ActiveTab = -1
	case index == pane.ActiveTab:
		if index > len(pane.Tabs)-1 {
			pane.ActiveTab = len(pane.Tabs) - 1
		} else {
			pane.ActiveTab = index
		}
	case index < pane.ActiveTab:
		pane.ActiveTab--
	}
	return closed
}

// SplitPane replaces the pane with a split holding the pane and a fresh
// empty pane at 50/50, activates the new pane, and returns its id.
func (l *Layout) SplitPane(paneID string, orientation Orientation) (*Layout, string, []vault.Event, error) {
	next := l.clone()
	pane, ok := next.Pane(paneID)
	if !ok {
		return nil, "", nil, fmt.Errorf("split %s: %w", paneID, ErrPaneNotFound)
	}

	fresh := &Pane{ID: next.newID("pane"), ActiveTab: -1}
	split := &Split{
		ID:          next.newID("split"),
		Orientation: orientation,
		Children:    []Node{pane, fresh},
		Sizes:       []float64{50, 50},
	}
	next.replaceNode(paneID, split)
	next.ActivePaneID = fresh.ID

	return next, fresh.ID, withActiveChange(l, next, nil), nil
}

// replaceNode swaps the node with the given id for replacement, either in
// its parent split or at the root.
func (l *Layout) replaceNode(id string, replacement Node) {
	if l.Root.nodeID() == id {
		l.Root = replacement
		return
	}
	if parent, i := l.parentOf(id); parent != nil {
		parent.Children[i] = replacement
	}
}

// ClosePane removes the pane from its parent split, hoisting the sibling
// when the split drops below two children. Closing the only pane fails
// with ErrLastPane. When the active pane closes, the first pane of the
// resulting tree (pre-order) becomes active.
func (l *Layout) ClosePane(paneID string) (*Layout, []vault.Event, error) {
	next := l.clone()
	pane, ok := next.Pane(paneID)
	if !ok {
		return nil, nil, fmt.Errorf("close pane %s: %w", paneID, ErrPaneNotFound)
	}

	parent, index := next.parentOf(paneID)
	if parent == nil {
		return nil, nil, fmt.Errorf("close pane %s: %w", paneID, ErrLastPane)
	}

	var events []vault.Event
	for _, tab := range pane.Tabs {
		events = append(events, vault.Event{Type: vault.EventFileClose, Path: tab.Path})
	}

	parent.Children = append(parent.Children[:index], parent.Children[index+1:]...)
	parent.Sizes = append(parent.Sizes[:index], parent.Sizes[index+1:]...)
	if len(parent.Children) == 1 {
		next.replaceNode(parent.ID, parent.Children[0])
	} else {
		parent.Sizes = normalizeSizes(parent.Sizes)
	}

	if next.ActivePaneID == paneID {
		next.ActivePaneID = next.FirstPane().ID
	}
	return next, withActiveChange(l, next, events), nil
}

// Resize sets the split's child sizes, normalised to sum 100 with each
// child clamped to [5, 95].
func (l *Layout) Resize(splitID string, sizes []float64) (*Layout, error) {
	next := l.clone()
	split, ok := next.Split(splitID)
	if !ok {
		return nil, fmt.Errorf("resize %s: %w", splitID, ErrSplitNotFound)
	}
	if len(sizes) != len(split.Children) {
		return nil, fmt.Errorf("resize %s: %d sizes for %d children: %w",
			splitID, len(sizes), len(split.Children), ErrBadSizes)
	}

	split.Sizes = normalizeSizes(sizes)
	return next, nil
}

func normalizeSizes(sizes []float64) []float64 {
	n := len(sizes)
	out := make([]float64, n)

	sum := 0.0
	for _, s := range sizes {
		if s > 0 {
			sum += s
		}
	}
	if sum <= 0 {
		for i := range out {
			out[i] = 100.0 / float64(n)
		}
		return out
	}
	for i, s := range sizes {
		if s < 0 {
			s = 0
		}
		out[i] = s / sum * 100
	}

	// Clamp to [5, 95] and spread the residue over the remaining
	// children until the sum settles at 100.
	for range 4 {
		total := 0.0
		for i := range out {
			out[i] = min(max(out[i], 5), 95)
			total += out[i]
		}
		if total > 99.5 && total < 100.5 {
			break
		}
		per := (100 - total) / float64(n)
		for i := range out {
			out[i] += per
		}
	}
	return out
}

// ReorderTabs moves a tab within a pane; the active index follows the
// previously active tab.
func (l *Layout) ReorderTabs(paneID string, from, to int) (*Layout, error) {
	next := l.clone()
	pane, ok := next.Pane(paneID)
	if !ok {
		return nil, fmt.Errorf("reorder in %s: %w", paneID, ErrPaneNotFound)
	}
	if from < 0 || from >= len(pane.Tabs) || to < 0 || to >= len(pane.Tabs) {
		return nil, fmt.Errorf("reorder %d -> %d of %d: %w", from, to, len(pane.Tabs), ErrTabOutOfRange)
	}

	activeID := ""
	if pane.ActiveTab >= 0 {
		activeID = pane.Tabs[pane.ActiveTab].ID
	}

	tab := pane.Tabs[from]
	pane.Tabs = append(pane.Tabs[:from], pane.Tabs[from+1:]...)
	rest := append([]Tab{}, pane.Tabs[to:]...)
	pane.Tabs = append(append(pane.Tabs[:to:to], tab), rest...)

	for i, t := range pane.Tabs {
		if t.ID == activeID {
			pane.ActiveTab = i
		}
	}
	return next, nil
}

// MoveTabToPane moves a tab between panes; the tab becomes the active tab
// of the destination. Moving a tab onto its own pane is a no-op.
func (l *Layout) MoveTabToPane(srcPane string, srcIndex int, dstPane string) (*Layout, []vault.Event, error) {
	if srcPane == dstPane {
		return l.clone(), nil, nil
	}

	next := l.clone()
	src, ok := next.Pane(srcPane)
	if !ok {
		return nil, nil, fmt.Errorf("move from %s: %w", srcPane, ErrPaneNotFound)
	}
	dst, ok := next.Pane(dstPane)
	if !ok {
		return nil, nil, fmt.Errorf("move to %s: %w", dstPane, ErrPaneNotFound)
	}
	if srcIndex < 0 || srcIndex >= len(src.Tabs) {
		return nil, nil, fmt.Errorf("move tab %d of %d: %w", srcIndex, len(src.Tabs), ErrTabOutOfRange)
	}

	tab := removeTab(src, srcIndex)
	dst.Tabs = append(dst.Tabs, tab)
	dst.ActiveTab = len(dst.Tabs) - 1

	return next, withActiveChange(l, next, nil), nil
}

// MoveTabToNewSplit atomically splits the destination pane and moves the
// tab into the freshly created pane, which ends active with the moved tab
// as its active tab. Returns the new pane's id.
func (l *Layout) MoveTabToNewSplit(srcPane string, srcIndex int, dstPane string, orientation Orientation) (*Layout, string, []vault.Event, error) {
	if src, ok := l.Pane(srcPane); !ok {
		return nil, "", nil, fmt.Errorf("move from %s: %w", srcPane, ErrPaneNotFound)
	} else if srcIndex < 0 || srcIndex >= len(src.Tabs) {
		return nil, "", nil, fmt.Errorf("move tab %d of %d: %w", srcIndex, len(src.Tabs), ErrTabOutOfRange)
	}

	next, freshID, _, err := l.SplitPane(dstPane, orientation)
	if err != nil {
		return nil, "", nil, err
	}
	next, _, err = next.MoveTabToPane(srcPane, srcIndex, freshID)
	if err != nil {
		return nil, "", nil, err
	}
	next.ActivePaneID = freshID

	return next, freshID, withActiveChange(l, next, nil), nil
}

// SetActivePane updates the active-pane cursor.
func (l *Layout) SetActivePane(paneID string) (*Layout, []vault.Event, error) {
	next := l.clone()
	if _, ok := next.Pane(paneID); !ok {
		return nil, nil, fmt.Errorf("activate %s: %w", paneID, ErrPaneNotFound)
	}
	next.ActivePaneID = paneID
	return next, withActiveChange(l, next, nil), nil
}

// SetActiveTab updates a pane's active-tab cursor. ActiveFileChange is
// emitted only when the active file actually changes.
func (l *Layout) SetActiveTab(paneID string, index int) (*Layout, []vault.Event, error) {
	next := l.clone()
	pane, ok := next.Pane(paneID)
	if !ok {
		return nil, nil, fmt.Errorf("activate tab in %s: %w", paneID, ErrPaneNotFound)
	}
	if index < 0 || index >= len(pane.Tabs) {
		return nil, nil, fmt.Errorf("activate tab %d of %d: %w", index, len(pane.Tabs), ErrTabOutOfRange)
	}

	pane.ActiveTab = index
	return next, withActiveChange(l, next, nil), nil
}

// CloseTabsByPath closes every tab bound to the path across all panes.
// Invoked when the external file-system adapter deletes a file; callers
// prompt for dirty tabs first via UnsavedTabs.
func (l *Layout) CloseTabsByPath(path string) (*Layout, []vault.Event, error) {
	next := l.clone()
	var events []vault.Event
	for _, pane := range next.Panes() {
		for i := len(pane.Tabs) - 1; i >= 0; i-- {
			if pane.Tabs[i].Path == path {
				removeTab(pane, i)
				events = append(events, vault.Event{Type: vault.EventFileClose, Path: path})
			}
		}
	}
	return next, withActiveChange(l, next, events), nil
}

// UpdateTabsPath rewrites the path on every tab bound to oldPath after
// the external adapter renames a file. Dirty flags and tab-keyed content
// are unaffected.
func (l *Layout) UpdateTabsPath(oldPath, newPath string) (*Layout, error) {
	next := l.clone()
	for _, pane := range next.Panes() {
		for i := range pane.Tabs {
			if pane.Tabs[i].Path == oldPath {
				pane.Tabs[i].Path = newPath
			}
		}
	}
	return next, nil
}

// SetDirty flags a tab's dirty state by id.
func (l *Layout) SetDirty(tabID string, dirty bool) (*Layout, error) {
	next := l.clone()
	for _, pane := range next.Panes() {
		for i := range pane.Tabs {
			if pane.Tabs[i].ID == tabID {
				pane.Tabs[i].Dirty = dirty
				return next, nil
			}
		}
	}
	return nil, fmt.Errorf("set dirty %s: %w", tabID, ErrTabOutOfRange)
}
