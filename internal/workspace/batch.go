package workspace

import (
	"fmt"

	"github.com/bnema/lattice/internal/vault"
)

// Batch operations close groups of tabs. Dirty tabs are never closed
// silently: each operation skips them and returns the list so the caller
// can prompt before forcing individual CloseTab calls.

// CloseAllTabs closes every clean tab in every pane and returns the dirty
// tabs left behind.
func (l *Layout) CloseAllTabs() (*Layout, []Tab, []vault.Event, error) {
	return l.closeWhere(func(Tab, string, int) bool { return true })
}

// CloseSavedTabs closes every clean tab, leaving dirty ones in place.
func (l *Layout) CloseSavedTabs() (*Layout, []Tab, []vault.Event, error) {
	return l.closeWhere(func(Tab, string, int) bool { return true })
}

// CloseOtherTabs closes every clean tab in the pane except the one at
// keepIndex.
func (l *Layout) CloseOtherTabs(paneID string, keepIndex int) (*Layout, []Tab, []vault.Event, error) {
	pane, ok := l.Pane(paneID)
	if !ok {
		return nil, nil, nil, fmt.Errorf("close others in %s: %w", paneID, ErrPaneNotFound)
	}
	if keepIndex < 0 || keepIndex >= len(pane.Tabs) {
		return nil, nil, nil, fmt.Errorf("close others keeping %d of %d: %w", keepIndex, len(pane.Tabs), ErrTabOutOfRange)
	}
	keepID := pane.Tabs[keepIndex].ID

	return l.closeWhere(func(tab Tab, pid string, _ int) bool {
		return pid == paneID && tab.ID != keepID
	})
}

// UnsavedTabs returns every dirty tab across all panes.
func (l *Layout) UnsavedTabs() []Tab {
	var dirty []Tab
	for _, pane := range l.Panes() {
		for _, tab := range pane.Tabs {
			if tab.Dirty {
				dirty = append(dirty, tab)
			}
		}
	}
	return dirty
}

// closeWhere closes clean tabs matching the predicate, iterating indices
// high-to-low so removals do not shift pending candidates. Dirty matches
// are collected instead of closed.
func (l *Layout) closeWhere(match func(tab Tab, paneID string, index int) bool) (*Layout, []Tab, []vault.Event, error) {
	next := l.clone()
	var skippedDirty []Tab
	var events []vault.Event

	for _, pane := range next.Panes() {
		for i := len(pane.Tabs) - 1; i >= 0; i-- {
			tab := pane.Tabs[i]
			if !match(tab, pane.ID, i) {
				continue
			}
			if tab.Dirty {
				skippedDirty = append(skippedDirty, tab)
				continue
			}
			removeTab(pane, i)
			events = append(events, vault.Event{Type: vault.EventFileClose, Path: tab.Path})
		}
	}
	return next, skippedDirty, withActiveChange(l, next, events), nil
}
