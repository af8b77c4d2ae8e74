// Package app composes the workbench runtime: the layout tree, the
// content layer, the decoration engine, the notebook kernel, and the
// plugin host, wired over the vault event bus.
package app

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bnema/lattice/internal/config"
	"github.com/bnema/lattice/internal/markdown"
	"github.com/bnema/lattice/internal/notebook"
	"github.com/bnema/lattice/internal/plugin"
	"github.com/bnema/lattice/internal/vault"
	"github.com/bnema/lattice/internal/workspace"
)

// Workbench owns the in-memory state of one open workspace. Layout
// mutations are serialised behind its lock, so the operation sequence is
// totally ordered and the layout is the single source of truth for
// active-file identity.
type Workbench struct {
	mu     sync.Mutex
	layout *workspace.Layout

	cfg     *config.Config
	bus     *vault.Bus
	content *vault.ContentCache
	saver   *vault.Saver
	engine  *markdown.Engine
	kernels map[string]*notebook.Kernel // notebook path -> kernel
	plugins *plugin.Host
	log     zerolog.Logger

	newKernel func() *notebook.Kernel
}

// Options wires the workbench's collaborators.
type Options struct {
	Config    *config.Config
	Loader    vault.Loader
	Writer    vault.Writer
	Plugins   *plugin.Host
	NewKernel func() *notebook.Kernel
	Logger    zerolog.Logger
}

// New creates a workbench with a single empty pane.
func New(opts Options) *Workbench {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	w := &Workbench{
		layout:    workspace.New(),
		cfg:       cfg,
		bus:       vault.NewBus(cfg.Workspace.EventBuffer, opts.Logger),
		content:   vault.NewContentCache(opts.Loader),
		saver:     vault.NewSaver(opts.Writer, cfg.Workspace.SaveDebounce),
		engine:    markdown.NewEngine(cfg.Editor.LineCacheSize),
		kernels:   make(map[string]*notebook.Kernel),
		plugins:   opts.Plugins,
		log:       opts.Logger,
		newKernel: opts.NewKernel,
	}
	return w
}

// Bus exposes the vault event bus for subscribers (plugin host, UI).
func (w *Workbench) Bus() *vault.Bus { return w.bus }

// Layout returns the current layout snapshot.
func (w *Workbench) Layout() *workspace.Layout {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.layout
}

// Saver exposes the save scheduler, mainly for its status channel.
func (w *Workbench) Saver() *vault.Saver { return w.saver }

// Engine returns the decoration engine attached to the active markdown
// tab.
func (w *Workbench) Engine() *markdown.Engine { return w.engine }

// apply commits a layout mutation and emits its events.
func (w *Workbench) apply(next *workspace.Layout, events []vault.Event) {
	w.layout = next
	for _, ev := range events {
		w.bus.Emit(ev)
	}
}

// OpenFile opens a tab in the pane, starts the content load, and when
// the file is markdown attaches the decoration engine to the new tab.
func (w *Workbench) OpenFile(ctx context.Context, paneID string, handle vault.Handle, path string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next, events, err := w.layout.OpenFile(paneID, handle, path)
	if err != nil {
		return "", err
	}
	w.apply(next, events)

	pane, _ := w.layout.Pane(paneID)
	tab := pane.Tabs[pane.ActiveTab]

	w.content.Load(ctx, tab.ID, handle, path, nil)
	if isMarkdown(path) && w.layout.ActiveFile() == path {
		// Attaching a different document resets the line cache before
		// the next emission.
		w.engine.Attach(tab.ID)
	}
	return tab.ID, nil
}

// Edit replaces a tab's buffered content, marks it dirty, schedules a
// debounced save, and reparses when the tab drives the engine.
func (w *Workbench) Edit(tabID, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tab, ok := w.findTab(tabID)
	if !ok {
		return workspace.ErrTabOutOfRange
	}

	w.content.Put(tabID, vault.Content{Text: text})
	next, err := w.layout.SetDirty(tabID, true)
	if err != nil {
		return err
	}
	w.apply(next, nil)

	w.saver.Schedule(tabID, tab.Handle, tab.Path, vault.Content{Text: text})
	if isMarkdown(tab.Path) {
		w.engine.Attach(tabID)
		w.engine.SetBuffer(text)
	}
	return nil
}

// CloseTab flushes any pending save for the tab, closes it, and
// invalidates its cache entry.
func (w *Workbench) CloseTab(paneID string, index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	pane, ok := w.layout.Pane(paneID)
	if !ok {
		return workspace.ErrPaneNotFound
	}
	if index < 0 || index >= len(pane.Tabs) {
		return workspace.ErrTabOutOfRange
	}
	tabID := pane.Tabs[index].ID

	w.saver.Flush(tabID)
	next, events, err := w.layout.CloseTab(paneID, index)
	if err != nil {
		return err
	}
	w.apply(next, events)
	w.content.Invalidate(tabID)
	return nil
}

// DeleteFile reacts to the adapter deleting a file: every tab for the
// path closes. Dirty tabs are reported first so the caller can prompt;
// with force they close anyway.
func (w *Workbench) DeleteFile(path string, force bool) ([]workspace.Tab, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var dirty []workspace.Tab
	for _, tab := range w.layout.UnsavedTabs() {
		if tab.Path == path {
			dirty = append(dirty, tab)
		}
	}
	if len(dirty) > 0 && !force {
		return dirty, nil
	}

	var closing []string
	for _, pane := range w.layout.Panes() {
		for _, tab := range pane.Tabs {
			if tab.Path == path {
				closing = append(closing, tab.ID)
			}
		}
	}

	next, events, err := w.layout.CloseTabsByPath(path)
	if err != nil {
		return nil, err
	}
	w.apply(next, events)
	for _, tabID := range closing {
		w.saver.Cancel(tabID)
		w.content.Invalidate(tabID)
	}
	w.bus.Emit(vault.Event{Type: vault.EventFileDelete, Path: path})
	return nil, nil
}

// RenameFile reacts to the adapter renaming a file: tab paths update,
// tab-keyed content stays put.
func (w *Workbench) RenameFile(oldPath, newPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	next, err := w.layout.UpdateTabsPath(oldPath, newPath)
	if err != nil {
		return err
	}
	w.apply(next, []vault.Event{{Type: vault.EventFileRename, Path: oldPath, NewPath: newPath}})
	return nil
}

// Kernel returns (lazily creating) the execution kernel for a notebook
// path.
func (w *Workbench) Kernel(path string) *notebook.Kernel {
	w.mu.Lock()
	defer w.mu.Unlock()

	if kernel, ok := w.kernels[path]; ok {
		return kernel
	}
	kernel := w.newKernel()
	w.kernels[path] = kernel
	return kernel
}

// Shutdown flushes pending saves and restarts every kernel down to Idle.
// Skipping the flush here loses the last keystroke burst.
func (w *Workbench) Shutdown() {
	w.saver.FlushPendingSaves()

	w.mu.Lock()
	kernels := make([]*notebook.Kernel, 0, len(w.kernels))
	for _, kernel := range w.kernels {
		kernels = append(kernels, kernel)
	}
	w.mu.Unlock()

	for _, kernel := range kernels {
		kernel.Restart()
	}
}

func (w *Workbench) findTab(tabID string) (workspace.Tab, bool) {
	for _, pane := range w.layout.Panes() {
		for _, tab := range pane.Tabs {
			if tab.ID == tabID {
				return tab, true
			}
		}
	}
	return workspace.Tab{}, false
}

func isMarkdown(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}
