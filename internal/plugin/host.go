package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bnema/lattice/internal/vault"
)

// PluginState tracks a plugin's lifecycle.
type PluginState string

const (
	StateLoaded PluginState = "loaded"
	StateActive PluginState = "active"
	StateFailed PluginState = "failed"
)

// Record is a loaded plugin: manifest, sandbox handle, and state.
type Record struct {
	Manifest *Manifest
	State    PluginState
	Err      error

	sandbox *Sandbox
}

// Host loads plugins, drives their lifecycle, and routes vault events to
// them. One plugin failing never affects another or the workbench.
type Host struct {
	mu      sync.Mutex
	plugins map[string]*Record

	bridge     *Bridge
	gate       *Gate
	audit      *AuditLog
	registries *Registries
	log        zerolog.Logger
}

// NewHost wires the host's collaborators.
func NewHost(bridge *Bridge, gate *Gate, audit *AuditLog, registries *Registries, log zerolog.Logger) *Host {
	return &Host{
		plugins:    make(map[string]*Record),
		bridge:     bridge,
		gate:       gate,
		audit:      audit,
		registries: registries,
		log:        log,
	}
}

// Load evaluates a plugin's main code in a fresh sandbox. A load error
// marks the plugin failed but does not block the workbench.
func (h *Host) Load(m *Manifest, code string) error {
	if err := m.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	if _, exists := h.plugins[m.ID]; exists {
		h.mu.Unlock()
		return fmt.Errorf("plugin %s: %w", m.ID, ErrDuplicatePlugin)
	}
	record := &Record{Manifest: m, State: StateLoaded}
	h.plugins[m.ID] = record
	h.mu.Unlock()

	sandbox := NewSandbox(m.ID, func(req Request) Response {
		return h.bridge.Handle(m, req)
	}, h.log)

	if err := sandbox.Load(code); err != nil {
		sandbox.Close()
		h.mu.Lock()
		record.State = StateFailed
		record.Err = err
		h.mu.Unlock()
		h.log.Warn().Err(err).Str("plugin", m.ID).Msg("plugin failed to load")
		return fmt.Errorf("plugin %s failed to load: %w", m.ID, err)
	}

	h.mu.Lock()
	record.sandbox = sandbox
	h.mu.Unlock()
	return nil
}

// Activate installs the plugin's declared commands and panels and
// notifies the sandbox. On failure every registration rolls back and the
// plugin is marked failed.
func (h *Host) Activate(pluginID string) error {
	h.mu.Lock()
	record, ok := h.plugins[pluginID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", pluginID, ErrPluginNotFound)
	}
	if record.State == StateFailed {
		return fmt.Errorf("plugin %s previously failed: %v", pluginID, record.Err)
	}

	m := record.Manifest
	if err := h.registries.Install(m.ID, m.Commands, m.Panels); err != nil {
		h.fail(record, err)
		return err
	}

	if err := record.sandbox.Activate(m.Permissions, m.NetworkAllowlist); err != nil {
		h.registries.Invalidate(m.ID)
		h.fail(record, err)
		return fmt.Errorf("plugin %s failed to activate: %w", m.ID, err)
	}

	h.mu.Lock()
	record.State = StateActive
	h.mu.Unlock()
	return nil
}

func (h *Host) fail(record *Record, err error) {
	h.mu.Lock()
	record.State = StateFailed
	record.Err = err
	h.mu.Unlock()
	h.log.Warn().Err(err).Str("plugin", record.Manifest.ID).Msg("plugin activation failed")
}

// ActivateAll activates loaded plugins in dependency order. A cycle or a
// missing dependency aborts the whole pass: that error is returned and no
// plugin is activated.
func (h *Host) ActivateAll() []error {
	order, err := h.activationOrder()
	if err != nil {
		return []error{err}
	}

	var errs []error
	for _, id := range order {
		if err := h.Activate(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// activationOrder topologically sorts loaded plugins over their declared
// dependencies.
func (h *Host) activationOrder() ([]string, error) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.plugins))
	deps := make(map[string][]string, len(h.plugins))
	for id, record := range h.plugins {
		ids = append(ids, id)
		deps[id] = record.Manifest.Dependencies
	}
	h.mu.Unlock()

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(ids))
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("involving %s: %w", id, ErrCyclicDependency)
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if _, loaded := deps[dep]; !loaded {
				return fmt.Errorf("plugin %s depends on %s which is not loaded", id, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		order = append(order, id)
		return nil
	}

	// Iterate in sorted id order for determinism.
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Deactivate notifies the plugin and invalidates its registrations.
func (h *Host) Deactivate(pluginID string) error {
	h.mu.Lock()
	record, ok := h.plugins[pluginID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", pluginID, ErrPluginNotFound)
	}

	h.registries.Invalidate(pluginID)
	if record.State != StateActive {
		return nil
	}

	if err := record.sandbox.Deactivate(); err != nil {
		h.log.Warn().Err(err).Str("plugin", pluginID).Msg("plugin deactivate hook failed")
	}

	h.mu.Lock()
	record.State = StateLoaded
	h.mu.Unlock()
	return nil
}

// Unload deactivates, closes the sandbox, and drops all plugin state
// including the audit history.
func (h *Host) Unload(pluginID string) error {
	if err := h.Deactivate(pluginID); err != nil {
		return err
	}

	h.mu.Lock()
	record := h.plugins[pluginID]
	delete(h.plugins, pluginID)
	h.mu.Unlock()

	if record != nil && record.sandbox != nil {
		record.sandbox.Close()
	}
	h.audit.Drop(pluginID)
	return nil
}

// Plugin returns a plugin's record.
func (h *Host) Plugin(pluginID string) (*Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	record, ok := h.plugins[pluginID]
	return record, ok
}

// RunCommand invokes a command runner inside the plugin isolate.
func (h *Host) RunCommand(pluginID, commandID string, payload map[string]any) error {
	h.mu.Lock()
	record, ok := h.plugins[pluginID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", pluginID, ErrPluginNotFound)
	}
	if record.State != StateActive {
		return fmt.Errorf("plugin %s: %w", pluginID, ErrNotActive)
	}
	record.sandbox.RunCommand(commandID, payload)
	return nil
}

// UpdateNetworkAllowlist replaces a plugin's allowlist at runtime and
// notifies the sandbox.
func (h *Host) UpdateNetworkAllowlist(pluginID string, allowlist []string) error {
	h.mu.Lock()
	record, ok := h.plugins[pluginID]
	if ok {
		record.Manifest.NetworkAllowlist = allowlist
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", pluginID, ErrPluginNotFound)
	}

	record.sandbox.Event("network-allowlist-change", map[string]any{"allowlist": allowlist})
	return nil
}

// Audit returns a plugin's audit tail for UI display.
func (h *Host) Audit(pluginID string) []AuditEvent {
	return h.audit.Tail(pluginID)
}

// Run forwards vault lifecycle events to active plugins until the
// context is cancelled. Per-plugin delivery order matches emission
// order; plugins lag independently.
func (h *Host) Run(ctx context.Context, bus *vault.Bus) {
	events, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.forward(ev)
		}
	}
}

func (h *Host) forward(ev vault.Event) {
	name, payload := translateEvent(ev)
	if name == "" {
		return
	}

	h.mu.Lock()
	targets := make([]*Sandbox, 0, len(h.plugins))
	for _, record := range h.plugins {
		if record.State == StateActive {
			targets = append(targets, record.sandbox)
		}
	}
	h.mu.Unlock()

	for _, sandbox := range targets {
		sandbox.Event(name, payload)
	}
}

// translateEvent maps vault events onto the plugin event channel names.
func translateEvent(ev vault.Event) (string, map[string]any) {
	switch ev.Type {
	case vault.EventActiveFileChange:
		return "active-file-change", map[string]any{"path": ev.Path}
	case vault.EventFileChange, vault.EventFileSave:
		return "vault-change", map[string]any{"path": ev.Path}
	case vault.EventFileRename:
		return "vault-rename", map[string]any{"path": ev.Path, "newPath": ev.NewPath}
	case vault.EventFileDelete:
		return "vault-delete", map[string]any{"path": ev.Path}
	}
	return "", nil
}
