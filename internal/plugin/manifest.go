// Package plugin implements the sandbox host: isolated plugin execution
// behind a capability-gated RPC bridge, with registries, a network gate,
// and an audit trail.
package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Permission names a capability a manifest may declare.
type Permission string

const (
	PermFileRead         Permission = "file:read"
	PermFileWrite        Permission = "file:write"
	PermUICommands       Permission = "ui:commands"
	PermUIPanels         Permission = "ui:panels"
	PermUISidebar        Permission = "ui:sidebar"
	PermUIToolbar        Permission = "ui:toolbar"
	PermUIStatusbar      Permission = "ui:statusbar"
	PermEditorExtensions Permission = "editor:extensions"
	PermThemes           Permission = "themes"
	PermNetwork          Permission = "network"
)

var knownPermissions = map[Permission]bool{
	PermFileRead: true, PermFileWrite: true, PermUICommands: true,
	PermUIPanels: true, PermUISidebar: true, PermUIToolbar: true,
	PermUIStatusbar: true, PermEditorExtensions: true, PermThemes: true,
	PermNetwork: true,
}

// PanelKind selects a data-driven panel layout.
type PanelKind string

const (
	PanelList     PanelKind = "list"
	PanelTable    PanelKind = "table"
	PanelForm     PanelKind = "form"
	PanelMarkdown PanelKind = "markdown"
)

// CommandSpec is a command declared by a manifest.
type CommandSpec struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Shortcut string `json:"shortcut,omitempty"`
}

// PanelSpec is a panel declared by a manifest.
type PanelSpec struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Schema PanelKind `json:"schema"`
}

// Manifest describes a plugin. Unknown JSON fields are preserved in
// Extra and otherwise ignored.
type Manifest struct {
	ID               string        `json:"id"`
	Version          string        `json:"version"`
	Permissions      []Permission  `json:"permissions"`
	NetworkAllowlist []string      `json:"network_allowlist"`
	Commands         []CommandSpec `json:"commands"`
	Panels           []PanelSpec   `json:"panels"`
	Dependencies     []string      `json:"dependencies"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ManifestSchema returns the JSON schema for manifests, for tooling and
// validation surfaces.
func ManifestSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	return reflector.Reflect(&Manifest{})
}

// knownManifestFields are the keys consumed by the manifest decoder;
// everything else lands in Extra.
var knownManifestFields = map[string]bool{
	"id": true, "version": true, "permissions": true,
	"network_allowlist": true, "commands": true, "panels": true,
	"dependencies": true,
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	for key, value := range raw {
		if !knownManifestFields[key] {
			if m.Extra == nil {
				m.Extra = make(map[string]json.RawMessage)
			}
			m.Extra[key] = value
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest's structural rules. Unknown permissions
// and panel kinds are rejected outright.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedManifest)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: plugin %s missing version", ErrMalformedManifest, m.ID)
	}
	for _, perm := range m.Permissions {
		if !knownPermissions[perm] {
			return fmt.Errorf("%w: plugin %s declares unknown permission %q", ErrMalformedManifest, m.ID, perm)
		}
	}
	for _, cmd := range m.Commands {
		if cmd.ID == "" {
			return fmt.Errorf("%w: plugin %s declares a command without id", ErrMalformedManifest, m.ID)
		}
	}
	for _, panel := range m.Panels {
		switch panel.Schema {
		case PanelList, PanelTable, PanelForm, PanelMarkdown:
		default:
			return fmt.Errorf("%w: plugin %s panel %s has unknown schema %q",
				ErrMalformedManifest, m.ID, panel.ID, panel.Schema)
		}
	}
	return nil
}

// Has reports whether the manifest declares the permission.
func (m *Manifest) Has(perm Permission) bool {
	for _, p := range m.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
