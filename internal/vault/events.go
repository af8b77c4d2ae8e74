// Package vault owns the file-facing state of the workbench: lifecycle
// events, the file tree, the tab-keyed content cache, and the debounced
// save scheduler.
package vault

// EventType identifies a vault lifecycle event.
type EventType string

const (
	EventFileOpen         EventType = "file-open"
	EventFileClose        EventType = "file-close"
	EventFileSave         EventType = "file-save"
	EventFileChange       EventType = "file-change"
	EventFileRename       EventType = "file-rename"
	EventFileDelete       EventType = "file-delete"
	EventActiveFileChange EventType = "active-file-change"
	EventWorkspaceOpen    EventType = "workspace-open"
)

// Event is a file lifecycle notification. Path is empty for
// ActiveFileChange when no file is active. NewPath is set only for
// renames; Name only for workspace-open.
type Event struct {
	Type    EventType
	Path    string
	NewPath string
	Name    string
}
