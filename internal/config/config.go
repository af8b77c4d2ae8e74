// Package config holds the workbench configuration: a viper-backed manager
// reading a TOML file with LATTICE_* environment overrides.
package config

import (
	"time"
)

// Config is the root configuration consumed by the workbench core.
type Config struct {
	Workspace   WorkspaceConfig   `mapstructure:"workspace"`
	Editor      EditorConfig      `mapstructure:"editor"`
	Kernel      KernelConfig      `mapstructure:"kernel"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Annotations AnnotationsConfig `mapstructure:"annotations"`
}

// WorkspaceConfig controls the file tree and content layer.
type WorkspaceConfig struct {
	// AllowedExtensions lists the file extensions (lowercase, no dot)
	// shown in the file tree; directories without a matching descendant
	// are pruned.
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	// SaveDebounce is the per-tab delay between the last edit and the
	// debounced write.
	SaveDebounce time.Duration `mapstructure:"save_debounce"`
	// EventBuffer is the per-subscriber vault event buffer size.
	EventBuffer int `mapstructure:"event_buffer"`
}

// EditorConfig controls the decoration engine.
type EditorConfig struct {
	// LineCacheSize bounds the per-line decoration cache.
	LineCacheSize int `mapstructure:"line_cache_size"`
	// RevealTransitionMs is the suggested reveal animation duration,
	// surfaced to the view layer alongside suppression bits.
	RevealTransitionMs int `mapstructure:"reveal_transition_ms"`
}

// KernelConfig controls the notebook execution worker.
type KernelConfig struct {
	// Command is the worker executable; defaults to "python3".
	Command string `mapstructure:"command"`
	// Args are passed before the worker script argument.
	Args []string `mapstructure:"args"`
	// InstallTimeout is the soft per-attempt package install timeout.
	InstallTimeout time.Duration `mapstructure:"install_timeout"`
	// InstallRetries is the number of install attempts per package.
	InstallRetries int `mapstructure:"install_retries"`
	// OutputBuffer bounds the per-execution output queue; overflow drops
	// stream messages first.
	OutputBuffer int `mapstructure:"output_buffer"`
}

// PluginsConfig controls the sandbox host.
type PluginsConfig struct {
	// Dirs lists directories scanned for plugin manifests.
	Dirs []string `mapstructure:"dirs"`
	// AuditBuffer is the per-plugin audit ring capacity.
	AuditBuffer int `mapstructure:"audit_buffer"`
	// RequestTimeout bounds a single plugin RPC round-trip.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig mirrors the logging package's config surface.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	EnableFileLog bool   `mapstructure:"enable_file_log"`
	LogDir        string `mapstructure:"log_dir"`
}

// DatabaseConfig locates the sqlite database backing plugin storage.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AnnotationsConfig controls the annotation sidecar store.
type AnnotationsConfig struct {
	// SidecarSuffix is appended to a file path to form its sidecar path.
	SidecarSuffix string `mapstructure:"sidecar_suffix"`
}
