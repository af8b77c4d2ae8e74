package config

import (
	"fmt"
	"strings"
)

func validateConfig(c *Config) error {
	if c.Workspace.SaveDebounce < 0 {
		return fmt.Errorf("workspace.save_debounce must not be negative")
	}
	if c.Workspace.EventBuffer < 1 {
		return fmt.Errorf("workspace.event_buffer must be at least 1")
	}
	if c.Editor.LineCacheSize < 1 {
		return fmt.Errorf("editor.line_cache_size must be at least 1")
	}
	if c.Kernel.InstallRetries < 1 {
		return fmt.Errorf("kernel.install_retries must be at least 1")
	}
	if c.Kernel.OutputBuffer < 1 {
		return fmt.Errorf("kernel.output_buffer must be at least 1")
	}
	if c.Plugins.AuditBuffer < 1 {
		return fmt.Errorf("plugins.audit_buffer must be at least 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	for _, ext := range c.Workspace.AllowedExtensions {
		if strings.HasPrefix(ext, ".") {
			return fmt.Errorf("workspace.allowed_extensions entries must not start with a dot: %q", ext)
		}
	}
	return nil
}
