package config

import "time"

// Defaults returns the built-in configuration used when no config file is
// present. Values mirror the documented workbench behaviour.
func Defaults() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			AllowedExtensions: []string{
				"md", "markdown", "ipynb", "pdf", "png", "jpg", "jpeg",
				"gif", "svg", "txt", "py", "go", "js", "ts", "json",
			},
			SaveDebounce: 300 * time.Millisecond,
			EventBuffer:  64,
		},
		Editor: EditorConfig{
			LineCacheSize:      4096,
			RevealTransitionMs: 150,
		},
		Kernel: KernelConfig{
			Command:        "python3",
			InstallTimeout: 30 * time.Second,
			InstallRetries: 2,
			OutputBuffer:   256,
		},
		Plugins: PluginsConfig{
			AuditBuffer:    512,
			RequestTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Annotations: AnnotationsConfig{
			SidecarSuffix: ".annotations.json",
		},
	}
}

func setViperDefaults(m *Manager) {
	d := Defaults()
	m.viper.SetDefault("workspace.allowed_extensions", d.Workspace.AllowedExtensions)
	m.viper.SetDefault("workspace.save_debounce", d.Workspace.SaveDebounce)
	m.viper.SetDefault("workspace.event_buffer", d.Workspace.EventBuffer)
	m.viper.SetDefault("editor.line_cache_size", d.Editor.LineCacheSize)
	m.viper.SetDefault("editor.reveal_transition_ms", d.Editor.RevealTransitionMs)
	m.viper.SetDefault("kernel.command", d.Kernel.Command)
	m.viper.SetDefault("kernel.install_timeout", d.Kernel.InstallTimeout)
	m.viper.SetDefault("kernel.install_retries", d.Kernel.InstallRetries)
	m.viper.SetDefault("kernel.output_buffer", d.Kernel.OutputBuffer)
	m.viper.SetDefault("plugins.audit_buffer", d.Plugins.AuditBuffer)
	m.viper.SetDefault("plugins.request_timeout", d.Plugins.RequestTimeout)
	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.format", d.Logging.Format)
	m.viper.SetDefault("annotations.sidecar_suffix", d.Annotations.SidecarSuffix)
}
