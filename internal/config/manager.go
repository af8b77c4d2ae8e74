package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager handles configuration loading, watching, and reloading.
type Manager struct {
	config    *Config
	viper     *viper.Viper
	mu        sync.RWMutex
	callbacks []func(*Config)
	watching  bool
}

// NewManager creates a new configuration manager reading config.toml from
// the given directory (or the current directory when dir is empty).
func NewManager(dir string) (*Manager, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")

	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("LATTICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("logging.level", "LATTICE_LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("failed to bind LATTICE_LOG_LEVEL: %w", err)
	}
	if err := v.BindEnv("kernel.command", "LATTICE_KERNEL_COMMAND"); err != nil {
		return nil, fmt.Errorf("failed to bind LATTICE_KERNEL_COMMAND: %w", err)
	}

	return &Manager{
		viper:     v,
		callbacks: make([]func(*Config), 0),
	}, nil
}

// Load loads the configuration from file and environment variables.
// A missing config file is not an error; defaults apply.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	setViperDefaults(m)

	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			configFile := m.viper.ConfigFileUsed()
			return fmt.Errorf("failed to read config file at %s: %w", configFile, err)
		}
	}

	config := &Config{}
	if err := m.viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if config.Database.Path == "" {
		config.Database.Path = defaultDatabasePath()
	}

	m.config = config
	return nil
}

// Get returns the current configuration. Load must have been called.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback invoked after a successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Watch starts watching the config file for changes. Reload failures leave
// the previous configuration in place.
func (m *Manager) Watch() {
	m.mu.Lock()
	if m.watching {
		m.mu.Unlock()
		return
	}
	m.watching = true
	m.mu.Unlock()

	m.viper.OnConfigChange(func(_ fsnotify.Event) {
		config := &Config{}
		if err := m.viper.Unmarshal(config); err != nil {
			return
		}
		if err := validateConfig(config); err != nil {
			return
		}

		m.mu.Lock()
		m.config = config
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(config)
		}
	})
	m.viper.WatchConfig()
}

func defaultDatabasePath() string {
	dataDir, err := os.UserCacheDir()
	if err != nil {
		dataDir = "."
	}
	return filepath.Join(dataDir, "lattice", "lattice.db")
}
