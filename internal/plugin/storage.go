package plugin

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver" // SQLite driver
	_ "github.com/ncruces/go-sqlite3/embed"  // Embed SQLite
)

// Storage backs the plugins' storage.get/set/remove RPC surface with a
// sqlite table namespaced by plugin id.
type Storage struct {
	db *sql.DB
}

// OpenStorage opens (creating if needed) the plugin storage database.
func OpenStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to storage database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS plugin_storage (
		plugin_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (plugin_id, key)
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create storage schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Get returns the value for a plugin key; ok is false when absent.
func (s *Storage) Get(pluginID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM plugin_storage WHERE plugin_id = ? AND key = ?",
		pluginID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage get: %w", err)
	}
	return value, true, nil
}

// Set writes a plugin key.
func (s *Storage) Set(pluginID, key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO plugin_storage (plugin_id, key, value) VALUES (?, ?, ?) "+
			"ON CONFLICT(plugin_id, key) DO UPDATE SET value = excluded.value",
		pluginID, key, value,
	)
	if err != nil {
		return fmt.Errorf("storage set: %w", err)
	}
	return nil
}

// Remove deletes a plugin key; missing keys are a no-op.
func (s *Storage) Remove(pluginID, key string) error {
	if _, err := s.db.Exec(
		"DELETE FROM plugin_storage WHERE plugin_id = ? AND key = ?",
		pluginID, key,
	); err != nil {
		return fmt.Errorf("storage remove: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}
