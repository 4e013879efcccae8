// Package config loads embedder-level settings for a dsqlite-backed
// application: the on-disk database path, sync retry/backoff knobs, and
// the reactive manager's default debounce window. None of this is
// required to use the engine programmatically — an embedder can build
// every component directly — but most want these externalized the way
// bd externalizes its own CLI configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dsqlite/dsqlite/internal/dblog"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be
// called once at application startup; safe to call again to reload.
//
// Config file discovery, highest precedence first:
//  1. project-local .dsqlite/config.yaml, found by walking up from cwd
//  2. $XDG_CONFIG_HOME/dsqlite/config.yaml (or platform equivalent)
//  3. ~/.dsqlite/config.yaml
//
// Environment variables prefixed DSQLITE_ always override the file.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".dsqlite", "config.yaml")
			if _, statErr := os.Stat(configPath); statErr == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "dsqlite", "config.yaml")
			if _, statErr := os.Stat(configPath); statErr == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".dsqlite", "config.yaml")
			if _, statErr := os.Stat(configPath); statErr == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("DSQLITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "")
	v.SetDefault("lock-timeout", "30s")

	// Sync coordinator defaults (internal/sync).
	v.SetDefault("sync.retry-backoff-initial", "1s")
	v.SetDefault("sync.retry-backoff-max", "30s")
	v.SetDefault("sync.retry-max-attempts", 5)

	// Reactive query manager defaults (internal/reactive).
	v.SetDefault("reactive.debounce", "0s")

	// Structured logging defaults (internal/dblog).
	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 50)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 14)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		dblog.Debugf("loaded config from %s", v.ConfigFileUsed())
	} else {
		dblog.Debugf("no .dsqlite/config.yaml found; using defaults and environment variables")
	}

	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value at runtime, e.g. for tests.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// DatabasePath resolves the configured database path, or "" if unset.
func DatabasePath() string {
	return GetString("db")
}

// SyncBackoff returns the configured sync retry backoff settings. The
// sync Coordinator does not read them and performs no retries itself.
func SyncBackoff() (initial, max time.Duration, maxAttempts int) {
	return GetDuration("sync.retry-backoff-initial"),
		GetDuration("sync.retry-backoff-max"),
		GetInt("sync.retry-max-attempts")
}

// ReactiveDebounce returns the configured delay the reactive query
// manager waits before each re-run of a subscription. Zero means
// re-run immediately. Bursts of dirty-row events are not coalesced.
func ReactiveDebounce() time.Duration {
	return GetDuration("reactive.debounce")
}
