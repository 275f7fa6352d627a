// Package cache persists the last-applied canonical path per entry so
// later runs can skip entries without re-querying the service. The cache
// is a hint only: completion is always re-validated against the live path.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Cache is a durable entry ID to path mapping backed by a JSON file.
// Paths are stored without a trailing separator. Single-writer: one run
// per cache file at a time.
type Cache struct {
	path    string
	entries map[string]string
	dirty   bool
	logger  zerolog.Logger
}

// Option is a functional option for configuring a cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Open loads the cache file at path. A missing or corrupt file degrades
// to an empty cache rather than failing the run.
func Open(path string, opts ...Option) *Cache {
	c := &Cache{
		path:    path,
		entries: make(map[string]string),
		logger:  zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("path", path).Msg("failed to read cache, starting empty")
		}
		return c
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("cache file corrupt, starting empty")
		c.entries = make(map[string]string)
		return c
	}

	c.logger.Debug().Int("entries", len(c.entries)).Str("path", path).Msg("loaded cache")
	return c
}

// Get returns the last-applied path for an entry.
func (c *Cache) Get(id int64) (string, bool) {
	path, ok := c.entries[strconv.FormatInt(id, 10)]
	return path, ok
}

// Put records the path last requested or confirmed for an entry.
func (c *Cache) Put(id int64, path string) {
	key := strconv.FormatInt(id, 10)
	trimmed := strings.TrimRight(path, "/")
	if c.entries[key] == trimmed {
		return
	}
	c.entries[key] = trimmed
	c.dirty = true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Flush writes the cache to disk if anything changed since load. The file
// is written whole via a temp file and rename.
func (c *Cache) Flush() error {
	if !c.dirty {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create cache dir: %w", err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace cache: %w", err)
	}

	c.dirty = false
	c.logger.Debug().Int("entries", len(c.entries)).Str("path", c.path).Msg("cache flushed")
	return nil
}
