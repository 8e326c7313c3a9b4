// Package diskcache caches the formatted system prompt a protocol
// produces for a given tool catalog, keyed by (protocol name, catalog
// hash), so repeated requests with an unchanged tool list skip
// re-running FormatTools. Entries are written atomically (temp file then
// rename) so a concurrent reader never observes a half-written entry,
// generalizing the write-then-guard discipline internal/process's
// Manager uses for its PID/ref-count files. Within one Cache, Get and Put
// also hold a mutex across their file I/O.
package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/davincible/toolrelay/internal/toolcall"
)

// Cache stores formatted system prompts on disk under dir, one file per
// (protocol, catalog) key.
type Cache struct {
	dir string
	mu  sync.Mutex
}

// New constructs a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("diskcache: create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

type entry struct {
	Protocol string `json:"protocol"`
	Prompt   string `json:"prompt"`
}

// Key computes the cache key for a protocol name and tool catalog: the
// catalog is sorted by name first, since the same tools in a different
// request-supplied order must hit the same entry.
func Key(protocolName string, tools []toolcall.ToolDefinition) string {
	sorted := make([]toolcall.ToolDefinition, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	h.Write([]byte(protocolName))
	for _, t := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(t.Name))
		h.Write([]byte{0})
		h.Write([]byte(t.Description))
		h.Write([]byte{0})
		h.Write(t.InputSchema)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached prompt for key, if present.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return "", false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", false
	}
	return e.Prompt, true
}

// Put stores prompt under key, writing to a temp file in the same
// directory and renaming it into place. Rename within one filesystem is
// atomic, so a reader's Get either sees the old entry or the new one in
// full, never a partial write.
func (c *Cache) Put(key, protocolName, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(entry{Protocol: protocolName, Prompt: prompt})
	if err != nil {
		return fmt.Errorf("diskcache: marshal entry: %w", err)
	}

	final := c.path(key)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("diskcache: write temp entry: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("diskcache: rename temp entry: %w", err)
	}
	return nil
}

// GetOrFormat returns the cached prompt for key, or calls format to
// produce and store one if absent.
func (c *Cache) GetOrFormat(key, protocolName string, format func() string) string {
	if prompt, ok := c.Get(key); ok {
		return prompt
	}
	prompt := format()
	_ = c.Put(key, protocolName, prompt) // best-effort; a cache write failure never blocks the request
	return prompt
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
