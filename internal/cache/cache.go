package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// Cache is a thread-safe in-memory store with per-entry TTL. Values are stored
// JSON-encoded, so every Get hands back a fresh copy and callers can never
// mutate what another reader sees.
type Cache struct {
	entries map[string]*Entry
	mutex   sync.RWMutex
	now     func() time.Time
}

// Entry is a cached value with its freshness metadata
type Entry struct {
	Key             string        `json:"key"`
	Data            []byte        `json:"data"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	Source          string        `json:"source"`
	// Pinned entries go stale but are never removed by cleanup
	Pinned          bool          `json:"pinned"`
}

// Stats summarizes the cache contents
type Stats struct {
	TotalEntries int
	FreshEntries int
	StaleEntries int
	OldestEntry  time.Time
	NewestEntry  time.Time
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Set replaces the value stored under key. It expires after refreshInterval.
func (c *Cache) Set(key string, data interface{}, refreshInterval time.Duration, source string) error {
	return c.set(key, data, refreshInterval, source, false)
}

// SetPinned is Set for values CleanupVeryStale must keep
func (c *Cache) SetPinned(key string, data interface{}, refreshInterval time.Duration, source string) error {
	return c.set(key, data, refreshInterval, source, true)
}

func (c *Cache) set(key string, data interface{}, refreshInterval time.Duration, source string, pinned bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data for cache: %w", err)
	}

	now := c.now()
	entry := &Entry{
		Key:             key,
		Data:            jsonData,
		CreatedAt:       now,
		ExpiresAt:       now.Add(refreshInterval),
		RefreshInterval: refreshInterval,
		Source:          source,
		Pinned:          pinned,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[key] = entry
	return nil
}

// Get decodes a fresh entry into result. Expired entries report false.
func (c *Cache) Get(key string, result interface{}) (bool, error) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists || c.now().After(entry.ExpiresAt) {
		return false, nil
	}

	if err := json.Unmarshal(entry.Data, result); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return true, nil
}

// GetStale decodes an entry into result even when it has expired, and
// returns its metadata. Used to serve the last good value when a refresh fails.
func (c *Cache) GetStale(key string, result interface{}) (*Entry, bool, error) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if result != nil {
		if err := json.Unmarshal(entry.Data, result); err != nil {
			return entry, true, fmt.Errorf("failed to unmarshal cached data: %w", err)
		}
	}
	return entry, true, nil
}

// IsStale reports whether key is missing or past its expiry
func (c *Cache) IsStale(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return true
	}
	return c.now().After(entry.ExpiresAt)
}

// IsVeryStale reports whether key is missing or older than twice its refresh interval
func (c *Cache) IsVeryStale(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return true
	}
	return c.now().After(entry.CreatedAt.Add(entry.RefreshInterval * 2))
}

// Delete removes key
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

// Keys returns all keys in no particular order
func (c *Cache) Keys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// Stats returns entry counts and age bounds
func (c *Cache) Stats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	stats := Stats{TotalEntries: len(c.entries)}
	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			stats.StaleEntries++
		} else {
			stats.FreshEntries++
		}
		if stats.OldestEntry.IsZero() || entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.CreatedAt
		}
	}
	return stats
}

// CleanupVeryStale removes entries older than twice their refresh interval.
// Merely expired entries and pinned entries are kept so GetStale can still
// serve them.
func (c *Cache) CleanupVeryStale() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !entry.Pinned && now.After(entry.CreatedAt.Add(entry.RefreshInterval*2)) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartPeriodicCleanup runs CleanupVeryStale every interval until ctx is done
func (c *Cache) StartPeriodicCleanup(ctx context.Context, interval time.Duration) {
	ctx = logging.EnsureLogger(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err, _ := errors.ParseStack(debug.Stack())
				skipFrames := 3
				numFrames := 5
				logging.Errorw(ctx, "Cache cleanup: recovered from panic",
					"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.CleanupVeryStale(); removed > 0 {
					logging.Infow(ctx, "Cache cleanup: removed very stale entries", "removed", removed)
				}
			}
		}
	}()
}
