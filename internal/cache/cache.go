// Copyright 2024-2025 FlowSpec
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the result cache: a TTL/LRU-bounded
// key->value map with structured keys and prefix delete. No
// off-the-shelf library in the retrieval pack combines TTL expiry,
// LRU eviction, prefix enumeration and hit/miss counters in one
// package (see DESIGN.md), so this is hand-rolled on top of a plain
// map plus a doubly-linked list for LRU order.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTTL is applied to entries created without an explicit
	// per-entry override.
	DefaultTTL = 300 * time.Second
	// MinTTL/MaxTTL clamp both the default and any per-entry override.
	MinTTL = 1 * time.Second
	MaxTTL = 86400 * time.Second

	// DefaultMaxKeys is the default hard cap on cache size.
	DefaultMaxKeys = 10000
	MinMaxKeys     = 100
	MaxMaxKeys     = 1000000

	// DefaultCheckPeriod is the default expiry sweep interval.
	DefaultCheckPeriod = 60 * time.Second
	MinCheckPeriod     = 10 * time.Second
	MaxCheckPeriod     = 3600 * time.Second

	keyDelim = ":"
)

// esc escapes the ":" delimiter so CacheKey encoding stays injective:
// two distinct (campaign, branch, node) tuples can never collide.
func esc(s string) string {
	return strings.ReplaceAll(s, ":", "\\:")
}

// EncodeKey builds the structured cache key for (campaignId, branchId,
// nodeId), per spec's dedicated delimiter and escape rule.
func EncodeKey(campaignID, branchID, nodeID string) string {
	return "campaign:" + esc(campaignID) + ":branch:" + esc(branchID) + ":node:" + esc(nodeID)
}

// campaignPrefix returns the prefix matching every key for campaignID,
// optionally narrowed to branchID.
func campaignPrefix(campaignID, branchID string) string {
	p := "campaign:" + esc(campaignID)
	if branchID != "" {
		p += ":branch:" + esc(branchID)
	}
	return p
}

// Stats holds running cache counters.
type Stats struct {
	Hits   int64
	Misses int64
	Keys   int
	KSize  int64
	VSize  int64
}

// HitRate returns hits/(hits+misses), 0 when there have been no
// accesses.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
	element   *list.Element
}

// Config controls cache capacity and expiry behavior; out-of-range
// values are replaced with their defaults by New, never rejected.
type Config struct {
	DefaultTTL   time.Duration
	CheckPeriod  time.Duration
	MaxKeys      int
	Logger       *logrus.Logger
}

// Cache is a TTL/LRU-bounded map with structured keys and prefix
// delete. Safe for concurrent use.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	lru         *list.List // front = most recently used
	defaultTTL  time.Duration
	maxKeys     int
	stats       Stats
	warnedAt90  bool
	logger      *logrus.Logger
	stopSweep   chan struct{}
	sweepOnce   sync.Once
}

// New constructs a Cache from cfg. A zero or negative value takes its
// default; any other value outside its documented bounds is replaced
// with its default and a warning is logged.
func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ttl := clampDuration(cfg.DefaultTTL, DefaultTTL, MinTTL, MaxTTL, logger, "cacheTtlSeconds")
	period := clampDuration(cfg.CheckPeriod, DefaultCheckPeriod, MinCheckPeriod, MaxCheckPeriod, logger, "cacheCheckPeriodSeconds")
	maxKeys := clampInt(cfg.MaxKeys, DefaultMaxKeys, MinMaxKeys, MaxMaxKeys, logger, "cacheMaxKeys")

	c := &Cache{
		entries:    make(map[string]*entry),
		lru:        list.New(),
		defaultTTL: ttl,
		maxKeys:    maxKeys,
		logger:     logger,
		stopSweep:  make(chan struct{}),
	}
	go c.sweepLoop(period)
	return c
}

func clampDuration(v, def, min, max time.Duration, logger *logrus.Logger, name string) time.Duration {
	if v <= 0 {
		return def
	}
	if v < min || v > max {
		logger.WithField("config", name).Warnf("value %v out of range [%v, %v], falling back to default %v", v, min, max, def)
		return def
	}
	return v
}

func clampInt(v, def, min, max int, logger *logrus.Logger, name string) int {
	if v <= 0 {
		return def
	}
	if v < min || v > max {
		logger.WithField("config", name).Warnf("value %d out of range [%d, %d], falling back to default %d", v, min, max, def)
		return def
	}
	return v
}

// Close stops the background expiry sweep. Safe to call more than
// once.
func (c *Cache) Close() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

func (c *Cache) sweepLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			c.removeLocked(k)
		}
	}
}

// Set stores value under key with the given ttl (0 means the cache's
// configured default). Does not clone value: the stored value is
// expected to be immutable at the protocol level.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.lru.MoveToFront(e.element)
		return
	}

	e := &entry{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	e.element = c.lru.PushFront(e)
	c.entries[key] = e
	c.stats.Keys = len(c.entries)

	c.evictIfNeededLocked()
	c.maybeWarnCapacityLocked()
}

// evictIfNeededLocked drops least-recently-used entries until the
// cache is back within maxKeys. Eviction policy is observable only via
// getStats().Keys shrinking; no separate eviction counter is exposed,
// matching spec's "implementation-defined but must be observable".
func (c *Cache) evictIfNeededLocked() {
	for len(c.entries) > c.maxKeys {
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		c.removeLocked(oldest.Value.(*entry).key)
	}
}

func (c *Cache) maybeWarnCapacityLocked() {
	usage := float64(len(c.entries)) / float64(c.maxKeys)
	if usage >= 0.9 {
		if !c.warnedAt90 {
			c.logger.Warnf("result cache at %.0f%% of capacity (%d/%d keys)", usage*100, len(c.entries), c.maxKeys)
			c.warnedAt90 = true
		}
	} else {
		c.warnedAt90 = false
	}
}

// Get returns the value for key and whether it was present and
// unexpired. Updates hit/miss statistics.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		if ok {
			c.removeLocked(key)
		}
		c.stats.Misses++
		return nil, false
	}

	c.lru.MoveToFront(e.element)
	c.stats.Hits++
	return e.value, true
}

// Has reports presence without affecting hit/miss statistics.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeLocked(key)
		return false
	}
	return true
}

// Invalidate deletes key if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// InvalidateByPrefix deletes every key for campaignID, optionally
// scoped to branchID, and returns the count removed.
func (c *Cache) InvalidateByPrefix(campaignID, branchID string) int {
	prefix := campaignPrefix(campaignID, branchID)
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []string
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			toRemove = append(toRemove, k)
		}
	}
	for _, k := range toRemove {
		c.removeLocked(k)
	}
	return len(toRemove)
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	c.lru.Remove(e.element)
	delete(c.entries, key)
	c.stats.Keys = len(c.entries)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lru = list.New()
	c.stats.Keys = 0
}

// Keys returns every key currently stored (including not-yet-swept
// expired keys is avoided: expired entries are skipped).
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	out := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		out = append(out, k)
	}
	return out
}

// KeysByPrefix returns every live key with the given prefix.
func (c *Cache) KeysByPrefix(campaignID, branchID string) []string {
	prefix := campaignPrefix(campaignID, branchID)
	all := c.Keys()
	out := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// GetStats returns a snapshot of running cache statistics. KSize/VSize
// are coarse byte-length estimates, not exact allocator sizes.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ksize, vsize int64
	for k, e := range c.entries {
		ksize += int64(len(k))
		vsize += estimateSize(e.value)
	}
	stats := c.stats
	stats.Keys = len(c.entries)
	stats.KSize = ksize
	stats.VSize = vsize
	return stats
}

// estimateSize gives a rough byte-size estimate for stats purposes
// only; it is not used for eviction decisions.
func estimateSize(v interface{}) int64 {
	switch t := v.(type) {
	case string:
		return int64(len(t))
	case []byte:
		return int64(len(t))
	default:
		return 64
	}
}
