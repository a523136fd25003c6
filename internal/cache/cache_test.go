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

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	c := New(Config{DefaultTTL: time.Minute, CheckPeriod: time.Hour, MaxKeys: 1000})
	t.Cleanup(c.Close)
	return c
}

func TestEncodeKey_Injective(t *testing.T) {
	k1 := EncodeKey("camp1", "main", "CONDITION:a")
	k2 := EncodeKey("camp1", "mai", "n:CONDITION:a")
	assert.NotEqual(t, k1, k2)

	k3 := EncodeKey("c:1", "main", "n1")
	k4 := EncodeKey("c", "1:main", "n1")
	assert.NotEqual(t, k3, k4)
}

func TestSetGet_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	key := EncodeKey("camp", "main", "CONDITION:a")

	c.Set(key, "value", 0)
	assert.True(t, c.Has(key))

	value, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "value", value)
}

func TestGet_MissIncrementsStats(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.GetStats().Misses)
}

func TestHitRate_ZeroWhenNoAccesses(t *testing.T) {
	c := newTestCache(t)
	assert.Equal(t, float64(0), c.GetStats().HitRate())
}

func TestHitRate_Computed(t *testing.T) {
	c := newTestCache(t)
	key := EncodeKey("camp", "main", "n")
	c.Set(key, 1, 0)
	c.Get(key)
	c.Get(key)
	c.Get("missing")

	stats := c.GetStats()
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 0.0001)
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CheckPeriod: time.Hour, MaxKeys: 1000})
	defer c.Close()
	key := EncodeKey("camp", "main", "n")
	c.Set(key, "v", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t)
	key := EncodeKey("camp", "main", "n")
	c.Set(key, "v", 0)
	c.Invalidate(key)
	assert.False(t, c.Has(key))
}

func TestInvalidateByPrefix_ScopesByBranch(t *testing.T) {
	c := newTestCache(t)
	k1 := EncodeKey("camp", "main", "CONDITION:a")
	k2 := EncodeKey("camp", "dev", "CONDITION:a")
	c.Set(k1, 1, 0)
	c.Set(k2, 2, 0)

	removed := c.InvalidateByPrefix("camp", "main")
	assert.Equal(t, 1, removed)
	assert.False(t, c.Has(k1))
	assert.True(t, c.Has(k2))
}

func TestInvalidateByPrefix_WholeCampaign(t *testing.T) {
	c := newTestCache(t)
	k1 := EncodeKey("camp", "main", "n1")
	k2 := EncodeKey("camp", "dev", "n2")
	c.Set(k1, 1, 0)
	c.Set(k2, 2, 0)

	removed := c.InvalidateByPrefix("camp", "")
	assert.Equal(t, 2, removed)
}

func TestLRUEviction_RespectsMaxKeys(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CheckPeriod: time.Hour, MaxKeys: MinMaxKeys})
	defer c.Close()

	for i := 0; i < MinMaxKeys+10; i++ {
		c.Set(EncodeKey("camp", "main", fmt.Sprintf("node-%d", i)), i, 0)
	}
	assert.LessOrEqual(t, c.GetStats().Keys, MinMaxKeys)
}

func TestNew_OutOfRangeConfigFallsBackToDefaults(t *testing.T) {
	c := New(Config{DefaultTTL: 999999 * time.Hour, CheckPeriod: time.Millisecond, MaxKeys: 1})
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.defaultTTL)
	assert.Equal(t, DefaultMaxKeys, c.maxKeys)
}

func TestClear(t *testing.T) {
	c := newTestCache(t)
	c.Set(EncodeKey("camp", "main", "n"), 1, 0)
	c.Clear()
	assert.Empty(t, c.Keys())
}
