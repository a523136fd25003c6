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

package engine

import (
	"sort"
	"sync"
)

// maxLatencySamples bounds the ring buffer PerfStats keeps for
// percentile estimation; old samples are overwritten rather than the
// buffer growing without bound.
const maxLatencySamples = 1024

// PerfStats tracks running evaluation counters: cache hit/miss, pass/
// fail, and a bounded window of recent evaluation latencies for p95
// estimation. The engine's performance targets (spec's uncached/cached
// latency goals) are not enforced by any code path; this only records
// them, readable through Engine.Stats. It is not exported to
// Prometheus.
type PerfStats struct {
	mu sync.Mutex

	cacheHits   int64
	cacheMisses int64
	successes   int64
	failures    int64

	latenciesMs [maxLatencySamples]int64
	sampleCount int
	nextSlot    int
}

// NewPerfStats returns a zeroed PerfStats.
func NewPerfStats() *PerfStats {
	return &PerfStats{}
}

// RecordHit records a cache hit (a successful evaluation served
// without a Store round-trip).
func (p *PerfStats) RecordHit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cacheHits++
	p.successes++
}

// Record records one completed evaluation: pass/fail and its latency.
func (p *PerfStats) Record(success bool, latencyMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		p.successes++
	} else {
		p.failures++
	}
	p.cacheMisses++
	p.latenciesMs[p.nextSlot] = latencyMs
	p.nextSlot = (p.nextSlot + 1) % maxLatencySamples
	if p.sampleCount < maxLatencySamples {
		p.sampleCount++
	}
}

// Snapshot is a point-in-time view of PerfStats' counters.
type Snapshot struct {
	CacheHits   int64
	CacheMisses int64
	Successes   int64
	Failures    int64
	P50Ms       int64
	P95Ms       int64
	P99Ms       int64
}

// Snapshot computes percentile latencies over the current sample
// window and returns all counters together.
func (p *PerfStats) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	samples := make([]int64, p.sampleCount)
	copy(samples, p.latenciesMs[:p.sampleCount])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	return Snapshot{
		CacheHits:   p.cacheHits,
		CacheMisses: p.cacheMisses,
		Successes:   p.successes,
		Failures:    p.failures,
		P50Ms:       percentile(samples, 0.50),
		P95Ms:       percentile(samples, 0.95),
		P99Ms:       percentile(samples, 0.99),
	}
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
