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

// Package engine orchestrates a single condition evaluation (fetch,
// validate, consult the result cache, invoke the interpreter, cache,
// trace) and the batch variant that orders evaluations by the
// dependency graph.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jakekausler/campaign-manager-rules/internal/cache"
	"github.com/jakekausler/campaign-manager-rules/internal/coordinator"
	"github.com/jakekausler/campaign-manager-rules/internal/interpreter"
	"github.com/jakekausler/campaign-manager-rules/internal/models"
	"github.com/jakekausler/campaign-manager-rules/internal/store"
)

// conditionPrefix marks a graph node id as a condition when filtering
// topological order for a batch call.
const conditionPrefix = string(models.NodeCondition) + ":"

// Engine orchestrates single and batch evaluations. Safe for
// concurrent use: it holds no per-call mutable state of its own.
type Engine struct {
	store       store.Store
	cache       *cache.Cache
	coordinator *coordinator.Coordinator
	interp      *interpreter.Interpreter
	logger      *logrus.Logger
	stats       *PerfStats
}

// Config bundles an Engine's collaborators.
type Config struct {
	Store       store.Store
	Cache       *cache.Cache
	Coordinator *coordinator.Coordinator
	Interpreter *interpreter.Interpreter
	Logger      *logrus.Logger
}

// New constructs an Engine, filling in an interpreter.New() default
// when none is supplied.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	interp := cfg.Interpreter
	if interp == nil {
		interp = interpreter.New()
	}
	return &Engine{
		store:       cfg.Store,
		cache:       cfg.Cache,
		coordinator: cfg.Coordinator,
		interp:      interp,
		logger:      logger,
		stats:       NewPerfStats(),
	}
}

// Stats exposes the engine's running performance counters. The rpc
// package does not read them; its Prometheus metrics are measured
// separately around each RPC handler.
func (e *Engine) Stats() *PerfStats {
	return e.stats
}

// Evaluate runs the single-condition pipeline: cache lookup (skipped
// when includeTrace), fetch, active check, validate, build context,
// evaluate, serialize, cache.
func (e *Engine) Evaluate(ctx context.Context, conditionID, campaignID, branchID string, evalCtx models.EvaluationContext, includeTrace bool) *models.Result {
	start := time.Now()
	correlationID := uuid.NewString()
	log := e.logger.WithFields(logrus.Fields{
		"correlationId": correlationID,
		"conditionId":   conditionID,
		"campaignId":    campaignID,
		"branchId":      branchID,
	})

	cacheKey := cache.EncodeKey(campaignID, branchID, conditionPrefix+conditionID)

	if !includeTrace {
		if cached, ok := e.cache.Get(cacheKey); ok {
			result := cached.(*models.Result).Clone()
			result.EvaluationTimeMs = time.Since(start).Milliseconds()
			e.stats.RecordHit()
			return result
		}
	}

	var trace []models.TraceStep
	addTrace := func(description string, input, output interface{}, passed bool) {
		if !includeTrace {
			return
		}
		trace = append(trace, models.TraceStep{
			Step:        len(trace) + 1,
			Description: description,
			InputJSON:   input,
			OutputJSON:  output,
			Passed:      passed,
		})
	}

	finish := func(result *models.Result) *models.Result {
		result.EvaluationTimeMs = time.Since(start).Milliseconds()
		result.Trace = trace
		e.stats.Record(result.Success, result.EvaluationTimeMs)
		return result
	}

	cond, err := e.store.FindCondition(ctx, conditionID)
	if err != nil {
		msg := fmt.Sprintf("Condition not found: %s", conditionID)
		if err != store.ErrNotFound {
			msg = fmt.Sprintf("failed to fetch condition %s: %v", conditionID, err)
			log.WithError(err).Error("store error fetching condition")
		}
		addTrace("fetch condition", conditionID, nil, false)
		return finish(&models.Result{Success: false, Error: msg})
	}
	addTrace("fetch condition", conditionID, cond, true)

	if !cond.IsActive {
		addTrace("active check", cond.IsActive, nil, false)
		return finish(&models.Result{Success: false, Error: fmt.Sprintf("Condition is not active: %s", conditionID)})
	}
	addTrace("active check", cond.IsActive, true, true)

	if err := e.interp.Validate(cond.Expression); err != nil {
		addTrace("validate expression", cond.Expression, nil, false)
		return finish(&models.Result{Success: false, Error: fmt.Sprintf("Invalid expression: %s", err.Error())})
	}
	addTrace("validate expression", cond.Expression, true, true)

	evaluationContext := map[string]interface{}(evalCtx)
	addTrace("build context", evalCtx, evaluationContext, true)

	if includeTrace {
		for varName := range interpreter.ExtractVars(cond.Expression) {
			value, _ := resolveDottedPath(evaluationContext, varName)
			addTrace(fmt.Sprintf("resolve var %q", varName), varName, value, true)
		}
	}

	value, err := e.interp.Evaluate(cond.Expression, evaluationContext)
	if err != nil {
		addTrace("evaluate", cond.Expression, nil, false)
		log.WithError(err).Warn("evaluation failed")
		return finish(&models.Result{Success: false, Error: err.Error()})
	}
	addTrace("evaluate", cond.Expression, value, true)

	result := finish(&models.Result{Success: true, ValueJSON: value})

	if !includeTrace {
		e.cache.Set(cacheKey, result.Clone(), 0)
	}
	return result
}

// resolveDottedPath walks a dotted path through nested maps, returning
// nil when any segment is missing — mirrors the interpreter's own "var"
// resolution, used only to populate human-readable trace steps.
func resolveDottedPath(ctx map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = ctx
	for _, segment := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// BatchResult is the outcome of EvaluateConditions.
type BatchResult struct {
	Results               map[string]*models.Result
	TotalEvaluationTimeMs int64
	EvaluationOrder       []string
}

// EvaluateConditions evaluates ids against ctx, ordering by the
// dependency graph when possible. Cycles never abort the batch: they
// are logged and evaluation proceeds best-effort. Any failure of the
// graph pipeline itself falls back to sequential input-order
// evaluation.
func (e *Engine) EvaluateConditions(ctx context.Context, ids []string, campaignID, branchID string, evalCtx models.EvaluationContext, includeTrace bool) *BatchResult {
	start := time.Now()
	if len(ids) == 0 {
		return &BatchResult{Results: map[string]*models.Result{}}
	}

	order, err := e.graphEvaluationOrder(ctx, campaignID, branchID, ids)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"campaignId": campaignID,
			"branchId":   branchID,
		}).Warn("graph pipeline failed, falling back to input order")
		order = append([]string(nil), ids...)
	}

	results := make(map[string]*models.Result, len(ids))
	for _, id := range order {
		results[id] = e.Evaluate(ctx, id, campaignID, branchID, evalCtx, includeTrace)
	}

	return &BatchResult{
		Results:               results,
		TotalEvaluationTimeMs: time.Since(start).Milliseconds(),
		EvaluationOrder:       order,
	}
}

// graphEvaluationOrder obtains the graph, warns-but-proceeds on
// cycles, topologically sorts, filters to CONDITION nodes present in
// ids (prefix stripped), and appends any requested ids absent from the
// graph in their original input order.
func (e *Engine) graphEvaluationOrder(ctx context.Context, campaignID, branchID string, ids []string) ([]string, error) {
	g, err := e.coordinator.GetGraph(ctx, campaignID, branchID)
	if err != nil {
		return nil, fmt.Errorf("get graph: %w", err)
	}

	if report := g.DetectCycles(); report.HasCycles {
		e.logger.WithFields(logrus.Fields{
			"campaignId": campaignID,
			"branchId":   branchID,
			"cycles":     report.Cycles,
		}).Warn("dependency graph has cycles; batch evaluation proceeding best-effort")
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	topo := g.TopologicalSort()
	var order []string
	seen := make(map[string]bool, len(ids))
	if topo.Success {
		for _, nodeID := range topo.Order {
			if !strings.HasPrefix(nodeID, conditionPrefix) {
				continue
			}
			id := strings.TrimPrefix(nodeID, conditionPrefix)
			if wanted[id] {
				order = append(order, id)
				seen[id] = true
			}
		}
	}

	for _, id := range ids {
		if !seen[id] {
			order = append(order, id)
		}
	}
	return order, nil
}

// GetEvaluationOrder returns the topological order of the dependency
// graph, filtered to the requested condition node ids (prefix
// stripped) when ids is non-empty, or the full order otherwise.
func (e *Engine) GetEvaluationOrder(ctx context.Context, campaignID, branchID string, conditionIDs []string) ([]string, int, error) {
	topo, err := e.coordinator.GetEvaluationOrder(ctx, campaignID, branchID)
	if err != nil {
		return nil, 0, err
	}
	if !topo.Success {
		return nil, 0, fmt.Errorf("%s", topo.Error)
	}

	if len(conditionIDs) == 0 {
		return topo.Order, len(topo.Order), nil
	}

	wanted := make(map[string]bool, len(conditionIDs))
	for _, id := range conditionIDs {
		wanted[id] = true
	}
	var filtered []string
	for _, nodeID := range topo.Order {
		id := strings.TrimPrefix(nodeID, conditionPrefix)
		if strings.HasPrefix(nodeID, conditionPrefix) && wanted[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, len(topo.Order), nil
}

// ValidateDependencies reports cycle state for (campaignID, branchID)
// in the RPC response shape: hasCycle, human-readable cycle strings,
// and a summary message.
func (e *Engine) ValidateDependencies(ctx context.Context, campaignID, branchID string) (hasCycle bool, cycles []string, message string, err error) {
	report, err := e.coordinator.ValidateNoCycles(ctx, campaignID, branchID)
	if err != nil {
		return false, nil, "", err
	}
	for _, c := range report.Cycles {
		cycles = append(cycles, strings.Join(c.Path, " -> "))
	}
	if report.HasCycles {
		message = fmt.Sprintf("%d cycle(s) detected", report.CycleCount)
	} else {
		message = "no cycles detected"
	}
	return report.HasCycles, cycles, message, nil
}

// InvalidateCache invalidates the cache entries and graph for
// (campaignID, branchID). When nodeIDs is empty, invalidates every
// cache entry under the scope; otherwise only the named nodes
// (prefixed "CONDITION:"). Always invalidates the graph, mirroring the
// bus handler's condition.deleted/updated behavior.
func (e *Engine) InvalidateCache(campaignID, branchID string, nodeIDs []string) (invalidatedCount int, message string) {
	if len(nodeIDs) == 0 {
		invalidatedCount = e.cache.InvalidateByPrefix(campaignID, branchID)
	} else {
		for _, id := range nodeIDs {
			key := cache.EncodeKey(campaignID, branchID, conditionPrefix+id)
			if e.cache.Has(key) {
				e.cache.Invalidate(key)
				invalidatedCount++
			}
		}
	}
	e.coordinator.InvalidateGraph(campaignID, branchID)
	return invalidatedCount, fmt.Sprintf("invalidated %d cache entr(y/ies)", invalidatedCount)
}

// CacheStats is the caller-facing projection of cache.Stats plus a
// bounded sample of live keys.
type CacheStats struct {
	Hits       int64
	Misses     int64
	Keys       int
	KSize      int64
	VSize      int64
	HitRate    float64
	SampleKeys []string
}

// maxSampleKeys bounds GetCacheStats' sampleKeys, per spec's
// information-leak guard.
const maxSampleKeys = 10

// GetCacheStats returns running cache statistics plus up to 10 sample
// keys scoped to campaignID. Without a campaignID, sampleKeys is
// always empty to avoid leaking key material across tenants.
func (e *Engine) GetCacheStats(campaignID, branchID string) CacheStats {
	stats := e.cache.GetStats()
	out := CacheStats{
		Hits:    stats.Hits,
		Misses:  stats.Misses,
		Keys:    stats.Keys,
		KSize:   stats.KSize,
		VSize:   stats.VSize,
		HitRate: stats.HitRate(),
	}
	if campaignID == "" {
		return out
	}
	keys := e.cache.KeysByPrefix(campaignID, branchID)
	if len(keys) > maxSampleKeys {
		keys = keys[:maxSampleKeys]
	}
	out.SampleKeys = keys
	return out
}

// MarshalContext parses a caller-supplied contextJson string into an
// EvaluationContext; non-map JSON values are treated as empty, per
// spec's "build context" step.
func MarshalContext(contextJSON string) (models.EvaluationContext, error) {
	if contextJSON == "" {
		return models.EvaluationContext{}, nil
	}
	var raw interface{}
	if err := json.Unmarshal([]byte(contextJSON), &raw); err != nil {
		return nil, fmt.Errorf("invalid context JSON: %w", err)
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return models.EvaluationContext{}, nil
	}
	return models.EvaluationContext(m), nil
}
