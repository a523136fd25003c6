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

package rpc

import (
	"net/http"

	"github.com/jakekausler/campaign-manager-rules/internal/engine"
	"github.com/jakekausler/campaign-manager-rules/internal/models"
)

// evaluateConditionRequest is the wire shape of EvaluateCondition.
type evaluateConditionRequest struct {
	ConditionID  string `json:"conditionId"`
	CampaignID   string `json:"campaignId"`
	BranchID     string `json:"branchId"`
	ContextJSON  string `json:"contextJson"`
	IncludeTrace bool   `json:"includeTrace"`
}

// handleEvaluateCondition implements the first RPC of §6.1. On a
// contextJson parse failure it returns success:false without ever
// calling the engine, per §4.6's "wrapper's only non-trivial duty."
func (s *Server) handleEvaluateCondition(w http.ResponseWriter, r *http.Request) bool {
	var req evaluateConditionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Result{Success: false, Error: "invalid request body: " + err.Error()})
		return false
	}

	branchID := req.BranchID
	if branchID == "" {
		branchID = "main"
	}

	evalCtx, err := engine.MarshalContext(req.ContextJSON)
	if err != nil {
		writeJSON(w, http.StatusOK, models.Result{Success: false, Error: err.Error()})
		return false
	}

	result := s.engine.Evaluate(r.Context(), req.ConditionID, req.CampaignID, branchID, evalCtx, req.IncludeTrace)
	writeJSON(w, http.StatusOK, result)
	return result.Success
}

// evaluateConditionsRequest is the wire shape of EvaluateConditions.
type evaluateConditionsRequest struct {
	ConditionIDs       []string `json:"conditionIds"`
	CampaignID         string   `json:"campaignId"`
	BranchID           string   `json:"branchId"`
	ContextJSON        string   `json:"contextJson"`
	IncludeTrace       bool     `json:"includeTrace"`
	UseDependencyOrder bool     `json:"useDependencyOrder"`
}

type evaluateConditionsResponse struct {
	Results               map[string]*models.Result `json:"results"`
	TotalEvaluationTimeMs int64                      `json:"totalEvaluationTimeMs"`
	EvaluationOrder       []string                   `json:"evaluationOrder"`
}

// handleEvaluateConditions implements the second RPC of §6.1. The
// reported evaluationOrder reflects the dependency graph only when the
// caller opts in via useDependencyOrder; otherwise it echoes the
// request order, per §4.6. The engine always executes in graph order
// internally regardless, since ordering affects cache population.
func (s *Server) handleEvaluateConditions(w http.ResponseWriter, r *http.Request) bool {
	var req evaluateConditionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": "invalid request body: " + err.Error()})
		return false
	}

	branchID := req.BranchID
	if branchID == "" {
		branchID = "main"
	}

	evalCtx, err := engine.MarshalContext(req.ContextJSON)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return false
	}

	batch := s.engine.EvaluateConditions(r.Context(), req.ConditionIDs, req.CampaignID, branchID, evalCtx, req.IncludeTrace)

	order := req.ConditionIDs
	if req.UseDependencyOrder {
		order = batch.EvaluationOrder
	}

	writeJSON(w, http.StatusOK, evaluateConditionsResponse{
		Results:               batch.Results,
		TotalEvaluationTimeMs: batch.TotalEvaluationTimeMs,
		EvaluationOrder:       order,
	})
	return true
}

type getEvaluationOrderRequest struct {
	CampaignID   string   `json:"campaignId"`
	BranchID     string   `json:"branchId"`
	ConditionIDs []string `json:"conditionIds"`
}

type getEvaluationOrderResponse struct {
	NodeIDs    []string `json:"nodeIds"`
	TotalNodes int      `json:"totalNodes"`
}

// handleGetEvaluationOrder implements the third RPC of §6.1.
func (s *Server) handleGetEvaluationOrder(w http.ResponseWriter, r *http.Request) bool {
	var req getEvaluationOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body: " + err.Error()})
		return false
	}

	branchID := req.BranchID
	if branchID == "" {
		branchID = "main"
	}

	nodeIDs, total, err := s.engine.GetEvaluationOrder(r.Context(), req.CampaignID, branchID, req.ConditionIDs)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"error": err.Error()})
		return false
	}

	writeJSON(w, http.StatusOK, getEvaluationOrderResponse{NodeIDs: nodeIDs, TotalNodes: total})
	return true
}

type validateDependenciesRequest struct {
	CampaignID string `json:"campaignId"`
	BranchID   string `json:"branchId"`
}

type validateDependenciesResponse struct {
	HasCycle bool     `json:"hasCycle"`
	Cycles   []string `json:"cycles"`
	Message  string   `json:"message"`
}

// handleValidateDependencies implements the fourth RPC of §6.1.
func (s *Server) handleValidateDependencies(w http.ResponseWriter, r *http.Request) bool {
	var req validateDependenciesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "invalid request body: " + err.Error()})
		return false
	}

	branchID := req.BranchID
	if branchID == "" {
		branchID = "main"
	}

	hasCycle, cycles, message, err := s.engine.ValidateDependencies(r.Context(), req.CampaignID, branchID)
	if err != nil {
		writeJSON(w, http.StatusOK, validateDependenciesResponse{Message: err.Error()})
		return false
	}

	writeJSON(w, http.StatusOK, validateDependenciesResponse{HasCycle: hasCycle, Cycles: cycles, Message: message})
	return true
}

type invalidateCacheRequest struct {
	CampaignID string   `json:"campaignId"`
	BranchID   string   `json:"branchId"`
	NodeIDs    []string `json:"nodeIds"`
}

type invalidateCacheResponse struct {
	InvalidatedCount int    `json:"invalidatedCount"`
	Message          string `json:"message"`
}

// handleInvalidateCache implements the fifth RPC of §6.1. It also
// invalidates the graph, per spec's "also invalidates graph."
func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) bool {
	var req invalidateCacheRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "invalid request body: " + err.Error()})
		return false
	}

	branchID := req.BranchID
	if branchID == "" {
		branchID = "main"
	}

	count, message := s.engine.InvalidateCache(req.CampaignID, branchID, req.NodeIDs)
	writeJSON(w, http.StatusOK, invalidateCacheResponse{InvalidatedCount: count, Message: message})
	return true
}

type getCacheStatsResponse struct {
	Hits       int64    `json:"hits"`
	Misses     int64    `json:"misses"`
	Keys       int      `json:"keys"`
	KSize      int64    `json:"ksize"`
	VSize      int64    `json:"vsize"`
	HitRate    float64  `json:"hitRate"`
	SampleKeys []string `json:"sampleKeys"`
}

// handleGetCacheStats implements the sixth RPC of §6.1. Without a
// campaignId query parameter, sampleKeys is always empty.
func (s *Server) handleGetCacheStats(w http.ResponseWriter, r *http.Request) bool {
	campaignID := r.URL.Query().Get("campaignId")
	branchID := r.URL.Query().Get("branchId")
	if branchID == "" {
		branchID = "main"
	}

	stats := s.engine.GetCacheStats(campaignID, branchID)
	sampleKeys := stats.SampleKeys
	if sampleKeys == nil {
		sampleKeys = []string{}
	}

	writeJSON(w, http.StatusOK, getCacheStatsResponse{
		Hits:       stats.Hits,
		Misses:     stats.Misses,
		Keys:       stats.Keys,
		KSize:      stats.KSize,
		VSize:      stats.VSize,
		HitRate:    stats.HitRate,
		SampleKeys: sampleKeys,
	})
	return true
}
