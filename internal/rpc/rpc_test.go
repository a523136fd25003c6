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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager-rules/internal/cache"
	"github.com/jakekausler/campaign-manager-rules/internal/coordinator"
	"github.com/jakekausler/campaign-manager-rules/internal/engine"
	"github.com/jakekausler/campaign-manager-rules/internal/models"
	"github.com/jakekausler/campaign-manager-rules/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	c := cache.New(cache.Config{})
	t.Cleanup(c.Close)
	coord := coordinator.New(s, nil)
	e := engine.New(engine.Config{Store: s, Cache: c, Coordinator: coord})
	return NewServer(e, nil), s
}

func postJSON(t *testing.T, srv *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleEvaluateCondition_Success(t *testing.T) {
	srv, s := newTestServer(t)
	s.PutCondition("camp1", "main", &models.Condition{
		ID:         "c1",
		IsActive:   true,
		Expression: map[string]interface{}{">=": []interface{}{map[string]interface{}{"var": "population"}, 5000}},
	})

	rec := postJSON(t, srv, "/rpc/evaluate-condition", evaluateConditionRequest{
		ConditionID: "c1", CampaignID: "camp1", BranchID: "main", ContextJSON: `{"population":6000}`,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, true, result.ValueJSON)
}

func TestHandleEvaluateCondition_BadContextJSON(t *testing.T) {
	srv, s := newTestServer(t)
	s.PutCondition("camp1", "main", &models.Condition{ID: "c1", IsActive: true, Expression: map[string]interface{}{"==": []interface{}{1, 1}}})

	rec := postJSON(t, srv, "/rpc/evaluate-condition", evaluateConditionRequest{
		ConditionID: "c1", CampaignID: "camp1", BranchID: "main", ContextJSON: `{bad`,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
}

func TestHandleEvaluateConditions_Empty(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv, "/rpc/evaluate-conditions", evaluateConditionsRequest{CampaignID: "camp1", BranchID: "main"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp evaluateConditionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestHandleValidateDependencies_NoCycle(t *testing.T) {
	srv, s := newTestServer(t)
	s.PutCondition("camp1", "main", &models.Condition{ID: "c1", IsActive: true, Expression: map[string]interface{}{"==": []interface{}{1, 1}}})

	rec := postJSON(t, srv, "/rpc/validate-dependencies", validateDependenciesRequest{CampaignID: "camp1", BranchID: "main"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp validateDependenciesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.HasCycle)
}

func TestHandleGetCacheStats_NoCampaignHidesSampleKeys(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/rpc/cache-stats", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp getCacheStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.SampleKeys)
}

func TestHandleInvalidateCache(t *testing.T) {
	srv, s := newTestServer(t)
	s.PutCondition("camp1", "main", &models.Condition{ID: "c1", IsActive: true, Expression: map[string]interface{}{"==": []interface{}{1, 1}}})

	rec := postJSON(t, srv, "/rpc/invalidate-cache", invalidateCacheRequest{CampaignID: "camp1", BranchID: "main"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp invalidateCacheResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.InvalidatedCount, 0)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetrics_Exposed(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
