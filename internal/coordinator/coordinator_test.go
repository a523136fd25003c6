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

package coordinator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager-rules/internal/models"
	"github.com/jakekausler/campaign-manager-rules/internal/store"
)

func seededStore() *store.MemoryStore {
	s := store.NewMemoryStore()
	s.PutVariable("camp1", "main", &models.Variable{ID: "v1", Name: "population", WriterEffectID: "eff1"})
	s.PutCondition("camp1", "main", &models.Condition{
		ID:       "c1",
		IsActive: true,
		Expression: map[string]interface{}{
			">": []interface{}{
				map[string]interface{}{"var": "population"},
				10,
			},
		},
	})
	return s
}

func TestValidateIDs_RejectsEmptyAndBadCharset(t *testing.T) {
	assert.Error(t, ValidateIDs("", "main"))
	assert.Error(t, ValidateIDs("camp1", ""))
	assert.Error(t, ValidateIDs("camp 1", "main"))
	assert.Error(t, ValidateIDs("camp1", "main branch"))
	assert.NoError(t, ValidateIDs("camp1", "main"))
	assert.NoError(t, ValidateIDs("camp1", "feature/foo-bar_1"))
}

func TestGetGraph_BuildsFromStore(t *testing.T) {
	c := New(seededStore(), nil)
	g, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)

	assert.True(t, g.HasNode(models.NodeID(models.NodeCondition, "c1")))
	assert.True(t, g.HasNode(models.NodeID(models.NodeVariable, "v1")))
	assert.True(t, g.HasNode(models.NodeID(models.NodeEffect, "eff1")))

	edges := g.GetOutgoingEdges(models.NodeID(models.NodeCondition, "c1"))
	require.Len(t, edges, 1)
	assert.Equal(t, models.NodeID(models.NodeVariable, "v1"), edges[0].ToID)
	assert.Equal(t, models.EdgeReads, edges[0].Type)
}

func TestGetGraph_CachesAcrossCalls(t *testing.T) {
	c := New(seededStore(), nil)
	g1, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	g2, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	assert.Same(t, g1, g2)
}

func TestGetGraph_DefaultsBranchToMain(t *testing.T) {
	c := New(seededStore(), nil)
	g, err := c.GetGraph(context.Background(), "camp1", "")
	require.NoError(t, err)
	assert.True(t, g.HasNode(models.NodeID(models.NodeCondition, "c1")))
}

func TestGetGraph_RejectsInvalidIDs(t *testing.T) {
	c := New(seededStore(), nil)
	_, err := c.GetGraph(context.Background(), "bad id!", "main")
	require.Error(t, err)
	var ierr *InputError
	assert.ErrorAs(t, err, &ierr)
}

func TestInvalidateGraph_ForcesRebuild(t *testing.T) {
	s := seededStore()
	c := New(s, nil)
	g1, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)

	c.InvalidateGraph("camp1", "main")
	s.PutCondition("camp1", "main", &models.Condition{ID: "c2", IsActive: true, Expression: map[string]interface{}{"==": []interface{}{1, 1}}})

	g2, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	assert.NotSame(t, g1, g2)
	assert.True(t, g2.HasNode(models.NodeID(models.NodeCondition, "c2")))
}

func TestUpdateCondition_RemovesInactive(t *testing.T) {
	s := seededStore()
	c := New(s, nil)
	_, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)

	s.PutCondition("camp1", "main", &models.Condition{ID: "c1", IsActive: false})
	require.NoError(t, c.UpdateCondition(context.Background(), "camp1", "main", "c1"))

	g, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	assert.False(t, g.HasNode(models.NodeID(models.NodeCondition, "c1")))
}

func TestUpdateCondition_NoopWhenGraphNotCached(t *testing.T) {
	s := seededStore()
	c := New(s, nil)
	assert.NoError(t, c.UpdateCondition(context.Background(), "camp1", "main", "c1"))
}

func TestUpdateVariable_AddsWriterEdge(t *testing.T) {
	s := seededStore()
	c := New(s, nil)
	_, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)

	s.PutVariable("camp1", "main", &models.Variable{ID: "v2", Name: "gold", WriterEffectID: "eff2"})
	require.NoError(t, c.UpdateVariable(context.Background(), "camp1", "main", "v2"))

	g, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	assert.True(t, g.HasNode(models.NodeID(models.NodeVariable, "v2")))
	assert.True(t, g.HasNode(models.NodeID(models.NodeEffect, "eff2")))
}

func TestGetDependenciesAndDependentsOf(t *testing.T) {
	c := New(seededStore(), nil)
	ctx := context.Background()

	deps, err := c.GetDependenciesOf(ctx, "camp1", "main", models.NodeID(models.NodeCondition, "c1"))
	require.NoError(t, err)
	assert.Equal(t, []string{models.NodeID(models.NodeVariable, "v1")}, deps)

	dependents, err := c.GetDependentsOf(ctx, "camp1", "main", models.NodeID(models.NodeVariable, "v1"))
	require.NoError(t, err)
	assert.Equal(t, []string{models.NodeID(models.NodeCondition, "c1")}, dependents)
}

func TestValidateNoCycles_ReportsClean(t *testing.T) {
	c := New(seededStore(), nil)
	report, err := c.ValidateNoCycles(context.Background(), "camp1", "main")
	require.NoError(t, err)
	assert.False(t, report.HasCycles)
}

func TestGetEvaluationOrder_DependenciesFirst(t *testing.T) {
	c := New(seededStore(), nil)
	result, err := c.GetEvaluationOrder(context.Background(), "camp1", "main")
	require.NoError(t, err)
	require.True(t, result.Success)

	varIdx, condIdx := -1, -1
	for i, id := range result.Order {
		if id == models.NodeID(models.NodeVariable, "v1") {
			varIdx = i
		}
		if id == models.NodeID(models.NodeCondition, "c1") {
			condIdx = i
		}
	}
	require.NotEqual(t, -1, varIdx)
	require.NotEqual(t, -1, condIdx)
	assert.Less(t, varIdx, condIdx)
}

func TestSnapshot_ReturnsIndependentCopy(t *testing.T) {
	c := New(seededStore(), nil)
	nodes, edges, err := c.Snapshot(context.Background(), "camp1", "main")
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	require.NotEmpty(t, edges)

	nodes[0].Label = "mutated"
	g, err := c.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	liveNode := g.GetNode(nodes[0].ID)
	assert.NotEqual(t, "mutated", liveNode.Label)
}

func TestGetGraph_ConcurrentColdAccessSharesOneBuild(t *testing.T) {
	c := New(seededStore(), nil)
	const n = 20
	var wg sync.WaitGroup
	graphs := make([]interface{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := c.GetGraph(context.Background(), "camp1", "main")
			require.NoError(t, err)
			graphs[i] = g
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		assert.Same(t, graphs[0], graphs[i])
	}
}
