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

package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager-rules/internal/cache"
	"github.com/jakekausler/campaign-manager-rules/internal/coordinator"
	"github.com/jakekausler/campaign-manager-rules/internal/models"
	"github.com/jakekausler/campaign-manager-rules/internal/store"
)

func seeded(t *testing.T) (*cache.Cache, *coordinator.Coordinator) {
	t.Helper()
	c := cache.New(cache.Config{})
	t.Cleanup(c.Close)
	s := store.NewMemoryStore()
	s.PutCondition("camp1", "main", &models.Condition{ID: "c1", IsActive: true, Expression: map[string]interface{}{"==": []interface{}{1, 1}}})
	coord := coordinator.New(s, nil)
	return c, coord
}

func TestDispatcher_ConditionUpdated_InvalidatesCacheAndGraph(t *testing.T) {
	c, coord := seeded(t)
	key := cache.EncodeKey("camp1", "main", conditionPrefix+"c1")
	c.Set(key, "cached", 0)
	g1, err := coord.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)

	d := NewDispatcher(c, coord, nil)
	d.Handle(ChannelConditionUpdated, Message{CampaignID: "camp1", BranchID: "main", EntityID: "c1"})

	assert.False(t, c.Has(key))
	g2, err := coord.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	assert.NotSame(t, g1, g2)
}

func TestDispatcher_VariableUpdated_InvalidatesCacheNotGraph(t *testing.T) {
	c, coord := seeded(t)
	key := cache.EncodeKey("camp1", "main", conditionPrefix+"c1")
	c.Set(key, "cached", 0)
	g1, err := coord.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)

	d := NewDispatcher(c, coord, nil)
	d.Handle(ChannelVariableUpdated, Message{CampaignID: "camp1", BranchID: "main", EntityID: "v1"})

	assert.False(t, c.Has(key))
	g2, err := coord.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	assert.Same(t, g1, g2)
}

func TestDispatcher_ConditionCreated_InvalidatesGraphOnly(t *testing.T) {
	c, coord := seeded(t)
	key := cache.EncodeKey("camp1", "main", conditionPrefix+"c1")
	c.Set(key, "cached", 0)
	g1, err := coord.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)

	d := NewDispatcher(c, coord, nil)
	d.Handle(ChannelConditionCreated, Message{CampaignID: "camp1", BranchID: "main", EntityID: "c2"})

	assert.True(t, c.Has(key))
	g2, err := coord.GetGraph(context.Background(), "camp1", "main")
	require.NoError(t, err)
	assert.NotSame(t, g1, g2)
}

func TestDispatcher_UnknownChannel_NoPanic(t *testing.T) {
	c, coord := seeded(t)
	d := NewDispatcher(c, coord, nil)
	assert.NotPanics(t, func() {
		d.Handle("condition.renamed", Message{CampaignID: "camp1"})
	})
}
