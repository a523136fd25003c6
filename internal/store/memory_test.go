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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakekausler/campaign-manager-rules/internal/models"
)

func TestMemoryStore_FindCondition_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.FindCondition(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_FindCondition_SoftDeletedNotReturned(t *testing.T) {
	s := NewMemoryStore()
	deletedAt := time.Now()
	s.PutCondition("camp", "main", &models.Condition{ID: "c1", IsActive: true, DeletedAt: &deletedAt})

	_, err := s.FindCondition(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListConditions_ScopedByCampaignAndBranch(t *testing.T) {
	s := NewMemoryStore()
	s.PutCondition("camp1", "main", &models.Condition{ID: "c1", IsActive: true})
	s.PutCondition("camp1", "dev", &models.Condition{ID: "c2", IsActive: true})
	s.PutCondition("camp2", "main", &models.Condition{ID: "c3", IsActive: true})

	list, err := s.ListConditions(context.Background(), "camp1", "main")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].ID)
}

func TestMemoryStore_FindVariable(t *testing.T) {
	s := NewMemoryStore()
	s.PutVariable("camp", "main", &models.Variable{ID: "v1", Name: "population"})

	v, err := s.FindVariable(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "population", v.Name)
}
