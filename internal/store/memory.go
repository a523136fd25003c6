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
	"sync"

	"github.com/jakekausler/campaign-manager-rules/internal/models"
)

// keyPair scopes a condition/variable to its (campaignId, branchId).
type keyPair struct {
	campaignID, branchID string
}

// MemoryStore is an in-process Store used by tests and by the
// `validate` CLI subcommand, which has no database to talk to.
type MemoryStore struct {
	mu         sync.RWMutex
	conditions map[string]*models.Condition
	variables  map[string]*models.Variable
	byScope    map[keyPair][]string // campaign/branch -> condition ids
	varScope   map[keyPair][]string // campaign/branch -> variable ids
	scopeOf    map[string]keyPair   // condition/variable id -> scope
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conditions: make(map[string]*models.Condition),
		variables:  make(map[string]*models.Variable),
		byScope:    make(map[keyPair][]string),
		varScope:   make(map[keyPair][]string),
		scopeOf:    make(map[string]keyPair),
	}
}

// PutCondition inserts or replaces a condition within (campaignID,
// branchID).
func (m *MemoryStore) PutCondition(campaignID, branchID string, c *models.Condition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conditions[c.ID]; !exists {
		scope := keyPair{campaignID, branchID}
		m.byScope[scope] = append(m.byScope[scope], c.ID)
		m.scopeOf[c.ID] = scope
	}
	m.conditions[c.ID] = c
}

// PutVariable inserts or replaces a variable within (campaignID,
// branchID).
func (m *MemoryStore) PutVariable(campaignID, branchID string, v *models.Variable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.variables[v.ID]; !exists {
		scope := keyPair{campaignID, branchID}
		m.varScope[scope] = append(m.varScope[scope], v.ID)
		m.scopeOf[v.ID] = scope
	}
	m.variables[v.ID] = v
}

func (m *MemoryStore) FindCondition(_ context.Context, id string) (*models.Condition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conditions[id]
	if !ok || c.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListConditions(_ context.Context, campaignID, branchID string) ([]*models.Condition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Condition
	for _, id := range m.byScope[keyPair{campaignID, branchID}] {
		if c := m.conditions[id]; c != nil && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListVariables(_ context.Context, campaignID, branchID string) ([]*models.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Variable
	for _, id := range m.varScope[keyPair{campaignID, branchID}] {
		if v := m.variables[id]; v != nil && v.DeletedAt == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindVariable(_ context.Context, id string) (*models.Variable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.variables[id]
	if !ok || v.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Close() {}
