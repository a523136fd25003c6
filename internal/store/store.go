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

// Package store defines the read-only query surface the rules engine
// consumes from the authoritative relational store, plus a PostgreSQL
// adapter built on pgx.
package store

import (
	"context"
	"errors"

	"github.com/jakekausler/campaign-manager-rules/internal/models"
)

// ErrNotFound is returned by single-entity lookups when no row
// matches, letting callers distinguish "absent" from "query failed".
var ErrNotFound = errors.New("store: not found")

// Store is the narrow read-only interface the engine and coordinator
// consume. Implementations must apply the `deleted_at IS NULL` filter
// themselves; callers never re-check soft-delete state.
type Store interface {
	// FindCondition returns the live (non-deleted) condition for id,
	// or ErrNotFound.
	FindCondition(ctx context.Context, id string) (*models.Condition, error)

	// ListConditions returns every live condition for (campaignId,
	// branchId), for a full graph rebuild.
	ListConditions(ctx context.Context, campaignID, branchID string) ([]*models.Condition, error)

	// ListVariables returns every live variable for (campaignId,
	// branchId), for a full graph rebuild.
	ListVariables(ctx context.Context, campaignID, branchID string) ([]*models.Variable, error)

	// FindVariable returns the live variable for id, or ErrNotFound,
	// used for incremental graph patching.
	FindVariable(ctx context.Context, id string) (*models.Variable, error)

	// Close releases any underlying connection resources.
	Close()
}
