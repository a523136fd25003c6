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
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jakekausler/campaign-manager-rules/internal/models"
)

// PostgresStore implements Store against a conditions/variables schema
// using a pgx connection pool. Every query pushes the
// `deleted_at IS NULL` filter into SQL rather than re-checking it in
// Go, per the teacher's pattern of enforcing a single invariant once
// at the data layer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The caller retains
// ownership of connection-string parsing and TLS configuration.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const findConditionQuery = `
SELECT id, entity_type, entity_id, field, expression, is_active, priority, deleted_at
FROM conditions
WHERE id = $1 AND deleted_at IS NULL`

func (s *PostgresStore) FindCondition(ctx context.Context, id string) (*models.Condition, error) {
	row := s.pool.QueryRow(ctx, findConditionQuery, id)
	cond, err := scanCondition(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find condition %s: %w", id, err)
	}
	return cond, nil
}

const listConditionsQuery = `
SELECT id, entity_type, entity_id, field, expression, is_active, priority, deleted_at
FROM conditions
WHERE campaign_id = $1 AND branch_id = $2 AND deleted_at IS NULL
ORDER BY priority DESC, id ASC`

func (s *PostgresStore) ListConditions(ctx context.Context, campaignID, branchID string) ([]*models.Condition, error) {
	rows, err := s.pool.Query(ctx, listConditionsQuery, campaignID, branchID)
	if err != nil {
		return nil, fmt.Errorf("list conditions for %s/%s: %w", campaignID, branchID, err)
	}
	defer rows.Close()

	var out []*models.Condition
	for rows.Next() {
		cond, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		out = append(out, cond)
	}
	return out, rows.Err()
}

const listVariablesQuery = `
SELECT id, entity_type, entity_id, name, writer_effect_id, deleted_at
FROM variables
WHERE campaign_id = $1 AND branch_id = $2 AND deleted_at IS NULL
ORDER BY id ASC`

func (s *PostgresStore) ListVariables(ctx context.Context, campaignID, branchID string) ([]*models.Variable, error) {
	rows, err := s.pool.Query(ctx, listVariablesQuery, campaignID, branchID)
	if err != nil {
		return nil, fmt.Errorf("list variables for %s/%s: %w", campaignID, branchID, err)
	}
	defer rows.Close()

	var out []*models.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const findVariableQuery = `
SELECT id, entity_type, entity_id, name, writer_effect_id, deleted_at
FROM variables
WHERE id = $1 AND deleted_at IS NULL`

func (s *PostgresStore) FindVariable(ctx context.Context, id string) (*models.Variable, error) {
	row := s.pool.QueryRow(ctx, findVariableQuery, id)
	v, err := scanVariable(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find variable %s: %w", id, err)
	}
	return v, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows
// (Query, via its embedded Scan), letting scanCondition/scanVariable
// serve both single-row and multi-row callers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCondition(row rowScanner) (*models.Condition, error) {
	var c models.Condition
	var exprJSON []byte
	if err := row.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.Field, &exprJSON, &c.IsActive, &c.Priority, &c.DeletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(exprJSON, &c.Expression); err != nil {
		return nil, fmt.Errorf("decode expression for condition %s: %w", c.ID, err)
	}
	return &c, nil
}

func scanVariable(row rowScanner) (*models.Variable, error) {
	var v models.Variable
	if err := row.Scan(&v.ID, &v.EntityType, &v.EntityID, &v.Name, &v.WriterEffectID, &v.DeletedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
