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

// Package models holds the data types shared by the rules-evaluation
// worker: graph nodes and edges, the condition/variable records read
// from the Store, and the evaluation result shapes returned to callers.
package models

import (
	"fmt"
	"strings"
	"time"
)

// NodeType enumerates the kinds of node the dependency graph tracks.
type NodeType string

const (
	NodeVariable  NodeType = "VARIABLE"
	NodeCondition NodeType = "CONDITION"
	NodeEffect    NodeType = "EFFECT"
	NodeEntity    NodeType = "ENTITY"
)

// nodeIDDelimiter separates a node's type from its entity id.
const nodeIDDelimiter = ":"

// NodeID builds a node id of the form "<NodeType>:<entityId>".
func NodeID(t NodeType, entityID string) string {
	return string(t) + nodeIDDelimiter + entityID
}

// SplitNodeID reverses NodeID, returning false if id is not well-formed.
func SplitNodeID(id string) (t NodeType, entityID string, ok bool) {
	idx := strings.Index(id, nodeIDDelimiter)
	if idx < 0 {
		return "", "", false
	}
	return NodeType(id[:idx]), id[idx+1:], true
}

// Node is a vertex in the per-(campaign,branch) dependency graph.
type Node struct {
	ID       string                 `json:"id"`
	Type     NodeType               `json:"type"`
	EntityID string                 `json:"entityId"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Label    string                 `json:"label,omitempty"`
}

// NewNode constructs a Node with its id derived from type and entityID.
func NewNode(t NodeType, entityID string) *Node {
	return &Node{ID: NodeID(t, entityID), Type: t, EntityID: entityID}
}

// EdgeType enumerates the relationships the graph records between nodes.
type EdgeType string

const (
	EdgeReads     EdgeType = "READS"
	EdgeWrites    EdgeType = "WRITES"
	EdgeDependsOn EdgeType = "DEPENDS_ON"
)

// Edge is a directed relationship between two existing nodes.
type Edge struct {
	FromID string   `json:"fromId"`
	ToID   string   `json:"toId"`
	Type   EdgeType `json:"type"`
}

// Condition is a boolean/arithmetic expression bound to an entity field,
// as fetched from the Store.
type Condition struct {
	ID         string      `json:"id"`
	EntityType string      `json:"entityType"`
	EntityID   string      `json:"entityId"`
	Field      string      `json:"field"`
	Expression interface{} `json:"expression"`
	IsActive   bool        `json:"isActive"`
	Priority   int         `json:"priority"`
	DeletedAt  *time.Time  `json:"deletedAt,omitempty"`
}

// Usable reports whether the condition may be evaluated: not
// soft-deleted and marked active.
func (c *Condition) Usable() bool {
	return c != nil && c.DeletedAt == nil && c.IsActive
}

// Variable is a named datum whose value feeds conditions via the
// interpreter's "var" operator.
type Variable struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Name       string `json:"name"`
	// WriterEffectID is the id of the Effect entity that writes this
	// variable, when known; empty when the variable has no declared
	// writer (it is treated as an external input).
	WriterEffectID string     `json:"writerEffectId,omitempty"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// EvaluationContext is the caller-supplied mapping consulted by the
// interpreter's "var" operator. It is opaque to every other component.
type EvaluationContext map[string]interface{}

// TraceStep is one entry in a Result's execution trace.
type TraceStep struct {
	Step        int         `json:"step"`
	Description string      `json:"description"`
	InputJSON   interface{} `json:"inputJson,omitempty"`
	OutputJSON  interface{} `json:"outputJson,omitempty"`
	Passed      bool        `json:"passed"`
}

// Result is the outcome of evaluating a single condition.
type Result struct {
	Success          bool        `json:"success"`
	ValueJSON        interface{} `json:"valueJson,omitempty"`
	Error            string      `json:"error,omitempty"`
	Trace            []TraceStep `json:"trace,omitempty"`
	EvaluationTimeMs int64       `json:"evaluationTimeMs"`
}

// Clone returns a shallow copy of the Result with its own Trace slice
// header, safe to hand back from a cache hit without letting the
// caller mutate the cached entry's EvaluationTimeMs in place.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Trace != nil {
		clone.Trace = append([]TraceStep(nil), r.Trace...)
	}
	return &clone
}

// String renders a Result for log lines.
func (r *Result) String() string {
	if r.Success {
		return fmt.Sprintf("Result{success=true, value=%v, timeMs=%d}", r.ValueJSON, r.EvaluationTimeMs)
	}
	return fmt.Sprintf("Result{success=false, error=%q, timeMs=%d}", r.Error, r.EvaluationTimeMs)
}

// CycleInfo describes one cycle discovered by Graph.DetectCycles.
type CycleInfo struct {
	Path        []string `json:"path"`
	Description string   `json:"description"`
}

// CycleReport is the aggregate result of a cycle scan.
type CycleReport struct {
	HasCycles  bool        `json:"hasCycles"`
	Cycles     []CycleInfo `json:"cycles"`
	CycleCount int         `json:"cycleCount"`
}

// TopoResult is the outcome of a topological sort attempt.
type TopoResult struct {
	Success        bool     `json:"success"`
	Order          []string `json:"order"`
	RemainingNodes []string `json:"remainingNodes,omitempty"`
	Error          string   `json:"error,omitempty"`
}
