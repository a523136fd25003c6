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

// Package coordinator maintains the process-wide map of
// (campaignId, branchId) -> *graph.Graph, building graphs lazily from
// the Store and patching them incrementally as invalidation events
// arrive.
package coordinator

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/mitchellh/copystructure"
	"github.com/sirupsen/logrus"

	"github.com/jakekausler/campaign-manager-rules/internal/graph"
	"github.com/jakekausler/campaign-manager-rules/internal/interpreter"
	"github.com/jakekausler/campaign-manager-rules/internal/models"
	"github.com/jakekausler/campaign-manager-rules/internal/store"
)

// DefaultBranch is used whenever a caller omits branchId.
const DefaultBranch = "main"

var (
	campaignIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	branchIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_/-]{1,200}$`)
)

// InputError signals a malformed campaignId/branchId, raised before
// any cache or graph work happens to prevent cache-key injection.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

// ValidateIDs enforces spec's campaign/branch id charset and length
// bounds. Both the coordinator and the cache's callers must route
// every externally supplied id through this gate.
func ValidateIDs(campaignID, branchID string) error {
	if campaignID == "" {
		return &InputError{Message: "campaignId must not be empty"}
	}
	if !campaignIDPattern.MatchString(campaignID) {
		return &InputError{Message: fmt.Sprintf("campaignId %q is invalid: must match [A-Za-z0-9_-]{1,100}", campaignID)}
	}
	if branchID == "" {
		return &InputError{Message: "branchId must not be empty"}
	}
	if !branchIDPattern.MatchString(branchID) {
		return &InputError{Message: fmt.Sprintf("branchId %q is invalid: must match [A-Za-z0-9_/-]{1,200}", branchID)}
	}
	return nil
}

type scopeKey struct {
	campaignID, branchID string
}

// entry guards one cached graph with its own mutex, per spec's
// "a mutex per coordinator entry" guidance, so patching one
// (campaign,branch) never blocks readers of another.
type entry struct {
	mu sync.RWMutex
	g  *graph.Graph
}

// Coordinator is the process-wide graph cache. Safe for concurrent use.
type Coordinator struct {
	store  store.Store
	logger *logrus.Logger

	mu      sync.Mutex // guards entries and inflight
	entries map[scopeKey]*entry
	inflight map[scopeKey]*buildCall
}

// buildCall lets concurrent getGraph calls for the same missing key
// share a single build instead of racing duplicate Store round-trips.
type buildCall struct {
	done chan struct{}
	g    *graph.Graph
	err  error
}

// New constructs a Coordinator backed by s.
func New(s store.Store, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		store:    s,
		logger:   logger,
		entries:  make(map[scopeKey]*entry),
		inflight: make(map[scopeKey]*buildCall),
	}
}

// GetGraph returns the cached graph for (campaignID, branchID),
// building it from the Store on first access. branchID defaults to
// "main" when empty. Concurrent callers racing on a cold key share one
// build.
func (c *Coordinator) GetGraph(ctx context.Context, campaignID, branchID string) (*graph.Graph, error) {
	if branchID == "" {
		branchID = DefaultBranch
	}
	if err := ValidateIDs(campaignID, branchID); err != nil {
		return nil, err
	}
	key := scopeKey{campaignID, branchID}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.g, nil
	}
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-call.done
		return call.g, call.err
	}

	call := &buildCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	g, err := c.buildGraph(ctx, campaignID, branchID)
	call.g, call.err = g, err
	close(call.done)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.entries[key] = &entry{g: g}
	}
	c.mu.Unlock()

	return g, err
}

// buildGraph issues one ListConditions and one ListVariables call and
// derives READS/WRITES edges: each condition reads the variables its
// expression mentions (via interpreter.ExtractVars), and writes an
// edge from a variable's declared writer effect to that variable.
func (c *Coordinator) buildGraph(ctx context.Context, campaignID, branchID string) (*graph.Graph, error) {
	conditions, err := c.store.ListConditions(ctx, campaignID, branchID)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	variables, err := c.store.ListVariables(ctx, campaignID, branchID)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}

	g := graph.New()
	for _, v := range variables {
		g.AddNode(models.NewNode(models.NodeVariable, v.ID))
		if v.WriterEffectID != "" {
			effectNode := models.NewNode(models.NodeEffect, v.WriterEffectID)
			g.AddNode(effectNode)
			_ = g.AddEdge(models.Edge{
				FromID: effectNode.ID,
				ToID:   models.NodeID(models.NodeVariable, v.ID),
				Type:   models.EdgeWrites,
			})
		}
	}

	for _, cond := range conditions {
		condNode := models.NewNode(models.NodeCondition, cond.ID)
		g.AddNode(condNode)
		for varName := range interpreter.ExtractVars(cond.Expression) {
			varID := variableIDByName(variables, varName)
			if varID == "" {
				continue
			}
			if !g.HasNode(models.NodeID(models.NodeVariable, varID)) {
				continue
			}
			_ = g.AddEdge(models.Edge{
				FromID: condNode.ID,
				ToID:   models.NodeID(models.NodeVariable, varID),
				Type:   models.EdgeReads,
			})
		}
	}

	return g, nil
}

func variableIDByName(variables []*models.Variable, name string) string {
	for _, v := range variables {
		if v.Name == name {
			return v.ID
		}
	}
	return ""
}

// InvalidateGraph deletes the cached entry for (campaignID,
// branchID); the next GetGraph rebuilds. Calling it twice is
// equivalent to calling it once.
func (c *Coordinator) InvalidateGraph(campaignID, branchID string) {
	if branchID == "" {
		branchID = DefaultBranch
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, scopeKey{campaignID, branchID})
}

// UpdateCondition patches the cached graph for a single condition id
// if the graph is already built; otherwise it is a no-op (the next
// GetGraph rebuilds from scratch and picks up the change).
func (c *Coordinator) UpdateCondition(ctx context.Context, campaignID, branchID, conditionID string) error {
	if branchID == "" {
		branchID = DefaultBranch
	}
	e := c.lookupEntry(campaignID, branchID)
	if e == nil {
		return nil
	}

	cond, err := c.store.FindCondition(ctx, conditionID)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("patch condition %s: %w", conditionID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nodeID := models.NodeID(models.NodeCondition, conditionID)
	if err == store.ErrNotFound || !cond.Usable() {
		e.g.RemoveNode(nodeID)
		return nil
	}

	e.g.RemoveNode(nodeID)
	condNode := models.NewNode(models.NodeCondition, conditionID)
	e.g.AddNode(condNode)
	for varName := range interpreter.ExtractVars(cond.Expression) {
		for _, n := range e.g.GetAllNodes() {
			if n.Type == models.NodeVariable {
				// best-effort: the var path must equal the variable
				// node's entity id, since the incremental path has no
				// variable list to resolve names against. Name
				// resolution happens on the next full rebuild.
				if n.EntityID == varName {
					_ = e.g.AddEdge(models.Edge{FromID: condNode.ID, ToID: n.ID, Type: models.EdgeReads})
				}
			}
		}
	}
	return nil
}

// UpdateVariable patches the cached graph for a single variable id, if
// cached; otherwise a no-op.
func (c *Coordinator) UpdateVariable(ctx context.Context, campaignID, branchID, variableID string) error {
	if branchID == "" {
		branchID = DefaultBranch
	}
	e := c.lookupEntry(campaignID, branchID)
	if e == nil {
		return nil
	}

	v, err := c.store.FindVariable(ctx, variableID)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("patch variable %s: %w", variableID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nodeID := models.NodeID(models.NodeVariable, variableID)
	if err == store.ErrNotFound {
		e.g.RemoveNode(nodeID)
		return nil
	}

	if !e.g.HasNode(nodeID) {
		e.g.AddNode(models.NewNode(models.NodeVariable, variableID))
	}
	if v.WriterEffectID != "" {
		effectNode := models.NewNode(models.NodeEffect, v.WriterEffectID)
		e.g.AddNode(effectNode)
		_ = e.g.AddEdge(models.Edge{FromID: effectNode.ID, ToID: nodeID, Type: models.EdgeWrites})
	}
	return nil
}

func (c *Coordinator) lookupEntry(campaignID, branchID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[scopeKey{campaignID, branchID}]
}

// GetDependenciesOf returns the ids of nodes that node reads or
// depends on directly.
func (c *Coordinator) GetDependenciesOf(ctx context.Context, campaignID, branchID, nodeID string) ([]string, error) {
	g, err := c.GetGraph(ctx, campaignID, branchID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range g.GetOutgoingEdges(nodeID) {
		out = append(out, e.ToID)
	}
	return out, nil
}

// GetDependentsOf returns the ids of nodes that directly depend on
// node.
func (c *Coordinator) GetDependentsOf(ctx context.Context, campaignID, branchID, nodeID string) ([]string, error) {
	g, err := c.GetGraph(ctx, campaignID, branchID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range g.GetIncomingEdges(nodeID) {
		out = append(out, e.FromID)
	}
	return out, nil
}

// ValidateNoCycles delegates to the graph's cycle detector.
func (c *Coordinator) ValidateNoCycles(ctx context.Context, campaignID, branchID string) (models.CycleReport, error) {
	g, err := c.GetGraph(ctx, campaignID, branchID)
	if err != nil {
		return models.CycleReport{}, err
	}
	return g.DetectCycles(), nil
}

// GetEvaluationOrder delegates to the graph's topological sort.
func (c *Coordinator) GetEvaluationOrder(ctx context.Context, campaignID, branchID string) (models.TopoResult, error) {
	g, err := c.GetGraph(ctx, campaignID, branchID)
	if err != nil {
		return models.TopoResult{}, err
	}
	return g.TopologicalSort(), nil
}

// Snapshot returns a deep copy of the graph's node and edge sets for
// (campaignID, branchID), suitable for a read sequence that must stay
// consistent across several queries while a concurrent patch is
// applied to the live graph. Uses copystructure for the copy-on-write
// strategy spec's concurrency model allows as an alternative to a
// read/write lock held across the whole sequence.
func (c *Coordinator) Snapshot(ctx context.Context, campaignID, branchID string) ([]*models.Node, []models.Edge, error) {
	g, err := c.GetGraph(ctx, campaignID, branchID)
	if err != nil {
		return nil, nil, err
	}

	e := c.lookupEntry(campaignID, branchID)
	if e != nil {
		e.mu.RLock()
		defer e.mu.RUnlock()
	}

	nodesCopy, err := copystructure.Copy(g.GetAllNodes())
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot nodes: %w", err)
	}
	edgesCopy, err := copystructure.Copy(g.GetAllEdges())
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot edges: %w", err)
	}
	return nodesCopy.([]*models.Node), edgesCopy.([]models.Edge), nil
}
