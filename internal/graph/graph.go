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

// Package graph implements the per-(campaign,branch) dependency graph:
// nodes, directed edges, cycle detection, and topological sort. A
// Graph is process-local and owned by exactly one coordinator entry;
// callers needing to read while another goroutine may be patching
// should take a Snapshot first.
package graph

import (
	"fmt"
	"sort"

	"github.com/jakekausler/campaign-manager-rules/internal/models"
)

// Graph is a directed graph over Node ids, with adjacency tracked in
// both directions for O(1) amortized lookups.
type Graph struct {
	nodes    map[string]*models.Node
	outgoing map[string][]models.Edge
	incoming map[string][]models.Edge
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*models.Node),
		outgoing: make(map[string][]models.Edge),
		incoming: make(map[string][]models.Edge),
	}
}

// AddNode inserts n, replacing any existing node with the same id.
// Idempotent: calling it twice with an equivalent node is a no-op in
// effect.
func (g *Graph) AddNode(n *models.Node) {
	if n == nil {
		return
	}
	if _, exists := g.nodes[n.ID]; !exists {
		g.outgoing[n.ID] = nil
		g.incoming[n.ID] = nil
	}
	g.nodes[n.ID] = n
}

// HasNode reports whether id is present.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// GetNode returns the node for id, or nil if absent.
func (g *Graph) GetNode(id string) *models.Node {
	return g.nodes[id]
}

// RemoveNode deletes id and every edge touching it, from both
// adjacency sides. O(degree).
func (g *Graph) RemoveNode(id string) {
	if _, ok := g.nodes[id]; !ok {
		return
	}
	for _, e := range g.outgoing[id] {
		g.incoming[e.ToID] = removeEdge(g.incoming[e.ToID], e)
	}
	for _, e := range g.incoming[id] {
		g.outgoing[e.FromID] = removeEdge(g.outgoing[e.FromID], e)
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)
	delete(g.nodes, id)
}

// AddEdge inserts a directed edge. Both endpoints must already exist.
// Duplicate edges (same from/to/type) are allowed; callers that care
// about duplicates must dedupe themselves.
func (g *Graph) AddEdge(e models.Edge) error {
	if _, ok := g.nodes[e.FromID]; !ok {
		return fmt.Errorf("source node %s does not exist", e.FromID)
	}
	if _, ok := g.nodes[e.ToID]; !ok {
		return fmt.Errorf("target node %s does not exist", e.ToID)
	}
	g.outgoing[e.FromID] = append(g.outgoing[e.FromID], e)
	g.incoming[e.ToID] = append(g.incoming[e.ToID], e)
	return nil
}

// RemoveEdge removes every edge from->to, across both adjacency maps.
func (g *Graph) RemoveEdge(from, to string) {
	var kept []models.Edge
	for _, e := range g.outgoing[from] {
		if e.ToID == to {
			continue
		}
		kept = append(kept, e)
	}
	g.outgoing[from] = kept

	kept = nil
	for _, e := range g.incoming[to] {
		if e.FromID == from {
			continue
		}
		kept = append(kept, e)
	}
	g.incoming[to] = kept
}

func removeEdge(edges []models.Edge, target models.Edge) []models.Edge {
	var kept []models.Edge
	for _, e := range edges {
		if e == target {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// GetAllNodes returns every node, order undefined.
func (g *Graph) GetAllNodes() []*models.Node {
	out := make([]*models.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// GetAllEdges returns every edge, order undefined.
func (g *Graph) GetAllEdges() []models.Edge {
	var out []models.Edge
	for _, edges := range g.outgoing {
		out = append(out, edges...)
	}
	return out
}

// GetOutgoingEdges returns the edges leaving id.
func (g *Graph) GetOutgoingEdges(id string) []models.Edge {
	return g.outgoing[id]
}

// GetIncomingEdges returns the edges arriving at id.
func (g *Graph) GetIncomingEdges(id string) []models.Edge {
	return g.incoming[id]
}

// HasPath reports whether t is reachable from s via outgoing edges.
// s == t is true whenever s exists.
func (g *Graph) HasPath(s, t string) bool {
	if _, ok := g.nodes[s]; !ok {
		return false
	}
	if s == t {
		return true
	}
	visited := map[string]bool{s: true}
	queue := []string{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.outgoing[cur] {
			if e.ToID == t {
				return true
			}
			if !visited[e.ToID] {
				visited[e.ToID] = true
				queue = append(queue, e.ToID)
			}
		}
	}
	return false
}

// WouldCreateCycle reports whether adding an edge from->to would
// introduce a cycle, i.e. whether to can already reach from.
func (g *Graph) WouldCreateCycle(from, to string) bool {
	return g.HasPath(to, from)
}

type color int

const (
	white color = iota
	gray
	black
)

// DetectCycles runs a three-color DFS, reporting every back-edge to a
// gray node as a cycle. Path reconstruction walks parent pointers from
// the gray vertex back to the rediscovered vertex and closes the loop
// by repeating the rediscovered vertex as both first and last element.
func (g *Graph) DetectCycles() models.CycleReport {
	colors := make(map[string]color, len(g.nodes))
	parent := make(map[string]string, len(g.nodes))
	for id := range g.nodes {
		colors[id] = white
	}

	var cycles []models.CycleInfo
	ids := g.sortedNodeIDs()

	var visit func(id string)
	visit = func(id string) {
		colors[id] = gray
		for _, e := range g.outgoing[id] {
			switch colors[e.ToID] {
			case white:
				parent[e.ToID] = id
				visit(e.ToID)
			case gray:
				cycles = append(cycles, buildCycle(parent, id, e.ToID))
			case black:
				// cross/forward edge, not a cycle
			}
		}
		colors[id] = black
	}

	for _, id := range ids {
		if colors[id] == white {
			visit(id)
		}
	}

	return models.CycleReport{
		HasCycles:  len(cycles) > 0,
		Cycles:     cycles,
		CycleCount: len(cycles),
	}
}

// buildCycle walks parent pointers from gray (the vertex currently
// being visited) back to target (the gray ancestor it points to),
// closing the path by repeating target at both ends.
func buildCycle(parent map[string]string, gray, target string) models.CycleInfo {
	path := []string{gray}
	cur := gray
	for cur != target {
		p, ok := parent[cur]
		if !ok {
			break
		}
		path = append(path, p)
		cur = p
	}
	// reverse so the path reads target -> ... -> gray
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	path = append(path, target)
	return models.CycleInfo{
		Path:        path,
		Description: fmt.Sprintf("cycle: %s", joinArrow(path)),
	}
}

func joinArrow(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

// TopologicalSort runs Kahn's algorithm with ties broken by ascending
// lexicographic node id for deterministic output, then reverses the
// result: graph convention is "A->B means A depends on B", so
// dependencies must come first in evaluation order.
func (g *Graph) TopologicalSort() models.TopoResult {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for _, edges := range g.outgoing {
		for _, e := range edges {
			inDegree[e.ToID]++
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var newlyReady []string
		for _, e := range g.outgoing[id] {
			inDegree[e.ToID]--
			if inDegree[e.ToID] == 0 {
				newlyReady = append(newlyReady, e.ToID)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(g.nodes) {
		remaining := make([]string, 0, len(g.nodes)-len(order))
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for id := range g.nodes {
			if !seen[id] {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return models.TopoResult{
			Success:        false,
			RemainingNodes: remaining,
			Error:          fmt.Sprintf("Cycle detected: %d nodes could not be sorted", len(remaining)),
		}
	}

	reversed := make([]string, len(order))
	for i, id := range order {
		reversed[len(order)-1-i] = id
	}
	return models.TopoResult{Success: true, Order: reversed}
}

func (g *Graph) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}
