package ecs

import (
	"sort"

	"github.com/google/uuid"
)

// GraphNode is one entity's position in a dependency graph: the entities
// it directly contains (Dependencies) and the entities that directly
// contain it (Dependents). Purely derived from containment; never
// persisted.
type GraphNode struct {
	EntityRef    *Entity
	Dependencies map[uuid.UUID]struct{}
	Dependents   map[uuid.UUID]struct{}
}

// DependencyGraph is the containment DAG (possibly cyclic) reachable
// from a root via GetSubEntities.
type DependencyGraph struct {
	Root   uuid.UUID
	Nodes  map[uuid.UUID]*GraphNode
	Cycles [][]uuid.UUID
}

// BuildDependencyGraph walks root's subtree by BFS over GetSubEntities,
// recording parent/child edges, and separately runs a DFS with a
// visiting set to detect cycles. Cycle discovery never aborts
// construction; each cycle found is appended to Cycles.
func BuildDependencyGraph(root *Entity) *DependencyGraph {
	g := &DependencyGraph{
		Root:  root.ECSID,
		Nodes: make(map[uuid.UUID]*GraphNode),
	}
	g.nodeFor(root)

	queue := []*Entity{root}
	visitedBFS := map[uuid.UUID]bool{root.ECSID: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		currentNode := g.nodeFor(current)
		for _, child := range current.GetSubEntities() {
			childNode := g.nodeFor(child)
			currentNode.Dependencies[child.ECSID] = struct{}{}
			childNode.Dependents[current.ECSID] = struct{}{}
			if !visitedBFS[child.ECSID] {
				visitedBFS[child.ECSID] = true
				queue = append(queue, child)
			}
		}
	}

	g.detectCycles(root)
	return g
}

func (g *DependencyGraph) nodeFor(e *Entity) *GraphNode {
	node, ok := g.Nodes[e.ECSID]
	if !ok {
		node = &GraphNode{
			EntityRef:    e,
			Dependencies: make(map[uuid.UUID]struct{}),
			Dependents:   make(map[uuid.UUID]struct{}),
		}
		g.Nodes[e.ECSID] = node
	}
	return node
}

// color states for cycle-detecting DFS.
const (
	colorWhite = iota
	colorGray
	colorBlack
)

func (g *DependencyGraph) detectCycles(root *Entity) {
	color := make(map[uuid.UUID]int)
	var path []uuid.UUID

	var visit func(e *Entity)
	visit = func(e *Entity) {
		color[e.ECSID] = colorGray
		path = append(path, e.ECSID)
		for _, child := range e.GetSubEntities() {
			switch color[child.ECSID] {
			case colorWhite:
				visit(child)
			case colorGray:
				g.Cycles = append(g.Cycles, cycleSlice(path, child.ECSID))
			}
		}
		path = path[:len(path)-1]
		color[e.ECSID] = colorBlack
	}
	visit(root)
}

func cycleSlice(path []uuid.UUID, closingAt uuid.UUID) []uuid.UUID {
	for i, id := range path {
		if id == closingAt {
			cycle := append([]uuid.UUID(nil), path[i:]...)
			return append(cycle, closingAt)
		}
	}
	return []uuid.UUID{closingAt}
}

// DependentsOf returns the ids whose fields contain id.
func (g *DependencyGraph) DependentsOf(id uuid.UUID) []uuid.UUID {
	node, ok := g.Nodes[id]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, 0, len(node.Dependents))
	for dep := range node.Dependents {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// TransitiveDependents returns every id reachable by repeatedly following
// DependentsOf from id, not including id itself.
func (g *DependencyGraph) TransitiveDependents(id uuid.UUID) []uuid.UUID {
	visited := make(map[uuid.UUID]bool)
	queue := []uuid.UUID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range g.DependentsOf(current) {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	delete(visited, id)
	out := make([]uuid.UUID, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// TopologicalOrder returns every node id, leaves first. At each step the
// lowest-ecs_id node with no unprocessed dependencies is taken; when no
// such node exists (every remaining node is held up by a cycle), the
// lowest-ecs_id remaining node is taken instead. The tie-break is
// deterministic but otherwise arbitrary.
func (g *DependencyGraph) TopologicalOrder() []uuid.UUID {
	remaining := make(map[uuid.UUID]int, len(g.Nodes))
	for id, node := range g.Nodes {
		remaining[id] = len(node.Dependencies)
	}

	var order []uuid.UUID
	for len(order) < len(g.Nodes) {
		var candidates []uuid.UUID
		for id, count := range remaining {
			if count == 0 {
				candidates = append(candidates, id)
			}
		}
		if len(candidates) == 0 {
			// Every remaining node is part of an unresolved cycle.
			// Break the tie deterministically by lowest ecs_id and keep
			// going so topological order still terminates.
			for id := range remaining {
				candidates = append(candidates, id)
			}
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].String() < candidates[j].String() })
		next := candidates[0]
		order = append(order, next)
		delete(remaining, next)
		for id, count := range remaining {
			if _, isDependent := g.Nodes[id].Dependencies[next]; isDependent {
				remaining[id] = count - 1
			}
		}
	}
	return order
}
