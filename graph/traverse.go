package graph

// Visitor receives each reachable vertex in turn. Returning false stops the
// traversal early; the traversal can be restarted by calling Traverse again.
type Visitor func(vertex string) bool

// Traverse walks the vertices reachable from start in the given direction,
// excluding start itself, invoking visitor for each. The graph is finite and
// acyclic across non-leaf edges so the walk terminates. Leaf vertices are
// only reachable in the Reverse direction.
func (g *Graph) Traverse(start string, direction Direction, visitor Visitor) {
	g.locks.rlock(lockLeafEdges, lockNonLeafEdges)
	defer g.locks.runlock(lockLeafEdges, lockNonLeafEdges)

	visited := map[string]struct{}{start: {}}
	stack := g.neighborsLocked(start, direction)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[v]; ok {
			continue
		}
		visited[v] = struct{}{}
		if !visitor(v) {
			return
		}
		stack = append(stack, g.neighborsLocked(v, direction)...)
	}
}

func (g *Graph) neighborsLocked(v string, direction Direction) []string {
	if direction == Forward {
		r := keys(g.leafEdges[v])
		return append(r, keys(g.nonLeafEdges[v])...)
	}
	r := keys(g.leafReverseEdges[v])
	return append(r, keys(g.nonLeafReverseEdges[v])...)
}
