// Package graph implements the directed acyclic permission graph underneath
// the authorization store: leaf vertices (users), non-leaf vertices (groups),
// leaf-to-non-leaf and non-leaf-to-non-leaf edge sets with symmetric reverse
// indexes, and forward/reverse reachability.
package graph

import (
	"github.com/sharedcode/accessmgr"
)

// Direction selects which way Traverse walks edges.
type Direction int

const (
	// Forward walks leaf->non-leaf and non-leaf->non-leaf edges.
	Forward Direction = iota
	// Reverse walks the reverse indexes.
	Reverse
)

// Graph holds the two vertex sets and two edge sets. The four locks are
// acquired strictly in declaration order (leaf vertices, non-leaf vertices,
// leaf edges, non-leaf edges) to prevent deadlock; see lock.go. A graph
// created with threadSafe=false skips locking entirely and must be confined
// to a single goroutine (the validator's shadow store does this).
type Graph struct {
	locks lockSet

	leafVertices    map[string]struct{}
	nonLeafVertices map[string]struct{}

	// leaf -> set of non-leaf targets, plus reverse index.
	leafEdges        map[string]map[string]struct{}
	leafReverseEdges map[string]map[string]struct{}

	// non-leaf -> set of non-leaf targets, plus reverse index.
	nonLeafEdges        map[string]map[string]struct{}
	nonLeafReverseEdges map[string]map[string]struct{}
}

// New returns an empty graph. threadSafe enables the lock discipline; pass
// false only when the graph is owned by a single goroutine.
func New(threadSafe bool) *Graph {
	return &Graph{
		locks:               newLockSet(threadSafe),
		leafVertices:        map[string]struct{}{},
		nonLeafVertices:     map[string]struct{}{},
		leafEdges:           map[string]map[string]struct{}{},
		leafReverseEdges:    map[string]map[string]struct{}{},
		nonLeafEdges:        map[string]map[string]struct{}{},
		nonLeafReverseEdges: map[string]map[string]struct{}{},
	}
}

// AddLeaf adds a leaf vertex.
func (g *Graph) AddLeaf(id string) error {
	g.locks.lock(lockLeafVertices)
	defer g.locks.unlock(lockLeafVertices)

	if _, ok := g.leafVertices[id]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "leaf vertex already exists", id)
	}
	g.leafVertices[id] = struct{}{}
	return nil
}

// RemoveLeaf removes a leaf vertex and its outgoing edges.
func (g *Graph) RemoveLeaf(id string) error {
	g.locks.lock(lockLeafVertices, lockLeafEdges)
	defer g.locks.unlock(lockLeafVertices, lockLeafEdges)

	if _, ok := g.leafVertices[id]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "leaf vertex not found", id)
	}
	for to := range g.leafEdges[id] {
		delete(g.leafReverseEdges[to], id)
	}
	delete(g.leafEdges, id)
	delete(g.leafVertices, id)
	return nil
}

// AddNonLeaf adds a non-leaf vertex.
func (g *Graph) AddNonLeaf(id string) error {
	g.locks.lock(lockNonLeafVertices)
	defer g.locks.unlock(lockNonLeafVertices)

	if _, ok := g.nonLeafVertices[id]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "non-leaf vertex already exists", id)
	}
	g.nonLeafVertices[id] = struct{}{}
	return nil
}

// RemoveNonLeaf removes a non-leaf vertex and every edge referencing it.
// Acquires all four locks.
func (g *Graph) RemoveNonLeaf(id string) error {
	g.locks.lock(lockLeafVertices, lockNonLeafVertices, lockLeafEdges, lockNonLeafEdges)
	defer g.locks.unlock(lockLeafVertices, lockNonLeafVertices, lockLeafEdges, lockNonLeafEdges)

	if _, ok := g.nonLeafVertices[id]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "non-leaf vertex not found", id)
	}
	for from := range g.leafReverseEdges[id] {
		delete(g.leafEdges[from], id)
	}
	delete(g.leafReverseEdges, id)
	for from := range g.nonLeafReverseEdges[id] {
		delete(g.nonLeafEdges[from], id)
	}
	delete(g.nonLeafReverseEdges, id)
	for to := range g.nonLeafEdges[id] {
		delete(g.nonLeafReverseEdges[to], id)
	}
	delete(g.nonLeafEdges, id)
	delete(g.nonLeafVertices, id)
	return nil
}

// AddLeafToNonLeafEdge adds an edge from a leaf to a non-leaf vertex and
// maintains the reverse index atomically.
func (g *Graph) AddLeafToNonLeafEdge(from, to string) error {
	g.locks.lock(lockLeafVertices, lockNonLeafVertices, lockLeafEdges)
	defer g.locks.unlock(lockLeafVertices, lockNonLeafVertices, lockLeafEdges)

	if _, ok := g.leafVertices[from]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "leaf vertex not found", from)
	}
	if _, ok := g.nonLeafVertices[to]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "non-leaf vertex not found", to)
	}
	if _, ok := g.leafEdges[from][to]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "edge already exists", from, to)
	}
	addEdge(g.leafEdges, from, to)
	addEdge(g.leafReverseEdges, to, from)
	return nil
}

// RemoveLeafToNonLeafEdge removes a leaf to non-leaf edge.
func (g *Graph) RemoveLeafToNonLeafEdge(from, to string) error {
	g.locks.lock(lockLeafEdges)
	defer g.locks.unlock(lockLeafEdges)

	if _, ok := g.leafEdges[from][to]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "edge not found", from, to)
	}
	delete(g.leafEdges[from], to)
	delete(g.leafReverseEdges[to], from)
	return nil
}

// AddNonLeafToNonLeafEdge adds a non-leaf to non-leaf edge, rejecting any
// edge that would create a cycle (detected by DFS from the target seeking the
// source).
func (g *Graph) AddNonLeafToNonLeafEdge(from, to string) error {
	g.locks.lock(lockNonLeafVertices, lockNonLeafEdges)
	defer g.locks.unlock(lockNonLeafVertices, lockNonLeafEdges)

	if _, ok := g.nonLeafVertices[from]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "non-leaf vertex not found", from)
	}
	if _, ok := g.nonLeafVertices[to]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "non-leaf vertex not found", to)
	}
	if from == to {
		return accessmgr.NewError(accessmgr.ArgumentError, "edge would create a cycle", from, to)
	}
	if _, ok := g.nonLeafEdges[from][to]; ok {
		return accessmgr.NewError(accessmgr.AlreadyExistsError, "edge already exists", from, to)
	}
	if g.reachesLocked(to, from) {
		return accessmgr.NewError(accessmgr.ArgumentError, "edge would create a cycle", from, to)
	}
	addEdge(g.nonLeafEdges, from, to)
	addEdge(g.nonLeafReverseEdges, to, from)
	return nil
}

// RemoveNonLeafToNonLeafEdge removes a non-leaf to non-leaf edge.
func (g *Graph) RemoveNonLeafToNonLeafEdge(from, to string) error {
	g.locks.lock(lockNonLeafEdges)
	defer g.locks.unlock(lockNonLeafEdges)

	if _, ok := g.nonLeafEdges[from][to]; !ok {
		return accessmgr.NewError(accessmgr.NotFoundError, "edge not found", from, to)
	}
	delete(g.nonLeafEdges[from], to)
	delete(g.nonLeafReverseEdges[to], from)
	return nil
}

// ContainsLeaf reports whether the leaf vertex exists.
func (g *Graph) ContainsLeaf(id string) bool {
	g.locks.rlock(lockLeafVertices)
	defer g.locks.runlock(lockLeafVertices)
	_, ok := g.leafVertices[id]
	return ok
}

// ContainsNonLeaf reports whether the non-leaf vertex exists.
func (g *Graph) ContainsNonLeaf(id string) bool {
	g.locks.rlock(lockNonLeafVertices)
	defer g.locks.runlock(lockNonLeafVertices)
	_, ok := g.nonLeafVertices[id]
	return ok
}

// Leaves returns all leaf vertices.
func (g *Graph) Leaves() []string {
	g.locks.rlock(lockLeafVertices)
	defer g.locks.runlock(lockLeafVertices)
	return keys(g.leafVertices)
}

// NonLeaves returns all non-leaf vertices.
func (g *Graph) NonLeaves() []string {
	g.locks.rlock(lockNonLeafVertices)
	defer g.locks.runlock(lockNonLeafVertices)
	return keys(g.nonLeafVertices)
}

// GetLeafEdges returns the non-leaf targets of a leaf vertex.
func (g *Graph) GetLeafEdges(from string) []string {
	g.locks.rlock(lockLeafEdges)
	defer g.locks.runlock(lockLeafEdges)
	return keys(g.leafEdges[from])
}

// GetNonLeafEdges returns the non-leaf targets of a non-leaf vertex.
func (g *Graph) GetNonLeafEdges(from string) []string {
	g.locks.rlock(lockNonLeafEdges)
	defer g.locks.runlock(lockNonLeafEdges)
	return keys(g.nonLeafEdges[from])
}

// GetLeafReverseEdges returns the leaf vertices with an edge into nonLeaf.
func (g *Graph) GetLeafReverseEdges(nonLeaf string) []string {
	g.locks.rlock(lockLeafEdges)
	defer g.locks.runlock(lockLeafEdges)
	return keys(g.leafReverseEdges[nonLeaf])
}

// GetNonLeafReverseEdges returns the non-leaf vertices with an edge into
// nonLeaf.
func (g *Graph) GetNonLeafReverseEdges(nonLeaf string) []string {
	g.locks.rlock(lockNonLeafEdges)
	defer g.locks.runlock(lockNonLeafEdges)
	return keys(g.nonLeafReverseEdges[nonLeaf])
}

// reachesLocked reports whether target is reachable from start across
// non-leaf edges. Caller holds the non-leaf edge lock.
func (g *Graph) reachesLocked(start, target string) bool {
	visited := map[string]struct{}{}
	stack := []string{start}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if v == target {
			return true
		}
		if _, ok := visited[v]; ok {
			continue
		}
		visited[v] = struct{}{}
		for next := range g.nonLeafEdges[v] {
			stack = append(stack, next)
		}
	}
	return false
}

func addEdge(edges map[string]map[string]struct{}, from, to string) {
	m, ok := edges[from]
	if !ok {
		m = map[string]struct{}{}
		edges[from] = m
	}
	m[to] = struct{}{}
}

func keys(m map[string]struct{}) []string {
	r := make([]string, 0, len(m))
	for k := range m {
		r = append(r, k)
	}
	return r
}
