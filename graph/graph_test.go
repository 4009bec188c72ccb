package graph

import (
	"sort"
	"testing"

	"github.com/sharedcode/accessmgr"
)

func TestGraph_VertexLifecycle(t *testing.T) {
	g := New(true)

	if err := g.AddLeaf("u1"); err != nil {
		t.Fatalf("AddLeaf failed: %v", err)
	}
	if err := g.AddLeaf("u1"); accessmgr.CodeOf(err) != accessmgr.AlreadyExistsError {
		t.Errorf("duplicate AddLeaf returned %v, expected AlreadyExistsError", err)
	}
	if !g.ContainsLeaf("u1") {
		t.Errorf("ContainsLeaf returned false after add")
	}

	if err := g.AddNonLeaf("g1"); err != nil {
		t.Fatalf("AddNonLeaf failed: %v", err)
	}
	if err := g.RemoveLeaf("u2"); accessmgr.CodeOf(err) != accessmgr.NotFoundError {
		t.Errorf("RemoveLeaf of missing vertex returned %v, expected NotFoundError", err)
	}
	if err := g.RemoveLeaf("u1"); err != nil {
		t.Fatalf("RemoveLeaf failed: %v", err)
	}
	if g.ContainsLeaf("u1") {
		t.Errorf("ContainsLeaf returned true after remove")
	}
}

func TestGraph_EdgesAndReverseIndexes(t *testing.T) {
	g := New(true)
	for _, u := range []string{"u1", "u2"} {
		if err := g.AddLeaf(u); err != nil {
			t.Fatalf("AddLeaf(%s) failed: %v", u, err)
		}
	}
	for _, gr := range []string{"g1", "g2"} {
		if err := g.AddNonLeaf(gr); err != nil {
			t.Fatalf("AddNonLeaf(%s) failed: %v", gr, err)
		}
	}

	if err := g.AddLeafToNonLeafEdge("u1", "g1"); err != nil {
		t.Fatalf("AddLeafToNonLeafEdge failed: %v", err)
	}
	if err := g.AddLeafToNonLeafEdge("u2", "g1"); err != nil {
		t.Fatalf("AddLeafToNonLeafEdge failed: %v", err)
	}
	if err := g.AddLeafToNonLeafEdge("u1", "g1"); accessmgr.CodeOf(err) != accessmgr.AlreadyExistsError {
		t.Errorf("duplicate edge returned %v, expected AlreadyExistsError", err)
	}
	if err := g.AddLeafToNonLeafEdge("u9", "g1"); accessmgr.CodeOf(err) != accessmgr.NotFoundError {
		t.Errorf("edge from missing leaf returned %v, expected NotFoundError", err)
	}

	got := g.GetLeafReverseEdges("g1")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Errorf("GetLeafReverseEdges returned %v, expected [u1 u2]", got)
	}

	if err := g.AddNonLeafToNonLeafEdge("g1", "g2"); err != nil {
		t.Fatalf("AddNonLeafToNonLeafEdge failed: %v", err)
	}
	if r := g.GetNonLeafReverseEdges("g2"); len(r) != 1 || r[0] != "g1" {
		t.Errorf("GetNonLeafReverseEdges returned %v, expected [g1]", r)
	}

	if err := g.RemoveLeafToNonLeafEdge("u1", "g1"); err != nil {
		t.Fatalf("RemoveLeafToNonLeafEdge failed: %v", err)
	}
	if r := g.GetLeafReverseEdges("g1"); len(r) != 1 || r[0] != "u2" {
		t.Errorf("reverse index after edge remove returned %v, expected [u2]", r)
	}
}

func TestGraph_RemoveNonLeafDropsReferencingEdges(t *testing.T) {
	g := New(true)
	g.AddLeaf("u1")
	g.AddNonLeaf("g1")
	g.AddNonLeaf("g2")
	g.AddNonLeaf("g3")
	g.AddLeafToNonLeafEdge("u1", "g2")
	g.AddNonLeafToNonLeafEdge("g1", "g2")
	g.AddNonLeafToNonLeafEdge("g2", "g3")

	if err := g.RemoveNonLeaf("g2"); err != nil {
		t.Fatalf("RemoveNonLeaf failed: %v", err)
	}
	if e := g.GetLeafEdges("u1"); len(e) != 0 {
		t.Errorf("leaf edge to removed vertex survived: %v", e)
	}
	if e := g.GetNonLeafEdges("g1"); len(e) != 0 {
		t.Errorf("non-leaf edge to removed vertex survived: %v", e)
	}
	if e := g.GetNonLeafReverseEdges("g3"); len(e) != 0 {
		t.Errorf("reverse index entry of removed vertex survived: %v", e)
	}
}

func TestGraph_CycleRejection(t *testing.T) {
	g := New(true)
	for _, gr := range []string{"g1", "g2", "g3"} {
		g.AddNonLeaf(gr)
	}
	if err := g.AddNonLeafToNonLeafEdge("g1", "g2"); err != nil {
		t.Fatalf("AddNonLeafToNonLeafEdge failed: %v", err)
	}
	if err := g.AddNonLeafToNonLeafEdge("g2", "g3"); err != nil {
		t.Fatalf("AddNonLeafToNonLeafEdge failed: %v", err)
	}
	err := g.AddNonLeafToNonLeafEdge("g3", "g1")
	if accessmgr.CodeOf(err) != accessmgr.ArgumentError {
		t.Fatalf("closing edge returned %v, expected ArgumentError", err)
	}
	// Self edge is the degenerate cycle.
	if err := g.AddNonLeafToNonLeafEdge("g1", "g1"); accessmgr.CodeOf(err) != accessmgr.ArgumentError {
		t.Errorf("self edge returned %v, expected ArgumentError", err)
	}
	// The non-closing direction must still be fine.
	g.AddNonLeaf("g4")
	if err := g.AddNonLeafToNonLeafEdge("g1", "g4"); err != nil {
		t.Errorf("non-cyclic edge rejected: %v", err)
	}
}

func TestGraph_Traverse(t *testing.T) {
	g := New(true)
	g.AddLeaf("u1")
	for _, gr := range []string{"g1", "g2", "g3"} {
		g.AddNonLeaf(gr)
	}
	g.AddLeafToNonLeafEdge("u1", "g1")
	g.AddNonLeafToNonLeafEdge("g1", "g2")
	g.AddNonLeafToNonLeafEdge("g2", "g3")

	var forward []string
	g.Traverse("u1", Forward, func(v string) bool {
		forward = append(forward, v)
		return true
	})
	sort.Strings(forward)
	if len(forward) != 3 || forward[0] != "g1" || forward[1] != "g2" || forward[2] != "g3" {
		t.Errorf("forward traversal returned %v, expected [g1 g2 g3]", forward)
	}

	var reverse []string
	g.Traverse("g3", Reverse, func(v string) bool {
		reverse = append(reverse, v)
		return true
	})
	sort.Strings(reverse)
	if len(reverse) != 3 || reverse[0] != "g1" || reverse[1] != "g2" || reverse[2] != "u1" {
		t.Errorf("reverse traversal returned %v, expected [g1 g2 u1]", reverse)
	}

	// Early stop after the first visit.
	count := 0
	g.Traverse("u1", Forward, func(v string) bool {
		count++
		return false
	})
	if count != 1 {
		t.Errorf("visitor called %d times after early stop, expected 1", count)
	}
}
