// Package morphology holds the typed node tree built from a neuron
// reconstruction, the batch filter that derives sub-trees from it, and the
// validator that gates trees before feature computation.
package morphology

import (
	"fmt"
	"sort"

	"morphfeatures/internal/models"
)

// MalformedTreeError reports node data that cannot form a tree.
type MalformedTreeError struct {
	NodeID int
	Reason string
}

func (e *MalformedTreeError) Error() string {
	return fmt.Sprintf("malformed tree: node %d: %s", e.NodeID, e.Reason)
}

// Tree is an ordered set of active nodes with derived adjacency and counters.
// The derived state is only ever recomputed as a whole by rehash; there is no
// per-node removal.
type Tree struct {
	order []int
	nodes map[int]models.Node

	children map[int][]int
	roots    int
	orphans  int
	byType   map[models.CompartmentType]int
}

// Build constructs a tree from nodes in parse order. Every non-root parent
// reference must name a node in the sequence.
func Build(nodes []models.Node) (*Tree, error) {
	t := &Tree{
		order: make([]int, 0, len(nodes)),
		nodes: make(map[int]models.Node, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := t.nodes[n.ID]; dup {
			return nil, &MalformedTreeError{NodeID: n.ID, Reason: "duplicate id"}
		}
		t.order = append(t.order, n.ID)
		t.nodes[n.ID] = n
	}
	for _, id := range t.order {
		n := t.nodes[id]
		if n.IsRoot() {
			continue
		}
		if _, ok := t.nodes[n.ParentID]; !ok {
			return nil, &MalformedTreeError{
				NodeID: id,
				Reason: fmt.Sprintf("parent %d does not exist", n.ParentID),
			}
		}
	}
	t.rehash()
	return t, nil
}

// rehash recomputes adjacency and counters from the active set, visiting
// nodes in ascending id order. A node whose parent is no longer active keeps
// its dangling reference and is counted as an orphan, never as a root.
func (t *Tree) rehash() {
	ids := make([]int, len(t.order))
	copy(ids, t.order)
	sort.Ints(ids)

	t.children = make(map[int][]int)
	t.byType = make(map[models.CompartmentType]int)
	t.roots = 0
	t.orphans = 0
	for _, id := range ids {
		n := t.nodes[id]
		t.byType[n.Type]++
		switch {
		case n.IsRoot():
			t.roots++
		case t.has(n.ParentID):
			t.children[n.ParentID] = append(t.children[n.ParentID], id)
		default:
			t.orphans++
		}
	}
}

func (t *Tree) has(id int) bool {
	_, ok := t.nodes[id]
	return ok
}

// Len returns the number of active nodes.
func (t *Tree) Len() int { return len(t.order) }

// RootCount returns the number of active nodes carrying the root sentinel.
func (t *Tree) RootCount() int { return t.roots }

// SomaCount returns the number of active soma nodes.
func (t *Tree) SomaCount() int { return t.byType[models.Soma] }

// CountOfType returns the number of active nodes of compartment type c.
func (t *Tree) CountOfType(c models.CompartmentType) int { return t.byType[c] }

// OrphanCount returns the number of active nodes whose parent was filtered
// away.
func (t *Tree) OrphanCount() int { return t.orphans }

// Node returns the active node with the given id.
func (t *Tree) Node(id int) (models.Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Parent returns the active parent of node id, if there is one.
func (t *Tree) Parent(id int) (models.Node, bool) {
	n, ok := t.nodes[id]
	if !ok || n.IsRoot() {
		return models.Node{}, false
	}
	return t.Node(n.ParentID)
}

// Children returns the ids of the active children of node id in ascending
// order. The returned slice must not be modified.
func (t *Tree) Children(id int) []int { return t.children[id] }

// Nodes returns the active nodes in parse order.
func (t *Tree) Nodes() []models.Node {
	out := make([]models.Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

// Root returns the first root node in parse order.
func (t *Tree) Root() (models.Node, bool) {
	for _, id := range t.order {
		if n := t.nodes[id]; n.IsRoot() {
			return n, true
		}
	}
	return models.Node{}, false
}
