package morphology

import (
	"morphfeatures/internal/models"
)

// Predicate decides whether a node survives a filter.
type Predicate func(models.Node) bool

// OfType keeps nodes of any of the listed compartment types.
func OfType(types ...models.CompartmentType) Predicate {
	return func(n models.Node) bool {
		for _, c := range types {
			if n.Type == c {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(n models.Node) bool { return !p(n) }
}

// All keeps every node.
func All(models.Node) bool { return true }

// FilterAndRehash returns a new tree holding the nodes of t that satisfy keep,
// with adjacency and counters recomputed over the survivors. Children of a
// removed node are not reparented; they stay in the result with a dangling
// parent reference. t itself is left untouched.
func FilterAndRehash(t *Tree, keep Predicate) *Tree {
	out := &Tree{
		order: make([]int, 0, len(t.order)),
		nodes: make(map[int]models.Node, len(t.order)),
	}
	for _, id := range t.order {
		n := t.nodes[id]
		if !keep(n) {
			continue
		}
		out.order = append(out.order, id)
		out.nodes[id] = n
	}
	out.rehash()
	return out
}
