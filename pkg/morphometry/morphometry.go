// Package morphometry computes numeric shape descriptors for a validated
// dendrite tree: a fixed-size geometric moment invariant (GMI) vector and a
// variable-size set of L-measure style morphometric features.
//
// Both computations require a tree with exactly one root and exactly one soma
// and only consider nodes reachable from that root. Disconnected fragments
// left behind by filtering are ignored.
package morphometry

import (
	"errors"
	"fmt"
	"math"

	"morphfeatures/internal/models"
	"morphfeatures/pkg/morphology"
)

// ErrPrecondition is wrapped by ComputationError when the tree does not have a
// single root and a single soma.
var ErrPrecondition = errors.New("tree must have exactly one root and one soma")

// ComputationError reports a failure inside one of the feature computations.
type ComputationError struct {
	Stage string
	Err   error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("compute %s: %v", e.Stage, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

const (
	stageInvariants    = "invariants"
	stageMorphometrics = "morphometrics"
)

// Calculator is the default metrics engine.
type Calculator struct{}

// NewCalculator returns a ready to use Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// ComputeInvariants returns the GMI vector gmi_1..gmi_10 for t.
func (c *Calculator) ComputeInvariants(t *morphology.Tree) (models.FeatureMap, error) {
	w, err := walkTree(t)
	if err != nil {
		return nil, &ComputationError{Stage: stageInvariants, Err: err}
	}
	values := momentInvariants(w.positions())
	out := make(models.FeatureMap, len(values))
	for i, v := range values {
		out[fmt.Sprintf("gmi_%d", i+1)] = v
	}
	if err := checkFinite(out); err != nil {
		return nil, &ComputationError{Stage: stageInvariants, Err: err}
	}
	return out, nil
}

// ComputeMorphometrics returns the morphometric feature vector for t.
// Averages that are undefined for the given tree (for example bifurcation
// angles of an unbranched tree) are omitted rather than reported as zero.
func (c *Calculator) ComputeMorphometrics(t *morphology.Tree) (models.FeatureMap, error) {
	w, err := walkTree(t)
	if err != nil {
		return nil, &ComputationError{Stage: stageMorphometrics, Err: err}
	}
	out := morphometrics(t, w)
	if err := checkFinite(out); err != nil {
		return nil, &ComputationError{Stage: stageMorphometrics, Err: err}
	}
	return out, nil
}

func checkFinite(m models.FeatureMap) error {
	for name, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature %q is not finite", name)
		}
	}
	return nil
}

// visit is one reachable node with its position along the root path.
type visit struct {
	node     models.Node
	pathDist float64
	order    int
}

type walk struct {
	root   models.Node
	visits []visit
}

func (w *walk) positions() [][3]float64 {
	out := make([][3]float64, len(w.visits))
	for i, v := range w.visits {
		out[i] = [3]float64{v.node.Position.X, v.node.Position.Y, v.node.Position.Z}
	}
	return out
}

// walkTree visits the nodes reachable from the single root depth first,
// children in ascending id order.
func walkTree(t *morphology.Tree) (*walk, error) {
	if t.RootCount() != 1 || t.SomaCount() != 1 {
		return nil, ErrPrecondition
	}
	root, _ := t.Root()
	w := &walk{root: root}
	stack := []visit{{node: root}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		w.visits = append(w.visits, cur)

		kids := t.Children(cur.node.ID)
		order := cur.order
		if len(kids) > 1 && !cur.node.IsRoot() {
			order++
		}
		for i := len(kids) - 1; i >= 0; i-- {
			child, _ := t.Node(kids[i])
			stack = append(stack, visit{
				node:     child,
				pathDist: cur.pathDist + segmentLength(child, cur.node),
				order:    order,
			})
		}
	}
	return w, nil
}
