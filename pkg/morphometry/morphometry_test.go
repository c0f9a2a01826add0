package morphometry

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"morphfeatures/internal/models"
	"morphfeatures/pkg/morphology"
)

const tol = 1e-9

func pt(id int, c models.CompartmentType, parent int, x, y, z, r float64) models.Node {
	return models.Node{ID: id, Type: c, ParentID: parent, Position: r3.Vec{X: x, Y: y, Z: z}, Radius: r}
}

// forkTree is a soma with a single stem that bifurcates at (20,0,0).
func forkTree(t *testing.T) *morphology.Tree {
	t.Helper()
	tree, err := morphology.Build([]models.Node{
		pt(1, models.Soma, models.NoParent, 0, 0, 0, 2),
		pt(2, models.BasalDendrite, 1, 10, 0, 0, 1),
		pt(3, models.BasalDendrite, 2, 20, 0, 0, 1),
		pt(4, models.BasalDendrite, 3, 20, 10, 0, 1),
		pt(5, models.BasalDendrite, 3, 30, 0, 0, 1),
	})
	require.NoError(t, err)
	return tree
}

func TestComputeMorphometrics(t *testing.T) {
	c := NewCalculator()

	t.Run("forked tree", func(t *testing.T) {
		got, err := c.ComputeMorphometrics(forkTree(t))
		require.NoError(t, err)

		want := map[string]float64{
			FeatureNodes:              5,
			FeatureSomaSurface:        16 * math.Pi,
			FeatureStems:              1,
			FeatureBifurcations:       1,
			FeatureBranches:           3,
			FeatureTips:               2,
			FeatureWidth:              30,
			FeatureHeight:             10,
			FeatureDepth:              0,
			FeatureAverageDiameter:    2.4,
			FeatureTotalLength:        40,
			FeatureTotalSurface:       80 * math.Pi,
			FeatureTotalVolume:        40 * math.Pi,
			FeatureMaxEuclidean:       30,
			FeatureMaxPath:            30,
			FeatureMaxBranchOrder:     1,
			FeatureAverageContraction: 1,
			FeatureBifAngleLocal:      90,
			FeatureBifAngleRemote:     90,
		}
		assert.Len(t, got, len(want))
		for name, v := range want {
			assert.InDelta(t, v, got[name], tol, name)
		}
	})

	t.Run("unbranched tree omits angle averages", func(t *testing.T) {
		tree, err := morphology.Build([]models.Node{
			pt(1, models.Soma, models.NoParent, 0, 0, 0, 1),
			pt(2, models.ApicalDendrite, 1, 0, 3, 4, 1),
			pt(3, models.ApicalDendrite, 2, 0, 3, 10, 1),
		})
		require.NoError(t, err)
		got, err := c.ComputeMorphometrics(tree)
		require.NoError(t, err)
		assert.NotContains(t, got, FeatureBifAngleLocal)
		assert.NotContains(t, got, FeatureBifAngleRemote)
		assert.InDelta(t, 11, got[FeatureTotalLength], tol)
		assert.InDelta(t, math.Sqrt(9+100)/11, got[FeatureAverageContraction], tol)
		assert.Equal(t, 1.0, got[FeatureTips])
	})

	t.Run("soma only", func(t *testing.T) {
		tree, err := morphology.Build([]models.Node{pt(1, models.Soma, models.NoParent, 1, 2, 3, 1)})
		require.NoError(t, err)
		got, err := c.ComputeMorphometrics(tree)
		require.NoError(t, err)
		assert.Equal(t, 1.0, got[FeatureNodes])
		assert.Zero(t, got[FeatureTotalLength])
		assert.NotContains(t, got, FeatureAverageContraction)
	})

	t.Run("fragments are ignored", func(t *testing.T) {
		pruned := morphology.FilterAndRehash(forkTree(t), func(n models.Node) bool { return n.ID != 3 })
		require.Equal(t, 2, pruned.OrphanCount())
		got, err := c.ComputeMorphometrics(pruned)
		require.NoError(t, err)
		assert.Equal(t, 2.0, got[FeatureNodes])
		assert.InDelta(t, 10, got[FeatureTotalLength], tol)
	})

	t.Run("non-finite radius", func(t *testing.T) {
		tree, err := morphology.Build([]models.Node{
			pt(1, models.Soma, models.NoParent, 0, 0, 0, 1),
			pt(2, models.BasalDendrite, 1, 1, 0, 0, math.Inf(1)),
		})
		require.NoError(t, err)
		_, err = c.ComputeMorphometrics(tree)
		var ce *ComputationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "morphometrics", ce.Stage)
	})
}

func TestComputeInvariants(t *testing.T) {
	c := NewCalculator()

	t.Run("fixed size", func(t *testing.T) {
		got, err := c.ComputeInvariants(forkTree(t))
		require.NoError(t, err)
		require.Len(t, got, InvariantCount)
		for i := 1; i <= InvariantCount; i++ {
			assert.Contains(t, got, fmt.Sprintf("gmi_%d", i))
		}
		assert.Equal(t, 5.0, got["gmi_1"])
		assert.GreaterOrEqual(t, got["gmi_5"], got["gmi_6"])
		assert.GreaterOrEqual(t, got["gmi_6"], got["gmi_7"])
		assert.InDelta(t, got["gmi_2"], got["gmi_5"]+got["gmi_6"]+got["gmi_7"], 1e-6)
	})

	t.Run("segment on an axis", func(t *testing.T) {
		tree, err := morphology.Build([]models.Node{
			pt(1, models.Soma, models.NoParent, -1, 0, 0, 1),
			pt(2, models.BasalDendrite, 1, 1, 0, 0, 1),
		})
		require.NoError(t, err)
		got, err := c.ComputeInvariants(tree)
		require.NoError(t, err)
		want := []float64{2, 1, 0, 0, 1, 0, 0, 0, 0, 1}
		for i, v := range want {
			assert.InDelta(t, v, got[fmt.Sprintf("gmi_%d", i+1)], tol, "gmi_%d", i+1)
		}
	})

	t.Run("single node", func(t *testing.T) {
		tree, err := morphology.Build([]models.Node{pt(1, models.Soma, models.NoParent, 4, 5, 6, 1)})
		require.NoError(t, err)
		got, err := c.ComputeInvariants(tree)
		require.NoError(t, err)
		assert.Equal(t, 1.0, got["gmi_1"])
		for i := 2; i <= InvariantCount; i++ {
			assert.InDelta(t, 0, got[fmt.Sprintf("gmi_%d", i)], tol)
		}
	})

	t.Run("rotation invariant", func(t *testing.T) {
		base := forkTree(t)
		rotated := make([]models.Node, 0, base.Len())
		// quarter turn about z followed by a translation
		for _, n := range base.Nodes() {
			p := n.Position
			n.Position = r3.Vec{X: -p.Y + 7, Y: p.X - 3, Z: p.Z + 1}
			rotated = append(rotated, n)
		}
		rt, err := morphology.Build(rotated)
		require.NoError(t, err)

		a, err := c.ComputeInvariants(base)
		require.NoError(t, err)
		b, err := c.ComputeInvariants(rt)
		require.NoError(t, err)
		for name, v := range a {
			assert.InDelta(t, v, b[name], 1e-6, name)
		}
	})
}

func TestPrecondition(t *testing.T) {
	tree, err := morphology.Build([]models.Node{
		pt(1, models.Soma, models.NoParent, 0, 0, 0, 1),
		pt(2, models.BasalDendrite, models.NoParent, 1, 0, 0, 1),
	})
	require.NoError(t, err)

	c := NewCalculator()
	_, err = c.ComputeInvariants(tree)
	assert.ErrorIs(t, err, ErrPrecondition)
	_, err = c.ComputeMorphometrics(tree)
	assert.ErrorIs(t, err, ErrPrecondition)
}
