package morphometry

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"morphfeatures/internal/models"
	"morphfeatures/pkg/morphology"
)

// Morphometric feature names.
const (
	FeatureNodes              = "num_nodes"
	FeatureSomaSurface        = "soma_surface"
	FeatureStems              = "num_stems"
	FeatureBifurcations       = "num_bifurcations"
	FeatureBranches           = "num_branches"
	FeatureTips               = "num_tips"
	FeatureWidth              = "overall_width"
	FeatureHeight             = "overall_height"
	FeatureDepth              = "overall_depth"
	FeatureAverageDiameter    = "average_diameter"
	FeatureTotalLength        = "total_length"
	FeatureTotalSurface       = "total_surface"
	FeatureTotalVolume        = "total_volume"
	FeatureMaxEuclidean       = "max_euclidean_distance"
	FeatureMaxPath            = "max_path_distance"
	FeatureMaxBranchOrder     = "max_branch_order"
	FeatureAverageContraction = "average_contraction"
	FeatureBifAngleLocal      = "average_bifurcation_angle_local"
	FeatureBifAngleRemote     = "average_bifurcation_angle_remote"
)

func segmentLength(a, b models.Node) float64 {
	return r3.Norm(r3.Sub(a.Position, b.Position))
}

// angle returns the angle between a and b in degrees.
func angle(a, b r3.Vec) float64 {
	if r3.Norm(a) == 0 || r3.Norm(b) == 0 {
		return 0
	}
	cos := math.Max(-1, math.Min(1, r3.Cos(a, b)))
	return math.Acos(cos) * 180 / math.Pi
}

// branch is an unbranched run from a branch point (or the root) to the next
// bifurcation or tip.
type branch struct {
	start, first, end models.Node
	pathLength        float64
}

// traceBranch follows the single-child chain starting at child of start.
func traceBranch(t *morphology.Tree, start, child models.Node) branch {
	b := branch{start: start, first: child, pathLength: segmentLength(child, start)}
	cur := child
	for {
		kids := t.Children(cur.ID)
		if len(kids) != 1 {
			break
		}
		next, _ := t.Node(kids[0])
		b.pathLength += segmentLength(next, cur)
		cur = next
	}
	b.end = cur
	return b
}

func morphometrics(t *morphology.Tree, w *walk) models.FeatureMap {
	n := len(w.visits)
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	diameters := make([]float64, n)

	var (
		tips, bifurcations, maxOrder  int
		length, surface, volume       float64
		maxEuclidean, maxPath         float64
		contractions, locals, remotes []float64
		branches                      int
	)
	for i, v := range w.visits {
		nd := v.node
		xs[i], ys[i], zs[i] = nd.Position.X, nd.Position.Y, nd.Position.Z
		diameters[i] = 2 * nd.Radius
		maxEuclidean = math.Max(maxEuclidean, segmentLength(nd, w.root))
		maxPath = math.Max(maxPath, v.pathDist)
		if v.order > maxOrder {
			maxOrder = v.order
		}

		kids := t.Children(nd.ID)
		if !nd.IsRoot() {
			if parent, ok := t.Parent(nd.ID); ok {
				l := segmentLength(nd, parent)
				length += l
				surface += 2 * math.Pi * nd.Radius * l
				volume += math.Pi * nd.Radius * nd.Radius * l
			}
			switch {
			case len(kids) == 0:
				tips++
			case len(kids) > 1:
				bifurcations++
			}
		}
		if len(kids) == 1 && !nd.IsRoot() {
			continue
		}

		// nd starts one branch per child
		var traced []branch
		for _, id := range kids {
			child, _ := t.Node(id)
			b := traceBranch(t, nd, child)
			traced = append(traced, b)
			branches++
			if b.pathLength > 0 {
				contractions = append(contractions, segmentLength(b.end, b.start)/b.pathLength)
			}
		}
		if len(traced) > 1 && !nd.IsRoot() {
			a, b := traced[0], traced[1]
			localA := r3.Sub(a.first.Position, nd.Position)
			localB := r3.Sub(b.first.Position, nd.Position)
			locals = append(locals, angle(localA, localB))
			remoteA := r3.Sub(a.end.Position, nd.Position)
			remoteB := r3.Sub(b.end.Position, nd.Position)
			remotes = append(remotes, angle(remoteA, remoteB))
		}
	}

	out := models.FeatureMap{
		FeatureNodes:           float64(n),
		FeatureStems:           float64(len(t.Children(w.root.ID))),
		FeatureBifurcations:    float64(bifurcations),
		FeatureBranches:        float64(branches),
		FeatureTips:            float64(tips),
		FeatureWidth:           floats.Max(xs) - floats.Min(xs),
		FeatureHeight:          floats.Max(ys) - floats.Min(ys),
		FeatureDepth:           floats.Max(zs) - floats.Min(zs),
		FeatureAverageDiameter: stat.Mean(diameters, nil),
		FeatureTotalLength:     length,
		FeatureTotalSurface:    surface,
		FeatureTotalVolume:     volume,
		FeatureMaxEuclidean:    maxEuclidean,
		FeatureMaxPath:         maxPath,
		FeatureMaxBranchOrder:  float64(maxOrder),
	}
	if w.root.Type == models.Soma {
		out[FeatureSomaSurface] = 4 * math.Pi * w.root.Radius * w.root.Radius
	}
	if len(contractions) > 0 {
		out[FeatureAverageContraction] = stat.Mean(contractions, nil)
	}
	if len(locals) > 0 {
		out[FeatureBifAngleLocal] = stat.Mean(locals, nil)
		out[FeatureBifAngleRemote] = stat.Mean(remotes, nil)
	}
	return out
}
