package morphometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// InvariantCount is the fixed length of the GMI vector.
const InvariantCount = 10

// momentInvariants derives rotation invariants of the second-order central
// moment tensor of the point cloud:
//
//	gmi_1   point count
//	gmi_2-4 J1, J2, J3 (trace, sum of principal minors, determinant)
//	gmi_5-7 principal moments, largest first
//	gmi_8-9 J2/J1^2 and J3/J1^3, zero for a degenerate cloud
//	gmi_10  radius of gyration
func momentInvariants(points [][3]float64) []float64 {
	out := make([]float64, InvariantCount)
	n := len(points)
	out[0] = float64(n)
	if n == 0 {
		return out
	}

	cols := make([][]float64, 3)
	for axis := range cols {
		cols[axis] = make([]float64, n)
		for i, p := range points {
			cols[axis][i] = p[axis]
		}
	}
	m := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			m.SetSym(i, j, populationCovariance(cols[i], cols[j]))
		}
	}

	j1 := m.At(0, 0) + m.At(1, 1) + m.At(2, 2)
	j2 := m.At(0, 0)*m.At(1, 1) + m.At(0, 0)*m.At(2, 2) + m.At(1, 1)*m.At(2, 2) -
		m.At(0, 1)*m.At(0, 1) - m.At(0, 2)*m.At(0, 2) - m.At(1, 2)*m.At(1, 2)
	j3 := mat.Det(m)
	out[1], out[2], out[3] = j1, j2, j3

	var eig mat.EigenSym
	if eig.Factorize(m, false) {
		vals := eig.Values(nil)
		// Values are ascending.
		out[4], out[5], out[6] = vals[2], vals[1], vals[0]
	}
	if j1 > 0 {
		out[7] = j2 / (j1 * j1)
		out[8] = j3 / (j1 * j1 * j1)
	}
	out[9] = math.Sqrt(math.Max(j1, 0))
	return out
}

// populationCovariance is the covariance normalised by n rather than n-1, so
// that a single point yields a zero tensor.
func populationCovariance(x, y []float64) float64 {
	n := float64(len(x))
	if n < 2 {
		return 0
	}
	return stat.Covariance(x, y, nil) * (n - 1) / n
}
