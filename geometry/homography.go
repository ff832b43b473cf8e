package geometry

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// ComputeH21 estimates the homography mapping points in frame 1 to frame 2
// from N >= 4 correspondences (normalized coordinates expected). It builds
// the 2N x 9 DLT matrix and returns the reshaped last right-singular vector.
func ComputeH21(p1, p2 []r2.Point) *mat.Dense {
	n := len(p1)
	a := mat.NewDense(2*n, 9, nil)

	for i := 0; i < n; i++ {
		u1, v1 := p1[i].X, p1[i].Y
		u2, v2 := p2[i].X, p2[i].Y

		a.SetRow(2*i, []float64{0, 0, 0, -u1, -v1, -1, v2 * u1, v2 * v1, v2})
		a.SetRow(2*i+1, []float64{u1, v1, 1, 0, 0, 0, -u2 * u1, -u2 * v1, -u2})
	}

	svd := svdFull(a)
	if svd == nil {
		return nil
	}
	last := svd.V.ColView(8)
	data := make([]float64, 9)
	for i := range data {
		data[i] = last.AtVec(i)
	}
	return mat.NewDense(3, 3, data)
}
