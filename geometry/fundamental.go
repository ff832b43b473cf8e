package geometry

import (
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// ComputeF21 estimates the fundamental matrix mapping points in frame 1 to
// epipolar lines in frame 2 from N >= 8 correspondences (normalized
// coordinates expected). It builds the N x 9 DLT matrix, reshapes the last
// right-singular vector to 3x3, then enforces rank 2 by zeroing the smallest
// singular value and reconstructing.
func ComputeF21(p1, p2 []r2.Point) *mat.Dense {
	n := len(p1)
	a := mat.NewDense(n, 9, nil)

	for i := 0; i < n; i++ {
		u1, v1 := p1[i].X, p1[i].Y
		u2, v2 := p2[i].X, p2[i].Y
		a.SetRow(i, []float64{u2 * u1, u2 * v1, u2, v2 * u1, v2 * v1, v2, u1, v1, 1})
	}

	svd1 := svdFull(a)
	if svd1 == nil {
		return nil
	}
	last := svd1.V.ColView(8)
	data := make([]float64, 9)
	for i := range data {
		data[i] = last.AtVec(i)
	}
	fPre := mat.NewDense(3, 3, data)

	svd2 := svdFull(fPre)
	if svd2 == nil {
		return nil
	}
	svd2.S.Set(2, 2, 0)

	var f mat.Dense
	f.Mul(svd2.U, svd2.S)
	f.Mul(&f, svd2.VT)
	return &f
}
