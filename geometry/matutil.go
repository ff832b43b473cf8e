package geometry

import (
	"gonum.org/v1/gonum/mat"
)

// svdResult mirrors rimage/transform's matsSVD: the U, V, V^T and diagonal
// Sigma matrices of a full SVD factorization.
type svdResult struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
}

// svdFull performs a full SVD and returns nil if the factorization fails
// (degenerate input). Grounded on rimage/transform/two_view_geom.go::performSVD.
func svdFull(m *mat.Dense) *svdResult {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return nil
	}

	u, v, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())

	values := svd.Values(nil)
	s := mat.NewDense(len(values), len(values), nil)
	s.CloneFrom(mat.NewDiagDense(len(values), values))

	return &svdResult{U: u, V: v, VT: vt, S: s}
}

func transposeDense(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(c, r, nil)
	out.Copy(m.T())
	return out
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// SkewSymmetric returns the 3x3 skew-symmetric cross-product matrix [v]x
// such that [v]x * w == v.Cross(w).
func SkewSymmetric(x, y, z float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -z, y,
		z, 0, -x,
		-y, x, 0,
	})
}
