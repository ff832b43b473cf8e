package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// DecomposeE decomposes an essential matrix into the two possible rotations
// and the (up-to-scale, unit-norm) translation direction between two views.
// The caller enumerates the four (R, t) sign combinations.
func DecomposeE(e *mat.Dense) (r1, r2, t *mat.Dense) {
	svd := svdFull(e)
	if svd == nil {
		return nil, nil, nil
	}

	u3 := svd.U.ColView(2)
	tVec := mat.NewDense(3, 1, []float64{u3.AtVec(0), u3.AtVec(1), u3.AtVec(2)})
	norm := mat.Norm(tVec, 2)
	tVec.Scale(1/norm, tVec)

	w := mat.NewDense(3, 3, nil)
	w.Set(0, 1, -1)
	w.Set(1, 0, 1)
	w.Set(2, 2, 1)

	var rr1, rr2 mat.Dense
	rr1.Mul(svd.U, w)
	rr1.Mul(&rr1, svd.VT)
	if mat.Det(&rr1) < 0 {
		rr1.Scale(-1, &rr1)
	}

	rr2.Mul(svd.U, transposeDense(w))
	rr2.Mul(&rr2, svd.VT)
	if mat.Det(&rr2) < 0 {
		rr2.Scale(-1, &rr2)
	}

	return &rr1, &rr2, tVec
}

// HomographyDecomposition is one of up to eight (R, t, n) hypotheses produced
// by DecomposeH.
type HomographyDecomposition struct {
	R *mat.Dense
	T *mat.Dense
	N *mat.Dense
}

// DecomposeH decomposes a homography (mapping pixel coordinates, i.e. not
// yet preconditioned by K) into up to eight (R, t, n) hypotheses
// following Faugeras 1988. Returns nil if the homography is degenerate
// (two singular values of the K-preconditioned homography are too close
// together to disambiguate).
func DecomposeH(h, k *mat.Dense) []HomographyDecomposition {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil
	}

	var a mat.Dense
	a.Mul(&kInv, h)
	a.Mul(&a, k)

	svd := svdFull(&a)
	if svd == nil {
		return nil
	}
	d1, d2, d3 := svd.S.At(0, 0), svd.S.At(1, 1), svd.S.At(2, 2)

	const eps = 1.00001
	if d1/d2 < eps || d2/d3 < eps {
		return nil
	}

	detU := mat.Det(svd.U)
	detV := mat.Det(svd.V)
	s := detU * detV

	hyps := make([]HomographyDecomposition, 0, 8)

	// Case d' = d2 (two sign choices for e1, e3 produce two hypotheses per
	// branch before doubling for +-).
	aux1 := math.Sqrt((d1*d1 - d2*d2) / (d1*d1 - d3*d3))
	aux3 := math.Sqrt((d2*d2 - d3*d3) / (d1*d1 - d3*d3))
	x1s := []float64{aux1, aux1, -aux1, -aux1}
	x3s := []float64{aux3, -aux3, aux3, -aux3}

	auxSinTheta := math.Sqrt((d1*d1-d2*d2)*(d2*d2-d3*d3)) / ((d1 + d3) * d2)
	cosTheta := (d2*d2 + d1*d3) / ((d1 + d3) * d2)
	sinThetas := []float64{auxSinTheta, -auxSinTheta, -auxSinTheta, auxSinTheta}

	for i := 0; i < 4; i++ {
		rp := mat.NewDense(3, 3, nil)
		rp.Set(0, 0, cosTheta)
		rp.Set(0, 2, -sinThetas[i])
		rp.Set(1, 1, 1)
		rp.Set(2, 0, sinThetas[i])
		rp.Set(2, 2, cosTheta)

		var r mat.Dense
		r.Mul(svd.U, rp)
		r.Mul(&r, transposeDense(svd.V))
		r.Scale(s, &r)

		np := mat.NewDense(3, 1, []float64{x1s[i], 0, x3s[i]})
		var n mat.Dense
		n.Mul(svd.V, np)
		if n.At(2, 0) < 0 {
			n.Scale(-1, &n)
			np.Scale(-1, np)
		}

		tp := mat.NewDense(3, 1, []float64{x1s[i], 0, -x3s[i]})
		tp.Scale(d1-d3, tp)

		var t mat.Dense
		t.Mul(svd.U, tp)
		t.Scale(1.0/d2, &t)

		hyps = append(hyps, HomographyDecomposition{R: &r, T: &t, N: &n})
	}

	// Case d' = -d2.
	cosPhi := (d1*d3 - d2*d2) / ((d1 - d3) * d2)
	auxSinPhi := math.Sqrt((d1*d1-d2*d2)*(d2*d2-d3*d3)) / ((d1 - d3) * d2)
	sinPhiVals := []float64{auxSinPhi, -auxSinPhi, -auxSinPhi, auxSinPhi}

	for i := 0; i < 4; i++ {
		rp := mat.NewDense(3, 3, nil)
		rp.Set(0, 0, cosPhi)
		rp.Set(0, 2, sinPhiVals[i])
		rp.Set(1, 1, -1)
		rp.Set(2, 0, sinPhiVals[i])
		rp.Set(2, 2, -cosPhi)

		var r mat.Dense
		r.Mul(svd.U, rp)
		r.Mul(&r, transposeDense(svd.V))
		r.Scale(s, &r)

		np := mat.NewDense(3, 1, []float64{x1s[i], 0, x3s[i]})
		var n mat.Dense
		n.Mul(svd.V, np)
		if n.At(2, 0) < 0 {
			n.Scale(-1, &n)
			np.Scale(-1, np)
		}

		tp := mat.NewDense(3, 1, []float64{x1s[i], 0, x3s[i]})
		tp.Scale(d1+d3, tp)

		var t mat.Dense
		t.Mul(svd.U, tp)
		t.Scale(1.0/d2, &t)

		hyps = append(hyps, HomographyDecomposition{R: &r, T: &t, N: &n})
	}

	return hyps
}
