package geometry

import (
	"gonum.org/v1/gonum/mat"
)

const (
	thHomography       = 5.991 // chi-square, 2 DoF, 95%
	thFundamental      = 3.841 // chi-square, 1 DoF, 95%
	thFundamentalScore = 5.991 // per-direction scoring constant for F, to put H and F scores on comparable scales
)

// CheckHomography scores a homography hypothesis by bidirectional symmetric
// transfer error. A match is an inlier only if both the 1->2 and 2->1
// reprojections pass the chi-square test; the score, however, accumulates
// (th - chi2) for whichever direction(s) pass even when the other direction
// fails -- this asymmetry between the inlier flag and the score is preserved
// from the original algorithm.
func CheckHomography(h21, h12 *mat.Dense, p1, p2 []PointFeature, matches []Match, sigma float64) (float64, []bool) {
	invSigma2 := 1.0 / (sigma * sigma)
	score := 0.0
	inliers := make([]bool, len(matches))

	for i, m := range matches {
		pt1 := p1[m.Idx1].Point
		pt2 := p2[m.Idx2].Point

		ok := true

		// Reproject pt2 into image 1 via H12, compare to pt1.
		u2in1, v2in1, w := applyH(h12, pt2.X, pt2.Y)
		dx1 := pt1.X - u2in1/w
		dy1 := pt1.Y - v2in1/w
		chi1 := (dx1*dx1 + dy1*dy1) * invSigma2
		if chi1 > thHomography {
			ok = false
		} else {
			score += thHomography - chi1
		}

		// Reproject pt1 into image 2 via H21, compare to pt2.
		u1in2, v1in2, w2 := applyH(h21, pt1.X, pt1.Y)
		dx2 := pt2.X - u1in2/w2
		dy2 := pt2.Y - v1in2/w2
		chi2 := (dx2*dx2 + dy2*dy2) * invSigma2
		if chi2 > thHomography {
			ok = false
		} else {
			score += thHomography - chi2
		}

		inliers[i] = ok
	}

	return score, inliers
}

func applyH(h *mat.Dense, x, y float64) (u, v, w float64) {
	u = h.At(0, 0)*x + h.At(0, 1)*y + h.At(0, 2)
	v = h.At(1, 0)*x + h.At(1, 1)*y + h.At(1, 2)
	w = h.At(2, 0)*x + h.At(2, 1)*y + h.At(2, 2)
	return
}

// CheckFundamental scores a fundamental matrix hypothesis by point-to-
// epipolar-line distance in both images. th=3.841 gates the inlier flag
// (both directions must pass); the score uses th=5.991 per direction, an
// explicit design choice to keep F and H scores on comparable scales. As in
// CheckHomography, a failing direction contributes 0 to score without
// necessarily excluding the match's passing direction's contribution.
func CheckFundamental(f21 *mat.Dense, p1, p2 []PointFeature, matches []Match, sigma float64) (float64, []bool) {
	invSigma2 := 1.0 / (sigma * sigma)
	score := 0.0
	inliers := make([]bool, len(matches))

	f12 := transposeDense(f21)

	for i, m := range matches {
		pt1 := p1[m.Idx1].Point
		pt2 := p2[m.Idx2].Point

		ok := true

		// Epipolar line in image 2 from pt1: l2 = F21 * pt1.
		a2, b2, c2 := epiLine(f21, pt1.X, pt1.Y)
		num2 := a2*pt2.X + b2*pt2.Y + c2
		dist2 := (num2 * num2) / (a2*a2 + b2*b2)
		chi2 := dist2 * invSigma2
		if chi2 > thFundamental {
			ok = false
		} else {
			score += thFundamentalScore - chi2
		}

		// Epipolar line in image 1 from pt2: l1 = F12 * pt2 (F12 = F21^T).
		a1, b1, c1 := epiLine(f12, pt2.X, pt2.Y)
		num1 := a1*pt1.X + b1*pt1.Y + c1
		dist1 := (num1 * num1) / (a1*a1 + b1*b1)
		chi1 := dist1 * invSigma2
		if chi1 > thFundamental {
			ok = false
		} else {
			score += thFundamentalScore - chi1
		}

		inliers[i] = ok
	}

	return score, inliers
}

func epiLine(f *mat.Dense, x, y float64) (a, b, c float64) {
	a = f.At(0, 0)*x + f.At(0, 1)*y + f.At(0, 2)
	b = f.At(1, 0)*x + f.At(1, 1)*y + f.At(1, 2)
	c = f.At(2, 0)*x + f.At(2, 1)*y + f.At(2, 2)
	return
}
