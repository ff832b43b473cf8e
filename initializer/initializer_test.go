package initializer

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/logging"
)

func rotationY(theta float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		math.Cos(theta), 0, math.Sin(theta),
		0, 1, 0,
		-math.Sin(theta), 0, math.Cos(theta),
	})
}

func project(k geometry.CameraIntrinsics, r *mat.Dense, tx, ty, tz float64, x, y, z float64) r2.Point {
	p := mat.NewDense(3, 3, nil)
	kk := k.K()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			p.Set(row, col, kk[row][col])
		}
	}
	rt := mat.NewDense(3, 4, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			rt.Set(row, col, r.At(row, col))
		}
	}
	rt.Set(0, 3, tx)
	rt.Set(1, 3, ty)
	rt.Set(2, 3, tz)

	var rtk mat.Dense
	rtk.Mul(p, rt)

	xv := mat.NewDense(4, 1, []float64{x, y, z, 1})
	var proj mat.Dense
	proj.Mul(&rtk, xv)
	w := proj.At(2, 0)
	return r2.Point{X: proj.At(0, 0) / w, Y: proj.At(1, 0) / w}
}

func TestInitializeGeneralScene(t *testing.T) {
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	theta := 5.0 * math.Pi / 180.0
	r := rotationY(theta)
	tx, ty, tz := 1.0, 0.0, 0.0

	identity := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})

	n := 64
	p1 := make([]geometry.PointFeature, n)
	p2 := make([]geometry.PointFeature, n)
	matches := make([]geometry.Match, n)

	seed := int64(1)
	for i := 0; i < n; i++ {
		seed = (seed*1103515245 + 12345) & 0x7fffffff
		x := float64((seed>>16)%2000)/100.0 - 10
		seed = (seed*1103515245 + 12345) & 0x7fffffff
		y := float64((seed>>16)%2000)/100.0 - 10
		seed = (seed*1103515245 + 12345) & 0x7fffffff
		z := 5 + float64((seed>>16)%500)/100.0

		p1[i] = geometry.PointFeature{Point: project(k, identity, 0, 0, 0, x, y, z), ScaleSigma2: 1}
		p2[i] = geometry.PointFeature{Point: project(k, r, tx, ty, tz, x, y, z), ScaleSigma2: 1}
		matches[i] = geometry.Match{Idx1: i, Idx2: i}
	}

	logger := logging.NewTestLogger(t)
	ini := New(DefaultConfig(), logger)

	res, err := ini.Initialize(p1, p2, matches, k, nil, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldNotBeNil)
	if res == nil {
		return
	}
	test.That(t, res.RH, test.ShouldBeLessThan, 0.40)

	// translation direction should be close to the true (1,0,0) direction
	// (up to the sign ambiguity of monocular reconstruction).
	tHat := res.Translation.Normalize()
	dot := math.Abs(tHat.X*1 + tHat.Y*0 + tHat.Z*0)
	test.That(t, dot, test.ShouldBeGreaterThan, 0.99)
}

func TestInitializeTooFewMatches(t *testing.T) {
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	logger := logging.NewTestLogger(t)
	ini := New(DefaultConfig(), logger)
	_, err := ini.Initialize(nil, nil, []geometry.Match{{Idx1: 0, Idx2: 0}}, k, nil, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
}
