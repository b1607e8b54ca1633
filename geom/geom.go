// Package geom holds the small amount of 2D math the drawer and renderer
// share: points, rectangles and 3x3 affine matrices.
package geom

import (
	"math"

	"golang.org/x/exp/constraints"
)

type Point struct {
	X, Y float64
}

func (p Point) Add(q Point) Point        { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point        { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Scale(s float64) Point    { return Point{p.X * s, p.Y * s} }
func (p Point) Equal(q Point) bool       { return p.X == q.X && p.Y == q.Y }
func (p Point) Rotate(deg float64) Point { return RotationDeg(deg).Apply(p) }

// Rect is an axis-aligned rectangle; (X, Y) is the top-left corner.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Center() Point { return Point{r.X + r.W/2, r.Y + r.H/2} }
func (r Rect) Empty() bool   { return r.W <= 0 || r.H <= 0 }

// Corners returns the rectangle outline in clockwise order starting at the
// top-left corner.
func (r Rect) Corners() []Point {
	return []Point{
		{r.X, r.Y}, {r.X + r.W, r.Y}, {r.X + r.W, r.Y + r.H}, {r.X, r.Y + r.H},
	}
}

// Intersects reports whether the interiors of r and s overlap.
func (r Rect) Intersects(s Rect) bool {
	return r.X < s.X+s.W && s.X < r.X+r.W && r.Y < s.Y+s.H && s.Y < r.Y+r.H
}

// Mat3 is a 3x3 matrix stored column-major, the layout glUniformMatrix3fv
// expects with transpose=false. Element (row, col) is at index col*3+row.
type Mat3 [9]float64

func Identity() Mat3 {
	return Mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

func Translation(tx, ty float64) Mat3 {
	return Mat3{1, 0, 0, 0, 1, 0, tx, ty, 1}
}

func Scaling(sx, sy float64) Mat3 {
	return Mat3{sx, 0, 0, 0, sy, 0, 0, 0, 1}
}

// RotationDeg rotates counter-clockwise in a y-up frame (clockwise on a
// y-down screen).
func RotationDeg(deg float64) Mat3 {
	s, c := math.Sincos(deg * math.Pi / 180)
	// Snap the common right angles so rotated quads stay pixel exact.
	if math.Abs(s) < 1e-12 {
		s = 0
	}
	if math.Abs(c) < 1e-12 {
		c = 0
	}
	return Mat3{c, s, 0, -s, c, 0, 0, 0, 1}
}

// RotationAbout rotates by deg around the point p.
func RotationAbout(deg float64, p Point) Mat3 {
	return Translation(p.X, p.Y).Mul(RotationDeg(deg)).Mul(Translation(-p.X, -p.Y))
}

func (m Mat3) At(row, col int) float64 { return m[col*3+row] }

// Mul returns m*n; applying the result applies n first.
func (m Mat3) Mul(n Mat3) Mat3 {
	var r Mat3
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += m.At(row, k) * n.At(k, col)
			}
			r[col*3+row] = sum
		}
	}
	return r
}

func (m Mat3) Apply(p Point) Point {
	return Point{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2),
	}
}

// Float32 converts to the layout uploaded to the GPU.
func (m Mat3) Float32() [9]float32 {
	var r [9]float32
	for i, v := range m {
		r[i] = float32(v)
	}
	return r
}

func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NextPow2 returns the smallest power of two >= v (and >= 1).
func NextPow2[T constraints.Integer](v T) T {
	var p T = 1
	for p < v {
		p <<= 1
	}
	return p
}
