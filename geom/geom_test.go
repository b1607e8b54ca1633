package geom

import (
	"math"
	"testing"
)

func near(a, b Point) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9
}

func TestMat3(t *testing.T) {
	p := Point{2, 3}
	if got := Identity().Apply(p); !got.Equal(p) {
		t.Errorf("identity moved %v to %v", p, got)
	}
	if got := Translation(1, -1).Apply(p); !got.Equal(Point{3, 2}) {
		t.Errorf("translation: %v", got)
	}
	if got := RotationDeg(90).Apply(Point{1, 0}); !got.Equal(Point{0, 1}) {
		t.Errorf("rotation by 90: %v", got)
	}

	// Mul applies the right operand first.
	m := Translation(10, 0).Mul(Scaling(2, 2))
	if got := m.Apply(Point{1, 1}); !got.Equal(Point{12, 2}) {
		t.Errorf("scale then translate: %v", got)
	}

	c := Point{5, 5}
	if got := RotationAbout(180, c).Apply(c); !near(got, c) {
		t.Errorf("rotation center moved: %v", got)
	}
	if got := RotationAbout(180, c).Apply(Point{0, 0}); !near(got, Point{10, 10}) {
		t.Errorf("rotation about center: %v", got)
	}

	if m.At(0, 2) != 10 || m.Float32()[6] != 10 {
		t.Errorf("translation must live in the third column")
	}
}

func TestRect(t *testing.T) {
	r := Rect{0, 0, 10, 10}
	if !r.Intersects(Rect{5, 5, 10, 10}) {
		t.Errorf("expected overlap")
	}
	if r.Intersects(Rect{10, 0, 5, 5}) {
		t.Errorf("touching edges do not overlap")
	}
	if c := r.Center(); !c.Equal(Point{5, 5}) {
		t.Errorf("center %v", c)
	}
	if len(r.Corners()) != 4 || !(Rect{0, 0, 0, 3}).Empty() {
		t.Errorf("corners or empty")
	}
}

func TestGenerics(t *testing.T) {
	if Clamp(5, 0, 3) != 3 || Clamp(-1.5, 0.0, 1.0) != 0 {
		t.Errorf("clamp")
	}
	for in, want := range map[int]int{0: 1, 1: 1, 3: 4, 4: 4, 1000: 1024} {
		if got := NextPow2(in); got != want {
			t.Errorf("NextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}
