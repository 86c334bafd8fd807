package coord

import "math"

const (
	// Epsilon is how far outside an edge a point may be and still be
	// considered inside a triangle.
	Epsilon   = 0.001
	epsilonSq = Epsilon * Epsilon
)

// Triangle is one face of a height mesh. Only the XY projection is used
// for containment; Z carries the measured height of each corner.
type Triangle struct{ A, B, C Point }

// Weights returns the barycentric weights of x,y relative to A, B and C.
// ok is false if the triangle has no area.
func (t Triangle) Weights(x, y float64) (a, b, c float64, ok bool) {
	det := (t.B.Y-t.C.Y)*(t.A.X-t.C.X) + (t.C.X-t.B.X)*(t.A.Y-t.C.Y)
	if math.Abs(det) < epsilonSq {
		return 0, 0, 0, false
	}
	dx, dy := x-t.C.X, y-t.C.Y
	a = ((t.B.Y-t.C.Y)*dx + (t.C.X-t.B.X)*dy) / det
	b = ((t.C.Y-t.A.Y)*dx + (t.A.X-t.C.X)*dy) / det
	return a, b, 1 - a - b, true
}

// ContainsXY reports whether x,y falls inside the triangle, or within
// Epsilon of one of its edges.
func (t Triangle) ContainsXY(x, y float64) bool {
	a, b, c, ok := t.Weights(x, y)
	if !ok {
		return false
	}
	if a >= 0 && b >= 0 && c >= 0 {
		return true
	}

	p := Point{X: x, Y: y}
	return segmentDistSq(p, t.A, t.B) <= epsilonSq ||
		segmentDistSq(p, t.B, t.C) <= epsilonSq ||
		segmentDistSq(p, t.C, t.A) <= epsilonSq
}

// Z returns the height of the triangle's plane at x,y.
func (t Triangle) Z(x, y float64) float64 {
	a, b, c, ok := t.Weights(x, y)
	if !ok {
		return math.NaN()
	}
	return a*t.A.Z + b*t.B.Z + c*t.C.Z
}

// segmentDistSq is the squared XY distance from p to the segment a-b.
func segmentDistSq(p, a, b Point) float64 {
	p.Z, a.Z, b.Z = 0, 0, 0
	ab := b.Sub(a)
	lenSq := ab.Dot(ab)
	if lenSq == 0 {
		d := p.Sub(a)
		return d.Dot(d)
	}
	f := math.Max(0, math.Min(1, p.Sub(a).Dot(ab)/lenSq))
	d := p.Sub(a.Add(ab.Mul(f)))
	return d.Dot(d)
}
