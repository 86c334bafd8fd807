package coord

import "math"

// Point is a position in millimeters.
type Point struct{ X, Y, Z float64 }

func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}

// Mul scales every axis by val.
func (p Point) Mul(val float64) Point {
	return Point{p.X * val, p.Y * val, p.Z * val}
}

func (p Point) Add(target Point) Point {
	return Point{p.X + target.X, p.Y + target.Y, p.Z + target.Z}
}

// Sub returns p - target.
func (p Point) Sub(target Point) Point {
	return Point{p.X - target.X, p.Y - target.Y, p.Z - target.Z}
}

// Min returns the per-axis minimum of p and target.
func (p Point) Min(target Point) Point {
	return Point{math.Min(p.X, target.X), math.Min(p.Y, target.Y), math.Min(p.Z, target.Z)}
}

// Max returns the per-axis maximum of p and target.
func (p Point) Max(target Point) Point {
	return Point{math.Max(p.X, target.X), math.Max(p.Y, target.Y), math.Max(p.Z, target.Z)}
}

// Split returns n evenly spaced points from p to target, excluding p.
// The last point is always exactly target.
func (p Point) Split(target Point, n int) []Point {
	if n < 1 {
		n = 1
	}
	d := target.Sub(p)
	step := Point{d.X / float64(n), d.Y / float64(n), d.Z / float64(n)}

	res := make([]Point, n)
	for i := range res[:n-1] {
		res[i] = p.Add(step.Mul(float64(i + 1)))
	}
	res[n-1] = target
	return res
}

// Distance returns the straight line distance between p and target.
func (p Point) Distance(target Point) float64 {
	d := target.Sub(p)
	return math.Sqrt(d.Dot(d))
}
