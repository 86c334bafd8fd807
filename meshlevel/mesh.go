package meshlevel

import (
	"errors"
	"math"

	"github.com/fogleman/delaunay"
	"github.com/mastercactapus/gstream/coord"
)

// Mesh is a triangulated height map over arbitrary probe points.
type Mesh struct {
	minX, minY, maxX, maxY float64
	triangles              []coord.Triangle
	spacing                float64
}

var _ HeightMap = &Mesh{}

// NewMesh triangulates points. Moves are split every spacing mm.
func NewMesh(points []coord.Point, spacing float64) (*Mesh, error) {
	if len(points) < 3 {
		return nil, errors.New("need at least 3 points to create a mesh")
	}
	if spacing <= 0 {
		return nil, errors.New("mesh spacing must be positive")
	}

	points2d := make([]delaunay.Point, len(points))
	m := make(map[delaunay.Point]coord.Point, len(points))

	mesh := &Mesh{
		minX:    points[0].X,
		minY:    points[0].Y,
		maxX:    points[0].X,
		maxY:    points[0].Y,
		spacing: spacing,
	}
	var d delaunay.Point
	for i, p := range points {
		mesh.minX = math.Min(mesh.minX, p.X)
		mesh.minY = math.Min(mesh.minY, p.Y)
		mesh.maxX = math.Max(mesh.maxX, p.X)
		mesh.maxY = math.Max(mesh.maxY, p.Y)

		d.X = p.X
		d.Y = p.Y
		m[d] = p
		points2d[i] = d
	}
	mesh.minX -= coord.Epsilon
	mesh.minY -= coord.Epsilon
	mesh.maxX += coord.Epsilon
	mesh.maxY += coord.Epsilon

	tri, err := delaunay.Triangulate(points2d)
	if err != nil {
		return nil, err
	}

	mesh.triangles = make([]coord.Triangle, 0, len(tri.Triangles)/3)

	for i := 0; i < len(tri.Triangles); i += 3 {
		mesh.triangles = append(mesh.triangles, coord.Triangle{
			A: m[tri.Points[tri.Triangles[i]]],
			B: m[tri.Points[tri.Triangles[i+1]]],
			C: m[tri.Points[tri.Triangles[i+2]]],
		})
	}

	return mesh, nil
}

func (m *Mesh) Spacing() float64 { return m.spacing }

// HeightAt returns the height of the triangle containing x,y, or
// ErrOutside if no triangle does.
func (m *Mesh) HeightAt(x, y float64) (float64, error) {
	if x < m.minX || m.maxX < x || y < m.minY || m.maxY < y {
		return 0, ErrOutside
	}
	for _, t := range m.triangles {
		if !t.ContainsXY(x, y) {
			continue
		}
		return t.Z(x, y), nil
	}

	return 0, ErrOutside
}

// OffsetFrom returns a copy of points with z subtracted from each height.
func OffsetFrom(z float64, points []coord.Point) []coord.Point {
	p := make([]coord.Point, len(points))
	copy(p, points)

	for i := range p {
		p[i].Z -= z
	}
	return p
}
