// Package zone defines the restricted area and the containment test used for
// intrusion detection.
package zone

import (
	"math"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

// StartFraction is where the restricted strip begins, as a fraction of width.
const StartFraction = 0.75

// Polygon is an ordered, implicitly closed sequence of vertices.
type Polygon []models.Point

// For returns the restricted zone for a frame: the right quarter of the image
// spanning its full height. The left edge is rounded up so the strip never
// starts left of StartFraction.
func For(width, height int) Polygon {
	zx := int(math.Ceil(float64(width) * StartFraction))
	return Polygon{
		{X: zx, Y: 0},
		{X: width, Y: 0},
		{X: width, Y: height},
		{X: zx, Y: height},
	}
}

// Contains reports whether p lies inside the polygon or on its boundary.
// Polygons with fewer than three vertices or no area never contain anything.
func (poly Polygon) Contains(p models.Point) bool {
	if len(poly) < 3 || poly.doubleArea() == 0 {
		return false
	}

	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) {
			// x coordinate of the edge at height p.Y, compared without division
			lhs := (p.X - a.X) * (b.Y - a.Y)
			rhs := (b.X - a.X) * (p.Y - a.Y)
			if b.Y-a.Y < 0 {
				lhs, rhs = -lhs, -rhs
			}
			if lhs < rhs {
				inside = !inside
			}
		}
	}
	return inside
}

func (poly Polygon) doubleArea() int {
	area := 0
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		area += poly[j].X*poly[i].Y - poly[i].X*poly[j].Y
	}
	if area < 0 {
		return -area
	}
	return area
}

func onSegment(a, b, p models.Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if cross != 0 {
		return false
	}
	return min(a.X, b.X) <= p.X && p.X <= max(a.X, b.X) &&
		min(a.Y, b.Y) <= p.Y && p.Y <= max(a.Y, b.Y)
}
