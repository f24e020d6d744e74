package annotation

import "math"

// RectPayload is an axis-aligned rectangle: top-left corner plus size.
type RectPayload struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge.
func (r RectPayload) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r RectPayload) Bottom() float64 { return r.Y + r.Height }

// Center returns the centre point of r.
func (r RectPayload) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Translate returns r shifted by (dx, dy).
func (r RectPayload) Translate(dx, dy float64) RectPayload {
	return RectPayload{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Intersects reports whether r and o overlap. Touching edges count as overlap.
func (r RectPayload) Intersects(o RectPayload) bool {
	return !(o.Right() < r.X || o.X > r.Right() || o.Bottom() < r.Y || o.Y > r.Bottom())
}

// BuildRectPayload normalizes a drag from a to b into a rectangle.
// The result does not depend on drag direction.
func BuildRectPayload(a, b Point) RectPayload {
	return RectPayload{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

// RectFromPoints returns the bounding rectangle of points.
// ok is false for fewer than two points.
func RectFromPoints(points []Point) (rect RectPayload, ok bool) {
	if len(points) < 2 {
		return RectPayload{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return RectPayload{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
}

// RectanglePoints returns the closed five-point outline of r, starting and
// ending at the top-left corner.
func RectanglePoints(r RectPayload) []Point {
	return []Point{
		{X: r.X, Y: r.Y},
		{X: r.Right(), Y: r.Y},
		{X: r.Right(), Y: r.Bottom()},
		{X: r.X, Y: r.Bottom()},
		{X: r.X, Y: r.Y},
	}
}
