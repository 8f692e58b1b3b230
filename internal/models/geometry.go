package models

// Point is a pixel coordinate, origin top-left.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BoundingBox is an integer pixel rectangle. A valid box has X1 < X2 and Y1 < Y2.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BoundingBox) Width() int  { return b.X2 - b.X1 }
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

func (b BoundingBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Center uses integer division, matching how detector boxes are rounded.
func (b BoundingBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// FeetPoint is the bottom-center of the box, used as a ground-position proxy.
func (b BoundingBox) FeetPoint() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// HeadLimit is the lower edge of the head region (top third of the box).
func (b BoundingBox) HeadLimit() int {
	return b.Y1 + b.Height()/3
}
