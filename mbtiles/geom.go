package mbtiles

// Point is a single vertex in tile-local integer coordinates.
type Point struct {
	X int32
	Y int32
}

// LineString is an ordered sequence of points forming one path.
type LineString struct {
	Points []Point
}

// Polygon is a ring of points; the vector-tile codec does not require
// the first and last point to be equal, since ClosePath already marks
// the ring as closed.
type Polygon = LineString
