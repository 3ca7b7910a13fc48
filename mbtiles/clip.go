package mbtiles

// BBox is an axis-aligned clip rectangle: MinX, MinY, MaxX, MaxY.
type BBox struct {
	MinX int32
	MinY int32
	MaxX int32
	MaxY int32
}

// Outcode bits, Cohen-Sutherland style.
const (
	outLeft   = 1
	outRight  = 2
	outBottom = 4
	outTop    = 8
)

func bitCode(p Point, b BBox) int {
	code := 0
	if p.X < b.MinX {
		code |= outLeft
	} else if p.X > b.MaxX {
		code |= outRight
	}
	if p.Y < b.MinY {
		code |= outBottom
	} else if p.Y > b.MaxY {
		code |= outTop
	}
	return code
}

// intersect computes where segment a->b crosses the clip edge named by the
// single highest-priority bit set in code (top, then bottom, then right,
// then left). Division truncates toward zero, matching integer tile
// coordinate math throughout this package.
func intersect(a, b Point, code int, box BBox) Point {
	switch {
	case code&outTop != 0:
		return Point{
			X: a.X + (b.X-a.X)*(box.MaxY-a.Y)/(b.Y-a.Y),
			Y: box.MaxY,
		}
	case code&outBottom != 0:
		return Point{
			X: a.X + (b.X-a.X)*(box.MinY-a.Y)/(b.Y-a.Y),
			Y: box.MinY,
		}
	case code&outRight != 0:
		return Point{
			X: box.MaxX,
			Y: a.Y + (b.Y-a.Y)*(box.MaxX-a.X)/(b.X-a.X),
		}
	case code&outLeft != 0:
		return Point{
			X: box.MinX,
			Y: a.Y + (b.Y-a.Y)*(box.MinX-a.X)/(b.X-a.X),
		}
	default:
		return a
	}
}

// LineClip clips a single polyline against box using Cohen-Sutherland,
// returning zero or more output segments (a line can split into several
// disjoint pieces when it exits and re-enters the box).
func LineClip(points []Point, box BBox) []LineString {
	if len(points) == 0 {
		return nil
	}

	var result []LineString
	var part []Point

	codeA := bitCode(points[0], box)

	for i := 1; i < len(points); i++ {
		a := points[i-1]
		b := points[i]
		codeB := bitCode(b, box)
		lastCode := codeB

		for {
			if codeA|codeB == 0 {
				part = append(part, a)
				if codeB != lastCode {
					part = append(part, b)
					if i < len(points)-1 {
						result = append(result, LineString{Points: part})
						part = nil
					}
				} else if i == len(points)-1 {
					part = append(part, b)
				}
				break
			} else if codeA&codeB != 0 {
				break
			} else if codeA != 0 {
				a = intersect(a, b, codeA, box)
				codeA = bitCode(a, box)
			} else {
				b = intersect(a, b, codeB, box)
				codeB = bitCode(b, box)
			}
		}

		codeA = lastCode
	}

	if len(part) > 0 {
		result = append(result, LineString{Points: part})
	}

	return result
}

// PolygonClip clips a single ring against box using Sutherland-Hodgman,
// sweeping the four edges in order left, right, bottom, top. The
// resulting ring is not re-closed; callers that need a closed ring must
// append the first point themselves.
func PolygonClip(points []Point, box BBox) []Point {
	edges := []int{outLeft, outRight, outBottom, outTop}

	for _, edge := range edges {
		if len(points) == 0 {
			break
		}
		var result []Point
		prev := points[len(points)-1]
		prevInside := bitCode(prev, box)&edge == 0

		for _, p := range points {
			inside := bitCode(p, box)&edge == 0
			if inside != prevInside {
				result = append(result, intersect(prev, p, edge, box))
			}
			if inside {
				result = append(result, p)
			}
			prev = p
			prevInside = inside
		}

		points = result
	}

	return points
}
