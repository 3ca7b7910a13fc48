package mbtiles

import "fmt"

// CLIPBuffer is how many bits right the extent is shifted to size the
// margin clipped geometry may spill outside [0, extent) on each side:
// extent 4096 keeps a 256-unit buffer, extent 256 keeps 16. The margin
// lets lines crossing a tile edge render a short stub beyond it instead
// of a hard cut.
const CLIPBuffer = 4

const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

func zigzagEncode(n int32) uint32 {
	return uint32((n << 1) ^ (n >> 31))
}

func zigzagDecode(n uint32) int32 {
	return int32(n>>1) ^ -int32(n&1)
}

func parseCommand(v uint32) (id uint32, count uint32) {
	return v & 0x7, v >> 3
}

func encodeCommand(id uint32, count uint32) uint32 {
	return (count << 3) | id
}

// DecodeGeometry expands a feature's packed command stream into one
// LineString per subpath (a single point path for GeomPoint, a path per
// MoveTo for GeomLine, a ring per ClosePath for GeomPolygon). The cursor
// carries across subpaths,
// matching the single shared (x, y) state a real MVT encoder keeps for
// the whole feature.
func DecodeGeometry(geomType GeomType, cmds []uint32) []LineString {
	switch geomType {
	case GeomPoint:
		return decodePointGeometry(cmds)
	case GeomPolygon:
		return decodePolygonGeometry(cmds)
	default:
		return decodeLineGeometry(cmds)
	}
}

func decodePointGeometry(cmds []uint32) []LineString {
	var x, y int32
	var path LineString
	i := 0
	for i < len(cmds) {
		id, count := parseCommand(cmds[i])
		i++
		if id != cmdMoveTo {
			break
		}
		for c := uint32(0); c < count; c++ {
			dx := zigzagDecode(cmds[i])
			dy := zigzagDecode(cmds[i+1])
			i += 2
			x += dx
			y += dy
			path.Points = append(path.Points, Point{X: x, Y: y})
		}
	}
	if len(path.Points) == 0 {
		return nil
	}
	return []LineString{path}
}

// decodeLineGeometry decodes a LineString geometry: each MoveTo starts
// a new subpath, each LineTo extends the current one.
func decodeLineGeometry(cmds []uint32) []LineString {
	var paths []LineString
	var x, y int32
	i := 0
	for i < len(cmds) {
		id, count := parseCommand(cmds[i])
		i++
		switch id {
		case cmdMoveTo:
			for c := uint32(0); c < count; c++ {
				dx := zigzagDecode(cmds[i])
				dy := zigzagDecode(cmds[i+1])
				i += 2
				x += dx
				y += dy
				paths = append(paths, LineString{Points: []Point{{X: x, Y: y}}})
			}
		case cmdLineTo:
			cur := &paths[len(paths)-1]
			for c := uint32(0); c < count; c++ {
				dx := zigzagDecode(cmds[i])
				dy := zigzagDecode(cmds[i+1])
				i += 2
				x += dx
				y += dy
				cur.Points = append(cur.Points, Point{X: x, Y: y})
			}
		}
	}
	return paths
}

// decodePolygonGeometry decodes a Polygon geometry. Only ClosePath
// flushes the ring under construction: a trailing subpath with no
// ClosePath is not a ring and is discarded. Rings are not re-closed
// with a duplicate of their first point.
func decodePolygonGeometry(cmds []uint32) []LineString {
	var rings []LineString
	var ring []Point
	var x, y int32
	i := 0
	for i < len(cmds) {
		id, count := parseCommand(cmds[i])
		i++
		switch id {
		case cmdMoveTo, cmdLineTo:
			for c := uint32(0); c < count; c++ {
				dx := zigzagDecode(cmds[i])
				dy := zigzagDecode(cmds[i+1])
				i += 2
				x += dx
				y += dy
				if id == cmdMoveTo {
					ring = []Point{{X: x, Y: y}}
				} else {
					ring = append(ring, Point{X: x, Y: y})
				}
			}
		case cmdClosePath:
			rings = append(rings, LineString{Points: ring})
			ring = nil
		}
	}
	return rings
}

// EncodeGeometry packs paths back into a command stream for geomType.
// ClosePath is emitted after each polygon ring.
func EncodeGeometry(geomType GeomType, paths []LineString) []uint32 {
	var x, y int32
	var out []uint32

	switch geomType {
	case GeomPoint:
		if len(paths) == 0 {
			return nil
		}
		points := paths[0].Points
		out = append(out, encodeCommand(cmdMoveTo, uint32(len(points))))
		for _, p := range points {
			out = append(out, zigzagEncode(p.X-x), zigzagEncode(p.Y-y))
			x, y = p.X, p.Y
		}
	default:
		for _, path := range paths {
			if len(path.Points) == 0 {
				continue
			}
			first := path.Points[0]
			out = append(out, encodeCommand(cmdMoveTo, 1))
			out = append(out, zigzagEncode(first.X-x), zigzagEncode(first.Y-y))
			x, y = first.X, first.Y

			rest := path.Points[1:]
			out = append(out, encodeCommand(cmdLineTo, uint32(len(rest))))
			for _, p := range rest {
				out = append(out, zigzagEncode(p.X-x), zigzagEncode(p.Y-y))
				x, y = p.X, p.Y
			}
			if geomType == GeomPolygon {
				out = append(out, encodeCommand(cmdClosePath, 0))
			}
		}
	}
	return out
}

// ClipGeometry clips paths (already decoded from a feature) against the
// tile's [0, extent) window expanded on every side by a margin of
// extent >> CLIPBuffer units. Lines
// are clipped with Cohen-Sutherland and may split into more paths than
// they started as; polygon rings are clipped with Sutherland-Hodgman and
// never split, but may become empty and are dropped.
func ClipGeometry(geomType GeomType, paths []LineString, extent uint32) []LineString {
	buffer := int32(extent >> CLIPBuffer)
	box := BBox{
		MinX: -buffer,
		MinY: -buffer,
		MaxX: int32(extent) + buffer,
		MaxY: int32(extent) + buffer,
	}

	switch geomType {
	case GeomPoint:
		var out LineString
		for _, path := range paths {
			for _, p := range path.Points {
				if p.X >= box.MinX && p.X <= box.MaxX && p.Y >= box.MinY && p.Y <= box.MaxY {
					out.Points = append(out.Points, p)
				}
			}
		}
		if len(out.Points) == 0 {
			return nil
		}
		return []LineString{out}

	case GeomPolygon:
		var out []LineString
		for _, ring := range paths {
			clipped := PolygonClip(ring.Points, box)
			if len(clipped) > 0 {
				out = append(out, LineString{Points: clipped})
			}
		}
		return out

	case GeomLine:
		var out []LineString
		for _, line := range paths {
			out = append(out, LineClip(line.Points, box)...)
		}
		return out

	default:
		panic(fmt.Sprintf("unsupported geometry type %d", geomType))
	}
}

// ScaleGeometry rewrites a single feature's raw command stream for a
// descendant tile at relative cell (relX, relY) of a newExtent-sized
// grid: a feature's geometry always begins with a MoveTo(1) at an
// absolute position (ox, oy) (the cursor starts at (0,0)), which is
// rewritten here to (ox - newExtent*relX, oy - newExtent*relY). Every
// command after the first coordinate pair is left untouched — they are
// deltas relative to the cursor, and remain valid wherever the cursor's
// starting point lands. cmds is not mutated in place.
func ScaleGeometry(cmds []uint32, newExtent uint32, relX, relY uint32) []uint32 {
	if len(cmds) < 3 {
		return cmds
	}
	out := append([]uint32(nil), cmds...)
	ox := zigzagDecode(out[1])
	oy := zigzagDecode(out[2])
	out[1] = zigzagEncode(ox - int32(relX)*int32(newExtent))
	out[2] = zigzagEncode(oy - int32(relY)*int32(newExtent))
	return out
}

// ScaleTile rewrites every feature's geometry in tile in place, mapping
// it from its original zoom into the coordinate space of one descendant
// `steps` levels down at relative cell (relX, relY), then re-clipping to
// the descendant's (smaller) window, and shrinks each layer's declared
// extent to match: a descendant `steps` levels down covers 1/2^steps of
// its ancestor's footprint along each axis, so new_extent = extent >>
// steps and only the window a clipper measures against shrinks — the
// raw coordinate units a feature already carries don't need rescaling,
// since they're already expressed at the ancestor's resolution.
func ScaleTile(tile *Tile, steps uint32, relX, relY uint32) {
	for _, layer := range tile.Layers {
		if len(layer.Features) == 0 {
			continue
		}
		newExtent := layer.Extent >> steps
		layer.Extent = newExtent

		kept := layer.Features[:0]
		for _, feature := range layer.Features {
			geom := ScaleGeometry(feature.Geometry, newExtent, relX, relY)
			if len(geom) == 0 {
				continue
			}
			if id, _ := parseCommand(geom[0]); id != cmdMoveTo {
				// A geometry that doesn't open with MoveTo is malformed,
				// not clippable; the feature is dropped.
				continue
			}
			paths := DecodeGeometry(feature.Type, geom)
			paths = ClipGeometry(feature.Type, paths, newExtent)
			encoded := EncodeGeometry(feature.Type, paths)
			if len(encoded) == 0 {
				// Dropped: no content survives inside this descendant's window.
				continue
			}
			feature.Geometry = encoded
			kept = append(kept, feature)
		}
		layer.Features = kept
	}
}
