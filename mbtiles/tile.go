package mbtiles

// TileId addresses a single tile in XYZ coordinates: 0 <= X,Y < 2^Z.
type TileId struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
	Z uint32 `json:"z"`
}

// FlipX converts a tile between XYZ and TMS row order. Despite the name it
// flips the vertical axis; the name is kept to match the row-flip helper
// this toolkit's predecessors call flip_x. It is its own inverse for any
// z <= 31.
func FlipX(t TileId) TileId {
	flippedRow := (uint32(1) << t.Z) - 1 - t.Y
	return TileId{X: t.X, Y: flippedRow, Z: t.Z}
}

// IsAncestor reports whether ancestor is an ancestor of (or equal to) t:
// z(t) >= z(ancestor) and the top z(t)-z(ancestor) bits of t's X and Y
// equal ancestor's X and Y.
func IsAncestor(t TileId, ancestor TileId) bool {
	if t.Z < ancestor.Z {
		return false
	}
	zDiff := t.Z - ancestor.Z
	tAtAncestorZ := TileId{X: shrOrZero(t.X, zDiff), Y: shrOrZero(t.Y, zDiff)}
	return tAtAncestorZ.X == ancestor.X && tAtAncestorZ.Y == ancestor.Y
}

// shrOrZero right-shifts x by n bits, returning 0 when n is 32 or more:
// every address bit has been shifted out by then.
func shrOrZero(x uint32, n uint32) uint32 {
	if n >= 32 {
		return 0
	}
	return x >> n
}

// Children returns the four immediate children of t in the order
// (0,0), (1,0), (0,1), (1,1).
func Children(t TileId) [4]TileId {
	return [4]TileId{
		{X: t.X * 2, Y: t.Y * 2, Z: t.Z + 1},
		{X: t.X*2 + 1, Y: t.Y * 2, Z: t.Z + 1},
		{X: t.X * 2, Y: t.Y*2 + 1, Z: t.Z + 1},
		{X: t.X*2 + 1, Y: t.Y*2 + 1, Z: t.Z + 1},
	}
}

// ChildrenUntilZoom breadth-first enumerates all descendants of t with
// z <= targetZ: the direct children of t appear first, then the direct
// children of the first direct child, and so on. This ordering is
// observable — the overzoom writer emits tiles in this order. The four
// direct children are always returned, even when targetZ is not above
// t's own zoom.
func ChildrenUntilZoom(t TileId, targetZ uint32) []TileId {
	children := Children(t)
	out := make([]TileId, 0, len(children))
	out = append(out, children[:]...)
	var grandchildren []TileId
	for _, child := range children {
		if child.Z < targetZ {
			grandchildren = append(grandchildren, ChildrenUntilZoom(child, targetZ)...)
		}
	}
	out = append(out, grandchildren...)
	return out
}

// tileRelativePositionTruthTable maps a tile's index among its parent's
// children (in the [(0,0),(1,0),(1,1),(0,1)] child ordering below) to its
// relative (x,y) position within the parent. This ordering intentionally
// differs from Children's (0,0),(1,0),(0,1),(1,1) ordering; both are
// pinned by tests and must be preserved exactly.
var tileRelativePositionTruthTable = [4][2]uint32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

// PositionInParent returns t's (x,y) position within its parent tile,
// along with the parent tile itself.
func PositionInParent(t TileId) ([2]uint32, TileId) {
	parent := TileId{X: t.X >> 1, Y: t.Y >> 1, Z: t.Z - 1}
	children := [4]TileId{
		{X: parent.X * 2, Y: parent.Y * 2, Z: parent.Z + 1},
		{X: parent.X*2 + 1, Y: parent.Y * 2, Z: parent.Z + 1},
		{X: parent.X*2 + 1, Y: parent.Y*2 + 1, Z: parent.Z + 1},
		{X: parent.X * 2, Y: parent.Y*2 + 1, Z: parent.Z + 1},
	}
	for i, c := range children {
		if c == t {
			return tileRelativePositionTruthTable[i], parent
		}
	}
	panic("tile is not a child of its computed parent")
}

// RelativePositionInAncestor walks up from t to the tile at targetZoom,
// returning that ancestor tile, the number of steps (zoom levels) walked,
// and t's relative cell (rx, ry) within the ancestor's grid at t's zoom,
// with rx,ry in [0, 2^steps).
func RelativePositionInAncestor(t TileId, targetZoom uint32) (ancestor TileId, steps uint32, rel [2]uint32) {
	if targetZoom > t.Z {
		panic("the requested zoom is higher than the tile's own zoom")
	}
	steps = t.Z - targetZoom
	current := t
	relativePositions := make([][2]uint32, 0, steps)
	for current.Z > targetZoom {
		pos, parent := PositionInParent(current)
		relativePositions = append([][2]uint32{pos}, relativePositions...)
		current = parent
	}

	var x, y uint32
	for idx, pos := range relativePositions {
		multiplier := uint32(1) << (steps - 1 - uint32(idx))
		x += pos[0] * multiplier
		y += pos[1] * multiplier
	}
	return current, steps, [2]uint32{x, y}
}
