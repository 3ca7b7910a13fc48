package mbtiles

// SharedBytes is an immutable, cheaply-copyable view over a byte slice.
// Multiple SharedBytes values can reference the same backing array
// without copying it; the garbage collector frees the array once the
// last reference drops. There is no exported way to mutate the
// underlying bytes, so sharing a SharedBytes across goroutines (as
// Subdivide does when fanning one input tile out to several overlapping
// outputs) is always safe.
type SharedBytes struct {
	data []byte
}

// NewSharedBytes wraps b. The caller must not mutate b afterward.
func NewSharedBytes(b []byte) SharedBytes {
	return SharedBytes{data: b}
}

// Bytes returns the underlying slice. Callers must treat it as read-only.
func (s SharedBytes) Bytes() []byte {
	return s.data
}

// Len returns the number of bytes.
func (s SharedBytes) Len() int {
	return len(s.data)
}

// TileData pairs a tile's address with its (possibly gzip-compressed)
// encoded contents.
type TileData struct {
	ID   TileId
	Data SharedBytes
}
