package mbtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZoomExtentTileCount(t *testing.T) {
	e := ZoomExtent{Zoom: 4, MinCol: 0, MaxCol: 3, MinRow: 0, MaxRow: 1}
	assert.Equal(t, uint64(8), e.TileCount())
}

func TestSplitZoomExtentSmallStaysWhole(t *testing.T) {
	e := ZoomExtent{Zoom: 2, MinCol: 0, MaxCol: 3, MinRow: 0, MaxRow: 3}
	parts := splitZoomExtent(e)
	assert.Equal(t, []ZoomExtent{e}, parts)
}

func TestSplitZoomExtentLargeIsSplitAndCovers(t *testing.T) {
	e := ZoomExtent{Zoom: 10, MinCol: 0, MaxCol: 1023, MinRow: 0, MaxRow: 1023}
	parts := splitZoomExtent(e)
	assert.Greater(t, len(parts), 1)

	var total uint64
	for _, p := range parts {
		assert.LessOrEqual(t, p.TileCount(), uint64(ExtentChunkTileCount))
		total += p.TileCount()
	}
	assert.Equal(t, e.TileCount(), total)
}

func TestSplitZoomExtentThinStripStaysWhole(t *testing.T) {
	// Halving the single-row side would produce degenerate strips, so an
	// oversized one-row extent is scanned as a single chunk.
	e := ZoomExtent{Zoom: 18, MinCol: 0, MaxCol: 99_999, MinRow: 5, MaxRow: 5}
	assert.Equal(t, []ZoomExtent{e}, splitZoomExtent(e))
}

func TestAssignExtentsDistributesAllAndKeepsWorkerCount(t *testing.T) {
	var extents []ZoomExtent
	for i := 0; i < 10; i++ {
		extents = append(extents, ZoomExtent{Zoom: uint32(i)})
	}
	buckets := assignExtents(extents, 3)
	assert.Len(t, buckets, 3)

	total := 0
	for _, b := range buckets {
		total += len(b)
	}
	assert.Equal(t, len(extents), total)
}

func TestWorkerCountHasFloor(t *testing.T) {
	assert.GreaterOrEqual(t, WorkerCount(), 2)
}
