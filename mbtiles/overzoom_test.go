package mbtiles

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataMaxZoomParsesValue(t *testing.T) {
	z, err := metadataMaxZoom(map[string]string{"maxzoom": "12"})
	assert.NoError(t, err)
	assert.Equal(t, uint32(12), z)
}

func TestMetadataMaxZoomFailsWhenAbsent(t *testing.T) {
	_, err := metadataMaxZoom(map[string]string{})
	assert.Error(t, err)
}

func TestMetadataMaxZoomFailsOnNonInteger(t *testing.T) {
	_, err := metadataMaxZoom(map[string]string{"maxzoom": "not-a-number"})
	assert.Error(t, err)
}

func TestMaybeDecompressPassesThroughBareData(t *testing.T) {
	raw := []byte("not gzipped")
	out, err := maybeDecompress(raw)
	assert.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestMaybeDecompressInflatesGzip(t *testing.T) {
	raw := []byte("hello vector tile")
	compressed, err := gzipCompress(raw)
	assert.NoError(t, err)

	out, err := maybeDecompress(compressed)
	assert.NoError(t, err)
	assert.Equal(t, raw, out)
}

func singlePointTile(x, y int32) *Tile {
	return &Tile{Layers: []*Layer{{
		Name:   "points",
		Extent: 4096,
		Features: []*Feature{{
			Type:     GeomPoint,
			Geometry: EncodeGeometry(GeomPoint, []LineString{{Points: []Point{{X: x, Y: y}}}}),
		}},
	}}}
}

// TestOverzoomTilePreservesAncestorSet checks the descendant half of the
// overzoom preservation invariant: overzoomTile on a single max-zoom tile
// T synthesizes exactly children_until(T, targetZ). T itself is forwarded
// by Overzoom, not overzoomTile; the end-to-end test below checks the full
// {T} union children_until(T, targetZ) set.
func TestOverzoomTilePreservesAncestorSet(t *testing.T) {
	source := singlePointTile(2048, 2048)
	encoded := source.Encode()
	compressed, err := gzipCompress(encoded)
	assert.NoError(t, err)

	origin := TileId{X: 5, Y: 5, Z: 10}
	descendants, err := overzoomTile(TileData{ID: origin, Data: NewSharedBytes(compressed)}, 12)
	assert.NoError(t, err)

	want := ChildrenUntilZoom(origin, 12)
	assert.Len(t, descendants, len(want))

	gotIDs := make(map[TileId]bool, len(descendants))
	for _, d := range descendants {
		gotIDs[d.ID] = true
	}
	for _, w := range want {
		assert.True(t, gotIDs[w], "missing descendant %+v", w)
	}
}

func TestOverzoomArchivePreservesAncestorSetEndToEnd(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.mbtiles")
	outputPath := filepath.Join(dir, "output.mbtiles")

	origin := TileId{X: 5, Y: 5, Z: 10}
	encoded := singlePointTile(2048, 2048).Encode()
	compressed, err := gzipCompress(encoded)
	assert.NoError(t, err)

	w, err := NewWriter(discardLogger(), inputPath)
	assert.NoError(t, err)
	assert.NoError(t, w.WriteTile(TileData{ID: origin, Data: NewSharedBytes(compressed)}))
	assert.NoError(t, w.WriteMetadata(map[string]string{"maxzoom": "10"}))
	assert.NoError(t, w.Close())

	assert.NoError(t, Overzoom(discardLogger(), inputPath, outputPath, 12))

	metadata, err := ReadMetadata(outputPath)
	assert.NoError(t, err)
	assert.Equal(t, "12", metadata["maxzoom"])

	got := readAllTiles(t, outputPath)
	want := append([]TileId{origin}, ChildrenUntilZoom(origin, 12)...)
	assert.Len(t, got, len(want))
	for _, id := range want {
		assert.Contains(t, got, id)
	}
}

func TestOverzoomRefusesTargetAtOrBelowMaxZoom(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.mbtiles")

	w, err := NewWriter(discardLogger(), inputPath)
	assert.NoError(t, err)
	assert.NoError(t, w.WriteMetadata(map[string]string{"maxzoom": "10"}))
	assert.NoError(t, w.Close())

	err = Overzoom(discardLogger(), inputPath, filepath.Join(dir, "out.mbtiles"), 10)
	assert.Error(t, err)
}

func TestOverzoomTileEachDescendantDecodesAndFallsInsideWindow(t *testing.T) {
	// A point dead center of the tile survives into every descendant: the
	// center of any quadrant split remains inside that quadrant's window.
	source := singlePointTile(2048, 2048)
	encoded := source.Encode()
	compressed, err := gzipCompress(encoded)
	assert.NoError(t, err)

	origin := TileId{X: 1, Y: 1, Z: 4}
	descendants, err := overzoomTile(TileData{ID: origin, Data: NewSharedBytes(compressed)}, 5)
	assert.NoError(t, err)
	assert.Len(t, descendants, 4)

	for _, d := range descendants {
		raw, err := maybeDecompress(d.Data.Bytes())
		assert.NoError(t, err)
		decoded, err := DecodeTile(raw)
		assert.NoError(t, err)
		if !assert.Len(t, decoded.Layers, 1) {
			continue
		}
		features := decoded.Layers[0].Features
		if assert.Len(t, features, 1) {
			p := DecodeGeometry(GeomPoint, features[0].Geometry)[0].Points[0]
			extent := int32(decoded.Layers[0].Extent)
			assert.True(t, p.X >= 0 && p.X <= extent && p.Y >= 0 && p.Y <= extent,
				"point %+v outside descendant window of extent %d", p, extent)
		}
	}
}
