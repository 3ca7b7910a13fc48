package mbtiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func u32ptr(v uint32) *uint32 { return &v }

func TestSubdivideOutputMatchesZoomRange(t *testing.T) {
	out := SubdivideOutput{
		MaxZoom: u32ptr(5),
		Tiles:   []tileTriple{{X: 0, Y: 0, Z: 0}},
	}
	assert.True(t, out.matches(TileId{X: 0, Y: 0, Z: 1}))
	assert.True(t, out.matches(TileId{X: 1, Y: 1, Z: 2}))
	assert.False(t, out.matches(TileId{X: 1, Y: 1, Z: 6}))
}

func TestSubdivideOutputUnsetMaxZoomMeansUnbounded(t *testing.T) {
	out := SubdivideOutput{Tiles: []tileTriple{{X: 0, Y: 0, Z: 0}}}
	assert.True(t, out.matches(TileId{X: 1, Y: 1, Z: 30}))
}

func TestSubdivideOutputMatchesAncestry(t *testing.T) {
	out := SubdivideOutput{
		MaxZoom: u32ptr(10),
		Tiles:   []tileTriple{{X: 1, Y: 1, Z: 2}},
	}
	assert.True(t, out.matches(TileId{X: 1, Y: 1, Z: 2}))
	assert.True(t, out.matches(TileId{X: 4, Y: 5, Z: 4}))
	assert.False(t, out.matches(TileId{X: 0, Y: 0, Z: 4}))
}

func TestSubdivideOutputOverlappingAncestorsBothMatch(t *testing.T) {
	a := SubdivideOutput{MaxZoom: u32ptr(10), Tiles: []tileTriple{{X: 0, Y: 0, Z: 1}}}
	b := SubdivideOutput{MaxZoom: u32ptr(10), Tiles: []tileTriple{{X: 0, Y: 0, Z: 0}}}
	tile := TileId{X: 0, Y: 0, Z: 2}
	assert.True(t, a.matches(tile))
	assert.True(t, b.matches(tile))
}

func readAllTiles(t *testing.T, path string) map[TileId]string {
	t.Helper()
	r, err := NewReader(discardLogger(), path)
	assert.NoError(t, err)
	out := make(chan TileData, 1024)
	assert.NoError(t, r.Iter(context.Background(), out))
	got := make(map[TileId]string)
	for td := range out {
		got[td.ID] = string(td.Data.Bytes())
	}
	return got
}

func TestSubdivideRoutesTilesToOverlappingOutputs(t *testing.T) {
	dir := t.TempDir()
	inputPath := filepath.Join(dir, "input.mbtiles")

	w, err := NewWriter(discardLogger(), inputPath)
	assert.NoError(t, err)
	tiles := map[TileId]string{
		{X: 0, Y: 0, Z: 1}: "west",
		{X: 1, Y: 0, Z: 1}: "east",
		{X: 0, Y: 0, Z: 2}: "west-child",
		{X: 3, Y: 1, Z: 2}: "east-child",
	}
	for id, data := range tiles {
		assert.NoError(t, w.WriteTile(TileData{ID: id, Data: NewSharedBytes([]byte(data))}))
	}
	assert.NoError(t, w.WriteMetadata(map[string]string{"name": "fixture", "minzoom": "0", "maxzoom": "9"}))
	assert.NoError(t, w.Close())

	cfg := &SubdivideConfig{Outputs: []SubdivideOutput{
		{Name: "west", Tiles: []tileTriple{{X: 0, Y: 0, Z: 1}}},
		{Name: "east", Tiles: []tileTriple{{X: 1, Y: 0, Z: 1}}, MaxZoom: u32ptr(1)},
		{Name: "all", Tiles: []tileTriple{{X: 0, Y: 0, Z: 0}}},
	}}
	outputDir := filepath.Join(dir, "out")
	assert.NoError(t, os.MkdirAll(outputDir, 0o755))
	assert.NoError(t, Subdivide(discardLogger(), inputPath, outputDir, cfg))

	west := readAllTiles(t, filepath.Join(outputDir, "west.mbtiles"))
	assert.Equal(t, map[TileId]string{
		{X: 0, Y: 0, Z: 1}: "west",
		{X: 0, Y: 0, Z: 2}: "west-child",
	}, west)

	// maxzoom 1 keeps east's z2 descendant out of the east output.
	east := readAllTiles(t, filepath.Join(outputDir, "east.mbtiles"))
	assert.Equal(t, map[TileId]string{{X: 1, Y: 0, Z: 1}: "east"}, east)

	// the root-anchored output overlaps both of the others and gets
	// every input tile.
	all := readAllTiles(t, filepath.Join(outputDir, "all.mbtiles"))
	assert.Len(t, all, len(tiles))

	eastMetadata, err := ReadMetadata(filepath.Join(outputDir, "east.mbtiles"))
	assert.NoError(t, err)
	assert.Equal(t, "fixture", eastMetadata["name"])
	assert.Equal(t, "1", eastMetadata["minzoom"])
	assert.Equal(t, "1", eastMetadata["maxzoom"])

	allMetadata, err := ReadMetadata(filepath.Join(outputDir, "all.mbtiles"))
	assert.NoError(t, err)
	assert.Equal(t, "1", allMetadata["minzoom"])
	assert.Equal(t, "2", allMetadata["maxzoom"])
}

func TestLoadSubdivideConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdivide.json")
	content := `{
		"outputs": [
			{"name": "west", "maxzoom": 8, "tiles": [[0,0,1]]},
			{"name": "east", "tiles": [[1,0,1]]}
		]
	}`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadSubdivideConfig(path)
	assert.NoError(t, err)
	assert.Len(t, cfg.Outputs, 2)
	assert.Equal(t, "west", cfg.Outputs[0].Name)
	assert.Equal(t, TileId{X: 0, Y: 0, Z: 1}, TileId(cfg.Outputs[0].Tiles[0]))
	assert.Equal(t, uint32(8), *cfg.Outputs[0].MaxZoom)
	assert.Nil(t, cfg.Outputs[1].MaxZoom)
}
