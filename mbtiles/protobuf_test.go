package mbtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTileEncodeDecodeRoundTrip(t *testing.T) {
	original := &Tile{
		Layers: []*Layer{
			{
				Version: 2,
				Name:    "roads",
				Keys:    []string{"class", "name"},
				Values:  [][]byte{{0x0a, 0x03, 'f', 'o', 'o'}},
				Extent:  4096,
				Features: []*Feature{
					{
						HasID:    true,
						ID:       42,
						Tags:     []uint32{0, 0},
						Type:     GeomLine,
						Geometry: EncodeGeometry(GeomLine, []LineString{{Points: []Point{{X: 0, Y: 0}, {X: 10, Y: 10}}}}),
					},
					{
						Type:     GeomPolygon,
						Geometry: EncodeGeometry(GeomPolygon, []LineString{{Points: []Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}}}),
					},
				},
			},
		},
	}

	encoded := original.Encode()
	decoded, err := DecodeTile(encoded)
	assert.NoError(t, err)
	assert.Equal(t, len(original.Layers), len(decoded.Layers))

	gotLayer := decoded.Layers[0]
	wantLayer := original.Layers[0]
	assert.Equal(t, wantLayer.Name, gotLayer.Name)
	assert.Equal(t, wantLayer.Version, gotLayer.Version)
	assert.Equal(t, wantLayer.Extent, gotLayer.Extent)
	assert.Equal(t, wantLayer.Keys, gotLayer.Keys)
	assert.Equal(t, wantLayer.Values, gotLayer.Values)
	assert.Len(t, gotLayer.Features, 2)
	assert.Equal(t, wantLayer.Features[0].ID, gotLayer.Features[0].ID)
	assert.True(t, gotLayer.Features[0].HasID)
	assert.Equal(t, wantLayer.Features[0].Tags, gotLayer.Features[0].Tags)
	assert.Equal(t, wantLayer.Features[0].Geometry, gotLayer.Features[0].Geometry)
	assert.False(t, gotLayer.Features[1].HasID)
	assert.Equal(t, GeomPolygon, gotLayer.Features[1].Type)
}

func TestTileCloneIsIndependent(t *testing.T) {
	original := &Tile{Layers: []*Layer{{
		Name:   "layer",
		Extent: 4096,
		Features: []*Feature{{
			Type:     GeomPoint,
			Geometry: []uint32{9, 1, 1},
		}},
	}}}
	clone := original.Clone()
	clone.Layers[0].Features[0].Geometry[0] = 0
	assert.Equal(t, uint32(9), original.Layers[0].Features[0].Geometry[0])
}
