package mbtiles

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// GeomType mirrors the vector_tile.proto Tile.GeomType enum.
type GeomType int32

const (
	GeomUnknown GeomType = 0
	GeomPoint   GeomType = 1
	GeomLine    GeomType = 2
	GeomPolygon GeomType = 3
)

// Feature field numbers, per the Mapbox Vector Tile schema.
const (
	featureFieldID       = 1
	featureFieldTags     = 2
	featureFieldType     = 3
	featureFieldGeometry = 4
)

// Layer field numbers.
const (
	layerFieldName     = 1
	layerFieldFeatures = 2
	layerFieldKeys     = 3
	layerFieldValues   = 4
	layerFieldExtent   = 5
	layerFieldVersion  = 15
)

// Tile field numbers.
const tileFieldLayers = 3

// Feature is a single vector-tile feature. ID and Tags are opaque to this
// toolkit (it never interprets attribute semantics) but are preserved
// exactly across decode/encode.
type Feature struct {
	HasID    bool
	ID       uint64
	Tags     []uint32
	Type     GeomType
	Geometry []uint32

	// extra holds any field this decoder didn't recognize, in wire order,
	// so re-encoding never silently drops data from a feature produced by
	// a newer encoder.
	extra []byte
}

// Layer is one named layer of features sharing an attribute key/value
// dictionary. Keys and Values are carried opaquely; this toolkit only
// touches Name, Extent, and each Feature's Geometry/Type.
type Layer struct {
	Version  uint32
	Name     string
	Features []*Feature
	Keys     []string
	// Values holds each value's already wire-encoded Tile.Value submessage
	// body, untouched.
	Values [][]byte
	Extent uint32

	extra []byte
}

// Tile is the top-level vector-tile message: a set of layers.
type Tile struct {
	Layers []*Layer

	extra []byte
}

// Clone returns a deep copy of t, safe to mutate independently (used by
// overzoom, which rescales a fresh geometry per descendant tile while
// sharing the decoded source Tile across descendants).
func (t *Tile) Clone() *Tile {
	clone := &Tile{extra: append([]byte(nil), t.extra...)}
	clone.Layers = make([]*Layer, len(t.Layers))
	for i, l := range t.Layers {
		clone.Layers[i] = l.Clone()
	}
	return clone
}

// Clone returns a deep copy of l.
func (l *Layer) Clone() *Layer {
	clone := &Layer{
		Version: l.Version,
		Name:    l.Name,
		Keys:    append([]string(nil), l.Keys...),
		Extent:  l.Extent,
		extra:   append([]byte(nil), l.extra...),
	}
	clone.Values = make([][]byte, len(l.Values))
	for i, v := range l.Values {
		clone.Values[i] = append([]byte(nil), v...)
	}
	clone.Features = make([]*Feature, len(l.Features))
	for i, f := range l.Features {
		clone.Features[i] = f.Clone()
	}
	return clone
}

// Clone returns a deep copy of f.
func (f *Feature) Clone() *Feature {
	return &Feature{
		HasID:    f.HasID,
		ID:       f.ID,
		Tags:     append([]uint32(nil), f.Tags...),
		Type:     f.Type,
		Geometry: append([]uint32(nil), f.Geometry...),
		extra:    append([]byte(nil), f.extra...),
	}
}

// DecodeTile parses the protobuf wire format of a Mapbox Vector Tile.
func DecodeTile(data []byte) (*Tile, error) {
	tile := &Tile{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decode tile: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == tileFieldLayers && typ == protowire.BytesType:
			body, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decode tile layer: %w", protowire.ParseError(m))
			}
			layer, err := decodeLayer(body)
			if err != nil {
				return nil, err
			}
			tile.Layers = append(tile.Layers, layer)
			data = data[m:]
		default:
			consumed, rest, err := copyUnknownField(data, num, typ)
			if err != nil {
				return nil, fmt.Errorf("decode tile: %w", err)
			}
			tile.extra = append(tile.extra, consumed...)
			data = rest
		}
	}
	return tile, nil
}

func decodeLayer(data []byte) (*Layer, error) {
	layer := &Layer{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decode layer: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == layerFieldName && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decode layer name: %w", protowire.ParseError(m))
			}
			layer.Name = string(v)
			data = data[m:]
		case num == layerFieldFeatures && typ == protowire.BytesType:
			body, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decode layer feature: %w", protowire.ParseError(m))
			}
			feature, err := decodeFeature(body)
			if err != nil {
				return nil, err
			}
			layer.Features = append(layer.Features, feature)
			data = data[m:]
		case num == layerFieldKeys && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decode layer key: %w", protowire.ParseError(m))
			}
			layer.Keys = append(layer.Keys, string(v))
			data = data[m:]
		case num == layerFieldValues && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decode layer value: %w", protowire.ParseError(m))
			}
			layer.Values = append(layer.Values, append([]byte(nil), v...))
			data = data[m:]
		case num == layerFieldExtent && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("decode layer extent: %w", protowire.ParseError(m))
			}
			layer.Extent = uint32(v)
			data = data[m:]
		case num == layerFieldVersion && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("decode layer version: %w", protowire.ParseError(m))
			}
			layer.Version = uint32(v)
			data = data[m:]
		default:
			consumed, rest, err := copyUnknownField(data, num, typ)
			if err != nil {
				return nil, fmt.Errorf("decode layer: %w", err)
			}
			layer.extra = append(layer.extra, consumed...)
			data = rest
		}
	}
	if layer.Extent == 0 {
		layer.Extent = 4096
	}
	if layer.Version == 0 {
		layer.Version = 1
	}
	return layer, nil
}

func decodeFeature(data []byte) (*Feature, error) {
	feature := &Feature{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decode feature: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == featureFieldID && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("decode feature id: %w", protowire.ParseError(m))
			}
			feature.ID = v
			feature.HasID = true
			data = data[m:]
		case num == featureFieldTags && typ == protowire.BytesType:
			body, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decode feature tags: %w", protowire.ParseError(m))
			}
			tags, err := decodePackedVarints(body)
			if err != nil {
				return nil, fmt.Errorf("decode feature tags: %w", err)
			}
			feature.Tags = tags
			data = data[m:]
		case num == featureFieldType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("decode feature type: %w", protowire.ParseError(m))
			}
			feature.Type = GeomType(v)
			data = data[m:]
		case num == featureFieldGeometry && typ == protowire.BytesType:
			body, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("decode feature geometry: %w", protowire.ParseError(m))
			}
			geom, err := decodePackedVarints(body)
			if err != nil {
				return nil, fmt.Errorf("decode feature geometry: %w", err)
			}
			feature.Geometry = geom
			data = data[m:]
		default:
			consumed, rest, err := copyUnknownField(data, num, typ)
			if err != nil {
				return nil, fmt.Errorf("decode feature: %w", err)
			}
			feature.extra = append(feature.extra, consumed...)
			data = rest
		}
	}
	return feature, nil
}

func decodePackedVarints(data []byte) ([]uint32, error) {
	var out []uint32
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, uint32(v))
		data = data[n:]
	}
	return out, nil
}

// copyUnknownField re-serializes a field whose tag has already been
// consumed from the front of data, returning the bytes consumed
// (including the tag) and the remaining data.
func copyUnknownField(data []byte, num protowire.Number, typ protowire.Type) ([]byte, []byte, error) {
	var valueLen int
	switch typ {
	case protowire.VarintType:
		_, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		valueLen = n
	case protowire.Fixed32Type:
		_, n := protowire.ConsumeFixed32(data)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		valueLen = n
	case protowire.Fixed64Type:
		_, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		valueLen = n
	case protowire.BytesType:
		_, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		valueLen = n
	default:
		return nil, nil, fmt.Errorf("unsupported wire type %d for field %d", typ, num)
	}
	tag := protowire.AppendTag(nil, num, typ)
	full := append(tag, data[:valueLen]...)
	return full, data[valueLen:], nil
}

// Encode serializes t back to protobuf wire format.
func (t *Tile) Encode() []byte {
	var buf []byte
	for _, layer := range t.Layers {
		body := layer.Encode()
		buf = protowire.AppendTag(buf, tileFieldLayers, protowire.BytesType)
		buf = protowire.AppendBytes(buf, body)
	}
	buf = append(buf, t.extra...)
	return buf
}

// Encode serializes l back to protobuf wire format.
func (l *Layer) Encode() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, layerFieldName, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(l.Name))

	for _, f := range l.Features {
		body := f.Encode()
		buf = protowire.AppendTag(buf, layerFieldFeatures, protowire.BytesType)
		buf = protowire.AppendBytes(buf, body)
	}
	for _, k := range l.Keys {
		buf = protowire.AppendTag(buf, layerFieldKeys, protowire.BytesType)
		buf = protowire.AppendBytes(buf, []byte(k))
	}
	for _, v := range l.Values {
		buf = protowire.AppendTag(buf, layerFieldValues, protowire.BytesType)
		buf = protowire.AppendBytes(buf, v)
	}
	buf = protowire.AppendTag(buf, layerFieldExtent, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(l.Extent))
	buf = protowire.AppendTag(buf, layerFieldVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(l.Version))
	buf = append(buf, l.extra...)
	return buf
}

// Encode serializes f back to protobuf wire format.
func (f *Feature) Encode() []byte {
	var buf []byte
	if f.HasID {
		buf = protowire.AppendTag(buf, featureFieldID, protowire.VarintType)
		buf = protowire.AppendVarint(buf, f.ID)
	}
	if len(f.Tags) > 0 {
		buf = protowire.AppendTag(buf, featureFieldTags, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodePackedVarints(f.Tags))
	}
	buf = protowire.AppendTag(buf, featureFieldType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(f.Type))
	buf = protowire.AppendTag(buf, featureFieldGeometry, protowire.BytesType)
	buf = protowire.AppendBytes(buf, encodePackedVarints(f.Geometry))
	buf = append(buf, f.extra...)
	return buf
}

func encodePackedVarints(values []uint32) []byte {
	var buf []byte
	for _, v := range values {
		buf = protowire.AppendVarint(buf, uint64(v))
	}
	return buf
}
