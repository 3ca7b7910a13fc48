package mbtiles

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// subdivideChannelCapacity is the bounded channel size between the
// reader and every subdivide output writer.
const subdivideChannelCapacity = 100_000

// tileTriple unmarshals a tile address from its config-file form, a
// 3-element [x, y, z] JSON array, rather than TileId's own {"x":..,
// "y":.., "z":..} object form.
type tileTriple TileId

func (t *tileTriple) UnmarshalJSON(data []byte) error {
	var triple [3]uint32
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("tile address must be a [x, y, z] triple: %w", err)
	}
	t.X, t.Y, t.Z = triple[0], triple[1], triple[2]
	return nil
}

// SubdivideOutput describes one destination archive: every input tile
// that is a descendant of (or equal to) any tile in Tiles, and whose
// zoom is at most MaxZoom (when set), is copied into it.
// Tiles from different outputs may overlap, in which case a single
// input tile is written to every matching output.
type SubdivideOutput struct {
	Name    string       `json:"name"`
	Tiles   []tileTriple `json:"tiles"`
	MaxZoom *uint32      `json:"maxzoom"`
}

// SubdivideConfig is the on-disk JSON description of a subdivide run.
type SubdivideConfig struct {
	Outputs []SubdivideOutput `json:"outputs"`
}

// LoadSubdivideConfig reads and parses a SubdivideConfig from path.
func LoadSubdivideConfig(path string) (*SubdivideConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subdivide config %s: %w", path, err)
	}
	var cfg SubdivideConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse subdivide config %s: %w", path, err)
	}
	return &cfg, nil
}

// maxZoomOrInfinity returns o.MaxZoom, or math.MaxUint32 when unset,
// so an output without a configured maxzoom accepts every zoom level.
func (o SubdivideOutput) maxZoomOrInfinity() uint32 {
	if o.MaxZoom == nil {
		return math.MaxUint32
	}
	return *o.MaxZoom
}

// matches reports whether id should route to this output: z(id) is
// within the configured max zoom, and any of the output's configured
// tiles is an ancestor of id.
func (o SubdivideOutput) matches(id TileId) bool {
	if id.Z > o.maxZoomOrInfinity() {
		return false
	}
	for _, ancestor := range o.Tiles {
		if IsAncestor(id, TileId(ancestor)) {
			return true
		}
	}
	return false
}

// Subdivide reads every tile from inputPath once and fans it out, by
// reference (TileData.Data is never copied), to every output archive
// under outputDir it matches. Each output archive is named
// "<name>.mbtiles" and is owned by its own writer goroutine fed through
// a bounded channel; it carries the input archive's metadata with its
// minzoom/maxzoom overridden by the zoom range actually observed in
// that output's tiles.
func Subdivide(logger *log.Logger, inputPath string, outputDir string, cfg *SubdivideConfig) error {
	metadata, err := ReadMetadata(inputPath)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	g := new(errgroup.Group)
	channels := make([]chan TileData, len(cfg.Outputs))
	for i, out := range cfg.Outputs {
		ch := make(chan TileData, subdivideChannelCapacity)
		channels[i] = ch
		name := out.Name
		path := filepath.Join(outputDir, name+".mbtiles")
		logger.Printf("subdivide: spawning writer for output %s at %s", name, path)
		g.Go(func() error {
			return runSubdivideWriter(logger, path, name, ch, metadata)
		})
	}

	reader, err := NewReader(logger, inputPath)
	if err != nil {
		for _, ch := range channels {
			close(ch)
		}
		g.Wait()
		return fmt.Errorf("open reader for %s: %w", inputPath, err)
	}

	ctx := context.Background()
	tiles := make(chan TileData, subdivideChannelCapacity)
	readErr := make(chan error, 1)
	go func() {
		readErr <- reader.Iter(ctx, tiles)
	}()

	for t := range tiles {
		// Every matching output gets the tile; overlapping outputs are
		// supported, so no early break.
		for i, out := range cfg.Outputs {
			if out.matches(t.ID) {
				channels[i] <- t
			}
		}
	}
	for _, ch := range channels {
		close(ch)
	}

	if err := <-readErr; err != nil {
		g.Wait()
		return fmt.Errorf("read %s: %w", inputPath, err)
	}
	return g.Wait()
}

// runSubdivideWriter drains one output's tile channel into its archive,
// then stamps the copied-through metadata with the zoom range this
// output actually received. On failure it keeps draining the channel so
// the fan-out loop never blocks on a dead output.
func runSubdivideWriter(logger *log.Logger, path, name string, tiles <-chan TileData, metadata map[string]string) error {
	w, err := NewWriter(logger, path)
	if err != nil {
		for range tiles {
		}
		return fmt.Errorf("create output %s: %w", path, err)
	}

	for t := range tiles {
		if err := w.WriteTile(t); err != nil {
			w.Close()
			for range tiles {
			}
			return fmt.Errorf("write tile to output %s: %w", name, err)
		}
	}

	outMetadata := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		outMetadata[k] = v
	}
	if minZoom, maxZoom, ok := w.ObservedZoomRange(); ok {
		outMetadata["minzoom"] = strconv.FormatUint(uint64(minZoom), 10)
		outMetadata["maxzoom"] = strconv.FormatUint(uint64(maxZoom), 10)
	}
	if err := w.WriteMetadata(outMetadata); err != nil {
		w.Close()
		return fmt.Errorf("write metadata to output %s: %w", name, err)
	}

	logger.Printf("subdivide: output %s finished", name)
	return w.Close()
}
