package mbtiles

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// overzoomChannelCapacity is the bounded channel size on both sides of
// the transform worker pool.
const overzoomChannelCapacity = 100_000

func maybeDecompress(data []byte) ([]byte, error) {
	if !isGzipped(data) {
		return data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("read gzip stream: %w", err)
	}
	return out, nil
}

// metadataMaxZoom parses the archive's declared "maxzoom" metadata
// value, failing if the key is absent or not an integer: overzoom
// needs the archive's own claim of its native max zoom, not the
// highest zoom level actually populated in the tiles table.
func metadataMaxZoom(metadata map[string]string) (uint32, error) {
	raw, ok := metadata["maxzoom"]
	if !ok {
		return 0, fmt.Errorf("archive metadata has no maxzoom entry")
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse maxzoom metadata %q: %w", raw, err)
	}
	return uint32(v), nil
}

// Overzoom copies every tile from the archive at inputPath to
// outputPath unchanged, then additionally synthesizes every descendant
// down to targetZoom of each tile at the archive's native max zoom, by
// decoding, rescaling, re-clipping, and re-encoding its vector content.
// A pool of transform workers does the decoding; each worker forwards
// an original tile downstream before any descendant synthesized from
// it, so a reader consuming the archive always sees real data ahead of
// overzoomed filler derived from it.
func Overzoom(logger *log.Logger, inputPath string, outputPath string, targetZoom uint32) error {
	metadata, err := ReadMetadata(inputPath)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	maxZoom, err := metadataMaxZoom(metadata)
	if err != nil {
		return fmt.Errorf("determine source max zoom: %w", err)
	}
	if maxZoom >= targetZoom {
		return fmt.Errorf("source max zoom %d must be below target zoom %d", maxZoom, targetZoom)
	}
	logger.Printf("overzoom: extending zoom %d to %d", maxZoom, targetZoom)
	metadata["maxzoom"] = strconv.FormatUint(uint64(targetZoom), 10)

	reader, err := NewReader(logger, inputPath)
	if err != nil {
		return fmt.Errorf("open reader for %s: %w", inputPath, err)
	}

	writer, err := NewWriter(logger, outputPath)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", outputPath, err)
	}

	g, ctx := errgroup.WithContext(context.Background())
	tiles := make(chan TileData, overzoomChannelCapacity)
	transformed := make(chan TileData, overzoomChannelCapacity)

	readErr := make(chan error, 1)
	go func() {
		readErr <- reader.Iter(ctx, tiles)
	}()

	workerCount := WorkerCount()
	logger.Printf("overzoom: spawning %d transform workers", workerCount)
	for workerID := 0; workerID < workerCount; workerID++ {
		workerID := workerID
		g.Go(func() error {
			for t := range tiles {
				select {
				case transformed <- t:
				case <-ctx.Done():
					return ctx.Err()
				}
				if t.ID.Z != maxZoom {
					continue
				}
				descendants, err := overzoomTile(t, targetZoom)
				if err != nil {
					return fmt.Errorf("overzoom tile %d/%d/%d: %w", t.ID.Z, t.ID.X, t.ID.Y, err)
				}
				for _, d := range descendants {
					select {
					case transformed <- d:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			logger.Printf("overzoom: worker %d finished", workerID)
			return nil
		})
	}

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- g.Wait()
		close(transformed)
	}()

	for t := range transformed {
		if err := writer.WriteTile(t); err != nil {
			writer.Close()
			return fmt.Errorf("write tile: %w", err)
		}
	}

	if err := <-workerErr; err != nil {
		writer.Close()
		return err
	}
	if err := <-readErr; err != nil {
		writer.Close()
		return fmt.Errorf("read %s: %w", inputPath, err)
	}

	if err := writer.WriteMetadata(metadata); err != nil {
		writer.Close()
		return fmt.Errorf("write metadata: %w", err)
	}

	return writer.Close()
}

func overzoomTile(t TileData, targetZoom uint32) ([]TileData, error) {
	raw, err := maybeDecompress(t.Data.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decompress source tile: %w", err)
	}
	source, err := DecodeTile(raw)
	if err != nil {
		return nil, fmt.Errorf("decode source tile: %w", err)
	}

	descendantIDs := ChildrenUntilZoom(t.ID, targetZoom)
	out := make([]TileData, 0, len(descendantIDs))

	for _, descendantID := range descendantIDs {
		ancestor, steps, rel := RelativePositionInAncestor(descendantID, t.ID.Z)
		if ancestor != t.ID {
			return nil, fmt.Errorf("descendant %d/%d/%d resolves to ancestor %d/%d/%d, not its source tile",
				descendantID.Z, descendantID.X, descendantID.Y, ancestor.Z, ancestor.X, ancestor.Y)
		}

		descendantTile := source.Clone()
		ScaleTile(descendantTile, steps, rel[0], rel[1])

		encoded := descendantTile.Encode()
		compressed, err := gzipCompress(encoded)
		if err != nil {
			return nil, fmt.Errorf("compress descendant %d/%d/%d: %w", descendantID.Z, descendantID.X, descendantID.Y, err)
		}

		out = append(out, TileData{ID: descendantID, Data: NewSharedBytes(compressed)})
	}

	return out, nil
}
