package mbtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// isGzipped reports whether data already carries a gzip magic header.
// The original converter this toolkit descends from checked
// `data[0] != 0x1f && data[1] != 0x8b` with no length guard — a bug that
// both indexes a possibly-empty slice and, because of the `&&`, treats
// almost everything as "already gzipped" (only tiles rejected by *both*
// magic bytes were recompressed). This is the corrected check.
func isGzipped(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ensureCompressed returns data unchanged if it is already gzip-compressed,
// otherwise a freshly gzip-compressed copy.
func ensureCompressed(data []byte) ([]byte, error) {
	if isGzipped(data) {
		return data, nil
	}
	return gzipCompress(data)
}

// convertTileFile holds one discovered tile on disk, addressed by the
// z/x/y.ext directory convention.
type convertTileFile struct {
	id   TileId
	path string
}

// parseTilePath extracts a TileId from a path relative to the input root,
// expecting the {z}/{x}/{y}.{ext} layout (three path/extension
// components: z, x, and y with its file extension split off).
func parseTilePath(rel string) (TileId, bool) {
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return TileId{}, false
	}

	z, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return TileId{}, false
	}
	x, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return TileId{}, false
	}

	yName := parts[2]
	dot := strings.LastIndex(yName, ".")
	if dot < 0 {
		return TileId{}, false
	}
	ext := yName[dot+1:]
	if ext != "pbf" && ext != "mvt" {
		return TileId{}, false
	}
	y, err := strconv.ParseUint(yName[:dot], 10, 32)
	if err != nil {
		return TileId{}, false
	}

	return TileId{X: uint32(x), Y: uint32(y), Z: uint32(z)}, true
}

// loadDirectoryMetadata reads metadata.json at the root of a tile
// directory tree, if present. String values pass through verbatim;
// any other JSON value (numbers, booleans, nested objects/arrays) is
// re-stringified, matching the convention MBTiles metadata values are
// themselves always stored as TEXT.
func loadDirectoryMetadata(root string) (map[string]string, error) {
	path := filepath.Join(root, "metadata.json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	metadata := make(map[string]string, len(parsed))
	for k, v := range parsed {
		if s, ok := v.(string); ok {
			metadata[k] = s
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("re-encode metadata field %q: %w", k, err)
		}
		metadata[k] = string(encoded)
	}
	return metadata, nil
}

// Convert ingests a directory tree of {z}/{x}/{y}.{ext} tile files plus an
// optional metadata.json into a new MBTiles archive at outputPath.
func Convert(logger *log.Logger, inputDir string, outputPath string) error {
	metadata, err := loadDirectoryMetadata(inputDir)
	if err != nil {
		return fmt.Errorf("load metadata for %s: %w", inputDir, err)
	}

	var files []convertTileFile
	err = filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Base(path) == "metadata.json" {
			return nil
		}
		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		id, ok := parseTilePath(rel)
		if !ok {
			logger.Printf("convert: skipping %s, does not match {z}/{x}/{y}.{ext}", rel)
			return nil
		}
		files = append(files, convertTileFile{id: id, path: path})
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", inputDir, err)
	}

	logger.Printf("convert: found %d tile files under %s", len(files), inputDir)

	writer, err := NewWriter(logger, outputPath)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", outputPath, err)
	}

	bar := NewProgress(int64(len(files)), false)
	for _, f := range files {
		raw, err := os.ReadFile(f.path)
		if err != nil {
			writer.Close()
			return fmt.Errorf("read %s: %w", f.path, err)
		}
		compressed, err := ensureCompressed(raw)
		if err != nil {
			writer.Close()
			return fmt.Errorf("compress %s: %w", f.path, err)
		}
		if err := writer.WriteTile(TileData{ID: f.id, Data: NewSharedBytes(compressed)}); err != nil {
			writer.Close()
			return fmt.Errorf("write tile from %s: %w", f.path, err)
		}
		bar.Add(1)
	}
	bar.Finish()

	if err := writer.WriteMetadata(metadata); err != nil {
		writer.Close()
		return fmt.Errorf("write metadata: %w", err)
	}

	return writer.Close()
}
