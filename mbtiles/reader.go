package mbtiles

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/sqlite"
)

// ExtentChunkTileCount bounds how many tiles a single reader shard scans
// in one SQL range query, and is also the writer's commit cadence: large
// enough to keep per-statement overhead low, small enough that one
// transaction never holds the whole archive.
const ExtentChunkTileCount = 1 << 15

// ZoomExtent is a rectangular run of tiles within a single zoom level,
// tile_column/tile_row bounds inclusive, in the archive's native TMS row
// order.
type ZoomExtent struct {
	Zoom   uint32
	MinCol uint32
	MaxCol uint32
	MinRow uint32
	MaxRow uint32
}

// TileCount returns the number of tiles the extent covers, assuming the
// underlying archive is dense over the rectangle (an overestimate is
// harmless; it only governs how finely extents are split).
func (e ZoomExtent) TileCount() uint64 {
	cols := uint64(e.MaxCol-e.MinCol) + 1
	rows := uint64(e.MaxRow-e.MinRow) + 1
	return cols * rows
}

// splitZoomExtent recursively halves e's longer dimension until every
// piece covers at most ExtentChunkTileCount tiles. An oversized extent
// is left whole once halving either side would produce a strip one or
// two tiles across.
func splitZoomExtent(e ZoomExtent) []ZoomExtent {
	if e.TileCount() <= ExtentChunkTileCount {
		return []ZoomExtent{e}
	}

	halfWidth := (e.MaxCol - e.MinCol) / 2
	halfHeight := (e.MaxRow - e.MinRow) / 2
	if halfWidth <= 1 || halfHeight <= 1 {
		return []ZoomExtent{e}
	}

	if halfWidth > halfHeight {
		left := ZoomExtent{Zoom: e.Zoom, MinCol: e.MinCol, MaxCol: e.MinCol + halfWidth, MinRow: e.MinRow, MaxRow: e.MaxRow}
		right := ZoomExtent{Zoom: e.Zoom, MinCol: e.MinCol + halfWidth + 1, MaxCol: e.MaxCol, MinRow: e.MinRow, MaxRow: e.MaxRow}
		return append(splitZoomExtent(left), splitZoomExtent(right)...)
	}

	top := ZoomExtent{Zoom: e.Zoom, MinCol: e.MinCol, MaxCol: e.MaxCol, MinRow: e.MinRow, MaxRow: e.MinRow + halfHeight}
	bottom := ZoomExtent{Zoom: e.Zoom, MinCol: e.MinCol, MaxCol: e.MaxCol, MinRow: e.MinRow + halfHeight + 1, MaxRow: e.MaxRow}
	return append(splitZoomExtent(top), splitZoomExtent(bottom)...)
}

// WorkerCount returns the reader and overzoom transform pool size this toolkit
// uses throughout: max(NumCPU-2, 2), leaving headroom for the single
// writer goroutine and the OS.
func WorkerCount() int {
	w := runtime.NumCPU() - 2
	if w < 2 {
		w = 2
	}
	return w
}

// initializeExtents queries the full zoom-level bounding rectangle of
// every populated zoom in the archive, then splits each into chunks no
// larger than ExtentChunkTileCount tiles.
func initializeExtents(conn *sqlite.Conn) ([]ZoomExtent, error) {
	stmt, _, err := conn.PrepareTransient(
		"SELECT zoom_level, min(tile_column), max(tile_column), min(tile_row), max(tile_row) FROM tiles GROUP BY zoom_level")
	if err != nil {
		return nil, fmt.Errorf("prepare extent query: %w", err)
	}
	defer stmt.Finalize()

	var extents []ZoomExtent
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("step extent query: %w", err)
		}
		if !hasRow {
			break
		}
		e := ZoomExtent{
			Zoom:   uint32(stmt.ColumnInt64(0)),
			MinCol: uint32(stmt.ColumnInt64(1)),
			MaxCol: uint32(stmt.ColumnInt64(2)),
			MinRow: uint32(stmt.ColumnInt64(3)),
			MaxRow: uint32(stmt.ColumnInt64(4)),
		}
		extents = append(extents, splitZoomExtent(e)...)
	}
	return extents, nil
}

// assignExtents deterministically distributes extents across workerCount
// workers round-robin, then shuffles each worker's own slice with a seed
// derived from the worker index. Shuffling avoids every worker racing
// through its extents in the same zoom-ascending order (which would
// otherwise bunch all workers on the same few source pages at once);
// seeding by worker index keeps a given archive's run-to-run assignment
// reproducible.
func assignExtents(extents []ZoomExtent, workerCount int) [][]ZoomExtent {
	buckets := make([][]ZoomExtent, workerCount)
	for i, e := range extents {
		w := i % workerCount
		buckets[w] = append(buckets[w], e)
	}
	for w := range buckets {
		r := rand.New(rand.NewSource(int64(w) + 1))
		r.Shuffle(len(buckets[w]), func(i, j int) {
			buckets[w][i], buckets[w][j] = buckets[w][j], buckets[w][i]
		})
	}
	return buckets
}

// Reader fans a source MBTiles archive out across WorkerCount() goroutines,
// each holding its own SQLite connection and prepared statement; SQLite
// handles are never shared across goroutines.
type Reader struct {
	path    string
	logger  *log.Logger
	buckets [][]ZoomExtent
}

// NewReader opens path read-only just long enough to plan the chunk
// assignment, then closes it; Iter reopens one connection per worker.
func NewReader(logger *log.Logger, path string) (*Reader, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer conn.Close()

	if err := execStatement(conn, "PRAGMA query_only = true"); err != nil {
		return nil, fmt.Errorf("set query_only on %s: %w", path, err)
	}

	extents, err := initializeExtents(conn)
	if err != nil {
		return nil, fmt.Errorf("plan extents for %s: %w", path, err)
	}

	workerCount := WorkerCount()
	logger.Printf("reader: %d tile extents across %d workers", len(extents), workerCount)

	return &Reader{
		path:    path,
		logger:  logger,
		buckets: assignExtents(extents, workerCount),
	}, nil
}

// ReadMetadata reads the archive's metadata table into a plain map.
func ReadMetadata(path string) (map[string]string, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer conn.Close()

	if err := execStatement(conn, "PRAGMA query_only = true"); err != nil {
		return nil, fmt.Errorf("set query_only on %s: %w", path, err)
	}

	stmt, _, err := conn.PrepareTransient("SELECT name, value FROM metadata")
	if err != nil {
		return nil, fmt.Errorf("prepare metadata query: %w", err)
	}
	defer stmt.Finalize()

	metadata := make(map[string]string)
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("step metadata query: %w", err)
		}
		if !hasRow {
			break
		}
		metadata[stmt.ColumnText(0)] = stmt.ColumnText(1)
	}
	return metadata, nil
}

// Iter streams every tile assigned to this reader's workers onto out, in
// XYZ (north-up) coordinates, closing out once all workers finish. Tiles
// arrive in no particular cross-worker order.
func (r *Reader) Iter(ctx context.Context, out chan<- TileData) error {
	g, ctx := errgroup.WithContext(ctx)

	for workerID, extents := range r.buckets {
		extents := extents
		workerID := workerID
		g.Go(func() error {
			return r.runWorker(ctx, workerID, extents, out)
		})
	}

	err := g.Wait()
	close(out)
	return err
}

func (r *Reader) runWorker(ctx context.Context, workerID int, extents []ZoomExtent, out chan<- TileData) error {
	if len(extents) == 0 {
		return nil
	}

	conn, err := sqlite.OpenConn(r.path, sqlite.OpenReadOnly)
	if err != nil {
		return fmt.Errorf("worker %d: open %s: %w", workerID, r.path, err)
	}
	defer conn.Close()

	if err := execStatement(conn, "PRAGMA query_only = true"); err != nil {
		return fmt.Errorf("worker %d: set query_only: %w", workerID, err)
	}

	stmt := conn.Prep("SELECT tile_column, tile_row, tile_data FROM tiles " +
		"WHERE zoom_level = ? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?")
	defer stmt.Finalize()

	for _, e := range extents {
		if err := ctx.Err(); err != nil {
			return err
		}

		stmt.BindInt64(1, int64(e.Zoom))
		stmt.BindInt64(2, int64(e.MinCol))
		stmt.BindInt64(3, int64(e.MaxCol))
		stmt.BindInt64(4, int64(e.MinRow))
		stmt.BindInt64(5, int64(e.MaxRow))

		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return fmt.Errorf("worker %d: step tiles: %w", workerID, err)
			}
			if !hasRow {
				break
			}

			col := uint32(stmt.ColumnInt64(0))
			row := uint32(stmt.ColumnInt64(1))
			data := make([]byte, stmt.ColumnLen(2))
			stmt.ColumnBytes(2, data)

			id := FlipX(TileId{X: col, Y: row, Z: e.Zoom})

			select {
			case out <- TileData{ID: id, Data: NewSharedBytes(data)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		stmt.ClearBindings()
		stmt.Reset()
	}

	return nil
}
