package mbtiles

import (
	"fmt"
	"log"
	"time"

	"zombiezen.com/go/sqlite"
)

// writerSetup is run statement-by-statement when an output archive is
// opened. Durability pragmas are relaxed for the duration of the bulk
// load; Close restores a rollback journal with PRAGMA journal_mode =
// DELETE once the last transaction has committed.
var writerSetup = []string{
	"PRAGMA synchronous = OFF",
	"PRAGMA journal_mode = MEMORY",
	"CREATE TABLE IF NOT EXISTS metadata (name TEXT, value TEXT)",
	"CREATE TABLE IF NOT EXISTS tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)",
	"CREATE UNIQUE INDEX IF NOT EXISTS name ON metadata (name)",
	"CREATE UNIQUE INDEX IF NOT EXISTS xyz ON tiles (zoom_level, tile_column, tile_row)",
	"BEGIN TRANSACTION",
}

// execStatement runs one self-contained SQL statement (a pragma, DDL,
// or transaction control), discarding any result row it returns.
func execStatement(conn *sqlite.Conn, sql string) error {
	stmt, _, err := conn.PrepareTransient(sql)
	if err != nil {
		return err
	}
	defer stmt.Finalize()
	if _, err := stmt.Step(); err != nil {
		return err
	}
	return nil
}

// Writer owns all writes to a destination MBTiles archive and is driven
// by a single goroutine. Every convert/overzoom/subdivide operation
// funnels each output archive's tiles through one Writer: SQLite permits only one writer at
// a time, so fanning writes out across goroutines would only add lock
// contention.
type Writer struct {
	conn       *sqlite.Conn
	logger     *log.Logger
	insertStmt *sqlite.Stmt
	count      uint64
	start      time.Time
	lastLog    time.Time
	minZoom    uint32
	maxZoom    uint32
	haveZoom   bool
}

// NewWriter creates the tiles/metadata schema at path and opens a
// transaction for the first batch of writes.
func NewWriter(logger *log.Logger, path string) (*Writer, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("open %s for writing: %w", path, err)
	}

	for _, sql := range writerSetup {
		if err := execStatement(conn, sql); err != nil {
			conn.Close()
			return nil, fmt.Errorf("initialize %s: %w", path, err)
		}
	}

	insertStmt := conn.Prep(
		"INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")

	return &Writer{
		conn:       conn,
		logger:     logger,
		insertStmt: insertStmt,
		start:      time.Now(),
		lastLog:    time.Now(),
	}, nil
}

// WriteTile inserts one tile, flipping from XYZ back to the archive's
// native TMS row order. Every ExtentChunkTileCount tiles the current
// transaction is committed and a new one opened, so the journal never
// holds more than one chunk of the archive.
func (w *Writer) WriteTile(t TileData) error {
	tms := FlipX(t.ID)

	if !w.haveZoom {
		w.minZoom, w.maxZoom = t.ID.Z, t.ID.Z
		w.haveZoom = true
	} else {
		if t.ID.Z < w.minZoom {
			w.minZoom = t.ID.Z
		}
		if t.ID.Z > w.maxZoom {
			w.maxZoom = t.ID.Z
		}
	}

	w.insertStmt.BindInt64(1, int64(tms.Z))
	w.insertStmt.BindInt64(2, int64(tms.X))
	w.insertStmt.BindInt64(3, int64(tms.Y))
	w.insertStmt.BindBytes(4, t.Data.Bytes())

	if _, err := w.insertStmt.Step(); err != nil {
		return fmt.Errorf("insert tile %d/%d/%d: %w", t.ID.Z, t.ID.X, t.ID.Y, err)
	}
	w.insertStmt.ClearBindings()
	w.insertStmt.Reset()

	w.count++
	if w.count%ExtentChunkTileCount == 0 {
		if err := w.commitAndLog(); err != nil {
			return err
		}
		if err := execStatement(w.conn, "BEGIN TRANSACTION"); err != nil {
			return fmt.Errorf("reopen transaction: %w", err)
		}
	}
	return nil
}

func (w *Writer) commitAndLog() error {
	if err := execStatement(w.conn, "END TRANSACTION"); err != nil {
		return fmt.Errorf("commit tile batch: %w", err)
	}
	now := time.Now()
	elapsed := now.Sub(w.lastLog)
	rate := float64(ExtentChunkTileCount) / elapsed.Seconds()
	w.logger.Printf("writer: committed %d tiles (%.0f tiles/sec)", w.count, rate)
	w.lastLog = now
	return nil
}

// ObservedZoomRange reports the min/max zoom level actually written
// through WriteTile so far. ok is false if no tile has been written yet.
func (w *Writer) ObservedZoomRange() (minZoom, maxZoom uint32, ok bool) {
	return w.minZoom, w.maxZoom, w.haveZoom
}

// WriteMetadata upserts every entry of metadata into the metadata table.
func (w *Writer) WriteMetadata(metadata map[string]string) error {
	stmt := w.conn.Prep("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)")
	defer stmt.Finalize()

	for name, value := range metadata {
		stmt.BindText(1, name)
		stmt.BindText(2, value)
		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("write metadata %q: %w", name, err)
		}
		stmt.ClearBindings()
		stmt.Reset()
	}
	return nil
}

// Close commits the pending transaction, restores the rollback journal,
// and closes the archive. It logs the final tile count and total elapsed
// time, matching the per-chunk throughput log.
func (w *Writer) Close() error {
	if err := execStatement(w.conn, "END TRANSACTION"); err != nil {
		w.conn.Close()
		return fmt.Errorf("final commit: %w", err)
	}
	w.logger.Printf("writer: finished, %d tiles total in %s", w.count, time.Since(w.start))

	if err := execStatement(w.conn, "PRAGMA journal_mode = DELETE"); err != nil {
		w.conn.Close()
		return fmt.Errorf("restore journal mode: %w", err)
	}

	if err := w.conn.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
