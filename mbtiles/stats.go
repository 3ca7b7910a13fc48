package mbtiles

import (
	"fmt"

	"zombiezen.com/go/sqlite"
)

// LargeTileThresholds are the two byte-size cutoffs statistics reports
// oversized tiles against.
var LargeTileThresholds = []int64{400_000, 500_000}

// ZoomLevelStats summarizes tile_data size across one zoom level.
type ZoomLevelStats struct {
	Zoom     uint32
	Count    int64
	MinBytes int64
	MaxBytes int64
	AvgBytes float64
}

// LargeTileStats identifies one tile whose tile_data exceeds a threshold.
type LargeTileStats struct {
	Zoom      uint32
	X         uint32
	Y         uint32
	Bytes     int64
	Threshold int64
}

// Statistics is the full report ComputeStatistics produces.
type Statistics struct {
	ZoomLevels []ZoomLevelStats
	LargeTiles []LargeTileStats
}

// ComputeStatistics runs the two read-only aggregate queries over
// path's tiles table: a per-zoom-level size summary, and a listing of
// tiles whose size exceeds each of LargeTileThresholds.
func ComputeStatistics(path string) (*Statistics, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer conn.Close()

	zoomLevels, err := zoomLevelStats(conn)
	if err != nil {
		return nil, fmt.Errorf("compute zoom level stats: %w", err)
	}

	largeTiles, err := largeTileStats(conn)
	if err != nil {
		return nil, fmt.Errorf("compute large tile stats: %w", err)
	}

	return &Statistics{ZoomLevels: zoomLevels, LargeTiles: largeTiles}, nil
}

func zoomLevelStats(conn *sqlite.Conn) ([]ZoomLevelStats, error) {
	stmt, _, err := conn.PrepareTransient(
		"SELECT zoom_level, count(*), min(length(tile_data)), max(length(tile_data)), avg(length(tile_data)) " +
			"FROM tiles GROUP BY zoom_level ORDER BY zoom_level ASC")
	if err != nil {
		return nil, fmt.Errorf("prepare zoom level query: %w", err)
	}
	defer stmt.Finalize()

	var out []ZoomLevelStats
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("step zoom level query: %w", err)
		}
		if !hasRow {
			break
		}
		out = append(out, ZoomLevelStats{
			Zoom:     uint32(stmt.ColumnInt64(0)),
			Count:    stmt.ColumnInt64(1),
			MinBytes: stmt.ColumnInt64(2),
			MaxBytes: stmt.ColumnInt64(3),
			AvgBytes: stmt.ColumnFloat(4),
		})
	}
	return out, nil
}

func largeTileStats(conn *sqlite.Conn) ([]LargeTileStats, error) {
	stmt, _, err := conn.PrepareTransient(
		"SELECT zoom_level, tile_column, tile_row, length(tile_data) FROM tiles WHERE length(tile_data) > ?")
	if err != nil {
		return nil, fmt.Errorf("prepare large tile query: %w", err)
	}
	defer stmt.Finalize()

	var out []LargeTileStats
	for _, threshold := range LargeTileThresholds {
		stmt.BindInt64(1, threshold)
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return nil, fmt.Errorf("step large tile query: %w", err)
			}
			if !hasRow {
				break
			}
			zoom := uint32(stmt.ColumnInt64(0))
			tileRow := uint32(stmt.ColumnInt64(2))
			out = append(out, LargeTileStats{
				Zoom:      zoom,
				X:         (uint32(1) << zoom) - 1 - tileRow,
				Y:         uint32(stmt.ColumnInt64(1)),
				Bytes:     stmt.ColumnInt64(3),
				Threshold: threshold,
			})
		}
		stmt.ClearBindings()
		stmt.Reset()
	}
	return out, nil
}
