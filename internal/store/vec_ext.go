//go:build sqlite_vec && cgo

package store

import (
	"context"
	"database/sql"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Register sqlite-vec as an auto-loaded extension for mattn/go-sqlite3.
	vec.Auto()
	driverName = "sqlite3"
	newANNIndexer = func() annIndexer { return vecIndexer{} }
}

// vecIndexer keeps one vec0 table per embedding dimension, keyed by
// vector_documents.id.
type vecIndexer struct{}

func vecTable(dims int) string { return fmt.Sprintf("vec_documents_%d", dims) }

func (vecIndexer) ensure(ctx context.Context, db *sql.DB, dims int) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d] distance_metric=cosine)", vecTable(dims), dims))
	return err
}

func (vecIndexer) upsert(ctx context.Context, tx *sql.Tx, dims int, rowID int64, v []float32) error {
	blob, err := vec.SerializeFloat32(v)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", vecTable(dims)), rowID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (rowid, embedding) VALUES (?, ?)", vecTable(dims)), rowID, blob)
	return err
}

func (vecIndexer) search(ctx context.Context, db *sql.DB, dims int, v []float32, k int) ([]annHit, error) {
	blob, err := vec.SerializeFloat32(v)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT rowid, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance", vecTable(dims)), blob, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []annHit
	for rows.Next() {
		var h annHit
		if err := rows.Scan(&h.rowID, &h.distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (vecIndexer) drop(ctx context.Context, tx *sql.Tx, dims int, rowIDs []int64) error {
	for _, id := range rowIDs {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", vecTable(dims)), id); err != nil {
			return err
		}
	}
	return nil
}
