// Package store persists embedded documents in named vector collections
// backed by SQLite. Searches run brute-force cosine similarity over stored
// embeddings; builds tagged sqlite_vec additionally maintain a vec0 ANN index.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"tenderpipe/internal/embedding"
	"tenderpipe/internal/logging"
)

// driverName is swapped to mattn's "sqlite3" when sqlite-vec is compiled in.
var driverName = "sqlite"

// annIndexer maintains an approximate-nearest-neighbour index alongside
// vector_documents. Nil means brute force only.
type annIndexer interface {
	ensure(ctx context.Context, db *sql.DB, dims int) error
	upsert(ctx context.Context, tx *sql.Tx, dims int, rowID int64, vec []float32) error
	search(ctx context.Context, db *sql.DB, dims int, vec []float32, k int) ([]annHit, error)
	drop(ctx context.Context, tx *sql.Tx, dims int, rowIDs []int64) error
}

type annHit struct {
	rowID    int64
	distance float64
}

var newANNIndexer func() annIndexer

// Store is a SQLite-backed vector store holding many collections.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
	ann  annIndexer
}

// CollectionInfo describes a registered collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	Engine     string `json:"engine"`
	Dimensions int    `json:"dimensions"`
	Documents  int64  `json:"documents"`
	CreatedAt  string `json:"created_at"`
}

// Open initializes the vector database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	logging.Store("Opening vector store at %s (driver=%s)", path, driverName)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if newANNIndexer != nil {
		s.ann = newANNIndexer()
		logging.Store("sqlite-vec ANN index enabled")
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vector_collections (
		name TEXT PRIMARY KEY,
		engine TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS vector_documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		embedding TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(collection, doc_id)
	);
	CREATE INDEX IF NOT EXISTS idx_vector_documents_collection ON vector_documents(collection);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing vector store %s", s.path)
	return s.db.Close()
}

// DB returns the underlying connection.
func (s *Store) DB() *sql.DB { return s.db }

// ANN reports whether an ANN index is maintained.
func (s *Store) ANN() bool { return s.ann != nil }

// Collection returns the named collection, registering it on first use.
// Reopening a collection with an engine of different dimensionality fails.
func (s *Store) Collection(ctx context.Context, name string, engine embedding.Engine) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("collection %s: embedding engine is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var engineName string
	var dims int
	err := s.db.QueryRowContext(ctx, "SELECT engine, dimensions FROM vector_collections WHERE name = ?", name).Scan(&engineName, &dims)
	switch {
	case err == sql.ErrNoRows:
		dims = engine.Dimensions()
		if _, err := s.db.ExecContext(ctx, "INSERT INTO vector_collections (name, engine, dimensions) VALUES (?, ?, ?)",
			name, engine.Name(), dims); err != nil {
			return nil, fmt.Errorf("register collection %s: %w", name, err)
		}
		logging.Store("Registered collection %s (engine=%s, dims=%d)", name, engine.Name(), dims)
	case err != nil:
		return nil, fmt.Errorf("lookup collection %s: %w", name, err)
	default:
		if dims != engine.Dimensions() {
			return nil, fmt.Errorf("collection %s has %d dimensions, engine %s produces %d", name, dims, engine.Name(), engine.Dimensions())
		}
		if engineName != engine.Name() {
			logging.Get(logging.CategoryStore).Warn("collection %s was built with %s, querying with %s", name, engineName, engine.Name())
		}
	}

	if s.ann != nil {
		if err := s.ann.ensure(ctx, s.db, dims); err != nil {
			return nil, fmt.Errorf("ann index for %s: %w", name, err)
		}
	}
	return &Collection{store: s, name: name, engine: engine, dims: dims}, nil
}

// Collections lists registered collections with document counts.
func (s *Store) Collections(ctx context.Context) ([]CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, c.engine, c.dimensions, CAST(c.created_at AS TEXT), COUNT(d.id)
		FROM vector_collections c LEFT JOIN vector_documents d ON d.collection = c.name
		GROUP BY c.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var info CollectionInfo
		if err := rows.Scan(&info.Name, &info.Engine, &info.Dimensions, &info.CreatedAt, &info.Documents); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, rows.Err()
}
