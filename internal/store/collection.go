package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tenderpipe/internal/embedding"
	"tenderpipe/internal/logging"
	"tenderpipe/internal/retrieval"
)

// Document is one unit of indexed text.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Collection is a named set of embedded documents. It satisfies
// retrieval.Backend.
type Collection struct {
	store  *Store
	name   string
	engine embedding.Engine
	dims   int
}

var _ retrieval.Backend = (*Collection)(nil)

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Engine returns the embedding engine bound to the collection.
func (c *Collection) Engine() embedding.Engine { return c.engine }

// Add embeds docs with one batch call and upserts them.
func (c *Collection) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := c.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d documents: %w", len(docs), err)
	}
	return c.AddEmbedded(ctx, docs, vecs)
}

// AddEmbedded upserts docs with precomputed embeddings in one transaction.
// Documents are keyed by ID; re-adding an ID replaces it.
func (c *Collection) AddEmbedded(ctx context.Context, docs []Document, vecs [][]float32) error {
	if len(docs) != len(vecs) {
		return fmt.Errorf("got %d embeddings for %d documents", len(vecs), len(docs))
	}
	timer := logging.StartTimer(logging.CategoryStore, "Collection.AddEmbedded")
	defer timer.Stop()

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document %d has no id", i)
		}
		if len(vecs[i]) != c.dims {
			return fmt.Errorf("document %s: embedding has %d dimensions, collection %s expects %d", d.ID, len(vecs[i]), c.name, c.dims)
		}
		metaJSON, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("document %s metadata: %w", d.ID, err)
		}
		embJSON, err := json.Marshal(vecs[i])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vector_documents (collection, doc_id, content, metadata, embedding)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(collection, doc_id) DO UPDATE SET
				content = excluded.content,
				metadata = excluded.metadata,
				embedding = excluded.embedding`,
			c.name, d.ID, d.Content, string(metaJSON), string(embJSON)); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
		if c.store.ann != nil {
			var rowID int64
			if err := tx.QueryRowContext(ctx, "SELECT id FROM vector_documents WHERE collection = ? AND doc_id = ?", c.name, d.ID).Scan(&rowID); err != nil {
				return err
			}
			if err := c.store.ann.upsert(ctx, tx, c.dims, rowID, vecs[i]); err != nil {
				return fmt.Errorf("ann upsert %s: %w", d.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.StoreDebug("Stored %d documents in %s", len(docs), c.name)
	return nil
}

// Count returns the number of documents in the collection.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	var n int64
	err := c.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vector_documents WHERE collection = ?", c.name).Scan(&n)
	return n, err
}

// Delete removes every document in the collection and its registration.
func (c *Collection) Delete(ctx context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if c.store.ann != nil {
		rows, err := tx.QueryContext(ctx, "SELECT id FROM vector_documents WHERE collection = ?", c.name)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := c.store.ann.drop(ctx, tx, c.dims, ids); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vector_documents WHERE collection = ?", c.name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vector_collections WHERE name = ?", c.name); err != nil {
		return err
	}
	logging.Store("Deleted collection %s", c.name)
	return tx.Commit()
}

// Query embeds text and returns the topK most similar documents. Each
// candidate carries its similarity as Score and as metadata["similarity"].
func (c *Collection) Query(ctx context.Context, text string, topK int) ([]retrieval.Candidate, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Collection.Query")
	defer timer.Stop()

	if topK <= 0 {
		topK = retrieval.DefaultNResults
	}
	vec, err := embedding.EmbedQuery(ctx, c.engine, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != c.dims {
		return nil, fmt.Errorf("query embedding from %s has %d dimensions, collection %s expects %d",
			c.engine.Name(), len(vec), c.name, c.dims)
	}

	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	if c.store.ann != nil {
		out, err := c.queryANN(ctx, vec, topK)
		if err == nil && len(out) >= topK {
			return out, nil
		}
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("ANN query on %s failed, using brute force: %v", c.name, err)
		}
	}
	return c.queryBruteForce(ctx, vec, topK)
}

type storedDoc struct {
	docID    string
	content  string
	metadata map[string]any
}

func (d storedDoc) candidate(similarity float64) retrieval.Candidate {
	md := make(map[string]any, len(d.metadata)+2)
	for k, v := range d.metadata {
		md[k] = v
	}
	md["doc_id"] = d.docID
	md["similarity"] = similarity
	return retrieval.Candidate{Text: d.content, Metadata: md, Score: similarity}
}

func (c *Collection) queryBruteForce(ctx context.Context, vec []float32, topK int) ([]retrieval.Candidate, error) {
	rows, err := c.store.db.QueryContext(ctx,
		"SELECT doc_id, content, metadata, embedding FROM vector_documents WHERE collection = ? ORDER BY id", c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []storedDoc
	var corpus [][]float32
	for rows.Next() {
		var d storedDoc
		var metaJSON sql.NullString
		var embJSON string
		if err := rows.Scan(&d.docID, &d.content, &metaJSON, &embJSON); err != nil {
			return nil, err
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			logging.StoreDebug("skipping %s: bad embedding: %v", d.docID, err)
			continue
		}
		d.metadata = decodeMetadata(metaJSON)
		docs = append(docs, d)
		corpus = append(corpus, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := embedding.FindTopK(vec, corpus, topK)
	out := make([]retrieval.Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, docs[h.Index].candidate(h.Similarity))
	}
	logging.StoreDebug("brute-force query on %s: %d docs, %d hits", c.name, len(docs), len(out))
	return out, nil
}

func (c *Collection) queryANN(ctx context.Context, vec []float32, topK int) ([]retrieval.Candidate, error) {
	// The vec0 index is shared by collections of equal dimension, so overfetch
	// and filter by collection afterwards.
	hits, err := c.store.ann.search(ctx, c.store.db, c.dims, vec, topK*4)
	if err != nil {
		return nil, err
	}
	out := make([]retrieval.Candidate, 0, topK)
	for _, h := range hits {
		if len(out) == topK {
			break
		}
		var d storedDoc
		var metaJSON sql.NullString
		err := c.store.db.QueryRowContext(ctx,
			"SELECT doc_id, content, metadata FROM vector_documents WHERE id = ? AND collection = ?", h.rowID, c.name).
			Scan(&d.docID, &d.content, &metaJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		d.metadata = decodeMetadata(metaJSON)
		out = append(out, d.candidate(1-h.distance))
	}
	return out, nil
}

func decodeMetadata(s sql.NullString) map[string]any {
	md := map[string]any{}
	if s.Valid && s.String != "" && s.String != "null" {
		_ = json.Unmarshal([]byte(s.String), &md)
	}
	if md == nil {
		md = map[string]any{}
	}
	return md
}
