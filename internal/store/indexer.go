package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"tenderpipe/internal/discovery"
	"tenderpipe/internal/logging"
)

// Indexer defaults.
const (
	DefaultBatchSize   = 32
	DefaultConcurrency = 4
)

// Indexer turns rows of a discovered product database into collection
// documents: one summary document per main-table row plus one feature
// document per row of every table that references it.
type Indexer struct {
	DB          *discovery.Database
	BatchSize   int
	Concurrency int
}

// IndexStats summarises an indexing run.
type IndexStats struct {
	Table     string `json:"table"`
	Summaries int    `json:"summaries"`
	Features  int    `json:"features"`
}

// Index indexes table (the detected main table when empty) into coll.
func (ix *Indexer) Index(ctx context.Context, coll *Collection, table string) (IndexStats, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Indexer.Index")
	defer timer.Stop()

	if table == "" {
		table = ix.DB.MainTable()
	}
	schema := ix.DB.Schema()
	t := schema.Tables[table]
	if t == nil {
		return IndexStats{}, fmt.Errorf("table %q not found", table)
	}
	stats := IndexStats{Table: table}

	labels := map[string]string{}
	var docs []Document
	err := ix.DB.Rows(ctx, table, func(row map[string]any) error {
		d := RowDocument(t, row)
		docs = append(docs, d)
		if t.PrimaryKey != "" {
			labels[fmt.Sprint(row[t.PrimaryKey])] = rowLabel(t, row)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	stats.Summaries = len(docs)

	for _, rel := range schema.Relationships {
		if rel.ToTable != table || rel.FromTable == table {
			continue
		}
		child := schema.Tables[rel.FromTable]
		n := 0
		err := ix.DB.Rows(ctx, rel.FromTable, func(row map[string]any) error {
			parent := fmt.Sprint(row[rel.FromColumn])
			if _, ok := labels[parent]; !ok {
				return nil
			}
			docs = append(docs, FeatureDocument(child, rel.FromColumn, row, labels[parent]))
			n++
			return nil
		})
		if err != nil {
			return stats, err
		}
		stats.Features += n
	}

	if err := ix.embedAndStore(ctx, coll, docs); err != nil {
		return stats, err
	}
	logging.Store("Indexed %s into %s: %d summaries, %d features", table, coll.Name(), stats.Summaries, stats.Features)
	return stats, nil
}

func (ix *Indexer) embedAndStore(ctx context.Context, coll *Collection, docs []Document) error {
	batch := ix.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	limit := ix.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	vecs := make([][]float32, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for start := 0; start < len(docs); start += batch {
		start, end := start, min(start+batch, len(docs))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, d := range docs[start:end] {
				texts = append(texts, d.Content)
			}
			out, err := coll.Engine().EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(out))
			}
			copy(vecs[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return coll.AddEmbedded(ctx, docs, vecs)
}

// RowDocument renders a main-table row as "Column: value" lines.
func RowDocument(t *discovery.Table, row map[string]any) Document {
	var lines []string
	md := map[string]any{"table": t.Name, "doc_type": "summary"}
	for _, col := range t.Columns {
		v := row[col]
		if isBlank(v) {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %v", humanize(col), v))
		if col == t.PrimaryKey || isLabelColumn(col) {
			md[col] = v
		}
	}
	return Document{
		ID:       docID(t, row),
		Content:  strings.Join(lines, "\n"),
		Metadata: md,
	}
}

// FeatureDocument renders a child row that references a main-table row.
func FeatureDocument(t *discovery.Table, fkCol string, row map[string]any, parentLabel string) Document {
	var parts []string
	for _, col := range t.Columns {
		if col == t.PrimaryKey || col == fkCol || isBlank(row[col]) {
			continue
		}
		parts = append(parts, fmt.Sprint(row[col]))
	}
	content := fmt.Sprintf("%s: %s", humanize(t.Name), strings.Join(parts, ", "))
	if parentLabel != "" {
		content += fmt.Sprintf(" (Model: %s)", parentLabel)
	}
	return Document{
		ID:      docID(t, row),
		Content: content,
		Metadata: map[string]any{
			"table":        t.Name,
			"doc_type":     "feature",
			"feature_type": t.Name,
			fkCol:          row[fkCol],
			"model_name":   parentLabel,
		},
	}
}

func docID(t *discovery.Table, row map[string]any) string {
	if t.PrimaryKey != "" {
		return fmt.Sprintf("%s_%v", t.Name, row[t.PrimaryKey])
	}
	// No primary key: fall back to the full row rendering.
	var parts []string
	for _, col := range t.Columns {
		parts = append(parts, fmt.Sprint(row[col]))
	}
	return t.Name + "_" + strings.Join(parts, "|")
}

func rowLabel(t *discovery.Table, row map[string]any) string {
	for _, col := range t.Columns {
		if isLabelColumn(col) && !isBlank(row[col]) {
			return fmt.Sprint(row[col])
		}
	}
	return ""
}

func isLabelColumn(col string) bool {
	lc := strings.ToLower(col)
	return strings.HasSuffix(lc, "name") || lc == "model" || lc == "title" || lc == "code"
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func humanize(col string) string {
	words := strings.FieldsFunc(col, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
