package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"tenderpipe/internal/logging"
)

// DriverName is the database/sql driver used for product databases.
const DriverName = "sqlite"

// Database is a discovered product database.
type Database struct {
	path      string
	db        *sql.DB
	schema    *Schema
	mainTable string
}

// Open opens path read-only-ish (no writes are issued) and discovers its schema.
func Open(ctx context.Context, path string) (*Database, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database file not found: %s: %w", path, err)
	}
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return NewDatabase(ctx, db, path)
}

// NewDatabase wraps an already-open handle. The Database takes ownership of db.
func NewDatabase(ctx context.Context, db *sql.DB, path string) (*Database, error) {
	schema, err := Discover(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	d := &Database{path: path, db: db, schema: schema, mainTable: DetectMainTable(schema)}
	logging.Discovery("opened %s, main table %q", path, d.mainTable)
	return d, nil
}

// Close releases the handle.
func (d *Database) Close() error { return d.db.Close() }

// Path returns the file the database was opened from.
func (d *Database) Path() string { return d.path }

// DB exposes the raw handle for callers that need custom SQL.
func (d *Database) DB() *sql.DB { return d.db }

// Schema returns the discovered schema.
func (d *Database) Schema() *Schema { return d.schema }

// MainTable returns the detected main table, or "" for an empty database.
func (d *Database) MainTable() string { return d.mainTable }

// Functions describes the operations templates and transforms may call.
func (d *Database) Functions() map[string]string {
	return map[string]string{
		"search":                  "Filter the main table (or criteria.table) by column values; % enables LIKE",
		"get_all":                 "First 100 rows of a table in primary-key order",
		"get_schema_info":         "Tables, relationships, suggested queries and the main table",
		"execute_suggested_query": "Run a named suggested query with :param bindings",
	}
}

// SchemaInfo is the template-friendly schema summary.
func (d *Database) SchemaInfo() map[string]any {
	tables := map[string]any{}
	for name, t := range d.schema.Tables {
		fks := make([]any, 0, len(t.ForeignKeys))
		for _, fk := range t.ForeignKeys {
			fks = append(fks, map[string]any{"column": fk.Column, "ref_table": fk.RefTable, "ref_column": fk.RefCol})
		}
		cols := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c
		}
		tables[name] = map[string]any{
			"columns":      cols,
			"primary_key":  t.PrimaryKey,
			"row_count":    t.RowCount,
			"foreign_keys": fks,
		}
	}
	rels := make([]any, 0, len(d.schema.Relationships))
	for _, r := range d.schema.Relationships {
		rels = append(rels, map[string]any{
			"from_table": r.FromTable, "from_column": r.FromColumn,
			"to_table": r.ToTable, "to_column": r.ToColumn, "inferred": r.Inferred,
		})
	}
	names := make([]string, 0, len(d.schema.SuggestedQueries))
	for n := range d.schema.SuggestedQueries {
		names = append(names, n)
	}
	sort.Strings(names)
	queries := make([]any, len(names))
	for i, n := range names {
		queries[i] = n
	}
	funcs := map[string]any{}
	for name, desc := range d.Functions() {
		funcs[name] = desc
	}
	return map[string]any{
		"tables":            tables,
		"relationships":     rels,
		"suggested_queries": queries,
		"main_table":        d.mainTable,
		"functions":         funcs,
	}
}

// GetAll returns up to 100 rows of table (the main table when empty),
// ordered by primary key when there is one.
func (d *Database) GetAll(ctx context.Context, table string) ([]map[string]any, error) {
	if table == "" {
		table = d.mainTable
	}
	t := d.schema.Tables[table]
	if t == nil {
		return []map[string]any{}, nil
	}
	query := fmt.Sprintf("SELECT * FROM %s", quoteIdent(table))
	if t.PrimaryKey != "" {
		query += " ORDER BY " + quoteIdent(t.PrimaryKey)
	}
	query += fmt.Sprintf(" LIMIT %d", maxRowsPerSelect)
	return d.query(ctx, query)
}

// Rows streams every row of table to fn, ordered by primary key when present.
func (d *Database) Rows(ctx context.Context, table string, fn func(map[string]any) error) error {
	t := d.schema.Tables[table]
	if t == nil {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf("SELECT * FROM %s", quoteIdent(table))
	if t.PrimaryKey != "" {
		query += " ORDER BY " + quoteIdent(t.PrimaryKey)
	}
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()
	return scanEach(rows, fn)
}

// Search filters the main table (or criteria["table"] when it names a
// table) by column equality; string values containing % use LIKE.
// Criteria keys that are not columns are ignored. No usable criteria
// falls back to GetAll.
func (d *Database) Search(ctx context.Context, criteria map[string]any) ([]map[string]any, error) {
	table := d.mainTable
	if name, ok := criteria["table"].(string); ok && d.schema.Tables[name] != nil {
		table = name
	}
	t := d.schema.Tables[table]
	if t == nil {
		return []map[string]any{}, nil
	}

	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		if t.HasColumn(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return d.GetAll(ctx, table)
	}
	sort.Strings(keys)

	var where []string
	var args []any
	for _, k := range keys {
		v := criteria[k]
		if s, ok := v.(string); ok && strings.Contains(s, "%") {
			where = append(where, quoteIdent(k)+" LIKE ?")
		} else {
			where = append(where, quoteIdent(k)+" = ?")
		}
		args = append(args, v)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", quoteIdent(table), strings.Join(where, " AND "), maxRowsPerSearch)
	logging.DiscoveryDebug("search: %s %v", query, args)
	return d.query(ctx, query, args...)
}

// ExecuteSuggestedQuery runs a named suggested query. Unknown names yield
// an empty result; params bind to :name placeholders.
func (d *Database) ExecuteSuggestedQuery(ctx context.Context, name string, params map[string]any) ([]map[string]any, error) {
	query, ok := d.schema.SuggestedQueries[name]
	if !ok {
		logging.Get(logging.CategoryDiscovery).Warn("unknown suggested query %q", name)
		return []map[string]any{}, nil
	}
	var args []any
	for k, v := range params {
		if strings.Contains(query, ":"+k) {
			args = append(args, sql.Named(k, v))
		}
	}
	return d.query(ctx, query, args...)
}

func (d *Database) query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	out := []map[string]any{}
	err = scanEach(rows, func(row map[string]any) error {
		out = append(out, row)
		return nil
	})
	return out, err
}

func scanEach(rows *sql.Rows, fn func(map[string]any) error) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
