// Package discovery inspects an arbitrary SQLite product database and exposes
// schema-aware helpers (search, suggested queries, main-table detection) to
// pipeline templates and transforms.
//
// Relationship inference and main-table detection are best-effort heuristics
// over naming conventions; they are never treated as schema truth.
package discovery

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"tenderpipe/internal/logging"
)

// ForeignKey is a declared foreign key.
type ForeignKey struct {
	Column   string `json:"column"`
	RefTable string `json:"ref_table"`
	RefCol   string `json:"ref_column"`
}

// Table describes one table.
type Table struct {
	Name        string       `json:"name"`
	Columns     []string     `json:"columns"`
	ColumnTypes []string     `json:"column_types"`
	PrimaryKey  string       `json:"primary_key"`
	RowCount    int64        `json:"row_count"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// HasColumn reports whether the table has column c.
func (t *Table) HasColumn(c string) bool {
	for _, col := range t.Columns {
		if col == c {
			return true
		}
	}
	return false
}

// Relationship links a column to another table, declared or inferred.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
	Inferred   bool   `json:"inferred"`
}

// Schema is everything discovered about one database.
type Schema struct {
	Tables           map[string]*Table `json:"tables"`
	Relationships    []Relationship    `json:"relationships"`
	SuggestedQueries map[string]string `json:"suggested_queries"`
}

// TableNames returns table names in sorted order.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for n := range s.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Discover reads tables, columns, keys and row counts from db.
func Discover(ctx context.Context, db *sql.DB) (*Schema, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	schema := &Schema{Tables: make(map[string]*Table, len(names))}
	for _, name := range names {
		t, err := analyzeTable(ctx, db, name)
		if err != nil {
			return nil, err
		}
		schema.Tables[name] = t
		for _, fk := range t.ForeignKeys {
			schema.Relationships = append(schema.Relationships, Relationship{
				FromTable: name, FromColumn: fk.Column, ToTable: fk.RefTable, ToColumn: fk.RefCol,
			})
		}
	}
	schema.Relationships = append(schema.Relationships, inferRelationships(schema)...)
	schema.SuggestedQueries = suggestQueries(schema)

	logging.Discovery("discovered %d tables, %d relationships, %d suggested queries",
		len(schema.Tables), len(schema.Relationships), len(schema.SuggestedQueries))
	return schema, nil
}

func analyzeTable(ctx context.Context, db *sql.DB, name string) (*Table, error) {
	t := &Table{Name: name}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", name, err)
	}
	for rows.Next() {
		var cid, notNull, pk int
		var col, typ string
		var dflt any
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table_info %s: %w", name, err)
		}
		t.Columns = append(t.Columns, col)
		t.ColumnTypes = append(t.ColumnTypes, strings.ToUpper(typ))
		if pk == 1 {
			t.PrimaryKey = col
		}
	}
	rows.Close()

	fkRows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("foreign_key_list %s: %w", name, err)
	}
	for fkRows.Next() {
		var id, seq int
		var refTable, from string
		var to sql.NullString
		var onUpdate, onDelete, match string
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			fkRows.Close()
			return nil, fmt.Errorf("scan foreign_key_list %s: %w", name, err)
		}
		t.ForeignKeys = append(t.ForeignKeys, ForeignKey{Column: from, RefTable: refTable, RefCol: to.String})
	}
	fkRows.Close()

	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(name))).Scan(&t.RowCount); err != nil {
		return nil, fmt.Errorf("count %s: %w", name, err)
	}
	logging.DiscoveryDebug("table %s: %d columns, pk=%s, %d rows", name, len(t.Columns), t.PrimaryKey, t.RowCount)
	return t, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
