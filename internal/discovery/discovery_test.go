package discovery

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureSQL = `
CREATE TABLE manufacturers (id INTEGER PRIMARY KEY, name TEXT, country TEXT);
CREATE TABLE meters (
	id INTEGER PRIMARY KEY,
	model_name TEXT,
	manufacturer_id INTEGER,
	meter_type TEXT,
	accuracy_class TEXT,
	voltage_range TEXT
);
CREATE TABLE certifications (
	id INTEGER PRIMARY KEY,
	meter_id INTEGER REFERENCES meters(id),
	standard TEXT
);
INSERT INTO manufacturers VALUES (1, 'Acme Metering', 'DE'), (2, 'Volt Ltd', 'UK');
INSERT INTO meters VALUES
	(1, 'EM-100', 1, 'three-phase', '0.5S', '3x230/400V'),
	(2, 'EM-200', 1, 'three-phase', '1', '3x230/400V'),
	(3, 'SP-10', 2, 'single-phase', '1', '230V');
INSERT INTO certifications VALUES (1, 1, 'IEC 62053-22'), (2, 3, 'MID');
`

func newFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meters.db")
	db, err := sql.Open(DriverName, path)
	require.NoError(t, err)
	_, err = db.Exec(fixtureSQL)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func openFixture(t *testing.T) *Database {
	t.Helper()
	d, err := Open(context.Background(), newFixture(t))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent.db"))
	assert.Error(t, err)
}

func TestDiscoverTables(t *testing.T) {
	d := openFixture(t)
	s := d.Schema()

	assert.Equal(t, []string{"certifications", "manufacturers", "meters"}, s.TableNames())
	meters := s.Tables["meters"]
	assert.Equal(t, "id", meters.PrimaryKey)
	assert.EqualValues(t, 3, meters.RowCount)
	assert.True(t, meters.HasColumn("accuracy_class"))

	certs := s.Tables["certifications"]
	require.Len(t, certs.ForeignKeys, 1)
	assert.Equal(t, ForeignKey{Column: "meter_id", RefTable: "meters", RefCol: "id"}, certs.ForeignKeys[0])
}

func TestRelationships(t *testing.T) {
	d := openFixture(t)

	var declared, inferred []Relationship
	for _, r := range d.Schema().Relationships {
		if r.Inferred {
			inferred = append(inferred, r)
		} else {
			declared = append(declared, r)
		}
	}
	require.Len(t, declared, 1)
	assert.Equal(t, "certifications", declared[0].FromTable)

	require.Len(t, inferred, 1, "declared FKs are not re-inferred")
	assert.Equal(t, Relationship{
		FromTable: "meters", FromColumn: "manufacturer_id",
		ToTable: "manufacturers", ToColumn: "id", Inferred: true,
	}, inferred[0])
}

func TestSuggestedQueries(t *testing.T) {
	q := openFixture(t).Schema().SuggestedQueries

	for _, name := range []string{
		"get_all_meters",
		"get_meters_by_model_name",
		"search_meters_by_model_name",
		"get_meters_by_manufacturer_id",
		"get_meters_by_meter_type",
		"get_meters_by_accuracy_class",
		"get_manufacturers_by_name",
		"get_meters_with_manufacturers",
		"get_manufacturers_with_meters",
		"get_certifications_with_meters",
	} {
		assert.Contains(t, q, name)
	}
	assert.NotContains(t, q, "get_meters_by_id", "primary key gets no lookup query")
	assert.Equal(t, `SELECT * FROM "meters" ORDER BY "id"`, q["get_all_meters"])
}

func TestMainTable(t *testing.T) {
	d := openFixture(t)
	assert.Equal(t, "meters", d.MainTable())
	assert.Greater(t, MainTableScore(d.Schema(), "meters"), MainTableScore(d.Schema(), "manufacturers"))
}

func TestDetectMainTableEmpty(t *testing.T) {
	assert.Equal(t, "", DetectMainTable(&Schema{Tables: map[string]*Table{}}))
}

func TestSearch(t *testing.T) {
	d := openFixture(t)
	ctx := context.Background()

	t.Run("equality", func(t *testing.T) {
		rows, err := d.Search(ctx, map[string]any{"accuracy_class": "1"})
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})

	t.Run("like", func(t *testing.T) {
		rows, err := d.Search(ctx, map[string]any{"model_name": "EM-%"})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "EM-100", rows[0]["model_name"])
	})

	t.Run("unknown columns ignored", func(t *testing.T) {
		rows, err := d.Search(ctx, map[string]any{"colour": "red"})
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("other table", func(t *testing.T) {
		rows, err := d.Search(ctx, map[string]any{"table": "manufacturers", "country": "UK"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Volt Ltd", rows[0]["name"])
	})
}

func TestExecuteSuggestedQuery(t *testing.T) {
	d := openFixture(t)
	ctx := context.Background()

	rows, err := d.ExecuteSuggestedQuery(ctx, "search_meters_by_model_name", map[string]any{"pattern": "SP%"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SP-10", rows[0]["model_name"])

	rows, err = d.ExecuteSuggestedQuery(ctx, "get_meters_by_meter_type", map[string]any{"meter_type": "three-phase", "unused": 1})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = d.ExecuteSuggestedQuery(ctx, "drop_everything", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSchemaInfo(t *testing.T) {
	info := openFixture(t).SchemaInfo()

	assert.Equal(t, "meters", info["main_table"])
	tables := info["tables"].(map[string]any)
	meters := tables["meters"].(map[string]any)
	assert.Equal(t, "id", meters["primary_key"])
	assert.EqualValues(t, 3, meters["row_count"])
	assert.Contains(t, info["suggested_queries"], "get_all_meters")
	assert.Contains(t, info["functions"], "search")
	assert.Len(t, openFixture(t).Functions(), 4)
}

func TestRowsStreamsInOrder(t *testing.T) {
	d := openFixture(t)
	var models []any
	err := d.Rows(context.Background(), "meters", func(row map[string]any) error {
		models = append(models, row["model_name"])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"EM-100", "EM-200", "SP-10"}, models)

	assert.Error(t, d.Rows(context.Background(), "nope", func(map[string]any) error { return nil }))
}
