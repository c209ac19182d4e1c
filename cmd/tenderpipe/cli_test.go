package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderpipe/internal/discovery"
	"tenderpipe/internal/logging"
)

const testPipeline = `
name: echo
description: one model call and a JSON dump
inputs:
  - name: site
    type: text
    required: true
processing_steps:
  - name: ask
    type: llm
    prompt_template: "meters for {{ .inputs.site }}"
outputs:
  - type: json
    filename: results.json
`

type workspace struct {
	dir     string
	config  string
	prompts string
	outputs string
	db      string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	t.Cleanup(logging.Reset)
	dir := t.TempDir()
	ws := workspace{
		dir:     dir,
		config:  filepath.Join(dir, "tenderpipe.yaml"),
		prompts: filepath.Join(dir, "prompts"),
		outputs: filepath.Join(dir, "out"),
		db:      filepath.Join(dir, "meters.db"),
	}
	require.NoError(t, os.MkdirAll(ws.prompts, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.prompts, "echo.yaml"), []byte(testPipeline), 0644))
	require.NoError(t, os.WriteFile(ws.config, []byte(`
llm:
  provider: mock
  model: scripted
embedding:
  provider: hashing
  dimensions: 64
vector_store:
  path: `+filepath.Join(dir, "vectors.db")+`
  default_collection: meters_semantic
paths:
  prompts: `+ws.prompts+`
  outputs: `+ws.outputs+`
logging:
  level: error
`), 0644))

	db, err := sql.Open(discovery.DriverName, ws.db)
	require.NoError(t, err)
	_, err = db.Exec(`
CREATE TABLE manufacturers (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE meters (id INTEGER PRIMARY KEY, model_name TEXT, manufacturer_id INTEGER REFERENCES manufacturers(id), accuracy_class TEXT);
INSERT INTO manufacturers VALUES (1, 'Acme Metering');
INSERT INTO meters VALUES (1, 'EM-100', 1, '0.5S'), (2, 'SP-10', 1, '1');
`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return ws
}

// resetFlags restores every flag to its default between executions, since
// the command tree and its flag variables are package globals.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestParseInputs(t *testing.T) {
	got, err := parseInputs([]string{"site=North", "note=a=b", "site=South"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"site": "South", "note": "a=b"}, got)

	_, err = parseInputs([]string{"no-equals"})
	assert.Error(t, err)
	_, err = parseInputs([]string{"=value"})
	assert.Error(t, err)
}

func TestResolvePipeline(t *testing.T) {
	ws := newWorkspace(t)
	want := filepath.Join(ws.prompts, "echo.yaml")

	for _, arg := range []string{"echo", "echo.yaml", want} {
		got, err := resolvePipeline(arg, ws.prompts)
		require.NoError(t, err, arg)
		assert.Equal(t, want, got)
	}
	_, err := resolvePipeline("missing", ws.prompts)
	assert.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "--config", ws.config, "run", "echo", "--input", "site=North", "--json")
	require.NoError(t, err, out)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, true, res["success"])
	assert.Equal(t, []any{filepath.Join(ws.outputs, "results.json")}, res["output_files"])

	saved, err := os.ReadFile(filepath.Join(ws.outputs, "results.json"))
	require.NoError(t, err)
	assert.Contains(t, string(saved), "meters for North")
}

func TestValidateAndListCommands(t *testing.T) {
	ws := newWorkspace(t)
	broken := filepath.Join(ws.prompts, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("processing_steps:\n  - type: llm\n"), 0644))

	out, err := execute(t, "--config", ws.config, "validate", "echo")
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 steps, 1 outputs")

	out, err = execute(t, "--config", ws.config, "validate", "echo", broken)
	assert.Error(t, err)
	assert.Contains(t, out, "has no name")

	out, err = execute(t, "--config", ws.config, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "echo.yaml")
	assert.Contains(t, out, "one model call and a JSON dump")
	assert.Contains(t, out, "broken.yaml")
}

func TestIndexQueryAndSchemaCommands(t *testing.T) {
	ws := newWorkspace(t)

	out, err := execute(t, "--config", ws.config, "schema", ws.db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "meters")
	assert.Contains(t, out, "get_all_meters")

	out, err = execute(t, "--config", ws.config, "index", "--db", ws.db, "--table", "meters")
	require.NoError(t, err, out)
	assert.Contains(t, out, "indexed meters into meters_semantic")

	out, err = execute(t, "--config", ws.config, "query", "EM-100 accuracy class 0.5S", "--top-k", "2", "--rerank")
	require.NoError(t, err, out)
	assert.Contains(t, out, "results for")
	assert.Contains(t, out, "EM-100")

	out, err = execute(t, "--config", ws.config, "query", "--collections")
	require.NoError(t, err, out)
	assert.Contains(t, out, "meters_semantic")
}

func TestQueryMissingStore(t *testing.T) {
	ws := newWorkspace(t)
	_, err := execute(t, "--config", ws.config, "query", "anything", "--store", filepath.Join(ws.dir, "none.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenderpipe index")
}
