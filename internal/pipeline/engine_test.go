package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tenderpipe/internal/config"
	"tenderpipe/internal/discovery"
	"tenderpipe/internal/embedding"
	"tenderpipe/internal/llm"
	"tenderpipe/internal/report"
	"tenderpipe/internal/store"
)

const catalogueSQL = `
CREATE TABLE manufacturers (id INTEGER PRIMARY KEY, name TEXT, country TEXT);
CREATE TABLE meters (
	id INTEGER PRIMARY KEY,
	model_name TEXT,
	manufacturer_id INTEGER,
	meter_type TEXT,
	accuracy_class TEXT
);
INSERT INTO manufacturers VALUES (1, 'Acme Metering', 'DE');
INSERT INTO meters VALUES
	(1, 'EM-100', 1, 'three-phase', '0.5S'),
	(2, 'EM-200', 1, 'three-phase', '1'),
	(3, 'SP-10', 1, 'single-phase', '1');
`

const compliancePipeline = `
name: meter compliance
description: condense, search and assess a tender analysis
inputs:
  - name: analysis_file
    type: file
    required: true
  - name: site
    type: text
    default: North
databases:
  catalogue: meters.db
collections:
  meters_semantic: vectors.db
processing_steps:
  - name: load_clauses
    type: python
  - name: llm_breakdown_features
    type: llm
    dependencies: [load_clauses]
  - name: semantic_search
    type: vector_search
    collection: meters_semantic
    search_params:
      n_results: 2
      include_metadata: true
  - name: rerank_semantic_results
    type: reranker
    dependencies: [semantic_search]
  - name: catalogue
    type: python
    transform: search_database
    with:
      criteria:
        table: meters
        meter_type: three-phase
  - name: compliance_assessment
    type: llm
    dependencies: [catalogue]
    prompt_template: "Assess {{ len .dep_catalogue.rows }} meters for {{ .inputs.site }} against {{ .requirements | toJson }}"
outputs:
  - type: json
    filename: "{{ .run.run_id }}/results.json"
  - type: markdown
    filename: report.md
    content: "# {{ .inputs.site }}\n{{ range .requirements }}- {{ . }}\n{{ end }}"
  - type: custom_excel
    filename: compliance.xlsx
    llm_step: compliance_assessment
  - type: text
    filename: skipped.txt
    condition: "{{ eq .inputs.site \"South\" }}"
`

const assessmentReply = "```json\n" + `{
  "summary_sheet": {"title": "Compliance Summary", "data": {"project_name": "Depot upgrade", "selected_meter": "EM-100", "total_requirements": 2}},
  "compliance_matrix": {"title": "Matrix", "headers": ["Clause ID", "Status"], "data": [["1.20", "COMPLIANT"]]},
  "meter_specs": {"title": "Specs", "meter_details": {"model": "EM-100"}}
}` + "\n```"

type fixture struct {
	dir      string
	pipeline string
	analysis string
	outDir   string
}

func writeFixture(t *testing.T, pipelineYAML string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:      dir,
		pipeline: filepath.Join(dir, "pipeline.yaml"),
		analysis: filepath.Join(dir, "analysis.md"),
		outDir:   filepath.Join(dir, "out"),
	}
	require.NoError(t, os.WriteFile(f.pipeline, []byte(pipelineYAML), 0644))
	require.NoError(t, os.WriteFile(f.analysis, []byte(analysisDoc), 0644))

	db, err := sql.Open(discovery.DriverName, filepath.Join(dir, "meters.db"))
	require.NoError(t, err)
	_, err = db.Exec(catalogueSQL)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	st, err := store.Open(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	coll, err := st.Collection(context.Background(), "meters_semantic", embedding.NewHashingEngine(384))
	require.NoError(t, err)
	require.NoError(t, coll.Add(context.Background(), []store.Document{
		{ID: "1", Content: "EM-100 three-phase meter, RMS voltage measurement ±0.5%", Metadata: map[string]any{"model_name": "EM-100"}},
		{ID: "2", Content: "EM-200 operating voltage 400V, class 1", Metadata: map[string]any{"model_name": "EM-200"}},
		{ID: "3", Content: "SP-10 single-phase 230V meter", Metadata: map[string]any{"model_name": "SP-10"}},
	}))
	require.NoError(t, st.Close())
	return f
}

func complianceClient() *llm.ScriptedClient {
	return &llm.ScriptedClient{Handler: func(req llm.ChatRequest) (string, error) {
		if strings.HasPrefix(req.Prompt, "Assess") {
			return assessmentReply, nil
		}
		return condenseHandler(req)
	}}
}

func newTestEngine(t *testing.T, client llm.Client) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	clock := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	e := NewEngine(cfg, llm.NewProcessor(client, llm.Options{Model: "qwen2.5:7b"}),
		WithClock(clock),
		WithReportGenerator(&report.Generator{Now: clock}))
	t.Cleanup(func() { assert.NoError(t, e.Close()) })
	return e
}

func TestEngineRunEndToEnd(t *testing.T) {
	f := writeFixture(t, compliancePipeline)
	client := complianceClient()
	e := newTestEngine(t, client)

	res := e.RunPrompt(context.Background(), f.pipeline, RunOptions{
		Inputs:    map[string]any{"analysis_file": f.analysis},
		OutputDir: f.outDir,
	})
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Warnings)

	results := res.PipelineResults
	for _, name := range []string{"load_clauses", "llm_breakdown_features", "semantic_search", "rerank_semantic_results", "catalogue", "compliance_assessment"} {
		assert.False(t, IsFailure(results[name]), "%s: %v", name, results[name])
	}
	search := resultMap(t, results["semantic_search"])
	assert.Equal(t, 2, search["total_queries"])
	assert.Equal(t, 2, resultMap(t, results["catalogue"])["count"])

	calls := client.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, `Assess 2 meters for North against ["RMS voltage measurement ±0.5%","Operating voltage 400V"]`, last.Prompt)

	require.Len(t, res.OutputFiles, 3)
	jsonPath := filepath.Join(f.outDir, res.RunID, "results.json")
	assert.Equal(t, []string{
		jsonPath,
		filepath.Join(f.outDir, "report.md"),
		filepath.Join(f.outDir, "compliance.xlsx"),
	}, res.OutputFiles)

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var saved map[string]any
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Contains(t, saved, "compliance_assessment")
	assert.Contains(t, string(raw), "phase-to-phase & phase-to-neutral", "HTML characters are not escaped")

	md, err := os.ReadFile(filepath.Join(f.outDir, "report.md"))
	require.NoError(t, err)
	assert.Equal(t, "# North\n- RMS voltage measurement ±0.5%\n- Operating voltage 400V\n", string(md))

	xl, err := excelize.OpenFile(filepath.Join(f.outDir, "compliance.xlsx"))
	require.NoError(t, err)
	defer xl.Close()
	meter, err := xl.GetCellValue(report.SheetSummary, "B4")
	require.NoError(t, err)
	assert.Equal(t, "EM-100", meter)
}

func TestEngineStepFailureDoesNotFailRun(t *testing.T) {
	f := writeFixture(t, `
name: partial
inputs:
  - name: analysis_file
    type: file
processing_steps:
  - name: custom_logic
    type: python
    code: "print('hi')"
  - name: summary
    type: llm
    prompt_template: "summarize {{ .inputs.analysis_file.name }}"
outputs:
  - type: json
    filename: out.json
`)
	e := newTestEngine(t, llm.NewScriptedClient(`{"summary": "ok"}`))
	res := e.RunPrompt(context.Background(), f.pipeline, RunOptions{
		Inputs:    map[string]any{"analysis_file": f.analysis},
		OutputDir: f.outDir,
	})
	require.True(t, res.Success, res.Error)
	assert.True(t, IsFailure(res.PipelineResults["custom_logic"]))
	assert.False(t, IsFailure(res.PipelineResults["summary"]))
	assert.NotEmpty(t, res.Warnings, "inline code is flagged at validation")
	assert.Len(t, res.OutputFiles, 1)
}

func TestEngineSetupFailures(t *testing.T) {
	f := writeFixture(t, compliancePipeline)
	e := newTestEngine(t, complianceClient())
	ctx := context.Background()

	t.Run("missing pipeline file", func(t *testing.T) {
		res := e.RunPrompt(ctx, filepath.Join(f.dir, "absent.yaml"), RunOptions{})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "pipeline file not found")
		assert.Equal(t, map[string]any{"success": false, "error": res.Error}, res.Map())
	})

	t.Run("missing required input", func(t *testing.T) {
		res := e.RunPrompt(ctx, f.pipeline, RunOptions{OutputDir: f.outDir})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "analysis_file")
	})

	t.Run("missing database", func(t *testing.T) {
		broken := strings.Replace(compliancePipeline, "catalogue: meters.db", "catalogue: absent.db", 1)
		require.NoError(t, os.WriteFile(f.pipeline, []byte(broken), 0644))
		res := e.RunPrompt(ctx, f.pipeline, RunOptions{Inputs: map[string]any{"analysis_file": f.analysis}})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "catalogue")
	})

}

func TestReconcileRun(t *testing.T) {
	runCtx := NewContext(map[string]any{"analysis_file": map[string]any{"content": analysisDoc}}, nil)
	runCtx.Results()[extractClausesStep] = map[string]any{"success": false, "error": "model timed out"}
	runCtx.Results()[rerankStep] = map[string]any{"success": true, "results": map[string]any{"q": []any{}}}

	reconcileRun(runCtx)

	want := []any{
		"True RMS Volts: all phase-to-phase & phase-to-neutral ±0.5%",
		"Operating voltage 400V",
		"RS485 Modbus RTU port",
	}
	assert.Equal(t, want, runCtx[KeyRequirements])
	assert.Equal(t, map[string]any{"q": []any{}}, runCtx[KeyRerankedCandidates])
}

func TestReconcileRunWithoutExtraction(t *testing.T) {
	runCtx := NewContext(nil, nil)
	runCtx[KeyRequirements] = []any{"kept"}
	reconcileRun(runCtx)
	assert.Equal(t, []any{"kept"}, runCtx[KeyRequirements])
	assert.NotContains(t, runCtx, KeyRerankedCandidates)
}

func TestStoreBackendsMissingStore(t *testing.T) {
	b := NewStoreBackends(config.DefaultConfig().Embedding, filepath.Join(t.TempDir(), "none.db"))
	defer b.Close()
	_, err := b.Backend(context.Background(), BackendRequest{Collection: "meters_semantic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenderpipe index")
}

func TestNewScorer(t *testing.T) {
	cfg := config.DefaultConfig()
	s, err := NewScorer(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "lexical", s.Name())

	cfg.Reranker.Scorer = "oracle"
	_, err = NewScorer(context.Background(), cfg)
	assert.Error(t, err)
}
