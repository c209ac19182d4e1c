package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tenderpipe/internal/render"
	"tenderpipe/internal/report"
)

func newMaterializer() *Materializer {
	g := &report.Generator{Now: func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }}
	return NewMaterializer(render.New(), g)
}

func runData() map[string]any {
	return map[string]any{
		"inputs": map[string]any{"tender": "T-42", "emit": "yes"},
		"step_results": map[string]any{
			"extract_clauses": map[string]any{
				"success":      true,
				"raw_response": "```json\n{\"requirements\": [\"RMS voltage ±0.5%\"]}\n```",
			},
			"bad_report": map[string]any{
				"success":      true,
				"raw_response": "```json\n{not valid json",
			},
		},
		"requirements": []any{"RMS voltage ±0.5%", "Operating voltage 400V"},
	}
}

func readJSON(t *testing.T, path string) any {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var v any
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func TestJSONOutputs(t *testing.T) {
	dir := t.TempDir()
	specs := []Spec{
		{Type: TypeJSON, Filename: "all.json"},
		{Type: TypeJSON, Filename: "{{ .inputs.tender }}-reqs.json", Data: "```json\n{{ toJson .requirements }}\n```"},
		{Type: TypeJSON, Filename: "plain.json", Data: "not json {{ .inputs.tender }}"},
		{Type: TypeJSON, Filename: "tree.json", Data: map[string]any{
			"tender": "{{ .inputs.tender }}",
			"tags":   []any{"fixed", "{{ len .requirements }}"},
		}},
	}

	written := newMaterializer().Materialize(specs, runData(), Target{Dir: dir})
	require.Len(t, written, 4)
	assert.Equal(t, filepath.Join(dir, "T-42-reqs.json"), written[1])

	all := readJSON(t, written[0]).(map[string]any)
	assert.Contains(t, all, "extract_clauses")

	assert.Equal(t, []any{"RMS voltage ±0.5%", "Operating voltage 400V"}, readJSON(t, written[1]))
	assert.Equal(t, "not json T-42", readJSON(t, written[2]))

	want := map[string]any{"tender": "T-42", "tags": []any{"fixed", "2"}}
	if diff := cmp.Diff(want, readJSON(t, written[3])); diff != "" {
		t.Errorf("tree output mismatch (-want +got):\n%s", diff)
	}
}

func TestConditionsGateOutputs(t *testing.T) {
	dir := t.TempDir()
	specs := []Spec{
		{Type: TypeText, Filename: "yes.txt", Condition: `eq .inputs.emit "yes"`, Content: "on"},
		{Type: TypeText, Filename: "no.txt", Condition: `eq .inputs.emit "no"`, Content: "off"},
		{Type: TypeText, Filename: "broken.txt", Condition: `{{ .inputs.emit | nosuchfunc }}`, Content: "x"},
	}
	written := newMaterializer().Materialize(specs, runData(), Target{Dir: dir})
	assert.Equal(t, []string{filepath.Join(dir, "yes.txt")}, written)
	assert.NoFileExists(t, filepath.Join(dir, "no.txt"))
}

func TestTextOutputStripsFences(t *testing.T) {
	dir := t.TempDir()
	specs := []Spec{{Type: TypeText, Filename: "raw.txt", Content: "{{ .step_results.extract_clauses.raw_response }}"}}
	written := newMaterializer().Materialize(specs, runData(), Target{Dir: dir})
	require.Len(t, written, 1)

	b, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Equal(t, `{"requirements": ["RMS voltage ±0.5%"]}`, string(b))
}

func TestMarkdownOutputs(t *testing.T) {
	dir := t.TempDir()
	tplDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tplDir, "report.md.tmpl"),
		[]byte("# {{ .inputs.tender }}\n{{ range .requirements }}- {{ . }}\n{{ end }}"), 0644))

	specs := []Spec{
		{Type: TypeMarkdown, Filename: "default.md"},
		{Type: TypeMarkdown, Filename: "templated.md", Template: "report.md.tmpl"},
		{Type: TypeMarkdown, Filename: "missing.md", Template: "nope.tmpl", Content: "inline {{ .inputs.tender }}"},
	}
	written := newMaterializer().Materialize(specs, runData(), Target{Dir: dir, TemplateDir: tplDir})
	require.Len(t, written, 3)

	def, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Contains(t, string(def), "# Results")
	assert.Contains(t, string(def), `"extract_clauses"`)

	tpl, err := os.ReadFile(written[1])
	require.NoError(t, err)
	assert.Equal(t, "# T-42\n- RMS voltage ±0.5%\n- Operating voltage 400V\n", string(tpl))

	inline, err := os.ReadFile(written[2])
	require.NoError(t, err)
	assert.Equal(t, "inline T-42", string(inline))
}

func TestSpreadsheetAlwaysWritten(t *testing.T) {
	dir := t.TempDir()
	specs := []Spec{
		{Type: TypeCustomExcel, Filename: "malformed.xlsx", LLMStep: "bad_report"},
		{Type: TypeSpreadsheet, Filename: "missing.xlsx", LLMStep: "no_such_step"},
	}
	written := newMaterializer().Materialize(specs, runData(), Target{Dir: dir})
	require.Len(t, written, 2)

	for _, path := range written {
		f, err := excelize.OpenFile(path)
		require.NoError(t, err)
		assert.Equal(t, []string{report.SheetSummary, report.SheetMatrix, report.SheetSpecs}, f.GetSheetList())

		v, err := f.GetCellValue(report.SheetSummary, "B7")
		require.NoError(t, err)
		assert.Equal(t, "Data extraction failed", v)

		status, err := f.GetCellValue(report.SheetMatrix, "F4")
		require.NoError(t, err)
		assert.Equal(t, "NON-COMPLIANT", status)
		require.NoError(t, f.Close())
	}
}

func TestUnknownTypeSkipped(t *testing.T) {
	dir := t.TempDir()
	specs := []Spec{
		{Type: "pptx", Filename: "deck.pptx"},
		{Type: TypeText, Filename: "   ", Content: "x"},
		{Type: TypeText, Filename: "sub/dir/ok.txt", Content: "ok"},
	}
	written := newMaterializer().Materialize(specs, runData(), Target{Dir: dir})
	assert.Equal(t, []string{filepath.Join(dir, "sub", "dir", "ok.txt")}, written)
}

func TestSanitize(t *testing.T) {
	ch := make(chan int)
	in := map[string]any{
		"list":  []string{"a"},
		"rows":  []map[string]any{{"id": 1}},
		"chan":  ch,
		"plain": 2.5,
	}
	out := Sanitize(in).(map[string]any)
	_, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, out["list"])
	assert.IsType(t, "", out["chan"])
}
