package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"tenderpipe/internal/logging"
)

// Sheet names.
const (
	SheetSummary = "Summary"
	SheetMatrix  = "Compliance Matrix"
	SheetSpecs   = "Meter Specifications"
)

const maxColumnWidth = 50

// Generator renders compliance workbooks.
type Generator struct {
	// Now dates placeholder content. Defaults to time.Now.
	Now func() time.Time
}

// NewGenerator returns a Generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{Now: time.Now}
}

func (g *Generator) now() time.Time {
	if g == nil || g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Generate repairs data and writes the workbook to path. Only file-system
// and workbook-encoding problems produce an error.
func (g *Generator) Generate(path string, data any) (Outcome, error) {
	timer := logging.StartTimer(logging.CategoryOutput, "report.Generate")
	defer timer.Stop()

	doc, outcome := ValidateAndFix(data, g.now())

	f := excelize.NewFile()
	defer f.Close()

	s := &sheetStyles{}
	if err := s.init(f); err != nil {
		return outcome, err
	}
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return outcome, err
	}
	if err := writeSummary(f, s, asMap(doc[SectionSummary])); err != nil {
		return outcome, fmt.Errorf("summary sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetMatrix); err != nil {
		return outcome, err
	}
	if err := writeMatrix(f, s, asMap(doc[SectionMatrix])); err != nil {
		return outcome, fmt.Errorf("matrix sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSpecs); err != nil {
		return outcome, err
	}
	if err := writeSpecs(f, s, asMap(doc[SectionSpecs])); err != nil {
		return outcome, fmt.Errorf("specs sheet: %w", err)
	}
	f.SetActiveSheet(0)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return outcome, err
	}
	if err := f.SaveAs(path); err != nil {
		return outcome, fmt.Errorf("save %s: %w", path, err)
	}
	logging.Output("Spreadsheet written: %s (%s)", path, outcome)
	return outcome, nil
}

type sheetStyles struct {
	title, bold, header         int
	compliant, partial, failing int
}

func (s *sheetStyles) init(f *excelize.File) error {
	var err error
	mk := func(st *excelize.Style) int {
		if err != nil {
			return 0
		}
		var id int
		id, err = f.NewStyle(st)
		return id
	}
	fill := func(color string) excelize.Fill {
		return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
	}
	s.title = mk(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 16}})
	s.bold = mk(&excelize.Style{Font: &excelize.Font{Bold: true}})
	s.header = mk(&excelize.Style{Font: &excelize.Font{Bold: true}, Fill: fill("CCCCCC")})
	s.compliant = mk(&excelize.Style{Fill: fill("C6EFCE")})
	s.partial = mk(&excelize.Style{Fill: fill("FFEB9C")})
	s.failing = mk(&excelize.Style{Fill: fill("FFC7CE")})
	return err
}

// statusStyle picks a fill for a Status cell, or 0 for none.
func (s *sheetStyles) statusStyle(status string) int {
	u := strings.ToUpper(status)
	switch {
	case strings.Contains(u, "NON") || strings.Contains(u, "ERROR") || strings.Contains(u, "FAIL"):
		return s.failing
	case strings.Contains(u, "PARTIAL"):
		return s.partial
	case strings.Contains(u, "COMPLIANT") || u == "YES" || u == "PASS":
		return s.compliant
	}
	return 0
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

type kv struct {
	label string
	value any
}

func writeKV(f *excelize.File, sheet string, row int, rows []kv) (int, error) {
	for _, r := range rows {
		if err := f.SetCellValue(sheet, cell(1, row), r.label); err != nil {
			return row, err
		}
		if err := f.SetCellValue(sheet, cell(2, row), cellValue(r.value)); err != nil {
			return row, err
		}
		row++
	}
	return row, nil
}

var summaryKnown = map[string]bool{
	"project_name": true, "selected_meter": true, "analysis_date": true, "generated_by": true,
	"overall_compliance": true, "total_requirements": true, "status_breakdown": true,
}

func writeSummary(f *excelize.File, s *sheetStyles, section map[string]any) error {
	sheet := SheetSummary
	if err := f.SetCellValue(sheet, "A1", stringOr(section["title"], "Compliance Summary")); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "A1", s.title); err != nil {
		return err
	}

	data := asMap(section["data"])
	rows := []kv{
		{"Project Name:", valueOr(data["project_name"], "Unknown")},
		{"Selected Meter:", valueOr(data["selected_meter"], "Unknown")},
		{"Analysis Date:", valueOr(data["analysis_date"], "Unknown")},
		{"Generated By:", valueOr(data["generated_by"], GeneratedBy)},
		{"Overall Compliance:", valueOr(data["overall_compliance"], "Unknown")},
		{"Total Requirements:", valueOr(data["total_requirements"], 0)},
	}
	for _, k := range sortedKeys(data) {
		if !summaryKnown[k] {
			rows = append(rows, kv{titleize(k) + ":", data[k]})
		}
	}
	row, err := writeKV(f, sheet, 3, rows)
	if err != nil {
		return err
	}

	row++
	if err := f.SetCellValue(sheet, cell(1, row), "Compliance Breakdown:"); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, cell(1, row), cell(1, row), s.bold); err != nil {
		return err
	}
	breakdown := asMap(data["status_breakdown"])
	if _, err := writeKV(f, sheet, row+1, []kv{
		{"Fully Compliant:", valueOr(breakdown["fully_compliant"], 0)},
		{"Partially Compliant:", valueOr(breakdown["partially_compliant"], 0)},
		{"Non-Compliant:", valueOr(breakdown["non_compliant"], 0)},
	}); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", "A", 24); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "B", "B", maxColumnWidth)
}

func writeMatrix(f *excelize.File, s *sheetStyles, section map[string]any) error {
	sheet := SheetMatrix
	if err := f.SetCellValue(sheet, "A1", stringOr(section["title"], "Compliance Matrix")); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "A1", s.title); err != nil {
		return err
	}

	headers := toStrings(section["headers"])
	if len(headers) == 0 {
		headers = MatrixHeaders
	}
	widths := make([]int, len(headers))
	statusCol := -1
	for i, h := range headers {
		if err := f.SetCellValue(sheet, cell(i+1, 3), h); err != nil {
			return err
		}
		widths[i] = utf8.RuneCountInString(h)
		if strings.EqualFold(h, "status") {
			statusCol = i
		}
	}
	if err := f.SetCellStyle(sheet, cell(1, 3), cell(len(headers), 3), s.header); err != nil {
		return err
	}

	rows := section["data"]
	if rows == nil {
		rows = section["rows"]
	}
	rowList, _ := rows.([]any)
	for r, raw := range rowList {
		values := matrixRow(raw, headers)
		for c, v := range values {
			cv := cellValue(v)
			if err := f.SetCellValue(sheet, cell(c+1, r+4), cv); err != nil {
				return err
			}
			if c >= len(widths) {
				widths = append(widths, 0)
			}
			if n := utf8.RuneCountInString(fmt.Sprint(cv)); n > widths[c] {
				widths[c] = n
			}
			if c == statusCol {
				if st := s.statusStyle(fmt.Sprint(cv)); st != 0 {
					if err := f.SetCellStyle(sheet, cell(c+1, r+4), cell(c+1, r+4), st); err != nil {
						return err
					}
				}
			}
		}
	}

	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, float64(min(w+2, maxColumnWidth))); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 3, TopLeftCell: "A4", ActivePane: "bottomLeft"})
}

// matrixRow accepts a positional list or an object keyed by header
// (case-insensitive, spaces or underscores).
func matrixRow(raw any, headers []string) []any {
	switch row := raw.(type) {
	case []any:
		return row
	case map[string]any:
		norm := map[string]any{}
		for k, v := range row {
			norm[normalizeKey(k)] = v
		}
		out := make([]any, len(headers))
		for i, h := range headers {
			out[i] = norm[normalizeKey(h)]
		}
		return out
	case nil:
		return nil
	default:
		return []any{row}
	}
}

func writeSpecs(f *excelize.File, s *sheetStyles, section map[string]any) error {
	sheet := SheetSpecs
	if err := f.SetCellValue(sheet, "A1", stringOr(section["title"], "Meter Specifications")); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "A1", s.title); err != nil {
		return err
	}

	details := asMap(section["meter_details"])
	row, err := writeKV(f, sheet, 3, []kv{
		{"Model:", valueOr(details["model"], "Unknown")},
		{"Series:", valueOr(details["series"], "Unknown")},
		{"Selection Source:", valueOr(details["selection_source"], "Unknown")},
	})
	if err != nil {
		return err
	}

	row++
	if err := f.SetCellValue(sheet, cell(1, row), "Specifications:"); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, cell(1, row), cell(1, row), s.bold); err != nil {
		return err
	}
	specs := asMap(details["specifications"])
	var rows []kv
	for _, k := range sortedKeys(specs) {
		rows = append(rows, kv{titleize(k) + ":", stringify(specs[k])})
	}
	if _, err := writeKV(f, sheet, row+1, rows); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", "A", 28); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "B", "B", maxColumnWidth)
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func valueOr(v, def any) any {
	if v == nil {
		return def
	}
	return v
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// cellValue keeps scalars and encodes anything nested as JSON text.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64, float32:
		return t
	default:
		return stringify(t)
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func toStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, x := range list {
		out = append(out, stringify(x))
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(k string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(k)), " ", "_")
}

func titleize(k string) string {
	words := strings.Fields(strings.ReplaceAll(k, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
