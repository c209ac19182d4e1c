// Package report builds the compliance spreadsheet. Input of any shape is
// first repaired against the fixed three-section layout so a workbook is
// always produced; missing data shows up as marked placeholder values.
package report

import (
	"encoding/json"
	"time"

	"tenderpipe/internal/logging"
)

// Section keys of a compliance document.
const (
	SectionSummary = "summary_sheet"
	SectionMatrix  = "compliance_matrix"
	SectionSpecs   = "meter_specs"
)

// Sections lists the required sections in workbook order.
var Sections = []string{SectionSummary, SectionMatrix, SectionSpecs}

// MatrixHeaders is the default compliance matrix header row.
var MatrixHeaders = []string{
	"Clause ID", "Category", "Parameter", "Required",
	"Meter Spec", "Status", "Justification", "Risk", "Comments",
}

// GeneratedBy marks placeholder content.
const GeneratedBy = "tenderpipe"

// Outcome describes what ValidateAndFix had to do.
type Outcome string

const (
	OutcomeValid    Outcome = "valid"
	OutcomeRepaired Outcome = "repaired"
	OutcomeFallback Outcome = "fallback"
)

// ValidateAndFix returns a document that has all three sections.
// Strings are parsed as JSON. Unparseable strings, non-objects, objects
// carrying an "error" key and objects missing every section are replaced
// by the full fallback document; otherwise each missing section is filled
// in individually. The input is never modified.
func ValidateAndFix(data any, now time.Time) (map[string]any, Outcome) {
	log := logging.Get(logging.CategoryOutput)

	if s, ok := data.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			log.Warn("report data is not valid JSON (%v), using fallback", err)
			return Fallback(now), OutcomeFallback
		}
		data = parsed
	}

	m, ok := data.(map[string]any)
	if !ok || m == nil {
		log.Warn("report data is %T, not an object, using fallback", data)
		return Fallback(now), OutcomeFallback
	}
	if errVal, ok := m["error"]; ok {
		log.Warn("report data carries an error (%v), using fallback", errVal)
		return Fallback(now), OutcomeFallback
	}

	var missing []string
	for _, s := range Sections {
		if _, ok := m[s].(map[string]any); !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return m, OutcomeValid
	}
	if len(missing) == len(Sections) {
		log.Warn("report data has none of %v, using fallback", Sections)
		return Fallback(now), OutcomeFallback
	}

	log.Info("repairing missing report sections: %v", missing)
	fixed := make(map[string]any, len(m)+len(missing))
	for k, v := range m {
		fixed[k] = v
	}
	for _, s := range missing {
		fixed[s] = placeholderSection(s, now)
	}
	return fixed, OutcomeRepaired
}

func headersAny() []any {
	out := make([]any, len(MatrixHeaders))
	for i, h := range MatrixHeaders {
		out[i] = h
	}
	return out
}

func placeholderSection(section string, now time.Time) map[string]any {
	switch section {
	case SectionSummary:
		return map[string]any{
			"title": "Compliance Summary",
			"data": map[string]any{
				"project_name":       "Tender Compliance Analysis",
				"selected_meter":     "Unknown",
				"analysis_date":      now.Format("2006-01-02"),
				"generated_by":       GeneratedBy,
				"overall_compliance": "Data extraction incomplete",
				"total_requirements": 0,
				"status_breakdown": map[string]any{
					"fully_compliant":     0,
					"partially_compliant": 0,
					"non_compliant":       0,
				},
			},
		}
	case SectionMatrix:
		return map[string]any{
			"title":   "Detailed Compliance Matrix",
			"headers": headersAny(),
			"data": []any{
				[]any{"N/A", "Error", "Data extraction incomplete", "N/A", "N/A",
					"ERROR", "LLM processing incomplete", "High", "Check source analysis file"},
			},
		}
	default:
		return map[string]any{
			"title": "Selected Meter Specifications",
			"meter_details": map[string]any{
				"model":            "Unknown",
				"series":           "Unknown",
				"selection_source": "Data extraction incomplete",
				"specifications": map[string]any{
					"status": "Data extraction failed",
				},
			},
		}
	}
}

// Fallback is the complete "extraction failed" document.
func Fallback(now time.Time) map[string]any {
	return map[string]any{
		SectionSummary: map[string]any{
			"title": "Compliance Summary",
			"data": map[string]any{
				"project_name":       "Tender Compliance Analysis",
				"selected_meter":     "Unknown",
				"analysis_date":      now.Format("2006-01-02"),
				"generated_by":       GeneratedBy,
				"overall_compliance": "Data extraction failed",
				"total_requirements": 1,
				"status_breakdown": map[string]any{
					"fully_compliant":     0,
					"partially_compliant": 0,
					"non_compliant":       1,
				},
			},
		},
		SectionMatrix: map[string]any{
			"title":   "Detailed Compliance Matrix",
			"headers": headersAny(),
			"data": []any{
				[]any{"ERROR", "System", "Data Extraction", "Complete analysis", "Failed",
					"NON-COMPLIANT", "LLM processing failed to extract compliance data",
					"High", "Check source analysis file format and content"},
			},
		},
		SectionSpecs: map[string]any{
			"title": "Selected Meter Specifications",
			"meter_details": map[string]any{
				"model":            "Data extraction failed",
				"series":           "Unknown",
				"selection_source": "Error - processing failed",
				"specifications": map[string]any{
					"status":         "Unable to extract meter specifications",
					"recommendation": "Check source analysis file and retry",
				},
			},
		},
	}
}
