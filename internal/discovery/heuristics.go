package discovery

import (
	"fmt"
	"strings"
)

// Main-table scoring weights.
const (
	rowWeightDivisor   = 100.0
	referenceWeight    = 10.0
	commonNameBonus    = 50.0
	maxRowsPerSelect   = 100
	maxRowsPerSearch   = 50
)

var commonMainTableNames = map[string]bool{
	"meters": true, "products": true, "items": true, "main": true, "data": true, "records": true,
}

var categoryMarkers = []string{"type", "category", "class", "group", "series"}

// inferRelationships guesses links from naming conventions:
// x_id -> x or xs, and a column named exactly like another table.
func inferRelationships(s *Schema) []Relationship {
	declared := map[string]bool{}
	for _, r := range s.Relationships {
		declared[r.FromTable+"."+r.FromColumn] = true
	}

	var out []Relationship
	for _, name := range s.TableNames() {
		t := s.Tables[name]
		for _, col := range t.Columns {
			if declared[name+"."+col] || col == t.PrimaryKey {
				continue
			}
			target := ""
			if strings.HasSuffix(col, "_id") {
				base := strings.TrimSuffix(col, "_id")
				switch {
				case s.Tables[base] != nil:
					target = base
				case s.Tables[base+"s"] != nil:
					target = base + "s"
				}
			} else if s.Tables[col] != nil && col != name {
				target = col
			}
			if target == "" {
				continue
			}
			out = append(out, Relationship{
				FromTable: name, FromColumn: col, ToTable: target,
				ToColumn: s.Tables[target].PrimaryKey, Inferred: true,
			})
		}
	}
	return out
}

// suggestQueries generates named parameterised queries for every table
// plus join queries for every relationship.
func suggestQueries(s *Schema) map[string]string {
	q := map[string]string{}
	for _, name := range s.TableNames() {
		t := s.Tables[name]
		base := strings.ToLower(name)
		from := quoteIdent(name)

		if t.PrimaryKey != "" {
			q["get_all_"+base] = fmt.Sprintf("SELECT * FROM %s ORDER BY %s", from, quoteIdent(t.PrimaryKey))
		} else {
			q["get_all_"+base] = fmt.Sprintf("SELECT * FROM %s", from)
		}

		var textCols []string
		for i, col := range t.Columns {
			lc := strings.ToLower(col)
			if strings.Contains(t.ColumnTypes[i], "CHAR") || strings.Contains(t.ColumnTypes[i], "TEXT") || t.ColumnTypes[i] == "" {
				textCols = append(textCols, col)
			}
			if strings.HasSuffix(lc, "name") || lc == "title" || lc == "model" || lc == "code" {
				q[fmt.Sprintf("get_%s_by_%s", base, col)] = fmt.Sprintf("SELECT * FROM %s WHERE %s = :%s", from, quoteIdent(col), col)
				q[fmt.Sprintf("search_%s_by_%s", base, col)] = fmt.Sprintf("SELECT * FROM %s WHERE %s LIKE :pattern", from, quoteIdent(col))
			}
			if strings.HasSuffix(lc, "id") && col != t.PrimaryKey {
				q[fmt.Sprintf("get_%s_by_%s", base, col)] = fmt.Sprintf("SELECT * FROM %s WHERE %s = :%s", from, quoteIdent(col), col)
			}
			for _, marker := range categoryMarkers {
				if strings.Contains(lc, marker) {
					q[fmt.Sprintf("get_%s_by_%s", base, col)] = fmt.Sprintf("SELECT * FROM %s WHERE %s = :%s", from, quoteIdent(col), col)
					break
				}
			}
		}
		if len(textCols) > 0 {
			var where []string
			for _, c := range textCols {
				where = append(where, fmt.Sprintf("%s LIKE :pattern", quoteIdent(c)))
			}
			q["search_"+base] = fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", from, strings.Join(where, " OR "), maxRowsPerSearch)
		}
	}

	for _, r := range s.Relationships {
		if r.ToColumn == "" {
			continue
		}
		ft, tt := quoteIdent(r.FromTable), quoteIdent(r.ToTable)
		q[fmt.Sprintf("get_%s_with_%s", strings.ToLower(r.FromTable), strings.ToLower(r.ToTable))] = fmt.Sprintf(
			"SELECT %s.*, %s.* FROM %s LEFT JOIN %s ON %s.%s = %s.%s",
			ft, tt, ft, tt, ft, quoteIdent(r.FromColumn), tt, quoteIdent(r.ToColumn))
		q[fmt.Sprintf("get_%s_with_%s", strings.ToLower(r.ToTable), strings.ToLower(r.FromTable))] = fmt.Sprintf(
			"SELECT %s.*, %s.* FROM %s LEFT JOIN %s ON %s.%s = %s.%s",
			tt, ft, tt, ft, tt, quoteIdent(r.ToColumn), ft, quoteIdent(r.FromColumn))
	}
	return q
}

// MainTableScore scores a table for main-table detection:
// rows/100 + 10 per incoming relationship + 50 for a conventional name.
func MainTableScore(s *Schema, name string) float64 {
	t := s.Tables[name]
	if t == nil {
		return 0
	}
	score := float64(t.RowCount) / rowWeightDivisor
	for _, r := range s.Relationships {
		if r.ToTable == name {
			score += referenceWeight
		}
	}
	if commonMainTableNames[strings.ToLower(name)] {
		score += commonNameBonus
	}
	return score
}

// DetectMainTable returns the highest-scoring table; ties go to the
// alphabetically first name. Empty schemas yield "".
func DetectMainTable(s *Schema) string {
	best, bestScore := "", -1.0
	for _, name := range s.TableNames() {
		if score := MainTableScore(s, name); score > bestScore {
			best, bestScore = name, score
		}
	}
	return best
}
