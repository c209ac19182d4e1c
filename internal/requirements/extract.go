// Package requirements turns clause analyses and loosely structured model
// output into flat lists of atomic, searchable requirement strings.
package requirements

import (
	"regexp"
	"strings"
)

// Section markers used by tender analysis documents.
const (
	ClauseMarker      = "**Complete Clause Text:**\n"
	SpecMarker        = "**Key Specifications Identified:**"
	EndOfExtraction   = "END OF EXTRACTION"
	clauseHeadingMark = "### "
)

// Mode selects how requirements are read out of an analysis document.
type Mode string

const (
	// ModeClauses takes the full clause bodies under ClauseMarker.
	ModeClauses Mode = "clauses"
	// ModeBullets takes "- " bullet lines under SpecMarker.
	ModeBullets Mode = "bullets"
)

// clauseTerminators end a clause body, whichever comes first.
var clauseTerminators = []string{
	"\n" + SpecMarker,
	"\n" + clauseHeadingMark,
	"\n" + EndOfExtraction,
}

var bulletItemPattern = regexp.MustCompile(`(?m)^[ \t]*- ([^\n]*)`)

// FromAnalysis extracts requirements from an analysis document.
func FromAnalysis(content string, mode Mode) []string {
	switch mode {
	case ModeBullets:
		return bulletsFromAnalysis(content)
	default:
		return clausesFromAnalysis(content)
	}
}

func clausesFromAnalysis(content string) []string {
	var out []string
	rest := content
	for {
		i := strings.Index(rest, ClauseMarker)
		if i == -1 {
			return out
		}
		body := rest[i+len(ClauseMarker):]
		end := len(body)
		for _, term := range clauseTerminators {
			if j := strings.Index(body, term); j != -1 && j < end {
				end = j
			}
		}
		if text := strings.TrimSpace(body[:end]); text != "" {
			out = append(out, text)
		}
		rest = body[end:]
	}
}

func bulletsFromAnalysis(content string) []string {
	var out []string
	rest := content
	for {
		i := strings.Index(rest, SpecMarker)
		if i == -1 {
			return out
		}
		section := rest[i+len(SpecMarker):]
		// Lazy match: the section needs at least one character before a terminator.
		end := len(section)
		if len(section) > 1 {
			if j := strings.Index(section[1:], "\n\n"); j != -1 && j+1 < end {
				end = j + 1
			}
			if j := strings.Index(section[1:], EndOfExtraction); j != -1 && j+1 < end {
				end = j + 1
			}
		}
		for _, m := range bulletItemPattern.FindAllStringSubmatch(section[:end], -1) {
			if b := strings.TrimSpace(m[1]); b != "" {
				out = append(out, b)
			}
		}
		rest = section[end:]
	}
}

// Clause is one analysed tender clause with its key specifications.
type Clause struct {
	Clause   string   `json:"clause"`
	Features []string `json:"features"`
}

// Map returns the clause in generic form.
func (c Clause) Map() map[string]any {
	features := make([]any, len(c.Features))
	for i, f := range c.Features {
		features[i] = f
	}
	return map[string]any{"clause": c.Clause, "features": features}
}

// ParseClauses reads "### <title>" sections and the bullets listed under
// each section's SpecMarker. Sections without bullets keep an empty list.
func ParseClauses(content string) []Clause {
	var out []Clause
	var cur *Clause
	inSpecs := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, clauseHeadingMark):
			out = append(out, Clause{Clause: strings.TrimSpace(trimmed[len(clauseHeadingMark):]), Features: []string{}})
			cur = &out[len(out)-1]
			inSpecs = false
		case cur == nil:
		case strings.HasPrefix(trimmed, SpecMarker):
			inSpecs = true
		case trimmed == "" || strings.HasPrefix(trimmed, EndOfExtraction) || strings.HasPrefix(trimmed, "**"):
			if len(cur.Features) > 0 || trimmed != "" {
				inSpecs = false
			}
		case inSpecs && strings.HasPrefix(trimmed, "- "):
			if f := strings.TrimSpace(trimmed[2:]); f != "" {
				cur.Features = append(cur.Features, f)
			}
		}
	}
	return out
}
