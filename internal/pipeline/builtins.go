package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"

	"tenderpipe/internal/logging"
	"tenderpipe/internal/requirements"
)

// DefaultChunkSize is the chunk_text size in characters.
const DefaultChunkSize = 8000

func registerBuiltins(r *Registry) {
	r.MustRegister("load_clauses", "Parse analysed clauses and their key specifications from an input document", loadClauses)
	r.MustRegister("extract_requirements", "Reconcile a flat requirement list from an input document and an optional step result", extractRequirements)
	r.MustRegister("chunk_text", "Split an input document into paragraph-aligned chunks", chunkText)
	r.MustRegister("literal", "Return the rendered with.value, optionally publishing it", literal)
	r.MustRegister("query_database", "Run a suggested query against a configured database", queryDatabase)
	r.MustRegister("search_database", "Search a configured database by column criteria", searchDatabase)
	r.MustRegister("database_schema", "Return the discovered schema of a configured database", databaseSchema)
}

func loadClauses(ctx context.Context, env *TransformEnv) (any, error) {
	content, err := env.Document("analysis_file")
	if err != nil {
		return nil, err
	}
	clauses := requirements.ParseClauses(content)
	list := make([]any, len(clauses))
	total := 0
	for i, c := range clauses {
		list[i] = c.Map()
		total += len(c.Features)
	}
	logging.Pipeline("loaded %d clauses with %d features", len(clauses), total)
	env.Scope.Publish(KeyClauses, list)
	return map[string]any{
		"success":        true,
		"clauses":        list,
		"total_features": total,
	}, nil
}

func extractRequirements(ctx context.Context, env *TransformEnv) (any, error) {
	content, docErr := env.Document("analysis_file")
	var stepResult any
	if name := env.String("step", ""); name != "" {
		stepResult = env.Scope.Results()[name]
	}
	if docErr != nil && stepResult == nil {
		return nil, docErr
	}

	reqs, source := requirements.Reconcile(content, stepResult)
	list := stringsToAny(reqs)
	if len(list) > 0 {
		env.Scope.Publish(KeyRequirements, list)
	}
	return map[string]any{
		"success":      true,
		"requirements": list,
		"source":       string(source),
	}, nil
}

func chunkText(ctx context.Context, env *TransformEnv) (any, error) {
	content, err := env.Document("analysis_file")
	if err != nil {
		return nil, err
	}
	chunks := ChunkText(content, env.Int("size", DefaultChunkSize))
	list := stringsToAny(chunks)
	env.Scope.Publish(env.String("publish", "chunks"), list)
	return map[string]any{
		"success":      true,
		"chunks":       list,
		"total_chunks": len(list),
	}, nil
}

func literal(ctx context.Context, env *TransformEnv) (any, error) {
	value := env.Args["value"]
	if key := env.String("publish", ""); key != "" {
		env.Scope.Publish(key, value)
	}
	return map[string]any{"success": true, "value": value}, nil
}

func queryDatabase(ctx context.Context, env *TransformEnv) (any, error) {
	db, err := env.Database()
	if err != nil {
		return nil, err
	}
	name := env.String("query", "")
	rows, err := db.ExecuteSuggestedQuery(ctx, name, env.Map("params"))
	if err != nil {
		return nil, err
	}
	return rowsResult(rows, map[string]any{"query": name}), nil
}

func searchDatabase(ctx context.Context, env *TransformEnv) (any, error) {
	db, err := env.Database()
	if err != nil {
		return nil, err
	}
	rows, err := db.Search(ctx, env.Map("criteria"))
	if err != nil {
		return nil, err
	}
	return rowsResult(rows, nil), nil
}

func databaseSchema(ctx context.Context, env *TransformEnv) (any, error) {
	db, err := env.Database()
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "schema": db.SchemaInfo()}, nil
}

func rowsResult(rows []map[string]any, extra map[string]any) map[string]any {
	list := make([]any, len(rows))
	for i, r := range rows {
		list[i] = r
	}
	out := map[string]any{"success": true, "rows": list, "count": len(list)}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ChunkText splits text into pieces of at most size characters, preferring
// paragraph boundaries. Paragraphs longer than size are cut on rune
// boundaries.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+2+utf8.RuneCountInString(para) > size {
			flush()
		}
		for utf8.RuneCountInString(para) > size {
			flush()
			head, rest := splitRunes(para, size)
			chunks = append(chunks, head)
			para = strings.TrimSpace(rest)
		}
		if para == "" {
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}

func splitRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
