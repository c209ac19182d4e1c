package pipeline

import "strings"

// Kind selects the strategy a step runs with.
type Kind int

const (
	KindLLM Kind = iota
	KindCondense
	KindNative
	KindRerank
	KindRetrieval
	KindFanOut
)

func (k Kind) String() string {
	switch k {
	case KindLLM:
		return "llm"
	case KindCondense:
		return "condense"
	case KindNative:
		return "native"
	case KindRerank:
		return "rerank"
	case KindRetrieval:
		return "retrieval"
	case KindFanOut:
		return "foreach"
	}
	return "unknown"
}

const (
	breakdownStep      = "llm_breakdown_features"
	extractClausesStep = "extract_clauses"
	rerankStep         = "rerank_semantic_results"
	retrievalPrefix    = "llamaindex_"
)

var (
	nativeTypes    = map[string]bool{"python": true, "native": true, "transform": true}
	retrievalTypes = map[string]bool{"chroma": true, "vector": true, "vector_search": true, "faiss": true}
)

// KnownStepType reports whether t is a step type the dispatcher recognises.
// The empty type means llm.
func KnownStepType(t string) bool {
	switch {
	case t == "", t == "llm", t == "reranker":
		return true
	case nativeTypes[t], retrievalTypes[t]:
		return true
	}
	return false
}

// Classify maps a step to its strategy. The checks run in priority order;
// the first match wins.
func Classify(s StepSpec) Kind {
	switch {
	case s.Name == breakdownStep || s.Breakdown:
		return KindCondense
	case nativeTypes[s.Type]:
		return KindNative
	case s.Type == "reranker":
		return KindRerank
	case retrievalTypes[s.Type] || strings.HasPrefix(s.Name, retrievalPrefix):
		return KindRetrieval
	case s.Type == "llm" && strings.TrimSpace(s.Foreach) != "":
		return KindFanOut
	}
	return KindLLM
}
