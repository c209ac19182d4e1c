package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tenderpipe/internal/pipeline"
	"tenderpipe/internal/retrieval"
	"tenderpipe/internal/store"
)

var (
	queryCollection string
	queryStore      string
	queryTopK       int
	queryRerank     bool
	queryList       bool
)

// queryCmd searches a vector collection directly
var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search a vector collection",
	Long: `Runs one semantic search against an indexed collection, optionally
reranked with the configured scorer. Use --collections to list what the
store holds.

Example:
  tenderpipe query "accuracy class 0.5S" --top-k 5 --rerank`,
	Args: func(cmd *cobra.Command, args []string) error {
		if queryList {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryCollection, "collection", "", "Collection name (default from config)")
	queryCmd.Flags().StringVar(&queryStore, "store", "", "Vector store file (default from config)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", retrieval.DefaultNResults, "Number of candidates")
	queryCmd.Flags().BoolVar(&queryRerank, "rerank", false, "Rerank candidates with the configured scorer")
	queryCmd.Flags().BoolVar(&queryList, "collections", false, "List collections instead of searching")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	path := orDefault(queryStore, cfg.VectorStore.Path)

	if queryList {
		st, err := store.Open(path)
		if err != nil {
			return err
		}
		defer st.Close()
		infos, err := st.Collections(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, titleStyle.Render("Collections in "+path))
		for _, c := range infos {
			printKV(out, c.Name, fmt.Sprintf("%d documents, %s (%d dims), created %s", c.Documents, c.Engine, c.Dimensions, c.CreatedAt))
		}
		return nil
	}

	backends := pipeline.NewStoreBackends(cfg.Embedding, path)
	defer backends.Close()
	name := orDefault(queryCollection, cfg.VectorStore.DefaultCollection)
	backend, err := backends.Backend(ctx, pipeline.BackendRequest{Collection: name})
	if err != nil {
		return err
	}

	text := strings.Join(args, " ")
	cands, err := backend.Query(ctx, text, queryTopK)
	if err != nil {
		return err
	}
	if queryRerank {
		scorer, err := pipeline.NewScorer(ctx, cfg)
		if err != nil {
			return err
		}
		if cands, err = retrieval.NewReranker(scorer, cfg.Reranker.TopN).Rerank(ctx, text, cands); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d results for %q in %s", len(cands), text, name)))
	for i, c := range cands {
		fmt.Fprintf(out, "%s %s\n", mutedStyle.Render(fmt.Sprintf("%2d. %.3f", i+1, c.Score)), c.Text)
	}
	return nil
}
