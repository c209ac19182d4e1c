package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenderpipe/internal/discovery"
	"tenderpipe/internal/embedding"
	"tenderpipe/internal/store"
)

var (
	indexDB         string
	indexTable      string
	indexCollection string
	indexStore      string
	indexRebuild    bool
)

// indexCmd builds a vector collection from a product database
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index a product database into a vector collection",
	Long: `Discovers the schema of a SQLite product database and embeds one
summary document per main-table row plus one feature document per related
row, so retrieval steps can search the catalogue.

Example:
  tenderpipe index --db data/meters.db --collection meters_semantic`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexDB, "db", "", "SQLite product database (required)")
	indexCmd.Flags().StringVar(&indexTable, "table", "", "Table to index (default: detected main table)")
	indexCmd.Flags().StringVar(&indexCollection, "collection", "", "Collection name (default from config)")
	indexCmd.Flags().StringVar(&indexStore, "store", "", "Vector store file (default from config)")
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "Delete the collection before indexing")
	_ = indexCmd.MarkFlagRequired("db")
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	db, err := discovery.Open(ctx, indexDB)
	if err != nil {
		return err
	}
	defer db.Close()

	st, err := store.Open(orDefault(indexStore, cfg.VectorStore.Path))
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := embedding.NewEngine(ctx, cfg.Embedding, "")
	if err != nil {
		return err
	}
	name := orDefault(indexCollection, cfg.VectorStore.DefaultCollection)
	coll, err := st.Collection(ctx, name, eng)
	if err != nil {
		return err
	}
	if indexRebuild {
		if err := coll.Delete(ctx); err != nil {
			return fmt.Errorf("clear collection %s: %w", name, err)
		}
		if coll, err = st.Collection(ctx, name, eng); err != nil {
			return err
		}
	}

	logger.Info("indexing", zap.String("db", indexDB), zap.String("collection", name), zap.String("engine", eng.Name()))
	ix := &store.Indexer{DB: db}
	stats, err := ix.Index(ctx, coll, indexTable)
	if err != nil {
		return err
	}
	total, err := coll.Count(ctx)
	if err != nil {
		return err
	}
	printOK(out, "indexed %s into %s", stats.Table, name)
	printKV(out, "  summaries", stats.Summaries)
	printKV(out, "  features", stats.Features)
	printKV(out, "  documents", total)
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
