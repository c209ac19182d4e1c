package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenderpipe/internal/llm"
	"tenderpipe/internal/pipeline"
	"tenderpipe/internal/retrieval"
)

var (
	runInputs         []string
	runLLMModel       string
	runEmbeddingModel string
	runOutputDir      string
	runImage          string
	runJSON           bool
	runShow           bool
)

// runCmd executes one pipeline
var runCmd = &cobra.Command{
	Use:   "run [pipeline]",
	Short: "Run a pipeline",
	Long: `Runs a pipeline file. The argument is a path, or the name of a pipeline
in the prompts directory.

Example:
  tenderpipe run prompts/meter_compliance.yaml \
    --input analysis_file=tender_analysis.md --input site=North`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Pipeline input as name=value (repeatable)")
	runCmd.Flags().StringVar(&runLLMModel, "llm-model", "", "Model for steps that name none")
	runCmd.Flags().StringVar(&runEmbeddingModel, "embedding-model", "", "Embedding model for retrieval steps")
	runCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "Output directory (default from config)")
	runCmd.Flags().StringVar(&runImage, "image", "", "Drawing image passed to vision models")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run result as JSON")
	runCmd.Flags().BoolVar(&runShow, "show", false, "Render Markdown outputs in the terminal")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := resolvePipeline(args[0], cfg.Paths.Prompts)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(runInputs)
	if err != nil {
		return err
	}

	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	opts := pipeline.RunOptions{
		Inputs:         inputs,
		LLMModel:       runLLMModel,
		EmbeddingModel: runEmbeddingModel,
		OutputDir:      runOutputDir,
	}
	if runImage != "" {
		opts.Context = map[string]any{pipeline.KeyDrawingImagePath: runImage}
	}
	logger.Info("running pipeline", zap.String("path", path), zap.Int("inputs", len(inputs)))

	res := engine.RunPrompt(ctx, path, opts)
	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printRunResult(out, res)
	}
	if !res.Success {
		return fmt.Errorf("run failed: %s", res.Error)
	}
	if runShow {
		return showMarkdown(out, res.OutputFiles)
	}
	return nil
}

// newEngine wires the configured model, reranker and vector stores.
func newEngine(ctx context.Context) (*pipeline.Engine, error) {
	client, err := llm.NewClientFromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	scorer, err := pipeline.NewScorer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	processor := llm.NewProcessor(client, llm.OptionsFromConfig(cfg.LLM))
	return pipeline.NewEngine(cfg, processor,
		pipeline.WithReranker(retrieval.NewReranker(scorer, cfg.Reranker.TopN))), nil
}

// resolvePipeline accepts a path or a pipeline name under promptsDir.
func resolvePipeline(arg, promptsDir string) (string, error) {
	candidates := []string{arg}
	if promptsDir != "" && !filepath.IsAbs(arg) {
		candidates = append(candidates, filepath.Join(promptsDir, arg))
		if filepath.Ext(arg) == "" {
			candidates = append(candidates, filepath.Join(promptsDir, arg+".yaml"), filepath.Join(promptsDir, arg+".yml"))
		}
	}
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("pipeline %q not found (looked in . and %s)", arg, promptsDir)
}

// parseInputs turns name=value pairs into an input map. Later pairs win.
func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --input %q, expected name=value", p)
		}
		inputs[name] = value
	}
	return inputs, nil
}

func printRunResult(w io.Writer, res pipeline.RunResult) {
	if !res.Success {
		printFail(w, "%s", res.Error)
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Run "+res.RunID))
	for _, warn := range res.Warnings {
		printWarn(w, "%s", warn)
	}

	names := make([]string, 0, len(res.PipelineResults))
	for name := range res.PipelineResults {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, sectionStyle.Render("Steps"))
	for _, name := range names {
		r := res.PipelineResults[name]
		if pipeline.IsFailure(r) {
			printFail(w, "%s %s", name, mutedStyle.Render(fmt.Sprint(r.(map[string]any)["error"])))
			continue
		}
		if list, ok := r.([]any); ok {
			failed := 0
			for _, item := range list {
				if pipeline.IsFailure(item) {
					failed++
				}
			}
			if failed > 0 {
				printWarn(w, "%s: %d of %d items failed", name, failed, len(list))
				continue
			}
		}
		printOK(w, "%s", name)
	}

	fmt.Fprintln(w, sectionStyle.Render("Outputs"))
	if len(res.OutputFiles) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  none"))
	}
	for _, f := range res.OutputFiles {
		printKV(w, "  "+filepath.Ext(f), f)
	}
}

func showMarkdown(w io.Writer, files []string) error {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	for _, f := range files {
		if filepath.Ext(f) != ".md" {
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		out, err := renderer.Render(string(data))
		if err != nil {
			return err
		}
		fmt.Fprint(w, out)
	}
	return nil
}
