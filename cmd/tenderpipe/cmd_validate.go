package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tenderpipe/internal/pipeline"
)

var validateWatch bool

// validateCmd checks pipeline files without running them
var validateCmd = &cobra.Command{
	Use:   "validate [pipeline...]",
	Short: "Check pipeline files for errors and warnings",
	Long: `Loads each pipeline and reports structural errors (missing names,
duplicate steps, empty files) and warnings (unknown step types, dependencies
on later steps, unregistered transforms, bad outputs).

With --watch, a single pipeline is re-checked every time it is saved.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVarP(&validateWatch, "watch", "w", false, "Re-validate on every change")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	transforms := pipeline.DefaultTransforms()

	failed := 0
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		path, err := resolvePipeline(arg, cfg.Paths.Prompts)
		if err != nil {
			printFail(out, "%v", err)
			failed++
			continue
		}
		paths = append(paths, path)
		if !printReport(out, pipeline.ValidateFile(path, transforms)) {
			failed++
		}
	}

	if validateWatch {
		if len(paths) != 1 {
			return fmt.Errorf("--watch takes exactly one pipeline")
		}
		return watchPipeline(cmd, paths[0], transforms)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pipelines failed validation", failed, len(args))
	}
	return nil
}

func watchPipeline(cmd *cobra.Command, path string, transforms *pipeline.Registry) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	w, err := pipeline.NewWatcher(path, transforms, func(r pipeline.ValidationReport) {
		printReport(out, r)
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	defer w.Stop()

	fmt.Fprintln(out, mutedStyle.Render("watching "+path+", press Ctrl+C to stop"))
	<-ctx.Done()
	return nil
}

func printReport(w io.Writer, r pipeline.ValidationReport) bool {
	if !r.OK() {
		printFail(w, "%s: %v", r.Path, r.Err)
		return false
	}
	printOK(w, "%s: %d steps, %d outputs", r.Path, r.Steps, r.Outputs)
	for _, warn := range r.Warnings {
		printWarn(w, "  %s", warn)
	}
	return true
}
