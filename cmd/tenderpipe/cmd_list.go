package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"tenderpipe/internal/pipeline"
)

var listTransforms bool

// listCmd shows the pipelines in the prompts directory
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available pipelines (or transforms with --transforms)",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listTransforms, "transforms", false, "List registered native transforms instead")
}

func runList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if listTransforms {
		fmt.Fprintln(out, titleStyle.Render("Transforms"))
		for _, t := range pipeline.DefaultTransforms().List() {
			printKV(out, t.Name, t.Description)
		}
		return nil
	}

	files, err := pipelineFiles(cfg.Paths.Prompts)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, titleStyle.Render("Pipelines in "+cfg.Paths.Prompts))
	if len(files) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("  none"))
		return nil
	}
	for _, f := range files {
		pc, err := pipeline.LoadConfig(f)
		if err != nil {
			printFail(out, "%s: %v", filepath.Base(f), err)
			continue
		}
		desc := pc.Description
		if desc == "" {
			desc = pc.Name
		}
		printKV(out, filepath.Base(f), desc)
	}
	return nil
}

// pipelineFiles returns the YAML files directly under dir, sorted.
func pipelineFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
