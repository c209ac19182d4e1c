package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"tenderpipe/internal/discovery"
)

var schemaJSON bool

// schemaCmd prints what discovery finds in a product database
var schemaCmd = &cobra.Command{
	Use:   "schema [database]",
	Short: "Show the discovered schema of a product database",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchema,
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaJSON, "json", false, "Print the schema as JSON")
}

func runSchema(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	db, err := discovery.Open(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	if schemaJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(db.SchemaInfo())
	}

	schema := db.Schema()
	fmt.Fprintln(out, titleStyle.Render(db.Path()))
	printKV(out, "main table", db.MainTable())

	names := make([]string, 0, len(schema.Tables))
	for name := range schema.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(out, sectionStyle.Render("Tables"))
	for _, name := range names {
		t := schema.Tables[name]
		printKV(out, "  "+name, fmt.Sprintf("%d rows: %s", t.RowCount, strings.Join(t.Columns, ", ")))
	}

	if len(schema.Relationships) > 0 {
		fmt.Fprintln(out, sectionStyle.Render("Relationships"))
		for _, r := range schema.Relationships {
			line := fmt.Sprintf("  %s.%s -> %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
			if r.Inferred {
				line += mutedStyle.Render(" (inferred)")
			}
			fmt.Fprintln(out, line)
		}
	}

	fns := db.Functions()
	fnNames := make([]string, 0, len(fns))
	for n := range fns {
		fnNames = append(fnNames, n)
	}
	sort.Strings(fnNames)
	fmt.Fprintln(out, sectionStyle.Render(fmt.Sprintf("Functions (%d)", len(fnNames))))
	for _, n := range fnNames {
		printKV(out, "  "+n, fns[n])
	}
	return nil
}
