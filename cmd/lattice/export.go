package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lattice/internal/export"
	"lattice/internal/graph"
)

var (
	exportKind     string
	exportAnalysis string
	exportOutput   string
	exportCompress bool
	exportPretty   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a graph or analysis snapshot as JSON",
	Long: `Write a persisted graph, or the latest analysis snapshot, to a JSON
file for downstream tooling. With --compress the payload is
zstd-compressed and the output gains a .zst suffix.

Examples:
  lattice export --kind import --output import.json --pretty
  lattice export --kind call --output call.json --compress
  lattice export --kind import --analysis full --output analysis.json`,
	Run: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportKind, "kind", "import", "Graph kind (import, call)")
	exportCmd.Flags().StringVar(&exportAnalysis, "analysis", "", "Export the latest analysis snapshot of this type instead of the graph")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "Output file path (required)")
	exportCmd.Flags().BoolVar(&exportCompress, "compress", false, "zstd-compress the output")
	exportCmd.Flags().BoolVar(&exportPretty, "pretty", false, "Indent the JSON")
	exportCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	kind, err := graph.ParseKind(exportKind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	exporter := export.NewExporter(a.store, a.logger)
	opts := export.Options{Output: exportOutput, Compress: exportCompress, Pretty: exportPretty}

	var path string
	if exportAnalysis != "" {
		path, err = exporter.ExportAnalysis(exportAnalysis, kind, opts)
	} else {
		path, err = exporter.ExportGraph(kind, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		os.Exit(1)
	}
	printResult(map[string]string{"output": path})
}
