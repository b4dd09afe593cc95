package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lattice/internal/correlate"
)

var correlateFindings string

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Cluster analysis findings that share an execution path",
	Long: `Read findings from a JSON file and group the ones that can execute
together on a single control flow path. Findings on mutually exclusive
branches never end up in the same cluster.

The findings file is a JSON array of objects with file, line, tool,
rule and message fields.`,
	Run: runCorrelate,
}

func init() {
	correlateCmd.Flags().StringVar(&correlateFindings, "findings", "", "Path to findings JSON file (required)")
	correlateCmd.MarkFlagRequired("findings")

	rootCmd.AddCommand(correlateCmd)
}

func runCorrelate(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	data, err := os.ReadFile(correlateFindings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading findings: %v\n", err)
		os.Exit(1)
	}
	var findings []correlate.Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing findings: %v\n", err)
		os.Exit(1)
	}

	correlator := correlate.NewCorrelator(a.facts, a.cfgEngine(), a.logger)
	clusters, err := correlator.Correlate(findings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error correlating findings: %v\n", err)
		os.Exit(1)
	}
	printResult(map[string]interface{}{
		"clusters": clusters,
		"count":    len(clusters),
	})
}
