package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lattice/internal/boundary"
)

var (
	boundaryEntryFile   string
	boundaryEntryLine   int
	boundaryControlFile string
	boundaryControlLine int
	boundaryPatterns    []string
	boundaryDepth       int
)

var boundaryCmd = &cobra.Command{
	Use:   "boundary",
	Short: "Measure how far security controls sit from entry points",
}

var boundaryDistanceCmd = &cobra.Command{
	Use:   "distance",
	Short: "Call hops between an entry point and a control",
	Long: `Distance 0 means the control runs in the entry function itself,
1 means a direct call, 2+ means the control is buried behind wrappers.

Example:
  lattice boundary distance --entry-file routes.ts --entry-line 12 \
    --control-file validators.ts --control-line 3`,
	Run: runBoundaryDistance,
}

var boundaryControlsCmd = &cobra.Command{
	Use:   "controls",
	Short: "Find controls reachable from an entry point",
	Run:   runBoundaryControls,
}

func init() {
	boundaryDistanceCmd.Flags().StringVar(&boundaryEntryFile, "entry-file", "", "Entry point file (required)")
	boundaryDistanceCmd.Flags().IntVar(&boundaryEntryLine, "entry-line", 0, "Entry point line (required)")
	boundaryDistanceCmd.Flags().StringVar(&boundaryControlFile, "control-file", "", "Control file (required)")
	boundaryDistanceCmd.Flags().IntVar(&boundaryControlLine, "control-line", 0, "Control line (required)")
	boundaryDistanceCmd.MarkFlagRequired("entry-file")
	boundaryDistanceCmd.MarkFlagRequired("entry-line")
	boundaryDistanceCmd.MarkFlagRequired("control-file")
	boundaryDistanceCmd.MarkFlagRequired("control-line")

	boundaryControlsCmd.Flags().StringVar(&boundaryEntryFile, "entry-file", "", "Entry point file (required)")
	boundaryControlsCmd.Flags().IntVar(&boundaryEntryLine, "entry-line", 0, "Entry point line (required)")
	boundaryControlsCmd.Flags().StringSliceVar(&boundaryPatterns, "pattern", nil, "Control name pattern, case-insensitive substring (can be repeated, required)")
	boundaryControlsCmd.Flags().IntVar(&boundaryDepth, "max-depth", boundary.DefaultMaxDepth, "Traversal depth limit")
	boundaryControlsCmd.MarkFlagRequired("entry-file")
	boundaryControlsCmd.MarkFlagRequired("entry-line")
	boundaryControlsCmd.MarkFlagRequired("pattern")

	boundaryCmd.AddCommand(boundaryDistanceCmd, boundaryControlsCmd)
	rootCmd.AddCommand(boundaryCmd)
}

func runBoundaryDistance(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	calc := boundary.NewCalculator(a.store, a.facts, a.logger)
	distance, found, err := calc.Distance(boundaryEntryFile, boundaryEntryLine, boundaryControlFile, boundaryControlLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printResult(map[string]interface{}{
		"entry_file":   boundaryEntryFile,
		"entry_line":   boundaryEntryLine,
		"control_file": boundaryControlFile,
		"control_line": boundaryControlLine,
		"distance":     distance,
		"reachable":    found,
	})
}

func runBoundaryControls(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	calc := boundary.NewCalculator(a.store, a.facts, a.logger)
	controls, err := calc.FindControls(boundaryEntryFile, boundaryEntryLine, boundaryPatterns, boundaryDepth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printResult(map[string]interface{}{
		"controls": controls,
		"quality":  boundary.MeasureQuality(controls),
	})
}
