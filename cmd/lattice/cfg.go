package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lattice/internal/cfg"
)

var (
	cfgFile     string
	cfgFunction string

	complexityThreshold int

	pathsMax int
)

var cfgCmd = &cobra.Command{
	Use:   "cfg",
	Short: "Inspect control flow graphs of indexed functions",
}

var cfgShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a function's control flow graph with metrics",
	Run:   runCfgShow,
}

var cfgComplexityCmd = &cobra.Command{
	Use:   "complexity",
	Short: "Report cyclomatic complexity for every function in a file",
	Run:   runCfgComplexity,
}

var cfgPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Enumerate acyclic execution paths through a function",
	Run:   runCfgPaths,
}

var cfgDotCmd = &cobra.Command{
	Use:   "dot",
	Short: "Render a function's control flow graph as Graphviz DOT",
	Run:   runCfgDot,
}

func init() {
	cfgCmd.PersistentFlags().StringVar(&cfgFile, "file", "", "Source file path (required)")
	cfgCmd.MarkPersistentFlagRequired("file")

	cfgShowCmd.Flags().StringVar(&cfgFunction, "function", "", "Function name (required)")
	cfgShowCmd.MarkFlagRequired("function")

	cfgComplexityCmd.Flags().IntVar(&complexityThreshold, "threshold", 0, "Only report functions at or above this complexity")

	cfgPathsCmd.Flags().StringVar(&cfgFunction, "function", "", "Function name (required)")
	cfgPathsCmd.Flags().IntVar(&pathsMax, "max-paths", 0, "Path enumeration cap (defaults to analysis.max_paths)")
	cfgPathsCmd.MarkFlagRequired("function")

	cfgDotCmd.Flags().StringVar(&cfgFunction, "function", "", "Function name (required)")
	cfgDotCmd.MarkFlagRequired("function")

	cfgCmd.AddCommand(cfgShowCmd, cfgComplexityCmd, cfgPathsCmd, cfgDotCmd)
	rootCmd.AddCommand(cfgCmd)
}

func (a *app) cfgEngine() *cfg.Engine {
	return cfg.NewEngine(a.facts, a.logger)
}

func runCfgShow(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	functionCFG, err := a.cfgEngine().FunctionCFG(cfgFile, cfgFunction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printResult(functionCFG)
}

func runCfgComplexity(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	report, err := a.cfgEngine().AnalyzeComplexity(cfgFile, complexityThreshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printResult(report)
}

func runCfgPaths(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	maxPaths := pathsMax
	if maxPaths <= 0 {
		maxPaths = a.cfg.Analysis.MaxPaths
	}

	paths, err := a.cfgEngine().ExecutionPaths(cfgFile, cfgFunction, maxPaths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printResult(map[string]interface{}{
		"file":     cfgFile,
		"function": cfgFunction,
		"paths":    paths,
		"count":    len(paths),
	})
}

func runCfgDot(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	dot, err := a.cfgEngine().ExportDOT(cfgFile, cfgFunction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(dot)
}
