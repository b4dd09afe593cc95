package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lattice/internal/graph"
)

var (
	buildKind  string
	buildLangs []string

	analyzeKind string

	queryNode      string
	queryDirection string
	queryKind      string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build, analyze and query dependency graphs",
}

var graphBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the import and call graphs from indexed facts",
	Long: `Build graphs incrementally: only files whose content identity changed
since the last build are re-extracted, everything else comes from the
edge cache.

Examples:
  lattice graph build
  lattice graph build --kind import --lang typescript --lang python
  lattice graph build --kind call
  lattice graph build --kind data_flow`,
	Run: runGraphBuild,
}

var graphAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run cycle, layer and hotspot analysis over a built graph",
	Run:   runGraphAnalyze,
}

var graphQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query dependencies or callers of a node",
	Run:   runGraphQuery,
}

func init() {
	graphBuildCmd.Flags().StringVar(&buildKind, "kind", "all", "Graph kind to build (import, call, data_flow, all)")
	graphBuildCmd.Flags().StringSliceVar(&buildLangs, "lang", nil, "Limit to specific languages (can be repeated)")

	graphAnalyzeCmd.Flags().StringVar(&analyzeKind, "kind", "import", "Graph kind to analyze (import, call)")

	graphQueryCmd.Flags().StringVar(&queryNode, "node", "", "Node id to query (required)")
	graphQueryCmd.Flags().StringVar(&queryDirection, "direction", "both", "Direction (upstream, downstream, both, callers, callees)")
	graphQueryCmd.Flags().StringVar(&queryKind, "kind", "import", "Graph kind (import, call)")
	graphQueryCmd.MarkFlagRequired("node")

	graphCmd.AddCommand(graphBuildCmd, graphAnalyzeCmd, graphQueryCmd)
	rootCmd.AddCommand(graphCmd)
}

func runGraphBuild(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()
	b := a.builder()

	type buildSummary struct {
		Kind  string `json:"kind"`
		Nodes int    `json:"nodes"`
		Edges int    `json:"edges"`
	}
	var summaries []buildSummary

	buildOne := func(kind graph.Kind) {
		var g *graph.Graph
		var err error
		switch kind {
		case graph.KindImport:
			g, err = b.BuildImportGraph(a.cfg.RepoRoot, buildLangs)
		case graph.KindCall:
			g, err = b.BuildCallGraph(a.cfg.RepoRoot, buildLangs)
		case graph.KindDataFlow:
			g, err = b.BuildDataFlowGraph(a.cfg.RepoRoot)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building %s graph: %v\n", kind, err)
			os.Exit(1)
		}
		if err := a.store.Save(g, kind, ""); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving %s graph: %v\n", kind, err)
			os.Exit(1)
		}
		summaries = append(summaries, buildSummary{Kind: string(kind), Nodes: len(g.Nodes), Edges: len(g.Edges)})
	}

	switch buildKind {
	case "all", "both":
		buildOne(graph.KindImport)
		buildOne(graph.KindCall)
		buildOne(graph.KindDataFlow)
	default:
		kind, err := graph.ParseKind(buildKind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		buildOne(kind)
	}

	printResult(map[string]interface{}{"built": summaries})
}

func runGraphAnalyze(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	kind, err := graph.ParseKind(analyzeKind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	g, err := a.store.Load(kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading graph: %v\n", err)
		os.Exit(1)
	}

	analyzer := graph.NewAnalyzer()
	cycles := analyzer.DetectCycles(g)
	layers := analyzer.IdentifyLayers(g)
	hotspots := analyzer.IdentifyHotspots(g, a.cfg.Analysis.TopN)
	summary := analyzer.Summarize(g)

	result := map[string]interface{}{
		"summary":  summary,
		"cycles":   cycles,
		"layers":   layers,
		"hotspots": hotspots,
	}

	if a.scorer.Available() {
		scored := a.scorer.RankHotspots(g, nil)
		result["scored_hotspots"] = scored
		result["health"] = a.scorer.HealthMetrics(g, cycles, scored, layers)
		result["recommendations"] = a.scorer.Recommendations(g, cycles, scored, layers)
		result["architectural_insights"] = a.scorer.InterpretSummary(summary)
	}

	if _, err := a.store.SaveAnalysisResult("full", kind, result); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving analysis snapshot: %v\n", err)
		os.Exit(1)
	}

	printResult(result)
}

func runGraphQuery(cmd *cobra.Command, args []string) {
	a := mustApp()
	defer a.close()

	switch queryKind {
	case "call":
		calls, err := a.store.QueryCalls(queryNode, queryDirection)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error querying calls: %v\n", err)
			os.Exit(1)
		}
		printResult(calls)
	default:
		kind, err := graph.ParseKind(queryKind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		deps, err := a.store.QueryDependencies(queryNode, queryDirection, kind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error querying dependencies: %v\n", err)
			os.Exit(1)
		}
		printResult(deps)
	}
}
