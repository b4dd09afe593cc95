package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"lattice/internal/cache"
	"lattice/internal/config"
	"lattice/internal/facts"
	"lattice/internal/graph"
	"lattice/internal/insights"
	"lattice/internal/logging"
	"lattice/internal/resolve"
	"lattice/internal/storage"
)

var repoRootFlag string

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Lattice - dependency and control flow graph engine",
	Long: `Lattice builds, persists and analyzes dependency graphs, call graphs
and control flow graphs from an indexed fact database. It answers
questions like "what breaks if this file changes", "where are the
cycles" and "is this input validated before use".`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoRootFlag, "repo", ".", "Repository root containing .lattice/")
}

// app bundles the wiring every command needs
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	db     *storage.DB
	facts  *facts.Store
	store  *graph.Store
	scorer insights.Provider
}

func mustRepoRoot() string {
	root, err := filepath.Abs(repoRootFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving repo root: %v\n", err)
		os.Exit(1)
	}
	return root
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.Format(cfg.Logging.Format),
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
}

// mustApp loads config and opens the graph and fact databases. A
// configured SCIP index is ingested when the fact database is absent.
func mustApp() *app {
	repoRoot := mustRepoRoot()

	cfg, err := config.LoadConfig(repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	db, err := storage.Open(repoRoot, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening graph database: %v\n", err)
		os.Exit(1)
	}

	factsPath := filepath.Join(repoRoot, cfg.Facts.Path)
	if cfg.Facts.ScipIndexPath != "" {
		if _, statErr := os.Stat(factsPath); os.IsNotExist(statErr) {
			indexPath := filepath.Join(repoRoot, cfg.Facts.ScipIndexPath)
			if err := facts.IngestSCIP(indexPath, factsPath, logger); err != nil {
				fmt.Fprintf(os.Stderr, "Error ingesting SCIP index: %v\n", err)
				os.Exit(1)
			}
		}
	}

	factStore, err := facts.Open(factsPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening fact database: %v\n", err)
		os.Exit(1)
	}

	weights := insights.DefaultWeights()
	if cfg.Insights.WeightsPath != "" {
		weights, err = insights.LoadWeights(filepath.Join(repoRoot, cfg.Insights.WeightsPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading insight weights: %v\n", err)
			os.Exit(1)
		}
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		facts:  factStore,
		store:  graph.NewStore(db, logger),
		scorer: insights.New(cfg.Insights.Enabled, weights, logger),
	}
}

func (a *app) close() {
	a.facts.Close()
	a.db.Close()
}

// builder wires the incremental graph builder on demand
func (a *app) builder() *graph.Builder {
	resolver, err := resolve.NewResolver(a.facts, a.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building resolver: %v\n", err)
		os.Exit(1)
	}
	if a.cfg.Build.ResolveOverrides != "" {
		overridePath := filepath.Join(a.cfg.RepoRoot, a.cfg.Build.ResolveOverrides)
		if err := resolver.LoadOverrides(overridePath); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading resolve overrides: %v\n", err)
			os.Exit(1)
		}
	}

	cacheMgr := cache.NewManager(a.db, a.logger)
	return graph.NewBuilder(a.facts, cacheMgr, resolver, a.db, a.cfg.Build.ExcludePatterns, a.logger)
}

// printResult writes the command result as indented JSON to stdout
func printResult(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
