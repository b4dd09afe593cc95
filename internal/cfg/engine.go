// Package cfg reconstructs per-function control flow graphs from
// indexed facts and runs structural analyses over them. It never parses
// source; the fact store is the only input.
package cfg

import (
	"fmt"
	"sort"
	"strings"

	"lattice/internal/facts"
	"lattice/internal/logging"
)

// Block types recorded by the indexer
const (
	BlockEntry         = "entry"
	BlockExit          = "exit"
	BlockCondition     = "condition"
	BlockLoopCondition = "loop_condition"
	BlockTry           = "try"
	BlockReturn        = "return"
)

// EdgeBack marks a loop-closing edge; traversals skip it to terminate
const EdgeBack = "back_edge"

// Block is one basic block with its statements attached
type Block struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	StartLine  int               `json:"start_line"`
	EndLine    int               `json:"end_line"`
	Condition  string            `json:"condition,omitempty"`
	Statements []facts.Statement `json:"statements,omitempty"`
}

// Edge is a control-flow transition between two blocks
type Edge struct {
	Source int64  `json:"source"`
	Target int64  `json:"target"`
	Type   string `json:"type"`
}

// Metrics summarizes the structure of one function graph
type Metrics struct {
	CyclomaticComplexity int  `json:"cyclomatic_complexity"`
	HasLoops             bool `json:"has_loops"`
	MaxNestingDepth      int  `json:"max_nesting_depth"`
	DecisionPoints       int  `json:"decision_points"`
	BlockCount           int  `json:"block_count"`
	EdgeCount            int  `json:"edge_count"`
}

// FunctionCFG is the full reconstructed graph for one function
type FunctionCFG struct {
	FunctionName string  `json:"function_name"`
	File         string  `json:"file"`
	Blocks       []Block `json:"blocks"`
	Edges        []Edge  `json:"edges"`
	Metrics      Metrics `json:"metrics"`
}

// ComplexFunction is one entry of the complexity threshold report
type ComplexFunction struct {
	File       string `json:"file"`
	Function   string `json:"function"`
	Complexity int    `json:"complexity"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	BlockCount int    `json:"block_count"`
	EdgeCount  int    `json:"edge_count"`
	HasLoops   bool   `json:"has_loops"`
	MaxNesting int    `json:"max_nesting"`
}

// DeadBlock is an unreachable block reported by dead-code detection
type DeadBlock struct {
	File      string `json:"file"`
	Function  string `json:"function"`
	BlockID   int64  `json:"block_id"`
	BlockType string `json:"block_type"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Engine builds and analyzes control flow graphs
type Engine struct {
	facts  *facts.Store
	logger *logging.Logger
}

// NewEngine creates a CFG engine over a fact store
func NewEngine(factStore *facts.Store, logger *logging.Logger) *Engine {
	return &Engine{
		facts:  factStore,
		logger: logger.WithComponent("cfg"),
	}
}

// FunctionCFG reconstructs the graph for one function, blocks ordered
// by start line
func (e *Engine) FunctionCFG(file, functionName string) (*FunctionCFG, error) {
	rawBlocks, err := e.facts.FunctionBlocks(file, functionName)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocks for %s:%s: %w", file, functionName, err)
	}

	blocks := make([]Block, 0, len(rawBlocks))
	for _, b := range rawBlocks {
		statements, err := e.facts.BlockStatements(b.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load statements for block %d: %w", b.ID, err)
		}
		blocks = append(blocks, Block{
			ID:         b.ID,
			Type:       b.Type,
			StartLine:  b.StartLine,
			EndLine:    b.EndLine,
			Condition:  b.Condition,
			Statements: statements,
		})
	}

	rawEdges, err := e.facts.FunctionBlockEdges(file, functionName)
	if err != nil {
		return nil, fmt.Errorf("failed to load edges for %s:%s: %w", file, functionName, err)
	}
	edges := make([]Edge, 0, len(rawEdges))
	for _, edge := range rawEdges {
		edges = append(edges, Edge{
			Source: edge.SourceBlockID,
			Target: edge.TargetBlockID,
			Type:   edge.Type,
		})
	}

	return &FunctionCFG{
		FunctionName: functionName,
		File:         file,
		Blocks:       blocks,
		Edges:        edges,
		Metrics:      calculateMetrics(blocks, edges),
	}, nil
}

// Functions lists every function with recorded control-flow data,
// optionally filtered to one file
func (e *Engine) Functions(file string) ([]facts.FunctionRef, error) {
	return e.facts.ListFunctions(file)
}

// AnalyzeComplexity reports functions at or above the cyclomatic
// complexity threshold, sorted by descending complexity
func (e *Engine) AnalyzeComplexity(file string, threshold int) ([]ComplexFunction, error) {
	functions, err := e.Functions(file)
	if err != nil {
		return nil, err
	}

	var complex []ComplexFunction
	for _, fn := range functions {
		cfg, err := e.FunctionCFG(fn.File, fn.FunctionName)
		if err != nil {
			return nil, err
		}
		if cfg.Metrics.CyclomaticComplexity < threshold {
			continue
		}

		startLine, endLine := 0, 0
		for i, b := range cfg.Blocks {
			if i == 0 || b.StartLine < startLine {
				startLine = b.StartLine
			}
			if b.EndLine > endLine {
				endLine = b.EndLine
			}
		}

		complex = append(complex, ComplexFunction{
			File:       fn.File,
			Function:   fn.FunctionName,
			Complexity: cfg.Metrics.CyclomaticComplexity,
			StartLine:  startLine,
			EndLine:    endLine,
			BlockCount: len(cfg.Blocks),
			EdgeCount:  len(cfg.Edges),
			HasLoops:   cfg.Metrics.HasLoops,
			MaxNesting: cfg.Metrics.MaxNestingDepth,
		})
	}

	sort.SliceStable(complex, func(i, j int) bool {
		return complex[i].Complexity > complex[j].Complexity
	})
	return complex, nil
}

// FindDeadCode reports blocks unreachable from the entry block. Entry
// and exit blocks are never reported, even when structurally isolated.
func (e *Engine) FindDeadCode(file string) ([]DeadBlock, error) {
	functions, err := e.Functions(file)
	if err != nil {
		return nil, err
	}

	var dead []DeadBlock
	for _, fn := range functions {
		cfg, err := e.FunctionCFG(fn.File, fn.FunctionName)
		if err != nil {
			return nil, err
		}

		unreachable := unreachableBlocks(cfg.Blocks, cfg.Edges)
		for _, b := range cfg.Blocks {
			if !unreachable[b.ID] {
				continue
			}
			if b.Type == BlockEntry || b.Type == BlockExit {
				continue
			}
			dead = append(dead, DeadBlock{
				File:      fn.File,
				Function:  fn.FunctionName,
				BlockID:   b.ID,
				BlockType: b.Type,
				StartLine: b.StartLine,
				EndLine:   b.EndLine,
			})
		}
	}
	return dead, nil
}

// ExecutionPaths enumerates acyclic entry-to-exit paths through a
// function by depth-first walk, skipping back edges, capped at maxPaths
func (e *Engine) ExecutionPaths(file, functionName string, maxPaths int) ([][]int64, error) {
	cfg, err := e.FunctionCFG(file, functionName)
	if err != nil {
		return nil, err
	}
	return EnumeratePaths(cfg, maxPaths), nil
}

// EnumeratePaths walks an already-built CFG; exposed separately so the
// correlator can reuse one reconstruction across findings
func EnumeratePaths(cfg *FunctionCFG, maxPaths int) [][]int64 {
	// Back edges are skipped outright so the walk terminates on loops
	adj := make(map[int64][]int64)
	for _, e := range cfg.Edges {
		if e.Type == EdgeBack {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	var entry int64 = -1
	exits := make(map[int64]bool)
	for _, b := range cfg.Blocks {
		switch b.Type {
		case BlockEntry:
			if entry < 0 {
				entry = b.ID
			}
		case BlockExit, BlockReturn:
			exits[b.ID] = true
		}
	}
	if entry < 0 || len(exits) == 0 {
		return nil
	}

	type frame struct {
		block int64
		path  []int64
	}
	var paths [][]int64
	stack := []frame{{block: entry, path: []int64{entry}}}

	for len(stack) > 0 && len(paths) < maxPaths {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if exits[f.block] {
			paths = append(paths, f.path)
			continue
		}
		for _, next := range adj[f.block] {
			if containsBlock(f.path, next) {
				continue
			}
			extended := append(append([]int64{}, f.path...), next)
			stack = append(stack, frame{block: next, path: extended})
		}
	}
	return paths
}

// ExportDOT renders a function's CFG as Graphviz DOT text
func (e *Engine) ExportDOT(file, functionName string) (string, error) {
	cfg, err := e.FunctionCFG(file, functionName)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("digraph CFG {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=box];\n")

	for _, block := range cfg.Blocks {
		label := fmt.Sprintf("%s\\n%d-%d", block.Type, block.StartLine, block.EndLine)
		if block.Condition != "" {
			cond := block.Condition
			if len(cond) > 20 {
				cond = cond[:20]
			}
			label += "\\n" + cond + "..."
		}

		color := "lightblue"
		switch block.Type {
		case BlockEntry:
			color = "lightgreen"
		case BlockExit, BlockReturn:
			color = "lightcoral"
		case BlockCondition, BlockLoopCondition:
			color = "lightyellow"
		}
		fmt.Fprintf(&b, "  %d [label=\"%s\", fillcolor=%s, style=filled];\n", block.ID, label, color)
	}

	for _, edge := range cfg.Edges {
		label := edge.Type
		style := "solid"
		switch edge.Type {
		case EdgeBack:
			style = "dashed"
		case "true":
			label = "T"
		case "false":
			label = "F"
		}
		fmt.Fprintf(&b, "  %d -> %d [label=\"%s\", style=%s];\n", edge.Source, edge.Target, label, style)
	}

	b.WriteString("}")
	return b.String(), nil
}

func calculateMetrics(blocks []Block, edges []Edge) Metrics {
	// Cyclomatic complexity = E - N + 2P, one connected component per
	// function assumed
	cyclomatic := len(edges) - len(blocks) + 2

	hasLoops := false
	for _, e := range edges {
		if e.Type == EdgeBack {
			hasLoops = true
			break
		}
	}

	decisions := 0
	for _, b := range blocks {
		if b.Type == BlockCondition || b.Type == BlockLoopCondition {
			decisions++
		}
	}

	return Metrics{
		CyclomaticComplexity: cyclomatic,
		HasLoops:             hasLoops,
		MaxNestingDepth:      maxNesting(blocks, edges),
		DecisionPoints:       decisions,
		BlockCount:           len(blocks),
		EdgeCount:            len(edges),
	}
}

// unreachableBlocks walks forward from every entry block over non-back
// edges; back edges only ever point at ancestors, so skipping them
// changes nothing about reachability while keeping the walk loop-free
func unreachableBlocks(blocks []Block, edges []Edge) map[int64]bool {
	adj := make(map[int64][]int64)
	for _, e := range edges {
		if e.Type == EdgeBack {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	var stack []int64
	for _, b := range blocks {
		if b.Type == BlockEntry {
			stack = append(stack, b.ID)
		}
	}
	if len(stack) == 0 {
		return nil
	}

	reachable := make(map[int64]bool)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable[current] {
			continue
		}
		reachable[current] = true
		stack = append(stack, adj[current]...)
	}

	unreachable := make(map[int64]bool)
	for _, b := range blocks {
		if !reachable[b.ID] {
			unreachable[b.ID] = true
		}
	}
	return unreachable
}

// maxNesting does a breadth-first walk from the entry, incrementing
// depth only when entering a nesting construct
func maxNesting(blocks []Block, edges []Edge) int {
	adj := forwardAdjacency(edges)

	byID := make(map[int64]Block, len(blocks))
	var entry int64 = -1
	for _, b := range blocks {
		byID[b.ID] = b
		if b.Type == BlockEntry && entry < 0 {
			entry = b.ID
		}
	}
	if entry < 0 {
		return 0
	}

	type queued struct {
		block int64
		depth int
	}
	queue := []queued{{block: entry}}
	visited := make(map[int64]bool)
	max := 0

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if visited[item.block] {
			continue
		}
		visited[item.block] = true

		depth := item.depth
		switch byID[item.block].Type {
		case BlockCondition, BlockLoopCondition, BlockTry:
			depth++
			if depth > max {
				max = depth
			}
		}

		for _, next := range adj[item.block] {
			if !visited[next] {
				queue = append(queue, queued{block: next, depth: depth})
			}
		}
	}
	return max
}

func forwardAdjacency(edges []Edge) map[int64][]int64 {
	adj := make(map[int64][]int64)
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}

func containsBlock(path []int64, id int64) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}
