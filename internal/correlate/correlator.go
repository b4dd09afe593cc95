// Package correlate maps externally supplied findings onto control flow
// paths. Two findings in the same function only cluster when a proven
// execution path connects their blocks, which is strictly stronger
// evidence than sharing a function: findings in mutually exclusive
// branches never co-occur at runtime.
package correlate

import (
	"fmt"
	"sort"
	"strings"

	"lattice/internal/cfg"
	"lattice/internal/facts"
	"lattice/internal/logging"
)

// Finding is one externally produced diagnostic to correlate
type Finding struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Tool    string `json:"tool"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message,omitempty"`
}

// Cluster is a set of findings proven to share an execution path
type Cluster struct {
	Type         string    `json:"type"`
	Confidence   float64   `json:"confidence"`
	Function     string    `json:"function"`
	File         string    `json:"file"`
	PathBlocks   []int64   `json:"path_blocks"`
	Conditions   []string  `json:"conditions"`
	Findings     []Finding `json:"findings"`
	FindingCount int       `json:"finding_count"`
	Description  string    `json:"description"`
}

// Correlator clusters findings by control-flow connectivity
type Correlator struct {
	facts  *facts.Store
	engine *cfg.Engine
	logger *logging.Logger
}

// NewCorrelator creates a correlator over a fact store
func NewCorrelator(factStore *facts.Store, engine *cfg.Engine, logger *logging.Logger) *Correlator {
	return &Correlator{
		facts:  factStore,
		engine: engine,
		logger: logger.WithComponent("correlate"),
	}
}

type functionKey struct {
	file     string
	function string
}

// Correlate groups findings by containing function, then clusters the
// ones whose blocks are connected by an execution path. Functions
// without control-flow data are skipped, never fatal.
func (c *Correlator) Correlate(findings []Finding) ([]Cluster, error) {
	grouped, err := c.groupByFunction(findings)
	if err != nil {
		return nil, err
	}

	keys := make([]functionKey, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].file != keys[j].file {
			return keys[i].file < keys[j].file
		}
		return keys[i].function < keys[j].function
	})

	var clusters []Cluster
	for _, key := range keys {
		funcFindings := grouped[key]
		if len(funcFindings) < 2 {
			continue
		}

		functionCFG, err := c.engine.FunctionCFG(key.file, key.function)
		if err != nil {
			c.logger.Warn("skipping function without usable control flow", map[string]interface{}{
				"file":     key.file,
				"function": key.function,
				"error":    err.Error(),
			})
			continue
		}
		if len(functionCFG.Blocks) == 0 {
			continue
		}

		found := c.clusterByPath(functionCFG, funcFindings)
		for i := range found {
			found[i].Function = key.function
			found[i].File = key.file
		}
		clusters = append(clusters, found...)
	}
	return clusters, nil
}

// groupByFunction resolves each finding to its containing function via
// the symbol table
func (c *Correlator) groupByFunction(findings []Finding) (map[functionKey][]Finding, error) {
	grouped := make(map[functionKey][]Finding)
	for _, f := range findings {
		if f.File == "" || f.Line <= 0 {
			continue
		}
		name, ok, err := c.facts.ContainingFunction(f.File, f.Line)
		if err != nil {
			return nil, fmt.Errorf("failed to locate function for %s:%d: %w", f.File, f.Line, err)
		}
		if !ok {
			continue
		}
		key := functionKey{file: f.File, function: name}
		grouped[key] = append(grouped[key], f)
	}
	return grouped, nil
}

// mapFindingsToBlocks assigns each finding to the first block whose
// line span contains it
func mapFindingsToBlocks(functionCFG *cfg.FunctionCFG, findings []Finding) map[int64][]Finding {
	byBlock := make(map[int64][]Finding)
	for _, f := range findings {
		for _, b := range functionCFG.Blocks {
			if b.StartLine <= f.Line && f.Line <= b.EndLine {
				byBlock[b.ID] = append(byBlock[b.ID], f)
				break
			}
		}
	}
	return byBlock
}

// clusterByPath checks every pair of finding blocks for path
// connectivity in either direction, keeping the shorter path when both
// exist. Pairwise BFS never misses a correlation the way bounded path
// enumeration can on heavily branching functions.
func (c *Correlator) clusterByPath(functionCFG *cfg.FunctionCFG, findings []Finding) []Cluster {
	byBlock := mapFindingsToBlocks(functionCFG, findings)

	blockIDs := make([]int64, 0, len(byBlock))
	for id := range byBlock {
		blockIDs = append(blockIDs, id)
	}
	sort.Slice(blockIDs, func(i, j int) bool { return blockIDs[i] < blockIDs[j] })

	adj := make(map[int64][]int64)
	for _, e := range functionCFG.Edges {
		if e.Type == cfg.EdgeBack {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	var clusters []Cluster
	for i, blockA := range blockIDs {
		for _, blockB := range blockIDs[i+1:] {
			forward := pathBFS(adj, blockA, blockB)
			backward := pathBFS(adj, blockB, blockA)

			var path []int64
			switch {
			case forward != nil && backward != nil:
				path = forward
				if len(backward) < len(forward) {
					path = backward
				}
			case forward != nil:
				path = forward
			case backward != nil:
				path = backward
			default:
				continue
			}

			var onPath []Finding
			for _, blockID := range path {
				onPath = append(onPath, byBlock[blockID]...)
			}
			if len(onPath) < 2 {
				continue
			}

			conditions := pathConditions(functionCFG, path)
			description := fmt.Sprintf("%d findings on same execution path", len(onPath))
			if len(conditions) > 0 {
				description += " when: " + strings.Join(conditions, " AND ")
			}

			clusters = append(clusters, Cluster{
				Type:         "path_cluster",
				Confidence:   0.95,
				PathBlocks:   path,
				Conditions:   conditions,
				Findings:     onPath,
				FindingCount: len(onPath),
				Description:  description,
			})
		}
	}
	return dedupeClusters(clusters)
}

// pathBFS finds the shortest path between two blocks, or nil
func pathBFS(adj map[int64][]int64, start, end int64) []int64 {
	if start == end {
		return []int64{start}
	}

	type queued struct {
		block int64
		path  []int64
	}
	queue := []queued{{block: start, path: []int64{start}}}
	visited := map[int64]bool{start: true}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for _, next := range adj[item.block] {
			if next == end {
				return append(append([]int64{}, item.path...), next)
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, queued{
					block: next,
					path:  append(append([]int64{}, item.path...), next),
				})
			}
		}
	}
	return nil
}

// pathConditions walks a path and reports the literal branch conditions
// it traverses, truncated for length. Factual source text only, no
// interpretation.
func pathConditions(functionCFG *cfg.FunctionCFG, path []int64) []string {
	byID := make(map[int64]cfg.Block, len(functionCFG.Blocks))
	for _, b := range functionCFG.Blocks {
		byID[b.ID] = b
	}
	edgesFrom := make(map[int64][]cfg.Edge)
	for _, e := range functionCFG.Edges {
		edgesFrom[e.Source] = append(edgesFrom[e.Source], e)
	}

	var conditions []string
	for i, blockID := range path {
		block, ok := byID[blockID]
		if !ok || block.Condition == "" {
			continue
		}
		if block.Type != cfg.BlockCondition && block.Type != cfg.BlockLoopCondition {
			continue
		}
		if i+1 >= len(path) {
			continue
		}
		next := path[i+1]

		for _, edge := range edgesFrom[blockID] {
			if edge.Target != next {
				continue
			}
			cond := block.Condition
			if len(cond) > 50 {
				cond = cond[:47] + "..."
			}
			switch {
			case edge.Type == "true":
				conditions = append(conditions, fmt.Sprintf("if (%s)", cond))
			case edge.Type == "false":
				conditions = append(conditions, fmt.Sprintf("if not (%s)", cond))
			case block.Type == cfg.BlockLoopCondition:
				conditions = append(conditions, fmt.Sprintf("while (%s)", cond))
			}
			break
		}
	}
	return conditions
}

// dedupeClusters drops clusters whose finding set was already reported
func dedupeClusters(clusters []Cluster) []Cluster {
	seen := make(map[string]bool)
	var unique []Cluster
	for _, cluster := range clusters {
		keys := make([]string, 0, len(cluster.Findings))
		for _, f := range cluster.Findings {
			keys = append(keys, fmt.Sprintf("%s:%d:%s", f.File, f.Line, f.Tool))
		}
		sort.Strings(keys)
		id := strings.Join(keys, "|")
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, cluster)
	}
	return unique
}
