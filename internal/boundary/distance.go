// Package boundary measures call-chain distance between entry points
// and control points (validation, sanitization, access checks).
//
// Distance semantics:
//
//	0  = control in the entry function itself
//	1  = control in the first call
//	2  = control two calls deep
//	3+ = control after data has already spread
//
// The persisted call graph is preferred because it carries edges the
// raw call facts cannot see (middleware, decorators). When the graph is
// absent or empty, a bounded BFS over raw call-fact records answers
// instead of failing.
package boundary

import (
	"fmt"
	"sort"
	"strings"

	"lattice/internal/facts"
	"lattice/internal/graph"
	"lattice/internal/logging"
)

// DefaultMaxDepth bounds the fallback call-chain search
const DefaultMaxDepth = 10

// Control is one control point reachable from an entry point
type Control struct {
	Function string   `json:"control_function"`
	File     string   `json:"control_file"`
	Line     int      `json:"control_line"`
	Distance int      `json:"distance"`
	Path     []string `json:"path"`
}

// Quality is a factual assessment of an entry point's boundary
type Quality struct {
	Quality string   `json:"quality"`
	Reason  string   `json:"reason"`
	Facts   []string `json:"facts"`
}

// Calculator resolves distances against the persisted call graph with a
// raw-fact fallback
type Calculator struct {
	graphs   *graph.Store
	facts    *facts.Store
	analyzer *graph.Analyzer
	logger   *logging.Logger
}

// NewCalculator creates a boundary distance calculator
func NewCalculator(graphStore *graph.Store, factStore *facts.Store, logger *logging.Logger) *Calculator {
	return &Calculator{
		graphs:   graphStore,
		facts:    factStore,
		analyzer: graph.NewAnalyzer(),
		logger:   logger.WithComponent("boundary"),
	}
}

// Distance returns the call-chain distance between an entry point and a
// control point. The second return is false when no path exists.
func (c *Calculator) Distance(entryFile string, entryLine int, controlFile string, controlLine int) (int, bool, error) {
	entryFunc, ok, err := c.facts.EnclosingFunction(entryFile, entryLine)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	controlFunc, ok, err := c.facts.EnclosingFunction(controlFile, controlLine)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}

	if entryFile == controlFile && entryFunc == controlFunc {
		return 0, true, nil
	}

	callGraph, err := c.graphs.Load(graph.KindCall)
	if err != nil {
		return 0, false, err
	}
	if len(callGraph.Nodes) == 0 || len(callGraph.Edges) == 0 {
		c.logger.Debug("call graph empty, falling back to raw call facts", nil)
		return c.fallbackDistance(entryFile, entryFunc, controlFile, controlFunc, DefaultMaxDepth)
	}

	entryNode := findGraphNode(callGraph, entryFile, entryFunc)
	controlNode := findGraphNode(callGraph, controlFile, controlFunc)
	if entryNode == "" || controlNode == "" {
		return c.fallbackDistance(entryFile, entryFunc, controlFile, controlFunc, DefaultMaxDepth)
	}

	path := c.analyzer.ShortestPath(callGraph, entryNode, controlNode)
	if path == nil {
		return 0, false, nil
	}
	return len(path) - 1, true, nil
}

// findGraphNode matches a function to a call-graph node id. Builders
// differ in how they key function nodes, so several strategies are
// tried in order.
func findGraphNode(g *graph.Graph, file, funcName string) string {
	file = strings.ReplaceAll(file, "\\", "/")

	for _, node := range g.Nodes {
		nodeFile := strings.ReplaceAll(node.File, "\\", "/")

		if node.ID == file+"::"+funcName {
			return node.ID
		}
		if nodeFile == file && strings.Contains(node.ID, funcName) {
			return node.ID
		}
		if strings.Contains(node.ID, file) && strings.Contains(node.ID, funcName) {
			return node.ID
		}
	}
	return ""
}

type qualifiedFunc struct {
	file string
	name string
}

// fallbackDistance runs a bounded BFS over raw call-fact records. It
// cannot see middleware or decorator edges.
func (c *Calculator) fallbackDistance(entryFile, entryFunc, controlFile, controlFunc string, maxDepth int) (int, bool, error) {
	target := qualifiedFunc{file: controlFile, name: controlFunc}

	type queued struct {
		fn       qualifiedFunc
		distance int
	}
	queue := []queued{{fn: qualifiedFunc{file: entryFile, name: entryFunc}}}
	visited := map[qualifiedFunc]bool{queue[0].fn: true}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.distance >= maxDepth {
			continue
		}

		sites, err := c.facts.CallsFrom(item.fn.name)
		if err != nil {
			return 0, false, err
		}
		for _, site := range sites {
			if site.File != item.fn.file || site.CalleeFilePath == "" {
				continue
			}
			callee := qualifiedFunc{file: site.CalleeFilePath, name: site.CalleeFunction}
			if callee == target {
				return item.distance + 1, true, nil
			}
			if !visited[callee] {
				visited[callee] = true
				queue = append(queue, queued{fn: callee, distance: item.distance + 1})
			}
		}
	}
	return 0, false, nil
}

// FindControls walks outward from an entry point and reports every
// function matching one of the control patterns, with its distance and
// the call path that reaches it
func (c *Calculator) FindControls(entryFile string, entryLine int, controlPatterns []string, maxDepth int) ([]Control, error) {
	entryFunc, ok, err := c.facts.EnclosingFunction(entryFile, entryLine)
	if err != nil || !ok {
		return nil, err
	}

	callGraph, err := c.graphs.Load(graph.KindCall)
	if err != nil {
		return nil, err
	}
	if len(callGraph.Nodes) > 0 && len(callGraph.Edges) > 0 {
		if entryNode := findGraphNode(callGraph, entryFile, entryFunc); entryNode != "" {
			return c.controlsViaGraph(callGraph, entryNode, entryFunc, controlPatterns, maxDepth)
		}
	}
	return c.controlsViaFacts(entryFile, entryFunc, controlPatterns, maxDepth)
}

func (c *Calculator) controlsViaGraph(callGraph *graph.Graph, entryNode, entryFunc string, patterns []string, maxDepth int) ([]Control, error) {
	adj := callGraph.Adjacency()
	fileByID := make(map[string]string, len(callGraph.Nodes))
	for _, n := range callGraph.Nodes {
		fileByID[n.ID] = n.File
	}

	type queued struct {
		node     string
		distance int
		path     []string
	}
	queue := []queued{{node: entryNode, path: []string{entryFunc}}}
	visited := map[string]bool{entryNode: true}

	var controls []Control
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.distance >= maxDepth {
			continue
		}

		neighbors := append([]string{}, adj[item.node]...)
		sort.Strings(neighbors)
		for _, neighbor := range neighbors {
			if visited[neighbor] {
				continue
			}
			visited[neighbor] = true

			name := functionName(neighbor)
			file := fileByID[neighbor]
			path := append(append([]string{}, item.path...), name)

			if matchesPattern(name, patterns) {
				line, _, err := c.facts.SymbolLine(file, name)
				if err != nil {
					return nil, err
				}
				controls = append(controls, Control{
					Function: name,
					File:     file,
					Line:     line,
					Distance: item.distance + 1,
					Path:     path,
				})
			}
			queue = append(queue, queued{node: neighbor, distance: item.distance + 1, path: path})
		}
	}
	return controls, nil
}

func (c *Calculator) controlsViaFacts(entryFile, entryFunc string, patterns []string, maxDepth int) ([]Control, error) {
	type queued struct {
		fn       qualifiedFunc
		distance int
		path     []string
	}
	start := qualifiedFunc{file: entryFile, name: entryFunc}
	queue := []queued{{fn: start, path: []string{entryFunc}}}
	visited := map[qualifiedFunc]bool{start: true}

	var controls []Control
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.distance >= maxDepth {
			continue
		}

		sites, err := c.facts.CallsFrom(item.fn.name)
		if err != nil {
			return nil, err
		}
		for _, site := range sites {
			if site.File != item.fn.file {
				continue
			}
			path := append(append([]string{}, item.path...), site.CalleeFunction)

			if matchesPattern(site.CalleeFunction, patterns) {
				line, found, err := c.facts.SymbolLine(site.CalleeFilePath, site.CalleeFunction)
				if err != nil {
					return nil, err
				}
				if !found {
					line = site.Line
				}
				controls = append(controls, Control{
					Function: site.CalleeFunction,
					File:     site.CalleeFilePath,
					Line:     line,
					Distance: item.distance + 1,
					Path:     path,
				})
			}

			callee := qualifiedFunc{file: site.CalleeFilePath, name: site.CalleeFunction}
			if callee.file != "" && !visited[callee] {
				visited[callee] = true
				queue = append(queue, queued{fn: callee, distance: item.distance + 1, path: path})
			}
		}
	}
	return controls, nil
}

// functionName extracts the function part of a call-graph node id
func functionName(nodeID string) string {
	if idx := strings.LastIndex(nodeID, "::"); idx >= 0 {
		return nodeID[idx+2:]
	}
	return nodeID
}

func matchesPattern(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// MeasureQuality grades the control placement for an entry point.
// Facts only, no recommendations.
func MeasureQuality(controls []Control) Quality {
	if len(controls) == 0 {
		return Quality{
			Quality: "missing",
			Reason:  "No validation, sanitization, or checks found in call chain",
			Facts: []string{
				"Entry point accepts external data",
				"No validation control detected within search depth",
				"Data flows to downstream functions without validation gate",
			},
		}
	}

	if len(controls) == 1 {
		distance := controls[0].Distance
		name := controls[0].Function

		switch {
		case distance == 0:
			return Quality{
				Quality: "clear",
				Reason:  "Single control point '" + name + "' at distance 0 (same function as entry)",
				Facts: []string{
					"Validation occurs in entry function",
					"External data validated before use",
					"No intermediate functions between entry and validation",
				},
			}
		case distance <= 2:
			return Quality{
				Quality: "acceptable",
				Reason:  fmt.Sprintf("Single control point '%s' at distance %d", name, distance),
				Facts: []string{
					fmt.Sprintf("Validation occurs %d function call(s) after entry", distance),
					fmt.Sprintf("Data flows through %d intermediate function(s) before validation", distance),
					"Single validation control point detected",
				},
			}
		default:
			return Quality{
				Quality: "fuzzy",
				Reason:  fmt.Sprintf("Single control point '%s' at distance %d", name, distance),
				Facts: []string{
					fmt.Sprintf("Validation occurs %d function calls after entry", distance),
					fmt.Sprintf("Data flows through %d intermediate functions before validation control", distance),
					fmt.Sprintf("Distance %d creates %d potential code paths without validation", distance, distance),
				},
			}
		}
	}

	minDist, maxDist := controls[0].Distance, controls[0].Distance
	names := make([]string, 0, len(controls))
	for _, ctl := range controls {
		if ctl.Distance < minDist {
			minDist = ctl.Distance
		}
		if ctl.Distance > maxDist {
			maxDist = ctl.Distance
		}
		names = append(names, ctl.Function)
	}

	return Quality{
		Quality: "fuzzy",
		Reason:  "Multiple control points detected: " + strings.Join(names, ", "),
		Facts: []string{
			fmt.Sprintf("%d different validation controls found", len(controls)),
			fmt.Sprintf("Control distances range from %d to %d", minDist, maxDist),
			"Multiple validation points indicate distributed boundary enforcement",
			"Different code paths may encounter different validation controls",
		},
	}
}
