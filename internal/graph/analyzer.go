package graph

import (
	"path"
	"sort"
)

// Analyzer holds the pure graph algorithms. Nothing here scores,
// weights or interprets; see the insights package for that.
type Analyzer struct{}

// NewAnalyzer creates an analyzer
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// dfsFrame is one entry of the explicit DFS stack
type dfsFrame struct {
	node string
	next int // index of the next neighbor to visit
}

// DetectCycles finds all distinct cycles using an iterative DFS with an
// explicit stack, so deep or degenerate graphs cannot overflow the call
// stack. A DAG yields an empty result. Cycles come back sorted by
// descending size.
func (a *Analyzer) DetectCycles(g *Graph) []Cycle {
	adj := g.Adjacency()

	visited := make(map[string]bool)
	var cycles []Cycle

	for _, start := range g.Nodes {
		if visited[start.ID] {
			continue
		}

		onStack := make(map[string]int) // node -> index in path
		var stack []dfsFrame
		var pathNodes []string

		push := func(node string) {
			visited[node] = true
			onStack[node] = len(pathNodes)
			pathNodes = append(pathNodes, node)
			stack = append(stack, dfsFrame{node: node})
		}
		push(start.ID)

		for len(stack) > 0 {
			frame := &stack[len(stack)-1]
			neighbors := adj[frame.node]

			if frame.next < len(neighbors) {
				neighbor := neighbors[frame.next]
				frame.next++

				if pos, ok := onStack[neighbor]; ok {
					// Back-edge: the path slice from the neighbor's
					// first occurrence to here closes a cycle
					cycleNodes := append(append([]string{}, pathNodes[pos:]...), neighbor)
					cycles = append(cycles, Cycle{
						Nodes: cycleNodes,
						Size:  len(cycleNodes) - 1,
					})
				} else if !visited[neighbor] {
					push(neighbor)
				}
				continue
			}

			// Exhausted this node's neighbors
			delete(onStack, frame.node)
			pathNodes = pathNodes[:len(pathNodes)-1]
			stack = stack[:len(stack)-1]
		}
	}

	sort.SliceStable(cycles, func(i, j int) bool {
		return cycles[i].Size > cycles[j].Size
	})
	return cycles
}

// ShortestPath returns the shortest path between two nodes by unweighted
// BFS, or nil when the target is unreachable
func (a *Analyzer) ShortestPath(g *Graph, source, target string) []string {
	adj := g.Adjacency()

	type queued struct {
		node string
		path []string
	}
	queue := []queued{{node: source, path: []string{source}}}
	visited := map[string]bool{source: true}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if item.node == target {
			return item.path
		}

		for _, neighbor := range adj[item.node] {
			if !visited[neighbor] {
				visited[neighbor] = true
				next := append(append([]string{}, item.path...), neighbor)
				queue = append(queue, queued{node: neighbor, path: next})
			}
		}
	}
	return nil
}

// IdentifyLayers peels the graph into topological layers: layer 0 holds
// every node with in-degree 0, then each removal round yields the next
// layer. Nodes inside a cycle never reach in-degree 0 and therefore
// appear in no layer.
func (a *Analyzer) IdentifyLayers(g *Graph) map[int][]string {
	adj := g.Adjacency()
	inDegree := make(map[string]int)
	for _, e := range g.Edges {
		inDegree[e.Target]++
	}

	var current []string
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			current = append(current, n.ID)
		}
	}

	layers := make(map[int][]string)
	for layer := 0; len(current) > 0; layer++ {
		layers[layer] = current
		var next []string
		for _, node := range current {
			for _, neighbor := range adj[node] {
				inDegree[neighbor]--
				if inDegree[neighbor] == 0 {
					next = append(next, neighbor)
				}
			}
		}
		current = next
	}
	return layers
}

// ImpactOfChange runs two independent bounded BFS traversals from the
// targets: upstream over reverse adjacency (who depends on them) and
// downstream over forward adjacency (what they depend on)
func (a *Analyzer) ImpactOfChange(g *Graph, targets []string, maxDepth int) ImpactResult {
	forward := g.Adjacency()
	reverse := g.ReverseAdjacency()

	upstream := boundedReach(reverse, targets, maxDepth)
	downstream := boundedReach(forward, targets, maxDepth)

	all := make(map[string]bool)
	for _, t := range targets {
		all[t] = true
	}
	for _, n := range upstream {
		all[n] = true
	}
	for _, n := range downstream {
		all[n] = true
	}

	return ImpactResult{
		Targets:       targets,
		Upstream:      upstream,
		Downstream:    downstream,
		AllImpacted:   sortedKeys(all),
		TotalImpacted: len(all),
		GraphNodes:    len(g.Nodes),
	}
}

// boundedReach collects nodes reachable from seeds within maxDepth hops,
// excluding the seeds themselves, sorted for determinism
func boundedReach(adj map[string][]string, seeds []string, maxDepth int) []string {
	type queued struct {
		node  string
		depth int
	}
	var queue []queued
	for _, s := range seeds {
		queue = append(queue, queued{node: s})
	}

	visited := make(map[string]bool)
	reached := make(map[string]bool)

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		if visited[item.node] || item.depth >= maxDepth {
			continue
		}
		visited[item.node] = true

		for _, neighbor := range adj[item.node] {
			reached[neighbor] = true
			queue = append(queue, queued{node: neighbor, depth: item.depth + 1})
		}
	}

	return sortedKeys(reached)
}

// NodeDegrees counts in/out degree for every node that has edges
func (a *Analyzer) NodeDegrees(g *Graph) map[string]Degrees {
	degrees := make(map[string]Degrees)
	for _, e := range g.Edges {
		d := degrees[e.Source]
		d.Out++
		degrees[e.Source] = d

		d = degrees[e.Target]
		d.In++
		degrees[e.Target] = d
	}
	return degrees
}

// IdentifyHotspots ranks connected nodes by total degree, descending.
// No normalization or scoring happens here.
func (a *Analyzer) IdentifyHotspots(g *Graph, topN int) []Hotspot {
	degrees := a.NodeDegrees(g)

	var hotspots []Hotspot
	for _, n := range g.Nodes {
		d := degrees[n.ID]
		total := d.In + d.Out
		if total == 0 {
			continue
		}
		hotspots = append(hotspots, Hotspot{
			ID:               n.ID,
			InDegree:         d.In,
			OutDegree:        d.Out,
			TotalConnections: total,
			File:             n.File,
			Lang:             n.Lang,
		})
	}

	sort.SliceStable(hotspots, func(i, j int) bool {
		return hotspots[i].TotalConnections > hotspots[j].TotalConnections
	})
	if topN > 0 && len(hotspots) > topN {
		hotspots = hotspots[:topN]
	}
	return hotspots
}

// Summarize extracts raw statistics from a graph: counts, density,
// isolated nodes, top connections, cycles, file-type distribution
func (a *Analyzer) Summarize(g *Graph) Summary {
	degrees := a.NodeDegrees(g)
	hotspots := a.IdentifyHotspots(g, 0)
	cycles := a.DetectCycles(g)

	nodeCount := len(g.Nodes)
	edgeCount := len(g.Edges)

	density := 0.0
	if nodeCount > 1 {
		density = float64(edgeCount) / float64(nodeCount*(nodeCount-1))
	}
	avg := 0.0
	if nodeCount > 0 {
		avg = float64(edgeCount) / float64(nodeCount)
	}

	var isolated []string
	for _, n := range g.Nodes {
		if d := degrees[n.ID]; d.In == 0 && d.Out == 0 {
			isolated = append(isolated, n.ID)
		}
	}

	topConnected := hotspots
	if len(topConnected) > 10 {
		topConnected = topConnected[:10]
	}

	topCycles := cycles
	if len(topCycles) > 5 {
		topCycles = topCycles[:5]
	}

	with20Plus := 0
	with30PlusInbound := 0
	for _, h := range hotspots {
		if h.TotalConnections > 20 {
			with20Plus++
		}
		if h.InDegree > 30 {
			with30PlusInbound++
		}
	}

	return Summary{
		Statistics: SummaryStatistics{
			TotalNodes:         nodeCount,
			TotalEdges:         edgeCount,
			GraphDensity:       density,
			IsolatedNodes:      len(isolated),
			IsolatedNodesList:  isolated,
			AverageConnections: avg,
		},
		TopConnectedNodes: topConnected,
		CyclesFound:       topCycles,
		FileTypes:         countFileTypes(g.Nodes),
		ConnectionDistribution: ConnectionDistribution{
			NodesWith20PlusConnections: with20Plus,
			NodesWith30PlusInbound:     with30PlusInbound,
			CycleCount:                 len(cycles),
		},
	}
}

func countFileTypes(nodes []Node) map[string]int {
	counts := make(map[string]int)
	for _, n := range nodes {
		ext := path.Ext(n.File)
		if ext == "" {
			ext = "no_ext"
		}
		counts[ext]++
	}
	return counts
}
