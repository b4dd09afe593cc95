// Package insights layers interpretive scoring on top of raw analyzer
// output. It is a strict add-on: the analyzer stays correct and fully
// usable when this package is disabled, and callers compose it through
// the Provider interface so a disabled build degrades to a null object
// rather than per-call availability checks.
package insights

import (
	"fmt"
	"sort"

	"lattice/internal/graph"
	"lattice/internal/logging"
)

// ScoredHotspot is a hotspot with a weighted importance score attached
type ScoredHotspot struct {
	ID         string  `json:"id"`
	InDegree   int     `json:"in_degree"`
	OutDegree  int     `json:"out_degree"`
	Centrality float64 `json:"centrality"`
	Churn      int     `json:"churn"`
	Loc        int     `json:"loc"`
	Score      float64 `json:"score"`
}

// HealthMetrics grades the overall shape of a dependency graph
type HealthMetrics struct {
	HealthScore    float64 `json:"health_score"`
	HealthGrade    string  `json:"health_grade"`
	FragilityScore float64 `json:"fragility_score"`
	Density        float64 `json:"density"`
	CycleFree      bool    `json:"cycle_free"`
	WellLayered    bool    `json:"well_layered"`
	LooselyCoupled bool    `json:"loosely_coupled"`
	NoGodObjects   bool    `json:"no_god_objects"`
}

// Interpretation attaches qualitative labels to a raw graph summary
type Interpretation struct {
	CouplingLevel     string `json:"coupling_level"`
	PotentialGodNodes int    `json:"potential_god_objects"`
	HighlyConnected   int    `json:"highly_connected"`
}

// Provider is the composition seam for the insights layer. Callers hold
// a Provider; whether it actually scores anything is decided once, at
// wiring time.
type Provider interface {
	Available() bool
	RankHotspots(importGraph, callGraph *graph.Graph) []ScoredHotspot
	HealthMetrics(g *graph.Graph, cycles []graph.Cycle, hotspots []ScoredHotspot, layers map[int][]string) HealthMetrics
	Recommendations(g *graph.Graph, cycles []graph.Cycle, hotspots []ScoredHotspot, layers map[int][]string) []string
	InterpretSummary(s graph.Summary) Interpretation
	ImpactRatio(r graph.ImpactResult) float64
}

// New returns the real engine when enabled, the null object otherwise
func New(enabled bool, weights Weights, logger *logging.Logger) Provider {
	if !enabled {
		return Disabled{}
	}
	return &Engine{
		weights: weights,
		logger:  logger.WithComponent("insights"),
	}
}

// Engine is the scoring implementation
type Engine struct {
	weights Weights
	logger  *logging.Logger
}

// Available reports true; the engine is only constructed when enabled
func (e *Engine) Available() bool { return true }

// RankHotspots scores every node of the import graph by a weighted sum
// of degree, centrality, churn and size, descending. Call-graph edges,
// when provided, contribute to the degree counts.
func (e *Engine) RankHotspots(importGraph, callGraph *graph.Graph) []ScoredHotspot {
	inDegree := make(map[string]int)
	outDegree := make(map[string]int)

	count := func(g *graph.Graph) {
		for _, edge := range g.Edges {
			outDegree[edge.Source]++
			inDegree[edge.Target]++
		}
	}
	count(importGraph)
	if callGraph != nil {
		count(callGraph)
	}

	centrality := e.centrality(importGraph)

	hotspots := make([]ScoredHotspot, 0, len(importGraph.Nodes))
	for _, node := range importGraph.Nodes {
		h := ScoredHotspot{
			ID:         node.ID,
			InDegree:   inDegree[node.ID],
			OutDegree:  outDegree[node.ID],
			Centrality: centrality[node.ID],
			Churn:      node.Churn,
			Loc:        node.Loc,
		}
		h.Score = e.weights.InDegree*float64(h.InDegree) +
			e.weights.OutDegree*float64(h.OutDegree) +
			e.weights.Centrality*h.Centrality +
			e.weights.Churn*(float64(h.Churn)/100) +
			e.weights.Loc*(float64(h.Loc)/1000)
		hotspots = append(hotspots, h)
	}

	sort.SliceStable(hotspots, func(i, j int) bool {
		return hotspots[i].Score > hotspots[j].Score
	})
	return hotspots
}

// centrality runs damped power iteration over the adjacency, normalized
// by the maximum score. Fixed iteration count keeps it deterministic and
// cheap; convergence precision is not the point.
func (e *Engine) centrality(g *graph.Graph) map[string]float64 {
	const (
		damping    = 0.85
		iterations = 10
	)

	outCount := make(map[string]int)
	incoming := make(map[string][]string)
	nodes := make(map[string]bool)
	for _, edge := range g.Edges {
		outCount[edge.Source]++
		incoming[edge.Target] = append(incoming[edge.Target], edge.Source)
		nodes[edge.Source] = true
		nodes[edge.Target] = true
	}

	scores := make(map[string]float64, len(nodes))
	for n := range nodes {
		scores[n] = 1.0
	}

	for i := 0; i < iterations; i++ {
		next := make(map[string]float64, len(nodes))
		for n := range nodes {
			score := 1 - damping
			for _, src := range incoming[n] {
				out := outCount[src]
				if out == 0 {
					out = 1
				}
				score += damping * scores[src] / float64(out)
			}
			next[n] = score
		}
		scores = next
	}

	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	if max > 0 {
		for n := range scores {
			scores[n] /= max
		}
	}
	return scores
}

// HealthMetrics starts at 100 and deducts capped penalties for cycles,
// excess density and a dominant hotspot, then maps the result to a
// letter grade
func (e *Engine) HealthMetrics(g *graph.Graph, cycles []graph.Cycle, hotspots []ScoredHotspot, layers map[int][]string) HealthMetrics {
	density := graphDensity(g)

	score := 100.0
	if len(cycles) > 0 {
		score -= capAt(float64(len(cycles))*5, 30)
	}
	if density > 0.3 {
		score -= capAt((density-0.3)*100, 20)
	}
	if len(hotspots) > 0 && hotspots[0].InDegree > 50 {
		score -= capAt(float64(hotspots[0].InDegree/10), 20)
	}
	if score < 0 {
		score = 0
	}

	grade := "F"
	switch {
	case score >= 90:
		grade = "A"
	case score >= 80:
		grade = "B"
	case score >= 70:
		grade = "C"
	case score >= 60:
		grade = "D"
	}

	fragility := 0.0
	if len(hotspots) > 0 {
		fragility += capAt(hotspots[0].Score*10, 40)
	}
	if len(cycles) > 0 {
		fragility += capAt(float64(len(cycles))*3, 30)
	}
	fragility += capAt(density*100, 30)

	maxLayer := -1
	for layer := range layers {
		if layer > maxLayer {
			maxLayer = layer
		}
	}

	return HealthMetrics{
		HealthScore:    score,
		HealthGrade:    grade,
		FragilityScore: capAt(fragility, 100),
		Density:        density,
		CycleFree:      len(cycles) == 0,
		WellLayered:    len(layers) > 2 && maxLayer < 10,
		LooselyCoupled: density < 0.2,
		NoGodObjects:   len(hotspots) == 0 || hotspots[0].InDegree < 30,
	}
}

// Recommendations turns structural problems into actionable text
func (e *Engine) Recommendations(g *graph.Graph, cycles []graph.Cycle, hotspots []ScoredHotspot, layers map[int][]string) []string {
	var recs []string

	if len(cycles) > 0 {
		recs = append(recs, fmt.Sprintf("Break %d dependency cycles to improve maintainability", len(cycles)))
	}
	if density := graphDensity(g); density > 0.3 {
		recs = append(recs, fmt.Sprintf("Reduce coupling between modules (current density: %.2f)", density))
	}
	if len(hotspots) > 0 && hotspots[0].InDegree > 30 {
		recs = append(recs, fmt.Sprintf("Refactor hotspot '%s' with %d dependencies", hotspots[0].ID, hotspots[0].InDegree))
	}
	if len(layers) > 0 && len(layers) <= 2 {
		recs = append(recs, "Consider introducing more architectural layers for better separation")
	}
	return recs
}

// InterpretSummary labels a raw summary with coupling and god-object
// counts
func (e *Engine) InterpretSummary(s graph.Summary) Interpretation {
	level := "low"
	if s.Statistics.GraphDensity > 0.3 {
		level = "high"
	} else if s.Statistics.GraphDensity > 0.1 {
		level = "medium"
	}

	godNodes := 0
	connected := 0
	for _, h := range s.TopConnectedNodes {
		if h.InDegree > 30 {
			godNodes++
		}
		if h.TotalConnections > 20 {
			connected++
		}
	}

	return Interpretation{
		CouplingLevel:     level,
		PotentialGodNodes: godNodes,
		HighlyConnected:   connected,
	}
}

// ImpactRatio reports the impacted share of the whole graph
func (e *Engine) ImpactRatio(r graph.ImpactResult) float64 {
	if r.GraphNodes == 0 {
		return 0
	}
	return float64(r.TotalImpacted) / float64(r.GraphNodes)
}

func graphDensity(g *graph.Graph) float64 {
	n := len(g.Nodes)
	if n <= 1 {
		return 0
	}
	return float64(len(g.Edges)) / float64(n*(n-1))
}

func capAt(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

// Disabled is the null-object Provider: every method returns its zero
// result
type Disabled struct{}

func (Disabled) Available() bool { return false }

func (Disabled) RankHotspots(_, _ *graph.Graph) []ScoredHotspot { return nil }

func (Disabled) HealthMetrics(_ *graph.Graph, _ []graph.Cycle, _ []ScoredHotspot, _ map[int][]string) HealthMetrics {
	return HealthMetrics{}
}

func (Disabled) Recommendations(_ *graph.Graph, _ []graph.Cycle, _ []ScoredHotspot, _ map[int][]string) []string {
	return nil
}

func (Disabled) InterpretSummary(_ graph.Summary) Interpretation { return Interpretation{} }

func (Disabled) ImpactRatio(_ graph.ImpactResult) float64 { return 0 }
