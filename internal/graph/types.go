// Package graph builds, persists and analyzes dependency and call graphs
// derived from indexed facts.
package graph

import (
	"fmt"

	latticeerrors "lattice/internal/errors"
)

// Kind names a logical graph partition. Partitions share the same tables
// but are independent: rebuilding one never touches another.
type Kind string

const (
	// KindImport is the file-level dependency graph
	KindImport Kind = "import"
	// KindCall is the function-level call graph
	KindCall Kind = "call"
	// KindDataFlow is the variable-level assignment and return flow graph
	KindDataFlow Kind = "data_flow"
)

// ParseKind validates a kind string
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindImport, KindCall, KindDataFlow:
		return Kind(s), nil
	}
	return "", latticeerrors.New(latticeerrors.KindInvalid,
		fmt.Sprintf("unknown graph kind %q", s), nil)
}

// Node types
const (
	NodeModule      = "module"
	NodeFunction    = "function"
	NodeExternal    = "external"
	NodeVariable    = "variable"
	NodeReturnValue = "return_value"
)

// Node is one vertex of a graph
type Node struct {
	ID       string                 `json:"id"`
	File     string                 `json:"file"`
	Lang     string                 `json:"lang,omitempty"`
	Loc      int                    `json:"loc"`
	Churn    int                    `json:"churn,omitempty"`
	Type     string                 `json:"type"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Edge is one directed edge. Duplicate edges collapse on save.
type Edge struct {
	Source   string                 `json:"source"`
	Target   string                 `json:"target"`
	Type     string                 `json:"type"`
	File     string                 `json:"file,omitempty"`
	Line     int                    `json:"line,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Metadata describes how and from what a graph was built
type Metadata struct {
	Root       string   `json:"root,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	TotalNodes int      `json:"total_nodes"`
	TotalEdges int      `json:"total_edges"`
	BuildID    string   `json:"build_id,omitempty"`
}

// Graph is the single interchange shape between builder, store, analyzer
// and exporters
type Graph struct {
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Metadata Metadata `json:"metadata"`
}

// NodeSet returns a lookup of node ids
func (g *Graph) NodeSet() map[string]bool {
	set := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		set[n.ID] = true
	}
	return set
}

// Adjacency returns the forward adjacency list in edge order
func (g *Graph) Adjacency() map[string][]string {
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}

// ReverseAdjacency returns the reverse adjacency list in edge order
func (g *Graph) ReverseAdjacency() map[string][]string {
	adj := make(map[string][]string)
	for _, e := range g.Edges {
		adj[e.Target] = append(adj[e.Target], e.Source)
	}
	return adj
}

// Cycle is one directed cycle; Nodes starts and ends with the same id
type Cycle struct {
	Nodes []string `json:"nodes"`
	Size  int      `json:"size"`
}

// Hotspot is a node ranked by raw connectivity
type Hotspot struct {
	ID               string `json:"id"`
	InDegree         int    `json:"in_degree"`
	OutDegree        int    `json:"out_degree"`
	TotalConnections int    `json:"total_connections"`
	File             string `json:"file"`
	Lang             string `json:"lang,omitempty"`
}

// Degrees holds raw degree counts for one node
type Degrees struct {
	In  int `json:"in_degree"`
	Out int `json:"out_degree"`
}

// ImpactResult is the blast radius of a set of changed nodes
type ImpactResult struct {
	Targets       []string `json:"targets"`
	Upstream      []string `json:"upstream"`
	Downstream    []string `json:"downstream"`
	AllImpacted   []string `json:"all_impacted"`
	TotalImpacted int      `json:"total_impacted"`
	GraphNodes    int      `json:"graph_nodes"`
}

// SummaryStatistics are raw counts over one graph
type SummaryStatistics struct {
	TotalNodes         int      `json:"total_nodes"`
	TotalEdges         int      `json:"total_edges"`
	GraphDensity       float64  `json:"graph_density"`
	IsolatedNodes      int      `json:"isolated_nodes"`
	IsolatedNodesList  []string `json:"isolated_nodes_list"`
	AverageConnections float64  `json:"average_connections"`
}

// ConnectionDistribution buckets nodes by connectivity
type ConnectionDistribution struct {
	NodesWith20PlusConnections int `json:"nodes_with_20_plus_connections"`
	NodesWith30PlusInbound     int `json:"nodes_with_30_plus_inbound"`
	CycleCount                 int `json:"cycle_count"`
}

// Summary is the non-interpretive statistical digest of a graph
type Summary struct {
	Statistics             SummaryStatistics      `json:"statistics"`
	TopConnectedNodes      []Hotspot              `json:"top_connected_nodes"`
	CyclesFound            []Cycle                `json:"cycles_found"`
	FileTypes              map[string]int         `json:"file_types"`
	ConnectionDistribution ConnectionDistribution `json:"connection_distribution"`
}
