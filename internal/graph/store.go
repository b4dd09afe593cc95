package graph

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"lattice/internal/logging"
	"lattice/internal/storage"
)

// Store persists graphs and analysis snapshots
type Store struct {
	db     *storage.DB
	logger *logging.Logger
}

// Dependencies is the result of an adjacency query on the import graph
type Dependencies struct {
	Upstream   []string `json:"upstream,omitempty"`
	Downstream []string `json:"downstream,omitempty"`
}

// Calls is the result of an adjacency query on the call graph
type Calls struct {
	Callers []string `json:"callers,omitempty"`
	Callees []string `json:"callees,omitempty"`
}

// AnalysisSnapshot wraps one stored analysis result
type AnalysisSnapshot struct {
	SnapshotID string          `json:"snapshot_id"`
	CreatedAt  string          `json:"created_at"`
	Result     json.RawMessage `json:"result"`
}

// Stats summarizes what the store holds per partition
type Stats struct {
	ImportNodes int `json:"import_nodes"`
	ImportEdges int `json:"import_edges"`
	CallNodes   int `json:"call_nodes"`
	CallEdges   int `json:"call_edges"`
}

// HighRiskNode is a node whose in-degree and churn multiply into risk
type HighRiskNode struct {
	ID        string  `json:"id"`
	File      string  `json:"file"`
	Churn     int     `json:"churn"`
	InDegree  int     `json:"in_degree"`
	RiskScore float64 `json:"risk_score"`
}

// NewStore creates a graph store over an open database
func NewStore(db *storage.DB, logger *logging.Logger) *Store {
	return &Store{db: db, logger: logger.WithComponent("store")}
}

// Save persists a graph into its kind partition in one transaction.
// With scopeFile set, only that file's prior rows are replaced, which is
// what incremental rebuilds use; otherwise the whole partition is swapped.
func (s *Store) Save(g *Graph, kind Kind, scopeFile string) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		if scopeFile != "" {
			if _, err := tx.Exec(`DELETE FROM nodes WHERE graph_type = ? AND file = ?`, string(kind), scopeFile); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM edges WHERE graph_type = ? AND file = ?`, string(kind), scopeFile); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(`DELETE FROM nodes WHERE graph_type = ?`, string(kind)); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM edges WHERE graph_type = ?`, string(kind)); err != nil {
				return err
			}
		}

		nodeStmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO nodes (id, file, lang, loc, churn, type, graph_type, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer nodeStmt.Close()

		// Scoped edges may point at synthetic externals owned by no file;
		// those endpoints must land with the edges or the partition ends
		// up with dangling references
		scopedTargets := make(map[string]bool)
		if scopeFile != "" {
			for _, e := range g.Edges {
				if e.File == scopeFile {
					scopedTargets[e.Target] = true
				}
			}
		}

		for _, n := range g.Nodes {
			if scopeFile != "" && n.File != scopeFile && !(n.Type == NodeExternal && scopedTargets[n.ID]) {
				continue
			}
			meta, err := marshalMetadata(n.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal node metadata for %s: %w", n.ID, err)
			}
			if _, err := nodeStmt.Exec(n.ID, n.File, n.Lang, n.Loc, n.Churn, n.Type, string(kind), meta); err != nil {
				return fmt.Errorf("failed to save node %s: %w", n.ID, err)
			}
		}

		edgeStmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO edges (source, target, type, graph_type, file, line, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer edgeStmt.Close()

		for _, e := range g.Edges {
			if scopeFile != "" && e.File != scopeFile {
				continue
			}
			meta, err := marshalMetadata(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal edge metadata: %w", err)
			}
			if _, err := edgeStmt.Exec(e.Source, e.Target, e.Type, string(kind), e.File, e.Line, meta); err != nil {
				return fmt.Errorf("failed to save edge %s -> %s: %w", e.Source, e.Target, err)
			}
		}

		return nil
	})
}

// Load materializes a kind partition. A missing partition is a valid
// empty graph, never an error.
func (s *Store) Load(kind Kind) (*Graph, error) {
	g := &Graph{}

	rows, err := s.db.Query(`
		SELECT id, file, COALESCE(lang, ''), loc, churn, type, COALESCE(metadata, '')
		FROM nodes WHERE graph_type = ?
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n Node
		var meta string
		if err := rows.Scan(&n.ID, &n.File, &n.Lang, &n.Loc, &n.Churn, &n.Type, &meta); err != nil {
			return nil, err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt node metadata for %s: %w", n.ID, err)
			}
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.db.Query(`
		SELECT source, target, type, COALESCE(file, ''), COALESCE(line, 0), COALESCE(metadata, '')
		FROM edges WHERE graph_type = ?
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e Edge
		var meta string
		if err := edgeRows.Scan(&e.Source, &e.Target, &e.Type, &e.File, &e.Line, &meta); err != nil {
			return nil, err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt edge metadata: %w", err)
			}
		}
		g.Edges = append(g.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	g.Metadata = Metadata{
		TotalNodes: len(g.Nodes),
		TotalEdges: len(g.Edges),
	}
	return g, nil
}

// QueryDependencies is an indexed adjacency lookup on any partition.
// Direction is "upstream", "downstream" or "both".
func (s *Store) QueryDependencies(nodeID, direction string, kind Kind) (Dependencies, error) {
	var deps Dependencies

	if direction == "upstream" || direction == "both" {
		up, err := s.adjacent(`SELECT DISTINCT source FROM edges WHERE target = ? AND graph_type = ?`, nodeID, kind)
		if err != nil {
			return deps, err
		}
		deps.Upstream = up
	}
	if direction == "downstream" || direction == "both" {
		down, err := s.adjacent(`SELECT DISTINCT target FROM edges WHERE source = ? AND graph_type = ?`, nodeID, kind)
		if err != nil {
			return deps, err
		}
		deps.Downstream = down
	}
	return deps, nil
}

// QueryCalls looks up callers and callees on the call partition.
// Direction is "callers", "callees" or "both".
func (s *Store) QueryCalls(nodeID, direction string) (Calls, error) {
	var calls Calls

	if direction == "callers" || direction == "both" {
		callers, err := s.adjacent(`SELECT DISTINCT source FROM edges WHERE target = ? AND graph_type = ?`, nodeID, KindCall)
		if err != nil {
			return calls, err
		}
		calls.Callers = callers
	}
	if direction == "callees" || direction == "both" {
		callees, err := s.adjacent(`SELECT DISTINCT target FROM edges WHERE source = ? AND graph_type = ?`, nodeID, KindCall)
		if err != nil {
			return calls, err
		}
		calls.Callees = callees
	}
	return calls, nil
}

func (s *Store) adjacent(query, nodeID string, kind Kind) ([]string, error) {
	rows, err := s.db.Query(query, nodeID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("adjacency query failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveAnalysisResult appends a snapshot to the analysis log and returns
// its id
func (s *Store) SaveAnalysisResult(analysisType string, kind Kind, result interface{}) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal analysis result: %w", err)
	}

	snapshot := AnalysisSnapshot{
		SnapshotID: uuid.NewString(),
		Result:     raw,
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}

	err = s.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO analysis_results (analysis_type, graph_type, result)
			VALUES (?, ?, ?)
		`, analysisType, string(kind), string(payload))
		return err
	})
	if err != nil {
		return "", err
	}
	return snapshot.SnapshotID, nil
}

// LatestAnalysis returns the most recent snapshot of a type, or nil when
// none exists
func (s *Store) LatestAnalysis(analysisType string, kind Kind) (*AnalysisSnapshot, error) {
	var payload, createdAt string
	err := s.db.QueryRow(`
		SELECT result, created_at FROM analysis_results
		WHERE analysis_type = ? AND graph_type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, analysisType, string(kind)).Scan(&payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot AnalysisSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("corrupt analysis snapshot: %w", err)
	}
	snapshot.CreatedAt = createdAt
	return &snapshot, nil
}

// GraphStats counts what each partition holds
func (s *Store) GraphStats() (Stats, error) {
	var stats Stats
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM nodes WHERE graph_type = 'import'`, &stats.ImportNodes},
		{`SELECT COUNT(*) FROM edges WHERE graph_type = 'import'`, &stats.ImportEdges},
		{`SELECT COUNT(*) FROM nodes WHERE graph_type = 'call'`, &stats.CallNodes},
		{`SELECT COUNT(*) FROM edges WHERE graph_type = 'call'`, &stats.CallEdges},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// HighRiskNodes ranks import-graph nodes by in-degree weighted by churn
func (s *Store) HighRiskNodes(threshold float64, limit int) ([]HighRiskNode, error) {
	rows, err := s.db.Query(`
		SELECT
			n.id,
			n.file,
			n.churn,
			COUNT(DISTINCT e.source) AS in_degree,
			(COUNT(DISTINCT e.source) * COALESCE(NULLIF(n.churn, 0), 1)) / 100.0 AS risk_score
		FROM nodes n
		LEFT JOIN edges e ON n.id = e.target AND e.graph_type = 'import'
		WHERE n.graph_type = 'import'
		GROUP BY n.id
		HAVING risk_score > ?
		ORDER BY risk_score DESC
		LIMIT ?
	`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("high-risk query failed: %w", err)
	}
	defer rows.Close()

	var nodes []HighRiskNode
	for rows.Next() {
		var n HighRiskNode
		if err := rows.Scan(&n.ID, &n.File, &n.Churn, &n.InDegree, &n.RiskScore); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func marshalMetadata(meta map[string]interface{}) (interface{}, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
