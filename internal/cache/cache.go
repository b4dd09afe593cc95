// Package cache tracks per-file content hashes and the edges extracted
// from each file, so rebuilds only touch what changed.
package cache

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"

	"lattice/internal/logging"
	"lattice/internal/storage"
)

// Manager provides incremental-build bookkeeping on top of the graph database
type Manager struct {
	db     *storage.DB
	logger *logging.Logger
}

// Changes partitions the current file set against the recorded state
type Changes struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// Total returns the number of files needing work
func (c Changes) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

// Edge is one cached edge keyed by the source file it was extracted from
type Edge struct {
	SourceFile string
	Source     string
	Target     string
	Type       string
	GraphType  string
	Line       int
	Metadata   string
}

// NewManager creates a cache manager over an open graph database
func NewManager(db *storage.DB, logger *logging.Logger) *Manager {
	return &Manager{db: db, logger: logger.WithComponent("cache")}
}

// HashBytes returns the hex BLAKE2b-256 digest of content
func HashBytes(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashFile hashes a file's content
func HashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return HashBytes(content), nil
}

// ChangedFiles compares the current file→hash map against the recorded
// state and returns the delta
func (m *Manager) ChangedFiles(current map[string]string) (Changes, error) {
	rows, err := m.db.Query(`SELECT file_path, content_hash FROM file_state`)
	if err != nil {
		return Changes{}, fmt.Errorf("failed to read file state: %w", err)
	}
	defer rows.Close()

	recorded := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return Changes{}, err
		}
		recorded[path] = hash
	}
	if err := rows.Err(); err != nil {
		return Changes{}, err
	}

	var changes Changes
	for path, hash := range current {
		prev, ok := recorded[path]
		if !ok {
			changes.Added = append(changes.Added, path)
		} else if prev != hash {
			changes.Modified = append(changes.Modified, path)
		}
	}
	for path := range recorded {
		if _, ok := current[path]; !ok {
			changes.Removed = append(changes.Removed, path)
		}
	}

	m.logger.Debug("computed file delta", map[string]interface{}{
		"added":    len(changes.Added),
		"modified": len(changes.Modified),
		"removed":  len(changes.Removed),
	})

	return changes, nil
}

// UpdateFileStates records the current hash for each file
func (m *Manager) UpdateFileStates(hashes map[string]string) error {
	return m.db.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO file_state (file_path, content_hash, last_built)
			VALUES (?, ?, datetime('now'))
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for path, hash := range hashes {
			if _, err := stmt.Exec(path, hash); err != nil {
				return fmt.Errorf("failed to update state for %s: %w", path, err)
			}
		}
		return nil
	})
}

// RemoveFileStates drops state and cached edges for deleted files
func (m *Manager) RemoveFileStates(paths []string) error {
	return m.db.WithTx(func(tx *sql.Tx) error {
		for _, path := range paths {
			if _, err := tx.Exec(`DELETE FROM file_state WHERE file_path = ?`, path); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM cached_edges WHERE source_file = ?`, path); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceEdges atomically swaps the cached edges for a source file
func (m *Manager) ReplaceEdges(sourceFile string, edges []Edge) error {
	return m.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM cached_edges WHERE source_file = ?`, sourceFile); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO cached_edges (source_file, source, target, type, graph_type, line, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range edges {
			if _, err := stmt.Exec(sourceFile, e.Source, e.Target, e.Type, e.GraphType, e.Line, e.Metadata); err != nil {
				return fmt.Errorf("failed to cache edge %s -> %s: %w", e.Source, e.Target, err)
			}
		}
		return nil
	})
}

// InvalidateEdges drops cached edges extracted from the given files
func (m *Manager) InvalidateEdges(sourceFiles []string) error {
	return m.db.WithTx(func(tx *sql.Tx) error {
		for _, file := range sourceFiles {
			if _, err := tx.Exec(`DELETE FROM cached_edges WHERE source_file = ?`, file); err != nil {
				return err
			}
		}
		return nil
	})
}

// AllEdges returns every cached edge for a graph kind, or all kinds when
// graphType is empty
func (m *Manager) AllEdges(graphType string) ([]Edge, error) {
	query := `SELECT source_file, source, target, type, graph_type, line, COALESCE(metadata, '') FROM cached_edges`
	var args []interface{}
	if graphType != "" {
		query += ` WHERE graph_type = ?`
		args = append(args, graphType)
	}
	query += ` ORDER BY source_file, source, target`

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.SourceFile, &e.Source, &e.Target, &e.Type, &e.GraphType, &e.Line, &e.Metadata); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ImpactRadius expands a changed-file set through reverse dependencies in
// the edge cache, up to maxDepth hops. The result includes the seeds.
func (m *Manager) ImpactRadius(changed []string, maxDepth int) ([]string, error) {
	edges, err := m.AllEdges("")
	if err != nil {
		return nil, err
	}

	// Map each target file to the files whose edges point at it
	dependents := make(map[string][]string)
	for _, e := range edges {
		targetFile := e.Target
		if idx := strings.Index(targetFile, "::"); idx >= 0 {
			targetFile = targetFile[:idx]
		}
		dependents[targetFile] = append(dependents[targetFile], e.SourceFile)
	}

	visited := make(map[string]bool, len(changed))
	order := make([]string, 0, len(changed))
	frontier := make([]string, 0, len(changed))
	for _, f := range changed {
		if !visited[f] {
			visited[f] = true
			order = append(order, f)
			frontier = append(frontier, f)
		}
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, f := range frontier {
			for _, dep := range dependents[f] {
				if !visited[dep] {
					visited[dep] = true
					order = append(order, dep)
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	return order, nil
}
