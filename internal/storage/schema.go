package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		// Create schema_version table first
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}

		if err := createNodesTable(tx); err != nil {
			return err
		}
		if err := createEdgesTable(tx); err != nil {
			return err
		}
		if err := createAnalysisResultsTable(tx); err != nil {
			return err
		}
		if err := createCacheTables(tx); err != nil {
			return err
		}
		if err := createBuildSessionsTable(tx); err != nil {
			return err
		}

		// Set initial schema version
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", map[string]interface{}{
			"version": currentSchemaVersion,
		})

		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", map[string]interface{}{
			"version": version,
		})
		return nil
	}

	db.logger.Info("Running database migrations", map[string]interface{}{
		"from_version": version,
		"to_version":   currentSchemaVersion,
	})

	// Run migrations sequentially
	// Add migration functions here as schema evolves

	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	// Check if schema_version table exists
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		// Table doesn't exist, this is a new database
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("DELETE FROM schema_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createNodesTable creates the nodes table
// A node may appear in more than one graph kind, so the primary key
// spans (id, graph_type)
func createNodesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS nodes (
			id TEXT NOT NULL,
			file TEXT NOT NULL,
			lang TEXT,
			loc INTEGER DEFAULT 0,
			churn INTEGER DEFAULT 0,
			type TEXT DEFAULT 'internal',
			graph_type TEXT NOT NULL,
			metadata TEXT,

			PRIMARY KEY (id, graph_type)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create nodes table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file)",
		"CREATE INDEX IF NOT EXISTS idx_nodes_graph_type ON nodes(graph_type)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createEdgesTable creates the edges table
// The UNIQUE constraint lets rebuilds use INSERT OR IGNORE so duplicate
// edges collapse instead of accumulating
func createEdgesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS edges (
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			type TEXT NOT NULL,
			graph_type TEXT NOT NULL,
			file TEXT,
			line INTEGER,
			metadata TEXT,

			UNIQUE (source, target, type, graph_type)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create edges table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source, graph_type)",
		"CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target, graph_type)",
		"CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createAnalysisResultsTable creates the analysis_results table
// Results are append-only; readers take the newest row per (analysis_type, graph_type)
func createAnalysisResultsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			analysis_type TEXT NOT NULL,
			graph_type TEXT NOT NULL,
			result TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create analysis_results table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_analysis_results_lookup ON analysis_results(analysis_type, graph_type, created_at)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createCacheTables creates the incremental-build cache tables:
// per-file content hashes and the edges extracted from each source file
func createCacheTables(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS file_state (
			file_path TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL,
			last_built TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create file_state table: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS cached_edges (
			source_file TEXT NOT NULL,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			type TEXT NOT NULL,
			graph_type TEXT NOT NULL,
			line INTEGER,
			metadata TEXT
		)
	`); err != nil {
		return fmt.Errorf("failed to create cached_edges table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_cached_edges_source_file ON cached_edges(source_file)",
		"CREATE INDEX IF NOT EXISTS idx_cached_edges_graph_type ON cached_edges(graph_type)",
	}

	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create cache index: %w", err)
		}
	}

	return nil
}

// createBuildSessionsTable creates the build_sessions table recording
// each builder run for diagnostics
func createBuildSessionsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS build_sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			files_processed INTEGER DEFAULT 0,
			files_skipped INTEGER DEFAULT 0,
			mode TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create build_sessions table: %w", err)
	}

	return nil
}
