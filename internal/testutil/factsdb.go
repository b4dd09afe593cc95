// Package testutil builds throwaway fact databases for tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// FactsDB wraps a temporary fact database with insert helpers so tests
// can describe a small codebase declaratively.
type FactsDB struct {
	Path string
	Conn *sql.DB
}

var factsSchema = []string{
	`CREATE TABLE files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL DEFAULT '',
		ext TEXT NOT NULL DEFAULT '',
		bytes INTEGER NOT NULL DEFAULT 0,
		loc INTEGER NOT NULL DEFAULT 0,
		file_category TEXT NOT NULL DEFAULT 'source'
	)`,
	`CREATE TABLE refs (
		src TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		line INTEGER
	)`,
	`CREATE TABLE symbols (
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		line INTEGER NOT NULL,
		col INTEGER NOT NULL DEFAULT 0,
		end_line INTEGER
	)`,
	`CREATE TABLE function_call_args (
		file TEXT NOT NULL,
		line INTEGER NOT NULL,
		caller_function TEXT NOT NULL,
		callee_function TEXT NOT NULL,
		argument_index INTEGER,
		argument_expr TEXT,
		param_name TEXT,
		callee_file_path TEXT
	)`,
	`CREATE TABLE config_files (
		path TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		context_dir TEXT
	)`,
	`CREATE TABLE cfg_blocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file TEXT NOT NULL,
		function_name TEXT NOT NULL,
		block_type TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		condition_expr TEXT
	)`,
	`CREATE TABLE cfg_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file TEXT NOT NULL,
		function_name TEXT NOT NULL,
		source_block_id INTEGER NOT NULL,
		target_block_id INTEGER NOT NULL,
		edge_type TEXT NOT NULL
	)`,
	`CREATE TABLE cfg_block_statements (
		block_id INTEGER NOT NULL,
		statement_type TEXT NOT NULL,
		line INTEGER NOT NULL,
		statement_text TEXT
	)`,
	`CREATE TABLE assignments (
		file TEXT NOT NULL,
		line INTEGER NOT NULL,
		target_var TEXT NOT NULL,
		source_expr TEXT,
		in_function TEXT
	)`,
	`CREATE TABLE assignment_sources (
		assignment_file TEXT NOT NULL,
		assignment_line INTEGER NOT NULL,
		assignment_target TEXT NOT NULL,
		source_var_name TEXT NOT NULL
	)`,
	`CREATE TABLE function_returns (
		file TEXT NOT NULL,
		line INTEGER NOT NULL,
		function_name TEXT NOT NULL,
		return_expr TEXT
	)`,
	`CREATE TABLE function_return_sources (
		return_file TEXT NOT NULL,
		return_line INTEGER NOT NULL,
		return_function TEXT NOT NULL,
		return_var_name TEXT NOT NULL
	)`,
}

// NewFactsDB creates a fact database with the full schema in a temp dir.
// The connection is closed automatically when the test ends.
func NewFactsDB(t *testing.T) *FactsDB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "facts.db")
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open facts db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	for _, ddl := range factsSchema {
		if _, err := conn.Exec(ddl); err != nil {
			t.Fatalf("create facts schema: %v", err)
		}
	}

	return &FactsDB{Path: path, Conn: conn}
}

// AddFile records an indexed source file
func (f *FactsDB) AddFile(t *testing.T, path string, loc int) {
	t.Helper()
	ext := filepath.Ext(path)
	if _, err := f.Conn.Exec(
		`INSERT INTO files (path, ext, loc) VALUES (?, ?, ?)`, path, ext, loc); err != nil {
		t.Fatalf("add file %s: %v", path, err)
	}
}

// AddImport records an import reference from src to the raw specifier
func (f *FactsDB) AddImport(t *testing.T, src, value string) {
	t.Helper()
	if _, err := f.Conn.Exec(
		`INSERT INTO refs (src, kind, value, line) VALUES (?, 'import', ?, 1)`, src, value); err != nil {
		t.Fatalf("add import %s -> %s: %v", src, value, err)
	}
}

// AddSymbol records a declared symbol
func (f *FactsDB) AddSymbol(t *testing.T, path, name, symType string, line, endLine int) {
	t.Helper()
	if _, err := f.Conn.Exec(
		`INSERT INTO symbols (path, name, type, line, end_line) VALUES (?, ?, ?, ?, ?)`,
		path, name, symType, line, endLine); err != nil {
		t.Fatalf("add symbol %s.%s: %v", path, name, err)
	}
}

// AddCall records a resolved call site
func (f *FactsDB) AddCall(t *testing.T, file string, line int, caller, callee, calleeFile string) {
	t.Helper()
	if _, err := f.Conn.Exec(
		`INSERT INTO function_call_args (file, line, caller_function, callee_function, callee_file_path)
		 VALUES (?, ?, ?, ?, ?)`,
		file, line, caller, callee, calleeFile); err != nil {
		t.Fatalf("add call %s -> %s: %v", caller, callee, err)
	}
}

// AddConfigFile records an indexed configuration file
func (f *FactsDB) AddConfigFile(t *testing.T, path, content, configType, contextDir string) {
	t.Helper()
	if _, err := f.Conn.Exec(
		`INSERT INTO config_files (path, content, type, context_dir) VALUES (?, ?, ?, ?)`,
		path, content, configType, contextDir); err != nil {
		t.Fatalf("add config file %s: %v", path, err)
	}
}

// AddBlock records one basic block and returns its id
func (f *FactsDB) AddBlock(t *testing.T, file, fn, blockType string, startLine, endLine int, condition string) int64 {
	t.Helper()
	var cond interface{}
	if condition != "" {
		cond = condition
	}
	res, err := f.Conn.Exec(
		`INSERT INTO cfg_blocks (file, function_name, block_type, start_line, end_line, condition_expr)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		file, fn, blockType, startLine, endLine, cond)
	if err != nil {
		t.Fatalf("add block %s/%s: %v", file, fn, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("block id: %v", err)
	}
	return id
}

// AddBlockEdge records a control-flow edge between two blocks
func (f *FactsDB) AddBlockEdge(t *testing.T, file, fn string, source, target int64, edgeType string) {
	t.Helper()
	if _, err := f.Conn.Exec(
		`INSERT INTO cfg_edges (file, function_name, source_block_id, target_block_id, edge_type)
		 VALUES (?, ?, ?, ?, ?)`,
		file, fn, source, target, edgeType); err != nil {
		t.Fatalf("add block edge %d -> %d: %v", source, target, err)
	}
}

// AddAssignment records a variable assignment with zero or more source
// variables. inFunction empty means global scope.
func (f *FactsDB) AddAssignment(t *testing.T, file string, line int, targetVar, sourceExpr, inFunction string, sourceVars ...string) {
	t.Helper()
	if _, err := f.Conn.Exec(
		`INSERT INTO assignments (file, line, target_var, source_expr, in_function)
		 VALUES (?, ?, ?, ?, ?)`,
		file, line, targetVar, sourceExpr, inFunction); err != nil {
		t.Fatalf("add assignment %s = %s: %v", targetVar, sourceExpr, err)
	}
	for _, src := range sourceVars {
		if _, err := f.Conn.Exec(
			`INSERT INTO assignment_sources (assignment_file, assignment_line, assignment_target, source_var_name)
			 VALUES (?, ?, ?, ?)`,
			file, line, targetVar, src); err != nil {
			t.Fatalf("add assignment source %s: %v", src, err)
		}
	}
}

// AddReturn records a return statement with zero or more returned variables
func (f *FactsDB) AddReturn(t *testing.T, file string, line int, fn, returnExpr string, returnVars ...string) {
	t.Helper()
	if _, err := f.Conn.Exec(
		`INSERT INTO function_returns (file, line, function_name, return_expr)
		 VALUES (?, ?, ?, ?)`,
		file, line, fn, returnExpr); err != nil {
		t.Fatalf("add return in %s: %v", fn, err)
	}
	for _, v := range returnVars {
		if _, err := f.Conn.Exec(
			`INSERT INTO function_return_sources (return_file, return_line, return_function, return_var_name)
			 VALUES (?, ?, ?, ?)`,
			file, line, fn, v); err != nil {
			t.Fatalf("add return source %s: %v", v, err)
		}
	}
}

// AddStatement records one statement inside a block
func (f *FactsDB) AddStatement(t *testing.T, blockID int64, stmtType string, line int, text string) {
	t.Helper()
	if _, err := f.Conn.Exec(
		`INSERT INTO cfg_block_statements (block_id, statement_type, line, statement_text)
		 VALUES (?, ?, ?, ?)`,
		blockID, stmtType, line, text); err != nil {
		t.Fatalf("add statement: %v", err)
	}
}
