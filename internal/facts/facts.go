// Package facts reads the indexed fact database produced by an external
// indexer. All access is read-only; the graph engine never writes here.
package facts

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	latticeerrors "lattice/internal/errors"
	"lattice/internal/logging"
)

// Store provides read-only access to indexed facts
type Store struct {
	conn   *sql.DB
	logger *logging.Logger
	path   string
}

// FileInfo describes an indexed source file
type FileInfo struct {
	Path   string
	Ext    string
	LOC    int
	Sha256 string
}

// SymbolInfo describes a declared symbol
type SymbolInfo struct {
	Name    string
	Type    string
	Line    int
	EndLine int
}

// CallSite describes one resolved call recorded by the indexer
type CallSite struct {
	File           string
	Line           int
	CallerFunction string
	CalleeFunction string
	CalleeFilePath string
}

// Assignment is one variable assignment with an optional source
// variable from the normalized junction table. SourceVar is empty when
// the assignment has no recorded source (a literal, for instance).
type Assignment struct {
	File       string
	Line       int
	TargetVar  string
	SourceExpr string
	InFunction string
	SourceVar  string
}

// ReturnFlow is one return statement with an optional returned variable
type ReturnFlow struct {
	File         string
	Line         int
	FunctionName string
	ReturnExpr   string
	ReturnVar    string
}

// ConfigFile is an indexed configuration file with raw content
type ConfigFile struct {
	Path       string
	Content    string
	Type       string
	ContextDir string
}

// Block is one basic block of a function's control flow graph
type Block struct {
	ID        int64
	Type      string
	StartLine int
	EndLine   int
	Condition string
}

// Statement is one statement within a basic block
type Statement struct {
	Type string
	Line int
	Text string
}

// BlockEdge connects two basic blocks
type BlockEdge struct {
	SourceBlockID int64
	TargetBlockID int64
	Type          string
}

// FunctionRef identifies a function with control-flow data
type FunctionRef struct {
	File         string
	FunctionName string
	BlockCount   int
}

// Open opens the fact database in read-only mode
func Open(path string, logger *logging.Logger) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, latticeerrors.New(latticeerrors.FactsMissing,
			fmt.Sprintf("fact database not found at %s", path), err)
	}

	conn, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open fact database: %w", err)
	}

	return &Store{conn: conn, logger: logger, path: path}, nil
}

// OpenConn wraps an existing connection; used by tests and the SCIP adapter
func OpenConn(conn *sql.DB, logger *logging.Logger) *Store {
	return &Store{conn: conn, logger: logger}
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// ListFiles returns all indexed source files
func (s *Store) ListFiles() ([]FileInfo, error) {
	rows, err := s.conn.Query(`SELECT path, ext, loc, sha256 FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []FileInfo
	for rows.Next() {
		var f FileInfo
		if err := rows.Scan(&f.Path, &f.Ext, &f.LOC, &f.Sha256); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FileExists reports whether the indexer saw the given path
func (s *Store) FileExists(path string) (bool, error) {
	var one int
	err := s.conn.QueryRow(`SELECT 1 FROM files WHERE path = ? LIMIT 1`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ImportsForFile returns the raw import specifiers recorded for a file
func (s *Store) ImportsForFile(path string) ([]string, error) {
	rows, err := s.conn.Query(`
		SELECT value FROM refs
		WHERE src = ? AND kind IN ('import', 'require', 'from', 'import_type', 'export')
	`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query imports: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// DeclaredFunctions returns function and class symbols declared in a file
func (s *Store) DeclaredFunctions(path string) ([]string, error) {
	return s.symbolNames(path, "type IN ('function', 'class')")
}

// CallNames returns the call symbols recorded for a file
func (s *Store) CallNames(path string) ([]string, error) {
	return s.symbolNames(path, "type = 'call'")
}

func (s *Store) symbolNames(path, predicate string) ([]string, error) {
	rows, err := s.conn.Query(`SELECT name FROM symbols WHERE path = ? AND `+predicate, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SymbolsInFile returns all declared symbols with their line spans,
// used to locate the function containing a given line
func (s *Store) SymbolsInFile(path string) ([]SymbolInfo, error) {
	rows, err := s.conn.Query(`
		SELECT name, type, line, COALESCE(end_line, line)
		FROM symbols
		WHERE path = ?
	`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []SymbolInfo
	for rows.Next() {
		var sym SymbolInfo
		if err := rows.Scan(&sym.Name, &sym.Type, &sym.Line, &sym.EndLine); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SymbolLine returns the declaration line of a named symbol in a file
func (s *Store) SymbolLine(path, name string) (int, bool, error) {
	var line int
	err := s.conn.QueryRow(`
		SELECT line FROM symbols
		WHERE path = ? AND name = ?
		LIMIT 1
	`, path, name).Scan(&line)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return line, true, nil
}

// ContainingFunction returns the function declared nearest above the
// given line, the usual proxy for "which function contains this line"
func (s *Store) ContainingFunction(path string, line int) (string, bool, error) {
	var name string
	err := s.conn.QueryRow(`
		SELECT name FROM symbols
		WHERE path = ? AND line <= ? AND type = 'function'
		ORDER BY line DESC
		LIMIT 1
	`, path, line).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// EnclosingFunction matches function-like symbols whose recorded line
// span covers the given line. Symbols without an end line count as
// open-ended.
func (s *Store) EnclosingFunction(path string, line int) (string, bool, error) {
	var name string
	err := s.conn.QueryRow(`
		SELECT name FROM symbols
		WHERE path = ?
		  AND type IN ('function', 'method', 'arrow_function')
		  AND line <= ?
		  AND (end_line >= ? OR end_line IS NULL)
		ORDER BY line DESC
		LIMIT 1
	`, path, line, line).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// CallsFrom returns resolved call sites made by a named function
func (s *Store) CallsFrom(callerFunction string) ([]CallSite, error) {
	rows, err := s.conn.Query(`
		SELECT file, line, caller_function, callee_function, COALESCE(callee_file_path, '')
		FROM function_call_args
		WHERE caller_function = ?
	`, callerFunction)
	if err != nil {
		return nil, fmt.Errorf("failed to query call sites: %w", err)
	}
	defer rows.Close()

	return scanCallSites(rows)
}

// CallsInFile returns all resolved call sites recorded for a file
func (s *Store) CallsInFile(path string) ([]CallSite, error) {
	rows, err := s.conn.Query(`
		SELECT file, line, caller_function, callee_function, COALESCE(callee_file_path, '')
		FROM function_call_args
		WHERE file = ?
	`, path)
	if err != nil {
		return nil, fmt.Errorf("failed to query call sites: %w", err)
	}
	defer rows.Close()

	return scanCallSites(rows)
}

func scanCallSites(rows *sql.Rows) ([]CallSite, error) {
	var sites []CallSite
	for rows.Next() {
		var c CallSite
		if err := rows.Scan(&c.File, &c.Line, &c.CallerFunction, &c.CalleeFunction, &c.CalleeFilePath); err != nil {
			return nil, err
		}
		sites = append(sites, c)
	}
	return sites, rows.Err()
}

// Assignments returns every recorded assignment joined with its source
// variables, one row per (assignment, source) pair, in file/line order.
// Assignments without sources appear once with an empty SourceVar.
func (s *Store) Assignments() ([]Assignment, error) {
	rows, err := s.conn.Query(`
		SELECT
			a.file,
			a.line,
			a.target_var,
			COALESCE(a.source_expr, ''),
			COALESCE(a.in_function, ''),
			COALESCE(asrc.source_var_name, '')
		FROM assignments a
		LEFT JOIN assignment_sources asrc
			ON a.file = asrc.assignment_file
			AND a.line = asrc.assignment_line
			AND a.target_var = asrc.assignment_target
		ORDER BY a.file, a.line
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.File, &a.Line, &a.TargetVar, &a.SourceExpr, &a.InFunction, &a.SourceVar); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// FunctionReturns returns every recorded return statement joined with
// its returned variables, in file/line order
func (s *Store) FunctionReturns() ([]ReturnFlow, error) {
	rows, err := s.conn.Query(`
		SELECT
			fr.file,
			fr.line,
			fr.function_name,
			COALESCE(fr.return_expr, ''),
			COALESCE(frsrc.return_var_name, '')
		FROM function_returns fr
		LEFT JOIN function_return_sources frsrc
			ON fr.file = frsrc.return_file
			AND fr.line = frsrc.return_line
			AND fr.function_name = frsrc.return_function
		ORDER BY fr.file, fr.line
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query function returns: %w", err)
	}
	defer rows.Close()

	var returns []ReturnFlow
	for rows.Next() {
		var r ReturnFlow
		if err := rows.Scan(&r.File, &r.Line, &r.FunctionName, &r.ReturnExpr, &r.ReturnVar); err != nil {
			return nil, err
		}
		returns = append(returns, r)
	}
	return returns, rows.Err()
}

// ConfigFiles returns indexed configuration files of the given types.
// With no types, all config files are returned.
func (s *Store) ConfigFiles(types ...string) ([]ConfigFile, error) {
	query := `SELECT path, content, type, COALESCE(context_dir, '') FROM config_files`
	args := make([]interface{}, 0, len(types))
	if len(types) > 0 {
		query += ` WHERE type IN (?` + repeatPlaceholder(len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query config files: %w", err)
	}
	defer rows.Close()

	var configs []ConfigFile
	for rows.Next() {
		var c ConfigFile
		if err := rows.Scan(&c.Path, &c.Content, &c.Type, &c.ContextDir); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// FunctionBlocks returns the basic blocks of a function ordered by start line
func (s *Store) FunctionBlocks(file, functionName string) ([]Block, error) {
	rows, err := s.conn.Query(`
		SELECT id, block_type, start_line, end_line, COALESCE(condition_expr, '')
		FROM cfg_blocks
		WHERE file = ? AND function_name = ?
		ORDER BY start_line
	`, file, functionName)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.ID, &b.Type, &b.StartLine, &b.EndLine, &b.Condition); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// BlockStatements returns the statements of a block ordered by line
func (s *Store) BlockStatements(blockID int64) ([]Statement, error) {
	rows, err := s.conn.Query(`
		SELECT statement_type, line, COALESCE(statement_text, '')
		FROM cfg_block_statements
		WHERE block_id = ?
		ORDER BY line
	`, blockID)
	if err != nil {
		return nil, fmt.Errorf("failed to query statements: %w", err)
	}
	defer rows.Close()

	var statements []Statement
	for rows.Next() {
		var st Statement
		if err := rows.Scan(&st.Type, &st.Line, &st.Text); err != nil {
			return nil, err
		}
		statements = append(statements, st)
	}
	return statements, rows.Err()
}

// FunctionBlockEdges returns the control-flow edges of a function
func (s *Store) FunctionBlockEdges(file, functionName string) ([]BlockEdge, error) {
	rows, err := s.conn.Query(`
		SELECT source_block_id, target_block_id, edge_type
		FROM cfg_edges
		WHERE file = ? AND function_name = ?
	`, file, functionName)
	if err != nil {
		return nil, fmt.Errorf("failed to query block edges: %w", err)
	}
	defer rows.Close()

	var edges []BlockEdge
	for rows.Next() {
		var e BlockEdge
		if err := rows.Scan(&e.SourceBlockID, &e.TargetBlockID, &e.Type); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ListFunctions returns functions with control-flow data, optionally
// filtered by file
func (s *Store) ListFunctions(file string) ([]FunctionRef, error) {
	query := `
		SELECT file, function_name, COUNT(*) AS block_count
		FROM cfg_blocks
	`
	var args []interface{}
	if file != "" {
		query += ` WHERE file = ?`
		args = append(args, file)
	}
	query += ` GROUP BY file, function_name`

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list functions: %w", err)
	}
	defer rows.Close()

	var functions []FunctionRef
	for rows.Next() {
		var f FunctionRef
		if err := rows.Scan(&f.File, &f.FunctionName, &f.BlockCount); err != nil {
			return nil, err
		}
		functions = append(functions, f)
	}
	return functions, rows.Err()
}
