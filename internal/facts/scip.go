package facts

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	latticeerrors "lattice/internal/errors"
	"lattice/internal/logging"
)

// IngestSCIP converts a SCIP index into a fact database at dbPath so the
// graph builder can run against repos indexed by scip-go, scip-typescript
// and friends instead of the native indexer.
func IngestSCIP(indexPath, dbPath string, logger *logging.Logger) error {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return latticeerrors.New(latticeerrors.FactsMissing,
			fmt.Sprintf("SCIP index not found at %s", indexPath), err)
	}

	var index scippb.Index
	if err := proto.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("failed to parse SCIP index %s: %w", indexPath, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open fact database: %w", err)
	}
	defer conn.Close()

	if err := createFactSchema(conn); err != nil {
		return err
	}

	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var fileCount, symbolCount, refCount int
	for _, doc := range index.Documents {
		fileCount++
		loc := documentLineCount(doc)
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO files (path, sha256, ext, bytes, loc, file_category)
			 VALUES (?, '', ?, 0, ?, 'source')`,
			doc.RelativePath, fileExt(doc.RelativePath), loc); err != nil {
			return fmt.Errorf("failed to insert file %s: %w", doc.RelativePath, err)
		}

		kinds := symbolKinds(doc.Symbols)

		for _, occ := range doc.Occurrences {
			if occ.Symbol == "" || strings.HasPrefix(occ.Symbol, "local ") {
				continue
			}
			r := scippb.NewRangeUnchecked(occ.Range)
			line := int(r.Start.Line) + 1

			if occ.SymbolRoles&int32(scippb.SymbolRole_Definition) != 0 {
				symType := kinds[occ.Symbol]
				if symType == "" {
					continue
				}
				if _, err := tx.Exec(
					`INSERT INTO symbols (path, name, type, line, col, end_line)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					doc.RelativePath, displayName(occ.Symbol), symType,
					line, int(r.Start.Character), int(r.End.Line)+1); err != nil {
					return fmt.Errorf("failed to insert symbol: %w", err)
				}
				symbolCount++
				continue
			}

			// Cross-document references become import facts so the
			// dependency graph sees file-level coupling
			target := symbolPackage(occ.Symbol)
			if target == "" {
				continue
			}
			if _, err := tx.Exec(
				`INSERT INTO refs (src, kind, value, line) VALUES (?, 'import', ?, ?)`,
				doc.RelativePath, target, line); err != nil {
				return fmt.Errorf("failed to insert ref: %w", err)
			}
			refCount++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit SCIP facts: %w", err)
	}

	logger.Info("Ingested SCIP index", map[string]interface{}{
		"index":   indexPath,
		"files":   fileCount,
		"symbols": symbolCount,
		"refs":    refCount,
	})

	return nil
}

// createFactSchema creates the fact tables the reader expects. The CFG
// tables stay empty; SCIP carries no statement-level control flow.
func createFactSchema(conn *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS files (
			path TEXT PRIMARY KEY,
			sha256 TEXT NOT NULL DEFAULT '',
			ext TEXT NOT NULL DEFAULT '',
			bytes INTEGER NOT NULL DEFAULT 0,
			loc INTEGER NOT NULL DEFAULT 0,
			file_category TEXT NOT NULL DEFAULT 'source'
		)`,
		`CREATE TABLE IF NOT EXISTS refs (
			src TEXT NOT NULL,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			line INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			line INTEGER NOT NULL,
			col INTEGER NOT NULL DEFAULT 0,
			end_line INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS function_call_args (
			file TEXT NOT NULL,
			line INTEGER NOT NULL,
			caller_function TEXT NOT NULL,
			callee_function TEXT NOT NULL,
			argument_index INTEGER,
			argument_expr TEXT,
			param_name TEXT,
			callee_file_path TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS config_files (
			path TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			context_dir TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS cfg_blocks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file TEXT NOT NULL,
			function_name TEXT NOT NULL,
			block_type TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			condition_expr TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS cfg_edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file TEXT NOT NULL,
			function_name TEXT NOT NULL,
			source_block_id INTEGER NOT NULL,
			target_block_id INTEGER NOT NULL,
			edge_type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cfg_block_statements (
			block_id INTEGER NOT NULL,
			statement_type TEXT NOT NULL,
			line INTEGER NOT NULL,
			statement_text TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refs_src ON refs(src)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path)`,
	}

	for _, ddl := range statements {
		if _, err := conn.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create fact schema: %w", err)
		}
	}
	return nil
}

// symbolKinds maps symbol IDs to the fact symbol type, keeping only the
// kinds the graph layer consumes
func symbolKinds(symbols []*scippb.SymbolInformation) map[string]string {
	kinds := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		switch sym.Kind {
		case scippb.SymbolInformation_Function, scippb.SymbolInformation_Method,
			scippb.SymbolInformation_Constructor:
			kinds[sym.Symbol] = "function"
		case scippb.SymbolInformation_Class, scippb.SymbolInformation_Struct,
			scippb.SymbolInformation_Interface:
			kinds[sym.Symbol] = "class"
		}
	}
	return kinds
}

// displayName extracts the trailing descriptor name from a SCIP symbol ID
func displayName(symbol string) string {
	trimmed := strings.TrimSuffix(symbol, ".")
	trimmed = strings.TrimSuffix(trimmed, "()")
	trimmed = strings.TrimSuffix(trimmed, "#")
	if idx := strings.LastIndexAny(trimmed, "/.#"); idx >= 0 && idx < len(trimmed)-1 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// symbolPackage extracts the package portion of a SCIP symbol ID, e.g.
// "scip-go gomod example.com/mod v1 pkg/util/Parse()." yields "pkg/util"
func symbolPackage(symbol string) string {
	parts := strings.Fields(symbol)
	if len(parts) < 5 {
		return ""
	}
	descriptor := strings.Join(parts[4:], " ")
	if idx := strings.LastIndex(descriptor, "/"); idx > 0 {
		return descriptor[:idx]
	}
	return ""
}

func documentLineCount(doc *scippb.Document) int {
	if doc.Text != "" {
		return strings.Count(doc.Text, "\n") + 1
	}
	max := 0
	for _, occ := range doc.Occurrences {
		r := scippb.NewRangeUnchecked(occ.Range)
		if int(r.End.Line)+1 > max {
			max = int(r.End.Line) + 1
		}
	}
	return max
}

func fileExt(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx:]
	}
	return ""
}
