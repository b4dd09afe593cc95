package facts

import (
	"bytes"
	"path/filepath"
	"testing"

	latticeerrors "lattice/internal/errors"
	"lattice/internal/logging"
	"lattice/internal/testutil"

	stderrors "errors"
)

func testLogger() *logging.Logger {
	var buf bytes.Buffer
	return logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: &buf})
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"), testLogger())
	if err == nil {
		t.Fatal("expected error for missing database")
	}
	var le *latticeerrors.LatticeError
	if !stderrors.As(err, &le) || le.Code != latticeerrors.FactsMissing {
		t.Errorf("expected FACTS_MISSING, got %v", err)
	}
}

func TestImportsAndSymbols(t *testing.T) {
	db := testutil.NewFactsDB(t)
	db.AddFile(t, "src/app.ts", 120)
	db.AddFile(t, "src/util.ts", 40)
	db.AddImport(t, "src/app.ts", "./util")
	db.AddSymbol(t, "src/util.ts", "parse", "function", 3, 20)
	db.AddSymbol(t, "src/util.ts", "Helper", "class", 25, 60)
	db.AddSymbol(t, "src/util.ts", "parse", "call", 70, 70)

	store, err := Open(db.Path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	files, err := store.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("ListFiles returned %d files", len(files))
	}
	if files[0].Path != "src/app.ts" || files[0].LOC != 120 {
		t.Errorf("unexpected first file %+v", files[0])
	}

	imports, err := store.ImportsForFile("src/app.ts")
	if err != nil {
		t.Fatalf("ImportsForFile: %v", err)
	}
	if len(imports) != 1 || imports[0] != "./util" {
		t.Errorf("imports = %v", imports)
	}

	decls, err := store.DeclaredFunctions("src/util.ts")
	if err != nil {
		t.Fatalf("DeclaredFunctions: %v", err)
	}
	if len(decls) != 2 {
		t.Errorf("declared functions = %v, want parse and Helper", decls)
	}

	calls, err := store.CallNames("src/util.ts")
	if err != nil {
		t.Fatalf("CallNames: %v", err)
	}
	if len(calls) != 1 || calls[0] != "parse" {
		t.Errorf("call names = %v", calls)
	}

	ok, err := store.FileExists("src/app.ts")
	if err != nil || !ok {
		t.Errorf("FileExists(src/app.ts) = %v, %v", ok, err)
	}
	ok, err = store.FileExists("src/missing.ts")
	if err != nil || ok {
		t.Errorf("FileExists(src/missing.ts) = %v, %v", ok, err)
	}
}

func TestCallSites(t *testing.T) {
	db := testutil.NewFactsDB(t)
	db.AddCall(t, "src/a.ts", 10, "handler", "validate", "src/b.ts")
	db.AddCall(t, "src/a.ts", 12, "handler", "save", "src/c.ts")
	db.AddCall(t, "src/b.ts", 5, "validate", "log", "")

	store := OpenConn(db.Conn, testLogger())

	fromHandler, err := store.CallsFrom("handler")
	if err != nil {
		t.Fatalf("CallsFrom: %v", err)
	}
	if len(fromHandler) != 2 {
		t.Fatalf("CallsFrom(handler) = %d sites", len(fromHandler))
	}
	if fromHandler[0].CalleeFilePath != "src/b.ts" {
		t.Errorf("callee file = %q", fromHandler[0].CalleeFilePath)
	}

	inFile, err := store.CallsInFile("src/b.ts")
	if err != nil {
		t.Fatalf("CallsInFile: %v", err)
	}
	if len(inFile) != 1 || inFile[0].CalleeFunction != "log" {
		t.Errorf("CallsInFile(src/b.ts) = %+v", inFile)
	}
	// NULL callee_file_path coalesces to empty string
	if inFile[0].CalleeFilePath != "" {
		t.Errorf("expected empty callee path, got %q", inFile[0].CalleeFilePath)
	}
}

func TestConfigFilesFilter(t *testing.T) {
	db := testutil.NewFactsDB(t)
	db.AddConfigFile(t, "tsconfig.json", `{"compilerOptions":{}}`, "tsconfig", ".")
	db.AddConfigFile(t, "pyproject.toml", `[project]`, "pyproject", ".")
	db.AddConfigFile(t, "package.json", `{}`, "package", ".")

	store := OpenConn(db.Conn, testLogger())

	all, err := store.ConfigFiles()
	if err != nil {
		t.Fatalf("ConfigFiles: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all configs = %d", len(all))
	}

	some, err := store.ConfigFiles("tsconfig", "pyproject")
	if err != nil {
		t.Fatalf("ConfigFiles(filtered): %v", err)
	}
	if len(some) != 2 {
		t.Errorf("filtered configs = %d, want 2", len(some))
	}
}

func TestControlFlowQueries(t *testing.T) {
	db := testutil.NewFactsDB(t)
	entry := db.AddBlock(t, "src/a.ts", "handler", "entry", 1, 1, "")
	cond := db.AddBlock(t, "src/a.ts", "handler", "condition", 2, 2, "x > 0")
	exit := db.AddBlock(t, "src/a.ts", "handler", "exit", 5, 5, "")
	db.AddBlockEdge(t, "src/a.ts", "handler", entry, cond, "normal")
	db.AddBlockEdge(t, "src/a.ts", "handler", cond, exit, "true")
	db.AddStatement(t, cond, "assign", 3, "y = x * 2")

	store := OpenConn(db.Conn, testLogger())

	blocks, err := store.FunctionBlocks("src/a.ts", "handler")
	if err != nil {
		t.Fatalf("FunctionBlocks: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d", len(blocks))
	}
	if blocks[1].Condition != "x > 0" {
		t.Errorf("condition = %q", blocks[1].Condition)
	}

	edges, err := store.FunctionBlockEdges("src/a.ts", "handler")
	if err != nil {
		t.Fatalf("FunctionBlockEdges: %v", err)
	}
	if len(edges) != 2 {
		t.Errorf("edges = %d", len(edges))
	}

	stmts, err := store.BlockStatements(cond)
	if err != nil {
		t.Fatalf("BlockStatements: %v", err)
	}
	if len(stmts) != 1 || stmts[0].Text != "y = x * 2" {
		t.Errorf("statements = %+v", stmts)
	}

	fns, err := store.ListFunctions("")
	if err != nil {
		t.Fatalf("ListFunctions: %v", err)
	}
	if len(fns) != 1 || fns[0].BlockCount != 3 {
		t.Errorf("functions = %+v", fns)
	}
}
