package cfg

import (
	"bytes"
	"strings"
	"testing"

	"lattice/internal/facts"
	"lattice/internal/logging"
	"lattice/internal/testutil"
)

func testLogger() *logging.Logger {
	var buf bytes.Buffer
	return logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: &buf})
}

func newEngine(t *testing.T) (*Engine, *testutil.FactsDB) {
	t.Helper()
	db := testutil.NewFactsDB(t)
	return NewEngine(facts.OpenConn(db.Conn, testLogger()), testLogger()), db
}

// diamond builds the classic if/else shape: entry, condition, two
// branches, exit. 5 blocks, 5 edges.
func diamond(t *testing.T, db *testutil.FactsDB, file, fn string) (entry, cond, btrue, bfalse, exit int64) {
	t.Helper()
	entry = db.AddBlock(t, file, fn, BlockEntry, 1, 1, "")
	cond = db.AddBlock(t, file, fn, BlockCondition, 2, 2, "x > 0")
	btrue = db.AddBlock(t, file, fn, "plain", 3, 4, "")
	bfalse = db.AddBlock(t, file, fn, "plain", 5, 6, "")
	exit = db.AddBlock(t, file, fn, BlockExit, 7, 7, "")

	db.AddBlockEdge(t, file, fn, entry, cond, "fallthrough")
	db.AddBlockEdge(t, file, fn, cond, btrue, "true")
	db.AddBlockEdge(t, file, fn, cond, bfalse, "false")
	db.AddBlockEdge(t, file, fn, btrue, exit, "fallthrough")
	db.AddBlockEdge(t, file, fn, bfalse, exit, "fallthrough")
	return
}

func TestFunctionCFGMetrics(t *testing.T) {
	e, db := newEngine(t)
	_, cond, _, _, _ := diamond(t, db, "a.py", "check")
	db.AddStatement(t, cond, "if", 2, "if x > 0:")

	cfg, err := e.FunctionCFG("a.py", "check")
	if err != nil {
		t.Fatalf("FunctionCFG: %v", err)
	}

	if len(cfg.Blocks) != 5 || len(cfg.Edges) != 5 {
		t.Fatalf("blocks=%d edges=%d, want 5/5", len(cfg.Blocks), len(cfg.Edges))
	}
	// E - N + 2 = 5 - 5 + 2
	if cfg.Metrics.CyclomaticComplexity != 2 {
		t.Errorf("complexity = %d, want 2", cfg.Metrics.CyclomaticComplexity)
	}
	if cfg.Metrics.HasLoops {
		t.Error("diamond has no loops")
	}
	if cfg.Metrics.DecisionPoints != 1 {
		t.Errorf("decision points = %d, want 1", cfg.Metrics.DecisionPoints)
	}
	if cfg.Metrics.MaxNestingDepth != 1 {
		t.Errorf("nesting = %d, want 1", cfg.Metrics.MaxNestingDepth)
	}
	if len(cfg.Blocks[1].Statements) != 1 || cfg.Blocks[1].Statements[0].Text != "if x > 0:" {
		t.Errorf("statements not attached: %+v", cfg.Blocks[1])
	}
}

func TestMetricsDetectsLoops(t *testing.T) {
	e, db := newEngine(t)
	file, fn := "a.py", "spin"

	entry := db.AddBlock(t, file, fn, BlockEntry, 1, 1, "")
	loop := db.AddBlock(t, file, fn, BlockLoopCondition, 2, 2, "i < n")
	body := db.AddBlock(t, file, fn, "plain", 3, 4, "")
	exit := db.AddBlock(t, file, fn, BlockExit, 5, 5, "")

	db.AddBlockEdge(t, file, fn, entry, loop, "fallthrough")
	db.AddBlockEdge(t, file, fn, loop, body, "true")
	db.AddBlockEdge(t, file, fn, body, loop, EdgeBack)
	db.AddBlockEdge(t, file, fn, loop, exit, "false")

	cfg, err := e.FunctionCFG(file, fn)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Metrics.HasLoops {
		t.Error("back edge should set HasLoops")
	}
	if cfg.Metrics.MaxNestingDepth != 1 {
		t.Errorf("nesting = %d, want 1", cfg.Metrics.MaxNestingDepth)
	}
}

func TestMaxNestingDepth(t *testing.T) {
	e, db := newEngine(t)
	file, fn := "a.py", "deep"

	entry := db.AddBlock(t, file, fn, BlockEntry, 1, 1, "")
	outer := db.AddBlock(t, file, fn, BlockCondition, 2, 2, "a")
	inner := db.AddBlock(t, file, fn, BlockCondition, 3, 3, "b")
	exit := db.AddBlock(t, file, fn, BlockExit, 4, 4, "")

	db.AddBlockEdge(t, file, fn, entry, outer, "fallthrough")
	db.AddBlockEdge(t, file, fn, outer, inner, "true")
	db.AddBlockEdge(t, file, fn, inner, exit, "true")
	db.AddBlockEdge(t, file, fn, outer, exit, "false")

	cfg, err := e.FunctionCFG(file, fn)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Metrics.MaxNestingDepth != 2 {
		t.Errorf("nesting = %d, want 2", cfg.Metrics.MaxNestingDepth)
	}
}

func TestFindDeadCode(t *testing.T) {
	e, db := newEngine(t)
	file, fn := "a.py", "early"

	entry := db.AddBlock(t, file, fn, BlockEntry, 1, 1, "")
	ret := db.AddBlock(t, file, fn, BlockReturn, 2, 2, "")
	// Trailing code after the unconditional return: no incoming edge
	dead := db.AddBlock(t, file, fn, "plain", 3, 5, "")
	// Isolated exit block must never be reported
	db.AddBlock(t, file, fn, BlockExit, 6, 6, "")

	db.AddBlockEdge(t, file, fn, entry, ret, "fallthrough")

	blocks, err := e.FindDeadCode(file)
	if err != nil {
		t.Fatalf("FindDeadCode: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("dead blocks = %+v, want exactly the trailing plain block", blocks)
	}
	if blocks[0].BlockID != dead || blocks[0].BlockType != "plain" {
		t.Errorf("dead block = %+v", blocks[0])
	}
	if blocks[0].StartLine != 3 || blocks[0].EndLine != 5 {
		t.Errorf("dead block lines = %+v", blocks[0])
	}
}

func TestFindDeadCodeFullyReachable(t *testing.T) {
	e, db := newEngine(t)
	diamond(t, db, "a.py", "check")

	blocks, err := e.FindDeadCode("a.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 0 {
		t.Errorf("fully reachable function reported dead blocks: %+v", blocks)
	}
}

func TestExecutionPaths(t *testing.T) {
	e, db := newEngine(t)
	entry, cond, btrue, bfalse, exit := diamond(t, db, "a.py", "check")

	paths, err := e.ExecutionPaths("a.py", "check", 100)
	if err != nil {
		t.Fatalf("ExecutionPaths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %d, want 2", len(paths))
	}

	seen := map[int64]bool{}
	for _, p := range paths {
		if p[0] != entry || p[len(p)-1] != exit {
			t.Errorf("path does not run entry to exit: %v", p)
		}
		if p[1] != cond {
			t.Errorf("path skips the condition: %v", p)
		}
		seen[p[2]] = true
	}
	if !seen[btrue] || !seen[bfalse] {
		t.Errorf("both branches should be covered: %v", paths)
	}
}

func TestExecutionPathsCapped(t *testing.T) {
	e, db := newEngine(t)
	diamond(t, db, "a.py", "check")

	paths, err := e.ExecutionPaths("a.py", "check", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Errorf("cap not honored: %d paths", len(paths))
	}
}

func TestExecutionPathsSkipBackEdges(t *testing.T) {
	e, db := newEngine(t)
	file, fn := "a.py", "spin"

	entry := db.AddBlock(t, file, fn, BlockEntry, 1, 1, "")
	loop := db.AddBlock(t, file, fn, BlockLoopCondition, 2, 2, "i < n")
	body := db.AddBlock(t, file, fn, "plain", 3, 4, "")
	exit := db.AddBlock(t, file, fn, BlockExit, 5, 5, "")

	db.AddBlockEdge(t, file, fn, entry, loop, "fallthrough")
	db.AddBlockEdge(t, file, fn, loop, body, "true")
	db.AddBlockEdge(t, file, fn, body, loop, EdgeBack)
	db.AddBlockEdge(t, file, fn, loop, exit, "false")

	paths, err := e.ExecutionPaths(file, fn, 100)
	if err != nil {
		t.Fatal(err)
	}
	// The loop never repeats: entry->loop->exit only
	if len(paths) != 1 {
		t.Fatalf("paths = %v, want the single non-looping path", paths)
	}
}

func TestAnalyzeComplexity(t *testing.T) {
	e, db := newEngine(t)
	diamond(t, db, "a.py", "simple")

	// A denser function: two chained conditions, complexity 3
	file, fn := "a.py", "branchy"
	entry := db.AddBlock(t, file, fn, BlockEntry, 10, 10, "")
	c1 := db.AddBlock(t, file, fn, BlockCondition, 11, 11, "a")
	c2 := db.AddBlock(t, file, fn, BlockCondition, 12, 12, "b")
	exit := db.AddBlock(t, file, fn, BlockExit, 13, 13, "")
	db.AddBlockEdge(t, file, fn, entry, c1, "fallthrough")
	db.AddBlockEdge(t, file, fn, c1, c2, "true")
	db.AddBlockEdge(t, file, fn, c1, exit, "false")
	db.AddBlockEdge(t, file, fn, c2, exit, "true")
	db.AddBlockEdge(t, file, fn, c2, exit, "false")

	report, err := e.AnalyzeComplexity("a.py", 2)
	if err != nil {
		t.Fatalf("AnalyzeComplexity: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("report = %+v, want both functions at threshold 2", report)
	}
	if report[0].Function != "branchy" || report[0].Complexity != 3 {
		t.Errorf("report not sorted by descending complexity: %+v", report)
	}
	if report[0].StartLine != 10 || report[0].EndLine != 13 {
		t.Errorf("line span = %+v", report[0])
	}

	report, err = e.AnalyzeComplexity("a.py", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 1 {
		t.Errorf("threshold 3 should keep only branchy: %+v", report)
	}
}

func TestExportDOT(t *testing.T) {
	e, db := newEngine(t)
	file, fn := "a.py", "spin"

	entry := db.AddBlock(t, file, fn, BlockEntry, 1, 1, "")
	loop := db.AddBlock(t, file, fn, BlockLoopCondition, 2, 2, "i < len(items) and not done")
	exit := db.AddBlock(t, file, fn, BlockExit, 3, 3, "")
	db.AddBlockEdge(t, file, fn, entry, loop, "fallthrough")
	db.AddBlockEdge(t, file, fn, loop, loop, EdgeBack)
	db.AddBlockEdge(t, file, fn, loop, exit, "false")

	dot, err := e.ExportDOT(file, fn)
	if err != nil {
		t.Fatalf("ExportDOT: %v", err)
	}

	if !strings.HasPrefix(dot, "digraph CFG {") || !strings.HasSuffix(dot, "}") {
		t.Errorf("not a DOT document:\n%s", dot)
	}
	for _, want := range []string{
		"fillcolor=lightgreen",  // entry
		"fillcolor=lightcoral",  // exit
		"fillcolor=lightyellow", // loop condition
		"style=dashed",          // back edge
		"i < len(items) and n...", // condition truncated at 20 chars
		`label="F"`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}

func TestFunctionsListing(t *testing.T) {
	e, db := newEngine(t)
	diamond(t, db, "a.py", "check")
	diamond(t, db, "b.py", "other")

	all, err := e.Functions("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("functions = %+v", all)
	}

	one, err := e.Functions("a.py")
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 || one[0].FunctionName != "check" || one[0].BlockCount != 5 {
		t.Errorf("filtered listing = %+v", one)
	}
}
