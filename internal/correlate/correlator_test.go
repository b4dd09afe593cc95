package correlate

import (
	"bytes"
	"strings"
	"testing"

	"lattice/internal/cfg"
	"lattice/internal/facts"
	"lattice/internal/logging"
	"lattice/internal/testutil"
)

func testLogger() *logging.Logger {
	var buf bytes.Buffer
	return logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: &buf})
}

// handlerCFG indexes a function "handler" spanning lines 1-7 shaped as
// an if/else diamond
func handlerCFG(t *testing.T, db *testutil.FactsDB) {
	t.Helper()
	file, fn := "api.py", "handler"
	db.AddFile(t, file, 7)
	db.AddSymbol(t, file, fn, "function", 1, 7)

	entry := db.AddBlock(t, file, fn, cfg.BlockEntry, 1, 1, "")
	cond := db.AddBlock(t, file, fn, cfg.BlockCondition, 2, 2, "user.is_admin")
	btrue := db.AddBlock(t, file, fn, "plain", 3, 4, "")
	bfalse := db.AddBlock(t, file, fn, "plain", 5, 6, "")
	exit := db.AddBlock(t, file, fn, cfg.BlockExit, 7, 7, "")

	db.AddBlockEdge(t, file, fn, entry, cond, "fallthrough")
	db.AddBlockEdge(t, file, fn, cond, btrue, "true")
	db.AddBlockEdge(t, file, fn, cond, bfalse, "false")
	db.AddBlockEdge(t, file, fn, btrue, exit, "fallthrough")
	db.AddBlockEdge(t, file, fn, bfalse, exit, "fallthrough")
}

func newCorrelator(t *testing.T, setup func(t *testing.T, db *testutil.FactsDB)) *Correlator {
	t.Helper()
	db := testutil.NewFactsDB(t)
	setup(t, db)
	store := facts.OpenConn(db.Conn, testLogger())
	return NewCorrelator(store, cfg.NewEngine(store, testLogger()), testLogger())
}

func TestCorrelateSamePath(t *testing.T) {
	c := newCorrelator(t, handlerCFG)

	clusters, err := c.Correlate([]Finding{
		{File: "api.py", Line: 2, Tool: "taint"},
		{File: "api.py", Line: 3, Tool: "secrets"},
	})
	if err != nil {
		t.Fatalf("Correlate: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("clusters = %+v, want 1", clusters)
	}

	got := clusters[0]
	if got.Function != "handler" || got.File != "api.py" {
		t.Errorf("cluster location = %s %s", got.File, got.Function)
	}
	if got.FindingCount != 2 || got.Confidence != 0.95 {
		t.Errorf("cluster = %+v", got)
	}
	if len(got.Conditions) != 1 || got.Conditions[0] != "if (user.is_admin)" {
		t.Errorf("conditions = %v", got.Conditions)
	}
	if !strings.Contains(got.Description, "2 findings on same execution path when: if (user.is_admin)") {
		t.Errorf("description = %q", got.Description)
	}
}

func TestCorrelateRejectsExclusiveBranches(t *testing.T) {
	c := newCorrelator(t, handlerCFG)

	// One finding per branch of the if/else: they can never run together
	clusters, err := c.Correlate([]Finding{
		{File: "api.py", Line: 3, Tool: "taint"},
		{File: "api.py", Line: 5, Tool: "secrets"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 0 {
		t.Errorf("mutually exclusive branches correlated: %+v", clusters)
	}
}

func TestCorrelateFalseBranchCondition(t *testing.T) {
	c := newCorrelator(t, handlerCFG)

	clusters, err := c.Correlate([]Finding{
		{File: "api.py", Line: 2, Tool: "taint"},
		{File: "api.py", Line: 5, Tool: "secrets"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 1 {
		t.Fatalf("clusters = %+v", clusters)
	}
	if clusters[0].Conditions[0] != "if not (user.is_admin)" {
		t.Errorf("conditions = %v", clusters[0].Conditions)
	}
}

func TestCorrelateSingleFindingPerFunction(t *testing.T) {
	c := newCorrelator(t, handlerCFG)

	clusters, err := c.Correlate([]Finding{
		{File: "api.py", Line: 3, Tool: "taint"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 0 {
		t.Errorf("single finding should not cluster: %+v", clusters)
	}
}

func TestCorrelateSkipsUnlocatedFindings(t *testing.T) {
	c := newCorrelator(t, func(t *testing.T, db *testutil.FactsDB) {
		handlerCFG(t, db)
		db.AddFile(t, "orphan.py", 10)
	})

	// No symbol covers orphan.py, and zero/empty locations are dropped
	clusters, err := c.Correlate([]Finding{
		{File: "orphan.py", Line: 5, Tool: "taint"},
		{File: "orphan.py", Line: 6, Tool: "secrets"},
		{File: "", Line: 3, Tool: "taint"},
		{File: "api.py", Line: 0, Tool: "taint"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 0 {
		t.Errorf("unlocatable findings clustered: %+v", clusters)
	}
}

func TestCorrelateTruncatesLongConditions(t *testing.T) {
	long := strings.Repeat("x", 60) + " > 0"
	c := newCorrelator(t, func(t *testing.T, db *testutil.FactsDB) {
		file, fn := "api.py", "handler"
		db.AddFile(t, file, 5)
		db.AddSymbol(t, file, fn, "function", 1, 5)

		entry := db.AddBlock(t, file, fn, cfg.BlockEntry, 1, 1, "")
		cond := db.AddBlock(t, file, fn, cfg.BlockCondition, 2, 2, long)
		body := db.AddBlock(t, file, fn, "plain", 3, 4, "")
		exit := db.AddBlock(t, file, fn, cfg.BlockExit, 5, 5, "")
		db.AddBlockEdge(t, file, fn, entry, cond, "fallthrough")
		db.AddBlockEdge(t, file, fn, cond, body, "true")
		db.AddBlockEdge(t, file, fn, body, exit, "fallthrough")
	})

	clusters, err := c.Correlate([]Finding{
		{File: "api.py", Line: 2, Tool: "taint"},
		{File: "api.py", Line: 3, Tool: "secrets"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(clusters) != 1 {
		t.Fatalf("clusters = %+v", clusters)
	}
	cond := clusters[0].Conditions[0]
	if !strings.HasSuffix(cond, "...)") {
		t.Errorf("long condition not truncated: %q", cond)
	}
	// "if (" + 47 chars + "..." + ")"
	if len(cond) != 4+47+3+1 {
		t.Errorf("truncated length = %d: %q", len(cond), cond)
	}
}

func TestDedupeClusters(t *testing.T) {
	f1 := Finding{File: "a.py", Line: 1, Tool: "x"}
	f2 := Finding{File: "a.py", Line: 2, Tool: "y"}

	clusters := dedupeClusters([]Cluster{
		{Findings: []Finding{f1, f2}},
		{Findings: []Finding{f2, f1}}, // same set, different order
		{Findings: []Finding{f1}},
	})
	if len(clusters) != 2 {
		t.Errorf("dedupe kept %d clusters, want 2", len(clusters))
	}
}
