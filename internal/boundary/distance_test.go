package boundary

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"lattice/internal/facts"
	"lattice/internal/graph"
	"lattice/internal/logging"
	"lattice/internal/storage"
	"lattice/internal/testutil"
)

func testLogger() *logging.Logger {
	var buf bytes.Buffer
	return logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: &buf})
}

// fixture indexes a handler in routes.ts and a validator in
// validators.ts; the raw call facts only know handler -> validate
func newFixture(t *testing.T) (*Calculator, *graph.Store, *testutil.FactsDB) {
	t.Helper()
	logger := testLogger()

	db := testutil.NewFactsDB(t)
	db.AddFile(t, "routes.ts", 10)
	db.AddFile(t, "validators.ts", 5)
	db.AddSymbol(t, "routes.ts", "handler", "function", 1, 10)
	db.AddSymbol(t, "validators.ts", "validate", "function", 1, 5)
	db.AddCall(t, "routes.ts", 4, "handler", "validate", "validators.ts")

	graphDB, err := storage.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("open graph db: %v", err)
	}
	t.Cleanup(func() { graphDB.Close() })
	store := graph.NewStore(graphDB, logger)

	factStore := facts.OpenConn(db.Conn, logger)
	return NewCalculator(store, factStore, logger), store, db
}

// saveCallGraph persists a call graph that routes handler through an
// auth middleware the raw call facts cannot see
func saveCallGraph(t *testing.T, store *graph.Store) {
	t.Helper()
	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "routes.ts::handler", File: "routes.ts", Type: graph.NodeFunction},
			{ID: "middleware.ts::auth", File: "middleware.ts", Type: graph.NodeFunction},
			{ID: "validators.ts::validate", File: "validators.ts", Type: graph.NodeFunction},
		},
		Edges: []graph.Edge{
			{Source: "routes.ts::handler", Target: "middleware.ts::auth", Type: "call", File: "routes.ts"},
			{Source: "middleware.ts::auth", Target: "validators.ts::validate", Type: "call", File: "middleware.ts"},
		},
	}
	if err := store.Save(g, graph.KindCall, ""); err != nil {
		t.Fatalf("save call graph: %v", err)
	}
}

func TestDistanceViaCallGraph(t *testing.T) {
	c, store, _ := newFixture(t)
	saveCallGraph(t, store)

	// The persisted graph routes through middleware: two hops
	dist, found, err := c.Distance("routes.ts", 4, "validators.ts", 2)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if !found || dist != 2 {
		t.Errorf("distance = %d found=%v, want 2 via the persisted graph", dist, found)
	}
}

func TestDistanceFallbackWithoutGraph(t *testing.T) {
	c, _, _ := newFixture(t)

	// No persisted call graph: raw facts give the direct edge
	dist, found, err := c.Distance("routes.ts", 4, "validators.ts", 2)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	if !found || dist != 1 {
		t.Errorf("fallback distance = %d found=%v, want 1", dist, found)
	}
}

func TestDistanceSameFunction(t *testing.T) {
	c, _, _ := newFixture(t)

	dist, found, err := c.Distance("routes.ts", 2, "routes.ts", 8)
	if err != nil {
		t.Fatal(err)
	}
	if !found || dist != 0 {
		t.Errorf("same-function distance = %d found=%v, want 0", dist, found)
	}
}

func TestDistanceNoPath(t *testing.T) {
	c, _, db := newFixture(t)
	db.AddFile(t, "island.ts", 3)
	db.AddSymbol(t, "island.ts", "isolated", "function", 1, 3)

	_, found, err := c.Distance("island.ts", 2, "validators.ts", 2)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("unconnected functions should report no path")
	}
}

func TestDistanceUnknownLocation(t *testing.T) {
	c, _, _ := newFixture(t)

	_, found, err := c.Distance("routes.ts", 999, "validators.ts", 2)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("line outside any function should report no result")
	}
}

func TestFindControlsViaGraph(t *testing.T) {
	c, store, _ := newFixture(t)
	saveCallGraph(t, store)

	controls, err := c.FindControls("routes.ts", 4, []string{"valid"}, 5)
	if err != nil {
		t.Fatalf("FindControls: %v", err)
	}
	if len(controls) != 1 {
		t.Fatalf("controls = %+v, want 1", controls)
	}
	got := controls[0]
	if got.Function != "validate" || got.File != "validators.ts" || got.Distance != 2 {
		t.Errorf("control = %+v", got)
	}
	if !reflect.DeepEqual(got.Path, []string{"handler", "auth", "validate"}) {
		t.Errorf("path = %v", got.Path)
	}
	if got.Line != 1 {
		t.Errorf("control line = %d, want declaration line 1", got.Line)
	}
}

func TestFindControlsFallback(t *testing.T) {
	c, _, _ := newFixture(t)

	controls, err := c.FindControls("routes.ts", 4, []string{"valid"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(controls) != 1 || controls[0].Distance != 1 {
		t.Fatalf("fallback controls = %+v", controls)
	}
	if !reflect.DeepEqual(controls[0].Path, []string{"handler", "validate"}) {
		t.Errorf("path = %v", controls[0].Path)
	}
}

func TestMeasureQuality(t *testing.T) {
	tests := []struct {
		name     string
		controls []Control
		want     string
	}{
		{"missing", nil, "missing"},
		{"clear", []Control{{Function: "validate", Distance: 0}}, "clear"},
		{"acceptable", []Control{{Function: "validate", Distance: 2}}, "acceptable"},
		{"distant", []Control{{Function: "validate", Distance: 4}}, "fuzzy"},
		{"multiple", []Control{{Function: "a", Distance: 1}, {Function: "b", Distance: 3}}, "fuzzy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := MeasureQuality(tt.controls)
			if q.Quality != tt.want {
				t.Errorf("quality = %q, want %q", q.Quality, tt.want)
			}
			if q.Reason == "" || len(q.Facts) == 0 {
				t.Errorf("quality report incomplete: %+v", q)
			}
		})
	}

	q := MeasureQuality([]Control{{Function: "a", Distance: 1}, {Function: "b", Distance: 3}})
	if !strings.Contains(q.Reason, "a, b") {
		t.Errorf("multi-control reason = %q", q.Reason)
	}
}
