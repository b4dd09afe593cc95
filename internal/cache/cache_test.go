package cache

import (
	"bytes"
	"sort"
	"testing"

	"lattice/internal/logging"
	"lattice/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: &buf})
	db, err := storage.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, logger)
}

func TestHashBytesStable(t *testing.T) {
	a := HashBytes([]byte("package main"))
	b := HashBytes([]byte("package main"))
	c := HashBytes([]byte("package main\n"))
	if a != b {
		t.Error("same content should hash identically")
	}
	if a == c {
		t.Error("different content should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestChangedFiles(t *testing.T) {
	m := newTestManager(t)

	initial := map[string]string{
		"a.ts": HashBytes([]byte("a v1")),
		"b.ts": HashBytes([]byte("b v1")),
		"c.ts": HashBytes([]byte("c v1")),
	}
	if err := m.UpdateFileStates(initial); err != nil {
		t.Fatalf("UpdateFileStates: %v", err)
	}

	current := map[string]string{
		"a.ts": initial["a.ts"],            // unchanged
		"b.ts": HashBytes([]byte("b v2")),  // modified
		"d.ts": HashBytes([]byte("d new")), // added
		// c.ts removed
	}

	changes, err := m.ChangedFiles(current)
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	if len(changes.Added) != 1 || changes.Added[0] != "d.ts" {
		t.Errorf("Added = %v", changes.Added)
	}
	if len(changes.Modified) != 1 || changes.Modified[0] != "b.ts" {
		t.Errorf("Modified = %v", changes.Modified)
	}
	if len(changes.Removed) != 1 || changes.Removed[0] != "c.ts" {
		t.Errorf("Removed = %v", changes.Removed)
	}
	if changes.Total() != 3 {
		t.Errorf("Total = %d", changes.Total())
	}
}

func TestChangedFilesEmptyState(t *testing.T) {
	m := newTestManager(t)

	changes, err := m.ChangedFiles(map[string]string{"a.ts": "h1"})
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	if len(changes.Added) != 1 || len(changes.Modified) != 0 || len(changes.Removed) != 0 {
		t.Errorf("first run should report everything added: %+v", changes)
	}
}

func TestReplaceAndInvalidateEdges(t *testing.T) {
	m := newTestManager(t)

	if err := m.ReplaceEdges("a.ts", []Edge{
		{Source: "a.ts", Target: "b.ts", Type: "import", GraphType: "import", Line: 1},
		{Source: "a.ts", Target: "c.ts", Type: "import", GraphType: "import", Line: 2},
	}); err != nil {
		t.Fatalf("ReplaceEdges: %v", err)
	}

	// Replacing again swaps, never accumulates
	if err := m.ReplaceEdges("a.ts", []Edge{
		{Source: "a.ts", Target: "b.ts", Type: "import", GraphType: "import", Line: 1},
	}); err != nil {
		t.Fatalf("ReplaceEdges (second): %v", err)
	}

	edges, err := m.AllEdges("import")
	if err != nil {
		t.Fatalf("AllEdges: %v", err)
	}
	if len(edges) != 1 || edges[0].Target != "b.ts" {
		t.Fatalf("edges after replace = %+v", edges)
	}

	if err := m.InvalidateEdges([]string{"a.ts"}); err != nil {
		t.Fatalf("InvalidateEdges: %v", err)
	}
	edges, err = m.AllEdges("")
	if err != nil {
		t.Fatalf("AllEdges: %v", err)
	}
	if len(edges) != 0 {
		t.Errorf("edges after invalidate = %+v", edges)
	}
}

func TestRemoveFileStatesDropsEdges(t *testing.T) {
	m := newTestManager(t)

	if err := m.UpdateFileStates(map[string]string{"a.ts": "h1"}); err != nil {
		t.Fatal(err)
	}
	if err := m.ReplaceEdges("a.ts", []Edge{{Source: "a.ts", Target: "b.ts", Type: "import", GraphType: "import"}}); err != nil {
		t.Fatal(err)
	}

	if err := m.RemoveFileStates([]string{"a.ts"}); err != nil {
		t.Fatalf("RemoveFileStates: %v", err)
	}

	changes, err := m.ChangedFiles(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes.Removed) != 0 {
		t.Errorf("state not cleared: %+v", changes)
	}
	edges, err := m.AllEdges("")
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 0 {
		t.Errorf("edges not cleared: %+v", edges)
	}
}

func TestImpactRadius(t *testing.T) {
	m := newTestManager(t)

	// a <- b <- c, plus d importing a symbol inside a
	seed := []Edge{
		{Source: "b.ts", Target: "a.ts", Type: "import", GraphType: "import"},
		{Source: "c.ts", Target: "b.ts", Type: "import", GraphType: "import"},
		{Source: "d.ts", Target: "a.ts::parse", Type: "call", GraphType: "call"},
	}
	for _, e := range seed {
		if err := m.ReplaceEdges(e.Source, []Edge{e}); err != nil {
			t.Fatal(err)
		}
	}

	radius, err := m.ImpactRadius([]string{"a.ts"}, 2)
	if err != nil {
		t.Fatalf("ImpactRadius: %v", err)
	}
	sort.Strings(radius)
	want := []string{"a.ts", "b.ts", "c.ts", "d.ts"}
	if len(radius) != len(want) {
		t.Fatalf("radius = %v, want %v", radius, want)
	}
	for i := range want {
		if radius[i] != want[i] {
			t.Errorf("radius[%d] = %q, want %q", i, radius[i], want[i])
		}
	}

	// Depth 1 stops before c.ts
	radius, err = m.ImpactRadius([]string{"a.ts"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range radius {
		if f == "c.ts" {
			t.Error("depth 1 should not reach c.ts")
		}
	}
}
