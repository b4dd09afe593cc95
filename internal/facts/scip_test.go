package facts

import (
	"os"
	"path/filepath"
	"testing"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"
)

func writeTestIndex(t *testing.T) string {
	t.Helper()

	index := &scippb.Index{
		Metadata: &scippb.Metadata{
			ProjectRoot: "file:///repo",
			ToolInfo:    &scippb.ToolInfo{Name: "scip-go", Version: "0.1.0"},
		},
		Documents: []*scippb.Document{
			{
				RelativePath: "pkg/util/parse.go",
				Language:     "go",
				Symbols: []*scippb.SymbolInformation{
					{
						Symbol: "scip-go gomod example.com/mod v1 pkg/util/Parse().",
						Kind:   scippb.SymbolInformation_Function,
					},
				},
				Occurrences: []*scippb.Occurrence{
					{
						Range:       []int32{2, 5, 2, 10},
						Symbol:      "scip-go gomod example.com/mod v1 pkg/util/Parse().",
						SymbolRoles: int32(scippb.SymbolRole_Definition),
					},
				},
			},
			{
				RelativePath: "cmd/app/main.go",
				Language:     "go",
				Occurrences: []*scippb.Occurrence{
					{
						Range:  []int32{10, 2, 10, 7},
						Symbol: "scip-go gomod example.com/mod v1 pkg/util/Parse().",
					},
					{
						Range:  []int32{11, 0, 11, 5},
						Symbol: "local 3",
					},
				},
			},
		},
	}

	data, err := proto.Marshal(index)
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	path := filepath.Join(t.TempDir(), "index.scip")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	return path
}

func TestIngestSCIP(t *testing.T) {
	indexPath := writeTestIndex(t)
	dbPath := filepath.Join(t.TempDir(), "facts.db")

	if err := IngestSCIP(indexPath, dbPath, testLogger()); err != nil {
		t.Fatalf("IngestSCIP: %v", err)
	}

	store, err := Open(dbPath, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	files, err := store.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}

	decls, err := store.DeclaredFunctions("pkg/util/parse.go")
	if err != nil {
		t.Fatalf("DeclaredFunctions: %v", err)
	}
	if len(decls) != 1 || decls[0] != "Parse" {
		t.Errorf("declared functions = %v, want [Parse]", decls)
	}

	// Reference in main.go becomes an import fact; local symbols are skipped
	imports, err := store.ImportsForFile("cmd/app/main.go")
	if err != nil {
		t.Fatalf("ImportsForFile: %v", err)
	}
	if len(imports) != 1 || imports[0] != "pkg/util" {
		t.Errorf("imports = %v, want [pkg/util]", imports)
	}
}

func TestIngestSCIPMissingIndex(t *testing.T) {
	err := IngestSCIP(filepath.Join(t.TempDir(), "nope.scip"), filepath.Join(t.TempDir(), "facts.db"), testLogger())
	if err == nil {
		t.Fatal("expected error for missing index")
	}
}

func TestSymbolHelpers(t *testing.T) {
	tests := []struct {
		symbol  string
		name    string
		pkg     string
	}{
		{"scip-go gomod example.com/mod v1 pkg/util/Parse().", "Parse", "pkg/util"},
		{"scip-go gomod example.com/mod v1 pkg/util/Helper#", "Helper", "pkg/util"},
		{"scip-typescript npm pkg 1.0 src/app/run().", "run", "src/app"},
	}

	for _, tt := range tests {
		if got := displayName(tt.symbol); got != tt.name {
			t.Errorf("displayName(%q) = %q, want %q", tt.symbol, got, tt.name)
		}
		if got := symbolPackage(tt.symbol); got != tt.pkg {
			t.Errorf("symbolPackage(%q) = %q, want %q", tt.symbol, got, tt.pkg)
		}
	}
}
