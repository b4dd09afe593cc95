package resolve

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"lattice/internal/facts"
	"lattice/internal/logging"
	"lattice/internal/testutil"
)

func testLogger() *logging.Logger {
	var buf bytes.Buffer
	return logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: &buf})
}

func newTestResolver(t *testing.T, setup func(db *testutil.FactsDB)) *Resolver {
	t.Helper()
	db := testutil.NewFactsDB(t)
	if setup != nil {
		setup(db)
	}
	store := facts.OpenConn(db.Conn, testLogger())
	r, err := NewResolver(store, testLogger())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolveRelativeImports(t *testing.T) {
	r := newTestResolver(t, func(db *testutil.FactsDB) {
		db.AddFile(t, "src/util.ts", 10)
		db.AddFile(t, "src/lib/index.ts", 10)
	})

	tests := []struct {
		name       string
		importStr  string
		sourceFile string
		want       string
	}{
		{"sibling with extension probe", "./util", "src/app.ts", "src/util.ts"},
		{"index file fallback", "./lib", "src/app.ts", "src/lib/index.ts"},
		{"parent directory", "../util", "src/nested/deep.ts", "src/util.ts"},
		{"unresolved keeps joined path", "./missing", "src/app.ts", "src/missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.importStr, tt.sourceFile, "typescript")
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.importStr, got, tt.want)
			}
		})
	}
}

func TestResolveTsconfigAlias(t *testing.T) {
	tsconfig := `{
		// comment allowed in tsconfig
		"compilerOptions": {
			"baseUrl": "./src",
			"paths": {
				"@app/*": ["app/*"],
				"@app/deep/*": ["app/deep/special/*"],
			}
		}
	}`

	r := newTestResolver(t, func(db *testutil.FactsDB) {
		db.AddConfigFile(t, "backend/tsconfig.json", tsconfig, "tsconfig", "backend")
		db.AddFile(t, "backend/src/app/server.ts", 50)
		db.AddFile(t, "backend/src/app/deep/special/core.ts", 20)
	})

	got := r.Resolve("@app/server", "backend/src/main.ts", "typescript")
	if got != "backend/src/app/server.ts" {
		t.Errorf("alias resolve = %q", got)
	}

	// Longest prefix wins
	got = r.Resolve("@app/deep/core", "backend/src/main.ts", "typescript")
	if got != "backend/src/app/deep/special/core.ts" {
		t.Errorf("longest-prefix resolve = %q", got)
	}

	// Aliased path with no indexed file still returns the transformed path
	got = r.Resolve("@app/ghost", "backend/src/main.ts", "typescript")
	if got != "backend/src/app/ghost" {
		t.Errorf("unmatched alias target = %q", got)
	}

	// Different context has no mappings, bare specifier stays external
	got = r.Resolve("@app/server", "frontend/src/main.ts", "typescript")
	if got != "@app/server" {
		t.Errorf("cross-context resolve = %q", got)
	}
}

func TestResolveExternalPackage(t *testing.T) {
	r := newTestResolver(t, nil)
	if got := r.Resolve("lodash", "src/app.ts", "javascript"); got != "lodash" {
		t.Errorf("external package = %q, want passthrough", got)
	}
}

func TestResolvePython(t *testing.T) {
	r := newTestResolver(t, func(db *testutil.FactsDB) {
		db.AddConfigFile(t, "pyproject.toml", "[project]\nname = \"myapp\"\n", "pyproject", ".")
		db.AddFile(t, "src/myapp/core.py", 30)
		db.AddFile(t, "myapp/util/__init__.py", 5)
	})

	// src layout probe
	if got := r.Resolve("myapp.core", "main.py", "python"); got != "src/myapp/core.py" {
		t.Errorf("python src layout = %q", got)
	}
	// package __init__ probe
	if got := r.Resolve("myapp.util", "main.py", "python"); got != "myapp/util/__init__.py" {
		t.Errorf("python package = %q", got)
	}
	// unresolved falls back to slash form
	if got := r.Resolve("os.path", "main.py", "python"); got != "os/path" {
		t.Errorf("python fallback = %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	r := newTestResolver(t, func(db *testutil.FactsDB) {
		db.AddFile(t, "vendor/legacy/api.ts", 10)
	})

	overrides := filepath.Join(t.TempDir(), "RESOLVE.toml")
	content := "[aliases]\n\"#legacy/\" = [\"vendor/legacy/\"]\n"
	if err := os.WriteFile(overrides, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := r.LoadOverrides(overrides); err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}

	if got := r.Resolve("#legacy/api", "src/app.ts", "typescript"); got != "vendor/legacy/api.ts" {
		t.Errorf("override resolve = %q", got)
	}
}

func TestStripJSONC(t *testing.T) {
	input := `{
		// line comment
		"a": "value // not a comment",
		/* block
		   comment */
		"paths": {"@/*": ["src/*"],}
	}`
	out := string(stripJSONC(input))
	if bytes.Contains([]byte(out), []byte("line comment")) {
		t.Error("line comment not stripped")
	}
	if bytes.Contains([]byte(out), []byte("block")) {
		t.Error("block comment not stripped")
	}
	if !bytes.Contains([]byte(out), []byte("@/*")) {
		t.Error("glob pattern should survive comment stripping")
	}
}
