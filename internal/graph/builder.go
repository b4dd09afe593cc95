package graph

import (
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"lattice/internal/cache"
	"lattice/internal/facts"
	"lattice/internal/logging"
	"lattice/internal/resolve"
	"lattice/internal/storage"
)

// langByExt maps file extensions to languages the builder understands
var langByExt = map[string]string{
	".py":  "python",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
	".go":  "go",
	".rb":  "ruby",
	".java": "java",
	".rs":  "rust",
}

// Builder constructs graphs from indexed facts with incremental caching
type Builder struct {
	facts    *facts.Store
	cache    *cache.Manager
	resolver *resolve.Resolver
	db       *storage.DB
	logger   *logging.Logger

	excludePatterns []string
}

// BuildSession records one builder run. The session row is the only
// persistent build state; there is no checkpoint file.
type BuildSession struct {
	ID             string
	Mode           string
	StartedAt      time.Time
	FilesProcessed int
	FilesSkipped   int
}

// NewBuilder creates a graph builder
func NewBuilder(factStore *facts.Store, cacheMgr *cache.Manager, resolver *resolve.Resolver, db *storage.DB, excludePatterns []string, logger *logging.Logger) *Builder {
	return &Builder{
		facts:           factStore,
		cache:           cacheMgr,
		resolver:        resolver,
		db:              db,
		logger:          logger.WithComponent("builder"),
		excludePatterns: excludePatterns,
	}
}

// detectLanguage returns the language for a path, or "" when the builder
// has no use for the file
func detectLanguage(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	return langByExt[strings.ToLower(path[idx:])]
}

func (b *Builder) shouldSkip(path string) bool {
	for _, pattern := range b.excludePatterns {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// sourceFiles lists indexed files the builder cares about, in the
// store's deterministic path order
func (b *Builder) sourceFiles(langs []string) ([]facts.FileInfo, map[string]string, error) {
	all, err := b.facts.ListFiles()
	if err != nil {
		return nil, nil, err
	}

	wanted := make(map[string]bool, len(langs))
	for _, l := range langs {
		wanted[l] = true
	}

	var files []facts.FileInfo
	languages := make(map[string]string)
	for _, f := range all {
		if b.shouldSkip(f.Path) {
			continue
		}
		lang := detectLanguage(f.Path)
		if lang == "" {
			continue
		}
		if len(langs) > 0 && !wanted[lang] {
			continue
		}
		files = append(files, f)
		languages[f.Path] = lang
	}
	return files, languages, nil
}

// fileIdentity returns the content identity used for cache diffing.
// The indexer's sha256 wins; facts lacking one (e.g. SCIP-ingested) fall
// back to hashing the import records the builder actually consumes.
func (b *Builder) fileIdentity(f facts.FileInfo, imports []string) string {
	if f.Sha256 != "" {
		return f.Sha256
	}
	return cache.HashBytes([]byte(strings.Join(imports, "\n")))
}

// BuildImportGraph builds the file-level dependency graph, reusing cached
// edges for files whose content identity is unchanged
func (b *Builder) BuildImportGraph(root string, langs []string) (*Graph, error) {
	session, err := b.beginSession("import")
	if err != nil {
		return nil, err
	}

	files, languages, err := b.sourceFiles(langs)
	if err != nil {
		b.finishSession(session, "failed")
		return nil, err
	}

	// Gather per-file imports once; they feed both the identity hash and
	// edge extraction
	importsByFile := make(map[string][]string, len(files))
	current := make(map[string]string, len(files))
	skipped := make(map[string]bool)
	for _, f := range files {
		imports, err := b.facts.ImportsForFile(f.Path)
		if err != nil {
			// One bad file never aborts the build
			b.logger.Warn("failed to read imports, skipping file", map[string]interface{}{
				"file":  f.Path,
				"error": err.Error(),
			})
			skipped[f.Path] = true
			session.FilesSkipped++
			continue
		}
		importsByFile[f.Path] = imports
		current[f.Path] = b.fileIdentity(f, imports)
	}

	changes, err := b.cache.ChangedFiles(current)
	if err != nil {
		b.finishSession(session, "failed")
		return nil, err
	}

	// A skipped file is absent from current, which would classify it as
	// removed; its prior cache entry stays valid until a clean read says
	// otherwise
	if len(skipped) > 0 {
		kept := make([]string, 0, len(changes.Removed))
		for _, path := range changes.Removed {
			if !skipped[path] {
				kept = append(kept, path)
			}
		}
		changes.Removed = kept
	}

	b.logger.Info("incremental build delta", map[string]interface{}{
		"added":    len(changes.Added),
		"modified": len(changes.Modified),
		"removed":  len(changes.Removed),
		"total":    len(files),
	})

	// Re-extract only changed files; their cached edges are swapped
	for _, path := range append(append([]string{}, changes.Added...), changes.Modified...) {
		lang := languages[path]
		var edges []cache.Edge
		for _, imp := range importsByFile[path] {
			target := b.resolver.Resolve(imp, path, lang)
			edges = append(edges, cache.Edge{
				Source:    path,
				Target:    target,
				Type:      "import",
				GraphType: string(KindImport),
			})
		}
		if err := b.cache.ReplaceEdges(path, edges); err != nil {
			b.finishSession(session, "failed")
			return nil, err
		}
		session.FilesProcessed++
	}

	if len(changes.Removed) > 0 {
		if err := b.cache.RemoveFileStates(changes.Removed); err != nil {
			b.finishSession(session, "failed")
			return nil, err
		}
	}
	if err := b.cache.UpdateFileStates(current); err != nil {
		b.finishSession(session, "failed")
		return nil, err
	}

	// The cache now holds exactly the edge set for the current file set
	cached, err := b.cache.AllEdges(string(KindImport))
	if err != nil {
		b.finishSession(session, "failed")
		return nil, err
	}

	g := &Graph{}
	nodeIndex := make(map[string]int)
	addNode := func(n Node) {
		if _, ok := nodeIndex[n.ID]; !ok {
			nodeIndex[n.ID] = len(g.Nodes)
			g.Nodes = append(g.Nodes, n)
		}
	}

	langSet := make(map[string]bool)
	for _, f := range files {
		if _, ok := current[f.Path]; !ok {
			continue
		}
		lang := languages[f.Path]
		langSet[lang] = true
		addNode(Node{
			ID:   f.Path,
			File: f.Path,
			Lang: lang,
			Loc:  f.LOC,
			Type: NodeModule,
		})
	}

	for _, e := range cached {
		if _, ok := current[e.SourceFile]; !ok {
			continue
		}
		g.Edges = append(g.Edges, Edge{
			Source: e.Source,
			Target: e.Target,
			Type:   e.Type,
			File:   e.SourceFile,
			Line:   e.Line,
		})
		// Unresolved targets stay in the graph as synthetic externals so
		// every edge endpoint resolves to a node
		if _, ok := nodeIndex[e.Target]; !ok {
			addNode(Node{
				ID:   e.Target,
				File: e.Target,
				Type: NodeExternal,
			})
		}
	}

	g.Metadata = Metadata{
		Root:       root,
		Languages:  sortedKeys(langSet),
		TotalNodes: len(g.Nodes),
		TotalEdges: len(g.Edges),
		BuildID:    session.ID,
	}

	b.finishSession(session, "completed")
	return g, nil
}

// BuildCallGraph builds the function-level call graph. Call targets
// resolve to declared functions when the facts pin down the callee file;
// everything else becomes a synthetic external node.
func (b *Builder) BuildCallGraph(root string, langs []string) (*Graph, error) {
	session, err := b.beginSession("call")
	if err != nil {
		return nil, err
	}

	files, languages, err := b.sourceFiles(langs)
	if err != nil {
		b.finishSession(session, "failed")
		return nil, err
	}

	g := &Graph{}
	nodeIndex := make(map[string]int)
	addNode := func(n Node) {
		if _, ok := nodeIndex[n.ID]; !ok {
			nodeIndex[n.ID] = len(g.Nodes)
			g.Nodes = append(g.Nodes, n)
		}
	}

	// Declared functions become nodes keyed file::name
	declaredIn := make(map[string]map[string]bool)
	for _, f := range files {
		lang := languages[f.Path]
		decls, err := b.facts.DeclaredFunctions(f.Path)
		if err != nil {
			b.logger.Warn("failed to read symbols, skipping file", map[string]interface{}{
				"file":  f.Path,
				"error": err.Error(),
			})
			session.FilesSkipped++
			continue
		}
		declaredIn[f.Path] = make(map[string]bool, len(decls))
		for _, name := range decls {
			declaredIn[f.Path][name] = true
			addNode(Node{
				ID:   f.Path + "::" + name,
				File: f.Path,
				Lang: lang,
				Type: NodeFunction,
			})
		}
	}

	langSet := make(map[string]bool)
	for _, f := range files {
		lang := languages[f.Path]
		langSet[lang] = true

		sites, err := b.facts.CallsInFile(f.Path)
		if err != nil {
			b.logger.Warn("failed to read call sites, skipping file", map[string]interface{}{
				"file":  f.Path,
				"error": err.Error(),
			})
			session.FilesSkipped++
			continue
		}
		session.FilesProcessed++

		for _, site := range sites {
			target := b.resolveCallTarget(site, declaredIn)
			if _, ok := nodeIndex[target]; !ok {
				addNode(Node{
					ID:   target,
					File: site.CalleeFilePath,
					Type: NodeExternal,
				})
			}
			g.Edges = append(g.Edges, Edge{
				Source: f.Path,
				Target: target,
				Type:   "call",
				File:   f.Path,
				Line:   site.Line,
			})
			addNode(Node{
				ID:   f.Path,
				File: f.Path,
				Lang: lang,
				Type: NodeModule,
			})
		}
	}

	g.Metadata = Metadata{
		Root:       root,
		Languages:  sortedKeys(langSet),
		TotalNodes: len(g.Nodes),
		TotalEdges: len(g.Edges),
		BuildID:    session.ID,
	}

	b.finishSession(session, "completed")
	return g, nil
}

func (b *Builder) resolveCallTarget(site facts.CallSite, declaredIn map[string]map[string]bool) string {
	if site.CalleeFilePath != "" {
		if decls, ok := declaredIn[site.CalleeFilePath]; ok && decls[site.CalleeFunction] {
			return site.CalleeFilePath + "::" + site.CalleeFunction
		}
	}
	if decls, ok := declaredIn[site.File]; ok && decls[site.CalleeFunction] {
		return site.File + "::" + site.CalleeFunction
	}
	return site.CalleeFunction
}

// maxExpressionLen caps stored assignment and return expressions
const maxExpressionLen = 200

// BuildDataFlowGraph builds the variable-level data flow graph from
// normalized assignment and return facts. Variables are scoped per
// function (or "global"); each function also gets one synthetic return
// node that its returned variables flow into.
func (b *Builder) BuildDataFlowGraph(root string) (*Graph, error) {
	session, err := b.beginSession("data_flow")
	if err != nil {
		return nil, err
	}

	g := &Graph{}
	nodeIndex := make(map[string]int)
	addNode := func(n Node) *Node {
		idx, ok := nodeIndex[n.ID]
		if !ok {
			idx = len(g.Nodes)
			nodeIndex[n.ID] = idx
			g.Nodes = append(g.Nodes, n)
		}
		return &g.Nodes[idx]
	}

	assignments, err := b.facts.Assignments()
	if err != nil {
		b.finishSession(session, "failed")
		return nil, err
	}

	touched := make(map[string]bool)
	for _, a := range assignments {
		scope := a.InFunction
		if scope == "" {
			scope = "global"
		}
		targetID := a.File + "::" + scope + "::" + a.TargetVar

		target := addNode(Node{
			ID:   targetID,
			File: a.File,
			Type: NodeVariable,
			Metadata: map[string]interface{}{
				"variable_name":         a.TargetVar,
				"scope":                 scope,
				"first_assignment_line": a.Line,
			},
		})
		target.Metadata["assignment_count"] = metaCount(target.Metadata, "assignment_count") + 1
		touched[a.File] = true

		if a.SourceVar == "" {
			continue
		}
		sourceID := a.File + "::" + scope + "::" + a.SourceVar
		source := addNode(Node{
			ID:   sourceID,
			File: a.File,
			Type: NodeVariable,
			Metadata: map[string]interface{}{
				"variable_name": a.SourceVar,
				"scope":         scope,
			},
		})
		source.Metadata["usage_count"] = metaCount(source.Metadata, "usage_count") + 1

		g.Edges = append(g.Edges, Edge{
			Source: sourceID,
			Target: targetID,
			Type:   "assignment",
			File:   a.File,
			Line:   a.Line,
			Metadata: map[string]interface{}{
				"expression": truncateExpression(a.SourceExpr),
				"function":   scope,
			},
		})
	}

	returns, err := b.facts.FunctionReturns()
	if err != nil {
		b.finishSession(session, "failed")
		return nil, err
	}

	for _, r := range returns {
		returnID := r.File + "::" + r.FunctionName + "::return"
		addNode(Node{
			ID:   returnID,
			File: r.File,
			Type: NodeReturnValue,
			Metadata: map[string]interface{}{
				"variable_name": r.FunctionName + "_return",
				"scope":         r.FunctionName,
				"return_line":   r.Line,
				"return_expr":   truncateExpression(r.ReturnExpr),
			},
		})
		touched[r.File] = true

		if r.ReturnVar == "" {
			continue
		}
		varID := r.File + "::" + r.FunctionName + "::" + r.ReturnVar
		v := addNode(Node{
			ID:   varID,
			File: r.File,
			Type: NodeVariable,
			Metadata: map[string]interface{}{
				"variable_name": r.ReturnVar,
				"scope":         r.FunctionName,
			},
		})
		v.Metadata["returned"] = true

		g.Edges = append(g.Edges, Edge{
			Source: varID,
			Target: returnID,
			Type:   "return",
			File:   r.File,
			Line:   r.Line,
			Metadata: map[string]interface{}{
				"expression": truncateExpression(r.ReturnExpr),
				"function":   r.FunctionName,
			},
		})
	}
	session.FilesProcessed = len(touched)

	g.Metadata = Metadata{
		Root:       root,
		TotalNodes: len(g.Nodes),
		TotalEdges: len(g.Edges),
		BuildID:    session.ID,
	}

	b.finishSession(session, "completed")
	return g, nil
}

func metaCount(meta map[string]interface{}, key string) int {
	if n, ok := meta[key].(int); ok {
		return n
	}
	return 0
}

func truncateExpression(expr string) string {
	if len(expr) > maxExpressionLen {
		return expr[:maxExpressionLen]
	}
	return expr
}

// MergeGraphs combines two graphs into a unified view, deduplicating
// nodes by id
func MergeGraphs(a, b *Graph) *Graph {
	merged := &Graph{}
	seen := make(map[string]bool)
	for _, g := range []*Graph{a, b} {
		for _, n := range g.Nodes {
			if !seen[n.ID] {
				seen[n.ID] = true
				merged.Nodes = append(merged.Nodes, n)
			}
		}
		merged.Edges = append(merged.Edges, g.Edges...)
	}

	langSet := make(map[string]bool)
	for _, l := range append(append([]string{}, a.Metadata.Languages...), b.Metadata.Languages...) {
		langSet[l] = true
	}

	merged.Metadata = Metadata{
		Root:       a.Metadata.Root,
		Languages:  sortedKeys(langSet),
		TotalNodes: len(merged.Nodes),
		TotalEdges: len(merged.Edges),
	}
	return merged
}

func (b *Builder) beginSession(mode string) (*BuildSession, error) {
	session := &BuildSession{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	err := b.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO build_sessions (id, started_at, mode, status)
			VALUES (?, ?, ?, 'running')
		`, session.ID, session.StartedAt.Format(time.RFC3339), mode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (b *Builder) finishSession(session *BuildSession, status string) {
	err := b.db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE build_sessions
			SET finished_at = ?, files_processed = ?, files_skipped = ?, status = ?
			WHERE id = ?
		`, time.Now().UTC().Format(time.RFC3339), session.FilesProcessed, session.FilesSkipped, status, session.ID)
		return err
	})
	if err != nil {
		b.logger.Warn("failed to record build session", map[string]interface{}{
			"session": session.ID,
			"error":   err.Error(),
		})
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
