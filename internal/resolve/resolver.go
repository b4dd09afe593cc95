// Package resolve maps raw import specifiers onto indexed file paths.
// All resolution is database-driven; the resolver never touches the
// filesystem of the analyzed repo.
package resolve

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	gotoml "github.com/pelletier/go-toml/v2"

	"lattice/internal/facts"
	"lattice/internal/logging"
)

// Resolver resolves import strings for TypeScript, JavaScript and Python
// sources using tsconfig aliases, pyproject layouts and user overrides
type Resolver struct {
	store  *facts.Store
	logger *logging.Logger

	// aliasesByContext holds normalized alias mappings keyed by tsconfig
	// context directory ("root" for the top-level config)
	aliasesByContext map[string][]aliasMapping

	// pythonRoots are candidate prefixes for dotted Python imports,
	// learned from pyproject.toml package layouts
	pythonRoots []string
}

type aliasMapping struct {
	Prefix  string
	Targets []string
}

// tsconfigDoc is the subset of tsconfig.json the resolver reads
type tsconfigDoc struct {
	CompilerOptions struct {
		BaseURL string              `json:"baseUrl"`
		Paths   map[string][]string `json:"paths"`
	} `json:"compilerOptions"`
	References []struct {
		Path string `json:"path"`
	} `json:"references"`
}

// pyprojectDoc is the subset of pyproject.toml the resolver reads
type pyprojectDoc struct {
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
	Tool struct {
		Setuptools struct {
			PackageDir map[string]string `toml:"package-dir"`
		} `toml:"setuptools"`
	} `toml:"tool"`
}

// overridesDoc is the RESOLVE.toml format for user-supplied alias tables
type overridesDoc struct {
	Aliases map[string][]string `toml:"aliases"`
}

var jsExtensions = []string{"", ".ts", ".tsx", ".js", ".jsx", "/index.ts", "/index.tsx", "/index.js"}

// NewResolver loads all indexed build configs and prepares alias tables
func NewResolver(store *facts.Store, logger *logging.Logger) (*Resolver, error) {
	r := &Resolver{
		store:            store,
		logger:           logger.WithComponent("resolver"),
		aliasesByContext: make(map[string][]aliasMapping),
	}

	if err := r.loadTsconfigs(); err != nil {
		return nil, err
	}
	if err := r.loadPyprojects(); err != nil {
		return nil, err
	}

	return r, nil
}

// LoadOverrides merges a RESOLVE.toml alias table into the root context.
// Overrides take precedence over discovered tsconfig aliases.
func (r *Resolver) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read overrides %s: %w", path, err)
	}

	var doc overridesDoc
	if err := gotoml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse overrides %s: %w", path, err)
	}

	var mappings []aliasMapping
	for prefix, targets := range doc.Aliases {
		mappings = append(mappings, aliasMapping{
			Prefix:  strings.TrimSuffix(prefix, "*"),
			Targets: normalizeTargets(targets),
		})
	}
	sortByPrefixLength(mappings)

	r.aliasesByContext["root"] = append(mappings, r.aliasesByContext["root"]...)

	r.logger.Debug("loaded alias overrides", map[string]interface{}{
		"path":    path,
		"aliases": len(mappings),
	})
	return nil
}

// Resolve maps an import specifier to a repo-relative path. Unresolvable
// specifiers come back unchanged so the builder can treat them as external.
func (r *Resolver) Resolve(importStr, sourceFile, lang string) string {
	importStr = strings.Trim(importStr, "\"'`; \t")

	switch lang {
	case "python":
		return r.resolvePython(importStr)
	case "javascript", "typescript":
		return r.resolveJS(importStr, sourceFile)
	default:
		return importStr
	}
}

func (r *Resolver) resolvePython(importStr string) string {
	converted := strings.ReplaceAll(importStr, ".", "/")

	prefixes := append([]string{""}, r.pythonRoots...)
	for _, prefix := range prefixes {
		candidate := path.Join(prefix, converted)
		for _, suffix := range []string{".py", "/__init__.py"} {
			if r.fileExists(candidate + suffix) {
				return candidate + suffix
			}
		}
	}
	return converted
}

func (r *Resolver) resolveJS(importStr, sourceFile string) string {
	// Relative imports resolve against the source file's directory
	if strings.HasPrefix(importStr, ".") {
		return r.resolveRelative(importStr, sourceFile)
	}

	// Alias imports resolve through the matching tsconfig context
	if resolved, ok := r.resolveAlias(importStr, sourceFile); ok {
		return resolved
	}

	// Bare specifiers are external packages
	return importStr
}

func (r *Resolver) resolveRelative(importStr, sourceFile string) string {
	target := path.Join(path.Dir(sourceFile), importStr)
	target = strings.TrimPrefix(target, "/")

	for _, ext := range jsExtensions {
		if r.fileExists(target + ext) {
			return target + ext
		}
	}
	return target
}

func (r *Resolver) resolveAlias(importStr, sourceFile string) (string, bool) {
	context := r.contextFor(sourceFile)

	for _, ctx := range []string{context, "root"} {
		mappings, ok := r.aliasesByContext[ctx]
		if !ok {
			continue
		}
		for _, m := range mappings {
			if !strings.HasPrefix(importStr, m.Prefix) {
				continue
			}
			suffix := importStr[len(m.Prefix):]
			if len(m.Targets) == 0 {
				continue
			}
			// TypeScript takes the first matching target
			resolved := path.Join(m.Targets[0], suffix)

			for _, ext := range jsExtensions {
				if r.fileExists(resolved + ext) {
					return resolved + ext, true
				}
			}
			// Return the transformed path even when no indexed file
			// matches; the builder represents it as an external node
			return resolved, true
		}
		if ctx == context && ctx == "root" {
			break
		}
	}
	return "", false
}

// contextFor picks the tsconfig context whose directory contains the file
func (r *Resolver) contextFor(sourceFile string) string {
	for ctx := range r.aliasesByContext {
		if ctx == "root" {
			continue
		}
		if strings.HasPrefix(sourceFile, ctx+"/") {
			return ctx
		}
	}
	return "root"
}

func (r *Resolver) fileExists(path string) bool {
	ok, err := r.store.FileExists(path)
	if err != nil {
		r.logger.Warn("file existence probe failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return false
	}
	return ok
}

func (r *Resolver) loadTsconfigs() error {
	configs, err := r.store.ConfigFiles("tsconfig")
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		var doc tsconfigDoc
		if err := json.Unmarshal(stripJSONC(cfg.Content), &doc); err != nil {
			r.logger.Warn("failed to parse tsconfig", map[string]interface{}{
				"path":  cfg.Path,
				"error": err.Error(),
			})
			continue
		}

		context := cfg.ContextDir
		if context == "" || context == "." {
			// A root config that only references sub-projects carries
			// no mappings of its own
			if len(doc.References) > 0 && len(doc.CompilerOptions.Paths) == 0 {
				continue
			}
			context = "root"
		}

		baseURL := doc.CompilerOptions.BaseURL
		if baseURL == "" {
			baseURL = "."
		}

		var mappings []aliasMapping
		for pattern, targets := range doc.CompilerOptions.Paths {
			prefix := strings.TrimSuffix(pattern, "*")
			resolved := make([]string, 0, len(targets))
			for _, target := range normalizeTargets(targets) {
				if context == "root" {
					resolved = append(resolved, path.Join(baseURL, target))
				} else {
					resolved = append(resolved, path.Join(context, baseURL, target))
				}
			}
			mappings = append(mappings, aliasMapping{Prefix: prefix, Targets: resolved})
		}
		sortByPrefixLength(mappings)

		r.aliasesByContext[context] = append(r.aliasesByContext[context], mappings...)

		r.logger.Debug("loaded tsconfig aliases", map[string]interface{}{
			"path":    cfg.Path,
			"context": context,
			"aliases": len(mappings),
		})
	}

	return nil
}

func (r *Resolver) loadPyprojects() error {
	configs, err := r.store.ConfigFiles("pyproject")
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	addRoot := func(root string) {
		root = strings.Trim(root, "/")
		if root != "" && !seen[root] {
			seen[root] = true
			r.pythonRoots = append(r.pythonRoots, root)
		}
	}

	for _, cfg := range configs {
		var doc pyprojectDoc
		if err := toml.Unmarshal([]byte(cfg.Content), &doc); err != nil {
			r.logger.Warn("failed to parse pyproject", map[string]interface{}{
				"path":  cfg.Path,
				"error": err.Error(),
			})
			continue
		}

		contextDir := cfg.ContextDir
		if contextDir == "." {
			contextDir = ""
		}

		for _, dir := range doc.Tool.Setuptools.PackageDir {
			addRoot(path.Join(contextDir, dir))
		}
		if contextDir != "" {
			addRoot(contextDir)
		}
		// src layout is common enough to probe unconditionally
		addRoot(path.Join(contextDir, "src"))
	}

	return nil
}

func normalizeTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSuffix(t, "*")
		t = strings.TrimPrefix(t, "./")
		out = append(out, t)
	}
	return out
}

// sortByPrefixLength orders mappings longest-prefix first so the most
// specific alias wins
func sortByPrefixLength(mappings []aliasMapping) {
	sort.SliceStable(mappings, func(i, j int) bool {
		return len(mappings[i].Prefix) > len(mappings[j].Prefix)
	})
}

var (
	blockCommentRe = regexp.MustCompile(`(?s)(?:^|[^@])/\*.*?\*/`)
	trailingComma  = regexp.MustCompile(`,(\s*[}\]])`)
)

// stripJSONC removes comments and trailing commas so tsconfig files,
// which allow both, parse as plain JSON
func stripJSONC(content string) []byte {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		pos := strings.Index(line, "//")
		if pos >= 0 && strings.Count(line[:pos], `"`)%2 == 0 {
			lines[i] = line[:pos]
		}
	}
	cleaned := strings.Join(lines, "\n")
	cleaned = blockCommentRe.ReplaceAllStringFunc(cleaned, func(m string) string {
		if strings.HasPrefix(m, "/*") {
			return ""
		}
		return m[:1]
	})
	cleaned = trailingComma.ReplaceAllString(cleaned, "$1")
	return []byte(cleaned)
}
