// Package export writes persisted graphs and analysis snapshots to
// disk as JSON. The JSON shape {nodes, edges, metadata} is the
// interchange contract; everything downstream consumes exactly this.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"lattice/internal/graph"
	"lattice/internal/logging"
)

// Options controls one export
type Options struct {
	Output   string
	Compress bool
	Pretty   bool
}

// Exporter writes graphs and analysis results from the store
type Exporter struct {
	store  *graph.Store
	logger *logging.Logger
}

// NewExporter creates an exporter over a graph store
func NewExporter(store *graph.Store, logger *logging.Logger) *Exporter {
	return &Exporter{
		store:  store,
		logger: logger.WithComponent("export"),
	}
}

// ExportGraph writes one graph partition as JSON
func (e *Exporter) ExportGraph(kind graph.Kind, opts Options) (string, error) {
	g, err := e.store.Load(kind)
	if err != nil {
		return "", err
	}

	path, err := e.write(g, opts)
	if err != nil {
		return "", err
	}
	e.logger.Info("exported graph", map[string]interface{}{
		"kind":   string(kind),
		"nodes":  len(g.Nodes),
		"edges":  len(g.Edges),
		"output": path,
	})
	return path, nil
}

// ExportAnalysis writes the latest analysis snapshot of the given type
func (e *Exporter) ExportAnalysis(analysisType string, kind graph.Kind, opts Options) (string, error) {
	snap, err := e.store.LatestAnalysis(analysisType, kind)
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", fmt.Errorf("no %s analysis recorded for %s graph", analysisType, kind)
	}
	return e.write(snap, opts)
}

// write marshals v to the output path, zstd-compressing when asked.
// Returns the path actually written, which gains a .zst suffix under
// compression.
func (e *Exporter) write(v interface{}, opts Options) (string, error) {
	var data []byte
	var err error
	if opts.Pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal export: %w", err)
	}

	path := opts.Output
	if opts.Compress && !strings.HasSuffix(path, ".zst") {
		path += ".zst"
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer file.Close()

	if !opts.Compress {
		if _, err := file.Write(data); err != nil {
			return "", fmt.Errorf("failed to write export: %w", err)
		}
		return path, nil
	}

	w, err := zstd.NewWriter(file)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write compressed export: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish compressed export: %w", err)
	}
	return path, nil
}
