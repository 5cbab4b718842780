package watcher

import (
	"context"
	"time"

	"github.com/ritzau/knowledge-map/pkg/logging"
	"github.com/ritzau/knowledge-map/pkg/store"
)

// Default debounce timings for seed reloads
const (
	DefaultQuietPeriod = 200 * time.Millisecond
	DefaultMaxWait     = 2 * time.Second
)

// Reloader merges the seed graph file into a store on every change. The
// store only grows, so removing the file or its entries removes nothing.
type Reloader struct {
	store *store.GraphStore
	path  string
}

// NewReloader creates a reloader for the graph file at path
func NewReloader(st *store.GraphStore, path string) *Reloader {
	return &Reloader{store: st, path: path}
}

// Reload reads the file and merges it
func (r *Reloader) Reload() (store.MergeResult, error) {
	g, err := store.LoadGraphFile(r.path)
	if err != nil {
		return store.MergeResult{}, err
	}
	return r.store.MergeGraph(g), nil
}

// Apply handles one debounced change
func (r *Reloader) Apply(event ChangeEvent) {
	if event.Type == ChangeTypeRemove {
		logging.Warn("seed graph removed, keeping current graph", "path", r.path)
		return
	}

	result, err := r.Reload()
	if err != nil {
		// Half-written files are common mid-save; the next write retries
		logging.Warn("failed to reload seed graph", "path", r.path, "error", err)
		return
	}
	logging.Info("reloaded seed graph",
		"path", r.path,
		"nodesAdded", result.NodesAdded,
		"nodesUpdated", result.NodesUpdated,
		"linksAdded", result.LinksAdded,
	)
}

// Watch merges the file at path into st whenever it changes, until ctx is
// cancelled
func Watch(ctx context.Context, path string, st *store.GraphStore, quietPeriod, maxWait time.Duration) error {
	fw, err := NewFileWatcher(path)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}

	debouncer := NewDebouncer(fw.Events(), quietPeriod, maxWait)
	debouncer.Start(ctx)

	reloader := NewReloader(st, fw.Path())
	for event := range debouncer.Output() {
		reloader.Apply(event)
	}
	return nil
}
