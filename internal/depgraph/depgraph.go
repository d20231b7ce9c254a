// Package depgraph tracks file-to-file include relations. The forward
// direction (what does X depend on) is stored; the reverse direction is
// computed by scan, since "what depends on X" is the rarer question.
package depgraph

import (
	"sort"
	"sync"

	"github.com/standardbeagle/rindex/internal/types"
)

// Graph maps each file to the set of files it depends on.
type Graph struct {
	mu      sync.RWMutex
	forward map[types.FileID]map[types.FileID]bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{forward: make(map[types.FileID]map[types.FileID]bool)}
}

// Set replaces file's forward set.
func (g *Graph) Set(file types.FileID, deps map[types.FileID]bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set := make(map[types.FileID]bool, len(deps))
	for dep := range deps {
		if dep != file {
			set[dep] = true
		}
	}
	g.forward[file] = set
}

// Add records a single dependency edge.
func (g *Graph) Add(file, dep types.FileID) {
	if file == dep {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	set := g.forward[file]
	if set == nil {
		set = make(map[types.FileID]bool)
		g.forward[file] = set
	}
	set[dep] = true
}

// Remove drops file from the graph entirely: its forward set and every edge
// pointing at it.
func (g *Graph) Remove(file types.FileID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.forward, file)
	for _, set := range g.forward {
		delete(set, file)
	}
}

// DependsOn returns the files file directly depends on, sorted.
func (g *Graph) DependsOn(file types.FileID) []types.FileID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.forward[file])
}

// Dependents scans for files whose forward set contains file, sorted.
func (g *Graph) Dependents(file types.FileID) []types.FileID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[types.FileID]bool)
	for f, set := range g.forward {
		if set[file] {
			out[f] = true
		}
	}
	return sortedIDs(out)
}

// Dirty returns the transitive closure of files that must be re-indexed when
// file changes: file itself plus every file that transitively depends on it.
func (g *Graph) Dirty(file types.FileID) []types.FileID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dirty := map[types.FileID]bool{file: true}
	queue := []types.FileID{file}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for f, set := range g.forward {
			if set[next] && !dirty[f] {
				dirty[f] = true
				queue = append(queue, f)
			}
		}
	}
	return sortedIDs(dirty)
}

// Snapshot copies the forward map for persistence.
func (g *Graph) Snapshot() map[types.FileID][]types.FileID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[types.FileID][]types.FileID, len(g.forward))
	for file, set := range g.forward {
		out[file] = sortedIDs(set)
	}
	return out
}

// Restore replaces the graph from a persisted snapshot.
func (g *Graph) Restore(snap map[types.FileID][]types.FileID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forward = make(map[types.FileID]map[types.FileID]bool, len(snap))
	for file, deps := range snap {
		set := make(map[types.FileID]bool, len(deps))
		for _, dep := range deps {
			set[dep] = true
		}
		g.forward[file] = set
	}
}

func sortedIDs(set map[types.FileID]bool) []types.FileID {
	if len(set) == 0 {
		return nil
	}
	out := make([]types.FileID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
