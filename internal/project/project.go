// Package project owns one code base's index: the path table, symbol store,
// dependency graph, indexing coordinator, sync engine and watcher, plus the
// persisted database on disk. Collaborators receive a borrowed handle; the
// project is the single owner of all index state.
package project

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/standardbeagle/rindex/internal/config"
	"github.com/standardbeagle/rindex/internal/debug"
	"github.com/standardbeagle/rindex/internal/depgraph"
	"github.com/standardbeagle/rindex/internal/indexer"
	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/persist"
	"github.com/standardbeagle/rindex/internal/query"
	"github.com/standardbeagle/rindex/internal/store"
	"github.com/standardbeagle/rindex/internal/types"
	"github.com/standardbeagle/rindex/internal/watcher"
)

const (
	// DBDirName is the per-project database directory, discovered by walking
	// upward from the working directory.
	DBDirName = ".rtags.db"

	// DBFileName is the single versioned blob inside the database directory.
	DBFileName = "index.db"

	// MetaFileName names the project root and compilation database.
	MetaFileName = "project.meta"
)

// Project is the engine facade.
type Project struct {
	cfg *config.Config
	env config.Environment

	table *location.Table
	store *store.Store
	deps  *depgraph.Graph

	syncer      *indexer.Syncer
	coordinator *indexer.Coordinator
	watcher     *watcher.Watcher

	dbDir string

	mu      sync.Mutex
	sources map[types.FileID]types.Source

	saveMu sync.Mutex
}

// FindProjectDir walks upward from startDir looking for a .rtags.db
// directory and returns its path, or "" when none exists.
func FindProjectDir(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, DBDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Open loads or initializes the project rooted at cfg.Project.Root. The
// parser front-end is built against the project's own path table through
// newParser. A corrupt or out-of-date database is reported and replaced by
// an empty store; indexing rebuilds it.
func Open(cfg *config.Config, env config.Environment, newParser func(*location.Table) indexer.Parser) (*Project, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.DBType == "leveldb" {
		// Legacy backend name; the single-blob backend serves both.
		debug.LogDB("RTAGS_DB_TYPE=leveldb treated as filedb\n")
	}

	p := &Project{
		cfg:     cfg,
		env:     env,
		table:   location.NewTable(),
		store:   store.New(),
		deps:    depgraph.New(),
		dbDir:   filepath.Join(cfg.Project.Root, DBDirName),
		sources: make(map[types.FileID]types.Source),
	}

	p.restore()

	p.syncer = indexer.NewSyncer(p.store, p.deps, indexer.SyncerOptions{
		Debounce:      cfg.Index.SyncDebounce,
		SaveThreshold: cfg.Index.SaveThreshold,
		SaveInterval:  cfg.Index.SaveInterval,
		OnSave:        p.Save,
		OnWatch:       p.watchFile,
	})
	p.coordinator = indexer.NewCoordinator(newParser(p.table), p.syncer, p.table, indexer.CoordinatorOptions{
		Workers:      cfg.WorkerCount(),
		JobTimeout:   cfg.Index.JobTimeout,
		CrashRetries: cfg.Index.CrashRetries,
	})

	if cfg.Index.WatchMode {
		w, err := watcher.New(time.Duration(cfg.Index.WatchDebounceMs) * time.Millisecond)
		if err != nil {
			return nil, err
		}
		w.SetCallbacks(p.onFileChanged, p.onFileRemoved)
		w.Start()
		p.watcher = w
	}

	return p, nil
}

// restore loads the persisted blob, degrading to an empty store on failure.
func (p *Project) restore() {
	img, err := persist.Load(filepath.Join(p.dbDir, DBFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("index load failed (%v); starting with an empty store", err)
		}
		return
	}
	p.table.Restore(img.Paths, img.NextFileID)
	p.store.Import(img.Store)
	p.deps.Restore(img.Deps)
	p.mu.Lock()
	p.sources = img.Sources
	p.mu.Unlock()
}

// Table exposes the path bijection.
func (p *Project) Table() *location.Table {
	return p.table
}

// Store exposes the symbol store for read-side collaborators.
func (p *Project) Store() *store.Store {
	return p.store
}

// Deps exposes the dependency graph.
func (p *Project) Deps() *depgraph.Graph {
	return p.deps
}

// Query returns a query engine over the live store.
func (p *Project) Query() *query.Engine {
	return query.NewEngine(p.store, p.table)
}

// Syncer exposes the sync engine (fixits, test hooks).
func (p *Project) Syncer() *indexer.Syncer {
	return p.syncer
}

// Index enqueues a compilation unit described by path and compiler args.
// Returns true iff the call took the file from idle to busy.
func (p *Project) Index(path string, args []string, indexType types.IndexType) bool {
	id := p.table.Intern(path)
	src := types.Source{File: id, Args: args, Language: languageFor(path)}

	p.mu.Lock()
	p.sources[id] = src
	p.mu.Unlock()

	return p.coordinator.Index(src, indexType)
}

// Source returns the stored compilation descriptor for a file.
func (p *Project) Source(file types.FileID) (types.Source, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[file]
	return src, ok
}

// Dirty re-schedules every translation unit that transitively depends on
// path, plus path itself when it is a unit of its own. Returns the number of
// jobs scheduled.
func (p *Project) Dirty(path string) int {
	id := p.table.Get(path)
	if id == 0 {
		return 0
	}
	scheduled := 0
	for _, file := range p.deps.Dirty(id) {
		src, ok := p.Source(file)
		if !ok {
			// Headers have no source of their own; their dependents carry
			// them back in.
			continue
		}
		if p.coordinator.Index(src, types.IndexDirty) {
			scheduled++
		}
	}
	debug.LogIndexing("dirty %s: scheduled %d jobs\n", path, scheduled)
	return scheduled
}

// Remove purges a file from the index entirely.
func (p *Project) Remove(path string) {
	id := p.table.Get(path)
	if id == 0 {
		return
	}
	p.store.Remove(id)
	p.deps.Remove(id)
	p.mu.Lock()
	delete(p.sources, id)
	p.mu.Unlock()
}

// IsIndexing reports whether parse jobs are running or queued.
func (p *Project) IsIndexing() bool {
	return p.coordinator.IsIndexing()
}

// ToggleSuspend flips a file's suspension by path and reports the new state.
func (p *Project) ToggleSuspend(path string) (bool, bool) {
	id := p.table.Get(path)
	if id == 0 {
		return false, false
	}
	return p.coordinator.ToggleSuspend(id), true
}

// ClearSuspended un-suspends every file.
func (p *Project) ClearSuspended() {
	p.coordinator.ClearSuspended()
}

// SuspendedFiles returns the suspended paths.
func (p *Project) SuspendedFiles() []string {
	ids := p.coordinator.SuspendedFiles()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if path := p.table.Lookup(id); path != "" {
			out = append(out, path)
		}
	}
	return out
}

// FixIts returns the fix-its recorded for a path.
func (p *Project) FixIts(path string) []types.FixIt {
	id := p.table.Get(path)
	if id == 0 {
		return nil
	}
	return p.syncer.FixIts(id)
}

// Save writes the blob atomically. Serialized so a timer-driven save and a
// shutdown save cannot interleave.
func (p *Project) Save() error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	if err := os.MkdirAll(p.dbDir, 0755); err != nil {
		return err
	}

	paths, nextID := p.table.Snapshot()
	p.mu.Lock()
	sources := make(map[types.FileID]types.Source, len(p.sources))
	for id, src := range p.sources {
		sources[id] = src
	}
	p.mu.Unlock()

	img := &persist.Image{
		Paths:      paths,
		NextFileID: nextID,
		Store:      p.store.Export(),
		Deps:       p.deps.Snapshot(),
		Sources:    sources,
	}
	return persist.Save(filepath.Join(p.dbDir, DBFileName), img)
}

// WriteMeta records the project root and compilation database next to the
// blob.
func (p *Project) WriteMeta(compilationDB string) error {
	if err := os.MkdirAll(p.dbDir, 0755); err != nil {
		return err
	}
	return config.SaveMeta(filepath.Join(p.dbDir, MetaFileName), &config.ProjectMeta{
		Root:                p.cfg.Project.Root,
		CompilationDatabase: compilationDB,
	})
}

// Close drains the coordinator, flushes staged results and writes the final
// save.
func (p *Project) Close() error {
	if p.watcher != nil {
		if err := p.watcher.Stop(); err != nil {
			log.Printf("watcher stop: %v", err)
		}
	}
	p.coordinator.Shutdown(p.cfg.Index.ShutdownGrace)
	return p.Save()
}

// watchFile extends the watch set when the sync engine discovers a file.
func (p *Project) watchFile(file types.FileID) {
	if p.watcher == nil {
		return
	}
	if path := p.table.Lookup(file); path != "" {
		p.watcher.Watch(path)
	}
}

func (p *Project) onFileChanged(path string) {
	p.Dirty(path)
}

func (p *Project) onFileRemoved(path string) {
	p.Remove(path)
}

func languageFor(path string) types.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c":
		return types.LanguageC
	case ".h", ".hh", ".hpp", ".hxx":
		return types.LanguageHeader
	default:
		return types.LanguageCPP
	}
}
