package indexer

import (
	"sync"
	"time"

	"github.com/standardbeagle/rindex/internal/debug"
	"github.com/standardbeagle/rindex/internal/depgraph"
	"github.com/standardbeagle/rindex/internal/store"
	"github.com/standardbeagle/rindex/internal/types"
)

// Syncer merges completed parse results into the symbol store. Results are
// staged per file and merged in one debounced pass after the last job
// finishes, so a burst of jobs costs one pass. Passes are serialized; at most
// one runs at any time.
type Syncer struct {
	store *store.Store
	deps  *depgraph.Graph

	debounce      time.Duration
	saveThreshold int
	saveInterval  time.Duration

	mu          sync.Mutex
	pendingData map[types.FileID]*types.IndexData
	fixits      map[types.FileID][]types.FixIt
	timer       *time.Timer

	syncedSinceSave int
	lastSave        time.Time

	// syncMu serializes sync passes.
	syncMu sync.Mutex

	onSave         func() error
	onWatch        func(types.FileID)
	onSyncComplete func()

	clock func() time.Time
}

// SyncerOptions tunes the syncer; zero values take the defaults.
type SyncerOptions struct {
	Debounce      time.Duration
	SaveThreshold int
	SaveInterval  time.Duration

	// OnSave is invoked when enough work has accumulated; an error leaves the
	// save pending so the next pass retries it.
	OnSave func() error

	// OnWatch is invoked for every file a sync pass discovers, so the caller
	// can extend its watch set.
	OnWatch func(types.FileID)
}

// NewSyncer creates a syncer merging into the given store and graph.
func NewSyncer(st *store.Store, deps *depgraph.Graph, opts SyncerOptions) *Syncer {
	if opts.Debounce <= 0 {
		opts.Debounce = types.DefaultSyncDebounce
	}
	if opts.SaveThreshold <= 0 {
		opts.SaveThreshold = types.DefaultSaveThreshold
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = types.DefaultSaveInterval
	}
	return &Syncer{
		store:         st,
		deps:          deps,
		debounce:      opts.Debounce,
		saveThreshold: opts.SaveThreshold,
		saveInterval:  opts.SaveInterval,
		pendingData:   make(map[types.FileID]*types.IndexData),
		fixits:        make(map[types.FileID][]types.FixIt),
		lastSave:      time.Now(),
		onSave:        opts.OnSave,
		onWatch:       opts.OnWatch,
		clock:         time.Now,
	}
}

// Enqueue stages a finished job's result, keyed by its primary file, and
// re-arms the debounce timer. A newer result for the same file replaces the
// staged one.
func (s *Syncer) Enqueue(data *types.IndexData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingData[data.File] = data

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.Sync)
	debug.LogSync("staged results for file %d (pending: %d)\n", data.File, len(s.pendingData))
}

// PendingCount returns the number of staged result bundles.
func (s *Syncer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingData)
}

// Sync runs one merge pass over everything staged so far. Jobs finishing
// while the pass runs queue for the next one.
func (s *Syncer) Sync() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	pending := s.pendingData
	s.pendingData = make(map[types.FileID]*types.IndexData)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	callback := s.onSyncComplete
	s.mu.Unlock()

	if len(pending) == 0 {
		if callback != nil {
			callback()
		}
		return
	}

	start := s.clock()
	synced := 0
	for file, data := range pending {
		// A translation unit carries cursors for every file it visited, not
		// just its primary source; each visited file gets its own atomic
		// batch so readers never see a torn state.
		byFile := make(map[types.FileID]map[types.Location]*types.CursorInfo)
		for visited := range data.Visited {
			byFile[visited] = make(map[types.Location]*types.CursorInfo)
		}
		for loc, ci := range data.Symbols {
			batch := byFile[loc.File]
			if batch == nil {
				batch = make(map[types.Location]*types.CursorInfo)
				byFile[loc.File] = batch
			}
			batch[loc] = ci
		}
		for batchFile, batch := range byFile {
			s.store.InsertBatch(batchFile, batch, start)
			synced++
		}

		s.deps.Set(file, data.Dependencies)

		s.mu.Lock()
		for fixFile, fixits := range data.FixIts {
			s.fixits[fixFile] = fixits
		}
		s.mu.Unlock()

		if s.onWatch != nil {
			s.onWatch(file)
			for dep := range data.Dependencies {
				s.onWatch(dep)
			}
		}
	}

	debug.LogSync("merged %d files in %v\n", synced, s.clock().Sub(start))

	s.maybeSave(synced)

	if callback != nil {
		callback()
	}
}

// Flush forces a sync pass immediately, bypassing the debounce.
func (s *Syncer) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.Sync()
}

// Shutdown stops the debounce timer without syncing; callers flush first if
// staged results must survive.
func (s *Syncer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// FixIts returns the compiler-suggested edits recorded for a file.
func (s *Syncer) FixIts(file types.FileID) []types.FixIt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.FixIt(nil), s.fixits[file]...)
}

// SetOnSyncComplete sets a callback invoked after each pass (for testing).
func (s *Syncer) SetOnSyncComplete(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSyncComplete = callback
}

// maybeSave requests a save once enough files have been synced or enough
// time has passed. Save failures leave the counters untouched so the next
// pass retries.
func (s *Syncer) maybeSave(synced int) {
	if s.onSave == nil {
		return
	}
	s.mu.Lock()
	s.syncedSinceSave += synced
	due := s.syncedSinceSave >= s.saveThreshold || s.clock().Sub(s.lastSave) >= s.saveInterval
	s.mu.Unlock()

	if !due {
		return
	}
	if err := s.onSave(); err != nil {
		debug.LogSync("save failed, will retry: %v\n", err)
		return
	}
	s.mu.Lock()
	s.syncedSinceSave = 0
	s.lastSave = s.clock()
	s.mu.Unlock()
}
