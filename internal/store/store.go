// Package store holds the in-memory symbol database: the ordered location map
// and the name, USR and file indexes derived from it. All mutation funnels
// through InsertBatch and Remove, which keep the targets/references relation
// symmetric; everything else is read-only under the shared lock.
package store

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/rindex/internal/types"
)

// Entry pairs a location with its cursor for ordered scans.
type Entry struct {
	Location types.Location
	Info     *types.CursorInfo
}

// Store is the thread-safe symbol container. Queries take the read lock;
// InsertBatch, Remove and Import take the write lock.
type Store struct {
	mu sync.RWMutex

	// symbols is the Location → CursorInfo map; fileLocs keeps each file's
	// locations sorted by (line, column) so per-file scans are contiguous.
	symbols  map[types.Location]*types.CursorInfo
	fileLocs map[types.FileID][]types.Location

	names map[string]map[types.Location]bool
	usrs  map[string]map[types.Location]bool
	files map[types.FileID]*types.FileInfo
}

// New returns an empty store.
func New() *Store {
	return &Store{
		symbols:  make(map[types.Location]*types.CursorInfo),
		fileLocs: make(map[types.FileID][]types.Location),
		names:    make(map[string]map[types.Location]bool),
		usrs:     make(map[string]map[types.Location]bool),
		files:    make(map[types.FileID]*types.FileInfo),
	}
}

// Size returns the number of indexed cursors.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}

// Get returns a copy of the cursor stored exactly at loc.
func (s *Store) Get(loc types.Location) (*types.CursorInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ci, ok := s.symbols[loc]
	if !ok {
		return nil, false
	}
	return ci.Clone(), true
}

// GetAt resolves loc to a stored cursor, clamping to the cursor that covers
// the position when there is no exact entry. A query at the middle of an
// identifier still finds its cursor.
func (s *Store) GetAt(loc types.Location) (types.Location, *types.CursorInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ci, ok := s.symbols[loc]; ok {
		return loc, ci.Clone(), true
	}

	locs := s.fileLocs[loc.File]
	// Last location at or before loc.
	idx := sort.Search(len(locs), func(i int) bool {
		return loc.Less(locs[i])
	})
	if idx == 0 {
		return types.NullLocation, nil, false
	}
	candidate := locs[idx-1]
	if candidate.Line != loc.Line {
		return types.NullLocation, nil, false
	}
	ci := s.symbols[candidate]
	if extent := ci.End - ci.Start; extent > 0 && loc.Column >= candidate.Column+extent {
		return types.NullLocation, nil, false
	}
	return candidate, ci.Clone(), true
}

// ByUsr returns every location carrying the given USR.
func (s *Store) ByUsr(usr string) []types.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedLocs(s.usrs[usr])
}

// Find resolves a symbol-name pattern to declaration and definition
// locations. Exact match
// wins; otherwise glob syntax (and nothing regex-only) means a glob match,
// and anything else is tried as a regular expression.
func (s *Store) Find(pattern string) []types.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if set, ok := s.names[pattern]; ok {
		return sortedLocs(set)
	}

	out := make(map[types.Location]bool)
	if strings.ContainsAny(pattern, "*?[") && !strings.ContainsAny(pattern, "^$\\+|(") {
		for name, set := range s.names {
			if matched, err := doublestar.Match(pattern, name); err == nil && matched {
				for loc := range set {
					out[loc] = true
				}
			}
		}
	} else {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil
		}
		for name, set := range s.names {
			if re.MatchString(name) {
				for loc := range set {
					out[loc] = true
				}
			}
		}
	}
	return sortedLocs(out)
}

// Names returns symbol names starting with prefix, sorted, capped at limit.
// An empty prefix enumerates everything.
func (s *Store) Names(prefix string, limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, 64)
	for name := range s.names {
		if prefix == "" || strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AllNames returns every symbol name in the map, unsorted.
func (s *Store) AllNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	return out
}

// FileSymbols returns the file's entries in (line, column) order.
func (s *Store) FileSymbols(file types.FileID) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locs := s.fileLocs[file]
	out := make([]Entry, 0, len(locs))
	for _, loc := range locs {
		out = append(out, Entry{Location: loc, Info: s.symbols[loc].Clone()})
	}
	return out
}

// FileInfoFor returns the bookkeeping entry for a file.
func (s *Store) FileInfoFor(file types.FileID) (types.FileInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fi, ok := s.files[file]
	if !ok {
		return types.FileInfo{}, false
	}
	names := make(map[string]bool, len(fi.SymbolNames))
	for n := range fi.SymbolNames {
		names[n] = true
	}
	return types.FileInfo{LastIndexed: fi.LastIndexed, SymbolNames: names}, true
}

// IsIndexed reports whether the file has ever completed a sync.
func (s *Store) IsIndexed(file types.FileID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[file]
	return ok
}

// IndexedFiles returns the ids of all synced files.
func (s *Store) IndexedFiles() []types.FileID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.FileID, 0, len(s.files))
	for id := range s.files {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindSubclasses scans for class cursors whose base classes include usr and
// returns their locations sorted.
func (s *Store) FindSubclasses(usr string) []types.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.Location]bool)
	for loc, ci := range s.symbols {
		if !ci.Kind.IsClass() {
			continue
		}
		for _, base := range ci.BaseClasses {
			if base == usr {
				out[loc] = true
				break
			}
		}
	}
	return sortedLocs(out)
}

// InsertBatch atomically replaces every entry for file with the batch. Prior
// locations for the file are purged first, including their inverse links in
// other files; then the batch is inserted and its targets/references links
// are repaired so the symmetric relation holds for every stored cursor.
//
// Batch locations must all live in file; cross-file linking happens through
// the Targets/References sets, whose far ends may name any file.
func (s *Store) InsertBatch(file types.FileID, batch map[types.Location]*types.CursorInfo, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(file)

	names := make(map[string]bool)
	locs := make([]types.Location, 0, len(batch))
	for loc, ci := range batch {
		clone := ci.Clone()
		s.symbols[loc] = clone
		locs = append(locs, loc)

		if clone.SymbolName != "" && (clone.Kind.IsDeclaration() || clone.Kind.IsDefinition()) {
			s.addToSet(s.names, clone.SymbolName, loc)
			names[clone.SymbolName] = true
		}
		if clone.USR != "" {
			s.addToSet(s.usrs, clone.USR, loc)
		}
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Less(locs[j]) })
	s.fileLocs[file] = locs

	// Repair inverse links. Only links whose far end exists are materialized;
	// a dangling far end means that file hasn't been synced yet and its own
	// batch will complete the pair.
	for loc := range batch {
		ci := s.symbols[loc]
		for target := range ci.Targets {
			if other, ok := s.symbols[target]; ok {
				other.References[loc] = true
			}
		}
		for ref := range ci.References {
			if other, ok := s.symbols[ref]; ok {
				other.Targets[loc] = true
			}
		}
	}

	s.files[file] = &types.FileInfo{LastIndexed: now, SymbolNames: names}
}

// Remove purges all entries for file and drops the inverse links pointing
// into it from every other cursor.
func (s *Store) Remove(file types.FileID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(file)
	delete(s.files, file)
}

// purgeLocked removes file's cursors from all four maps and repairs the far
// ends of their links. Caller holds the write lock.
func (s *Store) purgeLocked(file types.FileID) {
	locs := s.fileLocs[file]
	if len(locs) == 0 {
		return
	}
	for _, loc := range locs {
		ci := s.symbols[loc]
		if ci == nil {
			continue
		}
		if ci.SymbolName != "" {
			s.removeFromSet(s.names, ci.SymbolName, loc)
		}
		if ci.USR != "" {
			s.removeFromSet(s.usrs, ci.USR, loc)
		}
		for target := range ci.Targets {
			if other, ok := s.symbols[target]; ok {
				delete(other.References, loc)
			}
		}
		for ref := range ci.References {
			if other, ok := s.symbols[ref]; ok {
				delete(other.Targets, loc)
			}
		}
		delete(s.symbols, loc)
	}
	delete(s.fileLocs, file)
}

func (s *Store) addToSet(m map[string]map[types.Location]bool, key string, loc types.Location) {
	set, ok := m[key]
	if !ok {
		set = make(map[types.Location]bool)
		m[key] = set
	}
	set[loc] = true
}

func (s *Store) removeFromSet(m map[string]map[types.Location]bool, key string, loc types.Location) {
	if set, ok := m[key]; ok {
		delete(set, loc)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

func sortedLocs(set map[types.Location]bool) []types.Location {
	if len(set) == 0 {
		return nil
	}
	out := make([]types.Location, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
