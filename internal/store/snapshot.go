package store

import (
	"sort"
	"time"

	"github.com/standardbeagle/rindex/internal/types"
)

// Snapshot is a deep copy of the store's maps in persistence-friendly form.
type Snapshot struct {
	Symbols map[types.Location]*types.CursorInfo
	Names   map[string][]types.Location
	Usrs    map[string][]types.Location
	Files   map[types.FileID]types.FileInfo
}

// Export copies the store contents under the read lock.
func (s *Store) Export() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Symbols: make(map[types.Location]*types.CursorInfo, len(s.symbols)),
		Names:   make(map[string][]types.Location, len(s.names)),
		Usrs:    make(map[string][]types.Location, len(s.usrs)),
		Files:   make(map[types.FileID]types.FileInfo, len(s.files)),
	}
	for loc, ci := range s.symbols {
		snap.Symbols[loc] = ci.Clone()
	}
	for name, set := range s.names {
		snap.Names[name] = sortedLocs(set)
	}
	for usr, set := range s.usrs {
		snap.Usrs[usr] = sortedLocs(set)
	}
	for id, fi := range s.files {
		names := make(map[string]bool, len(fi.SymbolNames))
		for n := range fi.SymbolNames {
			names[n] = true
		}
		snap.Files[id] = types.FileInfo{LastIndexed: fi.LastIndexed, SymbolNames: names}
	}
	return snap
}

// Import replaces the store contents from a snapshot. Derived per-file
// ordering is rebuilt rather than trusted from disk.
func (s *Store) Import(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.symbols = make(map[types.Location]*types.CursorInfo, len(snap.Symbols))
	s.fileLocs = make(map[types.FileID][]types.Location)
	s.names = make(map[string]map[types.Location]bool, len(snap.Names))
	s.usrs = make(map[string]map[types.Location]bool, len(snap.Usrs))
	s.files = make(map[types.FileID]*types.FileInfo, len(snap.Files))

	byFile := make(map[types.FileID]map[types.Location]*types.CursorInfo)
	for loc, ci := range snap.Symbols {
		s.symbols[loc] = ci.Clone()
		batch := byFile[loc.File]
		if batch == nil {
			batch = make(map[types.Location]*types.CursorInfo)
			byFile[loc.File] = batch
		}
		batch[loc] = ci
	}
	for file, batch := range byFile {
		locs := make([]types.Location, 0, len(batch))
		for loc := range batch {
			locs = append(locs, loc)
		}
		sortLocSlice(locs)
		s.fileLocs[file] = locs
	}
	for name, locs := range snap.Names {
		for _, loc := range locs {
			s.addToSet(s.names, name, loc)
		}
	}
	for usr, locs := range snap.Usrs {
		for _, loc := range locs {
			s.addToSet(s.usrs, usr, loc)
		}
	}
	for id, fi := range snap.Files {
		names := make(map[string]bool, len(fi.SymbolNames))
		for n := range fi.SymbolNames {
			names[n] = true
		}
		s.files[id] = &types.FileInfo{LastIndexed: fi.LastIndexed, SymbolNames: names}
	}
}

// Equal reports whether two snapshots carry the same maps. Used by round-trip
// tests; timestamps compare at second precision because the blob stores unix
// seconds.
func (a *Snapshot) Equal(b *Snapshot) bool {
	if len(a.Symbols) != len(b.Symbols) || len(a.Names) != len(b.Names) ||
		len(a.Usrs) != len(b.Usrs) || len(a.Files) != len(b.Files) {
		return false
	}
	for loc, ci := range a.Symbols {
		other, ok := b.Symbols[loc]
		if !ok || !cursorEqual(ci, other) {
			return false
		}
	}
	for name, locs := range a.Names {
		if !locSliceEqual(locs, b.Names[name]) {
			return false
		}
	}
	for usr, locs := range a.Usrs {
		if !locSliceEqual(locs, b.Usrs[usr]) {
			return false
		}
	}
	for id, fi := range a.Files {
		other, ok := b.Files[id]
		if !ok || !fi.LastIndexed.Truncate(time.Second).Equal(other.LastIndexed.Truncate(time.Second)) {
			return false
		}
		if len(fi.SymbolNames) != len(other.SymbolNames) {
			return false
		}
		for n := range fi.SymbolNames {
			if !other.SymbolNames[n] {
				return false
			}
		}
	}
	return true
}

func cursorEqual(a, b *types.CursorInfo) bool {
	if a.Kind != b.Kind || a.SymbolName != b.SymbolName || a.USR != b.USR ||
		a.Start != b.Start || a.End != b.End || a.EnclosingClass != b.EnclosingClass {
		return false
	}
	if len(a.Targets) != len(b.Targets) || len(a.References) != len(b.References) ||
		len(a.BaseClasses) != len(b.BaseClasses) {
		return false
	}
	for loc := range a.Targets {
		if !b.Targets[loc] {
			return false
		}
	}
	for loc := range a.References {
		if !b.References[loc] {
			return false
		}
	}
	for i, base := range a.BaseClasses {
		if b.BaseClasses[i] != base {
			return false
		}
	}
	return true
}

func locSliceEqual(a, b []types.Location) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortLocSlice(locs []types.Location) {
	sort.Slice(locs, func(i, j int) bool { return locs[i].Less(locs[j]) })
}
