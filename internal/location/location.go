// Package location owns the path-interning bijection and the fixed-width
// location codec. Every other component talks about files through FileIDs
// issued here; the table is the sole authority for turning a location back
// into a path.
package location

import (
	"encoding/binary"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/standardbeagle/rindex/internal/types"
)

// EncodedSize is the fixed width of an encoded location: 4 bytes each for
// file, line and column, little-endian.
const EncodedSize = 12

// Encode writes a location into its dense 12-byte form.
func Encode(loc types.Location) [EncodedSize]byte {
	var buf [EncodedSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(loc.File))
	binary.LittleEndian.PutUint32(buf[4:8], loc.Line)
	binary.LittleEndian.PutUint32(buf[8:12], loc.Column)
	return buf
}

// Decode reads a location from its dense form. Short input yields the null
// location.
func Decode(buf []byte) types.Location {
	if len(buf) < EncodedSize {
		return types.NullLocation
	}
	return types.Location{
		File:   types.FileID(binary.LittleEndian.Uint32(buf[0:4])),
		Line:   binary.LittleEndian.Uint32(buf[4:8]),
		Column: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// Table is the process-wide path↔FileID bijection. IDs start at 1 and are
// never reused; the mapping round-trips through the database blob so IDs
// survive restart.
type Table struct {
	mu     sync.RWMutex
	byPath map[string]types.FileID
	byID   map[types.FileID]string
	nextID types.FileID
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		byPath: make(map[string]types.FileID),
		byID:   make(map[types.FileID]string),
		nextID: 1,
	}
}

// Canonical returns the canonical form of a path: absolute, cleaned, symlinks
// resolved when the file exists.
func Canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return filepath.Clean(abs)
}

// Intern returns the FileID for the canonical form of path, allocating a new
// ID on first sight.
func (t *Table) Intern(path string) types.FileID {
	canonical := Canonical(path)

	t.mu.RLock()
	id, ok := t.byPath[canonical]
	t.mu.RUnlock()
	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byPath[canonical]; ok {
		return id
	}
	id = t.nextID
	t.nextID++
	t.byPath[canonical] = id
	t.byID[id] = canonical
	return id
}

// Get returns the FileID already assigned to path, or zero if the path has
// never been interned. Unlike Intern it does not allocate.
func (t *Table) Get(path string) types.FileID {
	canonical := Canonical(path)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byPath[canonical]
}

// Lookup resolves a FileID back to its canonical path. Unknown IDs yield "".
func (t *Table) Lookup(id types.FileID) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// Paths returns every interned path keyed by id.
func (t *Table) Paths() map[types.FileID]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[types.FileID]string, len(t.byID))
	for id, p := range t.byID {
		out[id] = p
	}
	return out
}

// Size returns the number of interned paths.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Snapshot returns the bijection and the next free ID for persistence.
func (t *Table) Snapshot() (map[types.FileID]string, types.FileID) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make(map[types.FileID]string, len(t.byID))
	for id, p := range t.byID {
		paths[id] = p
	}
	return paths, t.nextID
}

// Restore replaces the table contents from a persisted snapshot.
func (t *Table) Restore(paths map[types.FileID]string, nextID types.FileID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPath = make(map[string]types.FileID, len(paths))
	t.byID = make(map[types.FileID]string, len(paths))
	max := types.FileID(0)
	for id, p := range paths {
		t.byPath[p] = id
		t.byID[id] = p
		if id > max {
			max = id
		}
	}
	t.nextID = nextID
	if t.nextID <= max {
		t.nextID = max + 1
	}
	if t.nextID == 0 {
		t.nextID = 1
	}
}

// ParseUserLocation parses "path:line:column" or "path:line" (column defaults
// to 1). The path must already be indexed; malformed strings and unknown
// paths yield the null location so the caller can fall back to name-based
// resolution.
func (t *Table) ParseUserLocation(arg string) types.Location {
	path, line, column, ok := SplitUserLocation(arg)
	if !ok {
		return types.NullLocation
	}
	id := t.Get(path)
	if id == 0 {
		return types.NullLocation
	}
	return types.Location{File: id, Line: line, Column: column}
}

// SplitUserLocation splits a user location string without consulting the
// table. Accepts "path:line:column" and "path:line".
func SplitUserLocation(arg string) (path string, line, column uint32, ok bool) {
	column = 1

	idx := strings.LastIndexByte(arg, ':')
	if idx <= 0 || idx == len(arg)-1 {
		return "", 0, 0, false
	}
	last, err := strconv.ParseUint(arg[idx+1:], 10, 32)
	if err != nil || last == 0 {
		return "", 0, 0, false
	}
	rest := arg[:idx]

	idx2 := strings.LastIndexByte(rest, ':')
	if idx2 > 0 && idx2 < len(rest)-1 {
		if second, err := strconv.ParseUint(rest[idx2+1:], 10, 32); err == nil {
			if second == 0 {
				return "", 0, 0, false
			}
			// path:line:column
			return rest[:idx2], uint32(second), uint32(last), true
		}
	}

	// path:line
	return rest, uint32(last), column, true
}
