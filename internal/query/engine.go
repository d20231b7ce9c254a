// Package query answers the public operations against the symbol store. All
// queries are read-only; mutation is the sync engine's business.
package query

import (
	"sort"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/rindex/internal/debug"
	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/store"
	"github.com/standardbeagle/rindex/internal/types"
)

// Engine resolves queries against a store and the path table.
type Engine struct {
	store *store.Store
	table *location.Table
}

// NewEngine creates a query engine.
func NewEngine(st *store.Store, table *location.Table) *Engine {
	return &Engine{store: st, table: table}
}

// Follow resolves loc to the location its cursor refers to: a reference goes
// to its declaration, a definition to its canonical declaration through the
// USR map, and vice versa. Ties prefer a location in the same file, then the
// smallest (file, line, column).
func (e *Engine) Follow(loc types.Location) types.Location {
	resolved, ci, ok := e.store.GetAt(loc)
	if !ok {
		return types.NullLocation
	}

	if len(ci.Targets) > 0 {
		return pickBest(setToSlice(ci.Targets), resolved)
	}

	// No explicit target: jump between declaration and definition through
	// the USR map.
	if ci.USR == "" {
		return types.NullLocation
	}
	var candidates []types.Location
	for _, other := range e.store.ByUsr(ci.USR) {
		if other == resolved {
			continue
		}
		otherInfo, ok := e.store.Get(other)
		if !ok {
			continue
		}
		switch {
		case ci.Kind.IsDefinition() && otherInfo.Kind.IsDeclaration():
			candidates = append(candidates, other)
		case ci.Kind.IsDeclaration() && otherInfo.Kind.IsDefinition():
			candidates = append(candidates, other)
		}
	}
	return pickBest(candidates, resolved)
}

// References returns the locations referring to the entity at loc, gathered
// across every location sharing its USR. The queried location itself is
// filtered out.
func (e *Engine) References(loc types.Location) []types.Location {
	resolved, ci, ok := e.store.GetAt(loc)
	if !ok {
		return nil
	}
	out := make(map[types.Location]bool)
	for _, member := range e.usrClass(resolved, ci) {
		memberInfo, ok := e.store.Get(member)
		if !ok {
			continue
		}
		for ref := range memberInfo.References {
			out[ref] = true
		}
	}
	delete(out, resolved)
	return sortedKeys(out)
}

// AllReferences returns references, declarations and definitions across
// every location sharing the USR of the entity at loc.
func (e *Engine) AllReferences(loc types.Location) []types.Location {
	resolved, ci, ok := e.store.GetAt(loc)
	if !ok {
		return nil
	}
	out := make(map[types.Location]bool)
	for _, member := range e.usrClass(resolved, ci) {
		out[member] = true
		memberInfo, ok := e.store.Get(member)
		if !ok {
			continue
		}
		for ref := range memberInfo.References {
			out[ref] = true
		}
		for target := range memberInfo.Targets {
			out[target] = true
		}
	}
	return sortedKeys(out)
}

// FindSymbol resolves a name pattern to declaration and definition locations.
func (e *Engine) FindSymbol(pattern string) []types.Location {
	return e.store.Find(pattern)
}

// ListSymbols enumerates symbol names with the given prefix, capped at
// limit (<=0 takes the default cap).
func (e *Engine) ListSymbols(prefix string, limit int) []string {
	if limit <= 0 {
		limit = types.DefaultListSymbolsLimit
	}
	return e.store.Names(prefix, limit)
}

// FindSuper returns the declaration of the superclass of the class cursor at
// loc.
func (e *Engine) FindSuper(loc types.Location) types.Location {
	resolved, ci, ok := e.store.GetAt(loc)
	if !ok {
		return types.NullLocation
	}
	// A member cursor falls back to its enclosing class.
	if !ci.Kind.IsClass() && !ci.EnclosingClass.IsNull() {
		resolved = ci.EnclosingClass
		if ci2, ok := e.store.Get(resolved); ok {
			ci = ci2
		}
	}
	var candidates []types.Location
	for _, base := range ci.BaseClasses {
		for _, baseLoc := range e.store.ByUsr(base) {
			if info, ok := e.store.Get(baseLoc); ok && info.Kind.IsClass() {
				candidates = append(candidates, baseLoc)
			}
		}
	}
	return pickBest(candidates, resolved)
}

// FindSubs returns the declarations of classes deriving from the class
// cursor at loc.
func (e *Engine) FindSubs(loc types.Location) []types.Location {
	_, ci, ok := e.store.GetAt(loc)
	if !ok || ci.USR == "" {
		return nil
	}
	return e.store.FindSubclasses(ci.USR)
}

// Files enumerates indexed paths containing the given substring; empty
// matches everything.
func (e *Engine) Files(pattern string) []string {
	paths := e.table.Paths()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if pattern == "" || strings.Contains(p, pattern) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Suggest proposes close symbol names for a pattern that matched nothing.
func (e *Engine) Suggest(name string) []string {
	names := e.store.AllNames()
	if len(names) == 0 {
		return nil
	}
	matches, err := edlib.FuzzySearchSetThreshold(name, names, 3, 0.7, edlib.Levenshtein)
	if err != nil {
		debug.LogQuery("suggestion search failed: %v\n", err)
		return nil
	}
	out := matches[:0]
	for _, m := range matches {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Resolve turns a user argument into query locations: a parseable location
// is used directly, anything else resolves through the symbol-name map.
// byName reports which path was taken, so callers can broadcast and union.
func (e *Engine) Resolve(arg string) (locs []types.Location, byName bool) {
	if loc := e.table.ParseUserLocation(arg); !loc.IsNull() {
		return []types.Location{loc}, false
	}
	return e.FindSymbol(arg), true
}

// usrClass returns every location sharing the cursor's USR, falling back to
// the cursor itself when it has none.
func (e *Engine) usrClass(resolved types.Location, ci *types.CursorInfo) []types.Location {
	if ci.USR == "" {
		return []types.Location{resolved}
	}
	class := e.store.ByUsr(ci.USR)
	if len(class) == 0 {
		return []types.Location{resolved}
	}
	return class
}

// pickBest selects from candidates preferring one in the same file as from,
// then the smallest (file, line, column).
func pickBest(candidates []types.Location, from types.Location) types.Location {
	best := types.NullLocation
	bestSameFile := false
	for _, cand := range candidates {
		sameFile := cand.File == from.File
		switch {
		case best.IsNull():
			best, bestSameFile = cand, sameFile
		case sameFile && !bestSameFile:
			best, bestSameFile = cand, true
		case sameFile == bestSameFile && cand.Less(best):
			best = cand
		}
	}
	return best
}

func setToSlice(set map[types.Location]bool) []types.Location {
	out := make([]types.Location, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	return out
}

func sortedKeys(set map[types.Location]bool) []types.Location {
	out := setToSlice(set)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

