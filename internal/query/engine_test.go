package query

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/store"
	"github.com/standardbeagle/rindex/internal/types"
)

// fixture mirrors the canonical two-file program:
//
//	a.h:   int foo();            (declaration at 1:5)
//	b.cpp: int foo() { ... }     (definition at 1:5)
//	       foo();                (call at 3:1)
//
// plus a class hierarchy class A{}; class B : public A {};
type fixture struct {
	table *location.Table
	store *store.Store
	eng   *Engine

	header types.FileID
	source types.FileID

	declLoc types.Location
	defLoc  types.Location
	callLoc types.Location

	classALoc types.Location
	classBLoc types.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "a.h")
	sourcePath := filepath.Join(dir, "b.cpp")
	require.NoError(t, os.WriteFile(headerPath, []byte("int foo();\n"), 0644))
	require.NoError(t, os.WriteFile(sourcePath, []byte("int foo() {}\n\nfoo();\n"), 0644))

	f := &fixture{table: location.NewTable(), store: store.New()}
	f.header = f.table.Intern(headerPath)
	f.source = f.table.Intern(sourcePath)

	f.declLoc = types.Location{File: f.header, Line: 1, Column: 5}
	f.defLoc = types.Location{File: f.source, Line: 1, Column: 5}
	f.callLoc = types.Location{File: f.source, Line: 3, Column: 1}
	f.classALoc = types.Location{File: f.header, Line: 5, Column: 7}
	f.classBLoc = types.Location{File: f.header, Line: 6, Column: 7}

	decl := types.NewCursorInfo(types.CursorDeclaration, "foo()", "c:@F@foo#")
	decl.Start, decl.End = 4, 7
	decl.References[f.callLoc] = true

	classA := types.NewCursorInfo(types.CursorClassDefinition, "A", "c:@S@A")
	classA.Start, classA.End = 40, 41
	classB := types.NewCursorInfo(types.CursorClassDefinition, "B", "c:@S@B")
	classB.Start, classB.End = 50, 51
	classB.BaseClasses = []string{"c:@S@A"}

	f.store.InsertBatch(f.header, map[types.Location]*types.CursorInfo{
		f.declLoc:   decl,
		f.classALoc: classA,
		f.classBLoc: classB,
	}, time.Now())

	def := types.NewCursorInfo(types.CursorDefinition, "foo()", "c:@F@foo#")
	def.Start, def.End = 4, 7
	call := types.NewCursorInfo(types.CursorReference, "foo", "c:@F@foo#")
	call.Start, call.End = 14, 17
	call.Targets[f.declLoc] = true

	f.store.InsertBatch(f.source, map[types.Location]*types.CursorInfo{
		f.defLoc:  def,
		f.callLoc: call,
	}, time.Now())

	f.eng = NewEngine(f.store, f.table)
	return f
}

// Scenario: follow on the call site resolves to the declaration.
func TestFollowReference(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, f.declLoc, f.eng.Follow(f.callLoc))
}

// Follow in the middle of the call identifier still resolves.
func TestFollowClampsToCursor(t *testing.T) {
	f := newFixture(t)
	mid := f.callLoc
	mid.Column += 2
	assert.Equal(t, f.declLoc, f.eng.Follow(mid))
}

// A definition with no explicit target jumps to the declaration through the
// USR map, and vice versa.
func TestFollowDefinitionDeclaration(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, f.declLoc, f.eng.Follow(f.defLoc))
	assert.Equal(t, f.defLoc, f.eng.Follow(f.declLoc))
}

func TestFollowUnknownLocation(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.eng.Follow(types.Location{File: 99, Line: 1, Column: 1}).IsNull())
	assert.True(t, f.eng.Follow(types.NullLocation).IsNull())
}

// References from the declaration lists the call, not the declaration
// itself.
func TestReferences(t *testing.T) {
	f := newFixture(t)
	refs := f.eng.References(f.declLoc)
	assert.Equal(t, []types.Location{f.callLoc}, refs)
}

// References gathered by USR equivalence: querying the definition finds the
// references recorded on the declaration.
func TestReferencesViaUsr(t *testing.T) {
	f := newFixture(t)
	refs := f.eng.References(f.defLoc)
	assert.Equal(t, []types.Location{f.callLoc}, refs)
}

func TestAllReferences(t *testing.T) {
	f := newFixture(t)
	all := f.eng.AllReferences(f.callLoc)
	assert.Equal(t, []types.Location{f.declLoc, f.defLoc, f.callLoc}, all)
}

func TestFindSymbolExactAndPattern(t *testing.T) {
	f := newFixture(t)

	locs := f.eng.FindSymbol("foo()")
	assert.Equal(t, []types.Location{f.declLoc, f.defLoc}, locs)

	assert.Equal(t, locs, f.eng.FindSymbol("foo*"))
	assert.Empty(t, f.eng.FindSymbol("nothere"))
}

// Scenario: list-symbols with a prefix.
func TestListSymbols(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"foo()"}, f.eng.ListSymbols("fo", 0))
	assert.Equal(t, []string{"A", "B", "foo()"}, f.eng.ListSymbols("", 0))
	assert.Equal(t, []string{"A"}, f.eng.ListSymbols("", 1))
}

// Scenario: super/subs over class B : public A.
func TestFindSuperAndSubs(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, f.classALoc, f.eng.FindSuper(f.classBLoc))
	assert.True(t, f.eng.FindSuper(f.classALoc).IsNull())

	subs := f.eng.FindSubs(f.classALoc)
	assert.Equal(t, []types.Location{f.classBLoc}, subs)
	assert.Empty(t, f.eng.FindSubs(f.classBLoc))
}

func TestFiles(t *testing.T) {
	f := newFixture(t)
	all := f.eng.Files("")
	assert.Len(t, all, 2)
	matches := f.eng.Files("b.cpp")
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0], "b.cpp")
	assert.Empty(t, f.eng.Files("zzz"))
}

func TestResolveLocationOrName(t *testing.T) {
	f := newFixture(t)

	headerPath := f.table.Lookup(f.header)
	locs, byName := f.eng.Resolve(headerPath + ":1:5")
	require.False(t, byName)
	assert.Equal(t, []types.Location{f.declLoc}, locs)

	locs, byName = f.eng.Resolve("foo()")
	require.True(t, byName)
	assert.Equal(t, []types.Location{f.declLoc, f.defLoc}, locs)
}

func TestSuggest(t *testing.T) {
	f := newFixture(t)
	// A near-miss should surface the real name.
	assert.Contains(t, f.eng.Suggest("fop()"), "foo()")
}

func TestPickBestPrefersSameFile(t *testing.T) {
	from := types.Location{File: 2, Line: 10, Column: 1}
	candidates := []types.Location{
		{File: 1, Line: 1, Column: 1},
		{File: 2, Line: 50, Column: 1},
	}
	assert.Equal(t, candidates[1], pickBest(candidates, from))

	// Without a same-file candidate, the smallest triple wins.
	candidates = []types.Location{
		{File: 3, Line: 9, Column: 9},
		{File: 1, Line: 1, Column: 1},
	}
	assert.Equal(t, candidates[1], pickBest(candidates, types.Location{File: 7, Line: 1, Column: 1}))
}
