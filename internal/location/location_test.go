package location

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/rindex/internal/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	locs := []types.Location{
		{File: 1, Line: 1, Column: 1},
		{File: 42, Line: 1000, Column: 80},
		{File: 0xFFFFFFFF, Line: 0xFFFFFFFF, Column: 0xFFFFFFFF},
		types.NullLocation,
	}
	for _, loc := range locs {
		enc := Encode(loc)
		assert.Equal(t, loc, Decode(enc[:]), "round trip for %v", loc)
	}
}

func TestDecodeShortInput(t *testing.T) {
	assert.Equal(t, types.NullLocation, Decode([]byte{1, 2, 3}))
	assert.Equal(t, types.NullLocation, Decode(nil))
}

// TestInternBijection checks that interning is a bijection over canonical
// paths: same canonical path, same id; lookup returns the canonical form.
func TestInternBijection(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.cpp")
	require.NoError(t, os.WriteFile(file, []byte("int x;\n"), 0644))

	table := NewTable()

	id := table.Intern(file)
	require.NotZero(t, id)

	// Non-canonical spellings of the same path intern to the same id.
	assert.Equal(t, id, table.Intern(filepath.Join(dir, ".", "a.cpp")))
	assert.Equal(t, id, table.Intern(filepath.Join(dir, "sub", "..", "a.cpp")))

	assert.Equal(t, Canonical(file), table.Lookup(id))

	other := filepath.Join(dir, "b.cpp")
	require.NoError(t, os.WriteFile(other, []byte("int y;\n"), 0644))
	otherID := table.Intern(other)
	assert.NotEqual(t, id, otherID)
}

func TestInternSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.h")
	require.NoError(t, os.WriteFile(target, []byte("#pragma once\n"), 0644))
	link := filepath.Join(dir, "link.h")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	table := NewTable()
	assert.Equal(t, table.Intern(target), table.Intern(link))
}

func TestGetDoesNotAllocate(t *testing.T) {
	table := NewTable()
	assert.Zero(t, table.Get("/nonexistent/file.cpp"))
	assert.Equal(t, 0, table.Size())
}

func TestSnapshotRestore(t *testing.T) {
	table := NewTable()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.cpp")
	b := filepath.Join(dir, "b.cpp")
	require.NoError(t, os.WriteFile(a, nil, 0644))
	require.NoError(t, os.WriteFile(b, nil, 0644))

	idA := table.Intern(a)
	idB := table.Intern(b)

	paths, next := table.Snapshot()

	restored := NewTable()
	restored.Restore(paths, next)
	assert.Equal(t, table.Lookup(idA), restored.Lookup(idA))
	assert.Equal(t, table.Lookup(idB), restored.Lookup(idB))
	assert.Equal(t, idA, restored.Intern(a))

	// Ids are never reused: a new path gets a fresh id after restore.
	c := filepath.Join(dir, "c.cpp")
	require.NoError(t, os.WriteFile(c, nil, 0644))
	idC := restored.Intern(c)
	assert.Greater(t, idC, idB)
}

func TestSplitUserLocation(t *testing.T) {
	tests := []struct {
		arg    string
		path   string
		line   uint32
		column uint32
		ok     bool
	}{
		{"/t/a.cpp:1:29", "/t/a.cpp", 1, 29, true},
		{"/t/a.cpp:12", "/t/a.cpp", 12, 1, true},
		{"foo.cpp:3:4", "foo.cpp", 3, 4, true},
		{"noline.cpp", "", 0, 0, false},
		{"bad:0:1", "", 0, 0, false},
		{"x:y:z", "", 0, 0, false},
		{"", "", 0, 0, false},
	}
	for _, tt := range tests {
		path, line, column, ok := SplitUserLocation(tt.arg)
		assert.Equal(t, tt.ok, ok, "arg %q", tt.arg)
		if tt.ok {
			assert.Equal(t, tt.path, path, "arg %q", tt.arg)
			assert.Equal(t, tt.line, line, "arg %q", tt.arg)
			assert.Equal(t, tt.column, column, "arg %q", tt.arg)
		}
	}
}

// TestParseUserLocationUnknownPath verifies the invalid-location sentinel for
// paths the index has never seen, so callers can fall back to name lookup.
func TestParseUserLocationUnknownPath(t *testing.T) {
	table := NewTable()
	assert.True(t, table.ParseUserLocation("/never/indexed.cpp:3:1").IsNull())
	assert.True(t, table.ParseUserLocation("garbage").IsNull())
}

func TestParseUserLocationKnownPath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.cpp")
	require.NoError(t, os.WriteFile(file, []byte("int x;\n"), 0644))

	table := NewTable()
	id := table.Intern(file)

	loc := table.ParseUserLocation(file + ":3:7")
	assert.Equal(t, types.Location{File: id, Line: 3, Column: 7}, loc)
}
