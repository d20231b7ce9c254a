package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/standardbeagle/rindex/internal/errors"
	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func parseOne(t *testing.T, table *location.Table, path string, args []string) *types.IndexData {
	t.Helper()
	p := New(table)
	data, err := p.Parse(context.Background(), types.Source{
		File:     table.Intern(path),
		Args:     args,
		Language: types.LanguageCPP,
	})
	require.NoError(t, err)
	return data
}

// findCursor returns the first cursor matching the predicate.
func findCursor(data *types.IndexData, match func(types.Location, *types.CursorInfo) bool) (types.Location, *types.CursorInfo) {
	for loc, ci := range data.Symbols {
		if match(loc, ci) {
			return loc, ci
		}
	}
	return types.NullLocation, nil
}

func TestParseDeclarationAndCall(t *testing.T) {
	dir := t.TempDir()
	table := location.NewTable()
	path := writeFile(t, dir, "a.cpp", "int foo(); int main(){ return foo(); }\n")

	data := parseOne(t, table, path, nil)

	declLoc, decl := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.Kind == types.CursorDeclaration && ci.SymbolName == "foo()"
	})
	require.NotNil(t, decl, "declaration of foo() not extracted")
	assert.Equal(t, uint32(1), declLoc.Line)
	assert.Equal(t, uint32(5), declLoc.Column)

	_, def := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.Kind == types.CursorDefinition && ci.SymbolName == "main()"
	})
	require.NotNil(t, def, "definition of main() not extracted")

	refLoc, ref := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.Kind == types.CursorReference && ci.SymbolName == "foo"
	})
	require.NotNil(t, ref, "call reference to foo not extracted")
	assert.True(t, ref.Targets[declLoc], "reference does not target the declaration")
	assert.True(t, decl.References[refLoc], "declaration does not list the reference")
	assert.Equal(t, uint32(1), refLoc.Line)
	assert.Equal(t, uint32(31), refLoc.Column)
}

func TestParseClassHierarchy(t *testing.T) {
	dir := t.TempDir()
	table := location.NewTable()
	path := writeFile(t, dir, "classes.cpp", "class A {};\nclass B : public A {};\n")

	data := parseOne(t, table, path, nil)

	_, classA := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.SymbolName == "A" && ci.Kind == types.CursorClassDefinition
	})
	require.NotNil(t, classA)
	assert.Empty(t, classA.BaseClasses)

	_, classB := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.SymbolName == "B" && ci.Kind == types.CursorClassDefinition
	})
	require.NotNil(t, classB)
	assert.Equal(t, []string{"c:@S@A"}, classB.BaseClasses)
}

func TestParseMethodsCarryEnclosingClass(t *testing.T) {
	dir := t.TempDir()
	table := location.NewTable()
	path := writeFile(t, dir, "m.cpp", "class C {\n  void run(int n);\n};\n")

	data := parseOne(t, table, path, nil)

	classLoc, class := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.SymbolName == "C"
	})
	require.NotNil(t, class)

	_, method := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.Kind == types.CursorMethodDeclaration
	})
	require.NotNil(t, method, "method declaration not extracted")
	assert.Equal(t, "run(int)", method.SymbolName)
	assert.Equal(t, classLoc, method.EnclosingClass)
}

func TestParseEnumAndMacro(t *testing.T) {
	dir := t.TempDir()
	table := location.NewTable()
	path := writeFile(t, dir, "e.cpp", "#define LIMIT 10\nenum Color { Red, Green };\n")

	data := parseOne(t, table, path, nil)

	_, macro := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.Kind == types.CursorMacroDefinition
	})
	require.NotNil(t, macro)
	assert.Equal(t, "LIMIT", macro.SymbolName)

	_, red := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.Kind == types.CursorEnumConstant && ci.SymbolName == "Red"
	})
	require.NotNil(t, red, "enum constant Red not extracted")
}

// Includes resolve against the source's directory and become dependencies;
// declarations in the header are visible to the unit's references.
func TestParseIncludeDependencies(t *testing.T) {
	dir := t.TempDir()
	table := location.NewTable()
	writeFile(t, dir, "a.h", "int g();\n")
	path := writeFile(t, dir, "b.cpp", "#include \"a.h\"\nint main(){ return g(); }\n")

	data := parseOne(t, table, path, nil)

	headerID := table.Get(filepath.Join(dir, "a.h"))
	require.NotZero(t, headerID, "header never interned")
	assert.True(t, data.Dependencies[headerID], "header missing from dependencies")
	assert.True(t, data.Visited[headerID], "header missing from visited set")

	declLoc, decl := findCursor(data, func(loc types.Location, ci *types.CursorInfo) bool {
		return loc.File == headerID && ci.Kind == types.CursorDeclaration && ci.SymbolName == "g()"
	})
	require.NotNil(t, decl, "header declaration not extracted")

	_, ref := findCursor(data, func(_ types.Location, ci *types.CursorInfo) bool {
		return ci.Kind == types.CursorReference && ci.SymbolName == "g"
	})
	require.NotNil(t, ref, "call into header not linked")
	assert.True(t, ref.Targets[declLoc])
}

func TestParseIncludeDirFlag(t *testing.T) {
	dir := t.TempDir()
	incDir := filepath.Join(dir, "include")
	require.NoError(t, os.MkdirAll(incDir, 0755))
	table := location.NewTable()
	writeFile(t, incDir, "lib.h", "int h();\n")
	path := writeFile(t, dir, "c.cpp", "#include \"lib.h\"\nint main(){ return h(); }\n")

	data := parseOne(t, table, path, []string{"-I" + incDir})

	headerID := table.Get(filepath.Join(incDir, "lib.h"))
	require.NotZero(t, headerID)
	assert.True(t, data.Dependencies[headerID])
}

func TestParseSystemIncludeSkipped(t *testing.T) {
	dir := t.TempDir()
	table := location.NewTable()
	path := writeFile(t, dir, "s.cpp", "#include <vector>\nint main(){ return 0; }\n")

	data := parseOne(t, table, path, nil)
	assert.Empty(t, data.Dependencies)
}

func TestParseUnreadableSource(t *testing.T) {
	table := location.NewTable()
	missing := filepath.Join(t.TempDir(), "gone.cpp")
	// Intern without creating the file: it disappeared between enqueue and
	// parse.
	id := table.Intern(missing)

	p := New(table)
	_, err := p.Parse(context.Background(), types.Source{File: id, Language: types.LanguageCPP})
	var srcErr *rerrors.SourceError
	assert.ErrorAs(t, err, &srcErr)
}

func TestParseCancelled(t *testing.T) {
	dir := t.TempDir()
	table := location.NewTable()
	path := writeFile(t, dir, "x.cpp", "int x;\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(table)
	_, err := p.Parse(ctx, types.Source{File: table.Intern(path), Language: types.LanguageCPP})
	assert.ErrorIs(t, err, context.Canceled)
}
