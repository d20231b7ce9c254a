// Package parser is the C/C++ front-end adapter. It parses a compilation
// unit with tree-sitter, follows quoted includes, and produces the result
// bundle the coordinator expects: cursors with their targets/references
// links, the dependency set, and the visited-file set.
package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"

	"github.com/standardbeagle/rindex/internal/debug"
	rerrors "github.com/standardbeagle/rindex/internal/errors"
	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/types"
)

// CXXParser parses C/C++ translation units. Safe for concurrent use: each
// Parse call builds its own tree-sitter parser, which is not shareable.
type CXXParser struct {
	table *location.Table
	lang  *tree_sitter.Language
}

// New creates a parser interning paths through table.
func New(table *location.Table) *CXXParser {
	return &CXXParser{
		table: table,
		lang:  tree_sitter.NewLanguage(tree_sitter_cpp.Language()),
	}
}

// tuState accumulates one translation unit's worth of extraction.
type tuState struct {
	data     *types.IndexData
	includes []string // -I directories from the source's arguments

	// decls maps a base symbol name to its declarations and definitions
	// across every visited file, for reference linking.
	decls map[string][]declSite
	calls []callSite
}

type declSite struct {
	loc  types.Location
	usr  string
	kind types.CursorKind
}

type callSite struct {
	loc   types.Location
	name  string
	start uint32
	end   uint32
}

// Parse runs the front-end over one compilation unit.
func (p *CXXParser) Parse(ctx context.Context, src types.Source) (*types.IndexData, error) {
	path := p.table.Lookup(src.File)
	if path == "" {
		return nil, rerrors.NewUnreadableSource(src.File, "", os.ErrNotExist)
	}

	st := &tuState{
		data:     types.NewIndexData(src.File),
		includes: includeDirs(src.Args),
		decls:    make(map[string][]declSite),
	}

	if err := p.parseFile(ctx, st, src.File, path, true); err != nil {
		return nil, err
	}

	p.linkReferences(st)

	debug.LogIndexing("parsed %s: %d cursors, %d dependencies\n",
		path, len(st.data.Symbols), len(st.data.Dependencies))
	return st.data, nil
}

// parseFile parses one file of the unit and recurses into its quoted
// includes. Include failures in headers are tolerated; only the primary
// source must be readable.
func (p *CXXParser) parseFile(ctx context.Context, st *tuState, file types.FileID, path string, primary bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if primary {
			return rerrors.NewUnreadableSource(file, path, err)
		}
		debug.LogIndexing("skipping unreadable header %s: %v\n", path, err)
		return nil
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(p.lang); err != nil {
		return err
	}
	tree := parser.Parse(content, nil)
	if tree == nil {
		return rerrors.NewUnreadableSource(file, path, os.ErrInvalid)
	}
	defer tree.Close()

	st.data.Visited[file] = true

	root := tree.RootNode()
	w := &fileWalker{parser: p, st: st, file: file, dir: filepath.Dir(path), content: content, ctx: ctx}
	w.walk(root, types.NullLocation, "")
	return nil
}

// fileWalker extracts cursors from one file's tree.
type fileWalker struct {
	parser  *CXXParser
	st      *tuState
	file    types.FileID
	dir     string
	content []byte
	ctx     context.Context
}

func (w *fileWalker) walk(node *tree_sitter.Node, enclosingClass types.Location, classUsr string) {
	switch node.Kind() {
	case "preproc_include":
		w.handleInclude(node)

	case "preproc_def", "preproc_function_def":
		if name := node.ChildByFieldName("name"); name != nil {
			w.addCursor(name, types.CursorMacroDefinition, w.text(name), "c:@macro@"+w.text(name), enclosingClass, nil)
		}

	case "class_specifier", "struct_specifier":
		w.handleClass(node, enclosingClass)
		return

	case "enum_specifier":
		w.handleEnum(node, enclosingClass)
		return

	case "namespace_definition":
		if name := node.ChildByFieldName("name"); name != nil {
			w.addCursor(name, types.CursorNamespace, w.text(name), "c:@N@"+w.text(name), types.NullLocation, nil)
		}

	case "function_definition":
		w.handleFunction(node, true, enclosingClass, classUsr)
		// Walk the body for calls.
		if body := node.ChildByFieldName("body"); body != nil {
			w.walk(body, enclosingClass, classUsr)
		}
		return

	case "declaration", "field_declaration":
		if declarator := findFunctionDeclarator(node); declarator != nil {
			w.handleFunction(node, false, enclosingClass, classUsr)
			return
		}

	case "call_expression":
		w.handleCall(node)
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		w.walk(child, enclosingClass, classUsr)
	}
}

func (w *fileWalker) handleInclude(node *tree_sitter.Node) {
	pathNode := node.ChildByFieldName("path")
	if pathNode == nil {
		return
	}
	raw := w.text(pathNode)
	// Only quoted includes resolve against the file system; system headers
	// are outside the project.
	if !strings.HasPrefix(raw, "\"") {
		return
	}
	name := strings.Trim(raw, "\"")

	resolved := ""
	for _, dir := range append([]string{w.dir}, w.st.includes...) {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			resolved = candidate
			break
		}
	}
	if resolved == "" {
		return
	}

	headerID := w.parser.table.Intern(resolved)
	w.addCursor(pathNode, types.CursorInclude, resolved, "", types.NullLocation, nil)
	w.st.data.Dependencies[headerID] = true

	if !w.st.data.Visited[headerID] {
		if err := w.parser.parseFile(w.ctx, w.st, headerID, resolved, false); err != nil {
			debug.LogIndexing("include %s failed: %v\n", resolved, err)
		}
		// The header's own dependencies are transitive dependencies of this
		// unit; parseFile already merged them into the shared set.
	}
}

func (w *fileWalker) handleClass(node *tree_sitter.Node, enclosingClass types.Location) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := w.text(nameNode)
	usr := "c:@S@" + name

	body := node.ChildByFieldName("body")
	kind := types.CursorClassDeclaration
	if body != nil {
		kind = types.CursorClassDefinition
	}
	if node.Kind() == "struct_specifier" {
		kind = types.CursorStructDeclaration
		if body != nil {
			kind = types.CursorStructDefinition
		}
	}

	var bases []string
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil || child.Kind() != "base_class_clause" {
			continue
		}
		for j := uint(0); j < child.ChildCount(); j++ {
			baseNode := child.Child(j)
			if baseNode == nil {
				continue
			}
			if k := baseNode.Kind(); k == "type_identifier" || k == "qualified_identifier" {
				baseName := w.text(baseNode)
				bases = append(bases, "c:@S@"+baseName)
				// The base name is itself a reference to the base class.
				w.st.calls = append(w.st.calls, callSite{
					loc:   w.location(baseNode),
					name:  baseName,
					start: uint32(baseNode.StartByte()),
					end:   uint32(baseNode.EndByte()),
				})
			}
		}
	}

	classLoc := w.location(nameNode)
	w.addCursor(nameNode, kind, name, usr, enclosingClass, bases)

	if body != nil {
		for i := uint(0); i < body.ChildCount(); i++ {
			child := body.Child(i)
			if child == nil {
				continue
			}
			w.walk(child, classLoc, usr)
		}
	}
}

func (w *fileWalker) handleEnum(node *tree_sitter.Node, enclosingClass types.Location) {
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		w.addCursor(nameNode, types.CursorDeclaration, w.text(nameNode), "c:@E@"+w.text(nameNode), enclosingClass, nil)
	}
	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := uint(0); i < body.ChildCount(); i++ {
		child := body.Child(i)
		if child == nil || child.Kind() != "enumerator" {
			continue
		}
		if nameNode := child.ChildByFieldName("name"); nameNode != nil {
			name := w.text(nameNode)
			w.addCursor(nameNode, types.CursorEnumConstant, name, "c:@Ea@"+name, enclosingClass, nil)
		}
	}
}

// handleFunction covers free functions, methods declared in a class body and
// out-of-line method definitions.
func (w *fileWalker) handleFunction(node *tree_sitter.Node, definition bool, enclosingClass types.Location, classUsr string) {
	declarator := findFunctionDeclarator(node)
	if declarator == nil {
		return
	}
	nameNode := declarator.ChildByFieldName("declarator")
	if nameNode == nil {
		return
	}

	qualifier := ""
	// Out-of-line definitions carry the class in a qualified name.
	for nameNode.Kind() == "qualified_identifier" {
		if scope := nameNode.ChildByFieldName("scope"); scope != nil {
			if qualifier != "" {
				qualifier += "::"
			}
			qualifier += w.text(scope)
		}
		inner := nameNode.ChildByFieldName("name")
		if inner == nil {
			break
		}
		nameNode = inner
	}

	base := w.text(nameNode)
	params := parameterTypes(w, declarator)
	display := base + "(" + strings.Join(params, ", ") + ")"
	if qualifier != "" {
		display = qualifier + "::" + display
	}

	kind := types.CursorDeclaration
	method := classUsr != "" || qualifier != ""
	switch {
	case nameNode.Kind() == "destructor_name":
		kind = types.CursorDestructor
	case method && base == className(classUsr):
		kind = types.CursorConstructor
	case method && definition:
		kind = types.CursorMethodDefinition
	case method:
		kind = types.CursorMethodDeclaration
	case definition:
		kind = types.CursorDefinition
	}

	usr := "c:@F@" + base + "#" + strings.Join(params, ",")
	if classUsr != "" {
		usr = classUsr + "@F@" + base + "#" + strings.Join(params, ",")
	} else if qualifier != "" {
		usr = "c:@S@" + qualifier + "@F@" + base + "#" + strings.Join(params, ",")
	}

	w.addCursor(nameNode, kind, display, usr, enclosingClass, nil)
}

func (w *fileWalker) handleCall(node *tree_sitter.Node) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	// Resolve through field and qualified expressions to the callee name.
	switch fn.Kind() {
	case "field_expression":
		if field := fn.ChildByFieldName("field"); field != nil {
			fn = field
		}
	case "qualified_identifier":
		if name := fn.ChildByFieldName("name"); name != nil {
			fn = name
		}
	}
	if k := fn.Kind(); k != "identifier" && k != "field_identifier" {
		return
	}
	w.st.calls = append(w.st.calls, callSite{
		loc:   w.location(fn),
		name:  w.text(fn),
		start: uint32(fn.StartByte()),
		end:   uint32(fn.EndByte()),
	})
}

// addCursor records a declaration-like cursor and registers it for reference
// linking under its base name.
func (w *fileWalker) addCursor(nameNode *tree_sitter.Node, kind types.CursorKind, name, usr string, enclosingClass types.Location, bases []string) {
	loc := w.location(nameNode)
	ci := types.NewCursorInfo(kind, name, usr)
	ci.Start = uint32(nameNode.StartByte())
	ci.End = uint32(nameNode.EndByte())
	ci.EnclosingClass = enclosingClass
	ci.BaseClasses = bases
	w.st.data.Symbols[loc] = ci

	if kind != types.CursorInclude {
		base := name
		if idx := strings.IndexByte(base, '('); idx >= 0 {
			base = base[:idx]
		}
		if idx := strings.LastIndex(base, "::"); idx >= 0 {
			base = base[idx+2:]
		}
		w.st.decls[base] = append(w.st.decls[base], declSite{loc: loc, usr: usr, kind: kind})
	}
}

func (w *fileWalker) text(node *tree_sitter.Node) string {
	return string(w.content[node.StartByte():node.EndByte()])
}

func (w *fileWalker) location(node *tree_sitter.Node) types.Location {
	pos := node.StartPosition()
	return types.Location{
		File:   w.file,
		Line:   uint32(pos.Row) + 1,
		Column: uint32(pos.Column) + 1,
	}
}

// linkReferences turns recorded call sites into reference cursors targeting
// the best declaration of their name: declarations beat definitions, same
// file beats other files.
func (p *CXXParser) linkReferences(st *tuState) {
	for _, call := range st.calls {
		sites := st.decls[call.name]
		if len(sites) == 0 {
			continue
		}
		target := pickDecl(sites, call.loc)
		if target.loc == call.loc {
			continue
		}

		ref := types.NewCursorInfo(types.CursorReference, call.name, target.usr)
		ref.Start = call.start
		ref.End = call.end
		ref.Targets[target.loc] = true
		st.data.Symbols[call.loc] = ref

		if decl := st.data.Symbols[target.loc]; decl != nil {
			decl.References[call.loc] = true
		}
	}
}

func pickDecl(sites []declSite, from types.Location) declSite {
	best := sites[0]
	score := func(s declSite) int {
		v := 0
		if s.kind.IsDeclaration() {
			v += 2
		}
		if s.loc.File == from.File {
			v++
		}
		return v
	}
	for _, s := range sites[1:] {
		if score(s) > score(best) {
			best = s
		}
	}
	return best
}

func findFunctionDeclarator(node *tree_sitter.Node) *tree_sitter.Node {
	declarator := node.ChildByFieldName("declarator")
	for declarator != nil {
		switch declarator.Kind() {
		case "function_declarator":
			return declarator
		case "pointer_declarator", "reference_declarator":
			declarator = declarator.ChildByFieldName("declarator")
		default:
			return nil
		}
	}
	return nil
}

func parameterTypes(w *fileWalker, declarator *tree_sitter.Node) []string {
	params := declarator.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	var out []string
	for i := uint(0); i < params.ChildCount(); i++ {
		child := params.Child(i)
		if child == nil || child.Kind() != "parameter_declaration" {
			continue
		}
		if typeNode := child.ChildByFieldName("type"); typeNode != nil {
			out = append(out, w.text(typeNode))
		}
	}
	return out
}

func className(classUsr string) string {
	if idx := strings.LastIndex(classUsr, "@"); idx >= 0 {
		return classUsr[idx+1:]
	}
	return ""
}

// includeDirs extracts -I directories from compiler arguments.
func includeDirs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-I" && i+1 < len(args):
			out = append(out, args[i+1])
			i++
		case strings.HasPrefix(arg, "-I"):
			out = append(out, arg[2:])
		}
	}
	return out
}
