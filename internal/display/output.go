// Package display renders query results to the line-oriented wire form:
// one "path:line:column[\tcontext]" per location, or bare symbol names.
package display

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/types"
	"github.com/standardbeagle/rindex/pkg/pathutil"
)

// Flags adjust rendering. They mirror the query channel's display flags.
type Flags uint

const (
	FlagPathsRelativeToRoot Flags = 1 << iota
	FlagNoContext
	FlagSeparateBySpace
	FlagSortOutput
)

// ParseFlags reads a comma-separated flag list from the wire.
func ParseFlags(s string) Flags {
	var flags Flags
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "paths-relative-to-root":
			flags |= FlagPathsRelativeToRoot
		case "no-context":
			flags |= FlagNoContext
		case "separate-by-space":
			flags |= FlagSeparateBySpace
		case "sort-output":
			flags |= FlagSortOutput
		}
	}
	return flags
}

// Output formats locations against a path table and project root.
type Output struct {
	table *location.Table
	root  string
	flags Flags
}

// NewOutput creates a formatter.
func NewOutput(table *location.Table, root string, flags Flags) *Output {
	return &Output{table: table, root: root, flags: flags}
}

// Flags returns the active flags.
func (o *Output) Flags() Flags {
	return o.flags
}

// FormatLocation renders one location. Null locations render empty; context
// is the location's source line, read through the path table, which is the
// sole authority for resolving a FileID.
func (o *Output) FormatLocation(loc types.Location) string {
	if loc.IsNull() {
		return ""
	}
	path := o.table.Lookup(loc.File)
	if path == "" {
		return ""
	}
	shown := path
	if o.flags&FlagPathsRelativeToRoot != 0 {
		shown = pathutil.ToRelative(path, o.root)
	}
	out := fmt.Sprintf("%s:%d:%d", shown, loc.Line, loc.Column)
	if o.flags&FlagNoContext == 0 {
		if ctx := readLine(path, int(loc.Line)); ctx != "" {
			out += "\t" + ctx
		}
	}
	return out
}

// FormatLocations renders a location list, dropping unrenderable entries and
// sorting when requested.
func (o *Output) FormatLocations(locs []types.Location) []string {
	out := make([]string, 0, len(locs))
	for _, loc := range locs {
		if line := o.FormatLocation(loc); line != "" {
			out = append(out, line)
		}
	}
	if o.flags&FlagSortOutput != 0 {
		sort.Strings(out)
	}
	return out
}

// Join merges rendered lines for transport: newline-separated by default,
// space-separated under FlagSeparateBySpace.
func (o *Output) Join(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	if o.flags&FlagSeparateBySpace != 0 {
		return strings.Join(lines, " ")
	}
	return strings.Join(lines, "\n")
}

// readLine fetches line n (1-based) of the file at path.
func readLine(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := 1; scanner.Scan(); i++ {
		if i == n {
			return scanner.Text()
		}
	}
	return ""
}
