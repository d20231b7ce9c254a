package types

import (
	"fmt"
	"time"
)

// Common system-wide defaults
const (
	// DefaultCrashRetries is how many times a crashed or timed-out parse job
	// is retried before the file is marked as repeatedly failing.
	DefaultCrashRetries = 3

	// DefaultJobTimeout bounds a single parse job. Exceeded jobs are killed
	// and counted as a crash.
	DefaultJobTimeout = 5 * time.Minute

	// DefaultSyncDebounce is how long the sync engine waits after the last
	// finished job before merging pending results into the store.
	DefaultSyncDebounce = 2000 * time.Millisecond

	// DefaultSaveThreshold is the number of synced files that triggers a save.
	DefaultSaveThreshold = 32

	// DefaultSaveInterval forces a save even when the threshold isn't reached.
	DefaultSaveInterval = 5 * time.Minute

	// DefaultShutdownGrace is how long Close waits for in-flight jobs.
	DefaultShutdownGrace = 10 * time.Second

	// DefaultListSymbolsLimit caps ListSymbols output.
	DefaultListSymbolsLimit = 10000
)

// FileID interns a canonical absolute path to a stable 32-bit identifier.
// Zero is the invalid sentinel; IDs are never reused within a project lifetime.
type FileID uint32

// JobID identifies one in-flight parse job.
type JobID uint64

// Location is a (file, line, column) triple. Line and column are 1-based.
type Location struct {
	File   FileID
	Line   uint32
	Column uint32
}

// NullLocation is the invalid-location sentinel.
var NullLocation = Location{}

// IsNull reports whether the location is the invalid sentinel.
func (l Location) IsNull() bool {
	return l.File == 0
}

// Less orders locations by (File, Line, Column) so per-file ranges are contiguous.
func (l Location) Less(other Location) bool {
	if l.File != other.File {
		return l.File < other.File
	}
	if l.Line != other.Line {
		return l.Line < other.Line
	}
	return l.Column < other.Column
}

// String returns the numeric debug form. User-facing rendering goes through
// the path table, which knows the file name.
func (l Location) String() string {
	return fmt.Sprintf("%d:%d:%d", l.File, l.Line, l.Column)
}

// CursorKind classifies an indexed cursor. The set is fixed; decoding an
// unknown kind is a hard error.
type CursorKind uint8

const (
	CursorInvalid CursorKind = iota
	CursorDeclaration
	CursorDefinition
	CursorReference
	CursorMethodDeclaration
	CursorMethodDefinition
	CursorClassDeclaration
	CursorClassDefinition
	CursorStructDeclaration
	CursorStructDefinition
	CursorEnumConstant
	CursorMacroDefinition
	CursorConstructor
	CursorDestructor
	CursorNamespace
	CursorInclude

	cursorKindCount
)

func (k CursorKind) String() string {
	switch k {
	case CursorInvalid:
		return "invalid"
	case CursorDeclaration:
		return "declaration"
	case CursorDefinition:
		return "definition"
	case CursorReference:
		return "reference"
	case CursorMethodDeclaration:
		return "method_declaration"
	case CursorMethodDefinition:
		return "method_definition"
	case CursorClassDeclaration:
		return "class_declaration"
	case CursorClassDefinition:
		return "class_definition"
	case CursorStructDeclaration:
		return "struct_declaration"
	case CursorStructDefinition:
		return "struct_definition"
	case CursorEnumConstant:
		return "enum_constant"
	case CursorMacroDefinition:
		return "macro_definition"
	case CursorConstructor:
		return "constructor"
	case CursorDestructor:
		return "destructor"
	case CursorNamespace:
		return "namespace"
	case CursorInclude:
		return "include"
	default:
		return "unknown"
	}
}

// Valid reports whether the kind is a member of the fixed set.
func (k CursorKind) Valid() bool {
	return k < cursorKindCount
}

// IsDeclaration reports whether the kind declares a symbol name. These kinds
// and the definition kinds enter the symbol-name map.
func (k CursorKind) IsDeclaration() bool {
	switch k {
	case CursorDeclaration, CursorMethodDeclaration, CursorClassDeclaration,
		CursorStructDeclaration, CursorEnumConstant, CursorMacroDefinition,
		CursorConstructor, CursorDestructor, CursorNamespace:
		return true
	}
	return false
}

// IsDefinition reports whether the kind defines a symbol.
func (k CursorKind) IsDefinition() bool {
	switch k {
	case CursorDefinition, CursorMethodDefinition, CursorClassDefinition,
		CursorStructDefinition:
		return true
	}
	return false
}

// IsClass reports whether the kind is a class or struct cursor, the only
// kinds that carry base classes.
func (k CursorKind) IsClass() bool {
	switch k {
	case CursorClassDeclaration, CursorClassDefinition,
		CursorStructDeclaration, CursorStructDefinition:
		return true
	}
	return false
}

// CursorInfo is the value stored at each indexed location.
type CursorInfo struct {
	Kind       CursorKind
	SymbolName string // human-readable qualified name, e.g. "Foo::bar(int)"
	USR        string // unified symbol resolution string; same USR == same entity
	Start      uint32 // byte offset of the cursor's extent within its file
	End        uint32

	// Targets are locations this cursor refers to; References is the inverse.
	// The store keeps the two relations symmetric across sync points.
	Targets    map[Location]bool
	References map[Location]bool

	EnclosingClass Location
	BaseClasses    []string // base-class USRs, class cursors only
}

// NewCursorInfo returns a CursorInfo with allocated relation sets.
func NewCursorInfo(kind CursorKind, name, usr string) *CursorInfo {
	return &CursorInfo{
		Kind:       kind,
		SymbolName: name,
		USR:        usr,
		Targets:    make(map[Location]bool),
		References: make(map[Location]bool),
	}
}

// Clone returns a deep copy.
func (ci *CursorInfo) Clone() *CursorInfo {
	out := &CursorInfo{
		Kind:           ci.Kind,
		SymbolName:     ci.SymbolName,
		USR:            ci.USR,
		Start:          ci.Start,
		End:            ci.End,
		Targets:        make(map[Location]bool, len(ci.Targets)),
		References:     make(map[Location]bool, len(ci.References)),
		EnclosingClass: ci.EnclosingClass,
	}
	for loc := range ci.Targets {
		out.Targets[loc] = true
	}
	for loc := range ci.References {
		out.References[loc] = true
	}
	if len(ci.BaseClasses) > 0 {
		out.BaseClasses = append([]string(nil), ci.BaseClasses...)
	}
	return out
}

// FileInfo is per-file bookkeeping kept alongside the symbol maps. SymbolNames
// records which name-map entries the file contributed so a reindex can purge
// them.
type FileInfo struct {
	LastIndexed time.Time
	SymbolNames map[string]bool
}

// Language identifies the source language of a compilation unit.
type Language uint8

const (
	LanguageC Language = iota
	LanguageCPP
	LanguageHeader
)

func (l Language) String() string {
	switch l {
	case LanguageC:
		return "c"
	case LanguageCPP:
		return "c++"
	case LanguageHeader:
		return "header"
	default:
		return "unknown"
	}
}

// Source describes one compilation unit: the primary file plus the arguments
// it is compiled with.
type Source struct {
	File     FileID
	Args     []string
	Language Language
}

// IsNull reports whether the source is unset.
func (s Source) IsNull() bool {
	return s.File == 0
}

// IndexType says why a unit is being indexed.
type IndexType uint8

const (
	IndexDirty IndexType = iota
	IndexDump
	IndexReindex
)

func (t IndexType) String() string {
	switch t {
	case IndexDirty:
		return "dirty"
	case IndexDump:
		return "dump"
	case IndexReindex:
		return "reindex"
	default:
		return "unknown"
	}
}

// FixIt is a compiler-suggested textual edit.
type FixIt struct {
	Start uint32
	End   uint32
	Text  string
}

// IndexData is one parse job's result bundle. Symbols may span every file the
// translation unit visited, not just the primary source.
type IndexData struct {
	File         FileID
	Symbols      map[Location]*CursorInfo
	Dependencies map[FileID]bool
	FixIts       map[FileID][]FixIt
	Visited      map[FileID]bool
}

// NewIndexData returns an empty result bundle for the given primary file.
func NewIndexData(file FileID) *IndexData {
	return &IndexData{
		File:         file,
		Symbols:      make(map[Location]*CursorInfo),
		Dependencies: make(map[FileID]bool),
		FixIts:       make(map[FileID][]FixIt),
		Visited:      map[FileID]bool{file: true},
	}
}
