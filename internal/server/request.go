package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/standardbeagle/rindex/internal/display"
	"github.com/standardbeagle/rindex/internal/query"
	"github.com/standardbeagle/rindex/internal/types"
)

// Mode is the fixed set of query kinds on the channel.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeFollow
	ModeReferences
	ModeAllReferences
	ModeFindSymbols
	ModeListSymbols
	ModeFiles
	ModeFindSuper
	ModeFindSubs
)

// ParseMode maps the wire name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "follow":
		return ModeFollow, nil
	case "references":
		return ModeReferences, nil
	case "all-references":
		return ModeAllReferences, nil
	case "find-symbols":
		return ModeFindSymbols, nil
	case "list-symbols":
		return ModeListSymbols, nil
	case "files":
		return ModeFiles, nil
	case "find-super":
		return ModeFindSuper, nil
	case "find-subs":
		return ModeFindSubs, nil
	default:
		return ModeNone, fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeFollow:
		return "follow"
	case ModeReferences:
		return "references"
	case ModeAllReferences:
		return "all-references"
	case ModeFindSymbols:
		return "find-symbols"
	case ModeListSymbols:
		return "list-symbols"
	case ModeFiles:
		return "files"
	case ModeFindSuper:
		return "find-super"
	case ModeFindSubs:
		return "find-subs"
	default:
		return "none"
	}
}

// Request is one decoded line of the query channel.
type Request struct {
	Mode  Mode
	Arg   string
	Flags display.Flags
}

// ParseRequest decodes "mode<TAB>arg<TAB>flags". Arg and flags may be empty.
func ParseRequest(line string) (Request, error) {
	parts := strings.SplitN(line, "\t", 3)
	mode, err := ParseMode(parts[0])
	if err != nil {
		return Request{}, err
	}
	req := Request{Mode: mode}
	if len(parts) > 1 {
		req.Arg = parts[1]
	}
	if len(parts) > 2 {
		req.Flags = display.ParseFlags(parts[2])
	}
	return req, nil
}

// Execute resolves a request against the query engine and renders the reply
// lines. A positional follow or find-super emits zero or one line; a name
// argument is broadcast over every location it resolves to, one line per
// result. An empty reply is a valid result, not an error.
func Execute(eng *query.Engine, out *display.Output, req Request) []string {
	switch req.Mode {
	case ModeFollow:
		locs, byName := eng.Resolve(req.Arg)
		var results []types.Location
		for _, loc := range locs {
			if target := eng.Follow(loc); !target.IsNull() {
				results = append(results, target)
			}
		}
		if !byName && len(results) > 1 {
			results = results[:1]
		}
		return out.FormatLocations(results)

	case ModeReferences:
		locs, byName := eng.Resolve(req.Arg)
		set := make(map[types.Location]bool)
		for _, loc := range locs {
			// A name resolves to declarations; those are part of the answer
			// alongside their references. A positional query filters the
			// queried cursor itself.
			if byName {
				set[loc] = true
			}
			for _, ref := range eng.References(loc) {
				set[ref] = true
			}
		}
		return out.FormatLocations(sortLocations(set))

	case ModeAllReferences:
		locs, _ := eng.Resolve(req.Arg)
		set := make(map[types.Location]bool)
		for _, loc := range locs {
			for _, ref := range eng.AllReferences(loc) {
				set[ref] = true
			}
		}
		return out.FormatLocations(sortLocations(set))

	case ModeFindSymbols:
		return out.FormatLocations(eng.FindSymbol(req.Arg))

	case ModeListSymbols:
		names := eng.ListSymbols(req.Arg, 0)
		if out.Flags()&display.FlagSortOutput != 0 {
			sort.Strings(names)
		}
		return names

	case ModeFiles:
		return eng.Files(req.Arg)

	case ModeFindSuper:
		locs, _ := eng.Resolve(req.Arg)
		var results []types.Location
		for _, loc := range locs {
			if super := eng.FindSuper(loc); !super.IsNull() {
				results = append(results, super)
			}
		}
		return out.FormatLocations(results)

	case ModeFindSubs:
		locs, _ := eng.Resolve(req.Arg)
		set := make(map[types.Location]bool)
		for _, loc := range locs {
			for _, sub := range eng.FindSubs(loc) {
				set[sub] = true
			}
		}
		return out.FormatLocations(sortLocations(set))
	}
	return nil
}

func sortLocations(set map[types.Location]bool) []types.Location {
	out := make([]types.Location, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
