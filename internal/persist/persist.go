// Package persist serializes the symbol database to a single versioned blob
// and restores it at startup. Saves are atomic: the blob is written to a
// temporary path and renamed into place. A version or checksum mismatch is
// fatal for the load only; the engine reports it and starts empty.
package persist

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/rindex/internal/debug"
	rerrors "github.com/standardbeagle/rindex/internal/errors"
	"github.com/standardbeagle/rindex/internal/store"
	"github.com/standardbeagle/rindex/internal/types"
)

const (
	magic   = "RIDX"
	version = uint32(1)

	// headerSize is magic + version + payload checksum.
	headerSize = 4 + 4 + 8
)

// Image is everything that goes into the blob: the path bijection, the store
// snapshot, the dependency map and the source descriptors.
type Image struct {
	Paths      map[types.FileID]string
	NextFileID types.FileID
	Store      *store.Snapshot
	Deps       map[types.FileID][]types.FileID
	Sources    map[types.FileID]types.Source
}

// Save encodes the image and atomically replaces the blob at path.
func Save(path string, img *Image) error {
	payload := encode(img)

	header := make([]byte, 0, headerSize)
	header = append(header, magic...)
	var w writer
	w.buf = header
	w.u32(version)
	w.u64(xxhash.Sum64(payload))

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return rerrors.NewDatabaseError("save", path, err)
	}
	if _, err = f.Write(w.buf); err == nil {
		_, err = f.Write(payload)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return rerrors.NewDatabaseError("save", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return rerrors.NewDatabaseError("save", path, err)
	}
	debug.LogDB("saved %d bytes to %s\n", headerSize+len(payload), path)
	return nil
}

// Load reads and decodes the blob at path. A missing file is returned as
// os.ErrNotExist for the caller to treat as a fresh project.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize || string(data[:4]) != magic {
		return nil, rerrors.NewDatabaseError("load", path, rerrors.ErrVersionMismatch)
	}
	hdr := reader{buf: data, off: 4}
	if v := hdr.u32(); v != version {
		return nil, rerrors.NewDatabaseError("load", path,
			fmt.Errorf("%w: blob version %d, engine version %d", rerrors.ErrVersionMismatch, v, version))
	}
	sum := hdr.u64()
	payload := data[headerSize:]
	if xxhash.Sum64(payload) != sum {
		return nil, rerrors.NewDatabaseError("load", path,
			fmt.Errorf("%w: checksum mismatch", rerrors.ErrDatabaseCorrupt))
	}
	img, err := decode(payload)
	if err != nil {
		return nil, rerrors.NewDatabaseError("load", path,
			fmt.Errorf("%w: %v", rerrors.ErrDatabaseCorrupt, err))
	}
	debug.LogDB("loaded %d symbols, %d files from %s\n", len(img.Store.Symbols), len(img.Paths), path)
	return img, nil
}

func encode(img *Image) []byte {
	var w writer
	w.buf = make([]byte, 0, 64*1024)

	// Path bijection, sorted by id for deterministic output.
	ids := make([]types.FileID, 0, len(img.Paths))
	for id := range img.Paths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.u32(uint32(id))
		w.str16(img.Paths[id])
	}
	w.u32(uint32(img.NextFileID))

	// SymbolMap in (file, line, column) order.
	locs := make([]types.Location, 0, len(img.Store.Symbols))
	for loc := range img.Store.Symbols {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Less(locs[j]) })
	w.u32(uint32(len(locs)))
	for _, loc := range locs {
		w.loc(loc)
		encodeCursor(&w, img.Store.Symbols[loc])
	}

	encodeLocMap(&w, img.Store.Names)
	encodeLocMap(&w, img.Store.Usrs)

	// FilesMap.
	fileIDs := make([]types.FileID, 0, len(img.Store.Files))
	for id := range img.Store.Files {
		fileIDs = append(fileIDs, id)
	}
	sort.Slice(fileIDs, func(i, j int) bool { return fileIDs[i] < fileIDs[j] })
	w.u32(uint32(len(fileIDs)))
	for _, id := range fileIDs {
		fi := img.Store.Files[id]
		w.u32(uint32(id))
		w.u64(uint64(fi.LastIndexed.Unix()))
		names := make([]string, 0, len(fi.SymbolNames))
		for n := range fi.SymbolNames {
			names = append(names, n)
		}
		sort.Strings(names)
		w.u32(uint32(len(names)))
		for _, n := range names {
			w.str16(n)
		}
	}

	// DependencyMap.
	depIDs := make([]types.FileID, 0, len(img.Deps))
	for id := range img.Deps {
		depIDs = append(depIDs, id)
	}
	sort.Slice(depIDs, func(i, j int) bool { return depIDs[i] < depIDs[j] })
	w.u32(uint32(len(depIDs)))
	for _, id := range depIDs {
		w.u32(uint32(id))
		deps := img.Deps[id]
		w.u32(uint32(len(deps)))
		for _, dep := range deps {
			w.u32(uint32(dep))
		}
	}

	// SourceMap.
	srcIDs := make([]types.FileID, 0, len(img.Sources))
	for id := range img.Sources {
		srcIDs = append(srcIDs, id)
	}
	sort.Slice(srcIDs, func(i, j int) bool { return srcIDs[i] < srcIDs[j] })
	w.u32(uint32(len(srcIDs)))
	for _, id := range srcIDs {
		src := img.Sources[id]
		w.u32(uint32(id))
		w.u8(uint8(src.Language))
		w.u16(uint16(len(src.Args)))
		for _, arg := range src.Args {
			w.str16(arg)
		}
	}

	return w.buf
}

func encodeCursor(w *writer, ci *types.CursorInfo) {
	w.u8(uint8(ci.Kind))
	w.str16(ci.SymbolName)
	w.str16(ci.USR)
	w.u32(ci.Start)
	w.u32(ci.End)

	targets := sortLocs(ci.Targets)
	w.u32(uint32(len(targets)))
	for _, loc := range targets {
		w.loc(loc)
	}
	refs := sortLocs(ci.References)
	w.u32(uint32(len(refs)))
	for _, loc := range refs {
		w.loc(loc)
	}

	if ci.EnclosingClass.IsNull() {
		w.u8(0)
	} else {
		w.u8(1)
		w.loc(ci.EnclosingClass)
	}

	w.u16(uint16(len(ci.BaseClasses)))
	for _, base := range ci.BaseClasses {
		w.str16(base)
	}
}

func encodeLocMap(w *writer, m map[string][]types.Location) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.u32(uint32(len(keys)))
	for _, k := range keys {
		w.str16(k)
		locs := m[k]
		w.u32(uint32(len(locs)))
		for _, loc := range locs {
			w.loc(loc)
		}
	}
}

func decode(payload []byte) (*Image, error) {
	r := reader{buf: payload}
	img := &Image{
		Paths: make(map[types.FileID]string),
		Store: &store.Snapshot{
			Symbols: make(map[types.Location]*types.CursorInfo),
			Names:   make(map[string][]types.Location),
			Usrs:    make(map[string][]types.Location),
			Files:   make(map[types.FileID]types.FileInfo),
		},
		Deps:    make(map[types.FileID][]types.FileID),
		Sources: make(map[types.FileID]types.Source),
	}

	pathCount := r.u32()
	for i := uint32(0); i < pathCount && r.err == nil; i++ {
		id := types.FileID(r.u32())
		img.Paths[id] = r.str16()
	}
	img.NextFileID = types.FileID(r.u32())

	symCount := r.u32()
	for i := uint32(0); i < symCount && r.err == nil; i++ {
		loc := r.loc()
		ci, err := decodeCursor(&r)
		if err != nil {
			return nil, err
		}
		img.Store.Symbols[loc] = ci
	}

	if err := decodeLocMap(&r, img.Store.Names); err != nil {
		return nil, err
	}
	if err := decodeLocMap(&r, img.Store.Usrs); err != nil {
		return nil, err
	}

	fileCount := r.u32()
	for i := uint32(0); i < fileCount && r.err == nil; i++ {
		id := types.FileID(r.u32())
		stamp := time.Unix(int64(r.u64()), 0)
		nameCount := r.u32()
		names := make(map[string]bool, nameCount)
		for j := uint32(0); j < nameCount && r.err == nil; j++ {
			names[r.str16()] = true
		}
		img.Store.Files[id] = types.FileInfo{LastIndexed: stamp, SymbolNames: names}
	}

	depCount := r.u32()
	for i := uint32(0); i < depCount && r.err == nil; i++ {
		id := types.FileID(r.u32())
		n := r.u32()
		deps := make([]types.FileID, 0, n)
		for j := uint32(0); j < n && r.err == nil; j++ {
			deps = append(deps, types.FileID(r.u32()))
		}
		img.Deps[id] = deps
	}

	srcCount := r.u32()
	for i := uint32(0); i < srcCount && r.err == nil; i++ {
		id := types.FileID(r.u32())
		lang := types.Language(r.u8())
		n := r.u16()
		args := make([]string, 0, n)
		for j := uint16(0); j < n && r.err == nil; j++ {
			args = append(args, r.str16())
		}
		img.Sources[id] = types.Source{File: id, Args: args, Language: lang}
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("%d trailing bytes", len(r.buf)-r.off)
	}
	return img, nil
}

func decodeCursor(r *reader) (*types.CursorInfo, error) {
	kind := types.CursorKind(r.u8())
	if r.err == nil && !kind.Valid() {
		return nil, fmt.Errorf("unknown cursor kind %d at offset %d", kind, r.off-1)
	}
	ci := types.NewCursorInfo(kind, r.str16(), r.str16())
	ci.Start = r.u32()
	ci.End = r.u32()

	targetCount := r.u32()
	for i := uint32(0); i < targetCount && r.err == nil; i++ {
		ci.Targets[r.loc()] = true
	}
	refCount := r.u32()
	for i := uint32(0); i < refCount && r.err == nil; i++ {
		ci.References[r.loc()] = true
	}

	if r.u8() != 0 {
		ci.EnclosingClass = r.loc()
	}

	baseCount := r.u16()
	for i := uint16(0); i < baseCount && r.err == nil; i++ {
		ci.BaseClasses = append(ci.BaseClasses, r.str16())
	}
	return ci, r.err
}

func decodeLocMap(r *reader, m map[string][]types.Location) error {
	count := r.u32()
	for i := uint32(0); i < count && r.err == nil; i++ {
		key := r.str16()
		n := r.u32()
		locs := make([]types.Location, 0, n)
		for j := uint32(0); j < n && r.err == nil; j++ {
			locs = append(locs, r.loc())
		}
		m[key] = locs
	}
	return r.err
}

func sortLocs(set map[types.Location]bool) []types.Location {
	out := make([]types.Location, 0, len(set))
	for loc := range set {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
