package persist

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/standardbeagle/rindex/internal/location"
	"github.com/standardbeagle/rindex/internal/types"
)

// writer accumulates the little-endian payload.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) str16(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) loc(l types.Location) {
	enc := location.Encode(l)
	w.buf = append(w.buf, enc[:]...)
}

// reader walks the payload; the first failure sticks so callers can check
// err once at the end of a section.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("truncated %s at offset %d", what, r.off)
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off+1 > len(r.buf) {
		r.fail("u8")
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	if r.off+2 > len(r.buf) {
		r.fail("u16")
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.buf) {
		r.fail("u32")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.fail("u64")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) str16() string {
	n := int(r.u16())
	if r.err != nil {
		return ""
	}
	if r.off+n > len(r.buf) {
		r.fail("string")
		return ""
	}
	v := string(r.buf[r.off : r.off+n])
	r.off += n
	return v
}

func (r *reader) loc() types.Location {
	if r.err != nil {
		return types.NullLocation
	}
	if r.off+location.EncodedSize > len(r.buf) {
		r.fail("location")
		return types.NullLocation
	}
	v := location.Decode(r.buf[r.off : r.off+location.EncodedSize])
	r.off += location.EncodedSize
	return v
}
