package classfile

import "encoding/binary"

// reader is a bounds-checked big-endian cursor. The first failure sticks:
// later reads return zero values and err keeps the original cause.
type reader struct {
	buf     []byte
	off     int
	context string
	err     *FormatError
}

func newReader(buf []byte, context string) *reader {
	return &reader{buf: buf, context: context}
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = formatErrorf(r.off, r.context, format, args...)
	}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail("truncated: need %d bytes, have %d", n, len(r.buf)-r.off)
		return false
	}
	return true
}

func (r *reader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u8() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+n])
	r.off += n
	return v
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// writer accumulates big-endian output.
type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u2(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *writer) u4(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *writer) u8(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }
