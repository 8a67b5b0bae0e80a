// Package zigzag implements ZcBuf, the variable-byte codec used for docId
// deltas and skip-table deltas in the posting list format.
//
// Encoding emits 7 data bits per byte, least-significant group first; the
// top bit of each byte is a continuation marker ("more bytes follow").
// Decoding is unrolled through 5 bytes, covering the full uint32 range
// (5*7 = 35 bits), and never performs a bounds check mid-decode: callers
// must reserve Slack trailing zero bytes past the last encoded value.
package zigzag

// Slack is the number of extra zero bytes that must follow the last
// encoded byte so that Reader.DecodeUint32 can always read up to 5 bytes
// starting at its cursor without an explicit length check.
const Slack = 4

// Writer is a growable, single-producer ZcBuf write head.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with a small initial capacity.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Reset clears the buffer for reuse, keeping the underlying array.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Len returns the number of encoded bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// PutUint32 appends x, 7 bits per byte, LSB group first.
func (w *Writer) PutUint32(x uint32) {
	for {
		c := byte(x & 0x7f)
		x >>= 7
		if x != 0 {
			w.buf = append(w.buf, c|0x80)
			continue
		}
		w.buf = append(w.buf, c)
		return
	}
}

// PutUint32Slice appends a sequence of values in order.
func (w *Writer) PutUint32Slice(xs []uint32) {
	for _, x := range xs {
		w.PutUint32(x)
	}
}

// Bytes returns the encoded bytes written so far, without slack padding.
// The caller must append Slack zero bytes (e.g. via Sealed) before the
// result is handed to a Reader.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Sealed returns the encoded bytes with Slack trailing zero bytes
// appended, safe to read with a Reader.
func (w *Writer) Sealed() []byte {
	out := make([]byte, len(w.buf)+Slack)
	copy(out, w.buf)
	return out
}

// Reader decodes a ZcBuf-encoded byte stream. buf must have at least
// Slack valid bytes past dataLen (see Sealed), or dataLen must equal
// len(buf)-Slack.
type Reader struct {
	buf     []byte
	pos     int
	dataLen int // number of meaningful (non-slack) bytes
}

// NewReader wraps a sealed buffer (as produced by Writer.Sealed): the
// last Slack bytes are assumed to be zero padding, not data.
func NewReader(sealed []byte) *Reader {
	dataLen := len(sealed) - Slack
	if dataLen < 0 {
		dataLen = 0
	}
	return &Reader{buf: sealed, dataLen: dataLen}
}

// NewReaderLen wraps buf with an explicit data length; buf must still
// have Slack valid bytes available past dataLen for unrolled decoding.
func NewReaderLen(buf []byte, dataLen int) *Reader {
	return &Reader{buf: buf, dataLen: dataLen}
}

// Pos returns the current read cursor, in encoded bytes.
func (r *Reader) Pos() int { return r.pos }

// Seek repositions the read cursor.
func (r *Reader) Seek(pos int) { r.pos = pos }

// Done reports whether the cursor has consumed all meaningful bytes.
func (r *Reader) Done() bool { return r.pos >= r.dataLen }

// DecodeUint32 decodes the value at the cursor and advances it.
func (r *Reader) DecodeUint32() uint32 {
	buf := r.buf
	pos := r.pos
	c0 := buf[pos]
	if c0 < 0x80 {
		r.pos = pos + 1
		return uint32(c0)
	}
	c1 := buf[pos+1]
	if c1 < 0x80 {
		r.pos = pos + 2
		return uint32(c0&0x7f) | uint32(c1)<<7
	}
	c2 := buf[pos+2]
	if c2 < 0x80 {
		r.pos = pos + 3
		return uint32(c0&0x7f) | uint32(c1&0x7f)<<7 | uint32(c2)<<14
	}
	c3 := buf[pos+3]
	if c3 < 0x80 {
		r.pos = pos + 4
		return uint32(c0&0x7f) | uint32(c1&0x7f)<<7 | uint32(c2&0x7f)<<14 | uint32(c3)<<21
	}
	c4 := buf[pos+4]
	r.pos = pos + 5
	return uint32(c0&0x7f) | uint32(c1&0x7f)<<7 | uint32(c2&0x7f)<<14 | uint32(c3&0x7f)<<21 | uint32(c4)<<28
}
