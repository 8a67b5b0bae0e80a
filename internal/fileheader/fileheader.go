// Package fileheader implements the tagged text-key file header shared by
// every on-disk file in the index (spec §4.7, §6): a human-readable
// "key=value" block, aligned to a fixed boundary, carrying at minimum
// `frozen`, `fileBitSize`, `format.0`, `endian` and `desc`.
//
// There is no separate binary magic number: the `format.0` tag plays
// that role (e.g. "PageDict4SS.1", "Zc.4") — a missing or unexpected
// format tag is treated exactly like a bad magic value (spec §7, "Format
// mismatch ... treated as fatal data corruption").
package fileheader

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Align is the byte boundary every header is padded to.
const Align = 4096

// Required tag keys present on every file.
const (
	TagFrozen      = "frozen"
	TagFileBitSize = "fileBitSize"
	TagFormat0     = "format.0"
	TagFormat1     = "format.1"
	TagEndian      = "endian"
	TagDesc        = "desc"
)

// EndianBig is the only supported value of the `endian` tag: all on-disk
// multi-byte integers are big-endian (spec §6, §9).
const EndianBig = "big"

// Header is an ordered set of string tags.
type Header struct {
	tags map[string]string
}

// New returns a Header pre-populated with endian=big and frozen=0.
func New(format0, desc string) *Header {
	h := &Header{tags: make(map[string]string)}
	h.Set(TagEndian, EndianBig)
	h.Set(TagFrozen, "0")
	h.Set(TagFormat0, format0)
	h.Set(TagDesc, desc)
	return h
}

func (h *Header) Set(key, value string) {
	if h.tags == nil {
		h.tags = make(map[string]string)
	}
	h.tags[key] = value
}

func (h *Header) SetUint(key string, v uint64) {
	h.Set(key, strconv.FormatUint(v, 10))
}

func (h *Header) Get(key string) (string, bool) {
	v, ok := h.tags[key]
	return v, ok
}

// GetUint parses a tag as an unsigned decimal integer.
func (h *Header) GetUint(key string) (uint64, error) {
	v, ok := h.tags[key]
	if !ok {
		return 0, fmt.Errorf("fileheader: missing required tag %q", key)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fileheader: tag %q is not a valid integer: %w", key, err)
	}
	return n, nil
}

// SetFrozen marks the header as closed/immutable with its final bit size.
func (h *Header) SetFrozen(fileBitSize uint64) {
	h.Set(TagFrozen, "1")
	h.SetUint(TagFileBitSize, fileBitSize)
}

// IsFrozen reports whether the header's frozen tag is set to "1".
func (h *Header) IsFrozen() bool {
	v, _ := h.Get(TagFrozen)
	return v == "1"
}

// RequireTags validates that every key in keys is present, and that
// endian is "big". This is the "format mismatch is fatal" check from
// spec §7: callers must treat an error here as unrecoverable corruption,
// never continue past it.
func (h *Header) RequireTags(keys ...string) error {
	endian, ok := h.Get(TagEndian)
	if !ok {
		return fmt.Errorf("fileheader: missing required tag %q", TagEndian)
	}
	if endian != EndianBig {
		return fmt.Errorf("fileheader: unsupported endian %q, want %q", endian, EndianBig)
	}
	for _, k := range keys {
		if _, ok := h.tags[k]; !ok {
			return fmt.Errorf("fileheader: missing required tag %q", k)
		}
	}
	return nil
}

// RequireFormat checks format.0 equals want exactly, acting as the
// header's "magic" check.
func (h *Header) RequireFormat(want string) error {
	got, ok := h.Get(TagFormat0)
	if !ok {
		return fmt.Errorf("fileheader: missing required tag %q", TagFormat0)
	}
	if got != want {
		return fmt.Errorf("fileheader: unexpected %s: want %q, got %q", TagFormat0, want, got)
	}
	return nil
}

// Encode serializes the header as sorted "key=value\n" lines, followed by
// zero padding up to the next Align boundary. The returned slice's length
// is always a multiple of Align.
func (h *Header) Encode() []byte {
	keys := make([]string, 0, len(h.tags))
	for k := range h.tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(h.tags[k])
		buf.WriteByte('\n')
	}
	if buf.Len() >= Align {
		// A header this large is itself a format violation: the layout
		// promises callers they can always skip exactly one Align-sized
		// block to reach the body.
		padded := make([]byte, ((buf.Len()/Align)+1)*Align)
		copy(padded, buf.Bytes())
		return padded
	}
	out := make([]byte, Align)
	copy(out, buf.Bytes())
	return out
}

// Decode parses a header from its first Align-sized block (or more, if
// the header overflowed one block at encode time — callers that know
// their header never overflows can always pass exactly Align bytes).
func Decode(buf []byte) (*Header, error) {
	h := &Header{tags: make(map[string]string)}
	// Text tags end at the first NUL pad byte.
	end := bytes.IndexByte(buf, 0)
	if end < 0 {
		end = len(buf)
	}
	lines := bytes.Split(buf[:end], []byte{'\n'})
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		eq := bytes.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("fileheader: malformed tag line %q", line)
		}
		h.tags[string(line[:eq])] = string(line[eq+1:])
	}
	if _, ok := h.Get(TagEndian); !ok {
		return nil, fmt.Errorf("fileheader: not a valid header (missing %q tag)", TagEndian)
	}
	return h, nil
}
