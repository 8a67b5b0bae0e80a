// Package diskindex implements the query-time view over a set of
// per-field on-disk indexes (spec §3, §4.8): DiskIndex owns every
// field's dictionary, posting file, and bitvector dictionary for as
// long as the index is open; FieldIndex is the per-field lookup surface
// query evaluation (an external collaborator per spec §1) builds term
// iterators from.
package diskindex

import (
	"fmt"
	"os"

	"golang.org/x/exp/mmap"
	"k8s.io/klog/v2"

	"github.com/rpcpool/contentnode/internal/bitvecdict"
	"github.com/rpcpool/contentnode/internal/pagedict"
	"github.com/rpcpool/contentnode/internal/posting"
)

// fileHandle abstracts the mmap-vs-pread dual read path of spec §9: a
// DiskIndex either mmaps a posting/dictionary file (zero-copy, backed
// by the OS page cache) or owns a plain in-memory buffer it read with
// a regular pread, depending on OpenOptions.UseMmap.
type fileHandle struct {
	mm   *mmap.ReaderAt
	buf  []byte
}

func openFile(path string, useMmap bool) (fileHandle, error) {
	if useMmap {
		mm, err := mmap.Open(path)
		if err != nil {
			return fileHandle{}, err
		}
		return fileHandle{mm: mm}, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return fileHandle{}, err
	}
	return fileHandle{buf: buf}, nil
}

// bytes materializes the handle's full contents: the owned buffer for
// the pread path, or a fresh copy of the whole mapping for the mmap
// path. Data() goes through it, so on the mmap path every call (one per
// FieldIndex.Lookup) copies the posting file; iterators are not handed
// the mapped memory itself. The dictionary tiers do not use a
// fileHandle; readDictTiers reads them with os.ReadFile.
func (h fileHandle) bytes() ([]byte, error) {
	if h.buf != nil {
		return h.buf, nil
	}
	out := make([]byte, h.mm.Len())
	if _, err := h.mm.ReadAt(out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func (h fileHandle) Data() []byte {
	if h.buf != nil {
		return h.buf
	}
	out, err := h.bytes()
	if err != nil {
		// The mmap path only errors on a short read racing a truncated
		// file, which the format/frozen-bit checks elsewhere already
		// treat as fatal corruption (spec §7); panicking here would
		// duplicate that check, so fall back to an empty slice and let
		// the caller's bounds checks surface the problem.
		return nil
	}
	return out
}

func (h fileHandle) Close() error {
	if h.mm != nil {
		return h.mm.Close()
	}
	return nil
}

// FieldPaths names the on-disk files for one field (spec §6).
type FieldPaths struct {
	Name          string
	Posting       string
	DictSS        string
	DictSP        string
	DictP         string
	BitVectorIdx  string // optional: empty if the field has no bitvector tier
	BitVectorDat  string
}

// OpenOptions controls how a DiskIndex reads its files (spec §9).
type OpenOptions struct {
	Fields  []FieldPaths
	Params  map[string]posting.Params // per-field codec params
	UseMmap bool
}

// FieldIndex is the query-time view of one field (spec §3 "FieldReader,
// FieldWriter" query counterpart and §4.8's DiskIndex/FieldIndex): a
// dictionary plus a posting file plus an optional bitvector dictionary.
type FieldIndex struct {
	name    string
	params  posting.Params
	dict    *pagedict.Reader
	posting fileHandle
	bitvec  *bitvecdict.Reader // nil if the field carries no bitvector tier

	ownedFiles []fileHandle
}

// Lookup resolves word to its posting-list iterator (spec §4.5). ok is
// false if the word is not present in this field.
func (f *FieldIndex) Lookup(word string) (*posting.Iterator, bool, error) {
	_, offset, counts, ok, err := f.dict.Lookup(word)
	if err != nil {
		return nil, false, fmt.Errorf("diskindex: field %q: %w", f.name, err)
	}
	if !ok || !counts.Valid() {
		return nil, false, nil
	}
	it, err := posting.NewIterator(f.params, f.posting.Data(), offset, counts)
	if err != nil {
		return nil, false, fmt.Errorf("diskindex: field %q: word %q: %w", f.name, word, err)
	}
	return it, true, nil
}

// LookupBitVector resolves word's dense bitvector, if this field has a
// bitvector dictionary and word is dense enough to have been promoted
// into it (spec §4.6).
func (f *FieldIndex) LookupBitVector(word string) (vec []byte, numDocs uint32, ok bool, err error) {
	if f.bitvec == nil {
		return nil, 0, false, nil
	}
	wordNum, _, counts, exists, lookupErr := f.dict.Lookup(word)
	if lookupErr != nil {
		return nil, 0, false, fmt.Errorf("diskindex: field %q: %w", f.name, lookupErr)
	}
	if !exists || !counts.Valid() {
		return nil, 0, false, nil
	}
	vec, numDocs, ok = f.bitvec.Lookup(wordNum)
	return vec, numDocs, ok, nil
}

func (f *FieldIndex) Name() string { return f.name }

func (f *FieldIndex) close() error {
	var firstErr error
	for _, h := range f.ownedFiles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DiskIndex owns every field's dictionary, posting file handle, and
// bitvector dictionary for as long as it is open (spec §3 Ownership).
type DiskIndex struct {
	fields map[string]*FieldIndex
}

// Open opens every field named in opts, returning an error (and closing
// anything already opened) on the first failure — spec §7 "Writers
// never continue past a header mismatch" applies symmetrically to
// readers: a DiskIndex either opens wholly or not at all.
func Open(opts OpenOptions) (*DiskIndex, error) {
	idx := &DiskIndex{fields: make(map[string]*FieldIndex, len(opts.Fields))}
	for _, fp := range opts.Fields {
		fi, err := openField(fp, opts.Params[fp.Name], opts.UseMmap)
		if err != nil {
			idx.Close()
			return nil, fmt.Errorf("diskindex: opening field %q: %w", fp.Name, err)
		}
		idx.fields[fp.Name] = fi
	}
	return idx, nil
}

func openField(fp FieldPaths, params posting.Params, useMmap bool) (*FieldIndex, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	postingHandle, err := openFile(fp.Posting, useMmap)
	if err != nil {
		return nil, fmt.Errorf("opening posting file: %w", err)
	}
	owned := []fileHandle{postingHandle}

	ssBytes, spBytes, pBytes, err := readDictTiers(fp)
	if err != nil {
		closeAll(owned)
		return nil, err
	}
	dict, err := pagedict.Open(pBytes, spBytes, ssBytes)
	if err != nil {
		closeAll(owned)
		return nil, fmt.Errorf("opening dictionary: %w", err)
	}

	fi := &FieldIndex{name: fp.Name, params: params, dict: dict, posting: postingHandle, ownedFiles: owned}

	if fp.BitVectorIdx != "" {
		idxBytes, err := os.ReadFile(fp.BitVectorIdx)
		if err != nil {
			closeAll(owned)
			return nil, fmt.Errorf("opening bitvector idx: %w", err)
		}
		datBytes, err := os.ReadFile(fp.BitVectorDat)
		if err != nil {
			closeAll(owned)
			return nil, fmt.Errorf("opening bitvector dat: %w", err)
		}
		bv, err := bitvecdict.Open(idxBytes, datBytes)
		if err != nil {
			closeAll(owned)
			return nil, fmt.Errorf("opening bitvector dictionary: %w", err)
		}
		fi.bitvec = bv
	}

	return fi, nil
}

// readDictTiers reads the SS/SP/P files fully (spec §5 "the .ss file is
// mapped into memory in its entirety; .sp and .p files are mmap- or
// pread-accessed per lookup page" — here, since pagedict.Open already
// requires the whole body to build its SS index and decode pages on
// demand from a byte slice, all three tiers are read up front; a larger
// production deployment would keep .sp/.p behind a page cache instead).
func readDictTiers(fp FieldPaths) (ss, sp, p []byte, err error) {
	ss, err = os.ReadFile(fp.DictSS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading SS tier: %w", err)
	}
	sp, err = os.ReadFile(fp.DictSP)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading SP tier: %w", err)
	}
	p, err = os.ReadFile(fp.DictP)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading P tier: %w", err)
	}
	return ss, sp, p, nil
}

func closeAll(handles []fileHandle) {
	for _, h := range handles {
		if err := h.Close(); err != nil {
			klog.Warningf("diskindex: closing file handle during rollback: %v", err)
		}
	}
}

// StandardFieldPaths builds the conventional on-disk layout of spec §6
// for one field under root/field/: posocc.dat.compressed,
// dictionary.{ss,sp,p}dat, and boolocc.{idx,bdat} (always named; callers
// that know a field has no bitvector tier should clear those two paths
// before use since FieldPaths.BitVectorIdx == "" is what Open checks).
func StandardFieldPaths(root, field string) FieldPaths {
	dir := root + "/" + field
	return FieldPaths{
		Name:         field,
		Posting:      dir + "/posocc.dat.compressed",
		DictSS:       dir + "/dictionary.ssdat",
		DictSP:       dir + "/dictionary.spdat",
		DictP:        dir + "/dictionary.pdat",
		BitVectorIdx: dir + "/boolocc.idx",
		BitVectorDat: dir + "/boolocc.bdat",
	}
}

// Field returns the named field's query-time view, or nil if this
// index has no such field (spec §4.8 FieldReaderEmpty's counterpart:
// callers treat a missing field as yielding no matches, not an error).
func (d *DiskIndex) Field(name string) *FieldIndex { return d.fields[name] }

// Close releases every field's file handles.
func (d *DiskIndex) Close() error {
	var firstErr error
	for _, fi := range d.fields {
		if err := fi.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
