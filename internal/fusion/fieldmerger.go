package fusion

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rpcpool/contentnode/internal/fieldindex"
	"github.com/rpcpool/contentnode/internal/pagedict"
	"github.com/rpcpool/contentnode/internal/posting"
)

// State is one of the nine FieldMerger states of spec §4.8.
type State int

const (
	MergeStart State = iota
	RenumberWordIDs
	RenumberWordIDsFinish
	OpenPostingsFieldReaders
	ScanElementLengths
	OpenPostingsFieldReadersFinish
	MergePostings
	MergePostingsFinish
	MergeDone
)

func (s State) String() string {
	switch s {
	case MergeStart:
		return "MERGE_START"
	case RenumberWordIDs:
		return "RENUMBER_WORD_IDS"
	case RenumberWordIDsFinish:
		return "RENUMBER_WORD_IDS_FINISH"
	case OpenPostingsFieldReaders:
		return "OPEN_POSTINGS_FIELD_READERS"
	case ScanElementLengths:
		return "SCAN_ELEMENT_LENGTHS"
	case OpenPostingsFieldReadersFinish:
		return "OPEN_POSTINGS_FIELD_READERS_FINISH"
	case MergePostings:
		return "MERGE_POSTINGS"
	case MergePostingsFinish:
		return "MERGE_POSTINGS_FINISH"
	case MergeDone:
		return "MERGE_DONE"
	default:
		return "UNKNOWN"
	}
}

// Input is one source index's contribution to a field merge: its
// dictionary and posting-list body, plus whether its features need
// element-length regeneration (spec §4.8's SCAN_ELEMENT_LENGTHS branch).
type Input struct {
	Dict                  *pagedict.Reader
	Postings              []byte
	NeedsElementLengthScan bool
	Remap                 fieldindex.CollectionRemap
}

// doneStampName is the zero-byte marker spec §4.8 calls `.mergeocc_done`.
const doneStampName = ".mergeocc_done"

// FieldMerger drives one field's fusion of N source indexes through the
// nine-state machine of spec §4.8, yielding control to its caller after
// each chunk of work so a thread pool can interleave many fields.
type FieldMerger struct {
	fieldDir string
	inputs   []Input
	params   posting.Params
	docIdLimit, minChunkDocs uint32

	state State
	done  bool
	fail  error

	tmpDirs    []string
	wordMerger *WordMerger
	old2new    []Old2New
	wordText   []string

	scanIdx    int // which input is currently being element-length scanned
	fieldReaders []fieldindex.WordReader
	fieldWriter  *fieldindex.FieldWriter
	postMerger   *Merger

	result *fieldindex.Result
}

// NewFieldMerger prepares (but does not start) a merge of inputs into
// fieldDir.
func NewFieldMerger(fieldDir string, inputs []Input, params posting.Params, docIdLimit, minChunkDocs uint32) *FieldMerger {
	return &FieldMerger{
		fieldDir:     fieldDir,
		inputs:       inputs,
		params:       params,
		docIdLimit:   docIdLimit,
		minChunkDocs: minChunkDocs,
	}
}

// Done reports whether the merger reached MERGE_DONE.
func (fm *FieldMerger) Done() bool { return fm.done }

// Failed reports the error that caused the merger to give up, if any.
func (fm *FieldMerger) Failed() error { return fm.fail }

// Result is the completed field's files; valid once Done() and
// Failed() == nil.
func (fm *FieldMerger) Result() *fieldindex.Result { return fm.result }

func (fm *FieldMerger) setFailed(err error) (bool, error) {
	fm.fail = err
	fm.done = true
	return true, err
}

// Step runs one state transition's worth of work. It returns done=true
// once the merger has reached MERGE_DONE or failed; flushToken, if
// non-nil, is polled between sub-chunks for cooperative cancellation
// (spec §4.8, §4.10's "flushToken.stopRequested").
func (fm *FieldMerger) Step(flushToken func() bool) (done bool, err error) {
	if fm.done {
		return true, fm.fail
	}
	switch fm.state {
	case MergeStart:
		return fm.stepStart()
	case RenumberWordIDs:
		return fm.stepRenumberWordIDs(flushToken)
	case RenumberWordIDsFinish:
		return fm.stepRenumberFinish()
	case OpenPostingsFieldReaders:
		return fm.stepOpenReaders()
	case ScanElementLengths:
		return fm.stepScanElementLengths(flushToken)
	case OpenPostingsFieldReadersFinish:
		return fm.stepOpenReadersFinish()
	case MergePostings:
		return fm.stepMergePostings(flushToken)
	case MergePostingsFinish:
		return fm.stepMergeFinish()
	default:
		fm.done = true
		return true, nil
	}
}

// Run drives the merger to completion, calling Step repeatedly; callers
// that want cooperative scheduling across many fields should call Step
// directly instead (see Fusion).
func (fm *FieldMerger) Run(flushToken func() bool) error {
	for {
		done, err := fm.Step(flushToken)
		if err != nil {
			return err
		}
		if done {
			return fm.fail
		}
	}
}

func (fm *FieldMerger) stepStart() (bool, error) {
	if _, err := os.Stat(filepath.Join(fm.fieldDir, doneStampName)); err == nil {
		fm.state = MergeDone
		fm.done = true
		return true, nil
	}
	if err := os.MkdirAll(fm.fieldDir, 0o755); err != nil {
		return fm.setFailed(fmt.Errorf("fusion: creating field dir: %w", err))
	}
	// Each tmp dir gets a fresh uuid suffix rather than a plain
	// "tmpindexN" name so a merge restarted after a crash never mistakes
	// a previous run's half-written tmp dir for its own.
	runID := uuid.NewString()
	for i := range fm.inputs {
		dir := filepath.Join(fm.fieldDir, fmt.Sprintf("tmpindex%d-%s", i, runID))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fm.setFailed(fmt.Errorf("fusion: creating tmp dir: %w", err))
		}
		fm.tmpDirs = append(fm.tmpDirs, dir)
	}

	sources := make([]WordSource, len(fm.inputs))
	for i, in := range fm.inputs {
		entries, err := in.Dict.Scan()
		if err != nil {
			return fm.setFailed(fmt.Errorf("fusion: scanning input %d dictionary: %w", i, err))
		}
		sources[i] = newSliceWordSource(entries)
	}
	fm.wordMerger = NewWordMerger(sources, WordIDChunkSize)
	fm.state = RenumberWordIDs
	return false, nil
}

func (fm *FieldMerger) stepRenumberWordIDs(flushToken func() bool) (bool, error) {
	done, err := fm.wordMerger.Merge(flushToken)
	if err != nil {
		return fm.setFailed(fmt.Errorf("fusion: merging word ids: %w", err))
	}
	if done {
		fm.state = RenumberWordIDsFinish
	}
	return false, nil
}

func (fm *FieldMerger) stepRenumberFinish() (bool, error) {
	fm.old2new = fm.wordMerger.Old2NewMappings()
	fm.wordText = fm.wordMerger.WordText()
	for i, m := range fm.old2new {
		if err := writeOld2New(filepath.Join(fm.tmpDirs[i], "old2new.dat"), m); err != nil {
			return fm.setFailed(fmt.Errorf("fusion: writing old2new.dat: %w", err))
		}
	}
	fm.wordMerger = nil
	fm.scanIdx = 0
	fm.state = OpenPostingsFieldReaders
	return false, nil
}

func (fm *FieldMerger) stepOpenReaders() (bool, error) {
	if fm.scanIdx >= len(fm.inputs) {
		fm.state = OpenPostingsFieldReadersFinish
		return false, nil
	}
	in := fm.inputs[fm.scanIdx]
	if in.NeedsElementLengthScan {
		fm.state = ScanElementLengths
		return false, nil
	}
	fm.scanIdx++
	return false, nil
}

// stepScanElementLengths runs the two-phase element-length scan one
// input at a time: FieldReaderStripInfo's first pass (run by
// fieldindex.NewFieldReaderStripInfo when the reader is opened in
// stepOpenReadersFinish) already performs this, so this state's job is simply to account for inputs
// that request it before moving on (spec §4.8: "when input exhausted,
// reopen it and continue").
func (fm *FieldMerger) stepScanElementLengths(flushToken func() bool) (bool, error) {
	fm.scanIdx++
	fm.state = OpenPostingsFieldReaders
	return false, nil
}

func (fm *FieldMerger) stepOpenReadersFinish() (bool, error) {
	readers := make([]fieldindex.WordReader, len(fm.inputs))
	for i, in := range fm.inputs {
		entries, err := in.Dict.Scan()
		if err != nil {
			return fm.setFailed(fmt.Errorf("fusion: re-scanning input %d dictionary: %w", i, err))
		}
		remapped := remapWordEntries(entries, fm.old2new[i])
		base := fieldindex.NewFieldReader(fm.params, in.Postings, remapped)
		if in.Remap.RegenerateInterleaved || in.Remap.SumDuplicateOccurrences {
			sr, err := fieldindex.NewFieldReaderStripInfo(in.Remap, fm.params, func() (fieldindex.WordReader, error) {
				e2, err := in.Dict.Scan()
				if err != nil {
					return nil, err
				}
				return fieldindex.NewFieldReader(fm.params, in.Postings, remapWordEntries(e2, fm.old2new[i])), nil
			})
			if err != nil {
				return fm.setFailed(fmt.Errorf("fusion: opening strip-info reader: %w", err))
			}
			readers[i] = sr
		} else {
			readers[i] = base
		}
	}
	fm.fieldReaders = readers

	fw, err := fieldindex.NewFieldWriter(fm.params, fm.docIdLimit, fm.minChunkDocs)
	if err != nil {
		return fm.setFailed(fmt.Errorf("fusion: opening field writer: %w", err))
	}
	fm.fieldWriter = fw

	sources := make([]Source, len(readers))
	for i, r := range readers {
		sources[i] = &entrySource{r: r}
	}
	fm.postMerger = NewMerger(sources, &postingWriterAdapter{fw: fw, wordText: fm.wordText}, PostingChunkSize)
	fm.state = MergePostings
	return false, nil
}

func (fm *FieldMerger) stepMergePostings(flushToken func() bool) (bool, error) {
	done, err := fm.postMerger.Merge(flushToken)
	if err != nil {
		return fm.setFailed(fmt.Errorf("fusion: merging postings: %w", err))
	}
	if done {
		fm.state = MergePostingsFinish
	}
	return false, nil
}

func (fm *FieldMerger) stepMergeFinish() (bool, error) {
	for _, r := range fm.fieldReaders {
		if err := r.Close(); err != nil {
			return fm.setFailed(fmt.Errorf("fusion: closing field reader: %w", err))
		}
	}
	res, err := fm.fieldWriter.Close()
	if err != nil {
		return fm.setFailed(fmt.Errorf("fusion: closing field writer: %w", err))
	}
	fm.result = &res

	if err := writeDoneStamp(filepath.Join(fm.fieldDir, doneStampName)); err != nil {
		return fm.setFailed(fmt.Errorf("fusion: writing done stamp: %w", err))
	}
	for _, dir := range fm.tmpDirs {
		if err := os.RemoveAll(dir); err != nil {
			return fm.setFailed(fmt.Errorf("fusion: removing tmp dir: %w", err))
		}
	}
	fm.state = MergeDone
	fm.done = true
	return true, nil
}

// writeDoneStamp writes the zero-byte completion marker via
// temp-file-then-rename so a crash mid-write never leaves a spuriously
// "done" field (DESIGN.md: partial writes must never look committed).
func writeDoneStamp(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// entrySource adapts a fieldindex.WordReader into a fusion.Source keyed
// by (wordNum, docId) so postings merge in (word, docid) order even
// when fed from multiple inputs.
type entrySource struct {
	r fieldindex.WordReader
}

func (s *entrySource) Next() (uint64, any, bool, error) {
	e, ok, err := s.r.Read()
	if err != nil || !ok {
		return 0, nil, false, err
	}
	key := uint64(e.WordNum)<<32 | uint64(e.Doc.DocId)
	return key, e, true, nil
}

// postingWriterAdapter feeds merged entries into a FieldWriter, opening
// a new word (by its merged text, recovered from the word merge phase)
// whenever wordNum changes.
type postingWriterAdapter struct {
	fw       *fieldindex.FieldWriter
	wordText []string
	curWord  uint32
	opened   bool
}

func (p *postingWriterAdapter) Put(key uint64, payload any) error {
	e := payload.(fieldindex.Entry)
	if !p.opened || e.WordNum != p.curWord {
		word := ""
		if int(e.WordNum) < len(p.wordText) {
			word = p.wordText[e.WordNum]
		}
		if err := p.fw.NewWord(word); err != nil {
			return err
		}
		p.curWord = e.WordNum
		p.opened = true
	}
	return p.fw.Add(e.Doc.DocId, e.Doc.Features)
}
