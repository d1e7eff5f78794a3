// Package reads implements the packed read store (C1, spec.md section
// 4.1/data model): an in-memory columnar store of quality-trimmed reads,
// addressable by signed 64-bit id. Grounded on the teacher's
// constructcf.go ReadInfo/GetReadFileRecord/ReadSeqBucket packing pattern,
// repacked into spec.md section 3's (id, bases[3-bit], quals[5-bit])
// layout.
package reads

import (
	"fmt"

	"mhmgo/bnt"
	"mhmgo/utils"
)

// Base codes per spec.md section 3: A=0,C=1,G=2,T=3,N=4.
const (
	BaseA = 0
	BaseC = 1
	BaseG = 2
	BaseT = 3
	BaseN = 4
)

// MaxQual is the quality clamp spec.md section 3 specifies ("quality ...
// clamped to 31", fitting the remaining 5 bits of a packed byte).
const MaxQual = 31

// PackedRead is one packed record: |id| identifies a read pair, sign
// encodes which mate (negative = first mate, spec.md section 3).
type PackedRead struct {
	ID    int64
	Bases []byte // one 3-bit code (0-4) per base, stored unpacked per-byte for simplicity of indexing; see PackBaseQual/UnpackBaseQual for the bit-packed wire form.
	Quals []byte // one 5-bit value (0-31) per base.
}

// Mate reports which mate of its pair this read is: 1 or 2.
func (r PackedRead) Mate() int {
	if r.ID < 0 {
		return 1
	}
	return 2
}

// PairID returns the |id| shared by both mates of a pair.
func (r PackedRead) PairID() int64 {
	if r.ID < 0 {
		return -r.ID
	}
	return r.ID
}

// PackBaseQual combines a 3-bit base code and a clamped 5-bit quality into
// a single byte, matching spec.md section 3's packed-record layout.
func PackBaseQual(base byte, qual byte) byte {
	if qual > MaxQual {
		qual = MaxQual
	}
	return (base&0x7)<<5 | (qual & 0x1F)
}

// UnpackBaseQual is the inverse of PackBaseQual.
func UnpackBaseQual(b byte) (base, qual byte) {
	return b >> 5, b & 0x1F
}

// FromASCII builds a PackedRead from an ASCII base string and matching
// per-base quality scores (already offset-adjusted to a 0-based Phred
// scale by the caller -- offset handling is an ingest/ external-interface
// concern per spec.md section 6, not this package's).
func FromASCII(id int64, bases []byte, quals []byte) (PackedRead, error) {
	if len(bases) != len(quals) {
		return PackedRead{}, fmt.Errorf("reads.FromASCII: id %d: %d bases != %d quals", id, len(bases), len(quals))
	}
	r := PackedRead{ID: id, Bases: make([]byte, len(bases)), Quals: make([]byte, len(quals))}
	for i, c := range bases {
		code, err := bnt.CharToCode(c)
		if err != nil {
			code = BaseN
		}
		r.Bases[i] = code
		q := quals[i]
		if q > MaxQual {
			q = MaxQual
		}
		r.Quals[i] = q
	}
	return r, nil
}

// Store is a per-rank columnar buffer of packed reads, keyed by position
// (not by id -- lookup by id is a linear scan, matching the teacher's
// append-then-iterate access pattern; nothing in spec.md's core pipeline
// needs random-access lookup by id, only iteration and append/reshuffle).
type Store struct {
	reads []PackedRead
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add appends a read, typically one mate of a pair (the caller is
// responsible for the pairing invariant: both mates always flow together,
// spec.md section 3).
func (s *Store) Add(r PackedRead) {
	s.reads = append(s.reads, r)
}

// AddPair appends both mates of a pair together, enforcing the pairing
// invariant at the one place reads enter a rank's store.
func (s *Store) AddPair(mate1, mate2 PackedRead) error {
	if mate1.PairID() != mate2.PairID() {
		return fmt.Errorf("reads.AddPair: pair id mismatch: %d vs %d", mate1.PairID(), mate2.PairID())
	}
	s.reads = append(s.reads, mate1, mate2)
	return nil
}

// Len returns the number of reads (not pairs) currently held.
func (s *Store) Len() int { return len(s.reads) }

// At returns the i'th read.
func (s *Store) At(i int) PackedRead { return s.reads[i] }

// All returns the underlying slice directly; callers must not retain a
// mutable reference across a reshuffle (spec.md section 5: "packed-read
// buffers are not resized during a shuffle's message-drain phase").
func (s *Store) All() []PackedRead { return s.reads }

// Reset clears the store, e.g. before a shuffle redistributes reads.
func (s *Store) Reset() { s.reads = s.reads[:0] }

// Seq returns the ASCII base string for read r (decoding the packed 3-bit
// codes), used by downstream components that want a plain string (k-mer
// extraction, alignment).
func Seq(r PackedRead) string {
	out := make([]byte, len(r.Bases))
	for i, c := range r.Bases {
		out[i] = bnt.CodeToChar(c)
	}
	return string(out)
}

// QualString renders r's per-base qualities as an ASCII FASTQ quality
// line at the given offset (33 or 64, spec.md section 6), for callers that
// need to write a read back out in external FASTQ form (the merged-reads
// intermediate cache).
func QualString(r PackedRead, offset int) string {
	out := make([]byte, len(r.Quals))
	for i, q := range r.Quals {
		out[i] = q + byte(offset)
	}
	return string(out)
}

// MergeOverlap attempts to merge two overlapping mates of a pair into a
// single extended read when their 3' ends overlap by at least minOverlap
// bases with no mismatches, mirroring the teacher's preprocess.go
// read-merging step and original_source/src/merge_reads.cpp's single
// consistent-overlap-position search. spec.md section 7 calls an ambiguous
// overlap (more than one consistent merge position) a *recoverable* error:
// MergeOverlap reports ok=false and ambiguous=true in that case rather than
// guessing, distinct from the ordinary "no overlap found" case (ok=false,
// ambiguous=false) that MergeAll does not count as an error.
func MergeOverlap(mate1, mate2 PackedRead, minOverlap int) (merged PackedRead, ok bool, ambiguous bool) {
	rcMate2Bases := make([]byte, len(mate2.Bases))
	rcMate2Quals := make([]byte, len(mate2.Quals))
	for i := range mate2.Bases {
		rcMate2Bases[len(mate2.Bases)-1-i] = complement(mate2.Bases[i])
		rcMate2Quals[len(mate2.Quals)-1-i] = mate2.Quals[i]
	}

	var matchStart = -1
	matches := 0
	maxOverlap := len(mate1.Bases)
	if len(rcMate2Bases) < maxOverlap {
		maxOverlap = len(rcMate2Bases)
	}
	for start := len(mate1.Bases) - maxOverlap; start <= len(mate1.Bases)-minOverlap; start++ {
		if start < 0 {
			continue
		}
		n := len(mate1.Bases) - start
		if n > len(rcMate2Bases) {
			n = len(rcMate2Bases)
		}
		if basesEqual(mate1.Bases[start:start+n], rcMate2Bases[:n]) {
			matches++
			matchStart = start
		}
	}
	if matches == 0 {
		return PackedRead{}, false, false
	}
	if matches > 1 {
		return PackedRead{}, false, true
	}

	overlapLen := len(mate1.Bases) - matchStart
	tailBases := rcMate2Bases[overlapLen:]
	tailQuals := rcMate2Quals[overlapLen:]

	merged = PackedRead{
		ID:    mate1.PairID(),
		Bases: append(append([]byte{}, mate1.Bases...), tailBases...),
		Quals: append(append([]byte{}, mate1.Quals...), tailQuals...),
	}
	return merged, true, false
}

// MergeAll runs MergeOverlap over every consecutive pair in store in place
// (spec.md section 6's merge-reads preprocessing stage, run once before the
// k-mer round schedule starts -- grounded on original_source/src/main.cpp's
// single merge_reads call ahead of its per-k count_kmers loop, not repeated
// per round). A successful merge overwrites mate1 with the merged sequence
// and shrinks mate2 to a single placeholder base, mirroring
// merge_reads.cpp's add_read(...,"N",...) convention for the un-merged
// slot: both ids stay present so the pairing invariant (spec.md section 3,
// "read id i and id -i ... both always flow together") still holds for
// every downstream consumer. Returns how many pairs merged and how many hit
// spec.md section 7's ambiguous-overlap recoverable case; pairs with no
// overlap at all are left untouched and are not counted as an error.
func MergeAll(store *Store, minOverlap int) (merged int, ambiguous int) {
	rs := store.reads
	for i := 0; i+1 < len(rs); i += 2 {
		mate1, mate2 := rs[i], rs[i+1]
		if mate1.PairID() != mate2.PairID() {
			continue // not a consecutive pair (shouldn't happen for a freshly ingested store); leave untouched.
		}
		m, ok, amb := MergeOverlap(mate1, mate2, minOverlap)
		if amb {
			ambiguous++
		}
		if !ok {
			continue
		}
		rs[i].Bases, rs[i].Quals = m.Bases, m.Quals
		rs[i+1].Bases = []byte{BaseN}
		rs[i+1].Quals = []byte{0}
		merged++
	}
	return merged, ambiguous
}

func complement(code byte) byte {
	if code > 3 {
		return code
	}
	return bnt.Complement(code)
}

func basesEqual(a, b []byte) bool {
	return utils.BytesEqual2(a, b)
}
