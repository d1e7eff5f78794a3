// Package ingest implements spec.md section 6's external interfaces: read
// input (paired FASTQ, optionally gzipped) and alignment input (pre-sorted
// SAM/BAM records for C7). These sit outside the core distributed packages
// because they are pipeline-internal I/O, not distributed primitives --
// grounded on the teacher's GetRawReads (mapDBG.go) for the
// biogo-reader-plus-os.Open shape, generalized from
// github.com/biogo/biogo/io/seqio/fasta to its sibling
// github.com/biogo/biogo/io/seqio/fastq for quality-aware records.
package ingest

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio/fastq"
	"github.com/biogo/biogo/seq/linear"

	"mhmgo/reads"
)

// Config controls how FASTQ pair ids are derived and how input paths are
// interpreted (spec.md section 6: "Read input").
type Config struct {
	// QualOffset is 33 or 64, per spec.md section 6.
	QualOffset int
	// SequentialIDs gives a sequential pair id to any pair whose read name
	// does not parse as an integer, instead of dropping that pair; names
	// that do parse keep their parsed id. Spec.md section 1's Non-goals
	// explicitly make no guarantee about preserving input read
	// identifiers, so this is a legitimate default for inputs whose names
	// aren't bare integers; off by default, matching the teacher's
	// GetReadFileRecord convention of deriving numeric ids from the input
	// itself whenever the input actually carries them.
	SequentialIDs bool
}

// FastqPairSource shards a paired-read input across W ranks and yields
// rank r's shard as a reads.Store. Implementations must guarantee every
// pair is assigned to exactly one rank and both mates travel together
// (spec.md section 4.5 "Pairing invariant").
type FastqPairSource interface {
	// ReadShard returns this rank's reads plus a count of pairs dropped
	// because they carried a non-numeric id and Config.SequentialIDs was
	// off (a recoverable condition, spec.md section 7).
	ReadShard(rank, w int) (store *reads.Store, dropped int, err error)
}

// MultiPathPairSource concatenates several PathPairSources into one
// FastqPairSource, for spec.md section 1's "one or more sets of paired
// short-read sequencing files": each underlying source is sharded
// independently by its own pair-index modulo W, then the per-rank shards
// are concatenated, so a pair from set A and a pair from set B never
// collide onto different ranks for the same index.
type MultiPathPairSource struct {
	Sources []*PathPairSource
}

func NewMultiPathPairSource(sources ...*PathPairSource) *MultiPathPairSource {
	return &MultiPathPairSource{Sources: sources}
}

func (m *MultiPathPairSource) ReadShard(rank, w int) (*reads.Store, int, error) {
	out := reads.NewStore()
	dropped := 0
	for _, src := range m.Sources {
		shard, d, err := src.ReadShard(rank, w)
		if err != nil {
			return nil, 0, err
		}
		dropped += d
		for _, r := range shard.All() {
			out.Add(r)
		}
	}
	return out, dropped, nil
}

// PathPairSource reads one interleaved FASTQ file, or two files joined by
// ':' (spec.md section 6), optionally gzip-compressed (suffix ".gz").
// Sharding is by pair index modulo W -- the same index-round-robin
// fallback contigstore.loadShardFromStream uses for non-seekable streams,
// since FASTQ's variable-length records make a contigstore-style byte-range
// repartition impractical without a first pass over the whole file.
type PathPairSource struct {
	Path string
	Cfg  Config
}

// NewPathPairSource parses spec.md section 6's "interleaved file, or two
// files joined by ':'" path convention.
func NewPathPairSource(path string, cfg Config) *PathPairSource {
	return &PathPairSource{Path: path, Cfg: cfg}
}

func (p *PathPairSource) files() (string, string, bool) {
	if i := strings.IndexByte(p.Path, ':'); i >= 0 {
		return p.Path[:i], p.Path[i+1:], false
	}
	return p.Path, "", true
}

func openFastq(path string, offset int) (*fastq.Reader, io.Closer, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	var r io.Reader = fp
	closer := io.Closer(fp)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(fp)
		if err != nil {
			fp.Close()
			return nil, nil, fmt.Errorf("ingest: gzip %s: %w", path, err)
		}
		r = gz
		closer = multiCloser{gz, fp}
	}
	enc := alphabet.Sanger
	if offset == 64 {
		enc = alphabet.Illumina1_3
	}
	template := linear.NewQSeq("", nil, alphabet.DNA, enc)
	return fastq.NewReader(r, template), closer, nil
}

type multiCloser struct {
	inner io.Closer
	outer io.Closer
}

func (m multiCloser) Close() error {
	if err := m.inner.Close(); err != nil {
		m.outer.Close()
		return err
	}
	return m.outer.Close()
}

// readRecord reads one FASTQ record and returns its name, bases and
// 0-based-Phred qualities (already corrected for Cfg.QualOffset).
func (p *PathPairSource) readRecord(fq *fastq.Reader) (name string, bases []byte, quals []byte, err error) {
	s, err := fq.Read()
	if err != nil {
		return "", nil, nil, err
	}
	q, ok := s.(*linear.QSeq)
	if !ok {
		return "", nil, nil, fmt.Errorf("ingest: unexpected FASTQ record type %T", s)
	}
	name = q.Name()
	bases = make([]byte, len(q.Seq))
	quals = make([]byte, len(q.Seq))
	for i, ql := range q.Seq {
		bases[i] = byte(ql.L)
		quals[i] = byte(ql.Q) // fastq.Reader already decoded this via the template's Encoding, so it's 0-based Phred regardless of QualOffset.
	}
	return name, bases, quals, nil
}

// DumpMergedFastq writes store's reads back out as FASTQ, one four-line
// record per read, naming each "<pairid>/1" or "<pairid>/2" so
// pairIDFromName can parse it straight back on the next load (spec.md
// section 6's "Intermediate cache" <basename>-merged.fastq artifact,
// grounded on original_source/src/merge_reads.cpp's equivalent
// add_read("r"+to_string(read_id)+"/1", ...) write-back step -- the "r"
// prefix is dropped here since it served no purpose beyond that codebase's
// own id scheme and would only break this package's own name parser on
// reload). Writing this plain rather than through biogo's fastq.Writer
// mirrors contigstore.DumpToFasta's own hand-rolled FASTA writer: both are
// simple enough fixed line formats that a direct bufio.Writer is the idiom
// already used for this module's output side, biogo's readers covering the
// input side.
func DumpMergedFastq(path string, store *reads.Store, qualOffset int) error {
	fp, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ingest.DumpMergedFastq: %w", err)
	}
	defer fp.Close()

	buf := bufio.NewWriterSize(fp, 1<<20)
	for _, r := range store.All() {
		if _, err := fmt.Fprintf(buf, "@%d/%d\n%s\n+\n%s\n", r.PairID(), r.Mate(), reads.Seq(r), reads.QualString(r, qualOffset)); err != nil {
			return fmt.Errorf("ingest.DumpMergedFastq: %w", err)
		}
	}
	return buf.Flush()
}

// mateSuffix splits a read name into its pair-identifying base and which
// mate (1 or 2) it names, recognizing both the "/1"/"/2" suffix convention
// and the " 1:..."/" 2:..." space-delimited convention spec.md section 6
// lists side by side. ok is false when neither convention matches.
func mateSuffix(name string) (base string, mate int, ok bool) {
	if i := strings.IndexByte(name, ' '); i >= 0 {
		base, rest := name[:i], name[i+1:]
		switch {
		case strings.HasPrefix(rest, "1:"):
			return base, 1, true
		case strings.HasPrefix(rest, "2:"):
			return base, 2, true
		default:
			return "", 0, false
		}
	}
	switch {
	case strings.HasSuffix(name, "/1"):
		return strings.TrimSuffix(name, "/1"), 1, true
	case strings.HasSuffix(name, "/2"):
		return strings.TrimSuffix(name, "/2"), 2, true
	default:
		return "", 0, false
	}
}

// pairNamesConsistent checks that name1 and name2 name the two mates of the
// same pair per the "/1"/"/2" convention (spec.md section 6's read-name
// format), the malformed-input check spec.md section 7 requires: a pairing
// mismatch here means the input file itself is corrupt or mis-interleaved,
// not a per-pair condition to drop and count, so the caller fails the whole
// job rather than skipping the pair.
func pairNamesConsistent(name1, name2 string) bool {
	base1, mate1, ok1 := mateSuffix(name1)
	base2, mate2, ok2 := mateSuffix(name2)
	if !ok1 || !ok2 {
		// Neither convention applies (e.g. bare accession names shared by
		// both mates) -- fall back to requiring the names match exactly.
		return name1 == name2
	}
	return base1 == base2 && mate1 == 1 && mate2 == 2
}

// pairIDFromName extracts spec.md section 6's read-name convention (names
// end in "/1"/"/2" or " 1:.../ 2:..."; the two mates of a pair must differ
// only in that trailing digit) and returns the shared numeric id, or
// !ok whenever the name isn't numeric; the caller decides what to do then.
func pairIDFromName(name string) (int64, bool) {
	n := name
	if i := strings.IndexByte(n, ' '); i >= 0 {
		n = n[:i]
	}
	n = strings.TrimSuffix(n, "/1")
	n = strings.TrimSuffix(n, "/2")
	id, err := strconv.ParseInt(n, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ReadShard implements FastqPairSource: every pair whose index mod w ==
// rank is kept; both mates of a kept pair are always emitted together.
// Mate names are validated against the "/1","/2" pairing convention before
// anything else happens to the pair; a mismatch is malformed input and
// aborts the whole shard rather than being dropped and counted.
func (p *PathPairSource) ReadShard(rank, w int) (*reads.Store, int, error) {
	file1, file2, interleaved := p.files()
	offset := p.Cfg.QualOffset
	if offset == 0 {
		offset = 33
	}
	fq1, c1, err := openFastq(file1, offset)
	if err != nil {
		return nil, 0, err
	}
	defer c1.Close()

	var fq2 *fastq.Reader
	if !interleaved {
		var c2 io.Closer
		fq2, c2, err = openFastq(file2, offset)
		if err != nil {
			return nil, 0, err
		}
		defer c2.Close()
	}

	store := reads.NewStore()
	var seqID int64 = 1
	dropped := 0
	pairIdx := 0
	for {
		name1, bases1, quals1, err1 := p.readRecord(fq1)
		if err1 == io.EOF {
			break
		}
		if err1 != nil {
			return nil, 0, fmt.Errorf("ingest.ReadShard: %w", err1)
		}
		var name2 string
		var bases2, quals2 []byte
		if interleaved {
			name2, bases2, quals2, err = p.readRecord(fq1)
		} else {
			name2, bases2, quals2, err = p.readRecord(fq2)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("ingest.ReadShard: mate 2 for %s: %w", name1, err)
		}
		if !pairNamesConsistent(name1, name2) {
			return nil, 0, fmt.Errorf("ingest.ReadShard: malformed input: mate names %q and %q do not form a /1,/2 pair", name1, name2)
		}

		keep := pairIdx%w == rank
		pairIdx++
		if !keep {
			continue
		}

		pairID, ok := pairIDFromName(name1)
		if !ok {
			if !p.Cfg.SequentialIDs {
				dropped++
				continue
			}
			pairID = seqID
		}
		seqID++

		m1, err := reads.FromASCII(-pairID, bases1, quals1)
		if err != nil {
			return nil, 0, fmt.Errorf("ingest.ReadShard: %w", err)
		}
		m2, err := reads.FromASCII(pairID, bases2, quals2)
		if err != nil {
			return nil, 0, fmt.Errorf("ingest.ReadShard: %w", err)
		}
		if err := store.AddPair(m1, m2); err != nil {
			return nil, 0, fmt.Errorf("ingest.ReadShard: %w", err)
		}
	}
	return store, dropped, nil
}
