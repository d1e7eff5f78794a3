// Package contigstore implements the contig store (C5, spec.md section
// 4.4): an ordered per-worker sequence of contigs with global, contiguous
// ids, plus FASTA load/dump. Headers follow spec.md section 6's pinned
// `>Contig<id> <depth>` external format. Loading's byte-range repartition
// and dumping's zstd-compressed-at-rest option are grounded on the
// teacher's constructdbg.go WriteEdgesToFn/WritefaRecord (fmt.Fprintf
// header into a klauspost/compress/zstd writer) and constructcf.go's
// zstd.NewReader decompression path.
package contigstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"mhmgo/cluster"
)

// Contig is one assembled sequence, per spec.md section 3.
type Contig struct {
	ID    int64
	Seq   string
	Depth float64
}

// Store is one rank's ordered sequence of contigs.
type Store struct {
	contigs []Contig
}

// New constructs an empty Store.
func New() *Store {
	return &Store{}
}

// Add appends ctg, leaving ID untouched -- callers assign ids via
// AssignIDs before a contig is durable output (spec.md section 3: "ids are
// assigned by an exclusive prefix-sum over workers").
func (s *Store) Add(ctg Contig) {
	s.contigs = append(s.contigs, ctg)
}

// Size returns the number of contigs currently held.
func (s *Store) Size() int { return len(s.contigs) }

// Clear empties the store, e.g. at the start of the next contigging round.
func (s *Store) Clear() { s.contigs = nil }

// All returns every contig currently held, in store order.
func (s *Store) All() []Contig { return s.contigs }

// AssignIDs gives every contig in the store a globally unique, contiguous
// id via an exclusive prefix-sum over workers on domain (spec.md section
// 3). Every rank must call this exactly once per round, after all local
// contigs have been Add()ed and before any dump.
func (s *Store) AssignIDs(domain *cluster.AtomicDomain) {
	base := domain.FetchAdd(int64(len(s.contigs)))
	for i := range s.contigs {
		s.contigs[i].ID = base + int64(i)
	}
}

// SetSeq overwrites the sequence of the contig identified by id (its Depth
// is left untouched), reporting whether a contig with that id was found.
// Used by the local-assembly extension step (spec.md section 4.6) to write
// extended ends back into the store after AssignIDs has already run.
func (s *Store) SetSeq(id int64, seq string) bool {
	for i := range s.contigs {
		if s.contigs[i].ID == id {
			s.contigs[i].Seq = seq
			return true
		}
	}
	return false
}

func isCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// DumpToFasta writes every contig at least minLen bases long to path, one
// per record, sequence in canonical orientation (spec.md section 3: "the
// lexicographically smaller of sequence and its reverse complement"),
// header `>Contig<id> <depth>` exactly as spec.md section 6 pins for the
// contig-output external interface. A ".zst" path is written through a
// zstd.Writer at the teacher's constructdbg.go encoder settings
// (single-threaded, CRC off, fastest level -- this data is regenerated
// every round, not archived).
func (s *Store) DumpToFasta(path string, minLen int) error {
	fp, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("contigstore.DumpToFasta: %w", err)
	}
	defer fp.Close()

	var w io.Writer = fp
	var zw *zstd.Encoder
	if isCompressed(path) {
		zw, err = zstd.NewWriter(fp, zstd.WithEncoderCRC(false), zstd.WithEncoderConcurrency(1), zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return fmt.Errorf("contigstore.DumpToFasta: %w", err)
		}
		defer zw.Close()
		w = zw
	}

	buf := bufio.NewWriterSize(w, 1<<20)
	for _, ctg := range s.contigs {
		if len(ctg.Seq) < minLen {
			continue
		}
		seq := canonicalOrientation(ctg.Seq)
		if _, err := fmt.Fprintf(buf, ">Contig%d %.4f\n%s\n", ctg.ID, ctg.Depth, seq); err != nil {
			return fmt.Errorf("contigstore.DumpToFasta: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("contigstore.DumpToFasta: %w", err)
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}

// LoadFromFasta loads the caller's byte-range shard of path's contigs into
// the store (spec.md section 4.4): rank r reads [r*S/(W), (r+1)*S/W) of the
// uncompressed byte stream, advances to the next contig header, and stops
// at the first header at-or-past its upper bound, so every contig is
// ingested by exactly one rank regardless of W. A ".zst" path is not
// byte-ranged: zstd streams aren't seekable, so every rank decodes the
// whole stream and keeps the records whose index i satisfies i%W == rank
// (loadShardFromStream).
func (s *Store) LoadFromFasta(path string, rank, w int) error {
	fp, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("contigstore.LoadFromFasta: %w", err)
	}
	defer fp.Close()

	var r io.Reader = fp
	if isCompressed(path) {
		zr, err := zstd.NewReader(fp, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("contigstore.LoadFromFasta: %w", err)
		}
		defer zr.Close()
		r = zr
		return loadShardFromStream(s, r, rank, w)
	}

	info, err := fp.Stat()
	if err != nil {
		return fmt.Errorf("contigstore.LoadFromFasta: %w", err)
	}
	size := info.Size()
	lo := size * int64(rank) / int64(w)
	hi := size * int64(rank+1) / int64(w)
	if _, err := fp.Seek(lo, io.SeekStart); err != nil {
		return fmt.Errorf("contigstore.LoadFromFasta: %w", err)
	}
	return loadRange(s, fp, lo, hi, rank > 0)
}

// loadShardFromStream is the non-seekable fallback: every rank decodes the
// whole stream but keeps only the records whose index i satisfies
// i%w == rank, a round-robin split that doesn't need byte offsets.
func loadShardFromStream(s *Store, r io.Reader, rank, w int) error {
	all := parseFasta(bufio.NewReaderSize(r, 1<<20))
	for i, ctg := range all {
		if i%w == rank {
			s.Add(ctg)
		}
	}
	return nil
}

// loadRange reads from fp (already positioned at lo), skips forward to the
// next contig header if skipToHeader (the bytes skipped are the tail of a
// record the previous rank owns; the record at that header belongs to this
// rank), then reads whole records until a header at or past hi is seen --
// spec.md section 4.4's "advances to the next contig header ... stops at
// the first header past its upper bound".
func loadRange(s *Store, fp *os.File, lo, hi int64, skipToHeader bool) error {
	br := bufio.NewReaderSize(fp, 1<<20)
	pos := lo
	if skipToHeader {
		for {
			b, err := br.ReadByte()
			if err != nil {
				return nil
			}
			pos++
			if b == '>' {
				if err := br.UnreadByte(); err != nil {
					return err
				}
				pos--
				break
			}
		}
	}

	var id int64
	var depth float64
	var seq strings.Builder
	haveRecord := false
	flush := func() {
		if haveRecord {
			s.Add(Contig{ID: id, Seq: seq.String(), Depth: depth})
		}
		seq.Reset()
		haveRecord = false
	}

	for {
		hdrPos := pos
		line, err := br.ReadString('\n')
		pos += int64(len(line))
		trimmed := strings.TrimRight(line, "\n")
		if len(trimmed) > 0 && trimmed[0] == '>' {
			if hdrPos >= hi {
				flush()
				return nil
			}
			flush()
			id, depth = parseHeader(trimmed)
			haveRecord = true
		} else if haveRecord {
			seq.WriteString(trimmed)
		}
		if err != nil {
			flush()
			return nil
		}
	}
}

// parseHeader parses spec.md section 6's pinned contig header
// `>Contig<id> <depth>`, e.g. ">Contig42 12.3400".
func parseHeader(line string) (int64, float64) {
	body := strings.TrimPrefix(line[1:], "Contig")
	fields := strings.SplitN(body, " ", 2)
	id, _ := strconv.ParseInt(fields[0], 10, 64)
	var depth float64
	if len(fields) > 1 {
		depth, _ = strconv.ParseFloat(fields[1], 64)
	}
	return id, depth
}

func parseFasta(br *bufio.Reader) []Contig {
	var out []Contig
	var id int64
	var depth float64
	var seq strings.Builder
	haveRecord := false
	flush := func() {
		if haveRecord {
			out = append(out, Contig{ID: id, Seq: seq.String(), Depth: depth})
		}
		seq.Reset()
		haveRecord = false
	}
	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\n")
		if len(line) > 0 && line[0] == '>' {
			flush()
			id, depth = parseHeader(line)
			haveRecord = true
		} else if haveRecord {
			seq.WriteString(line)
		}
		if err != nil {
			flush()
			break
		}
	}
	return out
}

func canonicalOrientation(seq string) string {
	rc := revcomp(seq)
	if rc < seq {
		return rc
	}
	return seq
}

func revcomp(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		out[len(seq)-1-i] = complementBase(seq[i])
	}
	return string(out)
}

func complementBase(b byte) byte {
	switch b {
	case 'A':
		return 'T'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	case 'T':
		return 'A'
	default:
		return b
	}
}
