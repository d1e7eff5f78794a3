// Package localassm implements the local-assembly contig extender (C7,
// spec.md section 4.6): for each contig, extend both ends by iteratively
// walking a small k-mer graph built from the reads that align near that
// end. Grounded directly on
// original_source/src/localassm/localassm_core.cpp's count_mers/walk_mers/
// iterative_walks/extend_ctg, sharing rule set R1 with kmerdht via package
// rules (localassm_core.cpp's MerFreqs::set_ext and kcount's extension
// choice are the same decision table parameterized only by depth).
package localassm

import (
	"strings"

	"mhmgo/bnt"
	"mhmgo/rules"
	"mhmgo/utils"
)

// ReadSeq is one read's sequence and per-base quality as consumed by a
// walk: the whole read, not trimmed to the portion past a contig's end,
// reverse-complemented by the caller where its strand requires -- matches the
// teacher/pack's reads.PackedRead quality convention (already
// offset-adjusted to a 0-based Phred scale).
type ReadSeq struct {
	ReadID int64
	Seq    string
	Quals  []byte
}

// Config carries every constant localassm_core.cpp's procedure pins
// (spec.md section 4.6 / section 6). Values without an explicit number in
// spec.md take the teacher-adjacent defaults noted per field.
type Config struct {
	// KmerLen is this round's contigging k, the walk's starting mer_len.
	KmerLen int
	// MaxKmerLen caps mer_len growth on an upshift (fork/repeat).
	MaxKmerLen int
	// MinKmerLen is LASSM_MIN_KMER_LEN, the downshift floor. Default 15
	// (unspecified by spec.md; a conservative floor well below any
	// supported contigging k).
	MinKmerLen int
	// ShiftSize is LASSM_SHIFT_SIZE, the mer_len step per iteration.
	// Default 5.
	ShiftSize int
	// WalkLenLimit bounds a single walk's length (spec.md section 4.6
	// step 6, "e.g., insert_avg + 3*insert_stddev").
	WalkLenLimit int
	// MaxCountMersReads caps how many reads seed the k-mer vote hash per
	// walk (spec.md section 4.6 step 2, "e.g., 2000").
	MaxCountMersReads int
	// MinQual/MinHiQual are Q_LOW/Q_HI (spec.md section 4.6 step 2:
	// "20"/"30").
	MinQual   byte
	MinHiQual byte
}

func (c Config) minKmerLen() int {
	if c.MinKmerLen > 0 {
		return c.MinKmerLen
	}
	return 15
}

func (c Config) shiftSize() int {
	if c.ShiftSize > 0 {
		return c.ShiftSize
	}
	return 5
}

func (c Config) maxCountMersReads() int {
	if c.MaxCountMersReads > 0 {
		return c.MaxCountMersReads
	}
	return 2000
}

func (c Config) minQual() byte {
	if c.MinQual > 0 {
		return c.MinQual
	}
	return 20
}

func (c Config) minHiQual() byte {
	if c.MinHiQual > 0 {
		return c.MinHiQual
	}
	return 30
}

// CtgWithReads is one contig plus the reads aligned past each end, the
// working unit extend_ctg mutates in place.
type CtgWithReads struct {
	CID        int64
	Seq        string
	Depth      float64
	ReadsLeft  []ReadSeq
	ReadsRight []ReadSeq
}

// walkTerm mirrors localassm_core.cpp's walk-result alphabet: 'X' dead-end,
// 'F' fork, 'R' repeat (cycle detected).
const (
	walkDeadEnd = 'X'
	walkFork    = 'F'
	walkRepeat  = 'R'
)

// countMers builds the mer_len k-mer vote hash over at most
// Config.MaxCountMersReads reads and resolves each entry's extension base
// via rule set R1 (localassm_core.cpp's count_mers).
func countMers(reads []ReadSeq, merLen int, depth float64, cfg Config) map[string]byte {
	type accum struct {
		counts rules.Counts
	}
	votes := make(map[string]*accum)

	n := utils.MinInt(len(reads), cfg.maxCountMersReads())
	for i := 0; i < n; i++ {
		r := reads[i]
		if merLen >= len(r.Seq) {
			continue
		}
		numMers := len(r.Seq) - merLen
		for start := 0; start < numMers; start++ {
			mer := r.Seq[start : start+merLen]
			if strings.ContainsRune(mer, 'N') {
				continue
			}
			extPos := start + merLen
			ext := r.Seq[extPos]
			if ext == 'N' {
				continue
			}
			qual := r.Quals[extPos]
			idx := baseIndex(ext)
			if idx < 0 {
				continue
			}
			a, ok := votes[mer]
			if !ok {
				a = &accum{}
				votes[mer] = a
			}
			if qual >= cfg.minQual() {
				a.counts[idx].LowQ++
			}
			if qual >= cfg.minHiQual() {
				a.counts[idx].HiQ++
			}
		}
	}

	ext := make(map[string]byte, len(votes))
	for mer, a := range votes {
		ext[mer] = rules.Choose(a.counts, depth)
	}
	return ext
}

func baseIndex(b byte) int {
	for i, c := range rules.Bases {
		if c == b {
			return i
		}
	}
	return -1
}

// walkMers repeatedly looks up the current mer's chosen extension,
// appending it and sliding the window, until it hits a dead end, a fork, a
// previously-visited mer (repeat), or walkLenLimit steps
// (localassm_core.cpp's walk_mers).
func walkMers(mers map[string]byte, seed string, merLen, walkLenLimit int) (walk string, term byte) {
	visited := make(map[string]bool)
	mer := seed
	term = walkDeadEnd
	for step := 0; step < walkLenLimit; step++ {
		if visited[mer] {
			term = walkRepeat
			break
		}
		visited[mer] = true
		ext, ok := mers[mer]
		if !ok {
			term = walkDeadEnd
			break
		}
		if ext == rules.Fork || ext == rules.NoExt {
			if ext == rules.Fork {
				term = walkFork
			} else {
				term = walkDeadEnd
			}
			break
		}
		mer = mer[1:] + string(ext)
		walk += string(ext)
	}
	return walk, term
}

// iterativeWalks tries mer_len values from cfg.KmerLen outward (shrinking
// on a dead end, growing on a fork/repeat, per spec.md section 4.6 step 7)
// and keeps the longest walk seen across every attempt
// (localassm_core.cpp's iterative_walks).
func iterativeWalks(seq string, depth float64, reads []ReadSeq, cfg Config) string {
	maxMerLen := cfg.MaxKmerLen
	if maxMerLen <= 0 || maxMerLen > len(seq) {
		maxMerLen = len(seq)
	}
	minMerLen := cfg.minKmerLen()
	walkLenLimit := cfg.WalkLenLimit
	if walkLenLimit <= 0 {
		walkLenLimit = 1000
	}

	longest := ""
	shift := 0
	for merLen := cfg.KmerLen; merLen >= minMerLen && merLen <= maxMerLen; merLen += shift {
		if merLen > len(seq) {
			break
		}
		mers := countMers(reads, merLen, depth, cfg)
		seed := seq[len(seq)-merLen:]
		walk, term := walkMers(mers, seed, merLen, walkLenLimit)
		if len(walk) > len(longest) {
			longest = walk
		}
		if term == walkDeadEnd {
			if shift == cfg.shiftSize() {
				break
			}
			shift = -cfg.shiftSize()
		} else {
			if shift == -cfg.shiftSize() {
				break
			}
			if merLen > len(seq) {
				break
			}
			shift = cfg.shiftSize()
		}
	}
	return longest
}

// Extend mutates ctg.Seq in place, appending a right-side walk and
// prepending a (reverse-complemented) left-side walk, exactly
// localassm_core.cpp's extend_ctg (right before left, since the left walk
// needs the contig reverse-complemented first).
func Extend(ctg *CtgWithReads, cfg Config) {
	if len(ctg.ReadsRight) > 0 {
		rightWalk := iterativeWalks(ctg.Seq, ctg.Depth, ctg.ReadsRight, cfg)
		if rightWalk != "" {
			ctg.Seq += rightWalk
		}
	}
	if len(ctg.ReadsLeft) > 0 {
		seqRC := revcomp(ctg.Seq)
		leftWalk := iterativeWalks(seqRC, ctg.Depth, ctg.ReadsLeft, cfg)
		if leftWalk != "" {
			ctg.Seq = revcomp(leftWalk) + ctg.Seq
		}
	}
}

func revcomp(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c, err := bnt.CharToCode(seq[i])
		if err != nil {
			out[len(seq)-1-i] = seq[i]
			continue
		}
		out[len(seq)-1-i] = bnt.CodeToChar(bnt.Complement(c))
	}
	return string(out)
}
