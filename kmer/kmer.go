// Package kmer implements the canonical, 2-bit-packed k-mer type used
// throughout the pipeline. Packing and neighbour-derivation follow the
// same shape as the teacher's constructcf.KmerBnt / GetReadBntKmer /
// GetNextKmer / GetPreviousKmer / ReverseComplet, generalized to expose
// the stable hash and minimizer hash spec.md section 3 requires.
package kmer

import (
	"fmt"

	"github.com/cespare/xxhash"

	"mhmgo/bnt"
)

// Kmer is a canonical, packed nucleotide sequence: two bits per base,
// packed big-endian into a []uint64, most significant base first.
type Kmer struct {
	Seq []uint64
	Len int
}

func wordsFor(length int) int {
	return (length + bnt.NumBaseInUint64 - 1) / bnt.NumBaseInUint64
}

// FromBytes packs kmerLen bases starting at startPos in seq (2-bit codes,
// as produced by bnt.CharToCode) into a Kmer.
func FromBytes(seq []byte, startPos, kmerLen int) Kmer {
	k := Kmer{Len: kmerLen, Seq: make([]uint64, wordsFor(kmerLen))}
	for i := 0; i < kmerLen; i++ {
		w := i / bnt.NumBaseInUint64
		k.Seq[w] <<= bnt.NumBitsInBase
		k.Seq[w] |= uint64(seq[startPos+i])
	}
	return k
}

// ParseString packs an ASCII base string into a Kmer, validating alphabet.
func ParseString(s string) (Kmer, error) {
	codes := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c, err := bnt.CharToCode(s[i])
		if err != nil {
			return Kmer{}, fmt.Errorf("kmer.ParseString: %w", err)
		}
		codes[i] = c
	}
	return FromBytes(codes, 0, len(s)), nil
}

// String unpacks the Kmer back to an ASCII base string.
func (k Kmer) String() string {
	out := make([]byte, k.Len)
	tmp := make([]uint64, len(k.Seq))
	copy(tmp, k.Seq)
	for i := k.Len - 1; i >= 0; i-- {
		w := i / bnt.NumBaseInUint64
		base := tmp[w] & bnt.BaseMask
		out[i] = bnt.CodeToChar(byte(base))
		tmp[w] >>= bnt.NumBitsInBase
	}
	return string(out)
}

// Clone returns a deep copy, since Seq is a slice.
func (k Kmer) Clone() Kmer {
	c := Kmer{Len: k.Len, Seq: make([]uint64, len(k.Seq))}
	copy(c.Seq, k.Seq)
	return c
}

// Less reports whether k sorts strictly before o, comparing length then
// packed words most-significant-word first (mirrors KmerBnt.BiggerThan,
// inverted).
func (k Kmer) Less(o Kmer) bool {
	if k.Len != o.Len {
		return k.Len < o.Len
	}
	for i := 0; i < len(k.Seq); i++ {
		if k.Seq[i] != o.Seq[i] {
			return k.Seq[i] < o.Seq[i]
		}
	}
	return false
}

// Equal reports structural equality.
func (k Kmer) Equal(o Kmer) bool {
	if k.Len != o.Len || len(k.Seq) != len(o.Seq) {
		return false
	}
	for i := range k.Seq {
		if k.Seq[i] != o.Seq[i] {
			return false
		}
	}
	return true
}

// ReverseComplement mirrors constructcf.ReverseComplet.
func (k Kmer) ReverseComplement() Kmer {
	rc := Kmer{Len: k.Len, Seq: make([]uint64, len(k.Seq))}
	tmp := make([]uint64, len(k.Seq))
	copy(tmp, k.Seq)
	for i := k.Len - 1; i >= 0; i-- {
		w := i / bnt.NumBaseInUint64
		base := tmp[w] & bnt.BaseMask
		tmp[w] >>= bnt.NumBitsInBase
		outIdx := k.Len - i - 1
		ow := outIdx / bnt.NumBaseInUint64
		rc.Seq[ow] <<= bnt.NumBitsInBase
		rc.Seq[ow] |= uint64(bnt.Complement(byte(base)))
	}
	return rc
}

// Canonical returns the lexicographically smaller of k and its reverse
// complement, and whether k itself was already canonical.
func Canonical(k Kmer) (canon Kmer, wasCanonical bool) {
	rc := k.ReverseComplement()
	if rc.Less(k) {
		return rc, false
	}
	return k, true
}

// Front returns the first base's 2-bit code.
func (k Kmer) Front() byte {
	// Word 0 holds the first min(Len, 32) bases, right-aligned.
	n := k.Len
	if n > bnt.NumBaseInUint64 {
		n = bnt.NumBaseInUint64
	}
	shift := uint(n-1) * bnt.NumBitsInBase
	return byte((k.Seq[0] >> shift) & bnt.BaseMask)
}

// Back returns the last base's 2-bit code.
func (k Kmer) Back() byte {
	return byte(k.Seq[len(k.Seq)-1] & bnt.BaseMask)
}

// lastWordBaseOffset returns the bit offset of the most-significant base
// within the last (least-significant-index... see Seq layout) word of a
// packed kmer of the given length.
func lastWordBaseOffset(length int) uint {
	n := uint(length) % bnt.NumBaseInUint64
	if n == 0 {
		n = bnt.NumBaseInUint64
	}
	return (n - 1) * bnt.NumBitsInBase
}

// ExtendRight drops the first base and appends base: a whole-array left
// shift by one base with base filled in at the bottom, top base discarded.
// Mirrors constructcf.GetNextKmer's same-length-shift branch.
func (k Kmer) ExtendRight(base byte) Kmer {
	next := Kmer{Len: k.Len, Seq: make([]uint64, len(k.Seq))}
	nLen := len(k.Seq)
	carry := uint64(base)
	for i := nLen - 1; i >= 0; i-- {
		if i == nLen-1 {
			offset := lastWordBaseOffset(k.Len)
			mask := uint64(1)<<offset - 1
			next.Seq[i] = (k.Seq[i] & mask << bnt.NumBitsInBase) | carry
			carry = (k.Seq[i] >> offset) & bnt.BaseMask
		} else {
			next.Seq[i] = (k.Seq[i] << bnt.NumBitsInBase) | carry
			carry = (k.Seq[i] >> ((bnt.NumBaseInUint64 - 1) * bnt.NumBitsInBase)) & bnt.BaseMask
		}
	}
	return next
}

// ExtendLeft prepends base and drops the last base: a whole-array right
// shift by one base with base filled in at the top, bottom base discarded.
// Mirrors constructcf.GetPreviousKmer's same-length-shift branch.
func (k Kmer) ExtendLeft(base byte) Kmer {
	prev := Kmer{Len: k.Len, Seq: make([]uint64, len(k.Seq))}
	nLen := len(k.Seq)
	carry := uint64(base)
	for i := 0; i < nLen; i++ {
		if i == nLen-1 {
			offset := lastWordBaseOffset(k.Len)
			prev.Seq[i] = k.Seq[i] >> bnt.NumBitsInBase
			prev.Seq[i] |= carry << offset
		} else {
			tailBase := k.Seq[i] & bnt.BaseMask
			prev.Seq[i] = k.Seq[i] >> bnt.NumBitsInBase
			prev.Seq[i] |= carry << ((bnt.NumBaseInUint64 - 1) * bnt.NumBitsInBase)
			carry = tailBase
		}
	}
	return prev
}

// Hash returns the stable 64-bit hash used for DHT sharding
// (spec.md section 3: "shard = hash(kmer) mod W").
func (k Kmer) Hash() uint64 {
	h := xxhash.New()
	for _, w := range k.Seq {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(w >> (8 * i))
		}
		h.Write(b[:])
	}
	return h.Sum64()
}

// MinimizerHash is the cryptographically-weak minimizer hash used by the
// shuffler (spec.md section 3), computed over the same packed
// representation but with a distinct seed suffix so it doesn't collide
// with Hash's sharding role.
func (k Kmer) MinimizerHash() uint64 {
	h := xxhash.New()
	h.Write([]byte{0xA5})
	for _, w := range k.Seq {
		var b [8]byte
		for i := 0; i < 8; i++ {
			b[i] = byte(w >> (8 * i))
		}
		h.Write(b[:])
	}
	return h.Sum64()
}

// MinimizerWindow returns the index of the k-mer with the smallest
// MinimizerHash among kmers[start:start+w]. Grounded on the teacher's
// mapDBG.GetMinSeed / GetMinKmerFromWidth sliding-window-minimum idiom,
// generalized from a fixed 16-bit seed to arbitrary Kmer.
func MinimizerWindow(kmers []Kmer, start, w int) int {
	best := start
	bestHash := kmers[start].MinimizerHash()
	end := start + w
	if end > len(kmers) {
		end = len(kmers)
	}
	for i := start + 1; i < end; i++ {
		h := kmers[i].MinimizerHash()
		if h < bestHash {
			bestHash = h
			best = i
		}
	}
	return best
}

// AllKmers slides a length-k window over an already-2-bit-coded sequence
// and returns every k-mer (not yet canonicalized).
func AllKmers(codes []byte, k int) []Kmer {
	if len(codes) < k {
		return nil
	}
	out := make([]Kmer, 0, len(codes)-k+1)
	cur := FromBytes(codes, 0, k)
	out = append(out, cur.Clone())
	for i := k; i < len(codes); i++ {
		cur = cur.ExtendRight(codes[i])
		out = append(out, cur.Clone())
	}
	return out
}
