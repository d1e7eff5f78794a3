// Package cuckoofilter adapts the teacher's fingerprint-and-count cuckoo
// filter (cuckoofilter.go) into the optional use_qf first-stage k-mer
// filter spec.md section 6 names. Rehashed onto cespare/xxhash (the
// teacher's go.mod never actually lists github.com/dgryski/go-metro, its
// hashing dependency, nor google/brotli/go/cbrotli -- see DESIGN.md).
// Buckets are now per-rank-owned (spec.md section 5: "no shared-memory
// threading inside the core"), so the teacher's cgo CompareAndSwapUint16
// shim has no concurrent writer to defend against and is replaced with a
// plain read-modify-write.
package cuckoofilter

import (
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/cespare/xxhash"
)

const (
	numFPBits = 13
	numCBits  = 3
	fpMask    = 0x1FFF
	maxCount  = (1 << numCBits) - 1
)

// BucketSize is the number of (fingerprint, count) slots per bucket.
const BucketSize = 4

// MaxKickCycles bounds how many times Insert will evict and relocate an
// existing fingerprint before giving up (mirrors teacher's KMaxCount).
const MaxKickCycles = 500

// item packs a 13-bit fingerprint and a 3-bit saturating count into a
// single uint16, matching the teacher's CFItem layout.
type item uint16

func makeItem(fp uint16, count uint16) item {
	return item(fp)<<numCBits | item(count)
}

func (it item) count() uint16 { return uint16(it) & maxCount }
func (it item) finger() uint16 {
	return uint16(it) >> numCBits
}
func (it item) withCount(c uint16) item {
	return makeItem(it.finger(), c)
}

type bucket struct {
	slots [BucketSize]item
}

func (b *bucket) contains(fp uint16) bool {
	for _, it := range b.slots {
		if it.count() > 0 && it.finger() == fp {
			return true
		}
	}
	return false
}

// Filter is a single-rank-owned cuckoo filter used as a cheap probabilistic
// first-stage gate ahead of kmerdht's exact table: a k-mer is only
// promoted to the real table once the filter has seen it twice (teacher's
// ParaConstructCF, "count == 2" gate), which keeps one-off
// sequencing-error k-mers out of the expensive exact table.
type Filter struct {
	buckets []bucket
	n       uint64
}

func upperPowerOf2(x uint64) uint64 {
	if x == 0 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

// New constructs a Filter sized to hold roughly maxNumKeys entries.
func New(maxNumKeys uint64) *Filter {
	n := upperPowerOf2(maxNumKeys) / BucketSize
	if n == 0 {
		n = 1
	}
	return &Filter{buckets: make([]bucket, n), n: n}
}

func (f *Filter) indexHash(h uint64) uint64 {
	return h % f.n
}

func fingerprint(data []byte) uint16 {
	h := xxhash.Sum64(data)
	return uint16(h%fpMask) + 1
}

func (f *Filter) altIndex(index uint64, fp uint16) uint64 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], fp)
	h := xxhash.Sum64(append([]byte{0xC7}, b[:]...))
	return (index ^ h) % f.n
}

// Insert records one observation of key (typically a packed k-mer's byte
// encoding). It returns the count observed for key's fingerprint *before*
// this insert (capped at maxCount) and whether the insert succeeded
// (it only fails after exhausting MaxKickCycles relocation attempts, which
// in practice means the filter is overfull).
func (f *Filter) Insert(key []byte) (priorCount int, ok bool) {
	h := xxhash.Sum64(key)
	i1 := f.indexHash(h)
	fp := fingerprint(key)
	i2 := f.altIndex(i1, fp)

	if c, found := f.bumpIfPresent(i1, fp); found {
		return c, true
	}
	if c, found := f.bumpIfPresent(i2, fp); found {
		return c, true
	}
	if f.addEmpty(i1, fp) || f.addEmpty(i2, fp) {
		return 0, true
	}
	return 0, f.insertWithKickout(i1, i2, fp)
}

func (f *Filter) bumpIfPresent(idx uint64, fp uint16) (int, bool) {
	b := &f.buckets[idx]
	for i := range b.slots {
		if b.slots[i].count() > 0 && b.slots[i].finger() == fp {
			prior := b.slots[i].count()
			if prior < maxCount {
				b.slots[i] = b.slots[i].withCount(prior + 1)
			}
			return int(prior), true
		}
	}
	return 0, false
}

func (f *Filter) addEmpty(idx uint64, fp uint16) bool {
	b := &f.buckets[idx]
	for i := range b.slots {
		if b.slots[i].count() == 0 {
			b.slots[i] = makeItem(fp, 1)
			return true
		}
	}
	return false
}

func (f *Filter) insertWithKickout(i1, i2 uint64, fp uint16) bool {
	idx := i1
	if rand.Intn(2) == 1 {
		idx = i2
	}
	victimSlot := 0
	minCount := uint16(math.MaxUint16)
	for i := 0; i < BucketSize; i++ {
		c := f.buckets[idx].slots[i].count()
		if c < minCount {
			minCount = c
			victimSlot = i
		}
	}
	kicked := f.buckets[idx].slots[victimSlot]
	f.buckets[idx].slots[victimSlot] = makeItem(fp, 1)

	for cycle := 0; cycle < MaxKickCycles; cycle++ {
		idx = f.altIndex(idx, kicked.finger())
		if f.addEmpty(idx, kicked.finger()) {
			return true
		}
		victimSlot = rand.Intn(BucketSize)
		next := f.buckets[idx].slots[victimSlot]
		f.buckets[idx].slots[victimSlot] = kicked
		kicked = next
	}
	return false
}

// Contains reports whether key has ever been observed (subject to the
// filter's false-positive rate).
func (f *Filter) Contains(key []byte) bool {
	h := xxhash.Sum64(key)
	i1 := f.indexHash(h)
	fp := fingerprint(key)
	i2 := f.altIndex(i1, fp)
	return f.buckets[i1].contains(fp) || f.buckets[i2].contains(fp)
}

// Count returns the saturating observation count recorded for key, or 0 if
// it has never been seen.
func (f *Filter) Count(key []byte) int {
	h := xxhash.Sum64(key)
	i1 := f.indexHash(h)
	fp := fingerprint(key)
	for _, it := range f.buckets[i1].slots {
		if it.count() > 0 && it.finger() == fp {
			return int(it.count())
		}
	}
	i2 := f.altIndex(i1, fp)
	for _, it := range f.buckets[i2].slots {
		if it.count() > 0 && it.finger() == fp {
			return int(it.count())
		}
	}
	return 0
}
