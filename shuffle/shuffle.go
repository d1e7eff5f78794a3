// Package shuffle implements the read shuffler (C6, spec.md section 4.5):
// after a contigging round builds contigs, it relocates every read pair to
// the worker owning the contig it matches, so the local-assembly extender
// (package localassm) operates on local data. Grounded directly on
// original_source/src/shuffle_reads.cpp's four-map pipeline
// (compute_kmer_to_cid_map, compute_cid_to_reads_map,
// compute_read_locations, move_reads_to_targets).
package shuffle

import (
	"encoding/binary"
	"math/rand"

	"github.com/cespare/xxhash"

	"mhmgo/aggstore"
	"mhmgo/bnt"
	"mhmgo/cluster"
	"mhmgo/contigstore"
	"mhmgo/kmer"
	"mhmgo/reads"
)

// Config carries the shuffle-specific knobs spec.md section 6/9 names.
type Config struct {
	// ShuffleKmerLen is the (short) k used only for read-to-contig
	// matching, independent of the round's contigging k.
	ShuffleKmerLen int
	// KmerStride subsamples a read's k-mers every KmerStride bases
	// instead of querying every one (spec.md section 4.5 step 2).
	KmerStride int
	// MaxReqBuff batches per-target kmer lookups before issuing the
	// round trip (spec.md section 4.5 step 2, "MAX_REQ_BUFF = 1000").
	MaxReqBuff int
	Agg        aggstore.Config
}

func (c Config) shuffleK() int {
	if c.ShuffleKmerLen > 0 {
		return c.ShuffleKmerLen
	}
	return 21
}

func (c Config) stride() int {
	if c.KmerStride > 0 {
		return c.KmerStride
	}
	return 32
}

func (c Config) maxReqBuff() int {
	if c.MaxReqBuff > 0 {
		return c.MaxReqBuff
	}
	return 1000
}

// Domains holds the two cross-round shared counters the shuffle needs: a
// sum of how many reads mapped to a contig (so every rank learns the
// global total), and a slot reservation counter for assigning contiguous
// target-rank ranges. Both must be freshly constructed per shuffle call and
// shared by reference across every rank (cluster.AtomicDomain has no
// reset).
type Domains struct {
	MappedCount *cluster.AtomicDomain
	ReadSlot    *cluster.AtomicDomain
}

// NewDomains constructs a fresh pair of zero-initialized domains.
func NewDomains() Domains {
	return Domains{MappedCount: cluster.NewAtomicDomain(0), ReadSlot: cluster.NewAtomicDomain(0)}
}

func kmerShard(k kmer.Kmer, w int) int {
	return int(k.Hash() % uint64(w))
}

func idShard(id int64, w int) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return int(xxhash.Sum64(b[:]) % uint64(w))
}

func toCodes(seq string) []byte {
	codes := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c, err := bnt.CharToCode(seq[i])
		if err != nil {
			c = reads.BaseN
		}
		codes[i] = c
	}
	return codes
}

type kmerCidMsg struct {
	kmer uint64
	cid  int64
}

type cidReadMsg struct {
	cid    int64
	readID int64
}

type readTargetMsg struct {
	readID int64
	target int
}

type readPairMsg struct {
	mate1, mate2 reads.PackedRead
}

// Engine owns one rank's shard of every distributed map the shuffle builds
// and tears down within a single call to Shuffle.
type Engine struct {
	rank *cluster.Rank
	cfg  Config
	regs *Registries

	kmerToCid  map[uint64]int64
	cidToReads map[int64][]int64
	readTarget map[int64]int
}

// Registries bundles every rank-indexed registry one shuffle round needs so
// a remote active message reaches its destination rank's own local maps
// instead of the caller's (see cluster.Registry): one slot for the Engine
// itself (direct Call/Get reads of kmerToCid/readTarget) plus one per
// aggstore.Store this package builds internally. Construct one fresh
// Registries per call to Shuffle, before Cluster.Run, shared by every rank.
type Registries struct {
	engine     *cluster.Registry[*Engine]
	kmerCid    *cluster.Registry[*aggstore.Store[kmerCidMsg]]
	cidRead    *cluster.Registry[*aggstore.Store[cidReadMsg]]
	readTarget *cluster.Registry[*aggstore.Store[readTargetMsg]]
	readPair   *cluster.Registry[*aggstore.Store[readPairMsg]]
}

// NewRegistries constructs an empty, round-scoped Registries.
func NewRegistries() *Registries {
	return &Registries{
		engine:     cluster.NewRegistry[*Engine](),
		kmerCid:    cluster.NewRegistry[*aggstore.Store[kmerCidMsg]](),
		cidRead:    cluster.NewRegistry[*aggstore.Store[cidReadMsg]](),
		readTarget: cluster.NewRegistry[*aggstore.Store[readTargetMsg]](),
		readPair:   cluster.NewRegistry[*aggstore.Store[readPairMsg]](),
	}
}

// NewEngine constructs an Engine owned by rank and publishes it into regs.
func NewEngine(rank *cluster.Rank, cfg Config, regs *Registries) *Engine {
	e := &Engine{
		rank:       rank,
		cfg:        cfg,
		regs:       regs,
		kmerToCid:  make(map[uint64]int64),
		cidToReads: make(map[int64][]int64),
		readTarget: make(map[int64]int),
	}
	regs.engine.Set(rank.ID, e)
	return e
}

// Shuffle runs the full four-step algorithm and rewrites readStore in
// place with this rank's post-shuffle shard of reads.
func (e *Engine) Shuffle(readStore *reads.Store, ctgStore *contigstore.Store, barrier *cluster.Barrier, domains Domains) error {
	if err := e.buildKmerToCidMap(ctgStore, barrier); err != nil {
		return err
	}
	if err := e.computeCidToReadsMap(readStore, barrier); err != nil {
		return err
	}
	if err := e.computeReadLocations(domains, barrier); err != nil {
		return err
	}
	moved, err := e.moveReads(readStore, barrier)
	if err != nil {
		return err
	}
	readStore.Reset()
	for _, r := range moved {
		readStore.Add(r)
	}
	return nil
}

// buildKmerToCidMap is step 1: every worker extracts shuffle-k k-mers from
// its local contigs, canonicalises, and posts (kmer, cid) to the kmer's
// shard owner, first writer wins (spec.md section 4.5 step 1).
func (e *Engine) buildKmerToCidMap(ctgStore *contigstore.Store, barrier *cluster.Barrier) error {
	w := e.rank.Cluster().W
	k := e.cfg.shuffleK()
	store := aggstore.New(e.rank, e.cfg.Agg, e.regs.kmerCid, func(dst int, m kmerCidMsg) {
		if _, ok := e.kmerToCid[m.kmer]; !ok {
			e.kmerToCid[m.kmer] = m.cid
		}
	})
	for _, ctg := range ctgStore.All() {
		if len(ctg.Seq) < k {
			continue
		}
		for _, km := range kmer.AllKmers(toCodes(ctg.Seq), k) {
			canon, _ := kmer.Canonical(km)
			key := canon.Seq[0]
			dst := kmerShard(canon, w)
			store.Update(dst, kmerCidMsg{kmer: key, cid: ctg.ID})
		}
	}
	store.Flush(barrier)
	store.Close()
	return nil
}

// lookupKmerCidsBatch is the batched round trip of step 2: ask owner for
// the cid of every kmer in ks, -1 for a miss.
func (e *Engine) lookupKmerCidsBatch(owner int, ks []uint64) ([]int64, error) {
	v, err := e.rank.Call(owner, func() (interface{}, error) {
		owningEngine := e.regs.engine.Get(owner)
		out := make([]int64, len(ks))
		for i, k := range ks {
			if cid, ok := owningEngine.kmerToCid[k]; ok {
				out[i] = cid
			} else {
				out[i] = -1
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]int64), nil
}

type reqBuf struct {
	kmers   []uint64
	readIDs []int64
}

// computeCidToReadsMap is step 2 + step 3: for every read, subsample its
// k-mers at the configured stride, batch-query the kmer->cid map, and post
// every hit as (cid, read_id) to the cid's shard owner.
func (e *Engine) computeCidToReadsMap(readStore *reads.Store, barrier *cluster.Barrier) error {
	w := e.rank.Cluster().W
	k := e.cfg.shuffleK()
	stride := e.cfg.stride()
	maxBuf := e.cfg.maxReqBuff()

	cidStore := aggstore.New(e.rank, e.cfg.Agg, e.regs.cidRead, func(dst int, m cidReadMsg) {
		e.cidToReads[m.cid] = append(e.cidToReads[m.cid], m.readID)
	})

	bufs := make([]reqBuf, w)
	flush := func(target int) error {
		b := bufs[target]
		if len(b.kmers) == 0 {
			return nil
		}
		bufs[target] = reqBuf{}
		cids, err := e.lookupKmerCidsBatch(target, b.kmers)
		if err != nil {
			return err
		}
		for i, cid := range cids {
			if cid != -1 {
				cidStore.Update(idShard(cid, w), cidReadMsg{cid: cid, readID: b.readIDs[i]})
			}
		}
		return nil
	}

	all := readStore.All()
	for i := 0; i+1 < len(all); i += 2 {
		readID := all[i].PairID()
		for _, mate := range [2]reads.PackedRead{all[i], all[i+1]} {
			seq := reads.Seq(mate)
			if len(seq) < k {
				continue
			}
			kmers := kmer.AllKmers(toCodes(seq), k)
			for j := 0; j < len(kmers); j += stride {
				canon, _ := kmer.Canonical(kmers[j])
				target := kmerShard(canon, w)
				bufs[target].kmers = append(bufs[target].kmers, canon.Seq[0])
				bufs[target].readIDs = append(bufs[target].readIDs, readID)
				if len(bufs[target].kmers) == maxBuf {
					if err := flush(target); err != nil {
						return err
					}
				}
			}
		}
	}
	for target := 0; target < w; target++ {
		if err := flush(target); err != nil {
			return err
		}
	}

	cidStore.Flush(barrier)
	cidStore.Close()
	return nil
}

// computeReadLocations is step 4: count how many reads mapped to a contig
// globally, reserve a contiguous slot range per worker via an atomic
// fetch-add, and assign each mapped read a target rank by its slot's
// position in the global block partition (spec.md section 4.5 step 4).
func (e *Engine) computeReadLocations(domains Domains, barrier *cluster.Barrier) error {
	w := e.rank.Cluster().W
	localMapped := 0
	for _, ids := range e.cidToReads {
		localMapped += len(ids)
	}
	// Counted in read *pairs* below but the original doubles to count
	// both mates; mirror that so block sizing matches move_reads_to_targets.
	localMapped *= 2
	domains.MappedCount.FetchAdd(int64(localMapped))
	barrier.Wait()
	total := domains.MappedCount.Load()
	if total == 0 {
		return nil
	}
	block := (total + int64(w) - 1) / int64(w)

	slot := domains.ReadSlot.FetchAdd(int64(localMapped))
	targetStore := aggstore.New(e.rank, e.cfg.Agg, e.regs.readTarget, func(dst int, m readTargetMsg) {
		if _, ok := e.readTarget[m.readID]; !ok {
			e.readTarget[m.readID] = m.target
		}
	})
	for _, ids := range e.cidToReads {
		for _, readID := range ids {
			target := int(slot / block)
			if target >= w {
				target = w - 1
			}
			targetStore.Update(idShard(readID, w), readTargetMsg{readID: readID, target: target})
			slot += 2
		}
	}
	targetStore.Flush(barrier)
	targetStore.Close()
	return nil
}

// moveReads is step 5: every worker looks up each local pair's target
// (falling back to a random rank for an unmapped read, preserving load
// balance exactly as move_reads_to_targets does) and sends both mates
// together so a pair never splits across workers.
func (e *Engine) moveReads(readStore *reads.Store, barrier *cluster.Barrier) ([]reads.PackedRead, error) {
	w := e.rank.Cluster().W
	var moved []reads.PackedRead
	pairStore := aggstore.New(e.rank, e.cfg.Agg, e.regs.readPair, func(dst int, m readPairMsg) {
		moved = append(moved, m.mate1, m.mate2)
	})

	all := readStore.All()
	for i := 0; i+1 < len(all); i += 2 {
		mate1, mate2 := all[i], all[i+1]
		readID := mate1.PairID()
		owner := idShard(readID, w)
		v, err := e.rank.Call(owner, func() (interface{}, error) {
			owningEngine := e.regs.engine.Get(owner)
			target, ok := owningEngine.readTarget[readID]
			if !ok {
				return -1, nil
			}
			return target, nil
		})
		if err != nil {
			return nil, err
		}
		target := v.(int)
		if target < 0 || target >= w {
			target = rand.Intn(w)
		}
		pairStore.Update(target, readPairMsg{mate1: mate1, mate2: mate2})
	}
	pairStore.Flush(barrier)
	pairStore.Close()
	return moved, nil
}
