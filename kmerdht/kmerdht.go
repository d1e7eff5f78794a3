// Package kmerdht implements the distributed k-mer table (C2, spec.md
// section 4.2): a sharded mapping from canonical k-mer to counts and
// left/right single-base extensions. Operations Insert/Finalize/Lookup/
// IterateLocal are exactly spec.md's; rule set R1 (the extension-choice
// decision table) lives in package rules and is shared verbatim with
// localassm per spec.md section 4.6. Sharding and the saturating-count
// merge are grounded on the teacher's constructdbg.go complex-node
// detection (paraLookupComplexNode) for the vote-histogram-per-side
// shape; the optional cuckoo-filter prefilter (use_qf) is grounded on
// constructcf.ParaConstructCF's "count == 2" promotion gate.
package kmerdht

import (
	"fmt"

	"mhmgo/aggstore"
	"mhmgo/cluster"
	"mhmgo/cuckoofilter"
	"mhmgo/kmer"
	"mhmgo/rules"
	"mhmgo/utils"
)

// Record is one k-mer's table entry: a saturating count, left/right
// extension bases in {A,C,G,T,X,F}, and a transient fragment back-pointer
// used only during de Bruijn traversal (package dbgtraversal owns writes
// to FragPtr; kmerdht just carries the field).
type Record struct {
	Count   uint16
	Left    byte
	Right   byte
	FragPtr cluster.Handle

	leftVotes  rules.Counts
	rightVotes rules.Counts
	// fromSeed marks a record that has received at least one seed-contig
	// insertion (spec.md section 4.2 "Seed-contig mode"): Finalize must
	// not apply the depth floor to these regardless of how many ordinary
	// read votes they also picked up this round.
	fromSeed bool
}

// IsTerminal reports whether this record is a dead end on either side
// (spec.md section 3: "A k-mer record with left = X or right = X is a
// terminal; the traversal never starts a walk from it").
func (r Record) IsTerminal() bool {
	return r.Left == rules.NoExt || r.Right == rules.NoExt
}

// Concrete reports whether both extensions are usable walk directions
// (neither X nor F) -- phase 1 of dbgtraversal only starts walks from
// these (spec.md section 4.3).
func (r Record) Concrete() bool {
	return r.Left != rules.NoExt && r.Left != rules.Fork &&
		r.Right != rules.NoExt && r.Right != rules.Fork
}

// Config carries the depth floor and sizing knobs spec.md section 6 pins.
type Config struct {
	// DminThres is d_min: k-mers with a final count below this are
	// dropped by Finalize unless they came from a seed contig.
	DminThres uint16
	// UseQF enables the cuckoo-filter first-stage prefilter.
	UseQF bool
	// QFCapacity sizes the per-rank cuckoo filter when UseQF is set.
	QFCapacity uint64
	Agg        aggstore.Config
}

type insertMsg struct {
	kmer      kmer.Kmer
	extLeft   byte
	extHiQLeft bool
	extRight  byte
	extHiQRight bool
	weight    uint16 // seed-contig depth weight; 1 for ordinary reads
	seed      bool
}

// Table is one rank's shard of the distributed k-mer table plus the
// aggstore used to batch remote Insert calls.
type Table struct {
	rank   *cluster.Rank
	cfg    Config
	regs   *Registries
	byKmer map[string]*Record
	order  []string // insertion order, for a deterministic IterateLocal
	store  *aggstore.Store[insertMsg]
	filter *cuckoofilter.Filter

	finalized bool
}

// Registries bundles the rank-indexed lookup tables every Table in one
// round must share so a remote Lookup/ClaimFragPtr/Insert reaches its
// destination rank's own byKmer map instead of the caller's own (see
// cluster.Registry). Construct one Registries per round, before
// Cluster.Run, and pass the same instance to every rank's New call.
type Registries struct {
	table  *cluster.Registry[*Table]
	insert *cluster.Registry[*aggstore.Store[insertMsg]]
}

// NewRegistries constructs an empty, round-scoped Registries.
func NewRegistries() *Registries {
	return &Registries{
		table:  cluster.NewRegistry[*Table](),
		insert: cluster.NewRegistry[*aggstore.Store[insertMsg]](),
	}
}

// New constructs a Table owned by rank and publishes it into regs so peers
// can reach it.
func New(rank *cluster.Rank, cfg Config, regs *Registries) *Table {
	t := &Table{
		rank:   rank,
		cfg:    cfg,
		regs:   regs,
		byKmer: make(map[string]*Record),
	}
	if cfg.UseQF {
		cap := cfg.QFCapacity
		if cap == 0 {
			cap = 1 << 20
		}
		t.filter = cuckoofilter.New(cap)
	}
	regs.table.Set(rank.ID, t)
	t.store = aggstore.New(rank, cfg.Agg, regs.insert, t.applyInsert)
	return t
}

// shardFor returns the owning rank for a canonical k-mer, per spec.md
// section 3: "shard = hash(kmer) mod W".
func shardFor(k kmer.Kmer, w int) int {
	return int(k.Hash() % uint64(w))
}

// Insert merges one observation of kmer into the table: left/right
// extension votes, weighted by weight (1 for an ordinary read observation,
// the seed contig's saturated depth when seed is true -- spec.md section
// 4.2 "Seed-contig mode"). The k-mer is canonicalized here, with its
// extension sides swapped and complemented when the reverse complement is
// the canonical form, so callers never have to reason about which strand
// they observed.
func (t *Table) Insert(k kmer.Kmer, extLeft byte, extLeftHiQ bool, extRight byte, extRightHiQ bool, weight uint16, seed bool) {
	canon, wasCanonical := kmer.Canonical(k)
	if !wasCanonical {
		extLeft, extRight = complementExt(extRight), complementExt(extLeft)
	}
	if t.filter != nil && !seed {
		prior, _ := t.filter.Insert([]byte(canon.String()))
		if prior < 1 {
			// First observation through the filter: hold back from the
			// exact table until it's seen again (teacher's "count == 2"
			// promotion gate), which keeps one-off sequencing errors out
			// of the expensive exact structure.
			return
		}
	}
	w := t.rank.Cluster().W
	dst := shardFor(canon, w)
	msg := insertMsg{kmer: canon, extLeft: extLeft, extHiQLeft: extLeftHiQ, extRight: extRight, extHiQRight: extRightHiQ, weight: weight, seed: seed}
	t.store.Update(dst, msg)
}

func complementExt(b byte) byte {
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
		return b // X/F pass through unchanged.
	}
}

func extIndex(b byte) int {
	for i, c := range rules.Bases {
		if c == b {
			return i
		}
	}
	return -1
}

// applyInsert runs on the destination rank's event loop (via aggstore's
// dispatcher) and performs the actual merge into byKmer.
func (t *Table) applyInsert(dstRank int, m insertMsg) {
	key := m.kmer.String()
	rec, ok := t.byKmer[key]
	if !ok {
		rec = &Record{}
		t.byKmer[key] = rec
		t.order = append(t.order, key)
	}
	rec.Count = utils.SaturatingAddUint16(rec.Count, m.weight)
	if m.seed {
		rec.fromSeed = true
	}
	if i := extIndex(m.extLeft); i >= 0 {
		addVote(&rec.leftVotes[i], m.weight, m.extHiQLeft)
	}
	if i := extIndex(m.extRight); i >= 0 {
		addVote(&rec.rightVotes[i], m.weight, m.extHiQRight)
	}
}

func addVote(v *rules.Votes, weight uint16, hiQ bool) {
	v.LowQ = utils.SaturatingAddUint16(v.LowQ, weight)
	if hiQ {
		v.HiQ = utils.SaturatingAddUint16(v.HiQ, weight)
	}
}

// Finalize computes each k-mer's canonical extension bases via rule set
// R1 and drops k-mers below the depth floor (spec.md section 4.2),
// unless they were inserted in seed mode (seed contigs bypass the depth
// filter). It first flushes and closes this rank's insert store (every
// rank must call Finalize with the same barrier), so every observation
// has landed before R1 runs.
func (t *Table) Finalize(barrier *cluster.Barrier) {
	t.store.Flush(barrier)
	t.store.Close()

	for key, rec := range t.byKmer {
		depth := float64(rec.Count)
		rec.Left = rules.Choose(rec.leftVotes, depth)
		rec.Right = rules.Choose(rec.rightVotes, depth)
		if rec.Count < t.cfg.DminThres && !rec.fromSeed {
			delete(t.byKmer, key)
		}
	}
	t.pruneOrder()
	t.finalized = true
}

func (t *Table) pruneOrder() {
	kept := t.order[:0]
	for _, key := range t.order {
		if _, ok := t.byKmer[key]; ok {
			kept = append(kept, key)
		}
	}
	t.order = kept
}

// Lookup fetches a k-mer's record via a one-sided read round trip through
// the owning rank's own event loop (spec.md section 4.2). Always routed
// through Get/Call, even when the owner is the caller itself: a rank's
// body goroutine and its event-loop goroutine (which applies remote
// Lookup/ClaimFragPtr/Insert calls from every other rank) run concurrently,
// so a local fast path that touched byKmer directly from the body goroutine
// would race those remote calls. cluster.Rank.Call always dispatches
// through the target's inbox regardless of whether the target is the
// caller's own rank, so this costs a channel round trip, not a deadlock --
// see Call's doc comment.
func (t *Table) Lookup(k kmer.Kmer) (Record, bool, error) {
	canon, _ := kmer.Canonical(k)
	owner := shardFor(canon, t.rank.Cluster().W)
	key := canon.String()
	v, err := t.rank.Get(owner, func() (interface{}, error) {
		owningTable := t.regs.table.Get(owner)
		rec, ok := owningTable.byKmer[key]
		if !ok {
			return nil, nil
		}
		return *rec, nil
	})
	if err != nil {
		return Record{}, false, err
	}
	if v == nil {
		return Record{}, false, nil
	}
	return v.(Record), true, nil
}

// SetFragPtr claims (or clears, with the zero Handle) a k-mer's fragment
// back-pointer, routed through the owning rank's event loop exactly like
// Lookup and ClaimFragPtr so it can never race a concurrent remote call
// touching the same record.
func (t *Table) SetFragPtr(k kmer.Kmer, h cluster.Handle) error {
	canon, _ := kmer.Canonical(k)
	owner := shardFor(canon, t.rank.Cluster().W)
	key := canon.String()
	_, err := t.rank.Call(owner, func() (interface{}, error) {
		owningTable := t.regs.table.Get(owner)
		rec, ok := owningTable.byKmer[key]
		if !ok {
			return nil, fmt.Errorf("kmerdht.SetFragPtr: unknown kmer %s", key)
		}
		rec.FragPtr = h
		return nil, nil
	})
	return err
}

// ClaimFragPtr atomically tests-and-sets a k-mer's fragment back-pointer
// on its owning rank, always via an active-message RPC through that rank's
// own event loop (even when the owner is the caller, for the same reason
// Lookup always routes through Get -- see its doc comment) so the
// compare-and-set is never split across two round trips and never races a
// peer rank's own claim attempt. It returns the handle that held the slot
// *before* this call: the zero Handle means the claim succeeded and k is
// now claimed by h; any other value means k was already claimed (by h
// itself, a cycle per spec.md's REPEAT, or by a different fragment,
// spec.md's VISITED) and the claim was not applied.
func (t *Table) ClaimFragPtr(k kmer.Kmer, h cluster.Handle) (cluster.Handle, error) {
	canon, _ := kmer.Canonical(k)
	owner := shardFor(canon, t.rank.Cluster().W)
	key := canon.String()
	v, err := t.rank.Call(owner, func() (interface{}, error) {
		owningTable := t.regs.table.Get(owner)
		rec, ok := owningTable.byKmer[key]
		if !ok {
			return nil, fmt.Errorf("kmerdht.ClaimFragPtr: unknown kmer %s", key)
		}
		prev := rec.FragPtr
		if prev.IsNull() {
			rec.FragPtr = h
		}
		return prev, nil
	})
	if err != nil {
		return cluster.Null, err
	}
	return v.(cluster.Handle), nil
}

// FragPtr returns a k-mer's current fragment back-pointer (via Lookup, a
// one-sided read to the owning rank), for link-cleaning code that needs to check which
// fragment owns a neighbouring k-mer without claiming it.
func (t *Table) FragPtr(k kmer.Kmer) (cluster.Handle, error) {
	rec, ok, err := t.Lookup(k)
	if err != nil {
		return cluster.Null, err
	}
	if !ok {
		return cluster.Null, nil
	}
	return rec.FragPtr, nil
}

// IterateLocal returns a finite, not-restartable snapshot of every record
// this rank owns, in stable insertion order (spec.md section 4.2).
func (t *Table) IterateLocal() []LocalRecord {
	out := make([]LocalRecord, 0, len(t.order))
	for _, key := range t.order {
		rec, ok := t.byKmer[key]
		if !ok {
			continue
		}
		k, err := kmer.ParseString(key)
		if err != nil {
			continue
		}
		out = append(out, LocalRecord{Kmer: k, Record: *rec})
	}
	return out
}

// LocalRecord pairs a k-mer with its table record, as produced by
// IterateLocal.
type LocalRecord struct {
	Kmer   kmer.Kmer
	Record Record
}

// Len returns how many k-mers this rank currently owns.
func (t *Table) Len() int { return len(t.byKmer) }
