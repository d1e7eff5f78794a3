// Package dbgtraversal implements the de Bruijn traversal engine (C4,
// spec.md section 4.3): fragment construction, link cleaning, and contig
// stitching, grounded directly on original_source/src/dbjg_traversal.cpp
// (get_next_step, traverse_dirn, construct_frags, clean_frag_links,
// set_link_status, and the owner-monotone contig-stitching walk).
package dbgtraversal

import (
	"fmt"
	"io"
	"strings"

	"github.com/awalterschulze/gographviz"

	"mhmgo/bnt"
	"mhmgo/cluster"
	"mhmgo/kmer"
	"mhmgo/kmerdht"
	"mhmgo/rules"
)

// WalkStatus is the termination reason for one directional walk step,
// spec.md section 4.3.
type WalkStatus int

const (
	Running WalkStatus = iota
	DeadEnd
	Fork
	Conflict
	Visited
	Repeat
)

func (s WalkStatus) String() string {
	switch s {
	case DeadEnd:
		return "DEADEND"
	case Fork:
		return "FORK"
	case Conflict:
		return "CONFLICT"
	case Visited:
		return "VISITED"
	case Repeat:
		return "REPEAT"
	default:
		return "RUNNING"
	}
}

// Dirn is a walk direction.
type Dirn int

const (
	Left Dirn = iota
	Right
)

// FragElem is a unitig-under-construction (spec.md section 3). Owned by
// the rank that created it; referenced by other ranks via cluster.Handle.
type FragElem struct {
	Seq        string
	SumDepths  int64
	Left       cluster.Handle
	Right      cluster.Handle
	LeftIsRC   bool
	RightIsRC  bool
	Visited    bool
}

// pool is a per-rank append-only object table of FragElem, append-only
// for the lifetime of one contigging round (spec.md section 9: "the local
// index is stable (tables are append-only until the round ends)").
type pool struct {
	rank int
	elem []FragElem // index 0 is the reserved sentinel, real elements start at 1.
}

func newPool(rank int) *pool {
	return &pool{rank: rank, elem: make([]FragElem, 1)}
}

func (p *pool) alloc(f FragElem) cluster.Handle {
	p.elem = append(p.elem, f)
	return cluster.Handle{Rank: p.rank, Idx: uint32(len(p.elem) - 1)}
}

func (p *pool) get(idx uint32) *FragElem {
	return &p.elem[idx]
}

// allocLocalFrag and mutateLocalFrag are the only ways body-goroutine code
// touches this rank's own pool: both route through a Call to the rank's
// own ID so the append/mutation runs on the event-loop goroutine, serialized
// against every other rank's concurrent getFrag read of the same pool
// (cluster.Rank.Call always dispatches through the target's inbox, even for
// a self-call -- see its doc comment -- so this is a channel round trip,
// never a deadlock, as long as the call is not itself issued from inside
// another active Call on this rank). pool.alloc's append can reallocate the
// backing array, so even allocation needs this, not just field mutation.
func (e *Engine) allocLocalFrag(f FragElem) (cluster.Handle, error) {
	v, err := e.rank.Call(e.rank.ID, func() (interface{}, error) {
		return e.pool.alloc(f), nil
	})
	if err != nil {
		return cluster.Null, err
	}
	return v.(cluster.Handle), nil
}

func (e *Engine) mutateLocalFrag(idx uint32, fn func(*FragElem)) error {
	_, err := e.rank.Call(e.rank.ID, func() (interface{}, error) {
		fn(e.pool.get(idx))
		return nil, nil
	})
	return err
}

// Config carries the per-round parameters the traversal engine needs.
type Config struct {
	KmerLen int
	// DumpGraph enables DumpFragmentGraphDot at the caller's discretion;
	// the engine itself never writes the dump, it only exposes the method.
	DumpGraph bool
}

// Engine runs the three traversal phases for one rank over one
// kmerdht.Table.
type Engine struct {
	rank  *cluster.Rank
	table *kmerdht.Table
	cfg   Config
	pool  *pool
	reg   *cluster.Registry[*Engine]
}

// NewEngine constructs an Engine for rank, backed by table. reg must be one
// Registry shared by every rank's Engine for this round (mirrors
// kmerdht.Registries): it lets a remote fragment fetch (getFrag) reach the
// owning rank's own fragment pool instead of the caller's.
func NewEngine(rank *cluster.Rank, table *kmerdht.Table, cfg Config, reg *cluster.Registry[*Engine]) *Engine {
	e := &Engine{rank: rank, table: table, cfg: cfg, pool: newPool(rank.ID), reg: reg}
	reg.Set(rank.ID, e)
	return e
}

func baseCode(ext byte) byte {
	code, _ := bnt.CharToCode(ext)
	return code
}

// actualExt returns the extension on logical side `side` of a k-mer that
// may not itself be in canonical orientation: if the k-mer's canonical
// form is its reverse complement, canonical Left/Right swap sides *and*
// complement, mirroring kmerdht.Table.Insert's own canonicalization
// convention so traversal and insertion agree on what "left"/"right"
// mean for a given strand.
func actualExt(rec kmerdht.Record, wasCanonical bool, side Dirn) byte {
	if wasCanonical {
		if side == Right {
			return rec.Right
		}
		return rec.Left
	}
	if side == Right {
		return complementExt(rec.Left)
	}
	return complementExt(rec.Right)
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
		return b
	}
}

// step performs one walk step from cur in direction dirn, appending to
// frag (the fragment under construction) on success. Mirrors
// dbjg_traversal.cpp's get_next_step.
func (e *Engine) step(cur kmer.Kmer, dirn Dirn, fragHandle cluster.Handle, firstStep bool) (next kmer.Kmer, appendBase byte, status WalkStatus, otherFrag cluster.Handle, err error) {
	canon, wasCanonical := kmer.Canonical(cur)
	rec, ok, err := e.table.Lookup(canon)
	if err != nil {
		return kmer.Kmer{}, 0, Running, cluster.Null, err
	}
	if !ok {
		return kmer.Kmer{}, 0, DeadEnd, cluster.Null, nil
	}
	fwd := actualExt(rec, wasCanonical, dirn)
	if fwd == rules.NoExt {
		return kmer.Kmer{}, 0, DeadEnd, cluster.Null, nil
	}
	if fwd == rules.Fork {
		return kmer.Kmer{}, 0, Fork, cluster.Null, nil
	}

	var nextActual kmer.Kmer
	var droppedBase byte
	if dirn == Right {
		nextActual = cur.ExtendRight(baseCode(fwd))
		droppedBase = cur.Front()
	} else {
		nextActual = cur.ExtendLeft(baseCode(fwd))
		droppedBase = cur.Back()
	}

	nextCanon, nextWasCanonical := kmer.Canonical(nextActual)
	nextRec, ok, err := e.table.Lookup(nextCanon)
	if err != nil {
		return kmer.Kmer{}, 0, Running, cluster.Null, err
	}
	if !ok {
		return kmer.Kmer{}, 0, DeadEnd, cluster.Null, nil
	}

	backSide := Left
	if dirn == Left {
		backSide = Right
	}
	back := actualExt(nextRec, nextWasCanonical, backSide)
	if baseCode(back) != droppedBase {
		return kmer.Kmer{}, 0, Conflict, cluster.Null, nil
	}

	prev, err := e.table.ClaimFragPtr(nextCanon, fragHandle)
	if err != nil {
		return kmer.Kmer{}, 0, Running, cluster.Null, err
	}
	if !prev.IsNull() {
		if prev == fragHandle {
			if firstStep {
				// Revisit-allowed seeding step: treat as a successful
				// extension rather than a cycle.
			} else {
				return kmer.Kmer{}, 0, Repeat, cluster.Null, nil
			}
		} else {
			return kmer.Kmer{}, 0, Visited, prev, nil
		}
	}
	return nextActual, fwd, Running, cluster.Null, nil
}

// walk repeatedly steps in direction dirn until it terminates, building up
// the appended sequence and summed depth. Mirrors traverse_dirn.
func (e *Engine) walk(start kmer.Kmer, dirn Dirn, fragHandle cluster.Handle) (appended string, sumDepth int64, status WalkStatus, neighbor cluster.Handle, err error) {
	var sb strings.Builder
	cur := start
	firstStep := true
	for {
		next, base, st, other, werr := e.step(cur, dirn, fragHandle, firstStep)
		if werr != nil {
			return "", 0, Running, cluster.Null, werr
		}
		if st != Running {
			return sb.String(), sumDepth, st, other, nil
		}
		sb.WriteByte(base)
		rec, _, lerr := e.table.Lookup(next)
		if lerr != nil {
			return "", 0, Running, cluster.Null, lerr
		}
		sumDepth += int64(rec.Count)
		cur = next
		firstStep = false
	}
}

// ConstructFragments is phase 1: every unclaimed k-mer with both
// extensions concrete seeds a new fragment, walked left then right
// (spec.md section 4.3).
func (e *Engine) ConstructFragments() ([]cluster.Handle, error) {
	var handles []cluster.Handle
	for _, lr := range e.table.IterateLocal() {
		if !lr.Record.Concrete() {
			continue
		}
		if !lr.Record.FragPtr.IsNull() {
			continue
		}
		h, err := e.allocLocalFrag(FragElem{Seq: lr.Kmer.String(), SumDepths: int64(lr.Record.Count)})
		if err != nil {
			return nil, err
		}
		prev, err := e.table.ClaimFragPtr(lr.Kmer, h)
		if err != nil {
			return nil, err
		}
		if !prev.IsNull() {
			// Another rank's walk claimed this k-mer first; discard our
			// speculative allocation and move on.
			continue
		}

		leftSeq, leftDepth, leftStatus, leftOther, err := e.walk(lr.Kmer, Left, h)
		if err != nil {
			return nil, err
		}
		rightSeq, rightDepth, rightStatus, rightOther, err := e.walk(lr.Kmer, Right, h)
		if err != nil {
			return nil, err
		}

		if err := e.mutateLocalFrag(h.Idx, func(f *FragElem) {
			f.Seq = reverseString(leftSeq) + f.Seq + rightSeq
			f.SumDepths += leftDepth + rightDepth
			if leftStatus == Visited {
				f.Left = leftOther
			}
			if rightStatus == Visited {
				f.Right = rightOther
			}
		}); err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func reverseString(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// getFrag fetches a FragElem by handle via a one-sided read through the
// owning rank's own event loop, even when the owner is the caller: the
// owning rank's body goroutine mutates this same FragElem (ConstructFragments
// /CleanLinks/StitchContigs, all via mutateLocalFrag) concurrently with its
// event loop servicing remote getFrag calls from every other rank, so a
// local fast path reading the pool slot directly would race those writers.
func (e *Engine) getFrag(h cluster.Handle) (FragElem, error) {
	v, err := e.rank.Get(h.Rank, func() (interface{}, error) {
		owner := e.reg.Get(h.Rank)
		return *owner.pool.get(h.Idx), nil
	})
	if err != nil {
		return FragElem{}, err
	}
	return v.(FragElem), nil
}

func revcompSeq(s string) string {
	k, err := kmer.ParseString(s)
	if err != nil {
		return s
	}
	return k.ReverseComplement().String()
}

// CleanLinks is phase 2: for every local fragment with both neighbour
// handles set, fetch the neighbour and verify the (k-1)-overlap is
// consistent, dropping links that don't reciprocate or don't overlap in
// either orientation, and dropping self-loops entirely (spec.md section
// 4.3).
func (e *Engine) CleanLinks(handles []cluster.Handle) error {
	k := e.cfg.KmerLen
	for _, h := range handles {
		// f's Seq never changes after ConstructFragments, and Left/Right
		// are read here only to decide what to check; the actual mutation
		// below always goes through mutateLocalFrag so it can never race a
		// peer rank's concurrent getFrag of this same fragment.
		f := e.pool.get(h.Idx)
		left, right := f.Left, f.Right
		if !left.IsNull() && !right.IsNull() && left == right {
			if err := e.mutateLocalFrag(h.Idx, func(f *FragElem) {
				f.Left, f.Right = cluster.Null, cluster.Null
			}); err != nil {
				return err
			}
			continue
		}
		if !left.IsNull() {
			ok, isRC, err := e.checkLink(h, f, left, Left, k)
			if err != nil {
				return err
			}
			if err := e.mutateLocalFrag(h.Idx, func(f *FragElem) {
				if !ok {
					f.Left = cluster.Null
				} else {
					f.LeftIsRC = isRC
				}
			}); err != nil {
				return err
			}
		}
		if !right.IsNull() {
			ok, isRC, err := e.checkLink(h, f, right, Right, k)
			if err != nil {
				return err
			}
			if err := e.mutateLocalFrag(h.Idx, func(f *FragElem) {
				if !ok {
					f.Right = cluster.Null
				} else {
					f.RightIsRC = isRC
				}
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) checkLink(self cluster.Handle, f *FragElem, nb cluster.Handle, side Dirn, k int) (ok bool, isRC bool, err error) {
	nbFrag, err := e.getFrag(nb)
	if err != nil {
		return false, false, err
	}
	// Reciprocity: the neighbour's opposite side must point back at us.
	back := nbFrag.Right
	if side == Right {
		back = nbFrag.Left
	}
	if back != self {
		return false, false, nil
	}
	if len(f.Seq) < k-1 || len(nbFrag.Seq) < k-1 {
		return false, false, nil
	}
	var ourEdge, nbEdge string
	if side == Left {
		ourEdge = f.Seq[:k-1]
		nbEdge = nbFrag.Seq[len(nbFrag.Seq)-(k-1):]
	} else {
		ourEdge = f.Seq[len(f.Seq)-(k-1):]
		nbEdge = nbFrag.Seq[:k-1]
	}
	if ourEdge == nbEdge {
		return true, false, nil
	}
	if ourEdge == revcompSeq(nbEdge) {
		return true, true, nil
	}
	return false, false, nil
}

// Contig is the result of one successful stitching walk, before global id
// assignment (contigstore.Contig carries the assigned id).
type Contig struct {
	Seq       string
	Depth     float64
	Fragments []cluster.Handle
}

// StitchContigs is phase 3: each rank walks its local fragment graph,
// concatenating surviving links into contigs, emitting a walk only when
// every fragment it visits is owned by a rank <= this one (the
// owner-monotone rule that guarantees exactly-once emission across the
// cluster, spec.md section 4.3).
func (e *Engine) StitchContigs(handles []cluster.Handle) ([]Contig, error) {
	var contigs []Contig
	for _, h := range handles {
		f := e.pool.get(h.Idx)
		if f.Visited {
			continue
		}
		seq, depth, members, aborted, err := e.stitchOne(h)
		if err != nil {
			return nil, err
		}
		if aborted {
			continue
		}
		for _, m := range members {
			if m.Rank == e.rank.ID {
				if err := e.mutateLocalFrag(m.Idx, func(f *FragElem) {
					f.Visited = true
				}); err != nil {
					return nil, err
				}
			}
		}
		if len(seq) == 0 {
			continue
		}
		contigs = append(contigs, Contig{Seq: seq, Depth: depth, Fragments: members})
	}
	return contigs, nil
}

// fragDepthContribution is spec.md section 4.3's per-fragment depth term,
// sum_depths * (1 - (kmer_len-1)/frag_len), matching dbjg_traversal.cpp:508
// exactly (the factor uses that fragment's own length, not the contig's).
func fragDepthContribution(sumDepths int64, fragLen, k int) float64 {
	return float64(sumDepths) * (1 - float64(k-1)/float64(fragLen))
}

func (e *Engine) stitchOne(h0 cluster.Handle) (seq string, depth float64, members []cluster.Handle, aborted bool, err error) {
	visited := map[cluster.Handle]bool{h0: true}
	members = []cluster.Handle{h0}
	f0 := *e.pool.get(h0.Idx)
	parts := []string{f0.Seq}
	depth = fragDepthContribution(f0.SumDepths, len(f0.Seq), e.cfg.KmerLen)

	extend := func(cur cluster.Handle, curFrag FragElem, curIsRC bool, dirn Dirn) error {
		for {
			// If curFrag is being traversed in reverse-complement
			// orientation, its stored Left/Right are swapped relative to
			// the chain's Left/Right.
			useRight := (dirn == Right) != curIsRC
			var nb cluster.Handle
			var nbRC bool
			if useRight {
				nb, nbRC = curFrag.Right, curFrag.RightIsRC
			} else {
				nb, nbRC = curFrag.Left, curFrag.LeftIsRC
			}
			if nb.IsNull() {
				return nil
			}
			if nb.Rank > e.rank.ID {
				aborted = true
				return nil
			}
			if visited[nb] {
				return nil
			}
			visited[nb] = true
			members = append(members, nb)
			nbFrag, gerr := e.getFrag(nb)
			if gerr != nil {
				return gerr
			}
			effectiveRC := nbRC != curIsRC
			seg := nbFrag.Seq
			if effectiveRC {
				seg = revcompSeq(seg)
			}
			k := e.cfg.KmerLen
			if len(seg) < k-1 {
				return nil
			}
			if dirn == Left {
				trimmed := seg[:len(seg)-(k-1)]
				parts = append([]string{trimmed}, parts...)
			} else {
				trimmed := seg[k-1:]
				parts = append(parts, trimmed)
			}
			depth += fragDepthContribution(nbFrag.SumDepths, len(seg), k)
			cur, curFrag, curIsRC = nb, nbFrag, effectiveRC
		}
	}

	if err := extend(h0, f0, false, Left); err != nil {
		return "", 0, nil, false, err
	}
	if !aborted {
		if err := extend(h0, f0, false, Right); err != nil {
			return "", 0, nil, false, err
		}
	}
	if aborted {
		return "", 0, nil, true, nil
	}
	return strings.Join(parts, ""), depth, members, false, nil
}

// FragmentByHandle fetches one fragment by handle, for callers that want
// to render the local fragment-link graph (e.g. a debug dot-graph dump)
// without reaching into the engine's private pool.
func (e *Engine) FragmentByHandle(h cluster.Handle) (FragElem, error) {
	return e.getFrag(h)
}

// handleNodeName names a dot-graph node for a fragment handle; frag
// handles from a remote rank are rendered so the debug dump stays
// legible even when it covers a cross-rank edge.
func handleNodeName(h cluster.Handle) string {
	return fmt.Sprintf("\"r%d_%d\"", h.Rank, h.Idx)
}

// DumpFragmentGraphDot renders this rank's local fragment-link graph as
// Graphviz dot, mirroring the teacher's "-Graph" debug dump
// (constructdbg.go's GraphvizDBGArr): nodes are fragments (labelled with
// their sequence length and summed depth), edges are surviving left/right
// links, dashed when the link crosses to the neighbour's reverse
// complement. Intended for Config.DumpGraph, never on the hot path.
func (e *Engine) DumpFragmentGraphDot(w io.Writer, handles []cluster.Handle) error {
	g := gographviz.NewGraph()
	g.SetName("G")
	g.SetDir(true)
	g.SetStrict(false)

	seen := make(map[cluster.Handle]bool, len(handles))
	addNode := func(h cluster.Handle, f *FragElem) {
		name := handleNodeName(h)
		if seen[h] {
			return
		}
		seen[h] = true
		attr := map[string]string{
			"shape": "record",
			"color": "Green",
			"label": fmt.Sprintf("\"len:%d depth:%d\"", len(f.Seq), f.SumDepths),
		}
		g.AddNode("G", name, attr)
	}

	for _, h := range handles {
		f := e.pool.get(h.Idx)
		addNode(h, f)
	}
	for _, h := range handles {
		f := e.pool.get(h.Idx)
		if !f.Left.IsNull() {
			attr := map[string]string{"color": "Blue"}
			if f.LeftIsRC {
				attr["style"] = "dashed"
			}
			g.AddEdge(handleNodeName(f.Left), handleNodeName(h), true, attr)
		}
		if !f.Right.IsNull() {
			attr := map[string]string{"color": "Blue"}
			if f.RightIsRC {
				attr["style"] = "dashed"
			}
			g.AddEdge(handleNodeName(h), handleNodeName(f.Right), true, attr)
		}
	}
	_, err := io.WriteString(w, g.String())
	return err
}
