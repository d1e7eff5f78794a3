// Package aggstore implements the three-tier aggregating update store from
// spec.md section 4.1 (C3): a producer submits (target rank, payload)
// pairs, the store buffers them per target until a byte budget is hit,
// then flushes as a single batched active message so the destination rank
// applies a user update function once per payload. Grounded on
// ThreeTierAggrStore's set_update_func/update/flush_updates/set_size usage
// throughout original_source/src/shuffle_reads.cpp and
// original_source/src/localassm_core.cpp, using the teacher's
// buffered-channel-plus-worker-goroutine style from
// constructcf.ParaConstructCF/WriteKmer for the producer/consumer shape.
package aggstore

import (
	"sync"

	"mhmgo/cluster"
)

// UpdateFunc is invoked once per payload on the destination rank when a
// batch lands. It must not block on further aggstore operations (that
// would deadlock the dispatcher); it is free to call into other
// cluster.Rank primitives.
type UpdateFunc[T any] func(dstRank int, payload T)

// Config controls the byte budget used to decide when to flush a
// per-target buffer (spec.md section 4.1 sizing formula / section 5
// "Memory policy": max(0.05-0.1 * free_memory_per_worker, 100 *
// update_size)).
type Config struct {
	// MemFrac is the fraction of free memory per worker to budget,
	// typically in [0.05, 0.1].
	MemFrac float64
	// FreeMemPerWorker is the free-memory estimate (bytes) fed into the
	// sizing formula.
	FreeMemPerWorker int64
	// PayloadSize is sizeof(T) in bytes, used for the 100x floor.
	PayloadSize int64
}

// byteBudget implements spec.md section 4.1's sizing formula.
func (c Config) byteBudget() int64 {
	frac := c.MemFrac
	if frac <= 0 {
		frac = 0.05
	}
	budget := int64(frac * float64(c.FreeMemPerWorker))
	floor := 100 * c.PayloadSize
	if budget < floor {
		return floor
	}
	return budget
}

type batch[T any] struct {
	payloads []T
}

// Store is the generic aggregating update store for payload type T. One
// Store instance is owned by one rank for one kind of update (e.g.
// kmerdht's Insert, shuffle's vote-posting). Not safe for concurrent use
// from more than one goroutine -- per spec.md section 5, a rank is
// single-threaded cooperative, so a Store is only ever touched by its
// owning rank's body goroutine plus the dispatcher goroutines it starts
// internally.
type Store[T any] struct {
	rank       *cluster.Rank
	cfg        Config
	updateFunc UpdateFunc[T]
	reg        *cluster.Registry[*Store[T]]
	payloadSz  int64

	// Tier 1: per-target buffer on the producer.
	perTarget [][]T
	bufBytes  []int64

	// Tier 2: per-destination forwarding lane -- a buffered channel per
	// destination rank that the producer sends full batches into. In a
	// real NUMA deployment tier 2 is a shared node-local lane; here there
	// is exactly one producer-node per producer-rank, so tier 2 collapses
	// onto this one goroutine-local channel per destination
	// (SPEC_FULL.md section 4.1).
	lanes []chan batch[T]

	// Tier 3: one dispatcher goroutine per destination rank, draining its
	// inbound lane and invoking updateFunc.
	wg      sync.WaitGroup
	inFlight sync.WaitGroup
	closed  bool
}

// New constructs a Store owned by rank, sized per cfg, applying fn to each
// payload once it lands on its destination. reg must be one Registry shared
// by every rank constructing a Store for this same logical update stream
// (e.g. one round's kmer-insert stream): New publishes this Store into reg
// under rank's ID so that a peer's dispatcher can reach this rank's own fn
// instead of the peer's.
func New[T any](rank *cluster.Rank, cfg Config, reg *cluster.Registry[*Store[T]], fn UpdateFunc[T]) *Store[T] {
	w := rank.Cluster().W
	s := &Store[T]{
		rank:       rank,
		cfg:        cfg,
		updateFunc: fn,
		reg:        reg,
		payloadSz:  cfg.PayloadSize,
		perTarget:  make([][]T, w),
		bufBytes:   make([]int64, w),
		lanes:      make([]chan batch[T], w),
	}
	for i := 0; i < w; i++ {
		s.lanes[i] = make(chan batch[T], 64)
	}
	reg.Set(rank.ID, s)
	s.wg.Add(w)
	for i := 0; i < w; i++ {
		go s.dispatch(i)
	}
	return s
}

// dispatch is tier 3: it drains lane dst and applies the *destination*
// rank's own updateFunc to every payload via an active-message RPC, so the
// update always lands in the destination's own state even though the
// closure is built here on the producer.
func (s *Store[T]) dispatch(dst int) {
	defer s.wg.Done()
	for b := range s.lanes[dst] {
		payloads := b.payloads
		func() {
			defer s.inFlight.Done()
			_, err := s.rank.Call(dst, func() (interface{}, error) {
				dstStore := s.reg.Get(dst)
				for _, p := range payloads {
					dstStore.updateFunc(dst, p)
				}
				return nil, nil
			})
			if err != nil {
				// Cluster has aborted; nothing left to do but drop the
				// batch -- the rank that issued the abort already has a
				// fatal error in flight.
			}
		}()
	}
}

// Update submits one payload bound for rank target (tier 1). It appends to
// the per-target buffer and flushes that buffer to tier 2 once the byte
// budget is reached. May block briefly on a full tier-2 lane -- callers
// that need to keep servicing inbound RPCs while backpressured should
// interleave with cluster.Rank.Progress (spec.md section 5).
func (s *Store[T]) Update(target int, payload T) {
	s.perTarget[target] = append(s.perTarget[target], payload)
	s.bufBytes[target] += s.payloadSz
	if s.bufBytes[target] >= s.cfg.byteBudget() {
		s.flushTarget(target)
	}
}

func (s *Store[T]) flushTarget(target int) {
	if len(s.perTarget[target]) == 0 {
		return
	}
	b := batch[T]{payloads: s.perTarget[target]}
	s.perTarget[target] = nil
	s.bufBytes[target] = 0
	// Counted before the hand-off so Flush's inFlight.Wait cannot pass
	// while this batch still sits in the lane; dispatch marks it Done.
	s.inFlight.Add(1)
	s.lanes[target] <- b
}

// Flush drains every per-target buffer to tier 2, waits for every
// in-flight batch to be applied on its destination, then crosses a
// closing barrier so Flush only returns once every payload submitted
// before the call has been applied cluster-wide (spec.md section 4.1:
// "flush_updates() returns only after every in-flight payload has been
// applied globally, enforced by a closing barrier"). barrier must be
// shared by every rank in the cluster and not otherwise in use
// concurrently.
func (s *Store[T]) Flush(barrier *cluster.Barrier) {
	for target := range s.perTarget {
		s.flushTarget(target)
	}
	s.inFlight.Wait()
	barrier.Wait()
}

// Close shuts down the dispatcher goroutines. Callers must Flush before
// Close if any payloads are still pending.
func (s *Store[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, lane := range s.lanes {
		close(lane)
	}
	s.wg.Wait()
}
