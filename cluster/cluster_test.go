package cluster

import (
	"sync"
	"testing"
)

func TestCallRoutesToTargetRank(t *testing.T) {
	c := New(4)
	var mu sync.Mutex
	owned := map[int]int{}

	err := c.Run(func(r *Rank) error {
		// Every rank writes into rank 0's map via an active message.
		_, err := r.Call(0, func() (interface{}, error) {
			mu.Lock()
			owned[r.ID]++
			mu.Unlock()
			return nil, nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 4; i++ {
		if owned[i] != 1 {
			t.Errorf("rank %d: got %d calls, want 1", i, owned[i])
		}
	}
}

func TestCallOutOfRangeIsInvariantViolation(t *testing.T) {
	c := New(2)
	r := c.Rank(0)
	_, err := r.Call(5, func() (interface{}, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected invariant violation, got nil")
	}
	if _, ok := err.(*ErrInvariant); !ok {
		t.Fatalf("got %T, want *ErrInvariant", err)
	}
}

func TestBarrierReleasesAllWaiters(t *testing.T) {
	w := 8
	c := New(w)
	b := c.NewBarrier()
	var mu sync.Mutex
	before := 0
	after := 0

	err := c.Run(func(r *Rank) error {
		mu.Lock()
		before++
		mu.Unlock()
		b.Wait()
		mu.Lock()
		after++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if before != w || after != w {
		t.Fatalf("before=%d after=%d, want %d each", before, after, w)
	}
}

func TestAtomicDomainFetchAddIsSerialized(t *testing.T) {
	ad := NewAtomicDomain(0)
	c := New(16)
	seen := make([]int64, c.W)
	var mu sync.Mutex
	err := c.Run(func(r *Rank) error {
		old := ad.FetchAdd(1)
		mu.Lock()
		seen[r.ID] = old
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ad.Load() != int64(c.W) {
		t.Fatalf("final value %d, want %d", ad.Load(), c.W)
	}
	dup := map[int64]bool{}
	for _, v := range seen {
		if dup[v] {
			t.Fatalf("FetchAdd returned duplicate value %d", v)
		}
		dup[v] = true
	}
}

func TestAbortOnFirstError(t *testing.T) {
	c := New(4)
	err := c.Run(func(r *Rank) error {
		if r.ID == 2 {
			return Invariant("rank %d failed on purpose", r.ID)
		}
		<-r.cluster.abort
		return nil
	})
	if err == nil {
		t.Fatal("expected an error from Run")
	}
}
