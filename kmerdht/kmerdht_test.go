package kmerdht

import (
	"testing"

	"mhmgo/aggstore"
	"mhmgo/cluster"
	"mhmgo/kmer"
)

func testCfg() Config {
	return Config{DminThres: 1, Agg: aggstore.Config{MemFrac: 0.05, FreeMemPerWorker: 1 << 20, PayloadSize: 64}}
}

// TestCanonicalization is property 1 from spec.md section 8: for every
// k-mer submitted, store(kmer) == store(revcomp(kmer)).
func TestCanonicalization(t *testing.T) {
	const w = 4
	c := cluster.New(w)
	barrier := c.NewBarrier()
	regs := NewRegistries()
	results := make([]Record, w)
	err := c.Run(func(r *cluster.Rank) error {
		tbl := New(r, testCfg(), regs)
		k, _ := kmer.ParseString("ACGTACGTACGTACGTACGTA")
		rc := k.ReverseComplement()
		if r.ID == 0 {
			tbl.Insert(k, 'A', true, 'C', true, 1, false)
		} else if r.ID == 1 {
			tbl.Insert(rc, 'A', true, 'C', true, 1, false)
		}
		tbl.Finalize(barrier)
		canon, _ := kmer.Canonical(k)
		owner := shardFor(canon, w)
		if r.ID == owner {
			rec, ok, err := tbl.Lookup(k)
			if err != nil {
				return err
			}
			if !ok {
				return cluster.Invariant("canonical kmer not found on owning rank")
			}
			results[r.ID] = rec
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	k, _ := kmer.ParseString("ACGTACGTACGTACGTACGTA")
	canon, _ := kmer.Canonical(k)
	owner := shardFor(canon, w)
	if results[owner].Count != 2 {
		t.Fatalf("canonical kmer count = %d, want 2 (one vote from each orientation)", results[owner].Count)
	}
}

// TestSharding is property 2: hash(kmer) mod W equals the worker that
// holds the kmer, for every kmer across a workload.
func TestSharding(t *testing.T) {
	const w = 6
	c := cluster.New(w)
	barrier := c.NewBarrier()
	regs := NewRegistries()
	kmers := []string{
		"ACGTACGTACGTACGTACGTA",
		"TTTTGGGGCCCCAAAATTTTG",
		"GATTACAGATTACAGATTACA",
		"CCCCCCCCCCCCCCCCCCCCC",
	}
	err := c.Run(func(r *cluster.Rank) error {
		tbl := New(r, testCfg(), regs)
		for _, s := range kmers {
			k, _ := kmer.ParseString(s)
			canon, _ := kmer.Canonical(k)
			if shardFor(canon, w) == r.ID {
				tbl.Insert(k, 'A', true, 'C', true, 1, false)
			}
		}
		tbl.Finalize(barrier)
		for _, s := range kmers {
			k, _ := kmer.ParseString(s)
			canon, _ := kmer.Canonical(k)
			owner := shardFor(canon, w)
			if owner != r.ID {
				continue
			}
			if _, ok := tbl.byKmer[canon.String()]; !ok {
				return cluster.Invariant("rank %d should own %s but doesn't", r.ID, canon.String())
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestFinalizeDropsBelowDepthFloor(t *testing.T) {
	c := cluster.New(1)
	err := c.Run(func(r *cluster.Rank) error {
		barrier := c.NewBarrier()
		cfg := testCfg()
		cfg.DminThres = 5
		tbl := New(r, cfg, NewRegistries())
		k, _ := kmer.ParseString("ACGTACGTACGTACGTACGTA")
		tbl.Insert(k, 'A', true, 'C', true, 2, false)
		tbl.Finalize(barrier)
		if tbl.Len() != 0 {
			t.Errorf("expected low-depth kmer to be dropped, Len=%d", tbl.Len())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// TestFinalizeKeepsSeedContigKmersBelowDepthFloor exercises spec.md section
// 4.2's seed-contig mode: a k-mer inserted with seed=true must survive
// Finalize's depth floor even though its count never reaches DminThres.
func TestFinalizeKeepsSeedContigKmersBelowDepthFloor(t *testing.T) {
	c := cluster.New(1)
	err := c.Run(func(r *cluster.Rank) error {
		barrier := c.NewBarrier()
		cfg := testCfg()
		cfg.DminThres = 5
		tbl := New(r, cfg, NewRegistries())
		k, _ := kmer.ParseString("ACGTACGTACGTACGTACGTA")
		tbl.Insert(k, 'A', true, 'C', true, 1, true)
		tbl.Finalize(barrier)
		if tbl.Len() != 1 {
			t.Fatalf("expected seed-contig kmer to survive the depth floor, Len=%d", tbl.Len())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestFinalizeChoosesExtensionViaR1(t *testing.T) {
	c := cluster.New(1)
	err := c.Run(func(r *cluster.Rank) error {
		barrier := c.NewBarrier()
		tbl := New(r, testCfg(), NewRegistries())
		k, _ := kmer.ParseString("ACGTACGTACGTACGTACGTA")
		for i := 0; i < 20; i++ {
			tbl.Insert(k, 'A', true, 'C', true, 1, false)
		}
		tbl.Finalize(barrier)
		recs := tbl.IterateLocal()
		if len(recs) != 1 {
			t.Fatalf("got %d records, want 1", len(recs))
		}
		rec := recs[0].Record
		if rec.Concrete() {
			// with 20 unanimous votes on each side we expect a concrete
			// extension pair, not a dead end/fork.
		} else {
			t.Errorf("expected a concrete extension pair for unanimous votes, got left=%c right=%c", rec.Left, rec.Right)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}
