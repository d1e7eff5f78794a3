package contigstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mhmgo/cluster"
)

func TestAddSizeClear(t *testing.T) {
	s := New()
	if s.Size() != 0 {
		t.Fatalf("new store size = %d, want 0", s.Size())
	}
	s.Add(Contig{Seq: "ACGT", Depth: 10})
	s.Add(Contig{Seq: "TTTT", Depth: 5})
	if s.Size() != 2 {
		t.Fatalf("size = %d, want 2", s.Size())
	}
	s.Clear()
	if s.Size() != 0 {
		t.Fatalf("size after Clear = %d, want 0", s.Size())
	}
}

// TestAssignIDsAreUniqueAndContiguous is property 6 from spec.md section
// 8: contig ids assigned across workers by AssignIDs form a contiguous
// [0, total) range with no duplicates.
func TestAssignIDsAreUniqueAndContiguous(t *testing.T) {
	const w = 5
	counts := []int{3, 0, 2, 1, 4}
	domain := cluster.NewAtomicDomain(0)

	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(w)
	for i := 0; i < w; i++ {
		go func(i int) {
			defer wg.Done()
			s := New()
			for j := 0; j < counts[i]; j++ {
				s.Add(Contig{Seq: "ACGT"})
			}
			s.AssignIDs(domain)
			mu.Lock()
			defer mu.Unlock()
			for _, c := range s.All() {
				if seen[c.ID] {
					t.Errorf("duplicate contig id %d", c.ID)
				}
				seen[c.ID] = true
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	if len(seen) != total {
		t.Fatalf("assigned %d unique ids, want %d", len(seen), total)
	}
	for i := int64(0); i < int64(total); i++ {
		if !seen[i] {
			t.Errorf("id range is not contiguous: missing %d", i)
		}
	}
}

// TestDumpLoadRoundTrip is property 8 from spec.md section 8: dumping a
// store to FASTA and loading it back (across any number of shards) yields
// the same multiset of sequences, each canonicalised to its lexicographically
// smaller orientation.
func TestDumpLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contigs.fasta")

	s := New()
	seqs := []string{
		"ACGTACGTACGTGGGG",
		"TTTTCCCCAAAAGGGGCC",
		"GATTACAGATTACAGATTACAG",
	}
	for i, seq := range seqs {
		s.Add(Contig{ID: int64(i), Seq: seq, Depth: float64(i + 1)})
	}
	if err := s.DumpToFasta(path, 0); err != nil {
		t.Fatalf("DumpToFasta: %v", err)
	}

	const w = 3
	loaded := New()
	for r := 0; r < w; r++ {
		part := New()
		if err := part.LoadFromFasta(path, r, w); err != nil {
			t.Fatalf("LoadFromFasta rank %d: %v", r, err)
		}
		for _, c := range part.All() {
			loaded.Add(c)
		}
	}

	if loaded.Size() != len(seqs) {
		t.Fatalf("loaded %d contigs across %d shards, want %d", loaded.Size(), w, len(seqs))
	}
	want := make(map[string]bool)
	for _, seq := range seqs {
		want[canonicalOrientation(seq)] = true
	}
	for _, c := range loaded.All() {
		if !want[c.Seq] {
			t.Errorf("loaded unexpected sequence %q", c.Seq)
		}
	}
}

func TestDumpToFastaCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contigs.fasta.zst")

	s := New()
	s.Add(Contig{ID: 0, Seq: "ACGTACGTACGTACGTACGT", Depth: 12.5})
	if err := s.DumpToFasta(path, 0); err != nil {
		t.Fatalf("DumpToFasta: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	loaded := New()
	if err := loaded.LoadFromFasta(path, 0, 1); err != nil {
		t.Fatalf("LoadFromFasta: %v", err)
	}
	if loaded.Size() != 1 {
		t.Fatalf("loaded %d contigs, want 1", loaded.Size())
	}
	if loaded.All()[0].Seq != canonicalOrientation("ACGTACGTACGTACGTACGT") {
		t.Errorf("loaded seq = %q", loaded.All()[0].Seq)
	}
}

func TestMinLenFiltersShortContigs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contigs.fasta")

	s := New()
	s.Add(Contig{ID: 0, Seq: "AC", Depth: 1})
	s.Add(Contig{ID: 1, Seq: "ACGTACGTACGT", Depth: 1})
	if err := s.DumpToFasta(path, 5); err != nil {
		t.Fatalf("DumpToFasta: %v", err)
	}

	loaded := New()
	if err := loaded.LoadFromFasta(path, 0, 1); err != nil {
		t.Fatalf("LoadFromFasta: %v", err)
	}
	if loaded.Size() != 1 {
		t.Fatalf("loaded %d contigs, want 1 (short one filtered by minLen)", loaded.Size())
	}
}
