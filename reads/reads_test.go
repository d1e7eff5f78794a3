package reads

import "testing"

func TestPackUnpackBaseQual(t *testing.T) {
	for base := byte(0); base < 5; base++ {
		for _, qual := range []byte{0, 1, 20, 31, 40} {
			b := PackBaseQual(base, qual)
			gotBase, gotQual := UnpackBaseQual(b)
			wantQual := qual
			if wantQual > MaxQual {
				wantQual = MaxQual
			}
			if gotBase != base&0x7 || gotQual != wantQual {
				t.Fatalf("pack/unpack(%d,%d) = (%d,%d), want (%d,%d)", base, qual, gotBase, gotQual, base&0x7, wantQual)
			}
		}
	}
}

func TestFromASCIIAndSeqRoundTrip(t *testing.T) {
	r, err := FromASCII(1, []byte("ACGTACGT"), []byte{10, 20, 30, 40, 5, 15, 25, 35})
	if err != nil {
		t.Fatalf("FromASCII: %v", err)
	}
	if got := Seq(r); got != "ACGTACGT" {
		t.Fatalf("Seq = %q, want ACGTACGT", got)
	}
	if r.Quals[3] != MaxQual {
		t.Fatalf("qual 40 should clamp to %d, got %d", MaxQual, r.Quals[3])
	}
}

func TestMateAndPairID(t *testing.T) {
	m1, _ := FromASCII(-5, []byte("AC"), []byte{1, 1})
	m2, _ := FromASCII(5, []byte("AC"), []byte{1, 1})
	if m1.Mate() != 1 || m2.Mate() != 2 {
		t.Fatalf("Mate() = %d,%d want 1,2", m1.Mate(), m2.Mate())
	}
	if m1.PairID() != 5 || m2.PairID() != 5 {
		t.Fatalf("PairID mismatch: %d, %d", m1.PairID(), m2.PairID())
	}
}

func TestAddPairRejectsMismatchedIDs(t *testing.T) {
	s := NewStore()
	m1, _ := FromASCII(-5, []byte("AC"), []byte{1, 1})
	m2, _ := FromASCII(6, []byte("AC"), []byte{1, 1})
	if err := s.AddPair(m1, m2); err == nil {
		t.Fatal("expected error for mismatched pair ids")
	}
}

func TestAddPairKeepsBothMatesTogether(t *testing.T) {
	s := NewStore()
	m1, _ := FromASCII(-5, []byte("AC"), []byte{1, 1})
	m2, _ := FromASCII(5, []byte("GT"), []byte{1, 1})
	if err := s.AddPair(m1, m2); err != nil {
		t.Fatalf("AddPair: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
}

func TestMergeOverlapMergesConsistentOverlap(t *testing.T) {
	// mate1 = AAAACGT; mate2's revcomp starts with mate1's last 3 bases,
	// so the pair merges on a 3-base overlap.
	mate1, _ := FromASCII(-1, []byte("AAAACGT"), []byte{30, 30, 30, 30, 30, 30, 30})
	// revcomp of mate2 bases should equal "CGTGGGG" so that it overlaps
	// the last 3 bases ("CGT") of mate1.
	mate2Bases := []byte("CCCCACG")
	mate2, _ := FromASCII(1, mate2Bases, []byte{30, 30, 30, 30, 30, 30, 30})
	merged, ok, ambiguous := MergeOverlap(mate1, mate2, 3)
	if !ok {
		t.Fatal("expected a successful merge")
	}
	if ambiguous {
		t.Fatal("a single consistent overlap must not be reported ambiguous")
	}
	if merged.ID != 1 {
		t.Fatalf("merged.ID = %d, want 1", merged.ID)
	}
	if len(merged.Bases) == 0 {
		t.Fatal("merged read has no bases")
	}
}

func TestMergeOverlapRejectsNoOverlap(t *testing.T) {
	mate1, _ := FromASCII(-1, []byte("AAAAAAAA"), []byte{30, 30, 30, 30, 30, 30, 30, 30})
	mate2, _ := FromASCII(1, []byte("GGGGGGGG"), []byte{30, 30, 30, 30, 30, 30, 30, 30})
	_, ok, ambiguous := MergeOverlap(mate1, mate2, 4)
	if ok {
		t.Fatal("expected no merge for non-overlapping reads")
	}
	if ambiguous {
		t.Fatal("a plain no-overlap result must not be reported ambiguous")
	}
}

func TestMergeOverlapReportsAmbiguousOverlap(t *testing.T) {
	// A run of all-A bases admits more than one consistent overlap
	// position against its own revcomp (all-T), so the search must find
	// more than one candidate start and report ambiguous rather than
	// picking one.
	mate1, _ := FromASCII(-1, []byte("AAAAAAAA"), []byte{30, 30, 30, 30, 30, 30, 30, 30})
	mate2, _ := FromASCII(1, []byte("TTTTTTTT"), []byte{30, 30, 30, 30, 30, 30, 30, 30})
	_, ok, ambiguous := MergeOverlap(mate1, mate2, 3)
	if ok {
		t.Fatal("an ambiguous overlap must not report a merge")
	}
	if !ambiguous {
		t.Fatal("expected the ambiguous-overlap case to be reported")
	}
}

func TestMergeAllMergesAndShrinksPlaceholder(t *testing.T) {
	s := NewStore()
	mate1, _ := FromASCII(-1, []byte("AAAACGT"), []byte{30, 30, 30, 30, 30, 30, 30})
	mate2, _ := FromASCII(1, []byte("CCCCACG"), []byte{30, 30, 30, 30, 30, 30, 30})
	if err := s.AddPair(mate1, mate2); err != nil {
		t.Fatalf("AddPair: %v", err)
	}
	merged, ambiguous := MergeAll(s, 3)
	if merged != 1 {
		t.Fatalf("merged = %d, want 1", merged)
	}
	if ambiguous != 0 {
		t.Fatalf("ambiguous = %d, want 0", ambiguous)
	}
	if len(s.At(1).Bases) != 1 || s.At(1).Bases[0] != BaseN {
		t.Fatalf("mate2 placeholder = %v, want a single N base", s.At(1).Bases)
	}
	if len(s.At(0).Bases) <= len(mate1.Bases) {
		t.Fatal("mate1 should have been extended by the merge")
	}
}

func TestMergeAllCountsAmbiguousWithoutMerging(t *testing.T) {
	s := NewStore()
	mate1, _ := FromASCII(-1, []byte("AAAAAAAA"), []byte{30, 30, 30, 30, 30, 30, 30, 30})
	mate2, _ := FromASCII(1, []byte("TTTTTTTT"), []byte{30, 30, 30, 30, 30, 30, 30, 30})
	if err := s.AddPair(mate1, mate2); err != nil {
		t.Fatalf("AddPair: %v", err)
	}
	merged, ambiguous := MergeAll(s, 3)
	if merged != 0 {
		t.Fatalf("merged = %d, want 0", merged)
	}
	if ambiguous != 1 {
		t.Fatalf("ambiguous = %d, want 1", ambiguous)
	}
	if len(s.At(0).Bases) != 8 || len(s.At(1).Bases) != 8 {
		t.Fatal("an ambiguous pair must be left untouched")
	}
}
