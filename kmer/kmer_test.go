package kmer

import "testing"

func TestParseStringRoundTrip(t *testing.T) {
	s := "ACGTACGTACGTACGTACGTA"
	k, err := ParseString(s)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if got := k.String(); got != s {
		t.Fatalf("round trip = %q, want %q", got, s)
	}
}

func TestParseStringRejectsIllegalBase(t *testing.T) {
	if _, err := ParseString("ACGTN"); err == nil {
		t.Fatal("expected error for N")
	}
}

func TestReverseComplement(t *testing.T) {
	k, _ := ParseString("ACGT")
	rc := k.ReverseComplement()
	if got := rc.String(); got != "ACGT" {
		t.Fatalf("revcomp(ACGT) = %q, want ACGT (palindrome)", got)
	}
	k2, _ := ParseString("AAGG")
	rc2 := k2.ReverseComplement()
	if got := rc2.String(); got != "CCTT" {
		t.Fatalf("revcomp(AAGG) = %q, want CCTT", got)
	}
}

func TestCanonicalIsStable(t *testing.T) {
	k, _ := ParseString("TTTTACGTACGTACGTACGTT")
	c1, _ := Canonical(k)
	rc := k.ReverseComplement()
	c2, _ := Canonical(rc)
	if !c1.Equal(c2) {
		t.Fatalf("Canonical(k) != Canonical(revcomp(k)): %s vs %s", c1, c2)
	}
}

func TestExtendRightMatchesDirectParse(t *testing.T) {
	k, _ := ParseString("ACGTACGT")
	got := k.ExtendRight(0) // append 'A'
	want, _ := ParseString("CGTACGTA")
	if !got.Equal(want) {
		t.Fatalf("ExtendRight = %s, want %s", got, want)
	}
}

func TestExtendLeftMatchesDirectParse(t *testing.T) {
	k, _ := ParseString("ACGTACGT")
	got := k.ExtendLeft(3) // prepend 'T'
	want, _ := ParseString("TACGTACG")
	if !got.Equal(want) {
		t.Fatalf("ExtendLeft = %s, want %s", got, want)
	}
}

func TestLessIsTotalOrder(t *testing.T) {
	a, _ := ParseString("AAAA")
	b, _ := ParseString("AAAC")
	if !a.Less(b) {
		t.Fatal("AAAA should be less than AAAC")
	}
	if b.Less(a) {
		t.Fatal("AAAC should not be less than AAAA")
	}
}

func TestAllKmersCount(t *testing.T) {
	codes := []byte{0, 1, 2, 3, 0, 1, 2, 3} // ACGTACGT
	ks := AllKmers(codes, 4)
	if len(ks) != 5 {
		t.Fatalf("got %d kmers, want 5", len(ks))
	}
	if ks[0].String() != "ACGT" {
		t.Fatalf("first kmer = %s, want ACGT", ks[0].String())
	}
}

func TestMinimizerWindowPicksSmallestHash(t *testing.T) {
	ks := make([]Kmer, 6)
	bases := []string{"AAAA", "CCCC", "GGGG", "TTTT", "ACGT", "TGCA"}
	for i, s := range bases {
		k, _ := ParseString(s)
		ks[i] = k
	}
	idx := MinimizerWindow(ks, 0, len(ks))
	best := ks[idx].MinimizerHash()
	for i, k := range ks {
		if h := k.MinimizerHash(); h < best {
			t.Fatalf("MinimizerWindow picked index %d (hash %d) but index %d has smaller hash %d", idx, best, i, h)
		}
	}
}
