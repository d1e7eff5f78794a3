package rules

import "testing"

func votes(a, c, g, t Votes) Counts {
	return Counts{a, c, g, t}
}

func TestChooseNoVotesIsDeadEnd(t *testing.T) {
	got := Choose(Counts{}, 20)
	if got != NoExt {
		t.Fatalf("Choose(no votes) = %c, want X", got)
	}
}

func TestChooseSingleStrongBaseWins(t *testing.T) {
	depth := 20.0
	c := votes(
		Votes{LowQ: 20, HiQ: 20},
		Votes{},
		Votes{},
		Votes{},
	)
	got := Choose(c, depth)
	if got != 'A' {
		t.Fatalf("Choose = %c, want A", got)
	}
}

func TestChooseTwoStrongBasesIsFork(t *testing.T) {
	depth := 20.0
	c := votes(
		Votes{LowQ: 20, HiQ: 20},
		Votes{LowQ: 20, HiQ: 20},
		Votes{},
		Votes{},
	)
	got := Choose(c, depth)
	if got != Fork {
		t.Fatalf("Choose = %c, want F", got)
	}
}

func TestChooseRating7TieBreaksByVotes(t *testing.T) {
	depth := 20.0
	c := votes(
		Votes{LowQ: 25, HiQ: 25},
		Votes{LowQ: 20, HiQ: 20},
		Votes{},
		Votes{},
	)
	got := Choose(c, depth)
	if got != 'A' {
		t.Fatalf("Choose = %c, want A (more votes at rating 7)", got)
	}
}

func TestChooseLowVotesIsDeadEnd(t *testing.T) {
	depth := 20.0
	c := votes(Votes{LowQ: 1, HiQ: 0}, Votes{}, Votes{}, Votes{})
	got := Choose(c, depth)
	if got != NoExt {
		t.Fatalf("Choose(single vote) = %c, want X", got)
	}
}

func TestBaseRatingThresholds(t *testing.T) {
	cases := []struct {
		nvotes, hiq uint32
		depth       float64
		want        int
	}{
		{0, 0, 20, 0},
		{1, 0, 20, 1},
		{2, 0, 20, 2},  // < minViable(4)
		{4, 0, 20, 3},  // >= minViable, < minExpected(10), hiq < minViable
		{4, 4, 20, 4},  // >= minViable, < minExpected, hiq >= minViable
		{10, 0, 20, 5}, // >= minExpected, hiq < minViable
		{10, 5, 20, 6}, // >= minExpected, minViable < hiq < minExpected
		{10, 10, 20, 7},
		{10, 4, 20, 7}, // hiq == minViable exactly falls through to 7, not 6
	}
	for _, tc := range cases {
		got := baseRating(tc.nvotes, tc.hiq, tc.depth)
		if got != tc.want {
			t.Errorf("baseRating(%d,%d,%v) = %d, want %d", tc.nvotes, tc.hiq, tc.depth, got, tc.want)
		}
	}
}
