// Package rules implements rule set R1 (spec.md section 4.2): the
// extension-base decision table shared verbatim by kmerdht's Finalize and
// localassm's per-k-mer extension choice (spec.md section 4.6 says so
// explicitly -- "rule set R1 (section 4.2) parameterised by the contig's
// depth"). Grounded line-for-line on
// original_source/src/localassm/localassm_core.cpp's
// MerFreqs::MerBase::get_base_rating and MerFreqs::set_ext: same rating
// thresholds, same tie-break on rating-7 bases. Factored into its own
// package per SPEC_FULL.md section 4.6 so kmerdht and localassm can't let
// their copies of the table drift apart.
package rules

// NoExt and Fork are the two non-base extension results spec.md section 3
// defines: X means "no viable extension" (dead-end), F means "multiple
// viable extensions" (fork).
const (
	NoExt byte = 'X'
	Fork  byte = 'F'
)

// minViableDepthFrac and minExpectedDepthFrac are the two depth-floor
// fractions from get_base_rating (LASSM_MIN_VIABLE_DEPTH /
// LASSM_MIN_EXPECTED_DEPTH), matching spec.md section 4.2(a)/(c)'s
// "max(0.2*depth,2)" and "max(0.5*depth,2)" floors.
const (
	minViableDepthFrac   = 0.2
	minExpectedDepthFrac = 0.5
	// ratingThreshold: top_rating must exceed this for any extension at
	// all, matching spec.md's "top rating <= 1 -> X".
	ratingThreshold = 1
)

// Bases enumerates the four candidate extension bases in a fixed order
// (A, C, G, T) so votes can be indexed by position.
var Bases = [4]byte{'A', 'C', 'G', 'T'}

// Votes holds the low-quality and high-quality vote counts for one
// candidate base, as accumulated by an Insert/count_mers pass. LowQ is the
// *total* vote count (both low- and high-quality observations), matching
// get_base_rating's "nvotes"; HiQ is the subset of those that also cleared
// the high-quality threshold, matching "nvotes_hi_q".
type Votes struct {
	LowQ uint16 // total votes, any quality >= Q_LOW
	HiQ  uint16 // votes with quality >= Q_HI
}

// Counts is the four-base vote histogram pair spec.md section 3 calls
// "(low-quality vote, high-quality vote) histograms over {A,C,G,T}".
type Counts [4]Votes

// baseRating ports get_base_rating exactly: a 0-7 score for one candidate
// base given the expected sequencing depth.
func baseRating(nvotes, nvotesHiQ uint32, depth float64) int {
	minViable := depth * minViableDepthFrac
	if minViable < 2 {
		minViable = 2
	}
	minExpected := depth * minExpectedDepthFrac
	if minExpected < 2 {
		minExpected = 2
	}
	switch {
	case nvotes == 0:
		return 0
	case nvotes == 1:
		return 1
	case float64(nvotes) < minViable:
		return 2
	case minExpected > float64(nvotes) && float64(nvotes) >= minViable && float64(nvotesHiQ) < minViable:
		return 3
	case minExpected > float64(nvotes) && float64(nvotes) >= minViable && float64(nvotesHiQ) >= minViable:
		return 4
	case float64(nvotes) >= minExpected && float64(nvotesHiQ) < minViable:
		return 5
	// Strict >: nvotesHiQ == minViable falls through to rating 7, matching
	// get_base_rating's sequential if-chain (the line above already caught
	// nvotesHiQ < minViable, and the line below never tests for equality).
	case float64(nvotes) >= minExpected && float64(nvotesHiQ) > minViable && float64(nvotesHiQ) < minExpected:
		return 6
	default:
		return 7
	}
}

type candidate struct {
	base   byte
	rating int
	hiq    uint32
	total  uint32
}

// less orders candidates descending by (rating, hiq, total), matching
// set_ext's sort comparator.
func less(a, b candidate) bool {
	if a.rating != b.rating {
		return a.rating < b.rating
	}
	if a.hiq != b.hiq {
		return a.hiq < b.hiq
	}
	return a.total < b.total
}

// Choose implements set_ext: given the four candidates' vote histograms
// and the expected depth, pick the extension base (or X/F) per the margin
// table in spec.md section 4.2.
func Choose(counts Counts, depth float64) byte {
	cands := make([]candidate, 4)
	for i := 0; i < 4; i++ {
		total := uint32(counts[i].LowQ)
		hiq := uint32(counts[i].HiQ)
		cands[i] = candidate{
			base:   Bases[i],
			rating: baseRating(total, hiq, depth),
			hiq:    hiq,
			total:  total,
		}
	}
	// Descending insertion sort by (rating, hiq, total); four elements,
	// so this stays allocation-free on the hot path.
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && less(cands[j-1], cands[j]); j-- {
			cands[j-1], cands[j] = cands[j], cands[j-1]
		}
	}
	top, runner, third := cands[0], cands[1], cands[2]

	if top.rating <= ratingThreshold {
		return NoExt
	}
	switch {
	case top.rating <= 3:
		if runner.rating == 0 {
			return top.base
		}
	case top.rating < 6:
		if runner.rating < 3 {
			return top.base
		}
	case top.rating == 6:
		if runner.rating < 4 {
			return top.base
		}
	default: // top.rating == 7
		switch {
		case runner.rating < 7:
			return top.base
		case third.rating == 7 || top.total == runner.total:
			return Fork
		case top.total > runner.total:
			return top.base
		default:
			return runner.base
		}
	}
	return NoExt
}
