package dbgtraversal

import (
	"mhmgo/aggstore"
	"mhmgo/bnt"
	"mhmgo/cluster"
	"mhmgo/kmer"
	"mhmgo/kmerdht"
)

// seedLinearSequence inserts every k-mer of seq into tbl at uniform
// coverage depth, with X extensions at the two ends (no reads extend
// past a linear reference's boundaries) -- the minimal workload that
// makes ConstructFragments/StitchContigs reconstruct seq exactly.
func seedLinearSequence(tbl *kmerdht.Table, seq string, k int, depth uint16) {
	codes := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c, _ := bnt.CharToCode(seq[i])
		codes[i] = c
	}
	for i := 0; i+k <= len(seq); i++ {
		km := kmer.FromBytes(codes, i, k)
		var extLeft, extRight byte = 'X', 'X'
		if i > 0 {
			extLeft = seq[i-1]
		}
		if i+k < len(seq) {
			extRight = seq[i+k]
		}
		tbl.Insert(km, extLeft, true, extRight, true, depth, false)
	}
}

func testTableConfig() kmerdht.Config {
	return kmerdht.Config{DminThres: 1, Agg: aggstore.Config{MemFrac: 0.05, FreeMemPerWorker: 1 << 20, PayloadSize: 64}}
}

func runSingleRank(f func(r *cluster.Rank) error) error {
	c := cluster.New(1)
	return c.Run(f)
}
