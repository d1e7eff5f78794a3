// Command ga is the pipeline driver's command-line front end: it parses
// flags, wires an ingest.FastqPairSource (and optional
// ingest.AlignmentSource) from them, and calls pipeline.Run. Flag parsing
// and subcommand wiring itself are outside spec.md's core scope (section
// 1's "Deliberately OUT of scope" list); the shape below matches the
// teacher's ga.go (one odin app, one subcommand per pipeline stage, global
// flags read via c.Parent().Flag(...)).
package main

import (
	"log"
	"strconv"
	"strings"

	"github.com/jwaldrip/odin/cli"

	"mhmgo/ingest"
	"mhmgo/localassm"
	"mhmgo/pipeline"
)

var app = cli.New("1.0.0", "distributed de novo metagenome assembler", func(c cli.Command) {})

func init() {
	app.DefineStringFlag("K", "21,33,55", "comma-separated kmer length schedule, k1<k2<...<kn")
	app.DefineIntFlag("t", 1, "number of ranks (workers) to run in-process")
	app.DefineStringFlag("o", ".", "output/cache directory for contigs-<k>.fasta")
	app.DefineIntFlag("qualOffset", 33, "FASTQ quality offset, 33 or 64")

	assemble := app.DefineSubCommand("assemble", "run the contigging pipeline over a paired-read input", Assemble)
	{
		assemble.DefineStringFlag("reads", "", "comma-separated read sets; each is one interleaved FASTQ path or two paths joined by ':'")
		assemble.DefineStringFlag("aln", "", "BAM/SAM alignment file for local-assembly extension (empty disables shuffle+extend)")
		assemble.DefineIntFlag("dmin", 2, "dmin_thres: depth floor for kmer retention")
		assemble.DefineIntFlag("maxKmerStoreMB", 256, "max_kmer_store_mb: aggregating-store byte budget, free-memory-per-worker estimate")
		assemble.DefineIntFlag("maxRpcsInFlight", 64, "max_rpcs_in_flight")
		assemble.DefineBoolFlag("useQF", false, "use_qf: enable the cuckoo-filter kmer prefilter")
		assemble.DefineBoolFlag("shuffleReads", false, "shuffle_reads: reshuffle reads by contig locality and run local assembly")
		assemble.DefineIntFlag("minCtgPrintLen", 500, "min_ctg_print_len")
		assemble.DefineBoolFlag("checkpoint", false, "skip a round whose contigs-<k>.fasta checkpoint already exists")
		assemble.DefineBoolFlag("dumpGraph", false, "write a debug dot-graph dump of each round's fragment-link graph")
		assemble.DefineBoolFlag("sequentialIDs", false, "assign sequential pair ids to pairs whose read names are not integers, instead of dropping them")
		assemble.DefineBoolFlag("mergeReads", false, "merge_reads: run the read-merging preprocessing stage once before the kmer round schedule")
		assemble.DefineIntFlag("mergeMinOverlap", 10, "minimum 3' overlap length required to merge a pair's mates")
		assemble.DefineIntFlag("endTolerance", 5, "end_tolerance: how many bases short of a contig's exact end an alignment may land and still count as extending past it")
	}
}

func main() {
	app.Start()
}

func intFlag(c cli.Command, name string) int {
	v, err := strconv.Atoi(c.Flag(name).String())
	if err != nil {
		log.Fatalf("[ga assemble] flag %s: %v", name, err)
	}
	return v
}

func boolFlag(c cli.Command, name string) bool {
	return c.Flag(name).Get().(bool)
}

// Assemble wires the flags parsed above into pipeline.Run, the shape
// ga.go uses for every subcommand: validate/convert flags, build the
// concrete collaborators the core package takes as parameters, run it,
// log the result.
func Assemble(c cli.Command) {
	parent := c.Parent()
	kmerLensStr := strings.Split(parent.Flag("K").String(), ",")
	kmerLens := make([]int, 0, len(kmerLensStr))
	for _, s := range kmerLensStr {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k, err := strconv.Atoi(s)
		if err != nil {
			log.Fatalf("[ga assemble] flag K: %q: %v", s, err)
		}
		kmerLens = append(kmerLens, k)
	}
	if len(kmerLens) == 0 {
		log.Fatalf("[ga assemble] flag K: empty kmer length schedule")
	}

	w := intFlag(parent, "t")
	if w < 1 {
		log.Fatalf("[ga assemble] flag t: %d must be >= 1", w)
	}
	cacheDir := parent.Flag("o").String()
	qualOffset := intFlag(parent, "qualOffset")

	readsFlag := c.Flag("reads").String()
	if readsFlag == "" {
		log.Fatalf("[ga assemble] flag reads: required")
	}
	var sources []*ingest.PathPairSource
	ingestCfg := ingest.Config{QualOffset: qualOffset, SequentialIDs: boolFlag(c, "sequentialIDs")}
	for _, p := range strings.Split(readsFlag, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sources = append(sources, ingest.NewPathPairSource(p, ingestCfg))
	}
	src := ingest.FastqPairSource(ingest.NewMultiPathPairSource(sources...))

	shuffleReads := boolFlag(c, "shuffleReads")
	var alnSrc ingest.AlignmentSource
	alnPath := c.Flag("aln").String()
	if shuffleReads && alnPath != "" {
		alnSrc = ingest.NewBamAlignmentSource(alnPath)
	} else if shuffleReads {
		log.Printf("[ga assemble] shuffleReads set but no -aln given; disabling shuffle+extend for this run")
		shuffleReads = false
	}

	cfg := pipeline.Config{
		KmerLens:        kmerLens,
		QualOffset:      qualOffset,
		DminThres:       uint16(intFlag(c, "dmin")),
		MaxKmerStoreMB:  intFlag(c, "maxKmerStoreMB"),
		MaxRPCsInFlight: intFlag(c, "maxRpcsInFlight"),
		UseQF:           boolFlag(c, "useQF"),
		ShuffleReads:    shuffleReads,
		MinCtgPrintLen:  intFlag(c, "minCtgPrintLen"),
		Checkpoint:      boolFlag(c, "checkpoint"),
		CacheDir:        cacheDir,
		DumpGraph:       boolFlag(c, "dumpGraph"),
		GraphDir:        cacheDir,
		MergeReads:      boolFlag(c, "mergeReads"),
		MergeMinOverlap: intFlag(c, "mergeMinOverlap"),
		EndTolerance:    intFlag(c, "endTolerance"),
		LocalAssm: localassm.Config{
			MinKmerLen:        15,
			ShiftSize:         5,
			WalkLenLimit:      500,
			MaxCountMersReads: 2000,
			MinQual:           20,
			MinHiQual:         30,
		},
	}

	stats, err := pipeline.Run(cfg, src, alnSrc, w)
	if err != nil {
		log.Fatalf("[ga assemble] pipeline.Run: %v", err)
	}
	log.Printf("[ga assemble] done: rounds run %v, rounds skipped %v, dropped pairs %d, ambiguous overlaps %d, indecipherable alignments %d",
		stats.RoundsRun, stats.RoundsSkipped, stats.DroppedNonNumericPairs, stats.AmbiguousPairOverlaps, stats.IndecipherableAlnEnds)
}
