// Package pipeline implements the pipeline driver (C8, spec.md section
// 4.7): for each k in an ordered k-mer-length schedule, ingest reads (plus
// the previous round's contigs as seeds) into a fresh distributed k-mer
// table, finalize it, run de Bruijn traversal to build this round's
// contigs, discard the table, and optionally shuffle reads to their
// owning contig's rank and run local assembly to extend both ends.
// Grounded directly on original_source/src/driver.cpp's main per-k loop
// (count_kmers -> traverse -> shuffle_reads -> extend_ctgs ->
// dump_contigs), translated into the Go idiom every other package in this
// module already uses: one goroutine per rank (cluster.Cluster.Run),
// round-scoped registries/barriers/domains constructed once before Run and
// shared by closure capture (see cluster.Registry's doc comment for why
// that sharing is mandatory).
package pipeline

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"mhmgo/aggstore"
	"mhmgo/bnt"
	"mhmgo/cluster"
	"mhmgo/contigstore"
	"mhmgo/dbgtraversal"
	"mhmgo/ingest"
	"mhmgo/kmer"
	"mhmgo/kmerdht"
	"mhmgo/localassm"
	"mhmgo/reads"
	"mhmgo/shuffle"
)

// Config carries every knob spec.md section 6 pins plus the sizing and
// quality-threshold parameters its components need but section 6 leaves
// as implementation detail (spec.md section 9's "move global mutable
// state ... into explicit configuration records", carried out for the
// whole driver rather than just one component).
type Config struct {
	// KmerLens is the round schedule, k1 < k2 < ... < kn.
	KmerLens []int
	// QualOffset is 33 or 64.
	QualOffset int
	// DminThres is the depth floor, d_min.
	DminThres uint16
	// MaxKmerStoreMB sizes the aggregating stores' byte budget (spec.md
	// section 5 "Memory policy"): treated as the free-memory-per-worker
	// estimate fed into aggstore.Config.FreeMemPerWorker.
	MaxKmerStoreMB int
	// MaxRPCsInFlight is spec.md section 5's in-flight RPC bound.
	// aggstore's dispatcher already bounds concurrent Calls to one
	// outstanding batch per destination rank (W total in flight at any
	// moment, see aggstore.Store.dispatch) -- the mechanism spec.md
	// section 5 describes -- so this field is accepted for config-surface
	// compatibility but isn't separately enforced.
	MaxRPCsInFlight int
	// UseQF enables kmerdht's cuckoo-filter prefilter.
	UseQF bool
	// ShuffleReads enables step 6 (shuffle + local assembly).
	ShuffleReads bool
	// MinCtgPrintLen is the output FASTA's minimum contig length.
	MinCtgPrintLen int
	// Checkpoint enables the restart policy: if contigs-<k>.fasta already
	// exists under CacheDir, round k is skipped entirely.
	Checkpoint bool
	// CacheDir is where contigs-<k>.fasta checkpoints are read and
	// written (spec.md section 6 "Intermediate cache").
	CacheDir string
	// QLow/QHi are Q_LOW/Q_HI (spec.md section 4.6 step 2): a base's
	// quality must clear QLow to vote at all, and QHi to vote as
	// high-quality, shared between kmerdht's Insert and localassm's
	// countMers (both consume rule set R1 via package rules).
	QLow byte
	QHi  byte
	// ShuffleKmerLen/ShuffleStride/MaxReqBuff forward to shuffle.Config.
	ShuffleKmerLen int
	ShuffleStride  int
	MaxReqBuff     int
	// LocalAssm carries localassm's tunables not already implied by the
	// round's k (MinKmerLen, ShiftSize, WalkLenLimit, MaxCountMersReads).
	LocalAssm localassm.Config
	// SampleReadsPerWorker bounds step 1's sizing sample (spec.md section
	// 4.7 step 1, "sample <=100k reads per worker"). Zero means 100000.
	SampleReadsPerWorker int
	// EndTolerance is how many bases short of a contig's exact start/end
	// an alignment may land and still count as extending past that end
	// (spec.md section 6 doesn't pin a tolerance; see DESIGN.md).
	EndTolerance int
	// DumpGraph enables dbgtraversal's debug dot-graph dump of each rank's
	// local fragment-link graph after link cleaning, one file per
	// (round, rank) under GraphDir, matching teacher's "-Graph" flag.
	DumpGraph bool
	GraphDir  string
	// MergeReads enables the read-merging preprocessing stage (spec.md
	// section 6's <basename>-merged.fastq intermediate cache), run once
	// before the k-mer round schedule starts, grounded on
	// original_source/src/merge_reads.cpp's single pass ahead of
	// main.cpp's per-k loop.
	MergeReads bool
	// MergeMinOverlap is the minimum 3'-overlap length MergeOverlap
	// requires to call two mates merged. Zero means 10.
	MergeMinOverlap int
}

func (c Config) graphPath(k, rank int) string {
	dir := c.GraphDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("frags-%d-r%d.dot", k, rank))
}

func (c Config) sampleCap() int {
	if c.SampleReadsPerWorker > 0 {
		return c.SampleReadsPerWorker
	}
	return 100000
}

func (c Config) qLow() byte {
	if c.QLow > 0 {
		return c.QLow
	}
	return 20
}

func (c Config) qHi() byte {
	if c.QHi > 0 {
		return c.QHi
	}
	return 30
}

// endTolerance is KLIGN_UNALIGNED_THRES (spec.md section 6 doesn't pin a
// value; original_source/src/localassm/localassm_core.cpp references the
// constant but its definition isn't in the retrieved source, so 5 is a
// judgment-call default -- see DESIGN.md).
func (c Config) endTolerance() int {
	if c.EndTolerance > 0 {
		return c.EndTolerance
	}
	return 5
}

func (c Config) freeMemPerWorkerBytes() int64 {
	mb := c.MaxKmerStoreMB
	if mb <= 0 {
		mb = 256
	}
	return int64(mb) * (1 << 20)
}

func (c Config) contigsPath(k int) string {
	dir := c.CacheDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("contigs-%d.fasta", k))
}

func (c Config) mergedReadsPath() string {
	dir := c.CacheDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "merged.fastq")
}

func (c Config) mergeMinOverlap() int {
	if c.MergeMinOverlap > 0 {
		return c.MergeMinOverlap
	}
	return 10
}

// Stats accumulates spec.md section 7's recoverable-error counters across
// every round, for the caller to log once the whole schedule finishes
// (spec.md section 7: "surface layers aggregate counts and emit them as
// part of progress reports"). Safe for concurrent use from every rank
// goroutine.
type Stats struct {
	mu sync.Mutex
	// AmbiguousPairOverlaps counts pairs the Config.MergeReads preprocessing
	// stage found more than one consistent overlap position for (spec.md
	// section 7's recoverable "ambiguous pair overlap during read merging"
	// case, reads.MergeAll's ambiguous return). Stays zero when
	// Config.MergeReads is off.
	AmbiguousPairOverlaps int
	// IndecipherableAlnEnds counts alignment records ingest.AlignmentSource
	// dropped (unmapped, or a reference/read name that didn't parse).
	IndecipherableAlnEnds int
	// EmptyContigsSkipped is reserved for spec.md section 7's "empty
	// contig (skipped)" case; dbgtraversal.StitchContigs already filters
	// these out before a Contig value ever reaches this package, so it
	// always reads zero here too.
	EmptyContigsSkipped int
	// DroppedNonNumericPairs counts read pairs ingest.FastqPairSource
	// dropped because their name wasn't numeric and Config.SequentialIDs
	// was off.
	DroppedNonNumericPairs int
	// RoundsRun/RoundsSkipped record which k values actually ran vs. were
	// skipped by the restart policy.
	RoundsRun     []int
	RoundsSkipped []int
}

func (s *Stats) addDroppedPairs(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.DroppedNonNumericPairs += n
	s.mu.Unlock()
}

func (s *Stats) addIndecipherableAlns(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.IndecipherableAlnEnds += n
	s.mu.Unlock()
}

func (s *Stats) addAmbiguousOverlaps(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.AmbiguousPairOverlaps += n
	s.mu.Unlock()
}

// Run drives the full k-schedule across w in-process ranks (spec.md
// section 4.7). src supplies paired reads; alnSrc may be nil when
// Config.ShuffleReads is false (no local assembly step needs alignments).
func Run(cfg Config, src ingest.FastqPairSource, alnSrc ingest.AlignmentSource, w int) (*Stats, error) {
	stats := &Stats{}
	if cfg.MergeReads {
		merged, err := runMergeReads(cfg, src, w, stats)
		if err != nil {
			return stats, fmt.Errorf("pipeline.Run: merge-reads: %w", err)
		}
		src = merged
	}
	prevContigPath := ""
	for _, k := range cfg.KmerLens {
		ckptPath := cfg.contigsPath(k)
		if cfg.Checkpoint {
			if _, err := os.Stat(ckptPath); err == nil {
				log.Printf("[pipeline.Run] round k=%d: checkpoint %s already present, skipping", k, ckptPath)
				stats.RoundsSkipped = append(stats.RoundsSkipped, k)
				prevContigPath = ckptPath
				continue
			}
		}
		log.Printf("[pipeline.Run] round k=%d: starting", k)
		if err := runRound(cfg, src, alnSrc, w, k, prevContigPath, ckptPath, stats); err != nil {
			return stats, fmt.Errorf("pipeline.Run: round k=%d: %w", k, err)
		}
		stats.RoundsRun = append(stats.RoundsRun, k)
		prevContigPath = ckptPath
	}
	return stats, nil
}

// runMergeReads runs the read-merging preprocessing stage once across every
// rank's shard of src and writes the result to Config's merged-reads cache
// path, returning a FastqPairSource that reads the merged file back in for
// every subsequent round (spec.md section 6's <basename>-merged.fastq
// artifact; grounded on original_source/src/main.cpp calling merge_reads
// exactly once, before its per-k count_kmers loop, rather than per round).
// This runs as a plain sequential loop over ranks rather than inside a
// cluster.Cluster.Run body: merging is purely a per-pair transform with no
// cross-rank communication, so there is nothing here for the distributed
// primitives to buy.
func runMergeReads(cfg Config, src ingest.FastqPairSource, w int, stats *Stats) (ingest.FastqPairSource, error) {
	mergedPath := cfg.mergedReadsPath()
	if cfg.Checkpoint {
		if _, err := os.Stat(mergedPath); err == nil {
			log.Printf("[pipeline.Run] merge-reads: checkpoint %s already present, skipping", mergedPath)
			return ingest.NewPathPairSource(mergedPath, ingest.Config{QualOffset: cfg.QualOffset}), nil
		}
	}

	combined := reads.NewStore()
	merged := 0
	for rank := 0; rank < w; rank++ {
		shard, dropped, err := src.ReadShard(rank, w)
		if err != nil {
			return nil, fmt.Errorf("rank %d: %w", rank, err)
		}
		stats.addDroppedPairs(dropped)

		n, ambiguous := reads.MergeAll(shard, cfg.mergeMinOverlap())
		merged += n
		stats.addAmbiguousOverlaps(ambiguous)

		for _, r := range shard.All() {
			combined.Add(r)
		}
	}
	if err := ingest.DumpMergedFastq(mergedPath, combined, cfg.QualOffset); err != nil {
		return nil, err
	}
	log.Printf("[pipeline.Run] merge-reads: merged %d pairs, wrote %s", merged, mergedPath)
	return ingest.NewPathPairSource(mergedPath, ingest.Config{QualOffset: cfg.QualOffset}), nil
}

// runRound executes steps 1-6 of spec.md section 4.7 for one k value
// across a fresh w-rank cluster.
func runRound(cfg Config, src ingest.FastqPairSource, alnSrc ingest.AlignmentSource, w int, k int, prevContigPath, ckptPath string, stats *Stats) error {
	c := cluster.New(w)
	kmerRegs := kmerdht.NewRegistries()
	dbgReg := cluster.NewRegistry[*dbgtraversal.Engine]()
	shuffleRegs := shuffle.NewRegistries()
	shuffleDomains := shuffle.NewDomains()
	ctgIDDomain := cluster.NewAtomicDomain(0)

	sizeBarrier := c.NewBarrier()
	finalizeBarrier := c.NewBarrier()
	constructBarrier := c.NewBarrier()
	cleanBarrier := c.NewBarrier()
	shuffleBarrier := c.NewBarrier()
	gatherBarrier := c.NewBarrier()

	var sizeMu sync.Mutex
	sizeEstimates := make([]int64, w)

	var gatherMu sync.Mutex
	gathered := make([]*contigstore.Store, w)

	err := c.Run(func(r *cluster.Rank) error {
		// Step 1: ingest this rank's shard of the reads and size a fresh
		// table from a sample.
		readStore, dropped, err := src.ReadShard(r.ID, w)
		if err != nil {
			return err
		}
		stats.addDroppedPairs(dropped)

		estimate := estimateKmerCount(readStore, k, cfg.sampleCap())
		sizeMu.Lock()
		sizeEstimates[r.ID] = estimate
		sizeMu.Unlock()
		sizeBarrier.Wait()
		sizeMu.Lock()
		var maxEstimate int64
		for _, e := range sizeEstimates {
			if e > maxEstimate {
				maxEstimate = e
			}
		}
		sizeMu.Unlock()

		tblCfg := kmerdht.Config{
			DminThres:  cfg.DminThres,
			UseQF:      cfg.UseQF,
			QFCapacity: uint64(maxEstimate*2) + 1024,
			Agg: aggstore.Config{
				MemFrac:          0.05,
				FreeMemPerWorker: cfg.freeMemPerWorkerBytes(),
				PayloadSize:      48,
			},
		}
		tbl := kmerdht.New(r, tblCfg, kmerRegs)

		insertReadKmers(tbl, readStore, k, cfg.qLow(), cfg.qHi())

		// Step 2: seed from the previous round's contigs, if any.
		if prevContigPath != "" {
			seedStore := contigstore.New()
			if err := seedStore.LoadFromFasta(prevContigPath, r.ID, w); err != nil {
				return err
			}
			for _, ctg := range seedStore.All() {
				insertSeedKmers(tbl, ctg.Seq, k, ctg.Depth)
			}
		}

		// Step 3: finalize.
		tbl.Finalize(finalizeBarrier)

		// Step 4: de Bruijn traversal.
		eng := dbgtraversal.NewEngine(r, tbl, dbgtraversal.Config{KmerLen: k, DumpGraph: cfg.DumpGraph}, dbgReg)
		handles, err := eng.ConstructFragments()
		if err != nil {
			return err
		}
		constructBarrier.Wait()
		if err := eng.CleanLinks(handles); err != nil {
			return err
		}
		cleanBarrier.Wait()
		if cfg.DumpGraph {
			if err := dumpFragmentGraph(eng, handles, cfg.graphPath(k, r.ID)); err != nil {
				return err
			}
		}
		rawContigs, err := eng.StitchContigs(handles)
		if err != nil {
			return err
		}

		ctgStore := contigstore.New()
		for _, rc := range rawContigs {
			ctgStore.Add(contigstore.Contig{Seq: rc.Seq, Depth: rc.Depth})
		}
		ctgStore.AssignIDs(ctgIDDomain)

		// Step 5: free the KmerDHT -- nothing else in this round's scope
		// keeps a reference to tbl past this point.
		tbl = nil

		// Step 6: shuffle reads to their contig's owning rank and extend
		// both ends by local assembly.
		if cfg.ShuffleReads && alnSrc != nil {
			shuffleCfg := shuffle.Config{
				ShuffleKmerLen: cfg.ShuffleKmerLen,
				KmerStride:     cfg.ShuffleStride,
				MaxReqBuff:     cfg.MaxReqBuff,
				Agg: aggstore.Config{
					MemFrac:          0.05,
					FreeMemPerWorker: cfg.freeMemPerWorkerBytes(),
					PayloadSize:      24,
				},
			}
			shuffleEng := shuffle.NewEngine(r, shuffleCfg, shuffleRegs)
			if err := shuffleEng.Shuffle(readStore, ctgStore, shuffleBarrier, shuffleDomains); err != nil {
				return err
			}

			alns, dropped, err := alnSrc.ReadAlignments(r.ID, w)
			if err != nil {
				return err
			}
			stats.addIndecipherableAlns(dropped)

			ctgsWithReads := buildCtgsWithReads(ctgStore, readStore, alns, cfg.endTolerance())
			laCfg := cfg.LocalAssm
			laCfg.KmerLen = k
			laCfg.MinQual = cfg.qLow()
			laCfg.MinHiQual = cfg.qHi()
			if laCfg.MaxKmerLen == 0 {
				laCfg.MaxKmerLen = k
			}
			for i := range ctgsWithReads {
				localassm.Extend(&ctgsWithReads[i], laCfg)
			}
			applyExtensions(ctgStore, ctgsWithReads)
		}

		gatherMu.Lock()
		gathered[r.ID] = ctgStore
		gatherMu.Unlock()
		gatherBarrier.Wait()

		if r.ID == 0 {
			merged := contigstore.New()
			for _, cs := range gathered {
				for _, ctg := range cs.All() {
					merged.Add(ctg)
				}
			}
			if err := merged.DumpToFasta(ckptPath, cfg.MinCtgPrintLen); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// dumpFragmentGraph writes eng's local fragment-link graph to path as
// Graphviz dot, creating the file's parent directory as needed.
func dumpFragmentGraph(eng *dbgtraversal.Engine, handles []cluster.Handle, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("dumpFragmentGraph: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dumpFragmentGraph: %w", err)
	}
	defer f.Close()
	return eng.DumpFragmentGraphDot(f, handles)
}

// estimateKmerCount samples up to sampleCap reads already in store and
// extrapolates a per-worker k-mer count estimate (spec.md section 4.7
// step 1: "sample <=100k reads per worker, extrapolate").
func estimateKmerCount(store *reads.Store, k, sampleCap int) int64 {
	n := store.Len()
	if n == 0 {
		return 0
	}
	sample := n
	if sample > sampleCap {
		sample = sampleCap
	}
	total := 0
	for i := 0; i < sample; i++ {
		seqLen := len(store.At(i).Bases)
		if seqLen > k {
			total += seqLen - k + 1
		}
	}
	perRead := float64(total) / float64(sample)
	return int64(perRead * float64(n))
}

// insertReadKmers slides a k-window over every read in store, inserting
// each window's canonical k-mer with its single-base left/right extension
// votes, skipping any window that spans an ambiguous (N) base.
func insertReadKmers(tbl *kmerdht.Table, store *reads.Store, k int, qLow, qHi byte) {
	for _, pr := range store.All() {
		bases := pr.Bases
		for i := 0; i+k <= len(bases); i++ {
			if containsN(bases[i : i+k]) {
				continue
			}
			km := kmer.FromBytes(bases, i, k)
			extLeft, hiLeft := extVote(bases, pr.Quals, i-1, qLow, qHi)
			extRight, hiRight := extVote(bases, pr.Quals, i+k, qLow, qHi)
			tbl.Insert(km, extLeft, hiLeft, extRight, hiRight, 1, false)
		}
	}
}

// insertSeedKmers inserts every k-mer of a previous round's contig in seed
// mode (spec.md section 4.2 "Seed-contig mode"), weighting each vote by
// the contig's depth saturated to uint16.
func insertSeedKmers(tbl *kmerdht.Table, seq string, k int, depth float64) {
	codes := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c, err := bnt.CharToCode(seq[i])
		if err != nil {
			c = reads.BaseN
		}
		codes[i] = c
	}
	weight := depth
	if weight < 1 {
		weight = 1
	}
	if weight > 65535 {
		weight = 65535
	}
	w := uint16(weight)
	for i := 0; i+k <= len(codes); i++ {
		if containsN(codes[i : i+k]) {
			continue
		}
		km := kmer.FromBytes(codes, i, k)
		extLeft := seedExt(codes, i-1)
		extRight := seedExt(codes, i+k)
		tbl.Insert(km, extLeft, true, extRight, true, w, true)
	}
}

func containsN(codes []byte) bool {
	for _, c := range codes {
		if c == reads.BaseN {
			return true
		}
	}
	return false
}

// extVote returns the ASCII extension base at pos (or a sentinel that
// votes for nothing when out of range, ambiguous, or below qLow) and
// whether that vote clears qHi.
func extVote(bases, quals []byte, pos int, qLow, qHi byte) (byte, bool) {
	if pos < 0 || pos >= len(bases) {
		return 0, false
	}
	code := bases[pos]
	if code == reads.BaseN {
		return 0, false
	}
	if quals[pos] < qLow {
		return 0, false
	}
	return bnt.CodeToChar(code), quals[pos] >= qHi
}

func seedExt(codes []byte, pos int) byte {
	if pos < 0 || pos >= len(codes) || codes[pos] == reads.BaseN {
		return 0
	}
	return bnt.CodeToChar(codes[pos])
}

// buildCtgsWithReads joins alns against ctgStore/readStore into one
// localassm.CtgWithReads per contig that has at least one qualifying
// alignment, populating ReadsLeft/ReadsRight with whichever aligned reads
// extend past that contig's corresponding end. Grounded on
// original_source/src/localassm/localassm_core.cpp's get_best_aln_for_read
// (keep only the highest-scoring alignment per read) and classify_aln/
// process_alns (an end "extends" when the read's unaligned overhang past
// that end is longer than the contig's own overhang there, and the
// contig's overhang is within endTolerance; the read is added whole, not
// trimmed, reverse-complemented first whenever the extended end and the
// alignment's orientation put it on the opposite strand from the contig).
func buildCtgsWithReads(ctgStore *contigstore.Store, readStore *reads.Store, alns []ingest.Alignment, endTolerance int) []localassm.CtgWithReads {
	bestByRead := make(map[int64]ingest.Alignment, len(alns))
	for _, a := range alns {
		if prev, ok := bestByRead[a.ReadID]; !ok || a.Score > prev.Score {
			bestByRead[a.ReadID] = a
		}
	}

	packedByID := make(map[int64]reads.PackedRead, readStore.Len())
	for _, pr := range readStore.All() {
		packedByID[pr.ID] = pr
	}

	type extension struct {
		seq  localassm.ReadSeq
		left bool
	}
	byCtg := make(map[int64][]extension)
	for _, a := range bestByRead {
		side, extends := classifyExtension(a, endTolerance)
		if !extends {
			continue
		}
		pr, ok := packedByID[a.ReadID]
		if !ok {
			continue
		}
		seq := reads.Seq(pr)
		quals := append([]byte{}, pr.Quals...)
		if extensionNeedsRevcomp(a.Plus, side) {
			seq = revcompSeq(seq)
			reverseBytes(quals)
		}
		byCtg[a.ContigID] = append(byCtg[a.ContigID], extension{
			seq:  localassm.ReadSeq{ReadID: a.ReadID, Seq: seq, Quals: quals},
			left: side == 'L',
		})
	}

	out := make([]localassm.CtgWithReads, 0, len(byCtg))
	for _, ctg := range ctgStore.All() {
		exts, ok := byCtg[ctg.ID]
		if !ok {
			continue
		}
		cwr := localassm.CtgWithReads{CID: ctg.ID, Seq: ctg.Seq, Depth: ctg.Depth}
		for _, e := range exts {
			if e.left {
				cwr.ReadsLeft = append(cwr.ReadsLeft, e.seq)
			} else {
				cwr.ReadsRight = append(cwr.ReadsRight, e.seq)
			}
		}
		out = append(out, cwr)
	}
	return out
}

// classifyExtension reports which end of a.ContigID (if any) the alignment
// extends past, mirroring classify_aln's two-sided check: an end counts as
// extended when the read has more unaligned bases past it than the contig
// does, and the contig's unaligned remainder there is within tol. A '+'
// alignment's read-start overhang extends the contig's left ('L') end and
// its read-stop overhang extends the right ('R') end; a '-' alignment is
// between the read and the contig's reverse complement, so the two ends
// swap. Only one end is reported per alignment, start taking priority over
// stop, matching get_best_aln_for_read's straight-line read-through.
func classifyExtension(a ingest.Alignment, tol int) (side byte, extends bool) {
	extendsPast := func(readOverhang, ctgOverhang int) bool {
		return readOverhang > ctgOverhang && ctgOverhang < tol
	}
	readStartOverhang := a.ReadStart
	readStopOverhang := a.ReadLen - a.ReadStop
	ctgStartOverhang := a.ContigStart
	ctgStopOverhang := a.ContigLen - a.ContigStop
	if a.Plus {
		if extendsPast(readStartOverhang, ctgStartOverhang) {
			return 'L', true
		}
		if extendsPast(readStopOverhang, ctgStopOverhang) {
			return 'R', true
		}
	} else {
		if extendsPast(readStartOverhang, ctgStopOverhang) {
			return 'R', true
		}
		if extendsPast(readStopOverhang, ctgStartOverhang) {
			return 'L', true
		}
	}
	return 0, false
}

// extensionNeedsRevcomp reports whether a read extending side of a contig
// must be reverse-complemented before it is voted on, matching
// process_alns' (orient == '-' && side == 'R') || (orient == '+' && side
// == 'L') table: the walk in localassm.Extend always runs forward, against
// the contig's own orientation on the right and its reverse complement on
// the left, so any read approaching on the opposite strand from that
// target needs flipping first.
func extensionNeedsRevcomp(plus bool, side byte) bool {
	return plus == (side == 'L')
}

func revcompSeq(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c, err := bnt.CharToCode(seq[i])
		if err != nil {
			out[len(seq)-1-i] = seq[i]
			continue
		}
		out[len(seq)-1-i] = bnt.CodeToChar(bnt.Complement(c))
	}
	return string(out)
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// applyExtensions writes each ctgsWithReads' (possibly lengthened, by
// localassm.Extend) Seq back into ctgStore by CID. Depth is never touched:
// Extend only grows Seq, per spec.md section 4.6 step 7.
func applyExtensions(ctgStore *contigstore.Store, ctgsWithReads []localassm.CtgWithReads) {
	for _, cwr := range ctgsWithReads {
		ctgStore.SetSeq(cwr.CID, cwr.Seq)
	}
}
