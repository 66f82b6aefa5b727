// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
microcall is a reference-guided micro-assembler and variant caller for
short sequencing reads: it recruits reads around a seed k-mer, locally
aligns them to a reference window, groups them into candidate haplotypes,
and emits a logistic-scored genotype call per column.
*/

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/seqlab/microcaller/align"
	"github.com/seqlab/microcaller/assemble"
	"github.com/seqlab/microcaller/bisect"
	"github.com/seqlab/microcaller/call"
	"github.com/seqlab/microcaller/checkpoint"
	"github.com/seqlab/microcaller/group"
	"github.com/seqlab/microcaller/kmerindex"
	"github.com/seqlab/microcaller/nseq"
	"github.com/seqlab/microcaller/queue"
	"github.com/seqlab/microcaller/recruit"
	"github.com/seqlab/microcaller/regionfile"
	"github.com/seqlab/microcaller/seqstore"
	"github.com/seqlab/microcaller/seqtype"
	"github.com/seqlab/microcaller/snvfp"
	"github.com/seqlab/microcaller/tag"
)

var (
	regionPath   = flag.String("region-file", "", "Region input file (required)")
	seqPaths     = flag.String("seq-files", "", "Comma-separated memory-mapped sequence files (required)")
	snvPath      = flag.String("snv-table", "", "Optional SNV table path")
	fpPath       = flag.String("fp-table", "", "Optional false-positive table path")
	outPath      = flag.String("out", "", "Output path; defaults to stdout")
	checkpointAt = flag.String("checkpoint", "", "Optional checkpoint/resume log path")
	parallelism  = flag.Int("parallelism", 4, "Number of RegionQueue worker threads")
	coverageMode = flag.String("coverage-mode", "fixed", "One of fixed, median, local")
	coverageK    = flag.Int("coverage", 30, "Configured coverage for fixed/median modes")
	minP         = flag.Float64("min-p", 0.5, "Silent calls below this score are still printed, to show the NC rationale")
	printCounts  = flag.Bool("print-counts", false, "Emit per-nucleotide count columns")
	single       = flag.String("single-region", "", "Run one CHR:START:END:REFSEQ:KMERS record directly, with bisection fallback, instead of the region file")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -region-file PATH -seq-files PATH[,PATH...] [OPTIONS]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})

	if *regionPath == "" && *single == "" {
		log.Fatalf("-region-file or -single-region is required")
	}
	if *seqPaths == "" {
		log.Fatalf("-seq-files is required")
	}

	ctx := vcontext.Background()
	store, err := seqstore.Open(strings.Split(*seqPaths, ","))
	if err != nil {
		log.Fatalf("opening sequence store: %v", err)
	}
	defer store.Close()

	var snvTable *snvfp.Table
	if *snvPath != "" || *fpPath != "" {
		snvTable = snvfp.New()
		if *snvPath != "" {
			if err := loadTable(ctx, *snvPath, snvTable.LoadSNV); err != nil {
				log.Fatalf("loading SNV table: %v", err)
			}
		}
		if *fpPath != "" {
			if err := loadTable(ctx, *fpPath, snvTable.LoadFP); err != nil {
				log.Fatalf("loading FP table: %v", err)
			}
		}
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := file.Create(ctx, *outPath)
		if err != nil {
			log.Fatalf("creating output %s: %v", *outPath, err)
		}
		defer f.Close(ctx)
		out = f.Writer(ctx)
	}
	bw := bufio.NewWriter(out)
	defer bw.Flush()

	var ckpt *checkpoint.Writer
	var alreadyDone map[checkpoint.Region]bool
	if *checkpointAt != "" {
		ckptFile, err := file.Open(ctx, *checkpointAt)
		if err == nil {
			regions, err := checkpoint.ReadAll(ckptFile.Reader(ctx))
			ckptFile.Close(ctx)
			if err != nil {
				log.Fatalf("reading checkpoint log: %v", err)
			}
			alreadyDone = checkpoint.Done(regions)
			log.Debug.Printf("resuming: %d regions already checkpointed", len(alreadyDone))
		}
		appendFile, err := file.Create(ctx, *checkpointAt)
		if err != nil {
			log.Fatalf("opening checkpoint log for append: %v", err)
		}
		defer appendFile.Close(ctx)
		ckpt = checkpoint.NewWriter(appendFile.Writer(ctx))
	}

	mode := parseCoverageMode(*coverageMode)
	printHeader(bw, *printCounts)

	if *single != "" {
		runSingleRegion(*single, store, snvTable, mode, bw)
		return
	}

	regionsFile, err := file.Open(ctx, *regionPath)
	if err != nil {
		log.Fatalf("opening region file %s: %v", *regionPath, err)
	}
	defer regionsFile.Close(ctx)
	records, err := regionfile.Parse(regionsFile.Reader(ctx))
	if err != nil {
		log.Fatalf("parsing region file: %v", err)
	}

	var pending []regionfile.Record
	for _, rec := range records {
		key := checkpoint.Region{Chr: rec.Chr, Start: rec.Start, End: rec.End}
		if alreadyDone[key] {
			continue
		}
		pending = append(pending, rec)
	}

	index, err := buildIndex(pending)
	if err != nil {
		log.Fatalf("building kmer index: %v", err)
	}

	pipeline := func(rec regionfile.Record, block *seqtype.CallBlock) error {
		return runPipeline(rec, index, store, snvTable, mode, *coverageK, block)
	}
	// Checkpointing is per region, not per emitted call row, so it happens
	// once after Run below rather than inside this closure.
	emit := func(chr string, pos int, c seqtype.Call) {
		printCall(bw, chr, c, *printCounts)
	}

	q := queue.New(pending, pipeline, emit, *minP)
	if err := q.Run(*parallelism); err != nil {
		log.Fatalf("region queue: %v", err)
	}
	if ckpt != nil {
		for _, rec := range pending {
			if err := ckpt.Append(rec.Chr, rec.Start, rec.End); err != nil {
				log.Fatalf("writing checkpoint: %v", err)
			}
		}
	}
	log.Debug.Printf("processed %d regions", len(pending))
}

func loadTable(ctx context.Context, path string, load func(io.Reader) error) error {
	f, err := file.Open(ctx, path)
	if err != nil {
		return err
	}
	defer f.Close(ctx)
	return load(f.Reader(ctx))
}

func parseCoverageMode(s string) call.CoverageMode {
	switch s {
	case "median":
		return call.CoverageMedian
	case "local":
		return call.CoverageLocal
	default:
		return call.CoverageFixed
	}
}

// buildIndex constructs a KmerIndex from the region file's own declared
// seed k-mers. Building a real genome-wide k-mer database is out of scope
// (spec Non-goals, SPEC_FULL.md): a production deployment loads a prebuilt
// index external to this tool. Here each declared k-mer gets one posting
// per record that lists it, in sequence file 0 at byte offset i, where i is
// the record's index in records; the region file carries no read locations,
// so these postings do not reflect where reads actually sit in the
// sequence files.
func buildIndex(records []regionfile.Record) (*kmerindex.MemIndex, error) {
	seeds := make(map[string][]kmerindex.Posting)
	for i, rec := range records {
		for _, km := range rec.Kmers {
			seeds[km] = append(seeds[km], kmerindex.Posting{FileIdx: 0, Offset: int64(i), Strand: kmerindex.StrandForward})
		}
	}
	return kmerindex.BuildMemIndex(seeds)
}

func runPipeline(rec regionfile.Record, index kmerindex.KmerIndex, store *seqstore.MmapStore, snvTable *snvfp.Table, mode call.CoverageMode, k int, block *seqtype.CallBlock) error {
	chr := regionfile.NormalizeChr(rec.Chr)

	ref, err := nseq.New(rec.RefSeq, nseq.MaxRef)
	if err != nil {
		block.Chr, block.Start, block.End = chr, rec.Start, rec.End
		return nil // region-rejection (spec §7 kind 1): oversized window, NC-only block.
	}

	reads, err := recruit.Recruit(index, store, rec.Kmers)
	if err != nil {
		block.Chr, block.Start, block.End = chr, rec.Start, rec.End
		return nil // < MIN_READS recruited: NC-only block.
	}

	m := align.NewMatrix(nseq.MaxRef, nseq.MaxRead)
	ga, accepted := assemble.Assemble(m, ref, reads)

	// tag.Tag and group.Finalize both take their SNVLookup as a plain
	// interface value; pass a genuine nil (not a non-nil interface wrapping
	// a nil adapter) when no SNV table was loaded, since both packages test
	// the interface itself for nil.
	var tagSNV tag.SNVLookup
	var groupSNV groupSNVLookup
	if snvTable != nil {
		adapter := snvLookupAdapter{table: snvTable, chr: chr, start: rec.Start}
		tagSNV, groupSNV = adapter, adapter
	}

	tag.Tag(accepted, ga, tagSNV)
	groups := group.Build(accepted)
	group.Finalize(groups, accepted, ga, groupSNV)
	group.SortForSelection(groups)
	group.SelectIncluded(groups)

	nIncluded := 0
	for _, g := range groups {
		if g.Included {
			nIncluded++
		}
	}
	if nIncluded == 0 {
		block.Chr, block.Start, block.End = chr, rec.Start, rec.End
		return nil // zero included groups: NC-only block; bisection is the single-region path's job.
	}

	*block = *call.CallRegion(ga, groups, call.Opts{Mode: mode, K: k, SNV: snvTable, Chr: chr, Start: rec.Start})
	return nil
}

// snvLookupAdapter resolves a column index back to (chr, pos) so
// package group and package tag, which only know columns, can still
// consult snvfp.Table, which is keyed by (chr, pos).
type snvLookupAdapter struct {
	table *snvfp.Table
	chr   string
	start int
}

func (a snvLookupAdapter) MatchesSNV(col int, base byte) bool {
	return a.table.MatchesSNV(a.chr, a.start+col, base)
}

// groupSNVLookup mirrors the unexported interface group.Finalize takes;
// snvLookupAdapter satisfies it structurally, so a nil groupSNVLookup
// variable can be passed straight through without naming group's own
// interface type.
type groupSNVLookup interface {
	MatchesSNV(col int, base byte) bool
}

func runSingleRegion(spec string, store *seqstore.MmapStore, snvTable *snvfp.Table, mode call.CoverageMode, bw *bufio.Writer) {
	parts := strings.SplitN(spec, ":", 5)
	if len(parts) != 5 {
		log.Fatalf("-single-region expects CHR:START:END:REFSEQ:KMERS, got %q", spec)
	}
	var start, end int
	if _, err := fmt.Sscanf(parts[1], "%d", &start); err != nil {
		log.Fatalf("bad start in -single-region: %v", err)
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &end); err != nil {
		log.Fatalf("bad end in -single-region: %v", err)
	}
	rec := regionfile.Record{Chr: parts[0], Start: start, End: end, RefSeq: parts[3], Kmers: strings.Split(parts[4], ",")}

	index, err := buildIndex([]regionfile.Record{rec})
	if err != nil {
		log.Fatalf("building kmer index: %v", err)
	}

	r := bisect.Region{Chr: rec.Chr, Start: rec.Start, End: rec.End, RefSeq: rec.RefSeq, Kmers: rec.Kmers}
	fn := func(br bisect.Region) (*seqtype.CallBlock, bool) {
		sub := regionfile.Record{Chr: br.Chr, Start: br.Start, End: br.End, RefSeq: br.RefSeq, Kmers: br.Kmers}
		block := &seqtype.CallBlock{}
		if err := runPipeline(sub, index, store, snvTable, mode, *coverageK, block); err != nil {
			return nil, false
		}
		return block, len(block.Calls) > 0
	}
	block := bisect.Assemble(r, fn)
	for _, c := range block.Calls {
		printCall(bw, block.Chr, c, *printCounts)
	}
}

func printHeader(w io.Writer, withCounts bool) {
	fmt.Fprintf(w, "# microcall output\n")
	cols := "CHR\tPOS\tREF\tCOVERAGE\tCALL\tCLASS\tP\tPREV"
	if withCounts {
		cols += "\tA\tC\tG\tT\tN\tGAP"
	}
	fmt.Fprintln(w, cols)
}

func printCall(w io.Writer, chr string, c seqtype.Call, withCounts bool) {
	callStr := "NC"
	if c.Nucl[0] != nseq.NONE {
		callStr = string(codeToASCII(c.Nucl[0])) + string(codeToASCII(c.Nucl[1]))
	}
	fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%c\t%.4f\t%c",
		chr, c.Pos, codeStr(c.Ref), c.Cov, callStr, c.Class, c.P, c.PrevRef)
	if withCounts {
		for code := nseq.A; code <= nseq.GAP; code++ {
			fmt.Fprintf(w, "\t%d", c.Count[code])
		}
	}
	fmt.Fprintln(w)
}

func codeStr(c nseq.Code) string {
	return string(codeToASCII(c))
}

func codeToASCII(c nseq.Code) byte {
	const tbl = "ACGTN-"
	if c < nseq.A || c > nseq.GAP {
		return '?'
	}
	return tbl[c]
}
