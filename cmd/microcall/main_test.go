package main

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"

	"github.com/seqlab/microcaller/call"
	"github.com/seqlab/microcaller/kmerindex"
	"github.com/seqlab/microcaller/regionfile"
	"github.com/seqlab/microcaller/seqstore"
	"github.com/seqlab/microcaller/seqtype"
)

// TestRunPipelineEndToEnd exercises the full recruit->assemble->tag->group->
// call chain through runPipeline against a real mmap'd SeqStore file, the
// way markduplicates/main_test.go drives generateBAM end to end against a
// temp-dir fixture rather than mocking its collaborators.
func TestRunPipelineEndToEnd(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	const refSeq = "ACGTACGTACGTACGTACGTACGTACGTAC"
	const nReads = 12

	var content string
	offsets := make([]int64, nReads)
	for i := 0; i < nReads; i++ {
		offsets[i] = int64(len(content))
		content += fmt.Sprintf(">read%d\n%s\n", i, refSeq)
	}

	seqPath := filepath.Join(tempDir, "reads.fa")
	require.NoError(t, ioutil.WriteFile(seqPath, []byte(content), 0644))

	store, err := seqstore.Open([]string{seqPath})
	require.NoError(t, err)
	defer store.Close()

	const seedKmer = "ACGTA"
	postings := make([]kmerindex.Posting, nReads)
	for i, off := range offsets {
		postings[i] = kmerindex.Posting{FileIdx: 0, Offset: off, Strand: kmerindex.StrandForward}
	}
	index, err := kmerindex.BuildMemIndex(map[string][]kmerindex.Posting{seedKmer: postings})
	require.NoError(t, err)

	rec := regionfile.Record{Chr: "chr1", Start: 1000, End: 1030, RefSeq: refSeq, Kmers: []string{seedKmer}}

	var block seqtype.CallBlock
	err = runPipeline(rec, index, store, nil, call.CoverageFixed, nReads, &block)
	require.NoError(t, err)
	require.NotEmpty(t, block.Calls)

	for _, c := range block.Calls {
		if c.Cov == 0 {
			continue
		}
		require.Equal(t, seqtype.ClassSilent, c.Class, "column %d: homozygous-reference reads should never call a variant", c.Pos)
	}
}
