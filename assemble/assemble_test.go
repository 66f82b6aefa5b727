package assemble

import (
	"testing"

	"github.com/seqlab/microcaller/align"
	"github.com/seqlab/microcaller/nseq"
	"github.com/seqlab/microcaller/seqtype"
)

func mkRead(t *testing.T, raw string) *seqtype.Read {
	t.Helper()
	enc, err := nseq.New(raw, nseq.MaxRead)
	if err != nil {
		t.Fatalf("nseq.New(%q): %v", raw, err)
	}
	return &seqtype.Read{RawSeq: raw, Encoded: enc, GroupID: -1}
}

func TestAssembleIdenticalReads(t *testing.T) {
	refSeq := "ACGTACGTACGTACGTACGTACGTACGTAC"
	ref, err := nseq.New(refSeq, nseq.MaxRef)
	if err != nil {
		t.Fatalf("nseq.New(ref): %v", err)
	}
	var reads []*seqtype.Read
	for i := 0; i < 20; i++ {
		reads = append(reads, mkRead(t, refSeq))
	}
	m := align.NewMatrix(nseq.MaxRef, nseq.MaxRead)
	ga, accepted := Assemble(m, ref, reads)

	if len(accepted) != 20 {
		t.Fatalf("expected all 20 reads accepted, got %d", len(accepted))
	}
	if ga.PLen != len(refSeq) {
		t.Fatalf("PLen = %d, want %d (no insertions expected)", ga.PLen, len(refSeq))
	}
	for c := 0; c < ga.PLen; c++ {
		if ga.RefCol[c] != ref.At(c) {
			t.Fatalf("RefCol[%d] = %v, want %v", c, ga.RefCol[c], ref.At(c))
		}
		for r := range accepted {
			if ga.Row[r][c] != ref.At(c) {
				t.Fatalf("Row[%d][%d] = %v, want %v", r, c, ga.Row[r][c], ref.At(c))
			}
		}
	}
}

func TestAssembleDetectsInsertion(t *testing.T) {
	refSeq := "ACGTACGTACGTACGTACGTACGTACGTAC"
	ref, err := nseq.New(refSeq, nseq.MaxRef)
	if err != nil {
		t.Fatalf("nseq.New(ref): %v", err)
	}
	var reads []*seqtype.Read
	for i := 0; i < 15; i++ {
		reads = append(reads, mkRead(t, "ACGTACGTACGTAGCGTACGTACGTACGTAC")) // extra G after position 12
	}
	m := align.NewMatrix(nseq.MaxRef, nseq.MaxRead)
	ga, accepted := Assemble(m, ref, reads)

	if len(accepted) == 0 {
		t.Fatalf("expected some reads accepted")
	}
	if ga.PLen <= len(refSeq) {
		t.Fatalf("PLen = %d, expected > %d (an insertion column)", ga.PLen, len(refSeq))
	}
	sawInsertionCol := false
	for c := 0; c < ga.PLen; c++ {
		if ga.RefCol[c] == nseq.GAP {
			sawInsertionCol = true
		}
	}
	if !sawInsertionCol {
		t.Fatalf("expected at least one GAP reference column for the insertion")
	}
}

func TestAssembleRejectsTooShort(t *testing.T) {
	ref, err := nseq.New("ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT", nseq.MaxRef)
	if err != nil {
		t.Fatalf("nseq.New(ref): %v", err)
	}
	reads := []*seqtype.Read{mkRead(t, "ACGT")}
	m := align.NewMatrix(nseq.MaxRef, nseq.MaxRead)
	_, accepted := Assemble(m, ref, reads)
	if len(accepted) != 0 {
		t.Fatalf("expected the too-short read to be rejected, got %d accepted", len(accepted))
	}
}
