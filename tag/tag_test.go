package tag

import (
	"testing"

	"github.com/seqlab/microcaller/nseq"
	"github.com/seqlab/microcaller/seqtype"
)

func buildAlignment(rows [][]nseq.Code, refCol []nseq.Code) *seqtype.GappedAlignment {
	ga := seqtype.NewGappedAlignment(len(rows), len(refCol))
	ga.RefCol = refCol
	for i, row := range rows {
		copy(ga.Row[i], row)
	}
	return ga
}

func TestTagMarksDivergentColumn(t *testing.T) {
	refCol := []nseq.Code{nseq.A, nseq.C, nseq.G, nseq.T}
	rows := [][]nseq.Code{
		{nseq.A, nseq.C, nseq.G, nseq.T},
		{nseq.A, nseq.C, nseq.G, nseq.T},
		{nseq.A, nseq.T, nseq.G, nseq.T}, // column 1 diverges to T
		{nseq.A, nseq.T, nseq.G, nseq.T},
	}
	ga := buildAlignment(rows, refCol)
	reads := make([]*seqtype.Read, len(rows))
	for i := range reads {
		reads[i] = &seqtype.Read{}
	}
	Tag(reads, ga, nil)

	// Reads 0,1 should carry the reference variant (0) at the one
	// divergent column; reads 2,3 a nonzero variant, and both mask bits set.
	if reads[0].Tag != 0 {
		t.Fatalf("reads[0].Tag = %d, want 0", reads[0].Tag)
	}
	if reads[2].Tag == 0 {
		t.Fatalf("reads[2].Tag should carry a nonzero variant")
	}
	if reads[0].Mask == 0 || reads[2].Mask == 0 {
		t.Fatalf("mask bits should be set for an informative divergent column")
	}
	if !seqtype.Compatible(reads[0].Tag, reads[0].Mask, reads[1].Tag, reads[1].Mask) {
		t.Fatalf("reads[0],[1] should be compatible")
	}
	if seqtype.Compatible(reads[0].Tag, reads[0].Mask, reads[2].Tag, reads[2].Mask) {
		t.Fatalf("reads[0],[2] should NOT be compatible")
	}
}

func TestTagCapsAt21Columns(t *testing.T) {
	nCols := 25
	refCol := make([]nseq.Code, nCols)
	for i := range refCol {
		refCol[i] = nseq.A
	}
	rows := make([][]nseq.Code, 4)
	for i := range rows {
		rows[i] = make([]nseq.Code, nCols)
		for c := range rows[i] {
			if i < 2 {
				rows[i][c] = nseq.A
			} else {
				rows[i][c] = nseq.C // every column diverges
			}
		}
	}
	ga := buildAlignment(rows, refCol)
	reads := make([]*seqtype.Read, len(rows))
	for i := range reads {
		reads[i] = &seqtype.Read{}
	}
	Tag(reads, ga, nil)

	// 63 bits / 3 bits per column = 21 columns max; the tag must fit.
	if reads[2].Tag>>63 != 0 {
		t.Fatalf("tag overflowed 63 bits")
	}
}
