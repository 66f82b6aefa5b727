package recruit

import (
	"testing"

	"github.com/seqlab/microcaller/kmerindex"
)

type fakeStore struct {
	records map[int]map[int64][2]string // fileIdx -> offset -> (name, seq)
}

func (f *fakeStore) Read(fileIdx int, offset int64) (string, string, error) {
	rec := f.records[fileIdx][offset]
	return rec[0], rec[1], nil
}

func newFakeIndex(t *testing.T, postings map[string][]kmerindex.Posting) *kmerindex.MemIndex {
	t.Helper()
	idx, err := kmerindex.BuildMemIndex(postings)
	if err != nil {
		t.Fatalf("BuildMemIndex: %v", err)
	}
	return idx
}

func TestRecruitDedupesAndOrients(t *testing.T) {
	store := &fakeStore{records: map[int]map[int64][2]string{
		0: {
			0: {"r0", "ACGTACGTACGTACGTACGTACGTACGTA"},
			1: {"r1", "TACGTACGTACGTACGTACGTACGTACGT"}, // rc of a forward read
		},
	}}
	kmer := "ACGTACGTACGTACGTACGTACGTACGTA"[:25]
	postings := map[string][]kmerindex.Posting{
		kmer: {
			{FileIdx: 0, Offset: 0, Strand: kmerindex.StrandForward},
			{FileIdx: 0, Offset: 1, Strand: kmerindex.StrandReverse},
		},
	}
	idx := newFakeIndex(t, postings)

	reads := collect(idx, store, []string{kmer})
	if len(reads) != 2 {
		t.Fatalf("expected 2 reads, got %d", len(reads))
	}
	for _, r := range reads {
		if r.RawSeq != "ACGTACGTACGTACGTACGTACGTACGTA" {
			t.Fatalf("read %+v not oriented to the reference strand", r)
		}
	}
}

func TestUnassemblableBelowMinReads(t *testing.T) {
	store := &fakeStore{records: map[int]map[int64][2]string{0: {0: {"r0", "ACGTACGTACGTACGTACGTACGTACGTA"}}}}
	kmer := "ACGTACGTACGTACGTACGTACGTACGTA"[:25]
	idx := newFakeIndex(t, map[string][]kmerindex.Posting{
		kmer: {{FileIdx: 0, Offset: 0, Strand: kmerindex.StrandForward}},
	})
	_, err := Recruit(idx, store, []string{kmer})
	if err == nil {
		t.Fatalf("expected Unassemblable error")
	}
	if _, ok := err.(Unassemblable); !ok {
		t.Fatalf("expected Unassemblable, got %T: %v", err, err)
	}
}
