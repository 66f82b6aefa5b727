package group

import (
	"testing"

	"github.com/seqlab/microcaller/seqtype"
)

func TestBuildMergesCompatibleReads(t *testing.T) {
	reads := []*seqtype.Read{
		{Tag: 0b000, Mask: 0b111, GroupID: -1},
		{Tag: 0b000, Mask: 0b111, GroupID: -1},
		{Tag: 0b001, Mask: 0b111, GroupID: -1},
		{Tag: 0b001, Mask: 0b111, GroupID: -1},
	}
	groups := Build(reads)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if reads[0].GroupID != reads[1].GroupID {
		t.Fatalf("expected reads 0,1 in the same group")
	}
	if reads[2].GroupID != reads[3].GroupID {
		t.Fatalf("expected reads 2,3 in the same group")
	}
	if reads[0].GroupID == reads[2].GroupID {
		t.Fatalf("expected incompatible reads in different groups")
	}
}

func TestOverlapCounts3BitGroups(t *testing.T) {
	if got := overlap(0b111, 0b111); got != 1 {
		t.Fatalf("overlap(0b111,0b111) = %d, want 1", got)
	}
	if got := overlap(0b111000, 0b111111); got != 1 {
		t.Fatalf("overlap = %d, want 1", got)
	}
	if got := overlap(0, 0b111); got != 0 {
		t.Fatalf("overlap with zero mask = %d, want 0", got)
	}
}

func TestSelectIncludedRespectsGates(t *testing.T) {
	groups := []*seqtype.Group{
		{Size: 10, Divergent: 0, MinCov: 5, HasStart: true, HasEnd: true},
		{Size: 1, Divergent: 0, MinCov: 5, HasStart: true, HasEnd: true}, // below MinGroupSize
		{Size: 9, Divergent: 10, MinCov: 5, HasStart: true, HasEnd: true}, // too divergent
	}
	SortForSelection(groups)
	SelectIncluded(groups)
	if !groups[0].Included {
		t.Fatalf("expected the large, non-divergent group to be included")
	}
	included := 0
	for _, g := range groups {
		if g.Included {
			included++
		}
	}
	if included != 1 {
		t.Fatalf("expected exactly 1 included group, got %d", included)
	}
}
