package queue

import (
	"sort"
	"sync"
	"testing"

	"github.com/seqlab/microcaller/regionfile"
	"github.com/seqlab/microcaller/seqtype"
)

func TestQueueEmitsInGenomicOrderAcrossChromosomes(t *testing.T) {
	// Two disjoint regions, listed in genomic order as a region file must
	// be (chr1 before chrX), but chrX's pipeline is made to race ahead and
	// finish first; emission must still come out chr1 before chrX, since
	// chr1 is still processing when chrX finishes (spec §8 scenario 6).
	records := []regionfile.Record{
		{Chr: "1", Start: 50, End: 60, RefSeq: "AAAAAAAAAA"},
		{Chr: "X", Start: 200, End: 210, RefSeq: "AAAAAAAAAA"},
	}

	var chr1Started, chrXDone sync.WaitGroup
	chr1Started.Add(1)
	chrXDone.Add(1)
	pipeline := func(rec regionfile.Record, block *seqtype.CallBlock) error {
		if rec.Chr == "1" {
			chr1Started.Done()
			chrXDone.Wait() // hold chr1 "in flight" until chrX has raced ahead
		} else {
			chr1Started.Wait()
		}
		for p := rec.Start; p < rec.End; p++ {
			block.Calls = append(block.Calls, seqtype.Call{Pos: p, Poly: true, P: 0.9})
		}
		block.End = rec.End
		if rec.Chr == "X" {
			chrXDone.Done()
		}
		return nil
	}

	var emitted []string
	emit := func(chr string, pos int, call seqtype.Call) {
		emitted = append(emitted, chr)
	}

	q := New(records, pipeline, emit, 0.5)
	if err := q.Run(2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(emitted) != 20 {
		t.Fatalf("got %d emitted calls, want 20", len(emitted))
	}
	firstX := -1
	lastChr1 := -1
	for i, c := range emitted {
		if c == "X" && firstX == -1 {
			firstX = i
		}
		if c == "1" {
			lastChr1 = i
		}
	}
	if firstX < lastChr1 {
		t.Fatalf("saw a chrX emission (index %d) before the last chr1 emission (index %d)", firstX, lastChr1)
	}
}

func TestQueueSuppressesConfidentSilentCalls(t *testing.T) {
	records := []regionfile.Record{{Chr: "1", Start: 0, End: 2, RefSeq: "AA"}}
	pipeline := func(rec regionfile.Record, block *seqtype.CallBlock) error {
		block.Calls = []seqtype.Call{
			{Pos: 0, Poly: false, P: 0.95}, // confident silent: suppressed
			{Pos: 1, Poly: false, P: 0.1},  // low-confidence silent: printed (NC rationale)
		}
		block.End = 2
		return nil
	}
	var positions []int
	emit := func(chr string, pos int, call seqtype.Call) { positions = append(positions, pos) }

	q := New(records, pipeline, emit, 0.5)
	if err := q.Run(1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sort.Ints(positions)
	if len(positions) != 1 || positions[0] != 1 {
		t.Fatalf("emitted positions = %v, want [1]", positions)
	}
}

func TestQueueRecyclesBlocksOntoFreeList(t *testing.T) {
	records := []regionfile.Record{
		{Chr: "1", Start: 0, End: 1, RefSeq: "A"},
		{Chr: "1", Start: 1, End: 2, RefSeq: "A"},
	}
	pipeline := func(rec regionfile.Record, block *seqtype.CallBlock) error {
		block.End = rec.End
		return nil
	}
	q := New(records, pipeline, func(string, int, seqtype.Call) {}, 0.5)
	if err := q.Run(1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(q.free) == 0 {
		t.Fatalf("expected at least one CallBlock recycled onto the free list")
	}
}
