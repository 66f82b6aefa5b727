// Package bisect implements the assemble_recursive bisection fallback
// (SPEC_FULL.md supplemented feature 2, grounded in gassembler.c's
// assemble_recursive): when a region yields zero included groups, split it
// at the midpoint and retry each half with the same seed k-mers, summing
// the resulting CallBlocks. Only legal on the single-region CLI path (spec
// §9) — the work-queue path emits an NC-only block instead and never
// recurses.
package bisect

import (
	"github.com/seqlab/microcaller/seqtype"
)

// MinWindow is the smallest window bisect will still attempt to split;
// below this, a region with no included groups simply yields no calls
// (spec §4.5 "the region yields no calls").
const MinWindow = 2

// Region is the half-open genomic window and its pre-sliced reference
// sequence/seed k-mers, threaded down through a recursive split.
type Region struct {
	Chr     string
	Start   int
	End     int
	RefSeq  string
	Kmers   []string
}

// AssembleFunc runs the full per-region pipeline (recruit through call) and
// reports whether at least one group was included; ok=false triggers a
// bisection attempt rather than accepting an empty block.
type AssembleFunc func(r Region) (block *seqtype.CallBlock, ok bool)

// Assemble runs fn on r, and on failure (no included groups) recursively
// retries each half, concatenating whatever calls either half produces. A
// window smaller than MinWindow that still fails yields an empty, but
// non-nil, CallBlock.
func Assemble(r Region, fn AssembleFunc) *seqtype.CallBlock {
	if block, ok := fn(r); ok {
		return block
	}
	if r.End-r.Start < MinWindow {
		return &seqtype.CallBlock{Chr: r.Chr, Start: r.Start, End: r.End}
	}

	mid := r.Start + (r.End-r.Start)/2
	splitOffset := mid - r.Start
	left := Region{Chr: r.Chr, Start: r.Start, End: mid, RefSeq: r.RefSeq[:splitOffset], Kmers: r.Kmers}
	right := Region{Chr: r.Chr, Start: mid, End: r.End, RefSeq: r.RefSeq[splitOffset:], Kmers: r.Kmers}

	leftBlock := Assemble(left, fn)
	rightBlock := Assemble(right, fn)

	merged := &seqtype.CallBlock{Chr: r.Chr, Start: r.Start, End: r.End}
	merged.Calls = append(merged.Calls, leftBlock.Calls...)
	merged.Calls = append(merged.Calls, rightBlock.Calls...)
	return merged
}
