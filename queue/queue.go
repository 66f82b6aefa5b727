// Package queue implements RegionQueue (spec §4.7, §5): N symmetric
// worker threads pull region records off a shared cursor, run the full
// assembly/call pipeline unlocked, and release completed CallBlocks in
// strict (chr, pos) order.
//
// The worker-loop shape (a shared mutex, a condition variable, a
// termination check against a running-worker count) is adapted from the
// channel-based worker pool in markduplicates/mark_duplicates.go's
// generateBAM; RegionQueue swaps that pattern's channel for an explicit
// cursor plus processing/finished/free block lists, since spec §4.7 needs
// ordered release by genomic position rather than fan-in of independent
// shard outputs.
package queue

import (
	"sort"
	"sync"

	"github.com/seqlab/microcaller/regionfile"
	"github.com/seqlab/microcaller/seqtype"
)

// Region identifies one input record's genomic window, independent of the
// full parsed regionfile.Record (the queue only needs the bounds to order
// emission; the pipeline reads the rest of the record itself).
type Region struct {
	Chr        string
	Start, End int
}

// processingEntry tracks one region currently being assembled/called.
type processingEntry struct {
	region Region
}

// finishedEntry is a completed region awaiting ordered emission.
type finishedEntry struct {
	region Region
	block  *seqtype.CallBlock
}

// Pipeline runs the full per-region assembly/tag/group/call sequence (spec
// §4.2-§4.6) and writes the resulting calls into block. It must only touch
// worker-local state and the block it is given; RegionQueue holds no lock
// while Pipeline runs.
type Pipeline func(rec regionfile.Record, block *seqtype.CallBlock) error

// Emit is called, while the queue's lock is held, once for every call row
// RegionQueue releases in final (chr, pos) order. minP gates silent
// (non-polymorphic) calls: see emitOne.
type Emit func(chr string, pos int, call seqtype.Call)

// Queue is a thread-safe FIFO pairing an input cursor with a small pool of
// workers, all coordinated by one mutex/condition-variable pair (spec §5).
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	records []regionfile.Record
	cursor  int

	nrunning int
	done     bool

	processing []*processingEntry
	finished   []*finishedEntry
	free       []*seqtype.CallBlock

	pipeline Pipeline
	emit     Emit
	minP     float64

	lastChr string
	lastPos int
	started bool

	// err captures the first error any worker reports; subsequent workers
	// keep draining the cursor (a bad region is the pipeline's problem, not
	// a reason to stop emitting already-finished neighbors) but Run returns
	// it once every worker has exited.
	err error
}

// New creates a Queue over records, ready for Run to drain with nWorkers
// peers.
func New(records []regionfile.Record, pipeline Pipeline, emit Emit, minP float64) *Queue {
	q := &Queue{records: records, pipeline: pipeline, emit: emit, minP: minP}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Run starts nWorkers symmetric workers and blocks until every region has
// been processed and emitted.
func (q *Queue) Run(nWorkers int) error {
	var wg sync.WaitGroup
	wg.Add(nWorkers)
	for i := 0; i < nWorkers; i++ {
		go func() {
			defer wg.Done()
			q.workerLoop()
		}()
	}
	wg.Wait()
	return q.err
}

func (q *Queue) workerLoop() {
	for {
		q.mu.Lock()
		if q.cursor >= len(q.records) {
			if q.nrunning == 0 {
				q.done = true
				q.cond.Broadcast()
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
			q.mu.Unlock()
			continue
		}

		rec := q.records[q.cursor]
		q.cursor++
		q.nrunning++
		region := Region{Chr: rec.Chr, Start: rec.Start, End: rec.End}
		entry := &processingEntry{region: region}
		q.processing = append(q.processing, entry)
		q.emitCompletedBlocks()
		q.mu.Unlock()

		block := q.acquireBlock(rec)
		err := q.pipeline(rec, block)

		q.mu.Lock()
		q.removeProcessing(entry)
		if err != nil {
			if q.err == nil {
				q.err = err
			}
			q.releaseBlock(block)
		} else {
			q.finished = append(q.finished, &finishedEntry{region: region, block: block})
		}
		q.nrunning--
		q.emitCompletedBlocks()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// acquireBlock pops a recycled CallBlock off the free list, or allocates
// one, then resets it for rec's window (spec §4.7 "free-list discipline").
func (q *Queue) acquireBlock(rec regionfile.Record) *seqtype.CallBlock {
	q.mu.Lock()
	defer q.mu.Unlock()
	var b *seqtype.CallBlock
	if n := len(q.free); n > 0 {
		b = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		b = &seqtype.CallBlock{}
	}
	b.Reset(rec.Chr, rec.Start, rec.End)
	return b
}

func (q *Queue) releaseBlock(b *seqtype.CallBlock) {
	q.free = append(q.free, b)
}

func (q *Queue) removeProcessing(entry *processingEntry) {
	for i, p := range q.processing {
		if p == entry {
			q.processing = append(q.processing[:i], q.processing[i+1:]...)
			return
		}
	}
}

// emitCompletedBlocks must be called with the lock held. It releases, in
// strict (chr, pos) order, every finished block whose end has fallen below
// the minimum start still in flight, since no processing region can emit a
// call earlier than its own start (spec §4.7).
//
// This assumes records arrive in non-decreasing (chr, start) order, as a
// region file must (spec §6): once the processing list is empty, every
// record dispatched so far has also finished, and any record the cursor
// has not yet reached has a start >= the last-dispatched one, so it is
// safe to release everything finished immediately.
func (q *Queue) emitCompletedBlocks() {
	minStart := -1
	for _, p := range q.processing {
		if minStart == -1 || p.region.Start < minStart {
			minStart = p.region.Start
		}
	}

	var releasable []*finishedEntry
	var remaining []*finishedEntry
	for _, f := range q.finished {
		if minStart == -1 || f.region.End <= minStart {
			releasable = append(releasable, f)
		} else {
			remaining = append(remaining, f)
		}
	}
	if len(releasable) == 0 {
		return
	}
	q.finished = remaining

	sort.Slice(releasable, func(i, j int) bool {
		if releasable[i].region.Chr != releasable[j].region.Chr {
			return releasable[i].region.Chr < releasable[j].region.Chr
		}
		return releasable[i].region.Start < releasable[j].region.Start
	})

	// live holds every still-unfreed finished block -- releasable entries
	// not yet processed this round, plus everything not yet releasable --
	// so emitOne can rescan all of them per position, exactly as
	// gassembler.c:438-470's print_calls rescans the full
	// queue->finished_blocks list for every position rather than trusting
	// only the block currently being freed.
	live := append(append([]*finishedEntry{}, remaining...), releasable...)

	for _, f := range releasable {
		q.emitOne(f, live)
		live = removeFinishedEntry(live, f)
		q.releaseBlock(f.block)
	}
}

func removeFinishedEntry(list []*finishedEntry, target *finishedEntry) []*finishedEntry {
	out := make([]*finishedEntry, 0, len(list))
	for _, f := range list {
		if f != target {
			out = append(out, f)
		}
	}
	return out
}

// emitOne walks f.block's calls and, for each (Pos, Sub) -- Sub
// disambiguates multiple insertion columns sharing one reference Pos --
// selects the call with the greatest (p, cov) pair among every still-
// finished block (candidates) that also has a call at that (Pos, Sub):
// gassembler.c:438-470's print_calls does the same inner rescan over
// queue->finished_blocks before printing, rather than trusting only the
// block being freed, since two regions dispatched from the region file
// may legitimately overlap. The selected call is then subject to the
// existing silent-call suppression rule and lastChr/lastPos dedup.
func (q *Queue) emitOne(f *finishedEntry, candidates []*finishedEntry) {
	for _, call := range f.block.Calls {
		if q.started && f.region.Chr == q.lastChr && call.Pos <= q.lastPos {
			continue
		}

		best := bestCallAt(candidates, f.region.Chr, call.Pos, call.Sub)
		if !(!best.Poly && best.P >= q.minP) {
			// Not the silent-but-confident case we suppress per spec §4.7:
			// silent calls print only when p falls below min_p (the NC
			// rationale threshold). A confidently silent call is dropped.
			q.emit(f.region.Chr, best.Pos, best)
		}
		q.lastChr = f.region.Chr
		q.lastPos = call.Pos
		q.started = true
	}
}

// bestCallAt scans every candidate block for a call at (chr, pos, sub) and
// returns the one with the greatest (p, cov) pair, per print_calls's
// dominance rule: a candidate only displaces the current best if its p and
// its cov are both at least as large (gassembler.c:451-463). Candidates
// are matched on chr directly rather than gassembler.c's chr-ordinal "<="
// comparison, since by construction every earlier chromosome has already
// been fully emitted and freed by the time this scan runs. f always has a
// matching call itself, so the zero value is never actually returned.
func bestCallAt(candidates []*finishedEntry, chr string, pos, sub int) seqtype.Call {
	var best seqtype.Call
	found := false
	for _, f := range candidates {
		if f.region.Chr != chr || f.region.Start > pos {
			continue
		}
		for _, call := range f.block.Calls {
			if call.Pos != pos || call.Sub != sub {
				continue
			}
			if !found || (call.P >= best.P && call.Cov >= best.Cov) {
				best = call
				found = true
			}
		}
	}
	return best
}
