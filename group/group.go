// Package group implements GroupBuilder (spec §4.5): agglomerative merge of
// tagged reads into candidate haplotype groups, and the inclusion filter
// that selects which groups feed the caller.
//
// Repeated compatibility probes against the same (tag, mask) pair are
// memoized behind a highwayhash-keyed cache, adapted from the
// hashGeneIDs/highwayhash.Sum idiom in fusion/postprocess.go (there hashing
// a fusion candidate's gene-ID pair into a dedup key; here hashing a
// group's (tag, mask) pair into a compatibility-cache key).
package group

import (
	"encoding/binary"
	"sort"

	"github.com/minio/highwayhash"

	"github.com/seqlab/microcaller/nseq"
	"github.com/seqlab/microcaller/seqtype"
)

// Defaults per spec §4.5.
const (
	MaxUncovered       = 10
	MinGroupCoverage   = 1
	MinGroupSize       = 2
	MaxGroupDivergence = 3
	MaxGroupRDivergence = 3
	MinGroupRSize       = 0.05
	MaxAlreadyIncluded  = 2
)

type hashKey = [highwayhash.Size]uint8

var zeroSeed = hashKey{}

func pairKey(tagA, maskA, tagB, maskB uint64) hashKey {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:8], tagA)
	binary.LittleEndian.PutUint64(buf[8:16], maskA)
	binary.LittleEndian.PutUint64(buf[16:24], tagB)
	binary.LittleEndian.PutUint64(buf[24:32], maskB)
	return highwayhash.Sum(buf[:], zeroSeed[:])
}

// builder runs one region's agglomeration; its compatCache is local to the
// region (spec §4.5's groups are transient per region).
type builder struct {
	groups     []*seqtype.Group
	readGroups [][]int // groups[g] -> indices into reads slice belonging to it
	compatCache map[hashKey]bool
}

// Build runs the full agglomerative merge over reads (already tagged by
// package tag), mutating each read's GroupID, and returns the resulting
// groups in merge order (spec §4.5).
func Build(reads []*seqtype.Read) []*seqtype.Group {
	b := &builder{compatCache: make(map[hashKey]bool)}
	b.groups = make([]*seqtype.Group, len(reads))
	b.readGroups = make([][]int, len(reads))
	for i, r := range reads {
		tag := r.Tag & r.Mask
		b.groups[i] = &seqtype.Group{Tag: tag, Mask: r.Mask, Size: 1}
		b.readGroups[i] = []int{i}
		r.GroupID = i
	}

	for {
		bi, bj, found := b.bestPair()
		if !found {
			break
		}
		b.merge(bi, bj, reads)
	}

	// Compact: drop the nil placeholders left behind by merges.
	out := make([]*seqtype.Group, 0, len(b.groups))
	remap := make(map[int]int, len(b.groups))
	for i, g := range b.groups {
		if g == nil {
			continue
		}
		remap[i] = len(out)
		out = append(out, g)
	}
	for _, r := range reads {
		r.GroupID = remap[r.GroupID]
	}
	return out
}

func (b *builder) compatible(i, j int) bool {
	gi, gj := b.groups[i], b.groups[j]
	key := pairKey(gi.Tag, gi.Mask, gj.Tag, gj.Mask)
	if v, ok := b.compatCache[key]; ok {
		return v
	}
	v := seqtype.Compatible(gi.Tag, gi.Mask, gj.Tag, gj.Mask)
	b.compatCache[key] = v
	return v
}

// overlap returns the popcount, in 3-bit groups, of the common informative
// mask between i and j (spec §4.5: "most overlapping informative columns").
func overlap(maskA, maskB uint64) int {
	common := maskA & maskB
	n := 0
	for common != 0 {
		if common&0x7 != 0 {
			n++
		}
		common >>= 3
	}
	return n
}

// bestPair scans every compatible pair and returns the one with the most
// common informative columns, tie-broken by largest combined size (spec
// §4.5). Preserving this tie-break exactly is required; see spec §9.
func (b *builder) bestPair() (bi, bj int, found bool) {
	bestOverlap, bestSize := -1, -1
	for i := 0; i < len(b.groups); i++ {
		if b.groups[i] == nil {
			continue
		}
		for j := i + 1; j < len(b.groups); j++ {
			if b.groups[j] == nil {
				continue
			}
			if !b.compatible(i, j) {
				continue
			}
			ov := overlap(b.groups[i].Mask, b.groups[j].Mask)
			sz := b.groups[i].Size + b.groups[j].Size
			if ov > bestOverlap || (ov == bestOverlap && sz > bestSize) {
				bestOverlap, bestSize = ov, sz
				bi, bj, found = i, j, true
			}
		}
	}
	return bi, bj, found
}

func (b *builder) merge(i, j int, reads []*seqtype.Read) {
	gi, gj := b.groups[i], b.groups[j]
	merged := &seqtype.Group{
		Tag:  (gi.Tag & gi.Mask) | (gj.Tag & gj.Mask),
		Mask: gi.Mask | gj.Mask,
		Size: gi.Size + gj.Size,
	}
	b.groups[i] = merged
	b.readGroups[i] = append(b.readGroups[i], b.readGroups[j]...)
	for _, ri := range b.readGroups[j] {
		reads[ri].GroupID = i
	}
	b.groups[j] = nil
	b.readGroups[j] = nil
}

// memberRows returns the ga.Row indices of the reads assigned to groupID.
// reads[i] is assumed to correspond to ga.Row[i], the ordering GappedAssembler
// produces and ReadTagger/GroupBuilder preserve throughout a region.
func memberRows(reads []*seqtype.Read, groupID int) []int {
	var rows []int
	for i, r := range reads {
		if r.GroupID == groupID {
			rows = append(rows, i)
		}
	}
	return rows
}

// Finalize computes consensus, min/max coverage, has_start/has_end, compat,
// and divergent for every group (spec §4.5), given the full gapped
// alignment and the complete (already-tagged) read set.
func Finalize(groups []*seqtype.Group, reads []*seqtype.Read, ga *seqtype.GappedAlignment, snv snvLookup) {
	for gid, g := range groups {
		rows := memberRows(reads, gid)
		g.Consensus = make([]nseq.Code, ga.PLen)
		g.MinCov = -1
		g.MaxCov = 0
		g.Divergent = 0

		for c := 0; c < ga.PLen; c++ {
			counts := [int(nseq.GAP) + 1]int{}
			covered := 0
			for _, row := range rows {
				v := ga.Row[row][c]
				if v >= nseq.A && v <= nseq.GAP {
					counts[v]++
					covered++
				}
			}
			g.Consensus[c] = consensusCode(counts, ga.RefCol[c])
			if covered > g.MaxCov {
				g.MaxCov = covered
			}
			if g.MinCov == -1 || covered < g.MinCov {
				g.MinCov = covered
			}
			if g.Consensus[c] != ga.RefCol[c] {
				if snv == nil || !snv.MatchesSNV(c, codeToASCII(g.Consensus[c])) {
					g.Divergent++
				}
			}
		}
		if g.MinCov < 0 {
			g.MinCov = 0
		}

		g.HasStart = hasCoverageWithin(ga, rows, 0, MaxUncovered, true)
		g.HasEnd = hasCoverageWithin(ga, rows, ga.PLen-1, MaxUncovered, false)

		compat := 0
		for _, r := range reads {
			if seqtype.Compatible(g.Tag, g.Mask, r.Tag&r.Mask, r.Mask) {
				compat++
			}
		}
		g.Compat = compat
	}
}

// snvLookup is the minimal interface group.Finalize needs from snvfp.Table,
// so this package doesn't import snvfp directly (it does not know the
// region's chromosome/position; Caller resolves (chr, pos) to a column
// before calling in, so the adapter it passes only needs a column-indexed
// MatchesSNV).
type snvLookup interface {
	MatchesSNV(col int, base byte) bool
}

func consensusCode(counts [int(nseq.GAP) + 1]int, ref nseq.Code) nseq.Code {
	best := ref
	bestCount := -1
	for code := nseq.A; code <= nseq.GAP; code++ {
		if counts[code] < 2 {
			continue
		}
		if counts[code] > bestCount || (counts[code] == bestCount && code == ref) {
			bestCount = counts[code]
			best = code
		}
	}
	if bestCount < 0 {
		return ref
	}
	return best
}

func hasCoverageWithin(ga *seqtype.GappedAlignment, rows []int, from, span int, forward bool) bool {
	for d := 0; d < span+1; d++ {
		c := from
		if forward {
			c = from + d
		} else {
			c = from - d
		}
		if c < 0 || c >= ga.PLen {
			continue
		}
		for _, row := range rows {
			v := ga.Row[row][c]
			if v >= nseq.A && v <= nseq.GAP {
				return true
			}
		}
	}
	return false
}

func codeToASCII(c nseq.Code) byte {
	const tbl = "ACGTN-"
	if c < nseq.A || c > nseq.GAP {
		return '?'
	}
	return tbl[c]
}

// SortForSelection orders groups ascending by divergent, descending by size
// (spec §4.5 "Selection").
func SortForSelection(groups []*seqtype.Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Divergent != groups[j].Divergent {
			return groups[i].Divergent < groups[j].Divergent
		}
		return groups[i].Size > groups[j].Size
	})
}

// SelectIncluded walks groups in the order SortForSelection leaves them and
// marks Included per the gating rules in spec §4.5.
func SelectIncluded(groups []*seqtype.Group) {
	if len(groups) == 0 {
		return
	}
	largest := 0
	for _, g := range groups {
		if g.Size > largest {
			largest = g.Size
		}
	}
	minDivergent := groups[0].Divergent

	included := 0
	for _, g := range groups {
		ok := g.HasStart && g.HasEnd &&
			g.MinCov >= MinGroupCoverage &&
			g.Size >= MinGroupSize &&
			g.Divergent <= MaxGroupDivergence &&
			g.Divergent <= minDivergent+MaxGroupRDivergence &&
			float64(g.Size) >= MinGroupRSize*float64(largest) &&
			included < MaxAlreadyIncluded
		g.Included = ok
		if ok {
			included++
		}
	}
}
