// Package tag implements ReadTagger (spec §4.4): it scans a completed
// GappedAlignment for divergent columns and packs each read's
// tag/mask/unknown fields, 3 bits per divergent column, up to
// seqtype.MaxDivergentColumns.
package tag

import (
	"sync"

	"github.com/grailbio/base/log"

	"github.com/seqlab/microcaller/nseq"
	"github.com/seqlab/microcaller/seqtype"
)

// SNVLookup is the minimal SNV-table view ReadTagger needs: whether base is
// a known allele at column c (spec §4.4's "unknown" bit rule). A nil
// SNVLookup behaves as if no column is a known SNV.
type SNVLookup interface {
	MatchesSNV(col int, base byte) bool
}

var columnCapWarnOnce sync.Once

// Tag scans ga for divergent columns (spec §4.4: "some non-reference,
// non-N nucleotide code has count >= 2 among reads") and packs tag/mask/unknown
// into every read, in the order ga.Row is indexed (reads[i] <-> ga.Row[i]).
func Tag(reads []*seqtype.Read, ga *seqtype.GappedAlignment, snv SNVLookup) {
	divergentCols := findDivergentColumns(ga)
	if len(divergentCols) > seqtype.MaxDivergentColumns {
		columnCapWarnOnce.Do(func() {
			log.Error.Printf("tag: region has %d divergent columns, processing only the first %d",
				len(divergentCols), seqtype.MaxDivergentColumns)
		})
		divergentCols = divergentCols[:seqtype.MaxDivergentColumns]
	}

	for i, r := range reads {
		var tagBits, maskBits, unknownBits uint64
		for d, dc := range divergentCols {
			col := dc.col
			val := ga.Row[i][col]
			ref := ga.RefCol[col]

			var variant, maskBit, unknownBit uint64
			switch {
			case val >= nseq.A && val <= nseq.GAP && val != nseq.N:
				variant = uint64(val) ^ uint64(ref)
				if dc.count[val] >= 2 {
					maskBit = 0b111
				}
				if snv == nil || !snv.MatchesSNV(col, codeToASCII(val)) {
					unknownBit = 0b111
				}
			default:
				// N or uncovered (sentinel): variant/mask are 0, and unknown
				// is always set, since there is no base to match against a
				// known SNV allele.
				unknownBit = 0b111
			}

			shift := uint(3 * d)
			tagBits |= variant << shift
			maskBits |= maskBit << shift
			unknownBits |= unknownBit << shift
		}
		r.Tag = tagBits
		r.Mask = maskBits
		r.Unknown = unknownBits
	}
}

type divergentColumn struct {
	col   int
	count [int(nseq.GAP) + 1]int
}

func findDivergentColumns(ga *seqtype.GappedAlignment) []divergentColumn {
	var out []divergentColumn
	for c := 0; c < ga.PLen; c++ {
		var counts [int(nseq.GAP) + 1]int
		for _, row := range ga.Row {
			v := row[c]
			if v >= nseq.A && v <= nseq.GAP {
				counts[v]++
			}
		}
		ref := ga.RefCol[c]
		divergent := false
		for code := nseq.A; code <= nseq.GAP; code++ {
			if code == ref || code == nseq.N {
				continue
			}
			if counts[code] >= 2 {
				divergent = true
				break
			}
		}
		if divergent {
			out = append(out, divergentColumn{col: c, count: counts})
		}
	}
	return out
}

func codeToASCII(c nseq.Code) byte {
	const tbl = "ACGTN-"
	if c < nseq.A || c > nseq.GAP {
		return '?'
	}
	return tbl[c]
}
