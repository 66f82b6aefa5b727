// Package align implements local pairwise sequence alignment with affine
// gap penalties (Smith-Waterman / Gotoh).
//
// The dynamic-programming table and its traceback are adapted from the
// edit-distance matrix idiom in util/distance.go (the matrix type, and the
// diagonal/right/down operation enum used to drive traceback), generalized
// from plain Levenshtein to a scored, affine-gap, local alignment.
package align

import "github.com/seqlab/microcaller/nseq"

// Scoring constants, per spec.
const (
	scoreMatch    = 1
	scoreMismatch = -2
	scoreNMatch   = 0
	gapOpen       = -2
	gapExtend     = -1
)

// borderGapSentinel seeds the gapA/gapB score of row 0 and column 0 cells,
// so a gap "opened" at the border of the matrix is blocked rather than
// continuing for free from outside the sequence (gassembler.c:1913-1920).
const borderGapSentinel = -1000

// step records how traceback arrived at a cell.
type step uint8

const (
	stepNone step = iota
	stepDiag
	// stepGapA means the cell was reached by extending a gap that consumes
	// a B (read) base without consuming an A (reference) base -- i.e. an
	// insertion relative to the reference. It corresponds to moving within
	// the same row (i fixed, j decreases) in the DP table.
	stepGapA
	// stepGapB means the cell was reached by extending a gap that consumes
	// an A (reference) base without consuming a B (read) base -- i.e. a
	// deletion relative to the reference. It corresponds to moving within
	// the same column (j fixed, i decreases) in the DP table.
	stepGapB
)

type cell struct {
	score     int
	gapAScore int // best score ending in a gapA run at this cell
	gapBScore int // best score ending in a gapB run at this cell
	from      step
}

// Matrix is a reusable Smith-Waterman DP table, sized for the maximum
// reference/read lengths the pipeline allows, so a worker can align many
// read/reference pairs without reallocating (spec §5: "one SW matrix
// (257x129 cells)" per worker).
type Matrix struct {
	rows, cols int
	cells      []cell
}

// NewMatrix allocates a Matrix with capacity for a reference of length up to
// maxA and a read of length up to maxB.
func NewMatrix(maxA, maxB int) *Matrix {
	return &Matrix{
		rows: maxA + 1,
		cols: maxB + 1,
	}
}

func (m *Matrix) cellAt(i, j int) *cell {
	return &m.cells[i*m.cols+j]
}

func (m *Matrix) reset(rows, cols int) {
	need := rows * cols
	if cap(m.cells) < need {
		m.cells = make([]cell, need)
	} else {
		m.cells = m.cells[:need]
		for i := range m.cells {
			m.cells[i] = cell{}
		}
	}
	m.rows, m.cols = rows, cols

	// See borderGapSentinel: column 0 feeds gapA continuation for j=1, and
	// row 0 feeds gapB continuation for i=1, so both must be blocked rather
	// than left at the zero value reset leaves everywhere else.
	for i := 0; i < rows; i++ {
		m.cellAt(i, 0).gapAScore = borderGapSentinel
	}
	for j := 0; j < cols; j++ {
		m.cellAt(0, j).gapBScore = borderGapSentinel
	}
}

// Result is the outcome of a local alignment: parallel arrays of aligned
// positions into A and B, of equal length.
type Result struct {
	APos []int
	BPos []int
}

// Len returns the number of aligned base pairs, 0 when no alignment was
// found (spec §4.1: "returns alignLen = 0 when the matrix has no positive
// cell").
func (r Result) Len() int { return len(r.APos) }

func baseScore(a, b nseq.Code) int {
	if a == nseq.N || b == nseq.N {
		return scoreNMatch
	}
	if a == b {
		return scoreMatch
	}
	return scoreMismatch
}

// Align runs local Smith-Waterman alignment of b against a (a is the
// reference, b is the read) using m as scratch space. m is reset and may be
// reused across calls to avoid per-read allocation.
func Align(m *Matrix, a, b nseq.NSeq) Result {
	rows, cols := a.Len()+1, b.Len()+1
	m.reset(rows, cols)

	best := 0
	bestI, bestJ := 0, 0

	aCodes, bCodes := a.Codes(), b.Codes()
	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			diag := m.cellAt(i-1, j-1).score + baseScore(aCodes[i-1], bCodes[j-1])

			// The gap-open term is based on the same-cell score floored to
			// 0 (gassembler.c:1924-1943 clamps t[i][j].score before
			// deriving left_gap_score/top_gap_score from it), not the raw
			// diagonal candidate, which may still be negative here.
			flooredDiag := diag
			if flooredDiag < 0 {
				flooredDiag = 0
			}

			gapA := m.cellAt(i, j-1).gapAScore + gapExtend
			if open := flooredDiag + gapOpen; open > gapA {
				gapA = open
			}
			gapB := m.cellAt(i-1, j).gapBScore + gapExtend
			if open := flooredDiag + gapOpen; open > gapB {
				gapB = open
			}

			c := m.cellAt(i, j)
			c.gapAScore = gapA
			c.gapBScore = gapB

			score := diag
			from := stepDiag
			if gapA > score {
				score = gapA
				from = stepGapA
			}
			if gapB > score {
				score = gapB
				from = stepGapB
			}
			if score < 0 {
				score = 0
				from = stepNone
			}
			c.score = score
			c.from = from

			if score > best {
				best = score
				bestI, bestJ = i, j
			}
		}
	}

	if best < 1 {
		return Result{}
	}
	return traceback(m, bestI, bestJ)
}

func traceback(m *Matrix, i, j int) Result {
	var aPos, bPos []int
	for i > 0 && j > 0 {
		c := m.cellAt(i, j)
		if c.score < 1 {
			break
		}
		switch c.from {
		case stepDiag:
			aPos = append(aPos, i-1)
			bPos = append(bPos, j-1)
			i--
			j--
		case stepGapA:
			j--
		case stepGapB:
			i--
		default:
			i, j = 0, 0
		}
	}
	reverseInts(aPos)
	reverseInts(bPos)
	return Result{APos: aPos, BPos: bPos}
}

func reverseInts(s []int) {
	for l, r := 0, len(s)-1; l < r; l, r = l+1, r-1 {
		s[l], s[r] = s[r], s[l]
	}
}
