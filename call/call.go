// Package call implements Caller (spec §4.6): per-column genotype calling
// from the included groups' consensus sequences, and the closed-form
// logistic confidence score.
//
// poisson/dbinom follow the same "precompute the shape of the
// distribution, then evaluate in closed form" style as the phred-math
// routines in pileup/snp/qual.go, adapted from discrete phred lookups to
// the continuous probability terms spec §4.6 requires (these terms feed a
// fitted logistic predictor and must be evaluated exactly, not
// approximated via a table).
package call

import (
	"math"

	"github.com/seqlab/microcaller/nseq"
	"github.com/seqlab/microcaller/seqtype"
	"github.com/seqlab/microcaller/snvfp"
)

// Defaults per spec §4.6.
const (
	MinConfirming = 2
	ErrorProb     = 0.01
)

// CoverageMode selects how K, the logistic normalizer, is derived (spec
// §4.6 "local" mode, SPEC_FULL item 1).
type CoverageMode int

const (
	CoverageFixed CoverageMode = iota
	CoverageMedian
	CoverageLocal
)

// Opts configures one region's Caller run.
type Opts struct {
	Mode CoverageMode
	// K is the resolved coverage normalizer for CoverageFixed/CoverageMedian
	// (resolved once, before the queue starts); ignored under CoverageLocal,
	// where K is the region's own max coverage.
	K     int
	SNV   *snvfp.Table
	Chr   string
	Start int
}

// poisson returns P(k events | lambda), evaluated directly rather than via
// a table, since lambda here ranges continuously over observed coverage.
func poisson(k int, lambda float64) float64 {
	if lambda <= 0 {
		if k == 0 {
			return 1
		}
		return 0
	}
	if k < 0 {
		return 0
	}
	logP := -lambda + float64(k)*math.Log(lambda) - lgammaFactorial(k)
	return math.Exp(logP)
}

func lgammaFactorial(k int) float64 {
	v, _ := math.Lgamma(float64(k + 1))
	return v
}

// dbinom returns P(k successes in n trials | p).
func dbinom(k, n int, p float64) float64 {
	if n <= 0 || k < 0 || k > n {
		if k == 0 && n <= 0 {
			return 1
		}
		return 0
	}
	logComb := lgammaFactorial(n) - lgammaFactorial(k) - lgammaFactorial(n-k)
	logP := logComb + float64(k)*math.Log(p) + float64(n-k)*math.Log(1-p)
	return math.Exp(logP)
}

func gt1Prob(c1, total int) float64 {
	return poisson(total-c1, ErrorProb) * poisson(c1, float64(total))
}

func gt2Prob(c1, c2, total int) float64 {
	return poisson(total-c1-c2, ErrorProb) * poisson(c1, float64(total)/2) * poisson(c2, float64(total)/2)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// CallRegion recomputes per-column coverage and nucleotide counts from
// included groups' consensus calls, and emits one Call per column (spec
// §4.6). It requires group.Finalize to have already set Consensus/Compat,
// and group.SelectIncluded to have set Included, for every group.
func CallRegion(ga *seqtype.GappedAlignment, groups []*seqtype.Group, opts Opts) *seqtype.CallBlock {
	block := &seqtype.CallBlock{Chr: opts.Chr, Start: opts.Start}
	block.Calls = make([]seqtype.Call, 0, ga.PLen)

	var included []*seqtype.Group
	for _, g := range groups {
		if g.Included {
			included = append(included, g)
		}
	}

	k := opts.K
	if opts.Mode == CoverageLocal {
		k = localMaxCoverage(included)
	}

	prevRefByte := byte('!')
	sub := 0
	lastPos := -1

	for c := 0; c < ga.PLen; c++ {
		pos := ga.RefPos[c]
		if pos == lastPos {
			sub++
		} else {
			sub = 0
			lastPos = pos
		}

		var counts [int(nseq.GAP) + 1]int
		for _, g := range included {
			v := g.Consensus[c]
			if v >= nseq.A && v <= nseq.GAP {
				counts[v] += g.Size
			}
		}
		cov := 0
		for _, n := range counts {
			cov += n
		}

		call := seqtype.Call{
			Pos:   pos,
			Sub:   sub,
			Ref:   ga.RefCol[c],
			Cov:   cov,
			Count: counts,
			Nucl:  [2]nseq.Code{nseq.NONE, nseq.NONE},
		}
		if ga.RefCol[c] == nseq.GAP {
			call.PrevRef = prevRefByte
		} else if c == 0 {
			call.PrevRef = '!'
		} else {
			call.PrevRef = prevRefByte
		}
		if ga.RefCol[c] != nseq.GAP {
			prevRefByte = codeToASCII(ga.RefCol[c])
		}

		scoreCall(&call, included, c, ga.PLen, opts, k)
		block.Calls = append(block.Calls, call)
	}
	if len(block.Calls) > 0 {
		block.End = opts.Start + ga.RefPos[len(block.Calls)-1] + 1
	}
	return block
}

func scoreCall(call *seqtype.Call, included []*seqtype.Group, col, pLen int, opts Opts, k int) {
	if opts.SNV != nil && opts.SNV.IsFP(opts.Chr, opts.Start+call.Pos) {
		call.Class = seqtype.ClassSilent
		return
	}

	total := call.Cov - call.Count[nseq.N]
	if total <= 0 {
		call.Class = seqtype.ClassSilent
		return
	}

	n1, n2, ok := bestPair(call.Count, total)
	if !ok {
		call.Class = seqtype.ClassSilent
		return
	}
	c1, c2 := call.Count[n1], call.Count[n2]

	var prob, hzProb float64
	if n1 == n2 {
		prob = gt1Prob(c1, total)
		hzProb = 1
	} else {
		prob = gt2Prob(c1, c2, total)
		hzProb = dbinom(c2, c1+c2, 0.5)
	}

	sumProb := sumAllPairProbs(call.Count, total)

	call.Nucl = [2]nseq.Code{n1, n2}
	call.Poly = n1 != call.Ref || n2 != call.Ref
	call.Extra = seqtype.Extra{Prob: prob, RProb: safeDiv(prob, sumProb), HzProb: hzProb, NGroupsTot: len(included)}
	call.P = logisticScore(call, n1, n2, c2, total, col, pLen, k, len(included), included)
	call.Class = classify(call, n1, n2)
}

// bestPair enumerates ordered pairs (n1,n2) with both counts >= min_confirming
// (excluding N) and picks the argmax by genotype probability (spec §4.6).
func bestPair(counts [int(nseq.GAP) + 1]int, total int) (n1, n2 nseq.Code, ok bool) {
	best := -1.0
	for a := nseq.A; a <= nseq.GAP; a++ {
		if a == nseq.N || counts[a] < MinConfirming {
			continue
		}
		for b := a; b <= nseq.GAP; b++ {
			if b == nseq.N || counts[b] < MinConfirming {
				continue
			}
			var p float64
			if a == b {
				p = gt1Prob(counts[a], total)
			} else {
				p = gt2Prob(counts[a], counts[b], total)
			}
			if p > best {
				best, n1, n2, ok = p, a, b, true
			}
		}
	}
	return n1, n2, ok
}

func sumAllPairProbs(counts [int(nseq.GAP) + 1]int, total int) float64 {
	sum := 0.0
	for a := nseq.A; a <= nseq.GAP; a++ {
		if a == nseq.N || counts[a] < MinConfirming {
			continue
		}
		for b := a; b <= nseq.GAP; b++ {
			if b == nseq.N || counts[b] < MinConfirming {
				continue
			}
			if a == b {
				sum += gt1Prob(counts[a], total)
			} else {
				sum += gt2Prob(counts[a], counts[b], total)
			}
		}
	}
	return sum
}

func classify(call *seqtype.Call, n1, n2 nseq.Code) seqtype.CallClass {
	if !call.Poly {
		return seqtype.ClassSilent
	}
	if call.Ref == nseq.GAP {
		return seqtype.ClassInsertion
	}
	if n2 == nseq.GAP {
		return seqtype.ClassDeletion
	}
	return seqtype.ClassSubstitute
}

// groupCompat returns the Compat of the first included group whose consensus
// at col equals code, or 0 if none does. Spec §4.6 names "compat0"/"compat1"
// without defining their source group beyond the group backing each nucl[]
// slot; the natural reading is the included group whose consensus is that
// nucleotide at this column. Several included groups can share a code at a
// column (e.g. where they all carry the reference base); the first one in
// the groups' order is used.
func groupCompat(included []*seqtype.Group, col int, code nseq.Code) int {
	for _, g := range included {
		if g.Consensus[col] == code {
			return g.Compat
		}
	}
	return 0
}

// logisticScore evaluates the fitted linear predictor from spec §4.6,
// exactly as specified; coefficients are preserved bit-equivalently.
func logisticScore(call *seqtype.Call, n1, n2 nseq.Code, cN2, total, col, pLen, k, nGroups int, included []*seqtype.Group) float64 {
	homoMUT := boolToF(n1 == n2 && n1 != call.Ref)
	T := float64(total)
	K := float64(k)
	if K <= 0 {
		K = T
		if K <= 0 {
			K = 1
		}
	}

	pBase := minFloat(poisson(total, K), 1-poisson(total, K))
	pCov := pBase * pBase

	p2Base := 1.0
	if nGroups > 1 {
		b := dbinom(cN2, total, 0.5)
		p2Base = minFloat(b, 1-b)
	}
	p2 := p2Base * p2Base

	var band1, band2, band3, band4 float64
	switch {
	case T >= 4 && T < 0.75*K:
		band1 = 1
	case T >= 0.75*K && T < 1.25*K:
		band2 = 1
	case T >= 1.25*K && T < 1.9*K:
		band3 = 1
	case T >= 1.9*K:
		band4 = 1
	}

	compat0 := float64(groupCompat(included, col, n1))
	compat1 := float64(groupCompat(included, col, n2))
	compatBoth := minFloat(compat0, compat1)

	polyTerm := boolToF(n2 != nseq.GAP && call.Poly)
	edist := float64(minInt(col, pLen-1-col))
	absTK := absFloat(T - K)

	linpred := -1.447 +
		0.6845*homoMUT +
		0.05935*compat0 + 0.1621*compatBoth -
		0.8501*boolToF(call.Ref == nseq.GAP) + 0.4295*polyTerm +
		1.568*band1 + 1.778*band2 + 2.340*band3 + 0.1781*band4 +
		5.989*p2 - 4.546*p2*p2 - 3.002*p2*p2*p2 +
		0.06952*compat1 + 1.040*boolToF(compat1 > 0.75*compat0) -
		0.1063*absTK + 0.6887*pCov - 1.619*pCov*pCov +
		0.1251*edist - 0.001694*edist*edist +
		0.06204*compat0*homoMUT -
		0.02578*homoMUT*compatBoth -
		0.002912*compat0*compat1 +
		0.06077*homoMUT*absTK +
		2.158*homoMUT*pCov -
		0.001164*edist*absTK

	return sigmoid(linpred)
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func localMaxCoverage(groups []*seqtype.Group) int {
	max := 0
	for _, g := range groups {
		if g.MaxCov > max {
			max = g.MaxCov
		}
	}
	return max
}

func codeToASCII(c nseq.Code) byte {
	const tbl = "ACGTN-"
	if c < nseq.A || c > nseq.GAP {
		return '?'
	}
	return tbl[c]
}
