package align

import (
	"testing"

	"github.com/seqlab/microcaller/nseq"
)

func encode(t *testing.T, s string) nseq.NSeq {
	t.Helper()
	n, err := nseq.New(s, nseq.MaxRef)
	if err != nil {
		t.Fatalf("encode(%q): %v", s, err)
	}
	return n
}

func TestAlignIdentical(t *testing.T) {
	a := encode(t, "ACGTACGTAC")
	b := encode(t, "ACGTACGTAC")
	m := NewMatrix(nseq.MaxRef, nseq.MaxRead)
	res := Align(m, a, b)
	if res.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", res.Len())
	}
	for i := 0; i < res.Len(); i++ {
		if res.APos[i] != i || res.BPos[i] != i {
			t.Fatalf("pos[%d] = (%d,%d), want (%d,%d)", i, res.APos[i], res.BPos[i], i, i)
		}
	}
}

func TestAlignMonotonic(t *testing.T) {
	a := encode(t, "ACGTACGTACGTACGT")
	b := encode(t, "ACGTAGGTACCTACGT")
	m := NewMatrix(nseq.MaxRef, nseq.MaxRead)
	res := Align(m, a, b)
	for i := 1; i < res.Len(); i++ {
		if res.APos[i] <= res.APos[i-1] {
			t.Fatalf("APos not strictly increasing at %d: %v", i, res.APos)
		}
		if res.BPos[i] <= res.BPos[i-1] {
			t.Fatalf("BPos not strictly increasing at %d: %v", i, res.BPos)
		}
		if res.APos[i] >= a.Len() || res.BPos[i] >= b.Len() {
			t.Fatalf("position out of bounds at %d: %v", i, res)
		}
	}
}

func TestAlignInsertion(t *testing.T) {
	ref := encode(t, "ACGTACGTAC")
	read := encode(t, "ACGTAGCGTAC") // extra G inserted after position 4
	m := NewMatrix(nseq.MaxRef, nseq.MaxRead)
	res := Align(m, ref, read)
	if res.Len() == 0 {
		t.Fatalf("expected a non-empty alignment")
	}
	// b_pos should skip one position relative to a_pos somewhere (the
	// inserted base is consumed without an a_pos advancing).
	gap := false
	for i := 1; i < res.Len(); i++ {
		da := res.APos[i] - res.APos[i-1]
		db := res.BPos[i] - res.BPos[i-1]
		if db > da {
			gap = true
		}
	}
	if !gap {
		t.Fatalf("expected an insertion gap in alignment: %v", res)
	}
}

func TestAlignNoMatch(t *testing.T) {
	a := encode(t, "AAAAAAAAAA")
	b := encode(t, "TTTTTTTTTT")
	m := NewMatrix(nseq.MaxRef, nseq.MaxRead)
	res := Align(m, a, b)
	if res.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 for fully mismatched sequences", res.Len())
	}
}

func TestAlignReusesMatrix(t *testing.T) {
	m := NewMatrix(nseq.MaxRef, nseq.MaxRead)
	a1 := encode(t, "ACGTACGTAC")
	b1 := encode(t, "ACGTACGTAC")
	r1 := Align(m, a1, b1)
	a2 := encode(t, "TTTT")
	b2 := encode(t, "TTTT")
	r2 := Align(m, a2, b2)
	if r1.Len() != 10 {
		t.Fatalf("first alignment Len() = %d, want 10", r1.Len())
	}
	if r2.Len() != 4 {
		t.Fatalf("second alignment (reused matrix) Len() = %d, want 4", r2.Len())
	}
}
