package kmerindex

import "github.com/seqlab/microcaller/nseq"

// Kmer is a compact 2-bit-per-base encoding of an ACGT k-mer, up to 32
// bases. Adapted from fusion/kmer.go's Kmer/kmerizer, generalized to expose
// canonicalization (lexicographically-smaller-of-forward-and-revcomp) as a
// string operation, since the spec's ReadRecruiter works with k-mer
// strings, not a rolling scan over a single fragment.
type Kmer uint64

var asciiToKmerMap [256]uint8
var asciiToRCKmerMap [256]uint8

const invalidBits = uint8(255)

func init() {
	for i := range asciiToKmerMap {
		asciiToKmerMap[i] = invalidBits
		asciiToRCKmerMap[i] = invalidBits
	}
	set := func(ch byte, fwd, rc uint8) {
		asciiToKmerMap[ch] = fwd
		asciiToRCKmerMap[ch] = rc
	}
	set('A', 0, 3)
	set('a', 0, 3)
	set('C', 1, 2)
	set('c', 1, 2)
	set('G', 2, 1)
	set('g', 2, 1)
	set('T', 3, 0)
	set('t', 3, 0)
}

// encode packs an ACGT string into a Kmer, or reports ok=false if the
// string contains a non-ACGT character.
func encode(word string) (Kmer, bool) {
	var k Kmer
	for i := 0; i < len(word); i++ {
		b := asciiToKmerMap[word[i]]
		if b == invalidBits {
			return 0, false
		}
		k = (k << 2) | Kmer(b)
	}
	return k, true
}

func revcompEncode(word string) (Kmer, bool) {
	var k Kmer
	n := len(word)
	for i := n - 1; i >= 0; i-- {
		b := asciiToRCKmerMap[word[i]]
		if b == invalidBits {
			return 0, false
		}
		k = (k << 2) | Kmer(b)
	}
	return k, true
}

// Canonicalize returns the lexicographically smaller of word and its
// reverse complement, and reports whether word itself was chosen (i.e.
// whether the seed occurs on the forward strand of its canonical form).
//
// Per spec §8: canonical(w) == canonical(revcomp(w)) for every k-mer w, and
// one of the two equals w.
func Canonicalize(word string) (canonical string, isForward bool) {
	rc := nseq.ReverseComplementASCII(word)
	if word <= rc {
		return word, true
	}
	return rc, false
}

// packed returns the 2-bit encoding of a canonical k-mer, used as the hash
// key for the in-memory reference KmerIndex. Returns ok=false if either the
// k-mer or its reverse complement contains an ambiguity code -- such k-mers
// are simply not indexable and a lookup against them always misses.
func packed(word string) (Kmer, bool) {
	return encode(word)
}

var _ = revcompEncode // retained for symmetry/testing of the encode path
