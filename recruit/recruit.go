// Package recruit implements ReadRecruiter (spec §4.2): given seed k-mers
// and a reference window, it returns the deduplicated, reference-oriented
// set of reads to align.
//
// Deduplication keys on (file index, byte offset) across potentially many
// seed k-mers reporting the same read; this is a sharded, mutex-per-shard
// set, adapted from the concurrentMap idiom in
// encoding/bamprovider/concurrentmap.go (there keyed by read name with
// seahash.Sum64, here keyed by ReadID with the same hash).
package recruit

import (
	"sync"

	"blainsmith.com/go/seahash"

	"github.com/seqlab/microcaller/kmerindex"
	"github.com/seqlab/microcaller/nseq"
	"github.com/seqlab/microcaller/seqstore"
	"github.com/seqlab/microcaller/seqtype"
)

// Limits per spec §4.2.
const (
	MaxReadsPerKmer = kmerindex.MaxReadsPerKmer
	MaxReads        = 4096
	MinReads        = 10
)

const numDedupShards = 64

type dedupShard struct {
	mu   sync.Mutex
	seen map[seqtype.ReadID]struct{}
}

func readIDHash(id seqtype.ReadID) uint64 {
	key := [16]byte{}
	for i := 0; i < 8; i++ {
		key[i] = byte(id.FileIdx >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		key[8+i] = byte(id.Offset >> (8 * i))
	}
	return seahash.Sum64(key[:])
}

type dedupSet struct {
	shards [numDedupShards]dedupShard
}

func newDedupSet() *dedupSet {
	d := &dedupSet{}
	for i := range d.shards {
		d.shards[i].seen = make(map[seqtype.ReadID]struct{})
	}
	return d
}

// addIfNew returns true the first time id is seen.
func (d *dedupSet) addIfNew(id seqtype.ReadID) bool {
	h := readIDHash(id)
	s := &d.shards[h%numDedupShards]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Unassemblable is returned by Recruit when fewer than MinReads survive
// recruitment (spec §4.2, §7 kind 1).
type Unassemblable struct {
	NReads int
}

func (e Unassemblable) Error() string {
	return "recruit: region unassemblable"
}

// Recruit collects, deduplicates, and orients reads for the given seed
// k-mers (spec §4.2). kmers need not be pre-canonicalized. On success len(reads)
// is in [MinReads, MaxReads]; on failure it returns Unassemblable.
func Recruit(index kmerindex.KmerIndex, store seqstore.SeqStore, kmers []string) ([]*seqtype.Read, error) {
	reads := collect(index, store, kmers)
	if len(reads) < MinReads {
		return nil, Unassemblable{NReads: len(reads)}
	}
	if len(reads) > MaxReads {
		reads = reads[:MaxReads]
	}
	return reads, nil
}

// collect runs the recruitment scan without the MinReads gate, so tests can
// exercise dedup/orientation on small fixtures directly.
func collect(index kmerindex.KmerIndex, store seqstore.SeqStore, kmers []string) []*seqtype.Read {
	dedup := newDedupSet()
	var reads []*seqtype.Read

	for _, word := range kmers {
		canonical, wordIsForward := kmerindex.Canonicalize(word)
		postings, ok := index.Lookup(canonical)
		if !ok {
			continue
		}
		if len(postings) > MaxReadsPerKmer {
			continue // too non-specific, spec §4.2.
		}
		for _, p := range postings {
			id := seqtype.ReadID{FileIdx: p.FileIdx, Offset: p.Offset}
			if !dedup.addIfNew(id) {
				continue
			}
			if len(reads) >= MaxReads {
				continue
			}
			name, rawSeq, err := store.Read(p.FileIdx, p.Offset)
			if err != nil {
				continue // a read this index claims to have is a setup-time data problem, not a region failure; skip it.
			}

			// p.Strand records the strand the k-mer occurred on within the
			// read as stored; wordIsForward records whether the seed word
			// itself (as supplied by the region file) is the canonical
			// form. The read needs reverse-complementing iff exactly one of
			// these is "reverse" relative to the reference.
			needsRC := (p.Strand == kmerindex.StrandReverse) != !wordIsForward
			if needsRC {
				rawSeq = nseq.ReverseComplementASCII(rawSeq)
			}

			encoded, err := nseq.New(rawSeq, nseq.MaxRead)
			if err != nil {
				continue // too-long read; drop it silently (spec §7 kind 2).
			}
			reads = append(reads, &seqtype.Read{
				ID:      id,
				Name:    name,
				RawSeq:  rawSeq,
				Encoded: encoded,
				GroupID: -1,
			})
		}
	}
	return reads
}
