// Package seqstore defines the SeqStore external contract (spec §2, §6) and
// an mmap-backed reference implementation for local FASTA/FASTQ-style files.
//
// LoadFa in pileup/common.go streams a reference FASTA through file.Open and
// bufio.Scanner; the reads SeqStore serves are instead addressed by
// (fileIdx, byteOffset) pairs handed out by KmerIndex, which calls for
// random access rather than a single sequential pass, so the reference
// implementation here memory-maps the file (golang.org/x/sys/unix.Mmap, the
// same package fusion/kmer_index.go uses for its hash table) instead of
// scanning it.
package seqstore

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SeqStore returns a read's raw sequence and name given its (file index,
// byte offset) location, as handed out by KmerIndex postings (spec §6:
// "Memory-mapped file per index; at name_offset, a FASTA/FASTQ-style
// >NAME\nSEQUENCE\n record; the consumer reads SEQUENCE up to the first
// character below 'A'").
type SeqStore interface {
	// Read returns the name and sequence of the record at fileIdx/offset.
	Read(fileIdx int, offset int64) (name, sequence string, err error)
}

// MmapStore is the reference SeqStore implementation: each configured path
// is mmap'd once at construction and never re-read from disk afterward.
type MmapStore struct {
	files [][]byte
}

// Open memory-maps every path in order; paths[i] is addressed as fileIdx i
// by callers.
func Open(paths []string) (*MmapStore, error) {
	s := &MmapStore{files: make([][]byte, len(paths))}
	for i, p := range paths {
		data, err := mmapFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "seqstore: mmap %s", p)
		}
		s.files[i] = data
	}
	return s, nil
}

func mmapFile(path string) ([]byte, error) {
	f, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(f)
	var st unix.Stat_t
	if err := unix.Fstat(f, &st); err != nil {
		return nil, err
	}
	if st.Size == 0 {
		return nil, nil
	}
	data, err := unix.Mmap(f, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	_ = unix.Madvise(data, unix.MADV_RANDOM) // best-effort; random-access posting lookups.
	return data, nil
}

// Close unmaps every file. The store must not be used afterward.
func (s *MmapStore) Close() error {
	var firstErr error
	for _, data := range s.files {
		if len(data) == 0 {
			continue
		}
		if err := unix.Munmap(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Read implements SeqStore. It expects a '>'-prefixed name line immediately
// followed by a sequence line at offset, per spec §6.
func (s *MmapStore) Read(fileIdx int, offset int64) (name, sequence string, err error) {
	if fileIdx < 0 || fileIdx >= len(s.files) {
		return "", "", errors.Errorf("seqstore: file index %d out of range", fileIdx)
	}
	data := s.files[fileIdx]
	if offset < 0 || offset >= int64(len(data)) {
		return "", "", errors.Errorf("seqstore: offset %d out of range for file %d", offset, fileIdx)
	}
	rest := data[offset:]
	if len(rest) == 0 || rest[0] != '>' {
		return "", "", errors.Errorf("seqstore: no record header at file %d offset %d", fileIdx, offset)
	}
	nl := indexByte(rest, '\n')
	if nl < 0 {
		return "", "", errors.Errorf("seqstore: truncated header at file %d offset %d", fileIdx, offset)
	}
	name = strings.TrimRight(string(rest[1:nl]), "\r")

	seqStart := rest[nl+1:]
	end := 0
	for end < len(seqStart) && seqStart[end] >= 'A' {
		end++
	}
	sequence = string(seqStart[:end])
	return name, sequence, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
