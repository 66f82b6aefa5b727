// Package snvfp holds the SNV and false-positive auxiliary tables consumed
// by ReadTagger (spec §4.4) and Caller (spec §4.6). Both tables are
// immutable after load and sorted for binary search (spec §5, §6); this is
// exactly the llrb.Tree-keyed-by-(chr,pos) idiom encoding/bampair/shard_info.go
// uses for its shard lookup, generalized from a single Floor query per shard
// to a Get query per genomic position.
package snvfp

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/biogo/store/llrb"
	"github.com/pkg/errors"
)

type posKey struct {
	chr string
	pos int
}

// Compare implements llrb.Comparable.
func (k posKey) Compare(c llrb.Comparable) int {
	k2 := c.(posKey)
	if d := strings.Compare(k.chr, k2.chr); d != 0 {
		return d
	}
	return k.pos - k2.pos
}

// SNVEntry is one row of the SNV table (spec §6: "CHR:POS \t GT \t ID \t
// REF/ALT", zero-based after decrement).
type SNVEntry struct {
	GT, ID   string
	Ref, Alt byte
}

type snvNode struct {
	key   posKey
	entry SNVEntry
}

func (n snvNode) Compare(c llrb.Comparable) int { return n.key.Compare(c.(snvNode).key) }

// Table answers "is (chr, pos) a known SNV" and "is (chr, pos) a known false
// positive" in O(log n).
type Table struct {
	snv llrb.Tree
	fp  llrb.Tree
}

// New returns an empty Table; LoadSNV/LoadFP populate it.
func New() *Table {
	return &Table{}
}

// LoadSNV parses the SNV table format from r (spec §6). Blank and
// '#'-prefixed lines are ignored.
func (t *Table) LoadSNV(r io.Reader) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return errors.Errorf("snvfp: SNV table line %d: want 4 tab-separated fields, got %d", lineNo, len(fields))
		}
		chrPos := strings.SplitN(fields[0], ":", 2)
		if len(chrPos) != 2 {
			return errors.Errorf("snvfp: SNV table line %d: malformed CHR:POS %q", lineNo, fields[0])
		}
		pos, err := strconv.Atoi(chrPos[1])
		if err != nil {
			return errors.Wrapf(err, "snvfp: SNV table line %d: bad position", lineNo)
		}
		pos-- // "zero-based positions after decrement"
		refAlt := strings.SplitN(fields[3], "/", 2)
		if len(refAlt) != 2 || len(refAlt[0]) == 0 || len(refAlt[1]) == 0 {
			return errors.Errorf("snvfp: SNV table line %d: malformed REF/ALT %q", lineNo, fields[3])
		}
		entry := SNVEntry{GT: fields[1], ID: fields[2], Ref: refAlt[0][0], Alt: refAlt[1][0]}
		t.snv.Insert(snvNode{key: posKey{chrPos[0], pos}, entry: entry})
	}
	return sc.Err()
}

// LoadFP parses the false-positive table format from r (spec §6:
// "CHR:POS", one-based). Blank and '#'-prefixed lines are ignored.
func (t *Table) LoadFP(r io.Reader) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		chrPos := strings.SplitN(line, ":", 2)
		if len(chrPos) != 2 {
			return errors.Errorf("snvfp: FP table line %d: malformed CHR:POS %q", lineNo, line)
		}
		pos, err := strconv.Atoi(chrPos[1])
		if err != nil {
			return errors.Wrapf(err, "snvfp: FP table line %d: bad position", lineNo)
		}
		t.fp.Insert(snvNode{key: posKey{chrPos[0], pos - 1}}) // normalize to zero-based like SNV
	}
	return sc.Err()
}

// SNV reports the known SNV at (chr, pos) (zero-based), if any.
func (t *Table) SNV(chr string, pos int) (SNVEntry, bool) {
	c := t.snv.Get(snvNode{key: posKey{chr, pos}})
	if c == nil {
		return SNVEntry{}, false
	}
	return c.(snvNode).entry, true
}

// IsFP reports whether (chr, pos) (zero-based) is a known false positive.
func (t *Table) IsFP(chr string, pos int) bool {
	return t.fp.Get(snvNode{key: posKey{chr, pos}}) != nil
}

// MatchesSNV reports whether base matches either the reference or alternate
// allele of the known SNV at (chr, pos), per spec §4.4's "unknown" bit rule.
func (t *Table) MatchesSNV(chr string, pos int, base byte) bool {
	e, ok := t.SNV(chr, pos)
	if !ok {
		return false
	}
	return base == e.Ref || base == e.Alt
}
