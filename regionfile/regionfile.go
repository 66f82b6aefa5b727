// Package regionfile parses the region-input file (spec §2/§5): one record
// per line giving a chromosome, a reference window, the reference sequence
// for that window, and the seed k-mers ReadRecruiter starts from.
//
// The tokenizer is adapted from interval/bedunion.go's getTokens: a
// hand-rolled whitespace splitter beats strings.Fields/strings.Split for
// short, fixed-column lines and avoids an allocation per token. Chromosome
// name normalization uses matchr.JaroWinkler, the same fuzzy-string-match
// library bio-fusion draws on for transcript-name correction, to tolerate
// the "chr1" vs "1" / typo'd-contig spelling drift real region files carry.
package regionfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"
	gunsafe "github.com/grailbio/base/unsafe"
)

// Record is one parsed region-file line.
type Record struct {
	Chr      string
	Start    int
	End      int
	RefSeq   string
	Kmers    []string
	LineNum  int
}

// getTokens splits curLine on runs of bytes <= ' ', writing up to len(tokens)
// results into tokens and returning how many were found.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// maxKmers bounds the number of seed k-mers Parse tokenizes from one
// line (a region file with more seeds than this is almost certainly
// malformed input, not a legitimately huge seed set).
const maxKmers = 64

// Parse reads region records from r, one per line. Blank lines and lines
// starting with '#' are skipped. A line's columns are
// CHR START END REFSEQ KMER[,KMER...].
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var records []Record
	lineNum := 0
	var tokenBuf [5][]byte

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		n := getTokens(tokenBuf[:], []byte(trimmed))
		if n < 5 {
			return nil, fmt.Errorf("regionfile: line %d: expected 5 columns, got %d", lineNum, n)
		}

		start, err := strconv.Atoi(gunsafe.BytesToString(tokenBuf[1]))
		if err != nil {
			return nil, fmt.Errorf("regionfile: line %d: bad start %q: %w", lineNum, tokenBuf[1], err)
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokenBuf[2]))
		if err != nil {
			return nil, fmt.Errorf("regionfile: line %d: bad end %q: %w", lineNum, tokenBuf[2], err)
		}
		if end <= start {
			return nil, fmt.Errorf("regionfile: line %d: end %d <= start %d", lineNum, end, start)
		}

		// tokenBuf slices index into trimmed, a fresh copy made above (not a
		// reused scanner buffer), so the BytesToString views below are safe
		// to retain past this iteration; same reasoning as bedunion.go's use
		// of gunsafe for its own per-line token columns.
		kmers := strings.Split(gunsafe.BytesToString(tokenBuf[4]), ",")
		if len(kmers) > maxKmers {
			return nil, fmt.Errorf("regionfile: line %d: %d seed kmers exceeds max %d", lineNum, len(kmers), maxKmers)
		}

		records = append(records, Record{
			Chr:     gunsafe.BytesToString(tokenBuf[0]),
			Start:   start,
			End:     end,
			RefSeq:  gunsafe.BytesToString(tokenBuf[3]),
			Kmers:   kmers,
			LineNum: lineNum,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("regionfile: scan: %w", err)
	}
	return records, nil
}

// canonicalChroms are the human autosomes plus sex chromosomes, the
// normalization target set (SPEC_FULL.md item 5).
var canonicalChroms = func() []string {
	out := make([]string, 0, 24)
	for i := 1; i <= 22; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return append(out, "X", "Y")
}()

// jaroWinklerMinScore is the minimum similarity NormalizeChr accepts before
// falling back to the input unchanged; below this, two names are probably
// genuinely different contigs, not a spelling drift of the same one.
const jaroWinklerMinScore = 0.85

// NormalizeChr maps chr to its canonical form ("chr1" -> "1", "Chr22" ->
// "22"): it strips a "chr"/"Chr" prefix and looks for an exact match first,
// then falls back to the canonical name with the highest Jaro-Winkler
// similarity, accepted only at jaroWinklerMinScore or above; otherwise chr
// is returned unchanged.
func NormalizeChr(chr string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(chr, "chr"), "Chr")
	for _, c := range canonicalChroms {
		if trimmed == c {
			return c
		}
	}

	best := chr
	bestScore := 0.0
	for _, c := range canonicalChroms {
		score := matchr.JaroWinkler(trimmed, c, false)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore < jaroWinklerMinScore {
		return chr
	}
	return best
}
