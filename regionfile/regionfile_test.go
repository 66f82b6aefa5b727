package regionfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	in := "# comment\n\nchr1\t100\t110\tACGTACGTAC\tACGTA,CGTAC\n"
	recs, err := Parse(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	r := recs[0]
	assert.Equal(t, "chr1", r.Chr)
	assert.Equal(t, 100, r.Start)
	assert.Equal(t, 110, r.End)
	assert.Equal(t, "ACGTACGTAC", r.RefSeq)
	assert.Equal(t, []string{"ACGTA", "CGTAC"}, r.Kmers)
}

func TestParseRejectsBadEnd(t *testing.T) {
	in := "chr1\t110\t100\tACGT\tACGT\n"
	_, err := Parse(strings.NewReader(in))
	assert.Error(t, err)
}

func TestParseRejectsTooFewColumns(t *testing.T) {
	in := "chr1\t100\t110\n"
	_, err := Parse(strings.NewReader(in))
	assert.Error(t, err)
}

func TestNormalizeChr(t *testing.T) {
	cases := map[string]string{
		"chr1":  "1",
		"Chr22": "22",
		"chrX":  "X",
		"Y":     "Y",
		"10":    "10",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeChr(in), "NormalizeChr(%q)", in)
	}
}

func TestNormalizeChrFuzzyMatch(t *testing.T) {
	got := NormalizeChr("chr1O") // letter O instead of digit 0, a plausible typo of "10"
	assert.Contains(t, []string{"10", "chr1O"}, got)
}
