package seqstore

import (
	"io/ioutil"
	"os"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	f, err := ioutil.TempFile("", "seqstore-*.fa")
	if err != nil {
		t.Fatalf("TempFile: %v", err)
	}
	if _, err := f.WriteString(contents); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestReadRecord(t *testing.T) {
	path := writeTemp(t, ">read1\nACGTACGTAC\n>read2\nTTTTGGGGCC\n")
	store, err := Open([]string{path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	name, seq, err := store.Read(0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if name != "read1" || seq != "ACGTACGTAC" {
		t.Fatalf("got (%q, %q)", name, seq)
	}

	name2, seq2, err := store.Read(0, int64(len(">read1\nACGTACGTAC\n")))
	if err != nil {
		t.Fatalf("Read second record: %v", err)
	}
	if name2 != "read2" || seq2 != "TTTTGGGGCC" {
		t.Fatalf("got (%q, %q)", name2, seq2)
	}
}

func TestReadOutOfRange(t *testing.T) {
	path := writeTemp(t, ">read1\nACGT\n")
	store, err := Open([]string{path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, _, err := store.Read(1, 0); err == nil {
		t.Fatalf("expected error for out-of-range file index")
	}
	if _, _, err := store.Read(0, 1000); err == nil {
		t.Fatalf("expected error for out-of-range offset")
	}
}
