package offline

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestJournalAppendAndRecover(t *testing.T) {
	dir := t.TempDir()
	j, err := openJournal(dir, 0)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	want := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, d := range want {
		if _, err := j.append(d); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := j.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	j2, err := openJournal(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.close()
	var got [][]byte
	err = j2.recover(func(rec journalRecord) error {
		got = append(got, rec.data)
		return nil
	})
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("recovered %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != string(want[i]) {
			t.Fatalf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestJournalTornTailTruncated(t *testing.T) {
	dir := t.TempDir()
	j, err := openJournal(dir, 0)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := j.append([]byte("intact")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// simulate a crash mid-write: garbage bytes after the last record
	path := filepath.Join(dir, "000000.journal")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.Write([]byte{0xDE, 0xAD, 0xBE}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	j2, err := openJournal(dir, 0)
	if err != nil {
		t.Fatalf("reopen after torn tail: %v", err)
	}
	defer j2.close()
	var got []string
	_ = j2.recover(func(rec journalRecord) error {
		got = append(got, string(rec.data))
		return nil
	})
	if len(got) != 1 || got[0] != "intact" {
		t.Fatalf("expected only the intact record, got %v", got)
	}

	// and the journal stays appendable
	if _, err := j2.append([]byte("after")); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
}

func TestJournalRotationAndTruncate(t *testing.T) {
	dir := t.TempDir()
	// tiny max size forces a rotation every record
	j, err := openJournal(dir, 64)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := j.append([]byte(fmt.Sprintf("record-%d-padding-padding-padding", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	files, _ := filepath.Glob(filepath.Join(dir, "*.journal"))
	if len(files) < 2 {
		t.Fatalf("expected rotation to create multiple files, got %d", len(files))
	}

	if err := j.truncateBefore(j.nextSeq()); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	after, _ := filepath.Glob(filepath.Join(dir, "*.journal"))
	if len(after) != 1 {
		t.Fatalf("expected only the current file after truncate, got %d", len(after))
	}
	if err := j.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
