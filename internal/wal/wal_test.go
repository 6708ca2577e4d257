package wal

import (
	"path/filepath"
	"testing"
)

func TestBeginCommitRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Begin("snap_1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Manifest("snap_1", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := l.Metadata("snap_1", []byte(`{"id":"snap_1"}`)); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit("snap_1"); err != nil {
		t.Fatal(err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	if incomplete := FindIncomplete(records); len(incomplete) != 0 {
		t.Fatalf("expected no incomplete transactions, got %v", incomplete)
	}
	sid, ok := LastCommitted(records)
	if !ok || sid != "snap_1" {
		t.Fatalf("LastCommitted = %q, %v", sid, ok)
	}
}

func TestIncompleteTransactionDetectedAndCleanedUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := l.Begin("snap_1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Manifest("snap_1", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := l.Metadata("snap_1", []byte(`{"id":"snap_1"}`)); err != nil {
		t.Fatal(err)
	}
	// No COMMIT/ABORT: simulates a crash mid-transaction.
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	var cleaned []string
	incomplete, err := Recover(path, func(t OpenTxn) error {
		cleaned = append(cleaned, t.SID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(incomplete) != 1 || incomplete[0].SID != "snap_1" {
		t.Fatalf("Recover found %v, want one incomplete txn snap_1", incomplete)
	}
	if len(cleaned) != 1 || cleaned[0] != "snap_1" {
		t.Fatalf("cleanup callback invoked with %v", cleaned)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected compacted WAL to be empty, got %d records", len(records))
	}
}

func TestCommittedTransactionSurvivesRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.wal")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Begin("snap_1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit("snap_1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Begin("snap_2"); err != nil {
		t.Fatal(err)
	}
	// snap_2 left open.
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	incomplete, err := Recover(path, func(OpenTxn) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if len(incomplete) != 1 || incomplete[0].SID != "snap_2" {
		t.Fatalf("incomplete = %v", incomplete)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected snap_1's BEGIN+COMMIT to survive, got %d records", len(records))
	}
	for _, r := range records {
		if r.SID != "snap_1" {
			t.Fatalf("unexpected surviving record for %s", r.SID)
		}
	}
}

func TestMalformedLineRejected(t *testing.T) {
	if _, err := parseLine("garbage"); err == nil {
		t.Fatal("expected error for malformed line")
	}
}
