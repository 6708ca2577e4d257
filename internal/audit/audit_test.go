package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vaultline/backup/internal/hashutil"
)

func TestAppendAndVerifyCleanChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append("alice", "backup", []string{"/src"}, StatusOK, ""); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("alice", "list", nil, StatusOK, ""); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("bob", "restore", []string{"snap_1", "/out"}, StatusDeny, ""); err != nil {
		t.Fatal(err)
	}
	l.Close()

	res, err := Verify(path)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("expected clean chain to verify OK, got %+v", res)
	}
}

func TestFirstEntryPrevHashIsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append("alice", "init", nil, StatusOK, ""); err != nil {
		t.Fatal(err)
	}
	l.Close()

	entries, _, err := parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].PrevHash != hashutil.ZeroHex {
		t.Fatalf("first entry prev_hash = %s, want %s", entries[0].PrevHash, hashutil.ZeroHex)
	}
}

func TestTamperedLineDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Append("alice", "backup", []string{"/src"}, StatusOK, "")
	l.Append("alice", "verify", []string{"snap_1"}, StatusOK, "")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	lines[0] = strings.Replace(lines[0], "alice", "mallory", 1)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Verify(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("expected tampered line to be detected")
	}
	if res.LineNo != 1 {
		t.Fatalf("LineNo = %d, want 1", res.LineNo)
	}
}

func TestAppendedOutOfBandLineDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Append("alice", "backup", []string{"/src"}, StatusOK, "")
	l.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("TAMPERED\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, err := Verify(path)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("expected out-of-band line to be detected as corruption")
	}
	if res.LineNo != 2 {
		t.Fatalf("LineNo = %d, want 2", res.LineNo)
	}
}

func TestErrorMessageEscaping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	msg := "boom\nwith\ttabs and spaces"
	if err := l.Append("alice", "restore", []string{"snap_1"}, StatusFail, msg); err != nil {
		t.Fatal(err)
	}
	l.Close()

	entries, _, err := parseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].ErrorMsg != msg {
		t.Fatalf("ErrorMsg = %q, want %q", entries[0].ErrorMsg, msg)
	}

	res, verr := Verify(path)
	if verr != nil {
		t.Fatal(verr)
	}
	if !res.OK {
		t.Fatalf("expected escaped multi-line message to still verify: %+v", res)
	}
}

func TestRecentTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		l.Append("alice", "list", nil, StatusOK, "")
	}
	l.Close()

	recent, err := Recent(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d entries, want 2", len(recent))
	}
}
