package casstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vaultline/backup/internal/hashutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	data := []byte("hello world")
	hash, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if want := hashutil.H(data); hash != want {
		t.Fatalf("Put returned %s, want %s", hash, want)
	}
	got, err := s.Get(hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}
	if !s.Exists(hash) {
		t.Fatal("Exists should report true for a freshly-put chunk")
	}
}

func TestPutIsIdempotentOnDisk(t *testing.T) {
	s := openTestStore(t)
	data := []byte("repeat me")
	h1, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	path := s.pathFor(h1)
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	h2, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if h2 != h1 {
		t.Fatalf("second Put returned a different hash: %s vs %s", h2, h1)
	}
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Fatalf("second Put rewrote the chunk file (P1 violation)")
	}
}

func TestGetMissingChunk(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(hashutil.EmptyHex); err == nil {
		t.Fatal("expected error for missing chunk")
	}
}

func TestExistsDetectsCorruption(t *testing.T) {
	s := openTestStore(t)
	data := []byte("integrity matters")
	hash, err := s.Put(data)
	if err != nil {
		t.Fatal(err)
	}

	path := s.pathFor(hash)
	corrupt := append([]byte(nil), data...)
	corrupt[0] ^= 0xFF
	if err := os.WriteFile(path, corrupt, 0o644); err != nil {
		t.Fatal(err)
	}

	if s.Exists(hash) {
		t.Fatal("Exists should detect corrupted chunk content and return false")
	}
}

type recordingRecorder struct {
	stored, deduped int
}

func (r *recordingRecorder) RecordChunkStored(size int) { r.stored++ }
func (r *recordingRecorder) RecordChunkDeduped()        { r.deduped++ }

func TestRecorderReportsStoredThenDeduped(t *testing.T) {
	s := openTestStore(t)
	rec := &recordingRecorder{}
	s.SetRecorder(rec)

	data := []byte("recorder test")
	if _, err := s.Put(data); err != nil {
		t.Fatal(err)
	}
	if rec.stored != 1 || rec.deduped != 0 {
		t.Fatalf("first Put: got stored=%d deduped=%d, want stored=1 deduped=0", rec.stored, rec.deduped)
	}

	if _, err := s.Put(data); err != nil {
		t.Fatal(err)
	}
	if rec.stored != 1 || rec.deduped != 1 {
		t.Fatalf("second Put: got stored=%d deduped=%d, want stored=1 deduped=1", rec.stored, rec.deduped)
	}
}

func TestShardLayout(t *testing.T) {
	s := openTestStore(t)
	hash, err := s.Put([]byte("shard test"))
	if err != nil {
		t.Fatal(err)
	}
	expected := filepath.Join(s.chunksDir, hash[:2], hash)
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("expected chunk at %s: %v", expected, err)
	}
}
