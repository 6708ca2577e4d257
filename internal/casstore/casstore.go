// Package casstore implements the content-addressed chunk store (C3), a
// streaming/atomic-write chunk writer paired with a BoltDB side-index
// adapted from daemon/manager/cas_bolt.go accelerating the put-time dedup
// check. The filesystem under chunks/ remains the sole source of truth:
// Exists always rehashes file content; the side index is wired purely as a
// read-through accelerant, never a replacement for rehash verification.
package casstore

import (
	"os"
	"path/filepath"

	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/hashutil"
)

// ChunkSize is the fixed chunk window, 1 MiB, per the data model.
const ChunkSize = 1 << 20

// Recorder receives put-time dedup accounting, wired from
// internal/observability.Metrics by the control plane. Put works fully
// without one; a store starts with a nil Recorder until SetRecorder.
type Recorder interface {
	RecordChunkStored(size int)
	RecordChunkDeduped()
}

// Store is the on-disk content-addressed chunk store rooted at
// <storeRoot>/chunks, with an optional BoltDB dedup-acceleration index.
type Store struct {
	chunksDir string
	idx       *dedupIndex
	rec       Recorder
}

// Open prepares the chunk store under storeRoot/chunks and opens (creating
// if absent) the BoltDB dedup index at storeRoot/chunk_index.bolt. The
// index is an accelerant only; a missing or corrupt index file is not
// fatal — Open falls back to an index-less store that dedups by a stat of
// the chunk path alone.
func Open(storeRoot string) (*Store, error) {
	chunksDir := filepath.Join(storeRoot, "chunks")
	if err := os.MkdirAll(chunksDir, 0o755); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "create chunks directory")
	}
	idx, err := openDedupIndex(filepath.Join(storeRoot, "chunk_index.bolt"))
	if err != nil {
		idx = nil // degrade gracefully; filesystem stays authoritative
	}
	return &Store{chunksDir: chunksDir, idx: idx}, nil
}

// SetRecorder wires a metrics recorder into the store; subsequent Put calls
// report dedup-vs-new outcomes through it.
func (s *Store) SetRecorder(rec Recorder) {
	s.rec = rec
}

// Close releases the dedup index handle, if one is open.
func (s *Store) Close() error {
	if s.idx == nil {
		return nil
	}
	return s.idx.close()
}

func (s *Store) pathFor(hash string) string {
	return filepath.Join(s.chunksDir, hash[:2], hash)
}

// Put computes hash = H(data) and writes chunks/<hash[0:2]>/<hash> only if
// absent, via a sibling-temp-file-then-rename atomic write. Returns the
// chunk hash.
func (s *Store) Put(data []byte) (string, error) {
	hash := hashutil.H(data)
	dir := filepath.Join(s.chunksDir, hash[:2])
	path := s.pathFor(hash)

	if s.idx != nil && s.idx.has(hash) {
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			if s.rec != nil {
				s.rec.RecordChunkDeduped()
			}
			return hash, nil
		}
		// Index says known but file is gone or wrong type: fall through and
		// rewrite it rather than trusting a stale cache entry.
	}

	if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
		if s.idx != nil {
			s.idx.put(hash, len(data))
		}
		if s.rec != nil {
			s.rec.RecordChunkDeduped()
		}
		return hash, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", engerr.Wrap(engerr.IoError, err, "create chunk shard directory")
	}

	tmp, err := os.CreateTemp(dir, hash+".tmp-*")
	if err != nil {
		return "", engerr.Wrap(engerr.IoError, err, "create temp chunk file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", engerr.Wrap(engerr.IoError, err, "write temp chunk file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", engerr.Wrap(engerr.IoError, err, "fsync temp chunk file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", engerr.Wrap(engerr.IoError, err, "close temp chunk file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", engerr.Wrap(engerr.IoError, err, "rename chunk into place")
	}

	if s.idx != nil {
		s.idx.put(hash, len(data))
	}
	if s.rec != nil {
		s.rec.RecordChunkStored(len(data))
	}
	return hash, nil
}

// Get reads the chunk identified by hash, failing with ChunkMissing if
// absent.
func (s *Store) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		return nil, engerr.Wrap(engerr.ChunkMissing, err, "read chunk %s", hash)
	}
	return data, nil
}

// Exists reports whether hash is present on disk AND its bytes rehash to
// hash. This always reads and rehashes the file; the dedup index is never
// consulted here, since a stale or compromised cache must never make a
// corrupted or missing chunk verify as present (I5).
func (s *Store) Exists(hash string) bool {
	data, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		return false
	}
	return hashutil.H(data) == hash
}
