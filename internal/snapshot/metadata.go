package snapshot

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/manifest"
)

// Metadata is the store's snapshot index, metadata.json, grounded on
// original_source/src/storage.py's self.metadata dict. It is never hashed
// or canonicalized — ordinary indented JSON is fine, written atomically.
type Metadata struct {
	Snapshots          map[string]manifest.SnapshotRecord `json:"snapshots"`
	LatestSnapshot     *string                            `json:"latest_snapshot"`
	LatestSnapshotRoot *string                            `json:"latest_snapshot_root"`
	PrevRootChain      []string                           `json:"prev_root_chain"`
}

// newMetadata returns an empty index, matching the shape used for a
// brand-new store.
func newMetadata() *Metadata {
	return &Metadata{Snapshots: map[string]manifest.SnapshotRecord{}}
}

// LoadMetadata reads metadata.json from path. A missing file yields an
// empty index rather than an error (matches the original's _load_metadata).
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newMetadata(), nil
	}
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "read metadata.json")
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "parse metadata.json")
	}
	if m.Snapshots == nil {
		m.Snapshots = map[string]manifest.SnapshotRecord{}
	}
	return &m, nil
}

// Save atomically rewrites metadata.json via a sibling temp file and
// rename, mirroring the original's _save_metadata.
func (m *Metadata) Save(path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return engerr.Wrap(engerr.IoError, err, "encode metadata.json")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "metadata.json.tmp-*")
	if err != nil {
		return engerr.Wrap(engerr.IoError, err, "create temp metadata file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return engerr.Wrap(engerr.IoError, err, "write temp metadata file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return engerr.Wrap(engerr.IoError, err, "fsync temp metadata file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return engerr.Wrap(engerr.IoError, err, "close temp metadata file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return engerr.Wrap(engerr.IoError, err, "rename metadata.json into place")
	}
	return nil
}

// Latest returns the current latest snapshot record, if any.
func (m *Metadata) Latest() (*manifest.SnapshotRecord, bool) {
	if m.LatestSnapshot == nil {
		return nil, false
	}
	rec, ok := m.Snapshots[*m.LatestSnapshot]
	if !ok {
		return nil, false
	}
	return &rec, true
}

// Add inserts rec, updates latest_snapshot/latest_snapshot_root, and
// appends to prev_root_chain (kept for original-format parity; see
// DESIGN.md for why it is not load-bearing in this implementation).
func (m *Metadata) Add(rec manifest.SnapshotRecord) {
	m.Snapshots[rec.ID] = rec
	id := rec.ID
	root := rec.MerkleRoot
	m.LatestSnapshot = &id
	m.LatestSnapshotRoot = &root
	m.PrevRootChain = append(m.PrevRootChain, rec.MerkleRoot)
}

// Remove deletes a snapshot record (used by WAL recovery rollback, R3a) and
// recomputes latest_snapshot if it pointed at the removed entry, by
// created_at, matching the original's recovery logic.
func (m *Metadata) Remove(id string) {
	delete(m.Snapshots, id)
	if m.LatestSnapshot != nil && *m.LatestSnapshot == id {
		m.LatestSnapshot = nil
		m.LatestSnapshotRoot = nil
		var newest *manifest.SnapshotRecord
		for _, rec := range m.Snapshots {
			r := rec
			if newest == nil || r.CreatedAt > newest.CreatedAt {
				newest = &r
			}
		}
		if newest != nil {
			newID := newest.ID
			newRoot := newest.MerkleRoot
			m.LatestSnapshot = &newID
			m.LatestSnapshotRoot = &newRoot
		}
	}
	// Trim prev_root_chain back to the remaining snapshot count so the
	// redundant list stays consistent after an undo, rather than drifting.
	if len(m.PrevRootChain) > len(m.Snapshots) {
		m.PrevRootChain = m.PrevRootChain[:len(m.Snapshots)]
	}
}

// SortedBySequence returns every snapshot record ordered by Sequence
// ascending, the dense total order the chain hash and the index both
// depend on.
func (m *Metadata) SortedBySequence() []manifest.SnapshotRecord {
	out := make([]manifest.SnapshotRecord, 0, len(m.Snapshots))
	for _, r := range m.Snapshots {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// FindByMerkleRoot returns the snapshot record whose merkle_root equals
// root, used by the anti-rollback check to locate a claimed predecessor.
func (m *Metadata) FindByMerkleRoot(root string) (*manifest.SnapshotRecord, bool) {
	for _, r := range m.Snapshots {
		if r.MerkleRoot == root {
			return &r, true
		}
	}
	return nil, false
}
