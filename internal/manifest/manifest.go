// Package manifest defines the on-disk snapshot manifest and snapshot record
// shapes and their canonical encodings: files, chunk lists, and the chained
// snapshot record fields needed for rollback detection.
package manifest

import (
	"sort"

	"github.com/vaultline/backup/internal/hashutil"
	"github.com/vaultline/backup/internal/merkle"
)

// Version is the manifest format version written into every manifest.
const Version = 1

// FileEntry is {path, chunks[], size}. Field order matches the
// lexicographic ordering of the JSON tags (chunks, path, size) so that a
// plain json.Marshal already produces CAN's "keys sorted lexicographically"
// requirement — see hashutil.Canonical's doc comment for the contract this
// relies on.
type FileEntry struct {
	Chunks []string `json:"chunks"`
	Path   string   `json:"path"`
	Size   int64    `json:"size"`
}

// Manifest is {version, snapshot_id, source_path, created_at, label, files[]}.
// Field order again follows the lexicographic tag ordering: created_at,
// files, label, snapshot_id, source_path, version.
type Manifest struct {
	CreatedAt  string      `json:"created_at"`
	Files      []FileEntry `json:"files"`
	Label      string      `json:"label"`
	SnapshotID string      `json:"snapshot_id"`
	SourcePath string      `json:"source_path"`
	Version    int         `json:"version"`
}

// SortFiles sorts Files by Path in byte-lexicographic order, in place. The
// snapshot manager must call this before canonicalizing; MerkleRoot and Hash below
// assume it already happened (they do not re-sort, since permutation
// invariance is a property of CAN, not of every consumer).
func (m *Manifest) SortFiles() {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
}

// Canonical returns CAN(manifest): compact JSON, keys already in sorted
// order by construction, files pre-sorted by the caller via SortFiles.
func (m *Manifest) Canonical() ([]byte, error) {
	return hashutil.Canonical(m)
}

// Hash returns manifest_hash = H(CAN(manifest)).
func (m *Manifest) Hash() (string, []byte, error) {
	return hashutil.CanonicalHash(m)
}

// MerkleRoot recomputes the Merkle root from the manifest's file entries.
// Files must already be sorted by path (SortFiles, or read back off disk
// where they are persisted pre-sorted).
func (m *Manifest) MerkleRoot() string {
	leaves := make([]merkle.FileChunks, len(m.Files))
	for i, f := range m.Files {
		leaves[i] = merkle.FileChunks{Path: f.Path, Chunks: f.Chunks}
	}
	return merkle.RootFromFiles(leaves)
}

// TotalChunks sums the chunk count across all file entries.
func (m *Manifest) TotalChunks() int {
	n := 0
	for _, f := range m.Files {
		n += len(f.Chunks)
	}
	return n
}

// SnapshotRecord is the persisted per-snapshot metadata row. Field order
// follows the lexicographic ordering of JSON tags: chain_hash, created_at,
// id, label, manifest_hash, merkle_root, prev_chain_hash, prev_root,
// sequence, total_chunks, total_files.
type SnapshotRecord struct {
	ChainHash     string `json:"chain_hash"`
	CreatedAt     string `json:"created_at"`
	ID            string `json:"id"`
	Label         string `json:"label"`
	ManifestHash  string `json:"manifest_hash"`
	MerkleRoot    string `json:"merkle_root"`
	PrevChainHash string `json:"prev_chain_hash"`
	PrevRoot      string `json:"prev_root"`
	Sequence      int64  `json:"sequence"`
	TotalChunks   int    `json:"total_chunks"`
	TotalFiles    int    `json:"total_files"`
}

// Canonical returns CAN(record), used for the WAL's METADATA payload.
func (r *SnapshotRecord) Canonical() ([]byte, error) {
	return hashutil.Canonical(r)
}

// ChainHashOf computes H(prevChainHash || merkleRoot || prevRoot) — the
// hash-chain link formula shared by genesis and non-genesis snapshots alike.
func ChainHashOf(prevChainHash, merkleRoot, prevRoot string) string {
	return hashutil.HString(prevChainHash + merkleRoot + prevRoot)
}
