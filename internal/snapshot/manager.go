// Package snapshot implements the snapshot manager (C4): walking a source
// tree, chunking files into the content-addressed store, building and
// persisting manifests, computing Merkle roots and the anti-rollback hash
// chain, and verifying/restoring snapshots. Grounded throughout on
// original_source/src/storage.py's SnapshotManager, adapted to the
// WAL/audit/policy Go packages built alongside it.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vaultline/backup/internal/casstore"
	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/hashutil"
	"github.com/vaultline/backup/internal/manifest"
	"github.com/vaultline/backup/internal/wal"
)

// Manager binds the chunk store, the WAL, and the metadata index together
// to implement snapshot creation and its verify/restore counterparts.
type Manager struct {
	storeRoot    string
	snapshotsDir string
	metadataPath string
	store        *casstore.Store
	journal      *wal.Log
}

// Open wires a Manager to an already-initialized store root. The caller is
// responsible for WAL recovery (wal.Recover) having already run before any
// mutating command executes.
func Open(storeRoot string, store *casstore.Store, journal *wal.Log) *Manager {
	return &Manager{
		storeRoot:    storeRoot,
		snapshotsDir: filepath.Join(storeRoot, "snapshots"),
		metadataPath: filepath.Join(storeRoot, "metadata.json"),
		store:        store,
		journal:      journal,
	}
}

func (m *Manager) manifestPath(id string) string {
	return filepath.Join(m.snapshotsDir, id+".manifest")
}

// newSnapshotID derives "snap_<unix_seconds>_<H(nanos)[0:8]>", matching
// original_source/src/storage.py's create_snapshot exactly.
func newSnapshotID() string {
	now := time.Now()
	nanos := strconv.FormatInt(now.UnixNano(), 10)
	suffix := hashutil.HString(nanos)[:8]
	return fmt.Sprintf("snap_%d_%s", now.Unix(), suffix)
}

// Create walks sourcePath, chunks and stores every file, builds the
// manifest and chained snapshot record, and commits them through the WAL.
func (m *Manager) Create(sourcePath, label string) (*manifest.SnapshotRecord, error) {
	if err := os.MkdirAll(m.snapshotsDir, 0o755); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "create snapshots directory")
	}

	sid := newSnapshotID()
	if err := m.journal.Begin(sid); err != nil {
		return nil, err
	}

	rec, err := m.create(sid, sourcePath, label)
	if err != nil {
		_ = m.journal.Abort(sid)
		m.cleanupIncomplete(sid)
		return nil, err
	}

	if err := m.journal.Commit(sid); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *Manager) create(sid, sourcePath, label string) (*manifest.SnapshotRecord, error) {
	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "resolve source path")
	}
	if _, err := os.Stat(absSource); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "source path does not exist: %s", absSource)
	}

	files, err := walkSource(m.store, absSource)
	if err != nil {
		return nil, err
	}

	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	man := &manifest.Manifest{
		Version:    manifest.Version,
		SnapshotID: sid,
		SourcePath: absSource,
		CreatedAt:  createdAt,
		Label:      label,
		Files:      files,
	}
	man.SortFiles()

	manifestBytes, err := man.Canonical()
	if err != nil {
		return nil, err
	}
	merkleRoot := man.MerkleRoot()
	manifestHash := hashutil.H(manifestBytes)

	md, err := LoadMetadata(m.metadataPath)
	if err != nil {
		return nil, err
	}

	prevRoot, prevChainHash, sequence := hashutil.ZeroHex, hashutil.ZeroHex, int64(0)
	if latest, ok := md.Latest(); ok {
		prevRoot = latest.MerkleRoot
		prevChainHash = latest.ChainHash
		sequence = latest.Sequence + 1
	}
	chainHash := manifest.ChainHashOf(prevChainHash, merkleRoot, prevRoot)

	rec := manifest.SnapshotRecord{
		ID:            sid,
		CreatedAt:     createdAt,
		Label:         label,
		MerkleRoot:    merkleRoot,
		PrevRoot:      prevRoot,
		PrevChainHash: prevChainHash,
		ChainHash:     chainHash,
		ManifestHash:  manifestHash,
		TotalFiles:    len(man.Files),
		TotalChunks:   man.TotalChunks(),
		Sequence:      sequence,
	}
	recCAN, err := rec.Canonical()
	if err != nil {
		return nil, err
	}

	// Steps 8–11: WAL first, then the real store, then commit (checked by
	// the caller in Create).
	if err := m.journal.Manifest(sid, manifestBytes); err != nil {
		return nil, err
	}
	if err := m.journal.Metadata(sid, recCAN); err != nil {
		return nil, err
	}

	if err := os.WriteFile(m.manifestPath(sid)+".tmp", manifestBytes, 0o644); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "write temp manifest file")
	}
	if err := os.Rename(m.manifestPath(sid)+".tmp", m.manifestPath(sid)); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "rename manifest file into place")
	}

	md.Add(rec)
	if err := md.Save(m.metadataPath); err != nil {
		return nil, err
	}

	return &rec, nil
}

// cleanupIncomplete removes a partially-written manifest file and metadata
// entry for sid, never touching chunks: chunks written before the abort stay
// in the store, and since they are addressed by content a later Put of the
// same bytes reuses them.
func (m *Manager) cleanupIncomplete(sid string) {
	_ = os.Remove(m.manifestPath(sid))
	_ = os.Remove(m.manifestPath(sid) + ".tmp")

	md, err := LoadMetadata(m.metadataPath)
	if err != nil {
		return
	}
	if _, ok := md.Snapshots[sid]; ok {
		md.Remove(sid)
		_ = md.Save(m.metadataPath)
	}
}

// RecoveryCleanup adapts wal.OpenTxn cleanup to this manager's on-disk
// state, used as the callback passed to wal.Recover at process start.
func (m *Manager) RecoveryCleanup(t wal.OpenTxn) error {
	m.cleanupIncomplete(t.SID)
	return nil
}

// List returns every snapshot record ordered by Sequence ascending.
func (m *Manager) List() ([]manifest.SnapshotRecord, error) {
	md, err := LoadMetadata(m.metadataPath)
	if err != nil {
		return nil, err
	}
	return md.SortedBySequence(), nil
}

// Metadata exposes the loaded index, for callers (e.g. the control plane's
// index-rebuild step) that need direct access beyond List/Get.
func (m *Manager) Metadata() (*Metadata, error) {
	return LoadMetadata(m.metadataPath)
}

// Get returns one snapshot record, failing SnapshotNotFound if absent.
func (m *Manager) Get(id string) (*manifest.SnapshotRecord, error) {
	md, err := LoadMetadata(m.metadataPath)
	if err != nil {
		return nil, err
	}
	rec, ok := md.Snapshots[id]
	if !ok {
		return nil, engerr.New(engerr.SnapshotNotFound, "snapshot not found: %s", id)
	}
	return &rec, nil
}

// ReadManifest reads and parses snapshots/<id>.manifest.
func (m *Manager) ReadManifest(id string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(m.manifestPath(id))
	if err != nil {
		return nil, engerr.Wrap(engerr.ManifestCorrupt, err, "read manifest for %s", id)
	}
	var man manifest.Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, engerr.Wrap(engerr.ManifestCorrupt, err, "parse manifest for %s", id)
	}
	return &man, nil
}
