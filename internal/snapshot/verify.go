package snapshot

import (
	"encoding/json"

	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/hashutil"
	"github.com/vaultline/backup/internal/manifest"
)

// VerifyResult is the non-raising outcome of Verify: corruption is reported
// in the struct, never via a returned error.
type VerifyResult struct {
	OK     bool
	Kind   engerr.Kind // zero value when OK
	Reason string
}

// Verify checks a snapshot record, its manifest, every referenced chunk,
// and the rollback chain, in that order, short-circuiting on first
// failure. It never mutates state.
func (m *Manager) Verify(id string) (VerifyResult, error) {
	rec, err := m.Get(id)
	if err != nil {
		if k, ok := engerr.KindOf(err); ok {
			return VerifyResult{OK: false, Kind: k, Reason: err.Error()}, nil
		}
		return VerifyResult{}, err
	}

	raw, readErr := m.readManifestBytes(id)
	if readErr != nil {
		return VerifyResult{OK: false, Kind: engerr.ManifestCorrupt, Reason: readErr.Error()}, nil
	}
	var man manifest.Manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return VerifyResult{OK: false, Kind: engerr.ManifestCorrupt, Reason: "manifest is not valid canonical JSON"}, nil
	}

	computedHash := hashutil.H(raw)
	if computedHash != rec.ManifestHash {
		return VerifyResult{OK: false, Kind: engerr.ManifestCorrupt, Reason: "manifest_hash mismatch"}, nil
	}

	computedRoot := man.MerkleRoot()
	if computedRoot != rec.MerkleRoot {
		return VerifyResult{OK: false, Kind: engerr.ManifestCorrupt, Reason: "merkle_root mismatch"}, nil
	}

	for _, f := range man.Files {
		for _, h := range f.Chunks {
			if !m.store.Exists(h) {
				return VerifyResult{OK: false, Kind: engerr.ChunkMissing, Reason: "chunk missing or corrupted: " + h}, nil
			}
		}
	}

	if res := m.checkRollback(rec); !res.OK {
		return res, nil
	}

	return VerifyResult{OK: true}, nil
}

func (m *Manager) readManifestBytes(id string) ([]byte, error) {
	data, err := readFileOrMissing(m.manifestPath(id))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// checkRollback detects chain tampering or a rolled-back store: a genesis
// chain_hash that doesn't match H(0^64 || merkle_root || 0^64), a predecessor that's
// gone missing, a predecessor whose own chain linkage doesn't agree, or a
// chain_hash that doesn't recompute from prev_chain_hash/merkle_root/
// prev_root. Any one of these failing marks the snapshot RollbackDetected.
func (m *Manager) checkRollback(rec *manifest.SnapshotRecord) VerifyResult {
	md, err := LoadMetadata(m.metadataPath)
	if err != nil {
		return VerifyResult{OK: false, Kind: engerr.IoError, Reason: err.Error()}
	}

	if rec.PrevRoot == hashutil.ZeroHex {
		// Genesis: chain_hash must equal H(0^64 || merkle_root || 0^64).
		expected := manifest.ChainHashOf(hashutil.ZeroHex, rec.MerkleRoot, hashutil.ZeroHex)
		if rec.ChainHash != expected {
			return VerifyResult{OK: false, Kind: engerr.RollbackDetected, Reason: "genesis snapshot chain_hash mismatch"}
		}
		return VerifyResult{OK: true}
	}

	prev, ok := md.FindByMerkleRoot(rec.PrevRoot)
	if !ok {
		return VerifyResult{OK: false, Kind: engerr.RollbackDetected, Reason: "no known snapshot with merkle_root == prev_root"}
	}
	if prev.ChainHash != rec.PrevChainHash {
		return VerifyResult{OK: false, Kind: engerr.RollbackDetected, Reason: "predecessor chain_hash does not match prev_chain_hash"}
	}
	if prev.Sequence+1 != rec.Sequence {
		return VerifyResult{OK: false, Kind: engerr.RollbackDetected, Reason: "sequence is not predecessor.sequence + 1"}
	}
	expected := manifest.ChainHashOf(rec.PrevChainHash, rec.MerkleRoot, rec.PrevRoot)
	if rec.ChainHash != expected {
		return VerifyResult{OK: false, Kind: engerr.RollbackDetected, Reason: "chain_hash does not recompute"}
	}
	return VerifyResult{OK: true}
}
