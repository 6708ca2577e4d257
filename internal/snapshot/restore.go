package snapshot

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/hashutil"
	"github.com/vaultline/backup/internal/manifest"
)

// ErrTargetNotEmpty signals that Restore's target directory already exists
// and is non-empty. The CLI adapter is the only layer that turns this into
// an interactive prompt or an explicit --force flag.
var ErrTargetNotEmpty = errors.New("snapshot: restore target directory is not empty")

func readFileOrMissing(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engerr.Wrap(engerr.ManifestCorrupt, err, "read %s", path)
	}
	return data, nil
}

// Restore verifies first (restore never proceeds on an invalid snapshot),
// then streams every chunk into target/<path>, re-verifying H(bytes) == h
// per chunk as it goes. force bypasses the non-empty-target guard.
func (m *Manager) Restore(id, targetPath string, force bool) error {
	res, err := m.Verify(id)
	if err != nil {
		return err
	}
	if !res.OK {
		return engerr.New(res.Kind, "cannot restore invalid snapshot %s: %s", id, res.Reason)
	}

	if !force {
		empty, err := dirIsEmpty(targetPath)
		if err != nil {
			return engerr.Wrap(engerr.IoError, err, "check restore target")
		}
		if !empty {
			return ErrTargetNotEmpty
		}
	}

	raw, err := m.readManifestBytes(id)
	if err != nil {
		return err
	}
	var man manifest.Manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return engerr.Wrap(engerr.ManifestCorrupt, err, "parse manifest for restore")
	}

	if err := os.MkdirAll(targetPath, 0o755); err != nil {
		return engerr.Wrap(engerr.IoError, err, "create restore target")
	}

	for _, f := range man.Files {
		dest := filepath.Join(targetPath, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return engerr.Wrap(engerr.IoError, err, "create parent directory for %s", f.Path)
		}

		out, err := os.Create(dest)
		if err != nil {
			return engerr.Wrap(engerr.IoError, err, "create restored file %s", dest)
		}
		for _, h := range f.Chunks {
			data, err := m.store.Get(h)
			if err != nil {
				out.Close()
				return err
			}
			if hashutil.H(data) != h {
				out.Close()
				return engerr.New(engerr.ChunkMissing, "chunk %s failed rehash during restore", h)
			}
			if _, err := out.Write(data); err != nil {
				out.Close()
				return engerr.Wrap(engerr.IoError, err, "write restored file %s", dest)
			}
		}
		if err := out.Close(); err != nil {
			return engerr.Wrap(engerr.IoError, err, "close restored file %s", dest)
		}
	}
	return nil
}

func dirIsEmpty(path string) (bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if err != nil {
		return true, nil // io.EOF means empty
	}
	return false, nil
}
