package snapshot

import (
	"io"
	"os"
	"path/filepath"

	"github.com/vaultline/backup/internal/casstore"
	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/manifest"
)

// chunkAndStore streams path in casstore.ChunkSize windows, calling store.Put
// per window, and returns the ordered chunk hashes plus total byte count.
// Grounded on original_source/src/utils.py's read_file_in_chunks generator.
func chunkAndStore(store *casstore.Store, path string) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, engerr.Wrap(engerr.IoError, err, "open %s for chunking", path)
	}
	defer f.Close()

	hashes := []string{}
	var total int64
	buf := make([]byte, casstore.ChunkSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			hash, putErr := store.Put(buf[:n])
			if putErr != nil {
				return nil, 0, putErr
			}
			hashes = append(hashes, hash)
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, 0, engerr.Wrap(engerr.IoError, err, "read %s", path)
		}
	}
	return hashes, total, nil
}

// walkSource walks sourcePath, chunking every regular file it finds and
// returning file entries keyed by forward-slash-normalized relative path, in
// filepath.Walk order (the caller sorts them with Manifest.SortFiles).
// Symbolic links and special files (devices, sockets, named pipes) are
// skipped: they are not portable content to chunk and hash.
func walkSource(store *casstore.Store, sourcePath string) ([]manifest.FileEntry, error) {
	entries := []manifest.FileEntry{}

	err := filepath.Walk(sourcePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return engerr.Wrap(engerr.IoError, err, "walk %s", path)
		}
		if info.IsDir() {
			return nil
		}
		// filepath.Walk's FileInfo comes from Lstat, so symlinks are
		// reported with ModeSymlink and never followed into target
		// content here.
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(sourcePath, path)
		if err != nil {
			return engerr.Wrap(engerr.IoError, err, "relativize %s", path)
		}
		chunks, size, err := chunkAndStore(store, path)
		if err != nil {
			return err
		}
		entries = append(entries, manifest.FileEntry{
			Path:   filepath.ToSlash(rel),
			Chunks: chunks,
			Size:   size,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
