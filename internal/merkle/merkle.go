// Package merkle builds the per-manifest Merkle root that attests a
// snapshot's file list, grounded on the leaf/tree-reduction algorithm of the
// original engine's merkle.py but operating on hex-encoded SHA-256 digests
// throughout, as hashutil.H produces.
package merkle

import (
	"strings"

	"github.com/vaultline/backup/internal/hashutil"
)

// LeafHash computes H(path || "|" || join(chunks, ",")) for one file entry.
func LeafHash(path string, chunks []string) string {
	return hashutil.HString(path + "|" + strings.Join(chunks, ","))
}

// Root performs the binary pairwise reduction over leaf hashes until one
// value remains. An empty leaf set yields H("") per the pinned empty-manifest
// vector. Odd levels duplicate the last element before pairing.
func Root(leaves []string) string {
	if len(leaves) == 0 {
		return hashutil.EmptyHex
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashutil.HString(level[i]+level[i+1]))
		}
		level = next
	}
	return level[0]
}

// FileChunks is the minimal shape Root's caller needs from a manifest file
// entry: just enough to compute a leaf hash without importing the manifest
// package (avoids a dependency cycle, since manifest imports merkle).
type FileChunks struct {
	Path   string
	Chunks []string
}

// RootFromFiles computes leaf hashes from file entries, in the order given —
// callers must pass files already sorted by path (the manifest's canonical
// order), since Merkle root is sensitive to leaf order.
func RootFromFiles(files []FileChunks) string {
	leaves := make([]string, len(files))
	for i, f := range files {
		leaves[i] = LeafHash(f.Path, f.Chunks)
	}
	return Root(leaves)
}
