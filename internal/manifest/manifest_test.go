package manifest

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/vaultline/backup/internal/hashutil"
)

func TestEmptyManifestMerkleRoot(t *testing.T) {
	m := &Manifest{Version: Version, SnapshotID: "snap_1_aaaaaaaa", SourcePath: "/src", CreatedAt: "2026-01-01T00:00:00Z"}
	m.SortFiles()
	if got := m.MerkleRoot(); got != hashutil.EmptyHex {
		t.Fatalf("empty manifest root = %s, want %s", got, hashutil.EmptyHex)
	}
}

func TestPermutationYieldsSameCanonicalAndRoot(t *testing.T) {
	m1 := &Manifest{
		Version: Version, SnapshotID: "s", SourcePath: "/src", CreatedAt: "t",
		Files: []FileEntry{
			{Path: "b.txt", Chunks: []string{"h2"}, Size: 2},
			{Path: "a.txt", Chunks: []string{"h1"}, Size: 1},
		},
	}
	m2 := &Manifest{
		Version: Version, SnapshotID: "s", SourcePath: "/src", CreatedAt: "t",
		Files: []FileEntry{
			{Path: "a.txt", Chunks: []string{"h1"}, Size: 1},
			{Path: "b.txt", Chunks: []string{"h2"}, Size: 2},
		},
	}
	m1.SortFiles()
	m2.SortFiles()

	c1, _ := m1.Canonical()
	c2, _ := m2.Canonical()
	if string(c1) != string(c2) {
		t.Fatalf("canonical encodings differ after sort:\n%s\n%s", c1, c2)
	}
	if m1.MerkleRoot() != m2.MerkleRoot() {
		t.Fatalf("merkle roots differ after sort")
	}
}

func TestCanonicalKeyOrderMatchesSpecTags(t *testing.T) {
	m := &Manifest{Version: 1, SnapshotID: "s", SourcePath: "/p", CreatedAt: "t", Label: "l"}
	m.SortFiles()
	b, err := m.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	want := []string{"created_at", "files", "label", "snapshot_id", "source_path", "version"}
	for _, k := range want {
		if _, ok := raw[k]; !ok {
			t.Fatalf("canonical manifest missing key %q: %s", k, b)
		}
	}
	prev := -1
	for _, k := range want {
		pos := bytes.Index(b, []byte(`"`+k+`":`))
		if pos <= prev {
			t.Fatalf("canonical manifest key %q out of lexicographic order: %s", k, b)
		}
		prev = pos
	}
}

func TestChainHashFormula(t *testing.T) {
	got := ChainHashOf(hashutil.ZeroHex, "root", hashutil.ZeroHex)
	want := hashutil.HString(hashutil.ZeroHex + "root" + hashutil.ZeroHex)
	if got != want {
		t.Fatalf("ChainHashOf = %s, want %s", got, want)
	}
}
