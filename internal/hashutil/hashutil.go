// Package hashutil provides the engine's single cryptographic digest
// primitive and its canonical byte encoding for structured values.
package hashutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
)

// Size is the digest length in bytes (SHA-256, 256 bits).
const Size = sha256.Size

// ZeroHex is the all-zero digest used as the genesis prev_root / prev_chain_hash sentinel.
const ZeroHex = "0000000000000000000000000000000000000000000000000000000000000000"

// EmptyHex is H("") — the SHA-256 digest of zero bytes, pinned by the empty-manifest
// Merkle root test vector.
const EmptyHex = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// H returns the lowercase-hex SHA-256 digest of data.
func H(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HString is a convenience wrapper over H for string input.
func HString(s string) string {
	return H([]byte(s))
}

// Hasher streams bytes into a running SHA-256 digest, so a large input never
// needs to be buffered whole.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a ready-to-write streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Write implements io.Writer.
func (hs *Hasher) Write(p []byte) (int, error) {
	return hs.h.Write(p)
}

// SumHex returns the digest accumulated so far as lowercase hex.
func (hs *Hasher) SumHex() string {
	return hex.EncodeToString(hs.h.Sum(nil))
}

// HashReader hashes an entire stream and returns the lowercase-hex digest.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashutil: read for hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical encodes v as compact JSON with HTML-escaping disabled and no
// trailing newline. It relies on a contract enforced by every type in this
// module that has an on-disk canonical form: Go struct fields are declared
// in the lexicographic order of their `json` tag names, so encoding/json's
// field-declaration-order output already satisfies "keys sorted
// lexicographically at every level" without a recursive re-encoder.
func Canonical(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("hashutil: canonical encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalHash returns manifest_hash-style H(CAN(v)).
func CanonicalHash(v interface{}) (string, []byte, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", nil, err
	}
	return H(b), b, nil
}
