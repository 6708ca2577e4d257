package hashutil

import "testing"

func TestEmptyHexMatchesH(t *testing.T) {
	if got := HString(""); got != EmptyHex {
		t.Fatalf("HString(\"\") = %s, want %s", got, EmptyHex)
	}
}

func TestZeroHexLength(t *testing.T) {
	if len(ZeroHex) != 64 {
		t.Fatalf("ZeroHex has length %d, want 64", len(ZeroHex))
	}
	for _, c := range ZeroHex {
		if c != '0' {
			t.Fatalf("ZeroHex contains non-zero rune %q", c)
		}
	}
}

func TestHasherMatchesH(t *testing.T) {
	data := []byte("the quick brown fox")
	h := NewHasher()
	if _, err := h.Write(data[:5]); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Write(data[5:]); err != nil {
		t.Fatal(err)
	}
	if got, want := h.SumHex(), H(data); got != want {
		t.Fatalf("streamed hash = %s, want %s", got, want)
	}
}

func TestCanonicalIsCompactAndStable(t *testing.T) {
	type inner struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	v := inner{B: 2, A: 1}
	b, err := Canonical(v)
	if err != nil {
		t.Fatal(err)
	}
	// Field declaration order (B, A) drives output order: this is the documented
	// contract, not alphabetical-by-accident, so this test pins it explicitly.
	if string(b) != `{"b":2,"a":1}` {
		t.Fatalf("Canonical = %s", b)
	}
}
