package hasher

import (
	"encoding/hex"
	"testing"
)

func TestHashBytes(t *testing.T) {
	got := HashBytes([]byte("hello"))
	want, _ := hex.DecodeString("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	if hex.EncodeToString(got[:]) != hex.EncodeToString(want) {
		t.Errorf("HashBytes(hello) = %x, want %x", got, want)
	}
}

func TestHashPairDeterministic(t *testing.T) {
	a := HashBytes([]byte("a"))
	b := HashBytes([]byte("b"))
	h1 := HashPair(a, b)
	h2 := HashPair(a, b)
	if h1 != h2 {
		t.Fatal("HashPair is not deterministic")
	}
	if HashPair(a, b) == HashPair(b, a) {
		t.Fatal("HashPair must not be order-independent")
	}
}

func TestEqual(t *testing.T) {
	a := HashBytes([]byte("x"))
	b := HashBytes([]byte("x"))
	c := HashBytes([]byte("y"))
	if !Equal(a, b) {
		t.Error("equal hashes reported unequal")
	}
	if Equal(a, c) {
		t.Error("unequal hashes reported equal")
	}
}
