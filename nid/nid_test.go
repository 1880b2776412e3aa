package nid

import (
	"crypto/sha256"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestStringRoundtrip(t *testing.T) {
	id := FromSeed([]byte("node-a"))

	parsed, err := FromString(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if !id.Equal(parsed) {
		t.Fatalf("IDs do not match: %s != %s", id.String(), parsed.String())
	}
}

func TestFromStringRejectsGarbage(t *testing.T) {
	if _, err := FromString("not-base32!"); err == nil {
		t.Fatal("expected an error for a non-base32 string")
	}

	// Valid Base32 but wrong length
	if _, err := FromString("MFRGG==="); err == nil {
		t.Fatal("expected an error for a truncated ID")
	}
}

func TestCborRoundtrip(t *testing.T) {
	id := FromSeed([]byte("node-b"))

	enc, err := cbor.Marshal(id)
	if err != nil {
		t.Fatal(err)
	}

	var id2 ID
	if err := cbor.Unmarshal(enc, &id2); err != nil {
		t.Fatal(err)
	}
	if !id.Equal(&id2) {
		t.Fatalf("IDs do not match after CBOR roundtrip: %s != %s", id.String(), id2.String())
	}
}

func TestCompareIsTotalOverHashBytes(t *testing.T) {
	a := Encode(sha256.Sum256([]byte("a")))
	b := Encode(sha256.Sum256([]byte("b")))

	if a.Compare(a) != 0 {
		t.Fatal("Compare of an ID with itself must be 0")
	}
	if a.Compare(b) == 0 {
		t.Fatal("distinct IDs must not compare equal")
	}
	if a.Compare(b)+b.Compare(a) != 0 {
		t.Fatal("Compare must be antisymmetric")
	}
	if a.Less(b) == b.Less(a) {
		t.Fatal("exactly one of a<b, b<a must hold")
	}
}

func TestMapKeyEquality(t *testing.T) {
	a1 := FromSeed([]byte("same"))
	a2 := FromSeed([]byte("same"))

	m := map[ID]int{}
	m[*a1] = 1
	m[*a2] = 2
	if len(m) != 1 {
		t.Fatalf("equal IDs must collapse to one map key, got %d", len(m))
	}
}

func TestRandomIsUnique(t *testing.T) {
	a, err := Random()
	if err != nil {
		t.Fatal(err)
	}
	b, err := Random()
	if err != nil {
		t.Fatal(err)
	}
	if a.Equal(b) {
		t.Fatal("two random IDs collided")
	}
}
