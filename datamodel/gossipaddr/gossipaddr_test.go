package gossipaddr

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestParseAndEquality(t *testing.T) {
	a := MustParse("192.168.1.10:5001")
	b := MustParse("192.168.1.10:5001")
	c := MustParse("192.168.1.10:5002")

	if !a.Equal(b) {
		t.Fatal("identical addresses must be equal")
	}
	if a.Equal(c) {
		t.Fatal("different ports must not be equal")
	}
	if a != b {
		t.Fatal("Addr must be a comparable value type with structural equality")
	}
}

func TestParseRejectsUnspecified(t *testing.T) {
	if _, err := Parse("0.0.0.0:5001"); err == nil {
		t.Fatal("expected unspecified address to be rejected")
	}
	if _, err := Parse("192.168.1.10:0"); err == nil {
		t.Fatal("expected zero port to be rejected")
	}
	if _, err := Parse("garbage"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCompareOrdering(t *testing.T) {
	a := MustParse("10.0.0.1:5001")
	b := MustParse("10.0.0.2:5001")
	c := MustParse("10.0.0.2:5002")

	if !(a.Compare(b) < 0 && b.Compare(c) < 0 && a.Compare(c) < 0) {
		t.Fatal("Compare must order by ip, then port")
	}
	if a.Compare(a) != 0 {
		t.Fatal("Compare of an address with itself must be 0")
	}
}

func TestCborRoundtrip(t *testing.T) {
	a := MustParse("[2001:db8::1]:9000")

	enc, err := cbor.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}

	var a2 Addr
	if err := cbor.Unmarshal(enc, &a2); err != nil {
		t.Fatal(err)
	}
	if !a.Equal(a2) {
		t.Fatalf("addresses do not match after roundtrip: %s != %s", a.String(), a2.String())
	}
}
