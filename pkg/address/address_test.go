package address

import (
	"testing"

	"github.com/google/uuid"
)

func TestHexRoundTrip(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := FromHex(a.String())
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if got != a {
		t.Fatalf("round trip mismatch: got %s want %s", got, a)
	}
}

func TestFromHexCaseInsensitive(t *testing.T) {
	a := MustNew()
	upper := ""
	for _, r := range a.String() {
		if r >= 'a' && r <= 'f' {
			r = r - 'a' + 'A'
		}
		upper += string(r)
	}
	got, err := FromHex(upper)
	if err != nil {
		t.Fatalf("FromHex(upper): %v", err)
	}
	if got != a {
		t.Fatalf("case-insensitive parse mismatch")
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, 10)); err == nil {
		t.Fatal("expected error for short input")
	}
	if _, err := FromBytes(make([]byte, 64)); err == nil {
		t.Fatal("expected error for long input")
	}
}

func TestFromUUIDZeroPads(t *testing.T) {
	u := uuid.New()
	a := FromUUID(u)
	if string(a[:16]) != string(u[:]) {
		t.Fatal("uuid bytes not placed in first 16 bytes")
	}
	for _, b := range a[16:] {
		if b != 0 {
			t.Fatal("expected zero padding after uuid bytes")
		}
	}
}

func TestEquality(t *testing.T) {
	a := MustNew()
	b := a
	if !a.Equal(b) {
		t.Fatal("identical addresses must be equal")
	}
	c := MustNew()
	if a.Equal(c) {
		t.Fatal("independently generated addresses collided (or Equal is broken)")
	}
}
