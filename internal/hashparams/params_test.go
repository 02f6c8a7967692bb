package hashparams

import "testing"

// TestDPMasks pins the reference masks used by the DP predicate.
func TestDPMasks(t *testing.T) {
	cases := []struct {
		dpBits        int
		mask0, mask1  uint32
	}{
		{0, 0x00000000, 0x00000000},
		{1, 0x80000000, 0x00000000},
		{15, 0xFFFE0000, 0x00000000},
		{16, 0xFFFF0000, 0x00000000},
		{32, 0xFFFFFFFF, 0x00000000},
		{33, 0xFFFFFFFF, 0x80000000},
		{48, 0xFFFFFFFF, 0xFFFF0000},
	}
	for _, tc := range cases {
		m0, m1 := dpMasks(tc.dpBits)
		if m0 != tc.mask0 || m1 != tc.mask1 {
			t.Errorf("dpMasks(%d) = (%#x, %#x), want (%#x, %#x)", tc.dpBits, m0, m1, tc.mask0, tc.mask1)
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(8, 0, 16); err != nil {
		t.Fatalf("expected valid params, got %v", err)
	}
	if _, err := New(0, 0, 16); err == nil {
		t.Fatalf("expected error for prefix_bytes=0")
	}
	if _, err := New(1, 1, 16); err == nil {
		t.Fatalf("expected error for prefix+suffix below 5")
	}
	if _, err := New(20, 20, 16); err == nil {
		t.Fatalf("expected error for prefix+suffix above 27")
	}
}

func TestIsDistinguished(t *testing.T) {
	p, err := New(8, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsDistinguished(0x0000ABCD, 0) {
		t.Errorf("expected word0=0x0000ABCD to satisfy dp_bits=16")
	}
	if p.IsDistinguished(0x0001ABCD, 0) {
		t.Errorf("expected word0=0x0001ABCD to fail dp_bits=16")
	}
}
