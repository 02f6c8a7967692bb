package chain

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/rawblock/prdp-collider/internal/hashparams"
)

func mustParams(t *testing.T, prefix, suffix, dpBits int) hashparams.Params {
	t.Helper()
	p, err := hashparams.New(prefix, suffix, dpBits)
	if err != nil {
		t.Fatalf("hashparams.New: %v", err)
	}
	return p
}

// TestRenderASCIIAlphabet checks every nibble maps into ['A'..'P'].
func TestRenderASCIIAlphabet(t *testing.T) {
	s := State{0x00, 0x0F, 0xF0, 0xFF}
	ascii := RenderASCII(s)
	want := []byte{'A', 'A', 'A', 'P', 'P', 'A', 'P', 'P'}
	if string(ascii) != string(want) {
		t.Fatalf("RenderASCII = %q, want %q", ascii, want)
	}
	for _, c := range ascii {
		if c < 'A' || c > 'P' {
			t.Fatalf("character %q out of ['A'..'P']", c)
		}
	}
}

// TestFDeterminism pins a golden vector: starting from the 8-byte seed
// "CDPMLBAI" (big-endian ASCII bytes reinterpreted as an opaque 8-byte
// state), 10 applications of F must land on a specific, hardcoded state —
// not merely agree with a second in-process run of the same code, which
// would pass even under a self-consistent but wrong implementation (e.g.
// swapped endianness or truncation order).
func TestFDeterminism(t *testing.T) {
	p := mustParams(t, 8, 0, 16)

	start := make(State, 8)
	binary.BigEndian.PutUint64(start, 0x4443504d4c424149)

	cur := start
	for i := 0; i < 10; i++ {
		cur = F(p, cur)
	}

	const want = "53ed248c8e97e6c3"
	if Hex(cur) != want {
		t.Fatalf("state_10 = %s, want %s", Hex(cur), want)
	}
}

// TestPrefixSuffixOverlap checks that prefix-only and prefix+suffix
// configurations agree on the overlapping bytes, both being byte-exact
// truncations of the same 32-byte digest.
func TestPrefixSuffixOverlap(t *testing.T) {
	pPrefixOnly := mustParams(t, 12, 0, 0)
	pWithSuffix := mustParams(t, 8, 4, 0)

	// Both configurations share total_bytes=12, so the same start is a
	// valid input to F under either config.
	start := State{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}

	n1 := F(pPrefixOnly, start)
	n2 := F(pWithSuffix, start)

	if string(n1[:8]) != string(n2[:8]) {
		t.Fatalf("prefix bytes diverge: %x != %x", n1[:8], n2[:8])
	}
}

func TestWord01AndDPPredicate(t *testing.T) {
	p := mustParams(t, 8, 0, 16)
	s := State{0x00, 0x00, 0xAB, 0xCD, 0, 0, 0, 0}
	w0, w1 := Word01(p, s)
	if w0 != 0x0000ABCD || w1 != 0 {
		t.Fatalf("Word01 = (%#x, %#x)", w0, w1)
	}
	if !IsDistinguished(p, s) {
		t.Fatalf("expected state to be a DP at dp_bits=16")
	}
}

func TestFromHexCaseInsensitiveAndLength(t *testing.T) {
	p := mustParams(t, 8, 0, 16)
	if _, err := FromHex(p, "AABBCCDDEEFF0011"); err != nil {
		t.Fatalf("uppercase hex rejected: %v", err)
	}
	if _, err := FromHex(p, "aabbccddeeff0011"); err != nil {
		t.Fatalf("lowercase hex rejected: %v", err)
	}
	if _, err := FromHex(p, "zz"); err == nil {
		t.Fatalf("expected BadHashLength-style error for short/invalid hex")
	}
}

// TestDPFractionStatistical verifies that, for random states, the fraction
// satisfying the DP predicate is 2^-dp_bits within a generous statistical
// tolerance.
func TestDPFractionStatistical(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical sampling skipped in -short mode")
	}
	p := mustParams(t, 8, 0, 8)
	const n = 200000
	cur := make(State, 8)
	hits := 0
	for i := 0; i < n; i++ {
		cur = F(p, cur)
		if IsDistinguished(p, cur) {
			hits++
		}
	}
	got := float64(hits) / float64(n)
	want := 1.0 / 256.0
	sigma := math.Sqrt(want * (1 - want) / float64(n))
	if got < want-5*sigma || got > want+5*sigma {
		t.Fatalf("DP fraction %.6f far from expected %.6f (+/- %.6f)", got, want, 5*sigma)
	}
}
