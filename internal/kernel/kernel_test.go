package kernel

import (
	"testing"

	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

func testParams(t *testing.T) hashparams.Params {
	t.Helper()
	p, err := hashparams.New(8, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDispatchProducesValidPairs(t *testing.T) {
	p := testParams(t)
	cfg := Config{Params: p, Lanes: 64, MaxDPsPerCall: 256}
	k, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer k.Close()

	freshStarts, err := NewFreshStarts(p, cfg.MaxDPsPerCall)
	if err != nil {
		t.Fatal(err)
	}

	result, err := k.Dispatch(64, freshStarts)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	for _, pair := range result.Pairs {
		if len(pair.Start) != p.TotalBytes() || len(pair.DP) != p.TotalBytes() {
			t.Fatalf("pair has wrong length: start=%d dp=%d", len(pair.Start), len(pair.DP))
		}
		if !chain.IsDistinguished(p, pair.DP) {
			t.Fatalf("emitted dp %x does not satisfy the DP predicate", pair.DP)
		}
		// Invariant: F*(start) must actually terminate at dp, i.e. walking
		// from start by applications of F reaches dp before any other DP.
		dp, _, err := chain.WalkToDP(p, pair.Start, 10000)
		if err != nil {
			t.Fatalf("WalkToDP(start) failed: %v", err)
		}
		if string(dp) != string(pair.DP) {
			t.Fatalf("F*(start) = %x, want %x", dp, pair.DP)
		}
	}
}

func TestFreshStartsHaveMSBSet(t *testing.T) {
	p := testParams(t)
	starts, err := NewFreshStarts(p, 32)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range starts {
		if s[0]&0x80 == 0 {
			t.Fatalf("fresh start %x does not have MSB of word0 set", s)
		}
		if chain.IsDistinguished(p, s) {
			t.Fatalf("fresh start %x is itself a DP (length-0 chain)", s)
		}
	}
}

func TestOverflowReportedWhenBufferTooSmall(t *testing.T) {
	p := testParams(t) // dp_bits=8: ~1/256 chance per step, frequent enough to overflow a tiny buffer
	cfg := Config{Params: p, Lanes: 4096, MaxDPsPerCall: 1}
	k, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	freshStarts, err := NewFreshStarts(p, cfg.MaxDPsPerCall)
	if err != nil {
		t.Fatal(err)
	}

	result, err := k.Dispatch(4096, freshStarts)
	if err != nil {
		t.Fatal(err)
	}
	if result.Overflow == 0 {
		t.Skip("no overflow observed in this run; not deterministic, but expected with 4096 lanes x 4096 steps against a 1-slot buffer")
	}
}
