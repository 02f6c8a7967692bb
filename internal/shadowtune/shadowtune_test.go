package shadowtune

import (
	"testing"

	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

func TestNewEvaluatorAcceptsDifferentDPBits(t *testing.T) {
	production, err := hashparams.New(8, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	// shadow dp_bits alone must not change prefix/suffix, so this must
	// succeed (same total_bytes, different predicate only).
	if _, err := NewEvaluator(production, 24); err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
}

func TestSummarizeYieldMatchesIsDistinguished(t *testing.T) {
	production, err := hashparams.New(8, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := NewEvaluator(production, 4) // shadow predicate is looser: dp_bits=4
	if err != nil {
		t.Fatal(err)
	}

	states := make([]chain.State, 0, 2000)
	cur := make(chain.State, production.TotalBytes())
	cur[0] = 0x80
	for i := 0; i < 2000; i++ {
		cur = chain.F(production, cur)
		s := make(chain.State, len(cur))
		copy(s, cur)
		states = append(states, s)
	}

	summary := ev.Summarize(states)
	if summary.Samples != 2000 {
		t.Fatalf("unexpected sample count: %d", summary.Samples)
	}
	// A looser predicate (fewer bits) must yield at least as many hits as
	// the stricter production predicate on the same sample.
	if summary.ShadowYield < summary.ProductionYield {
		t.Fatalf("shadow (dp_bits=4) yield %d is less than production (dp_bits=8) yield %d",
			summary.ShadowYield, summary.ProductionYield)
	}
}
