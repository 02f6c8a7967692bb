// Package shadowtune observes what DP yield a candidate dp_bits value
// would have produced against the same walked chains the production
// dp_bits is already mining, without ever changing the live configuration.
// This is explicitly NOT an automatic parameter auto-tuner — it only
// reports a comparison for an operator to act on manually.
//
// A production-function/shadow-function pair is evaluated side by side on
// the same input, with divergence logged rather than acted upon.
package shadowtune

import (
	"log"

	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

// Evaluation compares how a candidate dp_bits would have classified a
// walked state against the production dp_bits.
type Evaluation struct {
	State                   chain.State
	ProductionDistinguished bool
	ShadowDistinguished     bool
}

// Evaluator holds the production params (what the kernel is actually
// mining against) and a shadow params used only for observation.
type Evaluator struct {
	production hashparams.Params
	shadow     hashparams.Params
}

// NewEvaluator builds an Evaluator. The shadow params reuse production's
// prefix_bytes/suffix_bytes and differ only in dp_bits (shadowDPBits),
// since changing total_bytes would change the chain itself, not just the
// DP predicate.
func NewEvaluator(production hashparams.Params, shadowDPBits int) (*Evaluator, error) {
	shadow, err := hashparams.New(production.PrefixBytes, production.SuffixBytes, shadowDPBits)
	if err != nil {
		return nil, err
	}
	return &Evaluator{production: production, shadow: shadow}, nil
}

// Observe classifies a single walked state under both the production and
// shadow dp_bits, logging whenever the shadow would have emitted a DP that
// production did not (or vice versa).
func (e *Evaluator) Observe(s chain.State) Evaluation {
	eval := Evaluation{
		State:                   s,
		ProductionDistinguished: chain.IsDistinguished(e.production, s),
		ShadowDistinguished:     chain.IsDistinguished(e.shadow, s),
	}
	if eval.ProductionDistinguished != eval.ShadowDistinguished {
		log.Printf("[SHADOWTUNE] divergence at %s: production=%v shadow=%v",
			chain.Hex(s), eval.ProductionDistinguished, eval.ShadowDistinguished)
	}
	return eval
}

// YieldComparison summarizes how many states each dp_bits would have
// flagged as distinguished, out of the same sample.
type YieldComparison struct {
	Samples         int
	ProductionYield int
	ShadowYield     int
	ProductionRate  float64
	ShadowRate      float64
}

// Summarize walks a batch of previously-observed states and reports the
// aggregate yield under each dp_bits, for an operator deciding whether to
// change the live dp_bits manually.
func (e *Evaluator) Summarize(states []chain.State) YieldComparison {
	var summary YieldComparison
	summary.Samples = len(states)
	for _, s := range states {
		eval := e.Observe(s)
		if eval.ProductionDistinguished {
			summary.ProductionYield++
		}
		if eval.ShadowDistinguished {
			summary.ShadowYield++
		}
	}
	if summary.Samples > 0 {
		summary.ProductionRate = float64(summary.ProductionYield) / float64(summary.Samples)
		summary.ShadowRate = float64(summary.ShadowYield) / float64(summary.Samples)
	}
	return summary
}
