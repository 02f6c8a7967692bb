// Package finalizer resolves a reported pre-collision (dp, start_a,
// start_b): it walks both chains back to their point of convergence and
// emits the two distinct predecessor states whose F-images coincide — the
// actual collision witness.
//
// The finalizer is deterministic, single-threaded, and bounded by
// max(len_a, len_b) applications of F: no shared state, no suspension,
// trivially cancellable by the caller.
//
// Built on internal/chain's F/WalkToDP for the shared iteration function,
// in the style of a single deterministic forward pass with an explicit
// step budget, adapted to the finalizer's lockstep equal-distance walk.
package finalizer

import (
	"fmt"

	"github.com/rawblock/prdp-collider/internal/apierr"
	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

// Witness is the emitted collision: two distinct total_bytes-byte states
// whose F-images coincide.
type Witness struct {
	PredA, PredB chain.State
	Image        chain.State // F(PredA) == F(PredB)
}

// maxChainSteps bounds the chain-length walk so a degenerate (non-DP,
// non-converging) input cannot hang the finalizer forever.
const maxChainSteps = 1 << 24

// Finalize resolves the pre-collision (dp, startA, startB) into a witness.
// It returns an *apierr.Error of KindNoCollision if startA == startB
// (degenerate) or if the two chains turn out to have merged before
// diverging (robin-hood case).
func Finalize(p hashparams.Params, dp, startA, startB chain.State) (Witness, error) {
	if string(startA) == string(startB) {
		return Witness{}, apierr.New(apierr.KindNoCollision, "no collision: degenerate starts", nil)
	}

	lenA, err := chainLength(p, startA, dp)
	if err != nil {
		return Witness{}, fmt.Errorf("finalizer: chain length for start_a: %w", err)
	}
	lenB, err := chainLength(p, startB, dp)
	if err != nil {
		return Witness{}, fmt.Errorf("finalizer: chain length for start_b: %w", err)
	}

	curA, curB := startA, startB
	// Advance the longer chain so both are equidistant from dp.
	for lenA > lenB {
		curA = chain.F(p, curA)
		lenA--
	}
	for lenB > lenA {
		curB = chain.F(p, curB)
		lenB--
	}

	var prevA, prevB chain.State
	for i := 0; i < lenA; i++ {
		prevA, prevB = curA, curB
		curA = chain.F(p, curA)
		curB = chain.F(p, curB)
		if string(curA) == string(curB) {
			if string(prevA) == string(prevB) {
				// Chains merged earlier than dp: both starts were
				// effectively on the same chain all along (robin-hood
				// case).
				return Witness{}, apierr.New(apierr.KindNoCollision, "no collision: chains merged before the reported dp", nil)
			}
			return Witness{
				PredA: prevA,
				PredB: prevB,
				Image: curA,
			}, nil
		}
	}

	return Witness{}, apierr.New(apierr.KindNoCollision, "no collision: chains never converged before reaching dp", nil)
}

// chainLength counts the F applications from start until a state equal to
// target is reached, bounded by maxChainSteps.
func chainLength(p hashparams.Params, start, target chain.State) (int, error) {
	cur := start
	for i := 0; i < maxChainSteps; i++ {
		if string(cur) == string(target) {
			return i, nil
		}
		cur = chain.F(p, cur)
	}
	return 0, fmt.Errorf("chain did not reach target within %d steps", maxChainSteps)
}
