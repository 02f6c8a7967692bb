// Package kernel implements the Walker Kernel: W concurrent lanes, each
// repeatedly applying chain.F until it hits a distinguished point, swapping
// onto a fresh start and continuing without host-side coordination. Two
// backends satisfy the same Kernel interface — kernel_cpu.go (default,
// software lanes on goroutines) and kernel_gpu.go (build tag "gpu", a
// cgo/OpenCL dispatch skeleton) — split with a //go:build gpu / !gpu pair.
package kernel

import (
	"crypto/rand"
	"fmt"

	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

// DPPair is an emitted (start, dp) pair: dp is the distinguished point the
// chain starting at start converged to.
type DPPair struct {
	Start chain.State
	DP    chain.State
}

// DispatchResult is what one Dispatch call reports back to the host.
type DispatchResult struct {
	Pairs    []DPPair // pairs written into dp_buffer during this dispatch
	Overflow int      // count of DPs dropped because dp_count exceeded len(dp_buffer)
}

// Kernel is the host-facing contract a backend (CPU or GPU) implements.
// State persists device-side across calls: current_states and start_points
// stay live across dispatches rather than being rebuilt from scratch.
type Kernel interface {
	// Dispatch runs S steps of F across all lanes, using freshStarts (one
	// State per dp_buffer slot, MSB already set by the caller) as the
	// random seed pool lanes steal from when they emit a DP. It returns
	// every (start, dp) pair produced, plus an overflow count if more DPs
	// were found than freshStarts had slots for.
	Dispatch(steps int, freshStarts []chain.State) (DispatchResult, error)

	// Lanes returns W, the number of parallel lanes.
	Lanes() int

	// Close releases any backend resources (GPU buffers, contexts).
	Close() error
}

// Config parameterizes kernel construction, shared by both backends.
type Config struct {
	Params         hashparams.Params
	Lanes          int // W, typ. 2^14
	MaxDPsPerCall  int // M = MAX_DPS_PER_CALL, typ. 1024
}

// DefaultConfig returns typical lane and overflow-buffer sizing.
func DefaultConfig(p hashparams.Params) Config {
	return Config{
		Params:        p,
		Lanes:         1 << 14,
		MaxDPsPerCall: 1024,
	}
}

// NewFreshStarts fills a []chain.State of length n with cryptographically
// random total_bytes-long states, each with the MSB of word 0 forced to 1
// so a freshly-stolen start cannot itself already be a DP. This is the
// host-side "pre-seed dp_buffer with uniformly random bytes before each
// dispatch" step.
func NewFreshStarts(p hashparams.Params, n int) ([]chain.State, error) {
	out := make([]chain.State, n)
	buf := make([]byte, p.TotalBytes())
	for i := range out {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("kernel: reading random seed: %w", err)
		}
		s := make(chain.State, p.TotalBytes())
		copy(s, buf)
		chain.SetFreshStartMSB(s)
		out[i] = s
	}
	return out, nil
}
