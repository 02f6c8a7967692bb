//go:build !gpu

package kernel

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"

	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

// cpuKernel is the default backend: a software model of the lane array,
// run on goroutines instead of GPU threads. Behaviourally it must match a
// GPU backend bit-for-bit, so it implements the exact per-dispatch protocol
// a GPU backend would, just without a device boundary.
type cpuKernel struct {
	params hashparams.Params
	lanes  int
	shards int

	states []chain.State
	starts []chain.State
}

// New constructs the kernel backend selected at build time (CPU software
// lanes by default; build with -tags gpu for the OpenCL backend in
// kernel_gpu.go) and seeds every lane with its own fresh random start,
// exactly as the host must before the first dispatch, so every state stays
// reachable from its start.
func New(cfg Config) (Kernel, error) {
	if cfg.Lanes <= 0 {
		return nil, fmt.Errorf("kernel: lanes must be positive, got %d", cfg.Lanes)
	}

	starts, err := NewFreshStarts(cfg.Params, cfg.Lanes)
	if err != nil {
		return nil, err
	}
	states := make([]chain.State, cfg.Lanes)
	for i, s := range starts {
		states[i] = append(chain.State(nil), s...)
	}

	return &cpuKernel{
		params: cfg.Params,
		lanes:  cfg.Lanes,
		shards: shardCount(),
		states: states,
		starts: starts,
	}, nil
}

// shardCount sizes the goroutine fan-out to the larger of GOMAXPROCS and
// the host's logical core count as detected by klauspost/cpuid/v2 (already
// an indirect dependency of sha256-simd, used here directly).
func shardCount() int {
	n := runtime.GOMAXPROCS(0)
	if cpuid.CPU.LogicalCores > n {
		n = cpuid.CPU.LogicalCores
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (k *cpuKernel) Lanes() int { return k.lanes }

func (k *cpuKernel) Close() error { return nil }

// Dispatch runs `steps` applications of F across every lane, sharded over
// shardCount() goroutines. dp_buffer/dp_count is modeled by freshStarts (the
// host-seeded random starts) plus an atomic
// dpCount counter and a results slice each lane writes its unique claimed
// slot into — the same linearisation a real atomic_fetch_add on a GPU
// would give.
func (k *cpuKernel) Dispatch(steps int, freshStarts []chain.State) (DispatchResult, error) {
	if steps <= 0 {
		return DispatchResult{}, fmt.Errorf("kernel: steps must be positive, got %d", steps)
	}
	m := len(freshStarts)

	var dpCount atomic.Int64
	results := make([]DPPair, m)
	claimed := make([]bool, m)
	var overflow atomic.Int64

	lanesPerShard := (k.lanes + k.shards - 1) / k.shards
	var wg sync.WaitGroup
	for shard := 0; shard < k.shards; shard++ {
		lo := shard * lanesPerShard
		hi := lo + lanesPerShard
		if hi > k.lanes {
			hi = k.lanes
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for lane := lo; lane < hi; lane++ {
				state := k.states[lane]
				start := k.starts[lane]
				for step := 0; step < steps; step++ {
					state = chain.F(k.params, state)
					if !chain.IsDistinguished(k.params, state) {
						continue
					}
					idx := dpCount.Add(1) - 1
					if idx >= int64(m) {
						overflow.Add(1)
						continue
					}
					newStart := freshStarts[idx]
					results[idx] = DPPair{
						Start: append(chain.State(nil), start...),
						DP:    append(chain.State(nil), state...),
					}
					claimed[idx] = true
					start = append(chain.State(nil), newStart...)
					state = append(chain.State(nil), newStart...)
				}
				k.states[lane] = state
				k.starts[lane] = start
			}
		}(lo, hi)
	}
	wg.Wait()

	pairs := make([]DPPair, 0, m)
	for i, ok := range claimed {
		if ok {
			pairs = append(pairs, results[i])
		}
	}
	return DispatchResult{Pairs: pairs, Overflow: int(overflow.Load())}, nil
}
