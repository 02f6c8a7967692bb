// Package chain implements the iteration function F at the heart of the
// collision search: render a State as ASCII, SHA-256 it, and truncate the
// digest back down to a new State. Every component (kernel, server,
// finalizer) that walks a chain must call exactly this F, or chains computed
// by one are meaningless to the others.
package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	sha256simd "github.com/minio/sha256-simd"

	"github.com/rawblock/prdp-collider/internal/hashparams"
)

// State is an opaque total_bytes-long byte string, the per-lane walk state.
type State []byte

// shaPool recycles SHA-256 hashers across F invocations, grounded on
// filecoin-project/go-fil-commp-hashhash's shaPool: sha256-simd hashers are
// not safe to share across goroutines, but are cheap to pool per goroutine.
var shaPool = sync.Pool{New: func() interface{} { return sha256simd.New() }}

// nibbleToASCII maps a nibble (0-15) to its ASCII rendering in
// ['A'..'P'], i.e. nibble + 0x41.
func nibbleToASCII(n byte) byte { return n + 0x41 }

// RenderASCII renders a State as ascii_bytes ASCII characters: each byte of
// state maps to (high_nibble+0x41, low_nibble+0x41), producing characters in
// ['A'..'P']. The output length is fixed (2*len(s)) regardless of content,
// so SHA-256 padding is data-independent.
func RenderASCII(s State) []byte {
	out := make([]byte, len(s)*2)
	for i, b := range s {
		out[2*i] = nibbleToASCII(b >> 4)
		out[2*i+1] = nibbleToASCII(b & 0x0F)
	}
	return out
}

// F applies the iteration function once: render s as ASCII, SHA-256 it, and
// truncate the digest to the next State per p's prefix/suffix split.
//
// ascii_bytes is guaranteed <= 54 by hashparams.New's prefix+suffix <= 27
// invariant, so the rendered message always fits a single 512-bit SHA-256
// block; F never needs to think about multi-block padding.
func F(p hashparams.Params, s State) State {
	ascii := RenderASCII(s)

	h := shaPool.Get().(hash.Hash)
	h.Reset()
	h.Write(ascii)
	var digest [32]byte
	h.Sum(digest[:0])
	shaPool.Put(h)

	return truncate(p, digest)
}

// truncate keeps the first prefix_bytes and last suffix_bytes of a 32-byte
// digest, concatenated in that order, as a total_bytes-long State. Words
// gives its big-endian 32-bit word view, zero-padding the tail word if
// total_bytes is not a multiple of 4.
func truncate(p hashparams.Params, digest [32]byte) State {
	total := p.TotalBytes()
	out := make(State, total)
	copy(out[:p.PrefixBytes], digest[:p.PrefixBytes])
	if p.SuffixBytes > 0 {
		copy(out[p.PrefixBytes:], digest[32-p.SuffixBytes:])
	}
	return out
}

// Words unpacks a State into its big-endian 32-bit words, zero-padding the
// tail word if total_bytes is not a multiple of 4.
func Words(p hashparams.Params, s State) []uint32 {
	n := p.NumWords()
	words := make([]uint32, n)
	var buf [4]byte
	for i := 0; i < n; i++ {
		buf = [4]byte{}
		start := i * 4
		end := start + 4
		if end > len(s) {
			end = len(s)
		}
		copy(buf[:end-start], s[start:end])
		words[i] = binary.BigEndian.Uint32(buf[:])
	}
	return words
}

// Word01 returns the first two big-endian 32-bit words of s, the only two
// words the DP predicate inspects. A total_bytes >= 5 state (the minimum
// hashparams.New allows) always has at least two words.
func Word01(p hashparams.Params, s State) (uint32, uint32) {
	words := Words(p, s)
	var w0, w1 uint32
	if len(words) > 0 {
		w0 = words[0]
	}
	if len(words) > 1 {
		w1 = words[1]
	}
	return w0, w1
}

// IsDistinguished reports whether s is a distinguished point under p.
func IsDistinguished(p hashparams.Params, s State) bool {
	w0, w1 := Word01(p, s)
	return p.IsDistinguished(w0, w1)
}

// Hex lowercase-encodes a State.
func Hex(s State) string { return hex.EncodeToString(s) }

// FromHex decodes a case-insensitive hex string into a State, verifying it
// decodes to exactly total_bytes bytes.
func FromHex(p hashparams.Params, s string) (State, error) {
	b, err := hex.DecodeString(normalizeHex(s))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid hex: %w", err)
	}
	if len(b) != p.TotalBytes() {
		return nil, fmt.Errorf("chain: decoded length %d, want %d", len(b), p.TotalBytes())
	}
	return State(b), nil
}

// normalizeHex lowercases a hex string so hex.DecodeString accepts either
// case; hex in submissions is lowercase conventionally but must be accepted
// case-insensitively.
func normalizeHex(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'F' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// SetFreshStartMSB sets the MSB of word 0 so a freshly-stolen start is not
// itself already a DP, which would create a length-0 chain.
func SetFreshStartMSB(s State) {
	if len(s) > 0 {
		s[0] |= 0x80
	}
}

// WalkToDP iterates F from start until a distinguished point is reached,
// returning the DP state and the number of F applications taken. Bounded by
// maxSteps as a safety valve for callers that must not hang on malformed
// input (e.g. the finalizer bounding pathological chains).
func WalkToDP(p hashparams.Params, start State, maxSteps int) (State, int, error) {
	cur := append(State(nil), start...)
	for steps := 0; steps < maxSteps; steps++ {
		cur = F(p, cur)
		if IsDistinguished(p, cur) {
			return cur, steps + 1, nil
		}
	}
	return nil, 0, fmt.Errorf("chain: no distinguished point found within %d steps", maxSteps)
}
