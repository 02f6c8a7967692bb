// Command prdp-finalize runs `finalize <start_a_hex> <start_b_hex>`: given
// two colliding starts, it walks both chains to their convergence point and
// prints the collision witness.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/rawblock/prdp-collider/internal/apierr"
	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/finalizer"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatalf("usage: %s <start_a_hex> <start_b_hex>", os.Args[0])
	}
	startAHex, startBHex := os.Args[1], os.Args[2]

	prefixBytes := envInt("PREFIX_BYTES", 8)
	suffixBytes := envInt("SUFFIX_BYTES", 0)
	dpBits := envInt("DP_BITS", 24)

	params, err := hashparams.New(prefixBytes, suffixBytes, dpBits)
	if err != nil {
		log.Fatalf("FATAL: invalid hash parameters: %v", err)
	}

	startA, err := chain.FromHex(params, startAHex)
	if err != nil {
		log.Fatalf("FATAL: start_a: %v", err)
	}
	startB, err := chain.FromHex(params, startBHex)
	if err != nil {
		log.Fatalf("FATAL: start_b: %v", err)
	}

	dp, _, err := chain.WalkToDP(params, startA, 1<<30)
	if err != nil {
		log.Fatalf("FATAL: could not walk start_a to a distinguished point: %v", err)
	}

	witness, err := finalizer.Finalize(params, dp, startA, startB)
	if err != nil {
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) && apiErr.Kind == apierr.KindNoCollision {
			fmt.Println("NoCollision:", apiErr.Status)
			os.Exit(1)
		}
		log.Fatalf("FATAL: finalizer error: %v", err)
	}

	fmt.Printf("Collision found:\n  pred_a = %s\n  pred_b = %s\n  image  = %s\n",
		chain.Hex(witness.PredA), chain.Hex(witness.PredB), chain.Hex(witness.Image))
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("FATAL: %s must be an integer, got %q", key, val)
	}
	return n
}
