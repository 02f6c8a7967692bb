// Command prdp-mine is the worker CLI (`mine <user> <token>`): it runs
// the walker kernel host pipeline and submits distinguished points to a
// collision server. Set SHADOW_DP_BITS to also log a periodic comparison
// of what a candidate dp_bits would have yielded against the same DPs,
// without changing what's actually mined.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rawblock/prdp-collider/internal/hashparams"
	"github.com/rawblock/prdp-collider/internal/kernel"
	"github.com/rawblock/prdp-collider/internal/worker"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatalf("usage: %s <user> <token>", os.Args[0])
	}
	username, token := os.Args[1], os.Args[2]

	serverURL := getEnvOrDefault("SERVER_URL", "http://localhost:8080")
	prefixBytes := envInt("PREFIX_BYTES", 8)
	suffixBytes := envInt("SUFFIX_BYTES", 0)
	dpBits := envInt("DP_BITS", 24)

	params, err := hashparams.New(prefixBytes, suffixBytes, dpBits)
	if err != nil {
		log.Fatalf("FATAL: invalid hash parameters: %v", err)
	}

	kernelCfg := kernel.DefaultConfig(params)
	k, err := kernel.New(kernelCfg)
	if err != nil {
		log.Fatalf("FATAL: kernel init failed: %v", err)
	}
	defer k.Close()

	workerCfg := worker.DefaultConfig(params)
	workerCfg.ShadowDPBits = envInt("SHADOW_DP_BITS", 0)

	client := worker.NewClient(serverURL, username, token)
	dispatcher, err := worker.NewDispatcher(k, client, workerCfg)
	if err != nil {
		log.Fatalf("FATAL: dispatcher init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("prdp-mine starting: user=%s server=%s params=%s", username, serverURL, params.String())
	if err := dispatcher.Run(ctx); err != nil {
		log.Fatalf("FATAL: dispatcher exited: %v", err)
	}
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
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
