// Command prdpd is the collision server. It takes no command-line flags:
// the listen address and database come from the HOST (default 0.0.0.0),
// PORT (default 8080) and DATABASE_URL environment variables. It validates submitted distinguished points against the configured
// HashParams, persists them, and detects pre-collisions for the finalizer
// to resolve offline. `prdpd reconcile` instead runs a one-shot
// reconciliation scan over the stored collisions table and exits.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rawblock/prdp-collider/internal/api"
	"github.com/rawblock/prdp-collider/internal/db"
	"github.com/rawblock/prdp-collider/internal/hashparams"
	"github.com/rawblock/prdp-collider/internal/reconcile"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "reconcile" {
		runReconcile()
		return
	}
	runServer()
}

func runServer() {
	log.Println("Starting prdp collision server...")

	dbURL := requireEnv("DATABASE_URL")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := db.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("FATAL: schema init failed: %v", err)
	}

	params := loadParams()
	log.Printf("Hash parameters: %s", params.String())

	wsHub := api.NewHub()
	go wsHub.Run()

	blocklist := api.NewBlocklist(10, 15*time.Minute)
	handler := api.NewHandler(store, wsHub, blocklist, params)
	router := api.SetupRouter(handler)

	host := getEnvOrDefault("HOST", "0.0.0.0")
	port := getEnvOrDefault("PORT", "8080")

	log.Printf("prdp collision server listening on %s:%s", host, port)
	if err := router.Run(host + ":" + port); err != nil {
		log.Fatalf("FATAL: server exited: %v", err)
	}
}

// runReconcile is the operator-triggered background job: replay every
// stored collision under the current HashParams and report any that no
// longer check out.
func runReconcile() {
	log.Println("Starting prdp reconciliation scan...")

	dbURL := requireEnv("DATABASE_URL")
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := db.Connect(connectCtx, dbURL)
	cancel()
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()

	params := loadParams()
	log.Printf("Hash parameters: %s", params.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, err := store.AllCollisions(ctx)
	if err != nil {
		log.Fatalf("FATAL: failed to load collisions: %v", err)
	}
	log.Printf("[RECONCILE] loaded %d stored collision(s) to replay", len(rows))

	scanner := reconcile.NewScanner(store, params)
	invalidCh := scanner.Run(ctx, rows)

	invalidCount := 0
	for inv := range invalidCh {
		invalidCount++
		log.Printf("[RECONCILE] INVALID dp=%x start_a=%x start_b=%x reason=%s",
			inv.DP, inv.StartA, inv.StartB, inv.Reason)
	}

	progress := scanner.Progress()
	log.Printf("[RECONCILE] scan finished: checked=%d invalid=%d", progress.TotalChecked, progress.TotalInvalid)
	if invalidCount > 0 {
		os.Exit(1)
	}
}

func loadParams() hashparams.Params {
	prefixBytes := envInt("PREFIX_BYTES", 8)
	suffixBytes := envInt("SUFFIX_BYTES", 0)
	dpBits := envInt("DP_BITS", 24)
	params, err := hashparams.New(prefixBytes, suffixBytes, dpBits)
	if err != nil {
		log.Fatalf("FATAL: invalid hash parameters: %v", err)
	}
	return params
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
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
