// Command prdp-user implements `create_user <name> [--password P]`: it
// registers a new worker identity, printing (or accepting) a token and
// storing only its bcrypt hash.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/prdp-collider/internal/api"
	"github.com/rawblock/prdp-collider/internal/db"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <name> [--password P]", os.Args[0])
	}
	fs := flag.NewFlagSet("create_user", flag.ExitOnError)
	password := fs.String("password", "", "usertoken to register (default: a generated UUIDv4)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	username := os.Args[1]

	token := *password
	if token == "" {
		token = uuid.NewString()
	}

	dbURL := requireEnv("DATABASE_URL")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := db.Connect(ctx, dbURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer store.Close()

	hash, err := api.HashUserToken(token)
	if err != nil {
		log.Fatalf("FATAL: failed to hash token: %v", err)
	}

	if err := store.CreateUser(ctx, username, hash); err != nil {
		log.Fatalf("FATAL: failed to create user: %v", err)
	}

	fmt.Printf("user %q created\ntoken: %s\n", username, token)
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: required environment variable %s is not set", key)
	}
	return val
}
