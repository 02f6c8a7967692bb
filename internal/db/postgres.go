// Package db is the PostgreSQL storage layer for the collision server:
// users/dps/collisions, one transaction per submit_work request, the
// unique index on dps.dp that makes "exactly one Collision row per dp" a
// database invariant rather than an application-level lock.
//
// Built around pgxpool.Pool, InitSchema reading a schema.sql file, and a
// transaction-per-write idiom built around ON CONFLICT upserts.
package db

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/prdp-collider/pkg/models"
)

// dbTx is the narrow slice of pgx.Tx that submitOne actually needs: a
// single-statement exec and a single-row query, both scoped to the calling
// transaction. pgx.Tx satisfies this interface as-is; tests substitute a
// hand-rolled fake so the absent -> stored -> collided state machine is
// verifiable without a live PostgreSQL instance.
type dbTx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("db: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("db: ping failed: %w", err)
	}
	log.Println("[DB] Connected to PostgreSQL for the PRDP collision server")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql.
func (s *Store) InitSchema(ctx context.Context) error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("db: failed to read schema file: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("db: failed to execute schema migrations: %w", err)
	}
	log.Println("[DB] PRDP collision schema initialized")
	return nil
}

// Pool exposes the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// CreateUser stores a new user with a pre-hashed token (cmd/prdp-user owns
// bcrypt hashing; this layer only persists it).
func (s *Store) CreateUser(ctx context.Context, username, tokenHash string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, token_hash) VALUES ($1, $2)`,
		username, tokenHash)
	return err
}

// GetUser fetches a user's token hash for auth-middleware comparison.
// Returns pgx.ErrNoRows if the username is unknown.
func (s *Store) GetUser(ctx context.Context, username string) (models.User, error) {
	var u models.User
	u.Username = username
	err := s.pool.QueryRow(ctx, `SELECT token_hash FROM users WHERE username = $1`, username).Scan(&u.TokenHash)
	return u, err
}

// SubmitOutcome tells the caller what happened to one submitted record.
type SubmitOutcome struct {
	Inserted  bool // true iff this dp was not previously stored
	Collision *models.Collision
}

// SubmitBatch persists every record in results inside a single transaction
// scoped to the request, so no half-inserted batch can be observed, applying
// the absent -> stored -> collided state machine per record.
func (s *Store) SubmitBatch(ctx context.Context, username string, starts, dps [][]byte) ([]SubmitOutcome, error) {
	if len(starts) != len(dps) {
		return nil, fmt.Errorf("db: starts/dps length mismatch")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	outcomes := make([]SubmitOutcome, len(starts))
	for i := range starts {
		outcome, err := submitOne(ctx, tx, username, starts[i], dps[i])
		if err != nil {
			return nil, fmt.Errorf("db: submit record %d: %w", i, err)
		}
		outcomes[i] = outcome
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("db: commit: %w", err)
	}
	return outcomes, nil
}

// submitOne implements the three-outcome state machine (absent, stored,
// collided) for a single (start, dp) pair, inside the caller's transaction.
// The ON CONFLICT DO NOTHING on both dps and collisions is what makes
// "exactly one Collision row per dp" a guarantee under concurrent
// transactions, not just under this one.
func submitOne(ctx context.Context, tx dbTx, username string, start, dp []byte) (SubmitOutcome, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO dps (dp, start, username) VALUES ($1, $2, $3) ON CONFLICT (dp) DO NOTHING`,
		dp, start, username)
	if err != nil {
		return SubmitOutcome{}, err
	}
	if tag.RowsAffected() == 1 {
		return SubmitOutcome{Inserted: true}, nil
	}

	// dp already present: fetch the stored start to decide duplicate vs.
	// pre-collision.
	var existingStart []byte
	err = tx.QueryRow(ctx, `SELECT start FROM dps WHERE dp = $1`, dp).Scan(&existingStart)
	if err != nil {
		return SubmitOutcome{}, err
	}
	if bytes.Equal(existingStart, start) {
		return SubmitOutcome{Inserted: false}, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO collisions (dp, start_a, start_b) VALUES ($1, $2, $3) ON CONFLICT (dp) DO NOTHING`,
		dp, existingStart, start); err != nil {
		return SubmitOutcome{}, err
	}
	return SubmitOutcome{
		Inserted: false,
		Collision: &models.Collision{
			DP:     dp,
			StartA: existingStart,
			StartB: start,
		},
	}, nil
}

// Stats backs GET /api/v1/stats.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	stats.PerUserCounts = make(map[string]int64)

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dps`).Scan(&stats.TotalDPs); err != nil {
		return stats, err
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM collisions`).Scan(&stats.TotalCollisions); err != nil {
		return stats, err
	}

	rows, err := s.pool.Query(ctx, `SELECT username, COUNT(*) FROM dps GROUP BY username`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var username string
		var count int64
		if err := rows.Scan(&username, &count); err != nil {
			return stats, err
		}
		stats.PerUserCounts[username] = count
	}
	return stats, rows.Err()
}

// RecentDPs returns up to `limit` recently-received DPs, newest first.
func (s *Store) RecentDPs(ctx context.Context, limit int) ([]models.DPRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT dp, start, username, received_at FROM dps ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DPRecord
	for rows.Next() {
		var rec models.DPRecord
		if err := rows.Scan(&rec.DP, &rec.Start, &rec.Username, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CollisionRow is one stored collisions row, read back for replay by
// internal/reconcile.
type CollisionRow struct {
	DP, StartA, StartB []byte
}

// AllCollisions returns every stored collision for the reconciliation
// scanner to replay.
func (s *Store) AllCollisions(ctx context.Context) ([]CollisionRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT dp, start_a, start_b FROM collisions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CollisionRow
	for rows.Next() {
		var row CollisionRow
		if err := rows.Scan(&row.DP, &row.StartA, &row.StartB); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
