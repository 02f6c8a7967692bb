package db

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow implements pgx.Row by scanning a single fixed column value,
// standing in for the "SELECT start FROM dps WHERE dp = $1" lookup
// submitOne issues on a conflict.
type fakeRow struct {
	val []byte
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return fmt.Errorf("fakeRow: expected 1 scan target, got %d", len(dest))
	}
	ptr, ok := dest[0].(*[]byte)
	if !ok {
		return fmt.Errorf("fakeRow: expected *[]byte scan target, got %T", dest[0])
	}
	*ptr = r.val
	return nil
}

// fakeTx is a minimal dbTx fake driving submitOne through its three
// outcomes without a live PostgreSQL instance. dpInsertRows controls
// whether the "INSERT INTO dps ... ON CONFLICT DO NOTHING" looks like a
// fresh insert (1) or a conflict (0); existingStart is what the
// "SELECT start FROM dps" lookup returns on a conflict.
type fakeTx struct {
	dpInsertRows    int64
	existingStart   []byte
	collisionInsert bool // records whether the collisions INSERT ran
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO dps"):
		return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", f.dpInsertRows)), nil
	case strings.Contains(sql, "INSERT INTO collisions"):
		f.collisionInsert = true
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	default:
		return pgconn.CommandTag{}, fmt.Errorf("fakeTx: unexpected Exec: %s", sql)
	}
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "SELECT start FROM dps") {
		return fakeRow{val: f.existingStart}
	}
	return fakeRow{err: fmt.Errorf("fakeTx: unexpected QueryRow: %s", sql)}
}

func TestSubmitOneAbsentInsertsFresh(t *testing.T) {
	tx := &fakeTx{dpInsertRows: 1}

	outcome, err := submitOne(t.Context(), tx, "alice", []byte("start-a"), []byte("dp-1"))
	if err != nil {
		t.Fatalf("submitOne: %v", err)
	}
	if !outcome.Inserted {
		t.Fatal("expected Inserted=true for a dp never seen before")
	}
	if outcome.Collision != nil {
		t.Fatalf("expected no collision on first insert, got %+v", outcome.Collision)
	}
	if tx.collisionInsert {
		t.Fatal("a fresh insert must not touch the collisions table")
	}
}

func TestSubmitOneDuplicateIsNotReinserted(t *testing.T) {
	start := []byte("start-a")
	tx := &fakeTx{dpInsertRows: 0, existingStart: start}

	outcome, err := submitOne(t.Context(), tx, "alice", start, []byte("dp-1"))
	if err != nil {
		t.Fatalf("submitOne: %v", err)
	}
	if outcome.Inserted {
		t.Fatal("expected Inserted=false for a dp already stored with the same start")
	}
	if outcome.Collision != nil {
		t.Fatalf("identical (start, dp) resubmission must not be a collision, got %+v", outcome.Collision)
	}
	if tx.collisionInsert {
		t.Fatal("a duplicate submission must not touch the collisions table")
	}
}

// TestSubmitOneDetectsCollision is the one invariant called out by name:
// a dp already stored under a *different* start produces exactly one
// Collision row, carrying both starts.
func TestSubmitOneDetectsCollision(t *testing.T) {
	existingStart := []byte("start-a")
	newStart := []byte("start-b")
	dp := []byte("dp-1")
	tx := &fakeTx{dpInsertRows: 0, existingStart: existingStart}

	outcome, err := submitOne(t.Context(), tx, "bob", newStart, dp)
	if err != nil {
		t.Fatalf("submitOne: %v", err)
	}
	if outcome.Inserted {
		t.Fatal("a colliding dp was already stored, so Inserted must be false")
	}
	if !tx.collisionInsert {
		t.Fatal("expected the collisions table to be written")
	}
	if outcome.Collision == nil {
		t.Fatal("expected a non-nil Collision")
	}
	if string(outcome.Collision.DP) != string(dp) {
		t.Fatalf("collision dp = %q, want %q", outcome.Collision.DP, dp)
	}
	if string(outcome.Collision.StartA) != string(existingStart) {
		t.Fatalf("collision start_a = %q, want %q (the previously-stored start)", outcome.Collision.StartA, existingStart)
	}
	if string(outcome.Collision.StartB) != string(newStart) {
		t.Fatalf("collision start_b = %q, want %q (the newly-submitted start)", outcome.Collision.StartB, newStart)
	}
}
