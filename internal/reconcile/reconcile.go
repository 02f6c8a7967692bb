// Package reconcile re-walks stored collisions to confirm they are still
// genuine under the server's current HashParams — a defence against data
// corruption or a config change slipping an invalid record into the
// collisions table. It is not part of the hot submission path; it is an
// operator-triggered background job.
//
// Uses atomic progress counters (sync/atomic.Int64/Bool), safe to read via
// Progress while a single background goroutine advances them, and
// a guard against starting a second scan while one is already running.
package reconcile

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/db"
	"github.com/rawblock/prdp-collider/internal/hashparams"
)

// Progress is the scanner's current state for an API/CLI caller.
type Progress struct {
	IsRunning    bool
	TotalChecked int64
	TotalInvalid int64
}

// maxReplaySteps bounds the WalkToDP replay so a corrupted row with no
// real distinguished point ahead of it cannot hang the scanner forever.
const maxReplaySteps = 1 << 24

// Scanner replays every stored collision's (dp, start_a, start_b) triple
// and confirms that walking start_a and start_b forward by repeated
// applications of F both still reach dp under the current HashParams.
type Scanner struct {
	store  *db.Store
	params hashparams.Params

	totalChecked atomic.Int64
	totalInvalid atomic.Int64
	isRunning    atomic.Bool
}

// NewScanner builds a reconciliation scanner bound to the collision
// server's store and hash parameters.
func NewScanner(store *db.Store, params hashparams.Params) *Scanner {
	return &Scanner{store: store, params: params}
}

// Progress returns the scanner's current state (thread-safe).
func (s *Scanner) Progress() Progress {
	return Progress{
		IsRunning:    s.isRunning.Load(),
		TotalChecked: s.totalChecked.Load(),
		TotalInvalid: s.totalInvalid.Load(),
	}
}

// InvalidCollision names a stored collision that failed replay.
type InvalidCollision struct {
	DP     []byte
	StartA []byte
	StartB []byte
	Reason string
}

// Run replays every stored collision asynchronously, returning invalid
// ones on invalidCh as they're found. invalidCh is closed when the scan
// completes. Run returns immediately if a scan is already in progress.
func (s *Scanner) Run(ctx context.Context, collisions []db.CollisionRow) <-chan InvalidCollision {
	invalidCh := make(chan InvalidCollision, 16)

	if !s.isRunning.CompareAndSwap(false, true) {
		log.Println("[RECONCILE] scan already in progress, ignoring duplicate request")
		close(invalidCh)
		return invalidCh
	}

	s.totalChecked.Store(0)
	s.totalInvalid.Store(0)

	go func() {
		defer s.isRunning.Store(false)
		defer close(invalidCh)

		for _, row := range collisions {
			select {
			case <-ctx.Done():
				log.Println("[RECONCILE] scan cancelled")
				return
			default:
			}

			s.totalChecked.Add(1)

			reason, invalid := s.checkRow(row)
			if invalid {
				s.totalInvalid.Add(1)
				invalidCh <- InvalidCollision{DP: row.DP, StartA: row.StartA, StartB: row.StartB, Reason: reason}
			}
		}
		log.Printf("[RECONCILE] scan complete: checked=%d invalid=%d", s.totalChecked.Load(), s.totalInvalid.Load())
	}()

	return invalidCh
}

// checkRow replays a stored collision row by walking start_a and start_b
// forward with repeated applications of F until each reaches a
// distinguished point, then compares that point against the stored dp.
// A genuine collision's start is typically ~2^dp_bits steps from its dp,
// not one — a single F application is not the right replay.
func (s *Scanner) checkRow(row db.CollisionRow) (reason string, invalid bool) {
	if string(row.StartA) == string(row.StartB) {
		return "degenerate: start_a == start_b", true
	}

	dpA, _, err := chain.WalkToDP(s.params, chain.State(row.StartA), maxReplaySteps)
	if err != nil {
		return "start_a: " + err.Error(), true
	}
	if string(dpA) != string(row.DP) {
		return "F*(start_a) != dp", true
	}

	dpB, _, err := chain.WalkToDP(s.params, chain.State(row.StartB), maxReplaySteps)
	if err != nil {
		return "start_b: " + err.Error(), true
	}
	if string(dpB) != string(row.DP) {
		return "F*(start_b) != dp", true
	}

	return "", false
}
