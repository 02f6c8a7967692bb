package api

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/rawblock/prdp-collider/internal/apierr"
	"github.com/rawblock/prdp-collider/internal/db"
)

// ──────────────────────────────────────────────────────────────────
// Per-user bearer credential check
//
// The collision server has many registered workers, each with its own
// bcrypt-hashed usertoken, so the constant-time comparison is delegated to
// bcrypt.CompareHashAndPassword itself, which already runs in constant time
// relative to the candidate.
// ──────────────────────────────────────────────────────────────────

// authenticate checks (username, usertoken) against the stored bcrypt hash.
// It returns apierr.AuthFailure() both for an unknown username and for a
// wrong token, so a client cannot distinguish the two.
func authenticate(ctx context.Context, store *db.Store, blocklist *Blocklist, username, userToken string) error {
	if blocklist != nil && !blocklist.Allowed(username) {
		return apierr.AuthFailure()
	}

	user, err := store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if blocklist != nil {
				blocklist.RecordFailure(username)
			}
			return apierr.AuthFailure()
		}
		return apierr.Transient(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.TokenHash), []byte(userToken)); err != nil {
		if blocklist != nil {
			blocklist.RecordFailure(username)
		}
		return apierr.AuthFailure()
	}

	if blocklist != nil {
		blocklist.RecordSuccess(username)
	}
	return nil
}

// writeAPIError renders an *apierr.Error as its mapped JSON body and
// aborts the gin context.
func writeAPIError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Transient(err)
	}
	c.JSON(apierr.HTTPStatus(apiErr.Kind), gin.H{"status": apiErr.Status})
	c.Abort()
}

// HashUserToken bcrypt-hashes a plaintext usertoken for storage, used by
// cmd/prdp-user when registering a new worker.
func HashUserToken(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
