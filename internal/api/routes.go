package api

import (
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/rawblock/prdp-collider/internal/apierr"
	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/db"
	"github.com/rawblock/prdp-collider/internal/hashparams"
	"github.com/rawblock/prdp-collider/internal/statcheck"
	"github.com/rawblock/prdp-collider/pkg/models"
)

var validate = validator.New()

// flaggedTrustThreshold is the LLR threshold below which a worker's
// accepted/dropped submission history is surfaced in GET /api/v1/stats —
// log10 odds of 1e-5, i.e. about four more dropped than accepted records.
const flaggedTrustThreshold = -5.0

// Handler is the collision server's request surface: one struct closing
// over the store, the broadcast hub, and the hash parameters every
// submission is checked against.
type Handler struct {
	store        *db.Store
	wsHub        *Hub
	blocklist    *Blocklist
	params       hashparams.Params
	trustTracker *statcheck.TrustTracker
}

// NewHandler builds a Handler bound to the given hash parameters, the
// config every /submit_work request's results are validated against.
func NewHandler(store *db.Store, wsHub *Hub, blocklist *Blocklist, params hashparams.Params) *Handler {
	return &Handler{
		store:        store,
		wsHub:        wsHub,
		blocklist:    blocklist,
		params:       params,
		trustTracker: statcheck.NewTrustTracker(),
	}
}

// SetupRouter wires the external interface: one authenticated submission
// endpoint plus the ambient health/stats/stream endpoints every surface
// this server exposes carries alongside it.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	limiter := NewRateLimiter(120, 20)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", h.handleHealth)
		v1.GET("/stats", h.handleStats)
		v1.GET("/stream", h.wsHub.Subscribe)
	}

	r.POST("/submit_work", limiter.Middleware(), h.handleSubmitWork)
	r.GET("/", h.handleRoot)
	r.Static("/dashboard", "./public")

	return r
}

// handleRoot backs the bare GET / liveness check.
func (h *Handler) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "prdp collision server operational")
}

// handleHealth backs GET /api/v1/health (ambient addition).
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"params": h.params.String(),
	})
}

// handleStats backs GET /api/v1/stats (ambient dashboard read).
func (h *Handler) handleStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		writeAPIError(c, apierr.Transient(err))
		return
	}
	stats.FlaggedWorkers = h.trustTracker.Flagged(flaggedTrustThreshold)
	c.JSON(http.StatusOK, stats)
}

// handleSubmitWork implements POST /submit_work: validate request shape,
// authenticate the worker, validate every result's hash length against the
// server's configured hashparams.Params (any violation rejects the whole
// batch with 400 BadHashLength), then drop (not reject) any record whose dp
// fails the DP predicate for the current dp_bits — silent-drop-with-log so
// a misconfigured worker cannot poison the table or fail its peers' batch —
// and finally persist the rest through the absent->stored->collided state
// machine, broadcasting any collision found.
func (h *Handler) handleSubmitWork(c *gin.Context) {
	start := time.Now()

	var req models.SubmitWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, apierr.BadRequest(err))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeAPIError(c, apierr.InvalidResultFormat(err))
		return
	}

	if err := authenticate(c.Request.Context(), h.store, h.blocklist, req.Username, req.UserToken); err != nil {
		writeAPIError(c, err)
		return
	}

	type decoded struct {
		start, dp chain.State
	}
	decodedResults := make([]decoded, len(req.Results))
	for i, r := range req.Results {
		startBytes, err := chain.FromHex(h.params, r.Start)
		if err != nil {
			writeAPIError(c, apierr.BadHashLength(err))
			return
		}
		dpBytes, err := chain.FromHex(h.params, r.DP)
		if err != nil {
			writeAPIError(c, apierr.BadHashLength(err))
			return
		}
		decodedResults[i] = decoded{start: startBytes, dp: dpBytes}
	}

	starts := make([][]byte, 0, len(decodedResults))
	dps := make([][]byte, 0, len(decodedResults))
	dropped := 0
	for _, d := range decodedResults {
		if !chain.IsDistinguished(h.params, d.dp) {
			dropped++
			continue
		}
		starts = append(starts, []byte(d.start))
		dps = append(dps, []byte(d.dp))
	}

	if dropped > 0 {
		log.Printf("[SUBMIT] dropped %d config-mismatched result(s) from %s", dropped, req.Username)
		for i := 0; i < dropped; i++ {
			h.trustTracker.RecordDropped(req.Username)
		}
	}

	accepted := 0
	if len(starts) > 0 {
		outcomes, err := h.store.SubmitBatch(c.Request.Context(), req.Username, starts, dps)
		if err != nil {
			writeAPIError(c, apierr.Transient(err))
			return
		}

		for _, o := range outcomes {
			if o.Inserted {
				accepted++
				h.trustTracker.RecordAccepted(req.Username)
			}
			if o.Collision != nil {
				h.wsHub.BroadcastCollision(
					hex.EncodeToString(o.Collision.DP),
					hex.EncodeToString(o.Collision.StartA),
					hex.EncodeToString(o.Collision.StartB),
				)
			}
		}
		if accepted > 0 {
			h.wsHub.BroadcastDP(req.Username, int64(accepted))
		}
	}

	elapsed := time.Since(start)
	c.JSON(http.StatusOK, models.SubmitWorkResponse{
		Status: fmt.Sprintf("accepted %d results in %.2fms", accepted, float64(elapsed.Microseconds())/1000),
	})
}
