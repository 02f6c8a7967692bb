package worker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rawblock/prdp-collider/internal/apierr"
	"github.com/rawblock/prdp-collider/internal/chain"
	"github.com/rawblock/prdp-collider/internal/hashparams"
	"github.com/rawblock/prdp-collider/internal/kernel"
	"github.com/rawblock/prdp-collider/internal/shadowtune"
	"github.com/rawblock/prdp-collider/internal/statcheck"
	"github.com/rawblock/prdp-collider/pkg/models"
)

// shadowSummaryEvery caps how many dispatches accumulate into the shadow
// dp_bits evaluator's sample before it logs a yield comparison.
const shadowSummaryEvery = 20

// Dispatcher is the walker-kernel host pipeline: prepare fresh starts,
// dispatch them to the kernel for `stepsPerDispatch` applications of F, and
// submit whatever distinguished points come back.
//
// Mining and submission run on two goroutines decoupled by a bounded,
// buffered channel of pending submission batches (submitCh). The mining
// goroutine never blocks on network I/O: it does a non-blocking send to
// submitCh after each dispatch and, if the channel is already full (the
// submission side is backed up, e.g. by retries against a slow server),
// drops that batch and logs it rather than stalling the kernel. This is a
// deliberate fire-and-forget tradeoff — a dropped batch's distinguished
// points are simply never submitted — in exchange for mining throughput
// that is never at the mercy of server latency.
type Dispatcher struct {
	k                kernel.Kernel
	client           *Client
	params           hashparams.Params
	stepsPerDispatch int
	retryBackoff     time.Duration
	maxRetries       int
	submitQueueLen   int
	shadow           *shadowtune.Evaluator
	shadowSamples    []chain.State
	dispatchCount    int
}

// Config configures one Dispatcher.
type Config struct {
	Params           hashparams.Params
	StepsPerDispatch int
	RetryBackoff     time.Duration
	MaxRetries       int
	SubmitQueueLen   int // capacity of the pending-submission-batch channel
	ShadowDPBits     int // 0 disables shadow dp_bits comparison
}

// DefaultConfig returns reasonable dispatch sizing for a CPU-backed kernel.
func DefaultConfig(p hashparams.Params) Config {
	return Config{
		Params:           p,
		StepsPerDispatch: 1 << 16,
		RetryBackoff:     2 * time.Second,
		MaxRetries:       5,
		SubmitQueueLen:   4,
	}
}

// NewDispatcher binds a kernel backend to a submission client. If
// cfg.ShadowDPBits is set, every dispatch's emitted DPs are also classified
// under that candidate dp_bits and periodically summarized for an operator
// considering a dp_bits change, without ever altering what's mined or
// submitted.
func NewDispatcher(k kernel.Kernel, client *Client, cfg Config) (*Dispatcher, error) {
	queueLen := cfg.SubmitQueueLen
	if queueLen <= 0 {
		queueLen = 1
	}
	d := &Dispatcher{
		k:                k,
		client:           client,
		params:           cfg.Params,
		stepsPerDispatch: cfg.StepsPerDispatch,
		retryBackoff:     cfg.RetryBackoff,
		maxRetries:       cfg.MaxRetries,
		submitQueueLen:   queueLen,
	}
	if cfg.ShadowDPBits > 0 {
		shadow, err := shadowtune.NewEvaluator(cfg.Params, cfg.ShadowDPBits)
		if err != nil {
			return nil, fmt.Errorf("worker: shadow dp_bits evaluator: %w", err)
		}
		d.shadow = shadow
	}
	return d, nil
}

// Run dispatches kernel work in a loop until ctx is cancelled, handing each
// batch of distinguished points to a background submission goroutine over a
// bounded channel. The submission goroutine retries transient failures with
// exponential backoff (RetryBackoff doubled after each attempt) and logs (without retrying) AuthFailure and BadRequest responses,
// since no amount of retrying fixes a bad credential or a malformed batch
// shape; either way it never blocks the mining loop above it.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Printf("[WORKER] starting dispatch loop: lanes=%d steps/dispatch=%d submit-queue=%d",
		d.k.Lanes(), d.stepsPerDispatch, d.submitQueueLen)

	submitCh := make(chan []models.SubmitResult, d.submitQueueLen)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.submissionLoop(ctx, submitCh)
	}()
	defer wg.Wait()
	defer close(submitCh)

	kernelCfg := kernel.DefaultConfig(d.params)
	freshStarts, err := kernel.NewFreshStarts(d.params, kernelCfg.MaxDPsPerCall)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("[WORKER] stopping dispatch loop")
			return nil
		default:
		}

		result, err := d.k.Dispatch(d.stepsPerDispatch, freshStarts)
		if err != nil {
			log.Printf("[WORKER] dispatch error: %v", err)
			continue
		}
		if result.Overflow > 0 {
			log.Printf("[WORKER] dp buffer overflow: %d dps dropped this dispatch", result.Overflow)
		}

		d.dispatchCount++
		trials := int64(d.k.Lanes()) * int64(d.stepsPerDispatch)
		rateReport := statcheck.CheckDPRate(d.params.DPBits, int64(len(result.Pairs)), trials)
		if rateReport.Verdict != statcheck.VerdictNominal {
			log.Printf("[WORKER] dp rate %s: observed=%.6f want=%.6f sigma_dist=%.2f",
				rateReport.Verdict, rateReport.Got, rateReport.Want, rateReport.SigmaDist)
		}

		if d.shadow != nil {
			for _, pair := range result.Pairs {
				d.shadowSamples = append(d.shadowSamples, pair.DP)
			}
			if d.dispatchCount%shadowSummaryEvery == 0 && len(d.shadowSamples) > 0 {
				summary := d.shadow.Summarize(d.shadowSamples)
				log.Printf("[WORKER] shadow dp_bits yield: samples=%d production=%.6f shadow=%.6f",
					summary.Samples, summary.ProductionRate, summary.ShadowRate)
				d.shadowSamples = d.shadowSamples[:0]
			}
		}

		if len(result.Pairs) > 0 {
			results := make([]models.SubmitResult, len(result.Pairs))
			for i, pair := range result.Pairs {
				results[i] = models.SubmitResult{
					Start: hex.EncodeToString(pair.Start),
					DP:    hex.EncodeToString(pair.DP),
				}
			}

			select {
			case submitCh <- results:
			default:
				log.Printf("[WORKER] submission queue full, dropping batch of %d results this cycle", len(results))
			}
		}

		// The claimed lanes need fresh starts before the next dispatch;
		// regenerate the whole pool rather than tracking which indices were
		// claimed, trading a little entropy waste for simplicity.
		freshStarts, err = kernel.NewFreshStarts(d.params, kernelCfg.MaxDPsPerCall)
		if err != nil {
			return err
		}
	}
}

// submissionLoop drains submitCh, submitting each batch with retry. It exits
// once submitCh is closed and drained, or ctx is cancelled.
func (d *Dispatcher) submissionLoop(ctx context.Context, submitCh <-chan []models.SubmitResult) {
	for {
		select {
		case results, ok := <-submitCh:
			if !ok {
				return
			}
			if err := d.submitWithRetry(ctx, results); err != nil {
				log.Printf("[WORKER] submission abandoned: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) submitWithRetry(ctx context.Context, results []models.SubmitResult) error {
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		resp, err := d.client.Submit(ctx, results)
		if err == nil {
			log.Printf("[WORKER] %s", resp.Status)
			return nil
		}

		var apiErr *apierr.Error
		if errors.As(err, &apiErr) {
			switch apiErr.Kind {
			case apierr.KindAuthFailure:
				return err // not retryable: credentials will not fix themselves
			case apierr.KindBadRequest, apierr.KindBadHashLength:
				return err // not retryable: the batch itself is malformed
			}
		}

		lastErr = err
		log.Printf("[WORKER] submit attempt %d/%d failed: %v", attempt+1, d.maxRetries+1, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.retryBackoff << uint(attempt)):
		}
	}
	return lastErr
}
