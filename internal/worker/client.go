// Package worker is the walker-kernel host pipeline: pull dispatch results
// off the kernel, batch them, and submit them to the collision server over
// HTTP with a retry policy keyed on error kind.
//
// Client is a thin struct wrapping an *http.Client with a fixed timeout,
// one raw net/http POST with a JSON body per call, errors wrapped with
// call-site context via fmt.Errorf("%w", ...).
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rawblock/prdp-collider/internal/apierr"
	"github.com/rawblock/prdp-collider/pkg/models"
)

// Client submits batches of (start, dp) pairs to the collision server's
// POST /submit_work endpoint.
type Client struct {
	baseURL    string
	username   string
	userToken  string
	httpClient *http.Client
}

// NewClient builds a submission client bound to one registered worker
// identity.
func NewClient(baseURL, username, userToken string) *Client {
	return &Client{
		baseURL:   baseURL,
		username:  username,
		userToken: userToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Submit posts one batch of results and classifies the server's response
// into the apierr taxonomy, so the dispatcher can decide whether to retry.
func (c *Client) Submit(ctx context.Context, results []models.SubmitResult) (models.SubmitWorkResponse, error) {
	body, err := json.Marshal(models.SubmitWorkRequest{
		Username:  c.username,
		UserToken: c.userToken,
		Results:   results,
	})
	if err != nil {
		return models.SubmitWorkResponse{}, fmt.Errorf("worker: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit_work", bytes.NewReader(body))
	if err != nil {
		return models.SubmitWorkResponse{}, fmt.Errorf("worker: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.SubmitWorkResponse{}, apierr.Transient(fmt.Errorf("worker: submit_work request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.SubmitWorkResponse{}, apierr.Transient(fmt.Errorf("worker: read response: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var out models.SubmitWorkResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return models.SubmitWorkResponse{}, apierr.Transient(fmt.Errorf("worker: decode response: %w", err))
		}
		return out, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.SubmitWorkResponse{}, apierr.AuthFailure()
	case http.StatusBadRequest:
		return models.SubmitWorkResponse{}, apierr.BadRequest(fmt.Errorf("server rejected batch: %s", respBody))
	default:
		return models.SubmitWorkResponse{}, apierr.Transient(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody))
	}
}
