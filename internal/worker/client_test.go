package worker

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rawblock/prdp-collider/internal/apierr"
	"github.com/rawblock/prdp-collider/pkg/models"
)

func TestSubmitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.SubmitWorkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("server: decode request: %v", err)
		}
		if req.Username != "alice" || req.UserToken != "tok" {
			t.Fatalf("unexpected credentials: %+v", req)
		}
		json.NewEncoder(w).Encode(models.SubmitWorkResponse{Status: "accepted 1 results in 0.12ms"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "tok")
	resp, err := c.Submit(t.Context(), []models.SubmitResult{{Start: "aa", DP: "bb"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != "accepted 1 results in 0.12ms" {
		t.Fatalf("unexpected status: %q", resp.Status)
	}
}

func TestSubmitAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"status": "bad username and/or usertoken"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "wrong")
	_, err := c.Submit(t.Context(), []models.SubmitResult{{Start: "aa", DP: "bb"}})
	if err == nil {
		t.Fatal("expected an error")
	}
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != apierr.KindAuthFailure {
		t.Fatalf("expected AuthFailure, got %v", err)
	}
}
