package report_http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

func result() domain.PipelineResult {
	return domain.PipelineResult{
		RunID:         "run-9",
		Pipeline:      "verify",
		Event:         domain.Event{Branch: "devel", Kind: domain.EventPush},
		OverallStatus: domain.PipelineSuccess,
		Duration:      time.Second,
		JobResults: map[string]domain.JobResult{
			"lint": {JobName: "lint", Status: domain.JobSuccess},
		},
	}
}

func TestReport_PostsSummary(t *testing.T) {
	var got summaryDTO
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer s3cret" {
			t.Errorf("unexpected auth header %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "s3cret", 2*time.Second)
	if err := c.Report(context.Background(), result()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.RunID != "run-9" || got.Status != "success" {
		t.Errorf("unexpected payload: %+v", got)
	}
	if len(got.Jobs) != 1 || got.Jobs[0].Name != "lint" {
		t.Errorf("unexpected jobs: %+v", got.Jobs)
	}
}

func TestReport_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 2*time.Second)
	if err := c.Report(context.Background(), result()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() < 2 {
		t.Errorf("expected a retry, got %d calls", calls.Load())
	}
}

func TestReport_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 2*time.Second)
	if err := c.Report(context.Background(), result()); err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls.Load())
	}
}
