package history_fs

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

func sampleResult() domain.PipelineResult {
	idx := 0
	return domain.PipelineResult{
		RunID:         "run-1",
		Pipeline:      "verify",
		Event:         domain.Event{Branch: "trunk", Kind: domain.EventPush},
		OverallStatus: domain.PipelineFailed,
		StartedOn:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Duration:      90 * time.Second,
		JobResults: map[string]domain.JobResult{
			"test": {JobName: "test", Status: domain.JobSuccess, StepResults: []domain.StepResult{
				{Name: "unit", Status: domain.StepSuccess, Duration: time.Second},
			}},
			"lint": {JobName: "lint", Status: domain.JobFailed, FirstFailedStep: &idx, Err: `step "clippy": failed`},
		},
	}
}

func TestStore_WriteAndLatest(t *testing.T) {
	path := t.TempDir() + "/last_run.json"
	s := New(path)

	if err := s.Write(context.Background(), sampleResult()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := s.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}

	var got runDTO
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if got.Status != "failed" || got.Branch != "trunk" {
		t.Errorf("unexpected snapshot header: %+v", got)
	}
	if len(got.Jobs) != 2 || got.Jobs[0].Name != "lint" {
		t.Errorf("jobs must be present and sorted by name: %+v", got.Jobs)
	}
	if got.Jobs[0].FirstFailedStep == nil || *got.Jobs[0].FirstFailedStep != 0 {
		t.Errorf("failed step index lost: %+v", got.Jobs[0])
	}
}

func TestStore_RewriteLeavesNoPartialState(t *testing.T) {
	path := t.TempDir() + "/last_run.json"
	s := New(path)

	first := sampleResult()
	if err := s.Write(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := sampleResult()
	second.RunID = "run-2"
	if err := s.Write(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	raw, err := s.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	var got runDTO
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if got.RunID != "run-2" {
		t.Errorf("expected the newer run, got %q", got.RunID)
	}
}

func TestStore_EmptyPathIsError(t *testing.T) {
	s := New("")
	if err := s.Write(context.Background(), sampleResult()); err == nil {
		t.Error("expected an error for empty path")
	}
}
