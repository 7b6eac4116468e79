package history_fs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

// Store keeps the latest pipeline run as a JSON snapshot on disk.
type Store struct {
	path string
}

func New(path string) *Store { return &Store{path: path} }

type stepDTO struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Output     string `json:"output,omitempty"`
}

type jobDTO struct {
	Name            string    `json:"name"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	FirstFailedStep *int      `json:"first_failed_step,omitempty"`
	Steps           []stepDTO `json:"steps,omitempty"`
}

type runDTO struct {
	RunID      string    `json:"run_id"`
	Pipeline   string    `json:"pipeline"`
	Branch     string    `json:"branch"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	StartedOn  time.Time `json:"started_on"`
	DurationMS int64     `json:"duration_ms"`
	Jobs       []jobDTO  `json:"jobs"`
}

func (s *Store) Write(_ context.Context, res domain.PipelineResult) error {
	if s.path == "" {
		return errors.New("history path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(toDTO(res), "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	// Replace via rename so a concurrent Latest never reads a partial file.
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) Latest(_ context.Context) ([]byte, error) {
	return os.ReadFile(s.path)
}

func toDTO(res domain.PipelineResult) runDTO {
	out := runDTO{
		RunID:      res.RunID,
		Pipeline:   res.Pipeline,
		Branch:     res.Event.Branch,
		Kind:       string(res.Event.Kind),
		Status:     string(res.OverallStatus),
		StartedOn:  res.StartedOn,
		DurationMS: res.Duration.Milliseconds(),
	}

	names := make([]string, 0, len(res.JobResults))
	for name := range res.JobResults {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		jr := res.JobResults[name]
		jd := jobDTO{
			Name:            jr.JobName,
			Status:          string(jr.Status),
			Error:           jr.Err,
			FirstFailedStep: jr.FirstFailedStep,
		}
		for _, sr := range jr.StepResults {
			jd.Steps = append(jd.Steps, stepDTO{
				Name:       sr.Name,
				Status:     string(sr.Status),
				ExitCode:   sr.ExitCode,
				DurationMS: sr.Duration.Milliseconds(),
				Output:     string(sr.Output),
			})
		}
		out.Jobs = append(out.Jobs, jd)
	}

	return out
}
