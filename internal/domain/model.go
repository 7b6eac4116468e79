package domain

import (
	"errors"
	"fmt"
	"time"
)

type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventManual      EventKind = "manual"
)

func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(s) {
	case EventPush, EventPullRequest, EventManual:
		return EventKind(s), true
	}
	return "", false
}

type Event struct {
	Branch string
	Kind   EventKind
}

type TriggerRule struct {
	Kinds    []EventKind
	Branches []string
}

type StepSpec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

type JobSpec struct {
	Name  string
	Setup []StepSpec
	Steps []StepSpec
}

type PipelineSpec struct {
	Name    string
	Trigger TriggerRule
	Jobs    []JobSpec
}

var (
	ErrNoJobs       = errors.New("pipeline has no jobs")
	ErrUnnamedJob   = errors.New("job has no name")
	ErrDuplicateJob = errors.New("duplicate job name")
	ErrNoSteps      = errors.New("job has no steps")
)

func (p PipelineSpec) Validate() error {
	if len(p.Jobs) == 0 {
		return ErrNoJobs
	}

	seen := make(map[string]bool, len(p.Jobs))
	for _, j := range p.Jobs {
		if j.Name == "" {
			return ErrUnnamedJob
		}
		if seen[j.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, j.Name)
		}
		seen[j.Name] = true

		if len(j.Steps) == 0 {
			return fmt.Errorf("%w: %s", ErrNoSteps, j.Name)
		}
	}

	return nil
}

type StepStatus string

const (
	StepSuccess   StepStatus = "success"
	StepFailed    StepStatus = "failed"
	StepTimeout   StepStatus = "timeout"
	StepCancelled StepStatus = "cancelled"
)

type StepResult struct {
	Name     string
	Status   StepStatus
	ExitCode int
	Duration time.Duration
	Output   []byte
}

type JobStatus string

const (
	JobSuccess         JobStatus = "success"
	JobFailed          JobStatus = "failed"
	JobProvisionFailed JobStatus = "provision_failed"
	JobCancelled       JobStatus = "cancelled"
)

type JobResult struct {
	JobName         string
	Status          JobStatus
	StepResults     []StepResult
	FirstFailedStep *int
	Err             string
}

type PipelineStatus string

const (
	PipelineSuccess   PipelineStatus = "success"
	PipelineFailed    PipelineStatus = "failed"
	PipelineNotRun    PipelineStatus = "not_run"
	PipelineCancelled PipelineStatus = "cancelled"
)

type PipelineResult struct {
	RunID         string
	Pipeline      string
	Event         Event
	OverallStatus PipelineStatus
	JobResults    map[string]JobResult
	StartedOn     time.Time
	Duration      time.Duration
}

// ExecutionEnvironment is the isolated context one job's steps run in.
// Owned by exactly one job executor between Provision and Release.
type ExecutionEnvironment struct {
	ID  string
	Dir string
}
