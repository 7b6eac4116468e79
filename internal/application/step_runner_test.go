package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

func TestStepRunner_Success(t *testing.T) {
	runner := &domain.MockRunner{
		Processes: map[string]*domain.MockProcess{
			"build": {ExitCode: 0, Out: []byte("ok\n")},
		},
	}
	sr := NewStepRunner(runner)

	res := sr.Run(context.Background(), domain.ExecutionEnvironment{ID: "e"}, domain.StepSpec{Name: "build", Command: "sh"})

	if res.Status != domain.StepSuccess {
		t.Errorf("expected success, got %s", res.Status)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", res.ExitCode)
	}
	if string(res.Output) != "ok\n" {
		t.Errorf("unexpected output %q", res.Output)
	}
}

func TestStepRunner_NonZeroExitIsFailure(t *testing.T) {
	runner := &domain.MockRunner{
		Processes: map[string]*domain.MockProcess{
			"lint": {ExitCode: 3},
		},
	}
	sr := NewStepRunner(runner)

	res := sr.Run(context.Background(), domain.ExecutionEnvironment{}, domain.StepSpec{Name: "lint", Command: "sh"})

	if res.Status != domain.StepFailed {
		t.Errorf("expected failed, got %s", res.Status)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
}

func TestStepRunner_StartErrorIsFailure(t *testing.T) {
	runner := &domain.MockRunner{
		StartErr: map[string]error{"lint": errors.New("no such binary")},
	}
	sr := NewStepRunner(runner)

	res := sr.Run(context.Background(), domain.ExecutionEnvironment{}, domain.StepSpec{Name: "lint", Command: "missing"})

	if res.Status != domain.StepFailed {
		t.Errorf("expected failed, got %s", res.Status)
	}
	if res.ExitCode != -1 {
		t.Errorf("expected exit -1, got %d", res.ExitCode)
	}
}

func TestStepRunner_DeadlineKillsProcess(t *testing.T) {
	proc := &domain.MockProcess{Block: make(chan struct{})}
	runner := &domain.MockRunner{
		Processes: map[string]*domain.MockProcess{"hang": proc},
	}
	sr := NewStepRunner(runner)

	res := sr.Run(
		context.Background(),
		domain.ExecutionEnvironment{},
		domain.StepSpec{Name: "hang", Command: "sh", Timeout: 20 * time.Millisecond},
	)

	if res.Status != domain.StepTimeout {
		t.Errorf("expected timeout, got %s", res.Status)
	}
	if !proc.Killed() {
		t.Error("process was not killed on deadline")
	}
}

func TestStepRunner_CancelKillsProcess(t *testing.T) {
	proc := &domain.MockProcess{Block: make(chan struct{})}
	runner := &domain.MockRunner{
		Processes: map[string]*domain.MockProcess{"hang": proc},
	}
	sr := NewStepRunner(runner)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := sr.Run(ctx, domain.ExecutionEnvironment{}, domain.StepSpec{Name: "hang", Command: "sh", Timeout: time.Minute})

	if res.Status != domain.StepCancelled {
		t.Errorf("expected cancelled, got %s", res.Status)
	}
	if !proc.Killed() {
		t.Error("process was not killed on cancel")
	}
}
