package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/zap"
)

func newJobExecutor(runner *domain.MockRunner, prov *domain.MockProvisioner) *JobExecutor {
	return NewJobExecutor(zap.NewNop(), NewStepRunner(runner), prov)
}

func threeStepJob() domain.JobSpec {
	return domain.JobSpec{
		Name: "test",
		Steps: []domain.StepSpec{
			{Name: "checkout", Command: "sh"},
			{Name: "build", Command: "sh"},
			{Name: "unit", Command: "sh"},
		},
	}
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	runner := &domain.MockRunner{}
	prov := &domain.MockProvisioner{}
	je := newJobExecutor(runner, prov)

	res := je.Execute(context.Background(), threeStepJob())

	if res.Status != domain.JobSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Err)
	}
	if len(res.StepResults) != 3 {
		t.Errorf("expected 3 step results, got %d", len(res.StepResults))
	}
	if res.FirstFailedStep != nil {
		t.Errorf("expected no failed step, got %d", *res.FirstFailedStep)
	}
	if len(prov.Provisioned) != 1 || len(prov.Released) != 1 {
		t.Errorf("expected one provision and one release, got %d/%d",
			len(prov.Provisioned), len(prov.Released))
	}
}

func TestExecute_FailFastOnFirstFailingStep(t *testing.T) {
	runner := &domain.MockRunner{
		Processes: map[string]*domain.MockProcess{
			"build": {ExitCode: 1},
		},
	}
	prov := &domain.MockProvisioner{}
	je := newJobExecutor(runner, prov)

	res := je.Execute(context.Background(), threeStepJob())

	if res.Status != domain.JobFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.FirstFailedStep == nil || *res.FirstFailedStep != 1 {
		t.Errorf("expected first failed step 1, got %v", res.FirstFailedStep)
	}
	started := runner.StartedSteps()
	if len(started) != 2 {
		t.Errorf("steps after the failure must not run, started: %v", started)
	}
	if len(prov.Released) != 1 {
		t.Error("environment was not released after failure")
	}
}

func TestExecute_ProvisioningFailure(t *testing.T) {
	runner := &domain.MockRunner{}
	prov := &domain.MockProvisioner{Err: errors.New("toolchain install failed")}
	je := newJobExecutor(runner, prov)

	res := je.Execute(context.Background(), threeStepJob())

	if res.Status != domain.JobProvisionFailed {
		t.Fatalf("expected provision_failed, got %s", res.Status)
	}
	if len(res.StepResults) != 0 {
		t.Errorf("no steps may run without an environment, got %d results", len(res.StepResults))
	}
	if len(runner.StartedSteps()) != 0 {
		t.Error("a step was started despite provisioning failure")
	}
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	runner := &domain.MockRunner{}
	prov := &domain.MockProvisioner{}
	je := newJobExecutor(runner, prov)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := je.Execute(ctx, threeStepJob())

	if res.Status != domain.JobCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	if len(prov.Provisioned) != 0 {
		t.Error("cancelled job must not acquire an environment")
	}
}

func TestExecute_CancelledMidJob(t *testing.T) {
	runner := &domain.MockRunner{
		Processes: map[string]*domain.MockProcess{
			"build": {Block: make(chan struct{})},
		},
	}
	prov := &domain.MockProvisioner{}
	je := newJobExecutor(runner, prov)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := je.Execute(ctx, threeStepJob())

	if res.Status != domain.JobCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	if res.StepResults[1].Status != domain.StepCancelled {
		t.Errorf("expected cancelled step status, got %s", res.StepResults[1].Status)
	}
	if len(prov.Released) != 1 {
		t.Error("environment was not released after cancellation")
	}
}

func TestExecute_StepFailureDuringCancelStaysFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &domain.MockRunner{
		StartErr: map[string]error{"checkout": errors.New("no such binary")},
	}
	prov := &domain.MockProvisioner{OnProvision: cancel}
	je := newJobExecutor(runner, prov)

	res := je.Execute(ctx, threeStepJob())

	if res.Status != domain.JobFailed {
		t.Fatalf("a genuine step failure must stay failed, got %s", res.Status)
	}
	if res.FirstFailedStep == nil || *res.FirstFailedStep != 0 {
		t.Errorf("expected first failed step 0, got %v", res.FirstFailedStep)
	}
}

func TestExecute_TimeoutFailsJob(t *testing.T) {
	runner := &domain.MockRunner{
		Processes: map[string]*domain.MockProcess{
			"build": {Block: make(chan struct{})},
		},
	}
	prov := &domain.MockProvisioner{}
	je := newJobExecutor(runner, prov)

	job := threeStepJob()
	job.Steps[1].Timeout = 1 // effectively immediate

	res := je.Execute(context.Background(), job)

	if res.Status != domain.JobFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.StepResults[1].Status != domain.StepTimeout {
		t.Errorf("expected timeout step status, got %s", res.StepResults[1].Status)
	}
	if res.FirstFailedStep == nil || *res.FirstFailedStep != 1 {
		t.Errorf("expected first failed step 1, got %v", res.FirstFailedStep)
	}
}
