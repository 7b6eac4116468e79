package application

import (
	"context"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

const defaultStepTimeout = 10 * time.Minute

type StepRunner struct {
	runner domain.CommandRunner
}

func NewStepRunner(runner domain.CommandRunner) *StepRunner {
	return &StepRunner{runner: runner}
}

// Run executes one step inside env and produces exactly one result.
// On deadline the process is killed and reaped before the result exists.
func (sr *StepRunner) Run(ctx context.Context, env domain.ExecutionEnvironment, step domain.StepSpec) domain.StepResult {
	started := time.Now()

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	proc, err := sr.runner.Start(ctx, env, step)
	if err != nil {
		return domain.StepResult{
			Name:     step.Name,
			Status:   domain.StepFailed,
			ExitCode: -1,
			Duration: time.Since(started),
			Output:   []byte(err.Error()),
		}
	}

	type waitResult struct {
		code int
		err  error
	}
	done := make(chan waitResult, 1)
	go func() {
		code, werr := proc.Wait()
		done <- waitResult{code: code, err: werr}
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case w := <-done:
		status := domain.StepSuccess
		if w.err != nil || w.code != 0 {
			status = domain.StepFailed
		}
		return domain.StepResult{
			Name:     step.Name,
			Status:   status,
			ExitCode: w.code,
			Duration: time.Since(started),
			Output:   proc.Output(),
		}
	case <-deadline.C:
		_ = proc.Kill()
		<-done
		return domain.StepResult{
			Name:     step.Name,
			Status:   domain.StepTimeout,
			ExitCode: -1,
			Duration: time.Since(started),
			Output:   proc.Output(),
		}
	case <-ctx.Done():
		_ = proc.Kill()
		<-done
		return domain.StepResult{
			Name:     step.Name,
			Status:   domain.StepCancelled,
			ExitCode: -1,
			Duration: time.Since(started),
			Output:   proc.Output(),
		}
	}
}
