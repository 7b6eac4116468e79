package application

import (
	"context"
	"fmt"

	"github.com/davarch/ci-runner/internal/domain"
	"go.uber.org/zap"
)

type JobExecutor struct {
	log   *zap.Logger
	steps *StepRunner
	prov  domain.Provisioner
}

func NewJobExecutor(log *zap.Logger, steps *StepRunner, prov domain.Provisioner) *JobExecutor {
	return &JobExecutor{log: log, steps: steps, prov: prov}
}

// Execute provisions one environment, runs the job's steps in declaration
// order on it, and stops at the first step that does not succeed. The
// environment is released on every exit path.
func (je *JobExecutor) Execute(ctx context.Context, job domain.JobSpec) domain.JobResult {
	res := domain.JobResult{JobName: job.Name}

	if err := ctx.Err(); err != nil {
		res.Status = domain.JobCancelled
		res.Err = err.Error()
		return res
	}

	env, err := je.prov.Provision(ctx, job)
	if err != nil {
		je.log.Warn("provisioning failed",
			zap.String("job", job.Name),
			zap.Error(err),
		)
		res.Status = domain.JobProvisionFailed
		res.Err = err.Error()
		return res
	}
	defer func() {
		if rerr := je.prov.Release(env); rerr != nil {
			je.log.Warn("release failed",
				zap.String("job", job.Name),
				zap.String("env", env.ID),
				zap.Error(rerr),
			)
		}
	}()

	for i, step := range job.Steps {
		sr := je.steps.Run(ctx, env, step)
		res.StepResults = append(res.StepResults, sr)

		if sr.Status != domain.StepSuccess {
			if sr.Status == domain.StepCancelled {
				res.Status = domain.JobCancelled
				res.Err = fmt.Sprintf("step %q: cancelled", step.Name)
				return res
			}

			idx := i
			res.FirstFailedStep = &idx
			res.Status = domain.JobFailed
			res.Err = fmt.Sprintf("step %q: %s", step.Name, sr.Status)
			je.log.Warn("step failed",
				zap.String("job", job.Name),
				zap.String("step", step.Name),
				zap.String("status", string(sr.Status)),
				zap.Int("exit_code", sr.ExitCode),
			)
			return res
		}

		je.log.Info("step ok",
			zap.String("job", job.Name),
			zap.String("step", step.Name),
			zap.Duration("took", sr.Duration),
		)
	}

	res.Status = domain.JobSuccess
	return res
}
