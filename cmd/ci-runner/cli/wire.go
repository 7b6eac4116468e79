package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/exec_local"
	"github.com/davarch/ci-runner/internal/infrastructure/history_fs"
	"github.com/davarch/ci-runner/internal/infrastructure/report_http"
	"github.com/davarch/ci-runner/internal/infrastructure/workspace_fs"
	"go.uber.org/zap"
)

type runtime struct {
	sched   *application.Scheduler
	history domain.HistoryStore
	report  domain.Reporter
}

func buildRuntime(log *zap.Logger, cfg config.Config) *runtime {
	steps := application.NewStepRunner(exec_local.New())
	prov := workspace_fs.New(log, cfg.Workspace.Root, cfg.Workspace.Keep)
	jobs := application.NewJobExecutor(log, steps, prov)

	rt := &runtime{
		sched:   application.NewScheduler(log, jobs, cfg.MaxParallel),
		history: history_fs.New(cfg.History.Path),
	}
	if cfg.Report.URL != "" {
		rt.report = report_http.New(cfg.Report.URL, cfg.Report.Token, cfg.Report.Timeout)
	}
	return rt
}

// persist records a finished run (history snapshot + external report);
// neither side effect changes the result.
func (rt *runtime) persist(ctx context.Context, log *zap.Logger, res domain.PipelineResult) {
	if res.OverallStatus == domain.PipelineNotRun {
		return
	}

	if err := rt.history.Write(ctx, res); err != nil {
		log.Warn("history write failed", zap.Error(err))
	}
	if rt.report != nil {
		if err := rt.report.Report(ctx, res); err != nil {
			log.Warn("status report failed", zap.Error(err))
		}
	}
}

func printSummary(w io.Writer, res domain.PipelineResult) {
	fmt.Fprintf(w, "pipeline %s: %s (run %s, %s)\n",
		res.Pipeline, res.OverallStatus, res.RunID, res.Duration.Round(time.Millisecond))

	if len(res.JobResults) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "JOB\tSTATUS\tSTEPS\tFAILED_STEP")
	for _, jr := range sortedJobs(res) {
		failed := "-"
		if jr.FirstFailedStep != nil {
			failed = jr.StepResults[*jr.FirstFailedStep].Name
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", jr.JobName, jr.Status, len(jr.StepResults), failed)
	}
	_ = tw.Flush()
}

func sortedJobs(res domain.PipelineResult) []domain.JobResult {
	out := make([]domain.JobResult, 0, len(res.JobResults))
	for _, name := range sortedNames(res) {
		out = append(out, res.JobResults[name])
	}
	return out
}

func sortedNames(res domain.PipelineResult) []string {
	names := make([]string, 0, len(res.JobResults))
	for name := range res.JobResults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func exitCode(res domain.PipelineResult) int {
	switch res.OverallStatus {
	case domain.PipelineSuccess:
		return 0
	case domain.PipelineNotRun:
		return 2
	case domain.PipelineCancelled:
		return 130
	default:
		return 1
	}
}
