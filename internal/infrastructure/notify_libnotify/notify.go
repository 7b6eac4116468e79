package notify_libnotify

import (
	"context"
	"os/exec"
	"strconv"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
)

// Notifier raises a desktop notification through notify-send. Used by watch
// mode so a finished run is visible without a terminal.
type Notifier struct {
	soft bool
}

func New() *Notifier     { return &Notifier{soft: false} }
func NewSoft() *Notifier { return &Notifier{soft: true} }

type Options struct {
	Urgency string
	Expire  time.Duration
}

func (n *Notifier) NotifyResult(ctx context.Context, res domain.PipelineResult) error {
	opt := Options{Urgency: "normal"}
	if res.OverallStatus == domain.PipelineFailed {
		opt.Urgency = "critical"
	}
	return n.notify(ctx, titleFor(res.OverallStatus), bodyFor(res), opt)
}

func (n *Notifier) notify(ctx context.Context, title, body string, opt Options) error {
	args := []string{"--app-name=ci-runner"}
	if opt.Urgency != "" {
		args = append(args, "--urgency="+opt.Urgency)
	}
	if opt.Expire > 0 {
		ms := strconv.Itoa(int(opt.Expire / time.Millisecond))
		args = append(args, "--expire-time="+ms)
	}
	args = append(args, title, body)

	cmd := exec.CommandContext(ctx, "notify-send", args...)
	if err := cmd.Run(); err != nil {
		if n.soft {
			return nil
		}
		return err
	}

	return nil
}

func titleFor(s domain.PipelineStatus) string {
	switch s {
	case domain.PipelineSuccess:
		return "✅ CI: success"
	case domain.PipelineFailed:
		return "❌ CI: failed"
	case domain.PipelineCancelled:
		return "⛔ CI: cancelled"
	case domain.PipelineNotRun:
		return "ℹ️ CI: not run"
	default:
		return "ℹ️ CI: " + string(s)
	}
}

func bodyFor(res domain.PipelineResult) string {
	body := res.Pipeline + " (" + res.Event.Branch + ")"
	for _, jr := range res.JobResults {
		if jr.Status != domain.JobSuccess {
			body += "\n" + jr.JobName + ": " + string(jr.Status)
		}
	}
	return body
}
