package exec_local

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/davarch/ci-runner/internal/domain"
)

const maxOutputBytes = 1 << 20

// Runner starts step commands as local child processes.
type Runner struct{}

func New() *Runner { return &Runner{} }

func (r *Runner) Start(ctx context.Context, env domain.ExecutionEnvironment, step domain.StepSpec) (domain.Process, error) {
	cmd := exec.Command(step.Command, step.Args...)
	cmd.Dir = env.Dir
	cmd.Env = mergedEnv(step.Env)
	// Each step leads its own process group so Kill reaches the
	// children a shell step spawns, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &process{cmd: cmd, out: cappedBuffer{max: maxOutputBytes}}
	cmd.Stdout = &p.out
	cmd.Stderr = &p.out

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

func mergedEnv(extra map[string]string) []string {
	merged := os.Environ()
	for k, v := range extra {
		merged = append(merged, k+"="+v)
	}
	return merged
}

type process struct {
	cmd *exec.Cmd
	out cappedBuffer
}

func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return ee.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (p *process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

func (p *process) Output() []byte { return p.out.Bytes() }

// cappedBuffer keeps the first max bytes and silently drops the rest, so a
// chatty step cannot grow a result without bound.
type cappedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := b.max - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}
