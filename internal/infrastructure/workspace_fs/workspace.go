package workspace_fs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSetupTimeout = 5 * time.Minute

// Factory provisions one workspace directory per job and runs the job's
// setup commands (checkout, toolchain install) inside it.
type Factory struct {
	log  *zap.Logger
	root string
	keep bool
}

func New(log *zap.Logger, root string, keep bool) *Factory {
	return &Factory{log: log, root: root, keep: keep}
}

func (f *Factory) Provision(ctx context.Context, job domain.JobSpec) (domain.ExecutionEnvironment, error) {
	id := job.Name + "-" + uuid.NewString()[:8]
	dir := filepath.Join(f.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.ExecutionEnvironment{}, err
	}
	env := domain.ExecutionEnvironment{ID: id, Dir: dir}

	f.log.Info("workspace ready",
		zap.String("job", job.Name),
		zap.String("dir", dir),
	)

	for _, s := range job.Setup {
		if err := f.runSetup(ctx, env, s); err != nil {
			_ = f.Release(env)
			return domain.ExecutionEnvironment{}, fmt.Errorf("setup %q: %w", s.Name, err)
		}
	}

	return env, nil
}

func (f *Factory) runSetup(ctx context.Context, env domain.ExecutionEnvironment, s domain.StepSpec) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultSetupTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.Command, s.Args...)
	cmd.Dir = env.Dir
	// Setup commands run as process group leaders; on timeout the whole
	// group is killed so nothing keeps writing into the workspace.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Env = os.Environ()
	for k, v := range s.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

func (f *Factory) Release(env domain.ExecutionEnvironment) error {
	if f.keep || env.Dir == "" {
		return nil
	}
	// Only ever remove a directory the factory created itself.
	if filepath.Dir(env.Dir) != filepath.Clean(f.root) {
		return fmt.Errorf("refusing to remove %s: outside workspace root", env.Dir)
	}
	return os.RemoveAll(env.Dir)
}
