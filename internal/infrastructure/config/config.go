package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"gopkg.in/yaml.v3"
)

type Step struct {
	Name    string            `yaml:"name"`
	Run     string            `yaml:"run"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

type Job struct {
	Name string `yaml:"name"`
	// Enabled is tri-state: a job with no enabled key runs.
	Enabled *bool  `yaml:"enabled,omitempty"`
	Setup   []Step `yaml:"setup,omitempty"`
	Steps   []Step `yaml:"steps"`
}

func (j Job) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

type Config struct {
	Name string `yaml:"name"`

	On struct {
		Events   []string `yaml:"events"`
		Branches []string `yaml:"branches"`
	} `yaml:"on"`

	Defaults struct {
		Shell       string        `yaml:"shell"`
		StepTimeout time.Duration `yaml:"step_timeout"`
	} `yaml:"defaults"`

	Workspace struct {
		Root string `yaml:"root"`
		Keep bool   `yaml:"keep"`
	} `yaml:"workspace"`

	// Setup commands shared by every job, prepended to each job's own.
	Setup []Step `yaml:"setup,omitempty"`

	Jobs []Job `yaml:"jobs"`

	MaxParallel int `yaml:"max_parallel"`

	Report struct {
		URL     string        `yaml:"url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"report"`

	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`

	Serve struct {
		Addr string `yaml:"addr"`
	} `yaml:"serve"`
}

func Load(path string) (Config, error) {
	var c Config

	c.Defaults.Shell = "/bin/sh"
	c.Defaults.StepTimeout = 10 * time.Minute
	c.Workspace.Root = expandHome("~/.cache/ci-runner/workspaces")
	c.History.Path = expandHome("~/.cache/ci-runner/last_run.json")
	c.Report.Timeout = 10 * time.Second
	c.Serve.Addr = ":8080"

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, err
		}
	}

	if v := os.Getenv("CI_RUNNER_SHELL"); v != "" {
		c.Defaults.Shell = v
	}

	if v := os.Getenv("CI_RUNNER_WORKSPACE_ROOT"); v != "" {
		c.Workspace.Root = expandHome(v)
	}

	if v := os.Getenv("CI_RUNNER_HISTORY_PATH"); v != "" {
		c.History.Path = expandHome(v)
	}

	if v := os.Getenv("CI_RUNNER_REPORT_URL"); v != "" {
		c.Report.URL = v
	}

	if v := os.Getenv("CI_RUNNER_REPORT_TOKEN"); v != "" {
		c.Report.Token = v
	}

	if v := os.Getenv("CI_RUNNER_ADDR"); v != "" {
		c.Serve.Addr = v
	}

	if v := os.Getenv("CI_RUNNER_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxParallel = n
		}
	}

	c.Workspace.Root = expandHome(c.Workspace.Root)
	c.History.Path = expandHome(c.History.Path)

	if c.Name == "" && path != "" {
		base := filepath.Base(path)
		c.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if c.Defaults.StepTimeout <= 0 {
		c.Defaults.StepTimeout = 10 * time.Minute
	}

	if c.Report.Timeout <= 0 {
		c.Report.Timeout = 10 * time.Second
	}

	if err := c.validate(); err != nil {
		return c, err
	}

	return c, nil
}

func (c Config) validate() error {
	if len(c.Jobs) == 0 {
		return errors.New("no jobs configured")
	}

	seen := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if j.Name == "" {
			return errors.New("every job needs a name")
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate job name %q", j.Name)
		}
		seen[j.Name] = true

		if len(j.Steps) == 0 {
			return fmt.Errorf("job %q has no steps", j.Name)
		}
		for _, s := range j.Steps {
			if strings.TrimSpace(s.Run) == "" {
				return fmt.Errorf("job %q: step %q has nothing to run", j.Name, s.Name)
			}
		}
	}

	return nil
}

// PipelineSpec compiles the config into the runnable pipeline description.
// Disabled jobs are left out; step scripts are wrapped in the configured
// shell; the shared setup is prepended to each job's own.
func (c Config) PipelineSpec() domain.PipelineSpec {
	spec := domain.PipelineSpec{Name: c.Name}

	for _, e := range c.On.Events {
		spec.Trigger.Kinds = append(spec.Trigger.Kinds, domain.EventKind(e))
	}
	spec.Trigger.Branches = append(spec.Trigger.Branches, c.On.Branches...)

	for _, j := range c.Jobs {
		if !j.IsEnabled() {
			continue
		}

		job := domain.JobSpec{Name: j.Name}
		for _, s := range c.Setup {
			job.Setup = append(job.Setup, c.toStepSpec(s))
		}
		for _, s := range j.Setup {
			job.Setup = append(job.Setup, c.toStepSpec(s))
		}
		for _, s := range j.Steps {
			job.Steps = append(job.Steps, c.toStepSpec(s))
		}
		spec.Jobs = append(spec.Jobs, job)
	}

	return spec
}

func (c Config) toStepSpec(s Step) domain.StepSpec {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = c.Defaults.StepTimeout
	}
	return domain.StepSpec{
		Name:    s.Name,
		Command: c.Defaults.Shell,
		Args:    []string{"-c", s.Run},
		Env:     s.Env,
		Timeout: timeout,
	}
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
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

	return os.Rename(tmp, path)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
