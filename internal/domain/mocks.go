package domain

import (
	"context"
	"errors"
	"sync"
)

type MockProvisioner struct {
	Env ExecutionEnvironment
	Err error

	// OnProvision, when set, runs after each successful provision.
	OnProvision func()

	mu          sync.Mutex
	Provisioned []string
	Released    []ExecutionEnvironment
}

func (m *MockProvisioner) Provision(ctx context.Context, job JobSpec) (ExecutionEnvironment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return ExecutionEnvironment{}, m.Err
	}
	m.Provisioned = append(m.Provisioned, job.Name)
	env := m.Env
	if env.ID == "" {
		env.ID = job.Name
	}
	if m.OnProvision != nil {
		m.OnProvision()
	}
	return env, nil
}

func (m *MockProvisioner) Release(env ExecutionEnvironment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Released = append(m.Released, env)
	return nil
}

type MockProcess struct {
	ExitCode int
	WaitErr  error
	Out      []byte

	// Block, when non-nil, makes Wait hang until Kill closes it.
	Block chan struct{}

	mu     sync.Mutex
	killed bool
}

func (p *MockProcess) Wait() (int, error) {
	if p.Block != nil {
		<-p.Block
		return -1, errors.New("killed")
	}
	return p.ExitCode, p.WaitErr
}

func (p *MockProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.killed {
		p.killed = true
		if p.Block != nil {
			close(p.Block)
		}
	}
	return nil
}

func (p *MockProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *MockProcess) Output() []byte { return p.Out }

type MockRunner struct {
	Processes map[string]*MockProcess
	StartErr  map[string]error

	mu      sync.Mutex
	Started []string
}

func (m *MockRunner) Start(ctx context.Context, env ExecutionEnvironment, step StepSpec) (Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, step.Name)
	if err := m.StartErr[step.Name]; err != nil {
		return nil, err
	}
	if p, ok := m.Processes[step.Name]; ok {
		return p, nil
	}
	return &MockProcess{}, nil
}

func (m *MockRunner) StartedSteps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Started))
	copy(out, m.Started)
	return out
}
