package domain

import "context"

type Provisioner interface {
	Provision(ctx context.Context, job JobSpec) (ExecutionEnvironment, error)
	Release(env ExecutionEnvironment) error
}

// Process is one started step command. Wait and Kill may be called from
// different goroutines; Output is only valid after Wait has returned.
type Process interface {
	Wait() (exitCode int, err error)
	Kill() error
	Output() []byte
}

type CommandRunner interface {
	Start(ctx context.Context, env ExecutionEnvironment, step StepSpec) (Process, error)
}

type Reporter interface {
	Report(ctx context.Context, res PipelineResult) error
}

type HistoryStore interface {
	Write(ctx context.Context, res PipelineResult) error
	Latest(ctx context.Context) ([]byte, error)
}
