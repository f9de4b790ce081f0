package job

import (
	"context"

	"contract-deployer/internal/deployment"
)

// Executor 执行一个作业并返回部署输出。
type Executor interface {
	Execute(ctx context.Context, job *Job) (*Result, error)
}

// Runner 是 *deployment.Runner 的执行能力。
type Runner interface {
	Run(ctx context.Context, req deployment.Request) (deployment.Result, error)
}

// RunnerExecutor 通过部署任务运行器执行作业。
type RunnerExecutor struct {
	runner Runner
}

// NewRunnerExecutor 包装 runner。
func NewRunnerExecutor(runner Runner) *RunnerExecutor {
	return &RunnerExecutor{runner: runner}
}

// Execute 实现 Executor，错误原样返回以保留错误码。
func (e *RunnerExecutor) Execute(ctx context.Context, job *Job) (*Result, error) {
	res, err := e.runner.Run(ctx, deployment.Request{
		TaskID:  job.TaskID,
		Network: job.Network,
		Force:   job.ForceDeploy(),
		From:    job.From,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Contracts: res.Outputs, DurationMillis: res.Duration.Milliseconds()}, nil
}
