// Package tetulinearpool 部署 Tetu 再平衡线性池工厂。
package tetulinearpool

import (
	"context"
	"fmt"

	"contract-deployer/internal/deployment"
)

// ID 是任务目录名。
const ID = "2022XXXX-tetu-rebalanced-linear-pool"

// FactoryContract 是部署的合约产物名。
const FactoryContract = "TetuLinearPoolFactory"

// 输入字段。
const (
	FieldVault                          = "Vault"
	FieldProtocolFeePercentagesProvider = "ProtocolFeePercentagesProvider"
	FieldBalancerQueries                = "BalancerQueries"
)

// Definition 返回可注册到 deployment.Registry 的任务定义。
func Definition() deployment.Definition {
	return deployment.Definition{
		ID:          ID,
		Description: "Tetu rebalanced linear pool factory",
		Run:         Run,
	}
}

// Run 读取 Vault、ProtocolFeePercentagesProvider 与 BalancerQueries，
// 并以此顺序作为构造参数部署 TetuLinearPoolFactory。输入不做校验，
// 错误原样返回。
func Run(ctx context.Context, task deployment.TaskHandle, opts deployment.RunOptions) error {
	input, err := task.Input(ctx)
	if err != nil {
		return err
	}

	vault := input.Get(FieldVault)
	feesProvider := input.Get(FieldProtocolFeePercentagesProvider)
	queries := input.Get(FieldBalancerQueries)

	log := task.Logger()
	log.Info(fmt.Sprintf("input.Vault %s", vault))
	log.Info(fmt.Sprintf("input.ProtocolFeePercentagesProvider %s", feesProvider))
	log.Info(fmt.Sprintf("input.BalancerQueries %s", queries))

	args := []any{vault, feesProvider, queries}
	_, err = task.DeployAndVerify(ctx, FactoryContract, args, opts.From, opts.Force)
	return err
}
