// Package authorizer 部署 TimelockAuthorizer 合约，并确定其管理员账户。
package authorizer

import (
	"context"

	"contract-deployer/internal/contract"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/signer"
)

// Contract 是部署的合约产物名。
const Contract = "TimelockAuthorizer"

// TimelockAuthorizerDeployment 是部署配置，两个字段均可为空。
type TimelockAuthorizerDeployment struct {
	Admin *signer.Signer
	From  *signer.Signer
}

// TimelockAuthorizer 将部署出的合约与解析出的管理员账户配对。
type TimelockAuthorizer struct {
	instance *contract.Instance
	admin    *signer.Signer
}

// Instance 返回合约实例。
func (a *TimelockAuthorizer) Instance() *contract.Instance { return a.instance }

// Admin 返回管理员账户，与解析时得到的是同一个对象。
func (a *TimelockAuthorizer) Admin() *signer.Signer { return a.admin }

// ContractDeployer 是通用部署能力。
type ContractDeployer interface {
	Deploy(ctx context.Context, name string, opts contract.Options) (*contract.Instance, error)
}

// Deployer 部署 TimelockAuthorizer。
type Deployer struct {
	contracts ContractDeployer
	signers   signer.Provider
}

// NewDeployer 创建部署器，signers 提供默认管理员。
func NewDeployer(contracts ContractDeployer, signers signer.Provider) *Deployer {
	return &Deployer{contracts: contracts, signers: signers}
}

// ResolveAdmin 依次取 Admin、From、默认签名账户。只有前两者都为空时才会
// 查询签名账户列表。
func (d *Deployer) ResolveAdmin(ctx context.Context, cfg TimelockAuthorizerDeployment) (*signer.Signer, error) {
	return signer.Resolve(ctx,
		signer.Explicit(cfg.Admin),
		signer.Explicit(cfg.From),
		signer.DefaultOf(d.signers),
	)
}

// Deploy 以解析出的管理员地址为唯一构造参数部署 TimelockAuthorizer。
func (d *Deployer) Deploy(ctx context.Context, cfg TimelockAuthorizerDeployment) (*TimelockAuthorizer, error) {
	if d == nil || d.contracts == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "授权合约部署器未初始化")
	}
	admin, err := d.ResolveAdmin(ctx, cfg)
	if err != nil {
		return nil, err
	}
	adminAddress, err := signer.ToAddress(admin)
	if err != nil {
		return nil, err
	}
	instance, err := d.contracts.Deploy(ctx, Contract, contract.Options{Args: []any{adminAddress}})
	if err != nil {
		return nil, err
	}
	return &TimelockAuthorizer{instance: instance, admin: admin}, nil
}
