package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contract-deployer/internal/artifact"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/signer"
	"contract-deployer/internal/web3"
	"contract-deployer/pkg/logger"
)

const tracerName = "contract-deployer/internal/contract"

// Options 控制单次部署。
type Options struct {
	// Args 为构造函数参数；声明为 address 的参数可以传入签名账户、
	// 合约实例或十六进制字符串。
	Args []any
	// From 为发送账户，为空时使用签名账户列表中的第一个。
	From *signer.Signer
	// Libraries 为需要链接的库地址，键为库名或全限定名。
	Libraries map[string]common.Address
}

// Deployer 在单个网络上部署合约。
type Deployer struct {
	client    web3.Client
	artifacts artifact.Source
	signers   signer.Provider
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option 用于定制 Deployer。
type Option func(*Deployer)

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(d *Deployer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer 指定链路追踪器。
func WithTracer(t trace.Tracer) Option {
	return func(d *Deployer) {
		if t != nil {
			d.tracer = t
		}
	}
}

// NewDeployer 创建部署器。
func NewDeployer(client web3.Client, artifacts artifact.Source, signers signer.Provider, opts ...Option) *Deployer {
	d := &Deployer{
		client:    client,
		artifacts: artifacts,
		signers:   signers,
		logger:    logger.Named("contract"),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Network 返回部署器绑定的网络名。
func (d *Deployer) Network() string {
	if d == nil || d.client == nil {
		return ""
	}
	return d.client.Name()
}

// Client 返回底层网络客户端。
func (d *Deployer) Client() web3.Client {
	return d.client
}

// Artifacts 返回编译产物源。
func (d *Deployer) Artifacts() artifact.Source {
	return d.artifacts
}

// Signers 返回签名账户来源。
func (d *Deployer) Signers() signer.Provider {
	return d.signers
}

// Deploy 部署名为 name 的合约并等待交易上链。
func (d *Deployer) Deploy(ctx context.Context, name string, opts Options) (*Instance, error) {
	if d == nil || d.client == nil || d.artifacts == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "合约部署器未初始化")
	}

	ctx, span := d.tracer.Start(ctx, "contract.Deploy", trace.WithAttributes(
		attribute.String("contract.name", name),
		attribute.String("network", d.client.Name()),
	))
	defer span.End()

	instance, err := d.deploy(ctx, name, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(xerrors.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("contract.address", instance.Address().Hex()))
	return instance, nil
}

func (d *Deployer) deploy(ctx context.Context, name string, opts Options) (*Instance, error) {
	art, err := d.artifacts.Artifact(name)
	if err != nil {
		return nil, err
	}
	args, err := normalizeArgs(art.ABI.Constructor.Inputs, opts.Args)
	if err != nil {
		return nil, err
	}
	if _, err := art.ABI.Pack("", args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("合约 %s 的构造参数编码失败", name))
	}
	code, err := art.CreationCode(opts.Libraries)
	if err != nil {
		return nil, err
	}

	from, err := signer.Resolve(ctx, signer.Explicit(opts.From), signer.DefaultOf(d.signers))
	if err != nil {
		return nil, err
	}
	chainID, err := d.client.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "获取链 ID 失败", xerrors.WithMetadata("network", d.client.Name()))
	}
	auth, err := from.TransactOpts(chainID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := d.client.DeployContract(ctx, auth, art.ABI, code, args...)
	var sent *web3.BroadcastError
	if errors.As(err, &sent) {
		// 交易可能仍会上链，重试会再部署一份，交由人工确认。
		return nil, xerrors.Wrap(xerrors.CodeDeploymentFailure, err, fmt.Sprintf("合约 %s 的部署交易未能确认", name),
			xerrors.WithRetryable(false),
			xerrors.WithMetadata("contract", name),
			xerrors.WithMetadata("network", d.client.Name()),
			xerrors.WithMetadata("tx", sent.TxHash.Hex()),
			xerrors.WithMetadata("address", sent.Address.Hex()),
		)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDeploymentFailure, err, fmt.Sprintf("部署合约 %s 失败", name),
			xerrors.WithMetadata("contract", name),
			xerrors.WithMetadata("network", d.client.Name()),
		)
	}

	d.logger.InfoContext(ctx, "合约部署完成",
		slog.String("contract", name),
		slog.String("network", d.client.Name()),
		slog.String("address", result.ContractAddress.Hex()),
		slog.String("tx", result.Transaction.Hash().Hex()),
		slog.String("from", from.Address().Hex()),
		slog.Duration("elapsed", time.Since(started)),
	)

	return &Instance{
		name:        name,
		network:     d.client.Name(),
		address:     result.ContractAddress,
		abi:         art.ABI,
		tx:          result.Transaction,
		blockNumber: result.BlockNumber(),
		deployer:    from,
	}, nil
}

// At 为已部署在 address 的合约构造实例。
func (d *Deployer) At(name string, address common.Address) (*Instance, error) {
	if d == nil || d.artifacts == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "合约部署器未初始化")
	}
	art, err := d.artifacts.Artifact(name)
	if err != nil {
		return nil, err
	}
	return &Instance{name: name, network: d.Network(), address: address, abi: art.ABI}, nil
}
