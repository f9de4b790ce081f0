// Package provider 管理按名称索引的网络客户端。
package provider

import (
	"context"
	"slices"
	"strings"
	"sync"

	"contract-deployer/internal/config"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/web3"
	"contract-deployer/internal/web3/ethereum"
)

// Dialer 为一个网络定义建立客户端。
type Dialer func(ctx context.Context, name string, chain web3.ChainDefinition) (web3.Client, error)

// Registry 持有网络定义，客户端在第一次 Resolve 时才建立，
// 因此只部署到一条链时其他链的节点不可用也不影响。
type Registry struct {
	defaultChain string
	defs         map[string]web3.ChainDefinition
	dial         Dialer

	mu      sync.Mutex
	clients map[string]web3.Client
}

// NewRegistry 读取 chains.yaml。没有任何链定义时退化为 rpc_url 指定的单一网络。
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载链配置失败")
	}
	chains := defs.Chains
	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if len(chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		if defaultChain == "" {
			defaultChain = "default"
		}
		chains = map[string]web3.ChainDefinition{
			defaultChain: {Type: "evm", RPCURL: strings.TrimSpace(cfg.RPCURL)},
		}
	}
	for name, chain := range chains {
		if chain.Type != "evm" {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}
	return newRegistry(defaultChain, chains, evmDialer(cfg))
}

func evmDialer(cfg config.Web3Config) Dialer {
	return func(ctx context.Context, name string, chain web3.ChainDefinition) (web3.Client, error) {
		return ethereum.NewClient(ctx, ethereum.Config{
			Name:          name,
			RPCURL:        chain.RPCURL,
			ChainID:       chain.ChainID,
			Notes:         chain.Description,
			DeployTimeout: cfg.DeployTimeout(),
		})
	}
}

// NewStaticRegistry 包装已经建立好的客户端，常用于测试与模拟链。
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client) (*Registry, error) {
	defs := make(map[string]web3.ChainDefinition, len(clients))
	for name := range clients {
		defs[name] = web3.ChainDefinition{Type: "evm"}
	}
	r, err := newRegistry(defaultChain, defs, nil)
	if err != nil {
		return nil, err
	}
	for name, client := range clients {
		r.clients[name] = client
	}
	return r, nil
}

func newRegistry(defaultChain string, defs map[string]web3.ChainDefinition, dial Dialer) (*Registry, error) {
	if len(defs) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任何网络")
	}
	r := &Registry{defs: defs, dial: dial, clients: make(map[string]web3.Client, len(defs))}
	names := r.Chains()
	if defaultChain == "" {
		defaultChain = names[0]
	}
	if !slices.Contains(names, defaultChain) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "默认网络 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// DefaultChain 返回默认网络名。
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// DefaultClient 返回默认网络的客户端。
func (r *Registry) DefaultClient(ctx context.Context) (web3.Client, error) {
	return r.Resolve(ctx, "")
}

// Resolve 返回指定网络的客户端，name 为空时使用默认网络。
func (r *Registry) Resolve(ctx context.Context, name string) (web3.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "网络注册表未初始化")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.defaultChain
	}
	chain, ok := r.defs[name]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "网络 %s 未配置", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[name]; ok {
		return client, nil
	}
	if r.dial == nil {
		return nil, xerrors.Newf(xerrors.CodeInitializationFailure, "网络 %s 没有可用的连接方式", name)
	}
	client, err := r.dial(ctx, name, chain)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "连接网络失败", xerrors.WithMetadata("network", name))
	}
	r.clients[name] = client
	return client, nil
}

// Chains 按字母序返回已配置的网络名。
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close 关闭所有已建立的客户端。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}
