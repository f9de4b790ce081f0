package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"contract-deployer/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID uint64
	Notes   string
	// DeployTimeout bounds the wait for a deployment receipt.
	DeployTimeout time.Duration
}

// chainBackend is the subset of ethclient used for deployments.
type chainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name          string
	notes         string
	expectedID    uint64
	deployTimeout time.Duration

	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   chainBackend
	// committer seals blocks on simulated chains right after a send.
	committer interface{ Commit() common.Hash }

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	return &Client{
		name:          cfg.Name,
		notes:         cfg.Notes,
		expectedID:    cfg.ChainID,
		deployTimeout: cfg.DeployTimeout,
		rpcClient:     rpcClient,
		eth:           eth,
		backend:       eth,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(name string, sim *simulated.Backend) *Client {
	return &Client{
		name:      name,
		notes:     "simulated backend",
		backend:   sim.Client(),
		committer: sim,
	}
}

// Name returns the network name the client was registered with.
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
	c.backend = nil
}

// ChainID returns the chain id reported by the node. When the network
// definition pins a chain id, a mismatch is reported as an error.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.Lock()
	cached := c.chainID
	backend := c.backend
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	if backend == nil {
		return nil, errors.New("客户端缺少链访问后端")
	}

	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	if c.expectedID != 0 && id.Uint64() != c.expectedID {
		return nil, fmt.Errorf("链 %s 的 ID 为 %s，与配置的 %d 不一致", c.name, id, c.expectedID)
	}

	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// DeployContract sends the contract creation transaction and waits until it
// is mined with code at the resulting address.
func (c *Client) DeployContract(ctx context.Context, auth *bind.TransactOpts, contractABI abi.ABI, bytecode []byte, params ...any) (web3.DeploymentResult, error) {
	if auth == nil {
		return web3.DeploymentResult{}, errors.New("未提供交易签名器")
	}
	if c == nil || c.backend == nil {
		return web3.DeploymentResult{}, errors.New("当前客户端不支持合约部署")
	}
	if len(bytecode) == 0 {
		return web3.DeploymentResult{}, errors.New("合约字节码不能为空")
	}

	if c.deployTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deployTimeout)
		defer cancel()
	}

	originalCtx := auth.Context
	auth.Context = ctx
	defer func() { auth.Context = originalCtx }()

	address, tx, _, err := bind.DeployContract(auth, contractABI, bytecode, c.backend, params...)
	if err != nil {
		return web3.DeploymentResult{}, fmt.Errorf("部署合约失败: %w", err)
	}
	if c.committer != nil {
		c.committer.Commit()
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return web3.DeploymentResult{}, &web3.BroadcastError{TxHash: tx.Hash(), Address: address, Err: fmt.Errorf("等待上链失败: %w", err)}
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return web3.DeploymentResult{}, fmt.Errorf("部署交易 %s 执行失败", tx.Hash().Hex())
	}
	if receipt.ContractAddress != (common.Address{}) {
		address = receipt.ContractAddress
	}

	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return web3.DeploymentResult{}, &web3.BroadcastError{TxHash: tx.Hash(), Address: address, Err: fmt.Errorf("读取合约代码失败: %w", err)}
	}
	if len(code) == 0 {
		return web3.DeploymentResult{}, &web3.BroadcastError{TxHash: tx.Hash(), Address: address, Err: errors.New("部署后没有合约代码")}
	}

	return web3.DeploymentResult{ContractAddress: address, Transaction: tx, Receipt: receipt}, nil
}

// CodeAt returns the runtime code stored at address on the latest block.
func (c *Client) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("读取合约代码失败: %w", err)
	}
	return code, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
