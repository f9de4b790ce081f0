package web3

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// DeploymentResult captures the outcome of a mined contract creation.
type DeploymentResult struct {
	ContractAddress common.Address
	Transaction     *types.Transaction
	Receipt         *types.Receipt
}

// BlockNumber returns the block the deployment was included in, or zero.
func (r DeploymentResult) BlockNumber() uint64 {
	if r.Receipt == nil || r.Receipt.BlockNumber == nil {
		return 0
	}
	return r.Receipt.BlockNumber.Uint64()
}

// BroadcastError reports a failure after the creation transaction was sent.
// The transaction may still be mined, so callers must not blindly resend it.
type BroadcastError struct {
	TxHash  common.Hash
	Address common.Address
	Err     error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("交易 %s 已广播（预期地址 %s）: %v", e.TxHash.Hex(), e.Address.Hex(), e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// Client defines what the deployment layer needs from a network.
type Client interface {
	Name() string
	ChainID(ctx context.Context) (*big.Int, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	DeployContract(ctx context.Context, auth *bind.TransactOpts, contractABI abi.ABI, bytecode []byte, params ...any) (DeploymentResult, error)
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
	Close()
}
