package contract

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"contract-deployer/internal/signer"
)

// Instance 是一个已部署（或已知地址）的合约。
type Instance struct {
	name        string
	network     string
	address     common.Address
	abi         abi.ABI
	tx          *types.Transaction
	blockNumber uint64
	deployer    *signer.Signer
}

// Name 返回合约的产物名。
func (i *Instance) Name() string {
	if i == nil {
		return ""
	}
	return i.name
}

// Network 返回合约所在网络。
func (i *Instance) Network() string {
	if i == nil {
		return ""
	}
	return i.network
}

// Address 返回合约地址。
func (i *Instance) Address() common.Address {
	if i == nil {
		return common.Address{}
	}
	return i.address
}

// ABI 返回合约 ABI。
func (i *Instance) ABI() abi.ABI {
	if i == nil {
		return abi.ABI{}
	}
	return i.abi
}

// Transaction 返回部署交易；通过 At 构造的实例返回 nil。
func (i *Instance) Transaction() *types.Transaction {
	if i == nil {
		return nil
	}
	return i.tx
}

// BlockNumber 返回部署交易所在区块。
func (i *Instance) BlockNumber() uint64 {
	if i == nil {
		return 0
	}
	return i.blockNumber
}

// Deployer 返回发送部署交易的账户。
func (i *Instance) Deployer() *signer.Signer {
	if i == nil {
		return nil
	}
	return i.deployer
}

var _ signer.Addresser = (*Instance)(nil)
