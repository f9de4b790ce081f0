// Package simchain 为测试提供基于模拟后端的链、签名账户和编译产物。
package simchain

import (
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"contract-deployer/internal/artifact"
	"contract-deployer/internal/signer"
	"contract-deployer/internal/web3/ethereum"
)

const (
	// Bytecode 的初始化代码返回 RuntimeCode，构造参数被忽略。
	Bytecode    = "0x6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
	RuntimeCode = "0x7f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
)

// Chain 是一条带预置余额账户的模拟链。
type Chain struct {
	Backend  *simulated.Backend
	Client   *ethereum.Client
	Signers  []*signer.Signer
	Provider *signer.StaticProvider
}

// New 创建模拟链并生成 accounts 个有余额的签名账户。
func New(t testing.TB, name string, accounts int) *Chain {
	t.Helper()

	alloc := types.GenesisAlloc{}
	signers := make([]*signer.Signer, 0, accounts)
	for i := 0; i < accounts; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		s := signer.New(key, fmt.Sprintf("account#%d", i))
		alloc[s.Address()] = types.Account{Balance: new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))}
		signers = append(signers, s)
	}

	backend := simulated.NewBackend(alloc)
	t.Cleanup(func() { _ = backend.Close() })

	return &Chain{
		Backend:  backend,
		Client:   ethereum.NewSimulatedClient(name, backend),
		Signers:  signers,
		Provider: signer.NewStaticProvider(signers...),
	}
}

// Artifact 构造一个构造函数参数均为 address 的测试产物。
func Artifact(t testing.TB, name string, params ...string) *artifact.Artifact {
	t.Helper()

	inputs := make([]string, len(params))
	for i, p := range params {
		inputs[i] = fmt.Sprintf(`{"name":%q,"type":"address"}`, p)
	}
	raw := fmt.Sprintf(`[{"type":"constructor","stateMutability":"nonpayable","inputs":[%s]}]`, strings.Join(inputs, ","))
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return &artifact.Artifact{
		Name:             name,
		ABI:              parsed,
		Bytecode:         Bytecode,
		DeployedBytecode: RuntimeCode,
	}
}
