package provider

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"contract-deployer/internal/config"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/web3"
)

type stubClient struct {
	name   string
	closed bool
}

func (s *stubClient) Name() string { return s.name }
func (s *stubClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (s *stubClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Name: s.name}, nil
}
func (s *stubClient) DeployContract(context.Context, *bind.TransactOpts, abi.ABI, []byte, ...any) (web3.DeploymentResult, error) {
	return web3.DeploymentResult{}, nil
}
func (s *stubClient) CodeAt(context.Context, common.Address) ([]byte, error) { return nil, nil }
func (s *stubClient) Close()                                                 { s.closed = true }

func TestStaticRegistryDefaultsToFirstName(t *testing.T) {
	a, b := &stubClient{name: "b-net"}, &stubClient{name: "a-net"}
	registry, err := NewStaticRegistry("", map[string]web3.Client{"b-net": a, "a-net": b})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if registry.DefaultChain() != "a-net" {
		t.Fatalf("unexpected default %q", registry.DefaultChain())
	}
	client, err := registry.Resolve(context.Background(), "")
	if err != nil || client.Name() != "a-net" {
		t.Fatalf("unexpected default client %v %v", client, err)
	}
	if _, err := registry.Resolve(context.Background(), "missing"); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown network, got %v", err)
	}
	if got := registry.Chains(); len(got) != 2 || got[0] != "a-net" {
		t.Fatalf("unexpected chains %v", got)
	}

	registry.Close()
	if !a.closed || !b.closed {
		t.Fatal("expected clients to be closed")
	}
}

func TestStaticRegistryUnknownDefault(t *testing.T) {
	if _, err := NewStaticRegistry("x", map[string]web3.Client{"y": &stubClient{}}); err == nil {
		t.Fatal("expected error for unknown default")
	}
	if _, err := NewStaticRegistry("", nil); err == nil {
		t.Fatal("expected error for empty registry")
	}
}

func TestNewRegistryFromDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := "chains:\n  local:\n    rpc_url: http://127.0.0.1:8545\n    chain_id: 31337\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chains: %v", err)
	}

	registry, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	if registry.DefaultChain() != "local" {
		t.Fatalf("unexpected default chain %q", registry.DefaultChain())
	}
	client, err := registry.Resolve(context.Background(), "local")
	if err != nil || client.Name() != "local" {
		t.Fatalf("resolve local: %v %v", client, err)
	}
}

func TestRegistryDialsLazilyAndCaches(t *testing.T) {
	dials := map[string]int{}
	dial := func(_ context.Context, name string, chain web3.ChainDefinition) (web3.Client, error) {
		dials[name]++
		if chain.RPCURL == "" {
			return nil, errors.New("no endpoint")
		}
		return &stubClient{name: name}, nil
	}
	registry, err := newRegistry("mainnet", map[string]web3.ChainDefinition{
		"mainnet": {Type: "evm", RPCURL: "http://mainnet"},
		"broken":  {Type: "evm"},
	}, dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if len(dials) != 0 {
		t.Fatalf("networks must not be dialed eagerly, got %v", dials)
	}
	for i := 0; i < 3; i++ {
		if _, err := registry.DefaultClient(context.Background()); err != nil {
			t.Fatalf("default client: %v", err)
		}
	}
	if dials["mainnet"] != 1 {
		t.Fatalf("expected one dial for mainnet, got %d", dials["mainnet"])
	}
	_, err = registry.Resolve(context.Background(), "broken")
	if !xerrors.HasCode(err, xerrors.CodeNetworkFailure) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if got := registry.Chains(); len(got) != 2 || got[0] != "broken" {
		t.Fatalf("unexpected chains %v", got)
	}
}

func TestNewRegistryFallsBackToRPCURL(t *testing.T) {
	registry, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: "http://127.0.0.1:8545"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()
	if registry.DefaultChain() != "default" {
		t.Fatalf("unexpected default chain %q", registry.DefaultChain())
	}
	if _, err := NewRegistry(context.Background(), config.Web3Config{}); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure without networks, got %v", err)
	}
}

func TestNewRegistryRejectsUnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := "chains:\n  sol:\n    type: solana\n    rpc_url: http://127.0.0.1:8899\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chains: %v", err)
	}
	if _, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path}); err == nil {
		t.Fatal("expected error for unsupported chain type")
	}
}
