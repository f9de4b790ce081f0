package web3

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeChains(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chains: %v", err)
	}
	return path
}

func TestLoadChainDefinitions(t *testing.T) {
	t.Setenv("ALCHEMY_KEY", "k3y")
	path := writeChains(t, `chains:
  mainnet:
    rpc_url: https://eth.example.org/v2/${ALCHEMY_KEY}
    chain_id: 1
    description: production
  goerli:
    type: EVM
    rpc_url: https://goerli.example.org
    chain_id: 5
`)

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load chains: %v", err)
	}
	if got := strings.Join(defs.Names(), ","); got != "goerli,mainnet" {
		t.Fatalf("unexpected names %s", got)
	}
	if defs.Chains["mainnet"].RPCURL != "https://eth.example.org/v2/k3y" {
		t.Fatalf("env not expanded: %s", defs.Chains["mainnet"].RPCURL)
	}
	if defs.Chains["mainnet"].Type != "evm" || defs.Chains["goerli"].Type != "evm" {
		t.Fatalf("types not normalised %+v", defs.Chains)
	}
}

func TestLoadChainDefinitionsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing url": "chains:\n  local:\n    chain_id: 31337\n",
		"missing env": "chains:\n  local:\n    rpc_url: https://x/${DEPLOYER_TEST_UNSET_KEY}\n",
		"bad yaml":    "chains: [",
	}
	for name, content := range cases {
		if _, err := LoadChainDefinitions(writeChains(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty map, got %+v", defs.Chains)
	}
}
