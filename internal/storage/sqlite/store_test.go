package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"contract-deployer/internal/deployment"
)

func openTestStore(t *testing.T) *OutputStore {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "deployments.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOutputStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	deployedAt := time.UnixMilli(1700000000123).UTC()

	first := deployment.Record{
		Task: "task", Network: "mainnet", Contract: "Factory",
		Address: common.HexToAddress("0x01"), TxHash: "0xaaa", BlockNumber: 7,
		Deployer: "0x02", DeployedAt: deployedAt,
	}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.Lookup(ctx, "task", "mainnet", "Factory")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if got != first {
		t.Fatalf("unexpected record %+v", got)
	}

	second := first
	second.Address = common.HexToAddress("0x03")
	second.BlockNumber = 9
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _, _ = store.Lookup(ctx, "task", "mainnet", "Factory")
	if got.Address != second.Address || got.BlockNumber != 9 {
		t.Fatalf("expected overwrite, got %+v", got)
	}

	if _, ok, err := store.Lookup(ctx, "task", "goerli", "Factory"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestOutputStoreListFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, r := range []deployment.Record{
		{Task: "b", Network: "mainnet", Contract: "Z"},
		{Task: "a", Network: "mainnet", Contract: "Y"},
		{Task: "a", Network: "goerli", Contract: "X"},
	} {
		r.DeployedAt = time.Now()
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	all, err := store.List(ctx, "", "")
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v %v", all, err)
	}
	if all[0].Task != "a" || all[0].Network != "goerli" {
		t.Fatalf("unexpected order %+v", all)
	}

	mainnet, _ := store.List(ctx, "", "mainnet")
	if len(mainnet) != 2 {
		t.Fatalf("expected 2 mainnet records, got %d", len(mainnet))
	}
	onlyA, _ := store.List(ctx, "a", "mainnet")
	if len(onlyA) != 1 || onlyA[0].Contract != "Y" {
		t.Fatalf("unexpected filtered records %+v", onlyA)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments.db")
	for i := 0; i < 2; i++ {
		store, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		_ = store.Close()
	}
	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
