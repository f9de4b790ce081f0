package deployment

import (
	"context"
	"testing"

	"contract-deployer/internal/artifact"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/signer"
	"contract-deployer/internal/testutil/simchain"
	"contract-deployer/internal/web3"
	"contract-deployer/internal/web3/provider"
)

func newTestRunner(t *testing.T, run RunFunc) (*Runner, *simchain.Chain) {
	t.Helper()
	chain := simchain.New(t, "local", 2)
	networks, err := provider.NewStaticRegistry("local", map[string]web3.Client{"local": chain.Client})
	if err != nil {
		t.Fatalf("networks: %v", err)
	}
	registry, err := NewRegistry(Definition{ID: "20220101-sample", Run: run})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	runner, err := NewRunner(RunnerConfig{
		Registry:   registry,
		Networks:   networks,
		Signers:    chain.Provider,
		Artifacts:  artifact.Static{"Owned": simchain.Artifact(t, "Owned", "owner")},
		TasksDir:   t.TempDir(),
		VerifyMode: "bytecode",
	})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return runner, chain
}

func TestRunnerRun(t *testing.T) {
	ctx := testContext(t)
	var gotFrom *signer.Signer
	runner, chain := newTestRunner(t, func(ctx context.Context, task TaskHandle, opts RunOptions) error {
		gotFrom = opts.From
		_, err := task.DeployAndVerify(ctx, "Owned", []any{ownerArg}, opts.From, opts.Force)
		return err
	})

	result, err := runner.Run(ctx, Request{TaskID: "20220101-sample", From: chain.Signers[1].Address().Hex()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotFrom != chain.Signers[1] {
		t.Fatalf("expected From to be resolved to the keyed signer")
	}
	if result.Network != "local" || result.Outputs["Owned"] == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	records, err := runner.Outputs().List(ctx, "20220101-sample", "local")
	if err != nil || len(records) != 1 || records[0].Deployer != chain.Signers[1].Address().Hex() {
		t.Fatalf("unexpected records %+v %v", records, err)
	}
}

func TestRunnerErrors(t *testing.T) {
	ctx := testContext(t)
	runner, _ := newTestRunner(t, func(context.Context, TaskHandle, RunOptions) error { return nil })

	if _, err := runner.Run(ctx, Request{TaskID: "unknown"}); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected unknown task, got %v", err)
	}
	if _, err := runner.Run(ctx, Request{TaskID: "20220101-sample", Network: "mars"}); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected unknown network, got %v", err)
	}
	if _, err := runner.Run(ctx, Request{TaskID: "20220101-sample", From: "0x00000000000000000000000000000000000000ee"}); !xerrors.HasCode(err, xerrors.CodeSignerResolutionFailure) {
		t.Fatalf("expected unknown sender, got %v", err)
	}
}

func TestRunnerPropagatesScriptError(t *testing.T) {
	ctx := testContext(t)
	want := xerrors.New(xerrors.CodeMissingInputField, "Vault")
	runner, _ := newTestRunner(t, func(context.Context, TaskHandle, RunOptions) error { return want })

	if _, err := runner.Run(ctx, Request{TaskID: "20220101-sample"}); err != want {
		t.Fatalf("expected script error unchanged, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	noop := func(context.Context, TaskHandle, RunOptions) error { return nil }
	registry, err := NewRegistry(Definition{ID: "b", Run: noop}, Definition{ID: "a", Run: noop})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := registry.Register(Definition{ID: "a", Run: noop}); !xerrors.HasCode(err, xerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := registry.Register(Definition{ID: "c"}); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid definition, got %v", err)
	}
	list := registry.List()
	if len(list) != 2 || list[0].ID != "a" {
		t.Fatalf("unexpected list %+v", list)
	}
}
