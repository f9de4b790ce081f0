package tetulinearpool

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"contract-deployer/internal/artifact"
	"contract-deployer/internal/contract"
	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/signer"
	"contract-deployer/internal/testutil/simchain"
	"contract-deployer/internal/web3"
	"contract-deployer/internal/web3/provider"
)

const (
	vault        = "0xBA12222222228d8Ba445958a75a0704d566BF2C8"
	feesProvider = "0x97207B095e4D5C9a6e4cfbfcd2C3358E03B90c4A"
	queries      = "0xE39B5e3B6D74016b2F6A9673D7d7493B6DF549d5"
)

type deployCall struct {
	name  string
	args  []any
	from  *signer.Signer
	force bool
}

type fakeTask struct {
	input     deployment.Input
	inputErr  error
	deployErr error
	calls     []deployCall
	logs      *bytes.Buffer
	logger    *slog.Logger
}

func newFakeTask(input deployment.Input) *fakeTask {
	buf := &bytes.Buffer{}
	return &fakeTask{
		input:  input,
		logs:   buf,
		logger: slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{ReplaceAttr: dropTime})),
	}
}

func dropTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
		return slog.Attr{}
	}
	return a
}

func (f *fakeTask) ID() string           { return ID }
func (f *fakeTask) Network() string      { return "mainnet" }
func (f *fakeTask) Logger() *slog.Logger { return f.logger }

func (f *fakeTask) Input(context.Context) (deployment.Input, error) {
	return f.input, f.inputErr
}

func (f *fakeTask) DeployAndVerify(_ context.Context, name string, args []any, from *signer.Signer, force bool) (*contract.Instance, error) {
	f.calls = append(f.calls, deployCall{name: name, args: args, from: from, force: force})
	return nil, f.deployErr
}

func TestRunDelegatesInFixedOrder(t *testing.T) {
	task := newFakeTask(deployment.Input{
		FieldBalancerQueries:                queries,
		FieldVault:                          vault,
		FieldProtocolFeePercentagesProvider: feesProvider,
	})
	from := signer.FromAddress(common.HexToAddress("0x01"), "admin")

	if err := Run(context.Background(), task, deployment.RunOptions{Force: true, From: from}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(task.calls) != 1 {
		t.Fatalf("expected one deploy call, got %d", len(task.calls))
	}
	call := task.calls[0]
	if call.name != "TetuLinearPoolFactory" {
		t.Fatalf("unexpected artifact %q", call.name)
	}
	want := []any{vault, feesProvider, queries}
	if len(call.args) != len(want) {
		t.Fatalf("unexpected args %v", call.args)
	}
	for i := range want {
		if call.args[i] != want[i] {
			t.Fatalf("argument %d = %v, want %v", i, call.args[i], want[i])
		}
	}
	if call.from != from || !call.force {
		t.Fatalf("expected from and force to be forwarded unchanged")
	}
}

func TestRunLogsInputsBeforeDelegating(t *testing.T) {
	task := newFakeTask(deployment.Input{
		FieldVault:                          vault,
		FieldProtocolFeePercentagesProvider: feesProvider,
		FieldBalancerQueries:                queries,
	})
	task.deployErr = errors.New("boom")
	_ = Run(context.Background(), task, deployment.RunOptions{})

	lines := strings.Split(strings.TrimSpace(task.logs.String()), "\n")
	want := []string{
		"input.Vault " + vault,
		"input.ProtocolFeePercentagesProvider " + feesProvider,
		"input.BalancerQueries " + queries,
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d log lines, got %d: %q", len(want), len(lines), lines)
	}
	for i, line := range lines {
		if !strings.Contains(line, want[i]) {
			t.Fatalf("line %d = %q, want it to contain %q", i, line, want[i])
		}
	}
}

func TestRunPropagatesErrorsUnchanged(t *testing.T) {
	deployErr := xerrors.New(xerrors.CodeDeploymentFailure, "reverted")
	task := newFakeTask(deployment.Input{})
	task.deployErr = deployErr
	if err := Run(context.Background(), task, deployment.RunOptions{}); err != deployErr {
		t.Fatalf("expected deploy error unchanged, got %v", err)
	}

	inputErr := xerrors.New(xerrors.CodeMissingInputField, "no mainnet section")
	task = newFakeTask(nil)
	task.inputErr = inputErr
	if err := Run(context.Background(), task, deployment.RunOptions{}); err != inputErr {
		t.Fatalf("expected input error unchanged, got %v", err)
	}
	if len(task.calls) != 0 {
		t.Fatal("deploy should not be attempted without input")
	}
}

func TestRunDoesNotValidateInput(t *testing.T) {
	task := newFakeTask(deployment.Input{FieldVault: vault})
	if err := Run(context.Background(), task, deployment.RunOptions{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	call := task.calls[0]
	if call.args[1] != "" || call.args[2] != "" {
		t.Fatalf("missing fields should be forwarded as empty values, got %v", call.args)
	}
}

func TestRunEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	chain := simchain.New(t, "local", 1)
	tasksDir := t.TempDir()
	taskDir := filepath.Join(tasksDir, ID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	input := "local:\n  Vault: \"" + vault + "\"\n  ProtocolFeePercentagesProvider: \"" + feesProvider + "\"\n  BalancerQueries: \"" + queries + "\"\n"
	if err := os.WriteFile(filepath.Join(taskDir, deployment.InputFileName), []byte(input), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	networks, err := provider.NewStaticRegistry("local", map[string]web3.Client{"local": chain.Client})
	if err != nil {
		t.Fatalf("networks: %v", err)
	}
	registry, err := deployment.NewRegistry(Definition())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	factory := simchain.Artifact(t, FactoryContract, "vault", "protocolFeeProvider", "balancerQueries")
	runner, err := deployment.NewRunner(deployment.RunnerConfig{
		Registry:   registry,
		Networks:   networks,
		Signers:    chain.Provider,
		TasksDir:   tasksDir,
		Artifacts:  artifact.Static{FactoryContract: factory},
		VerifyMode: "bytecode",
	})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}

	result, err := runner.Run(ctx, deployment.Request{TaskID: ID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	address := result.Outputs[FactoryContract]
	if address == "" {
		t.Fatalf("expected factory output, got %v", result.Outputs)
	}
	code, err := chain.Client.CodeAt(ctx, common.HexToAddress(address))
	if err != nil || len(code) == 0 {
		t.Fatalf("expected code at factory address: %v", err)
	}

	// 第二次执行复用已记录的地址。
	again, err := runner.Run(ctx, deployment.Request{TaskID: ID})
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if again.Outputs[FactoryContract] != address {
		t.Fatalf("expected recorded address to be reused")
	}
}

func TestRunEndToEndMissingField(t *testing.T) {
	ctx := context.Background()
	chain := simchain.New(t, "local", 1)
	tasksDir := t.TempDir()
	taskDir := filepath.Join(tasksDir, ID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, deployment.InputFileName), []byte("local:\n  Vault: \""+vault+"\"\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	deployer := contract.NewDeployer(chain.Client, artifact.Static{
		FactoryContract: simchain.Artifact(t, FactoryContract, "vault", "protocolFeeProvider", "balancerQueries"),
	}, chain.Provider)
	task := deployment.NewTask(ID, deployer, deployment.WithTasksDir(tasksDir))

	err := Run(ctx, task, deployment.RunOptions{})
	if !xerrors.HasCode(err, xerrors.CodeMissingInputField) {
		t.Fatalf("expected missing input field from deploy, got %v", err)
	}
}
