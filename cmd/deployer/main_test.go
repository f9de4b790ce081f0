package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"contract-deployer/internal/config"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/signer"
	storagefile "contract-deployer/internal/storage/file"
	"contract-deployer/internal/storage/sqlite"
	"contract-deployer/internal/tasks/tetulinearpool"
)

func TestTasksCommandListsRegisteredTasks(t *testing.T) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	if err := app.Run([]string{"deployer", "tasks"}); err != nil {
		t.Fatalf("run tasks: %v", err)
	}
	if !strings.HasPrefix(out.String(), tetulinearpool.ID+"\t") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunCommandRequiresTaskID(t *testing.T) {
	app := newApp()
	err := app.Run([]string{"deployer", "run"})
	if err == nil || !strings.Contains(err.Error(), "缺少任务 ID") {
		t.Fatalf("expected missing task error, got %v", err)
	}
	if code := xerrors.ExitCode(err); code != xerrors.ExitUsage {
		t.Fatalf("expected usage exit code, got %d", code)
	}
}

func TestLookupAdminAcceptsExternalAddress(t *testing.T) {
	ctx := context.Background()
	loaded, err := signer.ParsePrivateKey("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291", "deployer")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	provider := signer.NewStaticProvider(loaded)

	admin, err := lookupAdmin(ctx, provider, loaded.Address().Hex())
	if err != nil || admin != loaded {
		t.Fatalf("expected loaded signer, got %v err %v", admin, err)
	}

	multisig := "0x00000000000000000000000000000000000000cc"
	admin, err = lookupAdmin(ctx, provider, multisig)
	if err != nil {
		t.Fatalf("lookup external admin: %v", err)
	}
	if admin.Address() != common.HexToAddress(multisig) {
		t.Fatalf("unexpected admin %s", admin.Address().Hex())
	}

	if _, err := lookupSigner(ctx, provider, multisig); !xerrors.HasCode(err, xerrors.CodeSignerResolutionFailure) {
		t.Fatalf("expected --from to require a loaded key, got %v", err)
	}
	if _, err := lookupAdmin(ctx, provider, "not-an-address"); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid address error, got %v", err)
	}
	if admin, err := lookupAdmin(ctx, provider, ""); admin != nil || err != nil {
		t.Fatalf("expected empty admin to defer to the authorizer, got %v %v", admin, err)
	}
}

func TestOpenOutputStoreDrivers(t *testing.T) {
	dir := t.TempDir()
	a := &application{cfg: &config.Config{}}
	a.cfg.Runtime.TasksDir = dir
	t.Cleanup(a.Close)

	a.cfg.Storage.Outputs.Driver = "file"
	store, err := a.openOutputStore(context.Background())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if _, ok := store.(*storagefile.OutputStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}

	a.cfg.Storage.Outputs.Driver = "sqlite"
	a.cfg.Storage.Outputs.Path = filepath.Join(dir, "deployments.db")
	store, err = a.openOutputStore(context.Background())
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	if _, ok := store.(*sqlite.OutputStore); !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}

	a.cfg.Storage.Outputs.Driver = "etcd"
	if _, err := a.openOutputStore(context.Background()); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestOpenQueueAndLockerRejectUnknownDrivers(t *testing.T) {
	a := &application{cfg: &config.Config{}}
	t.Cleanup(a.Close)

	a.cfg.Queue.Driver = "kafka"
	if _, err := a.openQueue(context.Background()); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	a.cfg.Lock.Driver = "zookeeper"
	if _, err := a.openLocker(context.Background()); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	a.cfg.Storage.Jobs.Driver = "memory"
	store, err := a.openJobStore(context.Background())
	if err != nil {
		t.Fatalf("memory job store: %v", err)
	}
	_ = store.Close()
}

func TestNewAuthService(t *testing.T) {
	svc, err := newAuthService(config.AuthConfig{Mode: "token", AdminToken: "root"})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer root")
	if err != nil || subject.Name != "admin" {
		t.Fatalf("unexpected subject %+v err %v", subject, err)
	}
	if _, err := newAuthService(config.AuthConfig{Mode: "token"}); err == nil {
		t.Fatalf("token mode without tokens must fail")
	}
}
