package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"contract-deployer/internal/artifact"
	"contract-deployer/internal/config"
	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/job"
	"contract-deployer/internal/observability/tracing"
	"contract-deployer/internal/signer"
	storagefile "contract-deployer/internal/storage/file"
	storagemysql "contract-deployer/internal/storage/mysql"
	storageredis "contract-deployer/internal/storage/redis"
	"contract-deployer/internal/storage/sqlite"
	"contract-deployer/internal/tasks/tetulinearpool"
	"contract-deployer/internal/web3/provider"
	"contract-deployer/pkg/logger"
)

// application 汇总一次命令执行所需的依赖。
type application struct {
	cfg      *config.Config
	signers  *signer.StaticProvider
	networks *provider.Registry
	outputs  deployment.OutputStore
	registry *deployment.Registry
	runner   *deployment.Runner

	db      *sql.DB
	closers []func() error
}

func newTaskRegistry() (*deployment.Registry, error) {
	return deployment.NewRegistry(
		tetulinearpool.Definition(),
	)
}

func bootstrap(c *cli.Context) (_ *application, err error) {
	ctx := c.Context
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(c.String("mode")); raw != "" {
		cfg.Runtime.Mode = raw
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	if raw := c.String("log-level"); raw != "" {
		logger.SetLevel(raw)
	}

	a := &application{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.onClose(logger.Sync)

	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(shutdownCtx)
	})

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建数据目录失败")
	}

	if a.signers, err = loadSigners(cfg.Signers); err != nil {
		return nil, err
	}

	if a.networks, err = provider.NewRegistry(ctx, cfg.Web3); err != nil {
		return nil, err
	}
	a.onClose(func() error {
		a.networks.Close()
		return nil
	})

	if a.outputs, err = a.openOutputStore(ctx); err != nil {
		return nil, err
	}
	locker, err := a.openLocker(ctx)
	if err != nil {
		return nil, err
	}
	mode, err := deployment.ParseMode(cfg.Runtime.Mode)
	if err != nil {
		return nil, err
	}
	if a.registry, err = newTaskRegistry(); err != nil {
		return nil, err
	}

	a.runner, err = deployment.NewRunner(deployment.RunnerConfig{
		Registry:   a.registry,
		Networks:   a.networks,
		Signers:    a.signers,
		Outputs:    a.outputs,
		Locker:     locker,
		Mode:       mode,
		TasksDir:   cfg.Runtime.TasksDir,
		Artifacts:  artifact.NewDirectory(cfg.Runtime.ArtifactsDir),
		VerifyMode: cfg.Verify.Mode,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func loadSigners(cfg config.SignerConfig) (*signer.StaticProvider, error) {
	signers, err := signer.FromPrivateKeys(cfg.PrivateKeys)
	if err != nil {
		return nil, err
	}
	if cfg.KeystoreDir != "" {
		fromKeystore, err := signer.FromKeystoreDir(cfg.KeystoreDir, cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		signers = append(signers, fromKeystore...)
	}
	return signer.NewStaticProvider(signers...), nil
}

// mysqlDB 在首次使用时打开 MySQL 连接，部署记录与作业共用同一个连接池。
func (a *application) mysqlDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	jobs := a.cfg.Storage.Jobs
	db, err := storagemysql.Open(ctx, storagemysql.Config{
		DSN:             dsn,
		MaxOpenConns:    jobs.MaxOpenConns,
		MaxIdleConns:    jobs.MaxIdleConns,
		ConnMaxLifetime: time.Duration(jobs.ConnMaxLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	a.db = db
	a.onClose(db.Close)
	return db, nil
}

func (a *application) openOutputStore(ctx context.Context) (deployment.OutputStore, error) {
	cfg := a.cfg.Storage.Outputs
	switch cfg.Driver {
	case "", "file":
		return storagefile.NewOutputStore(a.cfg.Runtime.TasksDir), nil
	case "mysql":
		db, err := a.mysqlDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return storagemysql.NewOutputStore(db), nil
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		a.onClose(store.Close)
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的部署记录存储驱动: %s", cfg.Driver))
	}
}

func (a *application) openLocker(ctx context.Context) (deployment.Locker, error) {
	cfg := a.cfg.Lock
	switch cfg.Driver {
	case "", "memory":
		return deployment.NewMemoryLocker(), nil
	case "redis":
		locker, client, err := storageredis.Dial(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.TTL())
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		return locker, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的锁驱动: %s", cfg.Driver))
	}
}

func (a *application) openJobStore(ctx context.Context) (job.Store, error) {
	cfg := a.cfg.Storage.Jobs
	switch cfg.Driver {
	case "", "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		db, err := a.mysqlDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return job.NewMySQLStore(db)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的作业存储驱动: %s", cfg.Driver))
	}
}

func (a *application) openQueue(ctx context.Context) (job.Queue, error) {
	cfg := a.cfg.Queue
	switch cfg.Driver {
	case "", "memory":
		return job.NewMemoryQueue(1024), nil
	case "redis":
		return job.NewRedisQueue(ctx, job.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的队列驱动: %s", cfg.Driver))
	}
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close 按打开顺序的逆序释放资源。
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}
	a.closers = nil
}
