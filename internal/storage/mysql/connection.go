package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"contract-deployer/deploy/migrations"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/storage/migrate"
	"contract-deployer/pkg/logger"
)

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// PingAttempts 是启动时探测数据库的次数，容器编排下 MySQL 往往晚于服务就绪。
	PingAttempts int
}

// Open 建立连接池并执行尚未应用的迁移。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	connector, err := newConnector(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(positiveOr(cfg.MaxOpenConns, 20))
	db.SetMaxIdleConns(positiveOr(cfg.MaxIdleConns, 10))
	db.SetConnMaxLifetime(positiveOr(cfg.ConnMaxLifetime, 30*time.Minute))
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := ping(ctx, db, positiveOr(cfg.PingAttempts, 3)); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate 执行 MySQL 方言的嵌入迁移。
func Migrate(ctx context.Context, db *sql.DB) error {
	return migrate.Apply(ctx, db, migrations.MySQL())
}

// newConnector 解析 DSN；未显式设置时补上连接超时。
func newConnector(dsn string) (driver.Connector, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "MySQL DSN 格式错误")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "创建 MySQL 连接器失败")
	}
	return connector, nil
}

func ping(ctx context.Context, db *sql.DB, attempts int) error {
	wait := 500 * time.Millisecond
	var err error
	for i := 1; i <= attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		logger.Named("mysql").WarnContext(ctx, "MySQL 暂不可用，稍后重试",
			"attempt", i,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return xerrors.Wrap(xerrors.CodeStorageFailure, ctx.Err(), "等待 MySQL 就绪被取消")
		case <-time.After(wait):
		}
		wait *= 2
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
}

func positiveOr[T int | time.Duration](value, fallback T) T {
	if value > 0 {
		return value
	}
	return fallback
}
