// Package sqlite 提供单机场景下基于 SQLite 的部署记录存储。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"contract-deployer/deploy/migrations"
	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
	"contract-deployer/internal/storage/migrate"
)

// OutputStore 将部署记录写入本地 SQLite 文件。
type OutputStore struct {
	db *sql.DB
}

var _ deployment.OutputStore = (*OutputStore)(nil)

// Open 打开数据库文件并执行迁移。
func Open(ctx context.Context, path string) (*OutputStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("SQLite 路径不能为空")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("无法连接到 SQLite: %w", err)
	}
	if err := migrate.Apply(ctx, db, migrations.SQLite()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &OutputStore{db: db}, nil
}

// Close 关闭数据库。
func (s *OutputStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save 插入或覆盖同一 (task, network, contract) 的记录。
func (s *OutputStore) Save(ctx context.Context, record deployment.Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO deployments (task, network, contract, address, tx_hash, block_number, deployer, deployed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (task, network, contract) DO UPDATE SET
	address = excluded.address,
	tx_hash = excluded.tx_hash,
	block_number = excluded.block_number,
	deployer = excluded.deployer,
	deployed_at = excluded.deployed_at
`,
		record.Task, record.Network, record.Contract, record.Address.Hex(), record.TxHash,
		int64(record.BlockNumber), record.Deployer, record.DeployedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入部署记录失败",
			xerrors.WithMetadata("contract", record.Contract))
	}
	return nil
}

// Lookup 查询单条记录。
func (s *OutputStore) Lookup(ctx context.Context, task, network, contract string) (deployment.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT task, network, contract, address, tx_hash, block_number, deployer, deployed_at
FROM deployments WHERE task = ? AND network = ? AND contract = ?
`, task, network, contract)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return deployment.Record{}, false, nil
	}
	if err != nil {
		return deployment.Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询部署记录失败")
	}
	return record, true, nil
}

// List 按可选的任务与网络过滤记录。
func (s *OutputStore) List(ctx context.Context, task, network string) ([]deployment.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task, network, contract, address, tx_hash, block_number, deployer, deployed_at
FROM deployments
WHERE (? = '' OR task = ?) AND (? = '' OR network = ?)
ORDER BY task, network, contract
`, task, task, network, network)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询部署记录失败")
	}
	defer rows.Close()

	records := make([]deployment.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析部署记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历部署记录失败")
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (deployment.Record, error) {
	var (
		record      deployment.Record
		address     string
		blockNumber int64
		deployedAt  int64
	)
	if err := row.Scan(&record.Task, &record.Network, &record.Contract, &address,
		&record.TxHash, &blockNumber, &record.Deployer, &deployedAt); err != nil {
		return deployment.Record{}, err
	}
	record.Address = common.HexToAddress(address)
	record.BlockNumber = uint64(blockNumber)
	record.DeployedAt = time.UnixMilli(deployedAt).UTC()
	return record, nil
}
