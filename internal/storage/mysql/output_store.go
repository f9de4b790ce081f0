package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
)

const recordColumns = `task, network, contract, address, tx_hash, block_number, deployer, deployed_at`

// OutputStore 将部署记录写入 deployments 表。
type OutputStore struct {
	db *sql.DB
}

var _ deployment.OutputStore = (*OutputStore)(nil)

// NewOutputStore 基于已迁移的连接创建记录存储。
func NewOutputStore(db *sql.DB) *OutputStore {
	return &OutputStore{db: db}
}

// Save 插入或覆盖同一 (task, network, contract) 的记录。
func (s *OutputStore) Save(ctx context.Context, record deployment.Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO deployments (`+recordColumns+`)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE address = VALUES(address), tx_hash = VALUES(tx_hash),
    block_number = VALUES(block_number), deployer = VALUES(deployer), deployed_at = VALUES(deployed_at)`,
		record.Task, record.Network, record.Contract, record.Address.Hex(), record.TxHash,
		record.BlockNumber, record.Deployer, record.DeployedAt.UTC().Unix())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入部署记录失败",
			xerrors.WithMetadata("contract", record.Contract))
	}
	return nil
}

// Lookup 查询单条记录。
func (s *OutputStore) Lookup(ctx context.Context, task, network, contract string) (deployment.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM deployments
    WHERE task = ? AND network = ? AND contract = ?`, task, network, contract)
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
	where, args := buildFilterClause(task, network)
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM deployments`+where+
		` ORDER BY task, network, contract`, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询部署记录失败")
	}
	defer rows.Close()

	var records []deployment.Record
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

func buildFilterClause(task, network string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if task != "" {
		clauses = append(clauses, "task = ?")
		args = append(args, task)
	}
	if network != "" {
		clauses = append(clauses, "network = ?")
		args = append(args, network)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (deployment.Record, error) {
	var (
		record     deployment.Record
		address    string
		deployedAt int64
	)
	if err := row.Scan(&record.Task, &record.Network, &record.Contract, &address,
		&record.TxHash, &record.BlockNumber, &record.Deployer, &deployedAt); err != nil {
		return deployment.Record{}, err
	}
	record.Address = common.HexToAddress(address)
	record.DeployedAt = time.Unix(deployedAt, 0).UTC()
	return record, nil
}
