// Package sqlmock 提供按顺序回放的 database/sql 驱动，供存储层测试断言 SQL 调用。
package sqlmock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (o operationType) String() string {
	switch o {
	case opExec:
		return "exec"
	case opQuery:
		return "query"
	case opBegin:
		return "begin"
	case opCommit:
		return "commit"
	case opRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// Operation 是一次期望的驱动调用。
type Operation struct {
	typ     operationType
	query   string
	args    []driver.Value
	checked bool
	result  Result
	columns []string
	rows    [][]driver.Value
	err     error
}

// WithArgs 要求调用参数与 args 完全一致。
func (o Operation) WithArgs(args ...driver.Value) Operation {
	o.args = args
	o.checked = true
	return o
}

// WillFail 让该调用返回 err。
func (o Operation) WillFail(err error) Operation {
	o.err = err
	return o
}

// Result 是 Exec 的返回值。
type Result struct {
	LastInsertID int64
	Affected     int64
}

// LastInsertId implements driver.Result.
func (r Result) LastInsertId() (int64, error) { return r.LastInsertID, nil }

// RowsAffected implements driver.Result.
func (r Result) RowsAffected() (int64, error) { return r.Affected, nil }

// Exec 期望一次写操作，query 比较时忽略空白差异。
func Exec(query string, result Result) Operation {
	return Operation{typ: opExec, query: query, result: result}
}

// Query 期望一次查询并返回给定行。
func Query(query string, columns []string, rows ...[]driver.Value) Operation {
	return Operation{typ: opQuery, query: query, columns: columns, rows: rows}
}

// Begin 期望开启事务。
func Begin() Operation { return Operation{typ: opBegin} }

// Commit 期望提交事务。
func Commit() Operation { return Operation{typ: opCommit} }

// Rollback 期望回滚事务。
func Rollback() Operation { return Operation{typ: opRollback} }

// Row 是 Query 返回行的便捷构造。
func Row(values ...driver.Value) []driver.Value { return values }

// Driver 按顺序回放 Operation。
type Driver struct {
	mu  sync.Mutex
	ops []Operation
	idx int
}

var driverSeq atomic.Int32

// New 注册一个新驱动并打开单连接的 *sql.DB。
func New(t *testing.T, ops ...Operation) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("sqlmock-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// AssertConsumed 确认所有期望的调用都已发生。
func (d *Driver) AssertConsumed(t *testing.T) {
	t.Helper()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", d.idx, len(d.ops))
	}
}

// Open implements driver.Driver.
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected operationType, query string, args []driver.NamedValue) (*Operation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v %s", expected, normalizeSQL(query))
	}
	op := &d.ops[d.idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	d.idx++
	if op.query != "" {
		want := normalizeSQL(op.query)
		got := normalizeSQL(query)
		if want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	if op.checked {
		actual := make([]driver.Value, len(args))
		for i, arg := range args {
			actual[i] = arg.Value
		}
		if !reflect.DeepEqual(normalizeArgs(op.args), actual) {
			return nil, fmt.Errorf("unexpected args. want %v got %v", op.args, actual)
		}
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.columns, values: op.rows}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// normalizeArgs 将期望参数转换为驱动层会看到的类型。
func normalizeArgs(args []driver.Value) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case int:
			out[i] = int64(v)
		case int32:
			out[i] = int64(v)
		case uint64:
			out[i] = int64(v)
		case uint32:
			out[i] = int64(v)
		default:
			v2, err := driver.DefaultParameterConverter.ConvertValue(arg)
			if err != nil {
				out[i] = arg
			} else {
				out[i] = v2
			}
		}
	}
	return out
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
